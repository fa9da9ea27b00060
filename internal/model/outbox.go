package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Grant lifecycle event types published through the outbox.
const (
	EventGrantIssued  = "GRANT_ISSUED"
	EventGrantClaimed = "GRANT_CLAIMED"
	EventGrantRevoked = "GRANT_REVOKED"
	EventGrantExpired = "GRANT_EXPIRED"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       string          `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// GrantEventPayload is the body of every grant lifecycle event.
type GrantEventPayload struct {
	Token      string     `json:"token"`
	IssuerID   uuid.UUID  `json:"issuer_id"`
	ClaimantID *uuid.UUID `json:"claimant_id,omitempty"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  time.Time  `json:"expires_at"`
	OccurredAt time.Time  `json:"occurred_at"`
}
