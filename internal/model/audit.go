package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog records who did what to which grant. Grants are never deleted,
// so the audit trail plus the grant rows form the full history.
type AuditLog struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	ActorID   uuid.UUID       `db:"actor_id" json:"actor_id"`
	ActorType string          `db:"actor_type" json:"actor_type"`
	Action    string          `db:"action" json:"action"`
	Token     string          `db:"token" json:"token"`
	Detail    json.RawMessage `db:"detail" json:"detail,omitempty"`
	IPAddress string          `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string          `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

const (
	ActorTypePatient   = "patient"
	ActorTypeClinician = "clinician"

	AuditActionIssue  = "issue"
	AuditActionReuse  = "reuse"
	AuditActionClaim  = "claim"
	AuditActionRevoke = "revoke"
	AuditActionAccess = "access"
)
