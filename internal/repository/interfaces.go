package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medgrant/portal-api/internal/model"
)

// GrantRepository is the durable store for access grants. Token uniqueness
// and the claim/counter check-and-set semantics are enforced here, at the
// storage boundary, not by callers.
type GrantRepository interface {
	// Create inserts a new grant. Returns model.ErrTokenExists when the
	// token collides with an existing row.
	Create(ctx context.Context, grant *model.AccessGrant) error

	// GetByToken loads a grant regardless of state.
	GetByToken(ctx context.Context, token string) (*model.AccessGrant, error)

	// TokenExists reports whether any grant holds the token. Advisory only;
	// Create remains the authoritative check.
	TokenExists(ctx context.Context, token string) (bool, error)

	// FindActiveUnclaimedByIssuer returns the issuer's newest unclaimed,
	// unexpired, active grant, or model.ErrGrantNotFound.
	FindActiveUnclaimedByIssuer(ctx context.Context, issuerID uuid.UUID) (*model.AccessGrant, error)

	// ClaimAtomically sets the claimant in a single conditional update that
	// succeeds only while the grant is unclaimed, active and unexpired.
	// Returns model.ErrClaimConflict when another claimant won the race,
	// and model.ErrGrantNotFound / model.ErrGrantExpired otherwise.
	ClaimAtomically(ctx context.Context, token string, claimantID uuid.UUID) (*model.AccessGrant, error)

	// RecordAccess bumps access_count and last_accessed_at in one atomic
	// statement guarded by the same predicate that authorizes the read.
	// Concurrent authorized reads never lose increments.
	RecordAccess(ctx context.Context, token string, claimantID uuid.UUID) (*model.AccessGrant, error)

	// Deactivate flips active=false if the issuer matches. Reports whether
	// a row matched at all (for NotFound vs Forbidden classification).
	Deactivate(ctx context.Context, token string, issuerID uuid.UUID) (bool, error)

	// MarkExpired flips active=false for a single grant whose expiry has
	// passed. Self-healing on read paths; no-op if already inactive.
	MarkExpired(ctx context.Context, token string) error

	// SweepExpired flips active=false for every expired-but-active grant
	// and returns the affected rows for event emission.
	SweepExpired(ctx context.Context) ([]*model.AccessGrant, error)

	// ListByIssuer returns all grants the issuer ever created, newest first.
	ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]*model.AccessGrant, error)
}

type PatientRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	GetBySubject(ctx context.Context, subject string) (*model.Patient, error)
}

type ClinicianRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Clinician, error)
	GetBySubject(ctx context.Context, subject string) (*model.Clinician, error)
}

type AuditRepository interface {
	Create(ctx context.Context, log *model.AuditLog) error
	ListByToken(ctx context.Context, token string) ([]*model.AuditLog, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, event *model.OutboxEvent) error
	GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
