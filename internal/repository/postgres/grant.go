package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
)

// Schema contract: access_grants carries UNIQUE(token). The generator's
// pre-check only narrows the collision window; this constraint closes it.
const grantColumns = `
	id, token, issuer_id, claimant_id,
	view_history, view_medications, view_diagnoses,
	expires_at, active, claimed_at,
	access_count, last_accessed_at,
	created_at, updated_at`

type grantRepository struct {
	BaseRepository
}

func NewGrantRepository(db *sqlx.DB) repository.GrantRepository {
	return &grantRepository{NewBaseRepository(db)}
}

func (r *grantRepository) Create(ctx context.Context, grant *model.AccessGrant) error {
	query := `
		INSERT INTO access_grants (
			id, token, issuer_id,
			view_history, view_medications, view_diagnoses,
			expires_at, active, access_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	grant.CreatedAt = time.Now()
	grant.UpdatedAt = grant.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		grant.ID,
		grant.Token,
		grant.IssuerID,
		grant.ViewHistory,
		grant.ViewMedications,
		grant.ViewDiagnoses,
		grant.ExpiresAt,
		grant.Active,
		grant.AccessCount,
		grant.CreatedAt,
		grant.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.ErrTokenExists
		}
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

func (r *grantRepository) GetByToken(ctx context.Context, token string) (*model.AccessGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE token = $1`

	var grant model.AccessGrant
	err := r.db.GetContext(ctx, &grant, query, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return &grant, nil
}

func (r *grantRepository) TokenExists(ctx context.Context, token string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM access_grants WHERE token = $1)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, token); err != nil {
		return false, fmt.Errorf("failed to check token existence: %w", err)
	}
	return exists, nil
}

func (r *grantRepository) FindActiveUnclaimedByIssuer(ctx context.Context, issuerID uuid.UUID) (*model.AccessGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM access_grants
		WHERE issuer_id = $1
		AND claimant_id IS NULL
		AND active = TRUE
		AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`

	var grant model.AccessGrant
	err := r.db.GetContext(ctx, &grant, query, issuerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to find unclaimed grant: %w", err)
	}
	return &grant, nil
}

// ClaimAtomically is the single check-and-set for the claim race. The
// conditional UPDATE either wins outright or affects no rows; losers are
// classified by a follow-up read, never by a separate check-then-write.
func (r *grantRepository) ClaimAtomically(ctx context.Context, token string, claimantID uuid.UUID) (*model.AccessGrant, error) {
	query := `
		UPDATE access_grants
		SET claimant_id = $2, claimed_at = NOW(), updated_at = NOW()
		WHERE token = $1
		AND claimant_id IS NULL
		AND active = TRUE
		AND expires_at > NOW()
		RETURNING ` + grantColumns

	var grant model.AccessGrant
	err := r.db.GetContext(ctx, &grant, query, token, claimantID)
	if err == nil {
		return &grant, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim grant: %w", err)
	}

	return nil, r.classifyClaimFailure(ctx, token)
}

func (r *grantRepository) classifyClaimFailure(ctx context.Context, token string) error {
	current, err := r.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	switch {
	case current.ClaimantID != nil:
		return model.ErrClaimConflict
	case current.ExpiredAt(time.Now()):
		return model.ErrGrantExpired
	default:
		// Revoked before anyone claimed it; not claimable, not disclosed.
		return model.ErrGrantNotFound
	}
}

// RecordAccess increments the usage counters with the authorization
// predicate inline, so a read that loses its authorization mid-flight never
// perturbs them and concurrent reads never lose increments.
func (r *grantRepository) RecordAccess(ctx context.Context, token string, claimantID uuid.UUID) (*model.AccessGrant, error) {
	query := `
		UPDATE access_grants
		SET access_count = access_count + 1, last_accessed_at = NOW(), updated_at = NOW()
		WHERE token = $1
		AND claimant_id = $2
		AND active = TRUE
		AND expires_at > NOW()
		RETURNING ` + grantColumns

	var grant model.AccessGrant
	err := r.db.GetContext(ctx, &grant, query, token, claimantID)
	if err == nil {
		return &grant, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to record access: %w", err)
	}

	current, getErr := r.GetByToken(ctx, token)
	if getErr != nil {
		return nil, getErr
	}
	switch {
	case current.ExpiredAt(time.Now()):
		return nil, model.ErrGrantExpired
	case !current.ClaimedBy(claimantID):
		return nil, model.ErrForbidden
	default:
		return nil, model.ErrGrantNotFound
	}
}

func (r *grantRepository) Deactivate(ctx context.Context, token string, issuerID uuid.UUID) (bool, error) {
	query := `
		UPDATE access_grants
		SET active = FALSE, updated_at = NOW()
		WHERE token = $1 AND issuer_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, token, issuerID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate grant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *grantRepository) MarkExpired(ctx context.Context, token string) error {
	query := `
		UPDATE access_grants
		SET active = FALSE, updated_at = NOW()
		WHERE token = $1 AND active = TRUE AND expires_at <= NOW()
	`

	_, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("failed to mark grant expired: %w", err)
	}
	return nil
}

func (r *grantRepository) SweepExpired(ctx context.Context) ([]*model.AccessGrant, error) {
	query := `
		UPDATE access_grants
		SET active = FALSE, updated_at = NOW()
		WHERE active = TRUE AND expires_at <= NOW()
		RETURNING ` + grantColumns

	var grants []*model.AccessGrant
	err := r.db.SelectContext(ctx, &grants, query)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired grants: %w", err)
	}
	return grants, nil
}

func (r *grantRepository) ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]*model.AccessGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM access_grants
		WHERE issuer_id = $1
		ORDER BY created_at DESC
	`

	var grants []*model.AccessGrant
	err := r.db.SelectContext(ctx, &grants, query, issuerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return grants, nil
}
