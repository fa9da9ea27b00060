// Package grant implements the lifecycle state machine for access grants:
// issued (unclaimed) -> claimed (active) -> expired or revoked (terminal).
// Terminal states are never left. Every check-and-set runs as a single
// storage operation; the engine itself keeps no cross-request state.
package grant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
	"github.com/medgrant/portal-api/internal/service/audit"
	"github.com/medgrant/portal-api/internal/token"
	"github.com/medgrant/portal-api/pkg/logger"
)

// TokenGenerator produces candidate tokens; collisions at insert time are
// retried through it.
type TokenGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// IdentityResolver resolves session identities to known parties.
type IdentityResolver interface {
	ResolvePatient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	ResolveClinician(ctx context.Context, id uuid.UUID) (*model.Clinician, error)
}

// Notifier tells the issuing patient what happened to their code.
// Best-effort: failures are logged and never block a transition.
type Notifier interface {
	GrantClaimed(ctx context.Context, issuer *model.Patient, claimant *model.Clinician, grant *model.AccessGrant)
	GrantRevoked(ctx context.Context, issuer *model.Patient, grant *model.AccessGrant)
}

type Config struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	// InsertAttempts bounds retries when an insert loses the window between
	// the generator's pre-check and the uniqueness constraint.
	InsertAttempts int
}

type Service struct {
	repo      repository.GrantRepository
	generator TokenGenerator
	identity  IdentityResolver
	auditor   *audit.Service
	outbox    repository.OutboxRepository
	notifier  Notifier
	logger    *logger.Logger
	cfg       Config
	now       func() time.Time
}

func NewService(
	repo repository.GrantRepository,
	generator TokenGenerator,
	identity IdentityResolver,
	auditor *audit.Service,
	outbox repository.OutboxRepository,
	notifier Notifier,
	logger *logger.Logger,
	cfg Config,
) *Service {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 30 * 24 * time.Hour
	}
	if cfg.InsertAttempts <= 0 {
		cfg.InsertAttempts = 3
	}
	return &Service{
		repo:      repo,
		generator: generator,
		identity:  identity,
		auditor:   auditor,
		outbox:    outbox,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Issue creates a grant for the patient, or returns their existing
// unclaimed, unexpired grant unchanged. Reuse does not refresh the TTL and
// does not alter the stored permission set. The returned bool reports
// reuse.
func (s *Service) Issue(ctx context.Context, issuerID uuid.UUID, ttl time.Duration, perms model.PermissionSet) (*model.AccessGrant, bool, error) {
	if _, err := s.identity.ResolvePatient(ctx, issuerID); err != nil {
		if errors.Is(err, model.ErrIssuerNotFound) {
			return nil, false, model.ErrIssuerNotFound
		}
		return nil, false, err
	}

	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}

	existing, err := s.repo.FindActiveUnclaimedByIssuer(ctx, issuerID)
	if err == nil {
		if existing.PermissionSet != perms {
			s.logger.Debug("reusing unclaimed grant with different permission set than requested",
				"token", existing.Token)
		}
		s.audit(ctx, issuerID, model.ActorTypePatient, model.AuditActionReuse, existing.Token, nil)
		return existing, true, nil
	}
	if !errors.Is(err, model.ErrGrantNotFound) {
		return nil, false, err
	}

	for attempt := 0; attempt < s.cfg.InsertAttempts; attempt++ {
		candidate, err := s.generator.Generate(ctx)
		if err != nil {
			return nil, false, err
		}

		grant := &model.AccessGrant{
			Base:          model.Base{ID: uuid.New()},
			Token:         candidate,
			IssuerID:      issuerID,
			PermissionSet: perms,
			ExpiresAt:     s.now().Add(ttl),
			Active:        true,
		}

		err = s.repo.Create(ctx, grant)
		if err == nil {
			s.audit(ctx, issuerID, model.ActorTypePatient, model.AuditActionIssue, grant.Token,
				&audit.LogOptions{Detail: model.JSONMap{"scopes": perms.Scopes(), "expires_at": grant.ExpiresAt}})
			s.emit(ctx, model.EventGrantIssued, grant)
			return grant, false, nil
		}
		if !errors.Is(err, model.ErrTokenExists) {
			return nil, false, err
		}
		// Lost the pre-check/insert window; generate a fresh candidate.
	}
	return nil, false, model.ErrGenerationExhausted
}

// Claim binds the clinician to an unclaimed grant. Re-presenting a token
// already claimed by the same clinician is idempotent success; losing the
// race to a different clinician surfaces as ErrAlreadyClaimed.
func (s *Service) Claim(ctx context.Context, rawToken string, claimantID uuid.UUID) (*model.AccessGrant, error) {
	tok := token.Normalize(rawToken)

	claimant, err := s.identity.ResolveClinician(ctx, claimantID)
	if err != nil {
		if errors.Is(err, model.ErrClaimantNotFound) {
			return nil, model.ErrClaimantNotFound
		}
		return nil, err
	}

	grant, err := s.repo.GetByToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	if grant.ExpiredAt(s.now()) {
		if grant.Active {
			if err := s.repo.MarkExpired(ctx, tok); err != nil {
				s.logger.Warn("failed to mark expired grant inactive", "token", tok)
			}
		}
		return nil, model.ErrGrantExpired
	}
	if grant.ClaimantID != nil {
		if grant.ClaimedBy(claimantID) {
			return grant, nil
		}
		return nil, model.ErrAlreadyClaimed
	}
	if !grant.Active {
		// Revoked before anyone claimed it; never exposed as claimable.
		return nil, model.ErrGrantNotFound
	}

	claimed, err := s.repo.ClaimAtomically(ctx, tok, claimantID)
	if err != nil {
		if errors.Is(err, model.ErrClaimConflict) {
			// A concurrent request claimed it first. If it was this same
			// clinician, honour idempotency.
			if current, getErr := s.repo.GetByToken(ctx, tok); getErr == nil && current.ClaimedBy(claimantID) {
				return current, nil
			}
			return nil, model.ErrAlreadyClaimed
		}
		return nil, err
	}

	s.audit(ctx, claimantID, model.ActorTypeClinician, model.AuditActionClaim, tok, nil)
	s.emit(ctx, model.EventGrantClaimed, claimed)
	s.notifyClaimed(ctx, claimant, claimed)
	return claimed, nil
}

// Revoke deactivates the issuer's grant. Revoking an already-inactive grant
// succeeds silently.
func (s *Service) Revoke(ctx context.Context, rawToken string, issuerID uuid.UUID) error {
	tok := token.Normalize(rawToken)

	grant, err := s.repo.GetByToken(ctx, tok)
	if err != nil {
		return err
	}
	if grant.IssuerID != issuerID {
		return model.ErrForbidden
	}
	if !grant.Active {
		return nil
	}

	matched, err := s.repo.Deactivate(ctx, tok, issuerID)
	if err != nil {
		return err
	}
	if !matched {
		return model.ErrGrantNotFound
	}

	grant.Active = false
	s.audit(ctx, issuerID, model.ActorTypePatient, model.AuditActionRevoke, tok, nil)
	s.emit(ctx, model.EventGrantRevoked, grant)
	s.notifyRevoked(ctx, grant)
	return nil
}

// ListByIssuer returns the patient's full grant history, terminal grants
// included.
func (s *Service) ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]*model.AccessGrant, error) {
	if _, err := s.identity.ResolvePatient(ctx, issuerID); err != nil {
		return nil, err
	}
	return s.repo.ListByIssuer(ctx, issuerID)
}

// SweepExpired flips active=false on every grant past its expiry. Pure
// hygiene: read paths re-check expires_at directly and never trust the
// stored flag.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	for _, grant := range expired {
		s.emit(ctx, model.EventGrantExpired, grant)
	}
	return len(expired), nil
}

func (s *Service) audit(ctx context.Context, actorID uuid.UUID, actorType, action, tok string, opts *audit.LogOptions) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Log(ctx, actorID, actorType, action, tok, opts); err != nil {
		s.logger.Error(err, "failed to write audit log", "action", action, "token", tok)
	}
}

func (s *Service) emit(ctx context.Context, eventType string, grant *model.AccessGrant) {
	if s.outbox == nil {
		return
	}
	payload, err := json.Marshal(model.GrantEventPayload{
		Token:      grant.Token,
		IssuerID:   grant.IssuerID,
		ClaimantID: grant.ClaimantID,
		Scopes:     grant.PermissionSet.Scopes(),
		ExpiresAt:  grant.ExpiresAt,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.logger.Error(err, "failed to marshal grant event", "event_type", eventType)
		return
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{EventType: eventType, Payload: payload}); err != nil {
		s.logger.Error(err, "failed to create outbox event", "event_type", eventType)
	}
}

func (s *Service) notifyClaimed(ctx context.Context, claimant *model.Clinician, grant *model.AccessGrant) {
	if s.notifier == nil {
		return
	}
	issuer, err := s.identity.ResolvePatient(ctx, grant.IssuerID)
	if err != nil {
		s.logger.Warn("failed to resolve issuer for claim notification", "token", grant.Token)
		return
	}
	s.notifier.GrantClaimed(ctx, issuer, claimant, grant)
}

func (s *Service) notifyRevoked(ctx context.Context, grant *model.AccessGrant) {
	if s.notifier == nil {
		return
	}
	issuer, err := s.identity.ResolvePatient(ctx, grant.IssuerID)
	if err != nil {
		s.logger.Warn("failed to resolve issuer for revoke notification", "token", grant.Token)
		return
	}
	s.notifier.GrantRevoked(ctx, issuer, grant)
}
