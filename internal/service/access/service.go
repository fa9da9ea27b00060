// Package access is the gateway claimants read through. It resolves a
// token, verifies state and claimant binding, filters requested scopes down
// to what the grant authorizes, and records usage atomically with the read.
package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
	"github.com/medgrant/portal-api/internal/service/audit"
	"github.com/medgrant/portal-api/internal/token"
	"github.com/medgrant/portal-api/pkg/logger"
)

type Service struct {
	repo    repository.GrantRepository
	auditor *audit.Service
	logger  *logger.Logger
	now     func() time.Time
}

func NewService(repo repository.GrantRepository, auditor *audit.Service, logger *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		auditor: auditor,
		logger:  logger,
		now:     time.Now,
	}
}

// Access produces a scoped view descriptor for the claimant. Requested
// scopes beyond the grant's permission set are silently filtered; a denied
// read never perturbs the usage counters.
func (s *Service) Access(ctx context.Context, rawToken string, claimantID uuid.UUID, requested model.PermissionSet) (*model.ScopedView, error) {
	tok := token.Normalize(rawToken)

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
	if !grant.Active {
		return nil, model.ErrGrantNotFound
	}
	if !grant.ClaimedBy(claimantID) {
		// Claimed by someone else, or not claimed at all. The token string
		// alone never authorizes a read.
		return nil, model.ErrForbidden
	}

	// The counter bump re-checks the full predicate; if state changed since
	// the read above, the classified error from the store wins.
	updated, err := s.repo.RecordAccess(ctx, tok, claimantID)
	if err != nil {
		return nil, err
	}

	authorized := updated.PermissionSet.Intersect(requested)
	view := &model.ScopedView{
		Token:          updated.Token,
		PatientID:      updated.IssuerID,
		Authorized:     authorized,
		ExpiresAt:      updated.ExpiresAt,
		AccessCount:    updated.AccessCount,
		LastAccessedAt: derefTime(updated.LastAccessedAt, s.now()),
	}

	if s.auditor != nil {
		if err := s.auditor.Log(ctx, claimantID, model.ActorTypeClinician, model.AuditActionAccess, tok,
			&audit.LogOptions{Detail: model.JSONMap{"scopes": authorized.Scopes()}}); err != nil {
			s.logger.Error(err, "failed to write access audit log", "token", tok)
		}
	}

	return view, nil
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t != nil {
		return *t
	}
	return fallback
}
