// Package memory holds mutex-guarded in-memory repositories. They back the
// test suites and local development; the conditional-update semantics match
// the postgres implementations exactly.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
)

type GrantRepository struct {
	mu      sync.Mutex
	byToken map[string]*model.AccessGrant
}

func NewGrantRepository() *GrantRepository {
	return &GrantRepository{byToken: make(map[string]*model.AccessGrant)}
}

var _ repository.GrantRepository = (*GrantRepository)(nil)

func (r *GrantRepository) Create(ctx context.Context, grant *model.AccessGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byToken[grant.Token]; ok {
		return model.ErrTokenExists
	}
	grant.CreatedAt = time.Now()
	grant.UpdatedAt = grant.CreatedAt
	cp := *grant
	r.byToken[grant.Token] = &cp
	return nil
}

func (r *GrantRepository) GetByToken(ctx context.Context, token string) (*model.AccessGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	grant, ok := r.byToken[token]
	if !ok {
		return nil, model.ErrGrantNotFound
	}
	cp := *grant
	return &cp, nil
}

func (r *GrantRepository) TokenExists(ctx context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.byToken[token]
	return ok, nil
}

func (r *GrantRepository) FindActiveUnclaimedByIssuer(ctx context.Context, issuerID uuid.UUID) (*model.AccessGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var winner *model.AccessGrant
	now := time.Now()
	for _, g := range r.byToken {
		if g.IssuerID != issuerID || g.ClaimantID != nil || !g.Active || g.ExpiredAt(now) {
			continue
		}
		if winner == nil || g.CreatedAt.After(winner.CreatedAt) {
			winner = g
		}
	}
	if winner == nil {
		return nil, model.ErrGrantNotFound
	}
	cp := *winner
	return &cp, nil
}

func (r *GrantRepository) ClaimAtomically(ctx context.Context, token string, claimantID uuid.UUID) (*model.AccessGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	grant, ok := r.byToken[token]
	if !ok {
		return nil, model.ErrGrantNotFound
	}
	now := time.Now()
	if grant.ClaimantID == nil && grant.Active && !grant.ExpiredAt(now) {
		id := claimantID
		grant.ClaimantID = &id
		grant.ClaimedAt = &now
		grant.UpdatedAt = now
		cp := *grant
		return &cp, nil
	}

	switch {
	case grant.ClaimantID != nil:
		return nil, model.ErrClaimConflict
	case grant.ExpiredAt(now):
		return nil, model.ErrGrantExpired
	default:
		return nil, model.ErrGrantNotFound
	}
}

func (r *GrantRepository) RecordAccess(ctx context.Context, token string, claimantID uuid.UUID) (*model.AccessGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	grant, ok := r.byToken[token]
	if !ok {
		return nil, model.ErrGrantNotFound
	}
	now := time.Now()
	if grant.ClaimedBy(claimantID) && grant.Active && !grant.ExpiredAt(now) {
		grant.AccessCount++
		grant.LastAccessedAt = &now
		grant.UpdatedAt = now
		cp := *grant
		return &cp, nil
	}

	switch {
	case grant.ExpiredAt(now):
		return nil, model.ErrGrantExpired
	case !grant.ClaimedBy(claimantID):
		return nil, model.ErrForbidden
	default:
		return nil, model.ErrGrantNotFound
	}
}

func (r *GrantRepository) Deactivate(ctx context.Context, token string, issuerID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	grant, ok := r.byToken[token]
	if !ok || grant.IssuerID != issuerID {
		return false, nil
	}
	grant.Active = false
	grant.UpdatedAt = time.Now()
	return true, nil
}

func (r *GrantRepository) MarkExpired(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	grant, ok := r.byToken[token]
	if !ok {
		return nil
	}
	if grant.Active && grant.ExpiredAt(time.Now()) {
		grant.Active = false
		grant.UpdatedAt = time.Now()
	}
	return nil
}

func (r *GrantRepository) SweepExpired(ctx context.Context) ([]*model.AccessGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var swept []*model.AccessGrant
	for _, g := range r.byToken {
		if g.Active && g.ExpiredAt(now) {
			g.Active = false
			g.UpdatedAt = now
			cp := *g
			swept = append(swept, &cp)
		}
	}
	return swept, nil
}

func (r *GrantRepository) ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]*model.AccessGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.AccessGrant
	for _, g := range r.byToken {
		if g.IssuerID == issuerID {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
