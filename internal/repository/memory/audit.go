package memory

import (
	"context"
	"sync"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
)

type AuditRepository struct {
	mu      sync.Mutex
	entries []*model.AuditLog
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *log
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *AuditRepository) ListByToken(ctx context.Context, token string) ([]*model.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.AuditLog
	for _, entry := range r.entries {
		if entry.Token == token {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}
