package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
)

type OutboxRepository struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{}
}

var _ repository.OutboxRepository = (*OutboxRepository)(nil)

func (r *OutboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = string(model.OutboxStatusPending)
	}
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

func (r *OutboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var out []*model.OutboxEvent
	for _, ev := range r.events {
		if ev.Status != string(model.OutboxStatusPending) && ev.Status != string(model.OutboxStatusFailed) {
			continue
		}
		if ev.RetryAt != nil && ev.RetryAt.After(now) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ev := range r.events {
		if ev.ID != id {
			continue
		}
		ev.Status = string(status)
		ev.ErrorMessage = errorMessage
		ev.RetryAt = retryAt
		ev.UpdatedAt = time.Now()
		if status == model.OutboxStatusProcessed {
			now := time.Now()
			ev.ProcessedAt = &now
		}
		if status == model.OutboxStatusFailed {
			ev.RetryCount++
		}
		return nil
	}
	return nil
}

func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []*model.OutboxEvent
	var deleted int64
	for _, ev := range r.events {
		if ev.Status == string(model.OutboxStatusProcessed) && ev.ProcessedAt != nil && ev.ProcessedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	r.events = kept
	return deleted, nil
}

// Events returns a snapshot of everything recorded, oldest first.
func (r *OutboxRepository) Events() []*model.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.OutboxEvent, 0, len(r.events))
	for _, ev := range r.events {
		cp := *ev
		out = append(out, &cp)
	}
	return out
}
