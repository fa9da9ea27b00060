package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
)

type Service struct {
	repo repository.AuditRepository
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

type LogOptions struct {
	Detail    interface{}
	IPAddress string
	UserAgent string
}

// Log creates an audit log entry
func (s *Service) Log(ctx context.Context, actorID uuid.UUID, actorType, action, grantToken string, opts *LogOptions) error {
	var detail json.RawMessage
	var err error

	entry := &model.AuditLog{
		ID:        uuid.New(),
		ActorID:   actorID,
		ActorType: actorType,
		Action:    action,
		Token:     grantToken,
		CreatedAt: time.Now(),
	}

	if opts != nil {
		if opts.Detail != nil {
			detail, err = json.Marshal(opts.Detail)
			if err != nil {
				return err
			}
			entry.Detail = detail
		}
		entry.IPAddress = opts.IPAddress
		entry.UserAgent = opts.UserAgent
	}

	return s.repo.Create(ctx, entry)
}

func (s *Service) History(ctx context.Context, grantToken string) ([]*model.AuditLog, error) {
	return s.repo.ListByToken(ctx, grantToken)
}
