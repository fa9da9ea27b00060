package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
)

type auditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) repository.AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, actor_id, actor_type, action, token,
			detail, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.ActorID,
		log.ActorType,
		log.Action,
		log.Token,
		log.Detail,
		log.IPAddress,
		log.UserAgent,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) ListByToken(ctx context.Context, token string) ([]*model.AuditLog, error) {
	query := `
		SELECT id, actor_id, actor_type, action, token, detail, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE token = $1
		ORDER BY created_at ASC
	`

	var logs []*model.AuditLog
	err := r.db.SelectContext(ctx, &logs, query, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}
