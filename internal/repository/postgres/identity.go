package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
)

type patientRepository struct {
	db *sqlx.DB
}

func NewPatientRepository(db *sqlx.DB) repository.PatientRepository {
	return &patientRepository{db: db}
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `SELECT * FROM patients WHERE id = $1 AND status = 'active'`

	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrIssuerNotFound
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

func (r *patientRepository) GetBySubject(ctx context.Context, subject string) (*model.Patient, error) {
	query := `SELECT * FROM patients WHERE subject = $1 AND status = 'active'`

	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query, subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrIssuerNotFound
		}
		return nil, fmt.Errorf("failed to get patient by subject: %w", err)
	}
	return &patient, nil
}

type clinicianRepository struct {
	db *sqlx.DB
}

func NewClinicianRepository(db *sqlx.DB) repository.ClinicianRepository {
	return &clinicianRepository{db: db}
}

func (r *clinicianRepository) Get(ctx context.Context, id uuid.UUID) (*model.Clinician, error) {
	query := `SELECT * FROM clinicians WHERE id = $1 AND status = 'active'`

	var clinician model.Clinician
	err := r.db.GetContext(ctx, &clinician, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrClaimantNotFound
		}
		return nil, fmt.Errorf("failed to get clinician: %w", err)
	}
	return &clinician, nil
}

func (r *clinicianRepository) GetBySubject(ctx context.Context, subject string) (*model.Clinician, error) {
	query := `SELECT * FROM clinicians WHERE subject = $1 AND status = 'active'`

	var clinician model.Clinician
	err := r.db.GetContext(ctx, &clinician, query, subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrClaimantNotFound
		}
		return nil, fmt.Errorf("failed to get clinician by subject: %w", err)
	}
	return &clinician, nil
}
