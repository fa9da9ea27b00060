package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
)

type PatientRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*model.Patient
}

func NewPatientRepository() *PatientRepository {
	return &PatientRepository{byID: make(map[uuid.UUID]*model.Patient)}
}

var _ repository.PatientRepository = (*PatientRepository)(nil)

func (r *PatientRepository) Put(patient *model.Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *patient
	r.byID[patient.ID] = &cp
}

func (r *PatientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patient, ok := r.byID[id]
	if !ok || patient.Status != model.IdentityStatusActive {
		return nil, model.ErrIssuerNotFound
	}
	cp := *patient
	return &cp, nil
}

func (r *PatientRepository) GetBySubject(ctx context.Context, subject string) (*model.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, patient := range r.byID {
		if patient.Subject == subject && patient.Status == model.IdentityStatusActive {
			cp := *patient
			return &cp, nil
		}
	}
	return nil, model.ErrIssuerNotFound
}

type ClinicianRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*model.Clinician
}

func NewClinicianRepository() *ClinicianRepository {
	return &ClinicianRepository{byID: make(map[uuid.UUID]*model.Clinician)}
}

var _ repository.ClinicianRepository = (*ClinicianRepository)(nil)

func (r *ClinicianRepository) Put(clinician *model.Clinician) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *clinician
	r.byID[clinician.ID] = &cp
}

func (r *ClinicianRepository) Get(ctx context.Context, id uuid.UUID) (*model.Clinician, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clinician, ok := r.byID[id]
	if !ok || clinician.Status != model.IdentityStatusActive {
		return nil, model.ErrClaimantNotFound
	}
	cp := *clinician
	return &cp, nil
}

func (r *ClinicianRepository) GetBySubject(ctx context.Context, subject string) (*model.Clinician, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, clinician := range r.byID {
		if clinician.Subject == subject && clinician.Status == model.IdentityStatusActive {
			cp := *clinician
			return &cp, nil
		}
	}
	return nil, model.ErrClaimantNotFound
}
