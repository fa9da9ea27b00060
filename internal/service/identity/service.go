// Package identity resolves the opaque subject identifiers minted by the
// external identity provider to patient and clinician rows known to the
// portal. The portal never authenticates anyone itself.
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository"
)

type Service struct {
	patients   repository.PatientRepository
	clinicians repository.ClinicianRepository
	cache      *cache.Cache
}

func NewService(patients repository.PatientRepository, clinicians repository.ClinicianRepository) *Service {
	return &Service{
		patients:   patients,
		clinicians: clinicians,
		// Positive lookups only. Misses always hit the store so newly
		// registered parties resolve immediately.
		cache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

func (s *Service) ResolvePatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	key := "patient:" + id.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.Patient), nil
	}

	patient, err := s.patients.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, patient, cache.DefaultExpiration)
	return patient, nil
}

func (s *Service) ResolvePatientSubject(ctx context.Context, subject string) (*model.Patient, error) {
	key := "patient-subject:" + subject
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.Patient), nil
	}

	patient, err := s.patients.GetBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, patient, cache.DefaultExpiration)
	return patient, nil
}

func (s *Service) ResolveClinician(ctx context.Context, id uuid.UUID) (*model.Clinician, error) {
	key := "clinician:" + id.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.Clinician), nil
	}

	clinician, err := s.clinicians.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, clinician, cache.DefaultExpiration)
	return clinician, nil
}

func (s *Service) ResolveClinicianSubject(ctx context.Context, subject string) (*model.Clinician, error) {
	key := "clinician-subject:" + subject
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.Clinician), nil
	}

	clinician, err := s.clinicians.GetBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, clinician, cache.DefaultExpiration)
	return clinician, nil
}
