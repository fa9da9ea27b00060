package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Grant lifecycle errors. The repository layer returns ErrTokenExists and
// ErrClaimConflict; the service layer maps everything else onto the rest.
var (
	ErrGrantNotFound       = errors.New("grant not found")
	ErrGrantExpired        = errors.New("grant expired")
	ErrAlreadyClaimed      = errors.New("grant already claimed by another clinician")
	ErrClaimConflict       = errors.New("claim conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrIssuerNotFound      = errors.New("issuer not found")
	ErrClaimantNotFound    = errors.New("claimant not found")
	ErrGenerationExhausted = errors.New("token generation attempts exhausted")
	ErrTokenExists         = errors.New("token already exists")
)

// PermissionSet is the fixed set of capabilities a patient can attach to a
// grant. Decided at issue time, immutable afterwards.
type PermissionSet struct {
	ViewHistory     bool `json:"view_history" db:"view_history"`
	ViewMedications bool `json:"view_medications" db:"view_medications"`
	ViewDiagnoses   bool `json:"view_diagnoses" db:"view_diagnoses"`
}

// Intersect returns the capabilities present in both sets.
func (p PermissionSet) Intersect(other PermissionSet) PermissionSet {
	return PermissionSet{
		ViewHistory:     p.ViewHistory && other.ViewHistory,
		ViewMedications: p.ViewMedications && other.ViewMedications,
		ViewDiagnoses:   p.ViewDiagnoses && other.ViewDiagnoses,
	}
}

// Empty reports whether no capability is set.
func (p PermissionSet) Empty() bool {
	return !p.ViewHistory && !p.ViewMedications && !p.ViewDiagnoses
}

// Scopes lists the set as scope names, for responses and audit entries.
func (p PermissionSet) Scopes() []string {
	var out []string
	if p.ViewHistory {
		out = append(out, ScopeViewHistory)
	}
	if p.ViewMedications {
		out = append(out, ScopeViewMedications)
	}
	if p.ViewDiagnoses {
		out = append(out, ScopeViewDiagnoses)
	}
	return out
}

// Scope names accepted on the view endpoint.
const (
	ScopeViewHistory     = "view_history"
	ScopeViewMedications = "view_medications"
	ScopeViewDiagnoses   = "view_diagnoses"
)

// PermissionSetFromScopes builds a set from scope names. Unknown names are
// ignored; over-asking is filtered, never rejected.
func PermissionSetFromScopes(scopes []string) PermissionSet {
	var p PermissionSet
	for _, s := range scopes {
		switch s {
		case ScopeViewHistory:
			p.ViewHistory = true
		case ScopeViewMedications:
			p.ViewMedications = true
		case ScopeViewDiagnoses:
			p.ViewDiagnoses = true
		}
	}
	return p
}

// AccessGrant is a capability record binding an issuing patient, an optional
// claiming clinician, a permission set and an absolute expiry. Rows are
// retained for audit and never deleted by this service.
type AccessGrant struct {
	Base
	Token      string     `json:"token" db:"token"`
	IssuerID   uuid.UUID  `json:"issuer_id" db:"issuer_id"`
	ClaimantID *uuid.UUID `json:"claimant_id,omitempty" db:"claimant_id"`
	PermissionSet
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
	Active         bool       `json:"active" db:"active"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	AccessCount    int64      `json:"access_count" db:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty" db:"last_accessed_at"`
}

// ExpiredAt reports whether the grant is past its expiry at the given
// instant. Expiry is computed, never trusted from the active flag alone.
func (g *AccessGrant) ExpiredAt(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// Usable reports whether the grant can authorize anything at the given
// instant.
func (g *AccessGrant) Usable(now time.Time) bool {
	return g.Active && !g.ExpiredAt(now)
}

// ClaimedBy reports whether the grant has been claimed by the given
// clinician.
func (g *AccessGrant) ClaimedBy(id uuid.UUID) bool {
	return g.ClaimantID != nil && *g.ClaimantID == id
}

type CreateGrantRequest struct {
	TTLHours    int           `json:"ttl_hours" binding:"omitempty,min=1,max=720"`
	Permissions PermissionSet `json:"permissions"`
}

type CreateGrantResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Reused    bool      `json:"reused"`
}

// GrantSummary is what a clinician sees after a successful claim.
type GrantSummary struct {
	Token     string    `json:"token"`
	IssuerID  uuid.UUID `json:"issuer_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// ScopedView is the read-only descriptor returned by the access gateway. It
// names the data categories the caller may fetch; the records themselves are
// served by downstream collaborators gated on this descriptor.
type ScopedView struct {
	Token          string        `json:"token"`
	PatientID      uuid.UUID     `json:"patient_id"`
	Authorized     PermissionSet `json:"authorized"`
	ExpiresAt      time.Time     `json:"expires_at"`
	AccessCount    int64         `json:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
}
