package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPermissionSetIntersect(t *testing.T) {
	granted := PermissionSet{ViewHistory: true, ViewMedications: true}
	requested := PermissionSet{ViewMedications: true, ViewDiagnoses: true}

	assert.Equal(t, PermissionSet{ViewMedications: true}, granted.Intersect(requested))
	assert.True(t, granted.Intersect(PermissionSet{}).Empty())
}

func TestPermissionSetScopes(t *testing.T) {
	p := PermissionSet{ViewHistory: true, ViewDiagnoses: true}
	assert.Equal(t, []string{ScopeViewHistory, ScopeViewDiagnoses}, p.Scopes())
	assert.Nil(t, PermissionSet{}.Scopes())
}

func TestPermissionSetFromScopes(t *testing.T) {
	p := PermissionSetFromScopes([]string{ScopeViewMedications, "something_else", ScopeViewHistory})
	assert.Equal(t, PermissionSet{ViewHistory: true, ViewMedications: true}, p)

	assert.True(t, PermissionSetFromScopes(nil).Empty())
}

func TestAccessGrantExpiry(t *testing.T) {
	now := time.Now()
	grant := &AccessGrant{ExpiresAt: now.Add(time.Hour), Active: true}

	assert.False(t, grant.ExpiredAt(now))
	assert.True(t, grant.Usable(now))

	// Expiry is absolute; the active flag never overrides it.
	assert.True(t, grant.ExpiredAt(now.Add(2*time.Hour)))
	assert.False(t, grant.Usable(now.Add(2*time.Hour)))

	grant.Active = false
	assert.False(t, grant.Usable(now))
}

func TestAccessGrantClaimedBy(t *testing.T) {
	clinicianID := uuid.New()
	grant := &AccessGrant{}

	assert.False(t, grant.ClaimedBy(clinicianID))

	grant.ClaimantID = &clinicianID
	assert.True(t, grant.ClaimedBy(clinicianID))
	assert.False(t, grant.ClaimedBy(uuid.New()))
}
