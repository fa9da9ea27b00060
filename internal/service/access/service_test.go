package access

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository/memory"
	"github.com/medgrant/portal-api/internal/service/audit"
	"github.com/medgrant/portal-api/pkg/logger"
)

var allScopes = model.PermissionSet{ViewHistory: true, ViewMedications: true, ViewDiagnoses: true}

type fixture struct {
	svc        *Service
	grants     *memory.GrantRepository
	audits     *memory.AuditRepository
	issuerID   uuid.UUID
	claimantID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	grants := memory.NewGrantRepository()
	audits := memory.NewAuditRepository()
	testLogger := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})

	return &fixture{
		svc:        NewService(grants, audit.NewService(audits), testLogger),
		grants:     grants,
		audits:     audits,
		issuerID:   uuid.New(),
		claimantID: uuid.New(),
	}
}

// seed stores a grant claimed by the fixture's clinician.
func (f *fixture) seed(t *testing.T, perms model.PermissionSet, expiresAt time.Time) *model.AccessGrant {
	t.Helper()

	claimedAt := time.Now().Add(-time.Minute)
	grant := &model.AccessGrant{
		Base:          model.Base{ID: uuid.New()},
		Token:         "GRNT2345",
		IssuerID:      f.issuerID,
		ClaimantID:    &f.claimantID,
		PermissionSet: perms,
		ExpiresAt:     expiresAt,
		Active:        true,
		ClaimedAt:     &claimedAt,
	}
	require.NoError(t, f.grants.Create(context.Background(), grant))
	return grant
}

func TestAccessReturnsScopedView(t *testing.T) {
	f := newFixture(t)
	grant := f.seed(t, allScopes, time.Now().Add(time.Hour))

	view, err := f.svc.Access(context.Background(), grant.Token, f.claimantID, allScopes)
	require.NoError(t, err)
	assert.Equal(t, grant.Token, view.Token)
	assert.Equal(t, f.issuerID, view.PatientID)
	assert.Equal(t, allScopes, view.Authorized)
	assert.Equal(t, int64(1), view.AccessCount)
	assert.WithinDuration(t, time.Now(), view.LastAccessedAt, 5*time.Second)

	entries, err := f.audits.ListByToken(context.Background(), grant.Token)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditActionAccess, entries[0].Action)
}

func TestAccessNormalizesToken(t *testing.T) {
	f := newFixture(t)
	grant := f.seed(t, allScopes, time.Now().Add(time.Hour))

	view, err := f.svc.Access(context.Background(), " "+strings.ToLower(grant.Token)+" ", f.claimantID, allScopes)
	require.NoError(t, err)
	assert.Equal(t, grant.Token, view.Token)
}

func TestAccessFiltersRequestedScopes(t *testing.T) {
	f := newFixture(t)
	grant := f.seed(t, model.PermissionSet{ViewHistory: true, ViewMedications: true}, time.Now().Add(time.Hour))

	// Asking beyond the grant narrows silently.
	view, err := f.svc.Access(context.Background(), grant.Token, f.claimantID, allScopes)
	require.NoError(t, err)
	assert.Equal(t, model.PermissionSet{ViewHistory: true, ViewMedications: true}, view.Authorized)

	// Asking for a subset narrows to the subset.
	view, err = f.svc.Access(context.Background(), grant.Token, f.claimantID, model.PermissionSet{ViewHistory: true})
	require.NoError(t, err)
	assert.Equal(t, model.PermissionSet{ViewHistory: true}, view.Authorized)
}

func TestAccessCountsEveryAuthorizedRead(t *testing.T) {
	f := newFixture(t)
	grant := f.seed(t, allScopes, time.Now().Add(time.Hour))

	const reads = 25
	var wg sync.WaitGroup
	for i := 0; i < reads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Access(context.Background(), grant.Token, f.claimantID, allScopes)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.grants.GetByToken(context.Background(), grant.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(reads), stored.AccessCount)
	require.NotNil(t, stored.LastAccessedAt)
}

func TestAccessDeniedDoesNotTouchCounters(t *testing.T) {
	f := newFixture(t)
	grant := f.seed(t, allScopes, time.Now().Add(time.Hour))

	_, err := f.svc.Access(context.Background(), grant.Token, uuid.New(), allScopes)
	assert.ErrorIs(t, err, model.ErrForbidden)

	stored, err := f.grants.GetByToken(context.Background(), grant.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.AccessCount)
	assert.Nil(t, stored.LastAccessedAt)
}

func TestAccessExpiredGrant(t *testing.T) {
	f := newFixture(t)
	grant := f.seed(t, allScopes, time.Now().Add(-time.Minute))

	_, err := f.svc.Access(context.Background(), grant.Token, f.claimantID, allScopes)
	assert.ErrorIs(t, err, model.ErrGrantExpired)

	// Expiry self-heals the stored flag.
	stored, err := f.grants.GetByToken(context.Background(), grant.Token)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestAccessExpiryBeatsRevocationState(t *testing.T) {
	f := newFixture(t)
	grant := f.seed(t, allScopes, time.Now().Add(-time.Minute))

	// Even with active already false, expiry is reported as expiry.
	_, err := f.grants.Deactivate(context.Background(), grant.Token, f.issuerID)
	require.NoError(t, err)

	_, err = f.svc.Access(context.Background(), grant.Token, f.claimantID, allScopes)
	assert.ErrorIs(t, err, model.ErrGrantExpired)
}

func TestAccessRevokedGrant(t *testing.T) {
	f := newFixture(t)
	grant := f.seed(t, allScopes, time.Now().Add(time.Hour))

	_, err := f.grants.Deactivate(context.Background(), grant.Token, f.issuerID)
	require.NoError(t, err)

	_, err = f.svc.Access(context.Background(), grant.Token, f.claimantID, allScopes)
	assert.ErrorIs(t, err, model.ErrGrantNotFound)
}

func TestAccessUnclaimedGrant(t *testing.T) {
	f := newFixture(t)

	grant := &model.AccessGrant{
		Base:          model.Base{ID: uuid.New()},
		Token:         "GRNT2345",
		IssuerID:      f.issuerID,
		PermissionSet: allScopes,
		ExpiresAt:     time.Now().Add(time.Hour),
		Active:        true,
	}
	require.NoError(t, f.grants.Create(context.Background(), grant))

	// Possession of the token string alone never authorizes a read.
	_, err := f.svc.Access(context.Background(), grant.Token, f.claimantID, allScopes)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestAccessUnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Access(context.Background(), "ZZZZZZZZ", f.claimantID, allScopes)
	assert.ErrorIs(t, err, model.ErrGrantNotFound)
}
