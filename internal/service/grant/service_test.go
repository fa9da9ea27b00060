package grant

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
	"github.com/medgrant/portal-api/internal/service/identity"
	"github.com/medgrant/portal-api/internal/token"
	"github.com/medgrant/portal-api/pkg/logger"
)

var allScopes = model.PermissionSet{ViewHistory: true, ViewMedications: true, ViewDiagnoses: true}

type fixture struct {
	svc        *Service
	grants     *memory.GrantRepository
	clinicians *memory.ClinicianRepository
	outbox     *memory.OutboxRepository
	audits     *memory.AuditRepository
	patient    *model.Patient
	clinician  *model.Clinician
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	grants := memory.NewGrantRepository()
	patients := memory.NewPatientRepository()
	clinicians := memory.NewClinicianRepository()
	outbox := memory.NewOutboxRepository()
	audits := memory.NewAuditRepository()

	patient := &model.Patient{
		Base:    model.Base{ID: uuid.New()},
		Subject: "idp|patient-1",
		Name:    "Avery Stone",
		Email:   "avery@example.com",
		Status:  model.IdentityStatusActive,
	}
	patients.Put(patient)

	clinician := &model.Clinician{
		Base:    model.Base{ID: uuid.New()},
		Subject: "idp|clinician-1",
		Name:    "Dr. Reyes",
		Email:   "reyes@example.com",
		Status:  model.IdentityStatusActive,
	}
	clinicians.Put(clinician)

	testLogger := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	svc := NewService(
		grants,
		token.NewGenerator(grants, 0),
		identity.NewService(patients, clinicians),
		audit.NewService(audits),
		outbox,
		nil,
		testLogger,
		Config{DefaultTTL: 24 * time.Hour, MaxTTL: 72 * time.Hour},
	)

	return &fixture{
		svc:        svc,
		grants:     grants,
		clinicians: clinicians,
		outbox:     outbox,
		audits:     audits,
		patient:    patient,
		clinician:  clinician,
	}
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, ev := range f.outbox.Events() {
		out = append(out, ev.EventType)
	}
	return out
}

func TestIssueCreatesGrant(t *testing.T) {
	f := newFixture(t)

	grant, reused, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.True(t, token.Valid(grant.Token))
	assert.Equal(t, f.patient.ID, grant.IssuerID)
	assert.Nil(t, grant.ClaimantID)
	assert.True(t, grant.Active)
	assert.Equal(t, allScopes, grant.PermissionSet)
	assert.WithinDuration(t, time.Now().Add(time.Hour), grant.ExpiresAt, 5*time.Second)

	assert.Equal(t, []string{model.EventGrantIssued}, f.eventTypes())
	entries, err := f.audits.ListByToken(context.Background(), grant.Token)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditActionIssue, entries[0].Action)
}

func TestIssueUnknownPatient(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Issue(context.Background(), uuid.New(), time.Hour, allScopes)
	assert.ErrorIs(t, err, model.ErrIssuerNotFound)
}

func TestIssueReusesUnclaimedGrant(t *testing.T) {
	f := newFixture(t)

	first, reused, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)
	require.False(t, reused)

	// Re-issuing must hand back the pending grant unchanged, TTL included,
	// even when the requested permissions differ.
	second, reused, err := f.svc.Issue(context.Background(), f.patient.ID, 48*time.Hour, model.PermissionSet{ViewHistory: true})
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, first.ExpiresAt.Unix(), second.ExpiresAt.Unix())
	assert.Equal(t, allScopes, second.PermissionSet)
}

func TestIssueAfterClaimCreatesNewGrant(t *testing.T) {
	f := newFixture(t)

	first, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)
	_, err = f.svc.Claim(context.Background(), first.Token, f.clinician.ID)
	require.NoError(t, err)

	second, reused, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestIssueExpiredGrantNotReused(t *testing.T) {
	f := newFixture(t)

	// Issue against a clock two hours in the past so the grant is already
	// expired in real time.
	f.svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	first, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	f.svc.now = time.Now
	second, reused, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestIssueClampsTTL(t *testing.T) {
	f := newFixture(t)

	grant, _, err := f.svc.Issue(context.Background(), f.patient.ID, 1000*time.Hour, allScopes)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(72*time.Hour), grant.ExpiresAt, 5*time.Second)
}

func TestIssueDefaultTTL(t *testing.T) {
	f := newFixture(t)

	grant, _, err := f.svc.Issue(context.Background(), f.patient.ID, 0, allScopes)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), grant.ExpiresAt, 5*time.Second)
}

// seqGenerator replays a fixed token sequence, simulating insert-time
// collisions.
type seqGenerator struct {
	mu     sync.Mutex
	tokens []string
}

func (g *seqGenerator) Generate(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.tokens) == 0 {
		return "", model.ErrGenerationExhausted
	}
	next := g.tokens[0]
	if len(g.tokens) > 1 {
		g.tokens = g.tokens[1:]
	}
	return next, nil
}

func TestIssueRetriesOnInsertCollision(t *testing.T) {
	f := newFixture(t)

	taken := &model.AccessGrant{
		Base:          model.Base{ID: uuid.New()},
		Token:         "AAAAAAAA",
		IssuerID:      uuid.New(),
		PermissionSet: allScopes,
		ExpiresAt:     time.Now().Add(time.Hour),
		Active:        true,
	}
	require.NoError(t, f.grants.Create(context.Background(), taken))

	f.svc.generator = &seqGenerator{tokens: []string{"AAAAAAAA", "BBBBBBBB"}}
	grant, reused, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, "BBBBBBBB", grant.Token)
}

func TestIssueExhaustsInsertAttempts(t *testing.T) {
	f := newFixture(t)

	taken := &model.AccessGrant{
		Base:          model.Base{ID: uuid.New()},
		Token:         "AAAAAAAA",
		IssuerID:      uuid.New(),
		PermissionSet: allScopes,
		ExpiresAt:     time.Now().Add(time.Hour),
		Active:        true,
	}
	require.NoError(t, f.grants.Create(context.Background(), taken))

	// Every candidate collides.
	f.svc.generator = &seqGenerator{tokens: []string{"AAAAAAAA"}}
	_, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	assert.ErrorIs(t, err, model.ErrGenerationExhausted)
}

func TestClaimBindsClinician(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	claimed, err := f.svc.Claim(context.Background(), issued.Token, f.clinician.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed.ClaimantID)
	assert.Equal(t, f.clinician.ID, *claimed.ClaimantID)
	require.NotNil(t, claimed.ClaimedAt)
	assert.True(t, claimed.Active)

	assert.Equal(t, []string{model.EventGrantIssued, model.EventGrantClaimed}, f.eventTypes())
}

func TestClaimNormalizesToken(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	claimed, err := f.svc.Claim(context.Background(), "  "+strings.ToLower(issued.Token)+" ", f.clinician.ID)
	require.NoError(t, err)
	assert.Equal(t, issued.Token, claimed.Token)
}

func TestClaimIdempotentForSameClinician(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	first, err := f.svc.Claim(context.Background(), issued.Token, f.clinician.ID)
	require.NoError(t, err)
	second, err := f.svc.Claim(context.Background(), issued.Token, f.clinician.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, *first.ClaimantID, *second.ClaimantID)
}

func TestClaimRejectsSecondClinician(t *testing.T) {
	f := newFixture(t)

	other := &model.Clinician{
		Base:    model.Base{ID: uuid.New()},
		Subject: "idp|clinician-2",
		Status:  model.IdentityStatusActive,
	}
	f.clinicians.Put(other)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)
	_, err = f.svc.Claim(context.Background(), issued.Token, f.clinician.ID)
	require.NoError(t, err)

	_, err = f.svc.Claim(context.Background(), issued.Token, other.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyClaimed)
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	const contenders = 16
	clinicianIDs := make([]uuid.UUID, contenders)
	for i := range clinicianIDs {
		c := &model.Clinician{
			Base:    model.Base{ID: uuid.New()},
			Subject: uuid.NewString(),
			Status:  model.IdentityStatusActive,
		}
		f.clinicians.Put(c)
		clinicianIDs[i] = c.ID
	}

	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Claim(context.Background(), issued.Token, clinicianIDs[i])
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, model.ErrAlreadyClaimed):
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, conflicts)
}

func TestClaimExpiredGrant(t *testing.T) {
	f := newFixture(t)

	f.svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	f.svc.now = time.Now
	_, err = f.svc.Claim(context.Background(), issued.Token, f.clinician.ID)
	assert.ErrorIs(t, err, model.ErrGrantExpired)

	// The read path marks the grant inactive on the way out.
	stored, err := f.grants.GetByToken(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestClaimRevokedGrant(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(context.Background(), issued.Token, f.patient.ID))

	_, err = f.svc.Claim(context.Background(), issued.Token, f.clinician.ID)
	assert.ErrorIs(t, err, model.ErrGrantNotFound)
}

func TestClaimUnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Claim(context.Background(), "ZZZZZZZZ", f.clinician.ID)
	assert.ErrorIs(t, err, model.ErrGrantNotFound)
}

func TestClaimUnknownClinician(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	_, err = f.svc.Claim(context.Background(), issued.Token, uuid.New())
	assert.ErrorIs(t, err, model.ErrClaimantNotFound)
}

func TestRevokeDeactivatesGrant(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(context.Background(), issued.Token, f.patient.ID))

	stored, err := f.grants.GetByToken(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, []string{model.EventGrantIssued, model.EventGrantRevoked}, f.eventTypes())
}

func TestRevokeIdempotent(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(context.Background(), issued.Token, f.patient.ID))
	require.NoError(t, f.svc.Revoke(context.Background(), issued.Token, f.patient.ID))

	// Only one revocation event despite two calls.
	assert.Equal(t, []string{model.EventGrantIssued, model.EventGrantRevoked}, f.eventTypes())
}

func TestRevokeRequiresOwnership(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	err = f.svc.Revoke(context.Background(), issued.Token, uuid.New())
	assert.ErrorIs(t, err, model.ErrForbidden)

	stored, err := f.grants.GetByToken(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestRevokeUnknownToken(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Revoke(context.Background(), "ZZZZZZZZ", f.patient.ID)
	assert.ErrorIs(t, err, model.ErrGrantNotFound)
}

func TestSweepExpiredEmitsEvents(t *testing.T) {
	f := newFixture(t)

	f.svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	f.svc.now = time.Now
	live, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)

	count, err := f.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := f.grants.GetByToken(context.Background(), expired.Token)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	stored, err = f.grants.GetByToken(context.Background(), live.Token)
	require.NoError(t, err)
	assert.True(t, stored.Active)

	assert.Contains(t, f.eventTypes(), model.EventGrantExpired)
}

func TestListByIssuerIncludesTerminalGrants(t *testing.T) {
	f := newFixture(t)

	issued, _, err := f.svc.Issue(context.Background(), f.patient.ID, time.Hour, allScopes)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(context.Background(), issued.Token, f.patient.ID))

	grants, err := f.svc.ListByIssuer(context.Background(), f.patient.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.False(t, grants[0].Active)
}
