package grant

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgrant/portal-api/internal/middleware"
	"github.com/medgrant/portal-api/internal/model"
	"github.com/medgrant/portal-api/internal/repository/memory"
	grantService "github.com/medgrant/portal-api/internal/service/grant"
	"github.com/medgrant/portal-api/internal/service/identity"
	"github.com/medgrant/portal-api/internal/token"
	"github.com/medgrant/portal-api/pkg/logger"
)

type testEnv struct {
	engine    *gin.Engine
	svc       *grantService.Service
	patients  *memory.PatientRepository
	patientID uuid.UUID
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	grants := memory.NewGrantRepository()
	patients := memory.NewPatientRepository()
	clinicians := memory.NewClinicianRepository()

	patientID := uuid.New()
	patients.Put(&model.Patient{
		Base:    model.Base{ID: patientID},
		Subject: "idp|patient-1",
		Status:  model.IdentityStatusActive,
	})

	testLogger := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	svc := grantService.NewService(
		grants,
		token.NewGenerator(grants, 0),
		identity.NewService(patients, clinicians),
		nil,
		nil,
		nil,
		testLogger,
		grantService.Config{DefaultTTL: 24 * time.Hour, MaxTTL: 72 * time.Hour},
	)

	engine := gin.New()
	api := engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Set(middleware.ContextPatientID, patientID.String())
	})
	NewHandler(svc, nil).RegisterRoutes(api)

	return &testEnv{engine: engine, svc: svc, patients: patients, patientID: patientID}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestCreateGrant(t *testing.T) {
	e := setup(t)

	rec := e.do(t, http.MethodPost, "/api/v1/grants", model.CreateGrantRequest{
		TTLHours:    2,
		Permissions: model.PermissionSet{ViewHistory: true, ViewMedications: true},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp model.CreateGrantResponse
	decodeData(t, rec, &resp)
	assert.True(t, token.Valid(resp.Token))
	assert.False(t, resp.Reused)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), resp.ExpiresAt, 5*time.Second)
}

func TestCreateGrantReturnsPendingGrant(t *testing.T) {
	e := setup(t)

	body := model.CreateGrantRequest{Permissions: model.PermissionSet{ViewHistory: true}}
	first := e.do(t, http.MethodPost, "/api/v1/grants", body)
	require.Equal(t, http.StatusCreated, first.Code)
	var firstResp model.CreateGrantResponse
	decodeData(t, first, &firstResp)

	second := e.do(t, http.MethodPost, "/api/v1/grants", body)
	require.Equal(t, http.StatusOK, second.Code)
	var secondResp model.CreateGrantResponse
	decodeData(t, second, &secondResp)
	assert.True(t, secondResp.Reused)
	assert.Equal(t, firstResp.Token, secondResp.Token)
}

func TestCreateGrantRequiresPermissions(t *testing.T) {
	e := setup(t)

	rec := e.do(t, http.MethodPost, "/api/v1/grants", model.CreateGrantRequest{TTLHours: 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGrantRejectsOversizedTTL(t *testing.T) {
	e := setup(t)

	rec := e.do(t, http.MethodPost, "/api/v1/grants", map[string]interface{}{
		"ttl_hours":   100000,
		"permissions": map[string]bool{"view_history": true},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListGrants(t *testing.T) {
	e := setup(t)

	create := e.do(t, http.MethodPost, "/api/v1/grants", model.CreateGrantRequest{
		Permissions: model.PermissionSet{ViewDiagnoses: true},
	})
	require.Equal(t, http.StatusCreated, create.Code)

	rec := e.do(t, http.MethodGet, "/api/v1/grants", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var grants []*model.AccessGrant
	decodeData(t, rec, &grants)
	require.Len(t, grants, 1)
	assert.Equal(t, e.patientID, grants[0].IssuerID)
}

func TestRevokeGrant(t *testing.T) {
	e := setup(t)

	create := e.do(t, http.MethodPost, "/api/v1/grants", model.CreateGrantRequest{
		Permissions: model.PermissionSet{ViewHistory: true},
	})
	require.Equal(t, http.StatusCreated, create.Code)
	var created model.CreateGrantResponse
	decodeData(t, create, &created)

	rec := e.do(t, http.MethodDelete, "/api/v1/grants/"+created.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Revocation is idempotent at the HTTP surface too.
	rec = e.do(t, http.MethodDelete, "/api/v1/grants/"+created.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRevokeGrantNotOwned(t *testing.T) {
	e := setup(t)

	otherID := uuid.New()
	e.patients.Put(&model.Patient{
		Base:    model.Base{ID: otherID},
		Subject: "idp|patient-2",
		Status:  model.IdentityStatusActive,
	})
	foreign, _, err := e.svc.Issue(context.Background(), otherID, time.Hour, model.PermissionSet{ViewHistory: true})
	require.NoError(t, err)

	rec := e.do(t, http.MethodDelete, "/api/v1/grants/"+foreign.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRevokeGrantUnknownToken(t *testing.T) {
	e := setup(t)

	rec := e.do(t, http.MethodDelete, "/api/v1/grants/ZZZZZZZZ", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMissingSessionIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := setup(t)

	// A group without the session middleware never reaches the service.
	engine := gin.New()
	NewHandler(e.svc, nil).RegisterRoutes(engine.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/grants", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
