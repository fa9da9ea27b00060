package access

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medgrant/portal-api/internal/handler"
	"github.com/medgrant/portal-api/internal/middleware"
	"github.com/medgrant/portal-api/internal/model"
	accessService "github.com/medgrant/portal-api/internal/service/access"
	grantService "github.com/medgrant/portal-api/internal/service/grant"
	apperrors "github.com/medgrant/portal-api/pkg/errors"
	"github.com/medgrant/portal-api/pkg/httputil"
	"github.com/medgrant/portal-api/pkg/metrics"
)

// Handler serves the claimant-facing surface: clinicians redeem a code once
// and then read through the gateway with it.
type Handler struct {
	grants  *grantService.Service
	gateway *accessService.Service
	metrics *metrics.Metrics
}

func NewHandler(grants *grantService.Service, gateway *accessService.Service, m *metrics.Metrics) *Handler {
	return &Handler{grants: grants, gateway: gateway, metrics: m}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	grants := r.Group("/grants")
	{
		grants.POST("/:token/claim", h.ClaimGrant)
		grants.GET("/:token/view", h.ViewGrant)
	}
}

func (h *Handler) ClaimGrant(c *gin.Context) {
	claimantID, ok := sessionID(c, middleware.ContextClinicianID)
	if !ok {
		return
	}

	grant, err := h.grants.Claim(c.Request.Context(), c.Param("token"), claimantID)
	if err != nil {
		if h.metrics != nil && errors.Is(err, model.ErrAlreadyClaimed) {
			h.metrics.ClaimConflicts.Inc()
		}
		handler.RespondDomainError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.GrantsClaimed.Inc()
	}

	claimedAt := grant.CreatedAt
	if grant.ClaimedAt != nil {
		claimedAt = *grant.ClaimedAt
	}
	httputil.RespondWithSuccess(c, model.GrantSummary{
		Token:     grant.Token,
		IssuerID:  grant.IssuerID,
		Scopes:    grant.PermissionSet.Scopes(),
		ExpiresAt: grant.ExpiresAt,
		ClaimedAt: claimedAt,
	})
}

func (h *Handler) ViewGrant(c *gin.Context) {
	claimantID, ok := sessionID(c, middleware.ContextClinicianID)
	if !ok {
		return
	}

	requested := requestedScopes(c.Query("scopes"))
	view, err := h.gateway.Access(c.Request.Context(), c.Param("token"), claimantID, requested)
	if err != nil {
		if h.metrics != nil {
			h.metrics.AccessesDenied.WithLabelValues(denialReason(err)).Inc()
		}
		handler.RespondDomainError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.AccessesServed.Inc()
	}
	httputil.RespondWithSuccess(c, view)
}

// requestedScopes parses the scopes query parameter. An absent parameter
// asks for everything the grant carries; unknown names are filtered by the
// gateway, never rejected.
func requestedScopes(raw string) model.PermissionSet {
	if raw == "" {
		return model.PermissionSet{ViewHistory: true, ViewMedications: true, ViewDiagnoses: true}
	}
	return model.PermissionSetFromScopes(strings.Split(raw, ","))
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, model.ErrGrantExpired):
		return "expired"
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, model.ErrGrantNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func sessionID(c *gin.Context, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(key))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Unauthorized("missing session identity", err))
		return uuid.Nil, false
	}
	return id, true
}
