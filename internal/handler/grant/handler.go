package grant

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medgrant/portal-api/internal/handler"
	"github.com/medgrant/portal-api/internal/middleware"
	"github.com/medgrant/portal-api/internal/model"
	grantService "github.com/medgrant/portal-api/internal/service/grant"
	apperrors "github.com/medgrant/portal-api/pkg/errors"
	"github.com/medgrant/portal-api/pkg/httputil"
	"github.com/medgrant/portal-api/pkg/metrics"
)

// Handler serves the issuer-facing surface: patients mint, list and revoke
// their sharing codes here. Identity always comes from the session, never
// the request body.
type Handler struct {
	service *grantService.Service
	metrics *metrics.Metrics
}

func NewHandler(service *grantService.Service, m *metrics.Metrics) *Handler {
	return &Handler{service: service, metrics: m}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	grants := r.Group("/grants")
	{
		grants.POST("", h.CreateGrant)
		grants.GET("", h.ListGrants)
		grants.DELETE("/:token", h.RevokeGrant)
	}
}

func (h *Handler) CreateGrant(c *gin.Context) {
	issuerID, ok := sessionID(c, middleware.ContextPatientID)
	if !ok {
		return
	}

	var req model.CreateGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}
	if req.Permissions.Empty() {
		httputil.RespondWithError(c, apperrors.BadRequest("at least one permission is required", nil))
		return
	}

	ttl := time.Duration(req.TTLHours) * time.Hour
	grant, reused, err := h.service.Issue(c.Request.Context(), issuerID, ttl, req.Permissions)
	if err != nil {
		handler.RespondDomainError(c, err)
		return
	}

	if h.metrics != nil {
		if reused {
			h.metrics.GrantsReused.Inc()
		} else {
			h.metrics.GrantsIssued.Inc()
		}
	}

	resp := model.CreateGrantResponse{
		Token:     grant.Token,
		ExpiresAt: grant.ExpiresAt,
		Reused:    reused,
	}
	if reused {
		httputil.RespondWithSuccess(c, resp)
		return
	}
	httputil.RespondWithCreated(c, resp)
}

func (h *Handler) ListGrants(c *gin.Context) {
	issuerID, ok := sessionID(c, middleware.ContextPatientID)
	if !ok {
		return
	}

	grants, err := h.service.ListByIssuer(c.Request.Context(), issuerID)
	if err != nil {
		handler.RespondDomainError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, grants)
}

func (h *Handler) RevokeGrant(c *gin.Context) {
	issuerID, ok := sessionID(c, middleware.ContextPatientID)
	if !ok {
		return
	}

	if err := h.service.Revoke(c.Request.Context(), c.Param("token"), issuerID); err != nil {
		handler.RespondDomainError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.GrantsRevoked.Inc()
	}
	httputil.RespondWithSuccess(c, nil)
}

func sessionID(c *gin.Context, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(key))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Unauthorized("missing session identity", err))
		return uuid.Nil, false
	}
	return id, true
}
