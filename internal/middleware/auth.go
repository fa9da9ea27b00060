package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/medgrant/portal-api/internal/service/identity"
	apperrors "github.com/medgrant/portal-api/pkg/errors"
	"github.com/medgrant/portal-api/pkg/httputil"
)

// Context keys set by the auth middleware.
const (
	ContextPatientID   = "patientID"
	ContextClinicianID = "clinicianID"
)

// SessionClaims is what the external identity provider puts in its tokens.
// sub is the opaque stable subject; typ says which kind of party it is.
type SessionClaims struct {
	jwt.RegisteredClaims
	Typ string `json:"typ"`
}

type AuthMiddleware struct {
	secret   []byte
	identity *identity.Service
}

func NewAuthMiddleware(secret string, identitySvc *identity.Service) *AuthMiddleware {
	return &AuthMiddleware{
		secret:   []byte(secret),
		identity: identitySvc,
	}
}

func (m *AuthMiddleware) parseClaims(c *gin.Context) *SessionClaims {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		httputil.RespondWithError(c, apperrors.Unauthorized("missing authorization header", nil))
		c.Abort()
		return nil
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		httputil.RespondWithError(c, apperrors.Unauthorized("invalid authorization format", nil))
		c.Abort()
		return nil
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		httputil.RespondWithError(c, apperrors.Unauthorized("invalid token", err))
		c.Abort()
		return nil
	}
	return claims
}

// RequirePatient resolves the session subject to a known patient and sets
// their ID in context.
func (m *AuthMiddleware) RequirePatient() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := m.parseClaims(c)
		if claims == nil {
			return
		}
		if claims.Typ != "patient" {
			httputil.RespondWithError(c, apperrors.Forbidden("patient session required", nil))
			c.Abort()
			return
		}

		patient, err := m.identity.ResolvePatientSubject(c.Request.Context(), claims.Subject)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Forbidden("unknown patient", err))
			c.Abort()
			return
		}

		c.Set(ContextPatientID, patient.ID.String())
		c.Next()
	}
}

// RequireClinician resolves the session subject to a known clinician and
// sets their ID in context.
func (m *AuthMiddleware) RequireClinician() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := m.parseClaims(c)
		if claims == nil {
			return
		}
		if claims.Typ != "clinician" {
			httputil.RespondWithError(c, apperrors.Forbidden("clinician session required", nil))
			c.Abort()
			return
		}

		clinician, err := m.identity.ResolveClinicianSubject(c.Request.Context(), claims.Subject)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Forbidden("unknown clinician", err))
			c.Abort()
			return
		}

		c.Set(ContextClinicianID, clinician.ID.String())
		c.Next()
	}
}
