package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/medgrant/portal-api/internal/model"
	apperrors "github.com/medgrant/portal-api/pkg/errors"
	"github.com/medgrant/portal-api/pkg/httputil"
)

// RespondDomainError maps the grant error taxonomy onto HTTP statuses.
// Callers never see raw storage errors.
func RespondDomainError(c *gin.Context, err error) {
	httputil.RespondWithError(c, classify(err))
}

func classify(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, model.ErrGrantNotFound):
		return apperrors.NotFound("grant", err)
	case errors.Is(err, model.ErrGrantExpired):
		return apperrors.Gone("grant expired", err)
	case errors.Is(err, model.ErrAlreadyClaimed):
		return apperrors.Conflict("grant already claimed by another clinician", err)
	case errors.Is(err, model.ErrForbidden):
		return apperrors.Forbidden("forbidden", err)
	case errors.Is(err, model.ErrIssuerNotFound):
		return apperrors.Forbidden("unknown patient", err)
	case errors.Is(err, model.ErrClaimantNotFound):
		return apperrors.Forbidden("unknown clinician", err)
	case errors.Is(err, model.ErrGenerationExhausted):
		return apperrors.Unavailable("could not produce a sharing code, try again", err)
	default:
		return apperrors.Internal(err)
	}
}
