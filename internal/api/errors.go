package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"studyhub/internal/auth"
	"studyhub/internal/objectstore"
	"studyhub/internal/service/account"
	"studyhub/internal/service/attachment"
	"studyhub/internal/service/extraction"
	"studyhub/internal/service/persona"
)

// statusFor maps service errors onto HTTP statuses. Anything unrecognised is a 500 whose
// details stay in the log.
func statusFor(err error) (int, string) {
	var upstream *extraction.UpstreamError
	switch {
	case errors.Is(err, persona.ErrDisabled),
		errors.Is(err, attachment.ErrForbidden),
		errors.Is(err, objectstore.ErrBadSignature),
		errors.Is(err, objectstore.ErrURLExpired),
		errors.Is(err, objectstore.ErrInvalidPath):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, persona.ErrMissingToken),
		errors.Is(err, extraction.ErrInvalidInput),
		errors.Is(err, attachment.ErrUnsupportedType),
		errors.Is(err, attachment.ErrTooLarge),
		errors.Is(err, attachment.ErrEmptyFile),
		errors.Is(err, auth.ErrUnsafeRedirect):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, persona.ErrInvalidToken),
		errors.Is(err, persona.ErrExpired),
		errors.Is(err, persona.ErrAlreadyUsed),
		errors.Is(err, auth.ErrInvalidLink),
		errors.Is(err, auth.ErrLinkExpired),
		errors.Is(err, auth.ErrLinkUsed),
		errors.Is(err, account.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, attachment.ErrNotFound),
		errors.Is(err, objectstore.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, extraction.ErrRateLimited),
		errors.Is(err, extraction.ErrBusy):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, extraction.ErrNotConfigured):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &upstream),
		errors.Is(err, extraction.ErrUnparseableResponse):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, persona.ErrUserNotFound):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}
