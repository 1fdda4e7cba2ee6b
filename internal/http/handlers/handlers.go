package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/safevisit/backend/internal/db"
	"github.com/safevisit/backend/internal/geocode"
	"github.com/safevisit/backend/internal/http/middleware"
	"github.com/safevisit/backend/internal/lifecycle"
	"github.com/safevisit/backend/internal/session"
)

type Handler struct {
	Store     db.Gateway
	Sessions  *session.Registry
	Drafts    *session.Drafts
	Geocoder  geocode.Geocoder
	Validator *validator.Validate
	Logger    zerolog.Logger
	// Timeout bounds direct gateway calls made by handlers.
	Timeout        time.Duration
	CountryDefault string
}

func (h *Handler) call(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.Timeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.Timeout)
	}
	return context.WithCancel(c.Request.Context())
}

// session resolves the caller's lifecycle manager, writing the error response itself on failure.
func (h *Handler) session(c *gin.Context) (*lifecycle.Manager, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "Sign in required", nil)
		return nil, false
	}
	m, err := h.Sessions.Session(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to open session")
		return nil, false
	}
	return m, true
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
		return false
	}
	if h.Validator != nil {
		if err := h.Validator.Struct(dst); err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed", err.Error())
			return false
		}
	}
	return true
}

// fail maps domain and gateway errors onto the API error envelope.
func (h *Handler) fail(c *gin.Context, err error, message string) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, lifecycle.ErrNoIdentity):
		status, code = http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, lifecycle.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		status, code = http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, lifecycle.ErrNoActiveRequest):
		status, code = http.StatusConflict, "NO_ACTIVE_REQUEST"
	case errors.Is(err, lifecycle.ErrClosed):
		status, code = http.StatusConflict, "SESSION_CLOSED"
	case errors.Is(err, db.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, db.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, db.ErrPrecondition):
		status, code = http.StatusUnprocessableEntity, "PRECONDITION_FAILED"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "TIMEOUT"
	}
	if status >= 500 {
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg(message)
	}
	writeError(c, status, code, message, err.Error())
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
