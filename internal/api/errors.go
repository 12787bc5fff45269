package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexasecurity/nexasec/internal/auth"
	"github.com/nexasecurity/nexasec/internal/data/db"
	"github.com/nexasecurity/nexasec/internal/log"
	"github.com/nexasecurity/nexasec/internal/orchestrator"
	"github.com/nexasecurity/nexasec/internal/report"
)

var (
	errBadRequest    = errors.New("malformed request")
	errInvalidQuery  = errors.New("invalid request")
	errUnauthorized  = errors.New("authentication required")
	errRateLimited   = errors.New("rate limit exceeded")
	errInternal      = errors.New("internal server error")
	errNotFoundRoute = errors.New("not found")
)

// statusFor maps an error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrValidation),
		errors.Is(err, errInvalidQuery),
		errors.Is(err, report.ErrUnsupportedFormat),
		errors.Is(err, report.ErrInvalidRequest),
		errors.Is(err, report.ErrInvalidTemplate),
		errors.Is(err, auth.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrQuotaExceeded),
		errors.Is(err, orchestrator.ErrConcurrencyLimitExceeded),
		errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrNotFound),
		errors.Is(err, report.ErrNotFound),
		errors.Is(err, db.ErrNotFound),
		errors.Is(err, errNotFoundRoute):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, report.ErrSourceNotReady),
		errors.Is(err, report.ErrNotGenerated),
		errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError aborts the request with a JSON error body. Internal errors are
// logged and hidden from the client.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger := log.NewLogger(c.Request.Context())
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = errInternal.Error()
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
