package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"go.uber.org/zap"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = apperr.New(apperr.KindInvalidArgument, "invalid_request")
	ErrInvalidID      = apperr.New(apperr.KindInvalidArgument, "invalid_id")
	ErrRouteNotFound  = apperr.New(apperr.KindNotFound, "route_not_found")
)

// ErrorHandlingMiddleware renders the last handler error as JSON.
func ErrorHandlingMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status >= http.StatusInternalServerError && log != nil {
			ctxlogger.WithContext(c.Request.Context(), log).Error("request failed",
				zap.String("route", c.FullPath()),
				zap.Error(lastErr.Err),
			)
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError(format string, args ...any) error {
	return ErrInvalidRequest.WithMessage(format, args...)
}

func mapError(err error) (int, errorPayload) {
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind == apperr.KindInternal {
		return http.StatusInternalServerError, errorPayload{
			Type:    string(apperr.KindInternal),
			Code:    apperr.ErrInternal.Code,
			Message: "internal server error",
		}
	}

	payload := errorPayload{
		Type:    string(appErr.Kind),
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}
	if errors.Is(err, timeentrydomain.ErrClockEventThrottle) {
		return http.StatusTooManyRequests, payload
	}
	return statusForKind(appErr.Kind), payload
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindFailedPrecondition:
		return http.StatusPreconditionFailed
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// classifyErrorForLog feeds the access log's error_type and error_code fields.
func classifyErrorForLog(err error) (string, string) {
	if appErr, ok := apperr.As(err); ok {
		return string(appErr.Kind), appErr.Code
	}
	return string(apperr.KindInternal), apperr.ErrInternal.Code
}
