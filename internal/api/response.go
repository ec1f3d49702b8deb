package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/femasgate/internal/market"
	"github.com/ajitpratap0/femasgate/internal/session"
	"github.com/ajitpratap0/femasgate/internal/trading"
)

// Response is the envelope of every REST reply. Code is the HTTP status, or
// the vendor error id when the front rejected the request.
type Response struct {
	Success   bool   `json:"success"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

var errBadRequest = errors.New("bad request")

func respond(c *gin.Context, status int, resp Response) {
	resp.Timestamp = time.Now().UnixMilli()
	c.JSON(status, resp)
}

func ok(c *gin.Context, message string, data any) {
	respond(c, http.StatusOK, Response{
		Success: true,
		Code:    http.StatusOK,
		Message: message,
		Data:    data,
	})
}

// fail writes err with the status derived from its kind.
func fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.Set(auditErrorKey, err.Error())
	respond(c, status, Response{
		Success: false,
		Code:    code,
		Message: err.Error(),
	})
}

func classify(err error) (status, code int) {
	var ve *trading.VendorError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, ve.ID
	case errors.Is(err, errBadRequest),
		errors.Is(err, trading.ErrInvalidOrder),
		errors.Is(err, market.ErrNoInstruments),
		errors.Is(err, session.ErrMissingCredentials):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidCredentials), errors.Is(err, session.ErrExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, trading.ErrOrderNotFound), errors.Is(err, trading.ErrNoData):
		status = http.StatusNotFound
	case errors.Is(err, trading.ErrThrottled):
		status = http.StatusTooManyRequests
	case errors.Is(err, trading.ErrNotConnected),
		errors.Is(err, trading.ErrNotLoggedIn),
		errors.Is(err, trading.ErrNotStarted),
		errors.Is(err, trading.ErrBreakerOpen),
		errors.Is(err, errJournalDisabled),
		errors.Is(err, ErrHubClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, trading.ErrSendFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}
	return status, status
}
