package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/femasgate/internal/audit"
)

// AuditLog records control actions and lists them back.
type AuditLog interface {
	Log(ctx context.Context, event *audit.Event) error
	Query(ctx context.Context, filters audit.QueryFilters) ([]audit.Event, error)
}

// Context keys handlers use to annotate the audit event of a request.
const (
	auditResourceKey = "audit_resource"
	auditErrorKey    = "audit_error"
	auditMetaKey     = "audit_metadata"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// auditedRoutes maps "METHOD route" to the event it records.
var auditedRoutes = map[string]audit.EventType{
	"POST /api/trading/login":           audit.EventTypeLogin,
	"POST /api/trading/logout":          audit.EventTypeLogout,
	"POST /api/trading/order":           audit.EventTypeOrderPlaced,
	"POST /api/trading/cancel":          audit.EventTypeOrderCanceled,
	"POST /api/trading/config/investor": audit.EventTypeConfigUpdated,
	"POST /api/market/login":            audit.EventTypeMdLogin,
	"POST /api/market/logout":           audit.EventTypeMdLogout,
	"POST /api/market/subscribe":        audit.EventTypeSubscribe,
	"POST /api/market/unsubscribe":      audit.EventTypeUnsubscribe,
	"POST /api/auth/login":              audit.EventTypeUserLogin,
	"POST /api/auth/logout":             audit.EventTypeUserLogout,
}

// auditEventType returns the event recorded for a finished request. Rejected
// input, refused API keys and throttled orders are recorded as security
// events.
func auditEventType(method, route string, status int) (audit.EventType, bool) {
	t, ok := auditedRoutes[method+" "+route]
	if !ok {
		return "", false
	}
	login := t == audit.EventTypeLogin || t == audit.EventTypeUserLogin
	switch {
	case status == http.StatusTooManyRequests:
		return audit.EventTypeRateLimitExceeded, true
	case status == http.StatusBadRequest:
		return audit.EventTypeInvalidInput, true
	case login && status >= http.StatusBadRequest:
		return audit.EventTypeLoginFailed, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return audit.EventTypeUnauthorizedAccess, true
	}
	return t, true
}

// AuditMiddleware records one audit event per audited control request.
func (s *Server) AuditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		eventType, ok := auditEventType(c.Request.Method, c.FullPath(), status)
		if !ok {
			return
		}

		event := &audit.Event{
			EventType: eventType,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Resource:  c.GetString(auditResourceKey),
			Action:    c.Request.Method + " " + c.FullPath(),
			Success:   status < http.StatusBadRequest,
			ErrorMsg:  c.GetString(auditErrorKey),
			RequestID: c.GetHeader("X-Request-ID"),
			Duration:  time.Since(start).Milliseconds(),
		}
		switch {
		case c.GetString(ctxUserID) != "":
			event.UserID = c.GetString(ctxUserID)
		case s.trading != nil:
			event.UserID = s.trading.Status().UserID
		}

		if meta, exists := c.Get(auditMetaKey); exists {
			event.Metadata, _ = meta.(map[string]any)
		}
		if keyID := c.GetString(ctxAPIKeyID); keyID != "" {
			if event.Metadata == nil {
				event.Metadata = make(map[string]any)
			}
			event.Metadata["apiKeyId"] = keyID
		}
		switch {
		case status >= http.StatusInternalServerError:
			event.Severity = audit.SeverityError
		case eventType == audit.EventTypeUnauthorizedAccess:
			event.Severity = audit.SeverityWarning
		}

		// The request context may already be canceled once the reply is written.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
		defer cancel()
		if err := s.audit.Log(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to record audit event")
		}
	}
}

// handleAuditEvents lists recorded control actions, newest first.
func (s *Server) handleAuditEvents(c *gin.Context) {
	filters := audit.QueryFilters{
		EventType: audit.EventType(c.Query("type")),
		UserID:    c.Query("userId"),
		IPAddress: c.Query("ip"),
		Limit:     defaultAuditLimit,
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		filters.Limit = min(n, maxAuditLimit)
	}
	if v := c.Query("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(c, fmt.Errorf("%w: success must be true or false", errBadRequest))
			return
		}
		filters.Success = &b
	}
	for key, dst := range map[string]*time.Time{"since": &filters.StartTime, "until": &filters.EndTime} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, fmt.Errorf("%w: %s must be RFC3339", errBadRequest, key))
			return
		}
		*dst = t
	}

	events, err := s.audit.Query(c.Request.Context(), filters)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "audit events", events)
}

// annotate sets the audited resource of the request.
func annotate(c *gin.Context, resource string, metadata map[string]any) {
	c.Set(auditResourceKey, resource)
	if metadata != nil {
		c.Set(auditMetaKey, metadata)
	}
}
