// Package alerts notifies operators about session failures seen on the event
// stream: lost fronts, failed logins and rejected orders.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/femasgate/internal/events"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents an alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]any
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager manages multiple alert channels
type Manager struct {
	alerters []Alerter
}

// NewManager creates a new alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
	}
}

// Send sends an alert to all configured alerters and joins their errors.
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var errs []error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogAlerter logs alerts using zerolog
type LogAlerter struct{}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send sends an alert by logging it
func (l *LogAlerter) Send(_ context.Context, alert Alert) error {
	event := log.Info()
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	}

	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg("ALERT: " + alert.Message)
	return nil
}

// ErrQueueFull is returned by Publish when Run falls behind.
var ErrQueueFull = errors.New("alert queue full")

const queueSize = 64

// Sink turns failure events into alerts. It implements events.Publisher so it
// can be added to the gateway fanout; alerts are delivered by Run. Repeated
// alerts with the same title are limited to one per interval.
type Sink struct {
	manager  *Manager
	interval time.Duration
	burst    int
	queue    chan Alert

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	down     map[string]bool // event source -> front lost
}

// NewSink creates a sink delivering to manager. interval <= 0 disables
// suppression of repeated alerts.
func NewSink(manager *Manager, interval time.Duration, burst int) *Sink {
	if burst <= 0 {
		burst = 1
	}
	return &Sink{
		manager:  manager,
		interval: interval,
		burst:    burst,
		queue:    make(chan Alert, queueSize),
		limiters: make(map[string]*rate.Limiter),
		down:     make(map[string]bool),
	}
}

// Publish implements events.Publisher. It only queues the alert.
func (s *Sink) Publish(_ context.Context, ev events.Event) error {
	alert, ok := s.classify(ev)
	if !ok || !s.allow(alert.Title) {
		return nil
	}
	alert.Timestamp = ev.Timestamp
	select {
	case s.queue <- alert:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued alerts until ctx is done.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-s.queue:
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = s.manager.Send(sendCtx, alert)
			cancel()
		}
	}
}

func (s *Sink) classify(ev events.Event) (Alert, bool) {
	meta := map[string]any{"source": ev.Source}
	if len(ev.Data) > 0 {
		var data map[string]any
		if json.Unmarshal(ev.Data, &data) == nil {
			for k, v := range data {
				meta[k] = v
			}
		}
	}

	switch ev.Topic {
	case events.TopicConnection:
		s.mu.Lock()
		wasDown := s.down[ev.Source]
		s.down[ev.Source] = !ev.Success
		s.mu.Unlock()

		if !ev.Success {
			return Alert{Title: "Front Disconnected", Message: ev.Message, Severity: SeverityCritical, Metadata: meta}, true
		}
		if wasDown {
			return Alert{Title: "Front Reconnected", Message: ev.Message, Severity: SeverityInfo, Metadata: meta}, true
		}
	case events.TopicLogin:
		if !ev.Success && strings.Contains(ev.Message, "login failed") {
			return Alert{Title: "Login Failed", Message: ev.Message, Severity: SeverityCritical, Metadata: meta}, true
		}
	case events.TopicOrders:
		if !ev.Success {
			return Alert{Title: "Order Rejected", Message: ev.Message, Severity: SeverityWarning, Metadata: meta}, true
		}
	}
	return Alert{}, false
}

func (s *Sink) allow(title string) bool {
	if s.interval <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[title]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.interval), s.burst)
		s.limiters[title] = l
	}
	if !l.Allow() {
		log.Debug().Str("alert_title", title).Msg("Alert suppressed")
		return false
	}
	return true
}
