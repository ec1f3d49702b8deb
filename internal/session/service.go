// Package session manages front-end user sessions and the market topics each
// session subscribed to. Sessions are separate from the vendor trader login.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// Permissions granted to every session.
const (
	PermissionMarketData = "MARKET_DATA"
	PermissionBasicQuery = "BASIC_QUERY"
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotFound           = errors.New("session not found")
	ErrExpired            = errors.New("session expired")
)

// Session is a snapshot of one user session.
type Session struct {
	ID          string    `json:"sessionId"`
	Username    string    `json:"username"`
	ClientID    string    `json:"clientId"`
	LoginTime   time.Time `json:"loginTime"`
	LastActive  time.Time `json:"lastActiveTime"`
	Active      bool      `json:"isActive"`
	Exchanges   []string  `json:"subscribedExchanges"`
	Instruments []string  `json:"subscribedInstruments"`
	Permissions []string  `json:"permissions"`
}

// Topics returns the event topics the session receives market data on.
func (s Session) Topics() []string {
	out := make([]string, 0, len(s.Exchanges)+len(s.Instruments))
	for _, ex := range s.Exchanges {
		out = append(out, events.ExchangeTopic(ex))
	}
	for _, id := range s.Instruments {
		out = append(out, events.MarketTopic(id))
	}
	return out
}

// Stats summarizes open sessions.
type Stats struct {
	TotalSessions           int            `json:"totalSessions"`
	ActiveSessions          int            `json:"activeSessions"`
	UniqueUsers             int            `json:"uniqueUsers"`
	ConnectedClients        int            `json:"connectedClients"`
	ExchangeSubscriptions   map[string]int `json:"exchangeSubscriptions"`
	InstrumentSubscriptions map[string]int `json:"instrumentSubscriptions"`
}

// Listener is told when the topics of a session change and when a session
// ends by logout or expiry. Calls are made without internal locks held.
type Listener interface {
	TopicsChanged(sessionID string, topics []string)
	Ended(sessionID string)
}

// Config contains session settings.
type Config struct {
	Timeout         time.Duration
	CleanupInterval time.Duration
	Users           map[string]string // username -> password
}

// ConfigFrom maps application configuration onto the session config.
func ConfigFrom(cfg *config.Config) Config {
	users := make(map[string]string, len(cfg.API.Sessions.Users))
	for _, u := range cfg.API.Sessions.Users {
		users[strings.TrimSpace(u.Username)] = u.Password
	}
	return Config{
		Timeout:         cfg.API.Sessions.Timeout,
		CleanupInterval: cfg.API.Sessions.CleanupInterval,
		Users:           users,
	}
}

type entry struct {
	id          string
	username    string
	clientID    string
	loginTime   time.Time
	lastActive  time.Time
	active      bool
	exchanges   []string
	instruments []string
	permissions []string
}

func (e *entry) snapshot() Session {
	return Session{
		ID:          e.id,
		Username:    e.username,
		ClientID:    e.clientID,
		LoginTime:   e.loginTime,
		LastActive:  e.lastActive,
		Active:      e.active,
		Exchanges:   append([]string{}, e.exchanges...),
		Instruments: append([]string{}, e.instruments...),
		Permissions: append([]string{}, e.permissions...),
	}
}

// Service holds user sessions in memory.
type Service struct {
	cfg      Config
	listener Listener
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
	byUser   map[string]map[string]struct{}
	byClient map[string]string
}

// Option configures a Service.
type Option func(*Service)

// WithListener reports topic changes and ended sessions to l.
func WithListener(l Listener) Option {
	return func(s *Service) { s.listener = l }
}

// New creates a session service. Zero durations fall back to 30 minute
// sessions swept every 5 minutes.
func New(cfg Config, opts ...Option) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	s := &Service{
		cfg:      cfg,
		now:      time.Now,
		log:      config.NewLogger("session"),
		sessions: make(map[string]*entry),
		byUser:   make(map[string]map[string]struct{}),
		byClient: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login checks the credentials and opens a session. An empty clientID gets a
// generated one. A client holds at most one session, so logging in again
// from the same client ends its previous session.
func (s *Service) Login(username, password, clientID string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return Session{}, ErrMissingCredentials
	}
	want, known := s.cfg.Users[username]
	if !known || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		s.log.Warn().Str("username", username).Msg("User login rejected")
		return Session{}, ErrInvalidCredentials
	}

	now := s.now()
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = fmt.Sprintf("WEB_%d", now.UnixMilli())
	}
	e := &entry{
		id:          uuid.NewString(),
		username:    username,
		clientID:    clientID,
		loginTime:   now,
		lastActive:  now,
		active:      true,
		permissions: []string{PermissionMarketData, PermissionBasicQuery},
	}

	s.mu.Lock()
	previous, replaced := s.byClient[clientID]
	if replaced {
		s.removeLocked(previous)
	}
	s.sessions[e.id] = e
	if s.byUser[username] == nil {
		s.byUser[username] = make(map[string]struct{})
	}
	s.byUser[username][e.id] = struct{}{}
	s.byClient[clientID] = e.id
	n := len(s.sessions)
	snap := e.snapshot()
	s.mu.Unlock()

	metrics.UserSessions.Set(float64(n))
	if replaced {
		s.ended(previous)
	}
	s.log.Info().Str("session_id", e.id).Str("username", username).Str("client_id", clientID).Msg("User session opened")
	return snap, nil
}

// Logout ends a session.
func (s *Service) Logout(sessionID string) error {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	if ok {
		s.removeLocked(sessionID)
	}
	n := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	metrics.UserSessions.Set(float64(n))
	s.ended(sessionID)
	s.log.Info().Str("session_id", sessionID).Msg("User session closed")
	return nil
}

// LogoutClient ends the session held by a client.
func (s *Service) LogoutClient(clientID string) error {
	s.mu.RLock()
	id, ok := s.byClient[clientID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return s.Logout(id)
}

// Get returns a session and marks it active now.
func (s *Service) Get(sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	e.lastActive = s.now()
	return e.snapshot(), nil
}

// Validate returns a session that is active and not expired, and marks it
// active now. An expired session is ended.
func (s *Service) Validate(sessionID string) (Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}
	now := s.now()
	if s.expired(e, now) || !e.active {
		s.removeLocked(sessionID)
		n := len(s.sessions)
		s.mu.Unlock()
		metrics.UserSessions.Set(float64(n))
		s.ended(sessionID)
		return Session{}, ErrExpired
	}
	e.lastActive = now
	snap := e.snapshot()
	s.mu.Unlock()
	return snap, nil
}

// Topics validates a session and returns its market topics.
func (s *Service) Topics(sessionID string) ([]string, error) {
	sess, err := s.Validate(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Topics(), nil
}

// UpdateSubscription replaces the exchanges and instruments of a valid
// session. Exchanges are upper-cased and instrument ids cut to the vendor
// field width.
func (s *Service) UpdateSubscription(sessionID string, exchanges, instruments []string) (Session, error) {
	if _, err := s.Validate(sessionID); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}
	e.exchanges = normalize(exchanges, strings.ToUpper)
	e.instruments = normalize(instruments, bridge.TruncateInstrumentID)
	e.lastActive = s.now()
	snap := e.snapshot()
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.TopicsChanged(sessionID, snap.Topics())
	}
	s.log.Info().
		Str("session_id", sessionID).
		Strs("exchanges", snap.Exchanges).
		Strs("instruments", snap.Instruments).
		Msg("User subscription updated")
	return snap, nil
}

// Active returns the open sessions ordered by login time.
func (s *Service) Active() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		if e.active {
			out = append(out, e.snapshot())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LoginTime.Equal(out[j].LoginTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].LoginTime.Before(out[j].LoginTime)
	})
	return out
}

// ByInstrument returns the open sessions subscribed to an instrument.
func (s *Service) ByInstrument(instrumentID string) []Session {
	var out []Session
	for _, sess := range s.Active() {
		for _, id := range sess.Instruments {
			if id == instrumentID {
				out = append(out, sess)
				break
			}
		}
	}
	return out
}

// Stats returns session counts and subscription counts per exchange and
// instrument.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		TotalSessions:           len(s.sessions),
		UniqueUsers:             len(s.byUser),
		ConnectedClients:        len(s.byClient),
		ExchangeSubscriptions:   make(map[string]int),
		InstrumentSubscriptions: make(map[string]int),
	}
	for _, e := range s.sessions {
		if !e.active {
			continue
		}
		st.ActiveSessions++
		for _, ex := range e.exchanges {
			st.ExchangeSubscriptions[ex]++
		}
		for _, id := range e.instruments {
			st.InstrumentSubscriptions[id]++
		}
	}
	return st
}

// Cleanup ends every expired session and returns how many it ended.
func (s *Service) Cleanup() int {
	now := s.now()
	s.mu.Lock()
	var expired []string
	for id, e := range s.sessions {
		if s.expired(e, now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.removeLocked(id)
	}
	n := len(s.sessions)
	s.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	metrics.UserSessions.Set(float64(n))
	for _, id := range expired {
		s.ended(id)
	}
	s.log.Info().Int("expired", len(expired)).Msg("Cleaned up expired user sessions")
	return len(expired)
}

// Run sweeps expired sessions until ctx ends.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

func (s *Service) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastActive) > s.cfg.Timeout
}

// removeLocked drops a session from every index. Callers hold mu.
func (s *Service) removeLocked(id string) {
	e, ok := s.sessions[id]
	if !ok {
		return
	}
	e.active = false
	delete(s.sessions, id)
	if ids := s.byUser[e.username]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byUser, e.username)
		}
	}
	if s.byClient[e.clientID] == id {
		delete(s.byClient, e.clientID)
	}
}

func (s *Service) ended(id string) {
	if s.listener != nil {
		s.listener.Ended(id)
	}
}

// normalize trims, maps, drops empties and dedupes, keeping first-seen order.
func normalize(in []string, mapFn func(string) string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = mapFn(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
