// Package trading runs one trader session on top of the bridge and exposes it
// as a blocking, context-aware service.
package trading

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

const source = "trading"

// Config holds the session credentials and service limits.
type Config struct {
	FrontAddress    string
	FlowPath        string
	BrokerID        string
	UserID          string
	Password        string
	InvestorID      string
	AuthCode        string
	UserProductInfo string
	AutoLogin       bool

	OrderRate      float64 // orders per second
	OrderBurst     int
	QueryRate      float64 // queries per second
	RequestTimeout time.Duration
	Breaker        BreakerSettings
	Relogin        RetryConfig
}

// ConfigFrom maps application configuration onto the service config.
func ConfigFrom(cfg *config.Config) Config {
	relogin := DefaultRetryConfig()
	relogin.MaxRetries = cfg.Trading.Relogin.MaxRetries
	relogin.InitialBackoff = cfg.Trading.Relogin.InitialBackoff
	relogin.MaxBackoff = cfg.Trading.Relogin.MaxBackoff

	return Config{
		FrontAddress:    cfg.Femas.FrontAddress,
		FlowPath:        cfg.Femas.FlowPath,
		BrokerID:        cfg.Femas.BrokerID,
		UserID:          cfg.Femas.UserID,
		Password:        cfg.Femas.Password,
		InvestorID:      cfg.Femas.InvestorOrUser(),
		AuthCode:        cfg.Femas.AuthCode,
		UserProductInfo: cfg.Femas.UserProductInfo,
		AutoLogin:       cfg.Femas.AutoLogin,
		OrderRate:       cfg.Trading.OrderRate,
		OrderBurst:      cfg.Trading.OrderBurst,
		QueryRate:       cfg.Trading.QueryRate,
		RequestTimeout:  cfg.Trading.RequestTimeout,
		Breaker: BreakerSettings{
			MaxFailures: cfg.Trading.Breaker.MaxFailures,
			Interval:    cfg.Trading.Breaker.Interval,
			Timeout:     cfg.Trading.Breaker.Timeout,
		},
		Relogin: relogin,
	}
}

func (c Config) withDefaults() Config {
	if c.OrderRate <= 0 {
		c.OrderRate = 10
	}
	if c.OrderBurst < 1 {
		c.OrderBurst = 1
	}
	if c.QueryRate <= 0 {
		c.QueryRate = 1
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.InvestorID == "" {
		c.InvestorID = c.UserID
	}
	return c
}

// Journal persists order and trade returns.
type Journal interface {
	SaveOrder(ctx context.Context, tradingDay string, o bridge.Order) error
	SaveTrade(ctx context.Context, tradingDay string, t bridge.Trade) error
}

// Status is a snapshot of the session state.
type Status struct {
	Handle           int64  `json:"handle"`
	Connected        bool   `json:"connected"`
	LoggedIn         bool   `json:"loggedIn"`
	TradingDay       string `json:"tradingDay,omitempty"`
	LoginTime        string `json:"loginTime,omitempty"`
	FrontID          int    `json:"frontId,omitempty"`
	SessionID        int    `json:"sessionId,omitempty"`
	BrokerID         string `json:"brokerId"`
	UserID           string `json:"userId"`
	InvestorID       string `json:"investorId"`
	DisconnectReason int    `json:"disconnectReason,omitempty"`
	Orders           int    `json:"orders"`
	Trades           int    `json:"trades"`
	BreakerState     string `json:"breakerState"`
}

// Service owns one trader session.
type Service struct {
	cfg       Config
	client    *bridge.TraderClient
	publisher events.Publisher
	journal   Journal
	log       zerolog.Logger

	orderLimiter *rate.Limiter
	queryLimiter *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	orderRef     atomic.Int64

	mu               sync.RWMutex
	started          bool
	connected        bool
	loggedIn         bool
	wantLogin        bool
	tradingDay       string
	loginTime        string
	frontID          int
	sessionID        int
	investorID       string
	disconnectReason int
	loginWaiters     []chan error
	logoutWaiters    []chan error
	orders           map[string]*bridge.Order
	orderSeq         []string
	trades           []bridge.Trade
	inserts          map[string]chan error
	actions          map[string]chan error

	qmu     sync.Mutex
	queries map[int]*pendingQuery

	journalCh     chan func(context.Context)
	journalClosed bool
	ctx           context.Context
	cancel        context.CancelFunc
	joined        chan struct{}
	wg            sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes session, order and trade events to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithJournal persists order and trade returns to j.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// New creates a service whose session lives on b.
func New(cfg Config, b *bridge.TraderBridge, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:          cfg,
		publisher:    events.Nop{},
		log:          config.NewLogger("trading"),
		orderLimiter: rate.NewLimiter(rate.Limit(cfg.OrderRate), cfg.OrderBurst),
		queryLimiter: rate.NewLimiter(rate.Limit(cfg.QueryRate), 1),
		breaker:      newOrderBreaker(cfg.Breaker),
		investorID:   cfg.InvestorID,
		orders:       make(map[string]*bridge.Order),
		inserts:      make(map[string]chan error),
		actions:      make(map[string]chan error),
		queries:      make(map[int]*pendingQuery),
		ctx:          ctx,
		cancel:       cancel,
		joined:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Order refs only need to grow across restarts within a trading day.
	s.orderRef.Store(int64(time.Now().Unix() % 1_000_000 * 1000))
	s.client = bridge.NewTraderClient(b, &sink{s: s})
	return s
}

// Start creates the vendor session, registers the front and starts it. The
// session's Join runs on its own goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if !s.client.CreateTraderAPI(s.cfg.FlowPath) {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("failed to create trader session with flow path %s", s.cfg.FlowPath)
	}

	if s.journal != nil {
		s.journalCh = make(chan func(context.Context), 256)
		s.wg.Add(1)
		go s.runJournal()
	}

	s.client.RegisterFront(s.cfg.FrontAddress)
	s.client.Init()

	go func() {
		defer close(s.joined)
		rc := s.client.Join()
		s.log.Info().Int("rc", rc).Msg("Trader session ended")
	}()

	s.log.Info().
		Int64("handle", int64(s.client.Handle())).
		Str("front", s.cfg.FrontAddress).
		Str("flow_path", s.cfg.FlowPath).
		Msg("Trading service started")
	return nil
}

// Stop logs out when logged in, releases the session and waits for the
// session to end or ctx to expire. A stopped service cannot be restarted.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.RLock()
	started, loggedIn := s.started, s.loggedIn
	s.mu.RUnlock()
	if !started {
		return nil
	}

	s.cancel()
	if loggedIn {
		logoutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := s.Logout(logoutCtx); err != nil {
			s.log.Warn().Err(err).Msg("Logout during shutdown failed")
		}
		cancel()
	}

	s.client.Release()
	s.failPending(ErrNotConnected)

	var err error
	select {
	case <-s.joined:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for trader session: %w", ctx.Err())
	}

	s.mu.Lock()
	if s.journalCh != nil && !s.journalClosed {
		s.journalClosed = true
		close(s.journalCh)
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	s.connected, s.loggedIn = false, false
	s.mu.Unlock()
	metrics.SetSessionState(metrics.BridgeTrader, "connected", false)
	metrics.SetSessionState(metrics.BridgeTrader, "logged_in", false)

	s.log.Info().Msg("Trading service stopped")
	return err
}

// Status returns the current session state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Handle:           int64(s.client.Handle()),
		Connected:        s.connected,
		LoggedIn:         s.loggedIn,
		TradingDay:       s.tradingDay,
		LoginTime:        s.loginTime,
		FrontID:          s.frontID,
		SessionID:        s.sessionID,
		BrokerID:         s.cfg.BrokerID,
		UserID:           s.cfg.UserID,
		InvestorID:       s.investorID,
		DisconnectReason: s.disconnectReason,
		Orders:           len(s.orders),
		Trades:           len(s.trades),
		BreakerState:     s.breaker.State().String(),
	}
}

// InvestorID returns the investor used for orders and queries.
func (s *Service) InvestorID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.investorID
}

// SetInvestorID changes the investor used by subsequent orders and queries.
func (s *Service) SetInvestorID(id string) error {
	if id == "" {
		return fmt.Errorf("investor id must not be empty")
	}
	s.mu.Lock()
	old := s.investorID
	s.investorID = id
	s.mu.Unlock()
	s.log.Info().Str("from", old).Str("to", id).Msg("Investor id changed")
	return nil
}

// Login authenticates and logs in, returning when the front answers or ctx
// ends. Concurrent calls share one vendor round trip.
func (s *Service) Login(ctx context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	ch := make(chan error, 1)
	first := len(s.loginWaiters) == 0
	s.loginWaiters = append(s.loginWaiters, ch)
	s.mu.Unlock()

	if first {
		id := s.client.ReqAuthenticate(s.cfg.BrokerID, s.cfg.UserID, s.cfg.UserProductInfo, s.cfg.AuthCode)
		if id < 0 {
			s.completeLogin(ErrSendFailed)
		} else {
			s.log.Debug().Int("request_id", id).Msg("Authentication requested")
		}
	}

	return s.await(ctx, ch, func() { s.dropWaiter(&s.loginWaiters, ch) })
}

// Logout ends the vendor login. Automatic re-login stops until the next Login.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	s.wantLogin = false
	ch := make(chan error, 1)
	first := len(s.logoutWaiters) == 0
	s.logoutWaiters = append(s.logoutWaiters, ch)
	s.mu.Unlock()

	if first {
		if id := s.client.ReqUserLogout(s.cfg.BrokerID, s.cfg.UserID); id < 0 {
			s.completeLogout(ErrSendFailed)
		}
	}

	return s.await(ctx, ch, func() { s.dropWaiter(&s.logoutWaiters, ch) })
}

// await waits for ch, bounded by ctx and the request timeout. abandon runs
// when the wait gives up.
func (s *Service) await(ctx context.Context, ch <-chan error, abandon func()) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	}
}

func (s *Service) dropWaiter(list *[]chan error, ch chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range *list {
		if w == ch {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

func (s *Service) completeLogin(err error) {
	s.mu.Lock()
	waiters := s.loginWaiters
	s.loginWaiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		w <- err
	}
}

func (s *Service) completeLogout(err error) {
	s.mu.Lock()
	waiters := s.logoutWaiters
	s.logoutWaiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		w <- err
	}
}

// failPending completes every outstanding request with err.
func (s *Service) failPending(err error) {
	s.completeLogin(err)
	s.completeLogout(err)

	s.mu.Lock()
	inserts, actions := s.inserts, s.actions
	s.inserts = make(map[string]chan error)
	s.actions = make(map[string]chan error)
	s.mu.Unlock()
	for _, ch := range inserts {
		ch <- err
	}
	for _, ch := range actions {
		ch <- err
	}

	s.qmu.Lock()
	queries := s.queries
	s.queries = make(map[int]*pendingQuery)
	s.qmu.Unlock()
	for _, q := range queries {
		q.finish(err)
	}
}

func (s *Service) requireLogin() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	if !s.loggedIn {
		return ErrNotLoggedIn
	}
	return nil
}

// relogin logs in again after a reconnect, backing off on transient errors.
func (s *Service) relogin() {
	err := WithRetry(s.ctx, s.cfg.Relogin, func(ctx context.Context) error {
		return s.Login(ctx)
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Automatic login failed")
		return
	}
	s.log.Info().Msg("Automatic login succeeded")
}

func (s *Service) publish(topic string, success bool, message string, data any) {
	ev, err := events.NewEvent(topic, source, success, message, data)
	if err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("Failed to build event")
		return
	}
	if err := s.publisher.Publish(context.Background(), ev); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish event")
	}
}

// runJournal writes journal entries in order off the vendor goroutines.
func (s *Service) runJournal() {
	defer s.wg.Done()
	for write := range s.journalCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		write(ctx)
		cancel()
	}
}

func (s *Service) enqueueJournal(write func(context.Context)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journalCh == nil || s.journalClosed {
		return
	}
	select {
	case s.journalCh <- write:
	default:
		s.log.Warn().Msg("Journal queue full, entry dropped")
	}
}
