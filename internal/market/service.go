// Package market runs the market-data session, keeps the latest snapshot of
// every subscribed instrument and publishes ticks.
package market

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/metrics"
	"github.com/ajitpratap0/femasgate/internal/trading"
)

const source = "market"

// ErrNoInstruments is returned when a subscription lists no instrument.
var ErrNoInstruments = errors.New("no instruments given")

// Config holds the market session settings.
type Config struct {
	FrontAddress    string
	FlowPath        string
	BrokerID        string
	UserID          string
	Password        string
	Instruments     []string // subscribed after every login
	AutoLogin       bool
	RequestTimeout  time.Duration
	StaleAfter      time.Duration
	CleanupInterval time.Duration
	Relogin         trading.RetryConfig
}

// ConfigFrom maps application configuration onto the service config. The
// market session keeps its flow files in an md subdirectory.
func ConfigFrom(cfg *config.Config) Config {
	relogin := trading.DefaultRetryConfig()
	relogin.MaxRetries = cfg.Trading.Relogin.MaxRetries
	relogin.InitialBackoff = cfg.Trading.Relogin.InitialBackoff
	relogin.MaxBackoff = cfg.Trading.Relogin.MaxBackoff

	return Config{
		FrontAddress:    cfg.Femas.MdAddress,
		FlowPath:        filepath.Join(cfg.Femas.FlowPath, "md") + string(filepath.Separator),
		BrokerID:        cfg.Femas.BrokerID,
		UserID:          cfg.Femas.UserID,
		Password:        cfg.Femas.Password,
		Instruments:     cfg.Market.Instruments,
		AutoLogin:       cfg.Femas.AutoLogin,
		RequestTimeout:  cfg.Trading.RequestTimeout,
		StaleAfter:      cfg.Market.StaleAfter,
		CleanupInterval: cfg.Market.CleanupInterval,
		Relogin:         relogin,
	}
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Minute
	}
	return c
}

// Status is a snapshot of the market session state.
type Status struct {
	Handle        int64      `json:"handle"`
	Connected     bool       `json:"connected"`
	LoggedIn      bool       `json:"loggedIn"`
	TradingDay    string     `json:"tradingDay,omitempty"`
	LoginTime     string     `json:"loginTime,omitempty"`
	Subscriptions []string   `json:"subscriptions"`
	Cache         CacheStats `json:"cache"`
}

// batch is one outstanding subscribe or unsubscribe request. The vendor
// answers batches in the order they were sent.
type batch struct {
	ids  []string
	ch   chan error // nil for background resubscription
	err  error
	fail map[string]struct{}
}

// Service owns one market-data session.
type Service struct {
	cfg       Config
	client    *bridge.MarketClient
	cache     *SnapshotCache
	redis     *RedisSnapshotCache
	publisher events.Publisher
	log       zerolog.Logger

	mu            sync.RWMutex
	started       bool
	connected     bool
	loggedIn      bool
	wantLogin     bool
	tradingDay    string
	loginTime     string
	subscriptions map[string]struct{}
	loginWaiters  []chan error
	logoutWaiters []chan error

	// smu orders batch registration with the vendor call that sends it.
	smu     sync.Mutex
	subs    []*batch
	unsubs  []*batch
	redisCh chan Snapshot

	redisClosed bool
	ctx         context.Context
	cancel      context.CancelFunc
	joined      chan struct{}
	wg          sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes session events and ticks to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRedis mirrors snapshots into Redis.
func WithRedis(c *RedisSnapshotCache) Option {
	return func(s *Service) { s.redis = c }
}

// New creates a service whose session lives on b.
func New(cfg Config, b *bridge.MarketBridge, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:           cfg,
		cache:         NewSnapshotCache(cfg.StaleAfter),
		publisher:     events.Nop{},
		log:           config.NewLogger("market"),
		subscriptions: make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
		joined:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client = bridge.NewMarketClient(b, &sink{s: s})
	return s
}

// Start creates the market session, starts it and runs the cache cleanup
// loop.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if !s.client.CreateMarketAPI(s.cfg.FlowPath) {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("failed to create market session with flow path %s", s.cfg.FlowPath)
	}

	if s.redis != nil {
		s.redisCh = make(chan Snapshot, 1024)
		s.wg.Add(1)
		go s.runRedis()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cache.Run(s.ctx, s.cfg.CleanupInterval)
	}()

	s.client.RegisterFront(s.cfg.FrontAddress)
	s.client.Init()

	go func() {
		defer close(s.joined)
		rc := s.client.Join()
		s.log.Info().Int("rc", rc).Msg("Market session ended")
	}()

	s.log.Info().
		Int64("handle", int64(s.client.Handle())).
		Str("front", s.cfg.FrontAddress).
		Strs("instruments", s.cfg.Instruments).
		Msg("Market service started")
	return nil
}

// Stop logs out when logged in, releases the session and waits for it to
// end or ctx to expire. A stopped service cannot be restarted.
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
			s.log.Warn().Err(err).Msg("Market logout during shutdown failed")
		}
		cancel()
	}

	s.client.Release()
	s.failPending(trading.ErrNotConnected)

	var err error
	select {
	case <-s.joined:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for market session: %w", ctx.Err())
	}

	s.mu.Lock()
	if s.redisCh != nil && !s.redisClosed {
		s.redisClosed = true
		close(s.redisCh)
	}
	s.connected, s.loggedIn = false, false
	s.mu.Unlock()
	s.wg.Wait()

	metrics.SetSessionState(metrics.BridgeMarket, "connected", false)
	metrics.SetSessionState(metrics.BridgeMarket, "logged_in", false)
	s.log.Info().Msg("Market service stopped")
	return err
}

// Status returns the current session state.
func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{
		Handle:     int64(s.client.Handle()),
		Connected:  s.connected,
		LoggedIn:   s.loggedIn,
		TradingDay: s.tradingDay,
		LoginTime:  s.loginTime,
	}
	s.mu.RUnlock()
	st.Subscriptions = s.Subscriptions()
	st.Cache = s.cache.Stats()
	return st
}

// Subscriptions returns the subscribed instruments in order.
func (s *Service) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Cache returns the in-memory snapshot cache.
func (s *Service) Cache() *SnapshotCache { return s.cache }

// Snapshot returns the latest snapshot of an instrument, falling back to
// Redis when it is not in memory.
func (s *Service) Snapshot(ctx context.Context, instrumentID string) (Snapshot, bool) {
	if snap, ok := s.cache.Get(instrumentID); ok {
		return snap, true
	}
	return s.redis.Get(ctx, instrumentID)
}

// Login logs the market session in. Concurrent calls share one vendor round
// trip.
func (s *Service) Login(ctx context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return trading.ErrNotConnected
	}
	ch := make(chan error, 1)
	first := len(s.loginWaiters) == 0
	s.loginWaiters = append(s.loginWaiters, ch)
	s.mu.Unlock()

	if first {
		if id := s.client.ReqUserLogin(s.cfg.BrokerID, s.cfg.UserID, s.cfg.Password); id < 0 {
			s.complete(&s.loginWaiters, trading.ErrSendFailed)
		}
	}
	return s.await(ctx, ch, func() { s.dropWaiter(&s.loginWaiters, ch) })
}

// Logout ends the market login. Subscriptions are kept and restored by the
// next login.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		return trading.ErrNotLoggedIn
	}
	s.wantLogin = false
	ch := make(chan error, 1)
	first := len(s.logoutWaiters) == 0
	s.logoutWaiters = append(s.logoutWaiters, ch)
	s.mu.Unlock()

	if first {
		if id := s.client.ReqUserLogout(s.cfg.BrokerID, s.cfg.UserID); id < 0 {
			s.complete(&s.logoutWaiters, trading.ErrSendFailed)
		}
	}
	return s.await(ctx, ch, func() { s.dropWaiter(&s.logoutWaiters, ch) })
}

// Subscribe subscribes instruments and waits for the vendor to confirm them.
// Instruments the vendor rejects are not recorded.
func (s *Service) Subscribe(ctx context.Context, instrumentIDs []string) error {
	ids := normalizeIDs(instrumentIDs)
	if len(ids) == 0 {
		return ErrNoInstruments
	}
	ch, err := s.send(&s.subs, ids, true, s.client.SubscribeMarketData)
	if err != nil {
		return err
	}
	return s.await(ctx, ch, func() {})
}

// Unsubscribe unsubscribes instruments and waits for the vendor to confirm.
func (s *Service) Unsubscribe(ctx context.Context, instrumentIDs []string) error {
	ids := normalizeIDs(instrumentIDs)
	if len(ids) == 0 {
		return ErrNoInstruments
	}
	ch, err := s.send(&s.unsubs, ids, true, s.client.UnsubscribeMarketData)
	if err != nil {
		return err
	}
	return s.await(ctx, ch, func() {})
}

// send registers a batch and sends it while holding smu so batches queue in
// send order.
func (s *Service) send(queue *[]*batch, ids []string, wait bool, call func(ids ...string) int) (chan error, error) {
	s.mu.RLock()
	loggedIn := s.loggedIn
	s.mu.RUnlock()
	if !loggedIn {
		return nil, trading.ErrNotLoggedIn
	}

	b := &batch{ids: ids, fail: make(map[string]struct{})}
	if wait {
		b.ch = make(chan error, 1)
	}

	s.smu.Lock()
	defer s.smu.Unlock()
	*queue = append(*queue, b)
	if call(ids...) < 0 {
		*queue = (*queue)[:len(*queue)-1]
		return nil, trading.ErrSendFailed
	}
	return b.ch, nil
}

// frame records one subscribe or unsubscribe response frame and returns the
// batch it completed, if any.
func (s *Service) frame(queue *[]*batch, op, instrumentID string, errorID int, errorMsg string, isLast bool) *batch {
	s.smu.Lock()
	defer s.smu.Unlock()
	if len(*queue) == 0 {
		return nil
	}
	b := (*queue)[0]
	if errorID != 0 {
		b.fail[instrumentID] = struct{}{}
		if b.err == nil {
			b.err = &trading.VendorError{Op: op, ID: errorID, Msg: errorMsg}
		}
		metrics.RecordVendorError(errorMsg)
	}
	if !isLast {
		return nil
	}
	*queue = (*queue)[1:]
	return b
}

func (b *batch) accepted() []string {
	out := make([]string, 0, len(b.ids))
	for _, id := range b.ids {
		if _, failed := b.fail[id]; !failed {
			out = append(out, id)
		}
	}
	return out
}

func (b *batch) finish(err error) {
	if b.ch == nil {
		return
	}
	if err == nil {
		err = b.err
	}
	b.ch <- err
}

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

func (s *Service) complete(list *[]chan error, err error) {
	s.mu.Lock()
	waiters := *list
	*list = nil
	s.mu.Unlock()
	for _, w := range waiters {
		w <- err
	}
}

func (s *Service) failPending(err error) {
	s.complete(&s.loginWaiters, err)
	s.complete(&s.logoutWaiters, err)

	s.smu.Lock()
	pending := append(s.subs, s.unsubs...)
	s.subs, s.unsubs = nil, nil
	s.smu.Unlock()
	for _, b := range pending {
		b.finish(err)
	}
}

// resubscribe restores the subscription set after a login.
func (s *Service) resubscribe() {
	s.mu.RLock()
	want := make([]string, 0, len(s.subscriptions)+len(s.cfg.Instruments))
	for id := range s.subscriptions {
		want = append(want, id)
	}
	s.mu.RUnlock()
	want = normalizeIDs(append(want, s.cfg.Instruments...))
	if len(want) == 0 {
		return
	}

	if _, err := s.send(&s.subs, want, false, s.client.SubscribeMarketData); err != nil {
		s.log.Error().Err(err).Strs("instruments", want).Msg("Resubscription failed")
		return
	}
	s.log.Info().Strs("instruments", want).Msg("Resubscribing")
}

func (s *Service) relogin() {
	err := trading.WithRetry(s.ctx, s.cfg.Relogin, func(ctx context.Context) error {
		return s.Login(ctx)
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Automatic market login failed")
	}
}

func (s *Service) publish(topic string, success bool, message string, data any) {
	ev, err := events.NewEvent(topic, source, success, message, data)
	if err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("Failed to build event")
		return
	}
	if err := s.publisher.Publish(context.Background(), ev); err != nil {
		s.log.Debug().Err(err).Str("topic", topic).Msg("Failed to publish event")
	}
}

// runRedis writes snapshots to Redis off the vendor goroutines.
func (s *Service) runRedis() {
	defer s.wg.Done()
	for snap := range s.redisCh {
		if err := s.redis.Set(context.Background(), snap); err != nil {
			s.log.Warn().Err(err).Str("instrument", snap.InstrumentID).Msg("Failed to mirror snapshot")
		}
	}
}

func (s *Service) mirror(snap Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.redisCh == nil || s.redisClosed {
		return
	}
	select {
	case s.redisCh <- snap:
	default:
		s.log.Debug().Str("instrument", snap.InstrumentID).Msg("Redis queue full, snapshot dropped")
	}
}

// normalizeIDs trims, cuts each id to the vendor field width, drops empties and
// dedupes, keeping first-seen order.
func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = bridge.TruncateInstrumentID(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
