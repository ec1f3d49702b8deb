package market

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/femas"
	"github.com/ajitpratap0/femasgate/internal/trading"
)

func simOptions() femas.SimOptions {
	opts := femas.DefaultSimOptions()
	opts.ConnectDelay = 5 * time.Millisecond
	opts.ResponseDelay = 0
	opts.TickInterval = 10 * time.Millisecond
	opts.Password = "pass1"
	opts.TradingDay = "20240101"
	opts.Seed = 7
	return opts
}

func testConfig(t *testing.T) Config {
	return Config{
		FrontAddress:   "tcp://127.0.0.1:20003",
		FlowPath:       filepath.Join(t.TempDir(), "md") + "/",
		BrokerID:       "9999",
		UserID:         "U001",
		Password:       "pass1",
		RequestTimeout: 2 * time.Second,
		Relogin: trading.RetryConfig{
			MaxRetries:     10,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
			BackoffFactor:  2,
		},
	}
}

type recorder struct {
	mu     sync.Mutex
	topics map[string]int
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics == nil {
		r.topics = make(map[string]int)
	}
	r.topics[ev.Topic]++
	return nil
}

func (r *recorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topics[topic]
}

func startService(t *testing.T, cfg Config, opts ...Option) (*Service, *femas.SimMarket) {
	t.Helper()
	var (
		mu  sync.Mutex
		sim *femas.SimMarket
	)
	factory := func(string) (femas.MarketAPI, error) {
		mu.Lock()
		defer mu.Unlock()
		sim = femas.NewSimMarket(simOptions())
		return sim, nil
	}
	s := New(cfg, bridge.NewMarketBridge(factory, nil, bridge.Options{}), opts...)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	require.Eventually(t, func() bool { return s.Status().Connected }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	return s, sim
}

func TestMarketLoginAndSubscribe(t *testing.T) {
	rec := &recorder{}
	s, _ := startService(t, testConfig(t), WithPublisher(rec))
	ctx := context.Background()

	assert.ErrorIs(t, s.Subscribe(ctx, []string{"rb2501"}), trading.ErrNotLoggedIn)

	require.NoError(t, s.Login(ctx))
	st := s.Status()
	assert.True(t, st.LoggedIn)
	assert.Equal(t, "20240101", st.TradingDay)

	require.NoError(t, s.Subscribe(ctx, []string{"rb2501", " cu2501 ", "rb2501", ""}))
	assert.Equal(t, []string{"cu2501", "rb2501"}, s.Subscriptions())

	require.Eventually(t, func() bool { return s.Cache().Has("rb2501") && s.Cache().Has("cu2501") },
		2*time.Second, 5*time.Millisecond)
	snap, ok := s.Snapshot(ctx, "rb2501")
	require.True(t, ok)
	assert.Equal(t, "SHFE", snap.ExchangeID)
	assert.Positive(t, snap.LastPrice)
	assert.Greater(t, snap.AskPrices[0], snap.BidPrices[0])

	assert.Positive(t, rec.count(events.TopicMarket))
	assert.Positive(t, rec.count(events.MarketTopic("rb2501")))
	assert.Positive(t, rec.count(events.ExchangeTopic("SHFE")))
	assert.Positive(t, rec.count(events.TopicLogin))

	require.NoError(t, s.Unsubscribe(ctx, []string{"cu2501"}))
	assert.Equal(t, []string{"rb2501"}, s.Subscriptions())
	assert.Equal(t, []string{"rb2501"}, s.Status().Subscriptions)
}

func TestMarketSubscribeRequiresInstruments(t *testing.T) {
	s, _ := startService(t, testConfig(t))
	require.NoError(t, s.Login(context.Background()))

	assert.ErrorIs(t, s.Subscribe(context.Background(), nil), ErrNoInstruments)
	assert.ErrorIs(t, s.Unsubscribe(context.Background(), []string{" "}), ErrNoInstruments)
}

func TestMarketSubscribeTruncatesLongIDs(t *testing.T) {
	s, _ := startService(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, s.Login(ctx))

	prefix := strings.Repeat("x", femas.InstrumentIDLen-1)
	require.NoError(t, s.Subscribe(ctx, []string{prefix + "A", prefix + "B", "rb2501"}))
	assert.Equal(t, []string{"rb2501", prefix}, s.Subscriptions())

	require.NoError(t, s.Unsubscribe(ctx, []string{prefix + "C"}))
	assert.Equal(t, []string{"rb2501"}, s.Subscriptions())
}

func TestMarketLoginBadPassword(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = "wrong"
	s, _ := startService(t, cfg)

	var ve *trading.VendorError
	require.ErrorAs(t, s.Login(context.Background()), &ve)
	assert.Equal(t, femas.SimErrBadPassword, ve.ID)
	assert.False(t, s.Status().LoggedIn)
}

func TestMarketAutoLoginSubscribesConfiguredInstruments(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoLogin = true
	cfg.Instruments = []string{"au2502"}
	s, _ := startService(t, cfg)

	require.Eventually(t, func() bool { return s.Cache().Has("au2502") }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"au2502"}, s.Subscriptions())
}

func TestMarketResubscribesAfterReconnect(t *testing.T) {
	rec := &recorder{}
	s, sim := startService(t, testConfig(t), WithPublisher(rec))
	ctx := context.Background()
	require.NoError(t, s.Login(ctx))
	require.NoError(t, s.Subscribe(ctx, []string{"rb2501"}))
	require.Eventually(t, func() bool { return s.Cache().Has("rb2501") }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, rec.count(events.TopicConnection))

	sim.Disconnect(femas.ReasonHeartbeatTimeout)
	// disconnect and reconnect
	require.Eventually(t, func() bool { return rec.count(events.TopicConnection) == 3 }, 2*time.Second, time.Millisecond)

	// The simulator drops subscriptions on disconnect, so new ticks prove the
	// resubscription.
	s.Cache().Clear()
	require.Eventually(t, func() bool { return s.Status().LoggedIn }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Cache().Has("rb2501") }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"rb2501"}, s.Subscriptions())
}

func TestMarketLogout(t *testing.T) {
	s, _ := startService(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, s.Login(ctx))

	require.NoError(t, s.Logout(ctx))
	assert.False(t, s.Status().LoggedIn)
	assert.ErrorIs(t, s.Logout(ctx), trading.ErrNotLoggedIn)
}

func TestMarketMirrorsToRedis(t *testing.T) {
	rm, _ := setupMiniRedis(t)
	rc := NewRedisSnapshotCache(rm, time.Minute)
	s, _ := startService(t, testConfig(t), WithRedis(rc))
	ctx := context.Background()
	require.NoError(t, s.Login(ctx))
	require.NoError(t, s.Subscribe(ctx, []string{"rb2501"}))

	require.Eventually(t, func() bool {
		_, ok := rc.Get(ctx, "rb2501")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// Snapshot falls back to Redis once memory is empty.
	s.Cache().Clear()
	require.NoError(t, s.Unsubscribe(ctx, []string{"rb2501"}))
	s.Cache().Clear()
	snap, ok := s.Snapshot(ctx, "rb2501")
	require.True(t, ok)
	assert.Equal(t, "rb2501", snap.InstrumentID)
}

func TestMarketLoginRequiresConnection(t *testing.T) {
	s := New(testConfig(t), bridge.NewMarketBridge(femas.NewSimMarketFactory(simOptions()), nil, bridge.Options{}))
	assert.ErrorIs(t, s.Login(context.Background()), trading.ErrNotConnected)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestMarketConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Femas: config.FemasConfig{
			MdAddress: "tcp://10.0.0.1:20003",
			FlowPath:  "/var/lib/femas/flow",
			BrokerID:  "0001",
			UserID:    "U100",
			AutoLogin: true,
		},
		Market: config.MarketConfig{
			Instruments: []string{"rb2501"},
			StaleAfter:  time.Minute,
		},
	}

	c := ConfigFrom(cfg)
	assert.Equal(t, "tcp://10.0.0.1:20003", c.FrontAddress)
	assert.Equal(t, filepath.Join("/var/lib/femas/flow", "md")+string(filepath.Separator), c.FlowPath)
	assert.Equal(t, []string{"rb2501"}, c.Instruments)
	assert.True(t, c.AutoLogin)

	c = c.withDefaults()
	assert.Equal(t, time.Minute, c.StaleAfter)
	assert.Equal(t, 10*time.Minute, c.CleanupInterval)
	assert.Equal(t, 10*time.Second, c.RequestTimeout)
}
