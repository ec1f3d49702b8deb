package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/femas"
)

type listenerCall struct {
	kind   string
	id     string
	topics []string
}

type recordingListener struct {
	mu    sync.Mutex
	calls []listenerCall
}

func (l *recordingListener) TopicsChanged(id string, topics []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, listenerCall{kind: "topics", id: id, topics: topics})
}

func (l *recordingListener) Ended(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, listenerCall{kind: "ended", id: id})
}

func (l *recordingListener) all() []listenerCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]listenerCall(nil), l.calls...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T) (*Service, *recordingListener, *clock) {
	t.Helper()
	l := &recordingListener{}
	clk := &clock{now: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	s := New(Config{
		Timeout: 30 * time.Minute,
		Users:   map[string]string{"trader1": "trader123", "admin": "admin123"},
	}, WithListener(l))
	s.now = clk.Now
	return s, l, clk
}

func TestLogin(t *testing.T) {
	s, _, clk := newService(t)

	tests := []struct {
		name     string
		user     string
		password string
		err      error
	}{
		{name: "missing username", user: " ", password: "x", err: ErrMissingCredentials},
		{name: "missing password", user: "trader1", password: "", err: ErrMissingCredentials},
		{name: "unknown user", user: "ghost", password: "trader123", err: ErrInvalidCredentials},
		{name: "wrong password", user: "trader1", password: "trader124", err: ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Login(tt.user, tt.password, "")
			assert.ErrorIs(t, err, tt.err)
		})
	}

	sess, err := s.Login("trader1", "trader123", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "trader1", sess.Username)
	assert.True(t, strings.HasPrefix(sess.ClientID, "WEB_"))
	assert.Equal(t, clk.Now(), sess.LoginTime)
	assert.True(t, sess.Active)
	assert.Equal(t, []string{PermissionMarketData, PermissionBasicQuery}, sess.Permissions)
	assert.Empty(t, sess.Exchanges)
	assert.Empty(t, sess.Instruments)
}

func TestLoginSameClientReplacesSession(t *testing.T) {
	s, l, _ := newService(t)

	first, err := s.Login("trader1", "trader123", "desk-1")
	require.NoError(t, err)
	second, err := s.Login("admin", "admin123", "desk-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = s.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []listenerCall{{kind: "ended", id: first.ID}}, l.all())

	st := s.Stats()
	assert.Equal(t, 1, st.TotalSessions)
	assert.Equal(t, 1, st.UniqueUsers)
	assert.Equal(t, 1, st.ConnectedClients)
}

func TestLogout(t *testing.T) {
	s, l, _ := newService(t)

	a, err := s.Login("trader1", "trader123", "desk-1")
	require.NoError(t, err)
	b, err := s.Login("trader1", "trader123", "desk-2")
	require.NoError(t, err)

	require.NoError(t, s.Logout(a.ID))
	assert.ErrorIs(t, s.Logout(a.ID), ErrNotFound)

	require.NoError(t, s.LogoutClient("desk-2"))
	assert.ErrorIs(t, s.LogoutClient("desk-2"), ErrNotFound)

	assert.Empty(t, s.Active())
	assert.Equal(t, Stats{ExchangeSubscriptions: map[string]int{}, InstrumentSubscriptions: map[string]int{}}, s.Stats())
	assert.Equal(t, []listenerCall{{kind: "ended", id: a.ID}, {kind: "ended", id: b.ID}}, l.all())
}

func TestValidateExpiry(t *testing.T) {
	s, l, clk := newService(t)
	sess, err := s.Login("trader1", "trader123", "")
	require.NoError(t, err)

	clk.advance(20 * time.Minute)
	got, err := s.Validate(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), got.LastActive)

	// Validate refreshed the activity time, so 20 more minutes is still fine.
	clk.advance(20 * time.Minute)
	_, err = s.Validate(sess.ID)
	require.NoError(t, err)

	clk.advance(31 * time.Minute)
	_, err = s.Validate(sess.ID)
	assert.ErrorIs(t, err, ErrExpired)
	_, err = s.Validate(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []listenerCall{{kind: "ended", id: sess.ID}}, l.all())

	_, err = s.Topics("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSubscription(t *testing.T) {
	s, l, _ := newService(t)
	sess, err := s.Login("trader1", "trader123", "")
	require.NoError(t, err)

	long := strings.Repeat("x", femas.InstrumentIDLen+5)
	got, err := s.UpdateSubscription(sess.ID,
		[]string{"shfe", " SHFE ", ""},
		[]string{"rb2501", "rb2501", long})
	require.NoError(t, err)

	truncated := long[:femas.InstrumentIDLen-1]
	assert.Equal(t, []string{"SHFE"}, got.Exchanges)
	assert.Equal(t, []string{"rb2501", truncated}, got.Instruments)

	want := []string{events.ExchangeTopic("SHFE"), events.MarketTopic("rb2501"), events.MarketTopic(truncated)}
	assert.Equal(t, want, got.Topics())
	assert.Equal(t, []listenerCall{{kind: "topics", id: sess.ID, topics: want}}, l.all())

	topics, err := s.Topics(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, want, topics)

	// A second update replaces, not merges.
	got, err = s.UpdateSubscription(sess.ID, nil, []string{"cu2501"})
	require.NoError(t, err)
	assert.Empty(t, got.Exchanges)
	assert.Equal(t, []string{"cu2501"}, got.Instruments)

	_, err = s.UpdateSubscription("missing", nil, []string{"cu2501"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatsAndByInstrument(t *testing.T) {
	s, _, clk := newService(t)

	a, err := s.Login("trader1", "trader123", "desk-1")
	require.NoError(t, err)
	clk.advance(time.Second)
	b, err := s.Login("admin", "admin123", "desk-2")
	require.NoError(t, err)

	_, err = s.UpdateSubscription(a.ID, []string{"SHFE"}, []string{"rb2501", "cu2501"})
	require.NoError(t, err)
	_, err = s.UpdateSubscription(b.ID, []string{"SHFE", "DCE"}, []string{"rb2501"})
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 2, st.TotalSessions)
	assert.Equal(t, 2, st.ActiveSessions)
	assert.Equal(t, 2, st.UniqueUsers)
	assert.Equal(t, 2, st.ConnectedClients)
	assert.Equal(t, map[string]int{"SHFE": 2, "DCE": 1}, st.ExchangeSubscriptions)
	assert.Equal(t, map[string]int{"rb2501": 2, "cu2501": 1}, st.InstrumentSubscriptions)

	active := s.Active()
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, b.ID, active[1].ID)

	byCu := s.ByInstrument("cu2501")
	require.Len(t, byCu, 1)
	assert.Equal(t, a.ID, byCu[0].ID)
	assert.Len(t, s.ByInstrument("rb2501"), 2)
	assert.Empty(t, s.ByInstrument("ag2501"))
}

func TestCleanup(t *testing.T) {
	s, l, clk := newService(t)

	stale, err := s.Login("trader1", "trader123", "desk-1")
	require.NoError(t, err)
	clk.advance(20 * time.Minute)
	fresh, err := s.Login("admin", "admin123", "desk-2")
	require.NoError(t, err)

	assert.Zero(t, s.Cleanup())
	clk.advance(15 * time.Minute)
	assert.Equal(t, 1, s.Cleanup())

	_, err = s.Get(stale.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, []listenerCall{{kind: "ended", id: stale.ID}}, l.all())
}

func TestRunSweepsUntilCanceled(t *testing.T) {
	l := &recordingListener{}
	s := New(Config{
		Timeout:         time.Millisecond,
		CleanupInterval: 5 * time.Millisecond,
		Users:           map[string]string{"trader1": "trader123"},
	}, WithListener(l))
	sess, err := s.Login("trader1", "trader123", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(l.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, listenerCall{kind: "ended", id: sess.ID}, l.all()[0])

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{}
	cfg.API.Sessions = config.SessionsConfig{
		Timeout:         time.Hour,
		CleanupInterval: time.Minute,
		Users:           []config.UserConfig{{Username: " trader1 ", Password: "trader123"}},
	}
	got := ConfigFrom(cfg)
	assert.Equal(t, time.Hour, got.Timeout)
	assert.Equal(t, time.Minute, got.CleanupInterval)
	assert.Equal(t, map[string]string{"trader1": "trader123"}, got.Users)

	s := New(Config{})
	assert.Equal(t, 30*time.Minute, s.cfg.Timeout)
	assert.Equal(t, 5*time.Minute, s.cfg.CleanupInterval)
}
