package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/femasgate/internal/bridge"
)

func md(instrumentID, exchangeID string, last float64) bridge.MarketData {
	return bridge.MarketData{InstrumentID: instrumentID, ExchangeID: exchangeID, LastPrice: last}
}

// fakeClock returns a cache whose clock the test controls.
func cacheWithClock(staleAfter time.Duration) (*SnapshotCache, *time.Time) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	c := NewSnapshotCache(staleAfter)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestSnapshotCacheGet(t *testing.T) {
	c := NewSnapshotCache(time.Minute)

	_, ok := c.Get("rb2501")
	assert.False(t, ok)

	c.Update(md("rb2501", "SHFE", 3500))
	c.Update(md("rb2501", "SHFE", 3501))

	snap, ok := c.Get("rb2501")
	require.True(t, ok)
	assert.InDelta(t, 3501.0, snap.LastPrice, 1e-9)
	assert.False(t, snap.ReceivedAt.IsZero())
	assert.True(t, c.Has("rb2501"))

	st := c.Stats()
	assert.Equal(t, 1, st.Instruments)
	assert.Equal(t, int64(2), st.Updates)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)
}

func TestSnapshotCacheExchangeIndex(t *testing.T) {
	c := NewSnapshotCache(time.Minute)
	c.Update(md("rb2501", "SHFE", 3500))
	c.Update(md("cu2501", "SHFE", 70000))
	c.Update(md("IF2501", "CFFEX", 3800))

	assert.Equal(t, []string{"CFFEX", "SHFE"}, c.Exchanges())
	assert.Equal(t, []string{"cu2501", "rb2501"}, c.Instruments("SHFE"))
	assert.Empty(t, c.Instruments("DCE"))

	shfe := c.ByExchange("SHFE")
	require.Len(t, shfe, 2)
	assert.Equal(t, "cu2501", shfe[0].InstrumentID)

	ex, ok := c.ExchangeOf("IF2501")
	assert.True(t, ok)
	assert.Equal(t, "CFFEX", ex)

	// An instrument seen on another exchange moves in the index.
	c.Update(md("IF2501", "SHFE", 3800))
	assert.Equal(t, []string{"SHFE"}, c.Exchanges())
	assert.Len(t, c.Instruments("SHFE"), 3)

	got := c.ByInstruments([]string{"rb2501", "missing", "IF2501"})
	require.Len(t, got, 2)
	assert.Equal(t, "rb2501", got[0].InstrumentID)
	assert.Equal(t, map[string]int{"SHFE": 3}, c.Stats().ByExchange)
}

func TestSnapshotCacheCleanup(t *testing.T) {
	c, now := cacheWithClock(time.Minute)
	c.Update(md("rb2501", "SHFE", 3500))
	*now = now.Add(45 * time.Second)
	c.Update(md("IF2501", "CFFEX", 3800))

	assert.Len(t, c.All(), 2)
	assert.Len(t, c.Active(), 2)

	*now = now.Add(30 * time.Second)
	active := c.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "IF2501", active[0].InstrumentID)
	assert.Equal(t, 1, c.Stats().Active)

	assert.Equal(t, 1, c.Cleanup())
	assert.False(t, c.Has("rb2501"))
	assert.Equal(t, []string{"CFFEX"}, c.Exchanges())
	assert.Zero(t, c.Cleanup())
}

func TestSnapshotCacheClear(t *testing.T) {
	c := NewSnapshotCache(0)
	assert.Equal(t, DefaultStaleAfter, c.staleAfter)

	c.Update(md("rb2501", "SHFE", 3500))
	c.Get("rb2501")
	c.Clear()

	st := c.Stats()
	assert.Zero(t, st.Instruments)
	assert.Zero(t, st.Exchanges)
	assert.Zero(t, st.Updates)
	assert.Zero(t, st.Hits)
	assert.Empty(t, c.All())
}

func TestSnapshotCacheRunStopsOnCancel(t *testing.T) {
	c := NewSnapshotCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSnapshotStale(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s := Snapshot{ReceivedAt: at}
	assert.False(t, s.Stale(at.Add(time.Minute), time.Minute))
	assert.True(t, s.Stale(at.Add(time.Minute+time.Millisecond), time.Minute))
}
