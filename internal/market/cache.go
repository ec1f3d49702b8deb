package market

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// DefaultStaleAfter is the age after which a snapshot counts as inactive.
const DefaultStaleAfter = 5 * time.Minute

// Snapshot is the latest depth snapshot of one instrument.
type Snapshot struct {
	bridge.MarketData
	ReceivedAt time.Time `json:"receivedAt"`
}

// Stale reports whether the snapshot is older than maxAge at now.
func (s Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.ReceivedAt) > maxAge
}

// CacheStats summarises the snapshot cache.
type CacheStats struct {
	Instruments int            `json:"totalInstruments"`
	Exchanges   int            `json:"totalExchanges"`
	Active      int            `json:"activeInstruments"`
	Updates     int64          `json:"totalUpdates"`
	Hits        int64          `json:"cacheHits"`
	Misses      int64          `json:"cacheMisses"`
	HitRate     float64        `json:"hitRate"`
	ByExchange  map[string]int `json:"instrumentsByExchange"`
}

// SnapshotCache keeps the latest snapshot per instrument with an exchange
// index. Reads are lock free; updates and cleanup serialise on the index.
type SnapshotCache struct {
	staleAfter time.Duration
	now        func() time.Time

	snapshots cmap.ConcurrentMap[string, Snapshot]

	mu        sync.Mutex
	exchanges map[string]map[string]struct{}

	updates atomic.Int64
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewSnapshotCache creates a cache treating snapshots older than staleAfter
// as inactive.
func NewSnapshotCache(staleAfter time.Duration) *SnapshotCache {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &SnapshotCache{
		staleAfter: staleAfter,
		now:        time.Now,
		snapshots:  cmap.New[Snapshot](),
		exchanges:  make(map[string]map[string]struct{}),
	}
}

// Update stores md as the latest snapshot of its instrument.
func (c *SnapshotCache) Update(md bridge.MarketData) Snapshot {
	snap := Snapshot{MarketData: md, ReceivedAt: c.now()}

	c.mu.Lock()
	if prev, ok := c.snapshots.Get(md.InstrumentID); ok && prev.ExchangeID != md.ExchangeID {
		c.unindex(prev.ExchangeID, md.InstrumentID)
	}
	c.snapshots.Set(md.InstrumentID, snap)
	ids, ok := c.exchanges[md.ExchangeID]
	if !ok {
		ids = make(map[string]struct{})
		c.exchanges[md.ExchangeID] = ids
	}
	ids[md.InstrumentID] = struct{}{}
	c.mu.Unlock()

	c.updates.Add(1)
	return snap
}

func (c *SnapshotCache) unindex(exchangeID, instrumentID string) {
	ids := c.exchanges[exchangeID]
	delete(ids, instrumentID)
	if len(ids) == 0 {
		delete(c.exchanges, exchangeID)
	}
}

// Get returns the snapshot of one instrument and counts the lookup.
func (c *SnapshotCache) Get(instrumentID string) (Snapshot, bool) {
	snap, ok := c.snapshots.Get(instrumentID)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	metrics.SnapshotCacheHitRate.Set(c.hitRate())
	return snap, ok
}

// Has reports whether the instrument has a snapshot.
func (c *SnapshotCache) Has(instrumentID string) bool {
	return c.snapshots.Has(instrumentID)
}

// All returns every snapshot ordered by instrument.
func (c *SnapshotCache) All() []Snapshot {
	out := make([]Snapshot, 0, c.snapshots.Count())
	for item := range c.snapshots.IterBuffered() {
		out = append(out, item.Val)
	}
	sortSnapshots(out)
	return out
}

// Active returns the snapshots that are not stale.
func (c *SnapshotCache) Active() []Snapshot {
	now := c.now()
	var out []Snapshot
	for _, s := range c.All() {
		if !s.Stale(now, c.staleAfter) {
			out = append(out, s)
		}
	}
	return out
}

// ByInstruments returns the snapshots of the listed instruments that exist.
func (c *SnapshotCache) ByInstruments(instrumentIDs []string) []Snapshot {
	var out []Snapshot
	for _, id := range instrumentIDs {
		if s, ok := c.snapshots.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// ByExchange returns the snapshots of one exchange ordered by instrument.
func (c *SnapshotCache) ByExchange(exchangeID string) []Snapshot {
	return c.ByInstruments(c.Instruments(exchangeID))
}

// Exchanges returns the indexed exchanges in order.
func (c *SnapshotCache) Exchanges() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.exchanges))
	for ex := range c.exchanges {
		out = append(out, ex)
	}
	sort.Strings(out)
	return out
}

// Instruments returns the instruments of one exchange in order.
func (c *SnapshotCache) Instruments(exchangeID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.exchanges[exchangeID]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ExchangeOf returns the exchange an instrument was last seen on.
func (c *SnapshotCache) ExchangeOf(instrumentID string) (string, bool) {
	s, ok := c.snapshots.Get(instrumentID)
	return s.ExchangeID, ok
}

// Stats returns counters and per-exchange instrument counts.
func (c *SnapshotCache) Stats() CacheStats {
	c.mu.Lock()
	byExchange := make(map[string]int, len(c.exchanges))
	for ex, ids := range c.exchanges {
		byExchange[ex] = len(ids)
	}
	c.mu.Unlock()

	return CacheStats{
		Instruments: c.snapshots.Count(),
		Exchanges:   len(byExchange),
		Active:      len(c.Active()),
		Updates:     c.updates.Load(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		HitRate:     c.hitRate(),
		ByExchange:  byExchange,
	}
}

func (c *SnapshotCache) hitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Clear drops every snapshot and resets the counters.
func (c *SnapshotCache) Clear() {
	c.mu.Lock()
	c.snapshots.Clear()
	clear(c.exchanges)
	c.mu.Unlock()

	c.updates.Store(0)
	c.hits.Store(0)
	c.misses.Store(0)
	metrics.SnapshotCacheHitRate.Set(0)
	log.Info().Msg("Snapshot cache cleared")
}

// Cleanup removes stale snapshots and returns how many were removed.
func (c *SnapshotCache) Cleanup() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for item := range c.snapshots.IterBuffered() {
		if !item.Val.Stale(now, c.staleAfter) {
			continue
		}
		c.snapshots.Remove(item.Key)
		c.unindex(item.Val.ExchangeID, item.Key)
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Removed stale snapshots")
	}
	return removed
}

// Run removes stale snapshots every interval until ctx ends.
func (c *SnapshotCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

func sortSnapshots(s []Snapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].InstrumentID < s[j].InstrumentID })
}
