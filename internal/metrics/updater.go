package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// JournalSource is what the updater reads. The journal store implements it.
type JournalSource interface {
	PoolStats() (acquired, idle int32)
	CountRows(ctx context.Context) (map[string]int64, error)
}

// Updater periodically refreshes database gauges from the journal.
type Updater struct {
	src      JournalSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a metrics updater.
func NewUpdater(src JournalSource, interval time.Duration) *Updater {
	return &Updater{
		src:      src,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the update loop until Stop or ctx cancellation.
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the updater.
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update(ctx context.Context) {
	UpdateDatabaseConnections(u.src.PoolStats())

	start := time.Now()
	counts, err := u.src.CountRows(ctx)
	RecordDatabaseQuery("count_rows", float64(time.Since(start).Milliseconds()))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count journal rows")
		return
	}
	for table, n := range counts {
		JournalRows.WithLabelValues(table).Set(float64(n))
	}
}
