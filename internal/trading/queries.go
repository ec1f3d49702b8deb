package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// pendingQuery collects the frames of one query until the last one.
type pendingQuery struct {
	name    string
	records []any
	err     error
	done    chan struct{}
}

func (q *pendingQuery) finish(err error) {
	if err != nil && q.err == nil {
		q.err = err
	}
	close(q.done)
}

// queryFrame adds one response frame to its query. Frames of unknown or
// abandoned queries are dropped.
func (s *Service) queryFrame(requestID int, rec any, info bridge.RspInfo, isLast bool) {
	s.qmu.Lock()
	q, ok := s.queries[requestID]
	if !ok {
		s.qmu.Unlock()
		return
	}
	if rec != nil {
		q.records = append(q.records, rec)
	}
	if info.Failed() && q.err == nil {
		q.err = &VendorError{Op: q.name + " query", ID: info.ErrorID, Msg: info.ErrorMsg}
		metrics.RecordVendorError(info.ErrorMsg)
	}
	if isLast {
		delete(s.queries, requestID)
	}
	s.qmu.Unlock()

	if isLast {
		q.finish(nil)
	}
}

// runQuery sends a query, throttled to the vendor query rate, and collects
// its records. The vendor never answers on the calling goroutine, so the
// query is registered under qmu while send runs.
func runQuery[T any](ctx context.Context, s *Service, name string, send func(investorID string) int) ([]T, error) {
	if err := s.requireLogin(); err != nil {
		return nil, err
	}
	if err := s.queryLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s query throttled: %w", name, err)
	}

	investorID := s.InvestorID()
	q := &pendingQuery{name: name, done: make(chan struct{})}
	start := time.Now()

	s.qmu.Lock()
	id := send(investorID)
	if id < 0 {
		s.qmu.Unlock()
		return nil, ErrSendFailed
	}
	s.queries[id] = q
	s.qmu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	select {
	case <-q.done:
	case <-ctx.Done():
		s.qmu.Lock()
		_, stillPending := s.queries[id]
		delete(s.queries, id)
		s.qmu.Unlock()
		if stillPending {
			return nil, fmt.Errorf("%s query %d: %w", name, id, ctx.Err())
		}
		<-q.done
	}

	metrics.RecordQuery(name, float64(time.Since(start).Milliseconds()))
	if q.err != nil {
		return nil, q.err
	}

	out := make([]T, 0, len(q.records))
	for _, rec := range q.records {
		if v, ok := rec.(T); ok {
			out = append(out, v)
		}
	}
	s.log.Debug().Str("query", name).Int("request_id", id).Int("records", len(out)).Msg("Query completed")
	return out, nil
}

// QueryPositions returns positions of the current investor. An empty
// instrumentID matches all instruments.
func (s *Service) QueryPositions(ctx context.Context, instrumentID string) ([]bridge.Position, error) {
	return runQuery[bridge.Position](ctx, s, "position", func(investorID string) int {
		return s.client.ReqQryInvestorPosition(s.cfg.BrokerID, investorID, instrumentID)
	})
}

// QueryAccount returns the trading account of the current investor.
func (s *Service) QueryAccount(ctx context.Context) (bridge.Account, error) {
	accounts, err := runQuery[bridge.Account](ctx, s, "account", func(investorID string) int {
		return s.client.ReqQryTradingAccount(s.cfg.BrokerID, investorID)
	})
	if err != nil {
		return bridge.Account{}, err
	}
	if len(accounts) == 0 {
		return bridge.Account{}, ErrNoData
	}
	return accounts[0], nil
}

// QueryInstruments returns contract definitions. An empty instrumentID
// matches all instruments.
func (s *Service) QueryInstruments(ctx context.Context, instrumentID string) ([]bridge.Instrument, error) {
	return runQuery[bridge.Instrument](ctx, s, "instrument", func(string) int {
		return s.client.ReqQryInstrument(instrumentID)
	})
}

// QueryOrders returns the orders known to the front and merges them into the
// order book.
func (s *Service) QueryOrders(ctx context.Context, instrumentID string) ([]bridge.Order, error) {
	orders, err := runQuery[bridge.Order](ctx, s, "order", func(investorID string) int {
		return s.client.ReqQryOrder(s.cfg.BrokerID, investorID, instrumentID)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, o := range orders {
		if _, ok := s.orders[o.OrderRef]; !ok {
			s.orderSeq = append(s.orderSeq, o.OrderRef)
		}
		s.orders[o.OrderRef] = &o
	}
	s.mu.Unlock()
	return orders, nil
}

// QueryTrades returns the trades known to the front.
func (s *Service) QueryTrades(ctx context.Context, instrumentID string) ([]bridge.Trade, error) {
	return runQuery[bridge.Trade](ctx, s, "trade", func(investorID string) int {
		return s.client.ReqQryTrade(s.cfg.BrokerID, investorID, instrumentID)
	})
}
