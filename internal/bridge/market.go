package bridge

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/femas"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

type marketSession struct {
	api   femas.MarketAPI
	relay *marketRelay
}

// MarketBridge owns market-data sessions behind handles. It follows the
// TraderBridge contract: unknown handles are no-ops or -1.
type MarketBridge struct {
	factory  femas.MarketAPIFactory
	ids      *RequestIDs
	sessions *Registry[*marketSession]
	opts     Options
	log      zerolog.Logger
}

// NewMarketBridge creates a market bridge. Passing the RequestIDs of a
// TraderBridge makes both draw from one sequence.
func NewMarketBridge(factory femas.MarketAPIFactory, ids *RequestIDs, opts Options) *MarketBridge {
	if ids == nil {
		ids = NewRequestIDs()
	}
	return &MarketBridge{
		factory:  factory,
		ids:      ids,
		sessions: NewRegistry[*marketSession](),
		opts:     opts,
		log:      opts.logger("market_bridge"),
	}
}

// Create builds a vendor client persisting flow files under flowDir, binds a
// relay delivering to sink and returns the new session handle.
func (b *MarketBridge) Create(flowDir string, sink MarketSink) (h Handle, err error) {
	if sink == nil {
		return 0, fmt.Errorf("%w: %w", ErrCreateFailed, ErrNoSink)
	}
	if b.factory == nil {
		return 0, fmt.Errorf("%w: no market API factory", ErrCreateFailed)
	}

	defer func() {
		if p := recover(); p != nil {
			h, err = 0, fmt.Errorf("%w: panic: %v", ErrCreateFailed, p)
			b.log.Error().Err(err).Str("flow_dir", flowDir).Msg("Market session creation panicked")
		}
	}()

	api, err := b.factory(flowDir)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	if api == nil {
		return 0, fmt.Errorf("%w: factory returned no client", ErrCreateFailed)
	}

	relay := newMarketRelay(relayCore{
		bridge: metrics.BridgeMarket,
		gate:   NewGate(b.opts.CallbackConcurrency, b.opts.CallbackTimeout),
		dec:    b.opts.decoder(),
		log:    b.log,
	}, sink)
	api.RegisterSpi(relay)

	h = b.sessions.Insert(&marketSession{api: api, relay: relay})
	metrics.SetSessions(metrics.BridgeMarket, b.sessions.Len())
	b.log.Info().Int64("handle", int64(h)).Str("flow_dir", flowDir).Msg("Market session created")
	return h, nil
}

// RegisterFront adds a front address. No-op for an unknown handle.
func (b *MarketBridge) RegisterFront(h Handle, address string) {
	if s, ok := b.sessions.Find(h); ok {
		s.api.RegisterFront(address)
	}
}

// Start triggers the vendor connection loop without blocking.
func (b *MarketBridge) Start(h Handle) {
	if s, ok := b.sessions.Find(h); ok {
		s.api.Init()
	}
}

// Join blocks until the vendor loop of h terminates. It returns -1 for an
// unknown handle.
func (b *MarketBridge) Join(h Handle) int {
	s, ok := b.sessions.Find(h)
	if !ok {
		return ReqFailed
	}
	return s.api.Join()
}

// Release frees the session. Safe to call more than once.
func (b *MarketBridge) Release(h Handle) {
	s, ok := b.sessions.Remove(h)
	if !ok {
		return
	}
	s.relay.close()
	s.api.Release()
	metrics.SetSessions(metrics.BridgeMarket, b.sessions.Len())
	b.log.Info().Int64("handle", int64(h)).Msg("Market session released")
}

// Sessions returns the number of live sessions.
func (b *MarketBridge) Sessions() int {
	return b.sessions.Len()
}

// send resolves h and hands the request to the vendor. Subscription calls
// carry no request id on the wire; they still draw one so the caller gets a
// positive result.
func (b *MarketBridge) send(op string, h Handle, call func(api femas.MarketAPI, requestID int) int) int {
	return sendRequest(metrics.BridgeMarket, b.sessions, b.ids, b.log, op, h, func(s *marketSession, id int) int {
		return call(s.api, id)
	})
}

// ReqUserLogin sends a login request and returns the request id or -1.
func (b *MarketBridge) ReqUserLogin(h Handle, brokerID, userID, password string) int {
	return b.send("user_login", h, func(api femas.MarketAPI, id int) int {
		var req femas.ReqUserLoginField
		femas.CopyField(req.BrokerID[:], brokerID)
		femas.CopyField(req.UserID[:], userID)
		femas.CopyField(req.Password[:], password)
		return api.ReqUserLogin(&req, id)
	})
}

// ReqUserLogout sends a logout request.
func (b *MarketBridge) ReqUserLogout(h Handle, brokerID, userID string) int {
	return b.send("user_logout", h, func(api femas.MarketAPI, id int) int {
		var req femas.ReqUserLogoutField
		femas.CopyField(req.BrokerID[:], brokerID)
		femas.CopyField(req.UserID[:], userID)
		return api.ReqUserLogout(&req, id)
	})
}

// SubscribeMarketData subscribes instrument ids. Ids longer than the vendor
// field are truncated the same way as request fields.
func (b *MarketBridge) SubscribeMarketData(h Handle, instrumentIDs []string) int {
	return b.send("subscribe", h, func(api femas.MarketAPI, _ int) int {
		return api.SubMarketData(truncateIDs(instrumentIDs))
	})
}

// UnsubscribeMarketData unsubscribes instrument ids, truncated like
// SubscribeMarketData.
func (b *MarketBridge) UnsubscribeMarketData(h Handle, instrumentIDs []string) int {
	return b.send("unsubscribe", h, func(api femas.MarketAPI, _ int) int {
		return api.UnSubMarketData(truncateIDs(instrumentIDs))
	})
}

// TruncateInstrumentID returns id as the vendor receives it in an instrument
// id field.
func TruncateInstrumentID(id string) string {
	var f [femas.InstrumentIDLen]byte
	femas.CopyField(f[:], id)
	return femas.FieldString(f[:])
}

func truncateIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = TruncateInstrumentID(id)
	}
	return out
}
