package bridge

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/femas"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// traderSession is one adapter instance: a vendor client and its relay.
type traderSession struct {
	api     femas.TraderAPI
	relay   *traderRelay
	flowDir string
}

// TraderBridge owns trader sessions behind handles.
type TraderBridge struct {
	factory  femas.TraderAPIFactory
	ids      *RequestIDs
	sessions *Registry[*traderSession]
	opts     Options
	log      zerolog.Logger
}

// NewTraderBridge creates a bridge building vendor clients with factory. ids
// may be shared with other bridges; nil allocates a private counter.
func NewTraderBridge(factory femas.TraderAPIFactory, ids *RequestIDs, opts Options) *TraderBridge {
	if ids == nil {
		ids = NewRequestIDs()
	}
	return &TraderBridge{
		factory:  factory,
		ids:      ids,
		sessions: NewRegistry[*traderSession](),
		opts:     opts,
		log:      opts.logger("trader_bridge"),
	}
}

// Create builds a vendor client persisting flow files under flowDir, binds a
// relay delivering to sink and returns the new session handle.
func (b *TraderBridge) Create(flowDir string, sink TraderSink) (h Handle, err error) {
	if sink == nil {
		return 0, fmt.Errorf("%w: %w", ErrCreateFailed, ErrNoSink)
	}
	if b.factory == nil {
		return 0, fmt.Errorf("%w: no trader API factory", ErrCreateFailed)
	}

	defer func() {
		if p := recover(); p != nil {
			h, err = 0, fmt.Errorf("%w: panic: %v", ErrCreateFailed, p)
			b.log.Error().Err(err).Str("flow_dir", flowDir).Msg("Trader session creation panicked")
		}
	}()

	api, err := b.factory(flowDir)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	if api == nil {
		return 0, fmt.Errorf("%w: factory returned no client", ErrCreateFailed)
	}

	relay := newTraderRelay(relayCore{
		bridge: metrics.BridgeTrader,
		gate:   NewGate(b.opts.CallbackConcurrency, b.opts.CallbackTimeout),
		dec:    b.opts.decoder(),
		log:    b.log,
	}, sink)
	api.RegisterSpi(relay)

	h = b.sessions.Insert(&traderSession{api: api, relay: relay, flowDir: flowDir})
	metrics.SetSessions(metrics.BridgeTrader, b.sessions.Len())
	b.log.Info().Int64("handle", int64(h)).Str("flow_dir", flowDir).Msg("Trader session created")
	return h, nil
}

// RegisterFront adds a front address. No-op for an unknown handle.
func (b *TraderBridge) RegisterFront(h Handle, address string) {
	if s, ok := b.sessions.Find(h); ok {
		s.api.RegisterFront(address)
	}
}

// Start triggers the vendor connection loop without blocking.
func (b *TraderBridge) Start(h Handle) {
	if s, ok := b.sessions.Find(h); ok {
		s.api.Init()
	}
}

// Join blocks until the vendor loop of h terminates. It returns -1 for an
// unknown handle.
func (b *TraderBridge) Join(h Handle) int {
	s, ok := b.sessions.Find(h)
	if !ok {
		return ReqFailed
	}
	return s.api.Join()
}

// Release frees the session. Later callbacks are dropped and later requests
// on h return -1. Safe to call more than once and concurrently.
func (b *TraderBridge) Release(h Handle) {
	s, ok := b.sessions.Remove(h)
	if !ok {
		return
	}
	s.relay.close()
	s.api.Release()
	metrics.SetSessions(metrics.BridgeTrader, b.sessions.Len())
	b.log.Info().Int64("handle", int64(h)).Msg("Trader session released")
}

// Sessions returns the number of live sessions.
func (b *TraderBridge) Sessions() int {
	return b.sessions.Len()
}

// RequestIDs returns the id counter used by this bridge.
func (b *TraderBridge) RequestIDs() *RequestIDs {
	return b.ids
}

// send resolves h, then lets call build the request and hand it to the
// vendor. call runs only for a live handle.
func (b *TraderBridge) send(op string, h Handle, call func(api femas.TraderAPI, requestID int) int) int {
	return sendRequest(metrics.BridgeTrader, b.sessions, b.ids, b.log, op, h, func(s *traderSession, id int) int {
		return call(s.api, id)
	})
}

// ReqAuthenticate sends client authentication and returns the request id or
// -1.
func (b *TraderBridge) ReqAuthenticate(h Handle, brokerID, userID, userProductInfo, authCode string) int {
	return b.send("authenticate", h, func(api femas.TraderAPI, id int) int {
		var req femas.ReqAuthenticateField
		femas.CopyField(req.BrokerID[:], brokerID)
		femas.CopyField(req.UserID[:], userID)
		femas.CopyField(req.UserProductInfo[:], userProductInfo)
		femas.CopyField(req.AuthCode[:], authCode)
		return api.ReqAuthenticate(&req, id)
	})
}

// ReqUserLogin sends a login request.
func (b *TraderBridge) ReqUserLogin(h Handle, brokerID, userID, password string) int {
	return b.send("user_login", h, func(api femas.TraderAPI, id int) int {
		var req femas.ReqUserLoginField
		femas.CopyField(req.BrokerID[:], brokerID)
		femas.CopyField(req.UserID[:], userID)
		femas.CopyField(req.Password[:], password)
		return api.ReqUserLogin(&req, id)
	})
}

// ReqUserLogout sends a logout request.
func (b *TraderBridge) ReqUserLogout(h Handle, brokerID, userID string) int {
	return b.send("user_logout", h, func(api femas.TraderAPI, id int) int {
		var req femas.ReqUserLogoutField
		femas.CopyField(req.BrokerID[:], brokerID)
		femas.CopyField(req.UserID[:], userID)
		return api.ReqUserLogout(&req, id)
	})
}

// OrderInsert is the caller side of an order insert. The first eight fields
// are required; the rest are optional and left zero when empty.
type OrderInsert struct {
	InstrumentID    string
	Direction       femas.Direction
	OffsetFlag      femas.OffsetFlag
	LimitPrice      float64
	Volume          int
	OrderPriceType  femas.OrderPriceType
	TimeCondition   femas.TimeCondition
	VolumeCondition femas.VolumeCondition

	BrokerID   string
	InvestorID string
	UserID     string
	OrderRef   string
	MinVolume  int
}

// ReqOrderInsert sends an order. Contingent condition, force close reason,
// auto suspend and user force close are always immediately / not forced /
// 0 / 0. Volumes that do not fit the vendor's 32-bit fields return -1
// without drawing a request id.
func (b *TraderBridge) ReqOrderInsert(h Handle, o OrderInsert) int {
	if !fitsInt32(o.Volume) || !fitsInt32(o.MinVolume) {
		return refuse(metrics.BridgeTrader, b.log, "order_insert", h, "volume out of range")
	}
	return b.send("order_insert", h, func(api femas.TraderAPI, id int) int {
		req := femas.InputOrderField{
			Direction:           o.Direction,
			OffsetFlag:          o.OffsetFlag,
			OrderPriceType:      o.OrderPriceType,
			TimeCondition:       o.TimeCondition,
			VolumeCondition:     o.VolumeCondition,
			ContingentCondition: femas.ContingentImmediately,
			ForceCloseReason:    femas.ForceCloseNotForceClose,
			LimitPrice:          o.LimitPrice,
			Volume:              int32(o.Volume),
			MinVolume:           int32(o.MinVolume),
		}
		femas.CopyField(req.InstrumentID[:], o.InstrumentID)
		femas.CopyField(req.BrokerID[:], o.BrokerID)
		femas.CopyField(req.InvestorID[:], o.InvestorID)
		femas.CopyField(req.UserID[:], o.UserID)
		femas.CopyField(req.OrderRef[:], o.OrderRef)
		return api.ReqOrderInsert(&req, id)
	})
}

// ReqOrderAction sends an order action, usually a cancel.
func (b *TraderBridge) ReqOrderAction(h Handle, orderRef string, frontID, sessionID int, action femas.ActionFlag) int {
	if !fitsInt32(frontID) || !fitsInt32(sessionID) {
		return refuse(metrics.BridgeTrader, b.log, "order_action", h, "front or session id out of range")
	}
	return b.send("order_action", h, func(api femas.TraderAPI, id int) int {
		req := femas.OrderActionField{
			FrontID:    int32(frontID),
			SessionID:  int32(sessionID),
			ActionFlag: action,
		}
		femas.CopyField(req.OrderRef[:], orderRef)
		return api.ReqOrderAction(&req, id)
	})
}

// ReqQryInvestorPosition queries positions. An empty instrumentID matches all.
func (b *TraderBridge) ReqQryInvestorPosition(h Handle, brokerID, investorID, instrumentID string) int {
	return b.send("qry_investor_position", h, func(api femas.TraderAPI, id int) int {
		var req femas.QryInvestorPositionField
		femas.CopyField(req.BrokerID[:], brokerID)
		femas.CopyField(req.InvestorID[:], investorID)
		femas.CopyField(req.InstrumentID[:], instrumentID)
		return api.ReqQryInvestorPosition(&req, id)
	})
}

// ReqQryTradingAccount queries the investor's trading account.
func (b *TraderBridge) ReqQryTradingAccount(h Handle, brokerID, investorID string) int {
	return b.send("qry_trading_account", h, func(api femas.TraderAPI, id int) int {
		var req femas.QryTradingAccountField
		femas.CopyField(req.BrokerID[:], brokerID)
		femas.CopyField(req.InvestorID[:], investorID)
		return api.ReqQryTradingAccount(&req, id)
	})
}

// ReqQryInstrument queries contract definitions. An empty instrumentID matches
// all.
func (b *TraderBridge) ReqQryInstrument(h Handle, instrumentID string) int {
	return b.send("qry_instrument", h, func(api femas.TraderAPI, id int) int {
		var req femas.QryInstrumentField
		femas.CopyField(req.InstrumentID[:], instrumentID)
		return api.ReqQryInstrument(&req, id)
	})
}

// ReqQryOrder queries the investor's orders of the trading day.
func (b *TraderBridge) ReqQryOrder(h Handle, brokerID, investorID, instrumentID string) int {
	return b.send("qry_order", h, func(api femas.TraderAPI, id int) int {
		var req femas.QryOrderField
		femas.CopyField(req.BrokerID[:], brokerID)
		femas.CopyField(req.InvestorID[:], investorID)
		femas.CopyField(req.InstrumentID[:], instrumentID)
		return api.ReqQryOrder(&req, id)
	})
}

// ReqQryTrade queries the investor's trades of the trading day.
func (b *TraderBridge) ReqQryTrade(h Handle, brokerID, investorID, instrumentID string) int {
	return b.send("qry_trade", h, func(api femas.TraderAPI, id int) int {
		var req femas.QryTradeField
		femas.CopyField(req.BrokerID[:], brokerID)
		femas.CopyField(req.InvestorID[:], investorID)
		femas.CopyField(req.InstrumentID[:], instrumentID)
		return api.ReqQryTrade(&req, id)
	})
}
