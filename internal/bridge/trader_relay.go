package bridge

import (
	"sync/atomic"

	"github.com/ajitpratap0/femasgate/internal/femas"
)

// traderSinks is the sink set resolved once at Create. Optional capabilities
// are nil when the sink does not implement them.
type traderSinks struct {
	core    TraderSink
	session SessionSink
	logout  LogoutSink
	action  OrderActionSink
	query   QuerySink
}

func resolveTraderSinks(sink TraderSink) *traderSinks {
	s := &traderSinks{core: sink}
	s.session, _ = sink.(SessionSink)
	s.logout, _ = sink.(LogoutSink)
	s.action, _ = sink.(OrderActionSink)
	s.query, _ = sink.(QuerySink)
	return s
}

// traderRelay is the femas.TraderSpi registered with one vendor session.
type traderRelay struct {
	relayCore
	sinks atomic.Pointer[traderSinks]
}

var _ femas.TraderSpi = (*traderRelay)(nil)

func newTraderRelay(core relayCore, sink TraderSink) *traderRelay {
	r := &traderRelay{relayCore: core}
	r.sinks.Store(resolveTraderSinks(sink))
	return r
}

// close rejects later callbacks and drops the sink reference.
func (r *traderRelay) close() {
	r.gate.Close()
	r.sinks.Store(nil)
}

// with delivers fn to the current sink set, or drops the callback after close.
func (r *traderRelay) with(event string, fn func(s *traderSinks)) {
	r.deliver(event, func() {
		s := r.sinks.Load()
		if s == nil {
			return
		}
		fn(s)
	})
}

func (r *traderRelay) OnFrontConnected() {
	r.with("front_connected", func(s *traderSinks) { s.core.OnFrontConnected() })
}

func (r *traderRelay) OnFrontDisconnected(reason int) {
	r.with("front_disconnected", func(s *traderSinks) { s.core.OnFrontDisconnected(reason) })
}

func (r *traderRelay) OnRspAuthenticate(rsp *femas.RspAuthenticateField, info *femas.RspInfoField, _ int, isLast bool) {
	const event = "rsp_authenticate"
	if !isLast {
		r.suppress(event)
		return
	}
	var authCode string
	if rsp != nil {
		authCode = femas.FieldString(rsp.AuthCode[:])
	}
	i := r.info(info)
	r.with(event, func(s *traderSinks) { s.core.OnRspAuthenticate(authCode, i.ErrorID, i.ErrorMsg) })
}

func (r *traderRelay) OnRspUserLogin(rsp *femas.RspUserLoginField, info *femas.RspInfoField, _ int, isLast bool) {
	const event = "rsp_user_login"
	if !isLast {
		r.suppress(event)
		return
	}
	var tradingDay, loginTime, brokerID, userID, maxOrderRef string
	var frontID, sessionID int
	if rsp != nil {
		tradingDay = femas.FieldString(rsp.TradingDay[:])
		loginTime = femas.FieldString(rsp.LoginTime[:])
		brokerID = femas.FieldString(rsp.BrokerID[:])
		userID = femas.FieldString(rsp.UserID[:])
		maxOrderRef = femas.FieldString(rsp.MaxOrderRef[:])
		frontID, sessionID = int(rsp.FrontID), int(rsp.SessionID)
	}
	i := r.info(info)
	r.with(event, func(s *traderSinks) {
		if s.session != nil && !i.Failed() {
			s.session.OnLoginSession(frontID, sessionID, maxOrderRef)
		}
		s.core.OnRspUserLogin(tradingDay, loginTime, brokerID, userID, i.ErrorID, i.ErrorMsg)
	})
}

func (r *traderRelay) OnRspUserLogout(rsp *femas.RspUserLogoutField, info *femas.RspInfoField, _ int, _ bool) {
	const event = "rsp_user_logout"
	var userID string
	if rsp != nil {
		userID = femas.FieldString(rsp.UserID[:])
	}
	i := r.info(info)
	r.with(event, func(s *traderSinks) {
		if s.logout == nil {
			r.unhandled(event)
			return
		}
		s.logout.OnRspUserLogout(userID, i.ErrorID, i.ErrorMsg)
	})
}

func (r *traderRelay) OnRspOrderInsert(rsp *femas.InputOrderField, info *femas.RspInfoField, _ int, _ bool) {
	var orderRef string
	if rsp != nil {
		orderRef = femas.FieldString(rsp.OrderRef[:])
	}
	i := r.info(info)
	r.with("rsp_order_insert", func(s *traderSinks) { s.core.OnRspOrderInsert(orderRef, i.ErrorID, i.ErrorMsg) })
}

func (r *traderRelay) OnRspOrderAction(rsp *femas.OrderActionField, info *femas.RspInfoField, _ int, _ bool) {
	const event = "rsp_order_action"
	var orderRef string
	if rsp != nil {
		orderRef = femas.FieldString(rsp.OrderRef[:])
	}
	i := r.info(info)
	r.with(event, func(s *traderSinks) {
		if s.action == nil {
			r.unhandled(event)
			return
		}
		s.action.OnRspOrderAction(orderRef, i.ErrorID, i.ErrorMsg)
	})
}

func (r *traderRelay) OnRtnOrder(o *femas.OrderField) {
	if o == nil {
		return
	}
	var (
		sysID      = femas.FieldString(o.OrderSysID[:])
		ref        = femas.FieldString(o.OrderRef[:])
		instrument = femas.FieldString(o.InstrumentID[:])
		dir        = o.Direction
		offset     = o.OffsetFlag
		price      = o.LimitPrice
		volume     = int(o.Volume)
		status     = o.OrderStatus
	)
	r.with("rtn_order", func(s *traderSinks) {
		s.core.OnRtnOrder(sysID, ref, instrument, dir, offset, price, volume, status)
	})
}

func (r *traderRelay) OnRtnTrade(t *femas.TradeField) {
	if t == nil {
		return
	}
	var (
		tradeID    = femas.FieldString(t.TradeID[:])
		ref        = femas.FieldString(t.OrderRef[:])
		instrument = femas.FieldString(t.InstrumentID[:])
		dir        = t.Direction
		offset     = t.OffsetFlag
		price      = t.Price
		volume     = int(t.Volume)
		tradeTime  = femas.FieldString(t.TradeTime[:])
	)
	r.with("rtn_trade", func(s *traderSinks) {
		s.core.OnRtnTrade(tradeID, ref, instrument, dir, offset, price, volume, tradeTime)
	})
}

// withQuery delivers a query frame to the QuerySink capability.
func (r *traderRelay) withQuery(event string, fn func(q QuerySink)) {
	r.with(event, func(s *traderSinks) {
		if s.query == nil {
			r.unhandled(event)
			return
		}
		fn(s.query)
	})
}

func (r *traderRelay) OnRspQryInvestorPosition(rsp *femas.RspInvestorPositionField, info *femas.RspInfoField, requestID int, isLast bool) {
	p, i := r.position(rsp), r.info(info)
	r.withQuery("rsp_qry_investor_position", func(q QuerySink) { q.OnRspQryInvestorPosition(p, i, requestID, isLast) })
}

func (r *traderRelay) OnRspQryTradingAccount(rsp *femas.RspTradingAccountField, info *femas.RspInfoField, requestID int, isLast bool) {
	a, i := r.account(rsp), r.info(info)
	r.withQuery("rsp_qry_trading_account", func(q QuerySink) { q.OnRspQryTradingAccount(a, i, requestID, isLast) })
}

func (r *traderRelay) OnRspQryInstrument(rsp *femas.RspInstrumentField, info *femas.RspInfoField, requestID int, isLast bool) {
	inst, i := r.instrument(rsp), r.info(info)
	r.withQuery("rsp_qry_instrument", func(q QuerySink) { q.OnRspQryInstrument(inst, i, requestID, isLast) })
}

func (r *traderRelay) OnRspQryOrder(rsp *femas.OrderField, info *femas.RspInfoField, requestID int, isLast bool) {
	o, i := r.order(rsp), r.info(info)
	r.withQuery("rsp_qry_order", func(q QuerySink) { q.OnRspQryOrder(o, i, requestID, isLast) })
}

func (r *traderRelay) OnRspQryTrade(rsp *femas.TradeField, info *femas.RspInfoField, requestID int, isLast bool) {
	t, i := r.trade(rsp), r.info(info)
	r.withQuery("rsp_qry_trade", func(q QuerySink) { q.OnRspQryTrade(t, i, requestID, isLast) })
}
