package bridge

import (
	"sync/atomic"

	"github.com/ajitpratap0/femasgate/internal/femas"
)

// marketRelay is the femas.MarketSpi registered with one market session.
type marketRelay struct {
	relayCore
	sink atomic.Pointer[MarketSink]
}

var _ femas.MarketSpi = (*marketRelay)(nil)

func newMarketRelay(core relayCore, sink MarketSink) *marketRelay {
	r := &marketRelay{relayCore: core}
	r.sink.Store(&sink)
	return r
}

func (r *marketRelay) close() {
	r.gate.Close()
	r.sink.Store(nil)
}

func (r *marketRelay) with(event string, fn func(s MarketSink)) {
	r.deliver(event, func() {
		s := r.sink.Load()
		if s == nil {
			return
		}
		fn(*s)
	})
}

func (r *marketRelay) OnFrontConnected() {
	r.with("front_connected", func(s MarketSink) { s.OnFrontConnected() })
}

func (r *marketRelay) OnFrontDisconnected(reason int) {
	r.with("front_disconnected", func(s MarketSink) { s.OnFrontDisconnected(reason) })
}

func (r *marketRelay) OnRspUserLogin(rsp *femas.RspUserLoginField, info *femas.RspInfoField, _ int, isLast bool) {
	const event = "rsp_user_login"
	if !isLast {
		r.suppress(event)
		return
	}
	var tradingDay, loginTime, brokerID, userID string
	if rsp != nil {
		tradingDay = femas.FieldString(rsp.TradingDay[:])
		loginTime = femas.FieldString(rsp.LoginTime[:])
		brokerID = femas.FieldString(rsp.BrokerID[:])
		userID = femas.FieldString(rsp.UserID[:])
	}
	i := r.info(info)
	r.with(event, func(s MarketSink) {
		s.OnRspUserLogin(tradingDay, loginTime, brokerID, userID, i.ErrorID, i.ErrorMsg)
	})
}

func (r *marketRelay) OnRspUserLogout(rsp *femas.RspUserLogoutField, info *femas.RspInfoField, _ int, _ bool) {
	var userID string
	if rsp != nil {
		userID = femas.FieldString(rsp.UserID[:])
	}
	i := r.info(info)
	r.with("rsp_user_logout", func(s MarketSink) { s.OnRspUserLogout(userID, i.ErrorID, i.ErrorMsg) })
}

func instrumentOf(rsp *femas.SpecificInstrumentField) string {
	if rsp == nil {
		return ""
	}
	return femas.FieldString(rsp.InstrumentID[:])
}

func (r *marketRelay) OnRspSubMarketData(rsp *femas.SpecificInstrumentField, info *femas.RspInfoField, _ int, isLast bool) {
	id, i := instrumentOf(rsp), r.info(info)
	r.with("rsp_sub_market_data", func(s MarketSink) { s.OnRspSubMarketData(id, i.ErrorID, i.ErrorMsg, isLast) })
}

func (r *marketRelay) OnRspUnSubMarketData(rsp *femas.SpecificInstrumentField, info *femas.RspInfoField, _ int, isLast bool) {
	id, i := instrumentOf(rsp), r.info(info)
	r.with("rsp_unsub_market_data", func(s MarketSink) { s.OnRspUnSubMarketData(id, i.ErrorID, i.ErrorMsg, isLast) })
}

func (r *marketRelay) OnRtnDepthMarketData(d *femas.DepthMarketDataField) {
	if d == nil {
		return
	}
	data := marketData(d)
	r.with("rtn_depth_market_data", func(s MarketSink) { s.OnRtnDepthMarketData(data) })
}
