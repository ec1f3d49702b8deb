package trading

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/femas"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// sink receives the session's callbacks. It implements every optional trader
// capability of the bridge.
type sink struct {
	s *Service
}

var (
	_ bridge.TraderSink      = (*sink)(nil)
	_ bridge.SessionSink     = (*sink)(nil)
	_ bridge.LogoutSink      = (*sink)(nil)
	_ bridge.OrderActionSink = (*sink)(nil)
	_ bridge.QuerySink       = (*sink)(nil)
)

func (k *sink) OnFrontConnected() {
	s := k.s
	s.mu.Lock()
	s.connected = true
	s.disconnectReason = 0
	relogin := s.cfg.AutoLogin || s.wantLogin
	s.mu.Unlock()

	s.log.Info().Str("front", s.cfg.FrontAddress).Msg("Trader front connected")
	metrics.SetSessionState(metrics.BridgeTrader, "connected", true)
	s.publish(events.TopicConnection, true, "trader front connected", nil)

	if relogin && s.ctx.Err() == nil {
		go s.relogin()
	}
}

func (k *sink) OnFrontDisconnected(reason int) {
	s := k.s
	s.mu.Lock()
	s.connected = false
	s.loggedIn = false
	s.disconnectReason = reason
	s.mu.Unlock()

	s.log.Warn().Str("reason", fmt.Sprintf("%#x", reason)).Msg("Trader front disconnected")
	metrics.SetSessionState(metrics.BridgeTrader, "connected", false)
	metrics.SetSessionState(metrics.BridgeTrader, "logged_in", false)
	s.publish(events.TopicConnection, false, "trader front disconnected", map[string]int{"reason": reason})
	s.failPending(fmt.Errorf("%w: disconnected with reason %#x", ErrNotConnected, reason))
}

func (k *sink) OnRspAuthenticate(authCode string, errorID int, errorMsg string) {
	s := k.s
	if errorID != 0 {
		s.log.Error().Int("error_id", errorID).Str("error_msg", errorMsg).Msg("Authentication failed")
		metrics.RecordVendorError(errorMsg)
		s.completeLogin(&VendorError{Op: "authenticate", ID: errorID, Msg: errorMsg})
		return
	}

	s.log.Info().Msg("Authenticated, logging in")
	if id := s.client.ReqUserLogin(s.cfg.BrokerID, s.cfg.UserID, s.cfg.Password); id < 0 {
		s.completeLogin(ErrSendFailed)
	}
}

// OnLoginSession records the ids the front assigned to this login. Order refs
// continue above the front's maximum.
func (k *sink) OnLoginSession(frontID, sessionID int, maxOrderRef string) {
	s := k.s
	s.mu.Lock()
	s.frontID, s.sessionID = frontID, sessionID
	s.mu.Unlock()

	if n, err := strconv.ParseInt(strings.TrimSpace(maxOrderRef), 10, 64); err == nil {
		for cur := s.orderRef.Load(); n > cur && !s.orderRef.CompareAndSwap(cur, n); cur = s.orderRef.Load() {
		}
	}
	s.log.Debug().Int("front_id", frontID).Int("session_id", sessionID).Str("max_order_ref", maxOrderRef).Msg("Session assigned")
}

func (k *sink) OnRspUserLogin(tradingDay, loginTime, brokerID, userID string, errorID int, errorMsg string) {
	s := k.s
	if errorID != 0 {
		s.log.Error().Int("error_id", errorID).Str("error_msg", errorMsg).Msg("Login failed")
		metrics.RecordVendorError(errorMsg)
		s.publish(events.TopicLogin, false, "login failed: "+errorMsg, nil)
		s.completeLogin(&VendorError{Op: "login", ID: errorID, Msg: errorMsg})
		return
	}

	s.mu.Lock()
	s.loggedIn = true
	s.wantLogin = true
	s.tradingDay = tradingDay
	s.loginTime = loginTime
	s.mu.Unlock()

	s.log.Info().
		Str("trading_day", tradingDay).
		Str("login_time", loginTime).
		Str("broker_id", brokerID).
		Str("user_id", userID).
		Msg("Logged in")
	metrics.SetSessionState(metrics.BridgeTrader, "logged_in", true)
	s.publish(events.TopicLogin, true, "logged in", map[string]string{
		"tradingDay": tradingDay,
		"loginTime":  loginTime,
		"userId":     userID,
	})
	s.completeLogin(nil)
}

func (k *sink) OnRspUserLogout(userID string, errorID int, errorMsg string) {
	s := k.s
	if errorID != 0 {
		metrics.RecordVendorError(errorMsg)
		s.completeLogout(&VendorError{Op: "logout", ID: errorID, Msg: errorMsg})
		return
	}

	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()

	s.log.Info().Str("user_id", userID).Msg("Logged out")
	metrics.SetSessionState(metrics.BridgeTrader, "logged_in", false)
	s.publish(events.TopicLogin, false, "logged out", nil)
	s.completeLogout(nil)
}

func (k *sink) OnRspOrderInsert(orderRef string, errorID int, errorMsg string) {
	s := k.s
	s.mu.Lock()
	ch, ok := s.inserts[orderRef]
	delete(s.inserts, orderRef)
	s.mu.Unlock()

	var err error
	if errorID != 0 {
		err = &VendorError{Op: "order insert", ID: errorID, Msg: errorMsg}
		s.log.Warn().Str("order_ref", orderRef).Int("error_id", errorID).Str("error_msg", errorMsg).Msg("Order rejected")
		metrics.RecordVendorError(errorMsg)
		s.publish(events.TopicOrders, false, "order rejected: "+errorMsg, map[string]any{
			"orderRef": orderRef,
			"errorId":  errorID,
		})
	}
	if ok {
		ch <- err
	}
}

func (k *sink) OnRspOrderAction(orderRef string, errorID int, errorMsg string) {
	s := k.s
	s.mu.Lock()
	ch, ok := s.actions[orderRef]
	delete(s.actions, orderRef)
	s.mu.Unlock()

	var err error
	if errorID != 0 {
		err = &VendorError{Op: "order action", ID: errorID, Msg: errorMsg}
		s.log.Warn().Str("order_ref", orderRef).Int("error_id", errorID).Str("error_msg", errorMsg).Msg("Order action rejected")
		metrics.RecordVendorError(errorMsg)
	}
	if ok {
		ch <- err
	}
}

func (k *sink) OnRtnOrder(orderSysID, orderRef, instrumentID string, direction femas.Direction, offsetFlag femas.OffsetFlag,
	price float64, volume int, orderStatus femas.OrderStatus) {
	s := k.s
	s.mu.Lock()
	o, known := s.orders[orderRef]
	if !known {
		o = &bridge.Order{OrderRef: orderRef}
		s.orders[orderRef] = o
		s.orderSeq = append(s.orderSeq, orderRef)
	}
	o.OrderSysID = orderSysID
	o.InstrumentID = instrumentID
	o.Direction = direction.String()
	o.OffsetFlag = offsetFlag.String()
	o.Price = price
	o.Volume = volume
	o.Status = orderStatus.String()
	ch, pending := s.inserts[orderRef]
	delete(s.inserts, orderRef)
	if pending {
		o.FrontID, o.SessionID = s.frontID, s.sessionID
	}
	snapshot := *o
	tradingDay := s.tradingDay
	s.mu.Unlock()

	if pending {
		ch <- nil
	}

	s.log.Info().
		Str("order_sys_id", orderSysID).
		Str("order_ref", orderRef).
		Str("instrument", instrumentID).
		Str("status", snapshot.Status).
		Msg("Order return")
	s.publish(events.TopicOrders, true, "order return", snapshot)
	if s.journal != nil {
		s.enqueueJournal(func(ctx context.Context) {
			if err := s.journal.SaveOrder(ctx, tradingDay, snapshot); err != nil {
				s.log.Error().Err(err).Str("order_ref", orderRef).Msg("Failed to journal order")
			}
		})
	}
}

func (k *sink) OnRtnTrade(tradeID, orderRef, instrumentID string, direction femas.Direction, offsetFlag femas.OffsetFlag,
	price float64, volume int, tradeTime string) {
	s := k.s
	s.mu.Lock()
	t := bridge.Trade{
		TradeID:      tradeID,
		OrderRef:     orderRef,
		InstrumentID: instrumentID,
		Direction:    direction.String(),
		OffsetFlag:   offsetFlag.String(),
		Price:        price,
		Volume:       volume,
		TradeTime:    tradeTime,
		TradingDay:   s.tradingDay,
	}
	if o, ok := s.orders[orderRef]; ok {
		o.VolumeTraded += volume
		t.OrderSysID = o.OrderSysID
	}
	s.trades = append(s.trades, t)
	s.mu.Unlock()

	s.log.Info().
		Str("trade_id", tradeID).
		Str("instrument", instrumentID).
		Float64("price", price).
		Int("volume", volume).
		Msg("Trade return")
	metrics.Trades.Inc()
	s.publish(events.TopicTrades, true, "trade return", t)
	if s.journal != nil {
		s.enqueueJournal(func(ctx context.Context) {
			if err := s.journal.SaveTrade(ctx, t.TradingDay, t); err != nil {
				s.log.Error().Err(err).Str("trade_id", tradeID).Msg("Failed to journal trade")
			}
		})
	}
}

func (k *sink) OnRspQryInvestorPosition(p *bridge.Position, info bridge.RspInfo, requestID int, isLast bool) {
	var rec any
	if p != nil {
		rec = *p
	}
	k.s.queryFrame(requestID, rec, info, isLast)
}

func (k *sink) OnRspQryTradingAccount(a *bridge.Account, info bridge.RspInfo, requestID int, isLast bool) {
	var rec any
	if a != nil {
		rec = *a
	}
	k.s.queryFrame(requestID, rec, info, isLast)
}

func (k *sink) OnRspQryInstrument(i *bridge.Instrument, info bridge.RspInfo, requestID int, isLast bool) {
	var rec any
	if i != nil {
		rec = *i
	}
	k.s.queryFrame(requestID, rec, info, isLast)
}

func (k *sink) OnRspQryOrder(o *bridge.Order, info bridge.RspInfo, requestID int, isLast bool) {
	var rec any
	if o != nil {
		rec = *o
	}
	k.s.queryFrame(requestID, rec, info, isLast)
}

func (k *sink) OnRspQryTrade(t *bridge.Trade, info bridge.RspInfo, requestID int, isLast bool) {
	var rec any
	if t != nil {
		rec = *t
	}
	k.s.queryFrame(requestID, rec, info, isLast)
}
