package market

import (
	"fmt"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/metrics"
	"github.com/ajitpratap0/femasgate/internal/trading"
)

type sink struct {
	s *Service
}

var _ bridge.MarketSink = (*sink)(nil)

func (k *sink) OnFrontConnected() {
	s := k.s
	s.mu.Lock()
	s.connected = true
	relogin := s.cfg.AutoLogin || s.wantLogin
	s.mu.Unlock()

	s.log.Info().Str("front", s.cfg.FrontAddress).Msg("Market front connected")
	metrics.SetSessionState(metrics.BridgeMarket, "connected", true)
	s.publish(events.TopicConnection, true, "market front connected", nil)

	if relogin && s.ctx.Err() == nil {
		go s.relogin()
	}
}

func (k *sink) OnFrontDisconnected(reason int) {
	s := k.s
	s.mu.Lock()
	s.connected = false
	s.loggedIn = false
	s.mu.Unlock()

	s.log.Warn().Str("reason", fmt.Sprintf("%#x", reason)).Msg("Market front disconnected")
	metrics.SetSessionState(metrics.BridgeMarket, "connected", false)
	metrics.SetSessionState(metrics.BridgeMarket, "logged_in", false)
	s.publish(events.TopicConnection, false, "market front disconnected", map[string]int{"reason": reason})
	s.failPending(fmt.Errorf("%w: disconnected with reason %#x", trading.ErrNotConnected, reason))
}

func (k *sink) OnRspUserLogin(tradingDay, loginTime, _, userID string, errorID int, errorMsg string) {
	s := k.s
	if errorID != 0 {
		s.log.Error().Int("error_id", errorID).Str("error_msg", errorMsg).Msg("Market login failed")
		metrics.RecordVendorError(errorMsg)
		s.publish(events.TopicLogin, false, "market login failed: "+errorMsg, nil)
		s.complete(&s.loginWaiters, &trading.VendorError{Op: "market login", ID: errorID, Msg: errorMsg})
		return
	}

	s.mu.Lock()
	s.loggedIn = true
	s.wantLogin = true
	s.tradingDay = tradingDay
	s.loginTime = loginTime
	s.mu.Unlock()

	s.log.Info().Str("trading_day", tradingDay).Str("user_id", userID).Msg("Market logged in")
	metrics.SetSessionState(metrics.BridgeMarket, "logged_in", true)
	s.publish(events.TopicLogin, true, "market logged in", map[string]string{"tradingDay": tradingDay})
	s.complete(&s.loginWaiters, nil)
	s.resubscribe()
}

func (k *sink) OnRspUserLogout(userID string, errorID int, errorMsg string) {
	s := k.s
	if errorID != 0 {
		metrics.RecordVendorError(errorMsg)
		s.complete(&s.logoutWaiters, &trading.VendorError{Op: "market logout", ID: errorID, Msg: errorMsg})
		return
	}

	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()

	s.log.Info().Str("user_id", userID).Msg("Market logged out")
	metrics.SetSessionState(metrics.BridgeMarket, "logged_in", false)
	s.publish(events.TopicLogin, false, "market logged out", nil)
	s.complete(&s.logoutWaiters, nil)
}

func (k *sink) OnRspSubMarketData(instrumentID string, errorID int, errorMsg string, isLast bool) {
	s := k.s
	if errorID != 0 {
		s.log.Warn().Str("instrument", instrumentID).Int("error_id", errorID).Str("error_msg", errorMsg).Msg("Subscription rejected")
	}
	b := s.frame(&s.subs, "subscribe", instrumentID, errorID, errorMsg, isLast)
	if b == nil {
		return
	}

	ids := b.accepted()
	s.mu.Lock()
	for _, id := range ids {
		s.subscriptions[id] = struct{}{}
	}
	n := len(s.subscriptions)
	s.mu.Unlock()

	metrics.SubscribedInstruments.Set(float64(n))
	s.log.Info().Strs("instruments", ids).Msg("Subscribed")
	b.finish(nil)
}

func (k *sink) OnRspUnSubMarketData(instrumentID string, errorID int, errorMsg string, isLast bool) {
	s := k.s
	b := s.frame(&s.unsubs, "unsubscribe", instrumentID, errorID, errorMsg, isLast)
	if b == nil {
		return
	}

	ids := b.accepted()
	s.mu.Lock()
	for _, id := range ids {
		delete(s.subscriptions, id)
	}
	n := len(s.subscriptions)
	s.mu.Unlock()

	metrics.SubscribedInstruments.Set(float64(n))
	s.log.Info().Strs("instruments", ids).Msg("Unsubscribed")
	b.finish(nil)
}

func (k *sink) OnRtnDepthMarketData(md bridge.MarketData) {
	s := k.s
	snap := s.cache.Update(md)
	metrics.MarketTicks.Inc()
	s.mirror(snap)
	s.publish(events.TopicMarket, true, "depth market data", snap)
	s.publish(events.MarketTopic(md.InstrumentID), true, "depth market data", snap)
	if snap.ExchangeID != "" {
		s.publish(events.ExchangeTopic(snap.ExchangeID), true, "depth market data", snap)
	}
}
