package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/femasgate/internal/femas"
)

// fakeTrader records requests and lets tests drive callbacks directly.
type fakeTrader struct {
	mu       sync.Mutex
	spi      femas.TraderSpi
	fronts   []string
	rc       int
	calls    []string
	ids      []int
	login    femas.ReqUserLoginField
	auth     femas.ReqAuthenticateField
	order    femas.InputOrderField
	action   femas.OrderActionField
	position femas.QryInvestorPositionField
	inited   bool
	released int
	joined   chan struct{}
	joining  chan struct{}
}

func newFakeTrader() *fakeTrader {
	return &fakeTrader{joined: make(chan struct{}), joining: make(chan struct{}, 1)}
}

func (f *fakeTrader) record(call string, id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.ids = append(f.ids, id)
	return f.rc
}

func (f *fakeTrader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTrader) RegisterSpi(spi femas.TraderSpi) { f.spi = spi }
func (f *fakeTrader) RegisterFront(address string) {
	f.mu.Lock()
	f.fronts = append(f.fronts, address)
	f.mu.Unlock()
}
func (f *fakeTrader) Init() {
	f.mu.Lock()
	f.inited = true
	f.mu.Unlock()
}
func (f *fakeTrader) Join() int {
	f.joining <- struct{}{}
	<-f.joined
	return 0
}
func (f *fakeTrader) Release() {
	f.mu.Lock()
	f.released++
	if f.released == 1 {
		close(f.joined)
	}
	f.mu.Unlock()
}

func (f *fakeTrader) ReqAuthenticate(req *femas.ReqAuthenticateField, id int) int {
	f.auth = *req
	return f.record("authenticate", id)
}
func (f *fakeTrader) ReqUserLogin(req *femas.ReqUserLoginField, id int) int {
	f.login = *req
	return f.record("login", id)
}
func (f *fakeTrader) ReqUserLogout(_ *femas.ReqUserLogoutField, id int) int {
	return f.record("logout", id)
}
func (f *fakeTrader) ReqOrderInsert(req *femas.InputOrderField, id int) int {
	f.order = *req
	return f.record("order_insert", id)
}
func (f *fakeTrader) ReqOrderAction(req *femas.OrderActionField, id int) int {
	f.action = *req
	return f.record("order_action", id)
}
func (f *fakeTrader) ReqQryInvestorPosition(req *femas.QryInvestorPositionField, id int) int {
	f.position = *req
	return f.record("qry_position", id)
}
func (f *fakeTrader) ReqQryTradingAccount(_ *femas.QryTradingAccountField, id int) int {
	return f.record("qry_account", id)
}
func (f *fakeTrader) ReqQryInstrument(_ *femas.QryInstrumentField, id int) int {
	return f.record("qry_instrument", id)
}
func (f *fakeTrader) ReqQryOrder(_ *femas.QryOrderField, id int) int {
	return f.record("qry_order", id)
}
func (f *fakeTrader) ReqQryTrade(_ *femas.QryTradeField, id int) int {
	return f.record("qry_trade", id)
}

func fakeFactory(f *fakeTrader) femas.TraderAPIFactory {
	return func(string) (femas.TraderAPI, error) { return f, nil }
}

type sinkCall struct {
	name string
	args []any
}

// recordingSink implements TraderSink and every optional trader capability.
type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
	ch    chan sinkCall
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan sinkCall, 256)}
}

func (s *recordingSink) add(name string, args ...any) {
	c := sinkCall{name: name, args: args}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	s.ch <- c
}

func (s *recordingSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

func (s *recordingSink) last(name string) (sinkCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].name == name {
			return s.calls[i], true
		}
	}
	return sinkCall{}, false
}

func (s *recordingSink) wait(t *testing.T, name string) sinkCall {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case c := <-s.ch:
			if c.name == name {
				return c
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", name)
			return sinkCall{}
		}
	}
}

func (s *recordingSink) OnFrontConnected() { s.add("connected") }
func (s *recordingSink) OnFrontDisconnected(reason int) { s.add("disconnected", reason) }
func (s *recordingSink) OnRspAuthenticate(authCode string, errorID int, errorMsg string) {
	s.add("auth", authCode, errorID, errorMsg)
}
func (s *recordingSink) OnRspUserLogin(tradingDay, loginTime, brokerID, userID string, errorID int, errorMsg string) {
	s.add("login", tradingDay, loginTime, brokerID, userID, errorID, errorMsg)
}
func (s *recordingSink) OnLoginSession(frontID, sessionID int, maxOrderRef string) {
	s.add("session", frontID, sessionID, maxOrderRef)
}
func (s *recordingSink) OnRspOrderInsert(orderRef string, errorID int, errorMsg string) {
	s.add("insert", orderRef, errorID, errorMsg)
}
func (s *recordingSink) OnRtnOrder(orderSysID, orderRef, instrumentID string, direction femas.Direction, offsetFlag femas.OffsetFlag,
	price float64, volume int, orderStatus femas.OrderStatus) {
	s.add("order", orderSysID, orderRef, instrumentID, direction, offsetFlag, price, volume, orderStatus)
}
func (s *recordingSink) OnRtnTrade(tradeID, orderRef, instrumentID string, direction femas.Direction, offsetFlag femas.OffsetFlag,
	price float64, volume int, tradeTime string) {
	s.add("trade", tradeID, orderRef, instrumentID, direction, offsetFlag, price, volume, tradeTime)
}
func (s *recordingSink) OnRspUserLogout(userID string, errorID int, errorMsg string) {
	s.add("logout", userID, errorID, errorMsg)
}
func (s *recordingSink) OnRspOrderAction(orderRef string, errorID int, errorMsg string) {
	s.add("action", orderRef, errorID, errorMsg)
}
func (s *recordingSink) OnRspQryInvestorPosition(p *Position, info RspInfo, requestID int, isLast bool) {
	s.add("qry_position", p, info, requestID, isLast)
}
func (s *recordingSink) OnRspQryTradingAccount(a *Account, info RspInfo, requestID int, isLast bool) {
	s.add("qry_account", a, info, requestID, isLast)
}
func (s *recordingSink) OnRspQryInstrument(i *Instrument, info RspInfo, requestID int, isLast bool) {
	s.add("qry_instrument", i, info, requestID, isLast)
}
func (s *recordingSink) OnRspQryOrder(o *Order, info RspInfo, requestID int, isLast bool) {
	s.add("qry_order", o, info, requestID, isLast)
}
func (s *recordingSink) OnRspQryTrade(tr *Trade, info RspInfo, requestID int, isLast bool) {
	s.add("qry_trade", tr, info, requestID, isLast)
}
