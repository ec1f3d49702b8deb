package femas

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spiEvent struct {
	name      string
	requestID int
	isLast    bool
	info      *RspInfoField
	payload   any
}

// recordingSpi captures every trader and market callback in order.
type recordingSpi struct {
	mu     sync.Mutex
	events []spiEvent
	ch     chan spiEvent
}

func newRecordingSpi() *recordingSpi {
	return &recordingSpi{ch: make(chan spiEvent, 256)}
}

func (r *recordingSpi) add(e spiEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.ch <- e
}

// wait returns the next event with the given name.
func (r *recordingSpi) wait(t *testing.T, name string) spiEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e.name == name {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", name)
			return spiEvent{}
		}
	}
}

func (r *recordingSpi) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.name == name {
			n++
		}
	}
	return n
}

func (r *recordingSpi) OnFrontConnected()       { r.add(spiEvent{name: "connected"}) }
func (r *recordingSpi) OnFrontDisconnected(int) { r.add(spiEvent{name: "disconnected"}) }
func (r *recordingSpi) OnRspAuthenticate(rsp *RspAuthenticateField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"auth", id, last, info, rsp})
}
func (r *recordingSpi) OnRspUserLogin(rsp *RspUserLoginField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"login", id, last, info, rsp})
}
func (r *recordingSpi) OnRspUserLogout(rsp *RspUserLogoutField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"logout", id, last, info, rsp})
}
func (r *recordingSpi) OnRspOrderInsert(rsp *InputOrderField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"insert", id, last, info, rsp})
}
func (r *recordingSpi) OnRspOrderAction(rsp *OrderActionField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"action", id, last, info, rsp})
}
func (r *recordingSpi) OnRtnOrder(o *OrderField) { c := *o; r.add(spiEvent{name: "order", payload: &c}) }
func (r *recordingSpi) OnRtnTrade(t *TradeField) { c := *t; r.add(spiEvent{name: "trade", payload: &c}) }
func (r *recordingSpi) OnRspQryInvestorPosition(rsp *RspInvestorPositionField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"position", id, last, info, rsp})
}
func (r *recordingSpi) OnRspQryTradingAccount(rsp *RspTradingAccountField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"account", id, last, info, rsp})
}
func (r *recordingSpi) OnRspQryInstrument(rsp *RspInstrumentField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"instrument", id, last, info, rsp})
}
func (r *recordingSpi) OnRspQryOrder(rsp *OrderField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"qry_order", id, last, info, rsp})
}
func (r *recordingSpi) OnRspQryTrade(rsp *TradeField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"qry_trade", id, last, info, rsp})
}
func (r *recordingSpi) OnRspSubMarketData(rsp *SpecificInstrumentField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"sub", id, last, info, rsp})
}
func (r *recordingSpi) OnRspUnSubMarketData(rsp *SpecificInstrumentField, info *RspInfoField, id int, last bool) {
	r.add(spiEvent{"unsub", id, last, info, rsp})
}
func (r *recordingSpi) OnRtnDepthMarketData(d *DepthMarketDataField) {
	c := *d
	r.add(spiEvent{name: "tick", payload: &c})
}

func fastOptions() SimOptions {
	opts := DefaultSimOptions()
	opts.ConnectDelay = 0
	opts.ResponseDelay = 0
	opts.TickInterval = 10 * time.Millisecond
	opts.TradingDay = "20240101"
	opts.Seed = 42
	return opts
}

func startTrader(t *testing.T, opts SimOptions) (*SimTrader, *recordingSpi) {
	t.Helper()
	sim := NewSimTrader(opts)
	spi := newRecordingSpi()
	sim.RegisterSpi(spi)
	sim.RegisterFront("tcp://127.0.0.1:20002")
	sim.Init()
	t.Cleanup(sim.Release)
	spi.wait(t, "connected")
	return sim, spi
}

func login(t *testing.T, sim *SimTrader, spi *recordingSpi) {
	t.Helper()
	req := &ReqUserLoginField{}
	CopyField(req.BrokerID[:], "9999")
	CopyField(req.UserID[:], "u1")
	require.Equal(t, 0, sim.ReqUserLogin(req, 2))
	e := spi.wait(t, "login")
	require.Nil(t, e.info)
}

func limitOrder(ref string, dir Direction, offset OffsetFlag, price float64, volume int32) *InputOrderField {
	o := &InputOrderField{
		Direction:       dir,
		OffsetFlag:      offset,
		OrderPriceType:  PriceLimit,
		TimeCondition:   TimeGFD,
		VolumeCondition: VolumeAny,
		LimitPrice:      price,
		Volume:          volume,
	}
	CopyField(o.InstrumentID[:], "rb2501")
	CopyField(o.OrderRef[:], ref)
	return o
}

func TestSimTraderFactoryCreatesFlowDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flow", "trader")
	api, err := NewSimTraderFactory(fastOptions())(dir)
	require.NoError(t, err)
	require.NotNil(t, api)
	assert.DirExists(t, dir)
}

func TestSimTraderRejectsRequestsBeforeConnect(t *testing.T) {
	sim := NewSimTrader(fastOptions())
	assert.Equal(t, ReturnNetworkFailure, sim.ReqUserLogin(&ReqUserLoginField{}, 2))
}

// TestSimTraderLoginFrames tests that multi-frame responses flag only the last frame
func TestSimTraderLoginFrames(t *testing.T) {
	opts := fastOptions()
	opts.LoginFrames = 3
	sim, spi := startTrader(t, opts)

	require.Equal(t, 0, sim.ReqAuthenticate(&ReqAuthenticateField{}, 5))
	for i := 0; i < 3; i++ {
		e := spi.wait(t, "auth")
		assert.Equal(t, 5, e.requestID)
		assert.Equal(t, i == 2, e.isLast)
	}

	require.Equal(t, 0, sim.ReqUserLogin(&ReqUserLoginField{}, 6))
	var last spiEvent
	for i := 0; i < 3; i++ {
		last = spi.wait(t, "login")
	}
	assert.True(t, last.isLast)
	rsp := last.payload.(*RspUserLoginField)
	assert.Equal(t, "20240101", FieldString(rsp.TradingDay[:]))
}

func TestSimTraderBadPassword(t *testing.T) {
	opts := fastOptions()
	opts.Password = "secret"
	opts.Encoding = EncodingGBK
	sim, spi := startTrader(t, opts)

	req := &ReqUserLoginField{}
	CopyField(req.Password[:], "wrong")
	require.Equal(t, 0, sim.ReqUserLogin(req, 2))
	e := spi.wait(t, "login")
	require.NotNil(t, e.info)
	assert.Equal(t, int32(SimErrBadPassword), e.info.ErrorID)

	dec, err := NewDecoder(EncodingGBK)
	require.NoError(t, err)
	assert.Equal(t, "用户名或密码错误", dec.Decode(e.info.ErrorMsg[:]))
}

// TestSimTraderOrderLifecycle tests insert, partial fills and positions
func TestSimTraderOrderLifecycle(t *testing.T) {
	sim, spi := startTrader(t, fastOptions())
	login(t, sim, spi)

	require.Equal(t, 0, sim.ReqOrderInsert(limitOrder("1", DirectionBuy, OffsetOpen, 3600, 10), 3))

	ins := spi.wait(t, "insert")
	assert.Nil(t, ins.info)
	first := spi.wait(t, "order").payload.(*OrderField)
	assert.Equal(t, OrderStatusNoTradeQueueing, first.OrderStatus)

	var traded int32
	var final *OrderField
	for traded < 10 {
		final = spi.wait(t, "order").payload.(*OrderField)
		trade := spi.wait(t, "trade").payload.(*TradeField)
		assert.Equal(t, "1", FieldString(trade.OrderRef[:]))
		assert.LessOrEqual(t, trade.Price, 3600.0)
		traded += trade.Volume
	}
	assert.Equal(t, OrderStatusAllTraded, final.OrderStatus)
	assert.Greater(t, spi.count("trade"), 1, "large orders fill in parts")

	require.Equal(t, 0, sim.ReqQryInvestorPosition(&QryInvestorPositionField{}, 4))
	pos := spi.wait(t, "position")
	require.NotNil(t, pos.payload)
	p := pos.payload.(*RspInvestorPositionField)
	assert.True(t, pos.isLast)
	assert.Equal(t, PosiLong, p.PosiDirection)
	assert.Equal(t, int32(10), p.Position)

	require.Equal(t, 0, sim.ReqQryTradingAccount(&QryTradingAccountField{}, 5))
	acc := spi.wait(t, "account").payload.(*RspTradingAccountField)
	assert.Greater(t, acc.Margin, 0.0)
	assert.Less(t, acc.Available, acc.Balance)
}

func TestSimTraderCloseWithoutPosition(t *testing.T) {
	sim, spi := startTrader(t, fastOptions())
	login(t, sim, spi)

	require.Equal(t, 0, sim.ReqOrderInsert(limitOrder("1", DirectionSell, OffsetClose, 3500, 1), 3))
	e := spi.wait(t, "insert")
	require.NotNil(t, e.info)
	assert.Equal(t, int32(SimErrCloseExceedsPos), e.info.ErrorID)
}

func TestSimTraderOrderBeforeLogin(t *testing.T) {
	sim, spi := startTrader(t, fastOptions())

	require.Equal(t, 0, sim.ReqOrderInsert(limitOrder("1", DirectionBuy, OffsetOpen, 3500, 1), 3))
	e := spi.wait(t, "insert")
	require.NotNil(t, e.info)
	assert.Equal(t, int32(SimErrNotLoggedIn), e.info.ErrorID)
}

// TestSimTraderCancel tests order action on queued and unknown orders
func TestSimTraderCancel(t *testing.T) {
	opts := fastOptions()
	opts.HoldOrders = true
	sim, spi := startTrader(t, opts)
	login(t, sim, spi)

	require.Equal(t, 0, sim.ReqOrderInsert(limitOrder("7", DirectionBuy, OffsetOpen, 3500, 1), 3))
	queued := spi.wait(t, "order").payload.(*OrderField)
	require.NotZero(t, queued.SessionID)

	action := &OrderActionField{ActionFlag: ActionDelete}
	CopyField(action.OrderRef[:], "7")
	require.Equal(t, 0, sim.ReqOrderAction(action, 10))
	foreign := spi.wait(t, "action")
	require.NotNil(t, foreign.info, "ref without the owning session does not match")
	assert.Equal(t, int32(SimErrOrderNotFound), foreign.info.ErrorID)

	action.FrontID, action.SessionID = queued.FrontID, queued.SessionID
	require.Equal(t, 0, sim.ReqOrderAction(action, 4))
	rsp := spi.wait(t, "action")
	assert.Nil(t, rsp.info)
	canceled := spi.wait(t, "order").payload.(*OrderField)
	assert.Equal(t, OrderStatusCanceled, canceled.OrderStatus)

	require.Equal(t, 0, sim.ReqOrderAction(action, 5))
	again := spi.wait(t, "action")
	require.NotNil(t, again.info)
	assert.Equal(t, int32(SimErrOrderFinished), again.info.ErrorID)

	CopyField(action.OrderRef[:], "missing")
	require.Equal(t, 0, sim.ReqOrderAction(action, 6))
	missing := spi.wait(t, "action")
	require.NotNil(t, missing.info)
	assert.Equal(t, int32(SimErrOrderNotFound), missing.info.ErrorID)
}

// TestSimTraderEmptyQuery tests that an empty result is a single nil frame
func TestSimTraderEmptyQuery(t *testing.T) {
	sim, spi := startTrader(t, fastOptions())
	login(t, sim, spi)

	require.Equal(t, 0, sim.ReqQryTrade(&QryTradeField{}, 9))
	e := spi.wait(t, "qry_trade")
	assert.True(t, e.isLast)
	assert.Nil(t, e.payload.(*TradeField))
	assert.Equal(t, 9, e.requestID)
}

func TestSimTraderInstrumentQuery(t *testing.T) {
	sim, spi := startTrader(t, fastOptions())

	require.Equal(t, 0, sim.ReqQryInstrument(&QryInstrumentField{}, 3))
	var frames []spiEvent
	for {
		e := spi.wait(t, "instrument")
		frames = append(frames, e)
		if e.isLast {
			break
		}
	}
	assert.Len(t, frames, len(DefaultSimInstruments()))
	first := frames[0].payload.(*RspInstrumentField)
	assert.Equal(t, "au2502", FieldString(first.InstrumentID[:]))
	assert.Equal(t, "SHFE", FieldString(first.ExchangeID[:]))
}

func TestSimTraderJoinReturnsAfterRelease(t *testing.T) {
	sim := NewSimTrader(fastOptions())
	sim.Init()

	done := make(chan int)
	go func() { done <- sim.Join() }()

	select {
	case <-done:
		t.Fatal("Join returned before Release")
	case <-time.After(20 * time.Millisecond):
	}

	sim.Release()
	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(time.Second):
		t.Fatal("Join did not return after Release")
	}
}

func TestSimTraderDisconnectReconnects(t *testing.T) {
	sim, spi := startTrader(t, fastOptions())
	login(t, sim, spi)

	sim.Disconnect(ReasonHeartbeatTimeout)
	spi.wait(t, "disconnected")
	spi.wait(t, "connected")

	require.Equal(t, 0, sim.ReqQryOrder(&QryOrderField{}, 3))
	e := spi.wait(t, "qry_order")
	require.NotNil(t, e.info, "session must log in again after reconnect")
}

func TestSplitVolume(t *testing.T) {
	assert.Equal(t, []int32{3}, splitVolume(3, 5))
	parts := splitVolume(10, 5)
	var sum int32
	for _, p := range parts {
		assert.Positive(t, p)
		sum += p
	}
	assert.Equal(t, int32(10), sum)
	assert.Len(t, parts, 3)
}

// TestSimMarketTicks tests subscription and depth pushes
func TestSimMarketTicks(t *testing.T) {
	sim := NewSimMarket(fastOptions())
	spi := newRecordingSpi()
	sim.RegisterSpi(spi)
	sim.Init()
	t.Cleanup(sim.Release)
	spi.wait(t, "connected")

	require.Equal(t, 0, sim.ReqUserLogin(&ReqUserLoginField{}, 2))
	spi.wait(t, "login")

	require.Equal(t, 0, sim.SubMarketData([]string{"cu2501", "zn2501"}))
	assert.False(t, spi.wait(t, "sub").isLast)
	assert.True(t, spi.wait(t, "sub").isLast)

	tick := spi.wait(t, "tick").payload.(*DepthMarketDataField)
	id := FieldString(tick.InstrumentID[:])
	require.Contains(t, []string{"cu2501", "zn2501"}, id)
	assert.Greater(t, tick.AskPrice[0], tick.BidPrice[0])
	assert.Greater(t, tick.BidPrice[0], tick.BidPrice[4])
	if id == "cu2501" {
		assert.InDelta(t, 70000, tick.LastPrice, 1000)
	}

	require.Equal(t, 0, sim.UnSubMarketData([]string{"cu2501", "zn2501"}))
	assert.False(t, spi.wait(t, "unsub").isLast)
	assert.True(t, spi.wait(t, "unsub").isLast)
}

func TestBasePriceOf(t *testing.T) {
	assert.Equal(t, 3500.0, basePriceOf("rb2410"))
	assert.Equal(t, 70000.0, basePriceOf("CU2410"))
	assert.Equal(t, 450.0, basePriceOf("au2412"))
	assert.Equal(t, 1000.0, basePriceOf("zn2410"))
}
