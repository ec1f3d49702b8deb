package femas

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Error ids reported by the simulator in RspInfoField.
const (
	SimErrInvalidField     = 1
	SimErrAuthFailed       = 63
	SimErrBadPassword      = 3
	SimErrNotLoggedIn      = 7
	SimErrOrderNotFound    = 26
	SimErrOrderFinished    = 27
	SimErrInsufficientFund = 31
	SimErrCloseExceedsPos  = 30
)

// SimOptions configures SimTrader and SimMarket.
type SimOptions struct {
	// ConnectDelay is the latency between Init and OnFrontConnected.
	ConnectDelay time.Duration
	// ResponseDelay is the latency of request responses.
	ResponseDelay time.Duration
	// LoginFrames splits authenticate and login responses into this many
	// frames; only the last carries isLast. Values below 1 mean 1.
	LoginFrames int
	// AuthCode and Password are checked when non-empty.
	AuthCode string
	Password string
	// TradingDay overrides the reported trading day (YYYYMMDD).
	TradingDay string
	// Encoding of free-text fields, "utf8" or "gbk".
	Encoding string
	// HoldOrders keeps inserted orders queueing instead of filling them.
	HoldOrders bool
	// PartialFillThreshold is the volume from which fills are split.
	PartialFillThreshold int32
	BaseSlippage         float64
	MaxSlippage          float64
	FeeRate              float64
	InitialBalance       float64
	Instruments          []SimInstrument
	// TickInterval is the market-data push period of SimMarket.
	TickInterval time.Duration
	// Seed makes the market random walk reproducible when non-zero.
	Seed uint64
}

// DefaultSimOptions returns options suited to local development.
func DefaultSimOptions() SimOptions {
	return SimOptions{
		ConnectDelay:         time.Second,
		ResponseDelay:        200 * time.Millisecond,
		LoginFrames:          1,
		Encoding:             EncodingUTF8,
		PartialFillThreshold: 5,
		BaseSlippage:         0.0002,
		MaxSlippage:          0.002,
		FeeRate:              0.0001,
		InitialBalance:       1_000_000,
		TickInterval:         time.Second,
	}
}

func (o SimOptions) withDefaults() SimOptions {
	if o.LoginFrames < 1 {
		o.LoginFrames = 1
	}
	if o.PartialFillThreshold <= 0 {
		o.PartialFillThreshold = 5
	}
	if o.InitialBalance == 0 {
		o.InitialBalance = 1_000_000
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	return o
}

// encoder returns the function turning UTF-8 text into vendor field text.
func (o SimOptions) encoder() func(string) string {
	if o.Encoding == EncodingGBK {
		return func(s string) string { return string(EncodeGBK(s)) }
	}
	return func(s string) string { return s }
}

func (o SimOptions) tradingDay() string {
	if o.TradingDay != "" {
		return o.TradingDay
	}
	return time.Now().Format("20060102")
}

// NewSimTraderFactory returns a TraderAPIFactory producing simulators.
func NewSimTraderFactory(opts SimOptions) TraderAPIFactory {
	return func(flowPath string) (TraderAPI, error) {
		if err := ensureFlowDir(flowPath); err != nil {
			return nil, err
		}
		return NewSimTrader(opts), nil
	}
}

func ensureFlowDir(flowPath string) error {
	if flowPath == "" {
		return nil
	}
	if err := os.MkdirAll(flowPath, 0o755); err != nil {
		return fmt.Errorf("failed to create flow directory %s: %w", flowPath, err)
	}
	return nil
}

type simOrder struct {
	field     OrderField
	multiple  int32
	margin    float64
	holdPrice float64
}

type posKey struct {
	instrument string
	dir        PosiDirection
}

type simPosition struct {
	volume int32
	cost   float64
	margin float64
}

// SimTrader is an in-process TraderAPI. Orders are matched against a
// reference price with slippage; positions and funds are tracked per
// instance.
type SimTrader struct {
	opts    SimOptions
	enc     func(string) string
	catalog instrumentCatalog
	loop    *eventLoop

	mu        sync.RWMutex
	spi       TraderSpi
	fronts    []string
	connected bool
	authed    bool
	loggedIn  bool
	brokerID  string
	userID    string
	frontID   int32
	sessionID int32

	orders   map[string]*simOrder // keyed by OrderSysID
	byRef    map[string]string    // OrderRef -> OrderSysID
	trades   []TradeField
	pos      map[posKey]*simPosition
	prices   map[string]float64
	balance  float64
	fees     float64
	closePnL float64
	nextSys  int
	nextTrd  int
	nextSess int32
}

// NewSimTrader creates a simulator instance.
func NewSimTrader(opts SimOptions) *SimTrader {
	opts = opts.withDefaults()
	return &SimTrader{
		opts:    opts,
		enc:     opts.encoder(),
		catalog: newInstrumentCatalog(opts.Instruments),
		loop:    newEventLoop(),
		orders:  make(map[string]*simOrder),
		byRef:   make(map[string]string),
		pos:     make(map[posKey]*simPosition),
		prices:  make(map[string]float64),
		balance: opts.InitialBalance,
		frontID: 1,
	}
}

func (s *SimTrader) RegisterSpi(spi TraderSpi) {
	s.mu.Lock()
	s.spi = spi
	s.mu.Unlock()
}

func (s *SimTrader) RegisterFront(address string) {
	s.mu.Lock()
	s.fronts = append(s.fronts, address)
	s.mu.Unlock()
}

// Init starts the event loop and schedules the front connection.
func (s *SimTrader) Init() {
	s.loop.start()
	s.scheduleConnect()
}

func (s *SimTrader) scheduleConnect() {
	s.loop.after(s.opts.ConnectDelay, func() {
		s.mu.Lock()
		s.connected = true
		fronts := len(s.fronts)
		spi := s.spi
		s.mu.Unlock()

		log.Debug().Int("fronts", fronts).Msg("Simulated trader front connected")
		if spi != nil {
			spi.OnFrontConnected()
		}
	})
}

func (s *SimTrader) Join() int {
	s.loop.wait()
	return 0
}

func (s *SimTrader) Release() {
	s.loop.shutdown()
	s.mu.Lock()
	s.spi = nil
	s.connected = false
	s.mu.Unlock()
}

// Disconnect drops the front connection with the given reason and reconnects
// after ConnectDelay. Sessions must authenticate and log in again.
func (s *SimTrader) Disconnect(reason int) {
	s.loop.post(func() {
		s.mu.Lock()
		s.connected = false
		s.authed = false
		s.loggedIn = false
		spi := s.spi
		s.mu.Unlock()
		if spi != nil {
			spi.OnFrontDisconnected(reason)
		}
		s.scheduleConnect()
	})
}

// SetMarketPrice sets the reference price used to fill orders.
func (s *SimTrader) SetMarketPrice(instrumentID string, price float64) {
	s.mu.Lock()
	s.prices[instrumentID] = price
	s.mu.Unlock()
}

// respond queues fn after ResponseDelay unless the front is down.
func (s *SimTrader) respond(fn func(spi TraderSpi)) int {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected || s.loop.stopped() {
		return ReturnNetworkFailure
	}
	s.loop.after(s.opts.ResponseDelay, func() {
		s.mu.RLock()
		spi := s.spi
		s.mu.RUnlock()
		if spi != nil {
			fn(spi)
		}
	})
	return 0
}

func (s *SimTrader) info(id int32, msg string) *RspInfoField {
	r := &RspInfoField{ErrorID: id}
	CopyField(r.ErrorMsg[:], s.enc(msg))
	return r
}

func (s *SimTrader) ReqAuthenticate(req *ReqAuthenticateField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	r := *req
	return s.respond(func(spi TraderSpi) {
		var info *RspInfoField
		if s.opts.AuthCode != "" && FieldString(r.AuthCode[:]) != s.opts.AuthCode {
			info = s.info(SimErrAuthFailed, "客户端认证失败")
		} else {
			s.mu.Lock()
			s.authed = true
			s.mu.Unlock()
		}
		rsp := &RspAuthenticateField{BrokerID: r.BrokerID, UserID: r.UserID, AuthCode: r.AuthCode}
		for i := 1; i <= s.opts.LoginFrames; i++ {
			spi.OnRspAuthenticate(rsp, info, requestID, i == s.opts.LoginFrames)
		}
	})
}

func (s *SimTrader) ReqUserLogin(req *ReqUserLoginField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	r := *req
	return s.respond(func(spi TraderSpi) {
		var info *RspInfoField
		rsp := &RspUserLoginField{BrokerID: r.BrokerID, UserID: r.UserID}

		s.mu.Lock()
		switch {
		case s.opts.AuthCode != "" && !s.authed:
			info = s.info(SimErrAuthFailed, "客户端未认证")
		case s.opts.Password != "" && FieldString(r.Password[:]) != s.opts.Password:
			info = s.info(SimErrBadPassword, "用户名或密码错误")
		default:
			s.loggedIn = true
			s.brokerID = FieldString(r.BrokerID[:])
			s.userID = FieldString(r.UserID[:])
			s.nextSess++
			s.sessionID = s.nextSess
			rsp.FrontID = s.frontID
			rsp.SessionID = s.sessionID
			CopyField(rsp.TradingDay[:], s.opts.tradingDay())
			CopyField(rsp.LoginTime[:], time.Now().Format("15:04:05"))
			CopyField(rsp.MaxOrderRef[:], strconv.Itoa(s.nextSys))
		}
		s.mu.Unlock()

		for i := 1; i <= s.opts.LoginFrames; i++ {
			spi.OnRspUserLogin(rsp, info, requestID, i == s.opts.LoginFrames)
		}
	})
}

func (s *SimTrader) ReqUserLogout(req *ReqUserLogoutField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	r := *req
	return s.respond(func(spi TraderSpi) {
		s.mu.Lock()
		s.loggedIn = false
		s.authed = false
		s.mu.Unlock()
		spi.OnRspUserLogout(&RspUserLogoutField{BrokerID: r.BrokerID, UserID: r.UserID}, nil, requestID, true)
	})
}

func (s *SimTrader) isLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// validateOrder checks order fields the way the front does before queueing.
func validateOrder(o *InputOrderField) error {
	if FieldString(o.InstrumentID[:]) == "" {
		return fmt.Errorf("instrument is required")
	}
	if !o.Direction.Valid() {
		return fmt.Errorf("invalid direction: %q", byte(o.Direction))
	}
	if !o.OffsetFlag.Valid() {
		return fmt.Errorf("invalid offset flag: %q", byte(o.OffsetFlag))
	}
	if o.Volume <= 0 {
		return fmt.Errorf("volume must be positive")
	}
	if o.OrderPriceType == PriceLimit && o.LimitPrice <= 0 {
		return fmt.Errorf("limit orders must have a positive price")
	}
	return nil
}

func (s *SimTrader) ReqOrderInsert(req *InputOrderField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	r := *req
	return s.respond(func(spi TraderSpi) {
		if !s.isLoggedIn() {
			spi.OnRspOrderInsert(&r, s.info(SimErrNotLoggedIn, "未登录"), requestID, true)
			return
		}
		if err := validateOrder(&r); err != nil {
			log.Debug().Err(err).Str("order_ref", FieldString(r.OrderRef[:])).Msg("Simulated order rejected")
			spi.OnRspOrderInsert(&r, s.info(SimErrInvalidField, err.Error()), requestID, true)
			return
		}
		order, info := s.acceptOrder(&r)
		spi.OnRspOrderInsert(&r, info, requestID, true)
		if info != nil {
			return
		}
		spi.OnRtnOrder(&order.field)
		if s.opts.HoldOrders {
			return
		}
		s.fill(spi, order)
	})
}

// acceptOrder checks funds or position and books the order as queueing.
func (s *SimTrader) acceptOrder(r *InputOrderField) (*simOrder, *RspInfoField) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instrumentID := FieldString(r.InstrumentID[:])
	inst := s.catalog.lookup(instrumentID)
	price := s.referencePrice(instrumentID, r)

	o := &simOrder{multiple: inst.VolumeMultiple, holdPrice: price}
	if r.OffsetFlag == OffsetOpen {
		o.margin = price * float64(r.Volume) * float64(inst.VolumeMultiple) * inst.MarginRatio
		if o.margin > s.available() {
			return nil, s.info(SimErrInsufficientFund, "资金不足")
		}
	} else {
		held := s.pos[posKey{instrumentID, closingSide(r.Direction)}]
		if held == nil || held.volume < r.Volume {
			return nil, s.info(SimErrCloseExceedsPos, "平仓量超过持仓量")
		}
	}

	s.nextSys++
	f := &o.field
	f.BrokerID = r.BrokerID
	f.InvestorID = r.InvestorID
	f.OrderRef = r.OrderRef
	f.InstrumentID = r.InstrumentID
	f.Direction = r.Direction
	f.OffsetFlag = r.OffsetFlag
	f.OrderPriceType = r.OrderPriceType
	f.LimitPrice = r.LimitPrice
	f.Volume = r.Volume
	f.VolumeRemaining = r.Volume
	f.OrderStatus = OrderStatusNoTradeQueueing
	f.FrontID = s.frontID
	f.SessionID = s.sessionID
	CopyField(f.ExchangeID[:], inst.ExchangeID)
	CopyField(f.OrderSysID[:], fmt.Sprintf("%012d", s.nextSys))
	CopyField(f.InsertTime[:], time.Now().Format("15:04:05"))
	CopyField(f.TradingDay[:], s.opts.tradingDay())
	CopyField(f.StatusMsg[:], s.enc("未成交"))

	sysID := FieldString(f.OrderSysID[:])
	s.orders[sysID] = o
	s.byRef[FieldString(f.OrderRef[:])] = sysID
	return o, nil
}

// referencePrice is the price an order is matched against. Limit orders never
// fill through their limit.
func (s *SimTrader) referencePrice(instrumentID string, r *InputOrderField) float64 {
	mid, ok := s.prices[instrumentID]
	if !ok {
		mid = s.catalog.lookup(instrumentID).BasePrice
	}
	if r.OrderPriceType == PriceLimit && r.LimitPrice > 0 {
		if r.Direction == DirectionBuy && r.LimitPrice < mid {
			return r.LimitPrice
		}
		if r.Direction == DirectionSell && r.LimitPrice > mid {
			return r.LimitPrice
		}
	}
	return mid
}

// fill trades the order, splitting large volumes into partial fills.
func (s *SimTrader) fill(spi TraderSpi, o *simOrder) {
	for _, qty := range splitVolume(o.field.Volume, s.opts.PartialFillThreshold) {
		trade, order := s.book(o, qty)
		spi.OnRtnOrder(&order)
		spi.OnRtnTrade(&trade)
	}
}

// splitVolume returns the fill quantities for an order volume.
func splitVolume(volume, threshold int32) []int32 {
	if volume < threshold {
		return []int32{volume}
	}
	const maxFills = 3
	var out []int32
	remaining := volume
	for i := 0; remaining > 0 && i < maxFills; i++ {
		qty := remaining
		if i < maxFills-1 {
			qty = remaining * int32(30+10*i) / 100
			if qty < 1 {
				qty = remaining
			}
		}
		out = append(out, qty)
		remaining -= qty
	}
	return out
}

func (s *SimTrader) slippage(volume int32) float64 {
	sl := s.opts.BaseSlippage * (1 + float64(volume)/100)
	if s.opts.MaxSlippage > 0 && sl > s.opts.MaxSlippage {
		sl = s.opts.MaxSlippage
	}
	return sl
}

// book applies one fill to the order, positions and funds.
func (s *SimTrader) book(o *simOrder, qty int32) (TradeField, OrderField) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &o.field
	price := o.holdPrice
	if f.OrderPriceType != PriceLimit {
		if f.Direction == DirectionBuy {
			price *= 1 + s.slippage(f.Volume)
		} else {
			price *= 1 - s.slippage(f.Volume)
		}
	}

	f.VolumeTraded += qty
	f.VolumeRemaining = f.Volume - f.VolumeTraded
	if f.VolumeRemaining == 0 {
		f.OrderStatus = OrderStatusAllTraded
		CopyField(f.StatusMsg[:], s.enc("全部成交"))
	} else {
		f.OrderStatus = OrderStatusPartTradedQueueing
		CopyField(f.StatusMsg[:], s.enc("部分成交"))
	}

	s.nextTrd++
	t := TradeField{
		BrokerID:     f.BrokerID,
		InvestorID:   f.InvestorID,
		ExchangeID:   f.ExchangeID,
		OrderSysID:   f.OrderSysID,
		OrderRef:     f.OrderRef,
		InstrumentID: f.InstrumentID,
		Direction:    f.Direction,
		OffsetFlag:   f.OffsetFlag,
		Price:        price,
		Volume:       qty,
		TradingDay:   f.TradingDay,
	}
	CopyField(t.TradeID[:], fmt.Sprintf("%08d", s.nextTrd))
	CopyField(t.TradeTime[:], time.Now().Format("15:04:05"))
	s.trades = append(s.trades, t)

	notional := price * float64(qty) * float64(o.multiple)
	s.fees += notional * s.opts.FeeRate
	instrumentID := FieldString(f.InstrumentID[:])
	if f.OffsetFlag == OffsetOpen {
		k := posKey{instrumentID, openingSide(f.Direction)}
		p := s.pos[k]
		if p == nil {
			p = &simPosition{}
			s.pos[k] = p
		}
		p.volume += qty
		p.cost += notional
		p.margin += o.margin * float64(qty) / float64(f.Volume)
	} else {
		k := posKey{instrumentID, closingSide(f.Direction)}
		if p := s.pos[k]; p != nil && p.volume > 0 {
			avg := p.cost / float64(p.volume)
			released := p.margin * float64(qty) / float64(p.volume)
			pnl := notional - avg*float64(qty)
			if k.dir == PosiShort {
				pnl = -pnl
			}
			s.closePnL += pnl
			p.cost -= avg * float64(qty)
			p.margin -= released
			p.volume -= qty
			if p.volume <= 0 {
				delete(s.pos, k)
			}
		}
	}
	return t, *f
}

func openingSide(d Direction) PosiDirection {
	if d == DirectionBuy {
		return PosiLong
	}
	return PosiShort
}

// closingSide is the position side a closing order of direction d reduces.
func closingSide(d Direction) PosiDirection {
	if d == DirectionBuy {
		return PosiShort
	}
	return PosiLong
}

func (s *SimTrader) usedMargin() float64 {
	var m float64
	for _, p := range s.pos {
		m += p.margin
	}
	return m
}

func (s *SimTrader) frozenMargin() float64 {
	var m float64
	for _, o := range s.orders {
		if !o.field.OrderStatus.Done() && o.field.OffsetFlag == OffsetOpen {
			m += o.margin * float64(o.field.VolumeRemaining) / float64(o.field.Volume)
		}
	}
	return m
}

func (s *SimTrader) available() float64 {
	return s.balance + s.closePnL - s.fees - s.usedMargin() - s.frozenMargin()
}

func (s *SimTrader) ReqOrderAction(req *OrderActionField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	r := *req
	return s.respond(func(spi TraderSpi) {
		if !s.isLoggedIn() {
			spi.OnRspOrderAction(&r, s.info(SimErrNotLoggedIn, "未登录"), requestID, true)
			return
		}
		order, info := s.cancel(&r)
		spi.OnRspOrderAction(&r, info, requestID, true)
		if order != nil {
			spi.OnRtnOrder(order)
		}
	})
}

func (s *SimTrader) cancel(r *OrderActionField) (*OrderField, *RspInfoField) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sysID, ok := s.byRef[FieldString(r.OrderRef[:])]
	if !ok {
		return nil, s.info(SimErrOrderNotFound, "报单不存在")
	}
	o := s.orders[sysID]
	// An order ref only names an order within the session that sent it.
	if r.FrontID != o.field.FrontID || r.SessionID != o.field.SessionID {
		return nil, s.info(SimErrOrderNotFound, "报单不存在")
	}
	if o.field.OrderStatus.Done() {
		return nil, s.info(SimErrOrderFinished, "报单已全部成交或已撤销")
	}
	if r.ActionFlag != ActionDelete {
		return nil, s.info(SimErrInvalidField, "不支持的报单操作")
	}
	if o.field.VolumeTraded > 0 {
		o.field.OrderStatus = OrderStatusPartTradedNotQueueing
	} else {
		o.field.OrderStatus = OrderStatusCanceled
	}
	CopyField(o.field.CancelTime[:], time.Now().Format("15:04:05"))
	CopyField(o.field.StatusMsg[:], s.enc("已撤单"))
	out := o.field
	return &out, nil
}

// sendAll delivers records as one frame each, or a single empty frame.
func sendAll[T any](records []T, send func(rec *T, isLast bool)) {
	if len(records) == 0 {
		send(nil, true)
		return
	}
	for i := range records {
		send(&records[i], i == len(records)-1)
	}
}

// queryGuard answers with a not-logged-in error when there is no session.
func (s *SimTrader) queryGuard(deny func(info *RspInfoField)) bool {
	if s.isLoggedIn() {
		return true
	}
	deny(s.info(SimErrNotLoggedIn, "未登录"))
	return false
}

func (s *SimTrader) ReqQryInvestorPosition(req *QryInvestorPositionField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	filter := FieldString(req.InstrumentID[:])
	return s.respond(func(spi TraderSpi) {
		if !s.queryGuard(func(info *RspInfoField) { spi.OnRspQryInvestorPosition(nil, info, requestID, true) }) {
			return
		}
		recs := s.positions(filter)
		sendAll(recs, func(rec *RspInvestorPositionField, isLast bool) {
			spi.OnRspQryInvestorPosition(rec, nil, requestID, isLast)
		})
	})
}

func (s *SimTrader) positions(filter string) []RspInvestorPositionField {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RspInvestorPositionField
	for k, p := range s.pos {
		if filter != "" && k.instrument != filter {
			continue
		}
		r := RspInvestorPositionField{
			PosiDirection: k.dir,
			Position:      p.volume,
			PositionCost:  p.cost,
			UseMargin:     p.margin,
		}
		CopyField(r.BrokerID[:], s.brokerID)
		CopyField(r.InvestorID[:], s.userID)
		CopyField(r.InstrumentID[:], k.instrument)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := FieldString(out[i].InstrumentID[:]), FieldString(out[j].InstrumentID[:])
		if a != b {
			return a < b
		}
		return out[i].PosiDirection < out[j].PosiDirection
	})
	return out
}

func (s *SimTrader) ReqQryTradingAccount(req *QryTradingAccountField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	r := *req
	return s.respond(func(spi TraderSpi) {
		if !s.queryGuard(func(info *RspInfoField) { spi.OnRspQryTradingAccount(nil, info, requestID, true) }) {
			return
		}
		s.mu.RLock()
		acc := &RspTradingAccountField{
			BrokerID:     r.BrokerID,
			InvestorID:   r.InvestorID,
			PreBalance:   s.opts.InitialBalance,
			Balance:      s.balance + s.closePnL - s.fees,
			Available:    s.available(),
			Margin:       s.usedMargin(),
			FrozenMargin: s.frozenMargin(),
			Fee:          s.fees,
			CloseProfit:  s.closePnL,
		}
		s.mu.RUnlock()
		CopyField(acc.Currency[:], "CNY")
		spi.OnRspQryTradingAccount(acc, nil, requestID, true)
	})
}

func (s *SimTrader) ReqQryInstrument(req *QryInstrumentField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	filter := FieldString(req.InstrumentID[:])
	return s.respond(func(spi TraderSpi) {
		var recs []RspInstrumentField
		if filter != "" {
			recs = append(recs, *s.catalog.record(s.catalog.lookup(filter), s.enc))
		} else {
			ids := make([]string, 0, len(s.catalog))
			for id := range s.catalog {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				recs = append(recs, *s.catalog.record(s.catalog[id], s.enc))
			}
		}
		sendAll(recs, func(rec *RspInstrumentField, isLast bool) {
			spi.OnRspQryInstrument(rec, nil, requestID, isLast)
		})
	})
}

func (s *SimTrader) ReqQryOrder(req *QryOrderField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	filter := FieldString(req.InstrumentID[:])
	return s.respond(func(spi TraderSpi) {
		if !s.queryGuard(func(info *RspInfoField) { spi.OnRspQryOrder(nil, info, requestID, true) }) {
			return
		}
		s.mu.RLock()
		recs := make([]OrderField, 0, len(s.orders))
		for _, o := range s.orders {
			if filter == "" || FieldString(o.field.InstrumentID[:]) == filter {
				recs = append(recs, o.field)
			}
		}
		s.mu.RUnlock()
		sort.Slice(recs, func(i, j int) bool {
			return FieldString(recs[i].OrderSysID[:]) < FieldString(recs[j].OrderSysID[:])
		})
		sendAll(recs, func(rec *OrderField, isLast bool) {
			spi.OnRspQryOrder(rec, nil, requestID, isLast)
		})
	})
}

func (s *SimTrader) ReqQryTrade(req *QryTradeField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	filter := FieldString(req.InstrumentID[:])
	return s.respond(func(spi TraderSpi) {
		if !s.queryGuard(func(info *RspInfoField) { spi.OnRspQryTrade(nil, info, requestID, true) }) {
			return
		}
		s.mu.RLock()
		recs := make([]TradeField, 0, len(s.trades))
		for _, t := range s.trades {
			if filter == "" || FieldString(t.InstrumentID[:]) == filter {
				recs = append(recs, t)
			}
		}
		s.mu.RUnlock()
		sendAll(recs, func(rec *TradeField, isLast bool) {
			spi.OnRspQryTrade(rec, nil, requestID, isLast)
		})
	})
}
