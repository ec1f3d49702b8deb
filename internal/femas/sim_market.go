package femas

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// NewSimMarketFactory returns a MarketAPIFactory producing simulators.
func NewSimMarketFactory(opts SimOptions) MarketAPIFactory {
	return func(flowPath string) (MarketAPI, error) {
		if err := ensureFlowDir(flowPath); err != nil {
			return nil, err
		}
		return NewSimMarket(opts), nil
	}
}

type simQuote struct {
	inst   SimInstrument
	last   float64
	open   float64
	high   float64
	low    float64
	volume int64
}

// SimMarket is an in-process MarketAPI pushing a random walk for every
// subscribed instrument.
type SimMarket struct {
	opts    SimOptions
	catalog instrumentCatalog
	loop    *eventLoop
	rng     *rand.Rand

	mu        sync.RWMutex
	spi       MarketSpi
	fronts    []string
	connected bool
	loggedIn  bool
	quotes    map[string]*simQuote
	ticking   bool
}

// NewSimMarket creates a market-data simulator.
func NewSimMarket(opts SimOptions) *SimMarket {
	opts = opts.withDefaults()
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &SimMarket{
		opts:    opts,
		catalog: newInstrumentCatalog(opts.Instruments),
		loop:    newEventLoop(),
		rng:     rand.New(rand.NewPCG(seed, seed>>1|1)),
		quotes:  make(map[string]*simQuote),
	}
}

func (m *SimMarket) RegisterSpi(spi MarketSpi) {
	m.mu.Lock()
	m.spi = spi
	m.mu.Unlock()
}

func (m *SimMarket) RegisterFront(address string) {
	m.mu.Lock()
	m.fronts = append(m.fronts, address)
	m.mu.Unlock()
}

func (m *SimMarket) Init() {
	m.loop.start()
	m.loop.after(m.opts.ConnectDelay, func() {
		m.mu.Lock()
		m.connected = true
		spi := m.spi
		m.mu.Unlock()
		if spi != nil {
			spi.OnFrontConnected()
		}
	})
}

func (m *SimMarket) Join() int {
	m.loop.wait()
	return 0
}

func (m *SimMarket) Release() {
	m.loop.shutdown()
	m.mu.Lock()
	m.spi = nil
	m.connected = false
	m.mu.Unlock()
}

// Disconnect drops the front and reconnects after ConnectDelay. Subscriptions
// and the login are lost.
func (m *SimMarket) Disconnect(reason int) {
	m.loop.post(func() {
		m.mu.Lock()
		m.connected = false
		m.loggedIn = false
		clear(m.quotes)
		spi := m.spi
		m.mu.Unlock()
		if spi != nil {
			spi.OnFrontDisconnected(reason)
		}
		m.loop.after(m.opts.ConnectDelay, func() {
			m.mu.Lock()
			m.connected = true
			spi := m.spi
			m.mu.Unlock()
			if spi != nil {
				spi.OnFrontConnected()
			}
		})
	})
}

func (m *SimMarket) respond(fn func(spi MarketSpi)) int {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	if !connected || m.loop.stopped() {
		return ReturnNetworkFailure
	}
	m.loop.after(m.opts.ResponseDelay, func() {
		m.mu.RLock()
		spi := m.spi
		m.mu.RUnlock()
		if spi != nil {
			fn(spi)
		}
	})
	return 0
}

func (m *SimMarket) ReqUserLogin(req *ReqUserLoginField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	r := *req
	return m.respond(func(spi MarketSpi) {
		rsp := &RspUserLoginField{BrokerID: r.BrokerID, UserID: r.UserID}
		var info *RspInfoField
		if m.opts.Password != "" && FieldString(r.Password[:]) != m.opts.Password {
			info = &RspInfoField{ErrorID: SimErrBadPassword}
			CopyField(info.ErrorMsg[:], m.opts.encoder()("用户名或密码错误"))
		} else {
			m.mu.Lock()
			m.loggedIn = true
			m.mu.Unlock()
			CopyField(rsp.TradingDay[:], m.opts.tradingDay())
			CopyField(rsp.LoginTime[:], time.Now().Format("15:04:05"))
		}
		for i := 1; i <= m.opts.LoginFrames; i++ {
			spi.OnRspUserLogin(rsp, info, requestID, i == m.opts.LoginFrames)
		}
	})
}

func (m *SimMarket) ReqUserLogout(req *ReqUserLogoutField, requestID int) int {
	if req == nil {
		return ReturnNetworkFailure
	}
	r := *req
	return m.respond(func(spi MarketSpi) {
		m.mu.Lock()
		m.loggedIn = false
		clear(m.quotes)
		m.mu.Unlock()
		spi.OnRspUserLogout(&RspUserLogoutField{BrokerID: r.BrokerID, UserID: r.UserID}, nil, requestID, true)
	})
}

func (m *SimMarket) SubMarketData(instrumentIDs []string) int {
	ids := append([]string(nil), instrumentIDs...)
	return m.respond(func(spi MarketSpi) {
		m.mu.Lock()
		for _, id := range ids {
			if _, ok := m.quotes[id]; ok {
				continue
			}
			inst := m.catalog.lookup(id)
			m.quotes[id] = &simQuote{inst: inst, last: inst.BasePrice, open: inst.BasePrice, high: inst.BasePrice, low: inst.BasePrice}
		}
		startTicker := !m.ticking && len(m.quotes) > 0
		if startTicker {
			m.ticking = true
		}
		m.mu.Unlock()

		for i, id := range ids {
			rec := &SpecificInstrumentField{}
			CopyField(rec.InstrumentID[:], id)
			spi.OnRspSubMarketData(rec, nil, 0, i == len(ids)-1)
		}
		if startTicker {
			m.scheduleTick()
		}
	})
}

func (m *SimMarket) UnSubMarketData(instrumentIDs []string) int {
	ids := append([]string(nil), instrumentIDs...)
	return m.respond(func(spi MarketSpi) {
		m.mu.Lock()
		for _, id := range ids {
			delete(m.quotes, id)
		}
		m.mu.Unlock()
		for i, id := range ids {
			rec := &SpecificInstrumentField{}
			CopyField(rec.InstrumentID[:], id)
			spi.OnRspUnSubMarketData(rec, nil, 0, i == len(ids)-1)
		}
	})
}

// scheduleTick pushes one round of quotes and re-arms itself while any
// instrument stays subscribed.
func (m *SimMarket) scheduleTick() {
	m.loop.after(m.opts.TickInterval, func() {
		m.mu.Lock()
		if len(m.quotes) == 0 {
			m.ticking = false
			m.mu.Unlock()
			return
		}
		ids := make([]string, 0, len(m.quotes))
		for id := range m.quotes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		data := make([]DepthMarketDataField, 0, len(ids))
		for _, id := range ids {
			data = append(data, m.step(m.quotes[id]))
		}
		spi := m.spi
		m.mu.Unlock()

		if spi != nil {
			for i := range data {
				spi.OnRtnDepthMarketData(&data[i])
			}
		}
		m.scheduleTick()
	})
}

// step advances a quote by one random-walk move and returns the snapshot.
func (m *SimMarket) step(q *simQuote) DepthMarketDataField {
	tick := q.inst.PriceTick
	if tick <= 0 {
		tick = 1
	}
	move := math.Round(m.rng.NormFloat64()*2) * tick
	q.last = math.Max(tick, q.last+move)
	q.high = math.Max(q.high, q.last)
	q.low = math.Min(q.low, q.last)
	q.volume += int64(m.rng.IntN(50) + 1)

	now := time.Now()
	d := DepthMarketDataField{
		UpdateMillisec:  int32(now.Nanosecond() / int(time.Millisecond)),
		LastPrice:       q.last,
		Volume:          q.volume,
		Turnover:        float64(q.volume) * q.last * float64(q.inst.VolumeMultiple),
		OpenInterest:    float64(100000 + m.rng.IntN(1000)),
		UpperLimitPrice: q.inst.BasePrice * 1.1,
		LowerLimitPrice: q.inst.BasePrice * 0.9,
		PreClosePrice:   q.inst.BasePrice,
		OpenPrice:       q.open,
		HighestPrice:    q.high,
		LowestPrice:     q.low,
	}
	for lvl := 0; lvl < 5; lvl++ {
		d.BidPrice[lvl] = q.last - float64(lvl+1)*tick
		d.AskPrice[lvl] = q.last + float64(lvl+1)*tick
		d.BidVolume[lvl] = int32(m.rng.IntN(100) + 1)
		d.AskVolume[lvl] = int32(m.rng.IntN(100) + 1)
	}
	CopyField(d.TradingDay[:], m.opts.tradingDay())
	CopyField(d.ExchangeID[:], q.inst.ExchangeID)
	CopyField(d.InstrumentID[:], q.inst.ID)
	CopyField(d.UpdateTime[:], now.Format("15:04:05"))

	log.Trace().Str("instrument", q.inst.ID).Float64("last", q.last).Msg("Simulated tick")
	return d
}
