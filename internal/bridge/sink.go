package bridge

import "github.com/ajitpratap0/femasgate/internal/femas"

// TraderSink receives trader events. Methods are called on vendor goroutines,
// one callback at a time per Gate slot, and must not block for long.
type TraderSink interface {
	OnFrontConnected()
	OnFrontDisconnected(reason int)
	OnRspAuthenticate(authCode string, errorID int, errorMsg string)
	OnRspUserLogin(tradingDay, loginTime, brokerID, userID string, errorID int, errorMsg string)
	OnRspOrderInsert(orderRef string, errorID int, errorMsg string)
	OnRtnOrder(orderSysID, orderRef, instrumentID string, direction femas.Direction, offsetFlag femas.OffsetFlag,
		price float64, volume int, orderStatus femas.OrderStatus)
	OnRtnTrade(tradeID, orderRef, instrumentID string, direction femas.Direction, offsetFlag femas.OffsetFlag,
		price float64, volume int, tradeTime string)
}

// LogoutSink is implemented by trader sinks that want logout responses.
type LogoutSink interface {
	OnRspUserLogout(userID string, errorID int, errorMsg string)
}

// SessionSink is implemented by trader sinks that need the front and session
// ids assigned by a successful login. It is called with the final login frame,
// just before OnRspUserLogin.
type SessionSink interface {
	OnLoginSession(frontID, sessionID int, maxOrderRef string)
}

// OrderActionSink is implemented by trader sinks that want order action
// responses.
type OrderActionSink interface {
	OnRspOrderAction(orderRef string, errorID int, errorMsg string)
}

// QuerySink is implemented by trader sinks that issue queries. A record is nil
// when the vendor sent a frame without one (empty result or error). Frames of
// one query share requestID; the last has isLast set.
type QuerySink interface {
	OnRspQryInvestorPosition(p *Position, info RspInfo, requestID int, isLast bool)
	OnRspQryTradingAccount(a *Account, info RspInfo, requestID int, isLast bool)
	OnRspQryInstrument(i *Instrument, info RspInfo, requestID int, isLast bool)
	OnRspQryOrder(o *Order, info RspInfo, requestID int, isLast bool)
	OnRspQryTrade(t *Trade, info RspInfo, requestID int, isLast bool)
}

// MarketSink receives market-data events.
type MarketSink interface {
	OnFrontConnected()
	OnFrontDisconnected(reason int)
	OnRspUserLogin(tradingDay, loginTime, brokerID, userID string, errorID int, errorMsg string)
	OnRspUserLogout(userID string, errorID int, errorMsg string)
	OnRspSubMarketData(instrumentID string, errorID int, errorMsg string, isLast bool)
	OnRspUnSubMarketData(instrumentID string, errorID int, errorMsg string, isLast bool)
	OnRtnDepthMarketData(data MarketData)
}

// NopTraderSink implements TraderSink with no-ops. Embed it to handle a
// subset of events.
type NopTraderSink struct{}

func (NopTraderSink) OnFrontConnected() {}
func (NopTraderSink) OnFrontDisconnected(int) {}
func (NopTraderSink) OnRspAuthenticate(string, int, string) {}
func (NopTraderSink) OnRspOrderInsert(string, int, string) {}
func (NopTraderSink) OnRspUserLogin(_, _, _, _ string, _ int, _ string) {}
func (NopTraderSink) OnRtnOrder(_, _, _ string, _ femas.Direction, _ femas.OffsetFlag, _ float64, _ int, _ femas.OrderStatus) {
}
func (NopTraderSink) OnRtnTrade(_, _, _ string, _ femas.Direction, _ femas.OffsetFlag, _ float64, _ int, _ string) {
}

// NopMarketSink implements MarketSink with no-ops.
type NopMarketSink struct{}

func (NopMarketSink) OnFrontConnected() {}
func (NopMarketSink) OnFrontDisconnected(int) {}
func (NopMarketSink) OnRspUserLogin(_, _, _, _ string, _ int, _ string) {}
func (NopMarketSink) OnRspUserLogout(string, int, string) {}
func (NopMarketSink) OnRspSubMarketData(string, int, string, bool) {}
func (NopMarketSink) OnRspUnSubMarketData(string, int, string, bool) {}
func (NopMarketSink) OnRtnDepthMarketData(MarketData) {}

// RspInfo is the error part of a response. ErrorID 0 means success.
type RspInfo struct {
	ErrorID  int    `json:"errorId"`
	ErrorMsg string `json:"errorMsg"`
}

// Failed reports whether the response carries an error.
func (i RspInfo) Failed() bool { return i.ErrorID != 0 }

// Position is one investor position record.
type Position struct {
	InstrumentID string  `json:"instrumentId"`
	Direction    string  `json:"direction"`
	Position     int     `json:"position"`
	YdPosition   int     `json:"ydPosition"`
	PositionCost float64 `json:"positionCost"`
	UseMargin    float64 `json:"useMargin"`
	FrozenVolume int     `json:"frozenVolume"`
}

// Account is the trading account summary.
type Account struct {
	InvestorID   string  `json:"investorId"`
	Currency     string  `json:"currency"`
	PreBalance   float64 `json:"preBalance"`
	Balance      float64 `json:"balance"`
	Available    float64 `json:"available"`
	Margin       float64 `json:"margin"`
	FrozenMargin float64 `json:"frozenMargin"`
	Fee          float64 `json:"fee"`
	CloseProfit  float64 `json:"closeProfit"`
	PositionPnL  float64 `json:"positionProfit"`
}

// Instrument is one contract definition.
type Instrument struct {
	InstrumentID    string  `json:"instrumentId"`
	InstrumentName  string  `json:"instrumentName"`
	ExchangeID      string  `json:"exchangeId"`
	ProductID       string  `json:"productId"`
	PriceTick       float64 `json:"priceTick"`
	VolumeMultiple  int     `json:"volumeMultiple"`
	MarginRatio     float64 `json:"marginRatio"`
	UpperLimitPrice float64 `json:"upperLimitPrice"`
	LowerLimitPrice float64 `json:"lowerLimitPrice"`
}

// Order is one order record from a query.
type Order struct {
	OrderSysID   string  `json:"orderSysId"`
	OrderRef     string  `json:"orderRef"`
	InstrumentID string  `json:"instrumentId"`
	ExchangeID   string  `json:"exchangeId"`
	Direction    string  `json:"direction"`
	OffsetFlag   string  `json:"offsetFlag"`
	Price        float64 `json:"price"`
	Volume       int     `json:"volume"`
	VolumeTraded int     `json:"volumeTraded"`
	Status       string  `json:"status"`
	StatusMsg    string  `json:"statusMsg"`
	InsertTime   string  `json:"insertTime"`
	FrontID      int     `json:"frontId"`
	SessionID    int     `json:"sessionId"`
}

// Trade is one trade record from a query.
type Trade struct {
	TradeID      string  `json:"tradeId"`
	OrderSysID   string  `json:"orderSysId"`
	OrderRef     string  `json:"orderRef"`
	InstrumentID string  `json:"instrumentId"`
	Direction    string  `json:"direction"`
	OffsetFlag   string  `json:"offsetFlag"`
	Price        float64 `json:"price"`
	Volume       int     `json:"volume"`
	TradeTime    string  `json:"tradeTime"`
	TradingDay   string  `json:"tradingDay"`
}

// MarketData is one depth snapshot.
type MarketData struct {
	InstrumentID    string     `json:"instrumentId"`
	ExchangeID      string     `json:"exchangeId"`
	TradingDay      string     `json:"tradingDay"`
	UpdateTime      string     `json:"updateTime"`
	UpdateMillisec  int        `json:"updateMillisec"`
	LastPrice       float64    `json:"lastPrice"`
	Volume          int64      `json:"volume"`
	Turnover        float64    `json:"turnover"`
	OpenInterest    float64    `json:"openInterest"`
	BidPrices       [5]float64 `json:"bidPrices"`
	BidVolumes      [5]int     `json:"bidVolumes"`
	AskPrices       [5]float64 `json:"askPrices"`
	AskVolumes      [5]int     `json:"askVolumes"`
	UpperLimitPrice float64    `json:"upperLimitPrice"`
	LowerLimitPrice float64    `json:"lowerLimitPrice"`
	PreClosePrice   float64    `json:"preClosePrice"`
	OpenPrice       float64    `json:"openPrice"`
	HighestPrice    float64    `json:"highestPrice"`
	LowestPrice     float64    `json:"lowestPrice"`
}
