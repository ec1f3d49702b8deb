package femas

// RspInfoField carries the error part of a response. A nil *RspInfoField means
// success.
type RspInfoField struct {
	ErrorID  int32
	ErrorMsg [ErrorMsgLen]byte
}

// ReqAuthenticateField is the client authentication request.
type ReqAuthenticateField struct {
	BrokerID        [BrokerIDLen]byte
	UserID          [UserIDLen]byte
	UserProductInfo [UserProductInfoLen]byte
	AuthCode        [AuthCodeLen]byte
}

// RspAuthenticateField is the client authentication response.
type RspAuthenticateField struct {
	BrokerID [BrokerIDLen]byte
	UserID   [UserIDLen]byte
	AuthCode [AuthCodeLen]byte
}

// ReqUserLoginField is the login request shared by trader and market APIs.
type ReqUserLoginField struct {
	BrokerID        [BrokerIDLen]byte
	UserID          [UserIDLen]byte
	Password        [PasswordLen]byte
	UserProductInfo [UserProductInfoLen]byte
}

// RspUserLoginField is the login response.
type RspUserLoginField struct {
	TradingDay  [DateLen]byte
	LoginTime   [TimeLen]byte
	BrokerID    [BrokerIDLen]byte
	UserID      [UserIDLen]byte
	FrontID     int32
	SessionID   int32
	MaxOrderRef [OrderRefLen]byte
}

// ReqUserLogoutField is the logout request.
type ReqUserLogoutField struct {
	BrokerID [BrokerIDLen]byte
	UserID   [UserIDLen]byte
}

// RspUserLogoutField is the logout response.
type RspUserLogoutField struct {
	BrokerID [BrokerIDLen]byte
	UserID   [UserIDLen]byte
}

// InputOrderField is an order insert request and its echo in OnRspOrderInsert.
type InputOrderField struct {
	BrokerID            [BrokerIDLen]byte
	InvestorID          [InvestorIDLen]byte
	UserID              [UserIDLen]byte
	InstrumentID        [InstrumentIDLen]byte
	OrderRef            [OrderRefLen]byte
	Direction           Direction
	OffsetFlag          OffsetFlag
	OrderPriceType      OrderPriceType
	TimeCondition       TimeCondition
	VolumeCondition     VolumeCondition
	ContingentCondition ContingentCondition
	ForceCloseReason    ForceCloseReason
	LimitPrice          float64
	Volume              int32
	MinVolume           int32
	IsAutoSuspend       int32
	UserForceClose      int32
}

// OrderActionField is an order action (cancel, suspend, ...) request.
type OrderActionField struct {
	OrderRef   [OrderRefLen]byte
	FrontID    int32
	SessionID  int32
	ActionFlag ActionFlag
}

// OrderField is an order return or an order query record.
type OrderField struct {
	BrokerID        [BrokerIDLen]byte
	InvestorID      [InvestorIDLen]byte
	ExchangeID      [ExchangeIDLen]byte
	OrderSysID      [OrderSysIDLen]byte
	OrderRef        [OrderRefLen]byte
	InstrumentID    [InstrumentIDLen]byte
	Direction       Direction
	OffsetFlag      OffsetFlag
	OrderPriceType  OrderPriceType
	LimitPrice      float64
	Volume          int32
	VolumeTraded    int32
	OrderStatus     OrderStatus
	InsertTime      [TimeLen]byte
	CancelTime      [TimeLen]byte
	FrontID         int32
	SessionID       int32
	StatusMsg       [ErrorMsgLen]byte
	TradingDay      [DateLen]byte
	VolumeRemaining int32
}

// TradeField is a trade return or a trade query record.
type TradeField struct {
	BrokerID     [BrokerIDLen]byte
	InvestorID   [InvestorIDLen]byte
	ExchangeID   [ExchangeIDLen]byte
	TradeID      [TradeIDLen]byte
	OrderSysID   [OrderSysIDLen]byte
	OrderRef     [OrderRefLen]byte
	InstrumentID [InstrumentIDLen]byte
	Direction    Direction
	OffsetFlag   OffsetFlag
	Price        float64
	Volume       int32
	TradeTime    [TimeLen]byte
	TradingDay   [DateLen]byte
}

// QryInvestorPositionField filters a position query. An empty instrument
// matches all instruments.
type QryInvestorPositionField struct {
	BrokerID     [BrokerIDLen]byte
	InvestorID   [InvestorIDLen]byte
	InstrumentID [InstrumentIDLen]byte
}

// QryTradingAccountField filters an account query.
type QryTradingAccountField struct {
	BrokerID   [BrokerIDLen]byte
	InvestorID [InvestorIDLen]byte
}

// QryInstrumentField filters an instrument query.
type QryInstrumentField struct {
	InstrumentID [InstrumentIDLen]byte
}

// QryOrderField filters an order query.
type QryOrderField struct {
	BrokerID     [BrokerIDLen]byte
	InvestorID   [InvestorIDLen]byte
	InstrumentID [InstrumentIDLen]byte
}

// QryTradeField filters a trade query.
type QryTradeField struct {
	BrokerID     [BrokerIDLen]byte
	InvestorID   [InvestorIDLen]byte
	InstrumentID [InstrumentIDLen]byte
}

// RspInvestorPositionField is one position record.
type RspInvestorPositionField struct {
	BrokerID      [BrokerIDLen]byte
	InvestorID    [InvestorIDLen]byte
	InstrumentID  [InstrumentIDLen]byte
	PosiDirection PosiDirection
	Position      int32
	YdPosition    int32
	PositionCost  float64
	UseMargin     float64
	FrozenVolume  int32
}

// RspTradingAccountField is the funds summary.
type RspTradingAccountField struct {
	BrokerID     [BrokerIDLen]byte
	InvestorID   [InvestorIDLen]byte
	Currency     [CurrencyLen]byte
	PreBalance   float64
	Balance      float64
	Available    float64
	Margin       float64
	FrozenMargin float64
	Fee          float64
	CloseProfit  float64
	PositionPnL  float64
}

// RspInstrumentField is one instrument definition.
type RspInstrumentField struct {
	ExchangeID      [ExchangeIDLen]byte
	ProductID       [ProductIDLen]byte
	InstrumentID    [InstrumentIDLen]byte
	InstrumentName  [InstrumentNameLen]byte
	PriceTick       float64
	VolumeMultiple  int32
	MinMarginRatio  float64
	UpperLimitPrice float64
	LowerLimitPrice float64
}

// SpecificInstrumentField names an instrument in (un)subscribe responses.
type SpecificInstrumentField struct {
	InstrumentID [InstrumentIDLen]byte
}

// DepthMarketDataField is one depth snapshot pushed by the market-data front.
type DepthMarketDataField struct {
	TradingDay      [DateLen]byte
	ExchangeID      [ExchangeIDLen]byte
	InstrumentID    [InstrumentIDLen]byte
	UpdateTime      [TimeLen]byte
	UpdateMillisec  int32
	LastPrice       float64
	Volume          int64
	Turnover        float64
	OpenInterest    float64
	BidPrice        [5]float64
	BidVolume       [5]int32
	AskPrice        [5]float64
	AskVolume       [5]int32
	UpperLimitPrice float64
	LowerLimitPrice float64
	PreClosePrice   float64
	OpenPrice       float64
	HighestPrice    float64
	LowestPrice     float64
}
