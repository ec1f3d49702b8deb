package femas

// TraderAPI is the trader half of the vendor SDK (CUstpFtdcTraderApi).
//
// Every Req* call is non-blocking and returns 0 when the request was accepted
// for sending; responses arrive later on the registered TraderSpi from
// goroutines owned by the implementation.
type TraderAPI interface {
	RegisterSpi(spi TraderSpi)
	RegisterFront(address string)
	// Init starts the connection and event loop.
	Init()
	// Join blocks until the event loop exits and returns its exit code.
	Join() int
	// Release stops the event loop and frees the instance. The instance must
	// not be used afterwards.
	Release()

	ReqAuthenticate(req *ReqAuthenticateField, requestID int) int
	ReqUserLogin(req *ReqUserLoginField, requestID int) int
	ReqUserLogout(req *ReqUserLogoutField, requestID int) int
	ReqOrderInsert(req *InputOrderField, requestID int) int
	ReqOrderAction(req *OrderActionField, requestID int) int
	ReqQryInvestorPosition(req *QryInvestorPositionField, requestID int) int
	ReqQryTradingAccount(req *QryTradingAccountField, requestID int) int
	ReqQryInstrument(req *QryInstrumentField, requestID int) int
	ReqQryOrder(req *QryOrderField, requestID int) int
	ReqQryTrade(req *QryTradeField, requestID int) int
}

// TraderSpi receives trader callbacks (CUstpFtdcTraderSpi). Record pointers
// and the info pointer may be nil. isLast marks the final frame of a
// multi-frame response.
type TraderSpi interface {
	OnFrontConnected()
	OnFrontDisconnected(reason int)
	OnRspAuthenticate(rsp *RspAuthenticateField, info *RspInfoField, requestID int, isLast bool)
	OnRspUserLogin(rsp *RspUserLoginField, info *RspInfoField, requestID int, isLast bool)
	OnRspUserLogout(rsp *RspUserLogoutField, info *RspInfoField, requestID int, isLast bool)
	OnRspOrderInsert(rsp *InputOrderField, info *RspInfoField, requestID int, isLast bool)
	OnRspOrderAction(rsp *OrderActionField, info *RspInfoField, requestID int, isLast bool)
	OnRtnOrder(order *OrderField)
	OnRtnTrade(trade *TradeField)
	OnRspQryInvestorPosition(rsp *RspInvestorPositionField, info *RspInfoField, requestID int, isLast bool)
	OnRspQryTradingAccount(rsp *RspTradingAccountField, info *RspInfoField, requestID int, isLast bool)
	OnRspQryInstrument(rsp *RspInstrumentField, info *RspInfoField, requestID int, isLast bool)
	OnRspQryOrder(rsp *OrderField, info *RspInfoField, requestID int, isLast bool)
	OnRspQryTrade(rsp *TradeField, info *RspInfoField, requestID int, isLast bool)
}

// TraderAPIFactory creates a trader API instance persisting its flow files
// under flowPath.
type TraderAPIFactory func(flowPath string) (TraderAPI, error)

// MarketAPI is the market-data half of the vendor SDK (CUstpFtdcMduserApi).
type MarketAPI interface {
	RegisterSpi(spi MarketSpi)
	RegisterFront(address string)
	Init()
	Join() int
	Release()

	ReqUserLogin(req *ReqUserLoginField, requestID int) int
	ReqUserLogout(req *ReqUserLogoutField, requestID int) int
	SubMarketData(instrumentIDs []string) int
	UnSubMarketData(instrumentIDs []string) int
}

// MarketSpi receives market-data callbacks.
type MarketSpi interface {
	OnFrontConnected()
	OnFrontDisconnected(reason int)
	OnRspUserLogin(rsp *RspUserLoginField, info *RspInfoField, requestID int, isLast bool)
	OnRspUserLogout(rsp *RspUserLogoutField, info *RspInfoField, requestID int, isLast bool)
	OnRspSubMarketData(rsp *SpecificInstrumentField, info *RspInfoField, requestID int, isLast bool)
	OnRspUnSubMarketData(rsp *SpecificInstrumentField, info *RspInfoField, requestID int, isLast bool)
	OnRtnDepthMarketData(data *DepthMarketDataField)
}

// MarketAPIFactory creates a market-data API instance.
type MarketAPIFactory func(flowPath string) (MarketAPI, error)
