package bridge

import (
	"sync/atomic"

	"github.com/ajitpratap0/femasgate/internal/femas"
)

// TraderClient is the caller-side object of one trader session. It keeps the
// session handle; 0 means no session.
type TraderClient struct {
	bridge *TraderBridge
	sink   TraderSink
	handle atomic.Int64
}

// NewTraderClient creates a client delivering callbacks to sink.
func NewTraderClient(b *TraderBridge, sink TraderSink) *TraderClient {
	return &TraderClient{bridge: b, sink: sink}
}

// CreateTraderAPI creates the session and stores its handle. It reports false
// on any setup failure.
func (c *TraderClient) CreateTraderAPI(flowPath string) bool {
	h, err := c.bridge.Create(flowPath, c.sink)
	if err != nil {
		c.bridge.log.Warn().Err(err).Str("flow_dir", flowPath).Msg("Failed to create trader API")
		return false
	}
	c.handle.Store(int64(h))
	return true
}

// Handle returns the stored handle.
func (c *TraderClient) Handle() Handle { return Handle(c.handle.Load()) }

// RegisterFront adds a front address to the session.
func (c *TraderClient) RegisterFront(address string) { c.bridge.RegisterFront(c.Handle(), address) }

// Init starts the session without blocking.
func (c *TraderClient) Init() { c.bridge.Start(c.Handle()) }

// Join blocks until the session ends.
func (c *TraderClient) Join() int { return c.bridge.Join(c.Handle()) }

// Release frees the session and resets the handle to 0. Requests made
// afterwards return -1.
func (c *TraderClient) Release() {
	h := Handle(c.handle.Swap(0))
	c.bridge.Release(h)
}

// ReqAuthenticate sends client authentication and returns the request id or
// -1.
func (c *TraderClient) ReqAuthenticate(brokerID, userID, userProductInfo, authCode string) int {
	return c.bridge.ReqAuthenticate(c.Handle(), brokerID, userID, userProductInfo, authCode)
}

// ReqUserLogin sends a login request.
func (c *TraderClient) ReqUserLogin(brokerID, userID, password string) int {
	return c.bridge.ReqUserLogin(c.Handle(), brokerID, userID, password)
}

// ReqUserLogout sends a logout request.
func (c *TraderClient) ReqUserLogout(brokerID, userID string) int {
	return c.bridge.ReqUserLogout(c.Handle(), brokerID, userID)
}

// ReqOrderInsert sends an order.
func (c *TraderClient) ReqOrderInsert(o OrderInsert) int {
	return c.bridge.ReqOrderInsert(c.Handle(), o)
}

// ReqOrderAction sends an order action.
func (c *TraderClient) ReqOrderAction(orderRef string, frontID, sessionID int, action femas.ActionFlag) int {
	return c.bridge.ReqOrderAction(c.Handle(), orderRef, frontID, sessionID, action)
}

// ReqQryInvestorPosition queries positions.
func (c *TraderClient) ReqQryInvestorPosition(brokerID, investorID, instrumentID string) int {
	return c.bridge.ReqQryInvestorPosition(c.Handle(), brokerID, investorID, instrumentID)
}

// ReqQryTradingAccount queries the trading account.
func (c *TraderClient) ReqQryTradingAccount(brokerID, investorID string) int {
	return c.bridge.ReqQryTradingAccount(c.Handle(), brokerID, investorID)
}

// ReqQryInstrument queries contract definitions.
func (c *TraderClient) ReqQryInstrument(instrumentID string) int {
	return c.bridge.ReqQryInstrument(c.Handle(), instrumentID)
}

// ReqQryOrder queries orders.
func (c *TraderClient) ReqQryOrder(brokerID, investorID, instrumentID string) int {
	return c.bridge.ReqQryOrder(c.Handle(), brokerID, investorID, instrumentID)
}

// ReqQryTrade queries trades.
func (c *TraderClient) ReqQryTrade(brokerID, investorID, instrumentID string) int {
	return c.bridge.ReqQryTrade(c.Handle(), brokerID, investorID, instrumentID)
}

// MarketClient is the caller-side object of one market-data session.
type MarketClient struct {
	bridge *MarketBridge
	sink   MarketSink
	handle atomic.Int64
}

// NewMarketClient creates a client delivering callbacks to sink.
func NewMarketClient(b *MarketBridge, sink MarketSink) *MarketClient {
	return &MarketClient{bridge: b, sink: sink}
}

// CreateMarketAPI creates the session and stores its handle. It reports false
// on any setup failure.
func (c *MarketClient) CreateMarketAPI(flowPath string) bool {
	h, err := c.bridge.Create(flowPath, c.sink)
	if err != nil {
		c.bridge.log.Warn().Err(err).Str("flow_dir", flowPath).Msg("Failed to create market API")
		return false
	}
	c.handle.Store(int64(h))
	return true
}

// Handle returns the stored handle.
func (c *MarketClient) Handle() Handle { return Handle(c.handle.Load()) }

// RegisterFront adds a front address to the session.
func (c *MarketClient) RegisterFront(address string) { c.bridge.RegisterFront(c.Handle(), address) }

// Init starts the session without blocking.
func (c *MarketClient) Init() { c.bridge.Start(c.Handle()) }

// Join blocks until the session ends.
func (c *MarketClient) Join() int { return c.bridge.Join(c.Handle()) }

// Release frees the session and resets the handle to 0.
func (c *MarketClient) Release() {
	h := Handle(c.handle.Swap(0))
	c.bridge.Release(h)
}

// ReqUserLogin sends a login request.
func (c *MarketClient) ReqUserLogin(brokerID, userID, password string) int {
	return c.bridge.ReqUserLogin(c.Handle(), brokerID, userID, password)
}

// ReqUserLogout sends a logout request.
func (c *MarketClient) ReqUserLogout(brokerID, userID string) int {
	return c.bridge.ReqUserLogout(c.Handle(), brokerID, userID)
}

// SubscribeMarketData subscribes instrument ids.
func (c *MarketClient) SubscribeMarketData(instrumentIDs ...string) int {
	return c.bridge.SubscribeMarketData(c.Handle(), instrumentIDs)
}

// UnsubscribeMarketData unsubscribes instrument ids.
func (c *MarketClient) UnsubscribeMarketData(instrumentIDs ...string) int {
	return c.bridge.UnsubscribeMarketData(c.Handle(), instrumentIDs)
}
