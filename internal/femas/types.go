package femas

import "strings"

// Direction is the buy/sell flag (TUstpFtdcDirectionType).
type Direction byte

const (
	DirectionBuy  Direction = '0'
	DirectionSell Direction = '1'
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool { return d == DirectionBuy || d == DirectionSell }

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "buy"
	case DirectionSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseDirection accepts "buy", "sell" or the raw flag characters.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(s) {
	case "buy", "0":
		return DirectionBuy, true
	case "sell", "1":
		return DirectionSell, true
	}
	return 0, false
}

// OffsetFlag is the open/close flag (TUstpFtdcOffsetFlagType).
type OffsetFlag byte

const (
	OffsetOpen           OffsetFlag = '0'
	OffsetClose          OffsetFlag = '1'
	OffsetForceClose     OffsetFlag = '2'
	OffsetCloseToday     OffsetFlag = '3'
	OffsetCloseYesterday OffsetFlag = '4'
)

// Valid reports whether f is a known offset flag.
func (f OffsetFlag) Valid() bool { return f >= OffsetOpen && f <= OffsetCloseYesterday }

func (f OffsetFlag) String() string {
	switch f {
	case OffsetOpen:
		return "open"
	case OffsetClose:
		return "close"
	case OffsetForceClose:
		return "force_close"
	case OffsetCloseToday:
		return "close_today"
	case OffsetCloseYesterday:
		return "close_yesterday"
	default:
		return "unknown"
	}
}

// ParseOffsetFlag accepts the String form of a flag or its raw character.
func ParseOffsetFlag(s string) (OffsetFlag, bool) {
	s = strings.ToLower(s)
	if len(s) == 1 {
		f := OffsetFlag(s[0])
		return f, f.Valid()
	}
	for f := OffsetOpen; f <= OffsetCloseYesterday; f++ {
		if f.String() == s {
			return f, true
		}
	}
	return 0, false
}

// OrderPriceType is the price condition of an order.
type OrderPriceType byte

const (
	PriceAny        OrderPriceType = '1'
	PriceLimit      OrderPriceType = '2'
	PriceBest       OrderPriceType = '3'
	PriceFiveLevels OrderPriceType = '4'
)

// TimeCondition is the order validity.
type TimeCondition byte

const (
	TimeIOC TimeCondition = '1'
	TimeGFS TimeCondition = '2'
	TimeGFD TimeCondition = '3'
	TimeGTD TimeCondition = '4'
	TimeGTC TimeCondition = '5'
	TimeGFA TimeCondition = '6'
)

// VolumeCondition is the fill-quantity condition.
type VolumeCondition byte

const (
	VolumeAny VolumeCondition = '1'
	VolumeMin VolumeCondition = '2'
	VolumeAll VolumeCondition = '3'
)

// ContingentCondition is the trigger condition of an order.
type ContingentCondition byte

const ContingentImmediately ContingentCondition = '1'

// ForceCloseReason tells the exchange why a position is being force closed.
type ForceCloseReason byte

const ForceCloseNotForceClose ForceCloseReason = '0'

// ActionFlag is the operation requested by an order action.
type ActionFlag byte

const (
	ActionDelete   ActionFlag = '0'
	ActionSuspend  ActionFlag = '1'
	ActionActivate ActionFlag = '2'
	ActionModify   ActionFlag = '3'
)

// OrderStatus is the lifecycle state reported in order returns.
type OrderStatus byte

const (
	OrderStatusAllTraded             OrderStatus = '0'
	OrderStatusPartTradedQueueing    OrderStatus = '1'
	OrderStatusPartTradedNotQueueing OrderStatus = '2'
	OrderStatusNoTradeQueueing       OrderStatus = '3'
	OrderStatusNoTradeNotQueueing    OrderStatus = '4'
	OrderStatusCanceled              OrderStatus = '5'
	OrderStatusUnknown               OrderStatus = 'a'
)

// Done reports whether the order can no longer trade.
func (s OrderStatus) Done() bool {
	switch s {
	case OrderStatusAllTraded, OrderStatusPartTradedNotQueueing,
		OrderStatusNoTradeNotQueueing, OrderStatusCanceled:
		return true
	}
	return false
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusAllTraded:
		return "all_traded"
	case OrderStatusPartTradedQueueing:
		return "part_traded_queueing"
	case OrderStatusPartTradedNotQueueing:
		return "part_traded_not_queueing"
	case OrderStatusNoTradeQueueing:
		return "no_trade_queueing"
	case OrderStatusNoTradeNotQueueing:
		return "no_trade_not_queueing"
	case OrderStatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// PosiDirection is the side of a held position.
type PosiDirection byte

const (
	PosiLong  PosiDirection = '2'
	PosiShort PosiDirection = '3'
)

// Return codes of Req* calls besides 0 (accepted).
const (
	ReturnNetworkFailure = -1
	ReturnTooManyPending = -2
	ReturnRateExceeded   = -3
)

// Disconnect reasons passed to OnFrontDisconnected.
const (
	ReasonNetworkReadFailed  = 0x1001
	ReasonNetworkWriteFailed = 0x1002
	ReasonHeartbeatTimeout   = 0x2001
	ReasonSendHeartbeat      = 0x2002
	ReasonBadMessage         = 0x2003
)
