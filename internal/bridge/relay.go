package bridge

import (
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/femas"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// relayCore delivers converted callbacks into the sink domain through a Gate.
type relayCore struct {
	bridge string
	gate   *Gate
	dec    femas.Decoder
	log    zerolog.Logger
}

// deliver runs fn inside one gate entry. Entry failures drop the callback;
// a panicking sink is recovered and reported. The entry is released on every
// path.
func (r *relayCore) deliver(event string, fn func()) {
	leave, err := r.gate.Enter()
	if err != nil {
		r.log.Warn().Err(err).Str("event", event).Msg("Dropping vendor callback")
		metrics.RecordCallback(r.bridge, event, metrics.CallbackDropped)
		return
	}
	defer leave()

	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Str("event", event).
				Str("panic", fmt.Sprint(p)).
				Bytes("stack", debug.Stack()).
				Msg("Callback sink panicked")
			metrics.RecordCallback(r.bridge, event, metrics.CallbackPanicked)
		}
	}()

	fn()
	metrics.RecordCallback(r.bridge, event, metrics.CallbackDelivered)
}

// suppress records a non-final frame that is intentionally not forwarded.
func (r *relayCore) suppress(event string) {
	metrics.RecordCallback(r.bridge, event, metrics.CallbackSuppressed)
}

// unhandled records a callback whose sink lacks the optional capability.
func (r *relayCore) unhandled(event string) {
	metrics.RecordCallback(r.bridge, event, metrics.CallbackUnhandled)
}

// text decodes a vendor free-text field.
func (r *relayCore) text(b []byte) string {
	return r.dec.Decode(b)
}

// info flattens a possibly nil RspInfoField.
func (r *relayCore) info(i *femas.RspInfoField) RspInfo {
	if i == nil {
		return RspInfo{}
	}
	return RspInfo{ErrorID: int(i.ErrorID), ErrorMsg: r.text(i.ErrorMsg[:])}
}

func posiDirection(d femas.PosiDirection) string {
	switch d {
	case femas.PosiLong:
		return "long"
	case femas.PosiShort:
		return "short"
	default:
		return "net"
	}
}

func (r *relayCore) position(p *femas.RspInvestorPositionField) *Position {
	if p == nil {
		return nil
	}
	return &Position{
		InstrumentID: femas.FieldString(p.InstrumentID[:]),
		Direction:    posiDirection(p.PosiDirection),
		Position:     int(p.Position),
		YdPosition:   int(p.YdPosition),
		PositionCost: p.PositionCost,
		UseMargin:    p.UseMargin,
		FrozenVolume: int(p.FrozenVolume),
	}
}

func (r *relayCore) account(a *femas.RspTradingAccountField) *Account {
	if a == nil {
		return nil
	}
	return &Account{
		InvestorID:   femas.FieldString(a.InvestorID[:]),
		Currency:     femas.FieldString(a.Currency[:]),
		PreBalance:   a.PreBalance,
		Balance:      a.Balance,
		Available:    a.Available,
		Margin:       a.Margin,
		FrozenMargin: a.FrozenMargin,
		Fee:          a.Fee,
		CloseProfit:  a.CloseProfit,
		PositionPnL:  a.PositionPnL,
	}
}

func (r *relayCore) instrument(i *femas.RspInstrumentField) *Instrument {
	if i == nil {
		return nil
	}
	return &Instrument{
		InstrumentID:    femas.FieldString(i.InstrumentID[:]),
		InstrumentName:  r.text(i.InstrumentName[:]),
		ExchangeID:      femas.FieldString(i.ExchangeID[:]),
		ProductID:       femas.FieldString(i.ProductID[:]),
		PriceTick:       i.PriceTick,
		VolumeMultiple:  int(i.VolumeMultiple),
		MarginRatio:     i.MinMarginRatio,
		UpperLimitPrice: i.UpperLimitPrice,
		LowerLimitPrice: i.LowerLimitPrice,
	}
}

func (r *relayCore) order(o *femas.OrderField) *Order {
	if o == nil {
		return nil
	}
	return &Order{
		OrderSysID:   femas.FieldString(o.OrderSysID[:]),
		OrderRef:     femas.FieldString(o.OrderRef[:]),
		InstrumentID: femas.FieldString(o.InstrumentID[:]),
		ExchangeID:   femas.FieldString(o.ExchangeID[:]),
		Direction:    o.Direction.String(),
		OffsetFlag:   o.OffsetFlag.String(),
		Price:        o.LimitPrice,
		Volume:       int(o.Volume),
		VolumeTraded: int(o.VolumeTraded),
		Status:       o.OrderStatus.String(),
		StatusMsg:    r.text(o.StatusMsg[:]),
		InsertTime:   femas.FieldString(o.InsertTime[:]),
		FrontID:      int(o.FrontID),
		SessionID:    int(o.SessionID),
	}
}

func (r *relayCore) trade(t *femas.TradeField) *Trade {
	if t == nil {
		return nil
	}
	return &Trade{
		TradeID:      femas.FieldString(t.TradeID[:]),
		OrderSysID:   femas.FieldString(t.OrderSysID[:]),
		OrderRef:     femas.FieldString(t.OrderRef[:]),
		InstrumentID: femas.FieldString(t.InstrumentID[:]),
		Direction:    t.Direction.String(),
		OffsetFlag:   t.OffsetFlag.String(),
		Price:        t.Price,
		Volume:       int(t.Volume),
		TradeTime:    femas.FieldString(t.TradeTime[:]),
		TradingDay:   femas.FieldString(t.TradingDay[:]),
	}
}

func marketData(d *femas.DepthMarketDataField) MarketData {
	m := MarketData{
		InstrumentID:    femas.FieldString(d.InstrumentID[:]),
		ExchangeID:      femas.FieldString(d.ExchangeID[:]),
		TradingDay:      femas.FieldString(d.TradingDay[:]),
		UpdateTime:      femas.FieldString(d.UpdateTime[:]),
		UpdateMillisec:  int(d.UpdateMillisec),
		LastPrice:       d.LastPrice,
		Volume:          d.Volume,
		Turnover:        d.Turnover,
		OpenInterest:    d.OpenInterest,
		BidPrices:       d.BidPrice,
		AskPrices:       d.AskPrice,
		UpperLimitPrice: d.UpperLimitPrice,
		LowerLimitPrice: d.LowerLimitPrice,
		PreClosePrice:   d.PreClosePrice,
		OpenPrice:       d.OpenPrice,
		HighestPrice:    d.HighestPrice,
		LowestPrice:     d.LowestPrice,
	}
	for i := range d.BidVolume {
		m.BidVolumes[i] = int(d.BidVolume[i])
		m.AskVolumes[i] = int(d.AskVolume[i])
	}
	return m
}
