package femas

import "strings"

// SimInstrument describes a contract known to the simulator.
type SimInstrument struct {
	ID             string
	Name           string
	ExchangeID     string
	ProductID      string
	PriceTick      float64
	VolumeMultiple int32
	MarginRatio    float64
	BasePrice      float64
}

// DefaultSimInstruments is the catalog used when SimOptions.Instruments is
// empty.
func DefaultSimInstruments() []SimInstrument {
	return []SimInstrument{
		{ID: "rb2501", Name: "螺纹钢2501", ExchangeID: "SHFE", ProductID: "rb", PriceTick: 1, VolumeMultiple: 10, MarginRatio: 0.08, BasePrice: 3500},
		{ID: "cu2501", Name: "沪铜2501", ExchangeID: "SHFE", ProductID: "cu", PriceTick: 10, VolumeMultiple: 5, MarginRatio: 0.1, BasePrice: 70000},
		{ID: "au2502", Name: "黄金2502", ExchangeID: "SHFE", ProductID: "au", PriceTick: 0.02, VolumeMultiple: 1000, MarginRatio: 0.08, BasePrice: 450},
	}
}

const defaultBasePrice = 1000

var productBasePrice = map[string]float64{
	"rb": 3500,
	"cu": 70000,
	"au": 450,
}

// productOf returns the leading letters of an instrument id ("rb2501" -> "rb").
func productOf(instrumentID string) string {
	i := strings.IndexFunc(instrumentID, func(r rune) bool { return r >= '0' && r <= '9' })
	if i < 0 {
		return strings.ToLower(instrumentID)
	}
	return strings.ToLower(instrumentID[:i])
}

// basePriceOf returns the reference price for an instrument by product.
func basePriceOf(instrumentID string) float64 {
	if p, ok := productBasePrice[productOf(instrumentID)]; ok {
		return p
	}
	return defaultBasePrice
}

type instrumentCatalog map[string]SimInstrument

func newInstrumentCatalog(list []SimInstrument) instrumentCatalog {
	if len(list) == 0 {
		list = DefaultSimInstruments()
	}
	c := make(instrumentCatalog, len(list))
	for _, inst := range list {
		c[inst.ID] = inst
	}
	return c
}

// lookup returns the catalog entry, synthesizing one for unknown ids.
func (c instrumentCatalog) lookup(id string) SimInstrument {
	if inst, ok := c[id]; ok {
		return inst
	}
	return SimInstrument{
		ID:             id,
		Name:           id,
		ExchangeID:     "SHFE",
		ProductID:      productOf(id),
		PriceTick:      1,
		VolumeMultiple: 10,
		MarginRatio:    0.08,
		BasePrice:      basePriceOf(id),
	}
}

func (c instrumentCatalog) record(inst SimInstrument, enc func(string) string) *RspInstrumentField {
	r := &RspInstrumentField{
		PriceTick:       inst.PriceTick,
		VolumeMultiple:  inst.VolumeMultiple,
		MinMarginRatio:  inst.MarginRatio,
		UpperLimitPrice: inst.BasePrice * 1.1,
		LowerLimitPrice: inst.BasePrice * 0.9,
	}
	CopyField(r.ExchangeID[:], inst.ExchangeID)
	CopyField(r.ProductID[:], inst.ProductID)
	CopyField(r.InstrumentID[:], inst.ID)
	CopyField(r.InstrumentName[:], enc(inst.Name))
	return r
}
