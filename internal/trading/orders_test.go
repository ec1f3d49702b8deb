package trading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/femas"
)

func buyOpen(volume int) OrderRequest {
	return OrderRequest{InstrumentID: "rb2501", Direction: "buy", OffsetFlag: "open", Price: 3500, Volume: volume}
}

func TestPlaceOrderValidation(t *testing.T) {
	s, _ := startService(t, testConfig(t), simOptions())

	tests := []struct {
		name string
		req  OrderRequest
	}{
		{name: "missing instrument", req: OrderRequest{Direction: "buy", OffsetFlag: "open", Price: 1, Volume: 1}},
		{name: "bad direction", req: OrderRequest{InstrumentID: "rb2501", Direction: "long", OffsetFlag: "open", Price: 1, Volume: 1}},
		{name: "bad offset", req: OrderRequest{InstrumentID: "rb2501", Direction: "buy", OffsetFlag: "flip", Price: 1, Volume: 1}},
		{name: "zero price", req: OrderRequest{InstrumentID: "rb2501", Direction: "buy", OffsetFlag: "open", Volume: 1}},
		{name: "zero volume", req: OrderRequest{InstrumentID: "rb2501", Direction: "buy", OffsetFlag: "open", Price: 1}},
		{name: "volume overflows int32", req: OrderRequest{InstrumentID: "rb2501", Direction: "buy", OffsetFlag: "open", Price: 1, Volume: 1<<32 + 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.PlaceOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestPlaceOrderNotLoggedIn(t *testing.T) {
	s, _ := startService(t, testConfig(t), simOptions())
	_, err := s.PlaceOrder(context.Background(), buyOpen(1))
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestPlaceOrderFills(t *testing.T) {
	rec := &recorder{}
	journal := &memJournal{}
	s, _ := startService(t, testConfig(t), simOptions(), WithPublisher(rec), WithJournal(journal))
	login(t, s)

	ack, err := s.PlaceOrder(context.Background(), buyOpen(2))
	require.NoError(t, err)
	assert.NotEmpty(t, ack.OrderRef)
	assert.GreaterOrEqual(t, ack.RequestID, 2)
	assert.Equal(t, "rb2501", ack.InstrumentID)

	require.Eventually(t, func() bool { return len(s.Trades()) == 1 }, 2*time.Second, 5*time.Millisecond)

	o, ok := s.Order(ack.OrderRef)
	require.True(t, ok)
	assert.Equal(t, "all_traded", o.Status)
	assert.Equal(t, 2, o.VolumeTraded)
	assert.Equal(t, "buy", o.Direction)
	assert.Equal(t, "open", o.OffsetFlag)

	tr := s.Trades()[0]
	assert.Equal(t, ack.OrderRef, tr.OrderRef)
	assert.Equal(t, o.OrderSysID, tr.OrderSysID)
	assert.Equal(t, "20240101", tr.TradingDay)
	assert.Equal(t, 2, tr.Volume)

	assert.True(t, rec.find(events.TopicOrders, true))
	assert.True(t, rec.find(events.TopicTrades, true))

	require.Eventually(t, func() bool {
		orders, trades := journal.counts()
		return orders == 2 && trades == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, s.Orders(), 1)
	assert.Equal(t, 1, s.Status().Trades)
}

func TestPlaceOrderOrderRefsIncrease(t *testing.T) {
	s, _ := startService(t, testConfig(t), simOptions())
	login(t, s)

	a, err := s.PlaceOrder(context.Background(), buyOpen(1))
	require.NoError(t, err)
	b, err := s.PlaceOrder(context.Background(), buyOpen(1))
	require.NoError(t, err)

	assert.NotEqual(t, a.OrderRef, b.OrderRef)
	assert.Greater(t, b.RequestID, a.RequestID)
	assert.LessOrEqual(t, len(b.OrderRef), femas.OrderRefLen-1)
}

func TestPlaceOrderRejectionsTripBreaker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Breaker.MaxFailures = 2
	s, _ := startService(t, cfg, simOptions())
	login(t, s)

	closeLong := OrderRequest{InstrumentID: "rb2501", Direction: "sell", OffsetFlag: "close", Price: 3500, Volume: 1}
	for i := 0; i < 2; i++ {
		_, err := s.PlaceOrder(context.Background(), closeLong)
		var ve *VendorError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, femas.SimErrCloseExceedsPos, ve.ID)
	}

	_, err := s.PlaceOrder(context.Background(), buyOpen(1))
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, "open", s.Status().BreakerState)
}

func TestPlaceOrderValidationDoesNotTripBreaker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Breaker.MaxFailures = 1
	s, _ := startService(t, cfg, simOptions())
	login(t, s)

	for i := 0; i < 3; i++ {
		_, err := s.PlaceOrder(context.Background(), OrderRequest{InstrumentID: "rb2501", Direction: "buy", OffsetFlag: "open", Volume: 1})
		require.ErrorIs(t, err, ErrInvalidOrder)
	}
	_, err := s.PlaceOrder(context.Background(), buyOpen(1))
	assert.NoError(t, err)
}

func TestPlaceOrderThrottled(t *testing.T) {
	cfg := testConfig(t)
	cfg.OrderRate = 0.001
	cfg.OrderBurst = 1
	s, _ := startService(t, cfg, simOptions())
	login(t, s)

	_, err := s.PlaceOrder(context.Background(), buyOpen(1))
	require.NoError(t, err)
	_, err = s.PlaceOrder(context.Background(), buyOpen(1))
	assert.ErrorIs(t, err, ErrThrottled)
}

func TestCancelOrder(t *testing.T) {
	opts := simOptions()
	opts.HoldOrders = true
	s, _ := startService(t, testConfig(t), opts)
	login(t, s)

	ack, err := s.PlaceOrder(context.Background(), buyOpen(1))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		o, ok := s.Order(ack.OrderRef)
		return ok && o.Status == "no_trade_queueing"
	}, 2*time.Second, 5*time.Millisecond)

	st := s.Status()
	require.NotZero(t, st.SessionID)
	o, _ := s.Order(ack.OrderRef)
	assert.Equal(t, st.FrontID, o.FrontID)
	assert.Equal(t, st.SessionID, o.SessionID)

	// The simulator only matches a ref within its own session.
	err = s.CancelOrder(context.Background(), CancelRequest{OrderRef: ack.OrderRef, FrontID: st.FrontID, SessionID: st.SessionID + 1})
	var foreign *VendorError
	require.ErrorAs(t, err, &foreign)
	assert.Equal(t, femas.SimErrOrderNotFound, foreign.ID)

	require.NoError(t, s.CancelOrder(context.Background(), CancelRequest{OrderRef: ack.OrderRef}))
	require.Eventually(t, func() bool {
		o, _ := s.Order(ack.OrderRef)
		return o.Status == "canceled"
	}, 2*time.Second, 5*time.Millisecond)

	err = s.CancelOrder(context.Background(), CancelRequest{OrderRef: ack.OrderRef})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	err = s.CancelOrder(context.Background(), CancelRequest{OrderRef: "424242"})
	var ve *VendorError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, femas.SimErrOrderNotFound, ve.ID)

	assert.ErrorIs(t, s.CancelOrder(context.Background(), CancelRequest{}), ErrInvalidOrder)
}
