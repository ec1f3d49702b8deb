package trading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/femasgate/internal/bridge"
	"github.com/ajitpratap0/femasgate/internal/femas"
)

func TestQueries(t *testing.T) {
	s, _ := startService(t, testConfig(t), simOptions())
	login(t, s)
	ctx := context.Background()

	ack, err := s.PlaceOrder(ctx, buyOpen(2))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(s.Trades()) == 1 }, 2*time.Second, 5*time.Millisecond)

	positions, err := s.QueryPositions(ctx, "")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "rb2501", positions[0].InstrumentID)
	assert.Equal(t, "long", positions[0].Direction)
	assert.Equal(t, 2, positions[0].Position)

	account, err := s.QueryAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CNY", account.Currency)
	assert.Positive(t, account.Margin)

	instruments, err := s.QueryInstruments(ctx, "rb2501")
	require.NoError(t, err)
	require.Len(t, instruments, 1)
	assert.InDelta(t, 1.0, instruments[0].PriceTick, 1e-9)

	all, err := s.QueryInstruments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, len(femas.DefaultSimInstruments()))

	orders, err := s.QueryOrders(ctx, "")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, ack.OrderRef, orders[0].OrderRef)
	assert.Equal(t, 1, orders[0].FrontID)

	trades, err := s.QueryTrades(ctx, "rb2501")
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	none, err := s.QueryTrades(ctx, "cu2501")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryNotLoggedIn(t *testing.T) {
	s, _ := startService(t, testConfig(t), simOptions())
	_, err := s.QueryPositions(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestQueryFailsOnDisconnect(t *testing.T) {
	opts := simOptions()
	opts.ResponseDelay = 100 * time.Millisecond
	s, sim := startService(t, testConfig(t), opts)
	login(t, s)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.QueryAccount(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		s.qmu.Lock()
		defer s.qmu.Unlock()
		return len(s.queries) == 1
	}, time.Second, time.Millisecond)

	sim.Disconnect(femas.ReasonNetworkReadFailed)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("query not failed by disconnect")
	}
}

func TestQueryFrameIgnoresUnknownRequest(t *testing.T) {
	s := New(testConfig(t), nil)
	assert.NotPanics(t, func() { s.queryFrame(99, nil, bridge.RspInfo{}, true) })
}
