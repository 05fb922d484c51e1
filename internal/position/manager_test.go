package position

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/skalibog/perpbot/internal/exchange"
	"github.com/skalibog/perpbot/internal/exchange/exchangetest"
	"github.com/skalibog/perpbot/internal/risk"
	"github.com/skalibog/perpbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	trades []models.Trade
}

func (r *recorder) OnTrade(_ context.Context, trade models.Trade) {
	r.mu.Lock()
	r.trades = append(r.trades, trade)
	r.mu.Unlock()
}

func newManager(ex *exchangetest.MockExchange, prices exchangetest.Prices) (*Manager, *risk.Manager, *recorder) {
	rm := risk.NewManager(1000, risk.Params{RiskPerTrade: 0.01, Leverage: 10, QuoteAsset: "USDT"})
	m := NewManager(ex, prices, rm, Params{TakeProfitPercent: 2, StopLossPercent: 1})
	rec := &recorder{}
	m.SetObserver(rec)
	return m, rm, rec
}

func filled(id string, price float64) *models.Order {
	return &models.Order{ID: id, AvgPrice: price, Status: "FILLED"}
}

func TestTargets(t *testing.T) {
	t.Parallel()

	params := Params{TakeProfitPercent: 2, StopLossPercent: 1}

	tp, sl := Targets(models.Long, 100, params)
	assert.InDelta(t, 102.0, tp, 1e-9)
	assert.InDelta(t, 99.0, sl, 1e-9)

	tp, sl = Targets(models.Short, 100, params)
	assert.InDelta(t, 98.0, tp, 1e-9)
	assert.InDelta(t, 101.0, sl, 1e-9)
}

func TestExitReason(t *testing.T) {
	t.Parallel()

	long := models.Position{Side: models.Long, TakeProfitPrice: 102, StopLossPrice: 99}
	short := models.Position{Side: models.Short, TakeProfitPrice: 98, StopLossPrice: 101}

	tests := []struct {
		name     string
		position models.Position
		price    float64
		reason   string
		hit      bool
	}{
		{"long take profit", long, 102, ReasonTakeProfit, true},
		{"long above take profit", long, 105, ReasonTakeProfit, true},
		{"long stop loss", long, 99, ReasonStopLoss, true},
		{"long inside range", long, 100, "", false},
		{"short take profit", short, 98, ReasonTakeProfit, true},
		{"short stop loss", short, 101.5, ReasonStopLoss, true},
		{"short inside range", short, 100, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, hit := ExitReason(tt.position, tt.price)
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestOpenRecordsPosition(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	ex.On("CreateOrder", mock.Anything, models.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     models.Buy,
		Type:     models.Market,
		Quantity: 0.5,
	}).Return(filled("42", 60000), nil).Once()

	m, _, rec := newManager(ex, exchangetest.Prices{})

	p, err := m.Open(context.Background(), "BTCUSDT", models.Long, 0.5, 60000)
	require.NoError(t, err)

	assert.Equal(t, "42", p.OrderID)
	assert.InDelta(t, 61200.0, p.TakeProfitPrice, 1e-6)
	assert.InDelta(t, 59400.0, p.StopLossPrice, 1e-6)
	assert.True(t, m.Has("BTCUSDT"))

	require.Len(t, rec.trades, 1)
	assert.Equal(t, models.ActionOpen, rec.trades[0].Action)
	assert.NotEmpty(t, rec.trades[0].ID)
	ex.AssertExpectations(t)
}

func TestOpenShortUsesSellOrder(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	ex.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req models.OrderRequest) bool {
		return req.Side == models.Sell && !req.ReduceOnly
	})).Return(filled("7", 100), nil).Once()

	m, _, _ := newManager(ex, exchangetest.Prices{})
	p, err := m.Open(context.Background(), "ETHUSDT", models.Short, 1, 100)
	require.NoError(t, err)

	assert.InDelta(t, 98.0, p.TakeProfitPrice, 1e-9)
	assert.InDelta(t, 101.0, p.StopLossPrice, 1e-9)
	ex.AssertExpectations(t)
}

func TestOpenRejectsDuplicateSymbol(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	ex.On("CreateOrder", mock.Anything, mock.Anything).Return(filled("1", 100), nil).Once()

	m, _, _ := newManager(ex, exchangetest.Prices{})
	_, err := m.Open(context.Background(), "BTCUSDT", models.Long, 1, 100)
	require.NoError(t, err)

	_, err = m.Open(context.Background(), "BTCUSDT", models.Short, 2, 101)
	assert.ErrorIs(t, err, ErrPositionExists)

	p, ok := m.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, models.Long, p.Side, "existing position is not overwritten")
	ex.AssertNumberOfCalls(t, "CreateOrder", 1)
}

func TestOpenInvalidQuantity(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	m, _, _ := newManager(ex, exchangetest.Prices{})

	_, err := m.Open(context.Background(), "BTCUSDT", models.Long, 0, 100)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	ex.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestOpenOrderFailure(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	ex.On("CreateOrder", mock.Anything, mock.Anything).
		Return(nil, exchange.ErrInsufficientFunds).Once()

	m, _, rec := newManager(ex, exchangetest.Prices{})
	_, err := m.Open(context.Background(), "BTCUSDT", models.Long, 1, 100)

	assert.ErrorIs(t, err, exchange.ErrInsufficientFunds)
	assert.False(t, m.Has("BTCUSDT"))
	assert.Empty(t, rec.trades)
}

func TestManagePositionsClosesOnTargets(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	ex.On("FetchBalance", mock.Anything).
		Return(&models.Balance{Total: map[string]float64{"USDT": 1200}}, nil)
	ex.On("CreateOrder", mock.Anything, mock.Anything).Return(filled("1", 100), nil)
	ex.On("ClosePosition", mock.Anything, "BTCUSDT", mock.Anything).Return(filled("2", 102.5), nil).Once()

	prices := exchangetest.Prices{"BTCUSDT": 102.5, "ETHUSDT": 100}
	m, rm, rec := newManager(ex, prices)

	_, err := m.Open(context.Background(), "BTCUSDT", models.Long, 2, 100)
	require.NoError(t, err)
	_, err = m.Open(context.Background(), "ETHUSDT", models.Long, 1, 100)
	require.NoError(t, err)

	require.NoError(t, m.ManagePositions(context.Background()))

	assert.False(t, m.Has("BTCUSDT"))
	assert.True(t, m.Has("ETHUSDT"))
	assert.Equal(t, 1200.0, rm.Balance())

	require.Len(t, rec.trades, 3)
	closed := rec.trades[2]
	assert.Equal(t, models.ActionClose, closed.Action)
	assert.Equal(t, ReasonTakeProfit, closed.Reason)
	assert.InDelta(t, 5.0, closed.PnL, 1e-9)
	ex.AssertExpectations(t)
}

func TestManagePositionsShortStopLoss(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	ex.On("FetchBalance", mock.Anything).Return(nil, errors.New("timeout"))
	ex.On("CreateOrder", mock.Anything, mock.Anything).Return(filled("1", 100), nil)
	ex.On("ClosePosition", mock.Anything, "BTCUSDT", mock.MatchedBy(func(p models.Position) bool {
		return p.Side == models.Short
	})).Return(filled("2", 0), nil).Once()

	prices := exchangetest.Prices{"BTCUSDT": 101}
	m, rm, rec := newManager(ex, prices)

	_, err := m.Open(context.Background(), "BTCUSDT", models.Short, 1, 100)
	require.NoError(t, err)

	require.NoError(t, m.ManagePositions(context.Background()))
	assert.False(t, m.Has("BTCUSDT"))
	assert.Equal(t, 1000.0, rm.Balance(), "balance refresh failure keeps last known")

	closed := rec.trades[len(rec.trades)-1]
	assert.Equal(t, ReasonStopLoss, closed.Reason)
	assert.InDelta(t, -1.0, closed.PnL, 1e-9)
}

func TestManagePositionsSkipsMissingPrice(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	ex.On("FetchBalance", mock.Anything).
		Return(&models.Balance{Total: map[string]float64{"USDT": 1000}}, nil)
	ex.On("CreateOrder", mock.Anything, mock.Anything).Return(filled("1", 100), nil)

	m, _, _ := newManager(ex, exchangetest.Prices{})
	_, err := m.Open(context.Background(), "BTCUSDT", models.Long, 1, 100)
	require.NoError(t, err)

	assert.NoError(t, m.ManagePositions(context.Background()))
	assert.True(t, m.Has("BTCUSDT"))
	ex.AssertNotCalled(t, "ClosePosition", mock.Anything, mock.Anything, mock.Anything)
}

func TestFailedCloseKeepsPosition(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	ex.On("FetchBalance", mock.Anything).
		Return(&models.Balance{Total: map[string]float64{"USDT": 1000}}, nil)
	ex.On("CreateOrder", mock.Anything, mock.Anything).Return(filled("1", 100), nil)
	ex.On("ClosePosition", mock.Anything, "BTCUSDT", mock.Anything).
		Return(nil, exchange.ErrOrderRejected).Once()
	ex.On("ClosePosition", mock.Anything, "BTCUSDT", mock.Anything).
		Return(filled("3", 98), nil).Once()

	prices := exchangetest.Prices{"BTCUSDT": 98}
	m, _, rec := newManager(ex, prices)
	_, err := m.Open(context.Background(), "BTCUSDT", models.Long, 1, 100)
	require.NoError(t, err)

	err = m.ManagePositions(context.Background())
	assert.ErrorIs(t, err, exchange.ErrOrderRejected)
	assert.True(t, m.Has("BTCUSDT"), "failed close must keep tracking the position")
	assert.Len(t, rec.trades, 1)

	require.NoError(t, m.ManagePositions(context.Background()))
	assert.False(t, m.Has("BTCUSDT"))
	ex.AssertExpectations(t)
}

func TestCloseManual(t *testing.T) {
	t.Parallel()

	ex := &exchangetest.MockExchange{}
	ex.On("CreateOrder", mock.Anything, mock.Anything).Return(filled("1", 100), nil)
	ex.On("ClosePosition", mock.Anything, "BTCUSDT", mock.Anything).Return(filled("2", 100.5), nil)

	m, _, rec := newManager(ex, exchangetest.Prices{"BTCUSDT": 100.5})

	assert.ErrorIs(t, m.Close(context.Background(), "BTCUSDT"), ErrNoPosition)

	_, err := m.Open(context.Background(), "BTCUSDT", models.Long, 1, 100)
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background(), "BTCUSDT"))

	assert.Empty(t, m.Positions())
	assert.Equal(t, ReasonManual, rec.trades[len(rec.trades)-1].Reason)
}
