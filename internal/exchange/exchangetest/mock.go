// Package exchangetest содержит заглушки биржи для тестов
package exchangetest

import (
	"context"
	"fmt"
	"time"

	"github.com/skalibog/perpbot/internal/exchange"
	"github.com/skalibog/perpbot/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockExchange мок биржи на testify/mock
type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	args := m.Called(ctx, symbol, timeframe, limit)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Candle), nil
}

func (m *MockExchange) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	args := m.Called(ctx, symbol)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticker), nil
}

func (m *MockExchange) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	args := m.Called(ctx, req)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), nil
}

func (m *MockExchange) ClosePosition(ctx context.Context, symbol string, position models.Position) (*models.Order, error) {
	args := m.Called(ctx, symbol, position)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), nil
}

func (m *MockExchange) FetchBalance(ctx context.Context) (*models.Balance, error) {
	args := m.Called(ctx)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Balance), nil
}

// Prices фиксированные цены по символам; отсутствующий символ дает ошибку
type Prices map[string]float64

// LastPrice возвращает цену символа
func (p Prices) LastPrice(_ context.Context, symbol string) (float64, error) {
	price, ok := p[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", exchange.ErrNoPrice, symbol)
	}
	return price, nil
}

// Candles генерирует свечи с заданными ценами закрытия
func Candles(symbol string, closes []float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			Symbol:   symbol,
			Interval: "5m",
			OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   1,
		}
	}
	return candles
}
