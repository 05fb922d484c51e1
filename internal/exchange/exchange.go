package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/skalibog/perpbot/pkg/models"
)

// Классы ошибок исполнения
var (
	ErrOrderRejected     = errors.New("ордер отклонен")
	ErrInsufficientFunds = errors.New("недостаточно средств")
	ErrNoPrice           = errors.New("цена недоступна")
)

// Exchange возможности биржи, используемые ядром. Все операции могут завершиться ошибкой.
type Exchange interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error)
	CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	ClosePosition(ctx context.Context, symbol string, position models.Position) (*models.Order, error)
	FetchBalance(ctx context.Context) (*models.Balance, error)
}

// PriceSource источник последней цены инструмента
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// TickerPrices берет последнюю цену из тикера биржи
type TickerPrices struct {
	Exchange Exchange
}

// LastPrice возвращает последнюю цену сделки
func (t TickerPrices) LastPrice(ctx context.Context, symbol string) (float64, error) {
	ticker, err := t.Exchange.FetchTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if ticker == nil || ticker.Last <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return ticker.Last, nil
}

// closeRequest формирует reduce-only ордер, противоположный позиции
func closeRequest(symbol string, position models.Position) models.OrderRequest {
	return models.OrderRequest{
		Symbol:     symbol,
		Side:       position.Side.Opposite(),
		Type:       models.Market,
		Quantity:   position.Quantity,
		ReduceOnly: true,
	}
}
