package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/skalibog/perpbot/pkg/models"
	"go.uber.org/zap"
)

// Paper бумажная биржа: рыночные данные берутся у реальной биржи,
// ордера исполняются по последней цене, баланс учитывается локально.
type Paper struct {
	market     Exchange
	quoteAsset string
	commission float64

	mu      sync.Mutex
	balance float64
}

// NewPaper создает бумажную биржу поверх источника рыночных данных
func NewPaper(market Exchange, quoteAsset string, balance, commission float64) *Paper {
	return &Paper{
		market:     market,
		quoteAsset: quoteAsset,
		commission: commission,
		balance:    balance,
	}
}

// FetchOHLCV делегирует запрос свечей
func (p *Paper) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return p.market.FetchOHLCV(ctx, symbol, timeframe, limit)
}

// FetchTicker делегирует запрос цены
func (p *Paper) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	return p.market.FetchTicker(ctx, symbol)
}

// CreateOrder исполняет рыночный ордер по последней цене
func (p *Paper) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: количество должно быть положительным", ErrOrderRejected)
	}

	price, err := TickerPrices{Exchange: p.market}.LastPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	fee := price * req.Quantity * p.commission

	p.mu.Lock()
	if !req.ReduceOnly && fee > p.balance {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: баланс %.2f", ErrInsufficientFunds, p.balance)
	}
	p.balance -= fee
	p.mu.Unlock()

	order := &models.Order{
		ID:            uuid.NewString(),
		ClientOrderID: uuid.NewString(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		AvgPrice:      price,
		Status:        "FILLED",
		Timestamp:     time.Now(),
	}

	logger.Info("Бумажный ордер исполнен",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("price", price),
		zap.Float64("quantity", req.Quantity))
	return order, nil
}

// ClosePosition закрывает позицию и зачисляет реализованный PnL
func (p *Paper) ClosePosition(ctx context.Context, symbol string, position models.Position) (*models.Order, error) {
	order, err := p.CreateOrder(ctx, closeRequest(symbol, position))
	if err != nil {
		return nil, fmt.Errorf("ошибка закрытия позиции %s: %w", symbol, err)
	}

	pnl := (order.AvgPrice - position.EntryPrice) * position.Quantity
	if position.Side == models.Short {
		pnl = -pnl
	}

	p.mu.Lock()
	p.balance += pnl
	p.mu.Unlock()

	return order, nil
}

// FetchBalance возвращает симулированный баланс
func (p *Paper) FetchBalance(ctx context.Context) (*models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &models.Balance{Total: map[string]float64{p.quoteAsset: p.balance}}, nil
}
