package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skalibog/perpbot/internal/exchange"
	"github.com/skalibog/perpbot/internal/risk"
	"github.com/skalibog/perpbot/pkg/id"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/skalibog/perpbot/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrPositionExists по символу уже открыта позиция
	ErrPositionExists = errors.New("позиция уже открыта")
	// ErrInvalidQuantity размер позиции не положителен
	ErrInvalidQuantity = errors.New("некорректный размер позиции")
	// ErrNoPosition по символу нет открытой позиции
	ErrNoPosition = errors.New("нет открытой позиции")
)

// Close reasons
const (
	ReasonTakeProfit = "take_profit"
	ReasonStopLoss   = "stop_loss"
	ReasonManual     = "manual"
)

// Params проценты тейк-профита и стоп-лосса (1.0 = 1%)
type Params struct {
	TakeProfitPercent float64
	StopLossPercent   float64
}

// TradeObserver получает события открытия и закрытия
type TradeObserver interface {
	OnTrade(ctx context.Context, trade models.Trade)
}

// Targets рассчитывает цены тейк-профита и стоп-лосса от цены входа
func Targets(side models.Side, entryPrice float64, params Params) (takeProfit, stopLoss float64) {
	tp := params.TakeProfitPercent / 100
	sl := params.StopLossPercent / 100
	if side == models.Short {
		return entryPrice * (1 - tp), entryPrice * (1 + sl)
	}
	return entryPrice * (1 + tp), entryPrice * (1 - sl)
}

// ExitReason проверяет условие выхода по текущей цене
func ExitReason(p models.Position, price float64) (string, bool) {
	switch p.Side {
	case models.Long:
		if price >= p.TakeProfitPrice {
			return ReasonTakeProfit, true
		}
		if price <= p.StopLossPrice {
			return ReasonStopLoss, true
		}
	case models.Short:
		if price <= p.TakeProfitPrice {
			return ReasonTakeProfit, true
		}
		if price >= p.StopLossPrice {
			return ReasonStopLoss, true
		}
	}
	return "", false
}

// Manager владеет открытыми позициями: не более одной на символ
type Manager struct {
	exchange exchange.Exchange
	prices   exchange.PriceSource
	risk     *risk.Manager
	observer TradeObserver

	mu        sync.Mutex
	params    Params
	positions map[string]models.Position
}

// NewManager создает менеджер позиций
func NewManager(ex exchange.Exchange, prices exchange.PriceSource, riskManager *risk.Manager, params Params) *Manager {
	if prices == nil {
		prices = exchange.TickerPrices{Exchange: ex}
	}
	return &Manager{
		exchange:  ex,
		prices:    prices,
		risk:      riskManager,
		params:    params,
		positions: make(map[string]models.Position),
	}
}

// SetObserver подключает получателя торговых событий
func (m *Manager) SetObserver(observer TradeObserver) {
	m.observer = observer
}

// SetParams обновляет проценты для следующих позиций
func (m *Manager) SetParams(params Params) {
	m.mu.Lock()
	m.params = params
	m.mu.Unlock()
}

// Has сообщает, открыта ли позиция по символу
func (m *Manager) Has(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[symbol]
	return ok
}

// Get возвращает открытую позицию
func (m *Manager) Get(symbol string) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	return p, ok
}

// Positions снимок открытых позиций, отсортированный по символу
func (m *Manager) Positions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

// Open размещает ордер и начинает отслеживать позицию.
// При ошибке ордера позиция не записывается, ошибка возвращается вызывающему.
func (m *Manager) Open(ctx context.Context, symbol string, side models.Side, quantity, entryPrice float64) (*models.Position, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuantity, quantity)
	}
	if m.Has(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}

	order, err := m.exchange.CreateOrder(ctx, models.OrderRequest{
		Symbol:   symbol,
		Side:     side.OrderSide(),
		Type:     models.Market,
		Quantity: quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия позиции %s: %w", symbol, err)
	}

	m.mu.Lock()
	takeProfit, stopLoss := Targets(side, entryPrice, m.params)
	position := models.Position{
		Symbol:          symbol,
		Side:            side,
		EntryPrice:      entryPrice,
		Quantity:        quantity,
		OrderID:         order.ID,
		TakeProfitPrice: takeProfit,
		StopLossPrice:   stopLoss,
		OpenedAt:        time.Now(),
	}
	m.positions[symbol] = position
	m.mu.Unlock()

	logger.Info("Позиция открыта",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("entry", entryPrice),
		zap.Float64("quantity", quantity),
		zap.Float64("take_profit", takeProfit),
		zap.Float64("stop_loss", stopLoss))

	m.emit(ctx, models.Trade{
		Symbol:    symbol,
		Action:    models.ActionOpen,
		Side:      side,
		Price:     entryPrice,
		Amount:    quantity,
		Timestamp: position.OpenedAt,
	})
	return &position, nil
}

// ManagePositions обновляет баланс и проверяет все открытые позиции.
// Символ без цены пропускается до следующего цикла; ошибки закрытия собираются.
func (m *Manager) ManagePositions(ctx context.Context) error {
	if m.risk != nil {
		m.risk.RefreshBalance(ctx, m.exchange)
	}

	var errs []error
	for _, p := range m.Positions() {
		price, err := m.prices.LastPrice(ctx, p.Symbol)
		if err != nil {
			logger.Warn("Ошибка получения текущей цены", zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}

		reason, hit := ExitReason(p, price)
		if !hit {
			continue
		}

		logger.Info("Достигнут уровень выхода",
			zap.String("symbol", p.Symbol),
			zap.String("reason", reason),
			zap.Float64("price", price))

		if err := m.close(ctx, p, price, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close закрывает позицию по символу вручную
func (m *Manager) Close(ctx context.Context, symbol string) error {
	p, ok := m.Get(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}

	price, err := m.prices.LastPrice(ctx, symbol)
	if err != nil {
		price = p.EntryPrice
	}
	return m.close(ctx, p, price, ReasonManual)
}

// close отправляет reduce-only ордер; позиция удаляется только после успеха
func (m *Manager) close(ctx context.Context, p models.Position, price float64, reason string) error {
	order, err := m.exchange.ClosePosition(ctx, p.Symbol, p)
	if err != nil {
		logger.Error("Ошибка закрытия позиции, позиция остается открытой",
			zap.String("symbol", p.Symbol), zap.Error(err))
		return fmt.Errorf("ошибка закрытия позиции %s: %w", p.Symbol, err)
	}

	m.mu.Lock()
	delete(m.positions, p.Symbol)
	m.mu.Unlock()

	exit := price
	if order != nil && order.AvgPrice > 0 {
		exit = order.AvgPrice
	}
	pnl := (exit - p.EntryPrice) * p.Quantity
	if p.Side == models.Short {
		pnl = -pnl
	}

	logger.Info("Позиция закрыта",
		zap.String("symbol", p.Symbol),
		zap.String("reason", reason),
		zap.Float64("exit", exit),
		zap.Float64("pnl", pnl))

	m.emit(ctx, models.Trade{
		Symbol:    p.Symbol,
		Action:    models.ActionClose,
		Side:      p.Side,
		Price:     exit,
		Amount:    p.Quantity,
		PnL:       pnl,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	return nil
}

func (m *Manager) emit(ctx context.Context, trade models.Trade) {
	if m.observer == nil {
		return
	}
	trade.ID = id.New()
	m.observer.OnTrade(ctx, trade)
}
