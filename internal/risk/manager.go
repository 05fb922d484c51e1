package risk

import (
	"context"
	"math"
	"sync"

	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/skalibog/perpbot/pkg/models"
	"go.uber.org/zap"
)

// MaxStopDistance максимальное расстояние до стоп-лосса от текущей цены (доля)
const MaxStopDistance = 0.10

// SizePosition рассчитывает размер позиции по риску на сделку.
// Некорректные цены дают безопасный нулевой результат вместо ошибки.
func SizePosition(balance, entryPrice, stopLossPrice, riskPerTrade, leverage float64) (quantity, riskAmount float64) {
	if entryPrice <= 0 || stopLossPrice <= 0 || entryPrice == stopLossPrice {
		return 0, 0
	}
	if balance <= 0 || riskPerTrade <= 0 || leverage <= 0 {
		return 0, 0
	}
	if !finite(balance, entryPrice, stopLossPrice, riskPerTrade, leverage) {
		return 0, 0
	}

	riskAmount = balance * riskPerTrade
	delta := math.Abs(entryPrice - stopLossPrice)
	quantity = (riskAmount / delta) * leverage
	return quantity, riskAmount
}

// ValidateStopLoss проверяет, что стоп-лосс ближе 10% к текущей цене.
// Ровно 10% считается недопустимым.
func ValidateStopLoss(currentPrice, stopLossPrice float64) bool {
	if currentPrice <= 0 || stopLossPrice <= 0 {
		return false
	}
	return math.Abs(currentPrice-stopLossPrice)/currentPrice < MaxStopDistance
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Params параметры риска из настроек
type Params struct {
	RiskPerTrade float64
	Leverage     float64
	QuoteAsset   string
}

// BalanceFetcher источник баланса аккаунта
type BalanceFetcher interface {
	FetchBalance(ctx context.Context) (*models.Balance, error)
}

// Manager хранит последний известный баланс и считает размеры позиций
type Manager struct {
	mu      sync.RWMutex
	balance float64
	params  Params
}

// NewManager создает менеджер риска с начальным балансом
func NewManager(balance float64, params Params) *Manager {
	return &Manager{
		balance: balance,
		params:  params,
	}
}

// Balance последний известный баланс
func (m *Manager) Balance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance
}

// SetBalance обновляет баланс
func (m *Manager) SetBalance(balance float64) {
	m.mu.Lock()
	m.balance = balance
	m.mu.Unlock()
}

// SetParams обновляет параметры риска после изменения настроек
func (m *Manager) SetParams(params Params) {
	m.mu.Lock()
	m.params = params
	m.mu.Unlock()
}

// PositionSize рассчитывает размер позиции по текущему балансу
func (m *Manager) PositionSize(entryPrice, stopLossPrice float64) (float64, float64) {
	m.mu.RLock()
	balance, params := m.balance, m.params
	m.mu.RUnlock()

	quantity, riskAmount := SizePosition(balance, entryPrice, stopLossPrice, params.RiskPerTrade, params.Leverage)
	logger.Info("Риск рассчитан",
		zap.Float64("risk_amount", riskAmount),
		zap.Float64("quantity", quantity),
		zap.Float64("balance", balance))
	return quantity, riskAmount
}

// RefreshBalance запрашивает баланс у биржи.
// При ошибке сохраняется последний известный баланс.
func (m *Manager) RefreshBalance(ctx context.Context, fetcher BalanceFetcher) float64 {
	m.mu.RLock()
	asset := m.params.QuoteAsset
	m.mu.RUnlock()

	balance, err := fetcher.FetchBalance(ctx)
	if err != nil {
		logger.Warn("Ошибка обновления баланса, используем последний известный", zap.Error(err))
		return m.Balance()
	}

	total, ok := balance.Total[asset]
	if !ok {
		logger.Warn("Актив не найден в балансе, используем последний известный", zap.String("asset", asset))
		return m.Balance()
	}

	m.SetBalance(total)
	return total
}
