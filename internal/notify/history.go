package notify

import (
	"errors"
	"sync"

	"github.com/skalibog/perpbot/pkg/models"
)

// DefaultHistorySize количество хранимых сделок
const DefaultHistorySize = 50

// ErrZeroBalance начальный баланс равен нулю, процент PnL не определен
var ErrZeroBalance = errors.New("начальный баланс равен нулю")

// History ограниченная история сделок, старые вытесняются первыми
type History struct {
	mu     sync.Mutex
	size   int
	trades []models.Trade
}

// NewHistory создает историю на size записей
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Add добавляет сделку
func (h *History) Add(trade models.Trade) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.trades = append(h.trades, trade)
	if over := len(h.trades) - h.size; over > 0 {
		h.trades = append([]models.Trade(nil), h.trades[over:]...)
	}
}

// Len количество сделок в истории
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.trades)
}

// Last последние n сделок в хронологическом порядке
func (h *History) Last(n int) []models.Trade {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > len(h.trades) {
		n = len(h.trades)
	}
	if n <= 0 {
		return nil
	}
	return append([]models.Trade(nil), h.trades[len(h.trades)-n:]...)
}

// Clear очищает историю
func (h *History) Clear() {
	h.mu.Lock()
	h.trades = nil
	h.mu.Unlock()
}

// PnLReport нереализованный результат входов из истории
type PnLReport struct {
	Total          float64
	Percent        float64
	InitialBalance float64
	Balance        float64
}

// PnL оценивает входы из истории по последней цене
func (h *History) PnL(latestPrice, initialBalance float64) (PnLReport, error) {
	h.mu.Lock()
	var total float64
	for _, t := range h.trades {
		if t.Action != models.ActionOpen {
			continue
		}
		if t.Side == models.Short {
			total += (t.Price - latestPrice) * t.Amount
		} else {
			total += (latestPrice - t.Price) * t.Amount
		}
	}
	h.mu.Unlock()

	if initialBalance == 0 {
		return PnLReport{Total: total}, ErrZeroBalance
	}
	return PnLReport{
		Total:          total,
		Percent:        total / initialBalance * 100,
		InitialBalance: initialBalance,
		Balance:        initialBalance + total,
	}, nil
}
