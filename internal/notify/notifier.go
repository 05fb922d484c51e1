package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/skalibog/perpbot/pkg/models"
)

// Notifier канал уведомлений оператора. Отправка best-effort:
// ошибки логируются реализацией и не возвращаются вызывающему.
type Notifier interface {
	Notify(ctx context.Context, text string)
	NotifyPhoto(ctx context.Context, caption, path string)
}

// Nop канал уведомлений, который ничего не отправляет
type Nop struct{}

func (Nop) Notify(context.Context, string)              {}
func (Nop) NotifyPhoto(context.Context, string, string) {}

// Status состояние бота для оператора
type Status struct {
	Running   bool
	Symbol    string
	Price     float64
	Balance   float64
	Positions []models.Position
}

// Controller команды управления ботом
type Controller interface {
	StartTrading(ctx context.Context)
	StopTrading(ctx context.Context)
	Status(ctx context.Context) Status
}

// FormatTrade текст уведомления о сделке
func FormatTrade(t models.Trade) string {
	switch t.Action {
	case models.ActionOpen:
		return fmt.Sprintf("🚀 Открыта позиция %s %s\nКоличество: %.5f\nЦена: %.2f\nВремя: %s",
			t.Symbol, t.Side, t.Amount, t.Price, t.Timestamp.Format(time.DateTime))
	default:
		return fmt.Sprintf("🏁 Закрыта позиция %s %s (%s)\nКоличество: %.5f\nЦена: %.2f\nPnL: %+.4f\nВремя: %s",
			t.Symbol, t.Side, t.Reason, t.Amount, t.Price, t.PnL, t.Timestamp.Format(time.DateTime))
	}
}

// FormatStatus текст состояния бота
func FormatStatus(s Status) string {
	state := "🛑 остановлен"
	if s.Running {
		state = "✅ работает"
	}
	text := fmt.Sprintf("🤖 Бот %s\nСимвол: %s\nЦена: %.2f\nБаланс: %.2f\nОткрытых позиций: %d",
		state, s.Symbol, s.Price, s.Balance, len(s.Positions))
	for _, p := range s.Positions {
		text += fmt.Sprintf("\n• %s %s %.5f @ %.2f (TP %.2f / SL %.2f)",
			p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.TakeProfitPrice, p.StopLossPrice)
	}
	return text
}
