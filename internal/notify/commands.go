package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Действия меню оператора
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionTrades = "trades"
	ActionPnL    = "pnl"
	ActionStatus = "status"
	ActionClear  = "clear"
)

// lastTrades количество сделок в ответе на команду trades
const lastTrades = 5

// Commands выполняет команды оператора, не зависящие от транспорта
type Commands struct {
	controller     Controller
	history        *History
	initialBalance float64
}

// NewCommands создает обработчик команд
func NewCommands(controller Controller, history *History, initialBalance float64) *Commands {
	return &Commands{
		controller:     controller,
		history:        history,
		initialBalance: initialBalance,
	}
}

// Execute выполняет действие и возвращает текст ответа
func (c *Commands) Execute(ctx context.Context, action string) string {
	switch action {
	case ActionStart:
		c.controller.StartTrading(ctx)
		return "✅ Бот запущен. Отслеживаю сигналы..."
	case ActionStop:
		c.controller.StopTrading(ctx)
		return "🛑 Бот остановлен. Новые сделки не открываются."
	case ActionStatus:
		return FormatStatus(c.controller.Status(ctx))
	case ActionTrades:
		return c.trades()
	case ActionPnL:
		return c.pnl(ctx)
	default:
		return fmt.Sprintf("⚠️ Неизвестная команда: %s", action)
	}
}

func (c *Commands) trades() string {
	trades := c.history.Last(lastTrades)
	if len(trades) == 0 {
		return "⚠️ Сделок пока нет."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📜 Последние %d сделок\n", len(trades))
	for _, t := range trades {
		fmt.Fprintf(&b, "%s\n%s %s %.5f по %.2f\n----------\n",
			t.Timestamp.Format(time.DateTime), t.Action, t.Side, t.Amount, t.Price)
	}
	return b.String()
}

func (c *Commands) pnl(ctx context.Context) string {
	if c.history.Len() == 0 {
		return "⚠️ Сделок пока нет."
	}

	status := c.controller.Status(ctx)
	report, err := c.history.PnL(status.Price, c.initialBalance)
	if errors.Is(err, ErrZeroBalance) {
		return "⚠️ Начальный баланс равен нулю. PnL не рассчитать."
	}

	return fmt.Sprintf("📈 PnL: %+.2f%%\nНачальный баланс: %.2f\nТекущий баланс: %.2f",
		report.Percent, report.InitialBalance, report.Balance)
}
