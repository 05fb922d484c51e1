package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/skalibog/perpbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu      sync.Mutex
	running bool
	price   float64
}

func (f *fakeController) StartTrading(context.Context) {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
}

func (f *fakeController) StopTrading(context.Context) {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeController) Status(context.Context) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{Running: f.running, Symbol: "BTCUSDT", Price: f.price, Balance: 1000}
}

type fakeAPI struct {
	mu        sync.Mutex
	nextID    int
	sent      []tgbotapi.Chattable
	requests  []tgbotapi.Chattable
	failSend  bool
	updates   chan tgbotapi.Update
	stopCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 10)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return tgbotapi.Message{}, errors.New("bad gateway")
	}
	f.nextID++
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg.Text)
		}
	}
	return out
}

func openTrade(side models.Side, price, amount float64) models.Trade {
	return models.Trade{
		Symbol:    "BTCUSDT",
		Action:    models.ActionOpen,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	t.Parallel()

	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Add(openTrade(models.Long, float64(i), 1))
	}

	require.Equal(t, 3, h.Len())
	last := h.Last(10)
	require.Len(t, last, 3)
	assert.Equal(t, 3.0, last[0].Price)
	assert.Equal(t, 5.0, last[2].Price)

	two := h.Last(2)
	assert.Equal(t, []float64{4, 5}, []float64{two[0].Price, two[1].Price})

	h.Clear()
	assert.Zero(t, h.Len())
	assert.Nil(t, h.Last(1))
}

func TestHistoryDefaultSize(t *testing.T) {
	t.Parallel()

	h := NewHistory(0)
	for i := 0; i < DefaultHistorySize+10; i++ {
		h.Add(openTrade(models.Long, 1, 1))
	}
	assert.Equal(t, DefaultHistorySize, h.Len())
}

func TestHistoryPnL(t *testing.T) {
	t.Parallel()

	h := NewHistory(10)
	h.Add(openTrade(models.Long, 100, 2))
	h.Add(openTrade(models.Short, 120, 1))
	h.Add(models.Trade{Action: models.ActionClose, Side: models.Long, Price: 500, Amount: 10})

	report, err := h.PnL(110, 1000)
	require.NoError(t, err)
	// long: (110-100)*2 = 20, short: (120-110)*1 = 10
	assert.InDelta(t, 30, report.Total, 1e-9)
	assert.InDelta(t, 3, report.Percent, 1e-9)
	assert.InDelta(t, 1030, report.Balance, 1e-9)

	_, err = h.PnL(110, 0)
	assert.ErrorIs(t, err, ErrZeroBalance)
}

func TestFormatTrade(t *testing.T) {
	t.Parallel()

	open := FormatTrade(openTrade(models.Long, 42000, 0.01))
	assert.Contains(t, open, "Открыта позиция BTCUSDT long")
	assert.Contains(t, open, "42000.00")

	closed := openTrade(models.Short, 41000, 0.01)
	closed.Action = models.ActionClose
	closed.Reason = "take_profit"
	closed.PnL = 10
	text := FormatTrade(closed)
	assert.Contains(t, text, "Закрыта позиция BTCUSDT short (take_profit)")
	assert.Contains(t, text, "+10.0000")
}

func TestFormatStatus(t *testing.T) {
	t.Parallel()

	text := FormatStatus(Status{
		Running: true,
		Symbol:  "BTCUSDT",
		Price:   42000,
		Balance: 1000,
		Positions: []models.Position{
			{Symbol: "BTCUSDT", Side: models.Long, Quantity: 0.01, EntryPrice: 41000, TakeProfitPrice: 41820, StopLossPrice: 40590},
		},
	})
	assert.Contains(t, text, "работает")
	assert.Contains(t, text, "Открытых позиций: 1")
	assert.Contains(t, text, "TP 41820.00")
}

func TestCommandsExecute(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{price: 110}
	history := NewHistory(10)
	cmds := NewCommands(ctrl, history, 1000)
	ctx := context.Background()

	assert.Contains(t, cmds.Execute(ctx, ActionTrades), "Сделок пока нет")
	assert.Contains(t, cmds.Execute(ctx, ActionPnL), "Сделок пока нет")

	assert.Contains(t, cmds.Execute(ctx, ActionStart), "запущен")
	assert.True(t, ctrl.Status(ctx).Running)
	assert.Contains(t, cmds.Execute(ctx, ActionStatus), "работает")

	history.Add(openTrade(models.Long, 100, 1))
	assert.Contains(t, cmds.Execute(ctx, ActionTrades), "Последние 1 сделок")
	assert.Contains(t, cmds.Execute(ctx, ActionPnL), "PnL: +1.00%")

	assert.Contains(t, cmds.Execute(ctx, ActionStop), "остановлен")
	assert.False(t, ctrl.Status(ctx).Running)

	assert.Contains(t, cmds.Execute(ctx, "unknown"), "Неизвестная команда")
}

func TestCommandsPnLZeroBalance(t *testing.T) {
	t.Parallel()

	history := NewHistory(10)
	history.Add(openTrade(models.Long, 100, 1))
	cmds := NewCommands(&fakeController{price: 110}, history, 0)

	assert.Contains(t, cmds.Execute(context.Background(), ActionPnL), "равен нулю")
}

func TestTelegramNotifyEscapesMarkdown(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	tg := newTelegram(api, 42)

	tg.Notify(context.Background(), "PnL: +1.5 (take_profit)")

	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msg.ParseMode)
	assert.Equal(t, `PnL: \+1\.5 \(take\_profit\)`, msg.Text)
	assert.Equal(t, []int{1}, tg.sent)
}

func TestTelegramSendFailureIsNotTracked(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.failSend = true
	tg := newTelegram(api, 42)

	tg.Notify(context.Background(), "hello")
	tg.NotifyPhoto(context.Background(), "chart", "chart.png")

	assert.Empty(t, tg.sent)
}

func TestTelegramCallbacks(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	tg := newTelegram(api, 42)
	ctrl := &fakeController{price: 100}
	tg.Bind(NewCommands(ctrl, NewHistory(10), 1000))

	ctx := context.Background()
	chat := &tgbotapi.Chat{ID: 42}

	tg.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "1", Data: ActionStart, Message: &tgbotapi.Message{MessageID: 7, Chat: chat},
	}})
	assert.True(t, ctrl.Status(ctx).Running)

	api.mu.Lock()
	require.Len(t, api.requests, 2, "callback answer and menu edit")
	edit, ok := api.requests[1].(tgbotapi.EditMessageTextConfig)
	api.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 7, edit.MessageID)

	tg.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "2", Data: ActionStatus, Message: &tgbotapi.Message{MessageID: 7, Chat: chat},
	}})
	texts := api.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "BTCUSDT")

	// чужой чат игнорируется
	tg.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "3", Data: ActionStop, Message: &tgbotapi.Message{MessageID: 8, Chat: &tgbotapi.Chat{ID: 1}},
	}})
	assert.True(t, ctrl.Status(ctx).Running)
}

func TestTelegramClearDeletesSentMessages(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	tg := newTelegram(api, 42)
	tg.Bind(NewCommands(&fakeController{}, NewHistory(10), 1000))

	ctx := context.Background()
	tg.Notify(ctx, "one")
	tg.Notify(ctx, "two")

	tg.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "1", Data: ActionClear, Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 42}},
	}})

	api.mu.Lock()
	var deleted []int
	for _, r := range api.requests {
		if d, ok := r.(tgbotapi.DeleteMessageConfig); ok {
			deleted = append(deleted, d.MessageID)
		}
	}
	api.mu.Unlock()

	assert.Equal(t, []int{1, 2}, deleted)
	assert.Equal(t, []int{3}, tg.sent, "only the confirmation remains tracked")
}

func TestTelegramRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	tg := newTelegram(api, 42)

	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/menu",
		Chat:     &tgbotapi.Chat{ID: 42},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Run(ctx) }()

	require.Eventually(t, func() bool { return len(api.texts()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	api.mu.Lock()
	assert.Equal(t, 1, api.stopCalls)
	api.mu.Unlock()
	assert.Contains(t, api.texts()[0], "Главное меню")
}
