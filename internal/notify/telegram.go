package notify

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/pkg/logger"
	"go.uber.org/zap"
)

// maxTrackedMessages сколько отправленных сообщений помнить для очистки
const maxTrackedMessages = 200

// botAPI часть клиента Telegram, используемая каналом
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram канал уведомлений и управления ботом через Telegram
type Telegram struct {
	api    botAPI
	chatID int64

	mu       sync.Mutex
	commands *Commands
	sent     []int
}

// NewTelegram подключается к Bot API
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к Telegram: %w", err)
	}
	logger.Info("Telegram бот авторизован", zap.String("username", api.Self.UserName))
	return newTelegram(api, cfg.ChatID), nil
}

func newTelegram(api botAPI, chatID int64) *Telegram {
	return &Telegram{
		api:    api,
		chatID: chatID,
	}
}

// Bind подключает обработчик команд оператора
func (t *Telegram) Bind(commands *Commands) {
	t.mu.Lock()
	t.commands = commands
	t.mu.Unlock()
}

// Notify отправляет текстовое сообщение
func (t *Telegram) Notify(_ context.Context, text string) {
	msg := tgbotapi.NewMessage(t.chatID, tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, text))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	t.send(msg)
}

// NotifyPhoto отправляет изображение с подписью
func (t *Telegram) NotifyPhoto(_ context.Context, caption, path string) {
	photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FilePath(path))
	photo.Caption = tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, caption)
	photo.ParseMode = tgbotapi.ModeMarkdownV2
	t.send(photo)
}

func (t *Telegram) send(c tgbotapi.Chattable) {
	sent, err := t.api.Send(c)
	if err != nil {
		logger.Error("Ошибка отправки в Telegram", zap.Error(err))
		return
	}

	t.mu.Lock()
	t.sent = append(t.sent, sent.MessageID)
	if over := len(t.sent) - maxTrackedMessages; over > 0 {
		t.sent = t.sent[over:]
	}
	t.mu.Unlock()
}

// Run принимает обновления до отмены контекста
func (t *Telegram) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if update.Message.Chat.ID != t.chatID {
			logger.Warn("Сообщение из чужого чата проигнорировано", zap.Int64("chat_id", update.Message.Chat.ID))
			return
		}
		if update.Message.IsCommand() {
			switch update.Message.Command() {
			case "start", "menu":
				t.sendMenu()
			}
		}

	case update.CallbackQuery != nil:
		t.handleCallback(ctx, update.CallbackQuery)
	}
}

func (t *Telegram) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := t.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		logger.Warn("Ошибка ответа на callback", zap.Error(err))
	}
	if query.Message == nil || query.Message.Chat.ID != t.chatID {
		return
	}

	t.mu.Lock()
	commands := t.commands
	t.mu.Unlock()
	if commands == nil {
		return
	}

	logger.Info("Команда оператора", zap.String("action", query.Data))

	switch query.Data {
	case ActionClear:
		t.clear()
		t.Notify(ctx, "🗑️ История сообщений очищена!")
	case ActionStart, ActionStop:
		reply := commands.Execute(ctx, query.Data)
		edit := tgbotapi.NewEditMessageText(t.chatID, query.Message.MessageID,
			tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, reply))
		edit.ParseMode = tgbotapi.ModeMarkdownV2
		if _, err := t.api.Request(edit); err != nil {
			logger.Warn("Ошибка изменения сообщения", zap.Error(err))
		}
	default:
		t.Notify(ctx, commands.Execute(ctx, query.Data))
	}
}

func (t *Telegram) sendMenu() {
	msg := tgbotapi.NewMessage(t.chatID, "🤖 *Главное меню*")
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("запустить", ActionStart),
			tgbotapi.NewInlineKeyboardButtonData("остановить", ActionStop),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("последние сделки", ActionTrades),
			tgbotapi.NewInlineKeyboardButtonData("PnL", ActionPnL),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("статус", ActionStatus),
			tgbotapi.NewInlineKeyboardButtonData("очистить", ActionClear),
		),
	)
	t.send(msg)
}

// clear удаляет отправленные сообщения; неудаленные остаются в списке
func (t *Telegram) clear() {
	t.mu.Lock()
	ids := t.sent
	t.sent = nil
	t.mu.Unlock()

	var kept []int
	for _, id := range ids {
		if _, err := t.api.Request(tgbotapi.NewDeleteMessage(t.chatID, id)); err != nil {
			logger.Error("Не удалось удалить сообщение", zap.Int("message_id", id), zap.Error(err))
			kept = append(kept, id)
		}
	}

	if len(kept) > 0 {
		t.mu.Lock()
		t.sent = append(kept, t.sent...)
		t.mu.Unlock()
	}
}
