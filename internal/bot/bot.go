// Package bot связывает анализ, риск и позиции в торговый цикл
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skalibog/perpbot/internal/analysis/aggregator"
	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/internal/exchange"
	"github.com/skalibog/perpbot/internal/notify"
	"github.com/skalibog/perpbot/internal/position"
	"github.com/skalibog/perpbot/internal/risk"
	"github.com/skalibog/perpbot/internal/storage"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/skalibog/perpbot/pkg/models"
	"go.uber.org/zap"
)

const (
	// PausePollInterval интервал опроса флага запуска, пока бот остановлен
	PausePollInterval = 5 * time.Second
	// DefaultIOTimeout ограничение на сетевые операции одного цикла
	DefaultIOTimeout = 30 * time.Second
)

// Options зависимости бота
type Options struct {
	Settings   *config.Store
	Analyzer   *aggregator.Analyzer
	Risk       *risk.Manager
	Positions  *position.Manager
	Prices     exchange.PriceSource
	Storage    storage.Storage
	Notifier   notify.Notifier
	History    *notify.History
	QuoteAsset string
	IOTimeout  time.Duration
}

// Bot торговый цикл. Один мьютекс охраняет цикл и флаг запуска.
type Bot struct {
	settings  *config.Store
	analyzer  *aggregator.Analyzer
	risk      *risk.Manager
	positions *position.Manager
	prices    exchange.PriceSource
	storage   storage.Storage
	notifier  notify.Notifier
	history   *notify.History

	quoteAsset   string
	ioTimeout    time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
}

// New создает бота и подписывает его на торговые события менеджера позиций
func New(opts Options) *Bot {
	b := &Bot{
		settings:     opts.Settings,
		analyzer:     opts.Analyzer,
		risk:         opts.Risk,
		positions:    opts.Positions,
		prices:       opts.Prices,
		storage:      opts.Storage,
		notifier:     opts.Notifier,
		history:      opts.History,
		quoteAsset:   opts.QuoteAsset,
		ioTimeout:    opts.IOTimeout,
		pollInterval: PausePollInterval,
	}
	if b.storage == nil {
		b.storage = storage.Nop{}
	}
	if b.notifier == nil {
		b.notifier = notify.Nop{}
	}
	if b.history == nil {
		b.history = notify.NewHistory(notify.DefaultHistorySize)
	}
	if b.ioTimeout <= 0 {
		b.ioTimeout = DefaultIOTimeout
	}
	b.positions.SetObserver(b)
	return b
}

// History история сделок бота
func (b *Bot) History() *notify.History {
	return b.history
}

// StartTrading разрешает торговые действия
func (b *Bot) StartTrading(_ context.Context) {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	logger.Info("Торговля запущена")
}

// StopTrading приостанавливает торговые действия, цикл продолжает работать
func (b *Bot) StopTrading(_ context.Context) {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	logger.Info("Торговля остановлена")
}

// Running сообщает, разрешена ли торговля
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Status текущее состояние для оператора
func (b *Bot) Status(ctx context.Context) notify.Status {
	s := b.settings.Settings()
	status := notify.Status{
		Running:   b.Running(),
		Symbol:    s.Symbol,
		Balance:   b.risk.Balance(),
		Positions: b.positions.Positions(),
	}

	if b.prices != nil {
		ctx, cancel := context.WithTimeout(ctx, b.ioTimeout)
		defer cancel()
		price, err := b.prices.LastPrice(ctx, s.Symbol)
		if err != nil {
			logger.Warn("Не удалось получить цену для статуса", zap.Error(err))
		}
		status.Price = price
	}
	return status
}

// OnTrade записывает сделку в историю и хранилище и уведомляет оператора
func (b *Bot) OnTrade(ctx context.Context, trade models.Trade) {
	b.history.Add(trade)
	if err := b.storage.SaveTrade(ctx, trade); err != nil {
		logger.Warn("Не удалось сохранить сделку", zap.String("trade_id", trade.ID), zap.Error(err))
	}
	b.notifier.Notify(ctx, notify.FormatTrade(trade))
}

// Run выполняет циклы до отмены контекста
func (b *Bot) Run(ctx context.Context) error {
	b.notifier.Notify(ctx, "🤖 Бот запущен. Используйте меню для управления.")
	logger.Info("Торговый цикл запущен")

	for {
		if ctx.Err() != nil {
			logger.Info("Торговый цикл остановлен")
			return nil
		}

		if !b.Running() {
			if !sleep(ctx, b.pollInterval) {
				return nil
			}
			continue
		}

		s := b.settings.Settings()
		wait := s.TradeFrequency
		if err := b.safeCycle(ctx); err != nil {
			logger.Error("Ошибка торгового цикла", zap.Error(err), zap.Duration("sleep", s.ErrorSleepTime))
			b.notifier.Notify(ctx, fmt.Sprintf("⚠️ Ошибка торгового цикла: %v", err))
			wait = s.ErrorSleepTime
		}
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func (b *Bot) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в торговом цикле: %v", r)
		}
	}()
	return b.Cycle(ctx)
}

// Cycle один проход: сигнал, возможный вход, сопровождение позиций, снимок баланса.
// Остановленный бот ничего не делает.
func (b *Bot) Cycle(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}

	s := b.settings.Settings()
	b.applySettings(s)

	ctx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	defer cancel()

	eval, err := b.analyzer.Evaluate(ctx, s)
	if err != nil {
		return err
	}

	var errs []error
	if eval.Signal.Directional() {
		if err := b.enter(ctx, s, eval); err != nil {
			errs = append(errs, err)
		}
	}

	if err := b.positions.ManagePositions(ctx); err != nil {
		errs = append(errs, err)
	}

	b.saveEquity(ctx)
	return errors.Join(errs...)
}

func (b *Bot) applySettings(s config.Settings) {
	b.risk.SetParams(risk.Params{
		RiskPerTrade: s.RiskPerTrade,
		Leverage:     s.Leverage,
		QuoteAsset:   b.quoteAsset,
	})
	b.positions.SetParams(position.Params{
		TakeProfitPercent: s.TakeProfitPercent,
		StopLossPercent:   s.StopLossPercent,
	})
}

func (b *Bot) enter(ctx context.Context, s config.Settings, eval *aggregator.Evaluation) error {
	if b.positions.Has(s.Symbol) {
		logger.Info("Позиция уже открыта, вход пропущен",
			zap.String("symbol", s.Symbol),
			zap.String("signal", eval.Signal.String()))
		return nil
	}

	if !risk.ValidateStopLoss(eval.Price, eval.StopLoss) {
		logger.Warn("Стоп-лосс слишком далеко от цены, вход пропущен",
			zap.Float64("price", eval.Price),
			zap.Float64("stop_loss", eval.StopLoss))
		return nil
	}

	quantity, _ := b.risk.PositionSize(eval.Price, eval.StopLoss)
	if quantity <= 0 {
		logger.Warn("Нулевой размер позиции, вход пропущен", zap.String("symbol", s.Symbol))
		return nil
	}

	_, err := b.positions.Open(ctx, s.Symbol, eval.Signal.Side(), quantity, eval.Price)
	return err
}

func (b *Bot) saveEquity(ctx context.Context) {
	point := models.EquityPoint{
		Time:    time.Now(),
		Balance: b.risk.Balance(),
		Open:    len(b.positions.Positions()),
	}
	if err := b.storage.SaveEquity(ctx, point); err != nil {
		logger.Warn("Не удалось сохранить баланс", zap.Error(err))
	}
}

// sleep ждет d или отмены контекста; false означает отмену
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
