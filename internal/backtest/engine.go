package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skalibog/perpbot/internal/analysis/signal"
	"github.com/skalibog/perpbot/internal/analysis/technical"
	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/pkg/id"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/skalibog/perpbot/pkg/models"
	"go.uber.org/zap"
)

// WarmUp индекс первой свечи, на которой ищется сигнал
const WarmUp = 30

// Exit reasons
const (
	ExitTakeProfit = "take_profit"
	ExitStopLoss   = "stop_loss"
	ExitLastClose  = "last_close"
)

// Config параметры прогона
type Config struct {
	Symbol            string
	Indicators        technical.Params
	Thresholds        signal.Thresholds
	TakeProfitPercent float64
	StopLossPercent   float64
	Slippage          float64
	Commission        float64
	OrderSize         float64
	InitialBalance    float64
}

// ConfigFromSettings собирает параметры прогона из торговых настроек
func ConfigFromSettings(s config.Settings) Config {
	return Config{
		Symbol: s.Symbol,
		Indicators: technical.Params{
			RSIPeriod:  s.RSIPeriod,
			MACDFast:   s.MACDFast,
			MACDSlow:   s.MACDSlow,
			MACDSignal: s.MACDSignal,
		},
		Thresholds:        signal.ThresholdsFromSettings(s),
		TakeProfitPercent: s.TakeProfitPercent,
		StopLossPercent:   s.StopLossPercent,
		Slippage:          s.Slippage,
		Commission:        s.Commission,
		OrderSize:         s.OrderSize,
		InitialBalance:    s.InitialBalance,
	}
}

// Engine воспроизводит историю через те же индикаторы и генератор сигналов,
// что и живая торговля, без размещения ордеров
type Engine struct {
	cfg      Config
	analyzer *technical.Analyzer
}

// NewEngine создает движок бэктеста
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		analyzer: technical.NewAnalyzer(cfg.Indicators),
	}
}

// Run прогоняет свечи и возвращает строки сделок с метриками.
// Отсутствие сделок является корректным результатом.
func (e *Engine) Run(ctx context.Context, candles []models.Candle) (*models.BacktestRun, error) {
	run := &models.BacktestRun{
		RunID:   id.New(),
		Created: time.Now().UTC(),
		Symbol:  e.cfg.Symbol,
	}
	if len(candles) > 0 {
		run.Start = candles[0].OpenTime
		run.End = candles[len(candles)-1].OpenTime
	}

	logger.Info("Запуск бэктеста",
		zap.String("run_id", run.RunID),
		zap.String("symbol", e.cfg.Symbol),
		zap.Int("candles", len(candles)))

	if len(candles) <= WarmUp {
		run.Metrics = Analyze(nil, e.cfg.InitialBalance)
		return run, nil
	}

	// Индикаторы причинные: один расчет на всю историю, окно [0..i] берется срезом
	snapshot, err := e.analyzer.Analyze(candles)
	if err != nil {
		if errors.Is(err, technical.ErrNotEnoughData) {
			run.Metrics = Analyze(nil, e.cfg.InitialBalance)
			return run, nil
		}
		return nil, fmt.Errorf("ошибка расчета индикаторов: %w", err)
	}

	lastClose := candles[len(candles)-1].Close
	balance := e.cfg.InitialBalance

	for i := WarmUp; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sig := signal.Generate(snapshot.Window(i), e.cfg.Thresholds)
		if !sig.Directional() {
			continue
		}

		row := e.simulate(candles[i], sig, lastClose)
		balance += row.PnL
		row.Balance = balance
		run.Rows = append(run.Rows, row)

		logger.Debug("Сделка бэктеста",
			zap.Time("time", row.Time),
			zap.String("signal", sig.String()),
			zap.Float64("entry", row.EntryPrice),
			zap.Float64("exit", row.ExitPrice),
			zap.Float64("pnl", row.PnL))
	}

	run.Metrics = Analyze(run.Rows, e.cfg.InitialBalance)

	logger.Info("Бэктест завершен",
		zap.String("run_id", run.RunID),
		zap.Int("trades", run.Metrics.TotalTrades),
		zap.Float64("win_rate", run.Metrics.WinRate),
		zap.Float64("net_profit", run.Metrics.NetProfit))
	return run, nil
}

// simulate открывает сделку на свече и закрывает ее по high/low той же свечи
func (e *Engine) simulate(bar models.Candle, sig models.Signal, lastClose float64) models.BacktestRow {
	side := sig.Side()
	entry := ApplySlippage(bar.Close, side, e.cfg.Slippage)

	tp := e.cfg.TakeProfitPercent / 100
	sl := e.cfg.StopLossPercent / 100
	var takeProfit, stopLoss float64
	if side == models.Long {
		takeProfit, stopLoss = bar.Close*(1+tp), bar.Close*(1-sl)
	} else {
		takeProfit, stopLoss = bar.Close*(1-tp), bar.Close*(1+sl)
	}

	exit, reason := ResolveExit(bar, side, takeProfit, stopLoss, lastClose)
	quantity := e.cfg.OrderSize

	return models.BacktestRow{
		Time:       bar.OpenTime,
		Signal:     sig,
		EntryPrice: entry,
		ExitPrice:  exit,
		Quantity:   quantity,
		PnL:        PnL(side, entry, exit, quantity, e.cfg.Commission),
		ExitReason: reason,
	}
}

// ApplySlippage ухудшает цену входа: лонг дороже, шорт дешевле
func ApplySlippage(price float64, side models.Side, slippage float64) float64 {
	if side == models.Short {
		return price * (1 - slippage)
	}
	return price * (1 + slippage)
}

// ResolveExit определяет цену выхода по свече. Тейк-профит проверяется первым;
// если не задет ни один уровень, позиция закрывается по последней цене набора.
func ResolveExit(bar models.Candle, side models.Side, takeProfit, stopLoss, lastClose float64) (float64, string) {
	if side == models.Long {
		if bar.High >= takeProfit {
			return takeProfit, ExitTakeProfit
		}
		if bar.Low <= stopLoss {
			return stopLoss, ExitStopLoss
		}
		return lastClose, ExitLastClose
	}

	if bar.Low <= takeProfit {
		return takeProfit, ExitTakeProfit
	}
	if bar.High >= stopLoss {
		return stopLoss, ExitStopLoss
	}
	return lastClose, ExitLastClose
}

// PnL результат сделки за вычетом комиссии с обеих сторон
func PnL(side models.Side, entry, exit, quantity, commission float64) float64 {
	fee := (exit + entry) * quantity * commission
	if side == models.Short {
		return (entry-exit)*quantity - fee
	}
	return (exit-entry)*quantity - fee
}
