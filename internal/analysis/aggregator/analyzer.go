package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/skalibog/perpbot/internal/analysis/signal"
	"github.com/skalibog/perpbot/internal/analysis/technical"
	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/internal/exchange"
	"github.com/skalibog/perpbot/internal/position"
	"github.com/skalibog/perpbot/internal/storage"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/skalibog/perpbot/pkg/models"
	"go.uber.org/zap"
)

// Evaluation результат одного цикла анализа
type Evaluation struct {
	Symbol    string
	Candles   []models.Candle
	Snapshot  *technical.Snapshot // nil, если данных недостаточно
	Signal    models.Signal
	Price     float64 // цена закрытия последней свечи
	StopLoss  float64 // стоп для направленного сигнала
	Timestamp time.Time
}

// Analyzer объединяет загрузку свечей, расчет индикаторов и генерацию сигнала
type Analyzer struct {
	client  exchange.Exchange
	storage storage.Storage
}

// NewAnalyzer создает новый анализатор
func NewAnalyzer(client exchange.Exchange, store storage.Storage) *Analyzer {
	if store == nil {
		store = storage.Nop{}
	}
	return &Analyzer{
		client:  client,
		storage: store,
	}
}

// Evaluate загружает окно свечей и превращает его в сигнал.
// Нехватка данных дает Hold, ошибка загрузки возвращается вызывающему.
func (a *Analyzer) Evaluate(ctx context.Context, s config.Settings) (*Evaluation, error) {
	candles, err := a.client.FetchOHLCV(ctx, s.Symbol, s.Timeframe, s.OHLCVLimit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей %s: %w", s.Symbol, err)
	}

	eval := &Evaluation{
		Symbol:    s.Symbol,
		Candles:   candles,
		Signal:    models.Hold,
		Timestamp: time.Now(),
	}
	if len(candles) == 0 {
		logger.Warn("Биржа вернула пустой набор свечей", zap.String("symbol", s.Symbol))
		return eval, nil
	}
	eval.Price = candles[len(candles)-1].Close

	a.persistCandles(ctx, candles)

	analyzer := technical.NewAnalyzer(technical.Params{
		RSIPeriod:  s.RSIPeriod,
		MACDFast:   s.MACDFast,
		MACDSlow:   s.MACDSlow,
		MACDSignal: s.MACDSignal,
	})
	snapshot, err := analyzer.Analyze(candles)
	if err != nil {
		logger.Warn("Предупреждение: технический анализ недоступен",
			zap.String("symbol", s.Symbol),
			zap.Int("candles", len(candles)),
			zap.Error(err))
		return eval, nil
	}
	eval.Snapshot = snapshot
	eval.Signal = signal.Generate(snapshot, signal.ThresholdsFromSettings(s))

	if eval.Signal.Directional() {
		_, eval.StopLoss = position.Targets(eval.Signal.Side(), eval.Price, position.Params{
			TakeProfitPercent: s.TakeProfitPercent,
			StopLossPercent:   s.StopLossPercent,
		})
	}

	rsi, _ := snapshot.LatestRSI()
	macd, macdSignal, _ := snapshot.LatestMACD()
	logger.Debug("AGGREGATOR: Анализ завершен",
		zap.String("symbol", s.Symbol),
		zap.String("signal", eval.Signal.String()),
		zap.Float64("price", eval.Price),
		zap.Float64("rsi", rsi),
		zap.Float64("macd", macd),
		zap.Float64("macd_signal", macdSignal))

	a.persistSignal(ctx, eval, rsi, macd, macdSignal)
	return eval, nil
}

func (a *Analyzer) persistCandles(ctx context.Context, candles []models.Candle) {
	if err := a.storage.SaveCandles(ctx, candles); err != nil {
		logger.Warn("Не удалось сохранить свечи", zap.Error(err))
	}
}

func (a *Analyzer) persistSignal(ctx context.Context, eval *Evaluation, rsi, macd, macdSignal float64) {
	record := models.SignalRecord{
		Symbol:     eval.Symbol,
		Timestamp:  eval.Timestamp,
		Signal:     eval.Signal,
		Price:      eval.Price,
		RSI:        rsi,
		MACD:       macd,
		MACDSignal: macdSignal,
		Histogram:  macd - macdSignal,
	}
	if err := a.storage.SaveSignal(ctx, record); err != nil {
		logger.Warn("Не удалось сохранить сигнал", zap.String("symbol", eval.Symbol), zap.Error(err))
	}
}
