package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/skalibog/perpbot/internal/backtest"
	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/internal/exchange"
	"github.com/skalibog/perpbot/internal/storage"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/skalibog/perpbot/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Источники свечей для бэктеста
const (
	sourceFile     = "file"
	sourceExchange = "exchange"
	sourceStorage  = "storage"
)

var (
	btSource   string
	btData     string
	btSymbol   string
	btInterval string
	btLimit    int
	btOut      string
	btJournal  string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Прогнать стратегию по историческим свечам",
	Long: `Backtest воспроизводит генерацию сигналов на исторических свечах
и моделирует выход по тейк-профиту или стоп-лоссу.

Источники свечей:
  - file: CSV (timestamp,open,high,low,close,volume), timestamp в миллисекундах
  - exchange: последние свечи с Binance Futures
  - storage: свечи из настроенного хранилища

Пример:
  perpbot backtest --source file --data data/btcusdt_5m.csv --journal backtest.sqlite`,
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btSource, "source", "s", sourceFile, "источник свечей (file, exchange, storage)")
	backtestCmd.Flags().StringVarP(&btData, "data", "d", "", "путь к CSV со свечами для источника file")
	backtestCmd.Flags().StringVar(&btSymbol, "symbol", "", "символ (по умолчанию из настроек)")
	backtestCmd.Flags().StringVar(&btInterval, "interval", "", "таймфрейм (по умолчанию из настроек)")
	backtestCmd.Flags().IntVarP(&btLimit, "limit", "l", 1000, "количество свечей для источников exchange и storage")
	backtestCmd.Flags().StringVarP(&btOut, "out", "o", "backtest_results.csv", "CSV с результатами (пусто, чтобы не писать)")
	backtestCmd.Flags().StringVarP(&btJournal, "journal", "j", "", "SQLite журнал прогонов (пусто, чтобы не писать)")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	settings, err := config.NewStore(cfg.SettingsPath).Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки настроек: %w", err)
	}
	if btSymbol != "" {
		settings.Symbol = btSymbol
	}
	if btInterval != "" {
		settings.Timeframe = btInterval
	}

	candles, err := loadCandles(ctx, settings)
	if err != nil {
		return err
	}
	logger.Info("Свечи для бэктеста загружены",
		zap.String("source", btSource),
		zap.String("symbol", settings.Symbol),
		zap.Int("candles", len(candles)))

	run, err := backtest.NewEngine(backtest.ConfigFromSettings(settings)).Run(ctx, candles)
	if err != nil {
		return fmt.Errorf("ошибка бэктеста: %w", err)
	}

	if btOut != "" {
		if err := writeResults(btOut, run.Rows); err != nil {
			return err
		}
	}

	if btJournal != "" {
		journal, err := storage.NewSQLiteStorage(btJournal)
		if err != nil {
			return err
		}
		defer journal.Close()
		if err := journal.SaveBacktest(ctx, run); err != nil {
			return err
		}
		logger.Info("Прогон записан в журнал", zap.String("run_id", run.RunID), zap.String("path", btJournal))
	}

	backtest.PrintSummary(cmd.OutOrStdout(), run)
	return nil
}

func loadCandles(ctx context.Context, s config.Settings) ([]models.Candle, error) {
	switch btSource {
	case sourceFile:
		if btData == "" {
			return nil, errors.New("для источника file нужен флаг --data")
		}
		f, err := os.Open(btData)
		if err != nil {
			return nil, fmt.Errorf("ошибка открытия файла свечей: %w", err)
		}
		defer f.Close()
		return backtest.ReadCandles(f, s.Symbol, s.Timeframe)

	case sourceExchange:
		client, err := exchange.NewBinanceClient(cfg.Binance)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации клиента биржи: %w", err)
		}
		return client.FetchOHLCV(ctx, s.Symbol, s.Timeframe, btLimit)

	case sourceStorage:
		store, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации хранилища: %w", err)
		}
		defer store.Close()
		return store.GetCandles(ctx, s.Symbol, s.Timeframe, btLimit)

	default:
		return nil, fmt.Errorf("неизвестный источник свечей %q (file, exchange, storage)", btSource)
	}
}

func writeResults(path string, rows []models.BacktestRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ошибка создания файла результатов: %w", err)
	}
	if err := backtest.WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ошибка записи файла результатов: %w", err)
	}
	logger.Info("Результаты бэктеста сохранены", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}
