package main

import (
	"fmt"
	"time"

	"github.com/skalibog/perpbot/internal/analysis/aggregator"
	"github.com/skalibog/perpbot/internal/bot"
	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/internal/exchange"
	"github.com/skalibog/perpbot/internal/notify"
	"github.com/skalibog/perpbot/internal/position"
	"github.com/skalibog/perpbot/internal/risk"
	"github.com/skalibog/perpbot/internal/storage"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Запустить торговый цикл",
	Long: `Запускает торговый цикл по настройкам из settings_path.

Без канала Telegram или с --dry-run торговля начинается сразу,
иначе бот ждет команды "запустить" из меню.`,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "бумажная торговля без реальных ордеров")
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	settingsStore := config.NewStore(cfg.SettingsPath)
	settings, err := settingsStore.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки настроек: %w", err)
	}

	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		return fmt.Errorf("ошибка инициализации клиента биржи: %w", err)
	}

	var ex exchange.Exchange = client
	if dryRun {
		logger.Info("Режим бумажной торговли", zap.Float64("balance", cfg.Paper.Balance))
		ex = exchange.NewPaper(client, cfg.Binance.QuoteAsset, cfg.Paper.Balance, settings.Commission)
	} else if err := client.SetLeverage(ctx, settings.Symbol, int(settings.Leverage)); err != nil {
		return fmt.Errorf("ошибка установки плеча: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}
	defer store.Close()

	var prices exchange.PriceSource = exchange.TickerPrices{Exchange: ex}
	var stream *exchange.PriceStream
	if cfg.Stream.Enabled {
		stream = exchange.NewPriceStream(exchange.StreamConfig{
			URL:    cfg.Stream.URL,
			Symbol: settings.Symbol,
			MaxAge: time.Duration(cfg.Stream.MaxAgeSeconds) * time.Second,
		}, prices)
		prices = stream
	}

	riskManager := risk.NewManager(settings.InitialBalance, risk.Params{
		RiskPerTrade: settings.RiskPerTrade,
		Leverage:     settings.Leverage,
		QuoteAsset:   cfg.Binance.QuoteAsset,
	})
	initialBalance := riskManager.RefreshBalance(ctx, ex)

	positions := position.NewManager(ex, prices, riskManager, position.Params{
		TakeProfitPercent: settings.TakeProfitPercent,
		StopLossPercent:   settings.StopLossPercent,
	})

	var notifier notify.Notifier = notify.Nop{}
	var telegram *notify.Telegram
	if cfg.Telegram.Enabled() {
		telegram, err = notify.NewTelegram(cfg.Telegram)
		if err != nil {
			logger.Warn("Telegram недоступен, работаем без уведомлений", zap.Error(err))
		} else {
			notifier = telegram
		}
	}

	history := notify.NewHistory(notify.DefaultHistorySize)
	b := bot.New(bot.Options{
		Settings:   settingsStore,
		Analyzer:   aggregator.NewAnalyzer(ex, store),
		Risk:       riskManager,
		Positions:  positions,
		Prices:     prices,
		Storage:    store,
		Notifier:   notifier,
		History:    history,
		QuoteAsset: cfg.Binance.QuoteAsset,
	})

	if telegram != nil {
		telegram.Bind(notify.NewCommands(b, history, initialBalance))
	}
	if dryRun || telegram == nil {
		b.StartTrading(ctx)
	}

	logger.Info("Бот запускается",
		zap.String("symbol", settings.Symbol),
		zap.String("timeframe", settings.Timeframe),
		zap.Bool("dry_run", dryRun),
		zap.Float64("balance", initialBalance))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(ctx) })
	if stream != nil {
		g.Go(func() error { return stream.Run(ctx) })
	}
	if telegram != nil {
		g.Go(func() error { return telegram.Run(ctx) })
	}

	err = g.Wait()
	logger.Info("Завершение работы")
	return err
}
