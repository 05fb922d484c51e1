package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	envPath    string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "perpbot",
	Short: "Торговый бот для бессрочных фьючерсов Binance",
	Long: `perpbot торгует бессрочными фьючерсами по сигналам RSI и MACD.

Команды:
  - run: торговый цикл с управлением через Telegram
  - backtest: прогон стратегии по историческим свечам
  - settings: просмотр и инициализация торговых настроек`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if err := loaded.ApplyEnv(envPath); err != nil {
			return err
		}
		if err := logger.Init(loaded.Log); err != nil {
			return fmt.Errorf("ошибка инициализации логгера: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "путь к файлу конфигурации")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "путь к файлу с секретами")
}

// loadConfig читает конфигурацию; без файла используются значения по умолчанию
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("Файл конфигурации не найден, используем значения по умолчанию", zap.String("path", path))
		return config.Default(), nil
	}
	return config.Load(path)
}
