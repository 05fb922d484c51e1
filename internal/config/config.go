package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/skalibog/perpbot/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance      BinanceConfig  `yaml:"binance"`
	Stream       StreamConfig   `yaml:"stream"`
	Telegram     TelegramConfig `yaml:"telegram"`
	Storage      StorageConfig  `yaml:"storage"`
	Log          logger.Config  `yaml:"log"`
	Paper        PaperConfig    `yaml:"paper"`
	SettingsPath string         `yaml:"settings_path"`
}

// BinanceConfig содержит настройки подключения к Binance Futures
type BinanceConfig struct {
	APIKey            string `yaml:"api_key"`
	APISecret         string `yaml:"api_secret"`
	Testnet           bool   `yaml:"testnet"`
	QuoteAsset        string `yaml:"quote_asset"`
	QuantityPrecision int32  `yaml:"quantity_precision"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

// StreamConfig настройки потока сделок
type StreamConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	MaxAgeSeconds int    `yaml:"max_age_seconds"`
}

// TelegramConfig настройки канала уведомлений
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// Enabled сообщает, настроен ли канал уведомлений
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	Type         string `yaml:"type"` // influxdb, sqlite или none
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
	Path         string `yaml:"path"`
}

// PaperConfig настройки бумажной торговли
type PaperConfig struct {
	Balance float64 `yaml:"balance"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Binance: BinanceConfig{
			QuoteAsset:        "USDT",
			QuantityPrecision: 3,
			TimeoutSeconds:    10,
		},
		Stream: StreamConfig{
			URL:           "wss://fstream.binance.com/ws",
			MaxAgeSeconds: 30,
		},
		Storage: StorageConfig{
			Type: "none",
		},
		Log: logger.Config{
			Level:    "info",
			File:     "app.log",
			JSONFile: "app.json.log",
		},
		Paper: PaperConfig{
			Balance: 10000,
		},
		SettingsPath: "settings.yaml",
	}
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path))
	return config, nil
}

// ApplyEnv подгружает .env и переопределяет секреты из окружения
func (c *Config) ApplyEnv(envFiles ...string) error {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ошибка загрузки .env: %w", err)
		}
	}

	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Binance.APISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		chatID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("некорректный TELEGRAM_CHAT_ID: %w", err)
		}
		c.Telegram.ChatID = chatID
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.Storage.Token = v
	}
	return nil
}
