package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/skalibog/perpbot/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Режимы комбинирования сигналов
const (
	SignalModeCrossover = "and_crossover"
	SignalModeAny       = "or"
)

// Settings торговые настройки, плоский документ ключ-значение
type Settings struct {
	Symbol     string `yaml:"symbol" validate:"required"`
	Timeframe  string `yaml:"timeframe" validate:"required"`
	OHLCVLimit int    `yaml:"ohlcv_limit" validate:"gt=0"`

	RiskPerTrade float64 `yaml:"risk_per_trade" validate:"gt=0,lte=1"`
	Leverage     float64 `yaml:"leverage" validate:"gt=0"`

	RSIPeriod        int     `yaml:"rsi_period" validate:"gt=0"`
	RSIBuyThreshold  float64 `yaml:"rsi_buy_threshold" validate:"gte=0,lte=100"`
	RSISellThreshold float64 `yaml:"rsi_sell_threshold" validate:"gte=0,lte=100,gtfield=RSIBuyThreshold"`
	MACDFast         int     `yaml:"macd_fast" validate:"gt=0"`
	MACDSlow         int     `yaml:"macd_slow" validate:"gtfield=MACDFast"`
	MACDSignal       int     `yaml:"macd_signal" validate:"gt=0"`
	SignalMode       string  `yaml:"signal_mode" validate:"oneof=and_crossover or"`
	MinCandles       int     `yaml:"min_candles" validate:"gte=0"`

	TakeProfitPercent float64 `yaml:"take_profit_percent" validate:"gt=0"`
	StopLossPercent   float64 `yaml:"stop_loss_percent" validate:"gt=0,lt=100"`
	Slippage          float64 `yaml:"slippage" validate:"gte=0,lt=1"`
	Commission        float64 `yaml:"commission" validate:"gte=0,lt=1"`
	OrderSize         float64 `yaml:"order_size" validate:"gt=0"`
	InitialBalance    float64 `yaml:"initial_balance" validate:"gte=0"`

	TradeFrequency time.Duration `yaml:"trade_frequency" validate:"gt=0"`
	ErrorSleepTime time.Duration `yaml:"error_sleep_time" validate:"gt=0"`
}

// DefaultSettings возвращает документированные значения по умолчанию
func DefaultSettings() Settings {
	return Settings{
		Symbol:            "BTCUSDT",
		Timeframe:         "5m",
		OHLCVLimit:        100,
		RiskPerTrade:      0.01,
		Leverage:          10,
		RSIPeriod:         14,
		RSIBuyThreshold:   35,
		RSISellThreshold:  65,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
		SignalMode:        SignalModeCrossover,
		MinCandles:        30,
		TakeProfitPercent: 2.0,
		StopLossPercent:   1.0,
		Slippage:          0.001,
		Commission:        0.0005,
		OrderSize:         0.001,
		InitialBalance:    10000,
		TradeFrequency:    60 * time.Second,
		ErrorSleepTime:    300 * time.Second,
	}
}

var validate = validator.New()

// Validate проверяет значения настроек
func (s Settings) Validate() error {
	return validate.Struct(s)
}

// Store владеет снимком настроек и файлом, в котором он хранится.
// Load и Save идемпотентны и защищены одним мьютексом.
type Store struct {
	mu       sync.Mutex
	path     string
	settings Settings
}

// NewStore создает хранилище настроек со значениями по умолчанию
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		settings: DefaultSettings(),
	}
}

// Path путь к файлу настроек
func (s *Store) Path() string {
	return s.path
}

// Load читает настройки из файла.
// Отсутствующий файл создается со значениями по умолчанию, отсутствующие ключи
// берутся из значений по умолчанию, поврежденный документ заменяется значениями по умолчанию.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("Файл настроек не найден, создаем со значениями по умолчанию", zap.String("path", s.path))
		s.settings = DefaultSettings()
		return s.settings, s.write(s.settings)
	}
	if err != nil {
		return s.settings, fmt.Errorf("ошибка чтения настроек: %w", err)
	}

	loaded, err := decodeSettings(data)
	if err != nil {
		logger.Warn("Поврежденный файл настроек, восстанавливаем значения по умолчанию",
			zap.String("path", s.path), zap.Error(err))
		s.settings = DefaultSettings()
		return s.settings, s.write(s.settings)
	}

	s.settings = loaded
	return s.settings, nil
}

// Save проверяет и сохраняет настройки
func (s *Store) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("некорректные настройки: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(settings); err != nil {
		return err
	}
	s.settings = settings
	return nil
}

// Settings возвращает копию текущего снимка
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Update изменяет снимок и сохраняет его
func (s *Store) Update(fn func(*Settings)) error {
	next := s.Settings()
	fn(&next)
	return s.Save(next)
}

func (s *Store) write(settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("ошибка сериализации настроек: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("ошибка записи настроек: %w", err)
	}
	return nil
}

func decodeSettings(data []byte) (Settings, error) {
	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}
