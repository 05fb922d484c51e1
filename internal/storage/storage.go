package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/pkg/models"
)

// ErrNotSupported хранилище не поддерживает операцию
var ErrNotSupported = errors.New("операция не поддерживается хранилищем")

// Storage интерфейс для работы с хранилищем данных.
// Запись best-effort: ошибки хранилища не должны останавливать торговлю.
type Storage interface {
	SaveCandles(ctx context.Context, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	SaveSignal(ctx context.Context, signal models.SignalRecord) error
	SaveTrade(ctx context.Context, trade models.Trade) error
	SaveEquity(ctx context.Context, at models.EquityPoint) error
	Close() error
}

// BacktestJournal хранилище результатов бэктестов
type BacktestJournal interface {
	SaveBacktest(ctx context.Context, run *models.BacktestRun) error
}

// New создает хранилище по типу из конфигурации
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "influxdb":
		return NewInfluxDBStorage(ctx, cfg)
	case "sqlite":
		return NewSQLiteStorage(cfg.Path)
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %s", cfg.Type)
	}
}

// Nop хранилище, которое ничего не сохраняет
type Nop struct{}

func (Nop) SaveCandles(context.Context, []models.Candle) error { return nil }

func (Nop) GetCandles(context.Context, string, string, int) ([]models.Candle, error) {
	return nil, ErrNotSupported
}

func (Nop) SaveSignal(context.Context, models.SignalRecord) error { return nil }
func (Nop) SaveTrade(context.Context, models.Trade) error         { return nil }
func (Nop) SaveEquity(context.Context, models.EquityPoint) error  { return nil }
func (Nop) Close() error                                          { return nil }
