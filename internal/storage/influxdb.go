// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"
	"math"
	"sort"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/pkg/models"
)

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() error {
	s.client.Close()
	return nil
}

// SaveCandles сохраняет множество свечей
func (s *InfluxDBStorage) SaveCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(candles))
	for _, candle := range candles {
		points = append(points, candlePoint(candle))
	}

	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("ошибка записи свечей: %w", err)
	}
	return nil
}

// GetCandles получает последние свечи в порядке возрастания времени
func (s *InfluxDBStorage) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "candles")
			|> filter(fn: (r) => r.symbol == "%s")
			|> filter(fn: (r) => r.interval == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, interval, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей: %w", err)
	}

	var candles []models.Candle
	for result.Next() {
		record := result.Record()

		open, _ := record.ValueByKey("open").(float64)
		high, _ := record.ValueByKey("high").(float64)
		low, _ := record.ValueByKey("low").(float64)
		closePrice, _ := record.ValueByKey("close").(float64)
		volume, _ := record.ValueByKey("volume").(float64)

		candles = append(candles, models.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: record.Time(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })
	return candles, nil
}

// SaveSignal сохраняет сигнал вместе со значениями индикаторов
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, signal models.SignalRecord) error {
	if err := s.writeAPI.WritePoint(ctx, signalPoint(signal)); err != nil {
		return fmt.Errorf("ошибка записи сигнала: %w", err)
	}
	return nil
}

// SaveTrade сохраняет торговое событие
func (s *InfluxDBStorage) SaveTrade(ctx context.Context, trade models.Trade) error {
	if err := s.writeAPI.WritePoint(ctx, tradePoint(trade)); err != nil {
		return fmt.Errorf("ошибка записи сделки: %w", err)
	}
	return nil
}

// SaveEquity сохраняет снимок баланса
func (s *InfluxDBStorage) SaveEquity(ctx context.Context, point models.EquityPoint) error {
	if err := s.writeAPI.WritePoint(ctx, equityPoint(point)); err != nil {
		return fmt.Errorf("ошибка записи баланса: %w", err)
	}
	return nil
}

func candlePoint(candle models.Candle) *write.Point {
	return influxdb2.NewPoint(
		"candles",
		map[string]string{
			"symbol":   candle.Symbol,
			"interval": candle.Interval,
		},
		map[string]interface{}{
			"open":   candle.Open,
			"high":   candle.High,
			"low":    candle.Low,
			"close":  candle.Close,
			"volume": candle.Volume,
		},
		candle.OpenTime,
	)
}

func signalPoint(signal models.SignalRecord) *write.Point {
	fields := map[string]interface{}{
		"signal": signal.Signal.String(),
		"price":  signal.Price,
	}
	// NaN не поддерживается line protocol, неготовые индикаторы не пишутся
	for name, v := range map[string]float64{
		"rsi":         signal.RSI,
		"macd":        signal.MACD,
		"macd_signal": signal.MACDSignal,
		"histogram":   signal.Histogram,
	} {
		if !math.IsNaN(v) {
			fields[name] = v
		}
	}

	return influxdb2.NewPoint(
		"signals",
		map[string]string{"symbol": signal.Symbol},
		fields,
		signal.Timestamp,
	)
}

func tradePoint(trade models.Trade) *write.Point {
	return influxdb2.NewPoint(
		"trades",
		map[string]string{
			"symbol": trade.Symbol,
			"action": string(trade.Action),
			"side":   string(trade.Side),
		},
		map[string]interface{}{
			"id":     trade.ID,
			"price":  trade.Price,
			"amount": trade.Amount,
			"pnl":    trade.PnL,
			"reason": trade.Reason,
		},
		trade.Timestamp,
	)
}

func equityPoint(point models.EquityPoint) *write.Point {
	return influxdb2.NewPoint(
		"equity",
		nil,
		map[string]interface{}{
			"balance":        point.Balance,
			"open_positions": point.Open,
		},
		point.Time,
	)
}
