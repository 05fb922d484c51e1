package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/skalibog/perpbot/pkg/models"
)

// SQLiteStorage журнал сделок, баланса и бэктестов в SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage открывает базу и создает схему
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ошибка создания схемы: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close закрывает базу
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveCandles сохраняет свечи; повторная запись свечи заменяет ее
func (s *SQLiteStorage) SaveCandles(ctx context.Context, candles []models.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles
		(symbol, interval, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx,
			c.Symbol, c.Interval, c.Timestamp(), c.Open, c.High, c.Low, c.Close, c.Volume,
		); err != nil {
			return fmt.Errorf("ошибка записи свечи %d: %w", c.Timestamp(), err)
		}
	}
	return tx.Commit()
}

// GetCandles возвращает последние limit свечей в порядке возрастания времени
func (s *SQLiteStorage) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume FROM (
			SELECT * FROM candles
			WHERE symbol = ? AND interval = ?
			ORDER BY open_time DESC
			LIMIT ?
		) ORDER BY open_time ASC`, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var (
			openTime int64
			c        models.Candle
		)
		if err := rows.Scan(&openTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Symbol = symbol
		c.Interval = interval
		c.OpenTime = time.UnixMilli(openTime).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// SaveSignal сохраняет сигнал; неготовые индикаторы пишутся как NULL
func (s *SQLiteStorage) SaveSignal(ctx context.Context, signal models.SignalRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals
		(symbol, time, signal, price, rsi, macd, macd_signal, histogram)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		signal.Symbol, signal.Timestamp.UTC(), signal.Signal.String(), signal.Price,
		nullFloat(signal.RSI), nullFloat(signal.MACD), nullFloat(signal.MACDSignal), nullFloat(signal.Histogram),
	)
	return err
}

// SaveTrade сохраняет торговое событие
func (s *SQLiteStorage) SaveTrade(ctx context.Context, t models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
		(trade_id, symbol, action, side, price, amount, pnl, reason, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Action), string(t.Side), t.Price, t.Amount, t.PnL, t.Reason, t.Timestamp.UTC(),
	)
	return err
}

// SaveEquity сохраняет снимок баланса
func (s *SQLiteStorage) SaveEquity(ctx context.Context, e models.EquityPoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity (time, balance, open_positions) VALUES (?, ?, ?)`,
		e.Time.UTC(), e.Balance, e.Open,
	)
	return err
}

// ListTrades возвращает последние limit сделок, новые первыми
func (s *SQLiteStorage) ListTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, symbol, action, side, price, amount, pnl, reason, time
		FROM trades ORDER BY time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t            models.Trade
			action, side string
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &action, &side, &t.Price, &t.Amount, &t.PnL, &t.Reason, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Action = models.TradeAction(action)
		t.Side = models.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveBacktest сохраняет прогон и его строки одной транзакцией
func (s *SQLiteStorage) SaveBacktest(ctx context.Context, run *models.BacktestRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	m := run.Metrics
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_runs
		(run_id, created, symbol, start_time, end_time, trades, wins, losses,
		 win_rate, net_profit, max_drawdown, profit_factor, start_balance, end_balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Created.UTC(), run.Symbol, run.Start.UTC(), run.End.UTC(),
		m.TotalTrades, m.WinningTrades, m.LosingTrades,
		m.WinRate, m.NetProfit, m.MaxDrawdown, nullFloat(m.ProfitFactor),
		m.InitialBalance, m.FinalBalance,
	); err != nil {
		return fmt.Errorf("ошибка записи прогона: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_rows
		(run_id, seq, time, signal, entry_price, exit_price, quantity, pnl, balance, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range run.Rows {
		if _, err := stmt.ExecContext(ctx,
			run.RunID, i, r.Time.UTC(), r.Signal.String(),
			r.EntryPrice, r.ExitPrice, r.Quantity, r.PnL, r.Balance, r.ExitReason,
		); err != nil {
			return fmt.Errorf("ошибка записи строки %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// GetBacktest читает метрики прогона. Profit factor +Inf хранится как NULL.
func (s *SQLiteStorage) GetBacktest(ctx context.Context, runID string) (models.BacktestRun, error) {
	var (
		run          models.BacktestRun
		profitFactor sql.NullFloat64
	)
	m := &run.Metrics
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, created, symbol, start_time, end_time, trades, wins, losses,
		       win_rate, net_profit, max_drawdown, profit_factor, start_balance, end_balance
		FROM backtest_runs WHERE run_id = ?`, runID).Scan(
		&run.RunID, &run.Created, &run.Symbol, &run.Start, &run.End,
		&m.TotalTrades, &m.WinningTrades, &m.LosingTrades,
		&m.WinRate, &m.NetProfit, &m.MaxDrawdown, &profitFactor,
		&m.InitialBalance, &m.FinalBalance,
	)
	if err != nil {
		return run, fmt.Errorf("прогон %s: %w", runID, err)
	}

	m.ProfitFactor = math.Inf(1)
	if profitFactor.Valid {
		m.ProfitFactor = profitFactor.Float64
	}
	if m.TotalTrades == 0 {
		m.ProfitFactor = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT time, signal, entry_price, exit_price, quantity, pnl, balance, exit_reason
		FROM backtest_rows WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return run, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r   models.BacktestRow
			sig string
		)
		if err := rows.Scan(&r.Time, &sig, &r.EntryPrice, &r.ExitPrice, &r.Quantity, &r.PnL, &r.Balance, &r.ExitReason); err != nil {
			return run, err
		}
		r.Signal = models.ParseSignal(sig)
		run.Rows = append(run.Rows, r)
	}
	return run, rows.Err()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
