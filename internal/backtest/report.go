package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/skalibog/perpbot/pkg/models"
)

var rowsHeader = []string{"datetime", "signal", "entry_price", "exit_price", "quantity", "pnl", "balance", "exit_reason"}

// WriteCSV выгружает строки сделок
func WriteCSV(w io.Writer, rows []models.BacktestRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rowsHeader); err != nil {
		return err
	}

	for _, r := range rows {
		if err := cw.Write([]string{
			r.Time.UTC().Format(time.RFC3339),
			r.Signal.String(),
			f(r.EntryPrice),
			f(r.ExitPrice),
			f(r.Quantity),
			f(r.PnL),
			f(r.Balance),
			r.ExitReason,
		}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCandles читает свечи в формате timestamp(ms),open,high,low,close,volume.
// Строка заголовка пропускается.
func ReadCandles(r io.Reader, symbol, interval string) ([]models.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6
	cr.TrimLeadingSpace = true

	var candles []models.Candle
	for line := 1; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения CSV: %w", err)
		}

		ts, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			if line == 1 && strings.EqualFold(record[0], "timestamp") {
				continue
			}
			return nil, fmt.Errorf("строка %d: некорректное время %q", line, record[0])
		}

		values := make([]float64, 5)
		for i := range values {
			v, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("строка %d: некорректное значение %q", line, record[i+1])
			}
			values[i] = v
		}

		openTime := time.UnixMilli(ts).UTC()
		if n := len(candles); n > 0 && !openTime.After(candles[n-1].OpenTime) {
			return nil, fmt.Errorf("строка %d: время свечей должно строго возрастать", line)
		}

		candles = append(candles, models.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: openTime,
			Open:     values[0],
			High:     values[1],
			Low:      values[2],
			Close:    values[3],
			Volume:   values[4],
		})
	}
	return candles, nil
}

// PrintSummary печатает итоговые метрики прогона
func PrintSummary(w io.Writer, run *models.BacktestRun) {
	m := run.Metrics
	fmt.Fprintf(w, "Бэктест %s (%s)\n", run.Symbol, run.RunID)
	if !run.Start.IsZero() {
		fmt.Fprintf(w, "Период:           %s - %s\n", run.Start.Format(time.DateTime), run.End.Format(time.DateTime))
	}
	fmt.Fprintf(w, "Сделок:           %d (прибыльных %d, убыточных %d)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Fprintf(w, "Процент успеха:   %.2f%%\n", m.WinRate)
	fmt.Fprintf(w, "Чистая прибыль:   %.4f\n", m.NetProfit)
	fmt.Fprintf(w, "Макс. просадка:   %.4f\n", m.MaxDrawdown)
	fmt.Fprintf(w, "Profit factor:    %s\n", formatProfitFactor(m))
	fmt.Fprintf(w, "Баланс:           %.2f -> %.2f\n", m.InitialBalance, m.FinalBalance)
}

func formatProfitFactor(m models.BacktestMetrics) string {
	if math.IsInf(m.ProfitFactor, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", m.ProfitFactor)
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
