package backtest

import (
	"math"

	"github.com/skalibog/perpbot/pkg/models"
)

// Analyze рассчитывает итоговые метрики по строкам сделок.
// Без сделок все метрики нулевые; без убыточных сделок profit factor равен +Inf.
func Analyze(rows []models.BacktestRow, initialBalance float64) models.BacktestMetrics {
	metrics := models.BacktestMetrics{
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
	}
	if len(rows) == 0 {
		return metrics
	}

	var grossProfit, grossLoss float64
	peak := math.Inf(-1)

	for _, r := range rows {
		metrics.NetProfit += r.PnL
		switch {
		case r.PnL > 0:
			metrics.WinningTrades++
			grossProfit += r.PnL
		case r.PnL < 0:
			metrics.LosingTrades++
			grossLoss += r.PnL
		}

		peak = math.Max(peak, r.Balance)
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, peak-r.Balance)
	}

	metrics.TotalTrades = len(rows)
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades) * 100
	metrics.FinalBalance = rows[len(rows)-1].Balance

	if grossLoss == 0 {
		metrics.ProfitFactor = math.Inf(1)
	} else {
		metrics.ProfitFactor = grossProfit / math.Abs(grossLoss)
	}
	return metrics
}
