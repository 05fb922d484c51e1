package signal

import (
	"github.com/skalibog/perpbot/internal/analysis/technical"
	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/pkg/models"
)

// Mode способ комбинирования RSI и MACD
type Mode string

const (
	// ModeCrossover: StrongBuy только при RSI ниже порога И пересечении MACD снизу вверх
	ModeCrossover Mode = config.SignalModeCrossover
	// ModeAny: историческая схема с ИЛИ и простым сравнением MACD с сигнальной линией
	ModeAny Mode = config.SignalModeAny
)

// DefaultMinCandles минимальная история для генерации сигнала
const DefaultMinCandles = 30

// Thresholds пороговые значения для сигналов
type Thresholds struct {
	RSIBuy     float64
	RSISell    float64
	MinCandles int
	Mode       Mode
}

// DefaultThresholds пороги 35/65, пересечение MACD
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIBuy:     35,
		RSISell:    65,
		MinCandles: DefaultMinCandles,
		Mode:       ModeCrossover,
	}
}

// ThresholdsFromSettings берет пороги из торговых настроек
func ThresholdsFromSettings(s config.Settings) Thresholds {
	return Thresholds{
		RSIBuy:     s.RSIBuyThreshold,
		RSISell:    s.RSISellThreshold,
		MinCandles: s.MinCandles,
		Mode:       Mode(s.SignalMode),
	}
}

// Generate превращает снимок индикаторов в торговый сигнал.
// Чистая функция: без состояния и случайности.
func Generate(snapshot *technical.Snapshot, th Thresholds) models.Signal {
	if snapshot == nil || snapshot.Candles < th.MinCandles {
		return models.Hold
	}

	rsi, ok := snapshot.LatestRSI()
	if !ok {
		return models.Hold
	}
	rsiBuy := rsi < th.RSIBuy
	rsiSell := rsi > th.RSISell

	if th.Mode == ModeAny {
		return generateAny(snapshot, rsiBuy, rsiSell)
	}

	crossUp, crossDown := Crossover(snapshot)
	switch {
	case rsiBuy && crossUp:
		return models.StrongBuy
	case rsiSell && crossDown:
		return models.StrongSell
	default:
		return models.Hold
	}
}

// Crossover определяет пересечение MACD и сигнальной линии по двум последним точкам
func Crossover(snapshot *technical.Snapshot) (up, down bool) {
	n := len(snapshot.MACD)
	if n < 2 || len(snapshot.Signal) < n {
		return false, false
	}

	prevMACD, curMACD := snapshot.MACD[n-2], snapshot.MACD[n-1]
	prevSignal, curSignal := snapshot.Signal[n-2], snapshot.Signal[n-1]

	// Сравнения с NaN ложны, поэтому неготовые точки пересечения не дают
	up = prevMACD <= prevSignal && curMACD > curSignal
	down = prevMACD >= prevSignal && curMACD < curSignal
	return up, down
}

func generateAny(snapshot *technical.Snapshot, rsiBuy, rsiSell bool) models.Signal {
	macd, sig, ok := snapshot.LatestMACD()
	macdBuy := ok && macd > sig
	macdSell := ok && macd < sig

	switch {
	case rsiBuy || macdBuy:
		return models.StrongBuy
	case rsiSell || macdSell:
		return models.StrongSell
	default:
		return models.Hold
	}
}
