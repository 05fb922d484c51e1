package technical

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/perpbot/pkg/models"
)

// ErrNotEnoughData недостаточно свечей для расчета индикаторов
var ErrNotEnoughData = errors.New("недостаточно данных")

// Params периоды индикаторов
type Params struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
}

// DefaultParams стандартные периоды RSI(14) и MACD(12, 26, 9)
func DefaultParams() Params {
	return Params{
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
	}
}

// Snapshot индикаторы, выровненные по индексу свечей.
// Значения, для которых период прогрева еще не прошел, равны NaN.
type Snapshot struct {
	Candles   int
	RSI       []float64
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// Window возвращает снимок по свечам [0..i] без копирования.
// Все индикаторы причинные, поэтому значение в точке i не зависит от будущих свечей.
func (s *Snapshot) Window(i int) *Snapshot {
	n := i + 1
	return &Snapshot{
		Candles:   n,
		RSI:       s.RSI[:n],
		MACD:      s.MACD[:n],
		Signal:    s.Signal[:n],
		Histogram: s.Histogram[:n],
	}
}

// LatestRSI последнее значение RSI; false, если индикатор не готов
func (s *Snapshot) LatestRSI() (float64, bool) {
	return last(s.RSI)
}

// LatestMACD последние значения линии MACD и сигнальной линии
func (s *Snapshot) LatestMACD() (macd, signal float64, ok bool) {
	m, okM := last(s.MACD)
	sig, okS := last(s.Signal)
	return m, sig, okM && okS
}

func last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return math.NaN(), false
	}
	v := series[len(series)-1]
	return v, !math.IsNaN(v)
}

// Analyzer реализует расчет технических индикаторов
type Analyzer struct {
	params Params
}

// NewAnalyzer создает новый анализатор технических индикаторов
func NewAnalyzer(params Params) *Analyzer {
	return &Analyzer{
		params: params,
	}
}

// MinCandles минимальное количество свечей для расчета
func (a *Analyzer) MinCandles() int {
	return a.params.RSIPeriod + 1
}

// Analyze рассчитывает RSI и MACD по окну свечей. Свечи не изменяются.
func (a *Analyzer) Analyze(candles []models.Candle) (*Snapshot, error) {
	if len(candles) < a.MinCandles() {
		return nil, fmt.Errorf("%w: %d свечей, требуется %d", ErrNotEnoughData, len(candles), a.MinCandles())
	}

	closes := models.Closes(candles)

	rsi, err := RSI(closes, a.params.RSIPeriod)
	if err != nil {
		return nil, err
	}
	macd, signal, hist := MACD(closes, a.params.MACDFast, a.params.MACDSlow, a.params.MACDSignal)

	return &Snapshot{
		Candles:   len(candles),
		RSI:       rsi,
		MACD:      macd,
		Signal:    signal,
		Histogram: hist,
	}, nil
}

// RSI рассчитывает RSI по простым скользящим средним приростов и потерь.
// Нулевая средняя потеря дает 100, отсутствие движения цены дает 50.
func RSI(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("некорректный период RSI: %d", period)
	}
	if len(closes) < period+1 {
		return nil, fmt.Errorf("%w: %d цен, требуется %d", ErrNotEnoughData, len(closes), period+1)
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	// talib.Sma выравнивает результат по входу: значение j валидно при j >= period-1
	avgGain := talib.Sma(gains, period)
	avgLoss := talib.Sma(losses, period)

	result := make([]float64, len(closes))
	for i := range result {
		j := i - 1
		if j < period-1 {
			result[i] = math.NaN()
			continue
		}
		result[i] = rsiValue(avgGain[j], avgLoss[j])
	}
	return result, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	// Скользящая сумма talib может оставить шум порядка ulp вместо точного нуля
	const eps = 1e-12
	if avgLoss <= eps {
		if avgGain <= eps {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// EMA рекурсивная (без поправки) экспоненциальная средняя с alpha = 2/(span+1).
// Затравкой служит первое валидное значение, ведущие NaN пропускаются,
// первые span-1 значений результата равны NaN.
func EMA(values []float64, span int) []float64 {
	result := make([]float64, len(values))
	alpha := 2.0 / float64(span+1)

	var ema float64
	seen := 0
	for i, v := range values {
		if math.IsNaN(v) {
			result[i] = math.NaN()
			continue
		}
		if seen == 0 {
			ema = v
		} else {
			// форма ema += alpha*(v-ema) сохраняет постоянный ряд без ошибок округления
			ema += alpha * (v - ema)
		}
		seen++

		if seen < span {
			result[i] = math.NaN()
		} else {
			result[i] = ema
		}
	}
	return result
}

// MACD рассчитывает линию MACD, сигнальную линию и гистограмму
func MACD(closes []float64, fast, slow, signal int) (macd, signalLine, hist []float64) {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = emaFast[i] - emaSlow[i]
	}

	signalLine = EMA(macd, signal)

	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = macd[i] - signalLine[i]
	}
	return macd, signalLine, hist
}
