package technical

import (
	"math"
	"testing"
	"time"

	"github.com/skalibog/perpbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candlesFromCloses(closes []float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			Symbol:   "BTCUSDT",
			Interval: "5m",
			OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   1,
		}
	}
	return candles
}

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestRSIKnownValues(t *testing.T) {
	t.Parallel()

	rsi, err := RSI([]float64{10, 11, 13, 12}, 2)
	require.NoError(t, err)
	require.Len(t, rsi, 4)

	assert.True(t, math.IsNaN(rsi[0]))
	assert.True(t, math.IsNaN(rsi[1]))
	assert.Equal(t, 100.0, rsi[2])
	assert.InDelta(t, 66.6666667, rsi[3], 1e-6)
}

func TestRSIBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{"rising saturates at 100", series(40, func(i int) float64 { return 100 + float64(i) }), 100},
		{"falling drops to 0", series(40, func(i int) float64 { return 200 - float64(i) }), 0},
		{"flat is neutral", series(40, func(int) float64 { return 42000 }), 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsi, err := RSI(tt.closes, 14)
			require.NoError(t, err)

			for i := 14; i < len(rsi); i++ {
				assert.False(t, math.IsNaN(rsi[i]), "index %d", i)
				assert.False(t, math.IsInf(rsi[i], 0), "index %d", i)
			}
			assert.InDelta(t, tt.want, rsi[len(rsi)-1], 1e-9)
		})
	}
}

func TestRSIWarmUp(t *testing.T) {
	t.Parallel()

	closes := series(20, func(i int) float64 { return 100 + math.Sin(float64(i)) })
	rsi, err := RSI(closes, 14)
	require.NoError(t, err)

	for i := 0; i < 14; i++ {
		assert.True(t, math.IsNaN(rsi[i]), "index %d must be undefined", i)
	}
	assert.False(t, math.IsNaN(rsi[14]))

	for _, v := range rsi[14:] {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestRSIErrors(t *testing.T) {
	t.Parallel()

	_, err := RSI([]float64{1, 2, 3}, 14)
	assert.ErrorIs(t, err, ErrNotEnoughData)

	_, err = RSI([]float64{1, 2, 3}, 0)
	assert.Error(t, err)
}

func TestEMARecursive(t *testing.T) {
	t.Parallel()

	ema := EMA([]float64{1, 2, 3}, 2)
	assert.True(t, math.IsNaN(ema[0]))
	assert.InDelta(t, 1.6666667, ema[1], 1e-6)
	assert.InDelta(t, 2.5555556, ema[2], 1e-6)
}

func TestEMASkipsLeadingNaN(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	ema := EMA([]float64{nan, nan, 4, 4, 4}, 2)

	assert.True(t, math.IsNaN(ema[0]))
	assert.True(t, math.IsNaN(ema[1]))
	assert.True(t, math.IsNaN(ema[2]))
	assert.Equal(t, 4.0, ema[3])
	assert.Equal(t, 4.0, ema[4])
}

func TestMACDFlatSeriesIsZero(t *testing.T) {
	t.Parallel()

	closes := series(120, func(int) float64 { return 30000.5 })
	macd, signalLine, hist := MACD(closes, 12, 26, 9)

	for i := 34; i < len(closes); i++ {
		assert.Equal(t, 0.0, macd[i])
		assert.Equal(t, 0.0, signalLine[i])
		assert.Equal(t, 0.0, hist[i])
	}
}

func TestMACDHistogram(t *testing.T) {
	t.Parallel()

	closes := series(80, func(i int) float64 { return 100 + 5*math.Sin(float64(i)/6) })
	macd, signalLine, hist := MACD(closes, 12, 26, 9)

	for i := range closes {
		if math.IsNaN(signalLine[i]) {
			continue
		}
		assert.InDelta(t, macd[i]-signalLine[i], hist[i], 1e-12)
	}
	// линия MACD готова с slow-й свечи, сигнальная через signal-1 после нее
	assert.True(t, math.IsNaN(macd[24]))
	assert.False(t, math.IsNaN(macd[25]))
	assert.True(t, math.IsNaN(signalLine[32]))
	assert.False(t, math.IsNaN(signalLine[33]))
}

func TestAnalyzeNotEnoughData(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(DefaultParams())
	_, err := a.Analyze(candlesFromCloses([]float64{1, 2, 3}))
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestAnalyzeDoesNotMutateCandles(t *testing.T) {
	t.Parallel()

	candles := candlesFromCloses(series(50, func(i int) float64 { return 100 + float64(i%7) }))
	before := append([]models.Candle(nil), candles...)

	a := NewAnalyzer(DefaultParams())
	snapshot, err := a.Analyze(candles)
	require.NoError(t, err)

	assert.Equal(t, before, candles)
	assert.Equal(t, 50, snapshot.Candles)
	assert.Len(t, snapshot.RSI, 50)
	assert.Len(t, snapshot.Histogram, 50)
}

func TestWindowMatchesShorterHistory(t *testing.T) {
	t.Parallel()

	closes := series(90, func(i int) float64 { return 100 + 3*math.Sin(float64(i)/4) + float64(i)/10 })
	a := NewAnalyzer(DefaultParams())

	full, err := a.Analyze(candlesFromCloses(closes))
	require.NoError(t, err)

	for _, k := range []int{30, 45, 89} {
		partial, err := a.Analyze(candlesFromCloses(closes[:k+1]))
		require.NoError(t, err)

		window := full.Window(k)
		assert.Equal(t, partial.Candles, window.Candles)

		rsiW, okW := window.LatestRSI()
		rsiP, okP := partial.LatestRSI()
		assert.Equal(t, okP, okW)
		assert.InDelta(t, rsiP, rsiW, 1e-9)

		macdW, sigW, _ := window.LatestMACD()
		macdP, sigP, _ := partial.LatestMACD()
		assert.InDelta(t, macdP, macdW, 1e-9)
		assert.InDelta(t, sigP, sigW, 1e-9)
	}
}
