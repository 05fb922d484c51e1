package models

import (
	"time"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Timestamp возвращает время открытия свечи в миллисекундах
func (c Candle) Timestamp() int64 {
	return c.OpenTime.UnixMilli()
}

// Closes извлекает цены закрытия
func Closes(candles []Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// Signal торговый сигнал
type Signal int

const (
	Hold Signal = iota
	StrongBuy
	StrongSell
)

func (s Signal) String() string {
	switch s {
	case StrongBuy:
		return "strong_buy"
	case StrongSell:
		return "strong_sell"
	default:
		return "hold"
	}
}

// ParseSignal разбирает строковое представление сигнала; неизвестное значение дает Hold
func ParseSignal(s string) Signal {
	switch s {
	case "strong_buy":
		return StrongBuy
	case "strong_sell":
		return StrongSell
	default:
		return Hold
	}
}

// Directional сообщает, требует ли сигнал входа в позицию
func (s Signal) Directional() bool {
	return s == StrongBuy || s == StrongSell
}

// Side возвращает сторону позиции для направленного сигнала
func (s Signal) Side() Side {
	if s == StrongSell {
		return Short
	}
	return Long
}

// Side сторона позиции
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// OrderSide сторона ордера на открытие
func (s Side) OrderSide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// Opposite сторона закрывающего ордера
func (s Side) Opposite() OrderSide {
	if s == Short {
		return Buy
	}
	return Sell
}

// OrderSide сторона ордера
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderType тип ордера
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderRequest параметры создания ордера
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	Price      float64 // только для лимитных ордеров
	ReduceOnly bool
}

// Order результат размещения ордера
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Quantity      float64
	AvgPrice      float64
	Status        string
	Timestamp     time.Time
}

// Ticker последняя цена инструмента
type Ticker struct {
	Symbol    string
	Last      float64
	Timestamp time.Time
}

// Balance баланс аккаунта по активам
type Balance struct {
	Total map[string]float64
}

// PriceUpdate обновление цены из потока сделок
type PriceUpdate struct {
	Symbol    string
	Price     float64
	Quantity  float64
	Timestamp time.Time
}

// Position открытая позиция
type Position struct {
	Symbol          string
	Side            Side
	EntryPrice      float64
	Quantity        float64
	OrderID         string
	TakeProfitPrice float64
	StopLossPrice   float64
	OpenedAt        time.Time
}

// TradeAction тип торгового события
type TradeAction string

const (
	ActionOpen  TradeAction = "open"
	ActionClose TradeAction = "close"
)

// Trade запись о совершенной сделке
type Trade struct {
	ID        string
	Symbol    string
	Action    TradeAction
	Side      Side
	Price     float64
	Amount    float64
	PnL       float64
	Reason    string
	Timestamp time.Time
}

// EquityPoint снимок баланса аккаунта
type EquityPoint struct {
	Time    time.Time
	Balance float64
	Open    int // количество открытых позиций
}

// SignalRecord представляет результат сигнала для хранения
type SignalRecord struct {
	Symbol     string
	Timestamp  time.Time
	Signal     Signal
	Price      float64
	RSI        float64
	MACD       float64
	MACDSignal float64
	Histogram  float64
}

// BacktestRow строка результата бэктеста
type BacktestRow struct {
	Time       time.Time
	Signal     Signal
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnL        float64
	Balance    float64
	ExitReason string
}

// BacktestMetrics итоговые метрики бэктеста
type BacktestMetrics struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	NetProfit      float64
	MaxDrawdown    float64
	ProfitFactor   float64
	InitialBalance float64
	FinalBalance   float64
}

// BacktestRun полный результат прогона для журнала
type BacktestRun struct {
	RunID   string
	Created time.Time
	Symbol  string
	Start   time.Time
	End     time.Time
	Rows    []BacktestRow
	Metrics BacktestMetrics
}
