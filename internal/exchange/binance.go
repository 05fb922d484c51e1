package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/perpbot/internal/config"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/skalibog/perpbot/pkg/models"
	"go.uber.org/zap"
)

// Коды ошибок Binance о нехватке маржи и баланса
const (
	codeBalanceInsufficient = -2018
	codeMarginInsufficient  = -2019
)

// BinanceClient клиент для взаимодействия с Binance Futures
type BinanceClient struct {
	futures   *futures.Client
	precision int32
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	futuresClient := futures.NewClient(cfg.APIKey, cfg.APISecret)

	return &BinanceClient{
		futures:   futuresClient,
		precision: cfg.QuantityPrecision,
	}, nil
}

// FetchOHLCV получает исторические свечи
func (c *BinanceClient) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(symbol, interval, k)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

func parseKline(symbol, interval string, k *futures.Kline) (models.Candle, error) {
	values := make([]float64, 5)
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("ошибка разбора свечи %d: %w", k.OpenTime, err)
		}
		values[i] = v
	}

	return models.Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(k.OpenTime),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		CloseTime: time.UnixMilli(k.CloseTime),
	}, nil
}

// FetchTicker получает последнюю цену
func (c *BinanceClient) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	prices, err := c.futures.NewListPricesService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения цены: %w", err)
	}

	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}

	last, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора цены: %w", err)
	}

	return &models.Ticker{
		Symbol:    symbol,
		Last:      last,
		Timestamp: time.Now(),
	}, nil
}

// CreateOrder размещает ордер
func (c *BinanceClient) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	quantity := c.formatQuantity(req.Quantity)
	if quantity == "0" {
		return nil, fmt.Errorf("%w: количество %v меньше шага", ErrOrderRejected, req.Quantity)
	}

	clientID := uuid.NewString()
	service := c.futures.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(orderSide(req.Side)).
		Quantity(quantity).
		NewClientOrderID(clientID)

	switch req.Type {
	case models.Market, "":
		service = service.Type(futures.OrderTypeMarket)
	case models.Limit:
		if req.Price <= 0 {
			return nil, fmt.Errorf("%w: для лимитного ордера нужна цена", ErrOrderRejected)
		}
		service = service.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(req.Price, 'f', -1, 64))
	default:
		return nil, fmt.Errorf("%w: неподдерживаемый тип ордера %s", ErrOrderRejected, req.Type)
	}

	if req.ReduceOnly {
		service = service.ReduceOnly(true)
	}

	resp, err := service.Do(ctx)
	if err != nil {
		return nil, classifyOrderError(err)
	}

	avgPrice, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	order := &models.Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		AvgPrice:      avgPrice,
		Status:        string(resp.Status),
		Timestamp:     time.UnixMilli(resp.UpdateTime),
	}

	logger.Info("Ордер создан",
		zap.String("symbol", order.Symbol),
		zap.String("id", order.ID),
		zap.String("side", string(order.Side)),
		zap.String("quantity", quantity),
		zap.Bool("reduce_only", req.ReduceOnly))
	return order, nil
}

// ClosePosition закрывает позицию reduce-only ордером противоположной стороны
func (c *BinanceClient) ClosePosition(ctx context.Context, symbol string, position models.Position) (*models.Order, error) {
	order, err := c.CreateOrder(ctx, closeRequest(symbol, position))
	if err != nil {
		return nil, fmt.Errorf("ошибка закрытия позиции %s: %w", symbol, err)
	}
	return order, nil
}

// FetchBalance получает баланс фьючерсного аккаунта
func (c *BinanceClient) FetchBalance(ctx context.Context) (*models.Balance, error) {
	balances, err := c.futures.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	result := &models.Balance{Total: make(map[string]float64, len(balances))}
	for _, b := range balances {
		total, err := strconv.ParseFloat(b.Balance, 64)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора баланса %s: %w", b.Asset, err)
		}
		result.Total[b.Asset] = total
	}
	return result, nil
}

// SetLeverage устанавливает кредитное плечо для символа
func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if _, err := c.futures.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx); err != nil {
		return fmt.Errorf("ошибка установки плеча: %w", err)
	}
	return nil
}

func (c *BinanceClient) formatQuantity(quantity float64) string {
	return decimal.NewFromFloat(quantity).Truncate(c.precision).String()
}

func orderSide(side models.OrderSide) futures.SideType {
	if side == models.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// classifyOrderError приводит ошибку API к различимому классу
func classifyOrderError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeBalanceInsufficient, codeMarginInsufficient:
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, apiErr.Message)
		default:
			return fmt.Errorf("%w: %s (код %d)", ErrOrderRejected, apiErr.Message, apiErr.Code)
		}
	}
	return fmt.Errorf("ошибка создания ордера: %w", err)
}
