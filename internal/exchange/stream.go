package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/skalibog/perpbot/pkg/logger"
	"github.com/skalibog/perpbot/pkg/models"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	defaultReadTimeout = 60 * time.Second
	defaultMaxAge      = 30 * time.Second
	updatesBuffer      = 1000
)

// StreamState состояние соединения потока
type StreamState int32

const (
	StateClosed StreamState = iota
	StateConnecting
	StateOpen
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// StreamConfig параметры потока сделок
type StreamConfig struct {
	// URL базовый адрес, например wss://fstream.binance.com/ws
	URL         string
	Symbol      string
	MaxAge      time.Duration
	ReadTimeout time.Duration
	Backoff     *backoff.Backoff
}

// PriceStream поток агрегированных сделок Binance Futures.
// Владеет соединением, переподключается с экспоненциальной задержкой
// и публикует обновления цены в канал. Реализует PriceSource с
// откатом на REST, если кэш устарел.
type PriceStream struct {
	cfg      StreamConfig
	fallback PriceSource
	dialer   *websocket.Dialer

	state   atomic.Int32
	updates chan models.PriceUpdate

	mu     sync.RWMutex
	prices map[string]models.PriceUpdate
}

// NewPriceStream создает поток цен
func NewPriceStream(cfg StreamConfig, fallback PriceSource) *PriceStream {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.Backoff == nil {
		cfg.Backoff = &backoff.Backoff{
			Min:    time.Second,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		}
	}

	return &PriceStream{
		cfg:      cfg,
		fallback: fallback,
		dialer:   websocket.DefaultDialer,
		updates:  make(chan models.PriceUpdate, updatesBuffer),
		prices:   make(map[string]models.PriceUpdate),
	}
}

// State текущее состояние соединения
func (s *PriceStream) State() StreamState {
	return StreamState(s.state.Load())
}

// Updates канал обновлений цены. Медленный потребитель теряет обновления.
func (s *PriceStream) Updates() <-chan models.PriceUpdate {
	return s.updates
}

// Run держит соединение до отмены контекста
func (s *PriceStream) Run(ctx context.Context) error {
	defer close(s.updates)
	defer s.setState(StateClosed)

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		delay := s.cfg.Backoff.Duration()
		logger.Warn("Поток цен отключен, переподключение",
			zap.String("symbol", s.cfg.Symbol),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (s *PriceStream) session(ctx context.Context) error {
	s.setState(StateConnecting)

	url := fmt.Sprintf("%s/%s@aggTrade", strings.TrimRight(s.cfg.URL, "/"), strings.ToLower(s.cfg.Symbol))
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		s.setState(StateClosed)
		return fmt.Errorf("ошибка подключения к потоку: %w", err)
	}
	defer conn.Close()

	s.setState(StateOpen)
	s.cfg.Backoff.Reset()
	logger.Info("Поток цен подключен", zap.String("url", url))

	// Закрытие соединения прерывает блокирующее чтение при отмене контекста
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			s.setState(StateClosed)
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.setState(StateClosed)
			return fmt.Errorf("ошибка чтения потока: %w", err)
		}

		update, err := ParseAggTrade(data)
		if err != nil {
			logger.Debug("Пропущено сообщение потока", zap.Error(err))
			continue
		}
		s.publish(update)
	}
}

func (s *PriceStream) publish(update models.PriceUpdate) {
	s.mu.Lock()
	s.prices[update.Symbol] = update
	s.mu.Unlock()

	select {
	case s.updates <- update:
	default:
	}
}

func (s *PriceStream) setState(state StreamState) {
	s.state.Store(int32(state))
}

// LastPrice возвращает цену из потока, если она свежая, иначе из запасного источника
func (s *PriceStream) LastPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	update, ok := s.prices[strings.ToUpper(symbol)]
	s.mu.RUnlock()

	if ok && time.Since(update.Timestamp) <= s.cfg.MaxAge {
		return update.Price, nil
	}
	if s.fallback == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return s.fallback.LastPrice(ctx, symbol)
}

// ParseAggTrade разбирает сообщение aggTrade Binance Futures
func ParseAggTrade(data []byte) (models.PriceUpdate, error) {
	if !gjson.ValidBytes(data) {
		return models.PriceUpdate{}, errors.New("некорректный JSON")
	}

	msg := gjson.ParseBytes(data)
	if e := msg.Get("e").String(); e != "aggTrade" {
		return models.PriceUpdate{}, fmt.Errorf("неожиданный тип события %q", e)
	}

	symbol := msg.Get("s").String()
	price := msg.Get("p").Float()
	if symbol == "" || price <= 0 {
		return models.PriceUpdate{}, errors.New("сообщение без символа или цены")
	}

	return models.PriceUpdate{
		Symbol:    symbol,
		Price:     price,
		Quantity:  msg.Get("q").Float(),
		Timestamp: time.UnixMilli(msg.Get("T").Int()),
	}, nil
}
