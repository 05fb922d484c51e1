package exchange_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skalibog/perpbot/internal/exchange"
	"github.com/skalibog/perpbot/internal/exchange/exchangetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAggTrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		price   float64
		wantErr bool
	}{
		{
			name:  "agg trade",
			data:  `{"e":"aggTrade","E":1704067200100,"s":"BTCUSDT","a":1,"p":"42000.50","q":"0.010","T":1704067200000,"m":false}`,
			price: 42000.50,
		},
		{name: "invalid json", data: `{"e":`, wantErr: true},
		{name: "other event", data: `{"e":"kline","s":"BTCUSDT","p":"1"}`, wantErr: true},
		{name: "missing price", data: `{"e":"aggTrade","s":"BTCUSDT"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			update, err := exchange.ParseAggTrade([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "BTCUSDT", update.Symbol)
			assert.Equal(t, tt.price, update.Price)
			assert.Equal(t, 0.01, update.Quantity)
			assert.Equal(t, int64(1704067200000), update.Timestamp.UnixMilli())
		})
	}
}

func TestPriceStreamFallback(t *testing.T) {
	t.Parallel()

	stream := exchange.NewPriceStream(exchange.StreamConfig{Symbol: "BTCUSDT"}, exchangetest.Prices{"BTCUSDT": 41000})

	price, err := stream.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 41000.0, price)

	noFallback := exchange.NewPriceStream(exchange.StreamConfig{Symbol: "BTCUSDT"}, nil)
	_, err = noFallback.LastPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, exchange.ErrNoPrice)
}

func TestPriceStreamReceivesTrades(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msg := fmt.Sprintf(`{"e":"aggTrade","s":"BTCUSDT","p":"42123.4","q":"0.5","T":%d}`, time.Now().UnixMilli())
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := exchange.NewPriceStream(exchange.StreamConfig{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Symbol: "BTCUSDT",
	}, exchangetest.Prices{"BTCUSDT": 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	select {
	case update := <-stream.Updates():
		assert.Equal(t, 42123.4, update.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no price update")
	}
	assert.Equal(t, "/ws/btcusdt@aggTrade", <-paths)
	assert.Equal(t, exchange.StateOpen, stream.State())

	price, err := stream.LastPrice(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 42123.4, price)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.Equal(t, exchange.StateClosed, stream.State())

	_, open := <-stream.Updates()
	assert.False(t, open)
}
