package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amats/amats/internal/docstore"
	"github.com/amats/amats/internal/events"
	"github.com/amats/amats/internal/statestore"
)

type streamClient struct {
	reader *bufio.Reader
	cancel context.CancelFunc
}

func setupEventStream(t *testing.T, query string, heartbeat time.Duration) (*statestore.Store, *events.Bus, *streamClient) {
	t.Helper()
	cfg := testConfig(t)
	bus := events.NewBus(zerolog.Nop())
	store := statestore.New(cfg.Store, memoryOpener(t), zerolog.Nop(), statestore.WithEvents(bus))
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	srv := New(Config{Log: zerolog.Nop(), Config: cfg, Store: store, Events: bus, DevMode: true})
	if heartbeat > 0 {
		srv.eventsStream.heartbeat = heartbeat
	}
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(httpServer.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/api/events/stream"+query, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	client := &streamClient{reader: bufio.NewReader(resp.Body), cancel: cancel}
	first := client.next(t)
	require.Equal(t, "connected", first["type"])
	return store, bus, client
}

// next returns the payload of the next data line
func (c *streamClient) next(t *testing.T) map[string]any {
	t.Helper()
	for {
		line, err := c.reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
		return payload
	}
}

func TestEventsStream_StreamsStoreEvents(t *testing.T) {
	store, bus, client := setupEventStream(t, "", 0)
	ctx := context.Background()

	assert.Equal(t, 1, bus.Subscribers(events.TradeRecorded))

	_, err := store.AppendTradeRecord(ctx, statestore.TradeRecord{
		ID:     "t1",
		Symbol: "BTC/USDT",
		Side:   statestore.SideSell,
		Size:   decimal.RequireFromString("0.25"),
		Price:  decimal.RequireFromString("64000"),
	})
	require.NoError(t, err)

	event := client.next(t)
	assert.Equal(t, "TRADE_RECORDED", event["type"])
	assert.Equal(t, "state_store", event["module"])
	data := event["data"].(map[string]any)
	assert.Equal(t, "t1", data["id"])
	assert.Equal(t, "sell", data["side"])
	assert.Equal(t, "0.25", data["size"])

	require.NoError(t, store.PutStrategyState(ctx, "momentum", docstore.MustFromNative(map[string]any{"position": 1.0})))
	event = client.next(t)
	assert.Equal(t, "STRATEGY_STATE_UPDATED", event["type"])
	assert.Equal(t, "momentum", event["data"].(map[string]any)["strategy_id"])
}

func TestEventsStream_TypesFilter(t *testing.T) {
	store, bus, client := setupEventStream(t, "?types=strategy_state_deleted", 0)
	ctx := context.Background()

	assert.Equal(t, 0, bus.Subscribers(events.TradeRecorded))

	_, err := store.AppendTradeRecord(ctx, statestore.TradeRecord{Symbol: "BTC/USDT", Side: statestore.SideBuy})
	require.NoError(t, err)
	require.NoError(t, store.DeleteStrategyState(ctx, "momentum"))

	event := client.next(t)
	assert.Equal(t, "STRATEGY_STATE_DELETED", event["type"])
	assert.Equal(t, true, event["data"].(map[string]any)["deleted"])
}

func TestEventsStream_Heartbeat(t *testing.T) {
	_, _, client := setupEventStream(t, "", 20*time.Millisecond)

	event := client.next(t)
	assert.Equal(t, "heartbeat", event["type"])
}

func TestEventsStream_UnsubscribesOnDisconnect(t *testing.T) {
	_, bus, client := setupEventStream(t, "", 0)
	require.Equal(t, 1, bus.Subscribers(events.TradeRecorded))

	client.cancel()

	assert.Eventually(t, func() bool {
		return bus.Subscribers(events.TradeRecorded) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventsStream_DisabledWithoutBus(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/events/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
