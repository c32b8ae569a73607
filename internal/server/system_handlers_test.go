package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amats/amats/internal/config"
	"github.com/amats/amats/internal/database"
	"github.com/amats/amats/internal/docstore"
	"github.com/amats/amats/internal/metrics"
	"github.com/amats/amats/internal/statestore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{"type":"service_account","project_id":"amats-test"}`), 0600))

	return &config.Config{
		Store: config.StoreConfig{
			CredentialsPath:         creds,
			RootCollection:          "amats_trading",
			TradeHistoryCollection:  "trade_history",
			StrategyStateCollection: "strategy_states",
			Namespace:               "default",
			Backend:                 config.BackendSQLite,
		},
		Exchange: config.ExchangeConfig{ExchangeID: "binance", APIKey: "key", APISecret: "secret", SandboxMode: true},
		Trading:  config.TradingConfig{InitialCapital: 10000, MaxPositionSize: 0.1, StopLossPct: 0.02},
		Logging:  config.LoggingConfig{Level: "INFO", File: filepath.Join(dir, "amats.log")},
		Server:   config.ServerConfig{Port: 0, DevMode: true},
	}
}

func memoryOpener(t *testing.T) statestore.Opener {
	return func(ctx context.Context, _ statestore.Credentials, _ config.StoreConfig) (docstore.Backend, error) {
		db, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })
		return docstore.NewSQLiteBackend(db)
	}
}

type testServer struct {
	server *Server
	store  *statestore.Store
	cfg    *config.Config
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig(t)
	reg := prometheus.NewRegistry()
	store := statestore.New(cfg.Store, memoryOpener(t), zerolog.Nop(), statestore.WithMetrics(metrics.NewStoreMetrics(reg)))
	require.NoError(t, store.Init(context.Background()))

	srv := New(Config{
		Log:      zerolog.Nop(),
		Config:   cfg,
		Store:    store,
		Gatherer: reg,
		DevMode:  true,
	})
	return &testServer{server: srv, store: store, cfg: cfg}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestServer_Health(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ready", body["store"])
}

func TestServer_HealthAfterStoreClosed(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, ts.store.Close())

	rec := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "stopping", body["status"])
	assert.Equal(t, "closed", body["store"])

	rec = ts.do(t, http.MethodGet, "/api/strategies/s1/state", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "closed")
}

func TestServer_HealthDegraded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.CredentialsPath = filepath.Join(t.TempDir(), "missing.json")
	store := statestore.New(cfg.Store, memoryOpener(t), zerolog.Nop())
	require.Error(t, store.Init(context.Background()))

	srv := New(Config{Log: zerolog.Nop(), Config: cfg, Store: store, DevMode: true})
	ts := &testServer{server: srv, store: store, cfg: cfg}

	rec := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "failed", body["store"])
	assert.Contains(t, body["error"], "initialization failed")

	// Store operations short-circuit to the init error
	rec = ts.do(t, http.MethodGet, "/api/strategies/s1/state", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Without a gatherer there is no metrics route
	rec = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ConfigIsRedacted(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"secret"`)

	var body map[string]map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "***", body["exchange"]["api_secret"])
	assert.Equal(t, 0.1, body["trading"]["max_position_size"])
}

func TestServer_StrategyState(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/strategies/s1/state", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/strategies/s1/state", `{"a":1,"nested":{"b":[true,"x"]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPut, "/api/strategies/s1/state", `{"b":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/strategies/s1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"strategy_id":"s1","state":{"b":2}}`, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/api/strategies/s1/state", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/strategies/s1/state", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_PutStrategyStateInvalidBody(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/strategies/s1/state", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/strategies/s1/state", `{"a":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Trades(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trades":[],"count":0}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/trades", `{
		"id": "t1",
		"timestamp": "2024-06-01T10:00:00Z",
		"symbol": "BTC/USDT",
		"side": "BUY",
		"size": "0.5",
		"price": 64000.25,
		"strategy": "momentum",
		"metadata": {"order_id": "ex-1"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created TradeJSON
	decode(t, rec, &created)
	assert.Equal(t, "t1", created.ID)
	assert.Equal(t, "buy", created.Side)

	rec = ts.do(t, http.MethodPost, "/api/trades", `{"symbol":"ETH/USDT","side":"sell","size":"1","price":"3000"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &created)
	assert.NotEmpty(t, created.ID)

	rec = ts.do(t, http.MethodPost, "/api/trades", `{"id":"t1","symbol":"BTC/USDT","side":"sell"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/trades?symbol=BTC/USDT", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list TradeListResponse
	decode(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "t1", list.Trades[0].ID)
	assert.Equal(t, "64000.25", list.Trades[0].Price.String())
	assert.Equal(t, "0.5", list.Trades[0].Size.String())
	assert.NotNil(t, list.Trades[0].RecordedAt)

	rec = ts.do(t, http.MethodGet, "/api/trades?order=write_desc&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "ETH/USDT", list.Trades[0].Symbol)
}

func TestServer_TradesBadRequests(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"bad side filter", http.MethodGet, "/api/trades?side=short", ""},
		{"bad since", http.MethodGet, "/api/trades?since=yesterday", ""},
		{"bad limit", http.MethodGet, "/api/trades?limit=0", ""},
		{"bad order", http.MethodGet, "/api/trades?order=random", ""},
		{"bad body", http.MethodPost, "/api/trades", `not json`},
		{"bad side", http.MethodPost, "/api/trades", `{"symbol":"BTC/USDT","side":"hold"}`},
		{"missing symbol", http.MethodPost, "/api/trades", `{"side":"buy"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := setupTestServer(t)

	ts.do(t, http.MethodGet, "/api/strategies/s1/state", "")

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `amats_store_operations_total{op="get_strategy_state",result="not_found"} 1`)
}

func TestSystemHandlers_HandleSystemStatus(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/system", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status SystemStatusResponse
	decode(t, rec, &status)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "ready", status.StoreState)
	assert.Empty(t, status.StoreError)
	assert.Greater(t, status.Goroutines, 0)
}

func TestSystemHandlers_HandleDatabaseStats(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/system/database", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "state.db"),
		Profile: database.ProfileLedger,
		Name:    "state",
	})
	require.NoError(t, err)
	defer db.Close()

	handlers := NewSystemHandlers(zerolog.Nop(), ts.store, db)
	rec = httptest.NewRecorder()
	handlers.HandleDatabaseStats(rec, httptest.NewRequest(http.MethodGet, "/api/system/database", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats DatabaseStatsResponse
	decode(t, rec, &stats)
	assert.Equal(t, "state", stats.Name)
	assert.Equal(t, "ledger", stats.Profile)
	assert.Greater(t, stats.PageSize, int64(0))
}

func TestLogHandlers_HandleGetLogs(t *testing.T) {
	ts := setupTestServer(t)

	lines := []string{
		`{"level":"info","message":"State store ready"}`,
		`{"level":"error","message":"State store request failed"}`,
		`{"level":"info","message":"HTTP request"}`,
		`{"level":"warn","message":"Exchange API credentials not found"}`,
	}
	require.NoError(t, os.WriteFile(ts.cfg.Logging.File, []byte(strings.Join(lines, "\n")+"\n"), 0644))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"all", "/api/logs", 4},
		{"tail", "/api/logs?lines=2", 2},
		{"level", "/api/logs?level=info", 2},
		{"search", "/api/logs?search=store", 2},
		{"errors", "/api/logs/errors", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var body LogContentResponse
			decode(t, rec, &body)
			assert.Len(t, body.Lines, tt.want)
		})
	}
}

func TestLogHandlers_MissingFile(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body LogContentResponse
	decode(t, rec, &body)
	assert.Empty(t, body.Lines)
}

func TestLineMatchesLevel(t *testing.T) {
	assert.True(t, lineMatchesLevel(`{"level":"error","message":"x"}`, "ERROR"))
	assert.False(t, lineMatchesLevel(`{"level":"info","message":"error"}`, "ERROR"))
	assert.True(t, lineMatchesLevel("10:04AM ERR State store request failed", "ERROR"))
	assert.True(t, lineMatchesLevel("[ERROR] boom", "ERROR"))
	assert.False(t, lineMatchesLevel("10:04AM INF HTTP request", "ERROR"))
}
