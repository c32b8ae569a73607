package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/amats/amats/internal/docstore"
	"github.com/amats/amats/internal/statestore"
)

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 1000
	maxBodyBytes      = 1 << 20
)

// StrategyStateResponse is the body of GET /api/strategies/{id}/state
type StrategyStateResponse struct {
	StrategyID string            `json:"strategy_id"`
	State      docstore.Document `json:"state"`
}

// TradeJSON is the wire form of a trade record
type TradeJSON struct {
	ID         string            `json:"id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Symbol     string            `json:"symbol"`
	Side       string            `json:"side"`
	Size       decimal.Decimal   `json:"size"`
	Price      decimal.Decimal   `json:"price"`
	Strategy   string            `json:"strategy,omitempty"`
	Metadata   docstore.Document `json:"metadata,omitempty"`
	RecordedAt *time.Time        `json:"recorded_at,omitempty"`
}

func tradeToJSON(r statestore.TradeRecord) TradeJSON {
	t := TradeJSON{
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Symbol:    r.Symbol,
		Side:      string(r.Side),
		Size:      r.Size,
		Price:     r.Price,
		Strategy:  r.Strategy,
		Metadata:  r.Metadata,
	}
	if !r.RecordedAt.IsZero() {
		recordedAt := r.RecordedAt
		t.RecordedAt = &recordedAt
	}
	return t
}

// TradeListResponse is the body of GET /api/trades
type TradeListResponse struct {
	Trades []TradeJSON `json:"trades"`
	Count  int         `json:"count"`
}

// handleGetStrategyState returns the saved state, or 404 if there is none
func (s *Server) handleGetStrategyState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, found, err := s.store.GetStrategyState(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no state for strategy %q", id))
		return
	}

	s.writeJSON(w, http.StatusOK, StrategyStateResponse{StrategyID: id, State: doc})
}

// handlePutStrategyState replaces the state with the JSON object in the body
func (s *Server) handlePutStrategyState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var doc docstore.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&doc); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid state document: %v", err))
		return
	}

	if err := s.store.PutStrategyState(r.Context(), id, doc); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, StrategyStateResponse{StrategyID: id, State: doc})
}

// handleDeleteStrategyState removes the state
func (s *Server) handleDeleteStrategyState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteStrategyState(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListTrades lists trade history.
// Query parameters: symbol, strategy, side, since, until (RFC3339), limit, order.
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTradeFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.ListTrades(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	trades := make([]TradeJSON, 0, len(records))
	for _, rec := range records {
		trades = append(trades, tradeToJSON(rec))
	}
	s.writeJSON(w, http.StatusOK, TradeListResponse{Trades: trades, Count: len(trades)})
}

// handleAppendTrade records the trade in the body and returns it with its id
func (s *Server) handleAppendTrade(w http.ResponseWriter, r *http.Request) {
	var body TradeJSON
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid trade: %v", err))
		return
	}

	side, err := statestore.ParseSide(body.Side)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := statestore.TradeRecord{
		ID:        body.ID,
		Timestamp: body.Timestamp,
		Symbol:    body.Symbol,
		Side:      side,
		Size:      body.Size,
		Price:     body.Price,
		Strategy:  body.Strategy,
		Metadata:  body.Metadata,
	}

	id, err := s.store.AppendTradeRecord(r.Context(), record)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	body.ID = id
	body.Side = string(side)
	s.writeJSON(w, http.StatusCreated, body)
}

func parseTradeFilter(r *http.Request) (statestore.TradeFilter, error) {
	q := r.URL.Query()
	filter := statestore.TradeFilter{
		Symbol:   q.Get("symbol"),
		Strategy: q.Get("strategy"),
		Limit:    defaultTradeLimit,
	}

	if v := q.Get("side"); v != "" {
		side, err := statestore.ParseSide(v)
		if err != nil {
			return filter, err
		}
		filter.Side = side
	}

	var err error
	if filter.Since, err = parseTime(q.Get("since")); err != nil {
		return filter, fmt.Errorf("invalid since: %w", err)
	}
	if filter.Until, err = parseTime(q.Get("until")); err != nil {
		return filter, fmt.Errorf("invalid until: %w", err)
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		if limit > maxTradeLimit {
			limit = maxTradeLimit
		}
		filter.Limit = limit
	}

	if filter.Order, err = statestore.ParseTradeOrder(q.Get("order")); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
