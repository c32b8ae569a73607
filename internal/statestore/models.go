package statestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amats/amats/internal/docstore"
)

// Side is the direction of a trade
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts buy/sell in any case
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Trade record document fields
const (
	fieldTimestamp = "timestamp"
	fieldSymbol    = "symbol"
	fieldSide      = "side"
	fieldSize      = "size"
	fieldPrice     = "price"
	fieldStrategy  = "strategy"
	fieldMetadata  = "metadata"
)

// TradeRecord is one executed or simulated trade. Records are append-only.
type TradeRecord struct {
	ID        string // empty on append: the store generates one
	Timestamp time.Time
	Symbol    string
	Side      Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	Strategy  string
	Metadata  docstore.Document

	// RecordedAt is the store's write time; set on records read back from the store
	RecordedAt time.Time
}

// Notional returns size * price
func (r TradeRecord) Notional() decimal.Decimal {
	return r.Size.Mul(r.Price)
}

func (r TradeRecord) validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol is empty", ErrInvalidTradeRecord)
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%w: side must be buy or sell, got %q", ErrInvalidTradeRecord, r.Side)
	}
	if strings.Contains(r.ID, "/") {
		return fmt.Errorf("%w: id %q contains '/'", ErrInvalidTradeRecord, r.ID)
	}
	return nil
}

// document converts the record to its stored form. Decimals are stored as strings
// so no precision is lost.
func (r TradeRecord) document() docstore.Document {
	doc := docstore.Document{
		fieldTimestamp: docstore.Time(r.Timestamp),
		fieldSymbol:    docstore.String(r.Symbol),
		fieldSide:      docstore.String(string(r.Side)),
		fieldSize:      docstore.String(r.Size.String()),
		fieldPrice:     docstore.String(r.Price.String()),
		fieldStrategy:  docstore.String(r.Strategy),
	}
	if r.Metadata != nil {
		doc[fieldMetadata] = docstore.Map(r.Metadata)
	}
	return doc
}

func tradeFromSnapshot(s docstore.Snapshot) (TradeRecord, error) {
	doc := s.Data
	r := TradeRecord{
		ID:         s.ID,
		RecordedAt: s.CreatedAt,
	}

	var ok bool
	if r.Timestamp, ok = doc[fieldTimestamp].AsTime(); !ok {
		return TradeRecord{}, fmt.Errorf("trade %s: field %s is not a timestamp", s.ID, fieldTimestamp)
	}
	if r.Symbol, ok = doc[fieldSymbol].AsString(); !ok {
		return TradeRecord{}, fmt.Errorf("trade %s: field %s is not a string", s.ID, fieldSymbol)
	}
	side, _ := doc[fieldSide].AsString()
	r.Side = Side(side)
	r.Strategy, _ = doc[fieldStrategy].AsString()

	var err error
	if r.Size, err = decimalField(doc, fieldSize); err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s: %w", s.ID, err)
	}
	if r.Price, err = decimalField(doc, fieldPrice); err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s: %w", s.ID, err)
	}

	if meta, ok := doc[fieldMetadata].AsMap(); ok {
		r.Metadata = meta
	}
	return r, nil
}

// decimalField reads a decimal stored as a string. Numbers written by other clients are accepted too.
func decimalField(doc docstore.Document, field string) (decimal.Decimal, error) {
	v := doc[field]
	if s, ok := v.AsString(); ok {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %s: %w", field, err)
		}
		return d, nil
	}
	if n, ok := v.AsNumber(); ok {
		return decimal.NewFromFloat(n), nil
	}
	return decimal.Zero, fmt.Errorf("field %s is not a decimal", field)
}

// StrategyState is the latest snapshot of a strategy's variables
type StrategyState struct {
	StrategyID string
	Data       docstore.Document
}

// TradeOrder selects the ordering of trade history queries
type TradeOrder int

const (
	// OrderWriteAsc orders by write time, oldest first
	OrderWriteAsc TradeOrder = iota
	OrderWriteDesc
	// OrderTradeTimeAsc orders by the record's own timestamp
	OrderTradeTimeAsc
	OrderTradeTimeDesc
)

var tradeOrderNames = map[TradeOrder]string{
	OrderWriteAsc:      "write_asc",
	OrderWriteDesc:     "write_desc",
	OrderTradeTimeAsc:  "time_asc",
	OrderTradeTimeDesc: "time_desc",
}

func (o TradeOrder) String() string {
	if name, ok := tradeOrderNames[o]; ok {
		return name
	}
	return fmt.Sprintf("TradeOrder(%d)", int(o))
}

// ParseTradeOrder parses the names produced by TradeOrder.String; empty means OrderWriteAsc
func ParseTradeOrder(s string) (TradeOrder, error) {
	if s == "" {
		return OrderWriteAsc, nil
	}
	for o, name := range tradeOrderNames {
		if name == s {
			return o, nil
		}
	}
	return OrderWriteAsc, fmt.Errorf("unknown trade order %q", s)
}

// TradeFilter selects trade records. Zero fields do not filter.
// Since is inclusive and Until exclusive, both against the trade timestamp.
type TradeFilter struct {
	Symbol   string
	Strategy string
	Side     Side
	Since    time.Time
	Until    time.Time
	Limit    int
	Order    TradeOrder
}

func (f TradeFilter) query() (docstore.Query, error) {
	if f.Limit < 0 {
		return docstore.Query{}, fmt.Errorf("negative limit %d", f.Limit)
	}
	if _, ok := tradeOrderNames[f.Order]; !ok {
		return docstore.Query{}, fmt.Errorf("unknown trade order %d", int(f.Order))
	}

	q := docstore.Query{Limit: f.Limit}
	if f.Symbol != "" {
		q.Filters = append(q.Filters, docstore.Filter{Field: fieldSymbol, Op: docstore.OpEqual, Value: docstore.String(f.Symbol)})
	}
	if f.Strategy != "" {
		q.Filters = append(q.Filters, docstore.Filter{Field: fieldStrategy, Op: docstore.OpEqual, Value: docstore.String(f.Strategy)})
	}
	if f.Side != "" {
		q.Filters = append(q.Filters, docstore.Filter{Field: fieldSide, Op: docstore.OpEqual, Value: docstore.String(string(f.Side))})
	}
	if !f.Since.IsZero() {
		q.Filters = append(q.Filters, docstore.Filter{Field: fieldTimestamp, Op: docstore.OpGreaterEqual, Value: docstore.Time(f.Since)})
	}
	if !f.Until.IsZero() {
		q.Filters = append(q.Filters, docstore.Filter{Field: fieldTimestamp, Op: docstore.OpLess, Value: docstore.Time(f.Until)})
	}

	switch f.Order {
	case OrderWriteDesc:
		q.Descending = true
	case OrderTradeTimeAsc:
		q.OrderBy = fieldTimestamp
	case OrderTradeTimeDesc:
		q.OrderBy = fieldTimestamp
		q.Descending = true
	}
	return q, nil
}
