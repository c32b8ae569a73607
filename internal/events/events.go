// Package events provides an in-process bus for state store change notifications.
package events

import "time"

// EventType identifies a kind of event
type EventType string

// Event types
const (
	TradeRecorded        EventType = "TRADE_RECORDED"
	StrategyStateUpdated EventType = "STRATEGY_STATE_UPDATED"
	StrategyStateDeleted EventType = "STRATEGY_STATE_DELETED"
	StoreStatusChanged   EventType = "STORE_STATUS_CHANGED"
)

// AllTypes lists every event type the bus carries
var AllTypes = []EventType{
	TradeRecorded,
	StrategyStateUpdated,
	StrategyStateDeleted,
	StoreStatusChanged,
}

// Event is one notification delivered to subscribers
type Event struct {
	Type      EventType
	Module    string
	Timestamp time.Time
	Data      EventData
}
