package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// TradeRecordedData contains data for TradeRecorded events
type TradeRecordedData struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Size     string `json:"size"`
	Price    string `json:"price"`
	Strategy string `json:"strategy,omitempty"`
}

// EventType returns the event type for TradeRecordedData
func (d *TradeRecordedData) EventType() EventType {
	return TradeRecorded
}

// StrategyStateData contains data for strategy state events.
// Deleted selects between StrategyStateUpdated and StrategyStateDeleted.
type StrategyStateData struct {
	StrategyID string   `json:"strategy_id"`
	Fields     []string `json:"fields,omitempty"`
	Deleted    bool     `json:"deleted,omitempty"`
}

// EventType returns the event type for StrategyStateData
func (d *StrategyStateData) EventType() EventType {
	if d.Deleted {
		return StrategyStateDeleted
	}
	return StrategyStateUpdated
}

// StoreStatusData contains data for StoreStatusChanged events
type StoreStatusData struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}

// EventType returns the event type for StoreStatusData
func (d *StoreStatusData) EventType() EventType {
	return StoreStatusChanged
}

// EventWithData is the serialized form of an Event
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// NewEventWithData converts an event for serialization
func NewEventWithData(e *Event) *EventWithData {
	return &EventWithData{Type: e.Type, Timestamp: e.Timestamp, Module: e.Module, Data: e.Data}
}

// UnmarshalJSON decodes data into the concrete type for the event type
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case TradeRecorded:
		eventData = &TradeRecordedData{}
	case StrategyStateUpdated, StrategyStateDeleted:
		eventData = &StrategyStateData{}
	case StoreStatusChanged:
		eventData = &StoreStatusData{}
	default:
		eventData = &GenericEventData{Type: aux.Type}
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
