package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/amats/amats/internal/events"
)

// Store reachability as reported in StoreStatusChanged events
const (
	StatusReachable   = "reachable"
	StatusUnreachable = "unreachable"
)

// StatusMonitor periodically pings the store and emits an event when reachability changes
type StatusMonitor struct {
	eventBus *events.Bus
	store    Store
	backend  string
	timeout  time.Duration
	log      zerolog.Logger

	lastStatus string
}

// NewStatusMonitor creates a new status monitor
func NewStatusMonitor(eventBus *events.Bus, store Store, backend string, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		eventBus: eventBus,
		store:    store,
		backend:  backend,
		timeout:  5 * time.Second,
		log:      log.With().Str("component", "status_monitor").Logger(),
	}
}

// Start begins periodic status monitoring until ctx is cancelled
func (m *StatusMonitor) Start(ctx context.Context, interval time.Duration) {
	go m.monitor(ctx, interval)
}

func (m *StatusMonitor) monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.checkStatus(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkStatus(ctx)
		}
	}
}

// checkStatus pings the store and emits StoreStatusChanged when the result differs from
// the previous check. The first check always emits.
func (m *StatusMonitor) checkStatus(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	status, errMsg := StatusReachable, ""
	if err := m.store.Ping(pingCtx); err != nil {
		status, errMsg = StatusUnreachable, err.Error()
	}

	if status == m.lastStatus {
		return
	}

	if status == StatusUnreachable {
		m.log.Warn().Str("error", errMsg).Msg("State store unreachable")
	} else if m.lastStatus != "" {
		m.log.Info().Msg("State store reachable again")
	}
	m.lastStatus = status

	m.eventBus.Emit("status_monitor", &events.StoreStatusData{
		Status:  status,
		Backend: m.backend,
		Error:   errMsg,
	})
}
