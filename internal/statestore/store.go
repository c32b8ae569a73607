// Package statestore persists trade history and strategy state in a document store.
//
// A Store owns one backend handle for the life of the process. The handle is opened once,
// on Init or lazily on the first operation; a failed initialization is terminal and every
// later call returns the same *InitError.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amats/amats/internal/config"
	"github.com/amats/amats/internal/docstore"
	"github.com/amats/amats/internal/events"
	"github.com/amats/amats/internal/metrics"
)

// State is the lifecycle state of a Store
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Operation names used in errors, logs and metrics
const (
	opInit                = "init"
	opAppendTradeRecord   = "append_trade_record"
	opPutStrategyState    = "put_strategy_state"
	opGetStrategyState    = "get_strategy_state"
	opDeleteStrategyState = "delete_strategy_state"
	opQueryTradeHistory   = "query_trade_history"
	opPing                = "ping"
)

// Opener connects to the document store described by cfg
type Opener func(ctx context.Context, creds Credentials, cfg config.StoreConfig) (docstore.Backend, error)

// DefaultOpener opens Firestore with the service account credentials, or the local
// SQLite database when cfg.Backend is "sqlite".
func DefaultOpener(ctx context.Context, creds Credentials, cfg config.StoreConfig) (docstore.Backend, error) {
	switch cfg.Backend {
	case config.BackendFirestore, "":
		if creds.ProjectID == "" {
			return nil, errors.New("credentials have no project_id")
		}
		backend, err := docstore.OpenFirestore(ctx, creds.ProjectID, creds.JSON)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case config.BackendSQLite:
		backend, err := docstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Option configures a Store
type Option func(*Store)

// WithMetrics records operation counts and latencies
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithEvents publishes trade, strategy state and status changes on bus
func WithEvents(bus *events.Bus) Option {
	return func(s *Store) {
		s.events = bus
	}
}

// eventModule tags events emitted by the store
const eventModule = "state_store"

// Store persists trade records and strategy states.
// It is safe for concurrent use; only initialization is serialized.
type Store struct {
	cfg     config.StoreConfig
	opener  Opener
	log     zerolog.Logger
	metrics *metrics.StoreMetrics
	events  *events.Bus

	trades docstore.Path
	states docstore.Path

	once      sync.Once
	state     atomic.Int32
	backend   docstore.Backend
	initErr   *InitError
	closeOnce sync.Once
	closeErr  error
}

// New creates an uninitialized store. A nil opener means DefaultOpener.
func New(cfg config.StoreConfig, opener Opener, log zerolog.Logger, opts ...Option) *Store {
	if opener == nil {
		opener = DefaultOpener
	}

	s := &Store{
		cfg:    cfg,
		opener: opener,
		log:    log.With().Str("component", "state_store").Logger(),
		trades: docstore.Path{Root: cfg.RootCollection, Namespace: cfg.Namespace, Collection: cfg.TradeHistoryCollection},
		states: docstore.Path{Root: cfg.RootCollection, Namespace: cfg.Namespace, Collection: cfg.StrategyStateCollection},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store with DefaultOpener and initializes it.
// On failure the store is returned together with the *InitError so callers that choose
// to run without persistence can still report its state.
func Open(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger, opts ...Option) (*Store, error) {
	s := New(cfg, DefaultOpener, log, opts...)
	if err := s.Init(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Init connects to the backend. Only the first call does any work; concurrent callers wait
// for it and every call returns its result. Failure is permanent.
func (s *Store) Init(ctx context.Context) error {
	s.once.Do(func() {
		s.initialize(ctx)
	})
	if s.initErr != nil {
		return s.initErr
	}
	return nil
}

// handshakeTimeout bounds initialization once it is detached from the caller
const handshakeTimeout = 30 * time.Second

func (s *Store) initialize(ctx context.Context) {
	start := time.Now()
	s.state.Store(int32(StateInitializing))

	// The handshake is shared by every caller; one caller's cancellation must not become
	// the permanent result.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handshakeTimeout)
	defer cancel()
	backend, err := s.connect(hctx)
	if err != nil {
		s.initErr = &InitError{Cause: err}
		s.state.Store(int32(StateFailed))
		s.metrics.Observe(opInit, start, metrics.ResultError)
		s.log.Error().Err(err).Str("backend", s.cfg.Backend).Msg("State store initialization failed")
		s.events.Emit(eventModule, &events.StoreStatusData{Status: StateFailed.String(), Backend: s.cfg.Backend, Error: err.Error()})
		return
	}

	s.backend = backend
	s.state.Store(int32(StateReady))
	s.metrics.Observe(opInit, start, metrics.ResultOK)
	s.log.Info().
		Str("backend", s.cfg.Backend).
		Str("trades", s.trades.String()).
		Str("states", s.states.String()).
		Dur("took", time.Since(start)).
		Msg("State store ready")
	s.events.Emit(eventModule, &events.StoreStatusData{Status: StateReady.String(), Backend: s.cfg.Backend})
}

func (s *Store) connect(ctx context.Context) (docstore.Backend, error) {
	creds, err := LoadCredentials(s.cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}

	backend, err := s.opener(ctx, creds, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", s.cfg.Backend, err)
	}

	if err := backend.Ping(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("store handshake failed: %w", err)
	}
	return backend, nil
}

// ready initializes the store if needed and returns the backend
func (s *Store) ready(ctx context.Context) (docstore.Backend, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if s.State() == StateClosed {
		return nil, ErrClosed
	}
	return s.backend, nil
}

// State returns the current lifecycle state
func (s *Store) State() State {
	return State(s.state.Load())
}

// Err returns the initialization error of a failed store, or nil
func (s *Store) Err() error {
	if s.State() != StateFailed {
		return nil
	}
	return s.Init(context.Background())
}

// Backend returns the backend handle, or nil until the store is ready
func (s *Store) Backend() docstore.Backend {
	if s.State() != StateReady {
		return nil
	}
	return s.backend
}

// Config returns the store configuration
func (s *Store) Config() config.StoreConfig {
	return s.cfg
}

// Close releases the backend. Closing a store that was never initialized prevents any later
// initialization.
func (s *Store) Close() error {
	s.once.Do(func() {
		s.initErr = &InitError{Cause: ErrClosed}
		s.state.Store(int32(StateFailed))
	})

	s.closeOnce.Do(func() {
		if s.backend != nil {
			s.state.Store(int32(StateClosed))
			s.closeErr = s.backend.Close()
		}
	})
	return s.closeErr
}

// Ping checks the connection to the backend
func (s *Store) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.observe(opPing, start, err) }()

	backend, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if err := backend.Ping(ctx); err != nil {
		return &ReadError{Op: opPing, Collection: s.cfg.RootCollection, Cause: err}
	}
	return nil
}

// AppendTradeRecord stores r as a new document and returns its id. The id is r.ID when set,
// otherwise a new UUID; an existing id fails with docstore.ErrAlreadyExists and is never
// overwritten. A zero timestamp is set to the current time.
func (s *Store) AppendTradeRecord(ctx context.Context, r TradeRecord) (id string, err error) {
	start := time.Now()
	defer func() { s.observe(opAppendTradeRecord, start, err) }()

	backend, err := s.ready(ctx)
	if err != nil {
		return "", err
	}

	if err := r.validate(); err != nil {
		return "", &WriteError{Op: opAppendTradeRecord, Collection: s.trades.String(), DocID: r.ID, Cause: err}
	}

	id = r.ID
	if id == "" {
		id = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	if err := backend.Create(ctx, s.trades, id, r.document()); err != nil {
		return "", &WriteError{Op: opAppendTradeRecord, Collection: s.trades.String(), DocID: id, Cause: err}
	}

	s.metrics.RecordTrade(r.Symbol, string(r.Side))
	s.log.Debug().
		Str("id", id).
		Str("symbol", r.Symbol).
		Str("side", string(r.Side)).
		Str("size", r.Size.String()).
		Str("price", r.Price.String()).
		Str("strategy", r.Strategy).
		Msg("Trade recorded")
	s.events.Emit(eventModule, &events.TradeRecordedData{
		ID:       id,
		Symbol:   r.Symbol,
		Side:     string(r.Side),
		Size:     r.Size.String(),
		Price:    r.Price.String(),
		Strategy: r.Strategy,
	})
	return id, nil
}

// PutStrategyState writes doc as the state of strategyID, replacing any previous state entirely
func (s *Store) PutStrategyState(ctx context.Context, strategyID string, doc docstore.Document) (err error) {
	start := time.Now()
	defer func() { s.observe(opPutStrategyState, start, err) }()

	backend, err := s.ready(ctx)
	if err != nil {
		return err
	}

	if err := validateStrategyID(strategyID); err != nil {
		return &WriteError{Op: opPutStrategyState, Collection: s.states.String(), DocID: strategyID, Cause: err}
	}
	if doc == nil {
		doc = docstore.Document{}
	}

	if err := backend.Set(ctx, s.states, strategyID, doc); err != nil {
		return &WriteError{Op: opPutStrategyState, Collection: s.states.String(), DocID: strategyID, Cause: err}
	}

	s.log.Debug().Str("strategy", strategyID).Int("fields", len(doc)).Msg("Strategy state saved")
	s.events.Emit(eventModule, &events.StrategyStateData{StrategyID: strategyID, Fields: doc.Keys()})
	return nil
}

// GetStrategyState returns the state of strategyID. The bool is false, with a nil error,
// when no state was saved yet.
func (s *Store) GetStrategyState(ctx context.Context, strategyID string) (doc docstore.Document, found bool, err error) {
	start := time.Now()
	defer func() {
		if err == nil && !found {
			s.metrics.Observe(opGetStrategyState, start, metrics.ResultNotFound)
			return
		}
		s.observe(opGetStrategyState, start, err)
	}()

	backend, err := s.ready(ctx)
	if err != nil {
		return nil, false, err
	}

	if err := validateStrategyID(strategyID); err != nil {
		return nil, false, &ReadError{Op: opGetStrategyState, Collection: s.states.String(), DocID: strategyID, Cause: err}
	}

	doc, found, err = backend.Get(ctx, s.states, strategyID)
	if err != nil {
		return nil, false, &ReadError{Op: opGetStrategyState, Collection: s.states.String(), DocID: strategyID, Cause: err}
	}
	return doc, found, nil
}

// DeleteStrategyState removes the state of strategyID. Deleting a missing state is not an error.
func (s *Store) DeleteStrategyState(ctx context.Context, strategyID string) (err error) {
	start := time.Now()
	defer func() { s.observe(opDeleteStrategyState, start, err) }()

	backend, err := s.ready(ctx)
	if err != nil {
		return err
	}

	if err := validateStrategyID(strategyID); err != nil {
		return &WriteError{Op: opDeleteStrategyState, Collection: s.states.String(), DocID: strategyID, Cause: err}
	}

	if err := backend.Delete(ctx, s.states, strategyID); err != nil {
		return &WriteError{Op: opDeleteStrategyState, Collection: s.states.String(), DocID: strategyID, Cause: err}
	}

	s.log.Info().Str("strategy", strategyID).Msg("Strategy state deleted")
	s.events.Emit(eventModule, &events.StrategyStateData{StrategyID: strategyID, Deleted: true})
	return nil
}

// QueryTradeHistory returns the trades matching f, oldest write first unless f.Order says
// otherwise. No matches is an empty iterator, not an error. The caller must drain or Stop it.
func (s *Store) QueryTradeHistory(ctx context.Context, f TradeFilter) (it *TradeIterator, err error) {
	start := time.Now()
	defer func() { s.observe(opQueryTradeHistory, start, err) }()

	backend, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	q, err := f.query()
	if err != nil {
		return nil, &ReadError{Op: opQueryTradeHistory, Collection: s.trades.String(), Cause: err}
	}

	return &TradeIterator{
		it:         backend.Query(ctx, s.trades, q),
		collection: s.trades.String(),
	}, nil
}

// ListTrades runs QueryTradeHistory and collects every result
func (s *Store) ListTrades(ctx context.Context, f TradeFilter) ([]TradeRecord, error) {
	it, err := s.QueryTradeHistory(ctx, f)
	if err != nil {
		return nil, err
	}
	return it.All()
}

func (s *Store) observe(op string, start time.Time, err error) {
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
	}
	s.metrics.Observe(op, start, result)
}

func validateStrategyID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidStrategyID)
	}
	if strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidStrategyID, id)
	}
	return nil
}
