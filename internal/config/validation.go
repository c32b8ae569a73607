package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Validation error kinds. Match them with errors.Is.
var (
	ErrInvalidValue            = errors.New("invalid configuration value")
	ErrMissingCredentials      = errors.New("missing credentials")
	ErrInvalidTradingParameter = errors.New("invalid trading parameter")
	ErrInvalidMLParameter      = errors.New("invalid ml parameter")
	ErrInvalidStoreParameter   = errors.New("invalid store parameter")
)

// ValidationError reports a configuration value that prevents the process from starting.
type ValidationError struct {
	Field  string
	Reason string
	Kind   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Reason)
}

// Unwrap returns the error kind
func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// Validate checks cross-field invariants. Rules run in order and the first failure wins.
// Missing exchange credentials are corrected (sandbox mode forced on) rather than rejected.
func (c *Config) Validate(log zerolog.Logger) error {
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		log.Warn().
			Str("exchange", c.Exchange.ExchangeID).
			Msg("Exchange API credentials not found, sandbox mode will be used")
		c.Exchange.SandboxMode = true
	}

	if err := checkReadableFile(c.Store.CredentialsPath); err != nil {
		return &ValidationError{
			Field:  "FIREBASE_CREDENTIALS_PATH",
			Reason: fmt.Sprintf("credentials file not usable at %s: %v", c.Store.CredentialsPath, err),
			Kind:   ErrMissingCredentials,
		}
	}

	// Written as positive checks so NaN fails them
	if !(c.Trading.MaxPositionSize > 0 && c.Trading.MaxPositionSize <= 1) {
		return &ValidationError{
			Field:  "MAX_POSITION_SIZE",
			Reason: fmt.Sprintf("must be in (0, 1], got %v", c.Trading.MaxPositionSize),
			Kind:   ErrInvalidTradingParameter,
		}
	}

	if !positiveFinite(c.Trading.StopLossPct) {
		return &ValidationError{
			Field:  "STOP_LOSS_PCT",
			Reason: fmt.Sprintf("must be positive and finite, got %v", c.Trading.StopLossPct),
			Kind:   ErrInvalidTradingParameter,
		}
	}

	if !positiveFinite(c.Trading.InitialCapital) {
		return &ValidationError{
			Field:  "INITIAL_CAPITAL",
			Reason: fmt.Sprintf("must be positive and finite, got %v", c.Trading.InitialCapital),
			Kind:   ErrInvalidTradingParameter,
		}
	}

	if math.IsNaN(c.Trading.TakeProfitPct) || math.IsInf(c.Trading.TakeProfitPct, 0) {
		return &ValidationError{
			Field:  "TAKE_PROFIT_PCT",
			Reason: fmt.Sprintf("must be finite, got %v", c.Trading.TakeProfitPct),
			Kind:   ErrInvalidTradingParameter,
		}
	}

	mlFields := []struct {
		name  string
		value int
	}{
		{"TRAINING_LOOKBACK_DAYS", c.ML.TrainingLookbackDays},
		{"PREDICTION_HORIZON", c.ML.PredictionHorizonHours},
		{"FEATURE_WINDOW_SIZE", c.ML.FeatureWindowSize},
		{"RETRAIN_FREQUENCY_HOURS", c.ML.RetrainFrequencyHours},
	}
	for _, f := range mlFields {
		if f.value <= 0 {
			return &ValidationError{
				Field:  f.name,
				Reason: fmt.Sprintf("must be a positive integer, got %d", f.value),
				Kind:   ErrInvalidMLParameter,
			}
		}
	}

	return c.Store.validate()
}

func (s StoreConfig) validate() error {
	if s.Backend != BackendFirestore && s.Backend != BackendSQLite {
		return &ValidationError{
			Field:  "STORE_BACKEND",
			Reason: fmt.Sprintf("must be %q or %q, got %q", BackendFirestore, BackendSQLite, s.Backend),
			Kind:   ErrInvalidStoreParameter,
		}
	}

	names := []struct {
		field string
		value string
	}{
		{"FIRESTORE_COLLECTION", s.RootCollection},
		{"STORE_NAMESPACE", s.Namespace},
		{"TRADE_HISTORY_SUBCOLLECTION", s.TradeHistoryCollection},
		{"STRATEGY_STATE_SUBCOLLECTION", s.StrategyStateCollection},
	}
	for _, n := range names {
		if n.value == "" || strings.Contains(n.value, "/") {
			return &ValidationError{
				Field:  n.field,
				Reason: fmt.Sprintf("must be a non-empty name without '/', got %q", n.value),
				Kind:   ErrInvalidStoreParameter,
			}
		}
	}

	if s.Backend == BackendSQLite && s.SQLitePath == "" {
		return &ValidationError{
			Field:  "STORE_SQLITE_PATH",
			Reason: "required when STORE_BACKEND is sqlite",
			Kind:   ErrInvalidStoreParameter,
		}
	}

	return nil
}

// checkReadableFile verifies that path names an existing regular file we can open
func checkReadableFile(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("path is a directory")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
