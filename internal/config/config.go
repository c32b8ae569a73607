// Package config provides configuration management functionality.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Store backends
const (
	BackendFirestore = "firestore"
	BackendSQLite    = "sqlite"
)

// Config holds application configuration.
// It is built once by Load and never mutated afterwards; pass it by pointer to the
// components that need it.
type Config struct {
	Store    StoreConfig
	Exchange ExchangeConfig
	Trading  TradingConfig
	ML       MLConfig
	Logging  LoggingConfig
	Server   ServerConfig
	Backup   BackupConfig
}

// StoreConfig locates the document store and its collections
type StoreConfig struct {
	CredentialsPath         string // Service account JSON used to authenticate against the store
	RootCollection          string
	TradeHistoryCollection  string
	StrategyStateCollection string
	Namespace               string // Document between the root collection and the subcollections
	Backend                 string // "firestore" or "sqlite"
	SQLitePath              string // Database file used by the sqlite backend
}

// ExchangeConfig holds exchange API settings
type ExchangeConfig struct {
	ExchangeID  string
	APIKey      string
	APISecret   string
	SandboxMode bool
	RateLimit   int // Requests per interval
}

// TradingConfig holds risk parameters
type TradingConfig struct {
	InitialCapital  float64
	MaxPositionSize float64 // Fraction of capital, (0, 1]
	StopLossPct     float64
	TakeProfitPct   float64
	MaxDailyTrades  int
}

// MLConfig holds model training settings
type MLConfig struct {
	ModelSavePath          string
	TrainingLookbackDays   int
	PredictionHorizonHours int
	FeatureWindowSize      int
	RetrainFrequencyHours  int
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level       string
	File        string
	MaxSizeMB   int
	BackupCount int
}

// ServerConfig holds diagnostics HTTP server settings
type ServerConfig struct {
	Port    int
	DevMode bool
	// AllowDegraded keeps the diagnostics API up when the store fails to initialize
	AllowDegraded bool
}

// BackupConfig holds settings for uploading store snapshots to an S3-compatible bucket.
// An empty Schedule disables backups.
type BackupConfig struct {
	Schedule        string
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether snapshot uploads are configured
func (b BackupConfig) Enabled() bool {
	return b.Schedule != "" && b.Bucket != ""
}

// Load reads configuration from environment variables and validates it.
// A .env file is read first if present (AMATS_ENV_FILE overrides its location);
// real environment variables always win over the file.
func Load(log zerolog.Logger) (*Config, error) {
	if envFile := os.Getenv("AMATS_ENV_FILE"); envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	env := &envReader{}

	cfg := &Config{
		Store: StoreConfig{
			CredentialsPath:         env.str("FIREBASE_CREDENTIALS_PATH", "./firebase-credentials.json"),
			RootCollection:          env.str("FIRESTORE_COLLECTION", "amats_trading"),
			TradeHistoryCollection:  env.str("TRADE_HISTORY_SUBCOLLECTION", "trade_history"),
			StrategyStateCollection: env.str("STRATEGY_STATE_SUBCOLLECTION", "strategy_states"),
			Namespace:               env.str("STORE_NAMESPACE", "default"),
			Backend:                 strings.ToLower(env.str("STORE_BACKEND", BackendFirestore)),
			SQLitePath:              env.str("STORE_SQLITE_PATH", "./data/amats_state.db"),
		},
		Exchange: ExchangeConfig{
			ExchangeID:  env.str("EXCHANGE_ID", "binance"),
			APIKey:      env.str("EXCHANGE_API_KEY", ""),
			APISecret:   env.str("EXCHANGE_API_SECRET", ""),
			SandboxMode: env.bool("SANDBOX_MODE", true),
			RateLimit:   env.int("RATE_LIMIT", 1000),
		},
		Trading: TradingConfig{
			InitialCapital:  env.float("INITIAL_CAPITAL", 10000.0),
			MaxPositionSize: env.float("MAX_POSITION_SIZE", 0.1),
			StopLossPct:     env.float("STOP_LOSS_PCT", 0.02),
			TakeProfitPct:   env.float("TAKE_PROFIT_PCT", 0.04),
			MaxDailyTrades:  env.int("MAX_DAILY_TRADES", 10),
		},
		ML: MLConfig{
			ModelSavePath:          env.str("MODEL_SAVE_PATH", "./models"),
			TrainingLookbackDays:   env.int("TRAINING_LOOKBACK_DAYS", 365),
			PredictionHorizonHours: env.int("PREDICTION_HORIZON", 24),
			FeatureWindowSize:      env.int("FEATURE_WINDOW_SIZE", 50),
			RetrainFrequencyHours:  env.int("RETRAIN_FREQUENCY_HOURS", 24),
		},
		Logging: LoggingConfig{
			Level:       env.str("LOG_LEVEL", "INFO"),
			File:        env.str("LOG_FILE", "./logs/amats.log"),
			MaxSizeMB:   env.int("MAX_LOG_SIZE_MB", 100),
			BackupCount: env.int("LOG_BACKUP_COUNT", 5),
		},
		Server: ServerConfig{
			Port:          env.int("HTTP_PORT", 8080),
			DevMode:       env.bool("DEV_MODE", false),
			AllowDegraded: env.bool("ALLOW_DEGRADED", false),
		},
		Backup: BackupConfig{
			Schedule:        env.str("BACKUP_SCHEDULE", ""),
			Bucket:          env.str("BACKUP_BUCKET", ""),
			Endpoint:        env.str("BACKUP_ENDPOINT", ""),
			Region:          env.str("BACKUP_REGION", "auto"),
			AccessKeyID:     env.str("BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.str("BACKUP_SECRET_ACCESS_KEY", ""),
			Prefix:          env.str("BACKUP_PREFIX", "amats-state-"),
		},
	}

	if env.err != nil {
		return nil, env.err
	}

	if err := cfg.Validate(log); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envReader reads typed environment variables and keeps the first parse failure
type envReader struct {
	err error
}

func (r *envReader) str(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		r.fail(key, value, "integer")
		return defaultValue
	}
	return intVal
}

func (r *envReader) float(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		r.fail(key, value, "number")
		return defaultValue
	}
	return floatVal
}

func (r *envReader) bool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		r.fail(key, value, "boolean")
		return defaultValue
	}
	return boolVal
}

func (r *envReader) fail(key, value, want string) {
	if r.err != nil {
		return
	}
	r.err = &ValidationError{
		Field:  key,
		Reason: "expected " + want + ", got " + strconv.Quote(value),
		Kind:   ErrInvalidValue,
	}
}
