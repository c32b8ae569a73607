package config

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const redacted = "***"

// AsMap returns every section as a nested map keyed by section name, for diagnostics
// and export. Secrets are redacted when set.
func (c *Config) AsMap() map[string]map[string]any {
	return map[string]map[string]any{
		"database": {
			"firebase_credentials_path":    c.Store.CredentialsPath,
			"firestore_collection":         c.Store.RootCollection,
			"trade_history_subcollection":  c.Store.TradeHistoryCollection,
			"strategy_state_subcollection": c.Store.StrategyStateCollection,
			"namespace":                    c.Store.Namespace,
			"backend":                      c.Store.Backend,
			"sqlite_path":                  c.Store.SQLitePath,
		},
		"exchange": {
			"exchange_id":  c.Exchange.ExchangeID,
			"api_key":      redact(c.Exchange.APIKey),
			"api_secret":   redact(c.Exchange.APISecret),
			"sandbox_mode": c.Exchange.SandboxMode,
			"rate_limit":   c.Exchange.RateLimit,
		},
		"trading": {
			"initial_capital":   c.Trading.InitialCapital,
			"max_position_size": c.Trading.MaxPositionSize,
			"stop_loss_pct":     c.Trading.StopLossPct,
			"take_profit_pct":   c.Trading.TakeProfitPct,
			"max_daily_trades":  c.Trading.MaxDailyTrades,
		},
		"ml": {
			"model_save_path":         c.ML.ModelSavePath,
			"training_lookback_days":  c.ML.TrainingLookbackDays,
			"prediction_horizon":      c.ML.PredictionHorizonHours,
			"feature_window_size":     c.ML.FeatureWindowSize,
			"retrain_frequency_hours": c.ML.RetrainFrequencyHours,
		},
		"logging": {
			"log_level":       c.Logging.Level,
			"log_file":        c.Logging.File,
			"max_log_size_mb": c.Logging.MaxSizeMB,
			"backup_count":    c.Logging.BackupCount,
		},
		"server": {
			"port":           c.Server.Port,
			"dev_mode":       c.Server.DevMode,
			"allow_degraded": c.Server.AllowDegraded,
		},
		"backup": {
			"schedule":          c.Backup.Schedule,
			"bucket":            c.Backup.Bucket,
			"endpoint":          c.Backup.Endpoint,
			"region":            c.Backup.Region,
			"access_key_id":     c.Backup.AccessKeyID,
			"secret_access_key": redact(c.Backup.SecretAccessKey),
			"prefix":            c.Backup.Prefix,
		},
	}
}

func redact(secret string) any {
	if secret == "" {
		return nil
	}
	return redacted
}

// WriteTable renders the redacted configuration as one table per section
func (c *Config) WriteTable(w io.Writer) {
	sections := c.AsMap()
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetTitle(name)
		t.SetStyle(table.StyleRounded)

		values := sections[name]
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			v := values[k]
			if v == nil {
				v = "-"
			}
			t.AppendRow(table.Row{k, fmt.Sprint(v)})
		}

		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, WidthMin: 28, Align: text.AlignLeft},
			{Number: 2, WidthMin: 20, Align: text.AlignLeft},
		})
		t.Render()
	}
}
