package testing

import (
	"time"

	"github.com/amats/amats/internal/docstore"
)

// FixtureTime is the reference time used by fixtures
var FixtureTime = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

// NewStrategyStateFixture returns a representative strategy state document
func NewStrategyStateFixture() docstore.Document {
	return docstore.MustFromNative(map[string]interface{}{
		"strategy":  "momentum",
		"version":   3,
		"enabled":   true,
		"last_run":  FixtureTime,
		"threshold": 0.65,
		"position": map[string]interface{}{
			"symbol":      "BTC/USDT",
			"qty":         0.015,
			"entry_price": 64250.1,
			"opened_at":   FixtureTime.Add(-2 * time.Hour),
		},
		"signals":  []interface{}{"long", "hold", "hold"},
		"features": []interface{}{0.12, -0.4, 1.5},
		"notes":    nil,
	})
}

// NewTradeDocumentFixtures returns trade documents as another client would store them,
// keyed by document id
func NewTradeDocumentFixtures() map[string]docstore.Document {
	return map[string]docstore.Document{
		"fixture-1": {
			"timestamp": docstore.Time(FixtureTime),
			"symbol":    docstore.String("BTC/USDT"),
			"side":      docstore.String("buy"),
			"size":      docstore.String("0.015"),
			"price":     docstore.String("64250.10"),
			"strategy":  docstore.String("momentum"),
		},
		"fixture-2": {
			"timestamp": docstore.Time(FixtureTime.Add(time.Hour)),
			"symbol":    docstore.String("ETH/USDT"),
			"side":      docstore.String("sell"),
			"size":      docstore.Number(2),
			"price":     docstore.Number(3120.5),
			"strategy":  docstore.String("mean_reversion"),
		},
	}
}
