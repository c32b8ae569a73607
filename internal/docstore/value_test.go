package docstore

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf_Numbers(t *testing.T) {
	inputs := []any{int(3), int8(3), int16(3), int32(3), int64(3), uint(3), uint8(3), uint16(3), uint32(3), uint64(3), float32(3), float64(3), json.Number("3")}

	for _, in := range inputs {
		v, err := ValueOf(in)
		require.NoError(t, err, "%T", in)

		n, ok := v.AsNumber()
		assert.True(t, ok, "%T", in)
		assert.Equal(t, 3.0, n, "%T", in)
	}
}

func TestValueOf_Nested(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	doc, err := FromNative(map[string]any{
		"positions": []any{
			map[string]any{"symbol": "BTC/USDT", "size": 0.5},
		},
		"tags":       []string{"trend", "ml"},
		"weights":    map[string]float64{"rsi": 0.3},
		"active":     true,
		"note":       nil,
		"updated_at": ts,
		"raw":        map[any]any{"k": "v"},
	})
	require.NoError(t, err)

	positions, ok := doc["positions"].AsList()
	require.True(t, ok)
	require.Len(t, positions, 1)
	pos, ok := positions[0].AsMap()
	require.True(t, ok)
	assert.Equal(t, String("BTC/USDT"), pos["symbol"])

	tags, ok := doc["tags"].AsList()
	require.True(t, ok)
	assert.Len(t, tags, 2)

	weights, ok := doc["weights"].AsMap()
	require.True(t, ok)
	assert.True(t, weights["rsi"].Equal(Number(0.3)))

	assert.True(t, doc["note"].IsNull())

	got, ok := doc["updated_at"].AsTime()
	require.True(t, ok)
	assert.True(t, got.Equal(ts))
	assert.Equal(t, time.UTC, got.Location())

	raw, ok := doc["raw"].AsMap()
	require.True(t, ok)
	assert.True(t, raw["k"].Equal(String("v")))
}

func TestValueOf_Unsupported(t *testing.T) {
	_, err := ValueOf(struct{}{})
	assert.Error(t, err)

	_, err = ValueOf(map[int]string{1: "a"})
	assert.Error(t, err)

	_, err = FromNative(map[string]any{"ch": make(chan int)})
	assert.ErrorContains(t, err, `field "ch"`)
}

func TestDocument_NativeRoundTrip(t *testing.T) {
	doc := Document{
		"pnl":      Number(-12.5),
		"model":    String("v3"),
		"enabled":  Bool(false),
		"history":  List(Number(1), Number(2)),
		"position": Map(Document{"qty": Number(0.25)}),
	}

	back, err := FromNative(doc.Native())
	require.NoError(t, err)
	assert.True(t, doc.Equal(back))
}

func TestDocument_Equal(t *testing.T) {
	a := Document{"a": Number(1)}
	assert.True(t, a.Equal(Document{"a": Number(1)}))
	assert.False(t, a.Equal(Document{"a": String("1")}))
	assert.False(t, a.Equal(Document{"a": Number(1), "b": Number(2)}))
	assert.False(t, a.Equal(Document{"b": Number(1)}))
	assert.False(t, List(Number(1)).Equal(List(Number(1), Number(2))))
}

func TestDocument_CloneAndKeys(t *testing.T) {
	a := Document{"b": Number(2), "a": Number(1)}
	c := a.Clone()
	c["z"] = Null()

	assert.Len(t, a, 2)
	assert.Equal(t, []string{"a", "b"}, a.Keys())
}

func TestValue_Compare(t *testing.T) {
	cmp, ok := Number(1).Compare(Number(2))
	assert.True(t, ok)
	assert.Equal(t, -1, cmp)

	cmp, ok = String("b").Compare(String("a"))
	assert.True(t, ok)
	assert.Equal(t, 1, cmp)

	t0 := time.Now()
	cmp, ok = Time(t0).Compare(Time(t0))
	assert.True(t, ok)
	assert.Equal(t, 0, cmp)

	cmp, ok = Bool(false).Compare(Bool(true))
	assert.True(t, ok)
	assert.Equal(t, -1, cmp)

	_, ok = Number(1).Compare(String("1"))
	assert.False(t, ok)
	_, ok = Map(nil).Compare(Map(nil))
	assert.False(t, ok)
}

func TestValue_JSON(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(`{"a":1,"b":"x","c":[true,null],"d":{"e":2.5}}`), &doc))

	assert.True(t, doc["a"].Equal(Number(1)))
	assert.True(t, doc["b"].Equal(String("x")))
	assert.True(t, doc["c"].Equal(List(Bool(true), Null())))
	assert.True(t, doc["d"].Equal(Map(Document{"e": Number(2.5)})))

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":"x","c":[true,null],"d":{"e":2.5}}`, string(out))

	_, err = json.Marshal(Document{"bad": Number(math.NaN())})
	assert.Error(t, err)
}

func TestFilter_Matches(t *testing.T) {
	doc := Document{"symbol": String("ETH"), "size": Number(2)}

	assert.True(t, Filter{Field: "symbol", Op: OpEqual, Value: String("ETH")}.Matches(doc))
	assert.False(t, Filter{Field: "symbol", Op: OpEqual, Value: String("BTC")}.Matches(doc))
	assert.True(t, Filter{Field: "size", Op: OpGreaterEqual, Value: Number(2)}.Matches(doc))
	assert.True(t, Filter{Field: "size", Op: OpLess, Value: Number(3)}.Matches(doc))
	assert.False(t, Filter{Field: "size", Op: OpGreater, Value: Number(2)}.Matches(doc))
	assert.True(t, Filter{Field: "size", Op: OpLessEqual, Value: Number(2)}.Matches(doc))
	assert.False(t, Filter{Field: "size", Op: OpLess, Value: String("3")}.Matches(doc))
	assert.False(t, Filter{Field: "missing", Op: OpEqual, Value: Null()}.Matches(doc))
}

func TestQuery_Validate(t *testing.T) {
	assert.NoError(t, Query{}.Validate())
	assert.Error(t, Query{Filters: []Filter{{Field: "a", Op: "!="}}}.Validate())
	assert.Error(t, Query{Filters: []Filter{{Op: OpEqual}}}.Validate())
	assert.Error(t, Query{Limit: -1}.Validate())
}
