package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNormalizeMap(t *testing.T) {
	oid := primitive.NewObjectID()
	ts := time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)

	in := map[string]any{
		"name": "stream",
		"jobscript": primitive.M{
			"variants": primitive.A{
				primitive.M{"variantName": "baseline"},
			},
			"iterations": int32(2),
		},
		"_id":     oid,
		"created": primitive.DateTime(ts.UnixMilli()),
	}

	out := normalizeMap(in)

	jobscript, ok := out["jobscript"].(map[string]any)
	require.True(t, ok, "primitive.M must become a plain map")

	variants, ok := jobscript["variants"].([]any)
	require.True(t, ok, "primitive.A must become a plain slice")
	require.Len(t, variants, 1)

	variant, ok := variants[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "baseline", variant["variantName"])

	assert.Equal(t, oid.Hex(), out["_id"])
	assert.Equal(t, ts, out["created"])
	assert.Equal(t, int32(2), jobscript["iterations"], "scalar widths pass through untouched")
}

func TestNormalizeMapNil(t *testing.T) {
	assert.Nil(t, normalizeMap(nil))
}

func TestToInt64(t *testing.T) {
	// Directory syncs store ldap attributes verbatim, so numeric ids may
	// arrive as strings.
	for _, value := range []any{int64(7), int32(7), int(7), float64(7), "7", " 7 "} {
		got, ok := toInt64(value)
		assert.True(t, ok, "%#v", value)
		assert.Equal(t, int64(7), got)
	}
	for _, value := range []any{"x", "", nil, true} {
		_, ok := toInt64(value)
		assert.False(t, ok, "%#v", value)
	}
}
