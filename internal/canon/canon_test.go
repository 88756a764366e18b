package canon

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesSortsMapKeys(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2}
	b, err := Bytes(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, string(b))
}

func TestBytesNestedAndOrderedArrays(t *testing.T) {
	v := map[string]any{
		"nodes": []any{
			map[string]any{"id": "b"},
			map[string]any{"id": "a"},
		},
	}
	b, err := Bytes(v)
	require.NoError(t, err)
	require.Equal(t, `{"nodes":[{"id":"b"},{"id":"a"}]}`, string(b))
}

func TestBytesRejectsNonFiniteFloat(t *testing.T) {
	_, err := Bytes(map[string]any{"x": math.NaN()})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSerializationFail))

	_, err = Bytes(map[string]any{"x": math.Inf(1)})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSerializationFail))
}

func TestBytesRejectsUnsupportedType(t *testing.T) {
	type weird struct{ X int }
	_, err := Bytes(map[string]any{"x": weird{X: 1}})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSerializationFail))
}

func TestHashIsPureFunctionOfCanonicalBytes(t *testing.T) {
	v1 := map[string]any{"a": 1, "b": "x"}
	v2 := map[string]any{"b": "x", "a": 1}

	h1, err := Hash(v1)
	require.NoError(t, err)
	h2, err := Hash(v2)
	require.NoError(t, err)
	require.Equal(t, h1, h2, "hash must not depend on Go map iteration order")
}

func TestCanonicalRoundTripIsStable(t *testing.T) {
	v := map[string]any{
		"n":    int64(3),
		"f":    1.5,
		"s":    "café", // already NFC
		"nest": map[string]any{"z": 1, "a": 2},
	}
	b1, err := Bytes(v)
	require.NoError(t, err)
	var decoded any
	require.NoError(t, json.Unmarshal(b1, &decoded))
	b2, err := Bytes(decoded)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestWithoutFieldBlanksProvenance(t *testing.T) {
	m := map[string]any{"a": 1, "provenance": map[string]any{"x": 1}}
	out := WithoutField(m, "provenance")
	require.NotContains(t, out, "provenance")
	require.Contains(t, out, "a")
	// original untouched
	require.Contains(t, m, "provenance")
}

func TestHash32StringRoundTrip(t *testing.T) {
	h, err := Hash(map[string]any{"a": 1})
	require.NoError(t, err)
	require.Len(t, h.String(), 64)

	data, err := h.MarshalJSON()
	require.NoError(t, err)
	var back Hash32
	require.NoError(t, back.UnmarshalJSON(data))
	require.Equal(t, h, back)
}
