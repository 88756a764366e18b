package effects

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yggrune/governor/internal/canon"
)

func TestOpenMissingFileYieldsEmptyStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "effects_store.json"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), s.Get(Key{Module: "routing", Knob: "batch"}).N)
}

// TestWelfordMatchesTwoPassMean covers testable property 4: the
// post-update mean matches the arithmetic mean within 1 ulp per sample.
func TestWelfordMatchesTwoPassMean(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "effects_store.json"))
	require.NoError(t, err)

	samples := []float64{-10.0, -11.0, -13.0, -12.0, -14.0}
	key := Key{Module: "routing", Knob: "batch", Value: "4"}
	var last RunningStats
	for _, x := range samples {
		last, err = s.Record(key, x)
		require.NoError(t, err)
	}

	var sum float64
	for _, x := range samples {
		sum += x
	}
	want := sum / float64(len(samples))
	require.InDelta(t, want, last.Mean, 1e-9)
	require.Equal(t, uint64(len(samples)), last.N)

	var sqDiff float64
	for _, x := range samples {
		sqDiff += (x - want) * (x - want)
	}
	wantVariance := sqDiff / float64(len(samples)-1)
	require.InDelta(t, wantVariance, last.Variance(), 1e-9)
	require.InDelta(t, math.Sqrt(wantVariance/float64(len(samples))), last.Stderr(), 1e-9)
}

func TestSingleSampleHasZeroVarianceAndStderr(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "effects_store.json"))
	require.NoError(t, err)
	stats, err := s.Record(Key{Module: "routing", Knob: "batch", Value: "4"}, 5.0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.N)
	require.Equal(t, 0.0, stats.Variance())
	require.Equal(t, 0.0, stats.Stderr())
}

func TestKeysAreDistinguishedByBaselineSignature(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "effects_store.json"))
	require.NoError(t, err)

	sigA, err := canon.Hash(map[string]any{"other_knob": "1"})
	require.NoError(t, err)
	sigB, err := canon.Hash(map[string]any{"other_knob": "2"})
	require.NoError(t, err)

	_, err = s.Record(Key{Module: "routing", Knob: "batch", Value: "4", BaselineSignature: sigA}, 1.0)
	require.NoError(t, err)
	_, err = s.Record(Key{Module: "routing", Knob: "batch", Value: "4", BaselineSignature: sigB}, 100.0)
	require.NoError(t, err)

	require.Equal(t, uint64(1), s.Get(Key{Module: "routing", Knob: "batch", Value: "4", BaselineSignature: sigA}).N)
	require.InDelta(t, 1.0, s.Get(Key{Module: "routing", Knob: "batch", Value: "4", BaselineSignature: sigA}).Mean, 1e-9)
	require.InDelta(t, 100.0, s.Get(Key{Module: "routing", Knob: "batch", Value: "4", BaselineSignature: sigB}).Mean, 1e-9)
}

func TestStorePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "effects_store.json")
	s1, err := Open(path)
	require.NoError(t, err)
	key := Key{Module: "routing", Knob: "batch", Value: "4"}
	_, err = s1.Record(key, -12.0)
	require.NoError(t, err)
	_, err = s1.Record(key, -11.0)
	require.NoError(t, err)

	s2, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, uint64(2), s2.Get(key).N)
}
