// Package effects implements the Effects Store (C6, spec.md §4.6): online
// Welford statistics of observed tuning effects, keyed by
// (module, knob, proposed value, baseline signature).
package effects

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/yggrune/governor/internal/canon"
)

// Key identifies one effect series. Value and BaselineSignature are
// carried as canonical-hashable strings so the key is comparable and
// stable across Int/Float/Bool/Enum/DurationMs knob kinds.
type Key struct {
	Module            string
	Knob              string
	Value             string
	BaselineSignature canon.Hash32
}

// ValueKey renders a knob value (of any supported kind) into the stable
// canonical string used as Key.Value. Every writer and reader of the
// effects store must derive Key.Value through this function so that the
// same logical value always hashes to the same series regardless of
// whether it arrives as int/int32/int64 or any other Go numeric alias.
func ValueKey(v any) string {
	b, err := canon.Bytes(normalizeValue(v))
	if err != nil {
		return ""
	}
	return string(b)
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	default:
		return v
	}
}

// RunningStats is Welford's online algorithm's accumulator.
type RunningStats struct {
	N    uint64
	Mean float64
	M2   float64
}

// Variance returns the sample variance, or 0 if fewer than two samples
// have been observed.
func (r RunningStats) Variance() float64 {
	if r.N < 2 {
		return 0
	}
	return r.M2 / float64(r.N-1)
}

// Stderr returns the standard error of the mean, or 0 if fewer than two
// samples have been observed.
func (r RunningStats) Stderr() float64 {
	if r.N < 2 {
		return 0
	}
	return math.Sqrt(r.Variance() / float64(r.N))
}

func (r RunningStats) update(x float64) RunningStats {
	n := r.N + 1
	delta := x - r.Mean
	mean := r.Mean + delta/float64(n)
	m2 := r.M2 + delta*(x-mean)
	return RunningStats{N: n, Mean: mean, M2: m2}
}

// Store holds every (module, knob, value, baseline_signature) series.
type Store struct {
	mu   sync.RWMutex
	path string
	data map[Key]RunningStats
}

// Open loads the store from path. A missing or empty file yields an
// empty store; this must never fail, per spec.md §4.6.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[Key]RunningStats)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	var dtos []entryDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, err
	}
	for _, d := range dtos {
		var sig canon.Hash32
		if err := json.Unmarshal([]byte(`"`+d.BaselineSignature+`"`), &sig); err != nil {
			return nil, err
		}
		key := Key{Module: d.Module, Knob: d.Knob, Value: d.Value, BaselineSignature: sig}
		s.data[key] = RunningStats{N: d.N, Mean: d.Mean, M2: d.M2}
	}
	return s, nil
}

// Get returns the accumulated statistics for key.
func (s *Store) Get(key Key) RunningStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key]
}

// Keys returns every key with at least one recorded sample, in
// unspecified order. Nothing in the optimizer path calls it; candidate
// values come from a portfolio.CandidateSource.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// Record folds one observed sample x into key's running statistics and
// persists the store atomically. Called once per observed effect, at
// cycle-commit time (C9).
func (s *Store) Record(key Key, x float64) (RunningStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := s.data[key].update(x)
	s.data[key] = updated
	if err := s.persistLocked(); err != nil {
		return RunningStats{}, err
	}
	return updated, nil
}

func (s *Store) persistLocked() error {
	dtos := make([]entryDTO, 0, len(s.data))
	for k, v := range s.data {
		dtos = append(dtos, entryDTO{
			Module: k.Module, Knob: k.Knob, Value: k.Value,
			BaselineSignature: k.BaselineSignature.String(),
			N:                 v.N, Mean: v.Mean, M2: v.M2,
		})
	}
	sort.Slice(dtos, func(i, j int) bool {
		a, b := dtos[i], dtos[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Knob != b.Knob {
			return a.Knob < b.Knob
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.BaselineSignature < b.BaselineSignature
	})

	data, err := json.MarshalIndent(dtos, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

type entryDTO struct {
	Module            string  `json:"module"`
	Knob              string  `json:"knob"`
	Value             string  `json:"value"`
	BaselineSignature string  `json:"baseline_signature"`
	N                 uint64  `json:"n"`
	Mean              float64 `json:"mean"`
	M2                float64 `json:"m2"`
}
