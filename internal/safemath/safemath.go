// Package safemath provides overflow-checked arithmetic, grounded on
// utils/math/safe_math.go in the teacher. The portfolio optimizer's
// budget-greedy selection uses Add64 to accumulate the per-cycle and
// per-module change counters so a pathological candidate pool cannot
// wrap a uint64 counter silently instead of tripping the budget check.
package safemath

import (
	"errors"
	"math"
)

var (
	ErrOverflow  = errors.New("safemath: overflow")
	ErrUnderflow = errors.New("safemath: underflow")
)

// Add64 returns a + b, detecting overflow.
func Add64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub64 returns a - b, detecting underflow.
func Sub64(a, b uint64) (uint64, error) {
	if a < b {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// Max returns the larger of a and b.
func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
