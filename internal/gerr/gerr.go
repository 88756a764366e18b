// Package gerr defines the closed set of governance error kinds (§7).
// Every fallible operation in the governor returns one of these wrapped
// with context via fmt.Errorf("...: %w", ...), never a bare string or a
// panic. The orchestrator is the only place that turns these into ledger
// entries and operator-facing reason strings.
package gerr

import "errors"

// Kind is a stable, closed error classification suitable for operator
// triage. Never add a Kind without updating spec and ledger entry_type
// mappings together.
type Kind string

const (
	SerializationFail     Kind = "SerializationFail"
	ManifestHashMismatch  Kind = "ManifestHashMismatch"
	ValidationError        Kind = "ValidationError"
	CapabilityMissing      Kind = "CapabilityMissing"
	PolicyViolation        Kind = "PolicyViolation"
	StabilizationBlocked   Kind = "StabilizationBlocked"
	EvidenceMissing        Kind = "EvidenceMissing"
	EvidenceHashMismatch   Kind = "EvidenceHashMismatch"
	BoundsViolation        Kind = "BoundsViolation"
	SignificanceGateFailed Kind = "SignificanceGateFailed"
	BudgetExceeded         Kind = "BudgetExceeded"
	LedgerAppendFailed     Kind = "LedgerAppendFailed"
	LedgerCorruptionDetected Kind = "LedgerCorruptionDetected"
	DriftExceeded          Kind = "DriftExceeded"
	CycleTimeout           Kind = "CycleTimeout"
	Cancelled              Kind = "Cancelled"
)

// Error is the concrete error type carrying a Kind, an optional subkind
// (e.g. ValidationError's subkind), and a human-readable reason.
type Error struct {
	Kind    Kind
	Subkind string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Subkind != "" {
		return string(e.Kind) + "(" + e.Subkind + "): " + e.Reason
	}
	return string(e.Kind) + ": " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf constructs an *Error with a subkind, for ValidationError's
// closed set of subkinds (e.g. "EvidenceMissing", "BoundsViolation").
func Newf(kind Kind, subkind, reason string) *Error {
	return &Error{Kind: kind, Subkind: subkind, Reason: reason}
}

// Wrap attaches kind/reason to an underlying error, preserving it via
// errors.Unwrap.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}

// ReasonString renders a short operator-facing reason string, suitable
// for a ledger tuning_ir_rejected/tuning_ir_rolled_back payload.
func ReasonString(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Error()
	}
	return err.Error()
}
