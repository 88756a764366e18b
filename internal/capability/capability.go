// Package capability implements the Capability Registry & Phase Policy
// gate (spec.md §4.4): every overlay invocation is classified into one
// of five phases, each with a declarative allow/deny capability set.
// Grounded on the teacher's utils/set/set.go Set[T] shape, reused here
// as internal/collections.Set[string].
package capability

import (
	"fmt"

	"github.com/yggrune/governor/internal/collections"
	"github.com/yggrune/governor/internal/gerr"
)

// Phase is one of the five overlay-invocation phases.
type Phase string

const (
	PhaseOpen   Phase = "OPEN"
	PhaseAlign  Phase = "ALIGN"
	PhaseAscend Phase = "ASCEND"
	PhaseClear  Phase = "CLEAR"
	PhaseSeal   Phase = "SEAL"
)

var validPhases = map[Phase]bool{
	PhaseOpen: true, PhaseAlign: true, PhaseAscend: true, PhaseClear: true, PhaseSeal: true,
}

// Valid reports whether p is one of the five declared phases.
func (p Phase) Valid() bool {
	return validPhases[p]
}

// Well-known capability names. Modules are free to declare others; only
// these participate in the built-in phase restrictions below.
const (
	CapExec          = "exec"
	CapExternalIO    = "external_io"
	CapWrite         = "write"
	CapFinalizeWrite = "finalize_write"
)

// PhasePolicy declares, for one phase, which capabilities are permitted,
// which are forbidden, and which are required. Forbidden dominates
// allowed when a capability name appears in both (misconfiguration,
// not a normal case).
type PhasePolicy struct {
	Allowed   collections.Set[string]
	Forbidden collections.Set[string]
	Required  collections.Set[string]
}

// Registry holds the phase policy table. There is no package-level
// singleton; callers construct one (normally via NewDefaultRegistry)
// and pass it explicitly.
type Registry struct {
	policies map[Phase]PhasePolicy
}

// NewDefaultRegistry builds the registry spec.md §4.4 describes: ASCEND
// is the only phase permitting (and requiring) exec; CLEAR forbids
// external_io; SEAL forbids every write capability except finalize_write.
func NewDefaultRegistry() *Registry {
	return &Registry{policies: map[Phase]PhasePolicy{
		PhaseOpen: {
			Allowed:   collections.Of[string](),
			Forbidden: collections.Of(CapExec),
			Required:  collections.Of[string](),
		},
		PhaseAlign: {
			Allowed:   collections.Of(CapExternalIO, CapWrite),
			Forbidden: collections.Of(CapExec),
			Required:  collections.Of[string](),
		},
		PhaseAscend: {
			Allowed:   collections.Of(CapExec, CapExternalIO, CapWrite, CapFinalizeWrite),
			Forbidden: collections.Of[string](),
			Required:  collections.Of(CapExec),
		},
		PhaseClear: {
			Allowed:   collections.Of(CapWrite, CapFinalizeWrite),
			Forbidden: collections.Of(CapExec, CapExternalIO),
			Required:  collections.Of[string](),
		},
		PhaseSeal: {
			Allowed:   collections.Of(CapFinalizeWrite),
			Forbidden: collections.Of(CapExec, CapExternalIO, CapWrite),
			Required:  collections.Of[string](),
		},
	}}
}

// Policy returns the policy registered for phase.
func (r *Registry) Policy(phase Phase) (PhasePolicy, bool) {
	p, ok := r.policies[phase]
	return p, ok
}

// Set installs or replaces the policy for phase. Used by deployments
// that tighten or relax the default table.
func (r *Registry) Set(phase Phase, policy PhasePolicy) {
	r.policies[phase] = policy
}

// CheckInvocation gates one overlay invocation declaring capabilities in
// phase. It is the single enforcement point used both at overlay
// manifest load time (once per declared phase) and at dispatch time.
func (r *Registry) CheckInvocation(phase Phase, declared []string) error {
	if !phase.Valid() {
		return gerr.New(gerr.ValidationError, fmt.Sprintf("unknown phase %q", phase))
	}
	policy, ok := r.Policy(phase)
	if !ok {
		return gerr.New(gerr.ValidationError, fmt.Sprintf("no policy registered for phase %q", phase))
	}

	for _, c := range declared {
		if policy.Forbidden.Contains(c) {
			return gerr.New(gerr.PolicyViolation, fmt.Sprintf("capability %q is forbidden in phase %s", c, phase))
		}
		if !policy.Allowed.Contains(c) {
			return gerr.New(gerr.PolicyViolation, fmt.Sprintf("capability %q is not permitted in phase %s", c, phase))
		}
	}

	declaredSet := collections.Of(declared...)
	for _, req := range policy.Required.List() {
		if !declaredSet.Contains(req) {
			return gerr.New(gerr.CapabilityMissing, fmt.Sprintf("phase %s requires capability %q", phase, req))
		}
	}
	return nil
}

// CheckManifest validates every phase a manifest declares against its
// declared capability set, per spec.md §4.7's "a manifest declaring a
// forbidden capability for its phase is rejected at load."
func (r *Registry) CheckManifest(phases []Phase, capabilities []string) error {
	for _, ph := range phases {
		if err := r.CheckInvocation(ph, capabilities); err != nil {
			return err
		}
	}
	return nil
}
