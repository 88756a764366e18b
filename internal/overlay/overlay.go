// Package overlay defines the consumed-only surface of overlay
// invocation (spec.md §5, §6): the manifest subset the governance core
// reads before invoking an overlay subprocess, and the invoker interface
// the orchestrator calls through. Overlay business logic, the subprocess
// sandbox, and the HTTP entrypoint are explicitly out of scope
// (spec.md §1) — this package only models the fields and call shape the
// core depends on.
package overlay

import (
	"context"
	"time"

	"github.com/yggrune/governor/internal/capability"
	"github.com/yggrune/governor/internal/gerr"
)

// Manifest is the subset of an overlay manifest the core consumes:
// { name, version, phases, capabilities, entrypoint, timeout_ms,
// capabilities_required? }. Everything else an overlay declares is the
// host bus's concern, not this plane's.
type Manifest struct {
	Name                 string
	Version              string
	Phases               []capability.Phase
	Capabilities         []string
	Entrypoint           string
	TimeoutMs            uint64
	CapabilitiesRequired []string
}

// Validate rejects a manifest declaring a capability forbidden for any
// phase it runs in (spec.md §6: "a manifest declaring a forbidden
// capability for its phase is rejected at load").
func (m Manifest) Validate(registry *capability.Registry) error {
	for _, phase := range m.Phases {
		if err := registry.CheckManifest([]capability.Phase{phase}, m.Capabilities); err != nil {
			return err
		}
	}
	return nil
}

// Timeout returns the manifest's declared timeout as a time.Duration.
func (m Manifest) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// Invocation is the JSON payload handed to the overlay subprocess on
// stdin.
type Invocation struct {
	Phase   capability.Phase
	Payload map[string]any
}

// InvocationResult is the JSON payload the core expects back on stdout.
type InvocationResult struct {
	Payload map[string]any
	Err     error
}

// Invoker runs one overlay subprocess to completion, or returns an error
// if it does not respond within the manifest's declared timeout. The
// subprocess sandbox itself is an external collaborator (spec.md §1);
// this interface is the only shape the core depends on.
type Invoker interface {
	Invoke(ctx context.Context, manifest Manifest, invocation Invocation) (InvocationResult, error)
}

// InvokeWithTimeout wraps an Invoker call with the manifest's declared
// timeout, translating a context deadline into gerr.CycleTimeout so
// callers can treat it the same way the canary engine treats a state
// timeout.
func InvokeWithTimeout(ctx context.Context, invoker Invoker, manifest Manifest, invocation Invocation) (InvocationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, manifest.Timeout())
	defer cancel()

	result, err := invoker.Invoke(ctx, manifest, invocation)
	if err != nil {
		if ctx.Err() != nil {
			return InvocationResult{}, gerr.Wrap(gerr.CycleTimeout, "overlay invocation exceeded manifest timeout_ms", err)
		}
		return InvocationResult{}, err
	}
	return result, nil
}
