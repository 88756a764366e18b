// Package overlaymock provides a hand-rolled fake of overlay.Invoker for
// tests that need to simulate overlay subprocess behavior — success,
// failure, or a hang past the manifest timeout — without spawning a real
// subprocess.
package overlaymock

import (
	"context"

	"github.com/yggrune/governor/internal/overlay"
)

// Invoker is a fake overlay.Invoker. Responses is indexed by
// manifest.Name; a missing entry returns errNoResponse. Delay, if set,
// blocks until ctx is done before responding, letting tests exercise the
// manifest-timeout path.
type Invoker struct {
	Responses map[string]overlay.InvocationResult
	Delay     map[string]bool
}

// NewInvoker builds an empty Invoker ready for Responses/Delay to be set.
func NewInvoker() *Invoker {
	return &Invoker{
		Responses: make(map[string]overlay.InvocationResult),
		Delay:     make(map[string]bool),
	}
}

// Invoke implements overlay.Invoker.
func (m *Invoker) Invoke(ctx context.Context, manifest overlay.Manifest, _ overlay.Invocation) (overlay.InvocationResult, error) {
	if m.Delay[manifest.Name] {
		<-ctx.Done()
		return overlay.InvocationResult{}, ctx.Err()
	}
	result, ok := m.Responses[manifest.Name]
	if !ok {
		return overlay.InvocationResult{}, errNoResponse
	}
	return result, result.Err
}
