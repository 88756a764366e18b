package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yggrune/governor/internal/capability"
	"github.com/yggrune/governor/internal/gerr"
	"github.com/yggrune/governor/internal/overlay/overlaymock"
)

func TestValidateRejectsForbiddenCapabilityAtLoad(t *testing.T) {
	registry := capability.NewDefaultRegistry()
	manifest := Manifest{
		Name: "routing-tuner", Phases: []capability.Phase{capability.PhaseOpen},
		Capabilities: []string{capability.CapExec},
	}
	err := manifest.Validate(registry)
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.CapabilityMissing) || gerr.Is(err, gerr.PolicyViolation))
}

func TestValidateAcceptsWellFormedManifest(t *testing.T) {
	registry := capability.NewDefaultRegistry()
	manifest := Manifest{
		Name: "routing-tuner", Phases: []capability.Phase{capability.PhaseAscend},
		Capabilities: []string{capability.CapExec},
	}
	require.NoError(t, manifest.Validate(registry))
}

func TestInvokeWithTimeoutReturnsResult(t *testing.T) {
	invoker := overlaymock.NewInvoker()
	manifest := Manifest{Name: "routing-tuner", TimeoutMs: 50}
	invoker.Responses[manifest.Name] = InvocationResult{Payload: map[string]any{"ok": true}}

	result, err := InvokeWithTimeout(context.Background(), invoker, manifest, Invocation{Phase: capability.PhaseAscend})
	require.NoError(t, err)
	require.Equal(t, true, result.Payload["ok"])
}

func TestInvokeWithTimeoutTranslatesDeadlineToCycleTimeout(t *testing.T) {
	invoker := overlaymock.NewInvoker()
	manifest := Manifest{Name: "routing-tuner", TimeoutMs: 1}
	invoker.Delay[manifest.Name] = true

	_, err := InvokeWithTimeout(context.Background(), invoker, manifest, Invocation{Phase: capability.PhaseAscend})
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.CycleTimeout))
}

func TestManifestTimeoutConvertsMillis(t *testing.T) {
	m := Manifest{TimeoutMs: 250}
	require.Equal(t, 250*time.Millisecond, m.Timeout())
}
