package canary

import (
	"github.com/yggrune/governor/internal/ledger"
	"github.com/yggrune/governor/internal/tuning"
)

// CooldownScanner answers whether a (module, knob) is still cooling
// down after a recent rollback, a component spec.md §4.9 names but
// leaves the exact scan undefined beyond "consults ledger entries
// matching entry_type == tuning_ir_rolled_back".
type CooldownScanner struct {
	Ledger *ledger.Ledger
	Cycles uint64 // cooldown duration, in cycles, after a rollback entry
}

// IsCoolingDown reports whether module/knob rolled back within the
// scanner's cooldown window as of currentCycle. It scans every ledger
// entry from index 0 rather than keeping separate state, since ledger
// entries are the system's only durable record of rollbacks.
func (s CooldownScanner) IsCoolingDown(module tuning.ModuleID, knob tuning.KnobName, currentCycle uint64) bool {
	if s.Ledger == nil {
		return false
	}
	for _, entry := range s.Ledger.Iter(0) {
		if entry.EntryType != ledger.CooldownEntered {
			continue
		}
		entryModule, _ := entry.Payload["module"].(string)
		entryKnob, _ := entry.Payload["knob"].(string)
		if entryModule != string(module) || entryKnob != string(knob) {
			continue
		}
		cycle, ok := cycleFromPayload(entry.Payload)
		if !ok {
			continue
		}
		if currentCycle-cycle < s.Cycles {
			return true
		}
	}
	return false
}

func cycleFromPayload(payload map[string]any) (uint64, bool) {
	switch v := payload["cycle"].(type) {
	case int64:
		return uint64(v), true
	case float64:
		return uint64(v), true
	default:
		return 0, false
	}
}
