package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yggrune/governor/internal/canon"
)

func TestAppendChainsTailHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence_ledger.jsonl")

	l, err := Open(path, nil, nil)
	require.NoError(t, err)
	require.Equal(t, ModeNormal, l.Mode())

	idx0, tail0, err := l.Append(TuningIRProposed, map[string]any{"module": "routing"})
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx0)

	idx1, tail1, err := l.Append(EffectRecorded, map[string]any{"module": "routing", "value": 1.5})
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx1)
	require.NotEqual(t, tail0, tail1)

	entries := l.Iter(0)
	require.Len(t, entries, 2)
	require.Equal(t, tail1, l.TailHash())
	require.Equal(t, tail0, entries[1].PrevTailHash)
}

// TestReplayRecoversSameTailHash covers invariant 2: reopening a ledger
// replays the same chain and lands on the same tail hash.
func TestReplayRecoversSameTailHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence_ledger.jsonl")

	l1, err := Open(path, nil, nil)
	require.NoError(t, err)
	_, _, err = l1.Append(TuningIRProposed, map[string]any{"module": "routing"})
	require.NoError(t, err)
	_, wantTail, err := l1.Append(TuningIRApplied, map[string]any{"module": "routing"})
	require.NoError(t, err)

	l2, err := Open(path, nil, nil)
	require.NoError(t, err)
	require.Equal(t, ModeNormal, l2.Mode())
	require.Equal(t, wantTail, l2.TailHash())
	require.Len(t, l2.Iter(0), 2)
}

func TestAppendRejectsUnknownEntryType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence_ledger.jsonl")

	l, err := Open(path, nil, nil)
	require.NoError(t, err)
	_, _, err = l.Append(EntryType("not_a_real_type"), map[string]any{})
	require.Error(t, err)
}

// TestLegacyTypeKeyNormalized covers the design note in spec.md §9: a
// persisted line using the legacy `type` key is normalized to EntryType
// on load, not rejected.
func TestLegacyTypeKeyNormalized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence_ledger.jsonl")

	payload := map[string]any{}
	payloadHash, err := canon.Hash(payload)
	require.NoError(t, err)
	tail, err := computeTailHash(0, TuningIRProposed, 1000, payloadHash, canon.Hash32{})
	require.NoError(t, err)

	dto := struct {
		Idx          uint64         `json:"idx"`
		Type         string         `json:"type"`
		Ts           int64          `json:"ts"`
		Payload      map[string]any `json:"payload"`
		PrevTailHash string         `json:"prev_tail_hash"`
		TailHash     string         `json:"tail_hash"`
	}{Idx: 0, Type: string(TuningIRProposed), Ts: 1000, Payload: payload, PrevTailHash: canon.Hash32{}.String(), TailHash: tail.String()}
	line, err := json.Marshal(dto)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(line, '\n'), 0o644))

	l, err := Open(path, nil, nil)
	require.NoError(t, err)
	require.Equal(t, ModeNormal, l.Mode())
	entries := l.Iter(0)
	require.Len(t, entries, 1)
	require.Equal(t, TuningIRProposed, entries[0].EntryType)
}

// TestReplayDetectsTamper covers invariant 2's corruption path: a
// tampered payload desyncs the recomputed tail hash from the persisted
// one, and the ledger fails open in read-only recovery mode.
func TestReplayDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence_ledger.jsonl")

	l1, err := Open(path, nil, nil)
	require.NoError(t, err)
	_, _, err = l1.Append(TuningIRProposed, map[string]any{"module": "routing"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"routing"`, `"tampered"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	l2, err := Open(path, nil, nil)
	require.Error(t, err)
	require.Equal(t, ModeReadOnlyRecovery, l2.Mode())

	_, _, err = l2.Append(TuningIRProposed, map[string]any{"module": "other"})
	require.Error(t, err)
}
