// Package ledger implements the Evidence Ledger (IOL): an append-only,
// content-addressed, tail-hash-chained record of every governance event
// (spec.md §3, §4.2). It is the only globally shared mutable resource in
// the system and is serialized behind a single writer lock.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/gerr"
	"github.com/yggrune/governor/internal/telemetry"
)

// EntryType is the closed set of ledger entries (spec.md §4.2). The
// dispatch field on disk is entry_type, never type — the spec calls out
// a `type` key as a legacy alias from the source system that must be
// normalized to entry_type on load.
type EntryType string

const (
	TuningIRProposed           EntryType = "tuning_ir_proposed"
	TuningIRApplied            EntryType = "tuning_ir_applied"
	TuningIRRejected           EntryType = "tuning_ir_rejected"
	TuningIRRolledBack         EntryType = "tuning_ir_rolled_back"
	EffectRecorded             EntryType = "effect_recorded"
	PortfolioSelected          EntryType = "portfolio_selected"
	PromotionInfluenceReported EntryType = "promotion_influence_reported"
	CooldownEntered            EntryType = "cooldown_entered"
	RollbackAttributed         EntryType = "rollback_attributed"
	ManifestRelocked           EntryType = "manifest_relocked"
)

var validEntryTypes = map[EntryType]bool{
	TuningIRProposed: true, TuningIRApplied: true, TuningIRRejected: true,
	TuningIRRolledBack: true, EffectRecorded: true, PortfolioSelected: true,
	PromotionInfluenceReported: true, CooldownEntered: true,
	RollbackAttributed: true, ManifestRelocked: true,
}

// Entry is one record in the ledger.
type Entry struct {
	Idx          uint64
	EntryType    EntryType
	Ts           int64
	Payload      map[string]any
	PrevTailHash canon.Hash32
	TailHash     canon.Hash32
}

func computeTailHash(idx uint64, entryType EntryType, ts int64, payloadHash, prevTailHash canon.Hash32) (canon.Hash32, error) {
	return canon.Hash(map[string]any{
		"idx":            int64(idx),
		"entry_type":     string(entryType),
		"ts":             ts,
		"payload_hash":   payloadHash,
		"prev_tail_hash": prevTailHash,
	})
}

// Mode reports the ledger's operating mode.
type Mode int

const (
	// ModeNormal accepts appends.
	ModeNormal Mode = iota
	// ModeReadOnlyRecovery means the persisted tail hash disagreed with
	// the recomputed replay hash at load time; the ledger refuses
	// further appends until an operator intervenes.
	ModeReadOnlyRecovery
)

func (m Mode) String() string {
	if m == ModeReadOnlyRecovery {
		return "read_only_recovery"
	}
	return "normal"
}

// Ledger is the evidence ledger handle. Pass one instance explicitly to
// every component that needs to append or read; there is no singleton.
type Ledger struct {
	mu   sync.RWMutex
	path string

	entries []Entry
	tail    canon.Hash32
	mode    Mode

	logger        telemetry.Logger
	metrics       *telemetry.Metrics
	devLogPayload bool

	nowFunc func() int64
}

func tailSidecarPath(path string) string {
	return path + ".tailhash"
}

// Open loads path (creating an empty ledger if it does not exist),
// replays the tail-hash chain, and compares it against the sidecar tail
// file. A mismatch puts the ledger into ModeReadOnlyRecovery and returns
// a LedgerCorruptionDetected error; callers at startup should treat this
// as fatal per spec.md §7.
func Open(path string, logger telemetry.Logger, metrics *telemetry.Metrics) (*Ledger, error) {
	if logger == nil {
		logger = telemetry.NewNoOp()
	}
	if metrics == nil {
		metrics = telemetry.NewNoOpMetrics()
	}
	l := &Ledger{
		path:          path,
		logger:        logger,
		metrics:       metrics,
		devLogPayload: os.Getenv("DEV_LOG_PAYLOAD") == "1",
		nowFunc:       func() int64 { return time.Now().Unix() },
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var tail canon.Hash32
	var entries []Entry
	for scanner.Scan() {
		var dto entryDTO
		if err := json.Unmarshal(scanner.Bytes(), &dto); err != nil {
			return nil, gerr.Wrap(gerr.SerializationFail, "parsing ledger line", err)
		}
		e, err := dto.toEntry()
		if err != nil {
			return nil, err
		}
		payloadHash, err := canon.Hash(e.Payload)
		if err != nil {
			return nil, gerr.Wrap(gerr.SerializationFail, "hashing replayed payload", err)
		}
		wantTail, err := computeTailHash(e.Idx, e.EntryType, e.Ts, payloadHash, tail)
		if err != nil {
			return nil, err
		}
		if wantTail != e.TailHash || e.PrevTailHash != tail {
			l.mode = ModeReadOnlyRecovery
			l.entries = entries
			l.tail = tail
			l.logger.Error("ledger tail hash mismatch on replay", zap.Uint64("idx", e.Idx))
			return l, gerr.New(gerr.LedgerCorruptionDetected,
				fmt.Sprintf("tail hash mismatch at idx %d: recomputation disagrees with persisted chain", e.Idx))
		}
		tail = e.TailHash
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scanning %s: %w", path, err)
	}

	if sidecar, err := os.ReadFile(tailSidecarPath(path)); err == nil {
		var persistedTail canon.Hash32
		if uErr := json.Unmarshal(sidecar, &persistedTail); uErr == nil && persistedTail != tail {
			l.mode = ModeReadOnlyRecovery
			l.entries = entries
			l.tail = tail
			return l, gerr.New(gerr.LedgerCorruptionDetected, "sidecar tail hash disagrees with replayed chain")
		}
	}

	l.entries = entries
	l.tail = tail
	return l, nil
}

// Mode returns the ledger's current operating mode.
func (l *Ledger) Mode() Mode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mode
}

// TailHash returns the current chain tail.
func (l *Ledger) TailHash() canon.Hash32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tail
}

// Append writes one entry to the ledger, chaining it off the current
// tail, and returns its index and new tail hash. Append is serialized
// through a single writer lock; it fails if the ledger is in read-only
// recovery mode or entryType is not in the closed set.
func (l *Ledger) Append(entryType EntryType, payload map[string]any) (uint64, canon.Hash32, error) {
	if !validEntryTypes[entryType] {
		return 0, canon.Hash32{}, gerr.New(gerr.LedgerAppendFailed, fmt.Sprintf("unknown entry_type %q", entryType))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mode == ModeReadOnlyRecovery {
		return 0, canon.Hash32{}, gerr.New(gerr.LedgerCorruptionDetected, "ledger is in read-only recovery mode")
	}

	idx := uint64(len(l.entries))
	ts := l.nowFunc()
	payloadHash, err := canon.Hash(payload)
	if err != nil {
		return 0, canon.Hash32{}, gerr.Wrap(gerr.SerializationFail, "hashing ledger payload", err)
	}
	tailHash, err := computeTailHash(idx, entryType, ts, payloadHash, l.tail)
	if err != nil {
		return 0, canon.Hash32{}, gerr.Wrap(gerr.SerializationFail, "computing tail hash", err)
	}

	entry := Entry{
		Idx: idx, EntryType: entryType, Ts: ts, Payload: payload,
		PrevTailHash: l.tail, TailHash: tailHash,
	}

	if err := l.persist(entry); err != nil {
		return 0, canon.Hash32{}, gerr.Wrap(gerr.LedgerAppendFailed, "persisting ledger entry", err)
	}

	l.entries = append(l.entries, entry)
	l.tail = tailHash
	l.metrics.LedgerAppendsTotal.Inc()

	fields := []zap.Field{
		zap.Uint64("idx", idx),
		zap.String("entry_type", string(entryType)),
		zap.String("payload_hash", payloadHash.String()),
	}
	if l.devLogPayload {
		fields = append(fields, zap.Any("payload", payload))
	}
	l.logger.Info("ledger append", fields...)

	return idx, tailHash, nil
}

func (l *Ledger) persist(e Entry) error {
	line, err := json.Marshal(entryDTOFrom(e))
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return writeSidecarAtomic(tailSidecarPath(l.path), e.TailHash)
}

func writeSidecarAtomic(path string, h canon.Hash32) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read returns the entry at idx.
func (l *Ledger) Read(idx uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if idx >= uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("ledger: index %d out of range (len=%d)", idx, len(l.entries))
	}
	return l.entries[idx], nil
}

// Iter returns every entry at or after fromIdx, in order.
func (l *Ledger) Iter(fromIdx uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if fromIdx >= uint64(len(l.entries)) {
		return nil
	}
	out := make([]Entry, len(l.entries)-int(fromIdx))
	copy(out, l.entries[fromIdx:])
	return out
}

// --- on-disk DTO -------------------------------------------------------

type entryDTO struct {
	Idx          uint64          `json:"idx"`
	EntryType    string          `json:"entry_type"`
	Type         string          `json:"type,omitempty"` // legacy alias, normalized on load
	Ts           int64           `json:"ts"`
	Payload      map[string]any  `json:"payload"`
	PrevTailHash string          `json:"prev_tail_hash"`
	TailHash     string          `json:"tail_hash"`
}

func entryDTOFrom(e Entry) entryDTO {
	return entryDTO{
		Idx: e.Idx, EntryType: string(e.EntryType), Ts: e.Ts, Payload: e.Payload,
		PrevTailHash: e.PrevTailHash.String(), TailHash: e.TailHash.String(),
	}
}

func (dto entryDTO) toEntry() (Entry, error) {
	entryType := dto.EntryType
	if entryType == "" && dto.Type != "" {
		entryType = dto.Type
	}
	if !validEntryTypes[EntryType(entryType)] {
		return Entry{}, gerr.New(gerr.SerializationFail, fmt.Sprintf("unknown entry_type %q on replay", entryType))
	}
	var prev, tail canon.Hash32
	if err := json.Unmarshal([]byte(`"`+dto.PrevTailHash+`"`), &prev); err != nil {
		return Entry{}, gerr.Wrap(gerr.SerializationFail, "parsing prev_tail_hash", err)
	}
	if err := json.Unmarshal([]byte(`"`+dto.TailHash+`"`), &tail); err != nil {
		return Entry{}, gerr.Wrap(gerr.SerializationFail, "parsing tail_hash", err)
	}
	payload := dto.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return Entry{
		Idx: dto.Idx, EntryType: EntryType(entryType), Ts: dto.Ts,
		Payload: payload, PrevTailHash: prev, TailHash: tail,
	}, nil
}
