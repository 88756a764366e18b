// Package canon implements deterministic serialization and content
// hashing for every governance artifact (manifests, tuning IRs, ledger
// entries, evidence bundles). It is the single boundary where values
// escape to or from serialized form; everything upstream of it works
// with typed Go structs, everything downstream sees only canonical
// bytes and SHA-256 hashes.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Hash32 is a SHA-256 content hash.
type Hash32 [32]byte

// String renders the hash as lowercase hex.
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

// MarshalJSON renders the hash as a hex JSON string.
func (h Hash32) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON parses a hex JSON string into the hash.
func (h *Hash32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("canon: invalid hash hex %q: %w", s, err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("canon: hash %q has wrong length %d", s, len(b))
	}
	copy(h[:], b)
	return nil
}

// ErrSerializationFail is returned when a value cannot be canonicalized:
// an unsupported type, a non-finite float, or invalid UTF-8.
var ErrSerializationFail = fmt.Errorf("canon: serialization failed")

// SerializationError wraps ErrSerializationFail with the offending detail.
type SerializationError struct {
	Detail string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("canon: serialization failed: %s", e.Detail)
}

func (e *SerializationError) Unwrap() error {
	return ErrSerializationFail
}

func fail(format string, args ...any) error {
	return &SerializationError{Detail: fmt.Sprintf(format, args...)}
}

// Bytes returns the canonical byte encoding of v. v must be built from
// nil, bool, string, int/int64/uint64, float64, []any, or map[string]any
// (the "dict-flavored" boundary representation every artifact converts
// itself to/from before crossing into canon). Mapping keys are sorted
// recursively; arrays preserve order; strings are normalized to UTF-8
// NFC; non-finite floats are rejected.
func Bytes(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the SHA-256 hash of the canonical encoding of v.
func Hash(v any) (Hash32, error) {
	b, err := Bytes(v)
	if err != nil {
		return Hash32{}, err
	}
	return HashBytes(b), nil
}

// HashBytes hashes an already-canonical byte sequence.
func HashBytes(b []byte) Hash32 {
	return sha256.Sum256(b)
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, t)
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
		return nil
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
		return nil
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
		return nil
	case float32:
		return encodeFloat(buf, float64(t))
	case float64:
		return encodeFloat(buf, t)
	case Hash32:
		return encodeString(buf, t.String())
	case []byte:
		return encodeString(buf, hex.EncodeToString(t))
	case []any:
		return encodeArray(buf, t)
	case map[string]any:
		return encodeObject(buf, t)
	default:
		return fail("unsupported type %T", v)
	}
}

func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fail("invalid UTF-8 string %q", s)
	}
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	encoded, err := json.Marshal(s)
	if err != nil {
		return fail("invalid UTF-8 string: %v", err)
	}
	buf.Write(encoded)
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fail("non-finite float %v", f)
	}
	// Shortest round-trippable decimal form of the IEEE 754 binary64 value.
	s := strconv.FormatFloat(f, 'g', -1, 64)
	buf.WriteString(s)
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// Canonical is implemented by every artifact that can be hash-locked. It
// returns the artifact's dict-flavored representation for canonicalization.
type Canonical interface {
	ToCanonical() map[string]any
}

// HashArtifact canonicalizes and hashes a Canonical artifact.
func HashArtifact(a Canonical) (Hash32, error) {
	return Hash(a.ToCanonical())
}

// WithoutField returns a shallow copy of m with key removed, used to blank
// a provenance subfield before hashing.
func WithoutField(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == key {
			continue
		}
		out[k] = v
	}
	return out
}
