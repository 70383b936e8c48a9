// Package checksum produces the canonical byte form of a billing record and
// the digest stored alongside every archived blob. Migration and retrieval
// must both go through this package or archived data becomes unverifiable.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
)

// DigestLength is the length of a hex encoded sha256 digest.
const DigestLength = sha256.Size * 2

var (
	ErrUnsupportedValue = errors.New("unsupported_value")
	ErrChecksumMismatch = errors.New("checksum_mismatch")
)

// Canonicalize serializes a record with sorted keys at every level, compact
// separators and no HTML escaping.
func Canonicalize(record recorddomain.Record) ([]byte, error) {
	if record.Fields == nil {
		return nil, fmt.Errorf("%w: record has no fields", ErrUnsupportedValue)
	}
	return Marshal(record.Fields)
}

// Marshal produces the canonical JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Digest returns the lowercase hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sum canonicalizes the record and returns the bytes with their digest.
func Sum(record recorddomain.Record) ([]byte, string, error) {
	canonical, err := Canonicalize(record)
	if err != nil {
		return nil, "", err
	}
	return canonical, Digest(canonical), nil
}

// Verify recomputes the digest of data and compares it with expected.
func Verify(data []byte, expected string) error {
	if got := Digest(data); got != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, got)
	}
	return nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		return encodeString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case json.Number:
		if _, err := strconv.ParseFloat(val.String(), 64); err != nil {
			return fmt.Errorf("%w: malformed number %q", ErrUnsupportedValue, val.String())
		}
		buf.WriteString(val.String())
	case float64:
		return encodeFloat(buf, val)
	case float32:
		return encodeFloat(buf, float64(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case time.Time:
		return encodeString(buf, val.UTC().Format(time.RFC3339Nano))
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return encode(buf, items)
	case map[string]any:
		return encodeObject(buf, val)
	case map[string]string:
		obj := make(map[string]any, len(val))
		for k, s := range val {
			obj[k] = s
		}
		return encodeObject(buf, obj)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
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
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := encode(buf, obj[k]); err != nil {
			return fmt.Errorf("%q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: non-finite number", ErrUnsupportedValue)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}
