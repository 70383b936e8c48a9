package checksum

import (
	"encoding/json"
	"math"
	"regexp"
	"testing"

	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

func mustRecord(t *testing.T, fields map[string]any) recorddomain.Record {
	t.Helper()
	rec, err := recorddomain.NewRecord(fields)
	require.NoError(t, err)
	return rec
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	rec := mustRecord(t, map[string]any{
		"id":          "123",
		"customer_id": "cust-1",
		"created_at":  "2025-01-01T00:00:00Z",
		"amount":      100,
		"lines": []any{
			map[string]any{"z": 1, "a": "x<y"},
		},
	})

	got, err := Canonicalize(rec)
	require.NoError(t, err)
	assert.Equal(t,
		`{"amount":100,"created_at":"2025-01-01T00:00:00Z","customer_id":"cust-1","id":"123","lines":[{"a":"x<y","z":1}]}`,
		string(got),
	)
}

func TestCanonicalizeStableUnderInsertionOrder(t *testing.T) {
	keys := []string{"id", "customer_id", "created_at", "amount", "currency", "status"}
	values := map[string]any{
		"id":          "inv-9",
		"customer_id": "cust-7",
		"created_at":  "2024-05-01T10:00:00Z",
		"amount":      json.Number("1999.95"),
		"currency":    "USD",
		"status":      "paid",
	}

	var want []byte
	for shift := 0; shift < len(keys); shift++ {
		fields := make(map[string]any, len(keys))
		for i := range keys {
			k := keys[(i+shift)%len(keys)]
			fields[k] = values[k]
		}
		got, err := Canonicalize(mustRecord(t, fields))
		require.NoError(t, err)
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, string(want), string(got))
	}
}

func TestCanonicalizeRoundTripsParsedRecord(t *testing.T) {
	src := []byte(`{"id":"123","amount":100.50,"customer_id":"cust-1","created_at":"2025-01-01T00:00:00Z","meta":{"b":null,"a":true}}`)
	rec, err := recorddomain.ParseRecord(src)
	require.NoError(t, err)

	first, err := Canonicalize(rec)
	require.NoError(t, err)

	reparsed, err := recorddomain.ParseRecord(first)
	require.NoError(t, err)
	second, err := Canonicalize(reparsed)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), `"amount":100.50`)
}

func TestDigestIsLowercaseHex(t *testing.T) {
	data, digest, err := Sum(mustRecord(t, map[string]any{
		"id":          "123",
		"customer_id": "cust-1",
		"created_at":  "2025-01-01T00:00:00Z",
		"amount":      100,
	}))
	require.NoError(t, err)

	assert.Len(t, digest, DigestLength)
	assert.Regexp(t, hexDigest, digest)
	assert.Equal(t, digest, Digest(data))
}

func TestDigestDetectsTampering(t *testing.T) {
	original := mustRecord(t, map[string]any{
		"id": "123", "customer_id": "cust-1", "created_at": "2025-01-01T00:00:00Z", "amount": 100,
	})
	modified := mustRecord(t, map[string]any{
		"id": "123", "customer_id": "cust-1", "created_at": "2025-01-01T00:00:00Z", "amount": 200,
	})

	_, a, err := Sum(original)
	require.NoError(t, err)
	_, b, err := Sum(modified)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestVerify(t *testing.T) {
	data := []byte(`{"id":"1"}`)
	require.NoError(t, Verify(data, Digest(data)))

	flipped := append([]byte(nil), data...)
	flipped[2] ^= 0x01
	err := Verify(flipped, Digest(data))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCanonicalizeRejectsUnsupportedValues(t *testing.T) {
	cases := []struct {
		name  string
		value any
	}{
		{"channel", make(chan int)},
		{"func", func() {}},
		{"nan", math.NaN()},
		{"inf", math.Inf(1)},
		{"complex", complex(1, 2)},
		{"int keyed map", map[int]string{1: "a"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := mustRecord(t, map[string]any{
				"id": "1", "customer_id": "c", "created_at": "2025-01-01T00:00:00Z", "bad": tc.value,
			})
			_, err := Canonicalize(rec)
			assert.ErrorIs(t, err, ErrUnsupportedValue)
		})
	}
}
