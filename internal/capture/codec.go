package capture

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Record is one captured inbound read.
type Record struct {
	Timestamp time.Time
	Raw       []byte // Exactly the bytes of one read, never re-chunked
	Hex       string
}

// NewRecord builds a record for payload, or returns ok=false when the payload
// carries nothing worth persisting (empty or all-zero).
// The payload is copied so the caller may reuse its read buffer.
func NewRecord(ts time.Time, payload []byte) (rec Record, ok bool) {
	if IsAllZero(payload) {
		return Record{}, false
	}
	raw := make([]byte, len(payload))
	copy(raw, payload)
	return Record{
		Timestamp: ts,
		Raw:       raw,
		Hex:       EncodeHex(raw),
	}, true
}

// Lines returns the record in its persisted form.
func (r Record) Lines() []string {
	return FormatRecord(r.Timestamp, r.Raw, r.Hex)
}

// EncodeHex maps each byte to two lower-case hex digits, in input order.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex is the inverse of EncodeHex.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex string (%d chars)", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return b, nil
}

// IsAllZero reports whether every byte of b is zero.
// An empty slice counts as all-zero: keep-alive and no-op traffic is dropped.
func IsAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// FormatRecord renders a capture as three newline-terminated lines:
// the timestamp in Unix milliseconds, the raw payload, and the hex payload.
func FormatRecord(ts time.Time, raw []byte, hexEncoding string) []string {
	return []string{
		strconv.FormatInt(ts.UnixMilli(), 10) + "\n",
		string(raw) + "\n",
		hexEncoding + "\n",
	}
}
