package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrTruncatedRecord is returned when the log ends in the middle of a record.
var ErrTruncatedRecord = errors.New("truncated capture record")

// ReadRecords parses a capture log back into records.
//
// The raw line may itself contain newlines, so a record ends at the first line
// after the timestamp that is valid hex and decodes to the raw lines seen so far.
func ReadRecords(r io.Reader) ([]Record, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	var records []Record
	i := 0
	for i < len(lines) {
		ms, err := strconv.ParseInt(lines[i], 10, 64)
		if err != nil {
			return records, fmt.Errorf("line %d: expected timestamp, got %q", i+1, truncate(lines[i], 32))
		}

		end := -1
		for j := i + 2; j < len(lines); j++ {
			raw := []byte(strings.Join(lines[i+1:j], "\n"))
			decoded, err := DecodeHex(lines[j])
			if err == nil && len(decoded) > 0 && bytes.Equal(decoded, raw) {
				records = append(records, Record{
					Timestamp: time.UnixMilli(ms),
					Raw:       raw,
					Hex:       lines[j],
				})
				end = j
				break
			}
		}
		if end < 0 {
			return records, fmt.Errorf("record at line %d: %w", i+1, ErrTruncatedRecord)
		}
		i = end + 1
	}

	return records, nil
}

// readLines splits on '\n' only; '\r' is payload and must survive.
func readLines(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	var lines []string
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if strings.HasSuffix(line, "\n") {
				line = line[:len(line)-1]
			} else if err == io.EOF {
				return lines, fmt.Errorf("missing final newline: %w", ErrTruncatedRecord)
			}
			lines = append(lines, line)
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read capture log: %w", err)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
