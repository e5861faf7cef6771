package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/muurk/msrcap/internal/capture"
)

const bytesPerRow = 16

// RenderRecord formats one capture record as a timestamp line followed by
// offset, hex and printable columns.
func RenderRecord(index int, rec capture.Record) string {
	var b strings.Builder

	b.WriteString(RecordTimeStyle.Render(fmt.Sprintf("#%d  %s", index,
		rec.Timestamp.UTC().Format(time.RFC3339Nano))))
	b.WriteString(fmt.Sprintf("  (%d bytes)\n", len(rec.Raw)))

	for _, row := range DumpRows(rec.Raw) {
		b.WriteString("  ")
		b.WriteString(row.Offset)
		b.WriteString("  ")
		b.WriteString(RecordHexStyle.Render(row.Hex))
		b.WriteString("  ")
		b.WriteString(RecordASCIIStyle.Render(row.ASCII))
		b.WriteString("\n")
	}
	return b.String()
}

// DumpRow is one line of a hex dump.
type DumpRow struct {
	Offset string
	Hex    string
	ASCII  string
}

// DumpRows splits data into rows of 16 bytes. The hex column is padded so
// the printable column lines up on a short final row.
func DumpRows(data []byte) []DumpRow {
	rows := make([]DumpRow, 0, (len(data)+bytesPerRow-1)/bytesPerRow)
	for off := 0; off < len(data); off += bytesPerRow {
		end := off + bytesPerRow
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]

		hexParts := make([]string, bytesPerRow)
		for i := range hexParts {
			if i < len(chunk) {
				hexParts[i] = fmt.Sprintf("%02x", chunk[i])
			} else {
				hexParts[i] = "  "
			}
		}

		ascii := make([]byte, len(chunk))
		for i, c := range chunk {
			if c >= 32 && c <= 126 {
				ascii[i] = c
			} else {
				ascii[i] = '.'
			}
		}

		rows = append(rows, DumpRow{
			Offset: fmt.Sprintf("%08x", off),
			Hex:    strings.Join(hexParts, " "),
			ASCII:  string(ascii),
		})
	}
	return rows
}
