package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// failingWriter fails every write after the first `okWrites`.
type failingWriter struct {
	mu       sync.Mutex
	okWrites int
	written  []byte
}

var errDiskFull = errors.New("no space left on device")

func (f *failingWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.okWrites <= 0 {
		return 0, errDiskFull
	}
	f.okWrites--
	f.written = append(f.written, p...)
	return len(p), nil
}

func TestOpenWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")

	if err := os.WriteFile(path, []byte("existing\n"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w, err := OpenWriter(path, true)
	if err != nil {
		t.Fatalf("OpenWriter() error = %v", err)
	}

	rec, _ := NewRecord(time.UnixMilli(1000), []byte{0x41, 0x42})
	if err := w.Write(rec); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read capture log: %v", err)
	}

	want := "existing\n1000\nAB\n4142\n"
	if string(data) != want {
		t.Errorf("capture log = %q, want %q", data, want)
	}
	if w.Count() != 1 {
		t.Errorf("Count() = %d, want 1", w.Count())
	}
}

func TestOpenWriterUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "capture.txt")
	if _, err := OpenWriter(path, false); err == nil {
		t.Fatal("OpenWriter() into a missing directory should fail")
	}
}

func TestWriterAppendFailure(t *testing.T) {
	dst := &failingWriter{okWrites: 1}
	w := NewWriter(dst, "failing")

	if err := w.Append([]string{"1\n", "A\n", "41\n"}); err != nil {
		t.Fatalf("first Append() error = %v", err)
	}

	err := w.Append([]string{"2\n", "B\n", "42\n"})
	if err == nil {
		t.Fatal("second Append() should fail")
	}

	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("error = %T, want *WriteError", err)
	}
	if !errors.Is(err, errDiskFull) {
		t.Errorf("error should wrap the destination error, got %v", err)
	}

	// Previously written bytes are untouched
	if string(dst.written) != "1\nA\n41\n" {
		t.Errorf("destination = %q, want first record only", dst.written)
	}
	if w.Count() != 1 {
		t.Errorf("Count() = %d, want 1", w.Count())
	}
}

// tornFile lands only half of a write on disk while short is set.
type tornFile struct {
	*os.File
	short bool
	err   error
}

func (f *tornFile) Write(p []byte) (int, error) {
	if !f.short {
		return f.File.Write(p)
	}
	n, err := f.File.Write(p[:len(p)/2])
	if err != nil {
		return n, err
	}
	return n, f.err
}

func TestWriterTruncatesPartialRecord(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"short write", nil, io.ErrShortWrite},
		{"write error after partial data", errDiskFull, errDiskFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "capture.txt")
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			dst := &tornFile{File: f, err: tt.err}
			w := NewWriter(dst, path)
			defer w.Close()

			ts := time.UnixMilli(1700000000000)
			first, _ := NewRecord(ts, []byte("first"))
			if err := w.Write(first); err != nil {
				t.Fatalf("first Write() error = %v", err)
			}
			before, _ := os.ReadFile(path)

			dst.short = true
			second, _ := NewRecord(ts.Add(time.Second), []byte("second"))
			err = w.Write(second)
			var werr *WriteError
			if !errors.As(err, &werr) {
				t.Fatalf("error = %v, want *WriteError", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want it to wrap %v", err, tt.wantErr)
			}

			after, _ := os.ReadFile(path)
			if string(after) != string(before) {
				t.Fatalf("log after failed append = %q, want %q", after, before)
			}

			dst.short = false
			third, _ := NewRecord(ts.Add(2*time.Second), []byte("third"))
			if err := w.Write(third); err != nil {
				t.Fatalf("third Write() error = %v", err)
			}

			data, _ := os.ReadFile(path)
			records, err := ReadRecords(strings.NewReader(string(data)))
			if err != nil {
				t.Fatalf("ReadRecords() error = %v", err)
			}
			if len(records) != 2 {
				t.Fatalf("got %d records, want 2", len(records))
			}
			if string(records[0].Raw) != "first" || string(records[1].Raw) != "third" {
				t.Errorf("records = %q, %q, want first and third", records[0].Raw, records[1].Raw)
			}
			if w.Count() != 2 {
				t.Errorf("Count() = %d, want 2", w.Count())
			}
		})
	}
}

func TestWriterAppendAfterClose(t *testing.T) {
	w := NewWriter(&strings.Builder{}, "memory")
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	err := w.Append([]string{"x\n"})
	if !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Append() after Close error = %v, want ErrWriterClosed", err)
	}
}

func TestWriterAppendEmptyGroup(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, "memory")
	if err := w.Append(nil); err != nil {
		t.Fatalf("Append(nil) error = %v", err)
	}
	if sb.Len() != 0 || w.Count() != 0 {
		t.Errorf("empty append should write nothing, got %q (count %d)", sb.String(), w.Count())
	}
}

func TestWriterConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")
	w, err := OpenWriter(path, false)
	if err != nil {
		t.Fatalf("OpenWriter() error = %v", err)
	}

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("session-%02d-%s", i, strings.Repeat("x", 200)))
			rec, _ := NewRecord(time.UnixMilli(int64(1000+i)), payload)
			if err := w.Write(rec); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open capture log: %v", err)
	}
	defer f.Close()

	records, err := ReadRecords(f)
	if err != nil {
		t.Fatalf("ReadRecords() error = %v", err)
	}
	if len(records) != n {
		t.Fatalf("got %d records, want %d", len(records), n)
	}

	seen := make(map[string]bool)
	for _, rec := range records {
		id := string(rec.Raw[:len("session-00")])
		if seen[id] {
			t.Errorf("duplicate record for %s", id)
		}
		seen[id] = true
		if EncodeHex(rec.Raw) != rec.Hex {
			t.Errorf("record %s: hex line does not match raw line", id)
		}
	}
}
