// Package capture turns inbound payloads into capture records and persists them.
//
// # Record Format
//
// Every persisted record is three consecutive lines in the capture log:
//
//	1700000000123
//	AB
//	4142
//
// The first line is the capture time in Unix milliseconds, the second the raw
// payload exactly as received (it may contain any byte, including newlines),
// and the third the payload hex-encoded in lower case with no separators.
//
// # Filtering
//
// Payloads that are empty or consist only of zero bytes are never recorded.
// Peers use them as keep-alives and they carry no protocol content. See
// IsAllZero and NewRecord.
//
// # Concurrency
//
// A single Writer is shared by every connection. Append takes the writer's lock
// for the whole group of lines, so records from different connections may land
// in any order but are never interleaved with each other.
//
//	w, err := capture.OpenWriter("etqw-msr-log.txt", false)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	if rec, ok := capture.NewRecord(time.Now(), payload); ok {
//	    if err := w.Write(rec); err != nil {
//	        // record lost; the connection carries on
//	    }
//	}
package capture
