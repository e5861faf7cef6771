package main

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/muurk/msrcap/internal/server"
	"github.com/muurk/msrcap/internal/ui"
)

// captureStats counts server events for the summary printed on exit.
type captureStats struct {
	admitted  atomic.Int64
	rejected  atomic.Int64
	records   atomic.Int64
	discarded atomic.Int64
	failures  atomic.Int64
	bytes     atomic.Int64
}

func (c *captureStats) Emit(e server.Event) {
	switch e.Kind {
	case server.EventConnectionAdmitted:
		c.admitted.Add(1)
	case server.EventConnectionRejected:
		c.rejected.Add(1)
	case server.EventCaptureRecorded:
		c.records.Add(1)
		c.bytes.Add(int64(e.PayloadLen))
	case server.EventCaptureDiscarded:
		c.discarded.Add(1)
	case server.EventCaptureWriteFailed:
		c.failures.Add(1)
	}
}

func (c *captureStats) fields(uptime time.Duration) []ui.Field {
	fields := []ui.Field{
		{Key: "Uptime", Value: uptime.Round(time.Second).String()},
		{Key: "Connections", Value: strconv.FormatInt(c.admitted.Load(), 10)},
		{Key: "Rejected", Value: strconv.FormatInt(c.rejected.Load(), 10)},
		{Key: "Records", Value: strconv.FormatInt(c.records.Load(), 10)},
		{Key: "Payload bytes", Value: strconv.FormatInt(c.bytes.Load(), 10)},
		{Key: "Keepalives", Value: strconv.FormatInt(c.discarded.Load(), 10)},
	}
	if n := c.failures.Load(); n > 0 {
		fields = append(fields, ui.Field{Key: "Write failures", Value: strconv.FormatInt(n, 10)})
	}
	return fields
}
