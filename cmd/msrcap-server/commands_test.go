package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/msrcap/internal/config"
	"github.com/muurk/msrcap/internal/logging"
	"github.com/muurk/msrcap/internal/server"
)

func TestApplyServerFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "server"}
	cmd.Flags().AddFlagSet(serverCmd.Flags())

	if err := cmd.Flags().Parse([]string{"--port", "4000", "--idle-timeout", "30s", "--advertise"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	s := config.DefaultSettings()
	s.LogFile = "from-config.txt"
	applyServerFlags(cmd, s)

	if s.Port != 4000 {
		t.Errorf("Port = %d, want 4000", s.Port)
	}
	if s.IdleTimeout.Std() != 30*time.Second {
		t.Errorf("IdleTimeout = %v, want 30s", s.IdleTimeout.Std())
	}
	if !s.Advertise {
		t.Error("Advertise should be set")
	}
	// Flags left at their defaults must not override the file
	if s.LogFile != "from-config.txt" {
		t.Errorf("LogFile = %q, want the config value", s.LogFile)
	}
	if s.MaxConnections != server.DefaultMaxConnections {
		t.Errorf("MaxConnections = %d, want %d", s.MaxConnections, server.DefaultMaxConnections)
	}
}

func TestResolveLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		settings string
		env      string
		want     string
	}{
		{"settings win", "debug", "warn", "debug"},
		{"environment", "", "warn", "warn"},
		{"default", "", "", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(logging.LogLevelEnvVar, tt.env)
			s := config.DefaultSettings()
			s.LogLevel = tt.settings
			if got := resolveLogLevel(s); got != tt.want {
				t.Errorf("resolveLogLevel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCaptureStats(t *testing.T) {
	stats := &captureStats{}
	events := []server.Event{
		{Kind: server.EventConnectionAdmitted},
		{Kind: server.EventConnectionAdmitted},
		{Kind: server.EventConnectionRejected, Reason: server.RejectReasonCapacity},
		{Kind: server.EventCaptureRecorded, PayloadLen: 10},
		{Kind: server.EventCaptureRecorded, PayloadLen: 5},
		{Kind: server.EventCaptureDiscarded, PayloadLen: 4},
		{Kind: server.EventConnectionClosed},
	}
	for _, e := range events {
		stats.Emit(e)
	}

	want := map[string]string{
		"Connections":   "2",
		"Rejected":      "1",
		"Records":       "2",
		"Payload bytes": "15",
		"Keepalives":    "1",
	}
	fields := stats.fields(90 * time.Second)
	for _, f := range fields {
		if f.Key == "Write failures" {
			t.Error("write failures should only be listed when non-zero")
		}
		if w, ok := want[f.Key]; ok && f.Value != w {
			t.Errorf("%s = %s, want %s", f.Key, f.Value, w)
		}
	}
	if fields[0].Value != "1m30s" {
		t.Errorf("Uptime = %s, want 1m30s", fields[0].Value)
	}
}
