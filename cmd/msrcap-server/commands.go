package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/muurk/msrcap/internal/capture"
	"github.com/muurk/msrcap/internal/config"
	"github.com/muurk/msrcap/internal/discovery"
	"github.com/muurk/msrcap/internal/logging"
	"github.com/muurk/msrcap/internal/monitor"
	"github.com/muurk/msrcap/internal/server"
	"github.com/muurk/msrcap/internal/ui"
	"github.com/muurk/msrcap/internal/version"
)

// Server command flags
var (
	host           string
	port           int
	logFile        string
	syncWrites     bool
	maxConnections int
	idleTimeout    time.Duration
	maxLifetime    time.Duration
	drainTimeout   time.Duration
	runFor         time.Duration
	advertise      bool
	logLevel       string
	watch          bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the capture listener",
	Long: `Start the capture listener and record client traffic until stopped.

Settings come from the config file and are overridden by any flag given on
the command line. Ctrl-C drains open sessions, a second Ctrl-C (or SIGTERM)
closes them immediately.`,
	Example: `  # Listen on the default port 3074
  msrcap-server server

  # Capture to a dedicated file and stop after an hour
  msrcap-server server --log-file session1.txt --run-for 1h

  # Short idle timeout while debugging, announced over mDNS
  msrcap-server server --idle-timeout 30s --max-lifetime 5m --advertise --log-level debug`,
	RunE: runServer,
}

func init() {
	f := serverCmd.Flags()
	f.StringVar(&host, "host", "", "Address to listen on (empty = all interfaces)")
	f.IntVar(&port, "port", server.DefaultPort, "TCP port to capture on")
	f.StringVar(&logFile, "log-file", capture.DefaultLogFile, "Capture log to append records to")
	f.BoolVar(&syncWrites, "sync", false, "fsync the capture log after every record")
	f.IntVar(&maxConnections, "max-connections", server.DefaultMaxConnections, "Maximum simultaneous connections")
	f.DurationVar(&idleTimeout, "idle-timeout", server.DefaultIdleTimeout, "Close a connection after this long without data")
	f.DurationVar(&maxLifetime, "max-lifetime", server.DefaultMaxLifetime, "Close a connection after this long regardless of activity")
	f.DurationVar(&drainTimeout, "drain-timeout", server.DefaultDrainTimeout, "Upper bound on a graceful connection close")
	f.DurationVar(&runFor, "run-for", 0, "Stop the listener after this long (0 = run until signalled)")
	f.BoolVar(&advertise, "advertise", false, "Announce the listener over mDNS")
	f.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default info")
	f.BoolVar(&watch, "monitor", false, "Show a live view of sessions instead of log output")
}

// applyServerFlags overrides settings with the flags given explicitly.
func applyServerFlags(cmd *cobra.Command, s *config.Settings) {
	f := cmd.Flags()
	if f.Changed("host") {
		s.Host = host
	}
	if f.Changed("port") {
		s.Port = port
	}
	if f.Changed("log-file") {
		s.LogFile = logFile
	}
	if f.Changed("sync") {
		s.SyncWrites = syncWrites
	}
	if f.Changed("max-connections") {
		s.MaxConnections = maxConnections
	}
	if f.Changed("idle-timeout") {
		s.IdleTimeout = config.Duration(idleTimeout)
	}
	if f.Changed("max-lifetime") {
		s.MaxLifetime = config.Duration(maxLifetime)
	}
	if f.Changed("drain-timeout") {
		s.DrainTimeout = config.Duration(drainTimeout)
	}
	if f.Changed("run-for") {
		s.RunFor = config.Duration(runFor)
	}
	if f.Changed("advertise") {
		s.Advertise = advertise
	}
	if f.Changed("log-level") {
		s.LogLevel = logLevel
	}
}

func resolveLogLevel(s *config.Settings) string {
	if s.LogLevel != "" {
		return s.LogLevel
	}
	if env := os.Getenv(logging.LogLevelEnvVar); env != "" {
		return env
	}
	return "info"
}

func runServer(cmd *cobra.Command, args []string) error {
	file, err := config.Load(configPath)
	if err != nil {
		return err
	}
	settings := file.Server
	applyServerFlags(cmd, settings)
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	useMonitor := watch && ui.IsTerminal()
	if useMonitor {
		// Log lines would tear the full-screen view
		logging.SetLogger(zap.NewNop())
	} else if err := logging.Initialize(resolveLogLevel(settings)); err != nil {
		return err
	}
	defer logging.Sync()

	stats := &captureStats{}
	sinks := server.MultiSink{server.LogSink{}, stats}
	var feed *monitor.Feed
	if useMonitor {
		feed = monitor.NewFeed(monitor.DefaultFeedSize)
		sinks = append(sinks, feed)
	}
	srv, err := server.New(settings.ServerConfig(), server.WithEventSink(sinks))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Listen(); err != nil {
		var bindErr *server.BindError
		if errors.As(err, &bindErr) {
			fmt.Println(ui.NewFailureResult("Cannot listen", err,
				ui.Field{Key: "Address", Value: bindErr.Addr}).Render())
		}
		_ = srv.ShutdownForced()
		return err
	}

	state := srv.State()
	fmt.Println(ui.NewHeader("Capture Listener", "msrcap-server server",
		ui.Field{Key: "Listening", Value: srv.Addr().String()},
		ui.Field{Key: "Capture log", Value: settings.LogFile},
		ui.Field{Key: "Max connections", Value: strconv.Itoa(state.MaxConnections)},
		ui.Field{Key: "Idle timeout", Value: settings.IdleTimeout.Std().String()},
		ui.Field{Key: "Max lifetime", Value: settings.MaxLifetime.Std().String()},
	).Render())

	if settings.Advertise {
		adv, err := discovery.Advertise(discovery.Announcement{
			Port:           state.BoundPort,
			Version:        version.Version,
			MaxConnections: state.MaxConnections,
			LogFile:        settings.LogFile,
		})
		if err != nil {
			// The listener works without mDNS
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Shutdown()
		}
	}

	started := time.Now()
	var runErr error
	if useMonitor {
		runErr = runWithMonitor(cmd.Context(), srv, feed, settings.LogFile)
	} else {
		runErr = srv.Run(cmd.Context())
	}

	result := ui.NewSuccessResult("Capture stopped")
	if runErr != nil {
		result = ui.NewFailureResult("Capture stopped with errors", runErr)
	}
	result.Details = stats.fields(time.Since(started))
	fmt.Println(result.Render())

	return runErr
}

// runWithMonitor serves in the background while the live view owns the
// terminal. Quitting the view stops the server the same way the end of ctx
// does: a drain bounded by the drain timeout, then a forced close.
func runWithMonitor(ctx context.Context, srv *server.Server, feed *monitor.Feed, logFile string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	_, viewErr := tea.NewProgram(monitor.NewModel(srv, feed, logFile), tea.WithAltScreen()).Run()
	cancel()
	runErr := <-done
	if viewErr != nil {
		return multierr.Append(runErr, fmt.Errorf("monitor: %w", viewErr))
	}
	return runErr
}

// Config command

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}
		if err := config.NewFile().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := config.Load(configPath)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(file)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

// Inspect command

var inspectLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect [log-file]",
	Short: "Print the records in a capture log",
	Long: `Parse a capture log and print each record as a hex dump.

Without an argument the log file from the configuration is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 0, "Print at most this many records (0 = all)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		file, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path = file.Server.LogFile
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture log: %w", err)
	}
	defer f.Close()

	records, err := capture.ReadRecords(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Println(ui.NewHeader("Capture Log", "msrcap-server inspect",
		ui.Field{Key: "File", Value: path},
		ui.Field{Key: "Records", Value: strconv.Itoa(len(records))},
	).Render())

	var total int
	for i, rec := range records {
		total += len(rec.Raw)
		if inspectLimit > 0 && i >= inspectLimit {
			continue
		}
		fmt.Print(ui.RenderRecord(i+1, rec))
	}

	if len(records) > 0 {
		first, last := records[0].Timestamp, records[len(records)-1].Timestamp
		fmt.Println(ui.NewSuccessResult("Log parsed",
			ui.Field{Key: "Records", Value: strconv.Itoa(len(records))},
			ui.Field{Key: "Payload bytes", Value: strconv.Itoa(total)},
			ui.Field{Key: "First", Value: first.UTC().Format(time.RFC3339)},
			ui.Field{Key: "Span", Value: last.Sub(first).String()},
		).Render())
	}
	return nil
}

// Find command

var findTimeout time.Duration

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find capture listeners advertised on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(""); err != nil {
			return err
		}
		scanner := discovery.NewScanner()
		scanner.Timeout = findTimeout

		fmt.Printf("Scanning for %s...\n", findTimeout)
		listeners, err := scanner.Scan(cmd.Context())
		if err != nil {
			return err
		}
		if len(listeners) == 0 {
			fmt.Println("No capture listeners found.")
			return nil
		}
		for _, l := range listeners {
			fmt.Printf("  %s", l.String())
			if v := l.GetMetadata("version"); v != "" {
				fmt.Printf("  version %s", v)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	findCmd.Flags().DurationVar(&findTimeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for answers")
}
