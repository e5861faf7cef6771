// Msrcap-server is a passive TCP capture listener.
//
// It accepts connections on a single port, never speaks the application
// protocol, and appends every non-zero chunk a client sends to a capture log
// as three lines: a millisecond timestamp, the raw bytes, and their hex
// encoding. It was built to record the traffic an Enemy Territory: Quake
// Wars client sends to its master server.
//
// Usage:
//
//	msrcap-server server [flags]
//	msrcap-server inspect [log-file]
//
// See 'msrcap-server --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/msrcap/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "msrcap-server",
	Short: "Passive TCP capture listener",
	Long: `A passive TCP listener that records what clients send to it.

Every chunk of bytes received on an admitted connection is appended to the
capture log as a timestamp line, the raw bytes and their hex encoding.
Chunks made up entirely of zero bytes are treated as keepalives and dropped.

The listener never replies, apart from a short notice to clients that go
quiet for longer than the idle timeout.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is the OS config directory)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("msrcap-server %s (%s)\n", version.Full(), version.Platform())
	},
}
