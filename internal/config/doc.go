// Package config loads and saves the msrcap configuration file.
//
// The file lives in the OS configuration directory (see GetConfigDir) and is
// plain YAML:
//
//	version: 1
//	server:
//	  port: 3074
//	  log_file: etqw-msr-log.txt
//	  sync_writes: false
//	  max_connections: 10
//	  idle_timeout: 13m20s
//	  max_lifetime: 20m0s
//	  drain_timeout: 5s
//	  advertise: false
//
// Keys missing from the file keep their defaults, and a missing file is the
// same as an empty one. Command-line flags are applied on top of the loaded
// Settings and the result is checked with Validate before the server starts.
//
// # Usage
//
//	file, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.New(file.Server.ServerConfig())
//
// Save writes through a temporary file and rename so a crash never leaves a
// half-written config behind.
package config
