// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command artifactd builds and caches Apple TV compatible playback
// artifacts. Without a subcommand it runs the daemon.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/artifactd/internal/config"
	alog "github.com/ManuGH/artifactd/internal/log"
	"github.com/spf13/pflag"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

type command struct {
	name    string
	summary string
	run     func(args []string, stdout, stderr io.Writer) int
}

func commands() []command {
	return []command{
		{"serve", "run the daemon (default)", runServe},
		{"sweep", "run one eviction pass and exit", runSweep},
		{"recover", "reclaim stale locks and interrupted records", runRecover},
		{"key", "print the fingerprint and cache key of a file", runKey},
		{"healthcheck", "probe a running daemon", runHealthcheck},
		{"version", "print version information", runVersion},
	}
}

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	name := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	switch name {
	case "help":
		printUsage(stdout)
		return 0
	case "--version":
		return runVersion(nil, stdout, stderr)
	}
	for _, c := range commands() {
		if c.name == name {
			return c.run(args, stdout, stderr)
		}
	}
	fmt.Fprintf(stderr, "unknown command %q\n\n", name)
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: artifactd <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.summary)
	}
}

func runVersion(_ []string, stdout, _ io.Writer) int {
	fmt.Fprintf(stdout, "%s (commit: %s, built: %s)\n", version, commit, buildDate)
	return 0
}

// newFlagSet returns a flag set with the --config flag every command shares.
func newFlagSet(name string, stderr io.Writer, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("artifactd "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(configPath, "config", "c", "", "path to config file (YAML)")
	return fs
}

// resolveConfigPath returns the explicit path, or ${ARTIFACTD_DATA_DIR}/config.yaml
// when that file exists, or "" for env and defaults only.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvPrefix+"DATA_DIR", config.Defaults().DataDir))
	if dataDir == "" {
		return ""
	}
	auto := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(auto); err == nil {
		return auto
	}
	return ""
}

// loadConfig loads the configuration and configures logging to logOut.
func loadConfig(explicit string, logOut io.Writer) (*config.Loader, config.AppConfig, error) {
	alog.Configure(alog.Config{Level: "info", Output: logOut, Version: version})

	loader := config.NewLoader(resolveConfigPath(explicit), version)
	cfg, err := loader.Load()
	if err != nil {
		return loader, config.AppConfig{}, err
	}
	alog.Configure(alog.Config{Level: cfg.LogLevel, Output: logOut, Version: version})
	return loader, cfg, nil
}
