package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into the
// engine's Config types, so main.go can validate and map.
type cliConfig struct {
	listenAddr       string
	logLevel         string
	evidencePath     string
	evidenceMaxBytes int64
	sessionID        string
	channelID        string
	fpsNum           int64
	fpsDen           int64
	ringCapacity     int
	minPrefeedFrames int
	freezeWindowMs   int64
	showVersion      bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("playout-engine", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.listenAddr, "listen", ":8080", "HTTP control-plane listen address")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.evidencePath, "evidence-path", "evidence.jsonl", "Path to the append-only evidence spool file")
	fs.Int64Var(&cfg.evidenceMaxBytes, "evidence-max-bytes", 0, "Evidence spool byte cap (0 = unbounded)")
	fs.StringVar(&cfg.sessionID, "session-id", "session-1", "Session identifier stamped on evidence records")
	fs.StringVar(&cfg.channelID, "channel-id", "channel-1", "Channel identifier stamped on evidence records")
	fs.Int64Var(&cfg.fpsNum, "fps-num", 30, "House tick-grid frame rate numerator")
	fs.Int64Var(&cfg.fpsDen, "fps-den", 1, "House tick-grid frame rate denominator")
	fs.IntVar(&cfg.ringCapacity, "ring-capacity", 8, "Per-segment decode ring buffer capacity, in frames")
	fs.IntVar(&cfg.minPrefeedFrames, "min-prefeed-frames", 2, "Minimum buffered frames before a stream is considered ready")
	fs.Int64Var(&cfg.freezeWindowMs, "freeze-window-ms", 250, "Longest held-frame run before the sink router reports a freeze (held frames are not replaced with pad)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}
	if cfg.fpsNum <= 0 || cfg.fpsDen <= 0 {
		return nil, errors.New("fps-num and fps-den must be positive")
	}
	if cfg.ringCapacity <= 0 {
		return nil, errors.New("ring-capacity must be positive")
	}
	if cfg.minPrefeedFrames <= 0 {
		return nil, errors.New("min-prefeed-frames must be positive")
	}
	if cfg.freezeWindowMs <= 0 {
		return nil, errors.New("freeze-window-ms must be positive")
	}

	return cfg, nil
}
