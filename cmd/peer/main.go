// Command peer runs a LocalSync peer: it watches a local directory,
// registers with a tracker, and keeps the directory converged with every
// other peer in the swarm (spec.md §1, §6 "Peer command line":
// peer <tracker-host> <watch-dir> <streams>).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prxssh/localsync/internal/config"
	"github.com/prxssh/localsync/internal/logging"
	"github.com/prxssh/localsync/internal/peerclient"
)

func main() {
	setupLogger()
	config.Init()
	cfg := config.Load()

	trackerHost, watchDir, streams, err := parseArgs(os.Args[1:], cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: peer <tracker-host> <watch-dir> <streams>")
		os.Exit(1)
	}

	signal.Ignore(syscall.SIGPIPE)

	trackerAddr := fmt.Sprintf("%s:%d", trackerHost, cfg.HandshakePort)

	client, err := peerclient.New(cfg, watchDir, trackerAddr, streams, slog.Default())
	if err != nil {
		slog.Error("failed to initialize peer", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	if err := client.Run(ctx); err != nil {
		slog.Error("peer exited", "error", err.Error())
		os.Exit(1)
	}
}

// parseArgs validates the three positional arguments and applies the
// streams warn/pause rule from spec.md §6: values greater than the
// configured warn threshold emit a warning and a pause before continuing.
func parseArgs(args []string, cfg *config.Config) (trackerHost, watchDir string, streams int, err error) {
	if len(args) != 3 {
		return "", "", 0, fmt.Errorf("expected 3 arguments, got %d", len(args))
	}

	trackerHost = args[0]
	watchDir = args[1]

	streams, err = strconv.Atoi(args[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid streams value %q: %w", args[2], err)
	}
	if streams < 1 || streams > cfg.MaxStreamsPerPeer {
		return "", "", 0, fmt.Errorf("streams must be in [1, %d], got %d", cfg.MaxStreamsPerPeer, streams)
	}

	if streams > cfg.HighStreamWarnThreshold {
		slog.Warn("high stream count requested; pausing before continuing",
			"streams", streams, "threshold", cfg.HighStreamWarnThreshold, "pause", cfg.HighStreamPause)
		time.Sleep(cfg.HighStreamPause)
	}

	return trackerHost, watchDir, streams, nil
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	slog.SetDefault(slog.New(h))
}
