// Command tracker runs the LocalSync tracker: the singleton coordinator
// that holds the authoritative file index and peer table (spec.md §1, §6
// "Tracker command line" — no arguments).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prxssh/localsync/internal/config"
	"github.com/prxssh/localsync/internal/logging"
	"github.com/prxssh/localsync/internal/trackersvc"
)

func main() {
	setupLogger()
	config.Init()
	cfg := config.Load()

	// SIGPIPE is ignored so writes to a peer socket that has already gone
	// away surface as ordinary write errors rather than terminating the
	// process (spec.md §6 "Signals").
	signal.Ignore(syscall.SIGPIPE)

	srv := trackersvc.New(trackersvc.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		SweepGrace:        cfg.SweepGrace,
		PieceLen:          cfg.PieceLength,
		WriteTimeout:      cfg.WriteTimeout,
	}, slog.Default())

	addr := fmt.Sprintf(":%d", cfg.HandshakePort)
	if err := srv.Listen(addr); err != nil {
		slog.Error("failed to bind handshake port", "addr", addr, "error", err.Error())
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		srv.Close()
	}()

	slog.Info("tracker started", "addr", srv.Addr())
	if err := srv.Serve(); err != nil {
		slog.Error("tracker exited", "error", err.Error())
		os.Exit(1)
	}
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	slog.SetDefault(slog.New(h))
}
