package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cclash/oslbench/cmd/oslbench/commands"
	"github.com/cclash/oslbench/pkg/harness"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancelling stops the running build; the daemon is still torn down.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		commands.PrintFailure(os.Stderr, err)
		log.Error().Err(err).Msg("Command execution failed")
		cancel()
		os.Exit(harness.ExitCode(err))
	}
}

// setupLogging configures the global logger used before a config is loaded.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		fmt.Fprintf(os.Stderr, "unknown LOG_LEVEL %q, using info\n", os.Getenv("LOG_LEVEL"))
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
