package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/podfs/internal/infrastructure/config"
	"github.com/GriffinCanCode/podfs/internal/infrastructure/server"
)

// startupTimeout bounds tool detection and the kubectl proxy launch.
const startupTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	flags := pflag.NewFlagSet("podfsd", pflag.ExitOnError)
	cfg.BindClusterFlags(flags)
	cfg.BindServerFlags(flags)
	_ = flags.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	srv, err := server.NewServer(startCtx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "podfsd: %v\n", err)
		os.Exit(1)
	}
}
