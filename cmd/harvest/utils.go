package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pevans/harvest/config"
	"github.com/pevans/harvest/logger"
	"github.com/pevans/harvest/schedule"
)

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// configFlag registers the -config flag on fs.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", getEnv("HARVEST_CONFIG", "harvest.yaml"), "Path to the config file (HARVEST_CONFIG)")
}

// verboseFlag registers the -v flag on fs.
func verboseFlag(fs *flag.FlagSet) *bool {
	return fs.Bool("v", false, "Log at debug level regardless of logging.level")
}

// applyVerbose lowers the log level to debug when verbose is set.
func applyVerbose(log *logger.Logger, verbose bool) {
	if verbose {
		log.SetLevel("debug")
	}
}

// mustLoadConfig loads the config file or exits.
func mustLoadConfig(path string) (*config.Config, *logger.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg, cfg.NewLogger()
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext(log *logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// schedulePolicy converts the schedule section into a policy.
func schedulePolicy(cfg *config.Config) schedule.Policy {
	months := make([]time.Month, 0, len(cfg.Schedule.PeakMonths))
	for _, m := range cfg.Schedule.PeakMonths {
		months = append(months, time.Month(m))
	}
	return schedule.Policy{
		PeakMonths:      months,
		OffPeakInterval: cfg.Schedule.OffPeakInterval.Std(),
	}
}
