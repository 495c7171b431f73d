package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pevans/harvest/config"
	"github.com/pevans/harvest/crawl"
	"github.com/pevans/harvest/logger"
	"github.com/pevans/harvest/schedule"
)

func handleRun(args []string) {
	// Parse flags for run command
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := configFlag(fs)
	verbose := verboseFlag(fs)
	fs.Parse(args)

	cfg, log := mustLoadConfig(*configPath)
	applyVerbose(log, *verbose)
	ctx, cancel := signalContext(log)
	defer cancel()

	report, err := executeRun(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: run failed: %v\n", err)
		os.Exit(1)
	}

	printReport(report)
}

func handleScheduled(args []string) {
	// Parse flags for scheduled command
	fs := flag.NewFlagSet("scheduled", flag.ExitOnError)
	configPath := configFlag(fs)
	verbose := verboseFlag(fs)
	fs.Parse(args)

	cfg, log := mustLoadConfig(*configPath)
	applyVerbose(log, *verbose)
	ctx, cancel := signalContext(log)
	defer cancel()

	report, ran, err := runIfDue(ctx, cfg, log, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: run failed: %v\n", err)
		os.Exit(1)
	}
	if ran {
		printReport(report)
	}
}

func handleDaemon(args []string) {
	// Parse flags for daemon command
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	configPath := configFlag(fs)
	verbose := verboseFlag(fs)
	fs.Parse(args)

	cfg, log := mustLoadConfig(*configPath)
	applyVerbose(log, *verbose)
	ctx, cancel := signalContext(log)
	defer cancel()

	interval := cfg.Schedule.CheckInterval.Std()
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	log.Info("daemon started", "check_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, _, err := runIfDue(ctx, cfg, log, time.Now()); err != nil && ctx.Err() == nil {
			log.Error("scheduled run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			log.Info("daemon stopped")
			return
		case <-ticker.C:
		}
	}
}

// runIfDue consults the schedule and crawls when a run is due. The state
// file is only updated after a successful run.
func runIfDue(ctx context.Context, cfg *config.Config, log *logger.Logger, now time.Time) (crawl.Report, bool, error) {
	state, err := schedule.LoadState(cfg.Schedule.StatePath)
	if errors.Is(err, schedule.ErrCorruptState) {
		log.Warn("ignoring unreadable state file", "path", cfg.Schedule.StatePath, "error", err)
	} else if err != nil {
		return crawl.Report{}, false, err
	}

	decision := schedulePolicy(cfg).ShouldRun(now, state)
	if !decision.Run {
		log.Info("skipping run", "reason", decision.Reason, "not_before", decision.NotBefore.Format(time.RFC3339))
		return crawl.Report{}, false, nil
	}
	log.Info("run is due", "reason", decision.Reason, "peak", decision.Peak)

	report, err := executeRun(ctx, cfg, log)
	if err != nil {
		return report, true, err
	}

	if err := schedule.SaveState(cfg.Schedule.StatePath, now); err != nil {
		return report, true, fmt.Errorf("failed to save state: %w", err)
	}
	return report, true, nil
}

func printReport(report crawl.Report) {
	fmt.Println()
	fmt.Println("Run completed:")
	fmt.Printf("  Run ID:          %s\n", report.RunID)
	fmt.Printf("  Pages scanned:   %d\n", report.PagesScanned)
	fmt.Printf("  Links collected: %d\n", report.LinksCollected)
	fmt.Printf("  Posts extracted: %d\n", report.PostsExtracted)
	fmt.Printf("  Posts added:     %d\n", report.Merge.Added)
	fmt.Printf("  Corpus size:     %d\n", report.Merge.Total)
	if report.Merge.Reset {
		fmt.Println("  Note: the previous corpus was unreadable and has been moved aside")
	}
}
