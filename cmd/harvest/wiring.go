package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pevans/harvest/browser"
	"github.com/pevans/harvest/config"
	"github.com/pevans/harvest/corpus"
	"github.com/pevans/harvest/crawl"
	"github.com/pevans/harvest/history"
	"github.com/pevans/harvest/logger"
	"github.com/pevans/harvest/textclean"
)

// newOpener returns the browser opener selected by browser.engine.
func newOpener(cfg *config.Config) browser.Opener {
	if cfg.Browser.Engine == config.EngineStatic {
		return browser.StaticOpener(browser.StaticOptions{
			UserAgent: cfg.Browser.UserAgent,
			Timeout:   cfg.Browser.HTTPTimeout.Std(),
		})
	}

	opts := browser.DefaultChromeOptions()
	opts.Headless = cfg.Browser.Headless
	opts.ExecPath = cfg.Browser.ExecPath
	opts.UserDataDir = cfg.Browser.UserDataDir
	opts.UserAgent = cfg.Browser.UserAgent
	if cfg.Browser.WindowWidth > 0 && cfg.Browser.WindowHeight > 0 {
		opts.WindowWidth = cfg.Browser.WindowWidth
		opts.WindowHeight = cfg.Browser.WindowHeight
	}
	opts.ClickDelay = cfg.Browser.ClickDelay.Std()
	return browser.ChromeOpener(opts)
}

// newHarvester builds a harvester for one run from the configuration.
func newHarvester(cfg *config.Config, store *corpus.Store, runID uuid.UUID, log *logger.Logger) *crawl.Harvester {
	links := crawl.NewLinkCollector(cfg.Scan.PrimaryPattern, cfg.Scan.FallbackPattern)

	pager := crawl.NewPager(links, crawl.PagerOptions{
		Containers:      cfg.Pager.Containers,
		Strategies:      crawl.DefaultStrategies(cfg.Pager.NextLabels...),
		MaxAttempts:     cfg.Pager.MaxAttempts,
		RetryDelay:      cfg.Pager.RetryDelay.Std(),
		ConfirmTimeout:  cfg.Pager.ConfirmTimeout.Std(),
		ConfirmInterval: cfg.Pager.ConfirmInterval.Std(),
		BaselineSize:    cfg.Pager.BaselineSize,
		Settle:          cfg.Pager.Settle.Std(),
	}, log)

	details := crawl.NewDetailExtractor(crawl.DetailOptions{
		LoadAttempts:   cfg.Detail.LoadAttempts,
		ReadyTimeout:   cfg.Detail.ReadyTimeout.Std(),
		LoadRetryDelay: cfg.Detail.LoadRetryDelay.Std(),
		Settle:         cfg.Detail.Settle.Std(),
		TitleSuffix:    cfg.Detail.TitleSuffix,
		Strategies: crawl.ContentStrategies(
			cfg.Detail.Regions,
			cfg.Detail.MinBlockLength,
			cfg.Detail.MinParagraphLength,
			!cfg.Detail.DisableReadability,
		),
		MinContentLength: cfg.Detail.MinContentLength,
		Cleaner:          textclean.NewCleaner(cfg.Detail.Phrases...),
	}, log)

	records := crawl.NewRecordBuilder(cfg.Record.Tags, cfg.Record.SummaryLength)

	return crawl.NewHarvester(newOpener(cfg), links, pager, details, records, store, crawl.Options{
		RunID:              runID,
		SearchURL:          cfg.SearchURL,
		MaxPages:           cfg.MaxPages,
		TargetCount:        cfg.TargetCount,
		LoginWait:          cfg.LoginWait.Std(),
		PopupCloseSelector: cfg.Scan.PopupCloseSelector,
		TopSettle:          cfg.Scan.TopSettle.Std(),
		BottomSettle:       cfg.Scan.BottomSettle.Std(),
		NavigateInterval:   cfg.NavigateInterval.Std(),
	}, log)
}

// newCorpusStore opens the corpus file named by the configuration.
func newCorpusStore(cfg *config.Config) (*corpus.Store, error) {
	store, err := corpus.NewStore(cfg.OutputPath, corpus.CorruptPolicy(cfg.Corpus.OnCorrupt))
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	return store, nil
}

// executeRun performs one crawl and records it in the run history.
func executeRun(ctx context.Context, cfg *config.Config, log *logger.Logger) (crawl.Report, error) {
	store, err := newCorpusStore(cfg)
	if err != nil {
		return crawl.Report{}, err
	}

	runs, err := history.NewStore(cfg.History.DSN)
	if err != nil {
		return crawl.Report{}, fmt.Errorf("failed to open history: %w", err)
	}
	defer runs.Close()

	run, err := runs.Start(ctx)
	if err != nil {
		return crawl.Report{}, err
	}
	log = log.With("run_id", run.RunID.String())
	log.Info("starting run", "output", store.Path(), "engine", cfg.Browser.Engine)

	report, runErr := newHarvester(cfg, store, run.RunID, log).Run(ctx)

	run.PagesScanned = report.PagesScanned
	run.LinksCollected = report.LinksCollected
	run.PostsExtracted = report.PostsExtracted
	run.PostsAdded = report.Merge.Added
	run.CorpusSize = report.Merge.Total

	// Record the outcome even when ctx was canceled
	if err := runs.Finish(context.WithoutCancel(ctx), run, runErr); err != nil {
		log.Warn("failed to record run", "error", err)
	}

	return report, runErr
}
