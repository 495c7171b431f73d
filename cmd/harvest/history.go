package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-runewidth"

	"github.com/pevans/harvest/corpus"
	"github.com/pevans/harvest/history"
	"github.com/pevans/harvest/topic"
)

func handleHistory(args []string) {
	// Parse flags for history command
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := configFlag(fs)
	limit := fs.Int("limit", 20, "Maximum number of runs to show")
	format := fs.String("format", "table", "Output format: table or json")
	fs.Parse(args)

	cfg, _ := mustLoadConfig(*configPath)

	runs, err := history.NewStore(cfg.History.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer runs.Close()

	list, err := runs.List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list runs: %v\n", err)
		os.Exit(1)
	}

	switch *format {
	case "json":
		printJSON(map[string]any{"runs": list, "total": len(list)})
	case "table":
		printRunsTable(list)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format: %s\n", *format)
		os.Exit(1)
	}
}

func handleStats(args []string) {
	// Parse flags for stats command
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := configFlag(fs)
	format := fs.String("format", "table", "Output format: table or json")
	fs.Parse(args)

	cfg, _ := mustLoadConfig(*configPath)

	store, err := newCorpusStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	posts, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load corpus: %v\n", err)
		os.Exit(1)
	}
	counts := corpus.CountByCategory(posts)

	switch *format {
	case "json":
		printJSON(map[string]any{"path": store.Path(), "total": len(posts), "categories": counts})
	case "table":
		fmt.Printf("Corpus: %s\n\n", store.Path())
		for _, category := range topic.Categories() {
			fmt.Printf("  %s %d\n", runewidth.FillRight(string(category), 16), counts[category])
		}
		fmt.Println()
		fmt.Printf("  %s %d\n", runewidth.FillRight("Total", 16), len(posts))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format: %s\n", *format)
		os.Exit(1)
	}
}

// printRunsTable prints runs in human-readable table format
func printRunsTable(runs []history.Run) {
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}

	// Print table header
	fmt.Printf("%-36s %-19s %-10s %6s %6s %6s %6s %6s\n", "RUN ID", "STARTED", "STATUS", "PAGES", "LINKS", "POSTS", "ADDED", "TOTAL")
	fmt.Println("----------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		fmt.Printf("%-36s %-19s %-10s %6d %6d %6d %6d %6d\n",
			run.RunID.String(),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Status,
			run.PagesScanned,
			run.LinksCollected,
			run.PostsExtracted,
			run.PostsAdded,
			run.CorpusSize,
		)
		if run.Error != nil {
			fmt.Printf("  error: %s\n", *run.Error)
		}
	}
}

// printJSON prints v as indented JSON
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to marshal JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))
}
