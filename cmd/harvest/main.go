package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Get subcommand
	subcommand := os.Args[1]
	args := os.Args[2:]

	switch subcommand {
	case "run":
		handleRun(args)
	case "scheduled":
		handleScheduled(args)
	case "daemon":
		handleDaemon(args)
	case "history":
		handleHistory(args)
	case "stats":
		handleStats(args)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("harvest - Interview post crawler")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  harvest <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run        Crawl now and merge new posts into the corpus")
	fmt.Println("  scheduled  Crawl only if the schedule says a run is due")
	fmt.Println("  daemon     Keep checking the schedule and crawl when due")
	fmt.Println("  history    Show recent runs")
	fmt.Println("  stats      Show corpus size per category")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config    Path to the config file (default: harvest.yaml)")
	fmt.Println("  -v         Log at debug level (run, scheduled, daemon)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  HARVEST_CONFIG         Path to the config file")
	fmt.Println("  HARVEST_SEARCH_URL     Search results URL to crawl")
	fmt.Println("  HARVEST_OUTPUT         Path to the corpus JSON file")
	fmt.Println("  HARVEST_BROWSER        Browser engine: chrome or static")
	fmt.Println("  HARVEST_USER_DATA_DIR  Chrome profile directory")
	fmt.Println("  HARVEST_HISTORY_DSN    Path to the run history database")
	fmt.Println("  HARVEST_STATE_PATH     Path to the schedule state file")
	fmt.Println("  HARVEST_LOG_LEVEL      debug, info, warn or error")
}
