package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/shpitdev/mailprospect/internal/app"
	"github.com/shpitdev/mailprospect/internal/config"
	"github.com/shpitdev/mailprospect/internal/jobstore"
	"github.com/shpitdev/mailprospect/internal/version"
	"github.com/shpitdev/mailprospect/pkg/redact"
	"github.com/shpitdev/mailprospect/pkg/verifier"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
	case "version":
		fmt.Println(version.Current)
	case "run":
		os.Exit(runRun(ctx, os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func newLogger(verbose bool) *charmlog.Logger {
	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true})
	if verbose {
		logger.SetLevel(charmlog.DebugLevel)
	}
	return logger
}

func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("MAILPROSPECT_CONFIG"))
	}
	if path == "" {
		path = "mailprospect.yaml"
	}
	return config.Load(path)
}

func runRun(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Config file path (env: MAILPROSPECT_CONFIG)")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	svc, err := verifier.NewClient(verifier.Config{
		BaseURL:        cfg.Service.BaseURL,
		APIKey:         cfg.Service.APIKey,
		CAPath:         cfg.Service.CAPath,
		RequestTimeout: time.Duration(cfg.Service.RequestTimeout),
		RateLimitRPS:   cfg.Service.RateLimitRPS,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	runner := app.NewRunner(cfg, svc, newLogger(*verbose))
	if err := runner.Run(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Config file path (env: MAILPROSPECT_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	store, err := jobstore.Load(cfg.StateFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "state error: %s\n", err.Error())
		return 1
	}

	jobs := store.All()
	if len(jobs) == 0 {
		fmt.Println("no tracked jobs")
		return 0
	}
	fmt.Printf("%-30s %-10s %-10s %-8s %-20s %s\n", "FILE", "REMOTE_ID", "STATUS", "PERCENT", "SUBMITTED", "FAILURES")
	for _, job := range jobs {
		percent := "-"
		if job.LastProgress != nil {
			percent = fmt.Sprintf("%.0f%%", job.LastProgress.Percent)
		}
		fmt.Printf("%-30s %-10d %-10s %-8s %-20s %d\n",
			job.SourceFile,
			job.RemoteJobID,
			job.Status,
			percent,
			job.SubmittedAt.Format(time.RFC3339),
			job.DownloadFailures,
		)
	}
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `mailprospect: generate candidate emails and reconcile bulk verification results

Usage:
  mailprospect <command> [flags]

Commands:
  run      Perform one pipeline invocation: poll tracked jobs, reconcile
           finished ones, then submit newly discovered source files
  status   Print the tracked jobs from the state file
  version  Print the version

Examples:
  mailprospect run --config mailprospect.yaml
  mailprospect status

Environment:
  MAILPROSPECT_CONFIG       Config file path (default mailprospect.yaml)
  VERIFIER_BASE_URL         Override service.base_url
  VERIFIER_API_KEY          Override service.api_key (value or file path)
  VERIFIER_RATE_LIMIT_RPS   Override service.rate_limit_rps
  VERIFIER_REQUEST_TIMEOUT  Override service.request_timeout
  INPUT_DIR                 Override input_dir
  OUTPUT_DIR                Override output_dir
  STATE_FILE                Override state_file

`)
}
