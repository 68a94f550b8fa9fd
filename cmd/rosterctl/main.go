// Command rosterctl creates the accounts listed in a YAML file and prints a
// JSON report of what was created and what failed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nomis52/roster/batch"
	"github.com/nomis52/roster/buildinfo"
	"github.com/nomis52/roster/config"
	"github.com/nomis52/roster/logging"
	"github.com/nomis52/roster/metrics"
	"github.com/nomis52/roster/server"
	"github.com/nomis52/roster/store"
	"github.com/nomis52/roster/task"
)

type Args struct {
	ConfigPath  string
	InputPath   string
	ShowVersion bool
	Validate    bool
}

// errNothingCreated makes the exit status non-zero when every item failed.
var errNothingCreated = errors.New("no accounts were created")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := parseArgs()

	if args.ShowVersion {
		showVersion()
		return nil
	}

	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(ctx, args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if args.Validate {
		fmt.Printf("Configuration validation successful: %s\n", args.ConfigPath)
		return nil
	}

	if args.InputPath == "" {
		return fmt.Errorf("input flag (-i or --input) is required")
	}
	req, err := readRequest(args.InputPath)
	if err != nil {
		return err
	}

	// The report goes to stdout, so logs never do.
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	props := buildinfo.Get()
	logger.Info("rosterctl started",
		"build_time", props.BuildTime,
		"git_commit", props.GitCommit,
		"config_path", args.ConfigPath,
		"input_path", args.InputPath,
	)

	outcome, err := createAccounts(ctx, &cfg, logger.Logger, req)
	if err != nil {
		return err
	}
	if err := writeReport(os.Stdout, outcome); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if !outcome.Accepted() {
		return errNothingCreated
	}
	return nil
}

func createAccounts(ctx context.Context, cfg *config.Config, logger *slog.Logger, req batch.Request) (batch.Outcome, error) {
	identity, err := server.NewIdentityClient(ctx, cfg, logger)
	if err != nil {
		return batch.Outcome{}, fmt.Errorf("failed to create identity client: %w", err)
	}

	st, err := store.Open(cfg.Store.Path, store.WithLogger(logger))
	if err != nil {
		return batch.Outcome{}, err
	}
	defer st.Close()

	taskOpts := append(cfg.Orchestrator.TaskOptions(), task.WithLogger(logger))
	reporterOpts := []batch.ReporterOption{
		batch.WithLogger(logger),
		batch.WithLogCollector(logging.NewLogCollector()),
	}

	var registry *metrics.PushRegistry
	if cfg.Monitoring.VictoriaMetricsURL != "" {
		hostname, err := os.Hostname()
		if err != nil {
			return batch.Outcome{}, fmt.Errorf("failed to get hostname: %w", err)
		}
		registry = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.VictoriaMetricsURL,
			Prefix:   cfg.Monitoring.MetricsPrefix,
			Job:      cfg.Monitoring.JobName,
			Instance: hostname,
		})
		taskMetrics, err := task.NewMetrics(registry)
		if err != nil {
			return batch.Outcome{}, err
		}
		batchMetrics, err := batch.NewMetrics(registry)
		if err != nil {
			return batch.Outcome{}, err
		}
		taskOpts = append(taskOpts, task.WithMetrics(taskMetrics))
		reporterOpts = append(reporterOpts, batch.WithMetrics(batchMetrics))
	}

	reporter := batch.NewReporter(identity, st,
		append(reporterOpts, batch.WithTaskOptions(taskOpts...))...)
	outcome, err := reporter.CreateAccounts(ctx, req)
	if err != nil {
		return batch.Outcome{}, err
	}

	if registry != nil {
		// A failed push is logged; the accounts already exist.
		if err := registry.Flush(ctx); err != nil {
			logger.Warn("failed to push metrics", "error", err)
		}
	}
	return outcome, nil
}

func showVersion() {
	props := buildinfo.Get()
	fmt.Printf("rosterctl\n")
	fmt.Printf("Built: %s\n", props.BuildTime)
	fmt.Printf("Commit: %s\n", props.GitCommit)
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to config file")
	configPathShort := flag.String("c", "", "Path to config file (shorthand)")
	inputPath := flag.String("input", "", "Path to YAML batch file")
	inputPathShort := flag.String("i", "", "Path to YAML batch file (shorthand)")
	showVersion := flag.Bool("version", false, "Show version information")
	versionShort := flag.Bool("v", false, "Show version information (shorthand)")
	validate := flag.Bool("validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nBulk account creation\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/roster/config.yaml --input class-7a.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --version\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config config.yaml --validate\n", os.Args[0])
	}

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}
	input := *inputPath
	if input == "" && *inputPathShort != "" {
		input = *inputPathShort
	}

	return Args{
		ConfigPath:  path,
		InputPath:   input,
		ShowVersion: *showVersion || *versionShort,
		Validate:    *validate,
	}
}
