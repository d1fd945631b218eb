package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nomis52/orca"
	"github.com/nomis52/orca/buildinfo"
	"github.com/nomis52/orca/config"
	"github.com/nomis52/orca/deadletter"
	"github.com/nomis52/orca/events"
	"github.com/nomis52/orca/interceptor"
	"github.com/nomis52/orca/logging"
	"github.com/nomis52/orca/metrics"
	"github.com/nomis52/orca/pipeline"
	"github.com/nomis52/orca/provider"
	"github.com/nomis52/orca/scheduler"
	"github.com/nomis52/orca/stages"
	"github.com/nomis52/orca/store"
	"github.com/nomis52/orca/trace"
)

type Args struct {
	ConfigPath  string
	ShowVersion bool
	Validate    bool
	Input       string
}

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

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if args.Validate {
		fmt.Printf("Configuration validation successful: %s\n", args.ConfigPath)
		return nil
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	props := buildinfo.Get()
	logger.Info("orca started",
		"build_time", props.BuildTime,
		"git_commit", props.GitCommit,
		"config_path", args.ConfigPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := buildMetricsRegistry(cfg)
	if err != nil {
		return err
	}
	pm, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	runStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	storeSink := events.NewStoreSink(runStore, cfg.Events.QueueCapacity, logger.Logger)
	storeSink.Start(ctx)
	defer storeSink.Close()

	sink := events.NewMultiSink(logger.Logger,
		events.NewLogSink(logger.Logger),
		storeSink,
		pm.RunSink(),
	)

	queue, err := buildDeadLetterQueue(ctx, cfg)
	if err != nil {
		return err
	}

	// Per-run log capture: every run's logs are collected so the
	// dead-letter recorder can attach them to failed entries.
	collector := logging.NewLogCollector()
	hook := logging.NewCapturingLoggerHook(collector)
	recorder := deadletter.NewRecorder(queue, cfg.DeadLetter.InitialDelay, logger.Logger,
		deadletter.WithLogSource(collector.FormatLogs))

	chain := interceptor.DefaultChain(interceptor.DefaultConfig{
		StageTimeout:     cfg.Execution.StageTimeout,
		BreakerThreshold: cfg.Breaker.Threshold,
		BreakerCooldown:  cfg.Breaker.Cooldown,
		RetryAttempts:    cfg.Retry.Attempts,
		RetryBackoff:     cfg.Retry.Backoff,
		BreakerListener: func(key string, st interceptor.BreakerState) {
			pm.SetBreakerState(key, float64(st))
		},
	}, trace.NewRecorder(), pm, logger.Logger)

	sched := scheduler.New(
		scheduler.WithChain(chain),
		scheduler.WithSink(sink),
		scheduler.WithLogger(logger.Logger),
		scheduler.WithRunLogger(hook.LoggerForRun),
		scheduler.WithRunWriter(runStore),
		scheduler.WithFailureRecorder(recorder),
	)
	engine := orca.NewEngine(pipeline.NewRegistry(), sched)

	if err := registerPipelines(engine); err != nil {
		return fmt.Errorf("failed to register pipelines: %w", err)
	}

	replayer := deadletter.NewReplayer(queue, engine.Replay, deadletter.Backoff{
		Initial:     cfg.DeadLetter.InitialDelay,
		Max:         cfg.DeadLetter.MaxDelay,
		MaxAttempts: cfg.DeadLetter.MaxAttempts,
	}, logger.Logger, deadletter.WithDepthReporter(pm.SetDeadLetterDepth))
	if err := replayer.Start(ctx, cfg.DeadLetter.SweepSchedule); err != nil {
		return fmt.Errorf("failed to start replayer: %w", err)
	}

	rec, err := engine.Run(ctx, stages.ChatPipelineName, pipeline.ContextSnapshot{
		Topology:  stages.ChatPipelineName,
		InputText: args.Input,
	}, &scheduler.RunConfig{ConcurrencyLimit: cfg.Execution.ConcurrencyLimit})
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	printRun(rec)
	collector.Drop(rec.RunID)
	return nil
}

// registerPipelines wires the demo chat pipeline against a scripted
// provider and in-memory session and response backends.
func registerPipelines(engine *orca.Engine) error {
	model := provider.NewScripted("scripted",
		provider.ScriptStep{Response: provider.ChatResponse{Text: "hello from orca", Model: "scripted-1"}})

	sessions := stages.SessionStoreFunc(
		func(ctx context.Context, sessionID string) ([]provider.ChatMessage, error) {
			return nil, nil
		})
	responses := stages.ResponseWriterFunc(
		func(ctx context.Context, resp stages.Response) error {
			return nil
		})

	return stages.RegisterChat(engine.Registry(), stages.ChatDeps{
		Model:      model,
		ProviderID: "scripted",
		ModelName:  "scripted-1",
		Sessions:   sessions,
		Responses:  responses,
	})
}

func buildMetricsRegistry(cfg config.Config) (metrics.Registry, error) {
	if cfg.Monitoring.RemoteWriteURL != "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		return metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.RemoteWriteURL,
			Prefix:   cfg.Monitoring.MetricsPrefix,
			Job:      cfg.Monitoring.JobName,
			Instance: hostname,
		}), nil
	}
	return metrics.NewScrapeRegistry()
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.Store.PostgresURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return pg, pg.Close, nil
	}
	return store.NewMemoryStore(), func() {}, nil
}

func buildDeadLetterQueue(ctx context.Context, cfg config.Config) (deadletter.Queue, error) {
	if cfg.DeadLetter.Table != "" {
		q, err := deadletter.NewDynamoQueueFromEnv(ctx, cfg.DeadLetter.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to open dead-letter table: %w", err)
		}
		return q, nil
	}
	return deadletter.NewMemoryQueue(), nil
}

func printRun(rec *scheduler.RunRecord) {
	fmt.Printf("run %s (%s): %s in %s\n", rec.RunID, rec.Pipeline, rec.Status, rec.Duration)
	for name, res := range rec.Results {
		fmt.Printf("  %-20s %s", name, res.Status)
		if res.Reason != "" {
			fmt.Printf(" (%s)", res.Reason)
		}
		fmt.Println()
	}
}

func showVersion() {
	props := buildinfo.Get()
	fmt.Printf("orca\n")
	fmt.Printf("Built: %s\n", props.BuildTime)
	fmt.Printf("Commit: %s\n", props.GitCommit)
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to config file")
	configPathShort := flag.String("c", "", "Path to config file (shorthand)")
	showVersion := flag.Bool("version", false, "Show version information")
	versionShort := flag.Bool("v", false, "Show version information (shorthand)")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	input := flag.String("input", "hello", "Input text for the demo chat run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nPipeline Orchestration Engine\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/orca/config.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --version\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config config.yaml --validate\n", os.Args[0])
	}

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}

	return Args{
		ConfigPath:  path,
		ShowVersion: *showVersion || *versionShort,
		Validate:    *validate,
		Input:       *input,
	}
}
