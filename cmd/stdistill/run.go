package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angleyanalbedo/generatestcode/internal/bus"
	"github.com/angleyanalbedo/generatestcode/internal/config"
	"github.com/angleyanalbedo/generatestcode/internal/data"
	"github.com/angleyanalbedo/generatestcode/internal/dataset"
	"github.com/angleyanalbedo/generatestcode/internal/dispatch"
	"github.com/angleyanalbedo/generatestcode/internal/export"
	"github.com/angleyanalbedo/generatestcode/internal/fingerprint"
	"github.com/angleyanalbedo/generatestcode/internal/golden"
	"github.com/angleyanalbedo/generatestcode/internal/incident"
	"github.com/angleyanalbedo/generatestcode/internal/llm"
	"github.com/angleyanalbedo/generatestcode/internal/logging"
	"github.com/angleyanalbedo/generatestcode/internal/metrics"
	"github.com/angleyanalbedo/generatestcode/internal/pipeline"
	"github.com/angleyanalbedo/generatestcode/internal/prompts"
	"github.com/angleyanalbedo/generatestcode/internal/server"
	"github.com/angleyanalbedo/generatestcode/internal/task"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

func runCmd() *cobra.Command {
	var (
		seedsFile string
		target    int
		runID     string
		noExport  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate, verify and record a dataset",
		Long: `Run the distillation pipeline: seeds are evolved into harder tasks,
dispatched to the model, judged by the fast check and the compiler, and the
resulting histories are written as SFT, DPO and history records.

Ctrl-C stops cleanly: in-flight tasks are dropped, finished ones are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if seedsFile != "" {
				cfg.Seeds.File = seedsFile
			}
			if cmd.Flags().Changed("target") {
				cfg.Seeds.TargetCount = target
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			if runID == "" {
				runID = uuid.NewString()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := runPipeline(ctx, cfg, runID)
			if summary != nil {
				fmt.Println(renderSummary(summary, cfg.Seeds.TargetCount))
			}
			if err != nil {
				return err
			}

			if cfg.Export.OnComplete && !noExport && !summary.Cancelled {
				ectx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				uploaded, err := uploadRun(ectx, cfg, summary.RunID)
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				fmt.Println(renderUploads(uploaded))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seedsFile, "seeds", "", "seed task file, one description per line")
	cmd.Flags().IntVar(&target, "target", 0, "stop after this many SFT records (0 = seeds only)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (default: random UUID)")
	cmd.Flags().BoolVar(&noExport, "no-export", false, "skip the upload configured by export.on_complete")
	return cmd
}

// runPipeline assembles every component from cfg and runs one distillation.
func runPipeline(ctx context.Context, cfg *config.Config, runID string) (*pipeline.Summary, error) {
	runLog := logging.WithComponent("run").With().Str("run_id", runID).Logger()

	provider := llm.NewOpenAIProvider(cfg.ProviderConfig())
	if !provider.Available() {
		return nil, fmt.Errorf("generation backend %s is not configured: set generation.api_key and generation.model", provider.Name())
	}

	store, err := loadPrompts(cfg)
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	var evolveRNG *rand.Rand
	if cfg.Evolution.RandomSeed != 0 {
		evolveRNG = rand.New(rand.NewSource(cfg.Evolution.RandomSeed))
	}
	evolver := task.NewEvolver(catalog, store, evolveRNG)

	var seeds []string
	if cfg.Seeds.File != "" {
		seeds, err = task.LoadSeeds(cfg.Seeds.File)
		if err != nil {
			return nil, err
		}
	}

	paths := cfg.Project.Output
	seen, err := dataset.LoadSeenTasks(paths.SFT, paths.History)
	if err != nil {
		return nil, fmt.Errorf("load previous tasks: %w", err)
	}

	mode, err := fingerprint.ParseMode(cfg.Dedup.Mode)
	if err != nil {
		return nil, err
	}
	index := fingerprint.NewIndex(cfg.Dedup.Capacity)
	memory := golden.NewMemory(cfg.Golden.Capacity, nil)

	goldenStore, err := openGoldenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if goldenStore != nil {
		defer goldenStore.Close()
	}

	events := bus.NewBus()
	prom := metrics.NewProm()
	collector := metrics.NewCollector(runID, prom)
	collector.Attach(events)

	var sink incident.Sink
	if cfg.Incidents.RedisAddr != "" {
		redisSink, err := incident.NewRedisSink(cfg.RedisConfig())
		if err != nil {
			runLog.Warn().Err(err).Msg("incident stream unavailable, logging only")
		} else {
			defer redisSink.Close()
			sink = redisSink
		}
	}
	incident.NewReporter(logging.WithComponent("incident"), sink).Attach(events)

	engine := verdict.NewEngine(
		verdict.NewFastChecker(cfg.FastOptions()),
		verdict.NewMatiecCompiler(cfg.MatiecConfig()),
		logging.WithComponent("verdict"),
	)

	dispatcher := dispatch.New(cfg.DispatchConfig(), provider, engine, store,
		dispatch.WithExemplars(memory),
		dispatch.WithEvents(events, runID),
		dispatch.WithLogger(logging.WithComponent("dispatch")),
	)

	assembler := dataset.NewAssembler(dataset.AssemblerConfig{
		RunID:     runID,
		Negatives: cfg.Dedup.Negatives && paths.Negative != "",
	}, index, fingerprint.Normalizer{Mode: mode})

	writer, err := dataset.OpenWriter(paths)
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	var brainstormer *pipeline.Brainstormer
	if cfg.Seeds.Brainstorm {
		brainstormer = pipeline.NewBrainstormer(pipeline.BrainstormConfig{
			Count:     cfg.Seeds.BrainstormCount,
			Model:     cfg.Generation.Model,
			MaxTokens: cfg.Generation.MaxTokens,
		}, provider, store, nil, logging.WithComponent("brainstorm"))
	}

	deps := pipeline.Deps{
		Preflight:  engine,
		Evolver:    evolver,
		Dispatcher: dispatcher,
		Assembler:  assembler,
		Writer:     writer,
		Index:      index,
		Golden:     memory,
		Brainstorm: brainstormer,
		Bus:        events,
		Seen:       seen,
		Log:        logging.WithComponent("pipeline"),
	}
	if goldenStore != nil {
		deps.Store = goldenStore
	}

	orch := pipeline.New(pipeline.Config{
		RunID:            runID,
		Seeds:            seeds,
		IncludeSeeds:     cfg.Evolution.IncludeSeeds,
		MaxDepth:         cfg.Evolution.MaxDepth,
		TargetCount:      cfg.Seeds.TargetCount,
		BrainstormRounds: cfg.Seeds.BrainstormRounds,
	}, deps)

	if cfg.Status.Addr != "" {
		srv := server.New(server.Config{Addr: cfg.Status.Addr, ShutdownTimeout: 5 * time.Second},
			server.SetupRouter(server.NewStatusHandler(collector, events), prom.Registry),
			logging.WithComponent("status"))
		if err := srv.Start(); err != nil {
			return nil, fmt.Errorf("status server: %w", err)
		}
		defer func() {
			sctx, cancel := logging.DetachContextWithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				runLog.Warn().Err(err).Msg("status server shutdown")
			}
		}()
		fmt.Fprintf(os.Stderr, "%s\n", dimStyle.Render("status on http://"+srv.Addr()))
	}

	summary, runErr := orch.Run(ctx)

	// Every handler has run once Close returns, so the collector is final.
	if err := events.Close(); err != nil {
		runLog.Warn().Err(err).Msg("close event bus")
	}
	if summary != nil {
		stats := collector.Snapshot()
		runLog.Debug().
			Int("retries", stats.Retries).
			Int("duplicates", stats.Duplicates).
			Int("peak_in_flight", dispatcher.Peak()).
			Msg("run metrics")
	}
	return summary, runErr
}

// openGoldenStore returns nil when the golden memory is not persisted.
func openGoldenStore(ctx context.Context, cfg *config.Config) (*data.Store, error) {
	switch cfg.Golden.Backend {
	case config.GoldenNone:
		return nil, nil
	case config.GoldenPostgres:
		s, err := data.OpenPostgres(ctx, cfg.PostgresConfig())
		if err != nil {
			return nil, fmt.Errorf("open golden store: %w", err)
		}
		return s, nil
	default:
		s, err := data.OpenSQLite(cfg.Project.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open golden store: %w", err)
		}
		return s, nil
	}
}

func loadPrompts(cfg *config.Config) (*prompts.Store, error) {
	if cfg.Prompts.File != "" {
		return prompts.LoadFile(cfg.Prompts.File)
	}
	return prompts.Load()
}

func loadCatalog(cfg *config.Config) (task.Catalog, error) {
	if cfg.Evolution.CatalogFile != "" {
		return task.LoadCatalog(cfg.Evolution.CatalogFile)
	}
	return task.DefaultCatalog(), nil
}

func uploadRun(ctx context.Context, cfg *config.Config, runID string) ([]export.Uploaded, error) {
	up, err := export.NewUploader(cfg.UploaderConfig())
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range cfg.Project.Output.Files() {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, errors.New("no dataset files to upload")
	}
	return up.UploadRun(ctx, runID, files)
}
