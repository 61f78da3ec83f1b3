package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/angleyanalbedo/generatestcode/internal/config"
	"github.com/angleyanalbedo/generatestcode/internal/llm"
	"github.com/angleyanalbedo/generatestcode/internal/task"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

type checkResult struct {
	name   string
	detail string
	err    error
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the compiler, stores and backend before a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			results := runChecks(ctx, cfg)
			fmt.Println(renderChecks(results))

			failed := 0
			for _, r := range results {
				if r.err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func runChecks(ctx context.Context, cfg *config.Config) []checkResult {
	var results []checkResult

	results = append(results, checkResult{name: "config", detail: getConfigPath(), err: cfg.Validate()})

	compiler := verdict.NewMatiecCompiler(cfg.MatiecConfig())
	results = append(results, checkResult{name: "compiler", detail: cfg.Verdict.Compiler, err: compiler.Preflight()})

	if cfg.Seeds.File != "" {
		seeds, err := task.LoadSeeds(cfg.Seeds.File)
		results = append(results, checkResult{
			name:   "seeds",
			detail: fmt.Sprintf("%d tasks in %s", len(seeds), cfg.Seeds.File),
			err:    err,
		})
	}

	if cfg.Evolution.CatalogFile != "" {
		catalog, err := loadCatalog(cfg)
		results = append(results, checkResult{
			name:   "catalog",
			detail: fmt.Sprintf("%d constraints", len(catalog)),
			err:    err,
		})
	}

	if _, err := loadPrompts(cfg); err != nil || cfg.Prompts.File != "" {
		results = append(results, checkResult{name: "prompts", detail: cfg.Prompts.File, err: err})
	}

	if cfg.Golden.Backend != config.GoldenNone {
		store, err := openGoldenStore(ctx, cfg)
		detail := cfg.Golden.Backend
		if err == nil {
			err = store.Health(ctx)
			if stats, serr := store.Stats(ctx); serr == nil {
				detail = fmt.Sprintf("%s: %d fingerprints, %d exemplars", cfg.Golden.Backend, stats.Fingerprints, stats.Exemplars)
			}
			store.Close()
		}
		results = append(results, checkResult{name: "golden", detail: detail, err: err})
	}

	provider := llm.NewOpenAIProvider(cfg.ProviderConfig())
	var backendErr error
	if !provider.Available() {
		backendErr = fmt.Errorf("api key or model missing for %s", provider.Name())
	}
	results = append(results, checkResult{
		name:   "backend",
		detail: fmt.Sprintf("%s %s", cfg.Generation.Endpoint, cfg.Generation.Model),
		err:    backendErr,
	})

	for _, p := range cfg.Project.Output.Files() {
		if _, err := os.Stat(p); err == nil {
			results = append(results, checkResult{name: "output", detail: p + " exists, records will be appended"})
		}
	}
	return results
}
