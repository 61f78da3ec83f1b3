package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/angleyanalbedo/generatestcode/internal/config"
	"github.com/angleyanalbedo/generatestcode/internal/dataset"
	"github.com/angleyanalbedo/generatestcode/internal/fingerprint"
	"github.com/angleyanalbedo/generatestcode/internal/golden"
)

func goldenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "golden",
		Short: "Manage the persistent fingerprint and exemplar store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <sft.jsonl>...",
		Short: "Import accepted records from existing SFT files",
		Long: `Fingerprint every record of the given SFT files so later runs skip them as
duplicates, and offer eligible solutions to the exemplar memory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			res, err := importGolden(ctx, cfg, args)
			if err != nil {
				return err
			}
			fmt.Println(renderImport(res))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show golden store counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			store, err := openGoldenStore(ctx, cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("golden.backend is none")
			}
			defer store.Close()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Println(boxStyle.Render(strings.Join([]string{
				titleStyle.Render("Golden store"),
				row("backend", cfg.Golden.Backend),
				row("fingerprints", stats.Fingerprints),
				row("exemplars", stats.Exemplars),
				row("runs", stats.Runs),
			}, "\n")))
			return nil
		},
	})

	return cmd
}

type importResult struct {
	Files     int
	Records   int
	Exemplars int
}

func importGolden(ctx context.Context, cfg *config.Config, files []string) (importResult, error) {
	var res importResult

	mode, err := fingerprint.ParseMode(cfg.Dedup.Mode)
	if err != nil {
		return res, err
	}
	norm := fingerprint.Normalizer{Mode: mode}

	store, err := openGoldenStore(ctx, cfg)
	if err != nil {
		return res, err
	}
	if store == nil {
		return res, errors.New("golden.backend is none, nothing to import into")
	}
	defer store.Close()

	stored, err := store.LoadFingerprints(ctx)
	if err != nil {
		return res, err
	}
	known := make(map[fingerprint.Fingerprint]struct{}, len(stored))
	for _, fp := range stored {
		known[fp] = struct{}{}
	}

	existing, err := store.LoadExemplars(ctx)
	if err != nil {
		return res, err
	}
	memory := golden.NewMemory(cfg.Golden.Capacity, nil)
	memory.Load(existing)

	now := time.Now().UTC()
	for _, path := range files {
		records, err := dataset.ReadSFT(path)
		if err != nil {
			return res, err
		}
		entries := make([]golden.FingerprintEntry, 0, len(records))
		for _, rec := range records {
			fp := norm.Of(rec.Output)
			entries = append(entries, golden.FingerprintEntry{
				Fingerprint: fp,
				TaskID:      rec.Metadata.TaskID,
				RunID:       rec.Metadata.RunID,
				CreatedAt:   now,
			})
			if _, dup := known[fp]; dup {
				continue
			}
			known[fp] = struct{}{}
			if memory.Offer(golden.Entry{Fingerprint: fp, Instruction: rec.Instruction, Code: rec.Output, CreatedAt: now}) {
				res.Exemplars++
			}
		}
		if err := store.SaveFingerprints(ctx, entries); err != nil {
			return res, fmt.Errorf("save fingerprints from %s: %w", path, err)
		}
		res.Files++
		res.Records += len(records)
	}

	if err := store.ReplaceExemplars(ctx, memory.Snapshot()); err != nil {
		return res, err
	}
	return res, nil
}
