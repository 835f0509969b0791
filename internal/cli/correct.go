package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/kpi"
	"github.com/tmercier/fieldmend/internal/learn"
	"github.com/tmercier/fieldmend/internal/pipeline"
	"github.com/tmercier/fieldmend/internal/queue"
	"github.com/tmercier/fieldmend/internal/store"
	"github.com/tmercier/fieldmend/internal/validation"
)

var (
	correctInput   string
	correctOutput  string
	correctDataset string
	correctNoAuto  bool
)

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Run records through the full correction pipeline",
	Long: `Detect inconsistencies, arbitrate correction candidates, auto-apply
the confident ones, and enqueue the rest for human review. Corrections
are persisted and a KPI snapshot is taken for the batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		rows, err := readRecords(correctInput)
		if err != nil {
			return err
		}

		cat, err := loadCatalog()
		if err != nil {
			return err
		}

		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		st := store.New(pool)

		// Review notifications are best-effort; run without Redis if
		// it's not reachable.
		var notifier validation.Notifier
		if rdb, err := connectRedis(); err == nil {
			defer rdb.Close()
			q := queue.New(rdb)
			if err := q.EnsureStreams(ctx); err == nil {
				notifier = q
			}
		}

		manager := validation.New(st, notifier, log)
		tracker := kpi.New(st, learn.New(st, nil, log), log)
		p := pipeline.New(newDetectEngine(cat), newArbiter(cat), st, manager, tracker, log)
		p.AutoApply = !correctNoAuto

		res, err := p.ProcessBatch(ctx, correctDataset, rows)
		if err != nil {
			return err
		}

		if correctOutput != "" {
			corrected := make([]map[string]any, len(res.Records))
			for i, rr := range res.Records {
				corrected[i] = rr.Fields
			}
			data, err := json.MarshalIndent(corrected, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(correctOutput, data, 0644); err != nil {
				return fmt.Errorf("write corrected records: %w", err)
			}
			fmt.Printf("Wrote corrected records to %s\n", correctOutput)
		}

		fmt.Printf("Processed %d records in %s\n", len(rows), res.Elapsed.Round(1e6))
		fmt.Printf("  %d inconsistencies detected\n", res.Detected)
		fmt.Printf("  %d corrections auto-applied\n", res.AutoApplied)
		fmt.Printf("  %d corrections enqueued for review\n", res.Enqueued)
		if res.Snapshot != nil {
			for _, a := range kpi.Alerts(res.Snapshot.KPIs) {
				fmt.Printf("  KPI alert: %s\n", a)
			}
		}
		return nil
	},
}

func init() {
	correctCmd.Flags().StringVarP(&correctInput, "input", "i", "", "JSON file with an array of records (default stdin)")
	correctCmd.Flags().StringVarP(&correctOutput, "output", "o", "", "write corrected records to this file")
	correctCmd.Flags().StringVar(&correctDataset, "dataset", "", "dataset id to tag corrections with")
	correctCmd.Flags().BoolVar(&correctNoAuto, "no-auto", false, "record confident corrections without applying them")
}
