package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/learn"
	"github.com/tmercier/fieldmend/internal/quality"
	"github.com/tmercier/fieldmend/internal/store"
)

var (
	retrainEpochs int
	retrainForce  bool
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Retrain the correction model on the validated corpus",
	Long: `Fine-tune on every training example and publish the result as the
active model version. Skips (without error) when the corpus is below ` +
		fmt.Sprint(learn.MinTrainingExamples) + ` examples, unless --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		modelDir := cfg.ModelDir
		if !filepath.IsAbs(modelDir) {
			modelDir = filepath.Join(projectRoot(), modelDir)
		}
		engine := learn.New(store.New(pool), &learn.CorpusTrainer{Dir: modelDir}, log)

		res, err := engine.Retrain(ctx, retrainEpochs, retrainForce)
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Printf("Retrain skipped: %s\n", res.SkippedReason)
			return nil
		}
		fmt.Printf("Published %s (%d examples, %d epochs, %.1fs)\n",
			res.Version.Version, res.Version.TrainingExamplesCount,
			res.Version.NumEpochs, res.Version.DurationSeconds)
		fmt.Printf("Artifact: %s\n", res.Version.ModelPath)
		return nil
	},
}

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show monthly model accuracy and the improvement rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		st := store.New(pool)
		engine := learn.New(st, nil, log)

		if mv, err := engine.ActiveVersion(ctx); err == nil {
			fmt.Printf("Active model: %s (trained %s on %d examples)\n\n",
				mv.Version, mv.TrainedAt.Format("2006-01-02"), mv.TrainingExamplesCount)
		} else if !errors.Is(err, quality.ErrNotFound) {
			return err
		}

		trend, err := engine.AccuracyTrend(ctx)
		if err != nil {
			return err
		}
		if len(trend.Months) == 0 {
			fmt.Println("No model-suggested validations yet")
			return nil
		}

		table := tablewriter.NewTable(os.Stdout)
		table.Header("Month", "Validated", "Hits", "Accuracy")
		for _, m := range trend.Months {
			if err := table.Append(m.Month, fmt.Sprintf("%d", m.Total),
				fmt.Sprintf("%d", m.Hits), fmt.Sprintf("%.1f%%", m.Accuracy*100)); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}

		status := "below"
		if trend.MeetsTarget {
			status = "meets"
		}
		fmt.Printf("\nImprovement: %.1f%%/month (%s %.0f%% target)\n",
			trend.ImprovementRate*100, status, learn.MonthlyImprovementTarget*100)
		return nil
	},
}

func init() {
	retrainCmd.Flags().IntVar(&retrainEpochs, "epochs", 3, "fine-tune epochs")
	retrainCmd.Flags().BoolVar(&retrainForce, "force", false, "retrain even with a small corpus")
}
