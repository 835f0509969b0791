package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/quality"
	"github.com/tmercier/fieldmend/internal/store"
	"github.com/tmercier/fieldmend/internal/validation"
)

var (
	validateDecision  string
	validateValue     string
	validateValidator string
	validateRole      string
	validateComments  string
	validateBatch     string
	validateStats     bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [correction-id]",
	Short: "Record a human decision on a correction",
	Long: `Record ACCEPT, REJECT, or MODIFY for one correction, or a batch of
decisions from a JSON file. Every decision, rejections included, adds a
training example. With --stats, show the per-validator leaderboard.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		manager := validation.New(store.New(pool), nil, log)

		if validateStats {
			return printValidatorStats(ctx, manager)
		}

		if validateBatch != "" {
			return runBatchValidate(ctx, manager)
		}

		if len(args) != 1 {
			return fmt.Errorf("correction id required (or use --batch / --stats)")
		}
		decision, err := quality.ParseDecision(validateDecision)
		if err != nil {
			return err
		}
		if validateValidator == "" {
			return fmt.Errorf("--validator is required")
		}

		req := validation.ValidateRequest{
			CorrectionID:  args[0],
			Decision:      decision,
			ValidatorID:   validateValidator,
			ValidatorRole: validateRole,
			Comments:      validateComments,
		}
		if decision == quality.DecisionModify {
			if validateValue == "" {
				return fmt.Errorf("--value is required with MODIFY")
			}
			req.CorrectedValue = validateValue
		}

		res, err := manager.Validate(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Recorded %s on %s (final value: %v)\n", res.Decision, res.CorrectionID, res.FinalValue)
		return nil
	},
}

func runBatchValidate(ctx context.Context, manager *validation.Manager) error {
	data, err := os.ReadFile(validateBatch)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	var reqs []validation.ValidateRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}

	res := manager.BatchValidate(ctx, reqs)
	fmt.Printf("Processed %d of %d decisions\n", res.Processed, len(reqs))
	for _, e := range res.Errors {
		fmt.Printf("  %s: %s\n", e.CorrectionID, e.Err)
	}
	return nil
}

func printValidatorStats(ctx context.Context, manager *validation.Manager) error {
	stats, err := manager.Stats(ctx)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Println("No validations recorded yet")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header("Validator", "Total", "Accepted", "Rejected", "Modified", "Acceptance")
	for _, s := range stats {
		if err := table.Append(s.ValidatorID, fmt.Sprintf("%d", s.Total),
			fmt.Sprintf("%d", s.Accepted), fmt.Sprintf("%d", s.Rejected),
			fmt.Sprintf("%d", s.Modified), fmt.Sprintf("%.0f%%", s.AcceptanceRate*100)); err != nil {
			return err
		}
	}
	return table.Render()
}

func init() {
	validateCmd.Flags().StringVarP(&validateDecision, "decision", "d", "", "ACCEPT, REJECT, or MODIFY")
	validateCmd.Flags().StringVar(&validateValue, "value", "", "corrected value (MODIFY only)")
	validateCmd.Flags().StringVar(&validateValidator, "validator", "", "validator id")
	validateCmd.Flags().StringVar(&validateRole, "role", "", "validator role")
	validateCmd.Flags().StringVar(&validateComments, "comments", "", "free-form comments")
	validateCmd.Flags().StringVar(&validateBatch, "batch", "", "JSON file with an array of decisions")
	validateCmd.Flags().BoolVar(&validateStats, "stats", false, "show per-validator statistics")
}
