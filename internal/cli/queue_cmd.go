package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/queue"
	"github.com/tmercier/fieldmend/internal/store"
)

var (
	queueValidator string
	queueLimit     int
	queueMaxConf   float64
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the validation queue and stream backlogs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		st := store.New(pool)

		items, err := st.PendingItems(ctx, store.PendingOptions{
			ValidatorID:   queueValidator,
			Limit:         queueLimit,
			MaxConfidence: queueMaxConf,
		})
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("Validation queue is empty")
		} else {
			table := tablewriter.NewTable(os.Stdout)
			table.Header("Item", "Field", "Type", "Old", "Suggested", "Conf", "Prio", "Status")
			for _, it := range items {
				if err := table.Append(it.ID, it.Field, string(it.Type),
					fmt.Sprintf("%v", it.OldValue), fmt.Sprintf("%v", it.NewValue),
					fmt.Sprintf("%.2f", it.Confidence), fmt.Sprintf("%d", it.Priority),
					string(it.QueueStatus)); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}
		}

		rdb, err := connectRedis()
		if err != nil {
			return nil // queue listing alone is still useful
		}
		defer rdb.Close()
		records, reviews, err := queue.New(rdb).Status(ctx)
		if err == nil {
			fmt.Printf("\nStreams: %d records pending, %d review notifications\n", records, reviews)
		}
		return nil
	},
}

func init() {
	queueCmd.Flags().StringVar(&queueValidator, "validator", "", "include items assigned to this validator")
	queueCmd.Flags().IntVar(&queueLimit, "limit", 20, "max items to show")
	queueCmd.Flags().Float64Var(&queueMaxConf, "max-confidence", 0, "only items at or below this confidence")
}
