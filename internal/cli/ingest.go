package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/quality"
	"github.com/tmercier/fieldmend/internal/queue"
)

var (
	ingestInput   string
	ingestDataset string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Push records onto the ingest stream for workers",
	Long: `Read a JSON file of records and push each onto the mend_records
stream. Running workers pick them up, correct them, and enqueue the
uncertain corrections for review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		rows, err := readRecords(ingestInput)
		if err != nil {
			return err
		}

		rdb, err := connectRedis()
		if err != nil {
			return err
		}
		defer rdb.Close()

		q := queue.New(rdb)
		if err := q.EnsureStreams(ctx); err != nil {
			return err
		}

		for _, row := range rows {
			_, err := q.PushRecord(ctx, queue.RecordMessage{
				DatasetID: ingestDataset,
				RecordID:  quality.NewID("rec"),
				Fields:    row,
			})
			if err != nil {
				return err
			}
		}
		fmt.Printf("Pushed %d records to %s\n", len(rows), queue.StreamRecords)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestInput, "input", "i", "", "JSON file with an array of records (default stdin)")
	ingestCmd.Flags().StringVar(&ingestDataset, "dataset", "", "dataset id to tag records with")
}
