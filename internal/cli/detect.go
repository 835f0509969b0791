package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/quality"
)

var (
	detectInput string
	detectJSON  bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Scan records for inconsistencies without correcting them",
	Long: `Scan a JSON file of records (an array of flat objects) against the
rule catalog and report every inconsistency found. Nothing is persisted;
use 'fieldmend correct' to run the full pipeline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := readRecords(detectInput)
		if err != nil {
			return err
		}

		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		engine := newDetectEngine(cat)

		type found struct {
			Record          int                     `json:"record"`
			Inconsistencies []quality.Inconsistency `json:"inconsistencies"`
		}
		var results []found
		total := 0
		for i, row := range rows {
			incs := engine.Detect(row)
			if len(incs) == 0 {
				continue
			}
			results = append(results, found{Record: i, Inconsistencies: incs})
			total += len(incs)
		}

		if detectJSON {
			return json.NewEncoder(os.Stdout).Encode(results)
		}

		if total == 0 {
			fmt.Printf("No inconsistencies in %d records\n", len(rows))
			return nil
		}

		table := tablewriter.NewTable(os.Stdout)
		table.Header("Record", "Field", "Type", "Value", "Message")
		for _, r := range results {
			for _, inc := range r.Inconsistencies {
				if err := table.Append(fmt.Sprintf("%d", r.Record), inc.Field,
					string(inc.Type), fmt.Sprintf("%v", inc.Value), inc.Message); err != nil {
					return err
				}
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Printf("\n%d inconsistencies in %d of %d records\n", total, len(results), len(rows))
		return nil
	},
}

func init() {
	detectCmd.Flags().StringVarP(&detectInput, "input", "i", "", "JSON file with an array of records (default stdin)")
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "JSON output")
}

// readRecords loads an array of flat JSON objects from a file, or stdin
// when path is empty.
func readRecords(path string) ([]map[string]any, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse records (want a JSON array of objects): %w", err)
	}
	return rows, nil
}
