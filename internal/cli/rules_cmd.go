package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and check the rule catalog",
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Summarize the compiled rule catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		c := cat.Current()
		stats := cat.Stats()

		fmt.Printf("Rule catalog: %s (version %d)\n", rulesPath(), stats.Version)
		fmt.Printf("  date format:       %s\n", c.DateFormat)
		fmt.Printf("  numeric domains:   %d\n", len(c.Domains))
		fmt.Printf("  temporal pairs:    %d\n", len(c.TemporalPairs))
		fmt.Printf("  referential rules: %d\n", len(c.Referential))
		fmt.Printf("  type signatures:   %d\n", stats.Signatures)
		fmt.Printf("  strategies:        %d\n", stats.Strategies)
		if stats.SkippedRules > 0 {
			fmt.Printf("  skipped (malformed): %d\n", stats.SkippedRules)
		}
		return nil
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the rule file without loading it into a pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			var cfgErr *rules.ConfigurationError
			if errors.As(err, &cfgErr) {
				return fmt.Errorf("rule file is invalid: %w", cfgErr.Err)
			}
			return err
		}
		stats := cat.Stats()
		if stats.SkippedRules > 0 {
			fmt.Printf("Rule file loads with %d malformed rule(s) skipped\n", stats.SkippedRules)
			return nil
		}
		fmt.Println("Rule file is valid")
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesShowCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
}
