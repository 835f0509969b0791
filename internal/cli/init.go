package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/db"
	"github.com/tmercier/fieldmend/internal/queue"
)

var minimal bool

const defaultRules = `# fieldmend rule catalog
version: 1

date_format: "2006-01-02"
date_field_patterns:
  - "*date*"
  - "*_at"
  - "*_on"

# Numeric domains per field. Values outside [min, max] are DOMAIN
# inconsistencies.
domains:
  age: {min: 0, max: 120}
  percentage: {min: 0, max: 100}

# Ordered date pairs: start must not be after end.
temporal_pairs:
  - {start: start_date, end: end_date}

# Referential rules: combinations of field values that are invalid
# together.
referential:
  - field_1: status
    value_1: shipped
    field_2: shipped_date
    value_2: ""
    message: "shipped orders must carry a shipped_date"

# Absolute magnitude above which a numeric value is a STATISTICAL
# inconsistency.
outlier_threshold: 1000000

# Regex signatures for SEMANTIC checks.
type_signatures:
  email: "^[^@\\s]+@[^@\\s]+\\.[^@\\s]+$"
  phone: "^\\+?[0-9][0-9 ()-]{6,}$"

field_types:
  email: {expected: email}
  phone: {expected: phone, forbidden: [email]}

# Declarative correction strategies. Confidence >= 0.90 auto-applies.
strategies:
  - field: "age"
    type: DOMAIN
    action: CLAMP_MIN
    confidence: 0.92
  - field: "percentage"
    type: DOMAIN
    action: CLAMP_MAX
    confidence: 0.92
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a fieldmend project",
	Long:  "Initialize project: rules.yaml, models/, PostgreSQL schema, Redis streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		// Rule catalog template
		path := rulesPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(defaultRules), 0644); err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			fmt.Printf("Created %s\n", path)
		} else {
			fmt.Printf("%s already exists\n", path)
		}

		// Model artifact directory
		modelDir := cfg.ModelDir
		if !filepath.IsAbs(modelDir) {
			modelDir = filepath.Join(projectRoot(), modelDir)
		}
		if err := os.MkdirAll(modelDir, 0755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
		fmt.Printf("Created %s/\n", modelDir)

		if minimal {
			fmt.Println("\nMinimal init complete. Run 'fieldmend init' (without --minimal) to set up PostgreSQL and Redis.")
			return nil
		}

		fmt.Println("Connecting to PostgreSQL...")
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()

		fmt.Println("Running migrations...")
		if err := db.Migrate(ctx, pool, migrationsDir()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Println("PostgreSQL schema created")

		fmt.Println("Connecting to Redis...")
		rdb, err := connectRedis()
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer rdb.Close()

		q := queue.New(rdb)
		if err := q.EnsureStreams(ctx); err != nil {
			return fmt.Errorf("redis stream setup failed: %w", err)
		}
		fmt.Println("Redis streams created")

		fmt.Println("\nfieldmend project initialized successfully.")
		fmt.Println("Next steps:")
		fmt.Println("  1. Edit rules.yaml for your dataset's fields")
		fmt.Println("  2. Run: fieldmend correct --input records.json")
		fmt.Println("  3. Run: fieldmend review --validator <you>")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&minimal, "minimal", false, "Minimal init: rules.yaml + models/ only")
}
