// Package cli implements the fieldmend command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/config"
	"github.com/tmercier/fieldmend/internal/correct"
	"github.com/tmercier/fieldmend/internal/detect"
	"github.com/tmercier/fieldmend/internal/logging"
	"github.com/tmercier/fieldmend/internal/rules"
)

var (
	cfg     *config.Config
	log     zerolog.Logger
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "fieldmend",
		Short: "Fieldmend: detect, correct, and validate data quality issues in tabular records",
		Long: `Fieldmend runs tabular records through rule-based inconsistency
detection, arbitrates rule and model correction candidates, auto-applies
the confident ones, and routes the rest to a human validation queue.
Every validation feeds the training corpus that improves the model.

Typical flow:
  fieldmend init
  fieldmend correct --input records.json
  fieldmend review --validator alice
  fieldmend kpi`,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(retrainCmd)
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(kpiCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(workerCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log = logging.New(verbose)
}

func connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w\nSet FIELDMEND_DATABASE_URL environment variable", err)
	}
	return pool, nil
}

func connectRedis() (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w\nSet FIELDMEND_REDIS_URL environment variable", err)
	}
	return redis.NewClient(opts), nil
}

func projectRoot() string {
	return cfg.ProjectRoot
}

func migrationsDir() string {
	return filepath.Join(projectRoot(), "migrations")
}

func rulesPath() string {
	if filepath.IsAbs(cfg.RulesPath) {
		return cfg.RulesPath
	}
	return filepath.Join(projectRoot(), cfg.RulesPath)
}

// loadCatalog loads the rule catalog the commands share.
func loadCatalog() (*rules.Catalog, error) {
	return rules.Load(rulesPath(), log)
}

// newArbiter builds the standard one-shot arbiter: heuristic text
// suggester with an in-process result cache. The date format travels in
// each request, so the suggester needs no catalog snapshot. The worker
// builds its own stack to put a Batcher in front of the suggester.
func newArbiter(cat *rules.Catalog) *correct.Arbiter {
	cache := correct.NewResultCache(correct.DefaultCacheTTL)
	return correct.New(cat, &correct.HeuristicSuggester{}, cache, log)
}

func newDetectEngine(cat *rules.Catalog) *detect.Engine {
	return detect.New(cat, log)
}
