package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/correct"
	"github.com/tmercier/fieldmend/internal/kpi"
	"github.com/tmercier/fieldmend/internal/learn"
	"github.com/tmercier/fieldmend/internal/pipeline"
	"github.com/tmercier/fieldmend/internal/queue"
	"github.com/tmercier/fieldmend/internal/store"
	"github.com/tmercier/fieldmend/internal/validation"
)

var workerName string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume records from the ingest stream and correct them",
	Long: `Run a correction worker: records pushed to the mend_records stream
are detected, corrected, persisted, and enqueued for review. Runs until
interrupted. SIGHUP reloads the rule catalog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

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

		rdb, err := connectRedis()
		if err != nil {
			return err
		}
		defer rdb.Close()
		q := queue.New(rdb)

		// Concurrent consumers share one suggestion batch per flush
		// window, so the text strategy sees batched inference calls.
		batcher := correct.NewBatcher(&correct.HeuristicSuggester{},
			correct.DefaultMaxBatch, correct.DefaultFlushAfter, log)
		go batcher.Run(ctx)
		cache := correct.NewResultCache(correct.DefaultCacheTTL)
		arb := correct.New(cat, batcher, cache, log)

		manager := validation.New(st, q, log)
		tracker := kpi.New(st, learn.New(st, nil, log), log)
		p := pipeline.New(newDetectEngine(cat), arb, st, manager, tracker, log)

		if workerName == "" {
			host, _ := os.Hostname()
			workerName = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
		}

		// SIGHUP reloads the rule catalog without restarting the worker.
		// Cached suggestions predate the new rules, so they go too.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for range hup {
				if err := cat.Reload(); err != nil {
					log.Error().Err(err).Msg("rule reload failed, keeping previous catalog")
					continue
				}
				cache.Invalidate()
			}
		}()
		defer signal.Stop(hup)

		w := pipeline.NewWorker(p, q, workerName, log)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info().Msg("worker stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerName, "name", "", "consumer name (default host+pid)")
}
