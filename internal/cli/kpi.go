package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/kpi"
	"github.com/tmercier/fieldmend/internal/learn"
	"github.com/tmercier/fieldmend/internal/store"
)

var (
	kpiDataset string
	kpiDays    int
	kpiHistory bool
)

var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Show current quality KPIs against their targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		st := store.New(pool)
		tracker := kpi.New(st, learn.New(st, nil, log), log)
		since := time.Now().AddDate(0, 0, -kpiDays)

		if kpiHistory {
			return printKPIHistory(ctx, tracker, since)
		}

		kpis, err := tracker.Compute(ctx, kpiDataset, since)
		if err != nil {
			return err
		}
		compliance := kpi.Compliance(kpis)

		names := make([]string, 0, len(kpis))
		for name := range kpis {
			names = append(names, name)
		}
		sort.Strings(names)

		table := tablewriter.NewTable(os.Stdout)
		table.Header("Metric", "Current", "Target", "Status")
		for _, name := range names {
			target, tracked := kpi.Targets[name]
			targetCell, statusCell := "-", "-"
			if tracked {
				targetCell = fmt.Sprintf("%.2f", target)
				if compliance[name] {
					statusCell = "ok"
				} else {
					statusCell = "MISS"
				}
			}
			if err := table.Append(name, fmt.Sprintf("%.3f", kpis[name]), targetCell, statusCell); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}

		for _, a := range kpi.Alerts(kpis) {
			fmt.Printf("Alert: %s\n", a)
		}
		return nil
	},
}

func printKPIHistory(ctx context.Context, tracker *kpi.Tracker, since time.Time) error {
	snaps, err := tracker.History(ctx, kpiDataset, since)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("No KPI snapshots in the window")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header("Taken", "Detection", "Auto", "Precision", "ms/1000 rows")
	for _, s := range snaps {
		procTime := "-"
		if v, ok := s.KPIs[kpi.MetricProcessingTime]; ok {
			procTime = fmt.Sprintf("%.0f", v*1000)
		}
		if err := table.Append(s.Timestamp.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.2f", s.KPIs[kpi.MetricDetectionRate]),
			fmt.Sprintf("%.2f", s.KPIs[kpi.MetricAutoRate]),
			fmt.Sprintf("%.2f", s.KPIs[kpi.MetricPrecision]), procTime); err != nil {
			return err
		}
	}
	return table.Render()
}

func init() {
	kpiCmd.Flags().StringVar(&kpiDataset, "dataset", "", "restrict to one dataset")
	kpiCmd.Flags().IntVar(&kpiDays, "days", 30, "window size in days")
	kpiCmd.Flags().BoolVar(&kpiHistory, "history", false, "show stored snapshots instead of computing")
}
