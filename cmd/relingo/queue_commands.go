package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"relingo/internal/daemonrun"
	"relingo/internal/dispatch"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the dispatch queue",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))

	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ready, delayed and leased items per resource class",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				stats, err := rt.Queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				rows := buildQueueStatsRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{textCol("Class"), numericCol("Ready"), numericCol("Delayed"), numericCol("Leased"), numericCol("Redelivered"), numericCol("Total")},
					rows,
					queueStatsFooter(stats),
				))
				return nil
			})
		},
	}

	addJSONFlag(cmd, &asJSON)
	return cmd
}

func buildQueueStatsRows(stats []dispatch.ClassStats) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		if s.Total() == 0 {
			continue
		}
		rows = append(rows, []string{
			s.ResourceClass,
			strconv.Itoa(s.Ready),
			strconv.Itoa(s.Delayed),
			strconv.Itoa(s.Leased),
			strconv.Itoa(s.Redelivered),
			strconv.Itoa(s.Total()),
		})
	}
	return rows
}

// queueStatsFooter sums every class, empty ones included.
func queueStatsFooter(stats []dispatch.ClassStats) []string {
	var sum dispatch.ClassStats
	for _, s := range stats {
		sum.Ready += s.Ready
		sum.Delayed += s.Delayed
		sum.Leased += s.Leased
		sum.Redelivered += s.Redelivered
	}
	return []string{
		"all",
		strconv.Itoa(sum.Ready),
		strconv.Itoa(sum.Delayed),
		strconv.Itoa(sum.Leased),
		strconv.Itoa(sum.Redelivered),
		strconv.Itoa(sum.Total()),
	}
}
