package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relingo/internal/logging"
	"relingo/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		taskID string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the running daemon's log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logs.CurrentPath(cfg.Paths.LogDir)
			opts := logs.Options{Lines: lines}
			if taskID != "" {
				opts.Match = taskMatch(cfg.Logging.Format, taskID)
			}
			out := cmd.OutOrStdout()
			last, offset, err := logs.Last(path, opts)
			if err != nil {
				return err
			}
			for _, line := range last {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(runCtx, path, offset, opts, 0, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&taskID, "task", "", "Only show lines for this task id")
	return cmd
}

// taskMatch returns the substring that identifies a task's lines in the given
// log format. Console lines carry an 8-character id prefix.
func taskMatch(format, taskID string) string {
	if format == "json" {
		return fmt.Sprintf("%q:%q", logging.FieldTaskID, taskID)
	}
	if len(taskID) > 8 {
		taskID = taskID[:8]
	}
	return "[" + taskID
}
