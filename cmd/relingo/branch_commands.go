package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relingo/internal/daemonrun"
	"relingo/internal/task"
)

func newBranchCommand(ctx *commandContext) *cobra.Command {
	branchCmd := &cobra.Command{
		Use:   "branch",
		Short: "Control individual language branches of a task",
	}

	branchCmd.AddCommand(newBranchCancelCommand(ctx))
	branchCmd.AddCommand(newBranchRetryCommand(ctx))
	branchCmd.AddCommand(newBranchRerunCommand(ctx))

	return branchCmd
}

func newBranchCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id> <language|shared>",
		Short: "Cancel one language branch; other languages keep running",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				if err := rt.Orchestrator.CancelBranch(cmd.Context(), args[0], branchArg(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled branch %s of task %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func newBranchRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id> [language]",
		Short: "Restart a failed or cancelled branch at the stage where it stopped",
		Long: "Restart a failed or cancelled branch at the stage where it stopped.\n" +
			"Omit the language to retry the shared separation/recognition branch.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang := ""
			if len(args) == 2 {
				lang = branchArg(args[1])
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				if err := rt.Orchestrator.RetryBranch(cmd.Context(), args[0], lang); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying branch %s of task %s\n", displayLanguage(lang), args[0])
				return nil
			})
		},
	}
}

func newBranchRerunCommand(ctx *commandContext) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "rerun <task-id> <language>",
		Short: "Re-execute a branch from an earlier stage",
		Long: "Re-execute a branch from an earlier stage. Previously committed artifacts\n" +
			"are kept; the rerun writes new revisions next to them.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := task.ParseStage(strings.TrimSpace(from))
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				if err := rt.Orchestrator.RerunFrom(cmd.Context(), args[0], args[1], stage); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rerunning branch %s of task %s from %s\n", args[1], args[0], stage)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Stage to restart from (translation, synthesis, subtitle_assembly, render)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

// branchArg maps the "shared" keyword onto the shared pseudo-branch.
func branchArg(value string) string {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "shared") {
		return ""
	}
	return value
}
