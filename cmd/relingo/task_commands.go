package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"relingo/internal/config"
	"relingo/internal/daemonrun"
	"relingo/internal/orchestrator"
	"relingo/internal/task"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Create and manage localization tasks",
	}

	taskCmd.AddCommand(newTaskCreateCommand(ctx))
	taskCmd.AddCommand(newTaskStatusCommand(ctx))
	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskCancelCommand(ctx))
	taskCmd.AddCommand(newTaskPurgeCommand(ctx))
	taskCmd.AddCommand(newTaskDownloadsCommand(ctx))

	return taskCmd
}

func newTaskCreateCommand(ctx *commandContext) *cobra.Command {
	var languages []string
	var voice string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "create <video>",
		Short: "Submit a video for localization into one or more languages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve source path: %w", err)
			}
			if voice != "" && !strings.EqualFold(voice, orchestrator.ReferenceVoiceAuto) {
				if voice, err = config.ExpandPath(voice); err != nil {
					return fmt.Errorf("resolve reference voice: %w", err)
				}
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				tk, err := rt.Orchestrator.CreateTask(cmd.Context(), orchestrator.CreateRequest{
					SourcePath:     source,
					Languages:      languages,
					ReferenceVoice: voice,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, tk)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created task %s\n", tk.ID)
				fmt.Fprintf(out, "Languages: %s\n", strings.Join(tk.Languages, ", "))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&languages, "lang", "l", nil, "Target language (repeatable or comma separated)")
	cmd.Flags().StringVar(&voice, "voice", "", "Reference voice sample, or \"auto\" to clone from the source vocals")
	addJSONFlag(cmd, &asJSON)
	_ = cmd.MarkFlagRequired("lang")
	return cmd
}

func newTaskStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show overall and per-language progress of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				snap, err := rt.Orchestrator.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, snap)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(snap, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]task.TaskStatus, 0, len(statuses))
			for _, raw := range statuses {
				status, ok := task.ParseTaskStatus(raw)
				if !ok {
					return fmt.Errorf("unknown task status %q", raw)
				}
				filter = append(filter, status)
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				tasks, err := rt.Orchestrator.ListTasks(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, tasks)
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(tasks))
				for _, tk := range tasks {
					rows = append(rows, []string{
						tk.ID,
						colorizeStatus(string(tk.Status), colorize),
						strings.Join(tk.Languages, ","),
						filepath.Base(tk.SourcePath),
						tk.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{textCol("ID"), textCol("Status"), textCol("Languages"), textCol("Source"), textCol("Created")},
					rows, nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newTaskCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel every unfinished branch of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				if err := rt.Orchestrator.CancelTask(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task %s\n", args[0])
				return nil
			})
		},
	}
}

func newTaskPurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <task-id>",
		Short: "Delete a finished task and all of its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				err := rt.Orchestrator.PurgeTask(cmd.Context(), args[0])
				if errors.Is(err, orchestrator.ErrTaskActive) {
					return fmt.Errorf("task %s is still active; cancel it first", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged task %s\n", args[0])
				return nil
			})
		},
	}
}

func newTaskDownloadsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "downloads <task-id>",
		Short: "List the downloadable artifacts of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				downloads, err := rt.Orchestrator.Downloads(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, downloads)
				}
				if len(downloads) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No downloadable artifacts yet")
					return nil
				}
				rows := make([][]string, 0, len(downloads))
				for _, d := range downloads {
					location := d.Path
					if d.URL != "" {
						location = d.URL
					}
					rows = append(rows, []string{
						string(d.Kind),
						displayLanguage(d.Language),
						formatBytes(d.Size),
						location,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{textCol("Kind"), textCol("Language"), numericCol("Size"), textCol("Location")},
					rows, nil,
				))
				return nil
			})
		},
	}

	addJSONFlag(cmd, &asJSON)
	return cmd
}

func renderSnapshot(snap orchestrator.Snapshot, colorize bool) string {
	var b strings.Builder
	for _, line := range renderSectionHeader("Task "+snap.TaskID, colorize) {
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "Source:  %s\n", snap.SourcePath)
	fmt.Fprintf(&b, "Status:  %s\n", colorizeStatus(string(snap.OverallStatus), colorize))
	fmt.Fprintf(&b, "Updated: %s\n", snap.UpdatedAt.Local().Format(time.DateTime))
	if snap.OrchestrationError != "" {
		fmt.Fprintf(&b, "Error:   %s\n", snap.OrchestrationError)
	}

	branches := append([]orchestrator.BranchSnapshot{snap.Shared}, snap.Branches...)
	rows := make([][]string, 0, len(branches))
	for _, br := range branches {
		rows = append(rows, []string{
			displayLanguage(br.Language),
			string(br.Stage),
			colorizeStatus(string(br.Status), colorize),
			fmt.Sprintf("%d", br.Attempt),
			branchError(br),
		})
	}
	b.WriteString(renderTable(
		[]column{textCol("Branch"), textCol("Stage"), textCol("Status"), numericCol("Attempt"), textCol("Error")},
		rows, nil,
	))
	b.WriteString("\n")
	return b.String()
}

func branchError(br orchestrator.BranchSnapshot) string {
	if br.Error == "" {
		return ""
	}
	if br.ErrorCategory == "" {
		return br.Error
	}
	return br.ErrorCategory + ": " + br.Error
}

func displayLanguage(lang string) string {
	if lang == "" {
		return "shared"
	}
	return lang
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
