package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relingo/internal/daemonrun"
	"relingo/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check configuration, external tools and services before running the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				results := rt.Preflight(cmd.Context())
				if asJSON {
					if err := writeJSON(cmd, results); err != nil {
						return err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), renderPreflight(results, shouldColorize(cmd.OutOrStdout())))
				}
				if failed := preflight.Failed(results); len(failed) > 0 {
					return fmt.Errorf("%d required check(s) failed", len(failed))
				}
				return nil
			})
		},
	}

	addJSONFlag(cmd, &asJSON)
	return cmd
}

func renderPreflight(results []preflight.Result, colorize bool) string {
	lines := renderSectionHeader("Preflight", colorize)
	for _, r := range results {
		kind := statusOK
		switch {
		case !r.Passed && r.Optional:
			kind = statusWarn
		case !r.Passed:
			kind = statusError
		}
		lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}
	return strings.Join(lines, "\n") + "\n"
}
