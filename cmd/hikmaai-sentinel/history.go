// ABOUTME: History command for listing recorded scan outcomes and looking up targets
// ABOUTME: Reads the configured history backend directly, without the remote service

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/history"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded scan outcomes",
	}
	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryLookupCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var (
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := openHistoryForCLI(cmd)
			if err != nil {
				return err
			}
			defer rec.Close()

			outcomes, err := rec.ListOutcomes(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), outcomes)
			}
			return writeOutcomeTable(cmd.OutOrStdout(), outcomes)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultListLimit, "maximum outcomes to show")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func newHistoryLookupCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "lookup <file|url|phone> <target>",
		Short: "Show the newest outcome for a target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := types.ParseTarget(args[0], args[1])
			if err != nil {
				return err
			}

			rec, err := openHistoryForCLI(cmd)
			if err != nil {
				return err
			}
			defer rec.Close()

			outcome, err := rec.LookupTarget(cmd.Context(), target)
			if err != nil {
				return err
			}
			if outcome == nil {
				return fmt.Errorf("no outcome recorded for %s", target)
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), outcome)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n\n%s\n",
				outcome.Timestamp.Local().Format(time.DateTime), outcome.Verdict, outcome.TargetKey(), outcome.Summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func openHistoryForCLI(cmd *cobra.Command) (history.Recorder, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rec, err := openHistory(cmd.Context(), cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("history is disabled (history.backend = \"none\")")
	}
	return rec, nil
}

func writeOutcomeTable(w io.Writer, outcomes []*types.ScanOutcome) error {
	if len(outcomes) == 0 {
		_, err := fmt.Fprintln(w, "no outcomes recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tVERDICT\tMALICIOUS\tTARGET")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			o.Timestamp.Local().Format(time.DateTime), o.ScanType, o.Verdict, o.MaliciousCount, o.Target)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
