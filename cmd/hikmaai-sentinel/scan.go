// ABOUTME: Scan command submitting one file, URL or phone number and waiting for the result
// ABOUTME: Prints the result text, optionally as JSON, with poll progress on stderr

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/poller"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/scan"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

func newScanCmd() *cobra.Command {
	var (
		filePath   string
		rawURL     string
		phone      string
		outputJSON bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "scan [file]",
		Short: "Scan a file, URL or phone number",
		Long: `Submit a target to the analysis service and wait for the result.

The command polls the analysis until enough engines have reported, the
attempt budget runs out, or the wall-clock limit is reached, and prints the
same result text in every case. The outcome is recorded in the scan history.

Examples:
  hikmaai-sentinel scan ./suspicious.exe
  hikmaai-sentinel scan --url example.com
  hikmaai-sentinel scan --file gs://uploads/sample.bin --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if filePath != "" {
					return errors.New("give the file either as an argument or with --file")
				}
				filePath = args[0]
			}
			target, err := targetFromFlags(filePath, rawURL, phone)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			sess, err := a.scans.Start(ctx, target)
			if err != nil {
				return err
			}
			if !quiet {
				events, unsubscribe, err := a.scans.Subscribe(sess.ID)
				if err == nil {
					defer unsubscribe()
					go printProgress(cmd.ErrOrStderr(), events)
				}
			}

			// Ctrl-C cancels the session; Wait still returns its final state.
			stop := context.AfterFunc(ctx, func() { _ = a.scans.Cancel(sess.ID) })
			defer stop()
			final, err := a.scans.Wait(context.WithoutCancel(ctx), sess.ID)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), final, outputJSON)
		},
	}

	cmd.Flags().StringVar(&filePath, "file", "", "local file path or gs:// URI to scan")
	cmd.Flags().StringVar(&rawURL, "url", "", "URL to scan")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number to scan")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the session as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print poll progress")
	cmd.MarkFlagsMutuallyExclusive("file", "url", "phone")

	return cmd
}

// targetFromFlags builds the single target named by the flags.
func targetFromFlags(filePath, rawURL, phone string) (types.ScanTarget, error) {
	switch {
	case filePath != "":
		return types.NewFileTarget(filePath)
	case rawURL != "":
		return types.NewURLTarget(rawURL)
	case phone != "":
		return types.NewPhoneTarget(phone)
	default:
		return types.ScanTarget{}, errors.New("nothing to scan: give a file, --url or --phone")
	}
}

func printProgress(w io.Writer, events <-chan scan.Event) {
	for ev := range events {
		switch {
		case ev.Type == scan.EventStatus:
			fmt.Fprintf(w, "[%s] %s\n", ev.At.Format(time.TimeOnly), ev.Status)
		case ev.Poll != nil && ev.Poll.State == poller.StateWaiting:
			line := fmt.Sprintf("[%s] attempt %d/%d: %s",
				ev.At.Format(time.TimeOnly), ev.Poll.Attempt, ev.Poll.MaxAttempts, ev.Poll.LastStatus)
			if ev.Poll.Total > 0 {
				line += fmt.Sprintf(" (%d/%d engines)", ev.Poll.Scanned, ev.Poll.Total)
			}
			if ev.Poll.Error != "" {
				line += " error: " + ev.Poll.Error
			}
			fmt.Fprintf(w, "%s, next check in %s\n", line, ev.Poll.Wait)
		}
	}
}

func writeResult(w io.Writer, sess types.Session, asJSON bool) error {
	if asJSON {
		return writeJSON(w, sess)
	}
	_, err := fmt.Fprintln(w, sess.Result)
	return err
}
