package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/streamtune/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded sessions and trials",
		Long: `Inspect the tuning sessions, trials and failures recorded in the store.

Trials are listed by sequence; "best" ranks them by running time with the
fastest first. Failures keep the encoded configuration the harness was given
so a failing candidate can be replayed by hand.`,
	}

	cmd.AddCommand(newHistorySessionsCommand())
	cmd.AddCommand(newHistoryTrialsCommand())
	cmd.AddCommand(newHistoryBestCommand())
	cmd.AddCommand(newHistoryFailuresCommand())

	return cmd
}

// withStore opens the store named by the settings, falling back to the
// default path when no settings file exists.
func withStore(ctx context.Context, fn func(*stores.SQLiteStore) error) error {
	path := "streamtune.db"
	if _, err := os.Stat(settingsPath); err == nil {
		settings, err := loadSettings(ctx)
		if err != nil {
			return err
		}
		path = settings.Store.Path
	}
	store, err := openStore(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newHistorySessionsCommand() *cobra.Command {
	var (
		program string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List tuning sessions",
		Example: `  # List the most recent sessions
  streamtune history sessions

  # Only sessions of one program
  streamtune history sessions --program fmradio`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				var filter *string
				if program != "" {
					filter = &program
				}
				sessions, err := store.ListSessions(cmd.Context(), filter, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(sessions)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tPROGRAM\tSTATUS\tSTARTED\tBEST")
				for _, s := range sessions {
					best := "-"
					if s.BestTrialID != nil {
						best = *s.BestTrialID
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Program, s.Status, s.StartedAt.Format("2006-01-02 15:04:05"), best)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&program, "program", "", "only sessions of this program")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions")

	return cmd
}

func newHistoryTrialsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "trials <session-id>",
		Short: "List the trials of a session in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				trials, err := store.ListTrials(cmd.Context(), args[0], limit, 0)
				if err != nil {
					return err
				}
				return printTrials(trials)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of trials")

	return cmd
}

func newHistoryBestCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "best <session-id>",
		Short: "List the fastest trials of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				trials, err := store.RankedTrials(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				return printTrials(trials)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "number of trials")

	return cmd
}

func newHistoryFailuresCommand() *cobra.Command {
	var (
		limit    int
		document bool
	)

	cmd := &cobra.Command{
		Use:   "failures <session-id>",
		Short: "List the failing candidates of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				failures, err := store.ListFailures(cmd.Context(), args[0], limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(failures)
				}
				for _, f := range failures {
					fmt.Printf("#%d %s %s at %s\n", f.ID, f.Outcome, f.Class, f.OccurredAt.Format("2006-01-02 15:04:05"))
					if f.Diagnostic != "" {
						fmt.Printf("  %s\n", strings.ReplaceAll(strings.TrimSpace(f.Diagnostic), "\n", "\n  "))
					}
					if document && f.Document != "" {
						fmt.Printf("  document: %s\n", f.Document)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of failures")
	cmd.Flags().BoolVar(&document, "document", false, "print the encoded configuration")

	return cmd
}

func printTrials(trials []*stores.TrialRecord) error {
	if jsonOutput {
		return printJSON(trials)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTECHNIQUE\tOUTCOME\tTIME\tFLAGS")
	for _, t := range trials {
		runTime := "-"
		if t.Time != nil {
			runTime = fmt.Sprintf("%g", *t.Time)
		}
		flags, err := t.Flags()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.Sequence, t.Technique, t.Outcome, runTime, strings.Join(flags, " "))
	}
	return w.Flush()
}
