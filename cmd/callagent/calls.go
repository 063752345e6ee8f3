package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/callagent/internal/app"
	"github.com/MrWong99/callagent/internal/call"
	"github.com/MrWong99/callagent/pkg/store"
)

// withStore loads the config, opens the configured store, runs fn and closes
// the store again.
func (g *globals) withStore(ctx context.Context, fn func(store.Store) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	st, err := app.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	return errors.Join(fn(st), st.Close())
}

func newCallsCmd(g *globals) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List recorded calls, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(cmd.Context(), func(st store.Store) error {
				calls, err := st.ListCalls(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), calls)
				}
				return printCalls(cmd.OutOrStdout(), calls)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of calls to list; 0 lists all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	show := &cobra.Command{
		Use:   "show <call-id>",
		Short: "Print one recorded call with its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStore(cmd.Context(), func(st store.Store) error {
				rec, err := st.GetCall(cmd.Context(), args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("call %q not found", args[0])
				}
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				return printCall(cmd.OutOrStdout(), rec)
			})
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	cmd.AddCommand(show)
	return cmd
}

func newStatsCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate statistics over every recorded call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(cmd.Context(), func(st store.Store) error {
				stats, err := st.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), stats)
				}
				return printStats(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

// ── Output ──────────────────────────────────────────────────────────────────

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCalls(w io.Writer, calls []store.CallRecord) error {
	if len(calls) == 0 {
		_, err := fmt.Fprintln(w, "no calls recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CALL ID\tSTARTED\tDURATION\tEXCHANGES\tEND REASON")
	for _, c := range calls {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			c.CallID,
			c.StartTime.Local().Format(time.DateTime),
			seconds(c.DurationSeconds),
			c.TotalExchanges,
			c.EndReason,
		)
	}
	return tw.Flush()
}

func printCall(w io.Writer, c *store.CallRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "Call:\t%s\n", c.CallID)
	fmt.Fprintf(tw, "Started:\t%s\n", c.StartTime.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Duration:\t%s\n", seconds(c.DurationSeconds))
	fmt.Fprintf(tw, "End reason:\t%s\n", c.EndReason)
	fmt.Fprintf(tw, "Stages completed:\t%d\n", c.StagesCompleted)
	fmt.Fprintf(tw, "Exchanges:\t%d\n", c.TotalExchanges)
	for flag, on := range c.Flags {
		if on {
			fmt.Fprintf(tw, "Flag:\t%s\n", flag)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nSummary:\n%s\n", c.Summary)
	if len(c.Turns) > 0 {
		fmt.Fprintf(w, "\nTranscript:\n%s", call.FormatTranscript(c.Turns))
	}
	return nil
}

func printStats(w io.Writer, s store.Stats) error {
	last := "never"
	if s.LastCall != nil {
		last = s.LastCall.Local().Format(time.DateTime)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "Total calls:\t%d\n", s.TotalCalls)
	fmt.Fprintf(tw, "Total duration:\t%s\n", seconds(s.TotalDurationSeconds))
	fmt.Fprintf(tw, "Average duration:\t%s\n", seconds(s.AverageDurationSeconds))
	fmt.Fprintf(tw, "Last call:\t%s\n", last)
	return tw.Flush()
}

func seconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Second).String()
}
