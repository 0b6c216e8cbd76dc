package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rdstrack/internal/rdslog"
)

func rdslogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rdslog",
		Short: "Browse and maintain the log of received RT and station changes",
	}
	cmd.AddCommand(
		rdslogListCmd(),
		rdslogFrequenciesCmd(),
		rdslogCleanupCmd(),
		rdslogClearCmd(),
	)
	return cmd
}

func printEntries(w io.Writer, entries []rdslog.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFREQ\tPI\tPS\tEVENT\tRT")
	for _, e := range entries {
		band := "FM"
		if e.AM {
			band = "AM"
		}
		fmt.Fprintf(tw, "%s\t%.2f %s\t%04X\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Frequency, band, e.PI, e.PS, e.EventType, e.RT)
	}
	return tw.Flush()
}

func rdslogListCmd() *cobra.Command {
	var (
		piHex     string
		frequency float64
		search    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show logged events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			var entries []rdslog.Entry
			switch {
			case piHex != "":
				pi, perr := piFlag(piHex)
				if perr != nil {
					return perr
				}
				entries, err = a.rdslog.ByPI(ctx, pi, limit)
			case cmd.Flags().Changed("frequency"):
				entries, err = a.rdslog.ByFrequency(ctx, frequency, limit)
			case search != "":
				entries, err = a.rdslog.Search(ctx, search, limit)
			default:
				entries, err = a.rdslog.All(ctx, limit)
			}
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
	f := cmd.Flags()
	f.StringVar(&piHex, "pi", "", "only this PI code (hex)")
	f.Float64Var(&frequency, "frequency", 0, "only this frequency (MHz)")
	f.StringVarP(&search, "search", "s", "", "only entries whose RT or PS contains this text")
	f.IntVarP(&limit, "limit", "n", 50, "maximum entries, 0 for all")
	return cmd
}

func rdslogFrequenciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frequencies",
		Short: "Count logged events per frequency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.rdslog.Frequencies(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FREQ\tENTRIES")
			for _, s := range stats {
				fmt.Fprintf(tw, "%.2f\t%d\n", s.Frequency, s.Count)
			}
			return tw.Flush()
		},
	}
}

func rdslogCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete entries older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if days <= 0 {
				days = a.cfg.RdsLog.RetentionDays
			}
			n, err := a.rdslog.Cleanup(cmd.Context(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default from config)")
	return cmd
}

func rdslogClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the whole RDS log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the log without --yes")
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.rdslog.DeleteAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}
