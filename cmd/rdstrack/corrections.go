package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rdstrack/internal/corrections"
)

func correctionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "corrections",
		Aliases: []string{"corr"},
		Short:   "Manage ignored RTs and skipped tracks",
	}
	cmd.AddCommand(
		correctionsListCmd(),
		correctionsIgnoreCmd(),
		correctionsSkipCmd(),
		correctionsRmCmd(),
	)
	return cmd
}

func correctionsListCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List corrections, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var k corrections.Kind
			switch strings.ToLower(kind) {
			case "":
			case "ignored":
				k = corrections.KindIgnored
			case "skip":
				k = corrections.KindSkipTrack
			default:
				return fmt.Errorf("unknown kind %q (want ignored or skip)", kind)
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			all, err := a.corrections.List(cmd.Context(), k)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tRT\tSKIPPED TRACK\tCREATED")
			for _, c := range all {
				skipped := ""
				if c.Kind == corrections.KindSkipTrack {
					skipped = fmt.Sprintf("%s - %s [%s]", c.SkipArtist, c.SkipTitle, c.SkipTrackID)
				}
				fmt.Fprintf(tw, "%d\t%s\t%q\t%s\t%s\n",
					c.ID, c.Kind, c.RtOriginal, skipped, c.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list ignored or skip corrections")
	return cmd
}

func correctionsIgnoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ignore <rt>",
		Short: "Never resolve this RT again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.corrections.AddIgnored(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ignoring %q (correction %d)\n", c.RtOriginal, c.ID)
			return nil
		},
	}
}

func correctionsSkipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skip <rt> <track-id>",
		Short: "Never resolve this RT to the given track",
		Long: `Excludes one track id for an RT. The artist and title shown by
'corrections list' are taken from the track cache when the id is known.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			rt, id := args[0], args[1]
			var artist, title string
			if rec, err := a.cache.Get(cmd.Context(), id); err == nil {
				artist, title = rec.Artist, rec.Title
			}
			c, err := a.corrections.AddSkipTrack(cmd.Context(), rt, id, artist, title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Skipping %s for %q (correction %d)\n", id, c.RtOriginal, c.ID)
			return nil
		},
	}
}

func correctionsRmCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete corrections",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("give correction ids or --all")
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if all {
				n, err := a.corrections.DeleteAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d corrections\n", n)
				return nil
			}
			for _, s := range args {
				id, err := parseID(s)
				if err != nil {
					return err
				}
				if err := a.corrections.Remove(cmd.Context(), id); err != nil {
					return fmt.Errorf("correction %d: %w", id, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every correction")
	return cmd
}
