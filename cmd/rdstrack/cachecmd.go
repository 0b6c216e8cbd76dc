package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rdstrack/internal/cache"
	"rdstrack/internal/track"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the local track cache",
	}
	cmd.AddCommand(
		cacheStatsCmd(),
		cacheListCmd(),
		cacheSearchCmd(),
		cacheRmCmd(),
		cacheClearCmd(),
		cacheExportCmd(),
		cacheImportCmd(),
	)
	return cmd
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number of cached tracks and cover size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.cache.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Directory: %s\n", a.cache.Dir())
			fmt.Fprintf(out, "Tracks:    %d\n", st.Tracks)
			fmt.Fprintf(out, "Covers:    %d (%.1f MiB)\n", st.CoverFiles, float64(st.CoverBytes)/(1<<20))
			return nil
		},
	}
}

func printTracks(cmd *cobra.Command, recs []track.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tARTIST\tTITLE\tALBUM\tPOP")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.Key(), r.Artist, r.Title, r.Album, r.Popularity)
	}
	return tw.Flush()
}

func cacheListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached tracks, most recently cached first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			recs, err := a.cache.All(cmd.Context())
			if err != nil {
				return err
			}
			return printTracks(cmd, recs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func cacheSearchCmd() *cobra.Command {
	var artist, title string
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Look a track up in the cache the way the resolver does",
		Long: `With text, matches it against the normalized "artist title" of every
cached track. With --artist/--title, matches the parts separately.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && artist == "" && title == "" {
				return fmt.Errorf("give search text or --artist/--title")
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			var rec *track.Record
			if len(args) == 1 {
				rec, err = a.cache.SearchByText(cmd.Context(), args[0], nil)
			} else {
				rec, err = a.cache.SearchByParts(cmd.Context(), artist, title, nil)
			}
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No match")
				return nil
			}
			return printTracks(cmd, []track.Record{*rec}, false)
		},
	}
	cmd.Flags().StringVar(&artist, "artist", "", "artist to match")
	cmd.Flags().StringVar(&title, "title", "", "title to match")
	return cmd
}

func cacheRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Remove tracks and their covers from the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			for _, id := range args {
				err := a.cache.Delete(cmd.Context(), id)
				if errors.Is(err, cache.ErrNotFound) {
					a.log.Warn("%s is not cached", id)
					continue
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func cacheClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached track and cover",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the cache without --yes")
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.cache.Clear(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func cacheExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.zip>",
		Short: "Write the cache database and covers to a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.cache.ExportFile(cmd.Context(), args[0])
		},
	}
}

func cacheImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.zip>",
		Short: "Replace the cache with an archive written by export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.cache.ImportFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d tracks\n", n)
			return nil
		},
	}
}
