package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rdstrack/internal/pipeline"
	"rdstrack/internal/progress"
	"rdstrack/internal/replay"
	"rdstrack/internal/tagger"
	"rdstrack/pkg/utils"
)

// piFlag parses a hexadecimal PI code with an optional 0x prefix.
func piFlag(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid PI code %q", s)
	}
	return uint16(n), nil
}

func resolveCmd() *cobra.Command {
	var (
		piHex     string
		frequency float64
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "resolve [file]",
		Short: "Resolve RT lines from a file or stdin as one station would",
		Long: `Each input line is one RT update for the station given by --pi.
Lines are processed in order, so fragments split over several lines are
combined exactly as on air.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pi, err := piFlag(piHex)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			in := io.Reader(os.Stdin)
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			p, err := a.newPipeline(pipelineOptions{})
			if err != nil {
				return err
			}
			defer p.Close()
			if err := p.OnStationChange(pi, frequency, false); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			sc := bufio.NewScanner(in)
			for sc.Scan() {
				rt := sc.Text()
				o, err := p.OnRtUpdate(cmd.Context(), pi, rt)
				if err != nil {
					return err
				}
				if asJSON {
					if err := enc.Encode(struct {
						RT string `json:"rt"`
						pipeline.Outcome
					}{rt, o}); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "%-10s %s\n", o.Status, describe(rt, o))
			}
			return sc.Err()
		},
	}
	cmd.Flags().StringVar(&piHex, "pi", "0001", "PI code (hex) the lines belong to")
	cmd.Flags().Float64Var(&frequency, "frequency", 0, "station frequency in MHz, for frequency-scoped rules")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON outcome per line")
	return cmd
}

func describe(rt string, o pipeline.Outcome) string {
	switch {
	case o.Formatted == "":
		return fmt.Sprintf("%q", rt)
	case o.Track != nil && o.Track.Album != "":
		return fmt.Sprintf("%q -> %s (%s)", rt, o.Formatted, o.Track.Album)
	default:
		return fmt.Sprintf("%q -> %s", rt, o.Formatted)
	}
}

// parseSince accepts a duration back from now ("24h") or an RFC 3339 time.
func parseSince(s string) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want a duration like 24h or an RFC 3339 time", s)
	}
	return t, nil
}

func replayCmd() *cobra.Command {
	var (
		since  string
		piHex  string
		online bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Feed logged RDS events through the current rules and corrections",
		Long: `Replays the RDS log through a fresh pipeline using the current rules,
corrections and cache. Replays run offline and never write to the cache
unless --online is given, so rule changes can be tried safely.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseSince(since)
			if err != nil {
				return err
			}
			var pi *uint16
			if piHex != "" {
				v, err := piFlag(piHex)
				if err != nil {
					return err
				}
				pi = &v
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.rdslog.Since(cmd.Context(), from, pi)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				a.log.Info("Nothing logged since %s", from.Format(time.RFC3339))
				return nil
			}
			a.log.Info("Replaying %d entries since %s", len(entries), from.Format(time.RFC3339))

			var bar *progress.Bar
			if !a.cfg.Verbose {
				bar = progress.NewWithWriter(len(entries), cmd.OutOrStdout())
				a.log.SetProgressBar(true)
			}
			sum, err := replay.RunFresh(cmd.Context(), entries, a.replayFactory(online), func(r replay.Result) {
				if r.Entry.EventType == "" || r.Outcome.Status == "" {
					if bar != nil {
						bar.Increment("")
					}
					return
				}
				a.log.Debug("%04X %-10s %s", r.Entry.PI, r.Outcome.Status, describe(r.Entry.RT, r.Outcome))
				if bar != nil {
					bar.Increment(r.Outcome.Formatted)
				}
			})
			if bar != nil {
				bar.Finish()
				a.log.SetProgressBar(false)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Entries:         %d\n", sum.Entries)
			fmt.Fprintf(out, "Station changes: %d\n", sum.StationChanges)
			fmt.Fprintf(out, "Resolved:        %d\n", sum.Resolved)
			fmt.Fprintf(out, "Ignored:         %d\n", sum.Ignored)
			fmt.Fprintf(out, "No match:        %d\n", sum.NoMatch)
			fmt.Fprintf(out, "Duplicate:       %d\n", sum.Duplicate)
			fmt.Fprintf(out, "Rejected:        %d\n", sum.Rejected)
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "24h", "replay entries newer than this duration or RFC 3339 time")
	cmd.Flags().StringVar(&piHex, "pi", "", "only replay this PI code (hex)")
	cmd.Flags().BoolVar(&online, "online", false, "allow remote lookups during the replay")
	return cmd
}

func tagCmd() *cobra.Command {
	var (
		frequency float64
		organize  string
	)
	cmd := &cobra.Command{
		Use:   "tag <audio-file> [rt]",
		Short: "Resolve an RT and write the track's tags and cover into an audio file",
		Long: `Resolves rt (or, when omitted, the "Artist - Title" already in the
file's tags) through the rules, corrections, cache and remote catalogues,
then writes artist, title, album, track, disc, date, ISRC and the cover.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !utils.IsAudioFile(path) {
				return fmt.Errorf("%s is not a supported audio file", path)
			}
			rt := ""
			if len(args) == 2 {
				rt = args[1]
			} else {
				var err error
				if rt, err = tagger.RTFromTags(path); err != nil {
					return err
				}
				if rt == "" {
					return fmt.Errorf("%s carries no artist/title tags; pass the RT as second argument", path)
				}
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.newPipeline(pipelineOptions{})
			if err != nil {
				return err
			}
			defer p.Close()

			const pi = 0
			if err := p.OnStationChange(pi, frequency, false); err != nil {
				return err
			}
			o, err := p.OnRtUpdate(cmd.Context(), pi, rt)
			if err != nil {
				return err
			}
			if o.Status != pipeline.StatusResolved || o.Track == nil {
				return fmt.Errorf("could not resolve %q (%s)", rt, o.Status)
			}
			a.cache.WaitCovers()
			rec := *o.Track
			if cached, err := a.cache.Get(cmd.Context(), rec.Key()); err == nil {
				rec = *cached
			}

			tg := tagger.New(nil, a.log.Named("tagger"))
			if err := tg.Tag(cmd.Context(), path, rec); err != nil {
				return err
			}
			a.log.Info("Tagged %s as %s", filepath.Base(path), rec.Format())

			if organize != "" {
				dir := filepath.Join(organize, tagger.SubDir(rec))
				if err := os.MkdirAll(dir, 0755); err != nil {
					return err
				}
				dst := filepath.Join(dir, filepath.Base(path))
				if err := utils.MoveFile(path, dst); err != nil {
					return err
				}
				a.log.Info("Moved to %s", dst)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&frequency, "frequency", 0, "frequency in MHz the recording was made on")
	cmd.Flags().StringVar(&organize, "organize", "", "move the tagged file into <dir>/Artist/Album")
	return cmd
}
