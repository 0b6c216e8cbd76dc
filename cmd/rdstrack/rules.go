package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rdstrack/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the rewrite rules applied to RT before lookup",
	}
	cmd.AddCommand(
		rulesListCmd(),
		rulesAddCmd(),
		rulesToggleCmd("enable", true),
		rulesToggleCmd("disable", false),
		rulesRmCmd(),
		rulesExportCmd(),
		rulesImportCmd(),
	)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			all, err := a.rules.List(cmd.Context())
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), all)
			return nil
		},
	}
}

func printRules(w io.Writer, all []rules.Rule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tON\tPOSITION\tFIND\tREPLACE\tPASS\tCONDITION\tFREQ")
	for _, r := range all {
		on := "yes"
		if !r.Enabled {
			on = "no"
		}
		pass := "immediate"
		if !r.Immediate() {
			pass = "fallback"
		}
		freq := ""
		if r.ScopeFrequency != nil {
			freq = strconv.FormatFloat(*r.ScopeFrequency, 'f', 2, 64)
		}
		find := strconv.Quote(r.FindText)
		if r.CaseSensitiveFind {
			find += " (cs)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%q\t%s\t%s\t%s\n",
			r.ID, on, r.Position, find, r.ReplaceWith, pass, r.ConditionContains, freq)
	}
	tw.Flush()
}

func rulesAddCmd() *cobra.Command {
	var (
		r         rules.Rule
		position  string
		frequency float64
		disabled  bool
	)
	cmd := &cobra.Command{
		Use:   "add <find> [replace]",
		Short: "Add a rewrite rule",
		Long: `Adds a rule that replaces <find> with [replace] (empty removes it).

Rules marked --only-if-not-found run in a second pass, only when the
first pass left the text unchanged and nothing was found for it.`,
		Example: `  rdstrack rules add "Jetzt läuft: " --position prefix
  rdstrack rules add " feat. " " & " --frequency 101.3`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := rules.ParsePosition(position)
			if err != nil {
				return err
			}
			r.FindText = args[0]
			if len(args) == 2 {
				r.ReplaceWith = args[1]
			}
			r.Position = pos
			r.Enabled = !disabled
			if cmd.Flags().Changed("frequency") {
				r.ScopeFrequency = &frequency
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			added, err := a.rules.Add(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added rule %d\n", added.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&position, "position", string(rules.PositionAnywhere), "where find must occur: prefix, suffix, either or anywhere")
	f.BoolVar(&r.OnlyIfNotFound, "only-if-not-found", false, "run in the fallback pass")
	f.StringVar(&r.ConditionContains, "if-contains", "", "only apply when the original RT contains this text")
	f.BoolVar(&r.CaseSensitiveFind, "case-sensitive", false, "match find case-sensitively")
	f.BoolVar(&r.CaseSensitiveCondition, "case-sensitive-condition", false, "match --if-contains case-sensitively")
	f.Float64Var(&frequency, "frequency", 0, "only apply on this frequency (MHz)")
	f.BoolVar(&disabled, "disabled", false, "add the rule disabled")
	return cmd
}

func rulesToggleCmd(name string, enabled bool) *cobra.Command {
	short := "Enable a rule"
	if !enabled {
		short = "Disable a rule"
	}
	return &cobra.Command{
		Use:   name + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.rules.SetEnabled(cmd.Context(), id, enabled)
		},
	}
}

func rulesRmCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("give rule ids or --all")
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if all {
				return a.rules.DeleteAll(cmd.Context())
			}
			for _, s := range args {
				id, err := parseID(s)
				if err != nil {
					return err
				}
				if err := a.rules.Delete(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every rule")
	return cmd
}

func rulesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.yaml]",
		Short: "Write all rules as YAML to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 0 {
				return a.rules.Export(cmd.Context(), cmd.OutOrStdout())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := a.rules.Export(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
}

func rulesImportCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Add rules from a YAML export; duplicates are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.rules.Import(cmd.Context(), f, replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rules\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "delete existing rules first")
	return cmd
}
