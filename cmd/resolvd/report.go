package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/resolvd/internal/resolution"
)

var (
	// suggest flags
	sugMinSuccessRate     float64
	sugIncludeIneffective bool
	sugLimit              int

	// stats flags
	statsFixType     string
	statsDeveloperID string
)

func init() {
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(statsCmd)

	suggestCmd.Flags().Float64Var(&sugMinSuccessRate, "min-success-rate", 0.8, "Hide fix categories below this success rate")
	suggestCmd.Flags().BoolVar(&sugIncludeIneffective, "include-ineffective", false, "Show every category, worst first")
	suggestCmd.Flags().IntVar(&sugLimit, "limit", 0, "Maximum suggestion groups (0 = no cap)")

	statsCmd.Flags().StringVar(&statsFixType, "fix-type", "", "Only count fixes of this category")
	statsCmd.Flags().StringVar(&statsDeveloperID, "developer", "", "Only count fixes by this developer")
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <signature>",
	Short: "Suggest fix approaches for an error",
	Long: `Suggest fix approaches that have worked for errors like the one
identified by <signature>.

If the signature is already tracked, suggestions are narrowed to its
fix category; otherwise every category is considered. Confidence is a
sample-size-discounted lower estimate of the category's success rate.

Examples:
  resolvd suggest "timeout:search/query.go:88"
  resolvd suggest "timeout:search/query.go:88" --include-ineffective --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSuggest,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report aggregate fix effectiveness",
	Long: `Report aggregate effectiveness across all tracked fixes: totals,
effectiveness rate, per-category breakdown, and the top-performing
fixes.

Examples:
  resolvd stats
  resolvd stats --fix-type CODE_FIX
  resolvd stats --developer alice --json`,
	RunE: runStats,
}

func runSuggest(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	suggestions, err := rt.svc.SuggestFixes(cmd.Context(), args[0], &resolution.SuggestOptions{
		MinSuccessRate:     sugMinSuccessRate,
		IncludeIneffective: sugIncludeIneffective,
		Limit:              sugLimit,
	})
	if err != nil {
		return fmt.Errorf("suggesting fixes: %w", err)
	}

	if outputJSON {
		return printJSON(suggestions)
	}
	if len(suggestions) == 0 {
		fmt.Println("No fix suggestions available")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIX TYPE\tAPPLIED\tSUCCESS RATE\tCONFIDENCE")
	for _, s := range suggestions {
		fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%.3f\n", s.FixType, s.ApplicationCount, s.SuccessRate*100, s.Confidence)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, s := range suggestions {
		for _, src := range s.Sources {
			if src.Notes == "" && src.FixDescription == "" {
				continue
			}
			desc := src.Notes
			if desc == "" {
				desc = src.FixDescription
			}
			fmt.Printf("  [%s] %s: %s\n", s.FixType, src.Signature, desc)
		}
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.svc.Aggregate(cmd.Context(), &resolution.AggregateFilter{
		FixType:     statsFixType,
		DeveloperID: statsDeveloperID,
	})
	if err != nil {
		return fmt.Errorf("aggregating: %w", err)
	}

	if outputJSON {
		return printJSON(report)
	}

	fmt.Printf("Total fixes: %d\n", report.TotalFixes)
	if report.TotalFixes == 0 {
		return nil
	}
	fmt.Printf("Effective fixes: %d (%.0f%%)\n", report.EffectiveFixes, report.EffectivenessRate*100)
	fmt.Printf("Average effectiveness: %.3f\n", report.AverageEffectiveness)
	fmt.Printf("Average recurrences: %.2f\n", report.AverageRecurrences)

	if len(report.FixTypeBreakdown) > 0 {
		types := make([]string, 0, len(report.FixTypeBreakdown))
		for t := range report.FixTypeBreakdown {
			types = append(types, t)
		}
		sort.Strings(types)

		fmt.Println("\nBy fix type:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  FIX TYPE\tCOUNT\tEFFECTIVE")
		for _, t := range types {
			s := report.FixTypeBreakdown[t]
			fmt.Fprintf(w, "  %s\t%d\t%d\n", t, s.Count, s.EffectiveCount)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(report.TopPerformingFixes) > 0 {
		fmt.Println("\nTop performing fixes:")
		for _, f := range report.TopPerformingFixes {
			fmt.Printf("  %.3f  %s", f.Score, f.Signature)
			if f.FixType != "" {
				fmt.Printf(" (%s)", f.FixType)
			}
			fmt.Println()
		}
	}
	return nil
}
