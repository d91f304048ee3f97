package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/resolvd/internal/resolution"
)

var (
	// resolve / reresolve flags
	resNotes       string
	resFixDesc     string
	resFixType     string
	resDeveloperID string
	resEffort      string
	resRootCause   string
	resPrevention  string
	resIssues      []string
	resTags        []string

	// recur flags
	recurContext []string
)

func init() {
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(reresolveCmd)
	rootCmd.AddCommand(recurCmd)
	rootCmd.AddCommand(statusCmd)

	for _, cmd := range []*cobra.Command{resolveCmd, reresolveCmd} {
		cmd.Flags().StringVar(&resNotes, "notes", "", "Short note on how the error was resolved")
		cmd.Flags().StringVar(&resFixDesc, "fix-description", "", "Longer description of the applied fix")
		cmd.Flags().StringVar(&resFixType, "fix-type", "", "Fix category tag (e.g. CODE_FIX, VALIDATION_FIX)")
		cmd.Flags().StringVar(&resDeveloperID, "developer", "", "Who applied the fix")
		cmd.Flags().StringVar(&resEffort, "effort", "", "Effort estimate (free-form)")
		cmd.Flags().StringVar(&resRootCause, "root-cause", "", "Diagnosed underlying cause")
		cmd.Flags().StringVar(&resPrevention, "prevention", "", "What keeps the error from coming back")
		cmd.Flags().StringArrayVar(&resIssues, "issue", nil, "Related issue reference (repeatable)")
		cmd.Flags().StringArrayVar(&resTags, "tag", nil, "Label for categorization (repeatable)")
	}

	recurCmd.Flags().StringArrayVar(&recurContext, "context", nil, "Occurrence context as key=value (repeatable)")
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <signature>",
	Short: "Record that an error has been fixed",
	Long: `Record that the error identified by <signature> has been fixed.

Resolving a signature that is already tracked starts a fresh record;
use "resolvd reresolve" to apply a new fix while keeping history.

Examples:
  resolvd resolve "nil-deref:payments/charge.go:42" \
    --fix-type CODE_FIX --notes "guard nil customer" --developer alice`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var reresolveCmd = &cobra.Command{
	Use:   "reresolve <signature>",
	Short: "Apply a new fix to a recurred error",
	Long: `Apply a new fix to an already-tracked error, keeping its history.

The recurrence count resets and the record returns to RESOLVED, but
prior resolutions and recurrences stay in the audit trail. Fails if
the signature has never been resolved.

Examples:
  resolvd reresolve "nil-deref:payments/charge.go:42" \
    --fix-type VALIDATION_FIX --notes "validate customer upstream"`,
	Args: cobra.ExactArgs(1),
	RunE: runReResolve,
}

var recurCmd = &cobra.Command{
	Use:   "recur <signature>",
	Short: "Report that a fixed error happened again",
	Long: `Report that the error identified by <signature> occurred again.

If the signature was previously resolved, its recurrence count goes up
and the fix's effectiveness score drops. Unknown signatures are not an
error; the command reports that nothing is tracked.

Examples:
  resolvd recur "nil-deref:payments/charge.go:42" \
    --context env=prod --context region=eu-west-1`,
	Args: cobra.ExactArgs(1),
	RunE: runRecur,
}

var statusCmd = &cobra.Command{
	Use:   "status <signature>",
	Short: "Show the tracked state of an error",
	Long: `Show the resolution status, effectiveness score, and history size
for the error identified by <signature>.

Examples:
  resolvd status "nil-deref:payments/charge.go:42"
  resolvd status "nil-deref:payments/charge.go:42" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runResolve(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.svc.MarkResolved(cmd.Context(), args[0], resolutionFromFlags())
	if err != nil {
		return fmt.Errorf("marking resolved: %w", err)
	}

	if outputJSON {
		return printJSON(rec)
	}
	fmt.Printf("Resolved %s\n", rec.Signature)
	fmt.Printf("ID: %s\n", rec.ID)
	if rec.FixType != "" {
		fmt.Printf("Fix type: %s\n", rec.FixType)
	}
	fmt.Printf("Resolved at: %s\n", rec.ResolvedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runReResolve(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.svc.ReResolve(cmd.Context(), args[0], resolutionFromFlags())
	if err != nil {
		if errors.Is(err, resolution.ErrNotFound) {
			return fmt.Errorf("signature %q has never been resolved; use \"resolvd resolve\" first", args[0])
		}
		return fmt.Errorf("re-resolving: %w", err)
	}

	if outputJSON {
		return printJSON(rec)
	}
	fmt.Printf("Re-resolved %s\n", rec.Signature)
	fmt.Printf("History entries: %d\n", len(rec.History))
	fmt.Printf("Recurrence count reset to %d\n", rec.RecurrenceCount)
	return nil
}

func runRecur(cmd *cobra.Command, args []string) error {
	occurrence, err := parseContextPairs(recurContext)
	if err != nil {
		return err
	}

	rt, err := initRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.svc.TrackRecurrence(cmd.Context(), args[0], occurrence)
	if err != nil {
		return fmt.Errorf("tracking recurrence: %w", err)
	}
	if rec == nil {
		if outputJSON {
			return printJSON(map[string]any{"tracked": false})
		}
		fmt.Printf("Signature %q is not tracked; nothing recorded\n", args[0])
		return nil
	}

	if outputJSON {
		return printJSON(rec)
	}
	fmt.Printf("Recurrence recorded for %s\n", rec.Signature)
	fmt.Printf("Recurrence count: %d\n", rec.RecurrenceCount)
	fmt.Printf("Time since resolution: %s\n", rec.TimeSinceResolution)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.svc.Status(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	if outputJSON {
		return printJSON(report)
	}
	fmt.Printf("Signature: %s\n", report.Signature)
	fmt.Printf("Status: %s\n", report.Status)
	if report.Status == resolution.StatusUnresolved {
		return nil
	}
	fmt.Printf("Effectiveness: %.3f (effective: %v)\n", report.Score, report.Effective)
	fmt.Printf("Recurrences: %d\n", report.RecurrenceCount)
	fmt.Printf("Days since resolution: %d\n", report.DaysSinceResolution)
	if report.FixType != "" {
		fmt.Printf("Fix type: %s\n", report.FixType)
	}
	return nil
}

func resolutionFromFlags() resolution.Resolution {
	return resolution.Resolution{
		Notes:              resNotes,
		FixDescription:     resFixDesc,
		FixType:            resFixType,
		DeveloperID:        resDeveloperID,
		EstimatedEffort:    resEffort,
		RootCause:          resRootCause,
		PreventionMeasures: resPrevention,
		RelatedIssues:      resIssues,
		Tags:               resTags,
	}
}
