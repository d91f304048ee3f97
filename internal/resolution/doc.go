// Package resolution tracks how production errors get fixed and how well
// those fixes hold up.
//
// The tracker records a resolution per error signature (an opaque string
// identifying a class of error), detects when a "fixed" error recurs,
// scores fix effectiveness over time, and recommends previously
// successful fixes for new errors that share a fix category.
//
// # Lifecycle
//
// A signature with no record is logically unresolved; the first
// MarkResolved call creates its record. Recurrences flip the record to
// RECURRED and grow an append-only history; ReResolve applies a fresh fix
// and resets the recurrence count. Retention cleanup permanently deletes
// records whose last resolution is older than the configured horizon.
//
// # Usage
//
//	svc, err := resolution.NewService(&resolution.Config{
//	    StorageDir: "/var/lib/resolvd",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer svc.Shutdown(ctx)
//
//	// A developer fixed an error.
//	_, err = svc.MarkResolved(ctx, "auth.nil-session", resolution.Resolution{
//	    Notes:       "added nil check before session access",
//	    FixType:     "CODE_FIX",
//	    DeveloperID: "d1",
//	})
//
//	// The same error shows up again.
//	rec, err := svc.TrackRecurrence(ctx, "auth.nil-session", map[string]string{
//	    "build": "1422",
//	})
//
//	// Recommend fixes for a new error.
//	fixes, err := svc.SuggestFixes(ctx, "auth.expired-token", nil)
//
// # Durability
//
// The full record set persists as a single JSON snapshot, written with a
// temp-file-then-rename so a crash mid-write never corrupts state. The
// snapshot loads asynchronously at construction; operations queue on a
// ready gate until the load completes. Persistence failures are logged
// and never abort an in-memory operation that already succeeded.
//
// # Effectiveness and suggestions
//
// A record with no recurrences scores 1.0; each recurrence lowers the
// score, with recurrences inside the configured recurrence window
// weighted more heavily than late ones. Suggestion confidence is a
// Wilson-score lower bound on the group's success rate, so small samples
// are discounted and confidence converges to the raw rate as
// applications accumulate.
package resolution
