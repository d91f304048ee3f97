package resolution

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a tracked resolution.
type Status string

const (
	// StatusResolved means the most recent fix is believed to hold.
	StatusResolved Status = "RESOLVED"
	// StatusRecurred means the error has been observed again since its last fix.
	StatusRecurred Status = "RECURRED"
	// StatusUnresolved is a projection-only state for signatures with no record.
	// It is never stored: absence from the store is what "unresolved" means.
	StatusUnresolved Status = "UNRESOLVED"
)

// HistoryAction identifies the event type of a history entry.
type HistoryAction string

const (
	// ActionResolved is the initial resolution of a signature.
	ActionResolved HistoryAction = "RESOLVED"
	// ActionRecurred is a detected recurrence after a resolution.
	ActionRecurred HistoryAction = "RECURRED"
	// ActionReResolved is a fresh fix applied after a recurrence.
	ActionReResolved HistoryAction = "RE_RESOLVED"
)

// Errors for tracker operations.
var (
	// ErrNotFound is returned when an operation requires an existing record.
	ErrNotFound = errors.New("resolution not found")
	// ErrMissingSignature is returned when the identifying signature is empty.
	ErrMissingSignature = errors.New("signature is required")
	// ErrClosed is returned for operations after Shutdown.
	ErrClosed = errors.New("tracker is closed")
	// ErrCorruptSnapshot indicates the persisted snapshot could not be decoded.
	ErrCorruptSnapshot = errors.New("snapshot corrupted")
)

// Resolution carries the caller-supplied description of a fix.
// Only descriptive metadata lives here; all fields are optional and an
// absent field never fails an operation.
type Resolution struct {
	// Notes describes how the error was resolved.
	Notes string `json:"notes,omitempty"`

	// FixDescription is a longer description of the applied fix.
	FixDescription string `json:"fix_description,omitempty"`

	// FixType is a free-form category tag (e.g. CODE_FIX, VALIDATION_FIX).
	FixType string `json:"fix_type,omitempty"`

	// DeveloperID identifies who applied the fix.
	DeveloperID string `json:"developer_id,omitempty"`

	// EstimatedEffort is a free-form effort estimate.
	EstimatedEffort string `json:"estimated_effort,omitempty"`

	// RootCause is the diagnosed underlying cause.
	RootCause string `json:"root_cause,omitempty"`

	// PreventionMeasures describes what keeps the error from coming back.
	PreventionMeasures string `json:"prevention_measures,omitempty"`

	// RelatedIssues are tracker/issue references.
	RelatedIssues []string `json:"related_issues,omitempty"`

	// Tags are labels for categorization and filtering.
	Tags []string `json:"tags,omitempty"`
}

// HistoryEntry is one event in a record's append-only resolution history.
type HistoryEntry struct {
	// Action is the event type.
	Action HistoryAction `json:"action"`

	// Timestamp is when the event was applied.
	Timestamp time.Time `json:"timestamp"`

	// Notes snapshots the resolution notes for RESOLVED/RE_RESOLVED events.
	Notes string `json:"notes,omitempty"`

	// FixDescription snapshots the fix description for RESOLVED/RE_RESOLVED events.
	FixDescription string `json:"fix_description,omitempty"`

	// Context carries the occurrence context for RECURRED events.
	Context map[string]string `json:"context,omitempty"`
}

// Record is the tracked state for one error signature's fix history.
type Record struct {
	// ID is a stable identifier assigned at creation, carried through
	// reports so callers can trace provenance.
	ID string `json:"id"`

	// Signature is the opaque error-class key. At most one live record
	// exists per signature.
	Signature string `json:"signature"`

	// Status is RESOLVED or RECURRED. Unresolved signatures have no record.
	Status Status `json:"status"`

	// RecurrenceCount is the number of recurrences since the most recent
	// resolution. Always 0 while Status is RESOLVED.
	RecurrenceCount int `json:"recurrence_count"`

	// ResolvedAt is the time of the most recent resolution or re-resolution,
	// not of the original creation. Monotonically non-decreasing.
	ResolvedAt time.Time `json:"resolved_at"`

	// History is the append-only ordered event log. Length is always at
	// least one, and grows by one per recurrence or re-resolution.
	History []HistoryEntry `json:"history"`

	Notes              string   `json:"notes,omitempty"`
	FixDescription     string   `json:"fix_description,omitempty"`
	FixType            string   `json:"fix_type,omitempty"`
	DeveloperID        string   `json:"developer_id,omitempty"`
	EstimatedEffort    string   `json:"estimated_effort,omitempty"`
	RootCause          string   `json:"root_cause,omitempty"`
	PreventionMeasures string   `json:"prevention_measures,omitempty"`
	RelatedIssues      []string `json:"related_issues,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// Clone returns a deep copy of the record. Reads hand out clones so that
// concurrent writers never mutate a report a caller is holding.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.History = make([]HistoryEntry, len(r.History))
	copy(clone.History, r.History)
	for i, h := range r.History {
		if h.Context != nil {
			ctx := make(map[string]string, len(h.Context))
			for k, v := range h.Context {
				ctx[k] = v
			}
			clone.History[i].Context = ctx
		}
	}
	clone.RelatedIssues = append([]string(nil), r.RelatedIssues...)
	clone.Tags = append([]string(nil), r.Tags...)
	return &clone
}

// StatusReport is the read-only projection returned by Status.
type StatusReport struct {
	// HasResolution is false when no record exists for the signature.
	HasResolution bool `json:"has_resolution"`

	// Status is UNRESOLVED when HasResolution is false.
	Status Status `json:"status"`

	Signature          string         `json:"signature"`
	RecurrenceCount    int            `json:"recurrence_count,omitempty"`
	History            []HistoryEntry `json:"history,omitempty"`
	DaysSinceResolution int           `json:"days_since_resolution,omitempty"`
	Effective          bool           `json:"effective,omitempty"`
	Score              float64        `json:"score,omitempty"`
	Notes              string         `json:"notes,omitempty"`
	FixDescription     string         `json:"fix_description,omitempty"`
	FixType            string         `json:"fix_type,omitempty"`
	DeveloperID        string         `json:"developer_id,omitempty"`
	RootCause          string         `json:"root_cause,omitempty"`
	PreventionMeasures string         `json:"prevention_measures,omitempty"`
	RelatedIssues      []string       `json:"related_issues,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
}

// Recurrence is the result of tracking a recurrence of a known signature.
type Recurrence struct {
	Signature       string `json:"signature"`
	RecurrenceCount int    `json:"recurrence_count"`

	// TimeSinceResolution is how long the fix held before this recurrence.
	// Always strictly positive.
	TimeSinceResolution time.Duration `json:"time_since_resolution"`
}

// AggregateFilter narrows aggregate effectiveness reporting.
// Zero-value fields match everything.
type AggregateFilter struct {
	FixType     string `json:"fix_type,omitempty"`
	DeveloperID string `json:"developer_id,omitempty"`
}

// FixTypeStats summarizes one fix category inside an aggregate report.
type FixTypeStats struct {
	Count          int `json:"count"`
	EffectiveCount int `json:"effective_count"`
}

// ScoredRecord exposes a record's identifying keys alongside its score.
type ScoredRecord struct {
	Signature       string  `json:"signature"`
	ID              string  `json:"id"`
	FixType         string  `json:"fix_type,omitempty"`
	DeveloperID     string  `json:"developer_id,omitempty"`
	RecurrenceCount int     `json:"recurrence_count"`
	Score           float64 `json:"score"`
}

// AggregateReport is the result of Aggregate.
type AggregateReport struct {
	TotalFixes           int                     `json:"total_fixes"`
	EffectiveFixes       int                     `json:"effective_fixes"`
	EffectivenessRate    float64                 `json:"effectiveness_rate"`
	AverageEffectiveness float64                 `json:"average_effectiveness"`
	AverageRecurrences   float64                 `json:"average_recurrences"`
	FixTypeBreakdown     map[string]FixTypeStats `json:"fix_type_breakdown"`
	TopPerformingFixes   []ScoredRecord          `json:"top_performing_fixes"`
}

// SuggestionSource points at a concrete fix backing a suggestion group.
type SuggestionSource struct {
	Signature      string  `json:"signature"`
	FixDescription string  `json:"fix_description,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	Score          float64 `json:"score"`
}

// FixSuggestion aggregates all records sharing a fix category.
type FixSuggestion struct {
	FixType          string  `json:"fix_type"`
	ApplicationCount int     `json:"application_count"`
	SuccessCount     int     `json:"success_count"`
	SuccessRate      float64 `json:"success_rate"`

	// Confidence is a sample-size-discounted lower estimate of SuccessRate.
	Confidence float64 `json:"confidence"`

	// Sources are the highest-scoring fixes in the group, most durable first.
	Sources []SuggestionSource `json:"sources,omitempty"`
}

// SuggestOptions controls SuggestFixes.
type SuggestOptions struct {
	// MinSuccessRate filters out groups below this success rate.
	MinSuccessRate float64 `json:"min_success_rate"`

	// IncludeIneffective returns every group, worst first, instead of
	// filtering by MinSuccessRate.
	IncludeIneffective bool `json:"include_ineffective"`

	// Limit caps the number of suggestion groups returned. 0 means no cap.
	Limit int `json:"limit"`
}

// DefaultSuggestOptions returns the default suggestion options.
func DefaultSuggestOptions() *SuggestOptions {
	return &SuggestOptions{
		MinSuccessRate:     0.8,
		IncludeIneffective: false,
	}
}
