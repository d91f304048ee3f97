package resolution

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the in-memory signature-keyed collection of resolution records.
//
// All mutating methods serialize on a single lock, so concurrent writes to
// the same signature can never lose recurrence counts or history entries.
// Reads hand out deep copies; callers never see a live record mid-mutation.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewStore creates an empty store. The clock defaults to time.Now and is
// overridable only through the service's test seam.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		records: make(map[string]*Record),
		now:     now,
	}
}

// MarkResolved creates a record for the signature, or re-creates it in
// place if one already exists. Missing descriptive fields are tolerated;
// only an empty signature is rejected.
func (s *Store) MarkResolved(signature string, res Resolution) (*Record, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := &Record{
		ID:                 uuid.New().String(),
		Signature:          signature,
		Status:             StatusResolved,
		RecurrenceCount:    0,
		ResolvedAt:         now,
		Notes:              res.Notes,
		FixDescription:     res.FixDescription,
		FixType:            res.FixType,
		DeveloperID:        res.DeveloperID,
		EstimatedEffort:    res.EstimatedEffort,
		RootCause:          res.RootCause,
		PreventionMeasures: res.PreventionMeasures,
		RelatedIssues:      append([]string(nil), res.RelatedIssues...),
		Tags:               append([]string(nil), res.Tags...),
		History: []HistoryEntry{{
			Action:         ActionResolved,
			Timestamp:      now,
			Notes:          res.Notes,
			FixDescription: res.FixDescription,
		}},
	}

	s.records[signature] = rec
	return rec.Clone(), nil
}

// ReResolve applies a fresh fix to an existing record: descriptive fields
// are merged over the record, the recurrence count resets, and a
// RE_RESOLVED event is appended. Fails with ErrNotFound for unknown
// signatures, since re-resolving something never resolved is caller misuse.
func (s *Store) ReResolve(signature string, res Resolution) (*Record, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, signature)
	}

	mergeResolution(rec, res)

	now := s.now()
	rec.Status = StatusResolved
	rec.RecurrenceCount = 0
	if now.After(rec.ResolvedAt) {
		rec.ResolvedAt = now
	}
	rec.History = append(rec.History, HistoryEntry{
		Action:         ActionReResolved,
		Timestamp:      now,
		Notes:          res.Notes,
		FixDescription: res.FixDescription,
	})

	return rec.Clone(), nil
}

// mergeResolution overwrites record fields with any non-empty inputs,
// leaving unset fields untouched.
func mergeResolution(rec *Record, res Resolution) {
	if res.Notes != "" {
		rec.Notes = res.Notes
	}
	if res.FixDescription != "" {
		rec.FixDescription = res.FixDescription
	}
	if res.FixType != "" {
		rec.FixType = res.FixType
	}
	if res.DeveloperID != "" {
		rec.DeveloperID = res.DeveloperID
	}
	if res.EstimatedEffort != "" {
		rec.EstimatedEffort = res.EstimatedEffort
	}
	if res.RootCause != "" {
		rec.RootCause = res.RootCause
	}
	if res.PreventionMeasures != "" {
		rec.PreventionMeasures = res.PreventionMeasures
	}
	if len(res.RelatedIssues) > 0 {
		rec.RelatedIssues = append([]string(nil), res.RelatedIssues...)
	}
	if len(res.Tags) > 0 {
		rec.Tags = append([]string(nil), res.Tags...)
	}
}

// TrackRecurrence records that a previously resolved signature has been
// observed again. An unknown signature is a soft miss, not an error: the
// upstream error handler routinely sees errors that were never tracked,
// so the result is simply nil.
//
// ResolvedAt is left untouched: it marks when the fix was applied, not
// when the recurrence happened.
func (s *Store) TrackRecurrence(signature string, occurrence map[string]string) (*Recurrence, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[signature]
	if !ok {
		return nil, nil
	}

	now := s.now()
	rec.Status = StatusRecurred
	rec.RecurrenceCount++

	var ctx map[string]string
	if len(occurrence) > 0 {
		ctx = make(map[string]string, len(occurrence))
		for k, v := range occurrence {
			ctx[k] = v
		}
	}
	rec.History = append(rec.History, HistoryEntry{
		Action:    ActionRecurred,
		Timestamp: now,
		Context:   ctx,
	})

	since := now.Sub(rec.ResolvedAt)
	if since <= 0 {
		// Clock granularity can make same-instant calls read as zero.
		since = time.Nanosecond
	}

	return &Recurrence{
		Signature:           signature,
		RecurrenceCount:     rec.RecurrenceCount,
		TimeSinceResolution: since,
	}, nil
}

// Get returns a deep copy of the record for the signature, if present.
func (s *Store) Get(signature string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[signature]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Snapshot returns deep copies of every record. Aggregations and
// persistence iterate over this stable copy rather than the live map.
func (s *Store) Snapshot() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Replace swaps in a loaded record set wholesale. Records without a
// signature are dropped rather than failing the whole load.
func (s *Store) Replace(records []*Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record, len(records))
	for _, rec := range records {
		if rec == nil || rec.Signature == "" {
			continue
		}
		s.records[rec.Signature] = rec.Clone()
	}
}

// RemoveOlderThan permanently deletes every record whose ResolvedAt is
// before the cutoff and returns the removed signatures. There is no
// soft delete.
func (s *Store) RemoveOlderThan(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for sig, rec := range s.records {
		if rec.ResolvedAt.Before(cutoff) {
			delete(s.records, sig)
			removed = append(removed, sig)
		}
	}
	return removed
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
