package resolution

import (
	"sort"
	"time"
)

// Scorer computes per-record effectiveness scores and aggregate statistics.
//
// A fix that never recurred scores 1.0. Every recurrence lowers the score;
// recurrences inside the configured window (measured from the resolution
// they followed) count at full weight, while later recurrences count at
// half weight since the fix at least held for a while. The score is
// 1/(1+weight), so a single recurrence always lands below the default
// threshold of 0.8.
type Scorer struct {
	threshold float64
	window    time.Duration
}

// NewScorer creates a scorer. A zero threshold falls back to 0.8 and a
// zero window disables the recency discount (all recurrences full weight).
func NewScorer(threshold float64, window time.Duration) *Scorer {
	if threshold <= 0 {
		threshold = 0.8
	}
	return &Scorer{threshold: threshold, window: window}
}

// Threshold returns the configured effectiveness threshold.
func (sc *Scorer) Threshold() float64 {
	return sc.threshold
}

// Score returns the record's effectiveness in [0, 1].
func (sc *Scorer) Score(rec *Record) float64 {
	if rec == nil {
		return 0
	}
	if rec.RecurrenceCount == 0 {
		return 1.0
	}
	return 1.0 / (1.0 + sc.recurrenceWeight(rec))
}

// recurrenceWeight sums per-recurrence weights for the recurrences since
// the most recent resolution. History is walked backwards so only events
// after the last RESOLVED/RE_RESOLVED count, matching RecurrenceCount.
func (sc *Scorer) recurrenceWeight(rec *Record) float64 {
	if sc.window <= 0 {
		return float64(rec.RecurrenceCount)
	}

	weight := 0.0
	counted := 0
	for i := len(rec.History) - 1; i >= 0; i-- {
		entry := rec.History[i]
		if entry.Action != ActionRecurred {
			break
		}
		if entry.Timestamp.Sub(rec.ResolvedAt) <= sc.window {
			weight += 1.0
		} else {
			weight += 0.5
		}
		counted++
	}

	// Snapshots written by older builds may carry a count without the
	// matching history entries; trust the count in that case.
	if counted < rec.RecurrenceCount {
		weight += float64(rec.RecurrenceCount - counted)
	}
	return weight
}

// IsEffective reports whether the record's score meets the threshold.
func (sc *Scorer) IsEffective(rec *Record) bool {
	return sc.Score(rec) >= sc.threshold
}

// matches reports whether a record passes the aggregate filter.
func (f *AggregateFilter) matches(rec *Record) bool {
	if f == nil {
		return true
	}
	if f.FixType != "" && rec.FixType != f.FixType {
		return false
	}
	if f.DeveloperID != "" && rec.DeveloperID != f.DeveloperID {
		return false
	}
	return true
}

// Aggregate computes effectiveness statistics over the given records,
// optionally restricted by filter. An empty selection yields a zeroed
// report rather than dividing by zero.
func (sc *Scorer) Aggregate(records []*Record, filter *AggregateFilter) *AggregateReport {
	report := &AggregateReport{
		FixTypeBreakdown:   make(map[string]FixTypeStats),
		TopPerformingFixes: []ScoredRecord{},
	}

	var scoreSum, recurrenceSum float64
	for _, rec := range records {
		if rec == nil || !filter.matches(rec) {
			continue
		}

		score := sc.Score(rec)
		effective := score >= sc.threshold

		report.TotalFixes++
		if effective {
			report.EffectiveFixes++
		}
		scoreSum += score
		recurrenceSum += float64(rec.RecurrenceCount)

		if rec.FixType != "" {
			stats := report.FixTypeBreakdown[rec.FixType]
			stats.Count++
			if effective {
				stats.EffectiveCount++
			}
			report.FixTypeBreakdown[rec.FixType] = stats
		}

		report.TopPerformingFixes = append(report.TopPerformingFixes, ScoredRecord{
			Signature:       rec.Signature,
			ID:              rec.ID,
			FixType:         rec.FixType,
			DeveloperID:     rec.DeveloperID,
			RecurrenceCount: rec.RecurrenceCount,
			Score:           score,
		})
	}

	if report.TotalFixes > 0 {
		report.EffectivenessRate = float64(report.EffectiveFixes) / float64(report.TotalFixes)
		report.AverageEffectiveness = scoreSum / float64(report.TotalFixes)
		report.AverageRecurrences = recurrenceSum / float64(report.TotalFixes)
	}

	sort.Slice(report.TopPerformingFixes, func(i, j int) bool {
		a, b := report.TopPerformingFixes[i], report.TopPerformingFixes[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Signature < b.Signature
	})

	return report
}
