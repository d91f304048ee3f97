package resolution

import (
	"math"
	"sort"
)

// DefaultConfidenceZ is the z parameter of the Wilson lower bound used
// for suggestion confidence. The bound is deliberately gentle: with two
// never-recurring applications of a fix type it stays above 0.9, while
// still discounting single-sample success rates.
const DefaultConfidenceZ = 0.4

// maxSuggestionSources caps how many example fixes ride along per group.
const maxSuggestionSources = 3

// Suggester recommends fixes for new errors by grouping records that
// share a fix category across different signatures: a fix that worked
// for one error class is evidence for the next.
type Suggester struct {
	scorer *Scorer
	z      float64
}

// NewSuggester creates a suggester backed by the given scorer. A zero z
// falls back to DefaultConfidenceZ.
func NewSuggester(scorer *Scorer, z float64) *Suggester {
	if z <= 0 {
		z = DefaultConfidenceZ
	}
	return &Suggester{scorer: scorer, z: z}
}

// wilsonLowerBound returns the lower bound of the Wilson score interval
// for successes/n at the suggester's z. The bound is always at or below
// the raw rate, grows with sample size at a fixed rate, and converges to
// the rate as samples accumulate.
func (sg *Suggester) wilsonLowerBound(successes, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(successes) / float64(n)
	nf := float64(n)
	z2 := sg.z * sg.z

	center := p + z2/(2*nf)
	margin := sg.z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf))
	return (center - margin) / (1 + z2/nf)
}

// SuggestFixes aggregates the given records into per-fixType suggestion
// groups for the signature. When the signature itself has a record with a
// fix type, only that group is considered; otherwise every fix type is
// eligible. Records without a fix type never form a group.
func (sg *Suggester) SuggestFixes(records []*Record, signature string, opts *SuggestOptions) []*FixSuggestion {
	if opts == nil {
		opts = DefaultSuggestOptions()
	}

	// A known signature narrows the search to its own fix category.
	targetType := ""
	for _, rec := range records {
		if rec != nil && rec.Signature == signature {
			targetType = rec.FixType
			break
		}
	}

	groups := make(map[string][]*Record)
	for _, rec := range records {
		if rec == nil || rec.FixType == "" {
			continue
		}
		if targetType != "" && rec.FixType != targetType {
			continue
		}
		groups[rec.FixType] = append(groups[rec.FixType], rec)
	}

	suggestions := make([]*FixSuggestion, 0, len(groups))
	for fixType, members := range groups {
		sug := &FixSuggestion{
			FixType:          fixType,
			ApplicationCount: len(members),
		}

		sources := make([]SuggestionSource, 0, len(members))
		for _, rec := range members {
			score := sg.scorer.Score(rec)
			if sg.scorer.IsEffective(rec) {
				sug.SuccessCount++
			}
			sources = append(sources, SuggestionSource{
				Signature:      rec.Signature,
				FixDescription: rec.FixDescription,
				Notes:          rec.Notes,
				Score:          score,
			})
		}

		sug.SuccessRate = float64(sug.SuccessCount) / float64(sug.ApplicationCount)
		sug.Confidence = sg.wilsonLowerBound(sug.SuccessCount, sug.ApplicationCount)

		sort.Slice(sources, func(i, j int) bool {
			if sources[i].Score != sources[j].Score {
				return sources[i].Score > sources[j].Score
			}
			return sources[i].Signature < sources[j].Signature
		})
		if len(sources) > maxSuggestionSources {
			sources = sources[:maxSuggestionSources]
		}
		sug.Sources = sources

		if !opts.IncludeIneffective && sug.SuccessRate < opts.MinSuccessRate {
			continue
		}
		suggestions = append(suggestions, sug)
	}

	sort.Slice(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.SuccessRate != b.SuccessRate {
			if opts.IncludeIneffective {
				// Worst-performing first: the caller asked to see failures.
				return a.SuccessRate < b.SuccessRate
			}
			return a.SuccessRate > b.SuccessRate
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.FixType < b.FixType
	})

	if opts.Limit > 0 && len(suggestions) > opts.Limit {
		suggestions = suggestions[:opts.Limit]
	}
	return suggestions
}
