package feedback

import (
	"fmt"

	"phivault/internal/procedure"
)

// spanKey identifies an entity for matching purposes. Text is deliberately
// excluded: offsets plus type define identity, the surface form is derived.
func spanKey(e procedure.Entity) string {
	start, end := e.Span()
	return fmt.Sprintf("%d:%d:%s", start, end, e.EntityType)
}

// Score compares the detector's spans against the reviewer's ground truth.
// Matching is exact on (start, end, entity type); partial overlaps and type
// mismatches count as both a false positive and a false negative. Any ratio
// with a zero denominator is 0, not NaN, so records with no entities on
// either side score cleanly.
func Score(detected, confirmed []procedure.Entity) Scores {
	truth := make(map[string]bool, len(confirmed))
	for _, e := range confirmed {
		truth[spanKey(e)] = true
	}

	var s Scores
	seen := make(map[string]bool, len(detected))
	for _, e := range detected {
		key := spanKey(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		if truth[key] {
			s.TruePositives++
		} else {
			s.FalsePositives++
		}
	}
	for key := range truth {
		if !seen[key] {
			s.FalseNegatives++
		}
	}

	if denom := s.TruePositives + s.FalsePositives; denom > 0 {
		s.Precision = float64(s.TruePositives) / float64(denom)
	}
	if denom := s.TruePositives + s.FalseNegatives; denom > 0 {
		s.Recall = float64(s.TruePositives) / float64(denom)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}
