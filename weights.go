package main

import "fmt"

// The six scoring dimensions, keyed as they appear in match_preferences.
var scoringDimensions = []string{
	"analog_passions",
	"digital_delights",
	"collaboration_interests",
	"favorite_food",
	"favorite_music",
	"location",
}

// MatchWeights maps each scoring dimension to the user's importance weight.
type MatchWeights map[string]int

const (
	minWeight = 0
	maxWeight = 10
)

// validateWeights checks a weight map submitted through the profile API.
// Unknown dimensions and out-of-range values fail with Invalid.
func validateWeights(raw map[string]int) error {
	for dim, w := range raw {
		known := false
		for _, d := range scoringDimensions {
			if d == dim {
				known = true
				break
			}
		}
		if !known {
			return errInvalid(fmt.Sprintf("unknown scoring dimension %q", dim))
		}
		if w < minWeight || w > maxWeight {
			return errInvalid(fmt.Sprintf("weight for %q must be between %d and %d", dim, minWeight, maxWeight))
		}
	}
	return nil
}

// resolveWeights normalizes a stored weight map for scoring: every dimension
// is present, a dimension the user never set counts as 0 and so contributes
// nothing to the score or to the percentage denominator.
func resolveWeights(raw map[string]int) MatchWeights {
	w := make(MatchWeights, len(scoringDimensions))
	for _, dim := range scoringDimensions {
		w[dim] = 0
	}
	for dim, v := range raw {
		if _, ok := w[dim]; ok && v >= minWeight && v <= maxWeight {
			w[dim] = v
		}
	}
	return w
}

// Sum is the percentage denominator: the total importance the user assigned
// across all six dimensions.
func (w MatchWeights) Sum() int {
	total := 0
	for _, v := range w {
		total += v
	}
	return total
}
