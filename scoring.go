package main

import (
	"math"
	"sort"
	"strings"
)

// Per-dimension point values and normalizers. Each dimension's points are
// scaled by the user weight and divided by the dimension normalizer so that a
// single exact match contributes a bounded amount.
const (
	exactInterestPoints    = 3
	semanticInterestPoints = 1
	overlapBonusPoints     = 5
	interestNormalizer     = 3.0

	collabKeywordPoints  = 15
	collabPairPoints     = 10
	collabCategoryPoints = 5
	collabNormalizer     = 15.0

	exactTastePoints  = 10
	familyTastePoints = 6
	tasteNormalizer   = 10.0

	// Proximity contribution when the user weights location but has set no
	// search radius: a flat moderate constant, no distance gradient.
	unboundedProximity = 0.5

	minScorePercentage = 25.0
	maxRecommendations = 10
)

// haversine returns the great-circle distance between two coordinates in km.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371
	dLat := (lat2 - lat1) * (math.Pi / 180)
	dLon := (lon2 - lon1) * (math.Pi / 180)
	lat1 = lat1 * (math.Pi / 180)
	lat2 = lat2 * (math.Pi / 180)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func inSemanticGroup(interest string, group []string) bool {
	for _, word := range group {
		if strings.Contains(interest, word) {
			return true
		}
	}
	return false
}

// interestScore scores one set-valued dimension (analog passions or digital
// delights): 3 points per exact match, 1 point per same-semantic-group pair,
// +5 flat bonus when the shared/union overlap fraction exceeds 50%.
func interestScore(mine, theirs []string) int {
	if len(mine) == 0 || len(theirs) == 0 {
		return 0
	}

	mineSet := make(map[string]bool, len(mine))
	for _, interest := range mine {
		mineSet[strings.ToLower(interest)] = true
	}

	exactMatches := 0
	for _, interest := range theirs {
		if mineSet[strings.ToLower(interest)] {
			exactMatches++
		}
	}

	semanticMatches := 0
	for _, mi := range mine {
		miLower := strings.ToLower(mi)
		for _, ti := range theirs {
			tiLower := strings.ToLower(ti)
			if miLower == tiLower {
				continue // exact pair already counted
			}
			for _, group := range semanticGroups {
				if inSemanticGroup(miLower, group) && inSemanticGroup(tiLower, group) {
					semanticMatches++
					break
				}
			}
		}
	}

	score := exactMatches*exactInterestPoints + semanticMatches*semanticInterestPoints

	union := len(mine) + len(theirs) - exactMatches
	if union > 0 && float64(exactMatches)/float64(union) > 0.5 {
		score += overlapBonusPoints
	}
	return score
}

// collaborationScore scores the free-text collaboration dimension: 15 per
// shared keyword, 10 per complementary pair (either direction), 5 per shared
// activity category.
func collaborationScore(a, b string) int {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	score := 0
	for _, kw := range collaborationKeywords {
		if strings.Contains(a, kw) && strings.Contains(b, kw) {
			score += collabKeywordPoints
		}
	}

	for primary, related := range complementaryPairs {
		if strings.Contains(a, primary) {
			for _, rel := range related {
				if strings.Contains(b, rel) {
					score += collabPairPoints
				}
			}
		}
		if strings.Contains(b, primary) {
			for _, rel := range related {
				if strings.Contains(a, rel) {
					score += collabPairPoints
				}
			}
		}
	}

	for _, words := range collaborationCategories {
		aIn, bIn := false, false
		for _, word := range words {
			if strings.Contains(a, word) {
				aIn = true
			}
			if strings.Contains(b, word) {
				bIn = true
			}
		}
		if aIn && bIn {
			score += collabCategoryPoints
		}
	}
	return score
}

// tasteScore scores a single-valued taste dimension (food or music): 10 for
// an exact match, 6 when both fall in the same family.
func tasteScore(mine, theirs string, families map[string][]string) int {
	if mine == "" || theirs == "" {
		return 0
	}
	if strings.EqualFold(mine, theirs) {
		return exactTastePoints
	}

	mineLower := strings.ToLower(mine)
	theirsLower := strings.ToLower(theirs)
	for _, family := range families {
		mineIn, theirsIn := false, false
		for _, member := range family {
			if strings.Contains(mineLower, member) {
				mineIn = true
			}
			if strings.Contains(theirsLower, member) {
				theirsIn = true
			}
		}
		if mineIn && theirsIn {
			return familyTastePoints
		}
	}
	return 0
}

// proximityScore converts distance into the weighted location contribution.
// Weight 0 means the user does not care: zero regardless of distance. With no
// radius set every distance earns the same moderate constant. Otherwise the
// contribution decays as (1 - d/r)^2, clamped to [0,1], with the best
// applicable close-range uplift applied before weighting: ×1.30 within 2 km,
// ×1.20 within 5 km, ×1.10 within 10 km.
func proximityScore(distanceKm float64, maxRadiusKm int, weight int) float64 {
	if weight == 0 {
		return 0
	}
	if maxRadiusKm == 0 {
		return unboundedProximity * float64(weight)
	}

	ratio := 1 - distanceKm/float64(maxRadiusKm)
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}
	proximity := ratio * ratio

	switch {
	case distanceKm <= 2:
		proximity *= 1.30
	case distanceKm <= 5:
		proximity *= 1.20
	case distanceKm <= 10:
		proximity *= 1.10
	}
	return proximity * float64(weight)
}

// scoreCandidate computes the raw weighted compatibility score of a candidate
// against the requester across all six dimensions.
func scoreCandidate(requester *Profile, weights MatchWeights, candidate *Profile, distanceKm float64) float64 {
	total := 0.0
	total += float64(interestScore(requester.AnalogPassions, candidate.AnalogPassions)*weights["analog_passions"]) / interestNormalizer
	total += float64(interestScore(requester.DigitalDelights, candidate.DigitalDelights)*weights["digital_delights"]) / interestNormalizer
	total += float64(collaborationScore(requester.Collaboration, candidate.Collaboration)*weights["collaboration_interests"]) / collabNormalizer
	total += float64(tasteScore(requester.FavoriteFood, candidate.FavoriteFood, cuisineFamilies)*weights["favorite_food"]) / tasteNormalizer
	total += float64(tasteScore(requester.FavoriteMusic, candidate.FavoriteMusic, genreFamilies)*weights["favorite_music"]) / tasteNormalizer
	total += proximityScore(distanceKm, requester.MaxRadiusKm, weights["location"])
	return total
}

// scorePercentage maps a raw score to 0..100 against the requester's total
// assigned weight. All weights zero is defined as 0%, so nothing qualifies.
func scorePercentage(rawScore float64, weightSum int) float64 {
	if weightSum == 0 {
		return 0
	}
	pct := rawScore / float64(weightSum) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// withinRadius is the hard radius cutoff: inclusive at the boundary, and a
// radius of 0 means unlimited.
func withinRadius(distanceKm float64, maxRadiusKm int) bool {
	return maxRadiusKm == 0 || distanceKm <= float64(maxRadiusKm)
}

// rankCandidates applies the radius cutoff (inclusive at the boundary),
// scores the survivors, discards anything under the 25% floor, sorts by raw
// score descending with smaller user id breaking ties, and returns at most
// ten results.
func rankCandidates(requester *Profile, weights MatchWeights, candidates []Profile) []RecommendationResult {
	weightSum := weights.Sum()

	results := make([]RecommendationResult, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]

		distance := haversine(requester.LocationLat, requester.LocationLon, c.LocationLat, c.LocationLon)
		if !withinRadius(distance, requester.MaxRadiusKm) {
			continue
		}

		score := scoreCandidate(requester, weights, c, distance)
		pct := scorePercentage(score, weightSum)
		if pct < minScorePercentage {
			continue
		}
		results = append(results, RecommendationResult{
			UserID:          c.UserID,
			Score:           score,
			ScorePercentage: pct,
			Distance:        distance,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].UserID < results[j].UserID
	})

	if len(results) > maxRecommendations {
		results = results[:maxRecommendations]
	}
	return results
}
