package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// loadScoringProfile reads the requester's full scoring profile. Fails with
// IncompleteProfile before any candidate work when the profile is missing or
// not yet complete.
func loadScoringProfile(db *sql.DB, userID int) (*Profile, error) {
	var p Profile
	var analog, digital, prefs []byte
	err := db.QueryRow(`
		SELECT user_id, COALESCE(is_complete, FALSE), analog_passions, digital_delights,
		       collaboration_interests, favorite_food, favorite_music,
		       location_lat, location_lon, COALESCE(max_radius_km, 0), match_preferences
		FROM profiles WHERE user_id = $1
	`, userID).Scan(
		&p.UserID, &p.IsComplete, &analog, &digital,
		&p.Collaboration, &p.FavoriteFood, &p.FavoriteMusic,
		&p.LocationLat, &p.LocationLon, &p.MaxRadiusKm, &prefs,
	)
	if err == sql.ErrNoRows {
		return nil, errIncompleteProfile()
	}
	if err != nil {
		return nil, classifyDBError(err)
	}
	if !p.IsComplete {
		return nil, errIncompleteProfile()
	}

	_ = json.Unmarshal(analog, &p.AnalogPassions)
	_ = json.Unmarshal(digital, &p.DigitalDelights)
	var rawPrefs map[string]int
	_ = json.Unmarshal(prefs, &rawPrefs)
	p.MatchPreferences = resolveWeights(rawPrefs)
	return &p, nil
}

// eligibleCandidates returns every candidate that survives the SQL-level
// filter: complete profile, not the requester, no connection row between the
// two in either direction in any state, and not in the requester's dismissal
// set. The radius cutoff happens later, once distances are computed.
func eligibleCandidates(db *sql.DB, userID int) ([]Profile, error) {
	rows, err := db.Query(`
		SELECT p.user_id,
		       p.analog_passions,
		       p.digital_delights,
		       p.collaboration_interests,
		       p.favorite_food,
		       p.favorite_music,
		       p.location_lat,
		       p.location_lon
		FROM profiles p
		WHERE p.is_complete = TRUE
		  AND p.user_id <> $1
		  AND NOT EXISTS (
		      SELECT 1
		      FROM connections c
		      WHERE (c.user_id = $1 AND c.target_user_id = p.user_id)
		         OR (c.user_id = p.user_id AND c.target_user_id = $1)
		  )
		  AND NOT EXISTS (
		      SELECT 1
		      FROM dismissed_recommendations d
		      WHERE d.user_id = $1 AND d.dismissed_user_id = p.user_id
		  )
	`, userID)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	var candidates []Profile
	for rows.Next() {
		var c Profile
		var analog, digital []byte
		if err := rows.Scan(&c.UserID, &analog, &digital, &c.Collaboration,
			&c.FavoriteFood, &c.FavoriteMusic, &c.LocationLat, &c.LocationLon); err != nil {
			continue
		}
		_ = json.Unmarshal(analog, &c.AnalogPassions)
		_ = json.Unmarshal(digital, &c.DigitalDelights)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError(err)
	}
	return candidates, nil
}

// getRecommendations runs the full pipeline: completion gate, candidate
// filter, weight resolution, scoring, threshold, ranking, cap.
func getRecommendations(db *sql.DB, userID int) ([]RecommendationResult, error) {
	requester, err := loadScoringProfile(db, userID)
	if err != nil {
		return nil, err
	}

	candidates, err := eligibleCandidates(db, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results := rankCandidates(requester, requester.MatchPreferences, candidates)
	scoringDuration.Observe(time.Since(start).Seconds())
	recommendationsServed.Inc()
	return results, nil
}

// GET /recommendations - ordered candidate ids, at most ten
func recommendationsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		results, err := getRecommendations(db, userID)
		if err != nil {
			writeAppError(w, err)
			return
		}

		ids := make([]int, 0, len(results))
		for _, res := range results {
			ids = append(ids, res.UserID)
		}
		writeJSON(w, http.StatusOK, map[string][]int{"recommendations": ids})
	})
}

// GET /recommendations/detailed - adds raw score, percentage, distance and a
// batched display-name lookup.
func recommendationsDetailedHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		results, err := getRecommendations(db, userID)
		if err != nil {
			writeAppError(w, err)
			return
		}

		attachDisplayNames(r.Context(), db, results)
		writeJSON(w, http.StatusOK, map[string][]RecommendationResult{"recommendations": results})
	})
}

func attachDisplayNames(ctx context.Context, db *sql.DB, results []RecommendationResult) {
	if len(results) == 0 {
		return
	}
	loaders := newLoaders(db)
	thunks := make([]func() (*UserSummary, error), len(results))
	for i, res := range results {
		thunks[i] = loaders.Summaries.Load(ctx, res.UserID)
	}
	for i, thunk := range thunks {
		summary, err := thunk()
		if err != nil {
			log.Println("display name batch load:", err)
			continue
		}
		if summary != nil {
			results[i].DisplayName = summary.DisplayName
		}
	}
}

// POST /recommendations/{id}/dismiss
// Appends to the dismissal ledger. Idempotent: dismissing twice is a no-op.
func dismissRecommendationHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		path := strings.Trim(r.URL.Path, "/")
		parts := strings.Split(path, "/")
		if len(parts) != 3 || parts[0] != "recommendations" || parts[2] != "dismiss" {
			http.NotFound(w, r)
			return
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			writeAppError(w, errNotFound("no such user"))
			return
		}
		userID := r.Context().Value(userIDKey).(int)
		if id == userID {
			writeAppError(w, errInvalid("cannot dismiss yourself"))
			return
		}

		var exists bool
		err = db.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM users u
				JOIN profiles p ON u.id = p.user_id
				WHERE u.id = $1 AND p.is_complete = TRUE
			)
		`, id).Scan(&exists)
		if err != nil {
			writeAppError(w, classifyDBError(err))
			return
		}
		if !exists {
			writeAppError(w, errNotFound("no such user"))
			return
		}

		if _, err := db.Exec(`
			INSERT INTO dismissed_recommendations (user_id, dismissed_user_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, userID, id); err != nil {
			writeAppError(w, classifyDBError(err))
			return
		}
		dismissalsRecorded.Inc()
		writeJSON(w, http.StatusCreated, map[string]bool{"dismissed": true})
	})
}

// isCurrentlyRecommendable reports whether targetID appears in the current
// recommendations for me. Used by the profile-visibility rule.
func isCurrentlyRecommendable(db *sql.DB, me, targetID int) (bool, error) {
	results, err := getRecommendations(db, me)
	if err != nil {
		return false, err
	}
	for _, res := range results {
		if res.UserID == targetID {
			return true, nil
		}
	}
	return false, nil
}
