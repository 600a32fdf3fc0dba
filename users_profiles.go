package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
)

// Dispatcher for /users/* to route summary/profile/bio
func usersDispatcher(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		parts := strings.Split(path, "/")
		if len(parts) < 2 || parts[0] != "users" {
			http.NotFound(w, r)
			return
		}
		if len(parts) == 2 {
			userHandler(db).ServeHTTP(w, r)
			return
		}
		if len(parts) == 3 {
			switch parts[2] {
			case "profile":
				userProfileHandler(db).ServeHTTP(w, r)
			case "bio":
				userBioHandler(db).ServeHTTP(w, r)
			default:
				http.NotFound(w, r)
			}
			return
		}
		http.NotFound(w, r)
	}
}

// canViewUser implements the visibility rule: a user is visible when there is
// a pending or accepted connection with them, or when they currently appear
// in the caller's recommendations. Everything else masks as not_found.
func canViewUser(db *sql.DB, requesterID, targetID int) bool {
	if requesterID == targetID {
		return true
	}
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM connections
		WHERE ((user_id = $1 AND target_user_id = $2) OR (user_id = $2 AND target_user_id = $1))
		AND status IN ('accepted', 'pending')
	`, requesterID, targetID).Scan(&count)
	if err == nil && count > 0 {
		return true
	}
	ok, err := isCurrentlyRecommendable(db, requesterID, targetID)
	return err == nil && ok
}

// GET /users/{id} - public summary
func userHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 || parts[0] != "users" {
			http.NotFound(w, r)
			return
		}
		userID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}

		var displayName string
		err = db.QueryRow(`
			SELECT COALESCE(p.display_name, 'User ' || u.id::text)
			FROM users u
			LEFT JOIN profiles p ON p.user_id = u.id
			WHERE u.id = $1
		`, userID).Scan(&displayName)
		if err != nil {
			writeAppError(w, errNotFound("no such user"))
			return
		}

		online, err := isOnlineNow(db, userID)
		if err != nil {
			// Not critical. If it fails, assume offline.
			online = false
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":           userID,
			"display_name": displayName,
			"is_online":    online,
		})
	})
}

// GET /users/{id}/profile
func userProfileHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "users" || parts[2] != "profile" {
			http.NotFound(w, r)
			return
		}
		targetID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		requesterID := r.Context().Value(userIDKey).(int)

		if !canViewUser(db, requesterID, targetID) {
			writeAppError(w, errNotFound("no such user"))
			return
		}

		var displayName, aboutMe, city string
		var lat, lon sql.NullFloat64
		err = db.QueryRow(`
			SELECT display_name, about_me, location_city, location_lat, location_lon
			FROM profiles WHERE user_id = $1
		`, targetID).Scan(&displayName, &aboutMe, &city, &lat, &lon)
		if err != nil {
			writeAppError(w, errNotFound("no such user"))
			return
		}

		online, err := isOnlineNow(db, targetID)
		if err != nil {
			online = false
		}

		resp := map[string]interface{}{
			"id":            targetID,
			"display_name":  displayName,
			"about_me":      aboutMe,
			"location_city": city,
			"is_online":     online,
		}
		if lat.Valid {
			resp["location_lat"] = lat.Float64
		}
		if lon.Valid {
			resp["location_lon"] = lon.Float64
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// GET /users/{id}/bio - the matching facets
func userBioHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "users" || parts[2] != "bio" {
			http.NotFound(w, r)
			return
		}
		targetID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		requesterID := r.Context().Value(userIDKey).(int)

		if !canViewUser(db, requesterID, targetID) {
			writeAppError(w, errNotFound("no such user"))
			return
		}

		writeBio(w, db, targetID)
	})
}

func writeBio(w http.ResponseWriter, db *sql.DB, userID int) {
	var analog, digital json.RawMessage
	var collaboration, food, music string
	err := db.QueryRow(`
		SELECT analog_passions, digital_delights, collaboration_interests, favorite_food, favorite_music
		FROM profiles WHERE user_id = $1
	`, userID).Scan(&analog, &digital, &collaboration, &food, &music)
	if err != nil {
		writeAppError(w, errNotFound("no such user"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                      userID,
		"analog_passions":         jsonRawOrArray(analog),
		"digital_delights":        jsonRawOrArray(digital),
		"collaboration_interests": collaboration,
		"favorite_food":           food,
		"favorite_music":          music,
	})
}

func jsonRawOrArray(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return []interface{}{}
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return []interface{}{}
	}
	return v
}

// POST|PATCH /me/profile - upsert the caller's profile and mark it complete.
func completeProfileHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPatch {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		type ProfileRequest struct {
			DisplayName      string          `json:"display_name"`
			AboutMe          string          `json:"about_me"`
			LocationCity     string          `json:"location_city"`
			LocationLat      float64         `json:"location_lat"`
			LocationLon      float64         `json:"location_lon"`
			MaxRadiusKm      int             `json:"max_radius_km"`
			AnalogPassions   json.RawMessage `json:"analog_passions"`
			DigitalDelights  json.RawMessage `json:"digital_delights"`
			Collaboration    string          `json:"collaboration_interests"`
			FavoriteFood     string          `json:"favorite_food"`
			FavoriteMusic    string          `json:"favorite_music"`
			MatchPreferences map[string]int  `json:"match_preferences"`
		}
		var req ProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}

		if req.MaxRadiusKm < 0 {
			writeAppError(w, errInvalid("max_radius_km must not be negative"))
			return
		}
		if req.LocationLat < -90 || req.LocationLat > 90 || req.LocationLon < -180 || req.LocationLon > 180 {
			writeAppError(w, errInvalid("coordinates out of range"))
			return
		}
		if err := validateWeights(req.MatchPreferences); err != nil {
			writeAppError(w, err)
			return
		}

		prefs, err := json.Marshal(req.MatchPreferences)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.AnalogPassions == nil {
			req.AnalogPassions = json.RawMessage("[]")
		}
		if req.DigitalDelights == nil {
			req.DigitalDelights = json.RawMessage("[]")
		}

		userID := r.Context().Value(userIDKey).(int)
		_, err = db.Exec(`
			INSERT INTO profiles (
				user_id, display_name, about_me, location_city, location_lat, location_lon, max_radius_km,
				analog_passions, digital_delights, collaboration_interests, favorite_food, favorite_music,
				match_preferences, is_complete
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, TRUE
			)
			ON CONFLICT (user_id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				about_me = EXCLUDED.about_me,
				location_city = EXCLUDED.location_city,
				location_lat = EXCLUDED.location_lat,
				location_lon = EXCLUDED.location_lon,
				max_radius_km = EXCLUDED.max_radius_km,
				analog_passions = EXCLUDED.analog_passions,
				digital_delights = EXCLUDED.digital_delights,
				collaboration_interests = EXCLUDED.collaboration_interests,
				favorite_food = EXCLUDED.favorite_food,
				favorite_music = EXCLUDED.favorite_music,
				match_preferences = EXCLUDED.match_preferences,
				is_complete = TRUE
		`,
			userID, req.DisplayName, req.AboutMe, req.LocationCity, req.LocationLat, req.LocationLon, req.MaxRadiusKm,
			[]byte(req.AnalogPassions), []byte(req.DigitalDelights), req.Collaboration, req.FavoriteFood, req.FavoriteMusic,
			prefs,
		)
		if err != nil {
			writeAppError(w, classifyDBError(err))
			log.Println("Error saving profile:", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// GET /me
func meHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)
		var displayName string
		err := db.QueryRow(`
			SELECT COALESCE(p.display_name, 'User ' || u.id::text)
			FROM users u
			LEFT JOIN profiles p ON p.user_id = u.id
			WHERE u.id = $1
		`, userID).Scan(&displayName)
		if err != nil {
			writeAppError(w, errNotFound("no such user"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":           userID,
			"display_name": displayName,
		})
	})
}

// GET /me/profile
func meProfileHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		var displayName, aboutMe, city, collaboration, food, music string
		var lat, lon sql.NullFloat64
		var maxRadiusKm sql.NullInt64
		var analog, digital, prefs json.RawMessage
		var isComplete sql.NullBool

		err := db.QueryRow(`
			SELECT display_name, about_me, location_city, location_lat, location_lon,
			       max_radius_km, analog_passions, digital_delights, collaboration_interests,
			       favorite_food, favorite_music, match_preferences, is_complete
			FROM profiles WHERE user_id = $1
		`, userID).Scan(
			&displayName, &aboutMe, &city, &lat, &lon,
			&maxRadiusKm, &analog, &digital, &collaboration,
			&food, &music, &prefs, &isComplete,
		)
		if err != nil {
			if err == sql.ErrNoRows {
				writeAppError(w, errNotFound("profile not created yet"))
			} else {
				writeAppError(w, classifyDBError(err))
			}
			return
		}

		response := map[string]interface{}{
			"id":                      userID,
			"display_name":            displayName,
			"about_me":                aboutMe,
			"location_city":           city,
			"collaboration_interests": collaboration,
			"favorite_food":           food,
			"favorite_music":          music,
			"analog_passions":         jsonRawOrArray(analog),
			"digital_delights":        jsonRawOrArray(digital),
			"is_complete":             isComplete.Bool,
		}
		if lat.Valid {
			response["location_lat"] = lat.Float64
		}
		if lon.Valid {
			response["location_lon"] = lon.Float64
		}
		if maxRadiusKm.Valid {
			response["max_radius_km"] = maxRadiusKm.Int64
		}
		if prefs != nil {
			var parsed interface{}
			if json.Unmarshal(prefs, &parsed) == nil {
				response["match_preferences"] = parsed
			}
		}
		writeJSON(w, http.StatusOK, response)
	})
}

// GET|PATCH /me/bio - read or partially update the matching facets.
func meBioHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)
		switch r.Method {
		case http.MethodGet:
			writeBio(w, db, userID)
		case http.MethodPatch:
			patchBio(w, r, db, userID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}

// patchBio updates only the facets present in the request body. Omitted
// fields keep their stored values.
func patchBio(w http.ResponseWriter, r *http.Request, db *sql.DB, userID int) {
	type BioPatch struct {
		AnalogPassions  json.RawMessage `json:"analog_passions"`
		DigitalDelights json.RawMessage `json:"digital_delights"`
		Collaboration   *string         `json:"collaboration_interests"`
		FavoriteFood    *string         `json:"favorite_food"`
		FavoriteMusic   *string         `json:"favorite_music"`
	}
	var patch BioPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	res, err := db.Exec(`
		UPDATE profiles SET
			analog_passions         = COALESCE($2::jsonb, analog_passions),
			digital_delights        = COALESCE($3::jsonb, digital_delights),
			collaboration_interests = COALESCE($4, collaboration_interests),
			favorite_food           = COALESCE($5, favorite_food),
			favorite_music          = COALESCE($6, favorite_music)
		WHERE user_id = $1
	`, userID, []byte(patch.AnalogPassions), []byte(patch.DigitalDelights),
		patch.Collaboration, patch.FavoriteFood, patch.FavoriteMusic)
	if err != nil {
		writeAppError(w, classifyDBError(err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeAppError(w, errNotFound("profile not created yet"))
		return
	}
	writeBio(w, db, userID)
}
