package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
)

// Connection lifecycle operations.
//
// TERMINOLOGY
// request: create pending (or auto-accept if the opposite pending exists).
// accept: pending → accepted (by the addressee).
// decline (by addressee): pending row deleted, re-request allowed.
// cancel (by requester): pending row deleted, same terminal outcome.
// disconnect (either party): accepted → disconnected. Irreversible; a
// disconnected pair cannot re-request.
//
// Every operation runs in one transaction that first serializes the unordered
// pair via an advisory lock, then reads the (single possible) row FOR UPDATE,
// branches on the state, performs at most one write, and commits. The
// advisory lock is what prevents two concurrent requesters from both reading
// "no row" and both inserting: FOR UPDATE cannot lock a row that does not
// exist yet. Operations on disjoint pairs never share a lock key.

// lockPair takes a transaction-scoped advisory lock on the unordered pair.
// Must be called before any read of the pair's state.
func lockPair(tx *sql.Tx, a, b int) error {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	_, err := tx.Exec(`SELECT pg_advisory_xact_lock($1, $2)`, lo, hi)
	return err
}

// loadPairForUpdate returns the connection row between two users (in EITHER
// direction) with a row lock, or (nil, nil) if no row exists.
func loadPairForUpdate(tx *sql.Tx, a, b int) (*ConnectionRow, error) {
	row := tx.QueryRow(`
		SELECT id, user_id, target_user_id, status, created_at, updated_at
		FROM connections
		WHERE (user_id = $1 AND target_user_id = $2)
		   OR (user_id = $2 AND target_user_id = $1)
		LIMIT 1
		FOR UPDATE
	`, a, b)

	var c ConnectionRow
	if err := row.Scan(&c.ID, &c.UserID, &c.TargetUserID, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// connectionOutcome is the result of a successful state transition.
type connectionOutcome struct {
	State        string `json:"state"`
	ConnectionID int    `json:"connection_id,omitempty"`
}

// requestConnection creates a pending request me → target, or, when the
// target had already requested me, collapses the mutual request into a single
// accepted row inside the same transaction. Any surviving row between the
// pair conflicts: pending and disconnected fail with Conflict, accepted with
// AlreadyConnected.
func requestConnection(ctx context.Context, db *sql.DB, me, target int) (*connectionOutcome, error) {
	if me == target {
		return nil, errInvalid("cannot request a connection with yourself")
	}

	var out connectionOutcome
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		if err := lockPair(tx, me, target); err != nil {
			return classifyDBError(err)
		}
		row, err := loadPairForUpdate(tx, me, target)
		if err != nil {
			return classifyDBError(err)
		}

		if row == nil {
			if err := tx.QueryRow(`
				INSERT INTO connections (user_id, target_user_id, status)
				VALUES ($1, $2, $3)
				RETURNING id
			`, me, target, statusPending).Scan(&out.ConnectionID); err != nil {
				return classifyDBError(err)
			}
			out.State = statusPending
			connectionTransitions.WithLabelValues("requested").Inc()
			return nil
		}

		switch row.Status {
		case statusPending:
			if row.UserID == target && row.TargetUserID == me {
				// Mutual request: they already asked for me.
				if err := tx.QueryRow(`
					UPDATE connections SET status = $1, updated_at = NOW()
					WHERE id = $2 RETURNING id
				`, statusAccepted, row.ID).Scan(&out.ConnectionID); err != nil {
					return classifyDBError(err)
				}
				out.State = statusAccepted
				connectionTransitions.WithLabelValues("auto_accepted").Inc()
				return nil
			}
			// My own request is still pending.
			return errConflict("request already pending")

		case statusAccepted:
			return errAlreadyConnected()

		case statusDisconnected:
			return errConflict("pair has disconnected")

		default:
			return errConflict("connection in unexpected state")
		}
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// acceptConnection transitions a pending row requester → me to accepted.
// No row, or a pending row in the wrong direction, fails with NotFound; an
// already-accepted or disconnected row fails with Conflict.
func acceptConnection(ctx context.Context, db *sql.DB, me, requester int) (*connectionOutcome, error) {
	if me == requester {
		return nil, errInvalid("cannot accept a connection with yourself")
	}

	var out connectionOutcome
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		if err := lockPair(tx, me, requester); err != nil {
			return classifyDBError(err)
		}
		row, err := loadPairForUpdate(tx, me, requester)
		if err != nil {
			return classifyDBError(err)
		}
		if row == nil {
			return errNotFound("no pending request")
		}

		switch row.Status {
		case statusPending:
			if row.UserID == requester && row.TargetUserID == me {
				if err := tx.QueryRow(`
					UPDATE connections SET status = $1, updated_at = NOW()
					WHERE id = $2 RETURNING id
				`, statusAccepted, row.ID).Scan(&out.ConnectionID); err != nil {
					return classifyDBError(err)
				}
				out.State = statusAccepted
				connectionTransitions.WithLabelValues("accepted").Inc()
				return nil
			}
			// The pending request is mine; there is nothing to accept.
			return errNotFound("no pending request")

		case statusAccepted:
			return errConflict("already accepted")

		case statusDisconnected:
			return errConflict("pair has disconnected")

		default:
			return errConflict("connection in unexpected state")
		}
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// declineConnection removes a pending request requester → me. The row is
// deleted outright so the pair may re-request later.
func declineConnection(ctx context.Context, db *sql.DB, me, requester int) error {
	if me == requester {
		return errInvalid("cannot decline a connection with yourself")
	}

	return withTx(ctx, db, func(tx *sql.Tx) error {
		if err := lockPair(tx, me, requester); err != nil {
			return classifyDBError(err)
		}
		row, err := loadPairForUpdate(tx, me, requester)
		if err != nil {
			return classifyDBError(err)
		}
		if row == nil {
			return errNotFound("no pending request")
		}

		switch row.Status {
		case statusPending:
			if row.UserID == requester && row.TargetUserID == me {
				if _, err := tx.Exec(`DELETE FROM connections WHERE id = $1`, row.ID); err != nil {
					return classifyDBError(err)
				}
				connectionTransitions.WithLabelValues("declined").Inc()
				return nil
			}
			// The pending request is mine; cancel is the right operation.
			return errNotFound("no pending request")

		case statusAccepted, statusDisconnected:
			return errConflict("not a pending request")

		default:
			return errConflict("connection in unexpected state")
		}
	})
}

// cancelConnectionRequest withdraws my own pending request me → target.
// Mirror of declineConnection with the actors swapped.
func cancelConnectionRequest(ctx context.Context, db *sql.DB, me, target int) error {
	if me == target {
		return errInvalid("cannot cancel a connection with yourself")
	}

	return withTx(ctx, db, func(tx *sql.Tx) error {
		if err := lockPair(tx, me, target); err != nil {
			return classifyDBError(err)
		}
		row, err := loadPairForUpdate(tx, me, target)
		if err != nil {
			return classifyDBError(err)
		}
		if row == nil {
			return errNotFound("no pending request")
		}

		switch row.Status {
		case statusPending:
			if row.UserID == me && row.TargetUserID == target {
				if _, err := tx.Exec(`DELETE FROM connections WHERE id = $1`, row.ID); err != nil {
					return classifyDBError(err)
				}
				connectionTransitions.WithLabelValues("cancelled").Inc()
				return nil
			}
			// It's their pending request; decline is the right operation.
			return errNotFound("no pending request")

		case statusAccepted, statusDisconnected:
			return errConflict("not a pending request")

		default:
			return errConflict("connection in unexpected state")
		}
	})
}

// disconnectConnection transitions an accepted row (either direction) to
// disconnected. Either party may call it. Pending rows and already
// disconnected pairs fail with Conflict.
func disconnectConnection(ctx context.Context, db *sql.DB, me, peer int) error {
	if me == peer {
		return errInvalid("cannot disconnect from yourself")
	}

	return withTx(ctx, db, func(tx *sql.Tx) error {
		if err := lockPair(tx, me, peer); err != nil {
			return classifyDBError(err)
		}
		row, err := loadPairForUpdate(tx, me, peer)
		if err != nil {
			return classifyDBError(err)
		}
		if row == nil {
			return errNotFound("no connection")
		}

		switch row.Status {
		case statusAccepted:
			if _, err := tx.Exec(`
				UPDATE connections SET status = $1, updated_at = NOW() WHERE id = $2
			`, statusDisconnected, row.ID); err != nil {
				return classifyDBError(err)
			}
			connectionTransitions.WithLabelValues("disconnected").Inc()
			return nil

		case statusPending:
			return errConflict("connection not accepted")

		case statusDisconnected:
			return errConflict("already disconnected")

		default:
			return errConflict("connection in unexpected state")
		}
	})
}

// --- HTTP surface ---

// GET /connections - ids of my accepted peers
func connectionsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		rows, err := db.Query(`
			SELECT
				CASE
					WHEN user_id = $1 THEN target_user_id
					ELSE user_id
				END AS peer_id
			FROM connections
			WHERE (user_id = $1 OR target_user_id = $1) AND status = 'accepted'
			ORDER BY updated_at DESC, id DESC
		`, userID)
		if err != nil {
			writeAppError(w, classifyDBError(err))
			return
		}
		defer rows.Close()

		connections := []int{}
		for rows.Next() {
			var peerID int
			if err := rows.Scan(&peerID); err == nil {
				connections = append(connections, peerID)
			}
		}
		writeJSON(w, http.StatusOK, map[string][]int{"connections": connections})
	})
}

// GET /connections/requests - ids of users with a pending request to me
func requestsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		rows, err := db.Query(`
			SELECT user_id AS peer_id
			FROM connections
			WHERE target_user_id = $1 AND status = 'pending'
			ORDER BY created_at DESC, id DESC
		`, userID)
		if err != nil {
			writeAppError(w, classifyDBError(err))
			return
		}
		defer rows.Close()

		requests := []int{}
		for rows.Next() {
			var peerID int
			if err := rows.Scan(&peerID); err == nil {
				requests = append(requests, peerID)
			}
		}
		writeJSON(w, http.StatusOK, map[string][]int{"requests": requests})
	})
}

// GET /connections/outgoing - ids of users I have a pending request to
func outgoingRequestsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		rows, err := db.Query(`
			SELECT target_user_id AS peer_id
			FROM connections
			WHERE user_id = $1 AND status = 'pending'
			ORDER BY created_at DESC, id DESC
		`, userID)
		if err != nil {
			writeAppError(w, classifyDBError(err))
			return
		}
		defer rows.Close()

		outgoing := []int{}
		for rows.Next() {
			var peerID int
			if err := rows.Scan(&peerID); err == nil {
				outgoing = append(outgoing, peerID)
			}
		}
		writeJSON(w, http.StatusOK, map[string][]int{"outgoing": outgoing})
	})
}

// connectionsActionsRouter dispatches /connections/{id}[/action] requests.
func connectionsActionsRouter(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		parts := strings.Split(path, "/")
		if len(parts) < 2 || parts[0] != "connections" {
			http.NotFound(w, r)
			return
		}

		// DELETE /connections/{id} → disconnect
		if r.Method == http.MethodDelete && len(parts) == 2 {
			disconnectConnectionHandler(db).ServeHTTP(w, r)
			return
		}

		// POST /connections/{id}/(request|accept|decline|cancel)
		if r.Method == http.MethodPost && len(parts) == 3 {
			switch parts[2] {
			case "request":
				requestConnectionHandler(db).ServeHTTP(w, r)
			case "accept":
				acceptConnectionHandler(db).ServeHTTP(w, r)
			case "decline":
				declineConnectionHandler(db).ServeHTTP(w, r)
			case "cancel":
				cancelConnectionRequestHandler(db).ServeHTTP(w, r)
			default:
				http.NotFound(w, r)
			}
			return
		}

		http.NotFound(w, r)
	}
}

// parseConnectionTarget validates the path shape /connections/{id}/{action}
// (or /connections/{id} when action is empty) and checks that the target user
// exists with a complete profile.
func parseConnectionTarget(db *sql.DB, r *http.Request, action string) (int, error) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	want := 2
	if action != "" {
		want = 3
	}
	if len(parts) != want || parts[0] != "connections" || (action != "" && parts[2] != action) {
		return 0, errNotFound("no such route")
	}
	targetID, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errNotFound("no such user")
	}

	var exists bool
	if err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1
			FROM users u
			JOIN profiles p ON p.user_id = u.id
			WHERE u.id = $1 AND COALESCE(p.is_complete, FALSE) = TRUE
		)
	`, targetID).Scan(&exists); err != nil {
		return 0, classifyDBError(err)
	}
	if !exists {
		return 0, errNotFound("no such user")
	}
	return targetID, nil
}

// POST /connections/{id}/request
func requestConnectionHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		targetID, err := parseConnectionTarget(db, r, "request")
		if err != nil {
			writeAppError(w, err)
			return
		}
		me := r.Context().Value(userIDKey).(int)

		out, err := requestConnection(r.Context(), db, me, targetID)
		if err != nil {
			writeAppError(w, err)
			logConnectionError("request", me, targetID, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// POST /connections/{id}/accept
func acceptConnectionHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		requesterID, err := parseConnectionTarget(db, r, "accept")
		if err != nil {
			writeAppError(w, err)
			return
		}
		me := r.Context().Value(userIDKey).(int)

		out, err := acceptConnection(r.Context(), db, me, requesterID)
		if err != nil {
			writeAppError(w, err)
			logConnectionError("accept", me, requesterID, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// POST /connections/{id}/decline
func declineConnectionHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		requesterID, err := parseConnectionTarget(db, r, "decline")
		if err != nil {
			writeAppError(w, err)
			return
		}
		me := r.Context().Value(userIDKey).(int)

		if err := declineConnection(r.Context(), db, me, requesterID); err != nil {
			writeAppError(w, err)
			logConnectionError("decline", me, requesterID, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": "declined"})
	})
}

// POST /connections/{id}/cancel
func cancelConnectionRequestHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		targetID, err := parseConnectionTarget(db, r, "cancel")
		if err != nil {
			writeAppError(w, err)
			return
		}
		me := r.Context().Value(userIDKey).(int)

		if err := cancelConnectionRequest(r.Context(), db, me, targetID); err != nil {
			writeAppError(w, err)
			logConnectionError("cancel", me, targetID, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": "cancelled"})
	})
}

// DELETE /connections/{id}
func disconnectConnectionHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		peerID, err := parseConnectionTarget(db, r, "")
		if err != nil {
			writeAppError(w, err)
			return
		}
		me := r.Context().Value(userIDKey).(int)

		if err := disconnectConnection(r.Context(), db, me, peerID); err != nil {
			writeAppError(w, err)
			logConnectionError("disconnect", me, peerID, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// logConnectionError keeps expected taxonomy outcomes out of the log and
// records everything else.
func logConnectionError(op string, me, peer int, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeInternal, CodeTransient:
			log.Printf("connection %s %d->%d failed: %v", op, me, peer, err)
		}
		return
	}
	log.Printf("connection %s %d->%d failed: %v", op, me, peer, err)
}
