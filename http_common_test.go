package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusTeapot, map[string]string{"k": "v"})

	if w.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	if body := decodeJSONBody(t, w); body["k"] != "v" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestWithRequestLog(t *testing.T) {
	handler := withRequestLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected the wrapped status to pass through, got %d", w.Code)
	}
}

func TestWithTx(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	user := createTestUser(t, "withtx@test.com", "password123")
	t.Cleanup(func() { cleanupTestData(user.Email) })

	t.Run("commit on success", func(t *testing.T) {
		err := withTx(ctx, db, func(tx *sql.Tx) error {
			_, err := tx.Exec(`UPDATE users SET last_online = NOW() WHERE id = $1`, user.ID)
			return err
		})
		if err != nil {
			t.Fatalf("expected commit, got %v", err)
		}
	})

	t.Run("error rolls the work back", func(t *testing.T) {
		boom := errors.New("boom")
		err := withTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(`UPDATE users SET email = 'withtx-changed@test.com' WHERE id = $1`, user.ID); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected the callback error back, got %v", err)
		}

		var email string
		if err := db.QueryRow(`SELECT email FROM users WHERE id = $1`, user.ID).Scan(&email); err != nil {
			t.Fatalf("failed to read user back: %v", err)
		}
		if email != user.Email {
			t.Fatalf("expected the update to be rolled back, got %q", email)
		}
	})

	t.Run("panic rolls back and re-panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the panic to propagate")
			}
			var email string
			if err := db.QueryRow(`SELECT email FROM users WHERE id = $1`, user.ID).Scan(&email); err != nil {
				t.Fatalf("failed to read user back: %v", err)
			}
			if email != user.Email {
				t.Fatalf("expected the update to be rolled back, got %q", email)
			}
		}()
		_ = withTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(`UPDATE users SET email = 'withtx-panic@test.com' WHERE id = $1`, user.ID); err != nil {
				return err
			}
			panic("mid-transaction failure")
		})
	})
}
