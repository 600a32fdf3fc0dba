package main

import (
	"net/http"
	"testing"
)

func TestPresence(t *testing.T) {
	requireDB(t)

	user := createTestUser(t, "presence@test.com", "password123")
	t.Cleanup(func() { cleanupTestData(user.Email) })

	t.Run("ping marks the user online", func(t *testing.T) {
		w := doRequest(t, mePingHandler(db), http.MethodPost, "/me/ping", user.Token, nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}

		online, err := isOnlineNow(db, user.ID)
		if err != nil {
			t.Fatalf("isOnlineNow failed: %v", err)
		}
		if !online {
			t.Fatal("expected the user to be online right after a ping")
		}
	})

	t.Run("stale activity means offline", func(t *testing.T) {
		if _, err := db.Exec(`
			UPDATE users SET last_online = NOW() - INTERVAL '10 minutes' WHERE id = $1
		`, user.ID); err != nil {
			t.Fatalf("failed to age last_online: %v", err)
		}

		online, err := isOnlineNow(db, user.ID)
		if err != nil {
			t.Fatalf("isOnlineNow failed: %v", err)
		}
		if online {
			t.Fatal("expected the user to be offline after ten quiet minutes")
		}
	})
}
