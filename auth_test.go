package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIssueAndParseToken(t *testing.T) {
	token, err := issueToken(42)
	if err != nil {
		t.Fatalf("issueToken failed: %v", err)
	}

	id, ok := parseUserIDFromJWT(token)
	if !ok || id != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", id, ok)
	}
}

func TestParseUserIDFromJWTRejectsGarbage(t *testing.T) {
	for _, tok := range []string{"", "not-a-jwt", "aaaa.bbbb.cccc"} {
		if _, ok := parseUserIDFromJWT(tok); ok {
			t.Errorf("expected token %q to be rejected", tok)
		}
	}
}

func TestGetUserIDFromRequest(t *testing.T) {
	token, err := issueToken(7)
	if err != nil {
		t.Fatalf("issueToken failed: %v", err)
	}

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if id, ok := getUserIDFromRequest(req); !ok || id != 7 {
			t.Fatalf("expected (7, true), got (%d, %v)", id, ok)
		}
	})

	t.Run("token query param", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws/chat?token="+token, nil)
		if id, ok := getUserIDFromRequest(req); !ok || id != 7 {
			t.Fatalf("expected (7, true), got (%d, %v)", id, ok)
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
		if _, ok := getUserIDFromRequest(req); ok {
			t.Fatal("expected rejection without credentials")
		}
	})
}

func TestRegister(t *testing.T) {
	requireDB(t)

	email := "auth-register@test.com"
	cleanupTestData(email)
	t.Cleanup(func() { cleanupTestData(email) })

	handler := registerHandler(db)
	body := []byte(fmt.Sprintf(`{"email":"%s","password":"password123"}`, email))

	t.Run("success returns a token", func(t *testing.T) {
		w := doRequest(t, handler, http.MethodPost, "/register", "", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d body %s", w.Code, w.Body.String())
		}
		resp := decodeJSONBody(t, w)
		token, _ := resp["token"].(string)
		if token == "" {
			t.Fatal("expected a token in the response")
		}
		if id, ok := parseUserIDFromJWT(token); !ok || id <= 0 {
			t.Fatalf("expected a parseable token, got id=%d ok=%v", id, ok)
		}
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		w := doRequest(t, handler, http.MethodPost, "/register", "", body)
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", w.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		w := doRequest(t, handler, http.MethodPost, "/register", "", []byte(`{"email":"  "}`))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestLogin(t *testing.T) {
	requireDB(t)

	user := createTestUser(t, "auth-login@test.com", "password123")
	t.Cleanup(func() { cleanupTestData(user.Email) })

	handler := loginHandler(db)
	login := func(remoteAddr, email, password string) *httptest.ResponseRecorder {
		body := []byte(fmt.Sprintf(`{"email":"%s","password":"%s"}`, email, password))
		req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("valid credentials", func(t *testing.T) {
		w := login("10.1.1.1:5000", user.Email, user.Password)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body %s", w.Code, w.Body.String())
		}
		resp := decodeJSONBody(t, w)
		token, _ := resp["token"].(string)
		if id, ok := parseUserIDFromJWT(token); !ok || id != user.ID {
			t.Fatalf("expected token for user %d, got id=%d ok=%v", user.ID, id, ok)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		w := login("10.1.1.2:5000", user.Email, "wrong-password")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		w := login("10.1.1.3:5000", "nobody@test.com", "password123")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("repeated attempts from one address are throttled", func(t *testing.T) {
		const addr = "10.9.9.9:5000"
		limited := false
		for i := 0; i < 20; i++ {
			if login(addr, user.Email, "wrong-password").Code == http.StatusTooManyRequests {
				limited = true
				break
			}
		}
		if !limited {
			t.Fatal("expected the throttle to kick in within 20 attempts")
		}
	})
}

func TestAuthenticateMiddleware(t *testing.T) {
	requireDB(t)

	user := createTestUser(t, "auth-mid@test.com", "password123")
	t.Cleanup(func() { cleanupTestData(user.Email) })

	var seenID int
	handler := authenticate(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Context().Value(userIDKey).(int)
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("valid token passes the user through", func(t *testing.T) {
		w := doRequest(t, handler, http.MethodGet, "/me", user.Token, nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
		if seenID != user.ID {
			t.Fatalf("expected context user %d, got %d", user.ID, seenID)
		}
	})

	t.Run("missing token is 401", func(t *testing.T) {
		w := doRequest(t, handler, http.MethodGet, "/me", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		body := decodeJSONBody(t, w)
		if body["error"] != "unauthorized" {
			t.Fatalf("expected unauthorized error body, got %v", body)
		}
	})

	t.Run("mangled token is 401", func(t *testing.T) {
		w := doRequest(t, handler, http.MethodGet, "/me", user.Token+"tampered", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})
}
