package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
)

func connectionTestPair(t *testing.T, tag string) (TestUser, TestUser) {
	t.Helper()

	alice := createTestUser(t, fmt.Sprintf("conn-%s-alice@test.com", tag), "password123")
	bob := createTestUser(t, fmt.Sprintf("conn-%s-bob@test.com", tag), "password123")
	createTestProfile(t, alice, getDefaultTestProfile())
	createTestProfile(t, bob, getDefaultTestProfile())
	t.Cleanup(func() { cleanupTestData(alice.Email, bob.Email) })
	return alice, bob
}

func pairStatus(t *testing.T, a, b int) (string, int) {
	t.Helper()

	rows, err := db.Query(`
		SELECT status FROM connections
		WHERE (user_id = $1 AND target_user_id = $2)
		   OR (user_id = $2 AND target_user_id = $1)
	`, a, b)
	if err != nil {
		t.Fatalf("failed to query pair: %v", err)
	}
	defer rows.Close()

	status, count := "", 0
	for rows.Next() {
		count++
		if err := rows.Scan(&status); err != nil {
			t.Fatalf("failed to scan status: %v", err)
		}
	}
	return status, count
}

func assertCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError with code %s, got %v", want, err)
	}
	if appErr.Code != want {
		t.Fatalf("expected code %s, got %s", want, appErr.Code)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	t.Run("request then accept then disconnect", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "lifecycle")

		out, err := requestConnection(ctx, db, alice.ID, bob.ID)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if out.State != statusPending {
			t.Fatalf("expected pending, got %s", out.State)
		}

		out, err = acceptConnection(ctx, db, bob.ID, alice.ID)
		if err != nil {
			t.Fatalf("accept failed: %v", err)
		}
		if out.State != statusAccepted {
			t.Fatalf("expected accepted, got %s", out.State)
		}

		if err := disconnectConnection(ctx, db, alice.ID, bob.ID); err != nil {
			t.Fatalf("disconnect failed: %v", err)
		}
		status, count := pairStatus(t, alice.ID, bob.ID)
		if count != 1 || status != statusDisconnected {
			t.Fatalf("expected one disconnected row, got %d rows status %q", count, status)
		}
	})

	t.Run("self request is invalid", func(t *testing.T) {
		alice, _ := connectionTestPair(t, "self")
		_, err := requestConnection(ctx, db, alice.ID, alice.ID)
		assertCode(t, err, CodeInvalid)
	})

	t.Run("duplicate request conflicts", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "dup")

		if _, err := requestConnection(ctx, db, alice.ID, bob.ID); err != nil {
			t.Fatalf("first request failed: %v", err)
		}
		_, err := requestConnection(ctx, db, alice.ID, bob.ID)
		assertCode(t, err, CodeConflict)
	})

	t.Run("request over an accepted connection", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "overacc")
		createConnection(t, alice.ID, bob.ID, statusAccepted)

		_, err := requestConnection(ctx, db, alice.ID, bob.ID)
		assertCode(t, err, CodeAlreadyConnected)
		_, err = requestConnection(ctx, db, bob.ID, alice.ID)
		assertCode(t, err, CodeAlreadyConnected)
	})

	t.Run("mutual request auto-accepts", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "mutual")

		if _, err := requestConnection(ctx, db, alice.ID, bob.ID); err != nil {
			t.Fatalf("first request failed: %v", err)
		}
		out, err := requestConnection(ctx, db, bob.ID, alice.ID)
		if err != nil {
			t.Fatalf("counter-request failed: %v", err)
		}
		if out.State != statusAccepted {
			t.Fatalf("expected auto-accept, got %s", out.State)
		}
		status, count := pairStatus(t, alice.ID, bob.ID)
		if count != 1 || status != statusAccepted {
			t.Fatalf("expected one accepted row, got %d rows status %q", count, status)
		}
	})

	t.Run("accept twice conflicts", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "accepttwice")
		createConnection(t, alice.ID, bob.ID, statusPending)

		if _, err := acceptConnection(ctx, db, bob.ID, alice.ID); err != nil {
			t.Fatalf("accept failed: %v", err)
		}
		_, err := acceptConnection(ctx, db, bob.ID, alice.ID)
		assertCode(t, err, CodeConflict)
	})

	t.Run("accept without a request is not found", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "acceptnone")
		_, err := acceptConnection(ctx, db, bob.ID, alice.ID)
		assertCode(t, err, CodeNotFound)
	})

	t.Run("requester cannot accept their own request", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "acceptown")
		createConnection(t, alice.ID, bob.ID, statusPending)

		_, err := acceptConnection(ctx, db, alice.ID, bob.ID)
		assertCode(t, err, CodeNotFound)
	})

	t.Run("decline deletes the row and allows a re-request", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "decline")
		createConnection(t, alice.ID, bob.ID, statusPending)

		if err := declineConnection(ctx, db, bob.ID, alice.ID); err != nil {
			t.Fatalf("decline failed: %v", err)
		}
		if _, count := pairStatus(t, alice.ID, bob.ID); count != 0 {
			t.Fatalf("expected the declined row to be gone, found %d", count)
		}

		out, err := requestConnection(ctx, db, alice.ID, bob.ID)
		if err != nil {
			t.Fatalf("re-request after decline failed: %v", err)
		}
		if out.State != statusPending {
			t.Fatalf("expected pending, got %s", out.State)
		}
	})

	t.Run("cancel withdraws my own request", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "cancel")
		createConnection(t, alice.ID, bob.ID, statusPending)

		if err := cancelConnectionRequest(ctx, db, alice.ID, bob.ID); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if _, count := pairStatus(t, alice.ID, bob.ID); count != 0 {
			t.Fatalf("expected the cancelled row to be gone, found %d", count)
		}

		// Only the requester may cancel; the addressee gets not found.
		createConnection(t, alice.ID, bob.ID, statusPending)
		err := cancelConnectionRequest(ctx, db, bob.ID, alice.ID)
		assertCode(t, err, CodeNotFound)
	})

	t.Run("disconnect is irreversible", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "final")
		createConnection(t, alice.ID, bob.ID, statusDisconnected)

		_, err := requestConnection(ctx, db, alice.ID, bob.ID)
		assertCode(t, err, CodeConflict)
		_, err = requestConnection(ctx, db, bob.ID, alice.ID)
		assertCode(t, err, CodeConflict)

		err = disconnectConnection(ctx, db, alice.ID, bob.ID)
		assertCode(t, err, CodeConflict)
	})

	t.Run("disconnect a pending request conflicts", func(t *testing.T) {
		alice, bob := connectionTestPair(t, "discpending")
		createConnection(t, alice.ID, bob.ID, statusPending)

		err := disconnectConnection(ctx, db, bob.ID, alice.ID)
		assertCode(t, err, CodeConflict)
	})
}

// Two users request each other at the same moment. The pair lock forces one
// transaction to insert pending and the other to observe it and auto-accept;
// exactly one accepted row must survive.
func TestConcurrentMutualRequest(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		alice, bob := connectionTestPair(t, fmt.Sprintf("race%d", round))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		states := make([]string, 2)

		wg.Add(2)
		go func() {
			defer wg.Done()
			if out, err := requestConnection(ctx, db, alice.ID, bob.ID); err != nil {
				errs[0] = err
			} else {
				states[0] = out.State
			}
		}()
		go func() {
			defer wg.Done()
			if out, err := requestConnection(ctx, db, bob.ID, alice.ID); err != nil {
				errs[1] = err
			} else {
				states[1] = out.State
			}
		}()
		wg.Wait()

		if errs[0] != nil || errs[1] != nil {
			t.Fatalf("round %d: unexpected errors: %v / %v", round, errs[0], errs[1])
		}

		status, count := pairStatus(t, alice.ID, bob.ID)
		if count != 1 {
			t.Fatalf("round %d: expected exactly one row, got %d", round, count)
		}
		if status != statusAccepted {
			t.Fatalf("round %d: expected the pair to end accepted, got %q", round, status)
		}
		if !(states[0] == statusPending && states[1] == statusAccepted ||
			states[0] == statusAccepted && states[1] == statusPending) {
			t.Fatalf("round %d: expected one pending and one auto-accept outcome, got %q / %q",
				round, states[0], states[1])
		}
	}
}

func TestConnectionListEndpoints(t *testing.T) {
	requireDB(t)

	alice, bob := connectionTestPair(t, "lists")
	carol := createTestUser(t, "conn-lists-carol@test.com", "password123")
	createTestProfile(t, carol, getDefaultTestProfile())
	t.Cleanup(func() { cleanupTestData(carol.Email) })

	createConnection(t, alice.ID, bob.ID, statusAccepted)
	createConnection(t, carol.ID, alice.ID, statusPending)

	t.Run("accepted peers", func(t *testing.T) {
		w := doRequest(t, connectionsHandler(db), http.MethodGet, "/connections", alice.Token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		body := decodeJSONBody(t, w)
		peers, _ := body["connections"].([]interface{})
		if len(peers) != 1 || int(peers[0].(float64)) != bob.ID {
			t.Fatalf("expected [%d], got %v", bob.ID, peers)
		}
	})

	t.Run("incoming requests", func(t *testing.T) {
		w := doRequest(t, requestsHandler(db), http.MethodGet, "/connections/requests", alice.Token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		body := decodeJSONBody(t, w)
		reqs, _ := body["requests"].([]interface{})
		if len(reqs) != 1 || int(reqs[0].(float64)) != carol.ID {
			t.Fatalf("expected [%d], got %v", carol.ID, reqs)
		}
	})

	t.Run("outgoing requests", func(t *testing.T) {
		w := doRequest(t, outgoingRequestsHandler(db), http.MethodGet, "/connections/outgoing", carol.Token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		body := decodeJSONBody(t, w)
		outgoing, _ := body["outgoing"].([]interface{})
		if len(outgoing) != 1 || int(outgoing[0].(float64)) != alice.ID {
			t.Fatalf("expected [%d], got %v", alice.ID, outgoing)
		}
	})
}

func TestConnectionActionRoutes(t *testing.T) {
	requireDB(t)

	alice, bob := connectionTestPair(t, "routes")
	router := connectionsActionsRouter(db)

	t.Run("request and accept over HTTP", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/connections/%d/request", bob.ID), alice.Token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request: expected 200, got %d body %s", w.Code, w.Body.String())
		}

		w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/connections/%d/accept", alice.ID), bob.Token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("accept: expected 200, got %d body %s", w.Code, w.Body.String())
		}
		body := decodeJSONBody(t, w)
		if body["state"] != statusAccepted {
			t.Fatalf("expected accepted state, got %v", body["state"])
		}
	})

	t.Run("disconnect over HTTP", func(t *testing.T) {
		w := doRequest(t, router, http.MethodDelete, fmt.Sprintf("/connections/%d", bob.ID), alice.Token, nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d body %s", w.Code, w.Body.String())
		}
	})

	t.Run("conflict surfaces as 409", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/connections/%d/request", bob.ID), alice.Token, nil)
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409 after disconnect, got %d", w.Code)
		}
	})

	t.Run("unknown target is 404", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/connections/999999999/request", alice.Token, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("unauthenticated is 401", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/connections/%d/request", bob.ID), "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})
}
