package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// The chat layer consumes accepted connections as a precondition: a message
// is only stored and relayed when an accepted row exists between the parties.
// It is not otherwise coupled to scoring or the state machine.

// ChatMessage is a chat message with metadata.
type ChatMessage struct {
	ID     int64     `json:"id"`
	Type   string    `json:"type"` // "message" | "typing"
	ChatID int       `json:"chat_id"`
	From   int       `json:"from"`
	To     int       `json:"to,omitempty"`
	Body   string    `json:"body,omitempty"`
	Ts     time.Time `json:"ts"`
}

// ServerEvent is a server-sent event.
type ServerEvent struct {
	Type string `json:"type"` // "message" | "typing" | "info" | "error"
	From int    `json:"from,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Client is one WebSocket connection.
type Client struct {
	userID int
	conn   *websocket.Conn
	send   chan ServerEvent
	db     *sql.DB
}

// Hub tracks connected clients per user.
type Hub struct {
	clientsByUser map[int]map[*Client]bool
	mu            sync.RWMutex
}

func newHub() *Hub {
	return &Hub{clientsByUser: make(map[int]map[*Client]bool)}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByUser[c.userID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
}

func (h *Hub) sendToUser(userID int, evt ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByUser[userID] {
		select {
		case c.send <- evt:
		default:
			// Drop the event if the client's buffer is full
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var chatHub = newHub()

// GET /ws/chat
func wsChatHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, string(CodeUnauthorized))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WS upgrade error for user %d: %v", userID, err)
			return
		}

		client := &Client{
			userID: userID,
			conn:   conn,
			send:   make(chan ServerEvent, 16),
			db:     db,
		}
		chatHub.register(client)
		client.send <- ServerEvent{Type: "info", Data: "connected"}

		go clientWriter(client)
		clientReader(client)
	}
}

func clientReader(c *Client) {
	defer func() {
		chatHub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ChatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.send <- ServerEvent{Type: "error", Data: "invalid message format"}
			continue
		}

		switch msg.Type {
		case "message":
			id, chatID, ts, err := saveChatMsg(c.db, c.userID, msg.To, msg.Body)
			if err != nil {
				c.send <- ServerEvent{Type: "error", Data: "cannot send message"}
				continue
			}

			out := ServerEvent{
				Type: "message",
				From: c.userID,
				Data: ChatMessage{
					ID:     id,
					Type:   "message",
					ChatID: chatID,
					From:   c.userID,
					To:     msg.To,
					Body:   msg.Body,
					Ts:     ts,
				},
			}
			chatHub.sendToUser(msg.To, out)
			// echo so the sender UI updates instantly
			chatHub.sendToUser(c.userID, out)

		case "typing":
			chatHub.sendToUser(msg.To, ServerEvent{Type: "typing", From: c.userID})

		default:
			c.send <- ServerEvent{Type: "error", Data: "unknown message type"}
		}
	}
}

func clientWriter(c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// saveChatMsg stores a message after verifying the accepted-connection
// precondition, all in one transaction.
func saveChatMsg(db *sql.DB, fromUserID, toUserID int, content string) (int64, int, time.Time, error) {
	var msgID int64
	var chatID int
	var createdAt time.Time

	err := withTx(context.Background(), db, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRow(`
			SELECT 1
			FROM connections
			WHERE status = 'accepted'
			  AND ((user_id = $1 AND target_user_id = $2) OR (user_id = $2 AND target_user_id = $1))
			LIMIT 1
		`, fromUserID, toUserID).Scan(&one)
		if err == sql.ErrNoRows {
			return errConflict("no accepted connection")
		}
		if err != nil {
			return classifyDBError(err)
		}

		err = tx.QueryRow(`
			SELECT id FROM chats
			WHERE user1_id = LEAST($1::int, $2::int) AND user2_id = GREATEST($1::int, $2::int)
		`, fromUserID, toUserID).Scan(&chatID)
		if err == sql.ErrNoRows {
			err = tx.QueryRow(`
				INSERT INTO chats (user1_id, user2_id)
				VALUES (LEAST($1::int, $2::int), GREATEST($1::int, $2::int))
				RETURNING id
			`, fromUserID, toUserID).Scan(&chatID)
		}
		if err != nil {
			return classifyDBError(err)
		}

		if err := tx.QueryRow(`
			INSERT INTO messages (chat_id, sender_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, chatID, fromUserID, content).Scan(&msgID, &createdAt); err != nil {
			return classifyDBError(err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	return msgID, chatID, createdAt, nil
}

func getChatMessages(db *sql.DB, userID, otherUserID, limit int, before *time.Time) ([]ChatMessage, error) {
	var chatID int
	err := db.QueryRow(`
		SELECT id FROM chats
		WHERE user1_id = LEAST($1::int, $2::int) AND user2_id = GREATEST($1::int, $2::int)
	`, userID, otherUserID).Scan(&chatID)
	if err == sql.ErrNoRows {
		return []ChatMessage{}, nil
	}
	if err != nil {
		return nil, classifyDBError(err)
	}

	rows, err := db.Query(`
		SELECT id, sender_id, content, created_at
		FROM messages
		WHERE chat_id = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, chatID, before, limit)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	msgs := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.From, &m.Body, &m.Ts); err != nil {
			return nil, err
		}
		m.Type = "message"
		m.ChatID = chatID
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError(err)
	}
	return msgs, nil
}

// GET /chats/{peer}/messages?limit=50&before=2025-09-16T08:00:00Z
func getChatHistoryHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "chats" || parts[2] != "messages" {
			http.NotFound(w, r)
			return
		}
		otherID, err := strconv.Atoi(parts[1])
		if err != nil {
			writeAppError(w, errNotFound("no such user"))
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		var before *time.Time
		if s := r.URL.Query().Get("before"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				before = &t
			}
		}

		msgs, err := getChatMessages(db, userID, otherID, limit, before)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]ChatMessage{"messages": msgs})
	})
}

// POST /chats/read?peer_id=123 - mark messages from peer as read
func chatsMarkReadHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		peerID, err := strconv.Atoi(r.URL.Query().Get("peer_id"))
		if err != nil {
			writeAppError(w, errInvalid("peer_id required"))
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		_, err = db.Exec(`
			UPDATE messages m
			SET is_read = TRUE
			FROM chats c
			WHERE m.chat_id = c.id
			  AND c.user1_id = LEAST($1::int, $2::int) AND c.user2_id = GREATEST($1::int, $2::int)
			  AND m.sender_id = $2
			  AND m.is_read IS FALSE
		`, userID, peerID)
		if err != nil {
			writeAppError(w, classifyDBError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
