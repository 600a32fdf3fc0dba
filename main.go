package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/rs/cors"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (env: KINDRED_CONFIG)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal("Error loading config:", err)
	}

	jwtSecret = []byte(cfg.Auth.JWTSecret)
	if cfg.Auth.TokenTTL > 0 {
		tokenTTL = time.Duration(cfg.Auth.TokenTTL)
	}
	configureThrottle(cfg.Auth)

	initDB(cfg.Database)

	mux := http.NewServeMux()

	// Core auth & user endpoints
	mux.Handle("/register", registerHandler(db))
	mux.Handle("/login", loginHandler(db))
	mux.Handle("/me", meHandler(db))
	mux.HandleFunc("/me/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			meProfileHandler(db).ServeHTTP(w, r)
			return
		}
		completeProfileHandler(db).ServeHTTP(w, r) // POST/PATCH
	})
	mux.Handle("/me/bio", meBioHandler(db))

	// Ping: mark this user as online "now"
	mux.Handle("/me/ping", mePingHandler(db)) // POST

	// Recommendations & connections
	mux.Handle("/recommendations", recommendationsHandler(db))
	mux.Handle("/recommendations/detailed", recommendationsDetailedHandler(db))
	mux.Handle("/recommendations/", dismissRecommendationHandler(db)) // /recommendations/{id}/dismiss
	mux.Handle("/connections", connectionsHandler(db))                // GET /connections
	mux.Handle("/connections/requests", requestsHandler(db))          // incoming pending
	mux.Handle("/connections/outgoing", outgoingRequestsHandler(db))  // my pending
	mux.Handle("/connections/", connectionsActionsRouter(db))         // POST/DELETE /connections/{id}/...

	// Users dispatcher (summary, profile, bio)
	mux.Handle("/users/", usersDispatcher(db))

	// WebSocket chat endpoint + history
	mux.Handle("/ws/chat", wsChatHandler(db))
	mux.Handle("/chats/read", chatsMarkReadHandler(db)) // POST /chats/read?peer_id=123
	mux.Handle("/chats/", getChatHistoryHandler(db))    // GET /chats/{peer}/messages

	// Health check endpoint for Docker
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", metricsHandler())
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	handler := withRequestLog(corsMiddleware.Handler(mux))

	log.Printf("Starting Kindred backend on %s ...", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, handler); err != nil {
		log.Fatal("Server error:", err)
	}
}
