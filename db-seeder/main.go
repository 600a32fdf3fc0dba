// Command db-seeder bulk-inserts deterministic test fixtures: users,
// profiles, connections and dismissals. It writes rows directly and therefore
// bypasses the connection state machine on purpose; it must only ever run
// against a database that is not yet serving live traffic.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	_ "github.com/lib/pq"
)

type cfg struct {
	DSN              string
	Count            int
	Seed             int64
	Truncate         bool
	ConnectRate      float64 // proportion of accepted connections
	PendingRate      float64 // proportion of pending connections
	DisconnectedRate float64 // proportion of disconnected connections
	DismissRate      float64 // proportion of dismissed_recommendations rows per user
	Password         string  // same password for everyone (easy login)
}

var (
	analogPool = []string{
		"knitting", "calligraphy", "woodworking", "painting", "pottery",
		"hiking", "cycling", "baking", "guitar", "drums", "photography",
		"climbing", "yoga", "sewing", "brewing",
	}
	digitalPool = []string{
		"programming", "videogames", "photography", "music production",
		"3d printing", "robotics", "boardgames online", "digital art",
		"streaming", "game design",
	}
	collabPool = []string{
		"Looking for a D&D group and people to learn with",
		"I teach pottery workshops and want to learn programming",
		"Want to collaborate on creative coding projects",
		"Mentor seeking mentees in software development",
		"Beginner guitarist looking for a jam group",
	}
	foodPool  = []string{"Italian", "Japanese", "Thai", "Vegan", "French", "Korean", "Greek"}
	musicPool = []string{"Rock", "Jazz", "Techno", "Metal", "Blues", "House", "Punk"}
	cityPool  = []struct {
		name     string
		lat, lon float64
	}{
		{"Tallinn", 59.437, 24.7536},
		{"Tartu", 58.3776, 26.729},
		{"Helsinki", 60.1699, 24.9384},
		{"Riga", 56.9496, 24.1052},
	}
)

func main() {
	var c cfg
	flag.StringVar(&c.DSN, "dsn", os.Getenv("DATABASE_URL"), "Postgres DSN [env: DATABASE_URL]")
	flag.IntVar(&c.Count, "count", 300, "Number of users to create")
	flag.Int64Var(&c.Seed, "seed", 42, "RNG seed (deterministic)")
	flag.BoolVar(&c.Truncate, "truncate", false, "TRUNCATE target tables before running")
	flag.Float64Var(&c.ConnectRate, "connect-rate", 0.60, "Proportion of accepted connections (0..1)")
	flag.Float64Var(&c.PendingRate, "pending-rate", 0.10, "Proportion of pending connections (0..1)")
	flag.Float64Var(&c.DisconnectedRate, "disconnected-rate", 0.05, "Proportion of disconnected connections (0..1)")
	flag.Float64Var(&c.DismissRate, "dismiss-rate", 0.20, "Proportion of dismissed_recommendations rows per user (0..1)")
	flag.StringVar(&c.Password, "password", "test1234", "Password assigned to all users")
	flag.Parse()

	if c.DSN == "" {
		log.Fatal("Missing DSN: provide --dsn or set DATABASE_URL")
	}
	if c.Count < 1 {
		log.Fatal("--count must be at least 1")
	}
	for _, rate := range []float64{c.ConnectRate, c.PendingRate, c.DisconnectedRate, c.DismissRate} {
		if rate < 0 || rate > 1 {
			log.Fatal("Rate flags must be in range 0..1")
		}
	}

	r := rand.New(rand.NewSource(c.Seed))

	db, err := sql.Open("postgres", c.DSN)
	if err != nil {
		log.Fatal("DB open error:", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// One big transaction: clean rollback if anything breaks a constraint
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		log.Fatal("begin tx:", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if c.Truncate {
		if err := truncateAll(ctx, tx); err != nil {
			_ = tx.Rollback()
			log.Fatal("truncate:", err)
		}
		log.Println("Truncated users, profiles, connections, dismissed_recommendations, chats, messages.")
	}

	pwHash, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		_ = tx.Rollback()
		log.Fatal("bcrypt:", err)
	}

	userIDs, err := insertUsers(ctx, tx, c.Count, string(pwHash))
	if err != nil {
		_ = tx.Rollback()
		log.Fatal("insert users:", err)
	}
	log.Printf("Inserted %d users", len(userIDs))

	if err := insertProfiles(ctx, tx, r, userIDs); err != nil {
		_ = tx.Rollback()
		log.Fatal("insert profiles:", err)
	}
	log.Println("Inserted profiles")

	if err := insertConnections(ctx, tx, r, userIDs, c.ConnectRate, c.PendingRate, c.DisconnectedRate); err != nil {
		_ = tx.Rollback()
		log.Fatal("insert connections:", err)
	}
	log.Println("Inserted connections (accepted/pending/disconnected)")

	if err := insertDismissals(ctx, tx, r, userIDs, c.DismissRate); err != nil {
		_ = tx.Rollback()
		log.Fatal("insert dismissed_recommendations:", err)
	}
	log.Println("Inserted dismissed_recommendations")

	if err := tx.Commit(); err != nil {
		log.Fatal("commit:", err)
	}
	log.Println("Done. Every seeded user logs in with the --password value.")
}

func truncateAll(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		TRUNCATE messages, chats, dismissed_recommendations, connections, profiles, users
		RESTART IDENTITY CASCADE
	`)
	return err
}

func insertUsers(ctx context.Context, tx *sql.Tx, count int, pwHash string) ([]int, error) {
	ids := make([]int, 0, count)
	for i := 0; i < count; i++ {
		var id int
		email := fmt.Sprintf("seed_user_%03d@example.com", i+1)
		err := tx.QueryRowContext(ctx, `
			INSERT INTO users (email, password_hash, last_online)
			VALUES ($1, $2, NOW())
			RETURNING id
		`, email, pwHash).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func pick(r *rand.Rand, pool []string, n int) []string {
	out := make([]string, 0, n)
	seen := make(map[int]bool, n)
	for len(out) < n && len(seen) < len(pool) {
		i := r.Intn(len(pool))
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, pool[i])
	}
	return out
}

func insertProfiles(ctx context.Context, tx *sql.Tx, r *rand.Rand, userIDs []int) error {
	for i, id := range userIDs {
		city := cityPool[r.Intn(len(cityPool))]
		analog, _ := json.Marshal(pick(r, analogPool, 2+r.Intn(3)))
		digital, _ := json.Marshal(pick(r, digitalPool, 1+r.Intn(3)))
		prefs, _ := json.Marshal(map[string]int{
			"analog_passions":         r.Intn(11),
			"digital_delights":        r.Intn(11),
			"collaboration_interests": r.Intn(11),
			"favorite_food":           r.Intn(11),
			"favorite_music":          r.Intn(11),
			"location":                r.Intn(11),
		})

		radius := 0
		if r.Float64() < 0.7 {
			radius = 10 + r.Intn(190)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (
				user_id, display_name, about_me, location_city, location_lat, location_lon,
				max_radius_km, analog_passions, digital_delights, collaboration_interests,
				favorite_food, favorite_music, match_preferences, is_complete
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, TRUE)
		`,
			id,
			fmt.Sprintf("Seed User %d", i+1),
			"Seeded profile for local development.",
			city.name,
			city.lat+r.Float64()*0.2-0.1,
			city.lon+r.Float64()*0.2-0.1,
			radius,
			analog,
			digital,
			collabPool[r.Intn(len(collabPool))],
			foodPool[r.Intn(len(foodPool))],
			musicPool[r.Intn(len(musicPool))],
			prefs,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertConnections(ctx context.Context, tx *sql.Tx, r *rand.Rand, userIDs []int, acceptRate, pendingRate, disconnectedRate float64) error {
	if len(userIDs) < 2 {
		return nil
	}
	// Walk unordered pairs sparsely: each user gets a handful of edges.
	for i, a := range userIDs {
		edges := 1 + r.Intn(4)
		for e := 0; e < edges; e++ {
			j := r.Intn(len(userIDs))
			if j == i {
				continue
			}
			b := userIDs[j]

			status := ""
			switch roll := r.Float64(); {
			case roll < acceptRate:
				status = "accepted"
			case roll < acceptRate+pendingRate:
				status = "pending"
			case roll < acceptRate+pendingRate+disconnectedRate:
				status = "disconnected"
			default:
				continue
			}

			// One row per unordered pair: skip when either direction exists.
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM connections
					WHERE (user_id = $1 AND target_user_id = $2)
					   OR (user_id = $2 AND target_user_id = $1)
				)
			`, a, b).Scan(&exists); err != nil {
				return err
			}
			if exists {
				continue
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO connections (user_id, target_user_id, status)
				VALUES ($1, $2, $3)
			`, a, b, status); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertDismissals(ctx context.Context, tx *sql.Tx, r *rand.Rand, userIDs []int, rate float64) error {
	for i, a := range userIDs {
		if r.Float64() >= rate {
			continue
		}
		j := r.Intn(len(userIDs))
		if j == i {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dismissed_recommendations (user_id, dismissed_user_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, a, userIDs[j]); err != nil {
			return err
		}
	}
	return nil
}
