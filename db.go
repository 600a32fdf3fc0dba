package main

import (
	"database/sql"
	"log"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var db *sql.DB

func initDB(cfg DatabaseConfig) {
	var err error
	db, err = sql.Open("postgres", cfg.URL)
	if err != nil {
		log.Fatal("Error connecting to the database:", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err = db.Ping(); err != nil {
		log.Fatal("Cannot reach the database:", err)
	}
	log.Println("Database connection established successfully")

	// Table definitions live in schema.sql at the repository root; the server
	// assumes they have been applied.
}
