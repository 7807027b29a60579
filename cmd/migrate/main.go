package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"soapbox.chat/internal/migrate"
)

func main() {
	dsn := os.Getenv("SOAPBOX_PG_DSN")
	if dsn == "" {
		log.Fatal("SOAPBOX_PG_DSN is required")
	}
	dir := os.Getenv("SOAPBOX_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	runner := migrate.NewRunner(db, dir)
	switch command {
	case "up":
		if err := runner.Up(ctx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := runner.Down(ctx); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("last migration rolled back")
	case "status":
		applied, err := runner.Status(ctx)
		if err != nil {
			log.Fatalf("migrate status: %v", err)
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q (want up, down or status)", command)
	}
}
