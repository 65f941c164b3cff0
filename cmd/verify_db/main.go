package main

import (
	"context"
	"fmt"
	"log"

	"github.com/david/recovery-match/internal/config"
	"github.com/david/recovery-match/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	counts, err := db.NewStore(pool).CountRows(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	for _, c := range counts {
		fmt.Printf("%-24s %d\n", c.Table+":", c.Rows)
	}
}
