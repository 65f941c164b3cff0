package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/david/recovery-match/internal/config"
	"github.com/david/recovery-match/internal/db"
	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	limit := flag.Int("limit", 10, "number of runs to show")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	runs, err := db.NewStore(pool).ListMatchRuns(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Run", "Trigger", "Status", "Opps", "Skipped", "Survivors", "Checked", "Created", "Updated", "Duration", "Started At", "Error"})

	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			r.ID.String()[:8], r.Trigger, r.Status,
			r.Opportunities, r.OpportunitiesSkipped, r.Survivors, r.PairsChecked, r.MatchesCreated, r.MatchesUpdated,
			duration, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Error,
		})
	}
	t.Render()
}
