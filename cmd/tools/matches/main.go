package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/david/recovery-match/internal/config"
	"github.com/david/recovery-match/internal/db"
	"github.com/david/recovery-match/internal/models"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Prints the matches of one opportunity, or of one survivor with -survivor.
func main() {
	oppFlag := flag.String("opportunity", "", "opportunity id")
	survFlag := flag.String("survivor", "", "survivor id")
	flag.Parse()

	if (*oppFlag == "") == (*survFlag == "") {
		log.Fatal("exactly one of -opportunity or -survivor is required")
	}

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
	store := db.NewStore(pool)

	var matches []models.Match
	if *oppFlag != "" {
		id, err := uuid.Parse(*oppFlag)
		if err != nil {
			log.Fatalf("invalid opportunity id: %v", err)
		}
		matches, err = store.ListMatchesByOpportunity(ctx, id)
		if err != nil {
			log.Fatal(err)
		}
	} else {
		id, err := uuid.Parse(*survFlag)
		if err != nil {
			log.Fatalf("invalid survivor id: %v", err)
		}
		matches, err = store.ListMatchesBySurvivor(ctx, id)
		if err != nil {
			log.Fatal(err)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Opportunity", "Survivor", "Score", "Matched", "Status", "Award", "Last Checked"})
	for _, m := range matches {
		award := "-"
		if m.AwardAmount.Valid {
			award = m.AwardAmount.Decimal.StringFixed(2)
		}
		matched := "direct"
		if !m.MatchCriteria.DirectApplication {
			matched = formatRatio(m.MatchCriteria.MatchedCount, m.MatchCriteria.TotalCriteria)
		}
		t.AppendRow(table.Row{
			m.OpportunityID.String()[:8], m.SurvivorID.String()[:8], m.MatchScore, matched,
			m.Status, award, m.LastCheckedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(matches)})
	t.Render()
}

func formatRatio(matched, total int) string {
	if total == 0 {
		return "no criteria"
	}
	return fmt.Sprintf("%d/%d", matched, total)
}
