package matching

import (
	"context"
	"time"

	"github.com/david/recovery-match/internal/models"
	"github.com/google/uuid"
)

// ProfileSource supplies the record-store data a survivor profile is derived from.
type ProfileSource interface {
	ListProperties(ctx context.Context, survivorID uuid.UUID) ([]models.Property, error)
	ListHouseholdGroups(ctx context.Context, survivorID uuid.UUID) ([]models.HouseholdGroup, error)
	SetSurvivorZipCode(ctx context.Context, survivorID uuid.UUID, zip string) error
}

// Store is everything a scheduler run reads and writes.
type Store interface {
	ProfileSource

	ListActiveOpportunities(ctx context.Context) ([]models.Opportunity, error)
	ListSurvivors(ctx context.Context) ([]models.User, error)
	ListMatchesBySurvivor(ctx context.Context, survivorID uuid.UUID) ([]models.Match, error)

	// CreateMatch inserts the match unless one already exists for the pair and
	// reports whether a row was written.
	CreateMatch(ctx context.Context, m *models.Match) (bool, error)
	// RefreshPendingMatch updates score, detail and last-checked time only when
	// the stored match is still pending.
	RefreshPendingMatch(ctx context.Context, r models.MatchRefresh) (bool, error)
	// TouchMatch only moves last_checked_at.
	TouchMatch(ctx context.Context, opportunityID, survivorID uuid.UUID, checkedAt time.Time) error

	StartMatchRun(ctx context.Context, trigger string, startedAt time.Time) (uuid.UUID, error)
	FinishMatchRun(ctx context.Context, run models.MatchRun) error
}
