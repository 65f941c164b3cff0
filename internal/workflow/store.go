package workflow

import (
	"context"

	"github.com/david/recovery-match/internal/models"
	"github.com/david/recovery-match/internal/notify"
	"github.com/google/uuid"
)

// Tx is the set of writes a transition performs atomically. Lookups return
// models.ErrNotFound (possibly wrapped) for missing rows.
type Tx interface {
	GetMatchForUpdate(ctx context.Context, opportunityID, survivorID uuid.UUID) (*models.Match, error)
	CreateMatch(ctx context.Context, m *models.Match) (bool, error)
	UpdateMatch(ctx context.Context, m *models.Match) error

	GetCapitalSource(ctx context.Context, id uuid.UUID) (*models.CapitalSource, error)
	ListCapitalSources(ctx context.Context, survivorID uuid.UUID) ([]models.CapitalSource, error)
	CreateCapitalSource(ctx context.Context, cs *models.CapitalSource) error
	UpdateCapitalSource(ctx context.Context, cs *models.CapitalSource) error
	DeleteCapitalSource(ctx context.Context, id uuid.UUID) error
}

// Store is the record store as seen by the award workflow.
type Store interface {
	GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetMatch(ctx context.Context, opportunityID, survivorID uuid.UUID) (*models.Match, error)
	ListMatchesByOpportunity(ctx context.Context, opportunityID uuid.UUID) ([]models.Match, error)
	ListMatchesBySurvivor(ctx context.Context, survivorID uuid.UUID) ([]models.Match, error)

	// RunInTx runs fn inside one transaction; any error rolls every write back.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Notifier dispatches survivor-facing notifications. Delivery is best effort.
type Notifier interface {
	SendGrantApplicationConfirmation(ctx context.Context, n notify.GrantNotice) error
	SendGrantAwardNotification(ctx context.Context, n notify.GrantNotice) error
	SendGrantFundingNotification(ctx context.Context, n notify.GrantNotice) error
}
