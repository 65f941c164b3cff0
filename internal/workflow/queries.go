package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/david/recovery-match/internal/models"
	"github.com/google/uuid"
)

// GetMatch returns one match. Survivors only see their own matches and
// practitioners only see matches for their organization's opportunities.
func (c *Controller) GetMatch(ctx context.Context, actorID, opportunityID, survivorID uuid.UUID) (*models.Match, error) {
	actor, err := c.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Type == models.UserSurvivor && actor.ID != survivorID {
		return nil, ErrForbidden
	}
	if actor.Type == models.UserPractitioner {
		if err := c.requireOrgOpportunity(ctx, actor, opportunityID); err != nil {
			return nil, err
		}
	}

	m, err := c.store.GetMatch(ctx, opportunityID, survivorID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}
	return m, nil
}

// ListForOpportunity returns every match on an opportunity, best score first.
func (c *Controller) ListForOpportunity(ctx context.Context, actorID, opportunityID uuid.UUID) ([]models.Match, error) {
	actor, err := c.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	switch actor.Type {
	case models.UserAdmin:
		if _, err := c.store.GetOpportunity(ctx, opportunityID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, ErrOpportunityNotFound
			}
			return nil, fmt.Errorf("load opportunity: %w", err)
		}
	case models.UserPractitioner:
		if err := c.requireOrgOpportunity(ctx, actor, opportunityID); err != nil {
			return nil, err
		}
	default:
		return nil, ErrForbidden
	}

	matches, err := c.store.ListMatchesByOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return matches, nil
}

// ListForSurvivor returns a survivor's matches. Practitioners get only the
// matches whose opportunity belongs to their organization.
func (c *Controller) ListForSurvivor(ctx context.Context, actorID, survivorID uuid.UUID) ([]models.Match, error) {
	actor, err := c.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Type == models.UserSurvivor && actor.ID != survivorID {
		return nil, ErrForbidden
	}

	survivor, err := c.store.GetUser(ctx, survivorID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && survivor.Type != models.UserSurvivor) {
		return nil, ErrSurvivorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load survivor: %w", err)
	}

	matches, err := c.store.ListMatchesBySurvivor(ctx, survivorID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	if actor.Type != models.UserPractitioner {
		return matches, nil
	}

	owned := make(map[uuid.UUID]bool)
	out := matches[:0]
	for _, m := range matches {
		ok, seen := owned[m.OpportunityID]
		if !seen {
			opp, err := c.store.GetOpportunity(ctx, m.OpportunityID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("load opportunity: %w", err)
			}
			ok = err == nil && actor.BelongsTo(opp.OrganizationID)
			owned[m.OpportunityID] = ok
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *Controller) requireOrgOpportunity(ctx context.Context, actor *models.User, opportunityID uuid.UUID) error {
	opp, err := c.store.GetOpportunity(ctx, opportunityID)
	if errors.Is(err, models.ErrNotFound) {
		return ErrOpportunityNotFound
	}
	if err != nil {
		return fmt.Errorf("load opportunity: %w", err)
	}
	if !actor.BelongsTo(opp.OrganizationID) {
		return ErrForbidden
	}
	return nil
}
