package workflow

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/david/recovery-match/internal/metrics"
	"github.com/david/recovery-match/internal/models"
	"github.com/david/recovery-match/internal/notify"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

const maxNotesLength = 4000

// Controller drives matches through apply, award and fund. Each transition
// checks its preconditions, writes the match (and ledger entry where relevant)
// in one transaction, then notifies the survivor. Notification failures are
// logged and never undo a committed transition.
type Controller struct {
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *log.Logger
	policy   *bluemonday.Policy
	now      func() time.Time
}

func NewController(store Store, notifier Notifier, m *metrics.Metrics, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		policy:   bluemonday.StrictPolicy(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type ApplyInput struct {
	OpportunityID uuid.UUID
	SurvivorID    uuid.UUID
	ActorID       uuid.UUID
	Notes         string
}

type AwardInput struct {
	OpportunityID uuid.UUID
	SurvivorID    uuid.UUID
	ActorID       uuid.UUID
	Amount        decimal.Decimal
	Notes         string
}

type FundInput struct {
	OpportunityID uuid.UUID
	SurvivorID    uuid.UUID
	ActorID       uuid.UUID
	Notes         string
}

type RejectInput struct {
	OpportunityID uuid.UUID
	SurvivorID    uuid.UUID
	ActorID       uuid.UUID
	Notes         string
}

type UpdateStatusInput struct {
	OpportunityID uuid.UUID
	SurvivorID    uuid.UUID
	ActorID       uuid.UUID
	Status        models.MatchStatus
	Notes         string
}

// subject bundles the records every transition loads before touching a match.
type subject struct {
	opp      *models.Opportunity
	survivor *models.User
	actor    *models.User
}

// Apply records an application. A missing match is created on the spot with a
// full score since direct applications bypass eligibility scoring.
func (c *Controller) Apply(ctx context.Context, in ApplyInput) (*models.Match, error) {
	m, err := c.apply(ctx, in)
	c.record("apply", err)
	return m, err
}

func (c *Controller) apply(ctx context.Context, in ApplyInput) (*models.Match, error) {
	notes, err := c.cleanNotes(in.Notes)
	if err != nil {
		return nil, err
	}
	subj, err := c.load(ctx, in.OpportunityID, in.SurvivorID, in.ActorID)
	if err != nil {
		return nil, err
	}
	if err := authorizeApply(subj); err != nil {
		return nil, err
	}
	now := c.now()
	if !subj.opp.AcceptingApplications(now) {
		return nil, ErrOpportunityClosed
	}

	var result *models.Match
	err = c.store.RunInTx(ctx, func(tx Tx) error {
		m, err := tx.GetMatchForUpdate(ctx, in.OpportunityID, in.SurvivorID)
		if errors.Is(err, models.ErrNotFound) {
			m = &models.Match{
				OpportunityID: in.OpportunityID,
				SurvivorID:    in.SurvivorID,
				MatchScore:    100,
				MatchCriteria: models.MatchDetail{DirectApplication: true},
				Status:        models.MatchApplied,
				Notes:         notes,
				LastCheckedAt: now,
				AppliedAt:     &now,
				AppliedByID:   &subj.actor.ID,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			created, cerr := tx.CreateMatch(ctx, m)
			if cerr != nil {
				return fmt.Errorf("create match: %w", cerr)
			}
			if created {
				result = m
				return nil
			}
			// Lost a race with the scheduler; continue with the row it wrote.
			m, err = tx.GetMatchForUpdate(ctx, in.OpportunityID, in.SurvivorID)
		}
		if err != nil {
			return fmt.Errorf("load match: %w", err)
		}

		if m.Status != models.MatchPending && m.Status != models.MatchNotified {
			return fmt.Errorf("%w: cannot apply to a match in status %s", ErrInvalidTransition, m.Status)
		}
		m.Status = models.MatchApplied
		m.AppliedAt = &now
		m.AppliedByID = &subj.actor.ID
		if notes != "" {
			m.Notes = notes
		}
		m.UpdatedAt = now
		if err := tx.UpdateMatch(ctx, m); err != nil {
			return fmt.Errorf("update match: %w", err)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.notify(ctx, notify.KindApplicationConfirmation, subj, decimal.NullDecimal{})
	return result, nil
}

// Award moves an applied match to awarded and books a projected ledger entry
// for the amount. Both writes commit together.
func (c *Controller) Award(ctx context.Context, in AwardInput) (*models.Match, error) {
	m, err := c.award(ctx, in)
	c.record("award", err)
	return m, err
}

func (c *Controller) award(ctx context.Context, in AwardInput) (*models.Match, error) {
	if !in.Amount.IsPositive() {
		return nil, validationError("award amount must be greater than zero")
	}
	notes, err := c.cleanNotes(in.Notes)
	if err != nil {
		return nil, err
	}
	subj, err := c.load(ctx, in.OpportunityID, in.SurvivorID, in.ActorID)
	if err != nil {
		return nil, err
	}
	if err := authorizeStaff(subj); err != nil {
		return nil, err
	}
	if !subj.opp.AmountInRange(in.Amount) {
		return nil, validationError("award amount %s is outside the opportunity range", in.Amount.String())
	}

	now := c.now()
	var result *models.Match
	err = c.store.RunInTx(ctx, func(tx Tx) error {
		m, err := c.lockMatch(ctx, tx, in.OpportunityID, in.SurvivorID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchApplied {
			return ErrNotApplied
		}

		entry := &models.CapitalSource{
			ID:            uuid.New(),
			SurvivorID:    in.SurvivorID,
			OpportunityID: &subj.opp.ID,
			Name:          subj.opp.LedgerName(),
			SourceType:    models.CapitalSourceGrant,
			Amount:        in.Amount,
			Status:        models.CapitalProjected,
			Notes:         notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateCapitalSource(ctx, entry); err != nil {
			return fmt.Errorf("create ledger entry: %w", err)
		}

		m.Status = models.MatchAwarded
		m.AwardedAt = &now
		m.AwardedByID = &subj.actor.ID
		m.AwardAmount = decimal.NewNullDecimal(in.Amount)
		m.CapitalSourceID = &entry.ID
		if notes != "" {
			m.Notes = notes
		}
		m.UpdatedAt = now
		if err := tx.UpdateMatch(ctx, m); err != nil {
			return fmt.Errorf("update match: %w", err)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.notify(ctx, notify.KindAward, subj, decimal.NewNullDecimal(in.Amount))
	return result, nil
}

// Fund moves an awarded match to funded and flips its ledger entry from
// projected to current.
func (c *Controller) Fund(ctx context.Context, in FundInput) (*models.Match, error) {
	m, err := c.fund(ctx, in)
	c.record("fund", err)
	return m, err
}

func (c *Controller) fund(ctx context.Context, in FundInput) (*models.Match, error) {
	notes, err := c.cleanNotes(in.Notes)
	if err != nil {
		return nil, err
	}
	subj, err := c.load(ctx, in.OpportunityID, in.SurvivorID, in.ActorID)
	if err != nil {
		return nil, err
	}
	if err := authorizeStaff(subj); err != nil {
		return nil, err
	}

	now := c.now()
	var result *models.Match
	err = c.store.RunInTx(ctx, func(tx Tx) error {
		m, err := c.lockMatch(ctx, tx, in.OpportunityID, in.SurvivorID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchAwarded {
			return ErrNotAwarded
		}

		entryID, err := c.realizeLedgerEntry(ctx, tx, subj.opp, m, now)
		if err != nil {
			return err
		}

		m.Status = models.MatchFunded
		m.FundedAt = &now
		m.FundedByID = &subj.actor.ID
		m.CapitalSourceID = &entryID
		if notes != "" {
			m.Notes = notes
		}
		m.UpdatedAt = now
		if err := tx.UpdateMatch(ctx, m); err != nil {
			return fmt.Errorf("update match: %w", err)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.notify(ctx, notify.KindFunding, subj, result.AwardAmount)
	return result, nil
}

// realizeLedgerEntry flips the projected entry booked at award time to current.
// Matches awarded before entries were linked fall back to the survivor's
// projected entry for this opportunity; when none exists a current entry is
// booked so the ledger reflects the released funds.
func (c *Controller) realizeLedgerEntry(ctx context.Context, tx Tx, opp *models.Opportunity, m *models.Match, now time.Time) (uuid.UUID, error) {
	var entry *models.CapitalSource
	if m.CapitalSourceID != nil {
		cs, err := tx.GetCapitalSource(ctx, *m.CapitalSourceID)
		switch {
		case err == nil:
			entry = cs
		case errors.Is(err, models.ErrNotFound):
			c.logger.Printf("[workflow] ledger entry %s linked to match %s/%s is missing", *m.CapitalSourceID, m.OpportunityID, m.SurvivorID)
		default:
			return uuid.Nil, fmt.Errorf("load ledger entry: %w", err)
		}
	}

	if entry == nil {
		sources, err := tx.ListCapitalSources(ctx, m.SurvivorID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("list ledger entries: %w", err)
		}
		entry = findProjectedEntry(sources, opp)
	}

	if entry == nil {
		amount := decimal.Zero
		if m.AwardAmount.Valid {
			amount = m.AwardAmount.Decimal
		}
		entry = &models.CapitalSource{
			ID:            uuid.New(),
			SurvivorID:    m.SurvivorID,
			OpportunityID: &opp.ID,
			Name:          opp.LedgerName(),
			SourceType:    models.CapitalSourceGrant,
			Amount:        amount,
			Status:        models.CapitalCurrent,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateCapitalSource(ctx, entry); err != nil {
			return uuid.Nil, fmt.Errorf("create ledger entry: %w", err)
		}
		return entry.ID, nil
	}

	if entry.Status != models.CapitalCurrent {
		entry.Status = models.CapitalCurrent
		entry.UpdatedAt = now
		if err := tx.UpdateCapitalSource(ctx, entry); err != nil {
			return uuid.Nil, fmt.Errorf("update ledger entry: %w", err)
		}
	}
	return entry.ID, nil
}

func findProjectedEntry(sources []models.CapitalSource, opp *models.Opportunity) *models.CapitalSource {
	for i := range sources {
		cs := &sources[i]
		if cs.Status != models.CapitalProjected {
			continue
		}
		if cs.OpportunityID != nil && *cs.OpportunityID == opp.ID {
			return cs
		}
	}
	name := opp.LedgerName()
	for i := range sources {
		cs := &sources[i]
		if cs.Status == models.CapitalProjected && cs.OpportunityID == nil && cs.Name == name {
			return cs
		}
	}
	return nil
}

// Reject closes a match that has not been funded. A projected ledger entry
// booked at award time is removed in the same transaction.
func (c *Controller) Reject(ctx context.Context, in RejectInput) (*models.Match, error) {
	m, err := c.reject(ctx, in)
	c.record("reject", err)
	return m, err
}

func (c *Controller) reject(ctx context.Context, in RejectInput) (*models.Match, error) {
	notes, err := c.cleanNotes(in.Notes)
	if err != nil {
		return nil, err
	}
	subj, err := c.load(ctx, in.OpportunityID, in.SurvivorID, in.ActorID)
	if err != nil {
		return nil, err
	}
	if err := authorizeStaff(subj); err != nil {
		return nil, err
	}

	now := c.now()
	var result *models.Match
	err = c.store.RunInTx(ctx, func(tx Tx) error {
		m, err := c.lockMatch(ctx, tx, in.OpportunityID, in.SurvivorID)
		if err != nil {
			return err
		}
		if m.Status == models.MatchFunded || m.Status == models.MatchRejected {
			return fmt.Errorf("%w: cannot reject a match in status %s", ErrInvalidTransition, m.Status)
		}

		if m.CapitalSourceID != nil {
			cs, err := tx.GetCapitalSource(ctx, *m.CapitalSourceID)
			switch {
			case err == nil && cs.Status == models.CapitalProjected:
				if err := tx.DeleteCapitalSource(ctx, cs.ID); err != nil {
					return fmt.Errorf("delete ledger entry: %w", err)
				}
			case err != nil && !errors.Is(err, models.ErrNotFound):
				return fmt.Errorf("load ledger entry: %w", err)
			}
			m.CapitalSourceID = nil
		}

		m.Status = models.MatchRejected
		m.RejectedAt = &now
		m.RejectedByID = &subj.actor.ID
		if notes != "" {
			m.Notes = notes
		}
		m.UpdatedAt = now
		if err := tx.UpdateMatch(ctx, m); err != nil {
			return fmt.Errorf("update match: %w", err)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatus is the administrative status override. Only notified and
// rejected may be set this way; every other state has its own transition.
func (c *Controller) UpdateStatus(ctx context.Context, in UpdateStatusInput) (*models.Match, error) {
	if !in.Status.Valid() {
		return nil, validationError("unknown match status %q", in.Status)
	}
	switch in.Status {
	case models.MatchRejected:
		return c.Reject(ctx, RejectInput{
			OpportunityID: in.OpportunityID,
			SurvivorID:    in.SurvivorID,
			ActorID:       in.ActorID,
			Notes:         in.Notes,
		})
	case models.MatchNotified:
		m, err := c.markNotified(ctx, in)
		c.record("notify", err)
		return m, err
	}
	return nil, validationError("status %s must be set through its workflow operation", in.Status)
}

func (c *Controller) markNotified(ctx context.Context, in UpdateStatusInput) (*models.Match, error) {
	notes, err := c.cleanNotes(in.Notes)
	if err != nil {
		return nil, err
	}
	subj, err := c.load(ctx, in.OpportunityID, in.SurvivorID, in.ActorID)
	if err != nil {
		return nil, err
	}
	if err := authorizeStaff(subj); err != nil {
		return nil, err
	}

	now := c.now()
	var result *models.Match
	err = c.store.RunInTx(ctx, func(tx Tx) error {
		m, err := c.lockMatch(ctx, tx, in.OpportunityID, in.SurvivorID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchPending {
			return fmt.Errorf("%w: cannot mark a match in status %s as notified", ErrInvalidTransition, m.Status)
		}
		m.Status = models.MatchNotified
		if notes != "" {
			m.Notes = notes
		}
		m.UpdatedAt = now
		if err := tx.UpdateMatch(ctx, m); err != nil {
			return fmt.Errorf("update match: %w", err)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Controller) lockMatch(ctx context.Context, tx Tx, opportunityID, survivorID uuid.UUID) (*models.Match, error) {
	m, err := tx.GetMatchForUpdate(ctx, opportunityID, survivorID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}
	return m, nil
}

func (c *Controller) load(ctx context.Context, opportunityID, survivorID, actorID uuid.UUID) (*subject, error) {
	if opportunityID == uuid.Nil {
		return nil, validationError("opportunity id is required")
	}
	if survivorID == uuid.Nil {
		return nil, validationError("survivor id is required")
	}
	actor, err := c.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	opp, err := c.store.GetOpportunity(ctx, opportunityID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrOpportunityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load opportunity: %w", err)
	}

	survivor, err := c.store.GetUser(ctx, survivorID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && survivor.Type != models.UserSurvivor) {
		return nil, ErrSurvivorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load survivor: %w", err)
	}

	return &subject{opp: opp, survivor: survivor, actor: actor}, nil
}

func (c *Controller) loadActor(ctx context.Context, actorID uuid.UUID) (*models.User, error) {
	if actorID == uuid.Nil {
		return nil, ErrForbidden
	}
	actor, err := c.store.GetUser(ctx, actorID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("load actor: %w", err)
	}
	return actor, nil
}

// authorizeApply lets survivors apply for themselves to public opportunities.
// Staff may apply on a survivor's behalf; private opportunities are limited to
// staff of the owning organization.
func authorizeApply(s *subject) error {
	switch s.actor.Type {
	case models.UserAdmin:
		return nil
	case models.UserSurvivor:
		if s.actor.ID == s.survivor.ID && s.opp.IsPublic {
			return nil
		}
	case models.UserPractitioner:
		if s.opp.IsPublic || s.actor.BelongsTo(s.opp.OrganizationID) {
			return nil
		}
	}
	return ErrForbidden
}

// authorizeStaff limits award, fund and reject to the owning organization.
func authorizeStaff(s *subject) error {
	switch s.actor.Type {
	case models.UserAdmin:
		return nil
	case models.UserPractitioner:
		if s.actor.BelongsTo(s.opp.OrganizationID) {
			return nil
		}
	}
	return ErrForbidden
}

// cleanNotes strips markup from notes and stores them as plain text. The
// length limit counts characters of the caller's input.
func (c *Controller) cleanNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return "", validationError("notes exceed %d characters", maxNotesLength)
	}
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(notes))), nil
}

func (c *Controller) notify(ctx context.Context, kind notify.Kind, s *subject, amount decimal.NullDecimal) {
	if c.notifier == nil {
		return
	}
	if strings.TrimSpace(s.survivor.Email) == "" {
		c.logger.Printf("[workflow] survivor %s has no email, skipping %s notification", s.survivor.ID, kind)
		return
	}

	notice := notify.GrantNotice{
		RecipientEmail:  s.survivor.Email,
		RecipientName:   s.survivor.DisplayName(),
		OpportunityName: s.opp.Title,
		Amount:          amount,
	}
	org, err := c.store.GetOrganization(ctx, s.opp.OrganizationID)
	if err != nil {
		c.logger.Printf("[workflow] failed to load organization %s for notification: %v", s.opp.OrganizationID, err)
	} else {
		notice.OrganizationName = org.Name
	}

	switch kind {
	case notify.KindApplicationConfirmation:
		err = c.notifier.SendGrantApplicationConfirmation(ctx, notice)
	case notify.KindAward:
		err = c.notifier.SendGrantAwardNotification(ctx, notice)
	case notify.KindFunding:
		err = c.notifier.SendGrantFundingNotification(ctx, notice)
	}
	if err != nil {
		c.metrics.IncrementNotificationFailure(string(kind))
		c.logger.Printf("[workflow] %s notification to survivor %s failed: %v", kind, s.survivor.ID, err)
	}
}

func (c *Controller) record(transition string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation), errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrOpportunityClosed), errors.Is(err, ErrOpportunityNotFound),
		errors.Is(err, ErrSurvivorNotFound), errors.Is(err, ErrMatchNotFound):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	c.metrics.IncrementTransition(transition, outcome)
}
