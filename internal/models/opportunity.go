package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OpportunityStatus string

const (
	OpportunityActive   OpportunityStatus = "active"
	OpportunityInactive OpportunityStatus = "inactive"
	OpportunityDraft    OpportunityStatus = "draft"
	OpportunityClosed   OpportunityStatus = "closed"
)

// Opportunity is a funding offer published by an organization. Only opportunities
// in the active status take part in matching and accept applications.
type Opportunity struct {
	ID               uuid.UUID           `json:"id"`
	OrganizationID   uuid.UUID           `json:"organization_id"`
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	Status           OpportunityStatus   `json:"status"`
	AwardAmount      decimal.NullDecimal `json:"award_amount"`
	AmountMin        decimal.NullDecimal `json:"amount_min"`
	AmountMax        decimal.NullDecimal `json:"amount_max"`
	ApplicationStart *time.Time          `json:"application_start"`
	ApplicationEnd   *time.Time          `json:"application_end"`
	Criteria         Criteria            `json:"eligibility_criteria"`
	IsPublic         bool                `json:"is_public"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`

	// CriteriaErr is set when the stored criteria could not be decoded. Such an
	// opportunity is left out of matching until its criteria are fixed.
	CriteriaErr error `json:"-"`
}

// AcceptingApplications reports whether the opportunity is active and now falls
// inside its application window. Missing window bounds are open-ended.
func (o *Opportunity) AcceptingApplications(now time.Time) bool {
	if o.Status != OpportunityActive {
		return false
	}
	if o.ApplicationStart != nil && now.Before(*o.ApplicationStart) {
		return false
	}
	if o.ApplicationEnd != nil && now.After(*o.ApplicationEnd) {
		return false
	}
	return true
}

// AmountInRange checks an award amount against the declared min/max.
func (o *Opportunity) AmountInRange(amount decimal.Decimal) bool {
	if o.AmountMin.Valid && amount.LessThan(o.AmountMin.Decimal) {
		return false
	}
	if o.AmountMax.Valid && amount.GreaterThan(o.AmountMax.Decimal) {
		return false
	}
	return true
}

// LedgerName is the display name used for capital sources created on award.
func (o *Opportunity) LedgerName() string {
	return o.Title + " Grant"
}
