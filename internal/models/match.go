package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MatchStatus string

const (
	MatchPending  MatchStatus = "pending"
	MatchNotified MatchStatus = "notified"
	MatchApplied  MatchStatus = "applied"
	MatchAwarded  MatchStatus = "awarded"
	MatchFunded   MatchStatus = "funded"
	MatchRejected MatchStatus = "rejected"
)

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchNotified, MatchApplied, MatchAwarded, MatchFunded, MatchRejected:
		return true
	}
	return false
}

// CriterionResult is the outcome of evaluating one criterion against a profile.
type CriterionResult struct {
	Type     CriterionType `json:"type"`
	Matched  bool          `json:"matched"`
	Reason   string        `json:"reason,omitempty"`
	Actual   any           `json:"actual,omitempty"`
	Expected any           `json:"expected,omitempty"`
}

// MatchDetail is persisted alongside a match to explain its score. Direct
// applications skip scoring and only carry the DirectApplication marker.
type MatchDetail struct {
	DirectApplication bool                       `json:"direct_application,omitempty"`
	MatchedCount      int                        `json:"matched_count,omitempty"`
	TotalCriteria     int                        `json:"total_criteria,omitempty"`
	Results           map[string]CriterionResult `json:"results,omitempty"`
}

// Match links one opportunity to one survivor. The pair is the identity and is
// never rewritten once created.
type Match struct {
	OpportunityID   uuid.UUID           `json:"opportunity_id"`
	SurvivorID      uuid.UUID           `json:"survivor_id"`
	MatchScore      int                 `json:"match_score"`
	MatchCriteria   MatchDetail         `json:"match_criteria"`
	Status          MatchStatus         `json:"status"`
	Notes           string              `json:"notes"`
	LastCheckedAt   time.Time           `json:"last_checked_at"`
	AppliedAt       *time.Time          `json:"applied_at"`
	AppliedByID     *uuid.UUID          `json:"applied_by_id"`
	AwardedAt       *time.Time          `json:"awarded_at"`
	AwardedByID     *uuid.UUID          `json:"awarded_by_id"`
	AwardAmount     decimal.NullDecimal `json:"award_amount"`
	FundedAt        *time.Time          `json:"funded_at"`
	FundedByID      *uuid.UUID          `json:"funded_by_id"`
	RejectedAt      *time.Time          `json:"rejected_at"`
	RejectedByID    *uuid.UUID          `json:"rejected_by_id"`
	CapitalSourceID *uuid.UUID          `json:"capital_source_id"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// MatchRefresh carries the scheduler's bookkeeping for an existing match.
// Score and Detail are only applied while the match is still pending.
type MatchRefresh struct {
	OpportunityID uuid.UUID
	SurvivorID    uuid.UUID
	Score         int
	Detail        MatchDetail
	CheckedAt     time.Time
}
