package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned (possibly wrapped) by record stores when a row does not exist.
var ErrNotFound = errors.New("record not found")

type CapitalSourceStatus string

const (
	CapitalProjected CapitalSourceStatus = "projected"
	CapitalCurrent   CapitalSourceStatus = "current"
)

// CapitalSource is a survivor ledger entry. Awards create it as projected and
// funding flips it to current.
type CapitalSource struct {
	ID            uuid.UUID           `json:"id"`
	SurvivorID    uuid.UUID           `json:"survivor_id"`
	OpportunityID *uuid.UUID          `json:"opportunity_id"`
	Name          string              `json:"name"`
	SourceType    string              `json:"source_type"`
	Amount        decimal.Decimal     `json:"amount"`
	Status        CapitalSourceStatus `json:"status"`
	Notes         string              `json:"notes"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

const CapitalSourceGrant = "grant"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// MatchRun records one scheduler pass for operational reporting.
type MatchRun struct {
	ID            uuid.UUID `json:"id"`
	Status        RunStatus `json:"status"`
	Trigger       string    `json:"trigger"`
	Opportunities int       `json:"opportunities"`
	// OpportunitiesSkipped counts active opportunities left out for invalid criteria.
	OpportunitiesSkipped int        `json:"opportunities_skipped"`
	Survivors            int        `json:"survivors"`
	PairsChecked         int        `json:"pairs_checked"`
	MatchesCreated       int        `json:"matches_created"`
	MatchesUpdated       int        `json:"matches_updated"`
	Error                string     `json:"error,omitempty"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at"`
}
