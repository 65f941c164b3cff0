package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type UserType string

const (
	UserSurvivor     UserType = "survivor"
	UserPractitioner UserType = "practitioner"
	UserAdmin        UserType = "admin"
)

type User struct {
	ID             uuid.UUID  `json:"id"`
	Type           UserType   `json:"user_type"`
	OrganizationID *uuid.UUID `json:"organization_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	ZipCode        string     `json:"zip_code"`
	QualifyingTags []string   `json:"qualifying_tags"`
	DisasterEvents []string   `json:"disaster_events"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Email
}

// BelongsTo reports whether a practitioner is staff of the given organization.
func (u *User) BelongsTo(orgID uuid.UUID) bool {
	return u.OrganizationID != nil && *u.OrganizationID == orgID
}

type Organization struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Property struct {
	ID         uuid.UUID `json:"id"`
	SurvivorID uuid.UUID `json:"survivor_id"`
	Address    string    `json:"address"`
	ZipCode    string    `json:"zip_code"`
}

type HouseholdGroup struct {
	ID         uuid.UUID         `json:"id"`
	SurvivorID uuid.UUID         `json:"survivor_id"`
	Name       string            `json:"name"`
	Members    []HouseholdMember `json:"members"`
}

type HouseholdMember struct {
	ID           uuid.UUID           `json:"id"`
	GroupID      uuid.UUID           `json:"group_id"`
	Name         string              `json:"name"`
	AnnualIncome decimal.NullDecimal `json:"annual_income"`
}

// DisasterTagPrefix marks synthetic qualifying tags derived from recorded
// disaster events.
const DisasterTagPrefix = "disaster:"

// SurvivorProfile is the snapshot criteria are evaluated against. It is derived
// from the record store on demand and never persisted.
type SurvivorProfile struct {
	SurvivorID      uuid.UUID
	ZipCode         string
	HouseholdIncome decimal.Decimal
	HouseholdSize   int
	Tags            map[string]struct{}
}

func (p SurvivorProfile) HasTag(tag string) bool {
	_, ok := p.Tags[tag]
	return ok
}
