package matching

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/david/recovery-match/internal/models"
	"github.com/david/recovery-match/internal/testkit/memstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestExtractZipCode(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"1200 Poydras St, New Orleans, LA 70112", "70112"},
		{"12345 Bayou Rd, Houma LA 70360-4411", "70360"},
		{"PO Box 9, Lake Charles", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractZipCode(tt.address); got != tt.want {
			t.Errorf("ExtractZipCode(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestBuildProfile_Aggregates(t *testing.T) {
	store := memstore.New()
	survivorID := uuid.New()
	survivor := models.User{
		ID:             survivorID,
		Type:           models.UserSurvivor,
		ZipCode:        "70112",
		QualifyingTags: []string{" housing:renter ", ""},
		DisasterEvents: []string{"DR-4611"},
	}
	store.PutUser(survivor)
	store.PutHouseholdGroup(models.HouseholdGroup{
		ID:         uuid.New(),
		SurvivorID: survivorID,
		Members: []models.HouseholdMember{
			{ID: uuid.New(), AnnualIncome: decimal.NewNullDecimal(decimal.NewFromInt(18000))},
			{ID: uuid.New(), AnnualIncome: decimal.NewNullDecimal(decimal.NewFromInt(7000))},
			{ID: uuid.New()},
		},
	})

	p, err := BuildProfile(context.Background(), store, survivor, nil)
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	if p.ZipCode != "70112" {
		t.Errorf("ZipCode = %q", p.ZipCode)
	}
	if !p.HouseholdIncome.Equal(decimal.NewFromInt(25000)) {
		t.Errorf("HouseholdIncome = %s, want 25000", p.HouseholdIncome)
	}
	if p.HouseholdSize != 3 {
		t.Errorf("HouseholdSize = %d, want 3", p.HouseholdSize)
	}
	if !p.HasTag("housing:renter") || !p.HasTag("disaster:DR-4611") {
		t.Errorf("tags = %v", p.Tags)
	}
	if len(p.Tags) != 2 {
		t.Errorf("expected 2 tags, got %v", p.Tags)
	}
}

func TestBuildProfile_NoHouseholdCountsAsOne(t *testing.T) {
	store := memstore.New()
	survivor := models.User{ID: uuid.New(), Type: models.UserSurvivor, ZipCode: "70112"}
	store.PutUser(survivor)

	p, err := BuildProfile(context.Background(), store, survivor, nil)
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	if p.HouseholdSize != 1 {
		t.Fatalf("HouseholdSize = %d, want 1", p.HouseholdSize)
	}
	if !p.HouseholdIncome.IsZero() {
		t.Fatalf("HouseholdIncome = %s, want 0", p.HouseholdIncome)
	}
}

func TestBuildProfile_ZipFromPropertyIsCached(t *testing.T) {
	store := memstore.New()
	survivor := models.User{ID: uuid.New(), Type: models.UserSurvivor}
	store.PutUser(survivor)
	store.PutProperty(models.Property{
		ID:         uuid.New(),
		SurvivorID: survivor.ID,
		Address:    "44 Levee St, Chalmette, LA 70043",
	})

	p, err := BuildProfile(context.Background(), store, survivor, nil)
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	if p.ZipCode != "70043" {
		t.Fatalf("ZipCode = %q, want 70043", p.ZipCode)
	}
	stored, _ := store.User(survivor.ID)
	if stored.ZipCode != "70043" {
		t.Fatalf("zip not written back, got %q", stored.ZipCode)
	}
}

func TestBuildProfile_CacheFailureIsLogged(t *testing.T) {
	store := memstore.New()
	survivor := models.User{ID: uuid.New(), Type: models.UserSurvivor}
	store.PutUser(survivor)
	store.PutProperty(models.Property{ID: uuid.New(), SurvivorID: survivor.ID, ZipCode: "70043"})
	store.Hook = func(op string) error {
		if op == "SetSurvivorZipCode" {
			return errors.New("read-only replica")
		}
		return nil
	}

	var buf bytes.Buffer
	p, err := BuildProfile(context.Background(), store, survivor, log.New(&buf, "", 0))
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	if p.ZipCode != "70043" {
		t.Fatalf("ZipCode = %q", p.ZipCode)
	}
	if !strings.Contains(buf.String(), "failed to cache zip") {
		t.Fatalf("expected cache failure in log, got %q", buf.String())
	}
}
