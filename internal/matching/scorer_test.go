package matching

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/david/recovery-match/internal/models"
	"github.com/david/recovery-match/internal/testkit/memstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestScoreProfile(t *testing.T) {
	incomeOnly := models.Criteria{models.IncomeCriterion{Ranges: []models.Range{{Min: 0, Max: 30000}}}}
	incomeAndZip := models.Criteria{
		models.IncomeCriterion{Ranges: []models.Range{{Min: 0, Max: 30000}}},
		models.ZipCodeCriterion{Ranges: []models.Range{{Min: 10000, Max: 10999}}},
	}

	tests := []struct {
		name     string
		criteria models.Criteria
		profile  models.SurvivorProfile
		score    int
		eligible bool
	}{
		{"low income matches", incomeOnly, profile("70112", 25000, 2), 100, true},
		{"high income does not", incomeOnly, profile("70112", 50000, 2), 0, false},
		{"one of two", incomeAndZip, profile("70112", 25000, 2), 50, true},
		{"no criteria never matches", nil, profile("70112", 25000, 2), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opp := &models.Opportunity{ID: uuid.New(), Criteria: tt.criteria}
			res := ScoreProfile(opp, tt.profile)
			if res.Score != tt.score || res.Eligible != tt.eligible {
				t.Fatalf("got score=%d eligible=%v, want score=%d eligible=%v", res.Score, res.Eligible, tt.score, tt.eligible)
			}
			if res.Detail.TotalCriteria != len(tt.criteria) {
				t.Errorf("TotalCriteria = %d", res.Detail.TotalCriteria)
			}
			if len(res.Detail.Results) != len(tt.criteria) {
				t.Errorf("expected %d results, got %d", len(tt.criteria), len(res.Detail.Results))
			}
		})
	}
}

func TestScoreProfile_Rounds(t *testing.T) {
	opp := &models.Opportunity{Criteria: models.Criteria{
		models.HouseholdSizeCriterion{Ranges: []models.Range{{Min: 1, Max: 10}}},
		models.HouseholdSizeCriterion{Ranges: []models.Range{{Min: 1, Max: 10}}},
		models.HouseholdSizeCriterion{Ranges: []models.Range{{Min: 20, Max: 30}}},
	}}
	res := ScoreProfile(opp, profile("", 0, 2))
	if res.Score != 67 {
		t.Fatalf("Score = %d, want 67", res.Score)
	}
	for _, key := range []string{"householdSize", "householdSize_2", "householdSize_3"} {
		if _, ok := res.Detail.Results[key]; !ok {
			t.Errorf("missing result key %q in %v", key, res.Detail.Results)
		}
	}
	if res.Detail.MatchedCount != 2 {
		t.Errorf("MatchedCount = %d, want 2", res.Detail.MatchedCount)
	}
}

func TestScoreProfile_Deterministic(t *testing.T) {
	opp := &models.Opportunity{Criteria: models.Criteria{
		models.ZipCodeCriterion{Ranges: []models.Range{{Min: 70000, Max: 71499}}},
		models.DisasterEventCriterion{Events: []string{"DR-4611"}},
		models.CustomCriterion{Key: "housing", Values: []string{"renter"}},
	}}
	p := profile("70112", 12000, 3, "disaster:DR-4611")

	first := ScoreProfile(opp, p)
	for i := 0; i < 5; i++ {
		if got := ScoreProfile(opp, p); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestScorer_LoadsProfile(t *testing.T) {
	store := memstore.New()
	survivor := models.User{ID: uuid.New(), Type: models.UserSurvivor, ZipCode: "70112"}
	store.PutUser(survivor)
	store.PutHouseholdGroup(models.HouseholdGroup{
		ID:         uuid.New(),
		SurvivorID: survivor.ID,
		Members:    []models.HouseholdMember{{ID: uuid.New(), AnnualIncome: decimal.NewNullDecimal(decimal.NewFromInt(25000))}},
	})
	opp := &models.Opportunity{ID: uuid.New(), Criteria: models.Criteria{
		models.IncomeCriterion{Ranges: []models.Range{{Min: 0, Max: 30000}}},
	}}

	res, err := NewScorer(store, nil).Score(context.Background(), opp, &survivor)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !res.Eligible || res.Score != 100 {
		t.Fatalf("got %+v", res)
	}
}

func TestScorer_RejectsInvalidCriteria(t *testing.T) {
	store := memstore.New()
	survivor := models.User{ID: uuid.New(), Type: models.UserSurvivor}
	store.PutUser(survivor)
	opp := &models.Opportunity{ID: uuid.New(), CriteriaErr: models.ErrInvalidCriterion}

	if _, err := NewScorer(store, nil).Score(context.Background(), opp, &survivor); !errors.Is(err, models.ErrInvalidCriterion) {
		t.Fatalf("expected ErrInvalidCriterion, got %v", err)
	}
}
