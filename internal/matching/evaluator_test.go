package matching

import (
	"testing"

	"github.com/david/recovery-match/internal/models"
	"github.com/shopspring/decimal"
)

func profile(zip string, income int64, size int, tags ...string) models.SurvivorProfile {
	p := models.SurvivorProfile{
		ZipCode:         zip,
		HouseholdIncome: decimal.NewFromInt(income),
		HouseholdSize:   size,
		Tags:            map[string]struct{}{},
	}
	for _, t := range tags {
		p.Tags[t] = struct{}{}
	}
	return p
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		criterion models.Criterion
		profile   models.SurvivorProfile
		want      bool
		reason    string
	}{
		{
			name:      "zip inside range",
			criterion: models.ZipCodeCriterion{Ranges: []models.Range{{Min: 70000, Max: 71499}}},
			profile:   profile("70112", 0, 1),
			want:      true,
		},
		{
			name:      "zip plus four",
			criterion: models.ZipCodeCriterion{Ranges: []models.Range{{Min: 70000, Max: 71499}}},
			profile:   profile("70112-1234", 0, 1),
			want:      true,
		},
		{
			name:      "zip outside range",
			criterion: models.ZipCodeCriterion{Ranges: []models.Range{{Min: 70000, Max: 71499}}},
			profile:   profile("90210", 0, 1),
			reason:    "zip code outside eligible ranges",
		},
		{
			name:      "no zip",
			criterion: models.ZipCodeCriterion{Ranges: []models.Range{{Min: 0, Max: 99999}}},
			profile:   profile("", 0, 1),
			reason:    "no zip code on file",
		},
		{
			name:      "non numeric zip",
			criterion: models.ZipCodeCriterion{Ranges: []models.Range{{Min: 0, Max: 99999}}},
			profile:   profile("K1A0B1", 0, 1),
			reason:    "zip code is not numeric",
		},
		{
			name:      "income at upper bound",
			criterion: models.IncomeCriterion{Ranges: []models.Range{{Min: 0, Max: 30000}}},
			profile:   profile("", 30000, 1),
			want:      true,
		},
		{
			name:      "income too high",
			criterion: models.IncomeCriterion{Ranges: []models.Range{{Min: 0, Max: 30000}}},
			profile:   profile("", 50000, 1),
			reason:    "household income outside eligible ranges",
		},
		{
			name:      "household size second range",
			criterion: models.HouseholdSizeCriterion{Ranges: []models.Range{{Min: 1, Max: 1}, {Min: 4, Max: 8}}},
			profile:   profile("", 0, 5),
			want:      true,
		},
		{
			name:      "household size miss",
			criterion: models.HouseholdSizeCriterion{Ranges: []models.Range{{Min: 4, Max: 8}}},
			profile:   profile("", 0, 2),
			reason:    "household size outside eligible ranges",
		},
		{
			name:      "disaster event recorded",
			criterion: models.DisasterEventCriterion{Events: []string{"DR-4611", "DR-4559"}},
			profile:   profile("", 0, 1, "disaster:DR-4559"),
			want:      true,
		},
		{
			name:      "disaster event missing",
			criterion: models.DisasterEventCriterion{Events: []string{"DR-4611"}},
			profile:   profile("", 0, 1, "DR-4611"),
			reason:    "no recorded disaster event in list",
		},
		{
			name:      "custom tag",
			criterion: models.CustomCriterion{Key: "housing", Values: []string{"renter", "owner"}},
			profile:   profile("", 0, 1, "housing:owner"),
			want:      true,
		},
		{
			name:      "custom tag missing",
			criterion: models.CustomCriterion{Key: "housing", Values: []string{"renter"}},
			profile:   profile("", 0, 1, "housing:owner"),
			reason:    `no qualifying tag for "housing"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.criterion, tt.profile)
			if got.Matched != tt.want {
				t.Fatalf("Matched = %v, want %v (reason %q)", got.Matched, tt.want, got.Reason)
			}
			if got.Type != tt.criterion.Type() {
				t.Errorf("Type = %q, want %q", got.Type, tt.criterion.Type())
			}
			if tt.reason != "" && got.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.reason)
			}
			if tt.want && got.Reason != "" {
				t.Errorf("matched result carries reason %q", got.Reason)
			}
		})
	}
}

func TestEvaluate_IncomeActualIsFormatted(t *testing.T) {
	p := profile("", 0, 1)
	p.HouseholdIncome = decimal.RequireFromString("24999.5")
	res := Evaluate(models.IncomeCriterion{Ranges: []models.Range{{Min: 0, Max: 25000}}}, p)
	if !res.Matched {
		t.Fatalf("expected match, got %q", res.Reason)
	}
	if res.Actual != "24999.50" {
		t.Fatalf("Actual = %v, want 24999.50", res.Actual)
	}
}

func TestEvaluate_DisasterHitsListed(t *testing.T) {
	res := Evaluate(
		models.DisasterEventCriterion{Events: []string{"DR-1", "DR-2", "DR-3"}},
		profile("", 0, 1, "disaster:DR-1", "disaster:DR-3"),
	)
	hits, ok := res.Actual.([]string)
	if !ok || len(hits) != 2 || hits[0] != "DR-1" || hits[1] != "DR-3" {
		t.Fatalf("Actual = %#v, want [DR-1 DR-3]", res.Actual)
	}
}
