package matching

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/david/recovery-match/internal/models"
	"github.com/shopspring/decimal"
)

var zipPattern = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)

// ExtractZipCode returns the last five-digit ZIP found in a free-form address.
// The last match is used because street numbers can also be five digits long.
func ExtractZipCode(address string) string {
	matches := zipPattern.FindAllStringSubmatch(address, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// BuildProfile derives a fresh profile for a survivor. When the survivor has no
// zip code on file but one can be read off a property, the zip is written back
// so later evaluations skip the extraction.
func BuildProfile(ctx context.Context, src ProfileSource, survivor models.User, logger *log.Logger) (models.SurvivorProfile, error) {
	if logger == nil {
		logger = log.Default()
	}

	profile := models.SurvivorProfile{
		SurvivorID: survivor.ID,
		ZipCode:    strings.TrimSpace(survivor.ZipCode),
		Tags:       buildTags(survivor),
	}

	if profile.ZipCode == "" {
		props, err := src.ListProperties(ctx, survivor.ID)
		if err != nil {
			return profile, fmt.Errorf("list properties for %s: %w", survivor.ID, err)
		}
		if zip := resolveZip(props); zip != "" {
			profile.ZipCode = zip
			if err := src.SetSurvivorZipCode(ctx, survivor.ID, zip); err != nil {
				logger.Printf("[matching] failed to cache zip %s for survivor %s: %v", zip, survivor.ID, err)
			}
		}
	}

	groups, err := src.ListHouseholdGroups(ctx, survivor.ID)
	if err != nil {
		return profile, fmt.Errorf("list household groups for %s: %w", survivor.ID, err)
	}

	income := decimal.Zero
	members := 0
	for _, g := range groups {
		for _, m := range g.Members {
			members++
			if m.AnnualIncome.Valid {
				income = income.Add(m.AnnualIncome.Decimal)
			}
		}
	}
	// A survivor with no recorded household still counts as a household of one.
	if members == 0 {
		members = 1
	}
	profile.HouseholdIncome = income
	profile.HouseholdSize = members

	return profile, nil
}

func resolveZip(props []models.Property) string {
	for _, p := range props {
		if zip := strings.TrimSpace(p.ZipCode); zip != "" {
			return zipPrefix(zip)
		}
	}
	for _, p := range props {
		if zip := ExtractZipCode(p.Address); zip != "" {
			return zip
		}
	}
	return ""
}

func buildTags(u models.User) map[string]struct{} {
	tags := make(map[string]struct{}, len(u.QualifyingTags)+len(u.DisasterEvents))
	for _, t := range u.QualifyingTags {
		if t = strings.TrimSpace(t); t != "" {
			tags[t] = struct{}{}
		}
	}
	for _, e := range u.DisasterEvents {
		if e = strings.TrimSpace(e); e != "" {
			tags[models.DisasterTagPrefix+e] = struct{}{}
		}
	}
	return tags
}
