package matching

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/david/recovery-match/internal/models"
	"github.com/shopspring/decimal"
)

// Evaluate checks a single criterion against a profile snapshot. It performs no
// I/O and returns the same result for the same inputs.
func Evaluate(c models.Criterion, p models.SurvivorProfile) models.CriterionResult {
	switch v := c.(type) {
	case models.ZipCodeCriterion:
		return evaluateZipCode(v, p)
	case models.IncomeCriterion:
		return evaluateIncome(v, p)
	case models.HouseholdSizeCriterion:
		return evaluateHouseholdSize(v, p)
	case models.DisasterEventCriterion:
		return evaluateDisasterEvent(v, p)
	case models.CustomCriterion:
		return evaluateCustom(v, p)
	default:
		// Criteria are validated on decode, so this only trips on programmer error.
		return models.CriterionResult{
			Type:   c.Type(),
			Reason: fmt.Sprintf("unsupported criterion %T", c),
		}
	}
}

func evaluateZipCode(c models.ZipCodeCriterion, p models.SurvivorProfile) models.CriterionResult {
	res := models.CriterionResult{Type: models.CriterionZipCode, Expected: c.Ranges}
	if p.ZipCode == "" {
		res.Reason = "no zip code on file"
		return res
	}
	res.Actual = p.ZipCode

	zip, err := strconv.Atoi(zipPrefix(p.ZipCode))
	if err != nil {
		res.Reason = "zip code is not numeric"
		return res
	}
	res.Matched = inAnyRange(c.Ranges, float64(zip))
	if !res.Matched {
		res.Reason = "zip code outside eligible ranges"
	}
	return res
}

func evaluateIncome(c models.IncomeCriterion, p models.SurvivorProfile) models.CriterionResult {
	res := models.CriterionResult{
		Type:     models.CriterionIncome,
		Actual:   p.HouseholdIncome.StringFixed(2),
		Expected: c.Ranges,
	}
	for _, r := range c.Ranges {
		if decimalInRange(p.HouseholdIncome, r) {
			res.Matched = true
			return res
		}
	}
	res.Reason = "household income outside eligible ranges"
	return res
}

func evaluateHouseholdSize(c models.HouseholdSizeCriterion, p models.SurvivorProfile) models.CriterionResult {
	res := models.CriterionResult{
		Type:     models.CriterionHouseholdSize,
		Actual:   p.HouseholdSize,
		Expected: c.Ranges,
	}
	res.Matched = inAnyRange(c.Ranges, float64(p.HouseholdSize))
	if !res.Matched {
		res.Reason = "household size outside eligible ranges"
	}
	return res
}

func evaluateDisasterEvent(c models.DisasterEventCriterion, p models.SurvivorProfile) models.CriterionResult {
	res := models.CriterionResult{Type: models.CriterionDisasterEvent, Expected: c.Events}

	var hits []string
	for _, event := range c.Events {
		if p.HasTag(models.DisasterTagPrefix + event) {
			hits = append(hits, event)
		}
	}
	if len(hits) > 0 {
		res.Matched = true
		res.Actual = hits
		return res
	}
	res.Reason = "no recorded disaster event in list"
	return res
}

func evaluateCustom(c models.CustomCriterion, p models.SurvivorProfile) models.CriterionResult {
	res := models.CriterionResult{
		Type:     models.CriterionCustom,
		Expected: map[string]any{"key": c.Key, "values": c.Values},
	}
	for _, v := range c.Values {
		tag := c.Key + ":" + v
		if p.HasTag(tag) {
			res.Matched = true
			res.Actual = tag
			return res
		}
	}
	res.Reason = fmt.Sprintf("no qualifying tag for %q", c.Key)
	return res
}

func inAnyRange(ranges []models.Range, v float64) bool {
	for _, r := range ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

func decimalInRange(v decimal.Decimal, r models.Range) bool {
	return v.GreaterThanOrEqual(decimal.NewFromFloat(r.Min)) && v.LessThanOrEqual(decimal.NewFromFloat(r.Max))
}

// zipPrefix drops a ZIP+4 suffix.
func zipPrefix(zip string) string {
	zip = strings.TrimSpace(zip)
	if i := strings.IndexByte(zip, '-'); i > 0 {
		return zip[:i]
	}
	return zip
}
