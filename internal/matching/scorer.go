package matching

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/david/recovery-match/internal/models"
)

// ScoreResult is the aggregate of every criterion of one opportunity for one survivor.
type ScoreResult struct {
	Eligible bool
	Score    int
	Detail   models.MatchDetail
}

type Scorer struct {
	source ProfileSource
	logger *log.Logger
}

func NewScorer(source ProfileSource, logger *log.Logger) *Scorer {
	if logger == nil {
		logger = log.Default()
	}
	return &Scorer{source: source, logger: logger}
}

// Score builds the survivor's profile and scores it against the opportunity.
func (s *Scorer) Score(ctx context.Context, opp *models.Opportunity, survivor *models.User) (ScoreResult, error) {
	if opp.CriteriaErr != nil {
		return ScoreResult{}, opp.CriteriaErr
	}
	profile, err := BuildProfile(ctx, s.source, *survivor, s.logger)
	if err != nil {
		return ScoreResult{}, err
	}
	return ScoreProfile(opp, profile), nil
}

// ScoreProfile is the pure half of Score. An opportunity without criteria never
// matches anyone.
func ScoreProfile(opp *models.Opportunity, profile models.SurvivorProfile) ScoreResult {
	total := len(opp.Criteria)
	detail := models.MatchDetail{
		TotalCriteria: total,
		Results:       make(map[string]models.CriterionResult, total),
	}
	if total == 0 {
		return ScoreResult{Detail: detail}
	}

	seen := make(map[models.CriterionType]int, total)
	matched := 0
	for _, c := range opp.Criteria {
		res := Evaluate(c, profile)
		if res.Matched {
			matched++
		}
		seen[c.Type()]++
		key := string(c.Type())
		if n := seen[c.Type()]; n > 1 {
			key = fmt.Sprintf("%s_%d", key, n)
		}
		detail.Results[key] = res
	}
	detail.MatchedCount = matched

	return ScoreResult{
		Eligible: matched > 0,
		Score:    int(math.Round(100 * float64(matched) / float64(total))),
		Detail:   detail,
	}
}
