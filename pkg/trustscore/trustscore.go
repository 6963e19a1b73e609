// Package trustscore aggregates stage outcomes into a bounded trust score.
package trustscore

import (
	"fmt"
	"math"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

const (
	MaxSecurity       = 30
	MaxFunctional     = 40
	MaxJudge          = 20
	MaxImplementation = 10

	// Each precheck warning costs this many implementation points.
	warningPenalty = 2

	rejectBelow  = 40
	approveAbove = 80
)

// Inputs are the stage outcomes known so far. A nil category has not been evaluated.
type Inputs struct {
	Precheck   *models.StageScore
	Security   *models.StageScore
	Functional *models.StageScore
	Judge      *models.StageScore
}

// FromScores picks the scored stages out of a per-stage score map.
func FromScores(scores map[models.StageName]models.StageScore) Inputs {
	pick := func(stage models.StageName) *models.StageScore {
		score, ok := scores[stage]
		if !ok {
			return nil
		}

		return &score
	}

	return Inputs{
		Precheck:   pick(models.StagePrecheck),
		Security:   pick(models.StageSecurity),
		Functional: pick(models.StageFunctional),
		Judge:      pick(models.StageJudge),
	}
}

// Compute derives the breakdown from scratch. It is pure and deterministic.
func Compute(in Inputs) models.TrustScoreBreakdown {
	var b models.TrustScoreBreakdown

	b.Security, b.Reasoning.Security = category(in.Security, MaxSecurity)
	b.Functional, b.Reasoning.Functional = category(in.Functional, MaxFunctional)
	b.Judge, b.Reasoning.Judge = category(in.Judge, MaxJudge)
	b.Implementation, b.Reasoning.Implementation = implementation(in.Precheck)

	b.Total = clamp(b.Security+b.Functional+b.Judge+b.Implementation, 0, 100)
	b.AutoDecision = Decide(b.Total)

	return b
}

// Decide maps a total score onto the advisory decision bands.
func Decide(total int) models.AutoDecision {
	switch {
	case total < rejectBelow:
		return models.AutoDecisionRejected
	case total < approveAbove:
		return models.AutoDecisionHumanReview
	default:
		return models.AutoDecisionApproved
	}
}

func category(score *models.StageScore, maxPoints int) (int, string) {
	if score == nil {
		return 0, "not evaluated"
	}

	ratio := score.Ratio
	if math.IsNaN(ratio) {
		ratio = 0
	}

	points := clamp(int(math.Round(math.Max(0, math.Min(1, ratio))*float64(maxPoints))), 0, maxPoints)

	outcome := "passed"
	if !score.Passed {
		outcome = "failed"
	}

	reason := fmt.Sprintf("%d/%d, gate %s", points, maxPoints, outcome)
	if score.Summary != "" {
		reason += ": " + score.Summary
	}

	return points, reason
}

func implementation(precheck *models.StageScore) (int, string) {
	if precheck == nil {
		return 0, "not evaluated"
	}

	if !precheck.Passed {
		return 0, fmt.Sprintf("0/%d, precheck failed", MaxImplementation)
	}

	points := clamp(MaxImplementation-warningPenalty*len(precheck.Warnings), 0, MaxImplementation)

	if len(precheck.Warnings) == 0 {
		return points, fmt.Sprintf("%d/%d, no precheck warnings", points, MaxImplementation)
	}

	return points, fmt.Sprintf("%d/%d, %d precheck warning(s)", points, MaxImplementation, len(precheck.Warnings))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
