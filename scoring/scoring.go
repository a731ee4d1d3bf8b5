// Package scoring computes a weighted multi-factor score for each
// candidate and renders a Keep/Review/Delete decision, subject to hard
// overrides for open files, exclusions, and protection violations.
// Grounded on the teacher's engine/scoring.go weightedDomainScore slot
// pattern, generalized from evidence slots to the five spec.md §4.H
// factors.
package scoring

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/joyshmitz/sbh/classifier"
	"github.com/joyshmitz/sbh/model"
)

// Config tunes factor weights, saturation points, and decision
// thresholds. Zero-value Config is not usable; use DefaultConfig.
type Config struct {
	LocationWeight  float64
	NameWeight      float64
	AgeWeight       float64
	SizeWeight      float64
	StructureWeight float64

	// MaxScore is S_max, the ceiling total_score saturates at.
	MaxScore float64
	// PressureMultiplierMax is M, the ceiling of the pressure multiplier.
	PressureMultiplierMax float64

	// LocationSaturationDepth is the path depth at which the location
	// factor reaches 1.0 (deeper paths are less likely to be load-bearing).
	LocationSaturationDepth int

	MinFileAge          time.Duration
	AgeSaturationAge     time.Duration
	SizeSaturationBytes  uint64

	KeepThreshold   float64
	DeleteThreshold float64
}

// DefaultConfig mirrors the teacher's scoring.go weight magnitudes,
// adapted to five artifact-scoring factors.
func DefaultConfig() Config {
	return Config{
		LocationWeight:          0.15,
		NameWeight:              0.30,
		AgeWeight:               0.20,
		SizeWeight:              0.20,
		StructureWeight:         0.15,
		MaxScore:                1.0,
		PressureMultiplierMax:   2.0,
		LocationSaturationDepth: 6,
		MinFileAge:              10 * time.Minute,
		AgeSaturationAge:        7 * 24 * time.Hour,
		SizeSaturationBytes:     1 << 30, // 1GiB
		KeepThreshold:           0.35,
		DeleteThreshold:         0.70,
	}
}

// Engine scores candidates against Config.
type Engine struct {
	cfg Config
}

// New creates a scoring Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Score computes factor scores, the total score, and the decision for
// one candidate at the given urgency (from the PID controller) and
// protection status (from the protection registry).
func (e *Engine) Score(candidate model.CandidateInput, urgency float64, protected bool) model.ScoredCandidate {
	factors := model.FactorBreakdown{
		Location:           e.locationFactor(candidate.Path),
		Name:               clamp01(candidate.Classification.CombinedConfidence),
		Age:                e.ageFactor(candidate.Age),
		Size:               e.sizeFactor(candidate.SizeBytes),
		Structure:          clamp01(candidate.Classification.StructuralConfidence),
		PressureMultiplier: e.pressureMultiplier(urgency),
	}

	weighted := e.cfg.LocationWeight*factors.Location +
		e.cfg.NameWeight*factors.Name +
		e.cfg.AgeWeight*factors.Age +
		e.cfg.SizeWeight*factors.Size +
		e.cfg.StructureWeight*factors.Structure

	total := weighted * factors.PressureMultiplier
	if total > e.cfg.MaxScore {
		total = e.cfg.MaxScore
	}
	if total < 0 {
		total = 0
	}

	tooYoung := candidate.Age < e.cfg.MinFileAge
	decision := e.decide(total, candidate, protected, tooYoung)

	return model.ScoredCandidate{
		CandidateInput: candidate,
		Factors:        factors,
		TotalScore:     total,
		Decision:       decision,
	}
}

// decide applies the threshold bands and then the hard overrides, which
// take precedence regardless of total_score.
func (e *Engine) decide(total float64, candidate model.CandidateInput, protected, tooYoung bool) model.Decision {
	action := model.ActionKeep
	switch {
	case total >= e.cfg.DeleteThreshold:
		action = model.ActionDelete
	case total >= e.cfg.KeepThreshold:
		action = model.ActionReview
	}

	if protected {
		return model.Decision{Action: model.ActionKeep, Rationale: "protected"}
	}
	if candidate.Excluded {
		return model.Decision{Action: model.ActionKeep, Rationale: "excluded"}
	}
	if candidate.IsOpen && action == model.ActionDelete {
		return model.Decision{Action: model.ActionReview, Rationale: "open file"}
	}
	if tooYoung && action == model.ActionDelete {
		return model.Decision{Action: model.ActionReview, Rationale: "younger than minimum age"}
	}
	if action == model.ActionDelete && candidate.Classification.CombinedConfidence <= classifier.NameOnlyCap && !candidate.Classification.UnderArtifactRoot {
		return model.Decision{Action: model.ActionReview, Rationale: "name-only match without structural evidence"}
	}

	return model.Decision{Action: action, Rationale: rationaleFor(action)}
}

func rationaleFor(action model.Action) string {
	switch action {
	case model.ActionDelete:
		return "score above delete threshold"
	case model.ActionReview:
		return "score above keep threshold"
	default:
		return "score below keep threshold"
	}
}

// locationFactor treats deeper paths as less risky: a path nested many
// directories down is more likely to be a disposable build artifact than
// a project root.
func (e *Engine) locationFactor(path string) float64 {
	depth := strings.Count(filepath.Clean(path), string(filepath.Separator))
	if e.cfg.LocationSaturationDepth <= 0 {
		return 0
	}
	return clamp01(float64(depth) / float64(e.cfg.LocationSaturationDepth))
}

// ageFactor is zero below MinFileAge and rises monotonically toward 1 at
// AgeSaturationAge (spec.md testable property #13).
func (e *Engine) ageFactor(age time.Duration) float64 {
	if age < e.cfg.MinFileAge {
		return 0
	}
	span := e.cfg.AgeSaturationAge - e.cfg.MinFileAge
	if span <= 0 {
		return 1
	}
	return clamp01(float64(age-e.cfg.MinFileAge) / float64(span))
}

// sizeFactor saturates rather than scaling unbounded, so a handful of
// enormous files don't dominate the weighted sum.
func (e *Engine) sizeFactor(size uint64) float64 {
	if e.cfg.SizeSaturationBytes == 0 {
		return 0
	}
	return clamp01(float64(size) / float64(e.cfg.SizeSaturationBytes))
}

func (e *Engine) pressureMultiplier(urgency float64) float64 {
	u := clamp01(urgency)
	m := 1 + (e.cfg.PressureMultiplierMax-1)*u
	if m < 1 {
		return 1
	}
	if m > e.cfg.PressureMultiplierMax {
		return e.cfg.PressureMultiplierMax
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
