// Package classifier recognizes build-artifact directories by basename
// pattern plus structural signals from their direct children. Grounded
// on the teacher's engine/patterns.go priority-ordered pattern registry,
// generalized from evidence-ID conditions to name+structure matching.
package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/joyshmitz/sbh/model"
)

// MatchKind selects how Value is compared against a directory's basename.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchPrefix
	MatchSuffix
	MatchRegex
)

// Pattern is one named entry in the registry.
type Pattern struct {
	Name           string
	Kind           MatchKind
	Value          string
	Category       model.ArtifactCategory
	BaseConfidence float64
	Priority       int // higher checked first

	re *regexp.Regexp
}

func (p *Pattern) matches(basename string) bool {
	switch p.Kind {
	case MatchExact:
		return basename == p.Value
	case MatchPrefix:
		return strings.HasPrefix(basename, p.Value)
	case MatchSuffix:
		return strings.HasSuffix(basename, p.Value)
	case MatchRegex:
		return p.re.MatchString(basename)
	default:
		return false
	}
}

// defaultRegistry is the built-in pattern library, sorted by priority
// descending at init.
//
// Design note: "cargo-prefix" and "generic-cache-exact" match source
// module names at high confidence with no structural requirement; see
// minStructuralFor and the name-only cap applied in Classify.
var defaultRegistry = []Pattern{
	{Name: "node-modules-exact", Kind: MatchExact, Value: "node_modules", Category: model.CategoryNodeModules, BaseConfidence: 0.95, Priority: 95},
	{Name: "dot-cache-exact", Kind: MatchExact, Value: ".cache", Category: model.CategoryGenericCache, BaseConfidence: 0.8, Priority: 85},
	{Name: "rust-target-exact", Kind: MatchExact, Value: "target", Category: model.CategoryRustTarget, BaseConfidence: 0.9, Priority: 80},
	{Name: "python-venv-exact", Kind: MatchExact, Value: "venv", Category: model.CategoryPythonVenv, BaseConfidence: 0.85, Priority: 75},
	{Name: "python-dotvenv-exact", Kind: MatchExact, Value: ".venv", Category: model.CategoryPythonVenv, BaseConfidence: 0.85, Priority: 74},
	{Name: "go-mod-cache-exact", Kind: MatchExact, Value: "mod", Category: model.CategoryGoModCache, BaseConfidence: 0.5, Priority: 65},
	{Name: "docker-layer-regex", Kind: MatchRegex, Value: `^[0-9a-f]{64}$`, Category: model.CategoryDockerLayer, BaseConfidence: 0.5, Priority: 60},
	{Name: "cargo-prefix", Kind: MatchPrefix, Value: "cargo_", Category: model.CategoryRustTarget, BaseConfidence: 0.8, Priority: 55},
	{Name: "generic-cache-suffix", Kind: MatchSuffix, Value: "_cache", Category: model.CategoryGenericCache, BaseConfidence: 0.6, Priority: 50},
	{Name: "gradle-build-exact", Kind: MatchExact, Value: "build", Category: model.CategoryGradleBuild, BaseConfidence: 0.55, Priority: 45},
	{Name: "generic-cache-exact", Kind: MatchExact, Value: "cache", Category: model.CategoryGenericCache, BaseConfidence: 0.75, Priority: 40},
}

// Registry holds an ordered, compiled pattern set.
type Registry struct {
	patterns []Pattern
}

// NewRegistry compiles the default pattern library.
func NewRegistry() *Registry {
	return NewRegistryWith(defaultRegistry)
}

// NewRegistryWith compiles a custom pattern set, sorted by priority
// descending.
func NewRegistryWith(patterns []Pattern) *Registry {
	out := make([]Pattern, len(patterns))
	copy(out, patterns)
	for i := range out {
		if out[i].Kind == MatchRegex {
			out[i].re = regexp.MustCompile(out[i].Value)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return &Registry{patterns: out}
}

func (r *Registry) bestMatch(basename string) *Pattern {
	for i := range r.patterns {
		if r.patterns[i].matches(basename) {
			return &r.patterns[i]
		}
	}
	return nil
}

// minStructuralFor is the structural-confidence floor a category must
// clear before a name match is allowed to reach full combined confidence
// on its own. Categories prone to colliding with real source module
// names (rust targets, generic caches, Go module caches, Gradle builds)
// get a floor of 0.5; every other category gets 0.3.
func minStructuralFor(category model.ArtifactCategory) float64 {
	switch category {
	case model.CategoryRustTarget, model.CategoryGenericCache, model.CategoryGoModCache, model.CategoryGradleBuild:
		return 0.5
	default:
		return 0.3
	}
}

// NameOnlyCap bounds combined_confidence when a directory matches by
// name alone without sufficient structural evidence, keeping it below
// typical delete thresholds (spec.md §4.E design note). Exported so the
// scoring engine can enforce the "never Delete on name alone" invariant
// as a hard rule rather than relying on weight tuning alone.
const NameOnlyCap = 0.45

// nameOnlyCap is kept as an internal alias for brevity within this file.
const nameOnlyCap = NameOnlyCap

// structuralConfidence computes a weighted sum of signals relevant to
// category, clamped to [0,1]. A directory carrying its own manifest
// (HasCargoToml) is treated as a source module, not an artifact, for the
// categories most prone to false positives.
func structuralConfidence(category model.ArtifactCategory, s model.StructuralSignals) float64 {
	if s.HasCargoToml && (category == model.CategoryRustTarget || category == model.CategoryGenericCache) {
		return 0
	}
	sum := 0.0
	switch category {
	case model.CategoryRustTarget:
		sum += weighIf(s.HasIncremental, 0.4)
		sum += weighIf(s.HasDeps, 0.3)
		sum += weighIf(s.HasBuild, 0.3)
	case model.CategoryNodeModules:
		sum += weighIf(s.HasDeps, 0.6)
		sum += weighIf(s.HasFingerprint, 0.4)
	case model.CategoryGenericCache:
		sum += weighIf(s.HasFingerprint, 0.5)
		sum += weighIf(s.HasIncremental, 0.5)
	case model.CategoryPythonVenv:
		sum += weighIf(s.HasDeps, 0.6)
		sum += weighIf(s.HasBuild, 0.4)
	case model.CategoryGoModCache:
		sum += weighIf(s.HasDeps, 0.7)
		sum += weighIf(s.HasFingerprint, 0.3)
	case model.CategoryGradleBuild:
		sum += weighIf(s.HasBuild, 0.5)
		sum += weighIf(s.HasFingerprint, 0.5)
	case model.CategoryDockerLayer:
		sum += weighIf(s.MostlyObjectFiles, 1.0)
	}
	if s.HasGit {
		sum -= 0.2 // a live .git suggests a tracked source tree, not a cache
	}
	return clamp01(sum)
}

func weighIf(b bool, w float64) float64 {
	if b {
		return w
	}
	return 0
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

func combine(nameConf, structConf float64) float64 {
	return clamp01(0.5*nameConf + 0.5*structConf)
}

// Classify matches basename against the registry and combines it with
// structural evidence. A name-only match (structural confidence below
// the category's floor) is capped so scoring cannot reach Delete for it,
// unless the caller later establishes UnderArtifactRoot via
// ApplyArtifactRoot.
func (r *Registry) Classify(basename string, signals model.StructuralSignals) model.ArtifactClassification {
	pat := r.bestMatch(basename)
	if pat == nil {
		return model.ArtifactClassification{Category: model.CategoryUnknown}
	}

	nameConf := pat.BaseConfidence
	structConf := structuralConfidence(pat.Category, signals)
	combined := combine(nameConf, structConf)
	if structConf < minStructuralFor(pat.Category) && combined > nameOnlyCap {
		combined = nameOnlyCap
	}

	return model.ArtifactClassification{
		PatternName:          pat.Name,
		Category:             pat.Category,
		NameConfidence:       nameConf,
		StructuralConfidence: structConf,
		CombinedConfidence:   combined,
	}
}

// ApplyArtifactRoot recomputes combined_confidence without the
// name-only cap, for a candidate known to live under an ancestor
// directory that itself cleared the structural floor for its category.
func ApplyArtifactRoot(c *model.ArtifactClassification) {
	c.UnderArtifactRoot = true
	c.CombinedConfidence = combine(c.NameConfidence, c.StructuralConfidence)
}
