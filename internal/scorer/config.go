// Package scorer applies region-aware modifiers to base lead scores.
package scorer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/region-engine/internal/model"
)

// weightTolerance absorbs floating-point error in weight sums.
const weightTolerance = 1e-6

// WeightProfile weights the four modified scores into a composite. Weights
// sum to 1.
type WeightProfile struct {
	Quality    float64 `json:"quality" yaml:"quality" mapstructure:"quality"`
	Timing     float64 `json:"timing" yaml:"timing" mapstructure:"timing"`
	Location   float64 `json:"location" yaml:"location" mapstructure:"location"`
	Engagement float64 `json:"engagement" yaml:"engagement" mapstructure:"engagement"`
}

// Sum returns the total of all weights.
func (w WeightProfile) Sum() float64 {
	return w.Quality + w.Timing + w.Location + w.Engagement
}

// UniformWeights is used for regions without a profile.
var UniformWeights = WeightProfile{Quality: 0.25, Timing: 0.25, Location: 0.25, Engagement: 0.25}

// DefaultWeightProfiles returns the static per-region composite weights,
// keyed by region code.
func DefaultWeightProfiles() map[string]WeightProfile {
	return map[string]WeightProfile{
		// Relationship markets weight quality and engagement.
		"UAE": {Quality: 0.35, Timing: 0.15, Location: 0.20, Engagement: 0.30},
		"KSA": {Quality: 0.35, Timing: 0.15, Location: 0.20, Engagement: 0.30},
		// Buying windows matter more than fit.
		"US": {Quality: 0.25, Timing: 0.35, Location: 0.15, Engagement: 0.25},
		"UK": {Quality: 0.30, Timing: 0.30, Location: 0.15, Engagement: 0.25},
		"IN": {Quality: 0.25, Timing: 0.30, Location: 0.25, Engagement: 0.20},
		"SG": {Quality: 0.30, Timing: 0.25, Location: 0.20, Engagement: 0.25},
	}
}

// ValidateProfile checks that a weight profile is non-negative and sums to 1.
func ValidateProfile(w WeightProfile) error {
	var errs []string

	weights := map[string]float64{
		"quality":    w.Quality,
		"timing":     w.Timing,
		"location":   w.Location,
		"engagement": w.Engagement,
	}
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if weights[name] < 0 || math.IsNaN(weights[name]) {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", name))
		}
	}

	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.4f", sum))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: weight profile invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateConfig validates every profile, naming the offending region.
func ValidateConfig(profiles map[string]WeightProfile) error {
	codes := make([]string, 0, len(profiles))
	for code := range profiles {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var errs []string
	for _, code := range codes {
		if err := ValidateProfile(profiles[code]); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", code, err.Error()))
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// normalizeProfiles upper-cases region codes.
func normalizeProfiles(in map[string]WeightProfile) map[string]WeightProfile {
	out := make(map[string]WeightProfile, len(in))
	for code, w := range in {
		out[model.NormalizeCode(code)] = w
	}
	return out
}
