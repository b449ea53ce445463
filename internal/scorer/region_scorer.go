package scorer

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/registry"
	"github.com/sells-group/region-engine/internal/tenantregion"
)

// DefaultConcurrency bounds BatchScoreWithRegion fan-out.
const DefaultConcurrency = 8

// Stakeholder adequacy bands.
const (
	BandInsufficient = "insufficient"
	BandAcceptable   = "acceptable"
	BandAdequate     = "adequate"

	acceptableRatio = 0.7
	adequateRatio   = 1.0
)

// Scores are the four base dimensions, each in [0, 100].
type Scores struct {
	Q float64 `json:"q_score"`
	T float64 `json:"t_score"`
	L float64 `json:"l_score"`
	E float64 `json:"e_score"`
}

// Composition is the resolved modifier stack for a region, tenant and
// vertical.
type Composition struct {
	Region             *model.RegionProfile      `json:"-"`
	RegionID           string                    `json:"region_id"`
	RegionCode         string                    `json:"region_code"`
	VerticalID         string                    `json:"vertical_id,omitempty"`
	BaseModifiers      model.Modifiers           `json:"base_modifiers"`
	VerticalModifiers  *model.Modifiers          `json:"vertical_modifiers,omitempty"`
	EffectiveModifiers model.Modifiers           `json:"effective_modifiers"`
	Sources            tenantregion.FieldSources `json:"sources"`
	HasTenantOverrides bool                      `json:"has_tenant_overrides"`
	Weights            WeightProfile             `json:"weights"`
}

// ModifiedScores are the clamped, rounded scores with their breakdown.
type ModifiedScores struct {
	Q         int         `json:"q_score"`
	T         int         `json:"t_score"`
	L         int         `json:"l_score"`
	E         int         `json:"e_score"`
	Composite int         `json:"composite_score"`
	Base      Scores      `json:"base_scores"`
	Breakdown Composition `json:"breakdown"`
}

// ScoreOptions narrow a composition.
type ScoreOptions struct {
	TenantID   string
	VerticalID string
}

// BindingFinder looks up a tenant binding.
type BindingFinder interface {
	FindBinding(ctx context.Context, tenantID, regionID string) (*tenantregion.Effective, bool, error)
}

// Service composes and applies region modifiers.
type Service struct {
	reg         *registry.Registry
	bindings    BindingFinder
	profiles    map[string]WeightProfile
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithWeightProfiles replaces the default per-region weights.
func WithWeightProfiles(p map[string]WeightProfile) Option {
	return func(s *Service) { s.profiles = normalizeProfiles(p) }
}

// WithConcurrency bounds batch fan-out.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService creates a scoring service. bindings may be nil to ignore
// tenant overrides.
func NewService(reg *registry.Registry, bindings BindingFinder, opts ...Option) (*Service, error) {
	s := &Service{
		reg:         reg,
		bindings:    bindings,
		profiles:    DefaultWeightProfiles(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := ValidateConfig(s.profiles); err != nil {
		return nil, err
	}
	return s, nil
}

// Weights returns the composite weights for a region code.
func (s *Service) Weights(regionCode string) WeightProfile {
	if w, ok := s.profiles[model.NormalizeCode(regionCode)]; ok {
		return w
	}
	return UniformWeights
}

// Compose resolves the effective modifiers. The tenant override replaces
// region values per field, the vertical row multiplies the result, and the
// product is clamped.
func (s *Service) Compose(ctx context.Context, regionID string, opts ScoreOptions) (Composition, error) {
	region, _ := s.reg.ResolveRegion(ctx, regionID)
	binding, err := s.binding(ctx, region, opts.TenantID)
	if err != nil {
		return Composition{}, err
	}
	return s.ComposeFor(ctx, region, binding, opts.VerticalID), nil
}

// ComposeFor builds a composition from an already resolved region and
// binding. binding may be nil.
func (s *Service) ComposeFor(ctx context.Context, region *model.RegionProfile, binding *tenantregion.Effective, verticalID string) Composition {
	eff := binding
	if eff == nil {
		eff = tenantregion.Compose(nil, region)
	}

	c := Composition{
		Region:             region,
		RegionID:           region.ID,
		RegionCode:         region.Code,
		VerticalID:         verticalID,
		BaseModifiers:      eff.Modifiers,
		EffectiveModifiers: eff.Modifiers,
		Sources:            eff.Sources,
		HasTenantOverrides: eff.HasCustomizations,
		Weights:            s.Weights(region.Code),
	}
	if verticalID != "" {
		if row, ok := s.reg.GetVerticalModifier(ctx, region.ID, verticalID); ok {
			vm := row.Modifiers
			c.VerticalModifiers = &vm
			c.EffectiveModifiers = c.BaseModifiers.Mul(vm)
		}
	}
	c.EffectiveModifiers = c.EffectiveModifiers.Clamp()
	return c
}

// ApplyRegionModifiers modifies base scores for a region.
func (s *Service) ApplyRegionModifiers(ctx context.Context, scores Scores, regionID string, opts ScoreOptions) (ModifiedScores, error) {
	c, err := s.Compose(ctx, regionID, opts)
	if err != nil {
		return ModifiedScores{}, err
	}
	return Apply(scores, c), nil
}

// Apply multiplies each score by its modifier, clamps to [0, 100] and rounds.
// The composite is the weighted sum of the modified scores.
func Apply(scores Scores, c Composition) ModifiedScores {
	m := c.EffectiveModifiers
	out := ModifiedScores{
		Q:         applyOne(scores.Q, m.Q),
		T:         applyOne(scores.T, m.T),
		L:         applyOne(scores.L, m.L),
		E:         applyOne(scores.E, m.E),
		Base:      scores,
		Breakdown: c,
	}
	w := c.Weights
	composite := w.Quality*float64(out.Q) + w.Timing*float64(out.T) +
		w.Location*float64(out.L) + w.Engagement*float64(out.E)
	out.Composite = clampScore(composite)
	return out
}

func applyOne(score, modifier float64) int {
	return clampScore(score * modifier)
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return model.MinScore
	}
	return int(math.Round(math.Min(model.MaxScore, math.Max(model.MinScore, v))))
}

// GetSalesMultiplier returns the tenant override or the region base.
func (s *Service) GetSalesMultiplier(ctx context.Context, regionID, tenantID string) (float64, error) {
	region, _ := s.reg.ResolveRegion(ctx, regionID)
	binding, err := s.binding(ctx, region, tenantID)
	if err != nil {
		return 0, err
	}
	if binding == nil {
		binding = tenantregion.Compose(nil, region)
	}
	return binding.SalesCycleMultiplier, nil
}

// DepthAdequacy compares actual stakeholder depth with the expected depth.
type DepthAdequacy struct {
	Actual   int     `json:"actual"`
	Expected int     `json:"expected"`
	Ratio    float64 `json:"ratio"`
	Score    int     `json:"score"`
	Band     string  `json:"band"`
}

// NormalizeStakeholderDepth maps actual/expected depth into a 0-100 score.
// Expected depth comes from the modifier row or the regional fallback.
func (s *Service) NormalizeStakeholderDepth(ctx context.Context, depth int, regionID, verticalID string) DepthAdequacy {
	region, _ := s.reg.ResolveRegion(ctx, regionID)
	expected := s.reg.GetScoreModifiers(ctx, region.ID, verticalID).StakeholderDepth
	if expected <= 0 {
		expected = model.StakeholderDepthFallback(region.Code)
	}
	return adequacy(depth, expected)
}

func adequacy(depth, expected int) DepthAdequacy {
	ratio := 0.0
	if depth > 0 {
		ratio = float64(depth) / float64(expected)
	}
	band := BandInsufficient
	switch {
	case ratio >= adequateRatio:
		band = BandAdequate
	case ratio >= acceptableRatio:
		band = BandAcceptable
	}
	return DepthAdequacy{
		Actual:   depth,
		Expected: expected,
		Ratio:    ratio,
		Score:    clampScore(ratio * 100),
		Band:     band,
	}
}

// ChannelWeight is a preferred channel with its display weight.
type ChannelWeight struct {
	Channel model.Channel `json:"channel"`
	Rank    int           `json:"rank"`
	Weight  float64       `json:"weight"`
}

// GetPreferredChannels returns the effective channel order with
// rank-proportional weights summing to 1.
func (s *Service) GetPreferredChannels(ctx context.Context, regionID, tenantID string) ([]ChannelWeight, error) {
	region, _ := s.reg.ResolveRegion(ctx, regionID)
	binding, err := s.binding(ctx, region, tenantID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		binding = tenantregion.Compose(nil, region)
	}
	return RankChannels(binding.PreferredChannels), nil
}

// RankChannels weights n channels n, n-1, ... 1 normalized to sum to 1.
func RankChannels(channels []model.Channel) []ChannelWeight {
	n := len(channels)
	total := float64(n*(n+1)) / 2
	out := make([]ChannelWeight, n)
	for i, ch := range channels {
		out[i] = ChannelWeight{Channel: ch, Rank: i + 1, Weight: float64(n-i) / total}
	}
	return out
}

// ScoredEntity is an entity with base scores.
type ScoredEntity struct {
	ID     string `json:"id"`
	Scores Scores `json:"scores"`
}

// BatchResult pairs an entity with its modified scores.
type BatchResult struct {
	ID     string         `json:"id"`
	Scores ModifiedScores `json:"scores"`
}

// BatchScoreWithRegion composes once and applies to every entity. Output
// order matches input.
func (s *Service) BatchScoreWithRegion(ctx context.Context, entities []ScoredEntity, regionID string, opts ScoreOptions) ([]BatchResult, error) {
	c, err := s.Compose(ctx, regionID, opts)
	if err != nil {
		return nil, err
	}

	out := make([]BatchResult, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, e := range entities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = BatchResult{ID: e.ID, Scores: Apply(e.Scores, c)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "scorer: batch score")
	}

	zap.L().Debug("scorer: batch scored",
		zap.String("region_code", c.RegionCode),
		zap.String("vertical_id", opts.VerticalID),
		zap.Int("entities", len(entities)),
	)
	return out, nil
}

func (s *Service) binding(ctx context.Context, region *model.RegionProfile, tenantID string) (*tenantregion.Effective, error) {
	if tenantID == "" || s.bindings == nil || region.Synthetic {
		return nil, nil
	}
	b, ok, err := s.bindings.FindBinding(ctx, tenantID, region.ID)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: find binding")
	}
	if !ok {
		return nil, nil
	}
	return b, nil
}
