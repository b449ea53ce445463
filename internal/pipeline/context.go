package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/reachability"
	"github.com/sells-group/region-engine/internal/scorer"
	"github.com/sells-group/region-engine/internal/tenantregion"
	"github.com/sells-group/region-engine/internal/territory"
	"github.com/sells-group/region-engine/internal/timing"
)

// RegionContext is the resolved region state for one pipeline request.
type RegionContext struct {
	TenantID             string
	VerticalID           string
	Region               *model.RegionProfile
	Provenance           model.Provenance
	Binding              *tenantregion.Effective
	Location             territory.Location
	Territory            *territory.GeoResolution
	Scoring              scorer.Composition
	SalesCycleMultiplier float64
	PreferredChannels    []model.Channel
	TimingPack           *model.TimingPack
	Notes                []string
	BuiltAt              time.Time

	window timing.Window
	filter *reachability.Filter
	now    func() time.Time
}

// ApplyScoreModifiers applies the context's effective modifiers and region
// weights to base scores.
func (c *RegionContext) ApplyScoreModifiers(scores scorer.Scores) scorer.ModifiedScores {
	return scorer.Apply(scores, c.Scoring)
}

// AdjustSalesCycle scales a base sales cycle length in days.
func (c *RegionContext) AdjustSalesCycle(baseDays int) int {
	if baseDays <= 0 {
		return 0
	}
	return int(math.Round(float64(baseDays) * c.SalesCycleMultiplier))
}

// ContactTiming is the contact advice at the context's current time.
type ContactTiming struct {
	IsOptimalNow bool      `json:"is_optimal_now"`
	NextOptimal  time.Time `json:"next_optimal"`
	Timezone     string    `json:"timezone"`
	Pack         string    `json:"pack"`
	Days         []string  `json:"days"`
	HoursStart   int       `json:"hours_start"`
	HoursEnd     int       `json:"hours_end"`
	MaxAttempts  int       `json:"max_attempts"`
}

// GetOptimalContactTiming reports whether now is inside the timing pack's
// window and when the next window opens.
func (c *RegionContext) GetOptimalContactTiming() ContactTiming {
	now := c.now()
	p := c.window.Pack
	return ContactTiming{
		IsOptimalNow: c.window.IsOptimal(now),
		NextOptimal:  c.window.Next(now),
		Timezone:     c.timezone(),
		Pack:         p.Name,
		Days:         timing.DayNames(p.OptimalDays),
		HoursStart:   p.OptimalHoursStart,
		HoursEnd:     c.window.End(),
		MaxAttempts:  p.MaxAttempts,
	}
}

// FollowUpSchedule plans an initial contact and n follow-ups from now.
func (c *RegionContext) FollowUpSchedule(n int) []timing.Contact {
	return c.window.Schedule(c.now(), n)
}

// IsReachable checks an entity location against the context's binding. An
// empty loc checks the request's own location.
func (c *RegionContext) IsReachable(ctx context.Context, loc territory.Location) reachability.Result {
	if loc.IsEmpty() {
		loc = c.Location
	}
	return c.filter.CheckWithBinding(ctx, reachability.Request{
		TenantID: c.TenantID,
		RegionID: c.Region.ID,
		Location: loc,
	}, c.Binding)
}

func (c *RegionContext) timezone() string {
	if c.window.Location == nil {
		return time.UTC.String()
	}
	return c.window.Location.String()
}

// Audit is the stable audit-log rendering of a RegionContext.
type Audit struct {
	TenantID             string                    `json:"tenant_id,omitempty"`
	RegionID             string                    `json:"region_id"`
	RegionCode           string                    `json:"region_code"`
	SyntheticRegion      bool                      `json:"synthetic_region,omitempty"`
	Provenance           model.Provenance          `json:"provenance"`
	VerticalID           string                    `json:"vertical_id,omitempty"`
	BindingID            string                    `json:"binding_id,omitempty"`
	HasTenantOverrides   bool                      `json:"has_tenant_overrides"`
	EffectiveModifiers   model.Modifiers           `json:"effective_modifiers"`
	VerticalModifiers    *model.Modifiers          `json:"vertical_modifiers,omitempty"`
	ModifierSources      tenantregion.FieldSources `json:"modifier_sources"`
	SalesCycleMultiplier float64                   `json:"sales_cycle_multiplier"`
	PreferredChannels    []model.Channel           `json:"preferred_channels"`
	Timezone             string                    `json:"timezone"`
	TimingPack           AuditPack                 `json:"timing_pack"`
	Territory            *AuditTerritory           `json:"territory,omitempty"`
	Notes                []string                  `json:"notes,omitempty"`
	BuiltAt              time.Time                 `json:"built_at"`
}

// AuditPack summarizes the effective timing pack.
type AuditPack struct {
	Name              string `json:"name"`
	OptimalDays       []int  `json:"optimal_days"`
	HoursStart        int    `json:"hours_start"`
	HoursEnd          int    `json:"hours_end"`
	FollowUpDelayDays int    `json:"follow_up_delay_days"`
	MaxAttempts       int    `json:"max_attempts"`
}

// AuditTerritory summarizes the resolved territory.
type AuditTerritory struct {
	Resolved   bool     `json:"resolved"`
	Code       string   `json:"code,omitempty"`
	Level      int      `json:"level,omitempty"`
	Confidence float64  `json:"confidence"`
	Hierarchy  []string `json:"hierarchy"`
}

// Audit renders the context for audit logging.
func (c *RegionContext) Audit() Audit {
	a := Audit{
		TenantID:             c.TenantID,
		RegionID:             c.Region.ID,
		RegionCode:           c.Region.Code,
		SyntheticRegion:      c.Region.Synthetic,
		Provenance:           c.Provenance,
		VerticalID:           c.VerticalID,
		HasTenantOverrides:   c.Scoring.HasTenantOverrides,
		EffectiveModifiers:   c.Scoring.EffectiveModifiers,
		VerticalModifiers:    c.Scoring.VerticalModifiers,
		ModifierSources:      c.Scoring.Sources,
		SalesCycleMultiplier: c.SalesCycleMultiplier,
		PreferredChannels:    c.PreferredChannels,
		Timezone:             c.timezone(),
		Notes:                c.Notes,
		BuiltAt:              c.BuiltAt.UTC(),
	}
	if c.Binding != nil && c.Binding.Binding != nil {
		a.BindingID = c.Binding.Binding.ID
	}
	if p := c.TimingPack; p != nil {
		a.TimingPack = AuditPack{
			Name:              p.Name,
			OptimalDays:       p.OptimalDays,
			HoursStart:        p.OptimalHoursStart,
			HoursEnd:          c.window.End(),
			FollowUpDelayDays: p.FollowUpDelayDays,
			MaxAttempts:       p.MaxAttempts,
		}
	}
	if g := c.Territory; g != nil {
		a.Territory = &AuditTerritory{
			Resolved:   g.Resolved,
			Code:       g.Code,
			Level:      g.Level,
			Confidence: g.Confidence,
			Hierarchy:  g.Codes(),
		}
	}
	return a
}

// ToJSON encodes the audit document.
func (c *RegionContext) ToJSON() ([]byte, error) {
	b, err := json.Marshal(c.Audit())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: encode region context")
	}
	return b, nil
}
