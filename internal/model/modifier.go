package model

import "math"

// Modifier bounds. Every effective q/t/l/e multiplier is clamped into this range.
const (
	MinModifier = 0.5
	MaxModifier = 2.0
)

// Score bounds for the four base dimensions and the composite.
const (
	MinScore = 0
	MaxScore = 100
)

// Modifiers is the quality/timing/location/engagement multiplier tuple.
type Modifiers struct {
	Q float64 `json:"q"`
	T float64 `json:"t"`
	L float64 `json:"l"`
	E float64 `json:"e"`
}

// NeutralModifiers returns the all-1.0 tuple.
func NeutralModifiers() Modifiers {
	return Modifiers{Q: 1, T: 1, L: 1, E: 1}
}

// Clamp bounds each field to [MinModifier, MaxModifier].
func (m Modifiers) Clamp() Modifiers {
	return Modifiers{
		Q: ClampModifier(m.Q),
		T: ClampModifier(m.T),
		L: ClampModifier(m.L),
		E: ClampModifier(m.E),
	}
}

// Mul multiplies two tuples field-by-field.
func (m Modifiers) Mul(o Modifiers) Modifiers {
	return Modifiers{Q: m.Q * o.Q, T: m.T * o.T, L: m.L * o.L, E: m.E * o.E}
}

// IsZero reports whether no field was populated.
func (m Modifiers) IsZero() bool {
	return m.Q == 0 && m.T == 0 && m.L == 0 && m.E == 0
}

// ClampModifier bounds v to [MinModifier, MaxModifier]. NaN maps to 1.0.
func ClampModifier(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Min(MaxModifier, math.Max(MinModifier, v))
}

// ModifierOverride is a sparse tuple; nil fields defer to the next source.
type ModifierOverride struct {
	Q *float64 `json:"q,omitempty"`
	T *float64 `json:"t,omitempty"`
	L *float64 `json:"l,omitempty"`
	E *float64 `json:"e,omitempty"`
}

// IsEmpty reports whether no field is set.
func (o *ModifierOverride) IsEmpty() bool {
	return o == nil || (o.Q == nil && o.T == nil && o.L == nil && o.E == nil)
}

// ScoreModifier is a region (and optionally vertical) specific modifier row.
// An empty VerticalID is the region's default set.
type ScoreModifier struct {
	ID                   string    `json:"modifier_id"`
	RegionID             string    `json:"region_id"`
	VerticalID           string    `json:"vertical_id,omitempty"`
	Modifiers            Modifiers `json:"modifiers"`
	StakeholderDepthNorm int       `json:"stakeholder_depth_norm"`
	Notes                string    `json:"notes,omitempty"`
	Active               bool      `json:"active"`
}

// TimingPack is a named schedule of optimal contact days and hours.
// OptimalDays holds weekday indices (0 = Sunday).
type TimingPack struct {
	ID                   string         `json:"pack_id"`
	RegionID             string         `json:"region_id"`
	Name                 string         `json:"pack_name"`
	OptimalDays          []int          `json:"optimal_days"`
	OptimalHoursStart    int            `json:"optimal_hours_start"`
	OptimalHoursEnd      int            `json:"optimal_hours_end"`
	ContactFrequencyDays int            `json:"contact_frequency_days"`
	FollowUpDelayDays    int            `json:"follow_up_delay_days"`
	MaxAttempts          int            `json:"max_attempts"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	Active               bool           `json:"active"`
}

// HasDay reports whether weekday is one of the pack's optimal days.
func (p *TimingPack) HasDay(weekday int) bool {
	for _, d := range p.OptimalDays {
		if d == weekday {
			return true
		}
	}
	return false
}
