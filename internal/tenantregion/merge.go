package tenantregion

import (
	"slices"

	"github.com/sells-group/region-engine/internal/model"
)

// Source names used in field provenance.
const (
	SourceTenant = "tenant"
	SourceRegion = "region"
)

// Layer is one override source. Nil fields defer to the next layer.
type Layer struct {
	Name                 string
	Modifiers            *model.ModifierOverride
	SalesCycleMultiplier *float64
	PreferredChannels    []model.Channel
}

// FieldSources records which layer supplied each effective field.
type FieldSources struct {
	Q                    string `json:"q"`
	T                    string `json:"t"`
	L                    string `json:"l"`
	E                    string `json:"e"`
	SalesCycleMultiplier string `json:"sales_cycle_multiplier"`
	PreferredChannels    string `json:"preferred_channels"`
}

// Values is the merged result of a layer stack.
type Values struct {
	Modifiers            model.Modifiers `json:"modifiers"`
	SalesCycleMultiplier float64         `json:"sales_cycle_multiplier"`
	PreferredChannels    []model.Channel `json:"preferred_channels"`
	Sources              FieldSources    `json:"sources"`
}

// RegionLayer turns a region profile into the complete bottom layer.
func RegionLayer(r *model.RegionProfile) Layer {
	m := r.Modifiers
	mult := r.SalesCycleMultiplier
	return Layer{
		Name:                 SourceRegion,
		Modifiers:            &model.ModifierOverride{Q: &m.Q, T: &m.T, L: &m.L, E: &m.E},
		SalesCycleMultiplier: &mult,
		PreferredChannels:    r.PreferredChannels,
	}
}

// TenantLayer turns a binding's overrides into a layer. A nil binding yields
// an empty layer.
func TenantLayer(b *model.TenantRegionBinding) Layer {
	l := Layer{Name: SourceTenant}
	if b == nil {
		return l
	}
	l.Modifiers = b.CustomScoringModifiers
	l.SalesCycleMultiplier = b.CustomSalesCycleMultiplier
	l.PreferredChannels = b.CustomPreferredChannels
	return l
}

// Merge evaluates layers in order, first set value wins per field. Fields no
// layer sets fall back to neutral values. Modifiers are clamped.
func Merge(layers ...Layer) Values {
	out := Values{
		Modifiers:            model.NeutralModifiers(),
		SalesCycleMultiplier: 1,
	}

	pick := func(dst *float64, src *string, get func(*model.ModifierOverride) *float64) {
		for _, l := range layers {
			if l.Modifiers == nil {
				continue
			}
			if v := get(l.Modifiers); v != nil {
				*dst, *src = *v, l.Name
				return
			}
		}
	}
	pick(&out.Modifiers.Q, &out.Sources.Q, func(o *model.ModifierOverride) *float64 { return o.Q })
	pick(&out.Modifiers.T, &out.Sources.T, func(o *model.ModifierOverride) *float64 { return o.T })
	pick(&out.Modifiers.L, &out.Sources.L, func(o *model.ModifierOverride) *float64 { return o.L })
	pick(&out.Modifiers.E, &out.Sources.E, func(o *model.ModifierOverride) *float64 { return o.E })
	out.Modifiers = out.Modifiers.Clamp()

	for _, l := range layers {
		if l.SalesCycleMultiplier != nil && *l.SalesCycleMultiplier > 0 {
			out.SalesCycleMultiplier, out.Sources.SalesCycleMultiplier = *l.SalesCycleMultiplier, l.Name
			break
		}
	}
	for _, l := range layers {
		if len(l.PreferredChannels) > 0 {
			out.PreferredChannels, out.Sources.PreferredChannels = slices.Clone(l.PreferredChannels), l.Name
			break
		}
	}
	if out.PreferredChannels == nil {
		out.PreferredChannels = model.DefaultPreferredChannels()
	}
	return out
}
