package model

import "time"

// TenantRegionBinding links a tenant to a region and carries sparse
// overrides. An empty CoverageTerritories means full-region coverage.
type TenantRegionBinding struct {
	ID                         string            `json:"binding_id"`
	TenantID                   string            `json:"tenant_id"`
	RegionID                   string            `json:"region_id"`
	IsDefault                  bool              `json:"is_default"`
	CoverageTerritories        []string          `json:"coverage_territories"`
	CustomScoringModifiers     *ModifierOverride `json:"custom_scoring_modifiers,omitempty"`
	CustomSalesCycleMultiplier *float64          `json:"custom_sales_cycle_multiplier,omitempty"`
	CustomPreferredChannels    []Channel         `json:"custom_preferred_channels,omitempty"`
	Active                     bool              `json:"active"`
	CreatedAt                  time.Time         `json:"created_at"`
	UpdatedAt                  time.Time         `json:"updated_at"`
}

// HasOverrides reports whether any tenant override is actually set.
func (b *TenantRegionBinding) HasOverrides() bool {
	if b == nil {
		return false
	}
	return !b.CustomScoringModifiers.IsEmpty() ||
		b.CustomSalesCycleMultiplier != nil ||
		len(b.CustomPreferredChannels) > 0
}

// Provenance records how a pipeline request's region was chosen.
type Provenance string

const (
	ProvenanceExplicit      Provenance = "explicit"
	ProvenanceInferred      Provenance = "inferred"
	ProvenanceTenantDefault Provenance = "tenant_default"
	ProvenanceSystemDefault Provenance = "system_default"
)
