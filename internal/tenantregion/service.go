// Package tenantregion manages tenant to region bindings and merges tenant
// overrides onto region defaults.
package tenantregion

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/registry"
	"github.com/sells-group/region-engine/internal/store"
)

var (
	// ErrBindingNotFound is returned when no active binding exists for the
	// tenant and region.
	ErrBindingNotFound = eris.New("tenantregion: binding not found")

	// ErrRegionNotFound is returned when a region id or code is unknown.
	ErrRegionNotFound = eris.New("tenantregion: region not found")

	// ErrTenantRequired is returned for an empty tenant id.
	ErrTenantRequired = eris.New("tenantregion: tenant id required")
)

// IsNotFound reports whether err is a missing binding or region.
func IsNotFound(err error) bool {
	return eris.Is(err, ErrBindingNotFound) || eris.Is(err, ErrRegionNotFound)
}

// PatternMatcher decides whether a territory code satisfies a coverage entry.
type PatternMatcher interface {
	MatchTerritoryPattern(ctx context.Context, code, pattern string) bool
}

// Effective is a binding merged with its region's base values.
type Effective struct {
	Binding             *model.TenantRegionBinding `json:"binding"`
	Region              *model.RegionProfile       `json:"region"`
	CoverageTerritories []string                   `json:"coverage_territories"`
	HasCustomizations   bool                       `json:"has_customizations"`
	Values
}

// FullCoverage reports whether the binding covers the whole region.
func (e *Effective) FullCoverage() bool {
	return e == nil || len(e.CoverageTerritories) == 0
}

// BindOptions are the settings written by BindTenantToRegion.
type BindOptions struct {
	IsDefault                  bool
	CoverageTerritories        []string
	CustomScoringModifiers     *model.ModifierOverride
	CustomSalesCycleMultiplier *float64
	CustomPreferredChannels    []model.Channel
}

// Service reads and writes tenant bindings.
type Service struct {
	store    store.BindingStore
	reg      *registry.Registry
	patterns PatternMatcher
}

// NewService creates a tenant-region service. patterns may be nil, in which
// case coverage entries match exactly or by trailing-wildcard prefix.
func NewService(bs store.BindingStore, reg *registry.Registry, patterns PatternMatcher) *Service {
	return &Service{store: bs, reg: reg, patterns: patterns}
}

// GetTenantRegions returns the tenant's active bindings, merged. Bindings
// whose region is no longer active are skipped.
func (s *Service) GetTenantRegions(ctx context.Context, tenantID string) ([]*Effective, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	bindings, err := s.store.ListBindings(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "tenantregion: list bindings")
	}
	out := make([]*Effective, 0, len(bindings))
	for i := range bindings {
		eff, err := s.effective(ctx, &bindings[i])
		if err != nil {
			zap.L().Debug("tenantregion: skipping binding to unknown region",
				zap.String("tenant_id", tenantID),
				zap.String("region_id", bindings[i].RegionID),
			)
			continue
		}
		out = append(out, eff)
	}
	return out, nil
}

// GetDefaultRegion returns the tenant's default binding.
func (s *Service) GetDefaultRegion(ctx context.Context, tenantID string) (*Effective, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	b, err := s.store.GetDefaultBinding(ctx, tenantID)
	if err != nil {
		return nil, s.storeErr(err, "get default binding")
	}
	return s.effective(ctx, b)
}

// GetTenantRegionBinding returns one binding. regionID may be a code.
func (s *Service) GetTenantRegionBinding(ctx context.Context, tenantID, regionID string) (*Effective, error) {
	region, err := s.region(ctx, tenantID, regionID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.GetBinding(ctx, tenantID, region.ID)
	if err != nil {
		return nil, s.storeErr(err, "get binding")
	}
	return merge(b, region), nil
}

// FindBinding is GetTenantRegionBinding with a missing binding reported as
// ok=false instead of an error.
func (s *Service) FindBinding(ctx context.Context, tenantID, regionID string) (*Effective, bool, error) {
	eff, err := s.GetTenantRegionBinding(ctx, tenantID, regionID)
	switch {
	case err == nil:
		return eff, true, nil
	case eris.Is(err, ErrBindingNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// BindTenantToRegion creates or reactivates a binding. An existing default
// flag is kept unless the options set it.
func (s *Service) BindTenantToRegion(ctx context.Context, tenantID, regionID string, opts BindOptions) (*Effective, error) {
	region, err := s.region(ctx, tenantID, regionID)
	if err != nil {
		return nil, err
	}

	isDefault := opts.IsDefault
	if !isDefault {
		existing, err := s.store.GetBinding(ctx, tenantID, region.ID)
		switch {
		case err == nil:
			isDefault = existing.IsDefault
		case !store.IsNotFound(err):
			return nil, eris.Wrap(err, "tenantregion: bind")
		}
	}

	b, err := s.store.UpsertBinding(ctx, model.TenantRegionBinding{
		TenantID:                   tenantID,
		RegionID:                   region.ID,
		IsDefault:                  isDefault,
		CoverageTerritories:        opts.CoverageTerritories,
		CustomScoringModifiers:     opts.CustomScoringModifiers,
		CustomSalesCycleMultiplier: opts.CustomSalesCycleMultiplier,
		CustomPreferredChannels:    opts.CustomPreferredChannels,
	})
	if err != nil {
		return nil, eris.Wrap(err, "tenantregion: bind")
	}
	zap.L().Info("tenantregion: bound tenant to region",
		zap.String("tenant_id", tenantID),
		zap.String("region_id", region.ID),
		zap.String("region_code", region.Code),
		zap.Bool("is_default", b.IsDefault),
	)
	return merge(b, region), nil
}

// SetDefaultRegion makes regionID the tenant's only default, creating the
// binding when absent.
func (s *Service) SetDefaultRegion(ctx context.Context, tenantID, regionID string) (*Effective, error) {
	region, err := s.region(ctx, tenantID, regionID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.SetDefaultBinding(ctx, tenantID, region.ID)
	if err != nil {
		return nil, eris.Wrap(err, "tenantregion: set default")
	}
	zap.L().Info("tenantregion: default region set",
		zap.String("tenant_id", tenantID),
		zap.String("region_code", region.Code),
	)
	return merge(b, region), nil
}

// UnbindTenantFromRegion soft-deletes the binding.
func (s *Service) UnbindTenantFromRegion(ctx context.Context, tenantID, regionID string) error {
	region, err := s.region(ctx, tenantID, regionID)
	if err != nil {
		return err
	}
	if err := s.store.DeactivateBinding(ctx, tenantID, region.ID); err != nil {
		return s.storeErr(err, "unbind")
	}
	return nil
}

// UpdateCoverageTerritories replaces the coverage list. An empty list
// restores full-region coverage. The binding must exist.
func (s *Service) UpdateCoverageTerritories(ctx context.Context, tenantID, regionID string, coverage []string) (*Effective, error) {
	region, err := s.region(ctx, tenantID, regionID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.UpdateCoverage(ctx, tenantID, region.ID, coverage)
	if err != nil {
		return nil, s.storeErr(err, "update coverage")
	}
	return merge(b, region), nil
}

// UpdateCustomModifiers replaces the binding's overrides. Nil fields clear
// the override. The binding must exist.
func (s *Service) UpdateCustomModifiers(ctx context.Context, tenantID, regionID string, c store.Customizations) (*Effective, error) {
	region, err := s.region(ctx, tenantID, regionID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.UpdateCustomizations(ctx, tenantID, region.ID, c)
	if err != nil {
		return nil, s.storeErr(err, "update customizations")
	}
	return merge(b, region), nil
}

// HasRegionAccess reports whether the tenant has an active binding to the region.
func (s *Service) HasRegionAccess(ctx context.Context, tenantID, regionID string) (bool, error) {
	_, ok, err := s.FindBinding(ctx, tenantID, regionID)
	if eris.Is(err, ErrRegionNotFound) {
		return false, nil
	}
	return ok, err
}

// IsTerritoryCovered reports whether the tenant's binding to the region
// covers territoryCode. No binding means no coverage; an empty coverage list
// covers the whole region.
func (s *Service) IsTerritoryCovered(ctx context.Context, tenantID, regionID, territoryCode string) (bool, error) {
	eff, ok, err := s.FindBinding(ctx, tenantID, regionID)
	if err != nil || !ok {
		if eris.Is(err, ErrRegionNotFound) {
			return false, nil
		}
		return false, err
	}
	if eff.FullCoverage() {
		return true, nil
	}
	return len(s.CoveredBy(ctx, eff.CoverageTerritories, territoryCode)) > 0, nil
}

// CoveredBy returns the coverage entries that territoryCode satisfies.
func (s *Service) CoveredBy(ctx context.Context, coverage []string, territoryCode string) []string {
	var out []string
	for _, pattern := range coverage {
		if s.matches(ctx, territoryCode, pattern) {
			out = append(out, pattern)
		}
	}
	return out
}

func (s *Service) matches(ctx context.Context, code, pattern string) bool {
	if s.patterns != nil {
		return s.patterns.MatchTerritoryPattern(ctx, code, pattern)
	}
	code, pattern = model.NormalizeCode(code), model.NormalizeCode(pattern)
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(code, prefix)
	}
	return code != "" && (code == pattern || strings.HasPrefix(code, pattern+"-"))
}

func (s *Service) region(ctx context.Context, tenantID, regionID string) (*model.RegionProfile, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	region, ok := s.reg.GetRegion(ctx, regionID)
	if !ok {
		return nil, eris.Wrapf(ErrRegionNotFound, "region %q", regionID)
	}
	return region, nil
}

func (s *Service) effective(ctx context.Context, b *model.TenantRegionBinding) (*Effective, error) {
	region, ok := s.reg.GetRegionByID(ctx, b.RegionID)
	if !ok {
		return nil, eris.Wrapf(ErrRegionNotFound, "region %q", b.RegionID)
	}
	return merge(b, region), nil
}

func (s *Service) storeErr(err error, op string) error {
	if store.IsNotFound(err) {
		return eris.Wrap(ErrBindingNotFound, op)
	}
	return eris.Wrap(err, "tenantregion: "+op)
}

// Compose merges a binding with its region. A nil binding yields the
// region's base values.
func Compose(b *model.TenantRegionBinding, region *model.RegionProfile) *Effective {
	return merge(b, region)
}

func merge(b *model.TenantRegionBinding, region *model.RegionProfile) *Effective {
	eff := &Effective{
		Binding:           b,
		Region:            region,
		HasCustomizations: b.HasOverrides(),
		Values:            Merge(TenantLayer(b), RegionLayer(region)),
	}
	if b != nil {
		eff.CoverageTerritories = b.CoverageTerritories
	}
	return eff
}
