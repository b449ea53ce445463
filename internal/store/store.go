// Package store persists region reference data and tenant-region bindings.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/region-engine/internal/model"
)

// ErrNotFound is returned when a binding lookup or update matches no active row.
var ErrNotFound = eris.New("store: not found")

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return eris.Is(err, ErrNotFound)
}

// RegionReader loads the four reference tables the registry caches. Only
// active rows are returned.
type RegionReader interface {
	ListRegions(ctx context.Context) ([]model.RegionProfile, error)
	ListTerritories(ctx context.Context) ([]model.Territory, error)
	ListScoreModifiers(ctx context.Context) ([]model.ScoreModifier, error)
	ListTimingPacks(ctx context.Context) ([]model.TimingPack, error)
}

// TerritoryQuerier lists a region's territories matching a pushed-down
// coverage predicate. Placeholders in clause start at $2.
type TerritoryQuerier interface {
	ListTerritoriesWhere(ctx context.Context, regionID, clause string, args []any) ([]model.Territory, error)
}

// Customizations is a partial update of a binding's overrides. Nil fields
// are written as NULL, clearing the override.
type Customizations struct {
	ScoringModifiers     *model.ModifierOverride
	SalesCycleMultiplier *float64
	PreferredChannels    []model.Channel
}

// BindingStore reads and writes tenant_region_bindings.
type BindingStore interface {
	ListBindings(ctx context.Context, tenantID string) ([]model.TenantRegionBinding, error)
	GetBinding(ctx context.Context, tenantID, regionID string) (*model.TenantRegionBinding, error)
	GetDefaultBinding(ctx context.Context, tenantID string) (*model.TenantRegionBinding, error)

	// UpsertBinding creates or reactivates the (tenant, region) binding. When
	// b.IsDefault is set the tenant's other defaults are cleared in the same
	// transaction.
	UpsertBinding(ctx context.Context, b model.TenantRegionBinding) (*model.TenantRegionBinding, error)

	// SetDefaultBinding clears is_default on every binding of the tenant and
	// sets it on (tenant, region), creating the binding if absent. Atomic.
	SetDefaultBinding(ctx context.Context, tenantID, regionID string) (*model.TenantRegionBinding, error)

	// DeactivateBinding soft-deletes the binding. Returns ErrNotFound when
	// no active binding exists.
	DeactivateBinding(ctx context.Context, tenantID, regionID string) error

	// UpdateCoverage and UpdateCustomizations never create rows.
	UpdateCoverage(ctx context.Context, tenantID, regionID string, coverage []string) (*model.TenantRegionBinding, error)
	UpdateCustomizations(ctx context.Context, tenantID, regionID string, c Customizations) (*model.TenantRegionBinding, error)
}

// Store is the full persistence surface.
type Store interface {
	RegionReader
	BindingStore
	TerritoryQuerier

	// ImportSeed upserts reference data from a seed file.
	ImportSeed(ctx context.Context, data *SeedData) error

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
