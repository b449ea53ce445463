// Package registry caches region reference data. Every other component reads
// regions, territories, score modifiers and timing packs through a Registry.
package registry

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/region-engine/internal/metrics"
	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/resilience"
	"github.com/sells-group/region-engine/internal/store"
)

// DefaultTTL is how long a loaded snapshot is served before a read reloads it.
const DefaultTTL = time.Hour

// Registry holds the current snapshot behind an atomic pointer. Reads check
// staleness and reload lazily; a reload builds a complete new snapshot and
// swaps it in, so readers never see indexes from two generations.
type Registry struct {
	loader      store.RegionReader
	ttl         time.Duration
	defaultCode string
	now         func() time.Time
	retry       resilience.RetryConfig
	breakers    *resilience.Breakers
	metrics     *metrics.Metrics

	snap   atomic.Pointer[snapshot]
	reload singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the snapshot lifetime. Non-positive values keep DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithDefaultRegionCode sets the code GetDefaultRegion looks up.
func WithDefaultRegionCode(code string) Option {
	return func(r *Registry) {
		if c := model.NormalizeCode(code); c != "" {
			r.defaultCode = c
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRetry sets the retry policy applied to reloads.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Registry) { r.retry = cfg }
}

// WithBreakers guards each table read with its own breaker so a down store
// is not hit on every stale read.
func WithBreakers(b *resilience.Breakers) Option {
	return func(r *Registry) { r.breakers = b }
}

// WithMetrics records reloads and snapshot sizes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates a Registry. Nothing is loaded until Initialize or the first read.
func New(loader store.RegionReader, opts ...Option) *Registry {
	r := &Registry{
		loader:      loader,
		ttl:         DefaultTTL,
		defaultCode: model.FallbackRegionCode,
		now:         time.Now,
		retry:       resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry.OnRetry == nil {
		r.retry.OnRetry = resilience.RetryLogger("registry", "reload")
	}
	return r
}

// Initialize loads the reference tables unless a fresh snapshot is already
// published. Store errors propagate.
func (r *Registry) Initialize(ctx context.Context) error {
	if s := r.snap.Load(); s != nil && !r.isStale(s) {
		return nil
	}
	_, err := r.load(ctx)
	return err
}

// Refresh forces a reload. Store errors propagate and the previous snapshot
// stays published.
func (r *Registry) Refresh(ctx context.Context) error {
	_, err := r.load(ctx)
	return err
}

func (r *Registry) isStale(s *snapshot) bool {
	return r.now().Sub(s.loadedAt) > r.ttl
}

// current returns the snapshot a read should use, reloading first when it is
// stale. A failed reload serves the stale snapshot; with nothing loaded yet
// an empty snapshot is returned and the error logged.
func (r *Registry) current(ctx context.Context) *snapshot {
	s := r.snap.Load()
	if s != nil && !r.isStale(s) {
		return s
	}
	fresh, err := r.load(ctx)
	if err == nil {
		return fresh
	}
	if s != nil {
		zap.L().Warn("registry: reload failed, serving stale snapshot",
			zap.Time("loaded_at", s.loadedAt),
			zap.Error(err),
		)
		r.metrics.IncStaleServed()
		return s
	}
	zap.L().Error("registry: no snapshot available", zap.Error(err))
	return emptySnapshot()
}

// load collapses concurrent reloads into one store round-trip and publishes
// the result.
func (r *Registry) load(ctx context.Context) (*snapshot, error) {
	v, err, _ := r.reload.Do("reload", func() (any, error) {
		start := time.Now()
		s, err := resilience.DoVal(ctx, r.retry, r.fetch)
		r.metrics.ObserveRefresh(start, err)
		if err != nil {
			return nil, err
		}
		r.snap.Store(s)
		r.metrics.SetEntityCounts(len(s.regions), len(s.territories), len(s.modifiers), len(s.packs))
		zap.L().Info("registry: snapshot loaded",
			zap.Int("regions", len(s.regions)),
			zap.Int("territories", len(s.territories)),
			zap.Int("score_modifiers", len(s.modifiers)),
			zap.Int("timing_packs", len(s.packs)),
			zap.Duration("duration", time.Since(start)),
		)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

// Reference tables, also the breaker names.
const (
	tableRegions     = "regions"
	tableTerritories = "territories"
	tableModifiers   = "score_modifiers"
	tablePacks       = "timing_packs"
)

// fetch reads the four tables concurrently and builds a snapshot.
func (r *Registry) fetch(ctx context.Context) (*snapshot, error) {
	var (
		regions     []model.RegionProfile
		territories []model.Territory
		modifiers   []model.ScoreModifier
		packs       []model.TimingPack
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		regions, err = readTable(gctx, r.breakers, tableRegions, r.loader.ListRegions)
		return err
	})
	g.Go(func() (err error) {
		territories, err = readTable(gctx, r.breakers, tableTerritories, r.loader.ListTerritories)
		return err
	})
	g.Go(func() (err error) {
		modifiers, err = readTable(gctx, r.breakers, tableModifiers, r.loader.ListScoreModifiers)
		return err
	})
	g.Go(func() (err error) {
		packs, err = readTable(gctx, r.breakers, tablePacks, r.loader.ListTimingPacks)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return buildSnapshot(r.now(), regions, territories, modifiers, packs), nil
}

func readTable[T any](ctx context.Context, b *resilience.Breakers, table string, list func(context.Context) ([]T, error)) ([]T, error) {
	rows, err := resilience.ExecuteVal(ctx, b.For(table), list)
	return rows, eris.Wrapf(err, "registry: load %s", table)
}

// BreakerStatus reports the per-table store breakers.
func (r *Registry) BreakerStatus() []resilience.BreakerStatus {
	return r.breakers.Status()
}

// --- Regions ---

// GetRegionByCode looks up a region by code, case-insensitively.
func (r *Registry) GetRegionByCode(ctx context.Context, code string) (*model.RegionProfile, bool) {
	reg, ok := r.current(ctx).regionByKey[model.NormalizeCode(code)]
	return reg, ok
}

// GetRegionByID looks up a region by ID.
func (r *Registry) GetRegionByID(ctx context.Context, id string) (*model.RegionProfile, bool) {
	reg, ok := r.current(ctx).regionByKey[id]
	return reg, ok
}

// GetRegion accepts either an ID or a code.
func (r *Registry) GetRegion(ctx context.Context, idOrCode string) (*model.RegionProfile, bool) {
	reg := r.current(ctx).region(idOrCode)
	return reg, reg != nil
}

// GetRegionsByCountry returns the regions whose country code matches.
func (r *Registry) GetRegionsByCountry(ctx context.Context, countryCode string) []*model.RegionProfile {
	return slices.Clone(r.current(ctx).regionsByCtry[model.NormalizeCode(countryCode)])
}

// GetAllRegions returns every active region ordered by code.
func (r *Registry) GetAllRegions(ctx context.Context) []*model.RegionProfile {
	return slices.Clone(r.current(ctx).regions)
}

// GetDefaultRegion returns the configured default region, or a synthetic
// neutral region when none is configured. It never returns nil.
func (r *Registry) GetDefaultRegion(ctx context.Context) *model.RegionProfile {
	if reg, ok := r.current(ctx).regionByKey[r.defaultCode]; ok {
		return reg
	}
	zap.L().Debug("registry: default region not configured, using synthetic",
		zap.String("region_code", r.defaultCode))
	return model.SyntheticRegion(r.defaultCode)
}

// ResolveRegion returns the region for idOrCode, falling back to the default
// region. The bool reports whether idOrCode matched.
func (r *Registry) ResolveRegion(ctx context.Context, idOrCode string) (*model.RegionProfile, bool) {
	if idOrCode != "" {
		if reg, ok := r.GetRegion(ctx, idOrCode); ok {
			return reg, true
		}
		zap.L().Debug("registry: unknown region, using default", zap.String("region", idOrCode))
	}
	return r.GetDefaultRegion(ctx), false
}

// --- Territories ---

// GetTerritoryByCode looks up a territory by code, case-insensitively.
func (r *Registry) GetTerritoryByCode(ctx context.Context, code string) (*model.Territory, bool) {
	t, ok := r.current(ctx).territoryCode[model.NormalizeCode(code)]
	return t, ok
}

// GetTerritoryByID looks up a territory by ID.
func (r *Registry) GetTerritoryByID(ctx context.Context, id string) (*model.Territory, bool) {
	t, ok := r.current(ctx).territoryID[id]
	return t, ok
}

// GetTerritoriesByRegion returns a region's territories ordered by level then
// code. regionID may also be a region code.
func (r *Registry) GetTerritoriesByRegion(ctx context.Context, regionID string) []*model.Territory {
	s := r.current(ctx)
	return slices.Clone(s.regionTerrs[s.regionID(regionID)])
}

// GetAllTerritories returns every active territory ordered by level then code.
func (r *Registry) GetAllTerritories(ctx context.Context) []*model.Territory {
	return slices.Clone(r.current(ctx).territories)
}

// GetChildTerritories returns the direct children of the territory with code.
func (r *Registry) GetChildTerritories(ctx context.Context, code string) []*model.Territory {
	s := r.current(ctx)
	t, ok := s.territoryCode[model.NormalizeCode(code)]
	if !ok {
		return nil
	}
	return slices.Clone(s.childrenByID[t.ID])
}

// GetTerritoryHierarchy returns the ancestor chain of code, root first,
// ending with the territory itself. The walk stops at a missing parent, a
// repeated node or a parent whose level is not strictly lower, so it always
// terminates with strictly increasing levels.
func (r *Registry) GetTerritoryHierarchy(ctx context.Context, code string) []*model.Territory {
	s := r.current(ctx)
	t, ok := s.territoryCode[model.NormalizeCode(code)]
	if !ok {
		return nil
	}

	chain := []*model.Territory{t}
	seen := map[string]bool{t.ID: true}
	for cur := t; cur.ParentID != ""; {
		parent, ok := s.territoryID[cur.ParentID]
		if !ok || seen[parent.ID] || parent.Level >= cur.Level {
			if ok {
				zap.L().Warn("registry: broken territory parent chain",
					zap.String("territory", cur.Code),
					zap.String("parent", parent.Code))
			}
			break
		}
		seen[parent.ID] = true
		chain = append(chain, parent)
		cur = parent
	}
	slices.Reverse(chain)
	return chain
}

// --- Score modifiers ---

// ModifierSource records which fallback level supplied a modifier set.
type ModifierSource string

const (
	ModifierSourceVertical      ModifierSource = "vertical"
	ModifierSourceRegionDefault ModifierSource = "region_default"
	ModifierSourceNeutral       ModifierSource = "neutral"
)

// ModifierLookup is the result of GetScoreModifiers.
type ModifierLookup struct {
	Modifiers        model.Modifiers      `json:"modifiers"`
	StakeholderDepth int                  `json:"stakeholder_depth"`
	Source           ModifierSource       `json:"source"`
	Row              *model.ScoreModifier `json:"-"`
}

// GetScoreModifiers resolves vertical row, then the region default row
// (empty vertical), then the neutral tuple. The returned modifiers are
// clamped. Stakeholder depth falls back to the region's expected depth.
func (r *Registry) GetScoreModifiers(ctx context.Context, regionID, verticalID string) ModifierLookup {
	s := r.current(ctx)
	region := s.region(regionID)
	byVertical := s.modByRegion[s.regionID(regionID)]

	if v := verticalKey(verticalID); v != "" {
		if m, ok := byVertical[v]; ok {
			return lookupFromRow(m, ModifierSourceVertical)
		}
	}
	if m, ok := byVertical[""]; ok {
		return lookupFromRow(m, ModifierSourceRegionDefault)
	}

	code := ""
	if region != nil {
		code = region.Code
	}
	return ModifierLookup{
		Modifiers:        model.NeutralModifiers(),
		StakeholderDepth: model.StakeholderDepthFallback(code),
		Source:           ModifierSourceNeutral,
	}
}

// GetVerticalModifier returns only a vertical-specific row, with no fallback.
func (r *Registry) GetVerticalModifier(ctx context.Context, regionID, verticalID string) (*model.ScoreModifier, bool) {
	v := verticalKey(verticalID)
	if v == "" {
		return nil, false
	}
	s := r.current(ctx)
	m, ok := s.modByRegion[s.regionID(regionID)][v]
	return m, ok
}

func lookupFromRow(m *model.ScoreModifier, src ModifierSource) ModifierLookup {
	return ModifierLookup{
		Modifiers:        m.Modifiers.Clamp(),
		StakeholderDepth: m.StakeholderDepthNorm,
		Source:           src,
		Row:              m,
	}
}

// --- Timing packs ---

// GetTimingPack resolves the named pack, then the region's default pack,
// then the global hard-coded pack. It never returns nil.
func (r *Registry) GetTimingPack(ctx context.Context, regionID, packName string) *model.TimingPack {
	s := r.current(ctx)
	byName := s.packsByRegion[s.regionID(regionID)]

	if n := packKey(packName); n != "" {
		if p, ok := byName[n]; ok {
			return p
		}
	}
	if p, ok := byName[model.DefaultPackName]; ok {
		return p
	}
	return model.DefaultTimingPack()
}

// --- Introspection ---

// Stats describes the published snapshot.
type Stats struct {
	Loaded         bool          `json:"loaded"`
	LoadedAt       time.Time     `json:"loaded_at"`
	Stale          bool          `json:"stale"`
	TTL            time.Duration `json:"ttl"`
	Regions        int           `json:"regions"`
	Territories    int           `json:"territories"`
	ScoreModifiers int           `json:"score_modifiers"`
	TimingPacks    int           `json:"timing_packs"`
}

// Stats reports on the published snapshot without triggering a reload.
func (r *Registry) Stats() Stats {
	s := r.snap.Load()
	if s == nil {
		return Stats{TTL: r.ttl}
	}
	return Stats{
		Loaded:         true,
		LoadedAt:       s.loadedAt,
		Stale:          r.isStale(s),
		TTL:            r.ttl,
		Regions:        len(s.regions),
		Territories:    len(s.territories),
		ScoreModifiers: len(s.modifiers),
		TimingPacks:    len(s.packs),
	}
}

// Export is a deterministic dump of the snapshot's contents.
type Export struct {
	Regions        []model.RegionProfile `json:"regions"`
	Territories    []model.Territory     `json:"territories"`
	ScoreModifiers []model.ScoreModifier `json:"score_modifiers"`
	TimingPacks    []model.TimingPack    `json:"timing_packs"`
}

// Export returns the current snapshot's rows in index order.
func (r *Registry) Export(ctx context.Context) Export {
	s := r.current(ctx)
	return Export{
		Regions:        deref(s.regions),
		Territories:    deref(s.territories),
		ScoreModifiers: deref(s.modifiers),
		TimingPacks:    deref(s.packs),
	}
}

func deref[T any](in []*T) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		out = append(out, *v)
	}
	return out
}
