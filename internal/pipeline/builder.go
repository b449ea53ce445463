// Package pipeline builds the per-request region context that downstream
// scoring, filtering and outreach steps consume.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/region-engine/internal/metrics"
	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/reachability"
	"github.com/sells-group/region-engine/internal/registry"
	"github.com/sells-group/region-engine/internal/scorer"
	"github.com/sells-group/region-engine/internal/tenantregion"
	"github.com/sells-group/region-engine/internal/territory"
	"github.com/sells-group/region-engine/internal/timing"
)

// TenantBindings is the slice of the tenant-region service the builder needs.
type TenantBindings interface {
	GetDefaultRegion(ctx context.Context, tenantID string) (*tenantregion.Effective, error)
	FindBinding(ctx context.Context, tenantID, regionID string) (*tenantregion.Effective, bool, error)
}

// Deps are the services a Builder composes. Registry is required; nil
// services are constructed from the registry with default settings.
type Deps struct {
	Registry    *registry.Registry
	Territories *territory.Service
	Tenants     TenantBindings
	Filter      *reachability.Filter
	Scorer      *scorer.Service
	Timing      *timing.Service
	Metrics     *metrics.Metrics
}

// Request is one pipeline request. Every field is optional.
type Request struct {
	TenantID   string             `json:"tenant_id"`
	RegionCode string             `json:"region_code"`
	VerticalID string             `json:"vertical_id"`
	Location   territory.Location `json:"location"`
	TimingPack string             `json:"timing_pack"`
}

// Builder assembles RegionContexts.
type Builder struct {
	reg         *registry.Registry
	territories *territory.Service
	tenants     TenantBindings
	filter      *reachability.Filter
	scorer      *scorer.Service
	timing      *timing.Service
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides time.Now for contexts built by the Builder.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// New creates a Builder.
func New(d Deps, opts ...Option) (*Builder, error) {
	if d.Registry == nil {
		return nil, eris.New("pipeline: registry is required")
	}
	b := &Builder{
		reg:         d.Registry,
		territories: d.Territories,
		tenants:     d.Tenants,
		filter:      d.Filter,
		scorer:      d.Scorer,
		timing:      d.Timing,
		metrics:     d.Metrics,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.territories == nil {
		b.territories = territory.NewService(b.reg, territory.WithMetrics(b.metrics))
	}
	if b.filter == nil {
		b.filter = reachability.NewFilter(b.territories, b.tenants, reachability.WithMetrics(b.metrics))
	}
	if b.scorer == nil {
		s, err := scorer.NewService(b.reg, b.tenants)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: scorer")
		}
		b.scorer = s
	}
	if b.timing == nil {
		b.timing = timing.NewService(b.reg)
	}
	return b, nil
}

// BuildRegionPipelineContext resolves the request's region and composes its
// modifiers, timing pack, binding and territory. The region comes from the
// first source that yields one: explicit code, location inference, tenant
// default, system default. Missing data fails open; only store errors are
// returned.
func (b *Builder) BuildRegionPipelineContext(ctx context.Context, req Request) (*RegionContext, error) {
	start := time.Now()
	log := zap.L().With(zap.String("tenant_id", req.TenantID), zap.String("region_code", req.RegionCode))

	var notes []string
	region, prov, binding, err := b.resolveRegion(ctx, req, &notes)
	if err != nil {
		return nil, err
	}

	if binding == nil && req.TenantID != "" && b.tenants != nil && !region.Synthetic {
		eff, ok, err := b.tenants.FindBinding(ctx, req.TenantID, region.ID)
		switch {
		case eris.Is(err, tenantregion.ErrRegionNotFound):
			notes = append(notes, "region not bindable")
		case err != nil:
			return nil, eris.Wrap(err, "pipeline: find binding")
		case ok:
			binding = eff
		default:
			notes = append(notes, "tenant not bound to region")
		}
	}

	rc := &RegionContext{
		TenantID:   req.TenantID,
		VerticalID: req.VerticalID,
		Region:     region,
		Provenance: prov,
		Binding:    binding,
		Location:   req.Location,
		BuiltAt:    b.now(),
		filter:     b.filter,
		now:        b.now,
	}

	if !req.Location.IsEmpty() {
		geo := b.territories.Resolve(ctx, req.Location, region.ID)
		rc.Territory = &geo
		if !geo.Resolved {
			notes = append(notes, "location unresolved")
		}
	}

	rc.Scoring = b.scorer.ComposeFor(ctx, region, binding, req.VerticalID)

	eff := binding
	if eff == nil {
		eff = tenantregion.Compose(nil, region)
	}
	rc.SalesCycleMultiplier = eff.SalesCycleMultiplier
	if rc.SalesCycleMultiplier <= 0 {
		rc.SalesCycleMultiplier = 1
	}
	rc.PreferredChannels = eff.PreferredChannels

	rc.window, _ = b.timing.WindowFor(ctx, region.ID, req.TimingPack)
	rc.TimingPack = rc.window.Pack
	rc.Notes = notes

	b.metrics.ObserveContextBuild(start, string(prov))
	log.Debug("pipeline: built region context",
		zap.String("region_id", region.ID),
		zap.String("provenance", string(prov)),
		zap.Bool("bound", binding != nil),
		zap.Duration("duration", time.Since(start)),
	)
	return rc, nil
}

func (b *Builder) resolveRegion(ctx context.Context, req Request, notes *[]string) (*model.RegionProfile, model.Provenance, *tenantregion.Effective, error) {
	if code := strings.TrimSpace(req.RegionCode); code != "" {
		if r, ok := b.reg.GetRegion(ctx, code); ok {
			return r, model.ProvenanceExplicit, nil, nil
		}
		*notes = append(*notes, fmt.Sprintf("unknown region code %q", code))
	}

	if !req.Location.IsEmpty() {
		geo := b.territories.Resolve(ctx, req.Location, "")
		if geo.Resolved {
			if r, ok := b.reg.GetRegionByID(ctx, geo.RegionID); ok {
				return r, model.ProvenanceInferred, nil, nil
			}
		}
		*notes = append(*notes, "region not inferable from location")
	}

	if req.TenantID != "" && b.tenants != nil {
		eff, err := b.tenants.GetDefaultRegion(ctx, req.TenantID)
		switch {
		case err == nil:
			return eff.Region, model.ProvenanceTenantDefault, eff, nil
		case tenantregion.IsNotFound(err):
			*notes = append(*notes, "tenant has no default region")
		default:
			return nil, "", nil, eris.Wrap(err, "pipeline: tenant default region")
		}
	}

	return b.reg.GetDefaultRegion(ctx), model.ProvenanceSystemDefault, nil, nil
}
