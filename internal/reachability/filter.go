// Package reachability decides whether entities fall inside a tenant's
// region coverage.
package reachability

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/region-engine/internal/metrics"
	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/tenantregion"
	"github.com/sells-group/region-engine/internal/territory"
)

// Defaults.
const (
	DefaultMaxOffsetHours   = 6.0
	DefaultWorkdayHours     = model.DefaultWorkdayHours
	DefaultBatchConcurrency = 8
)

// Reason explains a reachability decision.
type Reason string

const (
	ReasonNoLocation   Reason = "no_location"
	ReasonNoBinding    Reason = "no_binding"
	ReasonFullCoverage Reason = "full_coverage"
	ReasonUnresolved   Reason = "location_unresolved"
	ReasonCovered      Reason = "covered"
	ReasonNotCovered   Reason = "not_covered"
	ReasonTimezone     Reason = "timezone_offset"
)

// Request is a single reachability check.
type Request struct {
	TenantID string             `json:"tenant_id"`
	RegionID string             `json:"region_id"`
	Location territory.Location `json:"location"`
}

// Result is the outcome of a reachability check.
type Result struct {
	Reachable          bool     `json:"reachable"`
	Reason             Reason   `json:"reason"`
	Territory          string   `json:"territory,omitempty"`
	Hierarchy          []string `json:"hierarchy,omitempty"`
	MatchedTerritories []string `json:"matched_territories,omitempty"`
	DistanceScore      float64  `json:"distance_score"`
	Confidence         float64  `json:"confidence"`
}

// BindingFinder looks up a tenant binding and matches codes against coverage.
type BindingFinder interface {
	FindBinding(ctx context.Context, tenantID, regionID string) (*tenantregion.Effective, bool, error)
}

// Filter applies coverage policy to entities.
type Filter struct {
	territories *territory.Service
	bindings    BindingFinder
	metrics     *metrics.Metrics

	maxOffsetHours float64
	workdayHours   float64
	concurrency    int
	now            func() time.Time
}

// Option configures a Filter.
type Option func(*Filter)

// WithMaxOffsetHours sets the default timezone threshold.
func WithMaxOffsetHours(h float64) Option {
	return func(f *Filter) {
		if h > 0 {
			f.maxOffsetHours = h
		}
	}
}

// WithWorkdayHours sets the workday length used for overlap.
func WithWorkdayHours(h float64) Option {
	return func(f *Filter) {
		if h > 0 {
			f.workdayHours = h
		}
	}
}

// WithConcurrency bounds batch fan-out. 1 runs sequentially.
func WithConcurrency(n int) Option {
	return func(f *Filter) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithClock overrides time.Now for timezone checks.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// WithMetrics records decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// NewFilter creates a reachability filter.
func NewFilter(territories *territory.Service, bindings BindingFinder, opts ...Option) *Filter {
	f := &Filter{
		territories:    territories,
		bindings:       bindings,
		maxOffsetHours: DefaultMaxOffsetHours,
		workdayHours:   DefaultWorkdayHours,
		concurrency:    DefaultBatchConcurrency,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CheckReachability decides one entity. Missing data fails open; only store
// errors are returned.
func (f *Filter) CheckReachability(ctx context.Context, req Request) (Result, error) {
	if req.Location.IsEmpty() {
		return f.record(Result{Reachable: true, Reason: ReasonNoLocation}), nil
	}
	binding, err := f.binding(ctx, req.TenantID, req.RegionID)
	if err != nil {
		return Result{}, err
	}
	return f.check(ctx, req, binding), nil
}

// CheckWithBinding decides one entity against an already resolved binding.
// A nil binding means the tenant is unbound.
func (f *Filter) CheckWithBinding(ctx context.Context, req Request, binding *tenantregion.Effective) Result {
	return f.check(ctx, req, binding)
}

func (f *Filter) binding(ctx context.Context, tenantID, regionID string) (*tenantregion.Effective, error) {
	if tenantID == "" || regionID == "" || f.bindings == nil {
		return nil, nil
	}
	b, ok, err := f.bindings.FindBinding(ctx, tenantID, regionID)
	if eris.Is(err, tenantregion.ErrRegionNotFound) {
		zap.L().Debug("reachability: unknown region, treating as unbound",
			zap.String("tenant_id", tenantID),
			zap.String("region_id", regionID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "reachability: find binding")
	}
	if !ok {
		return nil, nil
	}
	return b, nil
}

func (f *Filter) check(ctx context.Context, req Request, binding *tenantregion.Effective) Result {
	if req.Location.IsEmpty() {
		return f.record(Result{Reachable: true, Reason: ReasonNoLocation})
	}
	if binding == nil {
		return f.record(Result{Reachable: true, Reason: ReasonNoBinding})
	}
	if binding.FullCoverage() {
		return f.record(Result{Reachable: true, Reason: ReasonFullCoverage})
	}

	geo := f.territories.ResolveAtLevel(ctx, req.Location, binding.Region.ID, 0)
	if !geo.Resolved {
		// Entities outside the bound region still resolve elsewhere so they
		// score as unrelated instead of failing open.
		geo = f.territories.ResolveAtLevel(ctx, req.Location, "", 0)
	}
	if !geo.Resolved {
		zap.L().Debug("reachability: location unresolved, failing open",
			zap.String("tenant_id", req.TenantID),
			zap.String("location", req.Location.String()),
		)
		return f.record(Result{Reachable: true, Reason: ReasonUnresolved, Confidence: geo.Confidence})
	}

	res := Result{
		Territory:  geo.Code,
		Hierarchy:  geo.Codes(),
		Confidence: geo.Confidence,
	}
	for _, pattern := range binding.CoverageTerritories {
		if f.territories.MatchTerritoryPattern(ctx, geo.Code, pattern) {
			res.MatchedTerritories = append(res.MatchedTerritories, pattern)
		}
	}
	if len(res.MatchedTerritories) > 0 {
		res.Reachable = true
		res.Reason = ReasonCovered
		return f.record(res)
	}

	res.Reason = ReasonNotCovered
	res.DistanceScore = 1
	for _, c := range binding.CoverageTerritories {
		if strings.Contains(c, "*") {
			continue
		}
		res.DistanceScore = math.Min(res.DistanceScore, f.territories.CalculateTerritoryDistance(ctx, geo.Code, c))
	}
	return f.record(res)
}

func (f *Filter) record(r Result) Result {
	f.metrics.IncReachability(r.Reachable)
	return r
}

// Entity is an item handed to FilterEntities.
type Entity struct {
	ID       string             `json:"id"`
	Location territory.Location `json:"location"`
	Timezone string             `json:"timezone,omitempty"`
}

// Decision pairs an entity with its result.
type Decision struct {
	Entity   Entity          `json:"entity"`
	Result   Result          `json:"result"`
	Timezone *TimezoneResult `json:"timezone,omitempty"`
}

// FilterOptions scope a batch.
type FilterOptions struct {
	TenantID string
	RegionID string

	// SalesTimezone enables the timezone check for entities with a Timezone.
	SalesTimezone  string
	MaxOffsetHours float64
}

// Stats counts a batch's buckets.
type Stats struct {
	Total       int `json:"total"`
	Reachable   int `json:"reachable"`
	Unreachable int `json:"unreachable"`
	Unknown     int `json:"unknown"`
	NoLocation  int `json:"no_location"`
}

// FilterResult buckets a batch. Each bucket keeps input order.
type FilterResult struct {
	Reachable   []Decision `json:"reachable"`
	Unreachable []Decision `json:"unreachable"`
	Unknown     []Decision `json:"unknown"`
	Stats       Stats      `json:"stats"`
}

// FilterEntities checks a batch with bounded fan-out. Unreachable entities
// related to a covered territory (distance < 1) land in Unreachable; those
// with no relation land in Unknown.
func (f *Filter) FilterEntities(ctx context.Context, entities []Entity, opts FilterOptions) (FilterResult, error) {
	binding, err := f.binding(ctx, opts.TenantID, opts.RegionID)
	if err != nil {
		return FilterResult{}, err
	}

	decisions := make([]Decision, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, e := range entities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			req := Request{TenantID: opts.TenantID, RegionID: opts.RegionID, Location: e.Location}
			d := Decision{Entity: e, Result: f.check(gctx, req, binding)}
			if opts.SalesTimezone != "" && e.Timezone != "" {
				tz := f.CheckTimezoneReachability(e.Timezone, opts.SalesTimezone, opts.MaxOffsetHours)
				d.Timezone = &tz
				if d.Result.Reachable && !tz.Reachable {
					d.Result.Reachable = false
					d.Result.Reason = ReasonTimezone
				}
			}
			decisions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FilterResult{}, eris.Wrap(err, "reachability: filter entities")
	}

	out := FilterResult{Stats: Stats{Total: len(entities)}}
	for _, d := range decisions {
		if d.Result.Reason == ReasonNoLocation {
			out.Stats.NoLocation++
		}
		switch {
		case d.Result.Reachable:
			out.Reachable = append(out.Reachable, d)
			out.Stats.Reachable++
		case d.Result.Reason == ReasonTimezone || d.Result.DistanceScore < 1:
			out.Unreachable = append(out.Unreachable, d)
			out.Stats.Unreachable++
		default:
			out.Unknown = append(out.Unknown, d)
			out.Stats.Unknown++
		}
	}

	zap.L().Debug("reachability: filtered entities",
		zap.String("tenant_id", opts.TenantID),
		zap.String("region_id", opts.RegionID),
		zap.Int("total", out.Stats.Total),
		zap.Int("reachable", out.Stats.Reachable),
		zap.Int("unreachable", out.Stats.Unreachable),
		zap.Int("unknown", out.Stats.Unknown),
	)
	return out, nil
}
