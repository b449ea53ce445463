// Package territory resolves free-form locations to territories and answers
// hierarchy, pattern and distance questions over the registry's territories.
package territory

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/region-engine/internal/metrics"
	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/registry"
)

// Confidence components.
const (
	confidenceCode       = 0.6
	confidenceName       = 0.4
	confidenceNearest    = 0.3
	confidenceUnresolved = 0.2

	bonusCodePrefix  = 0.2
	bonusExactName   = 0.2
	bonusCoordinates = 0.1
)

// DefaultNearestRadiusKm bounds the centroid fallback.
const DefaultNearestRadiusKm = 50.0

// MatchMethod records how a location was resolved.
type MatchMethod string

const (
	MethodCode    MatchMethod = "code"
	MethodName    MatchMethod = "name"
	MethodNearest MatchMethod = "nearest"
	MethodNone    MatchMethod = "none"
)

// HierarchyEntry is one node of a resolved ancestor chain.
type HierarchyEntry struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// GeoResolution is the result of resolving a location.
type GeoResolution struct {
	Resolved    bool             `json:"resolved"`
	Code        string           `json:"territory_code,omitempty"`
	Name        string           `json:"territory_name,omitempty"`
	Level       int              `json:"level,omitempty"`
	RegionID    string           `json:"region_id,omitempty"`
	Confidence  float64          `json:"confidence"`
	Hierarchy   []HierarchyEntry `json:"hierarchy"`
	Method      MatchMethod      `json:"method"`
	MatchedCode string           `json:"matched_code,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// Codes returns the hierarchy codes root first.
func (g GeoResolution) Codes() []string {
	out := make([]string, 0, len(g.Hierarchy))
	for _, h := range g.Hierarchy {
		out = append(out, h.Code)
	}
	return out
}

// Service resolves locations against the registry.
type Service struct {
	reg        *registry.Registry
	normalizer LocationNormalizer
	metrics    *metrics.Metrics
	radiusKm   float64
}

// Option configures a Service.
type Option func(*Service)

// WithNormalizer replaces the heuristic normalizer.
func WithNormalizer(n LocationNormalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

// WithMetrics records resolutions by method.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNearestRadius sets the centroid fallback radius in kilometers. Zero
// disables the fallback.
func WithNearestRadius(km float64) Option {
	return func(s *Service) { s.radiusKm = km }
}

// NewService creates a territory service.
func NewService(reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		reg:        reg,
		normalizer: NewHeuristicNormalizer(),
		radiusKm:   DefaultNearestRadiusKm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve matches loc to a territory and rolls it up to the display level of
// regionID's granularity. With no regionID the matched territory's own
// region decides. Unresolved locations return a low-confidence result with
// an empty hierarchy, never an error.
func (s *Service) Resolve(ctx context.Context, loc Location, regionID string) GeoResolution {
	target := -1
	if regionID != "" {
		region, _ := s.reg.ResolveRegion(ctx, regionID)
		target = region.Granularity.TargetLevel()
	}
	return s.resolve(ctx, loc, regionID, target)
}

// ResolveAtLevel is Resolve with an explicit target level. A level of 0
// keeps the matched specificity.
func (s *Service) ResolveAtLevel(ctx context.Context, loc Location, regionID string, level int) GeoResolution {
	return s.resolve(ctx, loc, regionID, level)
}

// resolve with target < 0 derives the level from the matched territory's region.
func (s *Service) resolve(ctx context.Context, loc Location, regionID string, target int) GeoResolution {
	if loc.IsEmpty() {
		return s.unresolved("empty location")
	}

	scopeID := ""
	if regionID != "" {
		if region, ok := s.reg.GetRegion(ctx, regionID); ok {
			scopeID = region.ID
		}
	}

	n := s.normalizer.Normalize(loc)
	t, method, conf := s.match(ctx, n, loc, scopeID)
	if t == nil {
		zap.L().Debug("territory: location unresolved", zap.String("location", loc.String()))
		return s.unresolved("no territory matched")
	}
	if loc.HasCoordinates() {
		conf += bonusCoordinates
	}

	matched := t.Code
	if target < 0 {
		target = 0
		if region, ok := s.reg.GetRegionByID(ctx, t.RegionID); ok {
			target = region.Granularity.TargetLevel()
		}
	}
	t = s.rollUp(ctx, t, target)

	s.metrics.IncResolution(string(method))
	return GeoResolution{
		Resolved:    true,
		Code:        t.Code,
		Name:        t.Name,
		Level:       t.Level,
		RegionID:    t.RegionID,
		Confidence:  math.Min(1, conf),
		Hierarchy:   s.hierarchy(ctx, t.Code),
		Method:      method,
		MatchedCode: matched,
	}
}

func (s *Service) unresolved(reason string) GeoResolution {
	s.metrics.IncResolution(string(MethodNone))
	return GeoResolution{
		Confidence: confidenceUnresolved,
		Hierarchy:  []HierarchyEntry{},
		Method:     MethodNone,
		Reason:     reason,
	}
}

// match tries composite codes most specific first, then display names, then
// the nearest centroid.
func (s *Service) match(ctx context.Context, n Normalized, loc Location, scopeID string) (*model.Territory, MatchMethod, float64) {
	for i, code := range n.Codes() {
		t, ok := s.reg.GetTerritoryByCode(ctx, code)
		if !ok || !inScope(t, scopeID) {
			continue
		}
		conf := confidenceCode
		if i == 0 && len(strings.Split(code, "-")) == n.Components() {
			conf += bonusCodePrefix
		}
		if hasExactName(n.Tokens, t.Name) {
			conf += bonusExactName
		}
		return t, MethodCode, conf
	}

	if t, exact := s.matchName(ctx, n.Tokens, scopeID); t != nil {
		conf := confidenceName
		if exact {
			conf += bonusExactName
		}
		return t, MethodName, conf
	}

	if loc.HasCoordinates() && s.radiusKm > 0 {
		if t := s.nearest(ctx, *loc.Latitude, *loc.Longitude, scopeID); t != nil {
			return t, MethodNearest, confidenceNearest
		}
	}
	return nil, MethodNone, 0
}

// matchName prefers exact name matches, then deeper levels, then longer names.
func (s *Service) matchName(ctx context.Context, tokens []string, scopeID string) (*model.Territory, bool) {
	if len(tokens) == 0 {
		return nil, false
	}
	text := " " + strings.Join(tokens, " ") + " "

	var best *model.Territory
	bestExact := false
	for _, t := range s.candidates(ctx, scopeID) {
		name := Fold(t.Name)
		if name == "" {
			continue
		}
		exact := hasExactName(tokens, t.Name)
		hit := exact || strings.Contains(text, " "+name+" ")
		if !hit {
			for _, tok := range tokens {
				if len(tok) >= 3 && strings.Contains(" "+name+" ", " "+tok+" ") {
					hit = true
					break
				}
			}
		}
		if !hit {
			continue
		}
		if best == nil || better(t, exact, best, bestExact) {
			best, bestExact = t, exact
		}
	}
	return best, bestExact
}

func better(t *model.Territory, exact bool, cur *model.Territory, curExact bool) bool {
	if exact != curExact {
		return exact
	}
	if t.Level != cur.Level {
		return t.Level > cur.Level
	}
	return len(t.Name) > len(cur.Name)
}

func (s *Service) nearest(ctx context.Context, lat, lon float64, scopeID string) *model.Territory {
	origin := geom.NewPointFlat(geom.XY, []float64{lon, lat})
	var best *model.Territory
	bestKm := math.Inf(1)
	for _, t := range s.candidates(ctx, scopeID) {
		c := t.Centroid()
		if c == nil {
			continue
		}
		km := PointDistanceKm(origin, c)
		if km < bestKm || (km == bestKm && best != nil && t.Level > best.Level) {
			best, bestKm = t, km
		}
	}
	if best == nil || bestKm > s.radiusKm {
		return nil
	}
	return best
}

func (s *Service) candidates(ctx context.Context, scopeID string) []*model.Territory {
	if scopeID != "" {
		return s.reg.GetTerritoriesByRegion(ctx, scopeID)
	}
	return s.reg.GetAllTerritories(ctx)
}

// rollUp walks parents until the level is at or above target. It never
// descends.
func (s *Service) rollUp(ctx context.Context, t *model.Territory, target int) *model.Territory {
	if target <= 0 || t.Level <= target {
		return t
	}
	chain := s.reg.GetTerritoryHierarchy(ctx, t.Code)
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Level <= target {
			return chain[i]
		}
	}
	return t
}

func (s *Service) hierarchy(ctx context.Context, code string) []HierarchyEntry {
	chain := s.reg.GetTerritoryHierarchy(ctx, code)
	out := make([]HierarchyEntry, 0, len(chain))
	for _, t := range chain {
		out = append(out, HierarchyEntry{Code: t.Code, Name: t.Name, Level: t.Level})
	}
	return out
}

// hierarchyCodes returns the ancestor codes of code, root first. Codes the
// registry does not know are split on '-' instead.
func (s *Service) hierarchyCodes(ctx context.Context, code string) []string {
	code = model.NormalizeCode(code)
	if chain := s.reg.GetTerritoryHierarchy(ctx, code); len(chain) > 0 {
		out := make([]string, 0, len(chain))
		for _, t := range chain {
			out = append(out, t.Code)
		}
		return out
	}
	if code == "" {
		return nil
	}
	parts := strings.Split(code, "-")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "-"))
	}
	return out
}

// GetParentTerritory returns the parent of code.
func (s *Service) GetParentTerritory(ctx context.Context, code string) (*model.Territory, bool) {
	t, ok := s.reg.GetTerritoryByCode(ctx, code)
	if !ok || t.ParentID == "" {
		return nil, false
	}
	return s.reg.GetTerritoryByID(ctx, t.ParentID)
}

// GetChildTerritories returns the direct children of code.
func (s *Service) GetChildTerritories(ctx context.Context, code string) []*model.Territory {
	return s.reg.GetChildTerritories(ctx, code)
}

// GetTerritoriesAtLevel returns a region's territories at one level, ordered
// by code.
func (s *Service) GetTerritoriesAtLevel(ctx context.Context, regionID string, level int) []*model.Territory {
	var out []*model.Territory
	for _, t := range s.reg.GetTerritoriesByRegion(ctx, regionID) {
		if t.Level == level {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// MatchTerritoryPattern reports whether code satisfies pattern: an exact
// match, a trailing-wildcard prefix ("US-*") or an ancestor of code.
func (s *Service) MatchTerritoryPattern(ctx context.Context, code, pattern string) bool {
	code = model.NormalizeCode(code)
	pattern = model.NormalizeCode(pattern)
	if code == "" || pattern == "" {
		return false
	}
	if code == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(code, prefix)
	}
	for _, anc := range s.hierarchyCodes(ctx, code) {
		if anc == pattern {
			return true
		}
	}
	return false
}

// CalculateTerritoryDistance returns 0 for the same territory, a value in
// (0, 1) for territories sharing an ancestor, and 1 for unrelated ones. The
// combined depth below the lowest common ancestor is normalized by the
// deepest possible pair.
func (s *Service) CalculateTerritoryDistance(ctx context.Context, a, b string) float64 {
	ha := s.hierarchyCodes(ctx, a)
	hb := s.hierarchyCodes(ctx, b)
	if len(ha) == 0 || len(hb) == 0 {
		return 1
	}

	lca := -1
	for i := 0; i < len(ha) && i < len(hb); i++ {
		if ha[i] != hb[i] {
			break
		}
		lca = i
	}
	if lca < 0 {
		return 1
	}

	depth := (len(ha) - 1 - lca) + (len(hb) - 1 - lca)
	return math.Min(1, float64(depth)/float64(2*model.LevelCity))
}

func inScope(t *model.Territory, scopeID string) bool {
	return scopeID == "" || t.RegionID == scopeID
}

func hasExactName(tokens []string, name string) bool {
	folded := Fold(name)
	for _, tok := range tokens {
		if tok == folded {
			return true
		}
	}
	return false
}
