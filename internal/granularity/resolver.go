// Package granularity resolves locations to the display level a region
// works at and formats them for people.
package granularity

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/registry"
	"github.com/sells-group/region-engine/internal/territory"
)

// UnknownKey groups entities whose location did not resolve.
const UnknownKey = "UNKNOWN"

// DefaultConcurrency bounds ResolveMultiple fan-out.
const DefaultConcurrency = 8

// Formatted holds the display variants of a resolved hierarchy.
type Formatted struct {
	Short   string `json:"short"`
	Medium  string `json:"medium"`
	Long    string `json:"long"`
	Display string `json:"display"`
}

// Result is a location resolved at a region's granularity.
type Result struct {
	Resolved    bool                    `json:"resolved"`
	Granularity model.Granularity       `json:"granularity"`
	Key         string                  `json:"key"`
	Formatted   Formatted               `json:"formatted"`
	Confidence  float64                 `json:"confidence"`
	Geo         territory.GeoResolution `json:"geo"`
}

// Entity is an item with a location.
type Entity struct {
	ID       string             `json:"id"`
	Location territory.Location `json:"location"`
}

// Group is one bucket of GroupByGranularity.
type Group struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Entities []Entity `json:"entities"`
}

// Resolver maps locations to display granularity.
type Resolver struct {
	reg         *registry.Registry
	territories *territory.Service
	concurrency int
}

// NewResolver creates a resolver. concurrency <= 0 uses DefaultConcurrency.
func NewResolver(reg *registry.Registry, territories *territory.Service, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{reg: reg, territories: territories, concurrency: concurrency}
}

// Resolve resolves loc at the granularity of regionCode. Unknown regions use
// the default region.
func (r *Resolver) Resolve(ctx context.Context, loc territory.Location, regionCode string) Result {
	region, _ := r.reg.ResolveRegion(ctx, regionCode)
	g := region.Granularity
	geo := r.territories.ResolveAtLevel(ctx, loc, scope(region), g.TargetLevel())

	res := Result{
		Resolved:    geo.Resolved,
		Granularity: g,
		Confidence:  geo.Confidence,
		Geo:         geo,
		Key:         UnknownKey,
	}
	if geo.Resolved {
		res.Key = geo.Code
		res.Formatted = format(geo.Hierarchy, g)
	} else {
		res.Formatted = fallback(loc)
	}
	return res
}

// ResolveMultiple resolves entities concurrently. Output order matches input.
func (r *Resolver) ResolveMultiple(ctx context.Context, entities []Entity, regionCode string) ([]Result, error) {
	out := make([]Result, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, e := range entities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = r.Resolve(gctx, e.Location, regionCode)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "granularity: resolve multiple")
	}
	return out, nil
}

// FormatForDisplay renders loc at granularity g without region scoping.
// Unresolved locations render as given.
func (r *Resolver) FormatForDisplay(ctx context.Context, loc territory.Location, g model.Granularity) string {
	geo := r.territories.ResolveAtLevel(ctx, loc, "", g.TargetLevel())
	if !geo.Resolved {
		return loc.String()
	}
	return format(geo.Hierarchy, g).Display
}

// GroupByGranularity buckets entities by their resolved territory at the
// region's granularity. Groups are ordered by key with unresolved last.
func (r *Resolver) GroupByGranularity(ctx context.Context, entities []Entity, regionCode string) ([]Group, error) {
	results, err := r.ResolveMultiple(ctx, entities, regionCode)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int)
	var groups []Group
	for i, res := range results {
		j, ok := idx[res.Key]
		if !ok {
			label := res.Formatted.Display
			if !res.Resolved {
				label = "Unknown"
			}
			j = len(groups)
			idx[res.Key] = j
			groups = append(groups, Group{Key: res.Key, Label: label})
		}
		groups[j].Entities = append(groups[j].Entities, entities[i])
	}

	sort.SliceStable(groups, func(a, b int) bool {
		if (groups[a].Key == UnknownKey) != (groups[b].Key == UnknownKey) {
			return groups[b].Key == UnknownKey
		}
		return groups[a].Key < groups[b].Key
	})
	return groups, nil
}

// GetGranularityForCountry returns the granularity of the first region
// serving countryCode, or country granularity when none does.
func (r *Resolver) GetGranularityForCountry(ctx context.Context, countryCode string) model.Granularity {
	regions := r.reg.GetRegionsByCountry(ctx, countryCode)
	if len(regions) == 0 {
		return model.GranularityCountry
	}
	return regions[0].Granularity
}

func scope(region *model.RegionProfile) string {
	if region.Synthetic {
		return ""
	}
	return region.ID
}

// format renders a root-first hierarchy.
func format(h []territory.HierarchyEntry, g model.Granularity) Formatted {
	if len(h) == 0 {
		return Formatted{}
	}
	names := make([]string, len(h))
	for i, e := range h {
		names[i] = e.Name
	}

	f := Formatted{
		Short: names[len(names)-1],
		Long:  strings.Join(names, " > "),
	}
	if len(names) >= 2 {
		f.Medium = names[len(names)-1] + ", " + names[len(names)-2]
	} else {
		f.Medium = f.Short
	}
	f.Display = display(h, g)
	return f
}

// display prefers "City, Country" at city granularity, then "State, Country",
// then "Country".
func display(h []territory.HierarchyEntry, g model.Granularity) string {
	var country, state, city string
	for _, e := range h {
		switch e.Level {
		case model.LevelCountry:
			country = e.Name
		case model.LevelState:
			state = e.Name
		case model.LevelCity:
			city = e.Name
		}
	}
	join := func(local string) string {
		switch {
		case local == "":
			return country
		case country == "":
			return local
		default:
			return local + ", " + country
		}
	}
	switch g {
	case model.GranularityCity:
		if city != "" {
			return join(city)
		}
		return join(state)
	case model.GranularityState:
		return join(state)
	default:
		if country == "" {
			return join(state)
		}
		return country
	}
}

func fallback(loc territory.Location) Formatted {
	s := loc.String()
	return Formatted{Short: s, Medium: s, Long: s, Display: s}
}
