package registry

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/store"
)

// StaticLoader serves reference data from memory. It backs offline CLI runs
// against a seed file and tests.
type StaticLoader struct {
	Data *store.SeedData
}

// NewStaticLoader wraps already-built seed data.
func NewStaticLoader(data *store.SeedData) *StaticLoader {
	if data == nil {
		data = &store.SeedData{}
	}
	return &StaticLoader{Data: data}
}

// LoadFixture reads a YAML seed file into a StaticLoader.
func LoadFixture(path string) (*StaticLoader, error) {
	data, err := store.LoadSeed(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load fixture")
	}
	return NewStaticLoader(data), nil
}

func (l *StaticLoader) ListRegions(context.Context) ([]model.RegionProfile, error) {
	return activeOnly(l.Data.Regions, func(r model.RegionProfile) bool { return r.Active }), nil
}

func (l *StaticLoader) ListTerritories(context.Context) ([]model.Territory, error) {
	return activeOnly(l.Data.Territories, func(t model.Territory) bool { return t.Active }), nil
}

func (l *StaticLoader) ListScoreModifiers(context.Context) ([]model.ScoreModifier, error) {
	return activeOnly(l.Data.ScoreModifiers, func(m model.ScoreModifier) bool { return m.Active }), nil
}

func (l *StaticLoader) ListTimingPacks(context.Context) ([]model.TimingPack, error) {
	return activeOnly(l.Data.TimingPacks, func(p model.TimingPack) bool { return p.Active }), nil
}

func activeOnly[T any](rows []T, active func(T) bool) []T {
	return slices.DeleteFunc(slices.Clone(rows), func(v T) bool { return !active(v) })
}
