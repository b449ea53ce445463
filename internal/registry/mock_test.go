package registry

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/region-engine/internal/model"
)

// mockLoader implements store.RegionReader for testing.
type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) ListRegions(ctx context.Context) ([]model.RegionProfile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RegionProfile), args.Error(1)
}

func (m *mockLoader) ListTerritories(ctx context.Context) ([]model.Territory, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Territory), args.Error(1)
}

func (m *mockLoader) ListScoreModifiers(ctx context.Context) ([]model.ScoreModifier, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScoreModifier), args.Error(1)
}

func (m *mockLoader) ListTimingPacks(ctx context.Context) ([]model.TimingPack, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TimingPack), args.Error(1)
}
