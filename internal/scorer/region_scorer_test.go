package scorer

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/registry"
	"github.com/sells-group/region-engine/internal/resilience"
	"github.com/sells-group/region-engine/internal/tenantregion"
)

func ptrFloat64(v float64) *float64 { return &v }

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	loader, err := registry.LoadFixture("../../seeds/regions.yaml")
	require.NoError(t, err)
	reg := registry.New(loader, registry.WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	require.NoError(t, reg.Initialize(context.Background()))
	return reg
}

type mockFinder struct {
	mock.Mock
}

func (m *mockFinder) FindBinding(ctx context.Context, tenantID, regionID string) (*tenantregion.Effective, bool, error) {
	args := m.Called(ctx, tenantID, regionID)
	eff, _ := args.Get(0).(*tenantregion.Effective)
	return eff, args.Bool(1), args.Error(2)
}

func newTestService(t *testing.T, finder BindingFinder) (*Service, *registry.Registry) {
	t.Helper()
	reg := newTestRegistry(t)
	svc, err := NewService(reg, finder)
	require.NoError(t, err)
	return svc, reg
}

func TestApplyRegionModifiers_VerticalComposition(t *testing.T) {
	svc, _ := newTestService(t, nil)

	got, err := svc.ApplyRegionModifiers(context.Background(),
		Scores{Q: 70, T: 50, L: 60, E: 80}, "UAE", ScoreOptions{VerticalID: "banking_employee"})
	require.NoError(t, err)

	assert.InDelta(t, 1.38, got.Breakdown.EffectiveModifiers.Q, 1e-9)
	assert.Equal(t, 97, got.Q)
	assert.Equal(t, 55, got.T)
	assert.Equal(t, 66, got.L)
	assert.Equal(t, 76, got.E)
	assert.Equal(t, 78, got.Composite)
	require.NotNil(t, got.Breakdown.VerticalModifiers)
	assert.InDelta(t, 1.2, got.Breakdown.VerticalModifiers.Q, 1e-9)
	assert.Equal(t, tenantregion.SourceRegion, got.Breakdown.Sources.Q)
	assert.Equal(t, "UAE", got.Breakdown.RegionCode)
}

func TestApplyRegionModifiers_ClampsScores(t *testing.T) {
	svc, _ := newTestService(t, nil)

	got, err := svc.ApplyRegionModifiers(context.Background(),
		Scores{Q: 95, T: -10, L: 100, E: 0}, "UAE", ScoreOptions{VerticalID: "banking_employee"})
	require.NoError(t, err)
	assert.Equal(t, 100, got.Q)
	assert.Equal(t, 0, got.T)
	assert.Equal(t, 100, got.L)
	assert.Equal(t, 0, got.E)
}

func TestApplyRegionModifiers_UnknownRegionIsNeutral(t *testing.T) {
	svc, _ := newTestService(t, nil)

	got, err := svc.ApplyRegionModifiers(context.Background(), Scores{Q: 40, T: 60, L: 80, E: 20}, "MARS", ScoreOptions{VerticalID: "banking_employee"})
	require.NoError(t, err)
	assert.Equal(t, model.NeutralModifiers(), got.Breakdown.EffectiveModifiers)
	assert.Nil(t, got.Breakdown.VerticalModifiers)
	assert.Equal(t, 40, got.Q)
	assert.Equal(t, 50, got.Composite)
}

func TestApplyRegionModifiers_TenantOverrideThenVertical(t *testing.T) {
	reg := newTestRegistry(t)
	uae, ok := reg.GetRegionByCode(context.Background(), "UAE")
	require.True(t, ok)

	binding := &model.TenantRegionBinding{
		TenantID:               "acme",
		RegionID:               uae.ID,
		CustomScoringModifiers: &model.ModifierOverride{Q: ptrFloat64(1.5), T: ptrFloat64(3)},
	}
	finder := &mockFinder{}
	finder.On("FindBinding", mock.Anything, "acme", uae.ID).Return(tenantregion.Compose(binding, uae), true, nil)

	svc, err := NewService(reg, finder)
	require.NoError(t, err)

	c, err := svc.Compose(context.Background(), "UAE", ScoreOptions{TenantID: "acme", VerticalID: "banking_employee"})
	require.NoError(t, err)
	assert.True(t, c.HasTenantOverrides)
	assert.InDelta(t, 1.5, c.BaseModifiers.Q, 1e-9)
	assert.InDelta(t, 1.8, c.EffectiveModifiers.Q, 1e-9)
	assert.Equal(t, model.MaxModifier, c.EffectiveModifiers.T)
	assert.InDelta(t, 1.1, c.EffectiveModifiers.L, 1e-9)
	assert.Equal(t, tenantregion.SourceTenant, c.Sources.Q)
	finder.AssertExpectations(t)
}

func TestCompose_BindingError(t *testing.T) {
	finder := &mockFinder{}
	finder.On("FindBinding", mock.Anything, "acme", mock.Anything).Return(nil, false, eris.New("timeout"))
	svc, _ := newTestService(t, finder)

	_, err := svc.Compose(context.Background(), "US", ScoreOptions{TenantID: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestGetSalesMultiplier(t *testing.T) {
	reg := newTestRegistry(t)
	uae, _ := reg.GetRegionByCode(context.Background(), "UAE")

	finder := &mockFinder{}
	finder.On("FindBinding", mock.Anything, "acme", uae.ID).
		Return(tenantregion.Compose(&model.TenantRegionBinding{CustomSalesCycleMultiplier: ptrFloat64(1.6)}, uae), true, nil)
	finder.On("FindBinding", mock.Anything, "other", uae.ID).Return(nil, false, nil)
	svc, err := NewService(reg, finder)
	require.NoError(t, err)
	ctx := context.Background()

	m, err := svc.GetSalesMultiplier(ctx, "UAE", "")
	require.NoError(t, err)
	assert.InDelta(t, 1.3, m, 1e-9)

	m, err = svc.GetSalesMultiplier(ctx, "UAE", "acme")
	require.NoError(t, err)
	assert.InDelta(t, 1.6, m, 1e-9)

	m, err = svc.GetSalesMultiplier(ctx, "UAE", "other")
	require.NoError(t, err)
	assert.InDelta(t, 1.3, m, 1e-9)

	m, err = svc.GetSalesMultiplier(ctx, "NOPE", "acme")
	require.NoError(t, err)
	assert.Equal(t, 1.0, m, "synthetic region ignores bindings")
}

func TestNormalizeStakeholderDepth(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name             string
		depth            int
		region, vertical string
		expected, score  int
		band             string
	}{
		{"region default row", 3, "UAE", "", 4, 75, BandAcceptable},
		{"vertical row", 6, "UAE", "banking_employee", 6, 100, BandAdequate},
		{"more than expected", 9, "UAE", "banking_employee", 6, 100, BandAdequate},
		{"thin committee", 2, "UAE", "banking_employee", 6, 33, BandInsufficient},
		{"regional fallback", 4, "IN", "", 5, 80, BandAcceptable},
		{"no contacts", 0, "US", "", 3, 0, BandInsufficient},
		{"unknown region", 3, "MARS", "", model.DefaultStakeholderDepth, 100, BandAdequate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.NormalizeStakeholderDepth(ctx, tt.depth, tt.region, tt.vertical)
			assert.Equal(t, tt.expected, got.Expected)
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.band, got.Band)
		})
	}
}

func TestGetPreferredChannels(t *testing.T) {
	svc, _ := newTestService(t, nil)

	got, err := svc.GetPreferredChannels(context.Background(), "UAE", "")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, model.ChannelLinkedIn, got[0].Channel)
	assert.Equal(t, 1, got[0].Rank)
	assert.InDelta(t, 0.4, got[0].Weight, 1e-9)
	assert.InDelta(t, 0.1, got[3].Weight, 1e-9)

	sum := 0.0
	for _, c := range got {
		sum += c.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Empty(t, RankChannels(nil))
}

func TestBatchScoreWithRegion_KeepsOrder(t *testing.T) {
	svc, _ := newTestService(t, nil)

	entities := make([]ScoredEntity, 20)
	for i := range entities {
		entities[i] = ScoredEntity{ID: string(rune('a' + i)), Scores: Scores{Q: float64(i * 5), T: 50, L: 50, E: 50}}
	}
	out, err := svc.BatchScoreWithRegion(context.Background(), entities, "US", ScoreOptions{})
	require.NoError(t, err)
	require.Len(t, out, len(entities))
	for i, r := range out {
		assert.Equal(t, entities[i].ID, r.ID)
		assert.Equal(t, i*5, r.Scores.Q)
	}
}

func TestNewService_RejectsBadProfiles(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := NewService(reg, nil, WithWeightProfiles(map[string]WeightProfile{
		"us": {Quality: 0.5, Timing: 0.5, Location: 0.5},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "US")

	svc, err := NewService(reg, nil, WithWeightProfiles(map[string]WeightProfile{
		"us": {Quality: 1},
	}))
	require.NoError(t, err)
	assert.Equal(t, WeightProfile{Quality: 1}, svc.Weights("US"))
	assert.Equal(t, UniformWeights, svc.Weights("UAE"))
}

func TestValidateProfile(t *testing.T) {
	for code, p := range DefaultWeightProfiles() {
		assert.NoError(t, ValidateProfile(p), code)
	}
	assert.NoError(t, ValidateProfile(UniformWeights))

	err := ValidateProfile(WeightProfile{Quality: -0.2, Timing: 0.6, Location: 0.3, Engagement: 0.3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality weight must be >= 0")

	err = ValidateProfile(WeightProfile{Quality: 0.3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1")
}

func TestApply_Pure(t *testing.T) {
	c := Composition{
		EffectiveModifiers: model.Modifiers{Q: 1.5, T: 0.5, L: 1, E: 2},
		Weights:            WeightProfile{Quality: 1},
	}
	got := Apply(Scores{Q: 50, T: 51, L: 10, E: 60}, c)
	assert.Equal(t, 75, got.Q)
	assert.Equal(t, 26, got.T)
	assert.Equal(t, 10, got.L)
	assert.Equal(t, 100, got.E)
	assert.Equal(t, 75, got.Composite)
}
