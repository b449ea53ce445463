package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGranularityTargetLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		g    Granularity
		want int
	}{
		{GranularityCountry, LevelCountry},
		{GranularityState, LevelState},
		{GranularityCity, LevelCity},
		{Granularity("bogus"), LevelCountry},
	}
	for _, tt := range tests {
		t.Run(string(tt.g), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.g.TargetLevel())
		})
	}
}

func TestParseGranularity(t *testing.T) {
	t.Parallel()
	assert.Equal(t, GranularityCity, ParseGranularity(" City "))
	assert.Equal(t, GranularityState, ParseGranularity("STATE"))
	assert.Equal(t, GranularityCountry, ParseGranularity(""))
}

func TestClampModifier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MinModifier, ClampModifier(0.1))
	assert.Equal(t, MaxModifier, ClampModifier(9))
	assert.InDelta(t, 1.38, ClampModifier(1.38), 1e-9)
	assert.Equal(t, 1.0, ClampModifier(math.NaN()))
	assert.Equal(t, MinModifier, ClampModifier(math.Inf(-1)))
}

func TestModifiersClampAndMul(t *testing.T) {
	t.Parallel()

	m := Modifiers{Q: 1.15, T: 3, L: 0.1, E: 1}.Mul(Modifiers{Q: 1.2, T: 1, L: 1, E: 1}).Clamp()
	assert.InDelta(t, 1.38, m.Q, 1e-9)
	assert.Equal(t, MaxModifier, m.T)
	assert.Equal(t, MinModifier, m.L)
	assert.Equal(t, 1.0, m.E)
	assert.True(t, Modifiers{}.IsZero())
	assert.False(t, NeutralModifiers().IsZero())
}

func TestModifierOverrideIsEmpty(t *testing.T) {
	t.Parallel()

	var nilOverride *ModifierOverride
	assert.True(t, nilOverride.IsEmpty())
	assert.True(t, (&ModifierOverride{}).IsEmpty())
	q := 1.1
	assert.False(t, (&ModifierOverride{Q: &q}).IsEmpty())
}

func TestRegionProfileIsWorkDay(t *testing.T) {
	t.Parallel()

	us := &RegionProfile{WorkWeekStart: 1, WorkWeekEnd: 5}
	assert.True(t, us.IsWorkDay(time.Monday))
	assert.False(t, us.IsWorkDay(time.Sunday))

	// Saturday through Wednesday wraps past the end of the week.
	wrapped := &RegionProfile{WorkWeekStart: 6, WorkWeekEnd: 3}
	assert.True(t, wrapped.IsWorkDay(time.Saturday))
	assert.True(t, wrapped.IsWorkDay(time.Sunday))
	assert.True(t, wrapped.IsWorkDay(time.Wednesday))
	assert.False(t, wrapped.IsWorkDay(time.Thursday))
}

func TestRegionProfileLocation(t *testing.T) {
	t.Parallel()

	var nilRegion *RegionProfile
	assert.Equal(t, time.UTC, nilRegion.Location())
	assert.Equal(t, time.UTC, (&RegionProfile{Timezone: "Not/AZone"}).Location())

	loc := (&RegionProfile{Timezone: "Asia/Dubai"}).Location()
	assert.Equal(t, "Asia/Dubai", loc.String())
}

func TestSyntheticRegion(t *testing.T) {
	t.Parallel()

	r := SyntheticRegion("")
	assert.Equal(t, FallbackRegionCode, r.Code)
	assert.True(t, r.Synthetic)
	assert.Equal(t, NeutralModifiers(), r.Modifiers)
	assert.Equal(t, 1.0, r.SalesCycleMultiplier)

	assert.Equal(t, "WORLD", SyntheticRegion("world").Code)
}

func TestStakeholderDepthFallback(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 4, StakeholderDepthFallback("uae"))
	assert.Equal(t, DefaultStakeholderDepth, StakeholderDepthFallback("ZZ"))
}

func TestDefaultTimingPack(t *testing.T) {
	t.Parallel()

	p := DefaultTimingPack()
	assert.Equal(t, DefaultPackName, p.Name)
	assert.True(t, p.HasDay(int(time.Tuesday)))
	assert.False(t, p.HasDay(int(time.Monday)))
	assert.Equal(t, 9, p.OptimalHoursStart)
}

func TestTerritoryCentroid(t *testing.T) {
	t.Parallel()

	assert.Nil(t, (&Territory{}).Centroid())

	lat, lon := 25.2, 55.27
	pt := (&Territory{Latitude: &lat, Longitude: &lon}).Centroid()
	require.NotNil(t, pt)
	assert.Equal(t, lon, pt.X())
	assert.Equal(t, lat, pt.Y())
}

func TestBindingHasOverrides(t *testing.T) {
	t.Parallel()

	var nilBinding *TenantRegionBinding
	assert.False(t, nilBinding.HasOverrides())
	assert.False(t, (&TenantRegionBinding{CustomScoringModifiers: &ModifierOverride{}}).HasOverrides())

	m := 1.2
	assert.True(t, (&TenantRegionBinding{CustomSalesCycleMultiplier: &m}).HasOverrides())
	assert.True(t, (&TenantRegionBinding{CustomPreferredChannels: []Channel{ChannelPhone}}).HasOverrides())
}
