package timing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/registry"
	"github.com/sells-group/region-engine/internal/resilience"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	loader, err := registry.LoadFixture("../../seeds/regions.yaml")
	require.NoError(t, err)
	reg := registry.New(loader, registry.WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	require.NoError(t, reg.Initialize(context.Background()))
	return NewService(reg)
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestGetOptimalTiming(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	got := svc.GetOptimalTiming(ctx, "UAE", "")
	assert.Equal(t, "UAE", got.RegionCode)
	assert.Equal(t, "Asia/Dubai", got.Timezone)
	assert.Equal(t, []string{"Monday", "Tuesday", "Wednesday", "Thursday"}, got.Days)
	assert.Equal(t, "10:00-16:00", got.Window)

	ramadan := svc.GetOptimalTiming(ctx, "UAE", "ramadan")
	assert.Equal(t, []string{"Monday", "Tuesday", "Wednesday"}, ramadan.Days)
	assert.Equal(t, "10:00-14:00", ramadan.Window)
	assert.Equal(t, 3, ramadan.Pack.MaxAttempts)

	missing := svc.GetOptimalTiming(ctx, "UAE", "eid")
	assert.Equal(t, model.DefaultPackName, missing.Pack.Name)

	global := svc.GetOptimalTiming(ctx, "IN", "")
	assert.Equal(t, "Asia/Kolkata", global.Timezone)
	assert.Equal(t, model.DefaultTimingPack().OptimalDays, global.Pack.OptimalDays)
}

func TestIsOptimalTime(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dubai := mustLoad(t, "Asia/Dubai")

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"thursday morning", time.Date(2026, 10, 15, 11, 0, 0, 0, dubai), true},
		{"window start", time.Date(2026, 10, 15, 10, 0, 0, 0, dubai), true},
		{"window end exclusive", time.Date(2026, 10, 15, 16, 0, 0, 0, dubai), false},
		{"friday", time.Date(2026, 10, 16, 11, 0, 0, 0, dubai), false},
		{"utc input converted", time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.IsOptimalTime(ctx, "UAE", tt.at))
		})
	}
}

func TestGetNextOptimalTime(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dubai := mustLoad(t, "Asia/Dubai")
	ny := mustLoad(t, "America/New_York")
	kolkata := mustLoad(t, "Asia/Kolkata")

	tests := []struct {
		name   string
		region string
		from   time.Time
		want   time.Time
	}{
		{"already optimal", "UAE", time.Date(2026, 10, 15, 11, 30, 0, 0, dubai), time.Date(2026, 10, 15, 11, 30, 0, 0, dubai)},
		{"before window same day", "UAE", time.Date(2026, 10, 14, 8, 0, 0, 0, dubai), time.Date(2026, 10, 14, 10, 0, 0, 0, dubai)},
		{"after window skips weekend", "UAE", time.Date(2026, 10, 15, 16, 30, 0, 0, dubai), time.Date(2026, 10, 19, 10, 0, 0, 0, dubai)},
		{"us friday to tuesday", "US", time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC), time.Date(2026, 10, 20, 9, 0, 0, 0, ny)},
		{"global pack", "IN", time.Date(2026, 10, 17, 12, 0, 0, 0, kolkata), time.Date(2026, 10, 20, 9, 0, 0, 0, kolkata)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.GetNextOptimalTime(ctx, tt.region, tt.from)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestWindowNext_FallsBackWithoutDays(t *testing.T) {
	w := Window{Pack: &model.TimingPack{OptimalHoursStart: 9, OptimalHoursEnd: 17}, Location: time.UTC}

	got := w.Next(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC), got)
	assert.False(t, w.IsOptimal(got))
}

func TestWindow_InvertedHoursRunToMidnight(t *testing.T) {
	w := Window{Pack: &model.TimingPack{OptimalDays: []int{4}, OptimalHoursStart: 20, OptimalHoursEnd: 2}}

	assert.True(t, w.IsOptimal(time.Date(2026, 10, 15, 23, 0, 0, 0, time.UTC)))
	assert.False(t, w.IsOptimal(time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)))
}

func TestGenerateFollowUpSchedule(t *testing.T) {
	svc := newTestService(t)
	dubai := mustLoad(t, "Asia/Dubai")

	start := time.Date(2026, 10, 12, 11, 0, 0, 0, dubai)
	got := svc.GenerateFollowUpSchedule(context.Background(), "UAE", start, 2)
	require.Len(t, got, 3)

	assert.Equal(t, KindInitial, got[0].Kind)
	assert.True(t, start.Equal(got[0].At))
	assert.Equal(t, "Monday", got[0].Weekday)

	assert.Equal(t, KindFollowUp, got[1].Kind)
	assert.Equal(t, 2, got[1].Attempt)
	assert.True(t, time.Date(2026, 10, 15, 11, 0, 0, 0, dubai).Equal(got[1].At))

	// Sunday 11:00 snaps to Monday's window start.
	assert.True(t, time.Date(2026, 10, 19, 10, 0, 0, 0, dubai).Equal(got[2].At))
	assert.Equal(t, "Monday", got[2].Weekday)
}

func TestSchedule_NegativeCountAndZeroDelay(t *testing.T) {
	w := Window{Pack: &model.TimingPack{OptimalDays: []int{1, 2, 3, 4, 5}, OptimalHoursStart: 9, OptimalHoursEnd: 17}, Location: time.UTC}
	start := time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)

	assert.Len(t, w.Schedule(start, -3), 1)

	got := w.Schedule(start, 1)
	require.Len(t, got, 2)
	assert.Equal(t, start.AddDate(0, 0, 1), got[1].At)
}

func TestCompareTiming(t *testing.T) {
	svc := newTestService(t)

	got := svc.CompareTiming(context.Background(), []string{"UAE", "US"})
	require.Len(t, got.Regions, 2)
	assert.Equal(t, []int{2, 3, 4}, got.CommonDays)
	assert.Equal(t, []string{"Tuesday", "Wednesday", "Thursday"}, got.CommonDayNames)
	assert.True(t, got.HasOverlap)
	assert.Equal(t, "schedule cross-region outreach on Tuesday, Wednesday and Thursday", got.Recommendation)
	assert.Equal(t, "America/New_York", got.Regions[1].Timezone)

	empty := svc.CompareTiming(context.Background(), nil)
	assert.False(t, empty.HasOverlap)
	assert.Empty(t, empty.CommonDays)
	assert.Equal(t, "no regions to compare", empty.Recommendation)
}

func TestDayNames(t *testing.T) {
	assert.Equal(t, []string{"Sunday", "Saturday"}, DayNames([]int{0, 6, 7, -1}))
	assert.Empty(t, DayNames(nil))
}

func TestWindowEnd(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		want       int
	}{
		{"regular", 9, 17, 17},
		{"unset end", 9, 0, 24},
		{"inverted", 20, 6, 24},
		{"empty", 12, 12, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Window{Pack: &model.TimingPack{OptimalDays: []int{1}, OptimalHoursStart: tt.start, OptimalHoursEnd: tt.end}}
			assert.Equal(t, tt.want, w.End())
			assert.Equal(t, tt.want < 24, !w.IsOptimal(time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)))
		})
	}
}
