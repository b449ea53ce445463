// Package timing computes optimal contact windows and follow-up schedules
// from region timing packs.
package timing

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/sells-group/region-engine/internal/model"
	"github.com/sells-group/region-engine/internal/registry"
)

// Fallback contact time used when a pack carries no usable days.
const (
	fallbackWeekday = time.Tuesday
	fallbackHour    = 10
)

// OptimalTiming describes a region's contact window.
type OptimalTiming struct {
	RegionID   string            `json:"region_id"`
	RegionCode string            `json:"region_code"`
	Timezone   string            `json:"timezone"`
	Pack       *model.TimingPack `json:"pack"`
	Days       []string          `json:"days"`
	Window     string            `json:"window"`
}

// Contact is one scheduled touch.
type Contact struct {
	Attempt int       `json:"attempt"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Weekday string    `json:"weekday"`
}

// Contact kinds.
const (
	KindInitial  = "initial"
	KindFollowUp = "follow_up"
)

// Service answers timing questions for regions.
type Service struct {
	reg *registry.Registry
}

// NewService creates a timing service.
func NewService(reg *registry.Registry) *Service {
	return &Service{reg: reg}
}

// Window is a pack bound to the zone its hours are expressed in.
type Window struct {
	Pack     *model.TimingPack
	Location *time.Location
}

// WindowFor resolves a region's pack and time zone. Unknown regions use the
// default region; missing packs fall back to the region default pack, then
// the global default.
func (s *Service) WindowFor(ctx context.Context, regionID, packName string) (Window, *model.RegionProfile) {
	region, _ := s.reg.ResolveRegion(ctx, regionID)
	return Window{
		Pack:     s.reg.GetTimingPack(ctx, region.ID, packName),
		Location: region.Location(),
	}, region
}

// GetOptimalTiming returns the region's optimal days and hours.
func (s *Service) GetOptimalTiming(ctx context.Context, regionID, packName string) OptimalTiming {
	w, region := s.WindowFor(ctx, regionID, packName)
	return OptimalTiming{
		RegionID:   region.ID,
		RegionCode: region.Code,
		Timezone:   w.loc().String(),
		Pack:       w.Pack,
		Days:       DayNames(w.Pack.OptimalDays),
		Window:     fmt.Sprintf("%02d:00-%02d:00", w.Pack.OptimalHoursStart, w.End()),
	}
}

// IsOptimalTime reports whether t falls inside the region's default window.
func (s *Service) IsOptimalTime(ctx context.Context, regionID string, t time.Time) bool {
	w, _ := s.WindowFor(ctx, regionID, "")
	return w.IsOptimal(t)
}

// GetNextOptimalTime returns t if it is optimal, otherwise the start of the
// next optimal window.
func (s *Service) GetNextOptimalTime(ctx context.Context, regionID string, from time.Time) time.Time {
	w, _ := s.WindowFor(ctx, regionID, "")
	return w.Next(from)
}

// GenerateFollowUpSchedule returns numFollowUps+1 contacts: the initial slot
// then follow-ups each delayed from the previous slot and snapped forward.
func (s *Service) GenerateFollowUpSchedule(ctx context.Context, regionID string, start time.Time, numFollowUps int) []Contact {
	w, _ := s.WindowFor(ctx, regionID, "")
	return w.Schedule(start, numFollowUps)
}

// IsOptimal reports whether t's local weekday is an optimal day and its
// local time falls in [start, end).
func (w Window) IsOptimal(t time.Time) bool {
	if !w.usable() {
		return false
	}
	local := t.In(w.loc())
	if !w.Pack.HasDay(int(local.Weekday())) {
		return false
	}
	h := local.Hour()
	return h >= w.Pack.OptimalHoursStart && h < w.End()
}

// Next returns from when optimal, otherwise the next optimal day's window
// start strictly after from. The search covers one week.
func (w Window) Next(from time.Time) time.Time {
	if w.IsOptimal(from) {
		return from
	}
	loc := w.loc()
	local := from.In(loc)

	days, hour := w.Pack.OptimalDays, w.Pack.OptimalHoursStart
	if !w.usable() {
		days, hour = []int{int(fallbackWeekday)}, fallbackHour
	}
	for d := 0; d <= model.DaysPerWeek; d++ {
		day := local.AddDate(0, 0, d)
		if !slices.Contains(days, int(day.Weekday())) {
			continue
		}
		slot := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
		if slot.After(from) {
			return slot
		}
	}
	// Unreachable with at least one valid weekday.
	return from
}

// Schedule chains an initial slot and n follow-ups. Each follow-up adds the
// pack's delay to the previous slot and then snaps to the next window.
func (w Window) Schedule(start time.Time, n int) []Contact {
	if n < 0 {
		n = 0
	}
	delay := w.Pack.FollowUpDelayDays
	if delay <= 0 {
		delay = max(w.Pack.ContactFrequencyDays, 1)
	}

	out := make([]Contact, 0, n+1)
	at := w.Next(start)
	out = append(out, w.contact(1, KindInitial, at))
	for i := 1; i <= n; i++ {
		at = w.Next(at.AddDate(0, 0, delay))
		out = append(out, w.contact(i+1, KindFollowUp, at))
	}
	return out
}

func (w Window) contact(attempt int, kind string, at time.Time) Contact {
	local := at.In(w.loc())
	return Contact{Attempt: attempt, Kind: kind, At: local, Weekday: local.Weekday().String()}
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// End is the exclusive end hour. A non-positive or inverted end runs the
// window to midnight.
func (w Window) End() int {
	if w.Pack.OptimalHoursEnd <= w.Pack.OptimalHoursStart {
		return 24
	}
	return w.Pack.OptimalHoursEnd
}

func (w Window) usable() bool {
	if w.Pack == nil || w.Pack.OptimalHoursStart < 0 || w.Pack.OptimalHoursStart > 23 {
		return false
	}
	for _, d := range w.Pack.OptimalDays {
		if d >= 0 && d < model.DaysPerWeek {
			return true
		}
	}
	return false
}

// RegionTiming is one region's entry in a comparison.
type RegionTiming struct {
	RegionCode string   `json:"region_code"`
	Timezone   string   `json:"timezone"`
	Days       []int    `json:"days"`
	DayNames   []string `json:"day_names"`
	HoursStart int      `json:"hours_start"`
	HoursEnd   int      `json:"hours_end"`
}

// Comparison is the coarse cross-region overlap.
type Comparison struct {
	Regions        []RegionTiming `json:"regions"`
	CommonDays     []int          `json:"common_days"`
	CommonDayNames []string       `json:"common_day_names"`
	HasOverlap     bool           `json:"has_overlap"`
	Recommendation string         `json:"recommendation"`
}

// CompareTiming intersects the optimal weekday sets of each region's default
// pack. Hours are reported per region and not aligned to UTC.
func (s *Service) CompareTiming(ctx context.Context, regionIDs []string) Comparison {
	var out Comparison
	var common map[int]bool
	for _, id := range regionIDs {
		w, region := s.WindowFor(ctx, id, "")
		days := slices.Clone(w.Pack.OptimalDays)
		sort.Ints(days)
		out.Regions = append(out.Regions, RegionTiming{
			RegionCode: region.Code,
			Timezone:   w.loc().String(),
			Days:       days,
			DayNames:   DayNames(days),
			HoursStart: w.Pack.OptimalHoursStart,
			HoursEnd:   w.End(),
		})

		set := make(map[int]bool, len(days))
		for _, d := range days {
			if common == nil || common[d] {
				set[d] = true
			}
		}
		common = set
	}

	for d := 0; d < model.DaysPerWeek; d++ {
		if common[d] {
			out.CommonDays = append(out.CommonDays, d)
		}
	}
	out.CommonDayNames = DayNames(out.CommonDays)
	out.HasOverlap = len(out.CommonDays) > 0 && len(regionIDs) > 0

	switch {
	case len(regionIDs) == 0:
		out.Recommendation = "no regions to compare"
	case out.HasOverlap:
		out.Recommendation = fmt.Sprintf("schedule cross-region outreach on %s", joinNames(out.CommonDayNames))
	default:
		out.Recommendation = "no common optimal days; schedule each region separately"
	}
	return out
}

// DayNames maps weekday indices to names, skipping invalid indices.
func DayNames(days []int) []string {
	out := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < model.DaysPerWeek {
			out = append(out, time.Weekday(d).String())
		}
	}
	return out
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	s := ""
	for i, n := range names {
		switch {
		case i == 0:
			s = n
		case i == len(names)-1:
			s += " and " + n
		default:
			s += ", " + n
		}
	}
	return s
}
