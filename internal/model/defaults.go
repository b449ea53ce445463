package model

import "time"

// FallbackRegionCode is the code of the region synthesized when no
// configured default region exists.
const FallbackRegionCode = "GLOBAL"

// DefaultPackName is the timing pack consulted when a named pack is missing.
const DefaultPackName = "default"

// Work-day constants (weekday indices, 0 = Sunday).
const (
	DefaultWorkWeekStart      = 1 // Monday
	DefaultWorkWeekEnd        = 5 // Friday
	DefaultBusinessHoursStart = 9
	DefaultBusinessHoursEnd   = 17
	DefaultWorkdayHours       = 8
	DaysPerWeek               = 7
)

// DefaultStakeholderDepth is the expected buying-committee size when
// neither a modifier row nor a regional fallback supplies one.
const DefaultStakeholderDepth = 3

// regionalStakeholderDepth holds expected stakeholder depth per region
// code for regions without a modifier row.
var regionalStakeholderDepth = map[string]int{
	"UAE": 4,
	"KSA": 5,
	"IN":  5,
	"US":  3,
	"UK":  3,
	"SG":  3,
	"DE":  4,
	"JP":  5,
}

// StakeholderDepthFallback returns the expected depth for a region code.
func StakeholderDepthFallback(regionCode string) int {
	if d, ok := regionalStakeholderDepth[NormalizeCode(regionCode)]; ok {
		return d
	}
	return DefaultStakeholderDepth
}

// DefaultTimingPack returns the global hard-coded pack: Tuesday through
// Thursday, 09:00–17:00.
func DefaultTimingPack() *TimingPack {
	return &TimingPack{
		ID:                   "default-timing-pack",
		Name:                 DefaultPackName,
		OptimalDays:          []int{int(time.Tuesday), int(time.Wednesday), int(time.Thursday)},
		OptimalHoursStart:    DefaultBusinessHoursStart,
		OptimalHoursEnd:      DefaultBusinessHoursEnd,
		ContactFrequencyDays: 3,
		FollowUpDelayDays:    3,
		MaxAttempts:          5,
		Active:               true,
	}
}

// DefaultPreferredChannels is the channel order used by synthetic regions.
func DefaultPreferredChannels() []Channel {
	return []Channel{ChannelEmail, ChannelLinkedIn, ChannelPhone}
}

// SyntheticRegion builds a neutral region used when no default region is
// configured. Callers never need to nil-check for "no region".
func SyntheticRegion(code string) *RegionProfile {
	if code == "" {
		code = FallbackRegionCode
	}
	return &RegionProfile{
		ID:                   "00000000-0000-0000-0000-000000000000",
		Code:                 NormalizeCode(code),
		Name:                 "Global",
		Granularity:          GranularityCountry,
		Timezone:             "UTC",
		Currency:             "USD",
		WorkWeekStart:        DefaultWorkWeekStart,
		WorkWeekEnd:          DefaultWorkWeekEnd,
		BusinessHoursStart:   DefaultBusinessHoursStart,
		BusinessHoursEnd:     DefaultBusinessHoursEnd,
		Modifiers:            NeutralModifiers(),
		SalesCycleMultiplier: 1,
		PreferredChannels:    DefaultPreferredChannels(),
		Active:               true,
		Synthetic:            true,
	}
}
