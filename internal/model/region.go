// Package model defines the region, territory and tenant-binding entities
// shared by every region-context component.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Granularity is the hierarchy depth a region displays entities at.
type Granularity string

const (
	GranularityCountry Granularity = "country"
	GranularityState   Granularity = "state"
	GranularityCity    Granularity = "city"
)

// TargetLevel maps a granularity to its territory level. Unknown values
// resolve to country level.
func (g Granularity) TargetLevel() int {
	switch g {
	case GranularityState:
		return LevelState
	case GranularityCity:
		return LevelCity
	default:
		return LevelCountry
	}
}

// ParseGranularity normalizes a stored granularity string.
func ParseGranularity(s string) Granularity {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case GranularityState:
		return GranularityState
	case GranularityCity:
		return GranularityCity
	default:
		return GranularityCountry
	}
}

// Channel is an outreach channel type.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
	ChannelPhone    Channel = "phone"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelInPerson Channel = "in_person"
)

// RegionProfile is a top-level market with its own timezone, currency and
// scoring philosophy. Profiles are read-only to this module.
type RegionProfile struct {
	ID                   string          `json:"region_id"`
	Code                 string          `json:"region_code"`
	Name                 string          `json:"region_name"`
	CountryCode          string          `json:"country_code"`
	Granularity          Granularity     `json:"granularity_level"`
	Timezone             string          `json:"timezone"`
	Currency             string          `json:"currency_code"`
	WorkWeekStart        int             `json:"work_week_start"`
	WorkWeekEnd          int             `json:"work_week_end"`
	BusinessHoursStart   int             `json:"business_hours_start"`
	BusinessHoursEnd     int             `json:"business_hours_end"`
	Regulations          json.RawMessage `json:"regulations,omitempty"`
	Modifiers            Modifiers       `json:"scoring_modifiers"`
	SalesCycleMultiplier float64         `json:"sales_cycle_multiplier"`
	PreferredChannels    []Channel       `json:"preferred_channels"`
	Active               bool            `json:"active"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`

	// Synthetic marks a region fabricated by the registry when no
	// configured default exists.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Location returns the region's time zone, falling back to UTC when the
// zone name cannot be loaded.
func (r *RegionProfile) Location() *time.Location {
	if r == nil || r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsWorkDay reports whether weekday falls inside the region's work week.
// Work weeks may wrap (e.g. Sunday..Thursday is 0..4, Saturday..Wednesday is 6..3).
func (r *RegionProfile) IsWorkDay(weekday time.Weekday) bool {
	d := int(weekday)
	if r.WorkWeekStart <= r.WorkWeekEnd {
		return d >= r.WorkWeekStart && d <= r.WorkWeekEnd
	}
	return d >= r.WorkWeekStart || d <= r.WorkWeekEnd
}

// NormalizeCode upper-cases and trims a region or territory code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
