package store

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/region-engine/internal/model"
)

// seedNamespace derives stable IDs so re-importing a seed file upserts the
// same rows instead of duplicating them.
var seedNamespace = uuid.MustParse("6f1c2d8e-4b7a-5c3e-9d2f-0a1b2c3d4e5f")

// SeedID returns the deterministic ID used for a seeded entity.
func SeedID(kind string, parts ...string) string {
	name := kind
	for _, p := range parts {
		name += ":" + p
	}
	return uuid.NewSHA1(seedNamespace, []byte(name)).String()
}

// Seed is the YAML document shape of a region seed file.
type Seed struct {
	Regions []SeedRegion `yaml:"regions"`
}

// SeedRegion describes one region and its dependent rows.
type SeedRegion struct {
	Code                 string           `yaml:"code"`
	Name                 string           `yaml:"name"`
	CountryCode          string           `yaml:"country_code"`
	Granularity          string           `yaml:"granularity"`
	Timezone             string           `yaml:"timezone"`
	Currency             string           `yaml:"currency"`
	WorkWeek             [2]int           `yaml:"work_week"`
	BusinessHours        [2]int           `yaml:"business_hours"`
	Regulations          map[string]any   `yaml:"regulations"`
	Modifiers            model.Modifiers  `yaml:"modifiers"`
	SalesCycleMultiplier float64          `yaml:"sales_cycle_multiplier"`
	PreferredChannels    []model.Channel  `yaml:"preferred_channels"`
	Territories          []SeedTerritory  `yaml:"territories"`
	ScoreModifiers       []SeedModifier   `yaml:"score_modifiers"`
	TimingPacks          []SeedTimingPack `yaml:"timing_packs"`
}

// SeedTerritory references its parent by code.
type SeedTerritory struct {
	Code       string         `yaml:"code"`
	Name       string         `yaml:"name"`
	Level      int            `yaml:"level"`
	Parent     string         `yaml:"parent"`
	Latitude   *float64       `yaml:"lat"`
	Longitude  *float64       `yaml:"lon"`
	Population int64          `yaml:"population"`
	Timezone   string         `yaml:"timezone"`
	Metadata   map[string]any `yaml:"metadata"`
}

// SeedModifier is a score-modifier row; an empty vertical is the region default.
type SeedModifier struct {
	Vertical         string          `yaml:"vertical"`
	Modifiers        model.Modifiers `yaml:"modifiers"`
	StakeholderDepth int             `yaml:"stakeholder_depth"`
	Notes            string          `yaml:"notes"`
}

// SeedTimingPack is a named contact schedule.
type SeedTimingPack struct {
	Name                 string `yaml:"name"`
	Days                 []int  `yaml:"days"`
	Hours                [2]int `yaml:"hours"`
	ContactFrequencyDays int    `yaml:"contact_frequency_days"`
	FollowUpDelayDays    int    `yaml:"follow_up_delay_days"`
	MaxAttempts          int    `yaml:"max_attempts"`
}

// SeedData is a seed file flattened into table rows.
type SeedData struct {
	Regions        []model.RegionProfile
	Territories    []model.Territory
	ScoreModifiers []model.ScoreModifier
	TimingPacks    []model.TimingPack
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (*SeedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read seed %s", path)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, eris.Wrap(err, "store: parse seed")
	}
	return seed.Build(time.Now().UTC())
}

// Build flattens the seed into rows, resolving parent codes to IDs and
// checking the hierarchy invariants.
func (s *Seed) Build(now time.Time) (*SeedData, error) {
	out := &SeedData{}
	seenRegion := make(map[string]bool)
	territoryByCode := make(map[string]*model.Territory)

	for _, sr := range s.Regions {
		code := model.NormalizeCode(sr.Code)
		if code == "" {
			return nil, eris.New("store: seed region missing code")
		}
		if seenRegion[code] {
			return nil, eris.Errorf("store: duplicate seed region %s", code)
		}
		seenRegion[code] = true

		region := model.RegionProfile{
			ID:                   SeedID("region", code),
			Code:                 code,
			Name:                 sr.Name,
			CountryCode:          model.NormalizeCode(sr.CountryCode),
			Granularity:          model.ParseGranularity(sr.Granularity),
			Timezone:             sr.Timezone,
			Currency:             sr.Currency,
			WorkWeekStart:        sr.WorkWeek[0],
			WorkWeekEnd:          sr.WorkWeek[1],
			BusinessHoursStart:   sr.BusinessHours[0],
			BusinessHoursEnd:     sr.BusinessHours[1],
			Modifiers:            sr.Modifiers,
			SalesCycleMultiplier: sr.SalesCycleMultiplier,
			PreferredChannels:    sr.PreferredChannels,
			Active:               true,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if region.Timezone == "" {
			region.Timezone = "UTC"
		}
		if region.WorkWeekStart == 0 && region.WorkWeekEnd == 0 {
			region.WorkWeekStart, region.WorkWeekEnd = model.DefaultWorkWeekStart, model.DefaultWorkWeekEnd
		}
		if region.BusinessHoursEnd == 0 {
			region.BusinessHoursStart, region.BusinessHoursEnd = model.DefaultBusinessHoursStart, model.DefaultBusinessHoursEnd
		}
		if region.Modifiers.IsZero() {
			region.Modifiers = model.NeutralModifiers()
		}
		if region.SalesCycleMultiplier == 0 {
			region.SalesCycleMultiplier = 1
		}
		if len(sr.Regulations) > 0 {
			raw, err := json.Marshal(sr.Regulations)
			if err != nil {
				return nil, eris.Wrapf(err, "store: region %s regulations", code)
			}
			region.Regulations = raw
		}
		out.Regions = append(out.Regions, region)

		for _, st := range sr.Territories {
			t, err := buildTerritory(region.ID, st, territoryByCode)
			if err != nil {
				return nil, eris.Wrapf(err, "store: region %s", code)
			}
			territoryByCode[t.Code] = &t
			out.Territories = append(out.Territories, t)
		}

		for _, sm := range sr.ScoreModifiers {
			depth := sm.StakeholderDepth
			if depth <= 0 {
				depth = model.StakeholderDepthFallback(code)
			}
			out.ScoreModifiers = append(out.ScoreModifiers, model.ScoreModifier{
				ID:                   SeedID("modifier", code, sm.Vertical),
				RegionID:             region.ID,
				VerticalID:           sm.Vertical,
				Modifiers:            sm.Modifiers,
				StakeholderDepthNorm: depth,
				Notes:                sm.Notes,
				Active:               true,
			})
		}

		for _, sp := range sr.TimingPacks {
			if sp.Name == "" {
				sp.Name = model.DefaultPackName
			}
			out.TimingPacks = append(out.TimingPacks, model.TimingPack{
				ID:                   SeedID("pack", code, sp.Name),
				RegionID:             region.ID,
				Name:                 sp.Name,
				OptimalDays:          sp.Days,
				OptimalHoursStart:    sp.Hours[0],
				OptimalHoursEnd:      sp.Hours[1],
				ContactFrequencyDays: sp.ContactFrequencyDays,
				FollowUpDelayDays:    sp.FollowUpDelayDays,
				MaxAttempts:          sp.MaxAttempts,
				Active:               true,
			})
		}
	}
	return out, nil
}

// buildTerritory requires parents to be declared before their children.
func buildTerritory(regionID string, st SeedTerritory, known map[string]*model.Territory) (model.Territory, error) {
	code := model.NormalizeCode(st.Code)
	t := model.Territory{
		ID:                 SeedID("territory", code),
		RegionID:           regionID,
		Code:               code,
		Name:               st.Name,
		Level:              st.Level,
		Latitude:           st.Latitude,
		Longitude:          st.Longitude,
		PopulationEstimate: st.Population,
		TimezoneOverride:   st.Timezone,
		Metadata:           st.Metadata,
		Active:             true,
	}
	if code == "" {
		return t, eris.New("territory missing code")
	}
	if _, dup := known[code]; dup {
		return t, eris.Errorf("duplicate territory %s", code)
	}
	if t.Level < model.LevelCountry || t.Level > model.LevelCity {
		return t, eris.Errorf("territory %s: level %d out of range", code, t.Level)
	}

	parentCode := model.NormalizeCode(st.Parent)
	if t.Level == model.LevelCountry {
		if parentCode != "" {
			return t, eris.Errorf("territory %s: level-1 territory cannot have a parent", code)
		}
		return t, nil
	}
	if parentCode == "" {
		return t, nil
	}
	parent, ok := known[parentCode]
	if !ok {
		return t, eris.Errorf("territory %s: unknown parent %s", code, parentCode)
	}
	if parent.Level >= t.Level {
		return t, eris.Errorf("territory %s: parent %s level %d is not above %d", code, parentCode, parent.Level, t.Level)
	}
	t.ParentID = parent.ID
	return t, nil
}
