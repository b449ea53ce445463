package store

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/region-engine/internal/model"
)

// Column lists shared by the Postgres and SQLite backends.
const (
	regionColumns = `region_id, region_code, region_name, country_code, granularity_level, timezone,
	currency_code, work_week_start, work_week_end, business_hours_start, business_hours_end,
	regulations, scoring_modifiers, sales_cycle_multiplier, preferred_channels, active,
	created_at, updated_at`

	territoryColumns = `territory_id, region_id, territory_code, territory_name, territory_level,
	parent_territory_id, latitude, longitude, population_estimate, timezone_override, metadata, active`

	modifierColumns = `modifier_id, region_id, vertical_id, q_modifier, t_modifier, l_modifier,
	e_modifier, stakeholder_depth_norm, notes, active`

	packColumns = `pack_id, region_id, pack_name, optimal_days, optimal_hours_start, optimal_hours_end,
	contact_frequency_days, follow_up_delay_days, max_attempts, metadata, active`

	bindingColumns = `binding_id, tenant_id, region_id, is_default, coverage_territories,
	custom_scoring_modifiers, custom_sales_cycle_multiplier, custom_preferred_channels, active,
	created_at, updated_at`
)

// scannable is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanRegion(row scannable) (model.RegionProfile, error) {
	var r model.RegionProfile
	var granularity string
	var regulations, modifiers, channels []byte
	err := row.Scan(
		&r.ID, &r.Code, &r.Name, &r.CountryCode, &granularity, &r.Timezone,
		&r.Currency, &r.WorkWeekStart, &r.WorkWeekEnd, &r.BusinessHoursStart, &r.BusinessHoursEnd,
		&regulations, &modifiers, &r.SalesCycleMultiplier, &channels, &r.Active,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, eris.Wrap(err, "scan region")
	}
	r.Granularity = model.ParseGranularity(granularity)
	if len(regulations) > 0 {
		r.Regulations = json.RawMessage(regulations)
	}
	r.Modifiers = model.NeutralModifiers()
	if err := unmarshalOptional(modifiers, &r.Modifiers); err != nil {
		return r, eris.Wrapf(err, "region %s: scoring_modifiers", r.Code)
	}
	if err := unmarshalOptional(channels, &r.PreferredChannels); err != nil {
		return r, eris.Wrapf(err, "region %s: preferred_channels", r.Code)
	}
	if r.SalesCycleMultiplier <= 0 {
		r.SalesCycleMultiplier = 1
	}
	return r, nil
}

func scanTerritory(row scannable) (model.Territory, error) {
	var t model.Territory
	var parentID, tzOverride *string
	var population *int64
	var metadata []byte
	err := row.Scan(
		&t.ID, &t.RegionID, &t.Code, &t.Name, &t.Level,
		&parentID, &t.Latitude, &t.Longitude, &population, &tzOverride, &metadata, &t.Active,
	)
	if err != nil {
		return t, eris.Wrap(err, "scan territory")
	}
	t.Code = model.NormalizeCode(t.Code)
	if parentID != nil {
		t.ParentID = *parentID
	}
	if tzOverride != nil {
		t.TimezoneOverride = *tzOverride
	}
	if population != nil {
		t.PopulationEstimate = *population
	}
	if err := unmarshalOptional(metadata, &t.Metadata); err != nil {
		return t, eris.Wrapf(err, "territory %s: metadata", t.Code)
	}
	return t, nil
}

func scanModifier(row scannable) (model.ScoreModifier, error) {
	var m model.ScoreModifier
	var verticalID, notes *string
	err := row.Scan(
		&m.ID, &m.RegionID, &verticalID, &m.Modifiers.Q, &m.Modifiers.T, &m.Modifiers.L,
		&m.Modifiers.E, &m.StakeholderDepthNorm, &notes, &m.Active,
	)
	if err != nil {
		return m, eris.Wrap(err, "scan score modifier")
	}
	if verticalID != nil {
		m.VerticalID = *verticalID
	}
	if notes != nil {
		m.Notes = *notes
	}
	return m, nil
}

func scanPack(row scannable) (model.TimingPack, error) {
	var p model.TimingPack
	var days, metadata []byte
	err := row.Scan(
		&p.ID, &p.RegionID, &p.Name, &days, &p.OptimalHoursStart, &p.OptimalHoursEnd,
		&p.ContactFrequencyDays, &p.FollowUpDelayDays, &p.MaxAttempts, &metadata, &p.Active,
	)
	if err != nil {
		return p, eris.Wrap(err, "scan timing pack")
	}
	if err := unmarshalOptional(days, &p.OptimalDays); err != nil {
		return p, eris.Wrapf(err, "timing pack %s: optimal_days", p.Name)
	}
	if err := unmarshalOptional(metadata, &p.Metadata); err != nil {
		return p, eris.Wrapf(err, "timing pack %s: metadata", p.Name)
	}
	return p, nil
}

func scanBinding(row scannable) (*model.TenantRegionBinding, error) {
	var b model.TenantRegionBinding
	var coverage, mods, channels []byte
	err := row.Scan(
		&b.ID, &b.TenantID, &b.RegionID, &b.IsDefault, &coverage,
		&mods, &b.CustomSalesCycleMultiplier, &channels, &b.Active,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalOptional(coverage, &b.CoverageTerritories); err != nil {
		return nil, eris.Wrap(err, "binding: coverage_territories")
	}
	if len(mods) > 0 && string(mods) != "null" {
		b.CustomScoringModifiers = &model.ModifierOverride{}
		if err := json.Unmarshal(mods, b.CustomScoringModifiers); err != nil {
			return nil, eris.Wrap(err, "binding: custom_scoring_modifiers")
		}
		if b.CustomScoringModifiers.IsEmpty() {
			b.CustomScoringModifiers = nil
		}
	}
	if err := unmarshalOptional(channels, &b.CustomPreferredChannels); err != nil {
		return nil, eris.Wrap(err, "binding: custom_preferred_channels")
	}
	if b.CoverageTerritories == nil {
		b.CoverageTerritories = []string{}
	}
	return &b, nil
}

func unmarshalOptional(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

// marshalNullable encodes v as JSON, returning nil (SQL NULL) for empty values.
func marshalNullable(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

// normalizeCoverage upper-cases and de-duplicates coverage entries.
func normalizeCoverage(coverage []string) []string {
	out := make([]string, 0, len(coverage))
	seen := make(map[string]bool, len(coverage))
	for _, c := range coverage {
		c = model.NormalizeCode(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// splitColumns turns one of the column-list constants into identifiers.
func splitColumns(list string) []string {
	var cols []string
	for _, c := range strings.Split(list, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}
