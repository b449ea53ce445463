package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/region-engine/internal/db"
)

// ImportSeed bulk-upserts seed rows, parents before children.
func (s *PostgresStore) ImportSeed(ctx context.Context, data *SeedData) error {
	regionRows := make([][]any, 0, len(data.Regions))
	for _, r := range data.Regions {
		mods, err := json.Marshal(r.Modifiers)
		if err != nil {
			return eris.Wrap(err, "postgres: seed: marshal modifiers")
		}
		channels, err := json.Marshal(r.PreferredChannels)
		if err != nil {
			return eris.Wrap(err, "postgres: seed: marshal channels")
		}
		var regulations []byte
		if len(r.Regulations) > 0 {
			regulations = r.Regulations
		}
		regionRows = append(regionRows, []any{
			r.ID, r.Code, r.Name, r.CountryCode, string(r.Granularity), r.Timezone, r.Currency,
			r.WorkWeekStart, r.WorkWeekEnd, r.BusinessHoursStart, r.BusinessHoursEnd,
			regulations, mods, r.SalesCycleMultiplier, channels, r.Active, r.CreatedAt, r.UpdatedAt,
		})
	}

	territoryRows := make([][]any, 0, len(data.Territories))
	for _, t := range data.Territories {
		var parent, tz *string
		if t.ParentID != "" {
			parent = &t.ParentID
		}
		if t.TimezoneOverride != "" {
			tz = &t.TimezoneOverride
		}
		metadata, err := marshalNullable(t.Metadata, len(t.Metadata) == 0)
		if err != nil {
			return eris.Wrap(err, "postgres: seed: marshal territory metadata")
		}
		territoryRows = append(territoryRows, []any{
			t.ID, t.RegionID, t.Code, t.Name, t.Level, parent, t.Latitude, t.Longitude,
			t.PopulationEstimate, tz, metadata, t.Active,
		})
	}

	modifierRows := make([][]any, 0, len(data.ScoreModifiers))
	for _, m := range data.ScoreModifiers {
		var vertical *string
		if m.VerticalID != "" {
			vertical = &m.VerticalID
		}
		modifierRows = append(modifierRows, []any{
			m.ID, m.RegionID, vertical, m.Modifiers.Q, m.Modifiers.T, m.Modifiers.L, m.Modifiers.E,
			m.StakeholderDepthNorm, m.Notes, m.Active,
		})
	}

	packRows := make([][]any, 0, len(data.TimingPacks))
	for _, p := range data.TimingPacks {
		days, err := json.Marshal(p.OptimalDays)
		if err != nil {
			return eris.Wrap(err, "postgres: seed: marshal optimal days")
		}
		metadata, err := marshalNullable(p.Metadata, len(p.Metadata) == 0)
		if err != nil {
			return eris.Wrap(err, "postgres: seed: marshal pack metadata")
		}
		packRows = append(packRows, []any{
			p.ID, p.RegionID, p.Name, days, p.OptimalHoursStart, p.OptimalHoursEnd,
			p.ContactFrequencyDays, p.FollowUpDelayDays, p.MaxAttempts, metadata, p.Active,
		})
	}

	steps := []struct {
		cfg  db.UpsertConfig
		rows [][]any
	}{
		{db.UpsertConfig{Table: "region_profiles", Columns: splitColumns(regionColumns), ConflictKeys: []string{"region_id"}}, regionRows},
		{db.UpsertConfig{Table: "territory_definitions", Columns: splitColumns(territoryColumns), ConflictKeys: []string{"territory_id"}}, territoryRows},
		{db.UpsertConfig{Table: "region_score_modifiers", Columns: splitColumns(modifierColumns), ConflictKeys: []string{"modifier_id"}}, modifierRows},
		{db.UpsertConfig{Table: "region_timing_packs", Columns: splitColumns(packColumns), ConflictKeys: []string{"pack_id"}}, packRows},
	}
	for _, step := range steps {
		n, err := db.BulkUpsert(ctx, s.pool, step.cfg, step.rows)
		if err != nil {
			return eris.Wrapf(err, "postgres: seed %s", step.cfg.Table)
		}
		zap.L().Info("store: seeded table",
			zap.String("table", step.cfg.Table),
			zap.Int64("rows", n),
		)
	}
	return nil
}
