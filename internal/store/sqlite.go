package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/region-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS region_profiles (
	region_id              TEXT PRIMARY KEY,
	region_code            TEXT NOT NULL UNIQUE,
	region_name            TEXT NOT NULL,
	country_code           TEXT NOT NULL DEFAULT '',
	granularity_level      TEXT NOT NULL DEFAULT 'country',
	timezone               TEXT NOT NULL DEFAULT 'UTC',
	currency_code          TEXT NOT NULL DEFAULT 'USD',
	work_week_start        INTEGER NOT NULL DEFAULT 1,
	work_week_end          INTEGER NOT NULL DEFAULT 5,
	business_hours_start   INTEGER NOT NULL DEFAULT 9,
	business_hours_end     INTEGER NOT NULL DEFAULT 17,
	regulations            TEXT,
	scoring_modifiers      TEXT,
	sales_cycle_multiplier REAL NOT NULL DEFAULT 1.0,
	preferred_channels     TEXT,
	active                 BOOLEAN NOT NULL DEFAULT 1,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS territory_definitions (
	territory_id        TEXT PRIMARY KEY,
	region_id           TEXT NOT NULL REFERENCES region_profiles(region_id),
	territory_code      TEXT NOT NULL UNIQUE,
	territory_name      TEXT NOT NULL,
	territory_level     INTEGER NOT NULL CHECK (territory_level BETWEEN 1 AND 3),
	parent_territory_id TEXT REFERENCES territory_definitions(territory_id),
	latitude            REAL,
	longitude           REAL,
	population_estimate INTEGER,
	timezone_override   TEXT,
	metadata            TEXT,
	active              BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS region_score_modifiers (
	modifier_id            TEXT PRIMARY KEY,
	region_id              TEXT NOT NULL REFERENCES region_profiles(region_id),
	vertical_id            TEXT,
	q_modifier             REAL NOT NULL DEFAULT 1.0,
	t_modifier             REAL NOT NULL DEFAULT 1.0,
	l_modifier             REAL NOT NULL DEFAULT 1.0,
	e_modifier             REAL NOT NULL DEFAULT 1.0,
	stakeholder_depth_norm INTEGER NOT NULL DEFAULT 3,
	notes                  TEXT,
	active                 BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS region_timing_packs (
	pack_id                TEXT PRIMARY KEY,
	region_id              TEXT NOT NULL REFERENCES region_profiles(region_id),
	pack_name              TEXT NOT NULL,
	optimal_days           TEXT NOT NULL,
	optimal_hours_start    INTEGER NOT NULL,
	optimal_hours_end      INTEGER NOT NULL,
	contact_frequency_days INTEGER NOT NULL DEFAULT 3,
	follow_up_delay_days   INTEGER NOT NULL DEFAULT 3,
	max_attempts           INTEGER NOT NULL DEFAULT 5,
	metadata               TEXT,
	active                 BOOLEAN NOT NULL DEFAULT 1,
	UNIQUE (region_id, pack_name)
);

CREATE TABLE IF NOT EXISTS tenant_region_bindings (
	binding_id                    TEXT PRIMARY KEY,
	tenant_id                     TEXT NOT NULL,
	region_id                     TEXT NOT NULL REFERENCES region_profiles(region_id),
	is_default                    BOOLEAN NOT NULL DEFAULT 0,
	coverage_territories          TEXT NOT NULL DEFAULT '[]',
	custom_scoring_modifiers      TEXT,
	custom_sales_cycle_multiplier REAL,
	custom_preferred_channels     TEXT,
	active                        BOOLEAN NOT NULL DEFAULT 1,
	created_at                    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at                    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tenant_id, region_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tenant_single_default
	ON tenant_region_bindings(tenant_id) WHERE is_default AND active;
`

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate creates the region tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Reference data ---

func (s *SQLiteStore) ListRegions(ctx context.Context) ([]model.RegionProfile, error) {
	return sqliteList(ctx, s.db, "regions",
		`SELECT `+regionColumns+` FROM region_profiles WHERE active ORDER BY region_code`,
		scanRegion)
}

func (s *SQLiteStore) ListTerritories(ctx context.Context) ([]model.Territory, error) {
	return sqliteList(ctx, s.db, "territories",
		`SELECT `+territoryColumns+` FROM territory_definitions WHERE active ORDER BY territory_level, territory_code`,
		scanTerritory)
}

func (s *SQLiteStore) ListScoreModifiers(ctx context.Context) ([]model.ScoreModifier, error) {
	return sqliteList(ctx, s.db, "score modifiers",
		`SELECT `+modifierColumns+` FROM region_score_modifiers WHERE active ORDER BY region_id, vertical_id IS NOT NULL, vertical_id, modifier_id`,
		scanModifier)
}

func (s *SQLiteStore) ListTimingPacks(ctx context.Context) ([]model.TimingPack, error) {
	return sqliteList(ctx, s.db, "timing packs",
		`SELECT `+packColumns+` FROM region_timing_packs WHERE active ORDER BY region_id, pack_name`,
		scanPack)
}

// ListTerritoriesWhere returns a region's active territories matching a
// parameterized predicate whose placeholders start at $2. Postgres-style
// placeholders are rewritten to SQLite's numbered form.
func (s *SQLiteStore) ListTerritoriesWhere(ctx context.Context, regionID, clause string, args []any) ([]model.Territory, error) {
	return sqliteList(ctx, s.db, "territories",
		`SELECT `+territoryColumns+` FROM territory_definitions WHERE active AND region_id = ?1 AND `+
			pgPlaceholder.ReplaceAllString(clause, "?$1")+` ORDER BY territory_level, territory_code`,
		scanTerritory, append([]any{regionID}, args...)...)
}

var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

func sqliteList[T any](ctx context.Context, db *sql.DB, what, query string, scan func(scannable) (T, error), args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", what)
	}
	defer rows.Close() //nolint:errcheck

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: list %s", what)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", what)
}

// --- Bindings ---

func (s *SQLiteStore) ListBindings(ctx context.Context, tenantID string) ([]model.TenantRegionBinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bindingColumns+` FROM tenant_region_bindings
		WHERE tenant_id = ? AND active ORDER BY is_default DESC, created_at, region_id`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list bindings for tenant %s", tenantID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TenantRegionBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan binding")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate bindings")
}

func (s *SQLiteStore) GetBinding(ctx context.Context, tenantID, regionID string) (*model.TenantRegionBinding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM tenant_region_bindings
		WHERE tenant_id = ? AND region_id = ? AND active`,
		tenantID, regionID,
	)
	return sqliteBindingResult(row, "get binding")
}

func (s *SQLiteStore) GetDefaultBinding(ctx context.Context, tenantID string) (*model.TenantRegionBinding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM tenant_region_bindings
		WHERE tenant_id = ? AND is_default AND active LIMIT 1`,
		tenantID,
	)
	return sqliteBindingResult(row, "get default binding")
}

func (s *SQLiteStore) UpsertBinding(ctx context.Context, b model.TenantRegionBinding) (*model.TenantRegionBinding, error) {
	args, err := bindingArgs(b)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert binding: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if b.IsDefault {
		if err := sqliteClearDefault(ctx, tx, b.TenantID, args.now); err != nil {
			return nil, err
		}
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO tenant_region_bindings (binding_id, tenant_id, region_id, is_default, coverage_territories,
			custom_scoring_modifiers, custom_sales_cycle_multiplier, custom_preferred_channels, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (tenant_id, region_id) DO UPDATE SET
			is_default = excluded.is_default,
			coverage_territories = excluded.coverage_territories,
			custom_scoring_modifiers = excluded.custom_scoring_modifiers,
			custom_sales_cycle_multiplier = excluded.custom_sales_cycle_multiplier,
			custom_preferred_channels = excluded.custom_preferred_channels,
			active = 1,
			updated_at = excluded.updated_at
		RETURNING `+bindingColumns,
		args.id, b.TenantID, b.RegionID, b.IsDefault, string(args.coverage),
		nullableText(args.modifiers), b.CustomSalesCycleMultiplier, nullableText(args.channels), args.now, args.now,
	)
	out, err := scanBinding(row)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert binding")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert binding: commit")
	}
	return out, nil
}

func (s *SQLiteStore) SetDefaultBinding(ctx context.Context, tenantID, regionID string) (*model.TenantRegionBinding, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: set default: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := sqliteClearDefault(ctx, tx, tenantID, now); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO tenant_region_bindings (binding_id, tenant_id, region_id, is_default, coverage_territories,
			active, created_at, updated_at)
		VALUES (?, ?, ?, 1, '[]', 1, ?, ?)
		ON CONFLICT (tenant_id, region_id) DO UPDATE SET
			is_default = 1,
			active = 1,
			updated_at = excluded.updated_at
		RETURNING `+bindingColumns,
		uuid.New().String(), tenantID, regionID, now, now,
	)
	out, err := scanBinding(row)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: set default binding")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: set default: commit")
	}
	return out, nil
}

func (s *SQLiteStore) DeactivateBinding(ctx context.Context, tenantID, regionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenant_region_bindings SET active = 0, is_default = 0, updated_at = ?
		WHERE tenant_id = ? AND region_id = ? AND active`,
		time.Now().UTC(), tenantID, regionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate binding %s/%s", tenantID, regionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "binding %s/%s", tenantID, regionID)
	}
	return nil
}

func (s *SQLiteStore) UpdateCoverage(ctx context.Context, tenantID, regionID string, coverage []string) (*model.TenantRegionBinding, error) {
	coverageJSON, err := json.Marshal(normalizeCoverage(coverage))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal coverage")
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE tenant_region_bindings SET coverage_territories = ?, updated_at = ?
		WHERE tenant_id = ? AND region_id = ? AND active
		RETURNING `+bindingColumns,
		string(coverageJSON), time.Now().UTC(), tenantID, regionID,
	)
	return sqliteBindingResult(row, "update coverage")
}

func (s *SQLiteStore) UpdateCustomizations(ctx context.Context, tenantID, regionID string, c Customizations) (*model.TenantRegionBinding, error) {
	mods, err := marshalNullable(c.ScoringModifiers, c.ScoringModifiers.IsEmpty())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal modifiers")
	}
	channels, err := marshalNullable(c.PreferredChannels, len(c.PreferredChannels) == 0)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal channels")
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE tenant_region_bindings SET custom_scoring_modifiers = ?, custom_sales_cycle_multiplier = ?,
			custom_preferred_channels = ?, updated_at = ?
		WHERE tenant_id = ? AND region_id = ? AND active
		RETURNING `+bindingColumns,
		nullableText(mods), c.SalesCycleMultiplier, nullableText(channels), time.Now().UTC(), tenantID, regionID,
	)
	return sqliteBindingResult(row, "update customizations")
}

// ImportSeed replaces seed rows inside one transaction, parents before children.
func (s *SQLiteStore) ImportSeed(ctx context.Context, data *SeedData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: seed: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range data.Regions {
		mods, err := json.Marshal(r.Modifiers)
		if err != nil {
			return eris.Wrap(err, "sqlite: seed: marshal modifiers")
		}
		channels, err := json.Marshal(r.PreferredChannels)
		if err != nil {
			return eris.Wrap(err, "sqlite: seed: marshal channels")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO region_profiles (`+regionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Code, r.Name, r.CountryCode, string(r.Granularity), r.Timezone, r.Currency,
			r.WorkWeekStart, r.WorkWeekEnd, r.BusinessHoursStart, r.BusinessHoursEnd,
			nullableText(r.Regulations), string(mods), r.SalesCycleMultiplier, string(channels),
			r.Active, r.CreatedAt, r.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: seed region %s", r.Code)
		}
	}

	for _, t := range data.Territories {
		metadata, err := marshalNullable(t.Metadata, len(t.Metadata) == 0)
		if err != nil {
			return eris.Wrap(err, "sqlite: seed: marshal territory metadata")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO territory_definitions (`+territoryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.RegionID, t.Code, t.Name, t.Level, nullableString(t.ParentID), t.Latitude, t.Longitude,
			t.PopulationEstimate, nullableString(t.TimezoneOverride), nullableText(metadata), t.Active,
		); err != nil {
			return eris.Wrapf(err, "sqlite: seed territory %s", t.Code)
		}
	}

	for _, m := range data.ScoreModifiers {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO region_score_modifiers (`+modifierColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.RegionID, nullableString(m.VerticalID), m.Modifiers.Q, m.Modifiers.T, m.Modifiers.L, m.Modifiers.E,
			m.StakeholderDepthNorm, nullableString(m.Notes), m.Active,
		); err != nil {
			return eris.Wrapf(err, "sqlite: seed modifier %s", m.ID)
		}
	}

	for _, p := range data.TimingPacks {
		days, err := json.Marshal(p.OptimalDays)
		if err != nil {
			return eris.Wrap(err, "sqlite: seed: marshal optimal days")
		}
		metadata, err := marshalNullable(p.Metadata, len(p.Metadata) == 0)
		if err != nil {
			return eris.Wrap(err, "sqlite: seed: marshal pack metadata")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO region_timing_packs (`+packColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.RegionID, p.Name, string(days), p.OptimalHoursStart, p.OptimalHoursEnd,
			p.ContactFrequencyDays, p.FollowUpDelayDays, p.MaxAttempts, nullableText(metadata), p.Active,
		); err != nil {
			return eris.Wrapf(err, "sqlite: seed timing pack %s", p.Name)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: seed: commit")
}

func sqliteClearDefault(ctx context.Context, tx *sql.Tx, tenantID string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE tenant_region_bindings SET is_default = 0, updated_at = ?
		WHERE tenant_id = ? AND is_default`,
		now, tenantID,
	)
	return eris.Wrapf(err, "sqlite: clear default for tenant %s", tenantID)
}

func sqliteBindingResult(row *sql.Row, op string) (*model.TenantRegionBinding, error) {
	b, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, op)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	return b, nil
}

// nullableText stores JSON as TEXT, mapping empty payloads to NULL.
func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
