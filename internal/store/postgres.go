package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/region-engine/internal/db"
	"github.com/sells-group/region-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close does not close the pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS region_profiles (
	region_id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	regulations            JSONB,
	scoring_modifiers      JSONB,
	sales_cycle_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	preferred_channels     JSONB,
	active                 BOOLEAN NOT NULL DEFAULT true,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS territory_definitions (
	territory_id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	region_id           TEXT NOT NULL REFERENCES region_profiles(region_id),
	territory_code      TEXT NOT NULL UNIQUE,
	territory_name      TEXT NOT NULL,
	territory_level     INTEGER NOT NULL CHECK (territory_level BETWEEN 1 AND 3),
	parent_territory_id TEXT REFERENCES territory_definitions(territory_id),
	latitude            DOUBLE PRECISION,
	longitude           DOUBLE PRECISION,
	population_estimate BIGINT,
	timezone_override   TEXT,
	metadata            JSONB,
	active              BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_territory_region ON territory_definitions(region_id);
CREATE INDEX IF NOT EXISTS idx_territory_parent ON territory_definitions(parent_territory_id);

CREATE TABLE IF NOT EXISTS region_score_modifiers (
	modifier_id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	region_id              TEXT NOT NULL REFERENCES region_profiles(region_id),
	vertical_id            TEXT,
	q_modifier             DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	t_modifier             DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	l_modifier             DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	e_modifier             DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	stakeholder_depth_norm INTEGER NOT NULL DEFAULT 3,
	notes                  TEXT,
	active                 BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_score_modifiers_region ON region_score_modifiers(region_id, vertical_id);

CREATE TABLE IF NOT EXISTS region_timing_packs (
	pack_id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	region_id              TEXT NOT NULL REFERENCES region_profiles(region_id),
	pack_name              TEXT NOT NULL,
	optimal_days           JSONB NOT NULL,
	optimal_hours_start    INTEGER NOT NULL,
	optimal_hours_end      INTEGER NOT NULL,
	contact_frequency_days INTEGER NOT NULL DEFAULT 3,
	follow_up_delay_days   INTEGER NOT NULL DEFAULT 3,
	max_attempts           INTEGER NOT NULL DEFAULT 5,
	metadata               JSONB,
	active                 BOOLEAN NOT NULL DEFAULT true,
	UNIQUE (region_id, pack_name)
);

CREATE TABLE IF NOT EXISTS tenant_region_bindings (
	binding_id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id                     TEXT NOT NULL,
	region_id                     TEXT NOT NULL REFERENCES region_profiles(region_id),
	is_default                    BOOLEAN NOT NULL DEFAULT false,
	coverage_territories          JSONB NOT NULL DEFAULT '[]',
	custom_scoring_modifiers      JSONB,
	custom_sales_cycle_multiplier DOUBLE PRECISION,
	custom_preferred_channels     JSONB,
	active                        BOOLEAN NOT NULL DEFAULT true,
	created_at                    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, region_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tenant_single_default
	ON tenant_region_bindings(tenant_id) WHERE is_default AND active;
`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate creates the region tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool if this store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Reference data ---

func (s *PostgresStore) ListRegions(ctx context.Context) ([]model.RegionProfile, error) {
	return pgList(ctx, s.pool, "regions",
		`SELECT `+regionColumns+` FROM region_profiles WHERE active ORDER BY region_code`,
		scanRegion)
}

func (s *PostgresStore) ListTerritories(ctx context.Context) ([]model.Territory, error) {
	return pgList(ctx, s.pool, "territories",
		`SELECT `+territoryColumns+` FROM territory_definitions WHERE active ORDER BY territory_level, territory_code`,
		scanTerritory)
}

func (s *PostgresStore) ListScoreModifiers(ctx context.Context) ([]model.ScoreModifier, error) {
	return pgList(ctx, s.pool, "score modifiers",
		`SELECT `+modifierColumns+` FROM region_score_modifiers WHERE active ORDER BY region_id, vertical_id NULLS FIRST, modifier_id`,
		scanModifier)
}

func (s *PostgresStore) ListTimingPacks(ctx context.Context) ([]model.TimingPack, error) {
	return pgList(ctx, s.pool, "timing packs",
		`SELECT `+packColumns+` FROM region_timing_packs WHERE active ORDER BY region_id, pack_name`,
		scanPack)
}

// ListTerritoriesWhere returns a region's active territories matching a
// parameterized predicate whose placeholders start at $2.
func (s *PostgresStore) ListTerritoriesWhere(ctx context.Context, regionID, clause string, args []any) ([]model.Territory, error) {
	return pgList(ctx, s.pool, "territories",
		`SELECT `+territoryColumns+` FROM territory_definitions WHERE active AND region_id = $1 AND `+clause+`
		ORDER BY territory_level, territory_code`,
		scanTerritory, append([]any{regionID}, args...)...)
}

func pgList[T any](ctx context.Context, pool db.Pool, what, query string, scan func(scannable) (T, error), args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", what)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: list %s", what)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: iterate %s", what)
	}
	return out, nil
}

// --- Bindings ---

func (s *PostgresStore) ListBindings(ctx context.Context, tenantID string) ([]model.TenantRegionBinding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bindingColumns+` FROM tenant_region_bindings
		WHERE tenant_id = $1 AND active ORDER BY is_default DESC, created_at, region_id`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list bindings for tenant %s", tenantID)
	}
	defer rows.Close()

	var out []model.TenantRegionBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan binding")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate bindings")
}

func (s *PostgresStore) GetBinding(ctx context.Context, tenantID, regionID string) (*model.TenantRegionBinding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bindingColumns+` FROM tenant_region_bindings
		WHERE tenant_id = $1 AND region_id = $2 AND active`,
		tenantID, regionID,
	)
	return pgBindingResult(row, "get binding")
}

func (s *PostgresStore) GetDefaultBinding(ctx context.Context, tenantID string) (*model.TenantRegionBinding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bindingColumns+` FROM tenant_region_bindings
		WHERE tenant_id = $1 AND is_default AND active LIMIT 1`,
		tenantID,
	)
	return pgBindingResult(row, "get default binding")
}

func (s *PostgresStore) UpsertBinding(ctx context.Context, b model.TenantRegionBinding) (*model.TenantRegionBinding, error) {
	args, err := bindingArgs(b)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert binding: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if b.IsDefault {
		if err := pgClearDefault(ctx, tx, b.TenantID, args.now); err != nil {
			return nil, err
		}
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO tenant_region_bindings (binding_id, tenant_id, region_id, is_default, coverage_territories,
			custom_scoring_modifiers, custom_sales_cycle_multiplier, custom_preferred_channels, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $9)
		ON CONFLICT (tenant_id, region_id) DO UPDATE SET
			is_default = EXCLUDED.is_default,
			coverage_territories = EXCLUDED.coverage_territories,
			custom_scoring_modifiers = EXCLUDED.custom_scoring_modifiers,
			custom_sales_cycle_multiplier = EXCLUDED.custom_sales_cycle_multiplier,
			custom_preferred_channels = EXCLUDED.custom_preferred_channels,
			active = true,
			updated_at = EXCLUDED.updated_at
		RETURNING `+bindingColumns,
		args.id, b.TenantID, b.RegionID, b.IsDefault, args.coverage,
		args.modifiers, b.CustomSalesCycleMultiplier, args.channels, args.now,
	)
	out, err := scanBinding(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert binding")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert binding: commit")
	}
	return out, nil
}

func (s *PostgresStore) SetDefaultBinding(ctx context.Context, tenantID, regionID string) (*model.TenantRegionBinding, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: set default: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := pgClearDefault(ctx, tx, tenantID, now); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO tenant_region_bindings (binding_id, tenant_id, region_id, is_default, coverage_territories,
			active, created_at, updated_at)
		VALUES ($1, $2, $3, true, '[]', true, $4, $4)
		ON CONFLICT (tenant_id, region_id) DO UPDATE SET
			is_default = true,
			active = true,
			updated_at = EXCLUDED.updated_at
		RETURNING `+bindingColumns,
		uuid.New().String(), tenantID, regionID, now,
	)
	out, err := scanBinding(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: set default binding")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: set default: commit")
	}
	return out, nil
}

func (s *PostgresStore) DeactivateBinding(ctx context.Context, tenantID, regionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenant_region_bindings SET active = false, is_default = false, updated_at = $3
		WHERE tenant_id = $1 AND region_id = $2 AND active`,
		tenantID, regionID, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate binding %s/%s", tenantID, regionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "binding %s/%s", tenantID, regionID)
	}
	return nil
}

func (s *PostgresStore) UpdateCoverage(ctx context.Context, tenantID, regionID string, coverage []string) (*model.TenantRegionBinding, error) {
	coverageJSON, err := json.Marshal(normalizeCoverage(coverage))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal coverage")
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE tenant_region_bindings SET coverage_territories = $3, updated_at = $4
		WHERE tenant_id = $1 AND region_id = $2 AND active
		RETURNING `+bindingColumns,
		tenantID, regionID, coverageJSON, time.Now().UTC(),
	)
	return pgBindingResult(row, "update coverage")
}

func (s *PostgresStore) UpdateCustomizations(ctx context.Context, tenantID, regionID string, c Customizations) (*model.TenantRegionBinding, error) {
	mods, err := marshalNullable(c.ScoringModifiers, c.ScoringModifiers.IsEmpty())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal modifiers")
	}
	channels, err := marshalNullable(c.PreferredChannels, len(c.PreferredChannels) == 0)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal channels")
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE tenant_region_bindings SET custom_scoring_modifiers = $3, custom_sales_cycle_multiplier = $4,
			custom_preferred_channels = $5, updated_at = $6
		WHERE tenant_id = $1 AND region_id = $2 AND active
		RETURNING `+bindingColumns,
		tenantID, regionID, mods, c.SalesCycleMultiplier, channels, time.Now().UTC(),
	)
	return pgBindingResult(row, "update customizations")
}

func pgClearDefault(ctx context.Context, tx pgx.Tx, tenantID string, now time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE tenant_region_bindings SET is_default = false, updated_at = $2
		WHERE tenant_id = $1 AND is_default`,
		tenantID, now,
	)
	return eris.Wrapf(err, "postgres: clear default for tenant %s", tenantID)
}

func pgBindingResult(row pgx.Row, op string) (*model.TenantRegionBinding, error) {
	b, err := scanBinding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, op)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	return b, nil
}

type encodedBinding struct {
	id        string
	coverage  []byte
	modifiers []byte
	channels  []byte
	now       time.Time
}

func bindingArgs(b model.TenantRegionBinding) (encodedBinding, error) {
	e := encodedBinding{id: b.ID, now: time.Now().UTC()}
	if e.id == "" {
		e.id = uuid.New().String()
	}
	var err error
	if e.coverage, err = json.Marshal(normalizeCoverage(b.CoverageTerritories)); err != nil {
		return e, eris.Wrap(err, "store: marshal coverage")
	}
	if e.modifiers, err = marshalNullable(b.CustomScoringModifiers, b.CustomScoringModifiers.IsEmpty()); err != nil {
		return e, eris.Wrap(err, "store: marshal modifiers")
	}
	if e.channels, err = marshalNullable(b.CustomPreferredChannels, len(b.CustomPreferredChannels) == 0); err != nil {
		return e, eris.Wrap(err, "store: marshal channels")
	}
	return e, nil
}
