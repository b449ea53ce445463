package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/region-engine/internal/config"
	"github.com/sells-group/region-engine/internal/granularity"
	"github.com/sells-group/region-engine/internal/metrics"
	"github.com/sells-group/region-engine/internal/pipeline"
	"github.com/sells-group/region-engine/internal/reachability"
	"github.com/sells-group/region-engine/internal/registry"
	"github.com/sells-group/region-engine/internal/resilience"
	"github.com/sells-group/region-engine/internal/scorer"
	"github.com/sells-group/region-engine/internal/store"
	"github.com/sells-group/region-engine/internal/tenantregion"
	"github.com/sells-group/region-engine/internal/territory"
	"github.com/sells-group/region-engine/internal/timing"
)

// engine holds every wired component for a command. Store and Tenants are
// nil when the engine runs offline from a seed file.
type engine struct {
	Store       store.Store
	Metrics     *metrics.Metrics
	Registry    *registry.Registry
	Territories *territory.Service
	Tenants     *tenantregion.Service
	Filter      *reachability.Filter
	Scorer      *scorer.Service
	Timing      *timing.Service
	Granularity *granularity.Resolver
	Builder     *pipeline.Builder
}

// Close releases the store.
func (e *engine) Close() {
	if e.Store == nil {
		return
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "region.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initEngine opens the store and wires the services. reg may be nil, in
// which case collectors are not registered.
func initEngine(ctx context.Context, c *config.Config, reg prometheus.Registerer) (*engine, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	eng, err := newEngine(ctx, c, st, st, reg)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return eng, nil
}

// initOfflineEngine serves reference data from a seed file. Tenant bindings
// are unavailable, so contexts never carry a binding.
func initOfflineEngine(ctx context.Context, c *config.Config, seedPath string) (*engine, error) {
	loader, err := registry.LoadFixture(seedPath)
	if err != nil {
		return nil, err
	}
	return newEngine(ctx, c, loader, nil, nil)
}

// newEngine wires the services over loader. st may be nil for offline use.
func newEngine(ctx context.Context, c *config.Config, loader store.RegionReader, st store.Store, promReg prometheus.Registerer) (*engine, error) {
	var m *metrics.Metrics
	if promReg != nil {
		m = metrics.New(promReg)
	}

	reg := registry.New(loader,
		registry.WithTTL(c.Registry.TTL()),
		registry.WithDefaultRegionCode(c.Registry.DefaultRegionCode),
		registry.WithRetry(resilience.FromRetryConfig(c.Registry.RetryAttempts, c.Registry.RetryInitialMs, c.Registry.RetryMaxMs)),
		registry.WithBreakers(resilience.NewBreakers(breakerConfig(c.Registry, m))),
		registry.WithMetrics(m),
	)
	if err := reg.Initialize(ctx); err != nil {
		return nil, eris.Wrap(err, "init registry")
	}

	terr := territory.NewService(reg, territory.WithMetrics(m))
	eng := &engine{
		Store:       st,
		Metrics:     m,
		Registry:    reg,
		Territories: terr,
		Timing:      timing.NewService(reg),
		Granularity: granularity.NewResolver(reg, terr, c.Reachability.BatchConcurrency),
	}

	// Typed nils must not leak into the binding interfaces below.
	var bindings pipeline.TenantBindings
	if st != nil {
		eng.Tenants = tenantregion.NewService(st, reg, terr)
		bindings = eng.Tenants
	}

	eng.Filter = reachability.NewFilter(terr, bindings,
		reachability.WithMaxOffsetHours(c.Reachability.MaxOffsetHours),
		reachability.WithWorkdayHours(c.Reachability.WorkdayHours),
		reachability.WithConcurrency(c.Reachability.BatchConcurrency),
		reachability.WithMetrics(m),
	)
	sc, err := scorer.NewService(reg, bindings, scorer.WithConcurrency(c.Scoring.BatchConcurrency))
	if err != nil {
		return nil, eris.Wrap(err, "init scorer")
	}
	eng.Scorer = sc

	eng.Builder, err = pipeline.New(pipeline.Deps{
		Registry:    reg,
		Territories: terr,
		Tenants:     bindings,
		Filter:      eng.Filter,
		Scorer:      sc,
		Timing:      eng.Timing,
		Metrics:     m,
	})
	if err != nil {
		return nil, err
	}
	return eng, nil
}

func breakerConfig(rc config.RegistryConfig, m *metrics.Metrics) resilience.CircuitBreakerConfig {
	bc := resilience.FromCircuitConfig(rc.BreakerThreshold, rc.BreakerResetSecs)
	if m != nil {
		bc.Observer = m
	}
	bc.OnStateChange = func(table string, from, to resilience.CircuitState) {
		zap.L().Warn("registry: store circuit state changed",
			zap.String("table", table),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return bc
}

// offlineSeed, when set, makes read-only commands load reference data from a
// seed file instead of the store.
var offlineSeed string

// openEngine wires the engine for a CLI command without metrics.
func openEngine(cmd *cobra.Command) (*engine, error) {
	if offlineSeed != "" {
		if err := cfg.Validate("offline"); err != nil {
			return nil, err
		}
		return initOfflineEngine(cmd.Context(), cfg, offlineSeed)
	}
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return initEngine(cmd.Context(), cfg, nil)
}

// requireStore rejects commands that write or query bindings in offline mode.
func requireStore(eng *engine) error {
	if eng.Store == nil || eng.Tenants == nil {
		return eris.New("command needs a store; drop --seed")
	}
	return nil
}
