// Query entry points for the surrounding CLI and HTTP layers.
//
// An App is built once from the site configuration: the template resolver, the series assembler
// over the configured metrics, and the provider registry populated with the built-in providers
// (file-backed ones wherever a capability has a file template, database-backed ones when a
// database or offline cache is configured).  All state is immutable after New; queries are safe
// to run concurrently.

package app

import (
	"context"
	"time"

	"iostitch/cachingdb"
	"iostitch/common"
	"iostitch/config"
	"iostitch/datepath"
	"iostitch/errs"
	"iostitch/providers"
	"iostitch/providers/jobinfo"
	"iostitch/providers/lfsstatus"
	"iostitch/series"
)

type App struct {
	// MT: Immutable after initialization
	Config    *config.Config
	Registry  *providers.Registry
	Assembler *series.Assembler
	Resolver  *datepath.Resolver

	db *cachingdb.DB // nil when neither database nor cache file is configured
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	resolver := datepath.NewResolver(cfg.Location())

	metrics := make(map[string]series.Metric, len(cfg.Metrics))
	for name, mc := range cfg.Metrics {
		metrics[name] = series.Metric{Dataset: mc.Dataset, Template: mc.Template.Template()}
	}

	a := &App{
		Config:    cfg,
		Registry:  providers.NewRegistry(),
		Assembler: series.NewAssembler(resolver, metrics),
		Resolver:  resolver,
	}

	if tmpl := cfg.Files[jobinfo.Capability]; tmpl != nil {
		a.Registry.Register(jobinfo.Capability, "slurmfile",
			jobinfo.NewFileProvider(resolver, tmpl.Template(), cfg.Lookback()))
	}
	if tmpl := cfg.Files[lfsstatus.Capability]; tmpl != nil {
		a.Registry.Register(lfsstatus.Capability, "statusfile",
			lfsstatus.NewFileProvider(resolver, tmpl.Template()))
	}

	db, err := openDb(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.db = db
		a.Registry.Register(jobinfo.Capability, "jobsdb", jobinfo.NewDbProvider(db))
		a.Registry.Register(lfsstatus.Capability, "fsdb", lfsstatus.NewDbProvider(db))
	}
	return a, nil
}

// openDb prefers a live connection, degrading to an offline cache.  A configured cache file is
// also imported into a live connection, so previously captured results keep the remote idle.
func openDb(ctx context.Context, cfg *config.Config) (*cachingdb.DB, error) {
	if cfg.Database != "" {
		db, err := cachingdb.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.CacheFile != "" {
			if err := db.ImportCache(cfg.CacheFile); err != nil {
				common.Log.Warnf("ignoring cache file %s: %v", cfg.CacheFile, err)
			}
		}
		return db, nil
	}
	if cfg.CacheFile != "" {
		return cachingdb.Open(cfg.CacheFile)
	}
	return nil, nil
}

// Db exposes the caching connector, if one is configured, for cache export/import tooling.
func (a *App) Db() *cachingdb.DB {
	return a.db
}

// ResolveFact answers a capability request through that capability's configured provider chain.
// The result carries the name of the provider that answered; on exhaustion the error wraps
// errs.ErrNotFound and the outcome list says what each provider had to say.
func (a *App) ResolveFact(
	ctx context.Context,
	capability string,
	req providers.Request,
) (*providers.Result, []providers.Outcome, error) {
	names, found := a.Config.Chains[capability]
	if !found {
		return nil, nil, errs.Configuration("no provider chain configured for capability %q", capability)
	}
	return a.Registry.ChainResolve(ctx, capability, names, req)
}

// QuerySeries assembles the named metric over [start, end).
func (a *App) QuerySeries(
	ctx context.Context,
	metric, selector string,
	start, end time.Time,
	strict bool,
) (*series.Assembled, error) {
	rng, err := common.NewTimeRange(start, end)
	if err != nil {
		return nil, err
	}
	return a.Assembler.Query(ctx, metric, selector, rng, strict)
}

func (a *App) Close(ctx context.Context) {
	if a.db != nil {
		if err := a.db.Close(ctx); err != nil {
			common.Log.Warnf("closing database: %v", err)
		}
	}
}
