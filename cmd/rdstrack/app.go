package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rdstrack/internal/cache"
	"rdstrack/internal/config"
	"rdstrack/internal/corrections"
	"rdstrack/internal/events"
	"rdstrack/internal/fragment"
	"rdstrack/internal/logger"
	"rdstrack/internal/metrics"
	"rdstrack/internal/netcheck"
	"rdstrack/internal/pipeline"
	"rdstrack/internal/provider"
	"rdstrack/internal/rdslog"
	"rdstrack/internal/remote"
	"rdstrack/internal/replay"
	"rdstrack/internal/rules"
	"rdstrack/internal/store"
)

// app holds the opened stores shared by every command.
type app struct {
	cfg config.Config
	log *logger.Logger

	db          *store.Store
	cache       *cache.TrackCache
	rules       *rules.Store
	table       *rules.Table
	corrections *corrections.Store
	rdslog      *rdslog.Log
	metrics     *metrics.Metrics
	remote      *remote.Client
}

// openApp loads the config, sets up logging and opens the databases.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)
	if configPath != "" {
		log.Debug("Loaded configuration from: %s", configPath)
	} else if p := config.FindConfigFile(); p != "" {
		log.Debug("Loaded configuration from: %s", p)
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	a.db, err = store.Open(cfg.RulesDBPath())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	var cacheOpts []cache.Option
	if cfg.Cache.DownloadCovers {
		cacheOpts = append(cacheOpts, cache.WithCoverDownloads(nil))
	}
	a.cache, err = cache.Open(cfg.CacheDir(), log.Named("cache"), cacheOpts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open track cache: %w", err)
	}

	a.rules = rules.NewStore(a.db.DB())
	a.table, err = rules.NewTable(ctx, a.rules, log.Named("rules"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load rules: %w", err)
	}
	a.corrections = corrections.NewStore(a.db.DB())
	a.rdslog = rdslog.New(a.db.DB(), log.Named("rdslog"))
	a.rdslog.SetEnabled(cfg.RdsLog.Enabled)

	providers, err := provider.FromConfig(cfg.Remote)
	if err != nil {
		a.close()
		return nil, err
	}
	if len(providers) > 0 {
		a.remote = remote.New(providers, log.Named("remote"),
			remote.WithRateLimit(cfg.Remote.RequestsPerSecond),
			remote.WithMetrics(a.metrics),
			remote.WithTimeout(cfg.Remote.Timeout),
		)
		log.Debug("Remote providers: %v", a.remote.Providers())
	}
	return a, nil
}

// newLogger logs to stdout and, unless verbose, to a file under the data
// directory so detailed logs survive a progress bar.
func newLogger(cfg config.Config) *logger.Logger {
	log := logger.New(cfg.Verbose)

	logFile := cfg.LogFile
	if logFile == "" && !cfg.Verbose {
		logDir := cfg.LogDir()
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] Failed to create log directory: %v\n", err)
			return log
		}
		logFile = filepath.Join(logDir, fmt.Sprintf("rdstrack_%s.log", time.Now().Format("2006-01-02_15-04-05")))
	}
	if logFile != "" {
		if err := log.SetFileLog(logFile); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] Failed to setup file logging: %v\n", err)
		} else {
			log.Debug("Logging to file: %s", logFile)
		}
	}
	return log
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.WaitCovers()
		if err := a.cache.Close(); err != nil {
			a.log.Warn("close track cache: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("close database: %v", err)
		}
	}
	a.log.Close()
}

// network picks the availability oracle from the config.
func (a *app) network() netcheck.Oracle {
	if a.cfg.Network.Offline {
		return netcheck.Static(false)
	}
	return netcheck.NewProber(a.cfg.Network.ProbeAddress, a.cfg.Network.ProbeInterval)
}

// pipelineOptions tweak a pipeline built by newPipeline.
type pipelineOptions struct {
	events      events.Publisher
	now         func() time.Time
	cacheWrites *bool
	network     netcheck.Oracle
	noMetrics   bool
}

// newPipeline builds a pipeline over the app's stores.
func (a *app) newPipeline(o pipelineOptions) (*pipeline.Pipeline, error) {
	var bufOpts []fragment.Option
	if o.now != nil {
		bufOpts = append(bufOpts, fragment.WithClock(o.now))
	}
	network := o.network
	if network == nil {
		network = a.network()
	}
	cacheWrites := a.cfg.Cache.Enabled
	if o.cacheWrites != nil {
		cacheWrites = *o.cacheWrites
	}

	d := pipeline.Deps{
		Cache:       a.cache,
		Rules:       a.table,
		Corrections: a.corrections,
		Network:     network,
		Events:      o.events,
		Log:         a.log.Named("pipeline"),
	}
	if !o.noMetrics {
		d.Metrics = a.metrics
	}
	// a nil *remote.Client must not become a non-nil interface
	if a.remote != nil {
		d.Remote = a.remote
	}
	return pipeline.New(d,
		pipeline.WithCacheWrites(cacheWrites),
		pipeline.WithBuffer(fragment.New(a.cfg.Fragment.Capacity, a.cfg.Fragment.Lifetime, bufOpts...)),
	)
}

// replayFactory builds throwaway pipelines for replays. They never write
// to the cache, record no metrics and stay offline unless online is set.
func (a *app) replayFactory(online bool) replay.Factory {
	return func(now func() time.Time) (replay.Target, func(), error) {
		noWrites := false
		o := pipelineOptions{now: now, cacheWrites: &noWrites, noMetrics: true}
		if !online {
			o.network = netcheck.Static(false)
		}
		p, err := a.newPipeline(o)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
}
