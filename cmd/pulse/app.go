package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/calibration"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/config"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/escalation"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/gate"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/graph"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/logging"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/oracle"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/orchestrator"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/publish"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/signals"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/store"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/usercontext"
)

// #region base

// base is what every subcommand needs: config, logger and the record store.
type base struct {
	cfg    config.Config
	logger *zap.Logger
	store  *store.Store
}

func openBase(configPath string) (*base, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open store %s: %w", cfg.Database.Path, err)
	}
	return &base{cfg: cfg, logger: logger, store: st}, nil
}

func (b *base) Close() {
	if err := b.store.Close(); err != nil {
		b.logger.Warn("close store", zap.Error(err))
	}
	_ = b.logger.Sync()
}

func (b *base) ledger() (*calibration.Ledger, error) {
	cc := calibration.DefaultConfig()
	if b.cfg.Calibration.HalfLife > 0 {
		cc.HalfLife = b.cfg.Calibration.HalfLife
	}
	if b.cfg.Calibration.MinSamples > 0 {
		cc.MinSamples = b.cfg.Calibration.MinSamples
	}
	return calibration.NewLedger(b.store.DB(), cc, b.logger)
}

// #endregion base

// #region pipeline

// pipeline is a fully wired orchestrator plus the resources it owns.
type pipeline struct {
	*base
	orch     *orchestrator.Orchestrator
	loader   *usercontext.Loader
	registry *prometheus.Registry

	closers []func()
}

func openPipeline(configPath string) (*pipeline, error) {
	b, err := openBase(configPath)
	if err != nil {
		return nil, err
	}
	p := &pipeline{base: b}
	if err := p.wire(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *pipeline) wire() error {
	cfg := p.cfg

	ledger, err := p.ledger()
	if err != nil {
		return err
	}
	p.closers = append(p.closers, ledger.Close)

	profiles, err := usercontext.NewProfileStore(p.store.DB())
	if err != nil {
		return err
	}
	engine := escalation.NewEngine(escalation.DefaultConfig(), profiles, p.store)
	p.loader = usercontext.NewLoader(profiles, p.store, engine, cfg.Pipeline.RecentOutcomes, p.logger)

	backend, err := p.oracle()
	if err != nil {
		return err
	}

	var pub publish.Publisher
	if cfg.NATS.URL != "" {
		nc, err := publish.Connect(cfg.NATS.URL, "pulse")
		if err != nil {
			return err
		}
		p.closers = append(p.closers, func() {
			if err := nc.Drain(); err != nil {
				p.logger.Warn("drain nats", zap.Error(err))
			}
		})
		pub = publish.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)
	}

	p.registry = prometheus.NewRegistry()
	p.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gateCfg := gate.DefaultGateConfig()
	gateCfg.ConfidenceFloor = cfg.Guard.ConfidenceFloor

	opts := orchestrator.DefaultOptions()
	opts.AutoExecuteThreshold = cfg.Pipeline.AutoExecuteThreshold
	opts.Routes = graph.RouteConfig{MinTraceSteps: cfg.Pipeline.MinTraceSteps, DeepCutoff: cfg.Pipeline.DeepCutoff}
	opts.Sampling = signals.SamplingConfig{Rate: cfg.Pipeline.ExplorationRate}
	opts.StageTimeout = cfg.Pipeline.StageTimeout

	p.orch, err = orchestrator.New(orchestrator.Deps{
		Oracle:      backend,
		Drafts:      p.store,
		Persister:   logging.NewPersister(p.store, cfg.Pipeline.PersistTimeout, p.logger),
		Calibration: ledger,
		Escalation:  engine,
		Gate:        gate.NewGate(gateCfg),
		Publisher:   pub,
		Metrics:     orchestrator.NewMetrics(p.registry),
		Logger:      p.logger,
	}, opts)
	return err
}

func (p *pipeline) oracle() (oracle.Oracle, error) {
	oc := p.cfg.Oracle
	var next oracle.Oracle
	switch oc.Backend {
	case "openai":
		o, err := oracle.NewOpenAIOracle(oracle.OpenAIConfig{
			APIKey:      os.Getenv(oc.APIKeyEnv),
			BaseURL:     oc.BaseURL,
			Model:       oc.Model,
			Temperature: oc.Temperature,
			MaxTokens:   oc.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		next = o
	default:
		o, err := oracle.NewGRPCOracle(oc.Address)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func() { _ = o.Close() })
		next = o
	}

	rc := oracle.DefaultRetryConfig()
	rc.MaxAttempts = oc.Retry.MaxAttempts
	rc.AttemptTimeout = oc.Timeout
	if oc.Retry.BackoffBase > 0 {
		rc.BackoffBase = oc.Retry.BackoffBase
	}
	if oc.Retry.MaxBackoff > 0 {
		rc.MaxBackoff = oc.Retry.MaxBackoff
	}
	return oracle.NewRetrying(next, rc, p.logger), nil
}

// serveMetrics exposes the registry until ctx is done.
func (p *pipeline) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: p.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Warn("metrics server", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}()
}

// Close releases resources in reverse order of acquisition.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.base.Close()
}

// #endregion pipeline
