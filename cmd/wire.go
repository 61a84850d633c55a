package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/helloworlde/meshkeeper/internal/agent"
	"github.com/helloworlde/meshkeeper/internal/api"
	"github.com/helloworlde/meshkeeper/internal/builder"
	"github.com/helloworlde/meshkeeper/internal/client"
	"github.com/helloworlde/meshkeeper/internal/collector"
	"github.com/helloworlde/meshkeeper/internal/config"
	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/metrics"
	"github.com/helloworlde/meshkeeper/internal/probe"
	"github.com/helloworlde/meshkeeper/internal/queue"
	"github.com/helloworlde/meshkeeper/internal/store"
	"github.com/helloworlde/meshkeeper/internal/throughput"
)

const secretFile = "secret.key"

// openTokens opens the encrypted credential file. Without a configured
// secret a random key file next to it is used.
func openTokens(cfg *config.Config) (*store.CredentialStore, error) {
	secret := []byte(cfg.Storage.Secret)
	if len(secret) == 0 {
		var err error
		secret, err = store.LoadOrCreateSecret(filepath.Join(cfg.Storage.DataDir, secretFile))
		if err != nil {
			return nil, fmt.Errorf("failed to prepare credential key: %w", err)
		}
	}
	return store.OpenCredentials(cfg.Storage.CredentialsFile, secret)
}

func newFetcher(cfg *config.Config, tokens client.TokenStore, m *metrics.SyncMetrics) (*client.Fetcher, error) {
	opts := client.Options{
		BaseURL:      cfg.Cloud.BaseURL,
		Timeout:      cfg.Cloud.Timeout,
		UserAgent:    cfg.Cloud.UserAgent,
		Account:      cfg.Cloud.Account,
		Tokens:       tokens,
		Logger:       logger.Default,
		Scorer:       client.NewScorer(cfg.Cloud.ScoreNumeric, cfg.Cloud.ScoreString, cfg.Cloud.ScoreRow),
		CandidateTTL: cfg.Cloud.CandidateCacheTTL,
	}
	if m != nil {
		opts.Metrics = m
	}
	return client.NewFetcher(opts)
}

func newProbeSuite(cfg *config.Config, m probe.Metrics) *probe.Suite {
	return probe.New(probe.Options{
		Gateway:     cfg.Probe.Gateway,
		DNSName:     cfg.Probe.DNSName,
		NTPServer:   cfg.Probe.NTPServer,
		Timeout:     cfg.Probe.Timeout,
		MinInterval: cfg.Probe.MinInterval,
		ProcRoot:    cfg.Throughput.ProcRoot,
		Metrics:     m,
		Logger:      logger.Default,
	})
}

// app is the fully wired agent process.
type app struct {
	agent    *agent.Agent
	server   *api.Server
	registry *prometheus.Registry
	db       store.BlobStore
}

func (a *app) Close() error {
	return a.db.Close()
}

func buildApp(cfg *config.Config) (*app, error) {
	if err := config.EnsureDirs(cfg); err != nil {
		return nil, fmt.Errorf("failed to create data directories: %w", err)
	}

	sm := metrics.NewSyncMetrics(cfg.Server.Namespace)

	db, err := store.OpenBadger(store.BadgerConfig{
		Path:           cfg.DatabaseDir(),
		InMemory:       cfg.Storage.InMemory,
		SyncWrites:     !cfg.Storage.InMemory,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
		Logger:         logger.Default,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	state := store.NewStateStore(db, cfg.Cloud.Account)

	tokens, err := openTokens(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	fetcher, err := newFetcher(cfg, tokens, sm)
	if err != nil {
		db.Close()
		return nil, err
	}
	if !fetcher.HasSession() {
		logger.Default.Warn("no stored session; run `meshkeeper login` and `meshkeeper verify` first")
	}

	q, err := queue.New(queue.Options{
		Caller:  fetcher,
		Storage: state,
		Metrics: sm,
		Logger:  logger.Default,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load action queue: %w", err)
	}

	opts := agent.Options{
		Builder: builder.New(builder.Options{
			Fetcher:          fetcher,
			Metrics:          sm,
			Logger:           logger.Default,
			MaxDetailFetches: cfg.Cloud.MaxDetailFetches,
			Workers:          cfg.Cloud.FanOutWorkers,
		}),
		Queue:           q,
		Store:           state,
		Metrics:         sm,
		Logger:          logger.Default,
		Foreground:      cfg.Polling.ForegroundInterval,
		Background:      cfg.Polling.BackgroundInterval,
		ConfirmModerate: cfg.Actions.ConfirmModerate,
	}
	if cfg.Probe.Enabled {
		opts.Probes = newProbeSuite(cfg, sm)
	}
	if cfg.Throughput.Enabled {
		opts.Throughput = &throughput.Options{
			ProcRoot:  cfg.Throughput.ProcRoot,
			Interface: cfg.Throughput.Interface,
			Interval:  cfg.Throughput.Interval,
			Smoothing: cfg.Throughput.Smoothing,
			Logger:    logger.Default,
		}
	}
	a := agent.New(opts)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		sm,
		collector.NewSnapshotCollector(cfg.Server.Namespace, a),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := api.New(api.Options{
		Controller:   a,
		Gatherer:     registry,
		MetricsPath:  cfg.Server.MetricsPath,
		Logger:       logger.Default,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	return &app{agent: a, server: server, registry: registry, db: db}, nil
}
