package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/shouni/bfl-image-kit/pkg/adapters"
	"github.com/shouni/bfl-image-kit/pkg/config"
	"github.com/shouni/bfl-image-kit/pkg/domain"
	"github.com/shouni/bfl-image-kit/pkg/generator"
	"github.com/shouni/bfl-image-kit/pkg/metrics"
	"github.com/shouni/bfl-image-kit/pkg/secrets"
	"github.com/shouni/bfl-image-kit/pkg/storage"
)

// app は 1 回の CLI 実行で共有する依存関係です。
type app struct {
	cfg       *config.Config
	generator *generator.Generator
	store     *storage.FileStore
	secrets   *secrets.EnvStore
	shutdown  func(context.Context) error
}

func setupLogger(cfg *config.Config) {
	level, _ := config.ParseLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg)

	store, err := storage.NewFileStore(cfg.Storage.Dir, cfg.Storage.PublicBaseURL)
	if err != nil {
		return nil, err
	}
	envStore, err := secrets.NewEnvStore(".env")
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(cfg.Metrics.Namespace, reg)

	httpClient := httpkit.New(cfg.HTTPTimeout)
	source, err := adapters.NewImageSource(httpClient, nil, adapters.SourceOptions{
		AllowPrivateURLs: cfg.Input.AllowPrivateURLs,
		Compress:         cfg.Input.Compress,
		JPEGQuality:      cfg.Input.JPEGQuality,
	})
	if err != nil {
		return nil, err
	}

	gen, err := generator.NewGenerator(generator.Dependencies{
		Doer:       &http.Client{Timeout: cfg.HTTPTimeout},
		HTTPClient: httpClient,
		Encoder:    source,
		Store:      store,
		Secrets:    envStore,
		Metrics:    collector,
	}, generator.Options{
		BaseURL: cfg.BaseURL,
		Poll: generator.PollOptions{
			Interval:             cfg.Poll.Interval,
			Timeout:              cfg.Poll.Timeout,
			MaxTransientFailures: cfg.Poll.MaxTransientFailures,
			PendingWarnAfter:     cfg.Poll.PendingWarnAfter,
		},
		Retry: generator.RetryPolicy{
			MaxTransportAttempts: cfg.Submit.MaxTransportAttempts,
			MaxRateLimitAttempts: cfg.Submit.MaxRateLimitAttempts,
			InitialBackoff:       cfg.Submit.InitialBackoff,
			MaxBackoff:           cfg.Submit.MaxBackoff,
		},
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, generator: gen, store: store, secrets: envStore, shutdown: func(context.Context) error { return nil }}
	if cfg.Metrics.Addr != "" {
		a.shutdown = serveMetrics(cfg.Metrics.Addr, reg)
	}
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		slog.Warn("メトリクスサーバーの停止に失敗しました", "error", err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("メトリクスを公開します", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("メトリクスサーバーが停止しました", "error", err)
		}
	}()
	return srv.Shutdown
}

// imageRef はローカルファイルならバイト列を、それ以外は URL として参照を作ります。
func imageRef(s string) (*domain.ImageRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, "://") {
		return &domain.ImageRef{URL: s}, nil
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return nil, err
	}
	return &domain.ImageRef{Data: data}, nil
}
