package cmd

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"

	"github.com/amakane-hakari/nemuri/internal/cache"
	ilog "github.com/amakane-hakari/nemuri/internal/log"
	"github.com/amakane-hakari/nemuri/internal/longevity"
	"github.com/amakane-hakari/nemuri/internal/metrics"
	"github.com/amakane-hakari/nemuri/internal/objectstore"
	"github.com/amakane-hakari/nemuri/internal/pool"
	"github.com/amakane-hakari/nemuri/internal/session"
)

const (
	sessionsCache = "sessions"
	cartsCache    = "carts"
	groupsDir     = "groups"
)

// app はデーモンを構成する部品をまとめたものです。
type app struct {
	svc        *session.Service
	registry   *prometheus.Registry
	compressor *objectstore.Compressor
	logger     *ilog.Slog
}

func newCompressor() (*objectstore.Compressor, error) {
	return objectstore.NewCompressor(viper.GetInt("compression_level"), viper.GetBool("compression"))
}

// openBlobs は name 用の Blobs を開きます。minio.endpoint が設定されていれば S3 互換ストレージを使います。
func openBlobs(ctx context.Context, name string, logger *ilog.Slog) (objectstore.Blobs, error) {
	if endpoint := viper.GetString("minio.endpoint"); endpoint != "" {
		cfg := objectstore.MinioConfig{
			Endpoint:  endpoint,
			AccessKey: viper.GetString("minio.access_key"),
			SecretKey: viper.GetString("minio.secret_key"),
			Bucket:    viper.GetString("minio.bucket"),
			Prefix:    path.Join(viper.GetString("minio.prefix"), name),
			UseSSL:    viper.GetBool("minio.use_ssl"),
		}
		if logger != nil {
			cfg.Logger = logger
		}
		return objectstore.NewMinioBlobs(ctx, cfg)
	}
	dir := filepath.Join(viper.GetString("storage_dir"), name)
	var opts []objectstore.FileOption
	if logger != nil {
		opts = append(opts, objectstore.WithFileLogger(logger))
	}
	return objectstore.OpenDir(dir, opts...)
}

func newApp(ctx context.Context, logger *ilog.Slog) (*app, error) {
	comp, err := newCompressor()
	if err != nil {
		return nil, fmt.Errorf("compressor: %w", err)
	}
	a := &app{compressor: comp, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ns := viper.GetString("name")

	groupBlobs, err := openBlobs(ctx, groupsDir, logger)
	if err != nil {
		return nil, err
	}
	groups := cache.NewGroups(groupBlobs,
		cache.WithGroupsLogger(logger),
		cache.WithSharedCodec(objectstore.NewGobCodec[map[string]any](comp)),
	)
	common := []cache.Option{
		cache.WithGroups(groups),
		cache.WithLogger(logger),
		cache.WithSessionTimeout(viper.GetDuration("session_timeout")),
		cache.WithSweepInterval(viper.GetDuration("sweep_interval")),
	}

	sessionBlobs, err := openBlobs(ctx, sessionsCache, logger)
	if err != nil {
		return nil, err
	}
	sessionDeps := session.SessionDeps(
		objectstore.NewStore[*session.Session](sessionBlobs, objectstore.NewGobCodec[*session.Session](comp)), logger)
	sessionOpts := append(common[:len(common):len(common)],
		cache.WithName(sessionsCache),
		cache.WithMetrics(metrics.NewProm(ns, sessionsCache, a.registry)))

	var (
		sessions *cache.Cache[*session.Session]
		finished func(*cache.Entry[*session.Session])
	)
	if lt := viper.GetDuration("longevity_timeout"); lt > 0 {
		lc, err := longevity.New(sessionDeps, lt, sessionOpts...)
		if err != nil {
			return nil, err
		}
		sessions, finished = lc.Cache, lc.Finished
	} else {
		if sessions, err = cache.New(sessionDeps, sessionOpts...); err != nil {
			return nil, err
		}
	}

	cartBlobs, err := openBlobs(ctx, cartsCache, logger)
	if err != nil {
		return nil, err
	}
	carts, err := cache.New(
		session.CartDeps(objectstore.NewStore[*session.Cart](cartBlobs, objectstore.NewGobCodec[*session.Cart](comp))),
		append(common[:len(common):len(common)],
			cache.WithName(cartsCache),
			cache.WithMetrics(metrics.NewProm(ns, cartsCache, a.registry)))...,
	)
	if err != nil {
		return nil, err
	}

	workers := viper.GetInt("checkout_workers")
	pricers, err := pool.NewShared[*session.Pricer](
		&session.PricerFactory{TaxBasisPoints: viper.GetInt64("tax_basis_points")}, workers*2)
	if err != nil {
		return nil, err
	}

	a.svc, err = session.NewService(session.Config{
		Sessions: sessions,
		Carts:    carts,
		Groups:   groups,
		Checkout: session.NewCheckout(pricers, workers, logger),
		Finished: finished,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	err := a.svc.Stop(ctx)
	if cerr := a.compressor.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
