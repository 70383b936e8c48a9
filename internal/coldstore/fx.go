package coldstore

import (
	"context"
	"time"

	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
	"github.com/smallbiznis/billarchive/internal/config"
	"github.com/smallbiznis/billarchive/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("coldstore",
	fx.Provide(provide),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Metrics   *metrics.ArchivalJobMetrics `optional:"true"`
}

func provide(p Params) (domain.Store, error) {
	cfg := p.Config.ColdStore
	backend, err := Open(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if backend.Ensure == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := backend.Ensure(ctx); err != nil {
				// The container may be provisioned out of band with
				// credentials we do not hold.
				p.Log.Warn("ensure cold store container failed",
					zap.String("backend", cfg.Backend),
					zap.String("container", cfg.Container),
					zap.Error(err),
				)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			if backend.Closer == nil {
				return nil
			}
			return backend.Closer.Close()
		},
	})

	p.Log.Info("cold store configured",
		zap.String("backend", cfg.Backend),
		zap.String("container", cfg.Container),
		zap.String("prefix", cfg.Prefix),
		zap.String("compression", cfg.Compression),
	)
	return Instrument(backend.Store, cfg.Backend, p.Metrics), nil
}
