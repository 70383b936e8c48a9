package hotstore

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billarchive/internal/config"
	"github.com/smallbiznis/billarchive/internal/hotstore/cache"
	"github.com/smallbiznis/billarchive/internal/hotstore/domain"
	"github.com/smallbiznis/billarchive/internal/hotstore/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("hotstore",
	fx.Provide(provide),
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// provide returns the gorm document store, fronted by the redis metadata
// index when redis is configured.
func provide(p Params) domain.Store {
	store := repository.New(p.DB)
	if p.Redis == nil {
		return store
	}
	p.Log.Info("metadata index enabled", zap.Duration("ttl", p.Config.Redis.MetadataTTL))
	return cache.NewMetadataIndex(store, p.Redis, p.Config.Redis.MetadataTTL, p.Log)
}
