package checkout

import (
	"github.com/redis/go-redis/v9"
	"github.com/tablevox/checkout/internal/checkout/domain"
	"github.com/tablevox/checkout/internal/checkout/repository"
	checkoutservice "github.com/tablevox/checkout/internal/checkout/service"
	"github.com/tablevox/checkout/internal/checkout/store"
	"github.com/tablevox/checkout/internal/clock"
	"github.com/tablevox/checkout/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("checkout",
	StoreModule,
	fx.Provide(checkoutservice.NewService),
	fx.Provide(func(svc *checkoutservice.Service) domain.Service { return svc }),
)

// StoreModule wires only the session store and the event audit trail. The
// standalone sweeper binary uses it without pulling in the gateway stack.
var StoreModule = fx.Module("checkout.store",
	fx.Provide(NewSessionStore),
	fx.Provide(repository.NewEventHistory),
)

func NewSessionStore(cfg config.Config, clk clock.Clock, db *gorm.DB, log *zap.Logger) domain.SessionStore {
	switch cfg.SessionStoreBackend {
	case "gorm", "db":
		return store.NewGormStore(db, clk)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return store.NewRedisStore(client, clk)
	default:
		log.Named("checkout").Info("using in-memory session store",
			zap.String("backend", cfg.SessionStoreBackend),
		)
		return store.NewMemoryStore(clk)
	}
}
