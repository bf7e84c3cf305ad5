package provider

import (
	"github.com/freshcart-next/internal/cache"
	"github.com/freshcart-next/internal/config"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/queue"
	"github.com/freshcart-next/internal/repository"
	"github.com/freshcart-next/internal/service"

	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	QueueClient *queue.Client

	// Repositories
	UserRepo    repository.UserRepository
	ProductRepo repository.ProductRepository
	CartRepo    repository.CartRepository
	CouponRepo  repository.CouponRepository

	// Services
	TokenService        *service.TokenService
	CartSyncService     *service.CartSyncService
	CouponLookupService *service.CouponLookupService
	CatalogService      *service.CatalogService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	return NewContainerWithDB(cfg, models.DB, queueClient)
}

// NewContainerWithDB 在指定连接上组装仓库与服务（测试使用内存 SQLite）
func NewContainerWithDB(cfg *config.Config, db *gorm.DB, queueClient *queue.Client) *Container {
	c := &Container{
		Config:      cfg,
		DB:          db,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories(db)

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories(db *gorm.DB) {
	c.UserRepo = repository.NewUserRepository(db)
	c.ProductRepo = repository.NewProductRepository(db)
	c.CartRepo = repository.NewCartRepository(db)
	c.CouponRepo = repository.NewCouponRepository(db)
}

func (c *Container) initServices() {
	c.TokenService = service.NewTokenService(c.Config.UserJWT)
	c.CartSyncService = service.NewCartSyncService(c.CartRepo, c.ProductRepo, c.CouponRepo, c.QueueClient)
	c.CouponLookupService = service.NewCouponLookupService(c.CouponRepo, c.Config.CouponCache.TTL(), c.Config.CouponCache.NegativeTTL())
	c.CatalogService = service.NewCatalogService(c.ProductRepo, c.CouponRepo, c.CouponLookupService, c.QueueClient)
}
