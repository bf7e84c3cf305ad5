package router

import (
	"fmt"
	"strings"

	"github.com/freshcart-next/internal/cache"
	"github.com/freshcart-next/internal/config"
	"github.com/freshcart-next/internal/constants"
	publichandlers "github.com/freshcart-next/internal/http/handlers/public"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	handler := publichandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "fc"
	}
	redisClient := cache.Client()
	mutationRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:%s", redisPrefix, constants.RateLimitCartMutation),
		WindowSeconds: cfg.Security.MutationRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.MutationRateLimit.MaxRequests,
	}
	couponRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:%s", redisPrefix, constants.RateLimitCouponLookup),
		WindowSeconds: cfg.Security.CouponLookupRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.CouponLookupRateLimit.MaxRequests,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/healthz", handler.Health)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/coupons/:code", RateLimitMiddleware(redisClient, couponRule, KeyByIP), handler.GetCoupon)

		// 登录用户接口
		authed := apiV1.Group("")
		authed.Use(UserJWTAuthMiddleware(c.TokenService, c.UserRepo))
		{
			authed.GET("/cart", handler.GetCart)
			authed.POST("/cart/mutations", RateLimitMiddleware(redisClient, mutationRule, KeyByUser), handler.PushCartMutation)
		}
	}

	return r
}
