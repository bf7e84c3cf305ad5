package public

import (
	"context"
	"time"

	"github.com/freshcart-next/internal/cache"
	"github.com/freshcart-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

// Health 健康检查（数据库与 Redis）
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if h.DB != nil {
		sqlDB, err := h.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			respondError(c, response.CodeServiceUnavailable, "error.service_unavailable", err)
			return
		}
	}
	if err := cache.Ping(ctx); err != nil {
		respondError(c, response.CodeServiceUnavailable, "error.service_unavailable", err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}
