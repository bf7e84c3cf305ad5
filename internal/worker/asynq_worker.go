package worker

import (
	"context"
	"errors"
	"strings"

	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/provider"
	"github.com/freshcart-next/internal/queue"
	"github.com/freshcart-next/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskCartAvailabilityRefresh, c.handleCartAvailabilityRefresh)
}

func (c *Consumer) handleCartAvailabilityRefresh(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Container == nil {
		logger.Debugw("worker_cart_refresh_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseCartAvailabilityRefreshPayload(task)
	if err != nil {
		logger.Warnw("worker_cart_refresh_unmarshal_failed", "error", err)
		// 载荷损坏重试无意义
		return errors.Join(err, asynq.SkipRetry)
	}
	if c.CartSyncService == nil {
		logger.Warnw("worker_cart_refresh_skip_service_nil", "user_id", payload.UserID, "product_id", payload.ProductID)
		return nil
	}

	productID := strings.TrimSpace(payload.ProductID)
	var changed int
	switch {
	case payload.UserID != 0:
		changed, err = c.CartSyncService.RefreshAvailability(ctx, payload.UserID)
	case productID != "":
		changed, err = c.CartSyncService.RefreshProduct(ctx, productID)
	default:
		logger.Debugw("worker_cart_refresh_skip_invalid_payload")
		return nil
	}
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUserID), errors.Is(err, service.ErrProductNotFound):
			logger.Debugw("worker_cart_refresh_skip_invalid_target", "user_id", payload.UserID, "product_id", productID, "error", err)
			return nil
		default:
			logger.Warnw("worker_cart_refresh_failed", "user_id", payload.UserID, "product_id", productID, "error", err)
			return err
		}
	}
	logger.Debugw("worker_cart_refresh_done", "user_id", payload.UserID, "product_id", productID, "changed", changed)
	return nil
}
