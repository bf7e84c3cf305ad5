package queue

import (
	"encoding/json"

	"github.com/freshcart-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskCartAvailabilityRefresh 购物车可售状态刷新任务
	TaskCartAvailabilityRefresh = constants.TaskCartAvailabilityRefresh
)

// CartAvailabilityRefreshPayload 可售状态刷新任务载荷
// UserID 非零时刷新该用户整个购物车；否则按 ProductID 刷新所有包含该商品的购物车。
type CartAvailabilityRefreshPayload struct {
	UserID    uint   `json:"user_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

// NewCartAvailabilityRefreshTask 创建可售状态刷新任务
func NewCartAvailabilityRefreshTask(payload CartAvailabilityRefreshPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCartAvailabilityRefresh, body), nil
}

// ParseCartAvailabilityRefreshPayload 解析可售状态刷新任务载荷
func ParseCartAvailabilityRefreshPayload(task *asynq.Task) (CartAvailabilityRefreshPayload, error) {
	var payload CartAvailabilityRefreshPayload
	if task == nil {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
