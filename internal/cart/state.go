package cart

import (
	"fmt"
	"time"

	"github.com/freshcart-next/internal/models"
)

// SyncStatus 与远端购物车的同步状态
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// SyncError 同步失败信息
// Permanent 为 true 表示远端拒绝（4xx），重试无意义，需要用户处理。
type SyncError struct {
	Op           string    `json:"op"`
	Key          string    `json:"key,omitempty"`
	MutationID   string    `json:"mutation_id,omitempty"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	Permanent    bool      `json:"permanent"`
	Unauthorized bool      `json:"unauthorized,omitempty"` // 凭证失效，需重新认证
	Message      string    `json:"message"`
	At           time.Time `json:"at"`
	Err          error     `json:"-"`
}

func (e *SyncError) Error() string {
	if e == nil {
		return "<nil>"
	}
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Key != "" {
		return fmt.Sprintf("cart sync %s %s (%s): %s", e.Op, e.Key, kind, e.Message)
	}
	return fmt.Sprintf("cart sync %s (%s): %s", e.Op, kind, e.Message)
}

// Unwrap 返回底层错误
func (e *SyncError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *SyncError) clone() *SyncError {
	if e == nil {
		return nil
	}
	dup := *e
	return &dup
}

// State 购物车聚合快照（只读副本）
// Subtotal 为展示小计，包含已缺货的行；结算金额由 checkout 按可售行另算。
type State struct {
	Items          []LineItem     `json:"items"`
	AppliedCoupon  *models.Coupon `json:"applied_coupon,omitempty"`
	CouponWarning  string         `json:"coupon_warning,omitempty"`
	Subtotal       models.Money   `json:"subtotal"`
	Discount       models.Money   `json:"discount"`
	DeliveryCharge models.Money   `json:"delivery_charge"`
	VATAmount      models.Money   `json:"vat_amount"`
	Total          models.Money   `json:"total"`
	ItemCount      int            `json:"item_count"`
	FreeDelivery   bool           `json:"free_delivery"`
	Express        bool           `json:"express"`
	Currency       string         `json:"currency"`
	SyncStatus     SyncStatus     `json:"sync_status"`
	SyncError      *SyncError     `json:"sync_error,omitempty"`
	LastSyncedAt   *time.Time     `json:"last_synced_at,omitempty"`
}

// Item 按行ID查找
func (s State) Item(itemID string) (LineItem, bool) {
	for _, item := range s.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return LineItem{}, false
}

// ItemByProduct 按商品ID查找
func (s State) ItemByProduct(productID string) (LineItem, bool) {
	for _, item := range s.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return LineItem{}, false
}

// UnavailableItems 已缺货的行
func (s State) UnavailableItems() []LineItem {
	var out []LineItem
	for _, item := range s.Items {
		if !item.IsAvailable {
			out = append(out, item)
		}
	}
	return out
}

func (s State) clone() State {
	dup := s
	dup.Items = make([]LineItem, 0, len(s.Items))
	for i := range s.Items {
		dup.Items = append(dup.Items, s.Items[i].clone())
	}
	dup.AppliedCoupon = s.AppliedCoupon.Clone()
	dup.SyncError = s.SyncError.clone()
	if s.LastSyncedAt != nil {
		at := *s.LastSyncedAt
		dup.LastSyncedAt = &at
	}
	return dup
}

// Result 操作结果：新状态与非致命提示
type Result struct {
	State    State
	Warnings []Warning
}

// Change 变更通知
// Mutation 为 nil 表示仅本地状态变化（同步状态、合并远端等），无需推送。
type Change struct {
	State    State
	Warnings []Warning
	Mutation *Mutation
}

// Observer 变更订阅回调
type Observer func(change Change)
