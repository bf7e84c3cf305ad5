package models

import "time"

// CartSnapshotVersion 购物车快照协议版本
const CartSnapshotVersion = 1

// 购物车变更类型
const (
	MutationUpsert       = "upsert"
	MutationRemove       = "remove"
	MutationClear        = "clear"
	MutationCouponApply  = "coupon_apply"
	MutationCouponRemove = "coupon_remove"
)

// CartSnapshotItem 远端购物车快照项
type CartSnapshotItem struct {
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	UnitPrice       Money  `json:"unit_price"`
	DiscountedPrice *Money `json:"discounted_price,omitempty"`
	MaxQuantity     int    `json:"max_quantity,omitempty"`
	IsAvailable     bool   `json:"is_available"`
	Seq             uint64 `json:"seq"`
}

// CartSnapshot 远端购物车快照
type CartSnapshot struct {
	Version    int                `json:"version"`
	Items      []CartSnapshotItem `json:"items"`
	CouponCode string             `json:"coupon_code,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// CartMutationPayload 推送到远端的单条变更
type CartMutationPayload struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Kind            string    `json:"kind"`
	ProductID       string    `json:"product_id,omitempty"`
	Quantity        int       `json:"quantity,omitempty"`
	UnitPrice       Money     `json:"unit_price"`
	DiscountedPrice *Money    `json:"discounted_price,omitempty"`
	MaxQuantity     int       `json:"max_quantity,omitempty"`
	CouponCode      string    `json:"coupon_code,omitempty"`
	Seq             uint64    `json:"seq"`
	At              time.Time `json:"at"`
}
