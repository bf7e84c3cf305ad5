package cart

import (
	"time"

	"github.com/freshcart-next/internal/models"

	"github.com/oklog/ulid/v2"
)

// 推送合并键（商品变更以商品ID为键）
const (
	KeyCoupon = "coupon"
	KeyCart   = "cart"
)

// Mutation 一次本地变更的推送描述
// ID 为稳定的逻辑变更ID，重试时复用，远端据此去重。
type Mutation struct {
	ID              string
	Kind            string
	ProductID       string
	Quantity        int
	UnitPrice       models.Money
	DiscountedPrice *models.Money
	MaxQuantity     int
	CouponCode      string
	Seq             uint64
	At              time.Time
}

// Key 去抖合并键
func (m Mutation) Key() string {
	switch m.Kind {
	case models.MutationCouponApply, models.MutationCouponRemove:
		return KeyCoupon
	case models.MutationClear:
		return KeyCart
	default:
		return "item:" + m.ProductID
	}
}

// IsItem 是否为单个商品的变更
func (m Mutation) IsItem() bool {
	return m.Kind == models.MutationUpsert || m.Kind == models.MutationRemove
}

// Payload 转换为线上协议
func (m Mutation) Payload(sessionID string) models.CartMutationPayload {
	return models.CartMutationPayload{
		ID:              m.ID,
		SessionID:       sessionID,
		Kind:            m.Kind,
		ProductID:       m.ProductID,
		Quantity:        m.Quantity,
		UnitPrice:       m.UnitPrice,
		DiscountedPrice: cloneMoney(m.DiscountedPrice),
		MaxQuantity:     m.MaxQuantity,
		CouponCode:      m.CouponCode,
		Seq:             m.Seq,
		At:              m.At,
	}
}

// MutationSink 接收本地变更（同步协调器实现）
type MutationSink interface {
	Record(m Mutation)
}

// MutationSinkFunc 函数适配
type MutationSinkFunc func(m Mutation)

// Record 实现 MutationSink
func (f MutationSinkFunc) Record(m Mutation) {
	f(m)
}

func newMutationID() string {
	return ulid.Make().String()
}

func upsertMutation(item *LineItem) Mutation {
	return Mutation{
		Kind:            models.MutationUpsert,
		ProductID:       item.ProductID,
		Quantity:        item.Quantity,
		UnitPrice:       item.UnitPrice,
		DiscountedPrice: cloneMoney(item.DiscountedUnitPrice),
		MaxQuantity:     item.MaxQuantity,
		Seq:             item.seq,
		At:              item.modifiedAt,
	}
}
