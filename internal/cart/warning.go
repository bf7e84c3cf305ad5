package cart

import (
	"fmt"

	"github.com/freshcart-next/internal/coupon"
	"github.com/freshcart-next/internal/models"
)

// WarningKind 非致命提示类型
type WarningKind string

const (
	WarningStockLimitExceeded  WarningKind = "stock_limit_exceeded"
	WarningCouponNotApplicable WarningKind = "coupon_not_applicable"
	WarningItemSyncRejected    WarningKind = "item_sync_rejected"
	WarningItemUnavailable     WarningKind = "item_unavailable"
)

// Warning 随操作结果返回的非致命提示，购物车状态保持可用
type Warning struct {
	Kind         WarningKind   `json:"kind"`
	ItemID       string        `json:"item_id,omitempty"`
	ProductID    string        `json:"product_id,omitempty"`
	Requested    int           `json:"requested,omitempty"`
	Allowed      int           `json:"allowed,omitempty"`
	CouponCode   string        `json:"coupon_code,omitempty"`
	CouponReason coupon.Reason `json:"coupon_reason,omitempty"`
	Shortfall    *models.Money `json:"shortfall,omitempty"`
	Message      string        `json:"message,omitempty"`
}

func (w Warning) String() string {
	switch w.Kind {
	case WarningStockLimitExceeded:
		return fmt.Sprintf("%s: %s requested %d, allowed %d", w.Kind, w.ProductID, w.Requested, w.Allowed)
	case WarningCouponNotApplicable:
		return fmt.Sprintf("%s: %s (%s)", w.Kind, w.CouponCode, w.CouponReason)
	default:
		if w.ProductID != "" {
			return fmt.Sprintf("%s: %s %s", w.Kind, w.ProductID, w.Message)
		}
		return fmt.Sprintf("%s: %s", w.Kind, w.Message)
	}
}

func stockWarning(item *LineItem, requested int) Warning {
	return Warning{
		Kind:      WarningStockLimitExceeded,
		ItemID:    item.ID,
		ProductID: item.ProductID,
		Requested: requested,
		Allowed:   item.MaxQuantity,
	}
}

func couponWarning(code string, err error) Warning {
	w := Warning{Kind: WarningCouponNotApplicable, CouponCode: code, Message: err.Error()}
	if couponErr, ok := coupon.AsError(err); ok {
		w.CouponReason = couponErr.Reason
		if couponErr.Reason == coupon.ReasonMinimumNotMet {
			shortfall := couponErr.Shortfall
			w.Shortfall = &shortfall
		}
	}
	return w
}
