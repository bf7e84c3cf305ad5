// Package coupon 判断优惠码在当前购物车下是否可用并计算优惠金额。
//
// 引擎本身不持有优惠券目录，定义由注入的 Resolver 提供。
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/freshcart-next/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Result 优惠计算结果
// FreeDelivery 为配送费旁路标记，与 Discount（小计优惠）互不混用。
type Result struct {
	Code         string
	Discount     models.Money
	FreeDelivery bool
}

// Normalize 去除首尾空白并转为大写
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate 校验优惠券并计算优惠金额
func Evaluate(code string, subtotal models.Money, coupon *models.Coupon, now time.Time) (Result, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return Result{}, newError(ReasonEmptyCode, "")
	}
	if coupon == nil || Normalize(coupon.Code) != normalized {
		return Result{}, newError(ReasonNotFound, normalized)
	}
	if !coupon.IsActive {
		return Result{}, newError(ReasonInactive, normalized)
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return Result{}, newError(ReasonExpired, normalized)
	}
	if coupon.MinOrderAmount.IsPositive() && subtotal.LessThan(coupon.MinOrderAmount.Decimal) {
		err := newError(ReasonMinimumNotMet, normalized)
		err.Shortfall = coupon.MinOrderAmount.Sub(subtotal)
		return Result{}, err
	}

	result := Result{Code: normalized}
	switch strings.ToLower(strings.TrimSpace(coupon.Kind)) {
	case models.CouponKindPercentage:
		if coupon.Value.IsNegative() || coupon.Value.GreaterThan(hundred) {
			return Result{}, newError(ReasonInvalid, normalized)
		}
		discount := models.NewMoneyFromDecimal(subtotal.Mul(coupon.Value.Decimal).Div(hundred))
		if coupon.MaxDiscountAmount.IsPositive() {
			discount = discount.Min(coupon.MaxDiscountAmount)
		}
		result.Discount = discount.Min(subtotal)
	case models.CouponKindFixed:
		if coupon.Value.IsNegative() {
			return Result{}, newError(ReasonInvalid, normalized)
		}
		result.Discount = models.NewMoneyFromDecimal(coupon.Value.Decimal).Min(subtotal)
	case models.CouponKindFreeDelivery:
		result.FreeDelivery = true
	default:
		return Result{}, newError(ReasonInvalid, normalized)
	}
	result.Discount = result.Discount.ClampZero()
	return result, nil
}

// Resolve 通过 resolver 获取定义后校验
// resolver 自身的错误（网络等）原样返回，不包装为 *Error。
func Resolve(ctx context.Context, resolver Resolver, code string, subtotal models.Money, now time.Time) (Result, *models.Coupon, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return Result{}, nil, newError(ReasonEmptyCode, "")
	}
	if resolver == nil {
		return Result{}, nil, ErrResolverMissing
	}
	definition, err := resolver.Resolve(ctx, normalized)
	if err != nil {
		return Result{}, nil, err
	}
	result, err := Evaluate(normalized, subtotal, definition, now)
	if err != nil {
		return Result{}, definition, err
	}
	return result, definition, nil
}
