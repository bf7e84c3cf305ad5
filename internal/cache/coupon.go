package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/freshcart-next/internal/constants"
	"github.com/freshcart-next/internal/models"
)

// CouponEntry 优惠券缓存条目
// Missing 为 true 表示数据库中不存在（负缓存）。
type CouponEntry struct {
	Coupon  *models.Coupon `json:"coupon,omitempty"`
	Missing bool           `json:"missing"`
}

func couponKey(code string) string {
	return fmt.Sprintf("%s:%s", constants.CacheKeyCoupon, code)
}

// GetCoupon 读取优惠券缓存
func GetCoupon(ctx context.Context, code string) (*CouponEntry, bool, error) {
	if code == "" {
		return nil, false, nil
	}
	var entry CouponEntry
	hit, err := GetJSON(ctx, couponKey(code), &entry)
	if err != nil || !hit {
		return nil, hit, err
	}
	return &entry, true, nil
}

// SetCoupon 写入优惠券缓存
func SetCoupon(ctx context.Context, code string, entry CouponEntry, ttl time.Duration) error {
	if code == "" || ttl <= 0 {
		return nil
	}
	return SetJSON(ctx, couponKey(code), entry, ttl)
}

// DelCoupon 删除优惠券缓存
func DelCoupon(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}
	return Del(ctx, couponKey(code))
}
