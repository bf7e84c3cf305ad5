package service

import (
	"context"
	"time"

	"github.com/freshcart-next/internal/cache"
	"github.com/freshcart-next/internal/coupon"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/repository"

	"golang.org/x/sync/singleflight"
)

// CouponLookupService 优惠券查询服务（Redis 缓存，含未命中负缓存）
type CouponLookupService struct {
	couponRepo  repository.CouponRepository
	ttl         time.Duration
	negativeTTL time.Duration
	group       singleflight.Group
}

// NewCouponLookupService 创建优惠券查询服务
func NewCouponLookupService(couponRepo repository.CouponRepository, ttl, negativeTTL time.Duration) *CouponLookupService {
	return &CouponLookupService{
		couponRepo:  couponRepo,
		ttl:         ttl,
		negativeTTL: negativeTTL,
	}
}

// Lookup 按优惠码获取定义，不存在返回 nil
// 启用状态与有效期不在此处判断，由调用方的优惠引擎校验。
func (s *CouponLookupService) Lookup(ctx context.Context, code string) (*models.Coupon, error) {
	normalized := coupon.Normalize(code)
	if normalized == "" {
		return nil, ErrCouponCodeEmpty
	}
	if entry, hit, err := cache.GetCoupon(ctx, normalized); err != nil {
		logger.Warnw("coupon_cache_get_failed", "code", normalized, "error", err)
	} else if hit && entry != nil {
		if entry.Missing {
			return nil, nil
		}
		return entry.Coupon.Clone(), nil
	}

	value, err, _ := s.group.Do(normalized, func() (interface{}, error) {
		definition, err := s.couponRepo.GetByCode(normalized)
		if err != nil {
			return nil, err
		}
		entry := cache.CouponEntry{Coupon: definition, Missing: definition == nil}
		ttl := s.ttl
		if definition == nil {
			ttl = s.negativeTTL
		}
		if err := cache.SetCoupon(ctx, normalized, entry, ttl); err != nil {
			logger.Warnw("coupon_cache_set_failed", "code", normalized, "error", err)
		}
		return definition, nil
	})
	if err != nil {
		return nil, err
	}
	definition, _ := value.(*models.Coupon)
	return definition.Clone(), nil
}

// Resolve 满足 coupon.Resolver，供服务端复用优惠引擎
func (s *CouponLookupService) Resolve(ctx context.Context, code string) (*models.Coupon, error) {
	return s.Lookup(ctx, code)
}

// Invalidate 删除优惠券缓存
func (s *CouponLookupService) Invalidate(ctx context.Context, code string) error {
	return cache.DelCoupon(ctx, coupon.Normalize(code))
}
