package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultNegativeTTL = 30 * time.Second
)

// Resolver 根据优惠码查询优惠券定义
// 未找到时返回 (nil, nil)。
type Resolver interface {
	Resolve(ctx context.Context, code string) (*models.Coupon, error)
}

// ResolverFunc 函数适配
type ResolverFunc func(ctx context.Context, code string) (*models.Coupon, error)

// Resolve 实现 Resolver
func (f ResolverFunc) Resolve(ctx context.Context, code string) (*models.Coupon, error) {
	return f(ctx, code)
}

// StaticResolver 内存目录（本地缓存目录或测试使用）
type StaticResolver map[string]*models.Coupon

// Resolve 实现 Resolver
func (s StaticResolver) Resolve(_ context.Context, code string) (*models.Coupon, error) {
	coupon, ok := s[Normalize(code)]
	if !ok {
		return nil, nil
	}
	return coupon.Clone(), nil
}

type cacheEntry struct {
	coupon    *models.Coupon
	expiresAt time.Time
}

// CachedResolverOptions 缓存配置
type CachedResolverOptions struct {
	TTL         time.Duration
	NegativeTTL time.Duration
	Now         func() time.Time
	Logger      *zap.SugaredLogger
}

// CachedResolver 带缓存的 Resolver
// 目录查询只读，缓存有效期不会超过优惠券的 ValidUntil；并发的相同查询合并为一次。
type CachedResolver struct {
	next        Resolver
	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time
	log         *zap.SugaredLogger

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewCachedResolver 创建带缓存的 Resolver
func NewCachedResolver(next Resolver, opts CachedResolverOptions) *CachedResolver {
	if opts.TTL <= 0 {
		opts.TTL = defaultCacheTTL
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = defaultNegativeTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("coupon")
	}
	return &CachedResolver{
		next:        next,
		ttl:         opts.TTL,
		negativeTTL: opts.NegativeTTL,
		now:         opts.Now,
		log:         opts.Logger,
		entries:     make(map[string]cacheEntry),
	}
}

// Resolve 实现 Resolver
func (r *CachedResolver) Resolve(ctx context.Context, code string) (*models.Coupon, error) {
	key := Normalize(code)
	if key == "" {
		return nil, nil
	}
	now := r.now()
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.coupon.Clone(), nil
	}

	value, err, _ := r.group.Do(key, func() (interface{}, error) {
		coupon, err := r.next.Resolve(ctx, key)
		if err != nil {
			return nil, err
		}
		r.store(key, coupon)
		return coupon, nil
	})
	if err != nil {
		r.log.Warnw("coupon_resolve_failed", "code", key, "error", err)
		return nil, err
	}
	coupon, _ := value.(*models.Coupon)
	return coupon.Clone(), nil
}

// Invalidate 删除指定优惠码缓存
func (r *CachedResolver) Invalidate(code string) {
	key := Normalize(code)
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

func (r *CachedResolver) store(key string, coupon *models.Coupon) {
	now := r.now()
	expiresAt := now.Add(r.ttl)
	if coupon == nil {
		expiresAt = now.Add(r.negativeTTL)
	} else if coupon.ValidUntil != nil && coupon.ValidUntil.Before(expiresAt) {
		expiresAt = *coupon.ValidUntil
	}
	if !expiresAt.After(now) {
		return
	}
	r.mu.Lock()
	r.entries[key] = cacheEntry{coupon: coupon.Clone(), expiresAt: expiresAt}
	r.mu.Unlock()
}
