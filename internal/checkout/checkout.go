// Package checkout 结算前置校验：确认购物车新鲜度，重新校验优惠券，
// 仅按可售商品计算结算金额。
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freshcart-next/internal/cart"
	"github.com/freshcart-next/internal/coupon"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/pricing"

	"go.uber.org/zap"
)

var (
	// ErrCartEmpty 购物车为空
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrSyncRequired 无法确认与远端一致
	ErrSyncRequired = errors.New("checkout: cart must be synced before checkout")
	// ErrItemsUnavailable 存在不可售商品（同时返回报价）
	ErrItemsUnavailable = errors.New("checkout: cart has unavailable items")
	// ErrNothingPayable 没有任何可售商品
	ErrNothingPayable = errors.New("checkout: no available items")
)

// Syncer 远端同步能力（由 cartsync.Reconciler 实现）
type Syncer interface {
	Authenticated() bool
	EnsureFresh(ctx context.Context) error
}

// Options Gate 构造参数
type Options struct {
	Now    func() time.Time
	Logger *zap.SugaredLogger
}

// Quote 结算报价
type Quote struct {
	Items        []cart.LineItem   `json:"items"`
	Unavailable  []cart.LineItem   `json:"unavailable,omitempty"`
	Rejected     []cart.LineItem   `json:"rejected,omitempty"`
	CouponCode   string            `json:"coupon_code,omitempty"`
	Breakdown    pricing.Breakdown `json:"breakdown"`
	FreeDelivery bool              `json:"free_delivery"`
	Express      bool              `json:"express"`
	Currency     string            `json:"currency"`
	PreparedAt   time.Time         `json:"prepared_at"`
	SyncedAt     *time.Time        `json:"synced_at,omitempty"`
}

// Payable 报价是否可以直接进入支付
func (q Quote) Payable() bool {
	return len(q.Items) > 0 && len(q.Unavailable) == 0 && len(q.Rejected) == 0
}

// Gate 结算闸口
type Gate struct {
	store  *cart.Store
	syncer Syncer
	now    func() time.Time
	log    *zap.SugaredLogger
}

// New 创建结算闸口，syncer 为 nil 表示纯访客模式
func New(store *cart.Store, syncer Syncer, opts Options) *Gate {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("checkout")
	}
	return &Gate{store: store, syncer: syncer, now: opts.Now, log: opts.Logger}
}

// Prepare 生成结算报价
// 有缺货或被远端拒绝的行时返回报价与 ErrItemsUnavailable；优惠券不再满足条件时返回报价与 *coupon.Error。
func (g *Gate) Prepare(ctx context.Context) (Quote, error) {
	if g.store.Snapshot().ItemCount == 0 {
		return Quote{}, ErrCartEmpty
	}
	if g.syncer != nil && g.syncer.Authenticated() {
		if err := g.syncer.EnsureFresh(ctx); err != nil {
			g.log.Warnw("checkout_sync_failed", "error", err)
			return Quote{}, fmt.Errorf("%w: %v", ErrSyncRequired, err)
		}
	}

	state := g.store.Snapshot()
	if state.ItemCount == 0 {
		return Quote{}, ErrCartEmpty
	}
	quote := Quote{
		Express:    state.Express,
		Currency:   state.Currency,
		PreparedAt: g.now(),
		SyncedAt:   state.LastSyncedAt,
	}
	for _, item := range state.Items {
		switch {
		case !item.IsAvailable:
			quote.Unavailable = append(quote.Unavailable, item)
		case item.SyncWarning != "":
			quote.Rejected = append(quote.Rejected, item)
		default:
			quote.Items = append(quote.Items, item)
		}
	}
	if len(quote.Items) == 0 {
		return quote, ErrNothingPayable
	}
	subtotal := pricing.CheckoutSubtotal(cart.PricingLines(quote.Items))

	discount := models.Money{}
	var couponErr error
	if state.AppliedCoupon != nil {
		quote.CouponCode = state.AppliedCoupon.Code
		result, _, err := coupon.Resolve(ctx, g.store.Resolver(), quote.CouponCode, subtotal, quote.PreparedAt)
		switch {
		case err == nil:
			discount = result.Discount
			quote.FreeDelivery = result.FreeDelivery
		case isCouponRejection(err):
			couponErr = err
		default:
			g.log.Warnw("checkout_coupon_resolve_failed", "code", quote.CouponCode, "error", err)
			return Quote{}, fmt.Errorf("checkout: resolve coupon: %w", err)
		}
	}
	quote.Breakdown = pricing.Calculate(g.store.PricingConfig(), subtotal, discount, state.Express, quote.FreeDelivery)

	if couponErr != nil {
		return quote, couponErr
	}
	if len(quote.Unavailable) > 0 || len(quote.Rejected) > 0 {
		return quote, ErrItemsUnavailable
	}
	return quote, nil
}

func isCouponRejection(err error) bool {
	_, ok := coupon.AsError(err)
	return ok
}
