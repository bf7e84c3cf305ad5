package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/freshcart-next/internal/coupon"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/queue"
	"github.com/freshcart-next/internal/repository"

	"github.com/shopspring/decimal"
)

var (
	ErrProductInvalid = errors.New("product invalid")
	ErrCouponInvalid  = errors.New("coupon invalid")
)

// CatalogService 商品目录与优惠券维护
// 商品变更后异步刷新含该商品的购物车，优惠券变更后清理查询缓存。
type CatalogService struct {
	productRepo repository.ProductRepository
	couponRepo  repository.CouponRepository
	lookup      *CouponLookupService
	queueClient *queue.Client
}

// NewCatalogService 创建目录服务
func NewCatalogService(productRepo repository.ProductRepository, couponRepo repository.CouponRepository, lookup *CouponLookupService, queueClient *queue.Client) *CatalogService {
	return &CatalogService{
		productRepo: productRepo,
		couponRepo:  couponRepo,
		lookup:      lookup,
		queueClient: queueClient,
	}
}

// ProductInput 商品写入参数
type ProductInput struct {
	ID              string
	Name            string
	UnitPrice       models.Money
	DiscountedPrice *models.Money
	Stock           int
	MaxQuantity     int
	IsActive        *bool
}

// CouponInput 优惠券写入参数
type CouponInput struct {
	Code              string
	Kind              string
	Value             models.Money
	MinOrderAmount    models.Money
	MaxDiscountAmount models.Money
	ValidUntil        *time.Time
	IsActive          *bool
}

// UpsertProduct 新建或更新商品
// 更新价格、库存或上下架状态后投递可售状态刷新任务；返回值表示是否为新建。
func (s *CatalogService) UpsertProduct(ctx context.Context, input ProductInput) (*models.Product, bool, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" || strings.TrimSpace(input.Name) == "" {
		return nil, false, ErrProductInvalid
	}
	if input.UnitPrice.IsNegative() || input.Stock < 0 || input.MaxQuantity < 1 {
		return nil, false, ErrProductInvalid
	}
	if input.DiscountedPrice != nil {
		if input.DiscountedPrice.IsNegative() || input.DiscountedPrice.GreaterThan(input.UnitPrice.Decimal) {
			return nil, false, ErrProductInvalid
		}
	}

	existing, err := s.productRepo.GetByID(id)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		isActive := true
		if input.IsActive != nil {
			isActive = *input.IsActive
		}
		product := &models.Product{
			ID:              id,
			Name:            strings.TrimSpace(input.Name),
			UnitPrice:       input.UnitPrice,
			DiscountedPrice: input.DiscountedPrice,
			Stock:           input.Stock,
			MaxQuantity:     input.MaxQuantity,
			IsActive:        isActive,
		}
		if err := s.productRepo.Create(product); err != nil {
			return nil, false, err
		}
		return product, true, nil
	}

	existing.Name = strings.TrimSpace(input.Name)
	existing.UnitPrice = input.UnitPrice
	existing.DiscountedPrice = input.DiscountedPrice
	existing.Stock = input.Stock
	existing.MaxQuantity = input.MaxQuantity
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	if err := s.productRepo.Update(existing); err != nil {
		return nil, false, err
	}

	payload := queue.CartAvailabilityRefreshPayload{ProductID: existing.ID}
	if err := s.queueClient.EnqueueCartAvailabilityRefresh(payload); err != nil {
		logger.Warnw("catalog_enqueue_product_refresh_failed", "product_id", existing.ID, "error", err)
	}
	return existing, false, nil
}

// UpsertCoupon 新建或更新优惠券
func (s *CatalogService) UpsertCoupon(ctx context.Context, input CouponInput) (*models.Coupon, bool, error) {
	code := coupon.Normalize(input.Code)
	if code == "" {
		return nil, false, ErrCouponCodeEmpty
	}
	kind := strings.ToLower(strings.TrimSpace(input.Kind))
	switch kind {
	case models.CouponKindPercentage:
		if input.Value.Decimal.LessThanOrEqual(decimal.Zero) || input.Value.Decimal.GreaterThan(decimal.NewFromInt(100)) {
			return nil, false, ErrCouponInvalid
		}
	case models.CouponKindFixed:
		if input.Value.Decimal.LessThanOrEqual(decimal.Zero) {
			return nil, false, ErrCouponInvalid
		}
	case models.CouponKindFreeDelivery:
	default:
		return nil, false, ErrCouponInvalid
	}
	if input.MinOrderAmount.IsNegative() || input.MaxDiscountAmount.IsNegative() {
		return nil, false, ErrCouponInvalid
	}

	existing, err := s.couponRepo.GetByCode(code)
	if err != nil {
		return nil, false, err
	}
	created := existing == nil
	if created {
		existing = &models.Coupon{Code: code, IsActive: true}
	}
	existing.Kind = kind
	existing.Value = input.Value
	existing.MinOrderAmount = input.MinOrderAmount
	existing.MaxDiscountAmount = input.MaxDiscountAmount
	existing.ValidUntil = input.ValidUntil
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}

	if created {
		err = s.couponRepo.Create(existing)
	} else {
		err = s.couponRepo.Update(existing)
	}
	if err != nil {
		return nil, false, err
	}
	// 新建时同样清理，覆盖此前写入的未命中缓存
	if s.lookup != nil {
		if err := s.lookup.Invalidate(ctx, code); err != nil {
			logger.Warnw("catalog_coupon_cache_invalidate_failed", "code", code, "error", err)
		}
	}
	return existing, created, nil
}
