package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/freshcart-next/internal/coupon"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/queue"
	"github.com/freshcart-next/internal/repository"

	"gorm.io/gorm"
)

// MutationResult 变更应用结果
// Applied 为 false 表示序号过期被丢弃；Duplicate 表示该变更ID此前已处理。
type MutationResult struct {
	MutationID string `json:"mutation_id"`
	Applied    bool   `json:"applied"`
	Duplicate  bool   `json:"duplicate"`
}

// CartSyncService 远端购物车同步服务
type CartSyncService struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	couponRepo  repository.CouponRepository
	queueClient *queue.Client
	now         func() time.Time
}

// NewCartSyncService 创建远端购物车同步服务
func NewCartSyncService(cartRepo repository.CartRepository, productRepo repository.ProductRepository, couponRepo repository.CouponRepository, queueClient *queue.Client) *CartSyncService {
	return &CartSyncService{
		cartRepo:    cartRepo,
		productRepo: productRepo,
		couponRepo:  couponRepo,
		queueClient: queueClient,
		now:         time.Now,
	}
}

// Snapshot 获取用户购物车快照（含墓碑行，便于客户端推进序号）
func (s *CartSyncService) Snapshot(ctx context.Context, userID uint) (models.CartSnapshot, error) {
	snapshot := models.CartSnapshot{Version: models.CartSnapshotVersion, Items: []models.CartSnapshotItem{}}
	if userID == 0 {
		return snapshot, ErrInvalidUserID
	}
	cart, err := s.cartRepo.GetCart(userID)
	if err != nil {
		return snapshot, err
	}
	items, err := s.cartRepo.ListItems(userID, true)
	if err != nil {
		return snapshot, err
	}
	for _, item := range items {
		snapshot.Items = append(snapshot.Items, models.CartSnapshotItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			DiscountedPrice: item.DiscountedPrice,
			MaxQuantity:     item.MaxQuantity,
			IsAvailable:     item.IsAvailable,
			Seq:             item.LastSeq,
		})
	}
	if cart != nil {
		snapshot.CouponCode = cart.CouponCode
		snapshot.UpdatedAt = cart.UpdatedAt.UTC()
	}
	return snapshot, nil
}

// ApplyMutation 应用客户端推送的单条变更
//
// 同一变更ID重复推送直接返回首次结果；序号不大于已应用序号的变更被丢弃但仍记录，
// 保证重放幂等。商品与优惠码在此处按目录重新校验，拒绝以业务错误返回。
func (s *CartSyncService) ApplyMutation(ctx context.Context, userID uint, payload models.CartMutationPayload) (MutationResult, error) {
	result := MutationResult{MutationID: strings.TrimSpace(payload.ID)}
	if userID == 0 {
		return result, ErrInvalidUserID
	}
	if err := validateMutation(payload); err != nil {
		return result, err
	}
	payload.ProductID = strings.TrimSpace(payload.ProductID)
	at := payload.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	err := s.cartRepo.Transaction(func(tx *gorm.DB) error {
		cartRepo := s.cartRepo.WithTx(tx)
		existing, err := cartRepo.GetMutation(result.MutationID)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Applied = existing.Applied
			result.Duplicate = true
			return nil
		}

		cart, err := cartRepo.GetCartForUpdate(userID)
		if err != nil {
			return err
		}
		if cart == nil {
			cart = &models.Cart{UserID: userID}
		}

		var applied bool
		switch payload.Kind {
		case models.MutationUpsert:
			applied, err = s.applyUpsert(tx, cartRepo, cart, payload, at)
		case models.MutationRemove:
			applied, err = s.applyRemove(cartRepo, cart, payload, at)
		case models.MutationClear:
			applied, err = s.applyClear(cartRepo, cart, payload, at)
		case models.MutationCouponApply:
			applied, err = s.applyCoupon(tx, cart, payload, at)
		case models.MutationCouponRemove:
			applied = payload.Seq > cart.CouponSeq
			if applied {
				cart.CouponCode = ""
				cart.CouponSeq = payload.Seq
			}
		}
		if err != nil {
			return err
		}
		if applied && at.After(cart.UpdatedAt) {
			cart.UpdatedAt = at
		}
		if err := cartRepo.SaveCart(cart); err != nil {
			return err
		}
		result.Applied = applied
		return cartRepo.CreateMutation(&models.CartMutationLog{
			MutationID: result.MutationID,
			UserID:     userID,
			SessionID:  payload.SessionID,
			Kind:       payload.Kind,
			ProductID:  payload.ProductID,
			Applied:    applied,
		})
	})
	if err != nil {
		return MutationResult{MutationID: result.MutationID}, err
	}

	if result.Applied && payload.Kind == models.MutationUpsert {
		if err := s.queueClient.EnqueueCartAvailabilityRefresh(queue.CartAvailabilityRefreshPayload{UserID: userID}); err != nil {
			logger.Warnw("cart_enqueue_availability_refresh_failed",
				"user_id", userID,
				"mutation_id", result.MutationID,
				"error", err,
			)
		}
	}
	return result, nil
}

func validateMutation(payload models.CartMutationPayload) error {
	if strings.TrimSpace(payload.ID) == "" {
		return fmt.Errorf("%w: empty mutation id", ErrMutationInvalid)
	}
	if payload.Seq == 0 {
		return fmt.Errorf("%w: missing seq", ErrMutationInvalid)
	}
	switch payload.Kind {
	case models.MutationUpsert:
		if strings.TrimSpace(payload.ProductID) == "" {
			return fmt.Errorf("%w: empty product id", ErrMutationInvalid)
		}
		if payload.Quantity < 0 {
			return fmt.Errorf("%w: negative quantity", ErrMutationInvalid)
		}
	case models.MutationRemove:
		if strings.TrimSpace(payload.ProductID) == "" {
			return fmt.Errorf("%w: empty product id", ErrMutationInvalid)
		}
	case models.MutationClear, models.MutationCouponRemove:
	case models.MutationCouponApply:
		if coupon.Normalize(payload.CouponCode) == "" {
			return ErrCouponCodeEmpty
		}
	default:
		return fmt.Errorf("%w: %q", ErrMutationKind, payload.Kind)
	}
	return nil
}

// itemStale 判断商品行变更是否早于已应用的行或清空操作
func itemStale(cart *models.Cart, item *models.CartItem, seq uint64) bool {
	if seq <= cart.ClearSeq {
		return true
	}
	return item != nil && seq <= item.LastSeq
}

func (s *CartSyncService) applyUpsert(tx *gorm.DB, cartRepo *repository.GormCartRepository, cart *models.Cart, payload models.CartMutationPayload, at time.Time) (bool, error) {
	item, err := cartRepo.GetItem(cart.UserID, payload.ProductID)
	if err != nil {
		return false, err
	}
	if itemStale(cart, item, payload.Seq) {
		return false, nil
	}
	if payload.Quantity == 0 {
		return s.writeTombstone(cartRepo, item, cart.UserID, payload, at)
	}

	product, err := s.productRepo.WithTx(tx).GetByID(payload.ProductID)
	if err != nil {
		return false, err
	}
	if product == nil {
		return false, ErrProductNotFound
	}
	limit := effectiveMaxQuantity(product)
	if limit < 1 {
		return false, ErrProductNotAvailable
	}

	if item == nil {
		item = &models.CartItem{UserID: cart.UserID, ProductID: payload.ProductID}
	}
	item.Quantity = payload.Quantity
	if item.Quantity > limit {
		item.Quantity = limit
	}
	item.UnitPrice = product.UnitPrice
	item.DiscountedPrice = product.DiscountedPrice
	item.MaxQuantity = limit
	item.IsAvailable = true
	item.LastSeq = payload.Seq
	item.UpdatedAt = at
	if err := cartRepo.SaveItem(item); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CartSyncService) applyRemove(cartRepo *repository.GormCartRepository, cart *models.Cart, payload models.CartMutationPayload, at time.Time) (bool, error) {
	item, err := cartRepo.GetItem(cart.UserID, payload.ProductID)
	if err != nil {
		return false, err
	}
	if itemStale(cart, item, payload.Seq) {
		return false, nil
	}
	return s.writeTombstone(cartRepo, item, cart.UserID, payload, at)
}

// writeTombstone 以数量 0 的行记录删除，未知商品也写入，用于丢弃之后到达的旧加购
func (s *CartSyncService) writeTombstone(cartRepo *repository.GormCartRepository, item *models.CartItem, userID uint, payload models.CartMutationPayload, at time.Time) (bool, error) {
	if item == nil {
		item = &models.CartItem{
			UserID:      userID,
			ProductID:   payload.ProductID,
			UnitPrice:   payload.UnitPrice.ClampZero(),
			MaxQuantity: 1,
			IsAvailable: true,
		}
	}
	item.Quantity = 0
	item.LastSeq = payload.Seq
	item.UpdatedAt = at
	if err := cartRepo.SaveItem(item); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CartSyncService) applyClear(cartRepo *repository.GormCartRepository, cart *models.Cart, payload models.CartMutationPayload, at time.Time) (bool, error) {
	if payload.Seq <= cart.ClearSeq {
		return false, nil
	}
	if _, err := cartRepo.ClearItems(cart.UserID, payload.Seq, at); err != nil {
		return false, err
	}
	cart.ClearSeq = payload.Seq
	return true, nil
}

func (s *CartSyncService) applyCoupon(tx *gorm.DB, cart *models.Cart, payload models.CartMutationPayload, at time.Time) (bool, error) {
	if payload.Seq <= cart.CouponSeq {
		return false, nil
	}
	code := coupon.Normalize(payload.CouponCode)
	definition, err := s.couponRepo.WithTx(tx).GetByCode(code)
	if err != nil {
		return false, err
	}
	if err := checkCouponUsable(definition, at); err != nil {
		return false, err
	}
	cart.CouponCode = code
	cart.CouponSeq = payload.Seq
	return true, nil
}

// checkCouponUsable 服务端只校验存在、启用与有效期；起订金额由客户端按小计判断
func checkCouponUsable(definition *models.Coupon, at time.Time) error {
	if definition == nil {
		return ErrCouponNotFound
	}
	if !definition.IsActive {
		return ErrCouponInactive
	}
	if definition.ValidUntil != nil && at.After(*definition.ValidUntil) {
		return ErrCouponExpired
	}
	return nil
}

// effectiveMaxQuantity 单次购买上限与当前库存取小；下架返回 0
func effectiveMaxQuantity(product *models.Product) int {
	if product == nil || !product.IsActive {
		return 0
	}
	limit := product.MaxQuantity
	if product.Stock < limit {
		limit = product.Stock
	}
	if limit < 0 {
		return 0
	}
	return limit
}

// RefreshAvailability 按目录刷新用户购物车的价格、上限与可售状态
// 数量不在此处钳制，由客户端合并时按新上限处理并提示。
func (s *CartSyncService) RefreshAvailability(ctx context.Context, userID uint) (int, error) {
	if userID == 0 {
		return 0, ErrInvalidUserID
	}
	changed := 0
	err := s.cartRepo.Transaction(func(tx *gorm.DB) error {
		cartRepo := s.cartRepo.WithTx(tx)
		cart, err := cartRepo.GetCartForUpdate(userID)
		if err != nil {
			return err
		}
		items, err := cartRepo.ListItems(userID, false)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ProductID)
		}
		products, err := s.productRepo.WithTx(tx).GetByIDs(ids)
		if err != nil {
			return err
		}
		byID := make(map[string]*models.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}

		now := s.now().UTC()
		for i := range items {
			item := &items[i]
			if !refreshItem(item, byID[item.ProductID]) {
				continue
			}
			item.UpdatedAt = now
			if err := cartRepo.SaveItem(item); err != nil {
				return err
			}
			changed++
		}
		if changed == 0 {
			return nil
		}
		if cart == nil {
			cart = &models.Cart{UserID: userID}
		}
		if now.After(cart.UpdatedAt) {
			cart.UpdatedAt = now
		}
		return cartRepo.SaveCart(cart)
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		logger.Infow("cart_availability_refreshed", "user_id", userID, "changed", changed)
	}
	return changed, nil
}

// refreshItem 用目录数据覆盖购物车行，返回是否有变化
func refreshItem(item *models.CartItem, product *models.Product) bool {
	limit := effectiveMaxQuantity(product)
	available := limit >= 1
	changed := item.IsAvailable != available
	item.IsAvailable = available
	if product == nil || !available {
		return changed
	}
	if !item.UnitPrice.Equal(product.UnitPrice) {
		item.UnitPrice = product.UnitPrice
		changed = true
	}
	if !sameOptionalMoney(item.DiscountedPrice, product.DiscountedPrice) {
		item.DiscountedPrice = product.DiscountedPrice
		changed = true
	}
	if item.MaxQuantity != limit {
		item.MaxQuantity = limit
		changed = true
	}
	return changed
}

func sameOptionalMoney(a, b *models.Money) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// RefreshProduct 刷新所有包含指定商品的购物车
func (s *CartSyncService) RefreshProduct(ctx context.Context, productID string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, ErrProductNotFound
	}
	userIDs, err := s.cartRepo.ListUserIDsByProduct(productID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		changed, err := s.RefreshAvailability(ctx, userID)
		if err != nil {
			return total, err
		}
		total += changed
	}
	return total, nil
}

// PurgeMutations 清理过期的变更记录
func (s *CartSyncService) PurgeMutations(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return s.cartRepo.PurgeMutations(s.now().Add(-retention))
}
