package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/freshcart-next/internal/models"

	"gorm.io/gorm"
)

// CartRepository 远端购物车数据访问接口
type CartRepository interface {
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) *GormCartRepository

	GetCart(userID uint) (*models.Cart, error)
	GetCartForUpdate(userID uint) (*models.Cart, error)
	SaveCart(cart *models.Cart) error
	ListItems(userID uint, includeRemoved bool) ([]models.CartItem, error)
	GetItem(userID uint, productID string) (*models.CartItem, error)
	SaveItem(item *models.CartItem) error
	ClearItems(userID uint, seq uint64, at time.Time) (int64, error)
	ListUserIDsByProduct(productID string) ([]uint, error)

	GetMutation(mutationID string) (*models.CartMutationLog, error)
	CreateMutation(log *models.CartMutationLog) error
	PurgeMutations(before time.Time) (int64, error)
}

// GormCartRepository GORM 实现
type GormCartRepository struct {
	db *gorm.DB
}

// NewCartRepository 创建购物车仓库
func NewCartRepository(db *gorm.DB) *GormCartRepository {
	return &GormCartRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCartRepository) WithTx(tx *gorm.DB) *GormCartRepository {
	if tx == nil {
		return r
	}
	return &GormCartRepository{db: tx}
}

// Transaction 执行事务
func (r *GormCartRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// GetCart 获取购物车头，不存在返回 nil
func (r *GormCartRepository) GetCart(userID uint) (*models.Cart, error) {
	var cart models.Cart
	if err := r.db.Where("user_id = ?", userID).First(&cart).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cart, nil
}

// GetCartForUpdate 加锁获取购物车头
func (r *GormCartRepository) GetCartForUpdate(userID uint) (*models.Cart, error) {
	var cart models.Cart
	if err := forUpdate(r.db).Where("user_id = ?", userID).First(&cart).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cart, nil
}

// SaveCart 新建或更新购物车头
func (r *GormCartRepository) SaveCart(cart *models.Cart) error {
	if cart == nil || cart.UserID == 0 {
		return nil
	}
	return r.db.Save(cart).Error
}

// ListItems 获取用户购物车项，includeRemoved 为 true 时包含墓碑行
func (r *GormCartRepository) ListItems(userID uint, includeRemoved bool) ([]models.CartItem, error) {
	query := r.db.Where("user_id = ?", userID)
	if !includeRemoved {
		query = query.Where("quantity > 0")
	}
	var items []models.CartItem
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// GetItem 获取单个购物车项（含墓碑行），不存在返回 nil
func (r *GormCartRepository) GetItem(userID uint, productID string) (*models.CartItem, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, nil
	}
	var item models.CartItem
	if err := r.db.Where("user_id = ? AND product_id = ?", userID, productID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// SaveItem 新建或更新购物车项
func (r *GormCartRepository) SaveItem(item *models.CartItem) error {
	if item == nil {
		return nil
	}
	if item.ID == 0 {
		if err := r.db.Create(item).Error; err != nil {
			return err
		}
		// is_available 带默认值，false 在 Create 时会被忽略
		if !item.IsAvailable {
			return r.db.Model(item).Update("is_available", false).Error
		}
		return nil
	}
	return r.db.Save(item).Error
}

// ClearItems 将序号早于 seq 的购物车项置为墓碑
func (r *GormCartRepository) ClearItems(userID uint, seq uint64, at time.Time) (int64, error) {
	result := r.db.Model(&models.CartItem{}).
		Where("user_id = ? AND last_seq < ?", userID, seq).
		Updates(map[string]interface{}{
			"quantity":   0,
			"last_seq":   seq,
			"updated_at": at,
		})
	return result.RowsAffected, result.Error
}

// ListUserIDsByProduct 查询购物车中含有指定商品的用户
func (r *GormCartRepository) ListUserIDsByProduct(productID string) ([]uint, error) {
	var ids []uint
	if err := r.db.Model(&models.CartItem{}).
		Where("product_id = ? AND quantity > 0", productID).
		Distinct("user_id").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// GetMutation 按变更ID查询已应用记录，不存在返回 nil
func (r *GormCartRepository) GetMutation(mutationID string) (*models.CartMutationLog, error) {
	mutationID = strings.TrimSpace(mutationID)
	if mutationID == "" {
		return nil, nil
	}
	var log models.CartMutationLog
	if err := r.db.Where("mutation_id = ?", mutationID).First(&log).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}

// CreateMutation 写入变更记录
func (r *GormCartRepository) CreateMutation(log *models.CartMutationLog) error {
	if log == nil {
		return nil
	}
	return r.db.Create(log).Error
}

// PurgeMutations 清理早于指定时间的变更记录
func (r *GormCartRepository) PurgeMutations(before time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", before).Delete(&models.CartMutationLog{})
	return result.RowsAffected, result.Error
}
