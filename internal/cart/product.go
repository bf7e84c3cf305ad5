package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/freshcart-next/internal/models"
)

var (
	// ErrInvalidProduct 商品数据不合法（调用方编程错误）
	ErrInvalidProduct = errors.New("cart: invalid product")
	// ErrInvalidQuantity 数量不合法
	ErrInvalidQuantity = errors.New("cart: invalid quantity")
	// ErrProductUnavailable 商品不可售
	ErrProductUnavailable = errors.New("cart: product unavailable")
	// ErrSnapshotVersion 远端快照版本不支持
	ErrSnapshotVersion = errors.New("cart: unsupported snapshot version")
)

// Product 加购时由商品目录提供的商品信息
type Product struct {
	ID              string
	UnitPrice       models.Money
	DiscountedPrice *models.Money
	MaxQuantity     int
	IsAvailable     bool
}

// Validate 在进入购物车前校验商品数据
func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidProduct)
	}
	if p.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: negative unit price for %s", ErrInvalidProduct, p.ID)
	}
	if p.DiscountedPrice != nil {
		if p.DiscountedPrice.IsNegative() {
			return fmt.Errorf("%w: negative discounted price for %s", ErrInvalidProduct, p.ID)
		}
		if p.DiscountedPrice.GreaterThan(p.UnitPrice.Decimal) {
			return fmt.Errorf("%w: discounted price above unit price for %s", ErrInvalidProduct, p.ID)
		}
	}
	if p.MaxQuantity < 1 {
		return fmt.Errorf("%w: max quantity below 1 for %s", ErrInvalidProduct, p.ID)
	}
	return nil
}

// ProductFromModel 由目录模型构造加购商品
func ProductFromModel(p *models.Product) Product {
	if p == nil {
		return Product{}
	}
	return Product{
		ID:              p.ID,
		UnitPrice:       p.UnitPrice,
		DiscountedPrice: cloneMoney(p.DiscountedPrice),
		MaxQuantity:     p.MaxQuantity,
		IsAvailable:     p.Sellable(1),
	}
}

func cloneMoney(m *models.Money) *models.Money {
	if m == nil {
		return nil
	}
	dup := *m
	return &dup
}
