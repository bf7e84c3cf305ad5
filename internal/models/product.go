package models

import (
	"time"

	"gorm.io/gorm"
)

// Product 远端商品目录快照（库存上限与可售状态）
type Product struct {
	ID              string         `gorm:"primaryKey;size:64" json:"id"`                            // 商品ID
	Name            string         `gorm:"not null" json:"name"`                                    // 名称
	UnitPrice       Money          `gorm:"type:decimal(20,2);not null;default:0" json:"unit_price"` // 单价
	DiscountedPrice *Money         `gorm:"type:decimal(20,2)" json:"discounted_price,omitempty"`    // 活动价
	Stock           int            `gorm:"not null;default:0" json:"stock"`                         // 当前库存
	MaxQuantity     int            `gorm:"not null;default:1" json:"max_quantity"`                  // 单次购买上限
	IsActive        bool           `gorm:"not null;default:true;index" json:"is_active"`            // 是否上架
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`                                 // 创建时间
	UpdatedAt       time.Time      `json:"updated_at"`                                              // 更新时间
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`                                          // 软删除时间
}

// TableName 指定表名
func (Product) TableName() string {
	return "products"
}

// Sellable 判断商品能否满足指定数量
func (p *Product) Sellable(quantity int) bool {
	if p == nil || !p.IsActive {
		return false
	}
	return p.Stock >= quantity
}
