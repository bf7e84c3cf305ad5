package models

import "time"

// CartItem 服务端购物车项
// 删除以 Quantity=0 的墓碑行表示，保留 LastSeq 以丢弃乱序到达的旧变更。
type CartItem struct {
	ID              uint      `gorm:"primarykey" json:"id"`                                                 // 主键
	UserID          uint      `gorm:"not null;uniqueIndex:idx_cart_user_product" json:"user_id"`            // 用户ID
	ProductID       string    `gorm:"size:64;not null;uniqueIndex:idx_cart_user_product" json:"product_id"` // 商品ID
	Quantity        int       `gorm:"not null" json:"quantity"`                                             // 数量
	UnitPrice       Money     `gorm:"type:decimal(20,2);not null;default:0" json:"unit_price"`              // 单价
	DiscountedPrice *Money    `gorm:"type:decimal(20,2)" json:"discounted_price,omitempty"`                 // 活动价
	MaxQuantity     int       `gorm:"not null;default:1" json:"max_quantity"`                               // 库存上限
	IsAvailable     bool      `gorm:"not null;default:true" json:"is_available"`                            // 是否可售
	LastSeq         uint64    `gorm:"not null;default:0" json:"last_seq"`                                   // 最近已应用的序号
	CreatedAt       time.Time `gorm:"index" json:"created_at"`                                              // 创建时间
	UpdatedAt       time.Time `gorm:"index" json:"updated_at"`                                              // 更新时间
}

// TableName 指定表名
func (CartItem) TableName() string {
	return "cart_items"
}
