package models

import (
	"time"

	"gorm.io/gorm"
)

// 优惠券类型
const (
	CouponKindPercentage   = "percentage"
	CouponKindFixed        = "fixed"
	CouponKindFreeDelivery = "free_delivery"
)

// Coupon 优惠券定义
// MinOrderAmount / MaxDiscountAmount 为 0 表示未设置
type Coupon struct {
	ID                uint           `gorm:"primarykey" json:"id"`                                             // 主键
	Code              string         `gorm:"uniqueIndex;not null" json:"code"`                                 // 优惠码（大写）
	Kind              string         `gorm:"type:varchar(20);not null" json:"kind"`                            // 类型（percentage/fixed/free_delivery）
	Value             Money          `gorm:"type:decimal(20,2);not null;default:0" json:"value"`               // 数值（百分比或固定金额）
	MinOrderAmount    Money          `gorm:"type:decimal(20,2);not null;default:0" json:"min_order_amount"`    // 使用门槛
	MaxDiscountAmount Money          `gorm:"type:decimal(20,2);not null;default:0" json:"max_discount_amount"` // 最大优惠金额
	ValidUntil        *time.Time     `gorm:"index" json:"valid_until,omitempty"`                               // 失效时间
	IsActive          bool           `gorm:"not null;default:true" json:"is_active"`                           // 是否启用
	CreatedAt         time.Time      `gorm:"index" json:"created_at"`                                          // 创建时间
	UpdatedAt         time.Time      `gorm:"index" json:"updated_at"`                                          // 更新时间
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`                                                   // 软删除时间
}

// TableName 指定表名
func (Coupon) TableName() string {
	return "coupons"
}

// Clone 复制优惠券定义
func (c *Coupon) Clone() *Coupon {
	if c == nil {
		return nil
	}
	dup := *c
	if c.ValidUntil != nil {
		until := *c.ValidUntil
		dup.ValidUntil = &until
	}
	return &dup
}
