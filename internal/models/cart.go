package models

import "time"

// Cart 服务端购物车头（优惠券与整体更新时间）
type Cart struct {
	UserID     uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"` // 用户ID
	CouponCode string    `gorm:"size:64" json:"coupon_code"`                    // 已应用优惠码
	CouponSeq  uint64    `gorm:"not null;default:0" json:"coupon_seq"`          // 优惠券最近序号
	ClearSeq   uint64    `gorm:"not null;default:0" json:"clear_seq"`           // 最近一次清空的序号
	CreatedAt  time.Time `json:"created_at"`                                    // 创建时间
	UpdatedAt  time.Time `gorm:"index;autoUpdateTime:false" json:"updated_at"`  // 最近变更时间（取变更发生时间，不自动更新）
}

// TableName 指定表名
func (Cart) TableName() string {
	return "carts"
}

// CartMutationLog 已应用的变更记录（按变更ID幂等）
type CartMutationLog struct {
	ID         uint      `gorm:"primarykey" json:"id"`                            // 主键
	MutationID string    `gorm:"size:64;uniqueIndex;not null" json:"mutation_id"` // 变更ID
	UserID     uint      `gorm:"index;not null" json:"user_id"`                   // 用户ID
	SessionID  string    `gorm:"size:64" json:"session_id"`                       // 会话ID
	Kind       string    `gorm:"size:20;not null" json:"kind"`                    // 变更类型
	ProductID  string    `gorm:"size:64" json:"product_id"`                       // 商品ID
	Applied    bool      `gorm:"not null" json:"applied"`                         // 是否实际生效（过期序号为 false）
	CreatedAt  time.Time `gorm:"index" json:"created_at"`                         // 创建时间
}

// TableName 指定表名
func (CartMutationLog) TableName() string {
	return "cart_mutation_logs"
}
