package cart

import (
	"time"

	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/pricing"
)

// LineItem 购物车中的一行
// 行小计不单独保存，始终由 LineTotal 根据单价、活动价和数量计算。
type LineItem struct {
	ID                  string        `json:"id"`
	ProductID           string        `json:"product_id"`
	UnitPrice           models.Money  `json:"unit_price"`
	DiscountedUnitPrice *models.Money `json:"discounted_unit_price,omitempty"`
	Quantity            int           `json:"quantity"`
	MaxQuantity         int           `json:"max_quantity"`
	IsAvailable         bool          `json:"is_available"`
	SyncWarning         string        `json:"sync_warning,omitempty"`

	modifiedAt time.Time
	seq        uint64
}

// LineTotal 行小计
func (i LineItem) LineTotal() models.Money {
	return pricing.LineTotal(i.UnitPrice, i.DiscountedUnitPrice, i.Quantity)
}

// ModifiedAt 最近一次本地修改时间
func (i LineItem) ModifiedAt() time.Time {
	return i.modifiedAt
}

// Seq 最近一次本地修改的序号
func (i LineItem) Seq() uint64 {
	return i.seq
}

func (i LineItem) pricingLine() pricing.Line {
	return pricing.Line{
		UnitPrice:           i.UnitPrice,
		DiscountedUnitPrice: i.DiscountedUnitPrice,
		Quantity:            i.Quantity,
		IsAvailable:         i.IsAvailable,
	}
}

func (i *LineItem) clone() LineItem {
	dup := *i
	dup.DiscountedUnitPrice = cloneMoney(i.DiscountedUnitPrice)
	return dup
}

// PricingLines 转换为计价行
func PricingLines(items []LineItem) []pricing.Line {
	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.pricingLine())
	}
	return lines
}
