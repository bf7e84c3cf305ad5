// Package pricing 购物车金额计算（纯函数，无状态、无 I/O）。
//
// 所有金额在每一步都按 2 位小数 round half-up 舍入，避免
// subtotal → discount → VAT → total 链路上的累计误差。
package pricing

import (
	"errors"
	"strings"

	"github.com/freshcart-next/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrConfigInvalid 计价配置非法
	ErrConfigInvalid = errors.New("pricing: invalid config")
)

// Config 计价配置（外部提供，只读）
type Config struct {
	FreeDeliveryThreshold  models.Money
	StandardDeliveryCharge models.Money
	ExpressDeliveryCharge  models.Money
	VATRate                decimal.Decimal // 0.05 表示 5%
	Currency               string
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.FreeDeliveryThreshold.IsNegative() ||
		c.StandardDeliveryCharge.IsNegative() ||
		c.ExpressDeliveryCharge.IsNegative() {
		return ErrConfigInvalid
	}
	if c.VATRate.IsNegative() || c.VATRate.GreaterThan(decimal.NewFromInt(1)) {
		return ErrConfigInvalid
	}
	if strings.TrimSpace(c.Currency) == "" {
		return ErrConfigInvalid
	}
	return nil
}

// Line 参与计价的行
type Line struct {
	UnitPrice           models.Money
	DiscountedUnitPrice *models.Money
	Quantity            int
	IsAvailable         bool
}

// Breakdown 金额明细
type Breakdown struct {
	Subtotal       models.Money `json:"subtotal"`
	Discount       models.Money `json:"discount"`
	DeliveryCharge models.Money `json:"delivery_charge"`
	VATAmount      models.Money `json:"vat_amount"`
	Total          models.Money `json:"total"`
}

// EffectiveUnitPrice 有活动价时取活动价
func EffectiveUnitPrice(unit models.Money, discounted *models.Money) models.Money {
	if discounted != nil {
		return *discounted
	}
	return unit
}

// LineTotal 行小计 = (活动价 ?? 单价) * 数量
func LineTotal(unit models.Money, discounted *models.Money, quantity int) models.Money {
	if quantity <= 0 {
		return models.Money{}
	}
	return EffectiveUnitPrice(unit, discounted).MulInt(quantity)
}

// DisplaySubtotal 展示用小计（包含已缺货的行）
func DisplaySubtotal(lines []Line) models.Money {
	sum := models.Money{}
	for _, line := range lines {
		sum = sum.Add(LineTotal(line.UnitPrice, line.DiscountedUnitPrice, line.Quantity))
	}
	return sum
}

// CheckoutSubtotal 结算用小计（跳过不可售的行）
func CheckoutSubtotal(lines []Line) models.Money {
	sum := models.Money{}
	for _, line := range lines {
		if !line.IsAvailable {
			continue
		}
		sum = sum.Add(LineTotal(line.UnitPrice, line.DiscountedUnitPrice, line.Quantity))
	}
	return sum
}

// DeliveryCharge 计算配送费
// freeDelivery 为免运费券的旁路标记，命中时无论小计多少都返回 0。
func DeliveryCharge(cfg Config, subtotal models.Money, express bool, freeDelivery bool) models.Money {
	if freeDelivery {
		return models.Money{}
	}
	if subtotal.GreaterThanOrEqual(cfg.FreeDeliveryThreshold.Decimal) {
		if !express {
			return models.Money{}
		}
		return cfg.ExpressDeliveryCharge.Sub(cfg.StandardDeliveryCharge).ClampZero()
	}
	if express {
		return models.NewMoneyFromDecimal(cfg.ExpressDeliveryCharge.Decimal)
	}
	return models.NewMoneyFromDecimal(cfg.StandardDeliveryCharge.Decimal)
}

// VAT 税额 = base * rate
func VAT(base models.Money, rate decimal.Decimal) models.Money {
	if base.IsNegative() || rate.IsNegative() {
		return models.Money{}
	}
	return models.NewMoneyFromDecimal(base.Mul(rate))
}

// TaxBase 计税基数 = max(0, subtotal - discount) + delivery
func TaxBase(subtotal, discount, delivery models.Money) models.Money {
	return subtotal.Sub(discount).ClampZero().Add(delivery)
}

// Total 应付总额 = max(0, subtotal - discount) + delivery + vat
func Total(subtotal, discount, delivery, vat models.Money) models.Money {
	return subtotal.Sub(discount).ClampZero().Add(delivery).Add(vat)
}

// Calculate 串联整个计价链路
func Calculate(cfg Config, subtotal, discount models.Money, express bool, freeDelivery bool) Breakdown {
	subtotal = subtotal.ClampZero()
	discount = discount.ClampZero().Min(subtotal)
	delivery := DeliveryCharge(cfg, subtotal, express, freeDelivery)
	vat := VAT(TaxBase(subtotal, discount, delivery), cfg.VATRate)
	return Breakdown{
		Subtotal:       subtotal,
		Discount:       discount,
		DeliveryCharge: delivery,
		VATAmount:      vat,
		Total:          Total(subtotal, discount, delivery, vat),
	}
}
