package coupon

import (
	"errors"
	"fmt"

	"github.com/freshcart-next/internal/models"
)

// Reason 优惠券拒绝原因
type Reason string

const (
	ReasonEmptyCode     Reason = "empty_code"
	ReasonNotFound      Reason = "not_found"
	ReasonExpired       Reason = "expired"
	ReasonMinimumNotMet Reason = "minimum_not_met"
	ReasonInactive      Reason = "inactive"
	ReasonInvalid       Reason = "invalid"
)

var (
	ErrEmptyCode     = errors.New("coupon: empty code")
	ErrNotFound      = errors.New("coupon: not found")
	ErrExpired       = errors.New("coupon: expired")
	ErrMinimumNotMet = errors.New("coupon: minimum order amount not met")
	ErrInactive      = errors.New("coupon: inactive")
	ErrInvalid       = errors.New("coupon: invalid definition")

	// ErrResolverMissing 未配置优惠券解析器
	ErrResolverMissing = errors.New("coupon: resolver not configured")
)

// Error 优惠券校验失败
// Shortfall 仅在 ReasonMinimumNotMet 时有值，表示还差多少金额。
type Error struct {
	Reason    Reason
	Code      string
	Shortfall models.Money
}

func newError(reason Reason, code string) *Error {
	return &Error{Reason: reason, Code: code}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Reason == ReasonMinimumNotMet {
		return fmt.Sprintf("coupon %q: %s (short by %s)", e.Code, e.Reason, e.Shortfall)
	}
	if e.Code == "" {
		return fmt.Sprintf("coupon: %s", e.Reason)
	}
	return fmt.Sprintf("coupon %q: %s", e.Code, e.Reason)
}

// Unwrap 返回对应的哨兵错误，便于 errors.Is 判断
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	switch e.Reason {
	case ReasonEmptyCode:
		return ErrEmptyCode
	case ReasonNotFound:
		return ErrNotFound
	case ReasonExpired:
		return ErrExpired
	case ReasonMinimumNotMet:
		return ErrMinimumNotMet
	case ReasonInactive:
		return ErrInactive
	default:
		return ErrInvalid
	}
}

// AsError 提取 *Error
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
