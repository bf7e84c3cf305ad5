package service

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUserDisabled   = errors.New("user disabled")
	ErrInvalidUserID  = errors.New("invalid user id")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrJWTSecretEmpty = errors.New("jwt secret not configured")

	ErrMutationInvalid     = errors.New("cart mutation invalid")
	ErrMutationKind        = errors.New("cart mutation kind unsupported")
	ErrProductNotFound     = errors.New("product not found")
	ErrProductNotAvailable = errors.New("product not available")
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponInactive      = errors.New("coupon inactive")
	ErrCouponExpired       = errors.New("coupon expired")
	ErrCouponCodeEmpty     = errors.New("coupon code empty")
)
