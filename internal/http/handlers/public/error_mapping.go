package public

import (
	"errors"

	"github.com/freshcart-next/internal/http/response"
	"github.com/freshcart-next/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	key    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackKey string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.key, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackKey, err)
}

func concatMappedHandlerErrors(groups ...[]mappedHandlerError) []mappedHandlerError {
	total := 0
	for _, group := range groups {
		total += len(group)
	}
	result := make([]mappedHandlerError, 0, total)
	for _, group := range groups {
		result = append(result, group...)
	}
	return result
}

var cartCommonErrorRules = []mappedHandlerError{
	{target: service.ErrInvalidUserID, code: response.CodeUnauthorized, key: "error.user_id_invalid"},
}

var couponErrorRules = []mappedHandlerError{
	{target: service.ErrCouponCodeEmpty, code: response.CodeBadRequest, key: "error.coupon_code_empty"},
	{target: service.ErrCouponNotFound, code: response.CodeNotFound, key: "error.coupon_not_found"},
	{target: service.ErrCouponInactive, code: response.CodeBadRequest, key: "error.coupon_inactive"},
	{target: service.ErrCouponExpired, code: response.CodeBadRequest, key: "error.coupon_expired"},
}

// 以下映射均为 4xx，客户端据此判定为永久拒绝，不再重试
var cartMutationErrorRules = concatMappedHandlerErrors(cartCommonErrorRules, couponErrorRules, []mappedHandlerError{
	{target: service.ErrMutationInvalid, code: response.CodeBadRequest, key: "error.mutation_invalid"},
	{target: service.ErrMutationKind, code: response.CodeBadRequest, key: "error.mutation_kind_invalid"},
	{target: service.ErrProductNotFound, code: response.CodeNotFound, key: "error.product_not_found"},
	{target: service.ErrProductNotAvailable, code: response.CodeBadRequest, key: "error.product_not_available"},
})
