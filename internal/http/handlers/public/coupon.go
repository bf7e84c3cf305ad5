package public

import (
	"github.com/freshcart-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GetCoupon 按优惠码获取定义
// 是否可用由客户端优惠引擎按当前小计判断，这里只负责返回定义。
func (h *Handler) GetCoupon(c *gin.Context) {
	definition, err := h.CouponLookupService.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondWithMappedError(c, err, couponErrorRules, response.CodeInternal, "error.coupon_fetch_failed")
		return
	}
	if definition == nil {
		respondError(c, response.CodeNotFound, "error.coupon_not_found", nil)
		return
	}
	response.Success(c, definition)
}
