package public

import (
	"github.com/freshcart-next/internal/http/response"
	"github.com/freshcart-next/internal/models"

	"github.com/gin-gonic/gin"
)

// GetCart 获取远端购物车快照
func (h *Handler) GetCart(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}

	snapshot, err := h.CartSyncService.Snapshot(c.Request.Context(), uid)
	if err != nil {
		respondWithMappedError(c, err, cartCommonErrorRules, response.CodeInternal, "error.cart_fetch_failed")
		return
	}
	response.Success(c, snapshot)
}

// PushCartMutation 应用客户端推送的单条购物车变更
func (h *Handler) PushCartMutation(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}

	var req models.CartMutationPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", nil)
		return
	}

	result, err := h.CartSyncService.ApplyMutation(c.Request.Context(), uid, req)
	if err != nil {
		requestLog(c).Debugw("cart_mutation_rejected",
			"user_id", uid,
			"mutation_id", req.ID,
			"kind", req.Kind,
			"product_id", req.ProductID,
			"error", err,
		)
		respondWithMappedError(c, err, cartMutationErrorRules, response.CodeInternal, "error.mutation_apply_failed")
		return
	}
	response.Success(c, result)
}
