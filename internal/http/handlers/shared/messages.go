package shared

// messages 错误提示文案
var messages = map[string]string{
	"error.unauthorized":          "unauthorized",
	"error.auth_header_missing":   "authorization header missing",
	"error.auth_header_invalid":   "authorization header invalid",
	"error.jwt_secret_missing":    "jwt secret not configured",
	"error.token_invalid":         "token invalid",
	"error.token_revoked":         "token revoked",
	"error.user_disabled":         "user disabled",
	"error.user_id_invalid":       "user id invalid",
	"error.user_id_type_invalid":  "user id type invalid",
	"error.bad_request":           "bad request",
	"error.too_many_requests":     "too many requests",
	"error.mutation_invalid":      "cart mutation invalid",
	"error.mutation_kind_invalid": "cart mutation kind unsupported",
	"error.mutation_apply_failed": "cart mutation failed",
	"error.cart_fetch_failed":     "cart fetch failed",
	"error.product_not_found":     "product not found",
	"error.product_not_available": "product not available",
	"error.coupon_code_empty":     "coupon code empty",
	"error.coupon_not_found":      "coupon not found",
	"error.coupon_inactive":       "coupon inactive",
	"error.coupon_expired":        "coupon expired",
	"error.coupon_fetch_failed":   "coupon fetch failed",
	"error.service_unavailable":   "service unavailable",
	"error.internal":              "internal error",
}

// Message 按 key 获取提示文案，未登记的 key 原样返回
func Message(key string) string {
	if msg, ok := messages[key]; ok {
		return msg
	}
	return key
}
