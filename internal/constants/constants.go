package constants

// 用户状态常量
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// 队列名称常量
const (
	QueueDefault  = "default"
	QueueCritical = "critical"
)

// 队列任务类型常量
const (
	TaskCartAvailabilityRefresh = "cart:availability_refresh"
)

// 缓存 key 前缀
const (
	CacheKeyCoupon   = "coupon"
	CacheKeyUserAuth = "auth:user"
)

// 限流规则前缀
const (
	RateLimitCartMutation = "rl:cart_mutation"
	RateLimitCouponLookup = "rl:coupon_lookup"
)

// 请求上下文 key
const (
	ContextKeyUserID    = "user_id"
	ContextKeyUserEmail = "user_email"
)
