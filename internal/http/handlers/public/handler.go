package public

import "github.com/freshcart-next/internal/provider"

// Handler 购物车同步接口处理器入口
// 说明：该处理器服务于客户端购物车的拉取、推送与优惠码解析。
type Handler struct {
	*provider.Container
}

// New 创建接口处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
