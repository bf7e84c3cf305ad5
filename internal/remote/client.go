// Package remote 远端购物车 HTTP 客户端，实现 cartsync.Remote 与 coupon.Resolver。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"

	"go.uber.org/zap"
)

var (
	ErrConfigInvalid   = errors.New("remote: config invalid")
	ErrRequestFailed   = errors.New("remote: request failed")
	ErrResponseInvalid = errors.New("remote: response invalid")
)

const (
	defaultTimeout = 10 * time.Second

	cartPath      = "/api/v1/cart"
	mutationsPath = "/api/v1/cart/mutations"
	couponsPath   = "/api/v1/coupons/"

	// 与服务端 response 包的业务码保持一致
	codeOK       = 0
	codeNotFound = 404
)

// TokenSource 提供当前用户的访问令牌
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc 函数形式的 TokenSource
type TokenFunc func(ctx context.Context) (string, error)

// Token 实现 TokenSource
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken 固定令牌
type StaticToken string

// Token 实现 TokenSource
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Config 客户端配置
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// Client 远端购物车客户端
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	tokens  TokenSource
	log     *zap.SugaredLogger
}

// StatusError 远端返回的失败响应
// 服务端统一以 HTTP 200 + status_code 返回业务错误，网关层错误则体现在 HTTPStatus 上。
type StatusError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != 0 && e.Code != e.HTTPStatus {
		return fmt.Sprintf("remote: http %d code %d: %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("remote: http %d: %s", e.HTTPStatus, e.Message)
}

// HTTPStatusCode 归一化后的状态码（业务码优先）
func (e *StatusError) HTTPStatusCode() int {
	if e.HTTPStatus == http.StatusOK && e.Code != codeOK {
		return e.Code
	}
	return e.HTTPStatus
}

// Permanent 4xx（408/429 除外）视为永久拒绝；其中 401 由同步方按凭证失效处理，不挂商品提示
func (e *StatusError) Permanent() bool {
	status := e.HTTPStatusCode()
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

type envelope struct {
	StatusCode int             `json:"status_code"`
	Msg        string          `json:"msg"`
	Data       json.RawMessage `json:"data"`
}

// New 创建客户端
func New(cfg Config, tokens TokenSource) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: base url is empty", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("remote")
	}
	return &Client{
		baseURL: base,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		tokens:  tokens,
		log:     cfg.Logger,
	}, nil
}

// Pull 拉取远端购物车快照
func (c *Client) Pull(ctx context.Context) (models.CartSnapshot, error) {
	var snapshot models.CartSnapshot
	if err := c.do(ctx, http.MethodGet, cartPath, nil, &snapshot); err != nil {
		return models.CartSnapshot{}, err
	}
	return snapshot, nil
}

// Push 推送单条变更；服务端按 ID 幂等
func (c *Client) Push(ctx context.Context, payload models.CartMutationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode mutation: %v", ErrRequestFailed, err)
	}
	return c.do(ctx, http.MethodPost, mutationsPath, body, nil)
}

// Resolve 查询优惠券定义；不存在时返回 (nil, nil)
func (c *Client) Resolve(ctx context.Context, code string) (*models.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	var definition models.Coupon
	err := c.do(ctx, http.MethodGet, couponsPath+url.PathEscape(code), nil, &definition)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == codeNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &definition, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := c.withDefaultTimeout(ctx)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: token: %v", ErrRequestFailed, err)
		}
		if token = strings.TrimSpace(token); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debugw("remote_request_failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrRequestFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Msg != "" {
			statusErr.Code = env.StatusCode
			statusErr.Message = env.Msg
		}
		return statusErr
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrResponseInvalid, err)
	}
	if env.StatusCode != codeOK {
		return &StatusError{HTTPStatus: resp.StatusCode, Code: env.StatusCode, Message: env.Msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrResponseInvalid, err)
	}
	return nil
}

func (c *Client) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
