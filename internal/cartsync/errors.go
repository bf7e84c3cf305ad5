package cartsync

import (
	"errors"
	"net/http"
	"time"

	"github.com/freshcart-next/internal/cart"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrNotAuthenticated 未登录时不与远端同步
	ErrNotAuthenticated = errors.New("cartsync: not authenticated")
	// ErrSessionChanged 结果返回时会话已切换，结果被丢弃
	ErrSessionChanged = errors.New("cartsync: session changed")
	// ErrClosed 协调器已关闭
	ErrClosed = errors.New("cartsync: closed")
	// ErrPushPending 同步结束时仍有未送达远端的变更
	ErrPushPending = errors.New("cartsync: pushes pending")
)

// Permanent 标记为永久错误（远端明确拒绝，重试无意义）
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent 判断错误是否为远端永久拒绝
// 除 Permanent 包装外，任何实现了 Permanent() bool 的错误均可参与判定（如 HTTP 4xx）。
func IsPermanent(err error) bool {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return true
	}
	var target interface{ Permanent() bool }
	if errors.As(err, &target) {
		return target.Permanent()
	}
	return false
}

// IsUnauthorized 远端拒绝了凭证（令牌过期或被吊销）
func IsUnauthorized(err error) bool {
	return httpStatusOf(err) == http.StatusUnauthorized
}

// keepQueued 失败后变更是否应留在队列：瞬时失败与凭证失效都与变更本身无关
func keepQueued(err error) bool {
	if err == nil || IsSessionChanged(err) {
		return false
	}
	return !IsPermanent(err) || IsUnauthorized(err)
}

func httpStatusOf(err error) int {
	var target interface{ HTTPStatusCode() int }
	if errors.As(err, &target) {
		return target.HTTPStatusCode()
	}
	return 0
}

func newSyncError(op string, m *cart.Mutation, err error, at time.Time) *cart.SyncError {
	syncErr := &cart.SyncError{
		Op:           op,
		HTTPStatus:   httpStatusOf(err),
		Permanent:    IsPermanent(err),
		Unauthorized: IsUnauthorized(err),
		Message:      err.Error(),
		At:           at,
		Err:          err,
	}
	if m != nil {
		syncErr.Key = m.Key()
		syncErr.MutationID = m.ID
	}
	return syncErr
}
