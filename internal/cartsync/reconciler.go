// Package cartsync 在登录状态下协调本地购物车与远端购物车。
//
// 本地修改按键去抖后逐条推送（而非整车推送），瞬时失败按有界指数退避重试，
// 永久失败只挂提示不回滚。登录时拉取远端快照并按商品逐项合并。
// 所有远端结果在落地前都会校验会话ID，登出后到达的结果直接丢弃。
package cartsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/freshcart-next/internal/cart"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultDebounce       = 400 * time.Millisecond
	defaultMaxRetries     = 5
	defaultBaseBackoff    = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultStaleAfter     = 5 * time.Minute
	defaultRequestTimeout = 10 * time.Second
)

// Remote 远端购物车服务
type Remote interface {
	Pull(ctx context.Context) (models.CartSnapshot, error)
	Push(ctx context.Context, mutation models.CartMutationPayload) error
}

// Config 同步参数
type Config struct {
	Debounce       time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	StaleAfter     time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce < 0 {
		c.Debounce = 0
	} else if c.Debounce == 0 {
		c.Debounce = defaultDebounce
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Options 协调器可选依赖
// Sleep 为空时按真实时间退避。
type Options struct {
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
	NewSessionID func() string
	Logger       *zap.SugaredLogger
}

// pendingPush 待推送变更；timer 为空表示已停靠，等待下一次 Sync
type pendingPush struct {
	mutation cart.Mutation
	order    uint64
	timer    *time.Timer
}

func (p *pendingPush) stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// Reconciler 同步协调器
type Reconciler struct {
	store  *cart.Store
	remote Remote
	cfg    Config
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	newID  func() string
	log    *zap.SugaredLogger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// resetMu 串行化快照合并与登出清空，保证清空不会落在新会话的合并之后
	resetMu sync.Mutex

	mu            sync.Mutex
	authenticated bool
	closed        bool
	session       string
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	resetPending  bool
	pending       map[string]*pendingPush
	recorded      uint64
	active        int
	failure       *cart.SyncError
	inflight      sync.WaitGroup
}

// New 创建同步协调器
func New(store *cart.Store, remote Remote, cfg Config, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("cartsync")
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:      store,
		remote:     remote,
		cfg:        cfg.withDefaults(),
		now:        opts.Now,
		sleep:      opts.Sleep,
		newID:      opts.NewSessionID,
		log:        opts.Logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		pending:    make(map[string]*pendingPush),
	}
}

// SessionID 当前会话ID（未登录为空）
func (r *Reconciler) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Authenticated 当前是否处于登录同步状态
func (r *Reconciler) Authenticated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authenticated
}

// OnAuthChanged 登录状态变化
// 登录：开启新会话，拉取远端快照并合并；登出：放弃进行中的请求，丢弃待推送变更并清空购物车。
func (r *Reconciler) OnAuthChanged(ctx context.Context, authenticated bool) error {
	if !authenticated {
		r.logout()
		return nil
	}

	r.resetMu.Lock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.resetMu.Unlock()
		return ErrClosed
	}
	reset := r.resetPending
	r.resetPending = false
	if !r.authenticated {
		r.authenticated = true
		r.session = r.newID()
		r.sessionCtx, r.sessionCancel = context.WithCancel(r.baseCtx)
		r.failure = nil
		r.log.Infow("cart_sync_session_started", "session_id", r.session)
	}
	session := r.session
	r.mu.Unlock()
	if reset {
		// 上一个会话的清空尚未执行，先于新会话的合并完成
		r.store.ResetSession()
	}
	r.store.SetSink(r)
	r.resetMu.Unlock()

	return r.pull(ctx, session)
}

func (r *Reconciler) logout() {
	r.mu.Lock()
	wasAuthenticated := r.authenticated
	session := r.session
	r.authenticated = false
	r.session = ""
	if r.sessionCancel != nil {
		r.sessionCancel()
		r.sessionCancel = nil
	}
	r.sessionCtx = nil
	dropped := len(r.pending)
	r.stopPendingLocked()
	r.active = 0
	r.failure = nil
	if wasAuthenticated {
		r.resetPending = true
	}
	r.mu.Unlock()

	if !wasAuthenticated {
		return
	}
	// 等待进行中的合并结束后再清空；期间若已重新登录，清空由登录完成
	r.resetMu.Lock()
	r.mu.Lock()
	reset := r.resetPending
	r.resetPending = false
	r.mu.Unlock()
	if reset {
		r.store.SetSink(nil)
		r.store.ResetSession()
	}
	r.resetMu.Unlock()
	r.log.Infow("cart_sync_session_ended", "session_id", session, "dropped_pushes", dropped)
}

// Record 实现 cart.MutationSink：按键去抖，同一键只保留最新的变更
// clear 会取代所有待推送的商品变更。
func (r *Reconciler) Record(m cart.Mutation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.authenticated || r.closed {
		return
	}
	if m.Kind == models.MutationClear {
		for key, p := range r.pending {
			if strings.HasPrefix(key, "item:") && p.mutation.Seq < m.Seq {
				p.stop()
				delete(r.pending, key)
			}
		}
	}
	key := m.Key()
	if previous, ok := r.pending[key]; ok {
		previous.stop()
	}
	session := r.session
	r.recorded++
	p := &pendingPush{mutation: m, order: r.recorded}
	p.timer = time.AfterFunc(r.cfg.Debounce, func() { r.fire(session, key, p) })
	r.pending[key] = p
}

func (r *Reconciler) fire(session, key string, p *pendingPush) {
	r.mu.Lock()
	if r.session != session || !r.authenticated || r.pending[key] != p {
		r.mu.Unlock()
		return
	}
	delete(r.pending, key)
	ctx := r.sessionCtx
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	if err := r.push(ctx, session, p.mutation); err != nil && keepQueued(err) {
		r.requeue(session, []*pendingPush{p})
	}
}

// Sync 推送全部待推送变更，拉取远端快照，再送达合并产生的补推
func (r *Reconciler) Sync(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.authenticated {
		r.mu.Unlock()
		return ErrNotAuthenticated
	}
	session := r.session
	sessionCtx := r.sessionCtx
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	opCtx, cancel := joinContext(ctx, sessionCtx)
	defer cancel()

	if err := r.flush(opCtx, session); err != nil {
		return err
	}
	if err := r.pull(ctx, session); err != nil {
		return err
	}
	return r.flush(opCtx, session)
}

// flush 按记录顺序推送队列中的变更
// 瞬时失败或凭证失效时停止，失败的与尚未尝试的变更放回队列。
func (r *Reconciler) flush(ctx context.Context, session string) error {
	r.mu.Lock()
	if r.session != session || !r.authenticated {
		r.mu.Unlock()
		return ErrSessionChanged
	}
	batch := r.drainPendingLocked()
	r.mu.Unlock()

	for i, p := range batch {
		err := r.push(ctx, session, p.mutation)
		switch {
		case err == nil:
		case IsSessionChanged(err):
			return err
		case keepQueued(err):
			r.requeue(session, batch[i:])
			return err
		}
	}
	return nil
}

// requeue 把未送达的变更停靠回队列，同键已有更新的变更时保留较新的一条
func (r *Reconciler) requeue(session string, entries []*pendingPush) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.authenticated || r.session != session {
		return
	}
	for _, p := range entries {
		key := p.mutation.Key()
		if existing, ok := r.pending[key]; ok && existing.order > p.order {
			continue
		}
		if cleared, ok := r.pending[cart.KeyCart]; ok && p.mutation.IsItem() && p.mutation.Seq < cleared.mutation.Seq {
			continue
		}
		if existing, ok := r.pending[key]; ok {
			existing.stop()
		}
		p.timer = nil
		r.pending[key] = p
	}
}

// EnsureFresh 最近一次对账超过 StaleAfter（或存在待推送/失败）时重新同步
// 同步后仍有未送达的变更时返回 ErrPushPending。未登录时购物车即为本地权威，直接返回 nil。
func (r *Reconciler) EnsureFresh(ctx context.Context) error {
	r.mu.Lock()
	authenticated := r.authenticated
	hasPending := len(r.pending) > 0
	r.mu.Unlock()
	if !authenticated {
		return nil
	}
	state := r.store.Snapshot()
	if !hasPending && state.SyncStatus != cart.SyncStatusError && state.LastSyncedAt != nil &&
		r.now().Sub(*state.LastSyncedAt) < r.cfg.StaleAfter {
		return nil
	}
	if err := r.Sync(ctx); err != nil {
		return err
	}
	if n := r.PendingCount(); n > 0 {
		return fmt.Errorf("%w: %d", ErrPushPending, n)
	}
	return nil
}

// LastError 最近一次同步失败（成功后清空）
func (r *Reconciler) LastError() *cart.SyncError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		return nil
	}
	dup := *r.failure
	return &dup
}

// PendingCount 待推送的变更数
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close 停止协调器并等待进行中的请求退出
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.stopPendingLocked()
	r.baseCancel()
	r.mu.Unlock()
	r.inflight.Wait()
}

func (r *Reconciler) pull(ctx context.Context, session string) error {
	r.mu.Lock()
	if r.session != session || !r.authenticated {
		r.mu.Unlock()
		return ErrSessionChanged
	}
	sessionCtx := r.sessionCtx
	r.mu.Unlock()

	opCtx, cancel := joinContext(ctx, sessionCtx)
	defer cancel()

	r.begin(session)
	var snapshot models.CartSnapshot
	err := r.retry(opCtx, "pull", func(attemptCtx context.Context) error {
		var pullErr error
		snapshot, pullErr = r.remote.Pull(attemptCtx)
		return pullErr
	})

	r.resetMu.Lock()
	if !r.current(session) {
		r.resetMu.Unlock()
		r.log.Debugw("cart_sync_result_discarded", "op", "pull", "session_id", session)
		return ErrSessionChanged
	}
	if err != nil {
		r.resetMu.Unlock()
		r.log.Warnw("cart_sync_pull_failed", "session_id", session, "error", err)
		r.end(session, newSyncError("pull", nil, err, r.now()), false)
		return err
	}
	outcome, err := r.store.MergeRemote(snapshot)
	if err != nil {
		r.resetMu.Unlock()
		r.log.Errorw("cart_sync_snapshot_rejected", "session_id", session, "error", err)
		r.end(session, newSyncError("pull", nil, Permanent(err), r.now()), false)
		return err
	}
	if outcome.RemoteCoupon != "" {
		if _, err := r.store.AdoptCoupon(opCtx, outcome.RemoteCoupon, snapshot.UpdatedAt); err != nil {
			r.log.Warnw("cart_sync_coupon_adopt_failed", "code", outcome.RemoteCoupon, "error", err)
		}
	}
	r.resetMu.Unlock()

	if !r.current(session) {
		// 合并期间登出：清空由登出或随后的登录执行
		return ErrSessionChanged
	}
	for _, m := range outcome.Pushes {
		r.Record(m)
	}
	r.end(session, nil, true)
	return nil
}

func (r *Reconciler) push(ctx context.Context, session string, m cart.Mutation) error {
	if ctx == nil {
		return ErrSessionChanged
	}
	payload := m.Payload(session)
	r.begin(session)
	err := r.retry(ctx, "push", func(attemptCtx context.Context) error {
		return r.remote.Push(attemptCtx, payload)
	})
	if !r.current(session) {
		r.log.Debugw("cart_sync_result_discarded", "op", "push", "mutation_id", m.ID, "session_id", session)
		return ErrSessionChanged
	}
	if err == nil {
		r.end(session, nil, false)
		return nil
	}

	syncErr := newSyncError("push", &m, err, r.now())
	switch {
	case syncErr.Unauthorized:
		// 凭证失效与具体变更无关：不挂商品提示，变更留待重新认证后推送
		r.log.Warnw("cart_sync_push_unauthorized", "mutation_id", m.ID, "kind", m.Kind, "error", err)
	case syncErr.Permanent:
		r.log.Warnw("cart_sync_push_rejected",
			"mutation_id", m.ID,
			"kind", m.Kind,
			"product_id", m.ProductID,
			"http_status", syncErr.HTTPStatus,
			"error", err,
		)
		switch {
		case m.IsItem():
			r.store.FlagItem(m.ProductID, err.Error())
		case m.Key() == cart.KeyCoupon:
			r.store.FlagCoupon(err.Error())
		}
	default:
		r.log.Warnw("cart_sync_push_failed", "mutation_id", m.ID, "kind", m.Kind, "error", err)
	}
	r.end(session, syncErr, false)
	return err
}

// retry 瞬时失败按 base*2^n（封顶 MaxBackoff）退避，最多重试 MaxRetries 次
func (r *Reconciler) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var (
		last    error
		attempt int
	)
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
		last = fn(attemptCtx)
		if last != nil && IsPermanent(last) {
			return backoff.Permanent(last)
		}
		return last
	}
	notify := func(err error, delay time.Duration) {
		attempt++
		r.log.Debugw("cart_sync_retry", "op", op, "attempt", attempt, "delay", delay, "error", err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(r.exponential(), uint64(r.cfg.MaxRetries)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, policy, notify, r.timer(ctx))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if last != nil {
		return last
	}
	return err
}

// Backoff 第 attempt 次失败后的等待时间
func (r *Reconciler) Backoff(attempt int) time.Duration {
	policy := r.exponential()
	delay := policy.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}

// exponential 不抖动、不限总时长的指数退避，次数由 WithMaxRetries 控制
func (r *Reconciler) exponential() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.BaseBackoff
	policy.MaxInterval = r.cfg.MaxBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Clock = clockFunc(r.now)
	policy.Reset()
	return policy
}

func (r *Reconciler) timer(ctx context.Context) backoff.Timer {
	if r.sleep == nil {
		return nil
	}
	return &sleepTimer{ctx: ctx, sleep: r.sleep}
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time {
	return f()
}

// sleepTimer 以注入的 Sleep 驱动退避等待
type sleepTimer struct {
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
	c     chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	t.c = make(chan time.Time, 1)
	if err := t.sleep(t.ctx, d); err != nil && t.ctx.Err() != nil {
		return
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time {
	return t.c
}

func (r *Reconciler) current(session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authenticated && r.session == session
}

func (r *Reconciler) begin(session string) {
	r.mu.Lock()
	if r.session != session || !r.authenticated {
		r.mu.Unlock()
		return
	}
	r.active++
	r.mu.Unlock()
	r.store.SetSyncStatus(cart.SyncStatusSyncing, nil)
}

// end 结束一次远端操作并推进 syncStatus：失败进入 error，任一后续成功清除错误
func (r *Reconciler) end(session string, syncErr *cart.SyncError, pulled bool) {
	r.mu.Lock()
	if r.session != session || !r.authenticated {
		r.mu.Unlock()
		return
	}
	if r.active > 0 {
		r.active--
	}
	r.failure = syncErr
	active := r.active
	r.mu.Unlock()

	switch {
	case syncErr != nil:
		r.store.SetSyncStatus(cart.SyncStatusError, syncErr)
	case pulled:
		r.store.MarkSynced(r.now())
		if active > 0 {
			r.store.SetSyncStatus(cart.SyncStatusSyncing, nil)
		}
	case active == 0:
		r.store.SetSyncStatus(cart.SyncStatusIdle, nil)
	}
}

// drainPendingLocked 取出全部待推送变更，按记录顺序排列
func (r *Reconciler) drainPendingLocked() []*pendingPush {
	entries := make([]*pendingPush, 0, len(r.pending))
	for key, p := range r.pending {
		p.stop()
		entries = append(entries, p)
		delete(r.pending, key)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].order < entries[j].order
	})
	return entries
}

func (r *Reconciler) stopPendingLocked() {
	for key, p := range r.pending {
		p.stop()
		delete(r.pending, key)
	}
}

// joinContext 任一 context 结束即取消
func joinContext(ctx, session context.Context) (context.Context, context.CancelFunc) {
	if session == nil {
		session = context.Background()
	}
	joined, cancel := context.WithCancel(session)
	if ctx == nil {
		return joined, cancel
	}
	stop := context.AfterFunc(ctx, cancel)
	return joined, func() {
		stop()
		cancel()
	}
}

var _ cart.MutationSink = (*Reconciler)(nil)

// IsSessionChanged 判断结果是否因会话切换被丢弃
func IsSessionChanged(err error) bool {
	return errors.Is(err, ErrSessionChanged)
}
