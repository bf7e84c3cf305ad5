// Package cart 会话内唯一的购物车状态，所有修改都经由 Store 的方法完成。
//
// 每次修改后同步重算全部派生金额，并把单条变更交给 MutationSink（远端同步）
// 以及订阅者。通知在锁外按修改顺序派发。
package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/freshcart-next/internal/coupon"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/pricing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxQuantity = 99

// Options Store 构造参数
type Options struct {
	Pricing            pricing.Config
	Resolver           coupon.Resolver
	DefaultMaxQuantity int
	Now                func() time.Time
	NewItemID          func() string
	NewMutationID      func() string
	Logger             *zap.SugaredLogger
}

type observerEntry struct {
	id uint64
	fn Observer
}

// Store 购物车
type Store struct {
	mu sync.Mutex

	cfg           pricing.Config
	resolver      coupon.Resolver
	defaultMax    int
	now           func() time.Time
	newItemID     func() string
	newMutationID func() string
	log           *zap.SugaredLogger

	items         []*LineItem
	coupon        *models.Coupon
	couponAt      time.Time
	couponSeq     uint64
	couponWarning string
	cartSeq       uint64
	clearedAt     time.Time
	express       bool
	seqs          map[string]uint64
	tombstones    map[string]time.Time

	syncStatus   SyncStatus
	syncErr      *SyncError
	lastSyncedAt *time.Time

	state State

	sink           MutationSink
	observers      []observerEntry
	nextObserverID uint64
	pending        []Change
	dispatching    bool
}

// New 创建购物车
func New(opts Options) (*Store, error) {
	if err := opts.Pricing.Validate(); err != nil {
		return nil, err
	}
	if opts.DefaultMaxQuantity <= 0 {
		opts.DefaultMaxQuantity = defaultMaxQuantity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewItemID == nil {
		opts.NewItemID = uuid.NewString
	}
	if opts.NewMutationID == nil {
		opts.NewMutationID = newMutationID
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("cart")
	}
	s := &Store{
		cfg:           opts.Pricing,
		resolver:      opts.Resolver,
		defaultMax:    opts.DefaultMaxQuantity,
		now:           opts.Now,
		newItemID:     opts.NewItemID,
		newMutationID: opts.NewMutationID,
		log:           opts.Logger,
		seqs:          make(map[string]uint64),
		tombstones:    make(map[string]time.Time),
		syncStatus:    SyncStatusIdle,
	}
	s.recomputeLocked()
	return s, nil
}

// SetSink 注册变更接收方（登录后由同步协调器接管）
func (s *Store) SetSink(sink MutationSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// SetResolver 替换优惠券解析器
func (s *Store) SetResolver(resolver coupon.Resolver) {
	s.mu.Lock()
	s.resolver = resolver
	s.mu.Unlock()
}

// Resolver 当前优惠券解析器
func (s *Store) Resolver() coupon.Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver
}

// PricingConfig 计价配置
func (s *Store) PricingConfig() pricing.Config {
	return s.cfg
}

// Snapshot 当前状态的深拷贝
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe 订阅变更，返回取消函数
func (s *Store) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextObserverID++
	id := s.nextObserverID
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, entry := range s.observers {
				if entry.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// AddItem 加购；已存在时累加数量，超出库存上限时截断并返回提示
func (s *Store) AddItem(product Product, quantity int) (Result, error) {
	if err := product.Validate(); err != nil {
		return Result{State: s.Snapshot()}, err
	}
	if quantity <= 0 {
		return Result{State: s.Snapshot()}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if !product.IsAvailable {
		return Result{State: s.Snapshot()}, fmt.Errorf("%w: %s", ErrProductUnavailable, product.ID)
	}

	s.mu.Lock()
	now := s.now()
	item := s.findByProductLocked(product.ID)
	existed := item != nil
	previous := 0
	requested := quantity
	if item == nil {
		item = &LineItem{ID: s.newItemID(), ProductID: product.ID}
		s.items = append(s.items, item)
	} else {
		previous = item.Quantity
		requested += item.Quantity
	}
	item.UnitPrice = product.UnitPrice
	item.DiscountedUnitPrice = cloneMoney(product.DiscountedPrice)
	item.MaxQuantity = product.MaxQuantity
	item.IsAvailable = true

	var warnings []Warning
	item.Quantity = requested
	if requested > item.MaxQuantity {
		item.Quantity = item.MaxQuantity
		warnings = append(warnings, stockWarning(item, requested))
		s.log.Debugw("cart_quantity_clamped", "product_id", item.ProductID, "requested", requested, "allowed", item.MaxQuantity)
	}
	if existed && item.Quantity == previous {
		// 已在上限：数量未变，不产生变更
		res := s.commitLocked(nil, warnings)
		s.mu.Unlock()
		s.dispatch()
		return res, nil
	}
	s.touchItemLocked(item, now)
	m := upsertMutation(item)
	res := s.commitLocked(&m, warnings)
	s.mu.Unlock()
	s.dispatch()
	return res, nil
}

// RemoveItem 删除行；不存在时为空操作
func (s *Store) RemoveItem(itemID string) Result {
	s.mu.Lock()
	idx := s.indexLocked(itemID)
	if idx < 0 {
		res := Result{State: s.state.clone()}
		s.mu.Unlock()
		return res
	}
	item := s.items[idx]
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	now := s.now()
	m := s.removeMutationLocked(item.ProductID, now)
	res := s.commitLocked(&m, nil)
	s.mu.Unlock()
	s.dispatch()
	return res
}

// SetQuantity 修改数量；quantity <= 0 等同删除
func (s *Store) SetQuantity(itemID string, quantity int) Result {
	if quantity <= 0 {
		return s.RemoveItem(itemID)
	}
	s.mu.Lock()
	idx := s.indexLocked(itemID)
	if idx < 0 {
		res := Result{State: s.state.clone()}
		s.mu.Unlock()
		return res
	}
	item := s.items[idx]
	var warnings []Warning
	target := quantity
	if target > item.MaxQuantity {
		target = item.MaxQuantity
		warnings = append(warnings, stockWarning(item, quantity))
	}
	if target == item.Quantity {
		var res Result
		if len(warnings) > 0 {
			res = s.commitLocked(nil, warnings)
		} else {
			res = Result{State: s.state.clone()}
		}
		s.mu.Unlock()
		s.dispatch()
		return res
	}
	item.Quantity = target
	s.touchItemLocked(item, s.now())
	m := upsertMutation(item)
	res := s.commitLocked(&m, warnings)
	s.mu.Unlock()
	s.dispatch()
	return res
}

// ApplyCoupon 校验并应用优惠码（替换而非叠加）
// 校验失败时状态保持不变，返回 *coupon.Error；解析器自身的错误原样返回。
func (s *Store) ApplyCoupon(ctx context.Context, code string) (Result, error) {
	s.mu.Lock()
	resolver := s.resolver
	subtotal := s.state.Subtotal
	s.mu.Unlock()

	_, definition, err := coupon.Resolve(ctx, resolver, code, subtotal, s.now())
	if err != nil {
		if _, ok := coupon.AsError(err); !ok {
			s.log.Warnw("cart_coupon_resolve_failed", "code", coupon.Normalize(code), "error", err)
		}
		return Result{State: s.Snapshot()}, err
	}

	s.mu.Lock()
	now := s.now()
	// 解析期间购物车可能已变化，按最新小计重新判定
	result, err := coupon.Evaluate(code, s.state.Subtotal, definition, now)
	if err != nil {
		res := Result{State: s.state.clone()}
		s.mu.Unlock()
		return res, err
	}
	s.coupon = definition.Clone()
	s.coupon.Code = result.Code
	s.couponAt = now
	s.couponWarning = ""
	s.couponSeq = s.nextSeq(s.couponSeq)
	m := Mutation{Kind: models.MutationCouponApply, CouponCode: result.Code, Seq: s.couponSeq, At: now}
	res := s.commitLocked(&m, nil)
	s.mu.Unlock()
	s.dispatch()
	return res, nil
}

// RemoveCoupon 移除优惠券；未应用时为空操作
func (s *Store) RemoveCoupon() Result {
	s.mu.Lock()
	if s.coupon == nil {
		res := Result{State: s.state.clone()}
		s.mu.Unlock()
		return res
	}
	now := s.now()
	s.coupon = nil
	s.couponAt = now
	s.couponWarning = ""
	s.couponSeq = s.nextSeq(s.couponSeq)
	m := Mutation{Kind: models.MutationCouponRemove, Seq: s.couponSeq, At: now}
	res := s.commitLocked(&m, nil)
	s.mu.Unlock()
	s.dispatch()
	return res
}

// Clear 清空商品；已应用的优惠券保留，直到显式移除
func (s *Store) Clear() Result {
	s.mu.Lock()
	if len(s.items) == 0 {
		res := Result{State: s.state.clone()}
		s.mu.Unlock()
		return res
	}
	now := s.now()
	last := s.cartSeq
	for _, seq := range s.seqs {
		if seq > last {
			last = seq
		}
	}
	s.cartSeq = s.nextSeq(last)
	for _, item := range s.items {
		s.seqs[item.ProductID] = s.cartSeq
	}
	s.items = nil
	s.tombstones = make(map[string]time.Time)
	s.clearedAt = now
	m := Mutation{Kind: models.MutationClear, Seq: s.cartSeq, At: now}
	res := s.commitLocked(&m, nil)
	s.mu.Unlock()
	s.dispatch()
	return res
}

// SetExpress 切换加急配送
func (s *Store) SetExpress(express bool) Result {
	s.mu.Lock()
	if s.express == express {
		res := Result{State: s.state.clone()}
		s.mu.Unlock()
		return res
	}
	s.express = express
	res := s.commitLocked(nil, nil)
	s.mu.Unlock()
	s.dispatch()
	return res
}

// SetSyncStatus 更新同步状态；失败时保留本地可见状态
func (s *Store) SetSyncStatus(status SyncStatus, syncErr *SyncError) State {
	s.mu.Lock()
	s.syncStatus = status
	switch status {
	case SyncStatusIdle:
		s.syncErr = nil
	case SyncStatusError:
		s.syncErr = syncErr.clone()
	}
	state := s.statusChangeLocked()
	s.mu.Unlock()
	s.dispatch()
	return state
}

// MarkSynced 记录一次成功的对账
func (s *Store) MarkSynced(at time.Time) State {
	s.mu.Lock()
	s.syncStatus = SyncStatusIdle
	s.syncErr = nil
	s.lastSyncedAt = &at
	state := s.statusChangeLocked()
	s.mu.Unlock()
	s.dispatch()
	return state
}

// FlagItem 远端永久拒绝某商品的变更：只挂提示，不回滚本地数量
func (s *Store) FlagItem(productID string, message string) Result {
	s.mu.Lock()
	item := s.findByProductLocked(productID)
	if item == nil {
		res := Result{State: s.state.clone()}
		s.mu.Unlock()
		return res
	}
	item.SyncWarning = message
	res := s.commitLocked(nil, []Warning{{
		Kind:      WarningItemSyncRejected,
		ItemID:    item.ID,
		ProductID: item.ProductID,
		Message:   message,
	}})
	s.mu.Unlock()
	s.dispatch()
	return res
}

// FlagCoupon 远端永久拒绝优惠券变更（例如已被撤销）
func (s *Store) FlagCoupon(message string) Result {
	s.mu.Lock()
	code := ""
	if s.coupon != nil {
		code = s.coupon.Code
	}
	s.couponWarning = message
	res := s.commitLocked(nil, []Warning{{
		Kind:       WarningCouponNotApplicable,
		CouponCode: code,
		Message:    message,
	}})
	s.mu.Unlock()
	s.dispatch()
	return res
}

// ResetSession 登出时清空整个会话状态（不产生推送）
func (s *Store) ResetSession() State {
	s.mu.Lock()
	s.items = nil
	s.coupon = nil
	s.couponAt = time.Time{}
	s.couponWarning = ""
	s.clearedAt = time.Time{}
	s.express = false
	s.tombstones = make(map[string]time.Time)
	s.syncStatus = SyncStatusIdle
	s.syncErr = nil
	s.lastSyncedAt = nil
	state := s.statusChangeLocked()
	s.mu.Unlock()
	s.dispatch()
	return state
}

func (s *Store) findByProductLocked(productID string) *LineItem {
	for _, item := range s.items {
		if item.ProductID == productID {
			return item
		}
	}
	return nil
}

func (s *Store) indexLocked(itemID string) int {
	for i, item := range s.items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// nextSeq 混合逻辑时钟：取毫秒时间戳，且严格大于上一次序号
func (s *Store) nextSeq(last uint64) uint64 {
	next := uint64(0)
	if ms := s.now().UnixMilli(); ms > 0 {
		next = uint64(ms)
	}
	if next <= last {
		next = last + 1
	}
	return next
}

func (s *Store) itemSeqLocked(productID string) uint64 {
	last := s.seqs[productID]
	if s.cartSeq > last {
		last = s.cartSeq
	}
	seq := s.nextSeq(last)
	s.seqs[productID] = seq
	return seq
}

func (s *Store) touchItemLocked(item *LineItem, now time.Time) {
	item.modifiedAt = now
	item.seq = s.itemSeqLocked(item.ProductID)
	item.SyncWarning = ""
	delete(s.tombstones, item.ProductID)
}

func (s *Store) removeMutationLocked(productID string, now time.Time) Mutation {
	s.tombstones[productID] = now
	return Mutation{Kind: models.MutationRemove, ProductID: productID, Seq: s.itemSeqLocked(productID), At: now}
}

// commitLocked 重算派生金额并排入通知队列
func (s *Store) commitLocked(m *Mutation, warnings []Warning) Result {
	warnings = append(warnings, s.recomputeLocked()...)
	var change Change
	if m != nil {
		dup := *m
		dup.ID = s.newMutationID()
		change.Mutation = &dup
	}
	change.State = s.state.clone()
	change.Warnings = append([]Warning(nil), warnings...)
	s.pending = append(s.pending, change)
	return Result{State: s.state.clone(), Warnings: warnings}
}

func (s *Store) statusChangeLocked() State {
	s.recomputeLocked()
	s.pending = append(s.pending, Change{State: s.state.clone()})
	return s.state.clone()
}

func (s *Store) recomputeLocked() []Warning {
	items := make([]LineItem, 0, len(s.items))
	count := 0
	for _, item := range s.items {
		items = append(items, item.clone())
		count += item.Quantity
	}
	subtotal := pricing.DisplaySubtotal(PricingLines(items))

	var warnings []Warning
	discount := models.Money{}
	freeDelivery := false
	if s.coupon != nil {
		result, err := coupon.Evaluate(s.coupon.Code, subtotal, s.coupon, s.now())
		if err != nil {
			warnings = append(warnings, couponWarning(s.coupon.Code, err))
		} else {
			discount = result.Discount
			freeDelivery = result.FreeDelivery
		}
	}

	breakdown := pricing.Breakdown{}
	if count > 0 {
		breakdown = pricing.Calculate(s.cfg, subtotal, discount, s.express, freeDelivery)
	}

	var lastSynced *time.Time
	if s.lastSyncedAt != nil {
		at := *s.lastSyncedAt
		lastSynced = &at
	}
	s.state = State{
		Items:          items,
		AppliedCoupon:  s.coupon.Clone(),
		CouponWarning:  s.couponWarning,
		Subtotal:       breakdown.Subtotal,
		Discount:       breakdown.Discount,
		DeliveryCharge: breakdown.DeliveryCharge,
		VATAmount:      breakdown.VATAmount,
		Total:          breakdown.Total,
		ItemCount:      count,
		FreeDelivery:   freeDelivery,
		Express:        s.express,
		Currency:       s.cfg.Currency,
		SyncStatus:     s.syncStatus,
		SyncError:      s.syncErr.clone(),
		LastSyncedAt:   lastSynced,
	}
	return warnings
}

// dispatch 在锁外按顺序派发通知；重入或并发调用时由当前派发者统一排空队列
func (s *Store) dispatch() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		sink := s.sink
		observers := append([]observerEntry(nil), s.observers...)
		s.mu.Unlock()
		s.deliver(batch, sink, observers)
		s.mu.Lock()
	}
	s.dispatching = false
	s.mu.Unlock()
}

func (s *Store) deliver(batch []Change, sink MutationSink, observers []observerEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.dispatching = false
			s.mu.Unlock()
			panic(r)
		}
	}()
	for _, change := range batch {
		if sink != nil && change.Mutation != nil {
			sink.Record(*change.Mutation)
		}
		for _, entry := range observers {
			entry.fn(change)
		}
	}
}
