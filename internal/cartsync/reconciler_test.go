package cartsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/freshcart-next/internal/cart"
	"github.com/freshcart-next/internal/coupon"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/pricing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type transientError struct{ status int }

func (e transientError) Error() string       { return "remote unavailable" }
func (e transientError) HTTPStatusCode() int { return e.status }

type rejectedError struct {
	status int
	msg    string
}

func (e rejectedError) Error() string       { return e.msg }
func (e rejectedError) HTTPStatusCode() int { return e.status }
func (e rejectedError) Permanent() bool     { return true }

type stubRemote struct {
	mu        sync.Mutex
	snapshot  models.CartSnapshot
	pullErrs  []error
	pushErrs  []error
	pushes    []models.CartMutationPayload
	pulls     int
	pushGate  chan struct{}
	pullGate  chan struct{}
	pullStart chan struct{}
}

func (r *stubRemote) Pull(ctx context.Context) (models.CartSnapshot, error) {
	r.mu.Lock()
	r.pulls++
	var err error
	if len(r.pullErrs) > 0 {
		err = r.pullErrs[0]
		r.pullErrs = r.pullErrs[1:]
	}
	snapshot := r.snapshot
	gate := r.pullGate
	started := r.pullStart
	r.mu.Unlock()
	if started != nil {
		close(started)
	}
	if gate != nil {
		// 模拟登出后才到达的响应：忽略 ctx
		<-gate
	}
	return snapshot, err
}

func (r *stubRemote) Push(ctx context.Context, m models.CartMutationPayload) error {
	r.mu.Lock()
	r.pushes = append(r.pushes, m)
	var err error
	if len(r.pushErrs) > 0 {
		err = r.pushErrs[0]
		r.pushErrs = r.pushErrs[1:]
	}
	gate := r.pushGate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err == nil {
		r.mu.Lock()
		r.applyLocked(m)
		r.mu.Unlock()
	}
	return err
}

// applyLocked 把已接受的变更写入远端快照，后续拉取即可看到
func (r *stubRemote) applyLocked(m models.CartMutationPayload) {
	items := make([]models.CartSnapshotItem, 0, len(r.snapshot.Items)+1)
	for _, item := range r.snapshot.Items {
		if item.ProductID != m.ProductID {
			items = append(items, item)
		}
	}
	switch m.Kind {
	case models.MutationUpsert:
		items = append(items, models.CartSnapshotItem{
			ProductID:       m.ProductID,
			Quantity:        m.Quantity,
			UnitPrice:       m.UnitPrice,
			DiscountedPrice: m.DiscountedPrice,
			MaxQuantity:     m.MaxQuantity,
			IsAvailable:     true,
			Seq:             m.Seq,
		})
	case models.MutationRemove:
	case models.MutationClear:
		items = nil
	case models.MutationCouponApply:
		items = r.snapshot.Items
		r.snapshot.CouponCode = m.CouponCode
	case models.MutationCouponRemove:
		items = r.snapshot.Items
		r.snapshot.CouponCode = ""
	}
	r.snapshot.Items = items
	if m.At.After(r.snapshot.UpdatedAt) {
		r.snapshot.UpdatedAt = m.At
	}
}

func (r *stubRemote) pushed() []models.CartMutationPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CartMutationPayload(nil), r.pushes...)
}

func (r *stubRemote) pullCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulls
}

type harness struct {
	clock  *fakeClock
	store  *cart.Store
	remote *stubRemote
	rec    *Reconciler
	delays []time.Duration
	mu     sync.Mutex
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:  &fakeClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
		remote: &stubRemote{snapshot: models.CartSnapshot{Version: models.CartSnapshotVersion}},
	}
	store, err := cart.New(cart.Options{
		Pricing: pricing.Config{
			FreeDeliveryThreshold:  models.MustMoney("100.00"),
			StandardDeliveryCharge: models.MustMoney("4.99"),
			ExpressDeliveryCharge:  models.MustMoney("9.99"),
			VATRate:                decimal.RequireFromString("0.05"),
			Currency:               "GBP",
		},
		Resolver: coupon.StaticResolver{
			"SAVE20": {Code: "SAVE20", Kind: models.CouponKindPercentage, Value: models.MustMoney("20"), IsActive: true},
		},
		Now:    h.clock.Now,
		Logger: zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	h.store = store
	h.rec = New(store, h.remote, cfg, Options{
		Now: h.clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.delays = append(h.delays, d)
			h.mu.Unlock()
			return ctx.Err()
		},
		Logger: zap.NewNop().Sugar(),
	})
	t.Cleanup(h.rec.Close)
	return h
}

func productA() cart.Product {
	return cart.Product{ID: "A", UnitPrice: models.MustMoney("10.00"), MaxQuantity: 5, IsAvailable: true}
}

func productB() cart.Product {
	return cart.Product{ID: "B", UnitPrice: models.MustMoney("2.50"), MaxQuantity: 9, IsAvailable: true}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestLoginPullsAndMerges(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour})
	h.remote.snapshot = models.CartSnapshot{
		Version: models.CartSnapshotVersion,
		Items: []models.CartSnapshotItem{
			{ProductID: "A", Quantity: 2, UnitPrice: models.MustMoney("10.00"), MaxQuantity: 5, IsAvailable: true, Seq: 7},
		},
		UpdatedAt: h.clock.Now(),
	}

	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login sync failed: %v", err)
	}
	state := h.store.Snapshot()
	if state.ItemCount != 2 || !state.Subtotal.Equal(models.MustMoney("20.00")) {
		t.Fatalf("expected remote item merged, got %+v", state)
	}
	if state.SyncStatus != cart.SyncStatusIdle || state.LastSyncedAt == nil {
		t.Fatalf("expected idle with last synced, got %s", state.SyncStatus)
	}
	if h.rec.SessionID() == "" {
		t.Fatalf("expected session id")
	}
}

func TestGuestItemsPushedAfterLogin(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour})
	h.clock.Advance(time.Minute)
	if _, err := h.store.AddItem(productA(), 2); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if h.rec.PendingCount() != 1 {
		t.Fatalf("guest item should be queued for push, pending=%d", h.rec.PendingCount())
	}
	if err := h.rec.Sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	pushes := h.remote.pushed()
	if len(pushes) != 1 || pushes[0].Kind != models.MutationUpsert || pushes[0].ProductID != "A" || pushes[0].Quantity != 2 {
		t.Fatalf("unexpected pushes %+v", pushes)
	}
	if pushes[0].SessionID != h.rec.SessionID() {
		t.Fatalf("push must carry the session id")
	}
}

func TestDebounceCoalescesQuantityChanges(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	res, _ := h.store.AddItem(productA(), 1)
	id := res.State.Items[0].ID
	h.store.SetQuantity(id, 2)
	h.store.SetQuantity(id, 3)
	h.store.SetQuantity(id, 4)
	if _, err := h.store.AddItem(productB(), 1); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if h.rec.PendingCount() != 2 {
		t.Fatalf("expected one pending push per product, got %d", h.rec.PendingCount())
	}
	if err := h.rec.Sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	pushes := h.remote.pushed()
	if len(pushes) != 2 {
		t.Fatalf("expected 2 coalesced pushes, got %d", len(pushes))
	}
	if pushes[0].ProductID != "A" || pushes[0].Quantity != 4 {
		t.Fatalf("expected latest quantity 4 for A first, got %+v", pushes[0])
	}
}

func TestDebounceTimerFiresPush(t *testing.T) {
	h := newHarness(t, Config{Debounce: 5 * time.Millisecond})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := h.store.AddItem(productA(), 1); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	waitFor(t, func() bool { return len(h.remote.pushed()) == 1 })
	waitFor(t, func() bool { return h.store.Snapshot().SyncStatus == cart.SyncStatusIdle })
}

func TestClearSupersedesPendingItemPushes(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	_, _ = h.store.AddItem(productA(), 1)
	_, _ = h.store.AddItem(productB(), 1)
	h.store.Clear()
	if h.rec.PendingCount() != 1 {
		t.Fatalf("clear should supersede item pushes, pending=%d", h.rec.PendingCount())
	}
	if err := h.rec.Sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	pushes := h.remote.pushed()
	if len(pushes) != 1 || pushes[0].Kind != models.MutationClear {
		t.Fatalf("expected a single clear push, got %+v", pushes)
	}
}

func TestTransientFailureRetriesWithSameMutationID(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, MaxRetries: 4})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	_, _ = h.store.AddItem(productA(), 2)
	h.remote.mu.Lock()
	h.remote.pushErrs = []error{transientError{status: 503}, errors.New("connection reset"), nil}
	h.remote.mu.Unlock()

	if err := h.rec.Sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	pushes := h.remote.pushed()
	if len(pushes) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(pushes))
	}
	if pushes[0].ID == "" || pushes[0].ID != pushes[1].ID || pushes[1].ID != pushes[2].ID {
		t.Fatalf("retries must reuse the mutation id: %s %s %s", pushes[0].ID, pushes[1].ID, pushes[2].ID)
	}
	h.mu.Lock()
	delays := append([]time.Duration(nil), h.delays...)
	h.mu.Unlock()
	if len(delays) != 2 || delays[0] != 100*time.Millisecond || delays[1] != 200*time.Millisecond {
		t.Fatalf("unexpected backoff delays %v", delays)
	}
	if state := h.store.Snapshot(); state.SyncStatus != cart.SyncStatusIdle {
		t.Fatalf("expected idle after recovery, got %s", state.SyncStatus)
	}
}

func TestRetriesAreBounded(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour, MaxRetries: 2, BaseBackoff: time.Millisecond})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	_, _ = h.store.AddItem(productA(), 2)
	h.remote.mu.Lock()
	h.remote.pushErrs = []error{transientError{503}, transientError{503}, transientError{503}, transientError{503}}
	h.remote.mu.Unlock()

	err := h.rec.Sync(context.Background())
	if err == nil {
		t.Fatalf("expected sync to fail after retries")
	}
	if got := len(h.remote.pushed()); got != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", got)
	}
	state := h.store.Snapshot()
	if state.SyncStatus != cart.SyncStatusError || state.SyncError == nil || state.SyncError.Permanent {
		t.Fatalf("expected transient error status, got %+v", state.SyncError)
	}
	if state.SyncError.HTTPStatus != 503 {
		t.Fatalf("expected http status 503, got %d", state.SyncError.HTTPStatus)
	}
	if state.ItemCount != 2 {
		t.Fatalf("failed sync must keep local cart")
	}
}

func TestPermanentFailureFlagsItemWithoutRollback(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Millisecond})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	h.remote.mu.Lock()
	h.remote.pushErrs = []error{Permanent(errors.New("product discontinued"))}
	h.remote.mu.Unlock()
	_, _ = h.store.AddItem(productA(), 3)

	waitFor(t, func() bool { return h.store.Snapshot().SyncStatus == cart.SyncStatusError })
	state := h.store.Snapshot()
	item, _ := state.ItemByProduct("A")
	if item.Quantity != 3 {
		t.Fatalf("permanent failure must not roll back, got %d", item.Quantity)
	}
	if item.SyncWarning == "" {
		t.Fatalf("expected sync warning on the item")
	}
	if state.SyncError == nil || !state.SyncError.Permanent || state.SyncError.Key != "item:A" {
		t.Fatalf("expected permanent sync error, got %+v", state.SyncError)
	}
	if got := len(h.remote.pushed()); got != 1 {
		t.Fatalf("permanent failures are not retried, got %d attempts", got)
	}
}

func TestLogoutDiscardsLatePullResult(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour})
	gate := make(chan struct{})
	started := make(chan struct{})
	h.remote.pullGate = gate
	h.remote.pullStart = started
	h.remote.snapshot = models.CartSnapshot{
		Version:   models.CartSnapshotVersion,
		Items:     []models.CartSnapshotItem{{ProductID: "A", Quantity: 2, UnitPrice: models.MustMoney("10.00"), MaxQuantity: 5, IsAvailable: true}},
		UpdatedAt: h.clock.Now(),
	}

	done := make(chan error, 1)
	go func() { done <- h.rec.OnAuthChanged(context.Background(), true) }()
	<-started
	if err := h.rec.OnAuthChanged(context.Background(), false); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	close(gate)

	err := <-done
	if !IsSessionChanged(err) {
		t.Fatalf("expected session changed, got %v", err)
	}
	if state := h.store.Snapshot(); state.ItemCount != 0 {
		t.Fatalf("late pull result must be discarded, got %+v", state.Items)
	}
}

func TestLogoutCancelsInflightPushAndClearsCart(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	h.remote.mu.Lock()
	h.remote.pushGate = make(chan struct{})
	h.remote.pushErrs = []error{Permanent(errors.New("rejected"))}
	h.remote.mu.Unlock()
	_, _ = h.store.AddItem(productA(), 1)

	done := make(chan error, 1)
	go func() { done <- h.rec.Sync(context.Background()) }()
	waitFor(t, func() bool { return len(h.remote.pushed()) == 1 })
	if err := h.rec.OnAuthChanged(context.Background(), false); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if err := <-done; !IsSessionChanged(err) {
		t.Fatalf("expected session changed, got %v", err)
	}
	state := h.store.Snapshot()
	if state.ItemCount != 0 || state.SyncStatus != cart.SyncStatusIdle || state.SyncError != nil {
		t.Fatalf("logout must leave a clean cart, got %+v", state)
	}
	if h.rec.PendingCount() != 0 || h.rec.Authenticated() {
		t.Fatalf("logout must drop pending pushes")
	}
}

func TestGuestModeDoesNotSync(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Millisecond})
	_, _ = h.store.AddItem(productA(), 1)
	if h.rec.PendingCount() != 0 {
		t.Fatalf("guest mutations must not be queued")
	}
	if err := h.rec.Sync(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if err := h.rec.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("guest EnsureFresh should be a no-op, got %v", err)
	}
	if err := h.rec.OnAuthChanged(context.Background(), false); err != nil {
		t.Fatalf("logout as guest failed: %v", err)
	}
	if h.store.Snapshot().ItemCount != 1 {
		t.Fatalf("guest logout signal must not clear the guest cart")
	}
}

func TestEnsureFreshResyncsWhenStale(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour, StaleAfter: time.Minute})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := h.rec.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh failed: %v", err)
	}
	if got := h.remote.pullCount(); got != 1 {
		t.Fatalf("fresh cart must not re-pull, got %d pulls", got)
	}
	h.clock.Advance(2 * time.Minute)
	if err := h.rec.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh failed: %v", err)
	}
	if got := h.remote.pullCount(); got != 2 {
		t.Fatalf("stale cart must re-pull, got %d pulls", got)
	}
}

func TestPullFailureSetsErrorStatus(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour, MaxRetries: -1})
	h.remote.pullErrs = []error{transientError{502}}
	err := h.rec.OnAuthChanged(context.Background(), true)
	if err == nil {
		t.Fatalf("expected pull failure")
	}
	state := h.store.Snapshot()
	if state.SyncStatus != cart.SyncStatusError || state.LastSyncedAt != nil {
		t.Fatalf("expected error status without last synced, got %+v", state)
	}
	if err := h.rec.Sync(context.Background()); err != nil {
		t.Fatalf("retry sync failed: %v", err)
	}
	if state := h.store.Snapshot(); state.SyncStatus != cart.SyncStatusIdle || h.rec.LastError() != nil {
		t.Fatalf("expected recovery to idle, got %s", state.SyncStatus)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	rec := New(nil, nil, Config{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}, Options{Logger: zap.NewNop().Sugar()})
	defer rec.Close()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for attempt, expected := range want {
		if got := rec.Backoff(attempt); got != expected {
			t.Fatalf("attempt %d: want %s got %s", attempt, expected, got)
		}
	}
}

func TestFailedSyncKeepsUntriedPushesQueued(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour, MaxRetries: 1, BaseBackoff: time.Millisecond, StaleAfter: time.Minute})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	_, _ = h.store.AddItem(productA(), 2)
	_, _ = h.store.AddItem(productB(), 1)
	h.remote.mu.Lock()
	h.remote.pushErrs = []error{transientError{503}, transientError{503}}
	h.remote.mu.Unlock()

	if err := h.rec.Sync(context.Background()); err == nil {
		t.Fatalf("expected sync to fail")
	}
	pushes := h.remote.pushed()
	if len(pushes) != 2 || pushes[0].ProductID != "A" || pushes[1].ProductID != "A" {
		t.Fatalf("expected two attempts for A only, got %+v", pushes)
	}
	if got := h.rec.PendingCount(); got != 2 {
		t.Fatalf("failed and untried pushes must stay queued, pending=%d", got)
	}
	if state := h.store.Snapshot(); state.SyncStatus != cart.SyncStatusError {
		t.Fatalf("expected error status, got %s", state.SyncStatus)
	}

	h.clock.Advance(10 * time.Minute)
	if err := h.rec.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh failed: %v", err)
	}
	pushes = h.remote.pushed()
	if len(pushes) != 4 {
		t.Fatalf("expected A and B delivered after recovery, got %+v", pushes)
	}
	if pushes[2].ProductID != "A" || pushes[2].ID != pushes[0].ID || pushes[3].ProductID != "B" {
		t.Fatalf("requeued pushes must keep order and mutation ids, got %+v", pushes[2:])
	}
	state := h.store.Snapshot()
	if h.rec.PendingCount() != 0 || state.SyncStatus != cart.SyncStatusIdle || state.LastSyncedAt == nil {
		t.Fatalf("expected clean idle state, pending=%d status=%s", h.rec.PendingCount(), state.SyncStatus)
	}
	if state.ItemCount != 3 {
		t.Fatalf("expected both items kept, got %d", state.ItemCount)
	}
}

func TestEnsureFreshFailsWhilePushesUndelivered(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour, MaxRetries: -1, StaleAfter: time.Minute})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	_, _ = h.store.AddItem(productA(), 1)
	_, _ = h.store.AddItem(productB(), 1)
	h.remote.mu.Lock()
	h.remote.pushErrs = []error{transientError{503}, transientError{502}}
	h.remote.mu.Unlock()

	if err := h.rec.Sync(context.Background()); err == nil {
		t.Fatalf("expected sync to fail")
	}
	if err := h.rec.EnsureFresh(context.Background()); err == nil {
		t.Fatalf("ensure fresh must fail while the remote rejects pushes")
	}
	if got := h.rec.PendingCount(); got != 2 {
		t.Fatalf("pushes must stay queued, pending=%d", got)
	}
	if got := h.remote.pullCount(); got != 1 {
		t.Fatalf("no pull may report freshness before pushes land, got %d pulls", got)
	}
	if state := h.store.Snapshot(); state.SyncStatus != cart.SyncStatusError || state.SyncError.HTTPStatus != 502 {
		t.Fatalf("expected error status from the last attempt, got %+v", state.SyncError)
	}
}

func TestSyncDeliversMergePushesBeforeReturning(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour, MaxRetries: -1})
	h.clock.Advance(time.Minute)
	_, _ = h.store.AddItem(productA(), 2)
	h.remote.pullErrs = []error{transientError{503}}
	if err := h.rec.OnAuthChanged(context.Background(), true); err == nil {
		t.Fatalf("expected login pull to fail")
	}
	if h.rec.PendingCount() != 0 {
		t.Fatalf("guest line is only queued by a successful merge")
	}

	if err := h.rec.Sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if got := h.rec.PendingCount(); got != 0 {
		t.Fatalf("merge pushes must be flushed by sync, pending=%d", got)
	}
	pushes := h.remote.pushed()
	if len(pushes) != 1 || pushes[0].ProductID != "A" || pushes[0].Quantity != 2 {
		t.Fatalf("expected guest line pushed once, got %+v", pushes)
	}
	if state := h.store.Snapshot(); state.SyncStatus != cart.SyncStatusIdle {
		t.Fatalf("expected idle, got %s", state.SyncStatus)
	}
}

func TestDebouncedPushFailureStaysQueued(t *testing.T) {
	h := newHarness(t, Config{Debounce: 5 * time.Millisecond, MaxRetries: -1})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	h.remote.mu.Lock()
	h.remote.pushErrs = []error{transientError{503}}
	h.remote.mu.Unlock()
	_, _ = h.store.AddItem(productA(), 1)

	waitFor(t, func() bool { return len(h.remote.pushed()) == 1 })
	waitFor(t, func() bool { return h.rec.PendingCount() == 1 })
	if err := h.rec.Sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	pushes := h.remote.pushed()
	if len(pushes) != 2 || pushes[1].ID != pushes[0].ID {
		t.Fatalf("expected the same mutation redelivered, got %+v", pushes)
	}
}

func TestUnauthorizedPushDoesNotFlagItem(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	_, _ = h.store.AddItem(productA(), 2)
	h.remote.mu.Lock()
	h.remote.pushErrs = []error{rejectedError{status: 401, msg: "token expired"}}
	h.remote.mu.Unlock()

	err := h.rec.Sync(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	state := h.store.Snapshot()
	item, _ := state.ItemByProduct("A")
	if item.SyncWarning != "" {
		t.Fatalf("auth failures must not flag the item, got %q", item.SyncWarning)
	}
	if state.SyncError == nil || !state.SyncError.Unauthorized || state.SyncError.HTTPStatus != 401 {
		t.Fatalf("expected unauthorized sync error, got %+v", state.SyncError)
	}
	if got := len(h.remote.pushed()); got != 1 {
		t.Fatalf("auth failures are not retried in place, got %d attempts", got)
	}
	if h.rec.PendingCount() != 1 {
		t.Fatalf("mutation must wait for re-authentication")
	}

	if err := h.rec.Sync(context.Background()); err != nil {
		t.Fatalf("sync after re-authentication failed: %v", err)
	}
	pushes := h.remote.pushed()
	if len(pushes) != 2 || pushes[1].ID != pushes[0].ID {
		t.Fatalf("expected the same mutation redelivered, got %+v", pushes)
	}
	if state := h.store.Snapshot(); state.SyncStatus != cart.SyncStatusIdle || state.SyncError != nil {
		t.Fatalf("expected recovery to idle, got %+v", state.SyncError)
	}
}

func TestBusinessRejectionFlagsItem(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour})
	if err := h.rec.OnAuthChanged(context.Background(), true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	_, _ = h.store.AddItem(productA(), 2)
	h.remote.mu.Lock()
	h.remote.pushErrs = []error{rejectedError{status: 404, msg: "product not found"}}
	h.remote.mu.Unlock()

	if err := h.rec.Sync(context.Background()); err != nil {
		t.Fatalf("rejections do not fail the sync, got %v", err)
	}
	item, _ := h.store.Snapshot().ItemByProduct("A")
	if item.SyncWarning == "" {
		t.Fatalf("expected sync warning on rejected item")
	}
	if h.rec.PendingCount() != 0 {
		t.Fatalf("rejected mutation must not be requeued")
	}
}

func TestLogoutAndLoginDuringMergeKeepNewSession(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour})
	h.remote.snapshot = models.CartSnapshot{
		Version:   models.CartSnapshotVersion,
		Items:     []models.CartSnapshotItem{{ProductID: "A", Quantity: 2, UnitPrice: models.MustMoney("10.00"), MaxQuantity: 5, IsAvailable: true, Seq: 3}},
		UpdatedAt: h.clock.Now(),
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	unsubscribe := h.store.Subscribe(func(change cart.Change) {
		if change.State.ItemCount == 0 {
			return
		}
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	defer unsubscribe()

	first := make(chan error, 1)
	go func() { first <- h.rec.OnAuthChanged(context.Background(), true) }()
	<-entered
	firstSession := h.rec.SessionID()

	loggedOut := make(chan struct{})
	go func() {
		_ = h.rec.OnAuthChanged(context.Background(), false)
		close(loggedOut)
	}()
	waitFor(t, func() bool { return !h.rec.Authenticated() })
	second := make(chan error, 1)
	go func() { second <- h.rec.OnAuthChanged(context.Background(), true) }()
	close(release)

	if err := <-first; !IsSessionChanged(err) {
		t.Fatalf("first login must be discarded, got %v", err)
	}
	<-loggedOut
	if err := <-second; err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if !h.rec.Authenticated() || h.rec.SessionID() == firstSession {
		t.Fatalf("expected a new session")
	}
	state := h.store.Snapshot()
	item, ok := state.ItemByProduct("A")
	if !ok || item.Quantity != 2 || state.ItemCount != 2 {
		t.Fatalf("new session cart must hold the remote snapshot, got %+v", state.Items)
	}
}

func TestPermanentWrapperStopsRetries(t *testing.T) {
	h := newHarness(t, Config{Debounce: time.Hour, MaxRetries: 3})
	calls := 0
	err := h.rec.retry(context.Background(), "push", func(context.Context) error {
		calls++
		return Permanent(errors.New("invalid mutation"))
	})
	if calls != 1 || !IsPermanent(err) {
		t.Fatalf("permanent errors must stop retries, calls=%d err=%v", calls, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.delays) != 0 {
		t.Fatalf("no backoff expected, got %v", h.delays)
	}
}
