package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/freshcart-next/internal/models"
)

func snapshotOf(at time.Time, items ...models.CartSnapshotItem) models.CartSnapshot {
	return models.CartSnapshot{Version: models.CartSnapshotVersion, Items: items, UpdatedAt: at}
}

func remoteItem(productID string, quantity int) models.CartSnapshotItem {
	return models.CartSnapshotItem{
		ProductID:   productID,
		Quantity:    quantity,
		UnitPrice:   models.MustMoney("10.00"),
		MaxQuantity: 5,
		IsAvailable: true,
	}
}

func TestMergeKeepsNewerLocalMutation(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, clock)
	before := clock.Now()
	clock.Advance(time.Second)
	if _, err := store.AddItem(productA(), 3); err != nil {
		t.Fatalf("add item failed: %v", err)
	}

	outcome, err := store.MergeRemote(snapshotOf(before, remoteItem("A", 1)))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	item, ok := outcome.State.ItemByProduct("A")
	if !ok || item.Quantity != 3 {
		t.Fatalf("older snapshot must not overwrite local item, got %+v", item)
	}
	if len(outcome.Pushes) != 1 || outcome.Pushes[0].Quantity != 3 || outcome.Pushes[0].ID == "" {
		t.Fatalf("expected local value to be re-pushed, got %+v", outcome.Pushes)
	}
}

func TestMergeNewerSnapshotWins(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, clock)
	if _, err := store.AddItem(productA(), 3); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	clock.Advance(time.Second)

	outcome, err := store.MergeRemote(snapshotOf(clock.Now(), remoteItem("A", 4)))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	item, _ := outcome.State.ItemByProduct("A")
	if item.Quantity != 4 {
		t.Fatalf("newer snapshot must win, got quantity %d", item.Quantity)
	}
	if len(outcome.Pushes) != 0 {
		t.Fatalf("remote win needs no push, got %+v", outcome.Pushes)
	}
	assertInvariants(t, outcome.State)
}

func TestMergeDropsStaleSequence(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, clock)
	res, _ := store.AddItem(productA(), 2)
	localSeq := res.State.Items[0].Seq()
	clock.Advance(time.Second)

	stale := remoteItem("A", 5)
	stale.Seq = localSeq - 1
	outcome, err := store.MergeRemote(snapshotOf(clock.Now(), stale))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	item, _ := outcome.State.ItemByProduct("A")
	if item.Quantity != 2 {
		t.Fatalf("update with older sequence must be discarded, got %d", item.Quantity)
	}
}

func TestMergeAddsRemoteOnlyItemsAndRespectsTombstones(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, clock)
	snapshotAt := clock.Now()
	res, _ := store.AddItem(Product{ID: "B", UnitPrice: models.MustMoney("2.00"), MaxQuantity: 4, IsAvailable: true}, 1)
	clock.Advance(time.Second)
	store.RemoveItem(res.State.Items[0].ID)

	outcome, err := store.MergeRemote(snapshotOf(snapshotAt, remoteItem("A", 2), remoteItem("B", 1)))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if _, ok := outcome.State.ItemByProduct("B"); ok {
		t.Fatalf("locally removed item resurrected by older snapshot")
	}
	item, ok := outcome.State.ItemByProduct("A")
	if !ok || item.Quantity != 2 || item.ID == "" {
		t.Fatalf("remote-only item missing, got %+v", item)
	}
	if len(outcome.Pushes) != 1 || outcome.Pushes[0].Kind != models.MutationRemove || outcome.Pushes[0].ProductID != "B" {
		t.Fatalf("expected remove push for B, got %+v", outcome.Pushes)
	}
}

func TestMergeAdoptsRemoteAvailability(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, clock)
	before := clock.Now()
	clock.Advance(time.Second)
	_, _ = store.AddItem(productA(), 2)

	gone := remoteItem("A", 2)
	gone.IsAvailable = false
	outcome, err := store.MergeRemote(snapshotOf(before, gone))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	item, _ := outcome.State.ItemByProduct("A")
	if item.IsAvailable || item.Quantity != 2 {
		t.Fatalf("availability must follow remote without touching quantity, got %+v", item)
	}
	if len(outcome.State.UnavailableItems()) != 1 {
		t.Fatalf("expected one unavailable item")
	}
	if !outcome.State.Subtotal.Equal(models.MustMoney("20.00")) {
		t.Fatalf("display subtotal keeps unavailable items, got %s", outcome.State.Subtotal)
	}
}

func TestMergeRejectsUnknownVersion(t *testing.T) {
	store := newTestStore(t, newFakeClock())
	_, err := store.MergeRemote(models.CartSnapshot{Version: 7})
	if !errors.Is(err, ErrSnapshotVersion) {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestMergeSkipsMalformedItems(t *testing.T) {
	store := newTestStore(t, newFakeClock())
	bad := remoteItem("", 1)
	negative := remoteItem("N", 1)
	negative.UnitPrice = models.MustMoney("-1.00")
	outcome, err := store.MergeRemote(snapshotOf(time.Now(), bad, negative, remoteItem("A", 1)))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(outcome.State.Items) != 1 || outcome.State.Items[0].ProductID != "A" {
		t.Fatalf("only the well-formed item should merge, got %+v", outcome.State.Items)
	}
}

func TestMergeRemoteCouponAdoption(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, clock)
	clock.Advance(time.Second)
	snapshot := snapshotOf(clock.Now(), remoteItem("A", 3))
	snapshot.CouponCode = "save20"

	outcome, err := store.MergeRemote(snapshot)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if outcome.RemoteCoupon != "SAVE20" {
		t.Fatalf("expected remote coupon to adopt, got %q", outcome.RemoteCoupon)
	}
	res, err := store.AdoptCoupon(context.Background(), outcome.RemoteCoupon, snapshot.UpdatedAt)
	if err != nil {
		t.Fatalf("adopt coupon failed: %v", err)
	}
	if res.State.AppliedCoupon == nil || !res.State.Discount.Equal(models.MustMoney("6.00")) {
		t.Fatalf("expected SAVE20 discount 6.00, got %+v", res.State)
	}
}

func TestMergePushesNewerLocalCoupon(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, clock)
	before := clock.Now()
	clock.Advance(time.Second)
	_, _ = store.AddItem(productA(), 3)
	if _, err := store.ApplyCoupon(context.Background(), "SAVE20"); err != nil {
		t.Fatalf("apply coupon failed: %v", err)
	}

	outcome, err := store.MergeRemote(snapshotOf(before))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	var couponPush *Mutation
	for i := range outcome.Pushes {
		if outcome.Pushes[i].Kind == models.MutationCouponApply {
			couponPush = &outcome.Pushes[i]
		}
	}
	if couponPush == nil || couponPush.CouponCode != "SAVE20" {
		t.Fatalf("expected coupon_apply push, got %+v", outcome.Pushes)
	}
	if outcome.State.AppliedCoupon == nil {
		t.Fatalf("local coupon must survive an older snapshot")
	}
}

func TestResetSessionClearsEverything(t *testing.T) {
	store := newTestStore(t, newFakeClock())
	_, _ = store.AddItem(productA(), 3)
	_, _ = store.ApplyCoupon(context.Background(), "SAVE20")
	var mutations []Mutation
	store.SetSink(MutationSinkFunc(func(m Mutation) { mutations = append(mutations, m) }))

	state := store.ResetSession()
	if state.ItemCount != 0 || state.AppliedCoupon != nil || !state.Total.IsZero() {
		t.Fatalf("expected empty session, got %+v", state)
	}
	if len(mutations) != 0 {
		t.Fatalf("logout reset must not push, got %+v", mutations)
	}
}
