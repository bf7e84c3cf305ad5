package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/freshcart-next/internal/coupon"
	"github.com/freshcart-next/internal/models"
)

// MergeOutcome 合并远端快照的结果
// Pushes 为本地较新、需要补推到远端的变更；RemoteCoupon 非空表示远端优惠码较新，
// 需要调用方解析后通过 AdoptCoupon 采纳（解析可能挂起，不能在锁内完成）。
type MergeOutcome struct {
	Result
	Pushes       []Mutation
	RemoteCoupon string
}

// MergeRemote 按商品ID逐项合并远端快照（最后写入者胜）
//
// 本地修改时间晚于快照时间的行保留本地值；否则采用远端值。远端携带序号时，
// 序号小于本地已发出序号的更新视为过期，同样保留本地值。
// 商品的可售状态始终以远端为准。
func (s *Store) MergeRemote(snapshot models.CartSnapshot) (MergeOutcome, error) {
	if snapshot.Version != models.CartSnapshotVersion {
		return MergeOutcome{Result: Result{State: s.Snapshot()}}, fmt.Errorf("%w: %d", ErrSnapshotVersion, snapshot.Version)
	}

	s.mu.Lock()
	at := snapshot.UpdatedAt
	remote := make(map[string]models.CartSnapshotItem, len(snapshot.Items))
	order := make([]string, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		if err := s.validateSnapshotItem(item); err != nil {
			s.log.Warnw("cart_snapshot_item_rejected", "product_id", item.ProductID, "error", err)
			continue
		}
		if _, dup := remote[item.ProductID]; !dup {
			order = append(order, item.ProductID)
		}
		remote[item.ProductID] = item
	}

	var outcome MergeOutcome
	var warnings []Warning
	kept := make([]*LineItem, 0, len(s.items)+len(remote))
	seen := make(map[string]bool, len(remote))

	for _, item := range s.items {
		r, ok := remote[item.ProductID]
		if !ok {
			if item.modifiedAt.After(at) {
				kept = append(kept, item)
				// 已被远端永久拒绝的行等待用户处理，不再补推
				if item.SyncWarning == "" {
					outcome.Pushes = append(outcome.Pushes, s.restampLocked(item, 0))
				}
			}
			continue
		}
		seen[item.ProductID] = true
		if s.localWins(item, r, at) {
			item.IsAvailable = r.IsAvailable
			kept = append(kept, item)
			if item.Quantity != r.Quantity && item.SyncWarning == "" {
				outcome.Pushes = append(outcome.Pushes, s.restampLocked(item, r.Seq))
			}
			continue
		}
		if r.Quantity <= 0 {
			s.bumpSeqLocked(item.ProductID, r.Seq)
			continue
		}
		warnings = append(warnings, s.applyRemoteLocked(item, r, at)...)
		kept = append(kept, item)
	}

	for _, productID := range order {
		if seen[productID] {
			continue
		}
		r := remote[productID]
		if r.Quantity <= 0 {
			s.bumpSeqLocked(productID, r.Seq)
			continue
		}
		removedAt, removed := s.tombstones[productID]
		if (removed && removedAt.After(at)) || s.clearedAt.After(at) {
			// 本地删除较新，补推删除
			s.bumpSeqLocked(productID, r.Seq)
			m := Mutation{Kind: models.MutationRemove, ProductID: productID, Seq: s.itemSeqLocked(productID), At: removedAt}
			if !removed {
				m.At = s.clearedAt
			}
			outcome.Pushes = append(outcome.Pushes, m)
			continue
		}
		item := &LineItem{ID: s.newItemID(), ProductID: productID}
		warnings = append(warnings, s.applyRemoteLocked(item, r, at)...)
		kept = append(kept, item)
	}
	s.items = kept

	remoteCode := coupon.Normalize(snapshot.CouponCode)
	localCode := ""
	if s.coupon != nil {
		localCode = coupon.Normalize(s.coupon.Code)
	}
	if remoteCode != localCode {
		if s.couponAt.After(at) {
			s.couponSeq = s.nextSeq(s.couponSeq)
			m := Mutation{Kind: models.MutationCouponRemove, Seq: s.couponSeq, At: s.couponAt}
			if localCode != "" {
				m.Kind = models.MutationCouponApply
				m.CouponCode = localCode
			}
			outcome.Pushes = append(outcome.Pushes, m)
		} else if remoteCode == "" {
			s.coupon = nil
			s.couponAt = at
			s.couponWarning = ""
		} else {
			outcome.RemoteCoupon = remoteCode
		}
	}

	for i := range outcome.Pushes {
		outcome.Pushes[i].ID = s.newMutationID()
	}
	outcome.Result = s.commitLocked(nil, warnings)
	s.mu.Unlock()
	s.dispatch()
	return outcome, nil
}

// AdoptCoupon 采纳远端较新的优惠码；期间本地优惠券若被修改则放弃
func (s *Store) AdoptCoupon(ctx context.Context, code string, at time.Time) (Result, error) {
	normalized := coupon.Normalize(code)
	resolver := s.Resolver()
	if resolver == nil {
		return Result{State: s.Snapshot()}, coupon.ErrResolverMissing
	}
	definition, err := resolver.Resolve(ctx, normalized)
	if err != nil {
		return Result{State: s.Snapshot()}, err
	}

	s.mu.Lock()
	if s.couponAt.After(at) {
		res := Result{State: s.state.clone()}
		s.mu.Unlock()
		return res, nil
	}
	var warnings []Warning
	if definition == nil {
		warnings = append(warnings, Warning{
			Kind:         WarningCouponNotApplicable,
			CouponCode:   normalized,
			CouponReason: coupon.ReasonNotFound,
			Message:      "remote coupon no longer exists",
		})
	} else {
		s.coupon = definition.Clone()
		s.coupon.Code = normalized
		s.couponAt = at
		s.couponWarning = ""
	}
	res := s.commitLocked(nil, warnings)
	s.mu.Unlock()
	s.dispatch()
	return res, nil
}

func (s *Store) validateSnapshotItem(item models.CartSnapshotItem) error {
	if strings.TrimSpace(item.ProductID) == "" {
		return fmt.Errorf("%w: empty product id", ErrInvalidProduct)
	}
	if item.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity", ErrInvalidQuantity)
	}
	if item.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: negative unit price", ErrInvalidProduct)
	}
	if item.DiscountedPrice != nil && (item.DiscountedPrice.IsNegative() || item.DiscountedPrice.GreaterThan(item.UnitPrice.Decimal)) {
		return fmt.Errorf("%w: discounted price out of range", ErrInvalidProduct)
	}
	return nil
}

func (s *Store) localWins(item *LineItem, r models.CartSnapshotItem, at time.Time) bool {
	if item.modifiedAt.After(at) {
		return true
	}
	return r.Seq != 0 && r.Seq < item.seq
}

func (s *Store) applyRemoteLocked(item *LineItem, r models.CartSnapshotItem, at time.Time) []Warning {
	var warnings []Warning
	maxQuantity := r.MaxQuantity
	if maxQuantity <= 0 {
		maxQuantity = s.defaultMax
	}
	item.UnitPrice = r.UnitPrice
	item.DiscountedUnitPrice = cloneMoney(r.DiscountedPrice)
	item.MaxQuantity = maxQuantity
	item.IsAvailable = r.IsAvailable
	item.Quantity = r.Quantity
	if item.Quantity > maxQuantity {
		item.Quantity = maxQuantity
		warnings = append(warnings, stockWarning(item, r.Quantity))
	}
	if !r.IsAvailable {
		warnings = append(warnings, Warning{Kind: WarningItemUnavailable, ItemID: item.ID, ProductID: item.ProductID})
	}
	item.modifiedAt = at
	s.bumpSeqLocked(item.ProductID, r.Seq)
	item.seq = s.seqs[item.ProductID]
	delete(s.tombstones, item.ProductID)
	return warnings
}

func (s *Store) bumpSeqLocked(productID string, seq uint64) {
	if seq > s.seqs[productID] {
		s.seqs[productID] = seq
	}
}

// restampLocked 补推本地行：序号需超过远端已应用的序号
func (s *Store) restampLocked(item *LineItem, remoteSeq uint64) Mutation {
	s.bumpSeqLocked(item.ProductID, remoteSeq)
	item.seq = s.itemSeqLocked(item.ProductID)
	return upsertMutation(item)
}
