package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/freshcart-next/internal/config"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/provider"
	"github.com/freshcart-next/internal/queue"

	"github.com/glebarez/sqlite"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

func setupConsumerTest(t *testing.T) (*Consumer, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:worker_consumer_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	container := provider.NewContainerWithDB(&config.Config{}, db, nil)
	if err := container.ProductRepo.Create(&models.Product{ID: "eggs", Name: "Eggs", UnitPrice: models.MustMoney("2.10"), Stock: 12, MaxQuantity: 6, IsActive: true}); err != nil {
		t.Fatalf("seed product failed: %v", err)
	}
	_, err = container.CartSyncService.ApplyMutation(context.Background(), 1, models.CartMutationPayload{
		ID:        "m-1",
		Kind:      models.MutationUpsert,
		ProductID: "eggs",
		Quantity:  2,
		Seq:       1,
	})
	if err != nil {
		t.Fatalf("seed cart failed: %v", err)
	}
	return NewConsumer(container), db
}

func itemAvailability(t *testing.T, db *gorm.DB, userID uint, productID string) bool {
	t.Helper()
	var item models.CartItem
	if err := db.Where("user_id = ? AND product_id = ?", userID, productID).First(&item).Error; err != nil {
		t.Fatalf("load cart item failed: %v", err)
	}
	return item.IsAvailable
}

func TestHandleCartAvailabilityRefreshByUser(t *testing.T) {
	consumer, db := setupConsumerTest(t)
	if err := db.Model(&models.Product{}).Where("id = ?", "eggs").Update("stock", 0).Error; err != nil {
		t.Fatalf("update stock failed: %v", err)
	}

	task, err := queue.NewCartAvailabilityRefreshTask(queue.CartAvailabilityRefreshPayload{UserID: 1})
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	if err := consumer.handleCartAvailabilityRefresh(context.Background(), task); err != nil {
		t.Fatalf("handle task failed: %v", err)
	}
	if itemAvailability(t, db, 1, "eggs") {
		t.Fatalf("sold out product must be marked unavailable")
	}
}

func TestHandleCartAvailabilityRefreshByProduct(t *testing.T) {
	consumer, db := setupConsumerTest(t)
	if err := db.Model(&models.Product{}).Where("id = ?", "eggs").Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate product failed: %v", err)
	}

	task, _ := queue.NewCartAvailabilityRefreshTask(queue.CartAvailabilityRefreshPayload{ProductID: "eggs"})
	if err := consumer.handleCartAvailabilityRefresh(context.Background(), task); err != nil {
		t.Fatalf("handle task failed: %v", err)
	}
	if itemAvailability(t, db, 1, "eggs") {
		t.Fatalf("inactive product must be marked unavailable")
	}
}

func TestHandleCartAvailabilityRefreshSkipsBadPayload(t *testing.T) {
	consumer, _ := setupConsumerTest(t)

	empty, _ := queue.NewCartAvailabilityRefreshTask(queue.CartAvailabilityRefreshPayload{})
	if err := consumer.handleCartAvailabilityRefresh(context.Background(), empty); err != nil {
		t.Fatalf("empty payload must be skipped, got %v", err)
	}

	broken := asynq.NewTask(queue.TaskCartAvailabilityRefresh, []byte("{"))
	err := consumer.handleCartAvailabilityRefresh(context.Background(), broken)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("broken payload must skip retry, got %v", err)
	}
}

func TestNewServiceRequiresQueue(t *testing.T) {
	if _, err := NewService(&config.QueueConfig{Enabled: false}, &Consumer{}); err == nil {
		t.Fatalf("disabled queue must not build a worker")
	}
}
