package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
)

func seedBatch(t *testing.T, repo *Store, id string, expiry *time.Time, received time.Time, qty int) {
	t.Helper()
	_, err := repo.CreateBatch(context.Background(), domain.ProductBatch{
		ID:             id,
		ProductID:      "prod-scarf-01",
		StoreID:        "store-dhanmondi",
		BatchNumber:    id,
		Quantity:       qty,
		Availability:   true,
		ExpiryDate:     expiry,
		ReceivedAt:     received,
		SellPriceCents: 90000,
	})
	if err != nil {
		t.Fatalf("create batch %s failed: %v", id, err)
	}
}

func TestConsumeDrawsSoonestExpiryFirst(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	soon := now.AddDate(0, 1, 0)
	later := now.AddDate(0, 6, 0)
	seedBatch(t, repo, "batch-exp-later", &later, now.AddDate(0, 0, -30), 5)
	seedBatch(t, repo, "batch-exp-soon", &soon, now.AddDate(0, 0, -1), 5)
	seedBatch(t, repo, "batch-exp-none", nil, now.AddDate(0, 0, -60), 5)

	order := domain.Order{
		OrderNumber: "RO-TEST-0001",
		Channel:     domain.ChannelCounter,
		StoreID:     "store-dhanmondi",
		Status:      domain.OrderStatusDelivered,
		Items: []domain.OrderItem{
			{ProductID: "prod-scarf-01", Quantity: 6, UnitPriceCents: 90000},
		},
		CreatedAt: now,
	}
	created, err := repo.CreateOrder(ctx, order, true)
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if created.Items[0].BatchID != "batch-exp-soon" {
		t.Fatalf("expected draw to start at soonest expiry, got %s", created.Items[0].BatchID)
	}

	// 6 units: the soon batch drains fully, the later batch gives one.
	soonBatch, err := repo.GetBatch(ctx, "batch-exp-soon")
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}
	if soonBatch.Quantity != 0 {
		t.Fatalf("expected soon batch drained, got %d", soonBatch.Quantity)
	}
	laterBatch, err := repo.GetBatch(ctx, "batch-exp-later")
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}
	if laterBatch.Quantity != 4 {
		t.Fatalf("expected one unit from later batch, got %d", laterBatch.Quantity)
	}
	noExpiry, err := repo.GetBatch(ctx, "batch-exp-none")
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}
	if noExpiry.Quantity != 5 {
		t.Fatalf("nil-expiry batch must be drawn last, got %d", noExpiry.Quantity)
	}
}

func TestExpiredBatchesAreInvisible(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	expired := now.AddDate(0, 0, -1)
	seedBatch(t, repo, "batch-expired", &expired, now.AddDate(0, -2, 0), 50)

	available, err := repo.AvailableQuantity(ctx, "prod-scarf-01", "store-dhanmondi", now)
	if err != nil {
		t.Fatalf("available quantity failed: %v", err)
	}
	if available != 0 {
		t.Fatalf("expired stock must not count, got %d", available)
	}
}

func TestConcurrentDrawsNeverOversell(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	// 10 units at the store, 25 buyers of one unit each.
	seedBatch(t, repo, "batch-race", nil, now.AddDate(0, 0, -7), 10)

	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.CreateOrder(ctx, domain.Order{
				OrderNumber: fmt.Sprintf("RO-RACE-%04d", i),
				Channel:     domain.ChannelCounter,
				StoreID:     "store-dhanmondi",
				Status:      domain.OrderStatusDelivered,
				Items: []domain.OrderItem{
					{ProductID: "prod-scarf-01", Quantity: 1, UnitPriceCents: 90000},
				},
				CreatedAt: now,
			}, true)
			if err == nil {
				atomic.AddInt64(&successes, 1)
			} else if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 10 {
		t.Fatalf("expected exactly 10 orders to draw, got %d", successes)
	}
	available, err := repo.AvailableQuantity(ctx, "prod-scarf-01", "store-dhanmondi", now)
	if err != nil {
		t.Fatalf("available quantity failed: %v", err)
	}
	if available != 0 {
		t.Fatalf("expected the batch fully drawn, got %d", available)
	}
	batch, err := repo.GetBatch(ctx, "batch-race")
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}
	if batch.Quantity < 0 {
		t.Fatalf("batch quantity went negative: %d", batch.Quantity)
	}
}

func TestSyncableShipmentsFilterAndOrder(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	mkShipment := func(id string, consignment string, status string, created time.Time, lastSynced *time.Time) {
		t.Helper()
		_, err := repo.CreateShipment(ctx, domain.Shipment{
			ID:                 id,
			ShipmentNumber:     "SH-" + id,
			OrderID:            "ord-" + id,
			StoreID:            "store-dhanmondi",
			Status:             status,
			CourierConsignment: consignment,
			CreatedAt:          created,
			LastSyncedAt:       lastSynced,
		})
		if err != nil {
			t.Fatalf("create shipment %s failed: %v", id, err)
		}
	}

	staleSync := now.Add(-2 * time.Hour)
	freshSync := now.Add(-5 * time.Minute)
	mkShipment("sh-undispatched", "", domain.ShipmentStatusPending, now.Add(-time.Hour), nil)
	mkShipment("sh-stale", "CONS-A", domain.ShipmentStatusInTransit, now.Add(-48*time.Hour), &staleSync)
	mkShipment("sh-fresh", "CONS-B", domain.ShipmentStatusPickedUp, now.Add(-24*time.Hour), &freshSync)
	mkShipment("sh-done", "CONS-C", domain.ShipmentStatusDelivered, now.Add(-24*time.Hour), &freshSync)
	mkShipment("sh-ancient", "CONS-D", domain.ShipmentStatusInTransit, now.Add(-40*24*time.Hour), nil)

	shipments, err := repo.ListSyncableShipments(ctx, 10, 30*24*time.Hour, false, now)
	if err != nil {
		t.Fatalf("list syncable failed: %v", err)
	}
	if len(shipments) != 2 {
		t.Fatalf("expected 2 syncable shipments, got %d", len(shipments))
	}
	// Stalest sync first.
	if shipments[0].ID != "sh-stale" || shipments[1].ID != "sh-fresh" {
		t.Fatalf("unexpected order: %s, %s", shipments[0].ID, shipments[1].ID)
	}

	// Force includes terminal shipments but still not undispatched or
	// out-of-window ones.
	forced, err := repo.ListSyncableShipments(ctx, 10, 30*24*time.Hour, true, now)
	if err != nil {
		t.Fatalf("forced list failed: %v", err)
	}
	if len(forced) != 3 {
		t.Fatalf("expected 3 with force, got %d", len(forced))
	}
}

func TestRecordCODPaymentIsIdempotentPerConsignment(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	order := domain.Order{
		OrderNumber: "RO-TEST-0002",
		Channel:     domain.ChannelSocialCommerce,
		Status:      domain.OrderStatusShipped,
		TotalCents:  90000,
		Items: []domain.OrderItem{
			{ProductID: "prod-scarf-01", Quantity: 1, UnitPriceCents: 90000},
		},
		CreatedAt: now,
	}
	created, err := repo.CreateOrder(ctx, order, false)
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	payment := domain.OrderPayment{
		OrderID:       created.ID,
		Method:        "cod",
		ConsignmentID: "CONS-X",
		AmountCents:   90000,
		CreatedAt:     now,
	}
	first, createdFlag, err := repo.RecordCODPayment(ctx, payment)
	if err != nil || !createdFlag {
		t.Fatalf("first record failed: %v created=%v", err, createdFlag)
	}

	second, createdFlag, err := repo.RecordCODPayment(ctx, payment)
	if err != nil {
		t.Fatalf("second record failed: %v", err)
	}
	if createdFlag {
		t.Fatalf("second record for the same consignment must not create")
	}
	if second.ID != first.ID {
		t.Fatalf("expected the original payment back, got %s vs %s", second.ID, first.ID)
	}

	after, err := repo.GetOrderByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if after.PaidCents != 90000 {
		t.Fatalf("expected a single 90000 credit, got %d", after.PaidCents)
	}
	if after.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", after.PaymentStatus)
	}
}

func TestUpdateOrderStatusAssertsCurrentState(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := repo.CreateOrder(ctx, domain.Order{
		OrderNumber: "RO-TEST-0003",
		Channel:     domain.ChannelSocialCommerce,
		Status:      domain.OrderStatusPendingAssignment,
		Items: []domain.OrderItem{
			{ProductID: "prod-scarf-01", Quantity: 1},
		},
		CreatedAt: now,
	}, false)
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	_, err = repo.UpdateOrderStatus(ctx, created.ID, domain.OrderStatusReadyForShipment, domain.OrderStatusShipped, "system", "", now)
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected state conflict for wrong from-state, got %v", err)
	}

	updated, err := repo.UpdateOrderStatus(ctx, created.ID, domain.OrderStatusPendingAssignment, domain.OrderStatusCancelled, "admin", "customer cancelled", now)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}
	last := updated.StatusHistory[len(updated.StatusHistory)-1]
	if last.Note != "customer cancelled" || last.Actor != "admin" {
		t.Fatalf("unexpected history entry: %+v", last)
	}
}
