package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rougecommerce/backend/internal/allocation"
	"rougecommerce/backend/internal/cache"
	"rougecommerce/backend/internal/courier"
	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
	"rougecommerce/backend/internal/store/memory"
)

type fakeCourier struct {
	createErrs  []error
	createCalls int
	nextConsign int
	details     map[string]*courier.OrderDetails
	detailCalls int
}

func (f *fakeCourier) CreateOrder(_ context.Context, _ courier.CreateOrderRequest) (*courier.CreateOrderResponse, error) {
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextConsign++
	return &courier.CreateOrderResponse{
		ConsignmentID: fmt.Sprintf("CONS-%04d", f.nextConsign),
		OrderStatus:   "Pending",
		DeliveryFee:   6000,
	}, nil
}

func (f *fakeCourier) OrderDetails(_ context.Context, consignmentID string) (*courier.OrderDetails, error) {
	f.detailCalls++
	details, ok := f.details[consignmentID]
	if !ok {
		return nil, &courier.Error{StatusCode: 404, Message: "consignment not found"}
	}
	copyDetails := *details
	return &copyDetails, nil
}

func (f *fakeCourier) Cities(_ context.Context) ([]courier.City, error) { return nil, nil }

func (f *fakeCourier) Zones(_ context.Context, _ int) ([]courier.Zone, error) { return nil, nil }

func (f *fakeCourier) Areas(_ context.Context, _ int) ([]courier.Area, error) { return nil, nil }

func (f *fakeCourier) PriceQuote(_ context.Context, _ courier.PriceQuoteRequest) (*courier.PriceQuote, error) {
	return nil, nil
}

func newTestService() (*Service, *memory.Store, *fakeCourier) {
	repo := memory.NewSeeded()
	planner := allocation.NewEngine(cache.NoopAvailabilityCache{}, time.Second)
	fc := &fakeCourier{details: make(map[string]*courier.OrderDetails)}
	svc := New(repo, planner, fc)
	svc.sleep = func(time.Duration) {}
	svc.syncGap = 0
	return svc, repo, fc
}

var testAdmin = domain.Actor{Username: "admin", Role: "admin"}
var testPicker = domain.Actor{Username: "picker", Role: "picker"}

func TestCounterOrderDeductsAtCreation(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	resp, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel: domain.ChannelCounter,
		StoreID: "store-dhanmondi",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-threepiece-01", Quantity: 2, UnitPriceCents: 280000},
		},
		PaidCents: 560000,
	})
	if err != nil {
		t.Fatalf("create counter order failed: %v", err)
	}
	if resp.Order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected counter order delivered, got %s", resp.Order.Status)
	}
	if resp.Order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", resp.Order.PaymentStatus)
	}

	available, err := repo.AvailableQuantity(ctx, "prod-threepiece-01", "store-dhanmondi", time.Now().UTC())
	if err != nil {
		t.Fatalf("available quantity failed: %v", err)
	}
	if available != 8 {
		t.Fatalf("expected 8 units left after draw, got %d", available)
	}
}

func TestInsufficientStockLeavesQuantitiesUnchanged(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	// The first line can be satisfied, the second cannot. Nothing may move.
	_, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel: domain.ChannelCounter,
		StoreID: "store-dhanmondi",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-threepiece-01", Quantity: 2, UnitPriceCents: 280000},
			{ProductID: "prod-saree-katan", Quantity: 99, UnitPriceCents: 650000},
		},
	})
	if err == nil {
		t.Fatalf("expected insufficient stock error")
	}
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductID != "prod-saree-katan" || stockErr.Required != 99 || stockErr.Available != 8 {
		t.Fatalf("unexpected shortfall detail: %+v", stockErr)
	}

	now := time.Now().UTC()
	for product, want := range map[string]int{"prod-threepiece-01": 10, "prod-saree-katan": 8} {
		available, err := repo.AvailableQuantity(ctx, product, "store-dhanmondi", now)
		if err != nil {
			t.Fatalf("available quantity failed: %v", err)
		}
		if available != want {
			t.Fatalf("expected %s unchanged at %d, got %d", product, want, available)
		}
	}
}

func TestCounterSaleBarcodeBoundAtMostOnce(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	now := time.Now().UTC()

	before, err := repo.GetBarcodeByCode(ctx, "RG-KTN-0001")
	if err != nil {
		t.Fatalf("get barcode failed: %v", err)
	}

	// The same physical unit on two lines of one request must not sell twice.
	_, err = svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel: domain.ChannelCounter,
		StoreID: "store-dhanmondi",
		Items: []domain.OrderItemRequest{
			{BarcodeCode: "RG-KTN-0001"},
			{BarcodeCode: "RG-KTN-0001"},
		},
	})
	if !errors.Is(err, store.ErrBarcodeUnavailable) {
		t.Fatalf("expected barcode unavailable for reused barcode, got %v", err)
	}

	// A failing later line rolls the earlier barcode draw back too.
	_, err = svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel: domain.ChannelCounter,
		StoreID: "store-dhanmondi",
		Items: []domain.OrderItemRequest{
			{BarcodeCode: "RG-KTN-0001"},
			{ProductID: "prod-threepiece-01", Quantity: 99, UnitPriceCents: 280000},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	after, err := repo.GetBarcodeByCode(ctx, "RG-KTN-0001")
	if err != nil {
		t.Fatalf("get barcode failed: %v", err)
	}
	if after.CurrentStatus != domain.BarcodeInShop || len(after.LocationLog) != len(before.LocationLog) {
		t.Fatalf("expected barcode untouched after rejections, got %s with %d log entries", after.CurrentStatus, len(after.LocationLog))
	}
	available, err := repo.AvailableQuantity(ctx, "prod-saree-katan", "store-dhanmondi", now)
	if err != nil {
		t.Fatalf("available quantity failed: %v", err)
	}
	if available != 8 {
		t.Fatalf("expected stock unchanged at 8, got %d", available)
	}

	// A clean single-line sale takes the unit; a later order cannot.
	resp, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel: domain.ChannelCounter,
		StoreID: "store-dhanmondi",
		Items: []domain.OrderItemRequest{
			{BarcodeCode: "RG-KTN-0001"},
		},
	})
	if err != nil {
		t.Fatalf("counter sale failed: %v", err)
	}
	if resp.Order.Items[0].BatchID != "batch-katan-dh-1" {
		t.Fatalf("expected draw from the unit's own batch, got %s", resp.Order.Items[0].BatchID)
	}

	_, err = svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel: domain.ChannelCounter,
		StoreID: "store-dhanmondi",
		Items: []domain.OrderItemRequest{
			{BarcodeCode: "RG-KTN-0001"},
		},
	})
	if !errors.Is(err, store.ErrBarcodeUnavailable) {
		t.Fatalf("expected sold unit to be rejected, got %v", err)
	}
	available, err = repo.AvailableQuantity(ctx, "prod-saree-katan", "store-dhanmondi", now)
	if err != nil {
		t.Fatalf("available quantity failed: %v", err)
	}
	if available != 7 {
		t.Fatalf("expected exactly one unit drawn, got %d available", available)
	}
}

func TestSocialOrderDefersDeduction(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	resp, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelSocialCommerce,
		CustomerID: "cust-anika",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-saree-katan", Quantity: 1, UnitPriceCents: 650000},
		},
	})
	if err != nil {
		t.Fatalf("create social order failed: %v", err)
	}
	if resp.Order.Status != domain.OrderStatusPendingAssignment {
		t.Fatalf("expected pending_assignment, got %s", resp.Order.Status)
	}
	if resp.Order.Items[0].BatchID != "" {
		t.Fatalf("social order must not bind a batch at creation")
	}

	available, err := repo.AvailableQuantity(ctx, "prod-saree-katan", "store-dhanmondi", time.Now().UTC())
	if err != nil {
		t.Fatalf("available quantity failed: %v", err)
	}
	if available != 8 {
		t.Fatalf("expected stock untouched at 8, got %d", available)
	}
}

func TestPreorderSkipsDeduction(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelEcommerce,
		StoreID:    "store-dhanmondi",
		IsPreorder: true,
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-saree-katan", Quantity: 3, UnitPriceCents: 650000},
		},
	})
	if err != nil {
		t.Fatalf("create preorder failed: %v", err)
	}

	available, err := repo.AvailableQuantity(ctx, "prod-saree-katan", "store-dhanmondi", time.Now().UTC())
	if err != nil {
		t.Fatalf("available quantity failed: %v", err)
	}
	if available != 8 {
		t.Fatalf("preorder must not draw stock, got %d", available)
	}
}

func TestStoreAvailabilityRanksAndRecommends(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelSocialCommerce,
		CustomerID: "cust-anika",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-saree-katan", Quantity: 5, UnitPriceCents: 650000},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	plan, err := svc.StoreAvailability(ctx, created.Order.ID)
	if err != nil {
		t.Fatalf("store availability failed: %v", err)
	}
	if plan.Recommended == nil {
		t.Fatalf("expected a recommendation")
	}
	// Dhanmondi holds 8 katan units, Gulshan 3. Only Dhanmondi covers
	// the full order and must rank first.
	if plan.Recommended.StoreID != "store-dhanmondi" || !plan.Recommended.CanFulfillEntireOrder {
		t.Fatalf("expected full-fulfillment recommendation for store-dhanmondi, got %+v", plan.Recommended)
	}
	if plan.Recommended.Caveat != "" {
		t.Fatalf("full fulfillment must carry no caveat, got %q", plan.Recommended.Caveat)
	}
	if plan.Stores[0].StoreID != "store-dhanmondi" {
		t.Fatalf("expected store-dhanmondi ranked first, got %s", plan.Stores[0].StoreID)
	}
}

func TestStoreAvailabilityPartialCarriesCaveat(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelSocialCommerce,
		CustomerID: "cust-anika",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-saree-katan", Quantity: 10, UnitPriceCents: 650000},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	plan, err := svc.StoreAvailability(ctx, created.Order.ID)
	if err != nil {
		t.Fatalf("store availability failed: %v", err)
	}
	if plan.Recommended == nil {
		t.Fatalf("expected a partial recommendation")
	}
	if plan.Recommended.CanFulfillEntireOrder {
		t.Fatalf("no store holds 10 units, recommendation cannot be full")
	}
	if plan.Recommended.StoreID != "store-dhanmondi" {
		t.Fatalf("expected best partial store-dhanmondi, got %s", plan.Recommended.StoreID)
	}
	if plan.Recommended.FulfillmentPercentage != 80 {
		t.Fatalf("expected 80%% coverage, got %v", plan.Recommended.FulfillmentPercentage)
	}
	if plan.Recommended.Caveat == "" {
		t.Fatalf("partial recommendation must carry a caveat")
	}
}

func TestAssignStoreRevalidatesUnderLock(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelSocialCommerce,
		CustomerID: "cust-anika",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-saree-katan", Quantity: 5, UnitPriceCents: 650000},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// Gulshan holds only 3 units; the assignment must fail with the exact
	// shortfall and leave the order routable.
	_, err = svc.AssignStore(ctx, testAdmin, created.Order.ID, domain.AssignStoreRequest{StoreID: "store-gulshan"})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Required != 5 || stockErr.Available != 3 {
		t.Fatalf("unexpected shortfall: %+v", stockErr)
	}

	current, err := svc.GetOrder(ctx, created.Order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Order.Status != domain.OrderStatusPendingAssignment {
		t.Fatalf("failed assignment must leave order pending_assignment, got %s", current.Order.Status)
	}

	assigned, err := svc.AssignStore(ctx, testAdmin, created.Order.ID, domain.AssignStoreRequest{StoreID: "store-dhanmondi"})
	if err != nil {
		t.Fatalf("assign to store-dhanmondi failed: %v", err)
	}
	if assigned.Order.Status != domain.OrderStatusAssignedToStore {
		t.Fatalf("expected assigned_to_store, got %s", assigned.Order.Status)
	}

	// Re-assignment of an already routed order is a state conflict.
	_, err = svc.AssignStore(ctx, testAdmin, created.Order.ID, domain.AssignStoreRequest{StoreID: "store-gulshan"})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected state conflict on second assignment, got %v", err)
	}
}

func TestAssignStoreRejectsWarehouse(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelSocialCommerce,
		CustomerID: "cust-anika",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-scarf-01", Quantity: 1, UnitPriceCents: 90000},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	_, err = svc.AssignStore(ctx, testAdmin, created.Order.ID, domain.AssignStoreRequest{StoreID: "warehouse-tejgaon"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("warehouse must not receive assignments, got %v", err)
	}
}

// pickedOrder walks a social commerce order through assignment and a full
// pick so dispatch tests can start from ready_for_shipment.
func pickedOrder(t *testing.T, svc *Service, customerID string, barcode string) domain.Order {
	t.Helper()
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelSocialCommerce,
		CustomerID: customerID,
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-saree-katan", Quantity: 1, UnitPriceCents: 650000},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.AssignStore(ctx, testAdmin, created.Order.ID, domain.AssignStoreRequest{StoreID: "store-dhanmondi"}); err != nil {
		t.Fatalf("assign store failed: %v", err)
	}
	scan, err := svc.ScanBarcode(ctx, testPicker, created.Order.ID, domain.ScanRequest{BarcodeCode: barcode})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if scan.OrderStatus != domain.OrderStatusReadyForShipment {
		t.Fatalf("expected ready_for_shipment after full pick, got %s", scan.OrderStatus)
	}

	current, err := svc.GetOrder(ctx, created.Order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	return current.Order
}

func TestScanDecrementsDeferredDeductionExactlyOnce(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	order := pickedOrder(t, svc, "cust-anika", "RG-KTN-0001")
	if order.Items[0].BatchID != "batch-katan-dh-1" {
		t.Fatalf("expected batch bound from barcode, got %q", order.Items[0].BatchID)
	}
	if order.FulfilledBy != "picker" || order.FulfilledAt == nil {
		t.Fatalf("expected fulfillment stamp, got by=%q at=%v", order.FulfilledBy, order.FulfilledAt)
	}

	available, err := repo.AvailableQuantity(ctx, "prod-saree-katan", "store-dhanmondi", time.Now().UTC())
	if err != nil {
		t.Fatalf("available quantity failed: %v", err)
	}
	if available != 7 {
		t.Fatalf("expected exactly one unit drawn (8 -> 7), got %d", available)
	}

	// The same item cannot be picked twice.
	_, err = svc.ScanBarcode(ctx, testPicker, order.ID, domain.ScanRequest{BarcodeCode: "RG-KTN-0002"})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected state conflict on scan after completion, got %v", err)
	}

	// The consumed unit is gone for every later order.
	other, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelSocialCommerce,
		CustomerID: "cust-anika",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-saree-katan", Quantity: 1, UnitPriceCents: 650000},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.AssignStore(ctx, testAdmin, other.Order.ID, domain.AssignStoreRequest{StoreID: "store-dhanmondi"}); err != nil {
		t.Fatalf("assign store failed: %v", err)
	}
	_, err = svc.ScanBarcode(ctx, testPicker, other.Order.ID, domain.ScanRequest{BarcodeCode: "RG-KTN-0001"})
	if !errors.Is(err, store.ErrBarcodeUnavailable) {
		t.Fatalf("expected barcode unavailable for an in_shipment unit, got %v", err)
	}
}

func TestScanRejectionsAreDistinct(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelSocialCommerce,
		CustomerID: "cust-anika",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-saree-katan", Quantity: 1, UnitPriceCents: 650000},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.AssignStore(ctx, testAdmin, created.Order.ID, domain.AssignStoreRequest{StoreID: "store-gulshan"}); err != nil {
		t.Fatalf("assign store failed: %v", err)
	}

	// RG-KTN-0001 physically sits in Dhanmondi. A Gulshan picker gets the
	// generic rejection, not a hint about the other store.
	_, err = svc.ScanBarcode(ctx, testPicker, created.Order.ID, domain.ScanRequest{BarcodeCode: "RG-KTN-0001"})
	if !errors.Is(err, store.ErrBarcodeUnavailable) {
		t.Fatalf("expected barcode unavailable, got %v", err)
	}

	// A scannable unit of the wrong product is a mismatch.
	_, err = svc.ScanBarcode(ctx, testPicker, created.Order.ID, domain.ScanRequest{BarcodeCode: "RG-PNJ-0001"})
	if !errors.Is(err, store.ErrProductMismatch) {
		t.Fatalf("expected product mismatch, got %v", err)
	}

	// Unknown codes are indistinguishable from other-store codes.
	_, err = svc.ScanBarcode(ctx, testPicker, created.Order.ID, domain.ScanRequest{BarcodeCode: "RG-NOPE-9999"})
	if !errors.Is(err, store.ErrBarcodeUnavailable) {
		t.Fatalf("expected barcode unavailable for unknown code, got %v", err)
	}
}

func TestCreateShipmentComputesCOD(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	order := pickedOrder(t, svc, "cust-anika", "RG-KTN-0001")
	resp, err := svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}
	shipment := resp.Shipment
	if shipment.Status != domain.ShipmentStatusPending {
		t.Fatalf("expected pending shipment, got %s", shipment.Status)
	}
	if shipment.CODAmountCents != order.TotalCents {
		t.Fatalf("expected COD %d, got %d", order.TotalCents, shipment.CODAmountCents)
	}
	if shipment.WeightKG != 0.8 {
		t.Fatalf("expected 0.8kg for one katan saree, got %v", shipment.WeightKG)
	}
	if shipment.RecipientName != "Anika Rahman" {
		t.Fatalf("expected recipient from customer record, got %q", shipment.RecipientName)
	}

	// One shipment per order and store.
	_, err = svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: order.ID})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected conflict on duplicate shipment, got %v", err)
	}
}

func TestCreateShipmentRequiresReadyOrder(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, testAdmin, domain.CreateOrderRequest{
		Channel:    domain.ChannelSocialCommerce,
		CustomerID: "cust-anika",
		Items: []domain.OrderItemRequest{
			{ProductID: "prod-saree-katan", Quantity: 1, UnitPriceCents: 650000},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	_, err = svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: created.Order.ID})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected state conflict for unpicked order, got %v", err)
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	svc, _, fc := newTestService()
	ctx := context.Background()

	var waits []time.Duration
	svc.sleep = func(d time.Duration) { waits = append(waits, d) }

	order := pickedOrder(t, svc, "cust-anika", "RG-KTN-0001")
	created, err := svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}

	fc.createErrs = []error{
		&courier.Error{StatusCode: 503, Message: "unavailable", Transient: true},
		&courier.Error{StatusCode: 429, Message: "slow down", Transient: true},
	}

	resp, err := svc.DispatchShipment(ctx, testAdmin, created.Shipment.ID)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if fc.createCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fc.createCalls)
	}
	if len(waits) != 2 || waits[0] != 10*time.Second || waits[1] != 30*time.Second {
		t.Fatalf("unexpected backoff waits: %v", waits)
	}
	if resp.Shipment.CourierConsignment == "" || resp.Shipment.Status != domain.ShipmentStatusPickupRequested {
		t.Fatalf("expected submitted shipment, got %+v", resp.Shipment)
	}

	updatedOrder, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if updatedOrder.Order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected order shipped, got %s", updatedOrder.Order.Status)
	}

	// Re-dispatch is a no-op against the courier.
	before := fc.createCalls
	again, err := svc.DispatchShipment(ctx, testAdmin, created.Shipment.ID)
	if err != nil {
		t.Fatalf("re-dispatch failed: %v", err)
	}
	if fc.createCalls != before {
		t.Fatalf("re-dispatch must not call the courier again")
	}
	if again.Shipment.CourierConsignment != resp.Shipment.CourierConsignment {
		t.Fatalf("consignment changed on re-dispatch")
	}
}

func TestDispatchPermanentFailureDoesNotRetry(t *testing.T) {
	svc, _, fc := newTestService()
	ctx := context.Background()

	order := pickedOrder(t, svc, "cust-anika", "RG-KTN-0001")
	created, err := svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}

	fc.createErrs = []error{&courier.Error{StatusCode: 422, Message: "invalid area"}}
	_, err = svc.DispatchShipment(ctx, testAdmin, created.Shipment.ID)
	if err == nil {
		t.Fatalf("expected dispatch to fail")
	}
	if fc.createCalls != 1 {
		t.Fatalf("permanent failure must not retry, got %d calls", fc.createCalls)
	}
}

func TestDispatchPendingIsolatesFailures(t *testing.T) {
	svc, repo, fc := newTestService()
	ctx := context.Background()

	// A customer without a delivery address makes that shipment a terminal
	// dispatch failure.
	if _, err := repo.CreateCustomer(ctx, domain.Customer{ID: "cust-blank", Name: "Walk In", Phone: "+8801899999999"}); err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	good := pickedOrder(t, svc, "cust-anika", "RG-KTN-0001")
	bad := pickedOrder(t, svc, "cust-blank", "RG-KTN-0002")

	if _, err := svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: good.ID}); err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}
	if _, err := svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: bad.ID}); err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}

	resp, err := svc.DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("dispatch pending failed: %v", err)
	}
	batch := resp.Batch
	if batch.Total != 2 || batch.Sent != 1 || batch.Failed != 1 {
		t.Fatalf("expected total=2 sent=1 failed=1, got %+v", batch)
	}
	if fc.createCalls != 1 {
		t.Fatalf("only the valid shipment may reach the courier, got %d calls", fc.createCalls)
	}
	for _, result := range batch.Results {
		if !result.Success && result.Message == "" {
			t.Fatalf("failed result must carry a message")
		}
	}
}

func TestSyncRecordsCODExactlyOnce(t *testing.T) {
	svc, repo, fc := newTestService()
	ctx := context.Background()

	order := pickedOrder(t, svc, "cust-anika", "RG-KTN-0001")
	created, err := svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}
	dispatched, err := svc.DispatchShipment(ctx, testAdmin, created.Shipment.ID)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	consignment := dispatched.Shipment.CourierConsignment

	fc.details[consignment] = &courier.OrderDetails{
		ConsignmentID:   consignment,
		OrderStatus:     "Delivered",
		AmountCollected: order.TotalCents,
	}

	summary, err := svc.SyncCourierStatus(ctx, domain.SyncOptions{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if summary.Processed != 1 || summary.Updated != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	shipment, err := repo.GetShipmentByID(ctx, created.Shipment.ID)
	if err != nil {
		t.Fatalf("get shipment failed: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusDelivered || !shipment.CODCollected {
		t.Fatalf("expected delivered with COD collected, got %+v", shipment)
	}

	after, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if after.Order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected order delivered, got %s", after.Order.Status)
	}
	if after.Order.PaidCents != order.TotalCents || after.Order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected order fully paid, got paid=%d status=%s", after.Order.PaidCents, after.Order.PaymentStatus)
	}

	// Terminal shipments are skipped by the default sync.
	summary, err = svc.SyncCourierStatus(ctx, domain.SyncOptions{})
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("expected delivered shipment skipped, processed=%d", summary.Processed)
	}

	// A forced re-sync must not post the payment again.
	summary, err = svc.SyncCourierStatus(ctx, domain.SyncOptions{Force: true})
	if err != nil {
		t.Fatalf("forced sync failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("expected forced sync to process the shipment, got %+v", summary)
	}
	final, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if final.Order.PaidCents != order.TotalCents {
		t.Fatalf("COD posted twice: paid=%d want %d", final.Order.PaidCents, order.TotalCents)
	}
}

func TestSyncReturnAfterCollectionKeepsPayment(t *testing.T) {
	svc, repo, fc := newTestService()
	ctx := context.Background()

	order := pickedOrder(t, svc, "cust-anika", "RG-KTN-0001")
	created, err := svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}
	dispatched, err := svc.DispatchShipment(ctx, testAdmin, created.Shipment.ID)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	consignment := dispatched.Shipment.CourierConsignment

	fc.details[consignment] = &courier.OrderDetails{
		ConsignmentID:   consignment,
		OrderStatus:     "Delivered",
		AmountCollected: order.TotalCents,
	}
	if _, err := svc.SyncCourierStatus(ctx, domain.SyncOptions{}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// The courier later reports a paid return. The collected flag clears
	// and the reason is kept; the posted payment stays untouched.
	fc.details[consignment] = &courier.OrderDetails{
		ConsignmentID: consignment,
		OrderStatus:   "Paid_Return",
		Reason:        "customer refused at door",
	}
	summary, err := svc.SyncCourierStatus(ctx, domain.SyncOptions{Force: true})
	if err != nil {
		t.Fatalf("forced sync failed: %v", err)
	}
	if summary.Updated != 1 {
		t.Fatalf("expected one update, got %+v", summary)
	}

	shipment, err := repo.GetShipmentByID(ctx, created.Shipment.ID)
	if err != nil {
		t.Fatalf("get shipment failed: %v", err)
	}
	if shipment.Status != domain.ShipmentStatusReturned {
		t.Fatalf("expected returned, got %s", shipment.Status)
	}
	if shipment.CODCollected {
		t.Fatalf("COD collected flag must clear on return")
	}
	if shipment.ReturnReason != "customer refused at door" {
		t.Fatalf("expected return reason kept, got %q", shipment.ReturnReason)
	}

	after, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if after.Order.PaidCents != order.TotalCents {
		t.Fatalf("payment record must never be reversed, paid=%d", after.Order.PaidCents)
	}
}

func TestSyncIsolatesPerShipmentFailures(t *testing.T) {
	svc, _, fc := newTestService()
	ctx := context.Background()

	order := pickedOrder(t, svc, "cust-anika", "RG-KTN-0001")
	created, err := svc.CreateShipment(ctx, testAdmin, domain.CreateShipmentRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}
	if _, err := svc.DispatchShipment(ctx, testAdmin, created.Shipment.ID); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	// No details registered for the consignment: the lookup fails, the
	// summary records it, and the run still completes.
	fc.details = map[string]*courier.OrderDetails{}
	summary, err := svc.SyncCourierStatus(ctx, domain.SyncOptions{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if summary.Processed != 1 || summary.Failed != 1 {
		t.Fatalf("expected one failed shipment, got %+v", summary)
	}
	if len(summary.SampledErrors) != 1 {
		t.Fatalf("expected one sampled error, got %v", summary.SampledErrors)
	}
}
