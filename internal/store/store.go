package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rougecommerce/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStateConflict     = errors.New("state conflict")
	ErrValidation        = errors.New("validation failed")

	// Scan rejections. Each maps to its own API error code so the picker
	// knows what went wrong without leaking other stores' inventory.
	ErrBarcodeUnavailable = errors.New("barcode not available")
	ErrProductMismatch    = errors.New("barcode does not match the order item product")
	ErrAlreadyScanned     = errors.New("order item already scanned")
)

// InsufficientStockError names the product and quantities behind an
// ErrInsufficientStock so callers can report the exact shortfall.
type InsufficientStockError struct {
	ProductID string
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: required %d, available %d", e.ProductID, e.Required, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// StateConflictError carries the observed and expected state behind an
// ErrStateConflict.
type StateConflictError struct {
	Entity   string
	ID       string
	Current  string
	Expected string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.Entity, e.ID, e.Current, e.Expected)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

type Repository interface {
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	ListStores(ctx context.Context) ([]domain.Store, error)
	ListCandidateStores(ctx context.Context) ([]domain.Store, error)

	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)

	CreateBatch(ctx context.Context, batch domain.ProductBatch) (*domain.ProductBatch, error)
	GetBatch(ctx context.Context, batchID string) (*domain.ProductBatch, error)
	// AvailableQuantity sums eligible batch units for one product at one
	// store. Advisory only; CreateOrder and AssignOrderStore re-check
	// under lock.
	AvailableQuantity(ctx context.Context, productID string, storeID string, now time.Time) (int, error)
	// StoreInventorySnapshot returns available units per store per product
	// for the allocation matrix.
	StoreInventorySnapshot(ctx context.Context, storeIDs []string, productIDs []string, now time.Time) (map[string]map[string]int, error)

	CreateBarcode(ctx context.Context, barcode domain.ProductBarcode) (*domain.ProductBarcode, error)
	GetBarcodeByCode(ctx context.Context, code string) (*domain.ProductBarcode, error)

	// CreateOrder persists the order and, when deductNow is set, consumes
	// eligible batches soonest-expiry-first for every item in the same
	// transaction. Any shortfall aborts the whole order.
	CreateOrder(ctx context.Context, order domain.Order, deductNow bool) (*domain.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	ListOrders(ctx context.Context, status string, storeID string, limit int) ([]domain.Order, error)

	// AssignOrderStore moves a pending_assignment order to
	// assigned_to_store after revalidating every item against the target
	// store's stock under lock.
	AssignOrderStore(ctx context.Context, orderID string, storeID string, actor string, notes string, at time.Time) (*domain.Order, error)

	// ApplyScan performs the whole scan effect atomically: bind barcode and
	// batch to the item, move the barcode to in_shipment with a location
	// log entry, decrement one unit when the item had no batch yet, and
	// advance the order status.
	ApplyScan(ctx context.Context, orderID string, orderItemID string, barcodeCode string, actor string, at time.Time) (*domain.Order, *domain.OrderItem, error)

	CreateShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error)
	GetShipmentByID(ctx context.Context, shipmentID string) (*domain.Shipment, error)
	ListShipmentsByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error)
	ListShipments(ctx context.Context, status string, limit int) ([]domain.Shipment, error)
	// ListSyncableShipments returns non-terminal shipments with a courier
	// consignment id, oldest sync first. With force set, terminal
	// shipments inside maxAge are included too.
	ListSyncableShipments(ctx context.Context, limit int, maxAge time.Duration, force bool, now time.Time) ([]domain.Shipment, error)
	// MarkShipmentSubmitted records a successful courier hand-off. A
	// shipment that already carries a consignment id is returned as-is.
	MarkShipmentSubmitted(ctx context.Context, shipmentID string, consignmentID string, trackingNumber string, feeCents int64, at time.Time) (*domain.Shipment, error)
	UpdateShipmentSync(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error)

	// RecordCODPayment posts a collected COD amount against the order,
	// at most once per consignment id. The bool reports whether a new
	// payment row was created.
	RecordCODPayment(ctx context.Context, payment domain.OrderPayment) (*domain.OrderPayment, bool, error)
	GetCODPaymentByConsignment(ctx context.Context, consignmentID string) (*domain.OrderPayment, error)

	UpdateOrderStatus(ctx context.Context, orderID string, from string, to string, actor string, note string, at time.Time) (*domain.Order, error)

	CreateDispatchBatch(ctx context.Context, batch domain.DispatchBatch) (*domain.DispatchBatch, error)
	AppendDispatchResult(ctx context.Context, batchID string, result domain.DispatchResult) error
	GetDispatchBatch(ctx context.Context, batchID string) (*domain.DispatchBatch, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
