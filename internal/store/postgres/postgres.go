package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
	"rougecommerce/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	var st domain.Store
	var courierID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, phone, is_warehouse, is_online, courier_store_id, created_at
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&st.ID, &st.Name, &st.Address, &st.Phone, &st.IsWarehouse, &st.IsOnline, &courierID, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	st.CourierStoreID = courierID.String
	return &st, nil
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	return s.listStores(ctx, false)
}

func (s *Store) ListCandidateStores(ctx context.Context) ([]domain.Store, error) {
	return s.listStores(ctx, true)
}

func (s *Store) listStores(ctx context.Context, candidatesOnly bool) ([]domain.Store, error) {
	query := `
		SELECT id, name, address, phone, is_warehouse, is_online, courier_store_id, created_at
		FROM stores
	`
	if candidatesOnly {
		query += ` WHERE is_warehouse = false AND is_online = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Store, 0, 16)
	for rows.Next() {
		var st domain.Store
		var courierID sql.NullString
		if err := rows.Scan(&st.ID, &st.Name, &st.Address, &st.Phone, &st.IsWarehouse, &st.IsOnline, &courierID, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.CourierStoreID = courierID.String
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	var addressJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, created_at
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&c.ID, &c.Name, &c.Phone, &addressJSON, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(addressJSON) > 0 {
		if err := json.Unmarshal(addressJSON, &c.Address); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	addressJSON, err := json.Marshal(customer.Address)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.Phone, addressJSON, customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, weight_kg, active, created_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.SKU, &p.Name, &p.WeightKG, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if len(productIDs) == 0 {
		return map[string]domain.Product{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, weight_kg, active, created_at
		FROM products
		WHERE id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(productIDs))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.WeightKG, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.ProductBatch) (*domain.ProductBatch, error) {
	if batch.ProductID == "" || batch.StoreID == "" || batch.Quantity < 0 {
		return nil, store.ErrValidation
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_batches (id, product_id, store_id, batch_number, quantity, availability, expiry_date, cost_cents, sell_price_cents, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, batch.ID, batch.ProductID, batch.StoreID, batch.BatchNumber, batch.Quantity, batch.Availability,
		nullTime(batch.ExpiryDate), batch.CostCents, batch.SellPriceCents, batch.ReceivedAt)
	if err != nil {
		return nil, err
	}
	created := batch
	return &created, nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.ProductBatch, error) {
	var b domain.ProductBatch
	var expiry sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, store_id, batch_number, quantity, availability, expiry_date, cost_cents, sell_price_cents, received_at
		FROM product_batches
		WHERE id = $1
	`, batchID).Scan(&b.ID, &b.ProductID, &b.StoreID, &b.BatchNumber, &b.Quantity, &b.Availability, &expiry, &b.CostCents, &b.SellPriceCents, &b.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if expiry.Valid {
		t := expiry.Time
		b.ExpiryDate = &t
	}
	return &b, nil
}

func (s *Store) AvailableQuantity(ctx context.Context, productID string, storeID string, now time.Time) (int, error) {
	var available int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM product_batches
		WHERE product_id = $1 AND store_id = $2 AND availability = true
			AND (expiry_date IS NULL OR expiry_date > $3)
	`, productID, storeID, now).Scan(&available)
	return available, err
}

func (s *Store) StoreInventorySnapshot(ctx context.Context, storeIDs []string, productIDs []string, now time.Time) (map[string]map[string]int, error) {
	result := make(map[string]map[string]int, len(storeIDs))
	for _, storeID := range storeIDs {
		result[storeID] = make(map[string]int, len(productIDs))
		for _, productID := range productIDs {
			result[storeID][productID] = 0
		}
	}
	if len(storeIDs) == 0 || len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, product_id, COALESCE(SUM(quantity), 0)
		FROM product_batches
		WHERE store_id = ANY($1) AND product_id = ANY($2) AND availability = true
			AND (expiry_date IS NULL OR expiry_date > $3)
		GROUP BY store_id, product_id
	`, storeIDs, productIDs, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var storeID, productID string
		var available int
		if err := rows.Scan(&storeID, &productID, &available); err != nil {
			return nil, err
		}
		result[storeID][productID] = available
	}
	return result, rows.Err()
}

func (s *Store) CreateBarcode(ctx context.Context, barcode domain.ProductBarcode) (*domain.ProductBarcode, error) {
	if barcode.Code == "" || barcode.ProductID == "" || barcode.BatchID == "" {
		return nil, store.ErrValidation
	}
	if barcode.ID == "" {
		barcode.ID = xid.New("bc")
	}
	if barcode.CurrentStatus == "" {
		barcode.CurrentStatus = domain.BarcodeInWarehouse
	}
	if barcode.CreatedAt.IsZero() {
		barcode.CreatedAt = time.Now().UTC()
	}
	logJSON, err := json.Marshal(barcode.LocationLog)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO product_barcodes (id, code, product_id, batch_id, current_store_id, current_status, location_log, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, barcode.ID, barcode.Code, barcode.ProductID, barcode.BatchID, nullIfEmpty(barcode.CurrentStore), barcode.CurrentStatus, logJSON, barcode.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrStateConflict
		}
		return nil, err
	}
	created := barcode
	return &created, nil
}

func (s *Store) GetBarcodeByCode(ctx context.Context, code string) (*domain.ProductBarcode, error) {
	return scanBarcodeRow(s.db.QueryRowContext(ctx, `
		SELECT id, code, product_id, batch_id, current_store_id, current_status, location_log, created_at
		FROM product_barcodes
		WHERE code = $1
	`, code))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBarcodeRow(row rowScanner) (*domain.ProductBarcode, error) {
	var b domain.ProductBarcode
	var storeID sql.NullString
	var logJSON []byte
	err := row.Scan(&b.ID, &b.Code, &b.ProductID, &b.BatchID, &storeID, &b.CurrentStatus, &logJSON, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b.CurrentStore = storeID.String
	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &b.LocationLog); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

// consumeBatchesTx draws qty units from the product's eligible batches at the
// store, soonest expiry first. All touched rows are locked FOR UPDATE so the
// shortfall check and the decrement are one atomic unit. Returns the first
// batch drawn from.
func consumeBatchesTx(ctx context.Context, tx *sql.Tx, productID string, storeID string, qty int, now time.Time) (string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, quantity
		FROM product_batches
		WHERE product_id = $1 AND store_id = $2 AND availability = true AND quantity > 0
			AND (expiry_date IS NULL OR expiry_date > $3)
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC
		FOR UPDATE
	`, productID, storeID, now)
	if err != nil {
		return "", err
	}
	type batchState struct {
		id  string
		qty int
	}
	batches := make([]batchState, 0, 4)
	available := 0
	for rows.Next() {
		var b batchState
		if err := rows.Scan(&b.id, &b.qty); err != nil {
			_ = rows.Close()
			return "", err
		}
		batches = append(batches, b)
		available += b.qty
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return "", err
	}
	_ = rows.Close()

	if available < qty {
		return "", &store.InsufficientStockError{ProductID: productID, Required: qty, Available: available}
	}

	firstBatch := ""
	remaining := qty
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		take := b.qty
		if take > remaining {
			take = remaining
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE product_batches SET quantity = quantity - $2 WHERE id = $1
		`, b.id, take); err != nil {
			return "", err
		}
		remaining -= take
		if firstBatch == "" {
			firstBatch = b.id
		}
	}
	return firstBatch, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, deductNow bool) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrValidation
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	now := order.CreatedAt

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	seenBarcodes := make(map[string]bool)
	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = xid.New("oi")
		}
		item.OrderID = order.ID

		if item.BarcodeID != "" {
			// Counter quick-sale path: draw from the scanned unit's own batch
			// and hand the unit to the customer.
			if seenBarcodes[item.BarcodeID] {
				return nil, store.ErrBarcodeUnavailable
			}
			seenBarcodes[item.BarcodeID] = true
			var batchID, currentStatus string
			var currentStore sql.NullString
			var logJSON []byte
			err := tx.QueryRowContext(ctx, `
				SELECT batch_id, current_store_id, current_status, location_log
				FROM product_barcodes WHERE id = $1 FOR UPDATE
			`, item.BarcodeID).Scan(&batchID, &currentStore, &currentStatus, &logJSON)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, store.ErrNotFound
				}
				return nil, err
			}
			// The service pre-check read the barcode outside this
			// transaction. Re-assert under the row lock.
			if currentStore.String != order.StoreID || !domain.BarcodeScannable(currentStatus) {
				return nil, store.ErrBarcodeUnavailable
			}
			var batchQty int
			err = tx.QueryRowContext(ctx, `
				SELECT quantity FROM product_batches WHERE id = $1 FOR UPDATE
			`, batchID).Scan(&batchQty)
			if err != nil {
				return nil, err
			}
			if batchQty < item.Quantity {
				return nil, &store.InsufficientStockError{ProductID: item.ProductID, Required: item.Quantity, Available: batchQty}
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE product_batches SET quantity = quantity - $2 WHERE id = $1
			`, batchID, item.Quantity); err != nil {
				return nil, err
			}
			item.BatchID = batchID

			var events []domain.BarcodeEvent
			if len(logJSON) > 0 {
				if err := json.Unmarshal(logJSON, &events); err != nil {
					return nil, err
				}
			}
			events = append(events, domain.BarcodeEvent{
				Status:      domain.BarcodeWithCustomer,
				StoreID:     order.StoreID,
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				Actor:       order.CreatedBy,
				At:          now,
			})
			updatedLog, err := json.Marshal(events)
			if err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE product_barcodes SET current_status = $2, location_log = $3 WHERE id = $1
			`, item.BarcodeID, domain.BarcodeWithCustomer, updatedLog); err != nil {
				return nil, err
			}
			continue
		}

		if deductNow {
			batchID, err := consumeBatchesTx(ctx, tx, item.ProductID, order.StoreID, item.Quantity, now)
			if err != nil {
				return nil, err
			}
			item.BatchID = batchID
		}
	}

	historyJSON, err := json.Marshal(order.StatusHistory)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, channel, status, store_id, customer_id, is_preorder,
			payment_status, subtotal_cents, discount_cents, shipping_cents, total_cents, paid_cents,
			outstanding_cents, notes, created_by, status_history, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, order.ID, order.OrderNumber, order.Channel, order.Status, nullIfEmpty(order.StoreID),
		nullIfEmpty(order.CustomerID), order.IsPreorder, order.PaymentStatus, order.SubtotalCents,
		order.DiscountCents, order.ShippingCents, order.TotalCents, order.PaidCents,
		nullInt64(order.OutstandingCents), nullIfEmpty(order.Notes), order.CreatedBy, historyJSON, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrStateConflict
		}
		return nil, err
	}

	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, product_sku, batch_id, barcode_id, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, item.ID, item.OrderID, item.ProductID, item.ProductName, item.ProductSKU,
			nullIfEmpty(item.BatchID), nullIfEmpty(item.BarcodeID), item.Quantity, item.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadOrder(ctx context.Context, q querier, where string, arg any, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id, order_number, channel, status, store_id, customer_id, is_preorder,
			payment_status, subtotal_cents, discount_cents, shipping_cents, total_cents, paid_cents,
			outstanding_cents, notes, assigned_by, assigned_at, assignment_notes,
			fulfilled_by, fulfilled_at, created_by, status_history, created_at
		FROM orders
		WHERE ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var o domain.Order
	var storeID, customerID, notes, assignedBy, assignmentNotes, fulfilledBy sql.NullString
	var outstanding sql.NullInt64
	var assignedAt, fulfilledAt sql.NullTime
	var historyJSON []byte
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&o.ID, &o.OrderNumber, &o.Channel, &o.Status, &storeID, &customerID, &o.IsPreorder,
		&o.PaymentStatus, &o.SubtotalCents, &o.DiscountCents, &o.ShippingCents, &o.TotalCents, &o.PaidCents,
		&outstanding, &notes, &assignedBy, &assignedAt, &assignmentNotes,
		&fulfilledBy, &fulfilledAt, &o.CreatedBy, &historyJSON, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o.StoreID = storeID.String
	o.CustomerID = customerID.String
	o.Notes = notes.String
	o.AssignedBy = assignedBy.String
	o.AssignmentNotes = assignmentNotes.String
	o.FulfilledBy = fulfilledBy.String
	if outstanding.Valid {
		v := outstanding.Int64
		o.OutstandingCents = &v
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		o.AssignedAt = &t
	}
	if fulfilledAt.Valid {
		t := fulfilledAt.Time
		o.FulfilledAt = &t
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &o.StatusHistory); err != nil {
			return nil, err
		}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, product_sku, batch_id, barcode_id, quantity, unit_price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		var batchID, barcodeID sql.NullString
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductSKU, &batchID, &barcodeID, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		item.BatchID = batchID.String
		item.BarcodeID = barcodeID.String
		o.Items = append(o.Items, item)
	}
	return &o, rows.Err()
}

func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	return loadOrder(ctx, s.db, "id = $1", orderID, false)
}

func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return loadOrder(ctx, s.db, "order_number = $1", orderNumber, false)
}

func (s *Store) ListOrders(ctx context.Context, status string, storeID string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM orders
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR store_id = $2)
		ORDER BY created_at DESC, id
		LIMIT $3
	`, status, storeID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	result := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := loadOrder(ctx, s.db, "id = $1", id, false)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, nil
}

func (s *Store) AssignOrderStore(ctx context.Context, orderID string, storeID string, actor string, notes string, at time.Time) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := loadOrder(ctx, tx, "id = $1", orderID, true)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OrderStatusPendingAssignment {
		return nil, &store.StateConflictError{Entity: "order", ID: orderID, Current: o.Status, Expected: domain.OrderStatusPendingAssignment}
	}

	var isWarehouse, isOnline bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_warehouse, is_online FROM stores WHERE id = $1
	`, storeID).Scan(&isWarehouse, &isOnline)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if isWarehouse || !isOnline {
		return nil, store.ErrValidation
	}

	// Revalidate every line under lock; the availability matrix the caller
	// saw is advisory only.
	required := make(map[string]int, len(o.Items))
	productIDs := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if required[item.ProductID] == 0 {
			productIDs = append(productIDs, item.ProductID)
		}
		required[item.ProductID] += item.Quantity
	}
	for _, productID := range productIDs {
		rows, err := tx.QueryContext(ctx, `
			SELECT quantity
			FROM product_batches
			WHERE product_id = $1 AND store_id = $2 AND availability = true AND quantity > 0
				AND (expiry_date IS NULL OR expiry_date > $3)
			FOR UPDATE
		`, productID, storeID, at)
		if err != nil {
			return nil, err
		}
		available := 0
		for rows.Next() {
			var qty int
			if err := rows.Scan(&qty); err != nil {
				_ = rows.Close()
				return nil, err
			}
			available += qty
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
		if available < required[productID] {
			return nil, &store.InsufficientStockError{ProductID: productID, Required: required[productID], Available: available}
		}
	}

	o.StoreID = storeID
	o.Status = domain.OrderStatusAssignedToStore
	o.AssignedBy = actor
	assignedAt := at
	o.AssignedAt = &assignedAt
	o.AssignmentNotes = notes
	o.StatusHistory = append(o.StatusHistory, domain.OrderEvent{
		Status: domain.OrderStatusAssignedToStore,
		Actor:  actor,
		Note:   notes,
		At:     at,
	})
	historyJSON, err := json.Marshal(o.StatusHistory)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET store_id = $2, status = $3, assigned_by = $4, assigned_at = $5, assignment_notes = $6, status_history = $7
		WHERE id = $1
	`, orderID, storeID, o.Status, actor, at, nullIfEmpty(notes), historyJSON)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) ApplyScan(ctx context.Context, orderID string, orderItemID string, barcodeCode string, actor string, at time.Time) (*domain.Order, *domain.OrderItem, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := loadOrder(ctx, tx, "id = $1", orderID, true)
	if err != nil {
		return nil, nil, err
	}
	if o.Status != domain.OrderStatusAssignedToStore && o.Status != domain.OrderStatusPicking {
		return nil, nil, &store.StateConflictError{Entity: "order", ID: orderID, Current: o.Status, Expected: domain.OrderStatusAssignedToStore}
	}

	barcode, err := scanBarcodeRow(tx.QueryRowContext(ctx, `
		SELECT id, code, product_id, batch_id, current_store_id, current_status, location_log, created_at
		FROM product_barcodes
		WHERE code = $1
		FOR UPDATE
	`, barcodeCode))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// One generic rejection whether the code is unknown, parked at
			// another store, or not in a pickable status.
			return nil, nil, store.ErrBarcodeUnavailable
		}
		return nil, nil, err
	}
	if barcode.CurrentStore != o.StoreID || !domain.BarcodeScannable(barcode.CurrentStatus) {
		return nil, nil, store.ErrBarcodeUnavailable
	}

	var item *domain.OrderItem
	if orderItemID != "" {
		for i := range o.Items {
			if o.Items[i].ID == orderItemID {
				item = &o.Items[i]
				break
			}
		}
		if item == nil {
			return nil, nil, store.ErrNotFound
		}
		if item.ProductID != barcode.ProductID {
			return nil, nil, store.ErrProductMismatch
		}
		if item.BarcodeID != "" {
			return nil, nil, store.ErrAlreadyScanned
		}
	} else {
		sawProduct := false
		for i := range o.Items {
			if o.Items[i].ProductID != barcode.ProductID {
				continue
			}
			sawProduct = true
			if o.Items[i].BarcodeID == "" {
				item = &o.Items[i]
				break
			}
		}
		if item == nil {
			if sawProduct {
				return nil, nil, store.ErrAlreadyScanned
			}
			return nil, nil, store.ErrProductMismatch
		}
	}

	// The nil batch check is the at-most-once guard for deferred deduction.
	if item.BatchID == "" {
		var batchQty int
		err := tx.QueryRowContext(ctx, `
			SELECT quantity FROM product_batches WHERE id = $1 FOR UPDATE
		`, barcode.BatchID).Scan(&batchQty)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, store.ErrNotFound
			}
			return nil, nil, err
		}
		if batchQty < 1 {
			return nil, nil, &store.InsufficientStockError{ProductID: item.ProductID, Required: 1, Available: 0}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE product_batches SET quantity = quantity - 1 WHERE id = $1
		`, barcode.BatchID); err != nil {
			return nil, nil, err
		}
	}
	item.BatchID = barcode.BatchID
	item.BarcodeID = barcode.ID

	if _, err := tx.ExecContext(ctx, `
		UPDATE order_items SET batch_id = $2, barcode_id = $3 WHERE id = $1
	`, item.ID, item.BatchID, item.BarcodeID); err != nil {
		return nil, nil, err
	}

	barcode.LocationLog = append(barcode.LocationLog, domain.BarcodeEvent{
		Status:      domain.BarcodeInShipment,
		StoreID:     o.StoreID,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Actor:       actor,
		At:          at,
	})
	logJSON, err := json.Marshal(barcode.LocationLog)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE product_barcodes SET current_status = $2, location_log = $3 WHERE id = $1
	`, barcode.ID, domain.BarcodeInShipment, logJSON); err != nil {
		return nil, nil, err
	}

	if o.Status == domain.OrderStatusAssignedToStore {
		o.Status = domain.OrderStatusPicking
		o.StatusHistory = append(o.StatusHistory, domain.OrderEvent{Status: domain.OrderStatusPicking, Actor: actor, At: at})
	}
	fulfilled := 0
	for _, it := range o.Items {
		if it.BarcodeID != "" {
			fulfilled++
		}
	}
	if fulfilled == len(o.Items) {
		o.Status = domain.OrderStatusReadyForShipment
		fulfilledAt := at
		o.FulfilledAt = &fulfilledAt
		o.FulfilledBy = actor
		o.StatusHistory = append(o.StatusHistory, domain.OrderEvent{Status: domain.OrderStatusReadyForShipment, Actor: actor, At: at})
	}
	historyJSON, err := json.Marshal(o.StatusHistory)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, fulfilled_by = $3, fulfilled_at = $4, status_history = $5
		WHERE id = $1
	`, o.ID, o.Status, nullIfEmpty(o.FulfilledBy), nullTime(o.FulfilledAt), historyJSON); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	copyItem := *item
	return o, &copyItem, nil
}

const shipmentColumns = `
	id, shipment_number, order_id, order_number, store_id, recipient_name, recipient_phone,
	address, status, courier_consignment_id, courier_tracking_number, courier_status,
	cod_amount_cents, cod_collected, cod_collected_cents, delivery_fee_cents, delivery_type,
	special_instructions, item_count, weight_kg, return_reason, status_history,
	pickup_requested_at, picked_up_at, delivered_at, returned_at, cancelled_at, last_synced_at, created_at`

func scanShipmentRow(row rowScanner) (*domain.Shipment, error) {
	var sh domain.Shipment
	var addressJSON, historyJSON []byte
	var consignment, tracking, courierStatus, instructions, returnReason sql.NullString
	var codCollected, feeCents sql.NullInt64
	var pickupAt, pickedAt, deliveredAt, returnedAt, cancelledAt, syncedAt sql.NullTime
	err := row.Scan(&sh.ID, &sh.ShipmentNumber, &sh.OrderID, &sh.OrderNumber, &sh.StoreID,
		&sh.RecipientName, &sh.RecipientPhone, &addressJSON, &sh.Status, &consignment, &tracking,
		&courierStatus, &sh.CODAmountCents, &sh.CODCollected, &codCollected, &feeCents,
		&sh.DeliveryType, &instructions, &sh.ItemCount, &sh.WeightKG, &returnReason, &historyJSON,
		&pickupAt, &pickedAt, &deliveredAt, &returnedAt, &cancelledAt, &syncedAt, &sh.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sh.CourierConsignment = consignment.String
	sh.CourierTracking = tracking.String
	sh.CourierStatus = courierStatus.String
	sh.SpecialInstructions = instructions.String
	sh.ReturnReason = returnReason.String
	sh.CODCollectedCents = codCollected.Int64
	sh.DeliveryFeeCents = feeCents.Int64
	if len(addressJSON) > 0 {
		if err := json.Unmarshal(addressJSON, &sh.Address); err != nil {
			return nil, err
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &sh.StatusHistory); err != nil {
			return nil, err
		}
	}
	sh.PickupRequestedAt = timePtr(pickupAt)
	sh.PickedUpAt = timePtr(pickedAt)
	sh.DeliveredAt = timePtr(deliveredAt)
	sh.ReturnedAt = timePtr(returnedAt)
	sh.CancelledAt = timePtr(cancelledAt)
	sh.LastSyncedAt = timePtr(syncedAt)
	return &sh, nil
}

func (s *Store) CreateShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	if shipment.OrderID == "" || shipment.StoreID == "" {
		return nil, store.ErrValidation
	}
	if shipment.ID == "" {
		shipment.ID = xid.New("shp")
	}
	if shipment.Status == "" {
		shipment.Status = domain.ShipmentStatusPending
	}
	if shipment.CreatedAt.IsZero() {
		shipment.CreatedAt = time.Now().UTC()
	}
	addressJSON, err := json.Marshal(shipment.Address)
	if err != nil {
		return nil, err
	}
	historyJSON, err := json.Marshal(shipment.StatusHistory)
	if err != nil {
		return nil, err
	}
	// (order_id, store_id) carries a unique index so one order can never
	// get two shipments from the same store.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shipments (id, shipment_number, order_id, order_number, store_id, recipient_name,
			recipient_phone, address, status, cod_amount_cents, cod_collected, delivery_type,
			special_instructions, item_count, weight_kg, status_history, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, shipment.ID, shipment.ShipmentNumber, shipment.OrderID, shipment.OrderNumber, shipment.StoreID,
		shipment.RecipientName, shipment.RecipientPhone, addressJSON, shipment.Status,
		shipment.CODAmountCents, shipment.CODCollected, shipment.DeliveryType,
		nullIfEmpty(shipment.SpecialInstructions), shipment.ItemCount, shipment.WeightKG, historyJSON, shipment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.StateConflictError{Entity: "shipment", ID: shipment.OrderID, Current: "exists", Expected: "absent"}
		}
		return nil, err
	}
	created := shipment
	return &created, nil
}

func (s *Store) GetShipmentByID(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	return scanShipmentRow(s.db.QueryRowContext(ctx, `
		SELECT `+shipmentColumns+` FROM shipments WHERE id = $1
	`, shipmentID))
}

func (s *Store) ListShipmentsByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	return s.listShipments(ctx, `WHERE order_id = $1 ORDER BY id`, orderID)
}

func (s *Store) ListShipments(ctx context.Context, status string, limit int) ([]domain.Shipment, error) {
	if limit < 1 {
		limit = 50
	}
	return s.listShipments(ctx, `
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id
		LIMIT $2
	`, status, limit)
}

func (s *Store) listShipments(ctx context.Context, tail string, args ...any) ([]domain.Shipment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shipmentColumns+` FROM shipments `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Shipment, 0, 16)
	for rows.Next() {
		sh, err := scanShipmentRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sh)
	}
	return result, rows.Err()
}

func (s *Store) ListSyncableShipments(ctx context.Context, limit int, maxAge time.Duration, force bool, now time.Time) ([]domain.Shipment, error) {
	if limit < 1 {
		limit = 50
	}
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}
	terminal := []string{domain.ShipmentStatusDelivered, domain.ShipmentStatusReturned, domain.ShipmentStatusCancelled}
	return s.listShipments(ctx, `
		WHERE courier_consignment_id IS NOT NULL
			AND ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2 OR NOT (status = ANY($3)))
		ORDER BY COALESCE(last_synced_at, created_at) ASC, id
		LIMIT $4
	`, nullTimeValue(cutoff), force, terminal, limit)
}

func (s *Store) MarkShipmentSubmitted(ctx context.Context, shipmentID string, consignmentID string, trackingNumber string, feeCents int64, at time.Time) (*domain.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sh, err := scanShipmentRow(tx.QueryRowContext(ctx, `
		SELECT `+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE
	`, shipmentID))
	if err != nil {
		return nil, err
	}
	if sh.CourierConsignment != "" {
		return sh, nil
	}

	sh.CourierConsignment = consignmentID
	sh.CourierTracking = trackingNumber
	sh.DeliveryFeeCents = feeCents
	sh.Status = domain.ShipmentStatusPickupRequested
	requestedAt := at
	sh.PickupRequestedAt = &requestedAt
	sh.StatusHistory = append(sh.StatusHistory, domain.ShipmentEvent{
		Status: domain.ShipmentStatusPickupRequested,
		Note:   fmt.Sprintf("consignment %s", consignmentID),
		At:     at,
	})
	historyJSON, err := json.Marshal(sh.StatusHistory)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE shipments
		SET courier_consignment_id = $2, courier_tracking_number = $3, delivery_fee_cents = $4,
			status = $5, pickup_requested_at = $6, status_history = $7
		WHERE id = $1
	`, shipmentID, consignmentID, nullIfEmpty(trackingNumber), feeCents, sh.Status, at, historyJSON)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sh, nil
}

func (s *Store) UpdateShipmentSync(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	historyJSON, err := json.Marshal(shipment.StatusHistory)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE shipments
		SET status = $2, courier_status = $3, cod_collected = $4, cod_collected_cents = $5,
			return_reason = $6, status_history = $7, picked_up_at = $8, delivered_at = $9,
			returned_at = $10, cancelled_at = $11, last_synced_at = $12
		WHERE id = $1
	`, shipment.ID, shipment.Status, nullIfEmpty(shipment.CourierStatus), shipment.CODCollected,
		shipment.CODCollectedCents, nullIfEmpty(shipment.ReturnReason), historyJSON,
		nullTime(shipment.PickedUpAt), nullTime(shipment.DeliveredAt), nullTime(shipment.ReturnedAt),
		nullTime(shipment.CancelledAt), nullTime(shipment.LastSyncedAt))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := shipment
	return &updated, nil
}

func (s *Store) RecordCODPayment(ctx context.Context, payment domain.OrderPayment) (*domain.OrderPayment, bool, error) {
	if payment.ConsignmentID == "" || payment.OrderID == "" {
		return nil, false, store.ErrValidation
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := codPaymentByConsignment(ctx, tx, payment.ConsignmentID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_payments (id, order_id, method, consignment_id, amount_cents, reference, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, payment.OrderID, payment.Method, payment.ConsignmentID, payment.AmountCents,
		nullIfEmpty(payment.Reference), nullIfEmpty(payment.Note), payment.CreatedAt)
	if err != nil {
		// The unique index on consignment_id is the backstop when two
		// reconciler runs race past the existence check.
		if isUniqueViolation(err) {
			existing, lookupErr := codPaymentByConsignment(ctx, tx, payment.ConsignmentID)
			if lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET paid_cents = paid_cents + $2,
			payment_status = CASE
				WHEN paid_cents + $2 >= total_cents THEN 'paid'
				WHEN paid_cents + $2 > 0 THEN 'partial'
				ELSE payment_status
			END
		WHERE id = $1
	`, payment.OrderID, payment.AmountCents)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	created := payment
	return &created, true, nil
}

func codPaymentByConsignment(ctx context.Context, q querier, consignmentID string) (*domain.OrderPayment, error) {
	var p domain.OrderPayment
	var reference, note sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, order_id, method, consignment_id, amount_cents, reference, note, created_at
		FROM order_payments
		WHERE consignment_id = $1
	`, consignmentID).Scan(&p.ID, &p.OrderID, &p.Method, &p.ConsignmentID, &p.AmountCents, &reference, &note, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.Reference = reference.String
	p.Note = note.String
	return &p, nil
}

func (s *Store) GetCODPaymentByConsignment(ctx context.Context, consignmentID string) (*domain.OrderPayment, error) {
	return codPaymentByConsignment(ctx, s.db, consignmentID)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from string, to string, actor string, note string, at time.Time) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := loadOrder(ctx, tx, "id = $1", orderID, true)
	if err != nil {
		return nil, err
	}
	if from != "" && o.Status != from {
		return nil, &store.StateConflictError{Entity: "order", ID: orderID, Current: o.Status, Expected: from}
	}
	o.Status = to
	o.StatusHistory = append(o.StatusHistory, domain.OrderEvent{Status: to, Actor: actor, Note: note, At: at})
	historyJSON, err := json.Marshal(o.StatusHistory)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, status_history = $3 WHERE id = $1
	`, orderID, to, historyJSON); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) CreateDispatchBatch(ctx context.Context, batch domain.DispatchBatch) (*domain.DispatchBatch, error) {
	if batch.ID == "" {
		batch.ID = xid.New("dsp")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	resultsJSON, err := json.Marshal(batch.Results)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dispatch_batches (id, total, sent, failed, results, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, batch.ID, batch.Total, batch.Sent, batch.Failed, resultsJSON, batch.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := batch
	return &created, nil
}

func (s *Store) AppendDispatchResult(ctx context.Context, batchID string, result domain.DispatchResult) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	batch, err := dispatchBatchByID(ctx, tx, batchID, true)
	if err != nil {
		return err
	}
	batch.Results = append(batch.Results, result)
	if result.Success {
		batch.Sent++
	} else {
		batch.Failed++
	}
	resultsJSON, err := json.Marshal(batch.Results)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE dispatch_batches SET sent = $2, failed = $3, results = $4 WHERE id = $1
	`, batchID, batch.Sent, batch.Failed, resultsJSON); err != nil {
		return err
	}
	return tx.Commit()
}

func dispatchBatchByID(ctx context.Context, q querier, batchID string, forUpdate bool) (*domain.DispatchBatch, error) {
	query := `
		SELECT id, total, sent, failed, results, created_at
		FROM dispatch_batches
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var batch domain.DispatchBatch
	var resultsJSON []byte
	err := q.QueryRowContext(ctx, query, batchID).Scan(&batch.ID, &batch.Total, &batch.Sent, &batch.Failed, &resultsJSON, &batch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &batch.Results); err != nil {
			return nil, err
		}
	}
	return &batch, nil
}

func (s *Store) GetDispatchBatch(ctx context.Context, batchID string) (*domain.DispatchBatch, error) {
	return dispatchBatchByID(ctx, s.db, batchID, false)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, nullIfEmpty(entry.StoreID), entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(store_id, ''), actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, nullTimeValue(from), nullTimeValue(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_accounts (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrStateConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM user_accounts
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_accounts SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTimeValue(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}
