package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
	"rougecommerce/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	stores           map[string]domain.Store
	customers        map[string]domain.Customer
	products         map[string]domain.Product
	batchesByID      map[string]*domain.ProductBatch
	barcodesByCode   map[string]*domain.ProductBarcode
	ordersByID       map[string]*domain.Order
	orderIDByNumber  map[string]string
	shipmentsByID    map[string]*domain.Shipment
	paymentsByID     map[string]domain.OrderPayment
	paymentByConsign map[string]string
	dispatchBatches  map[string]*domain.DispatchBatch
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_PICKER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	pickerPwd := envOr("SEED_PICKER_PASSWORD", "picker123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_PICKER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_PICKER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"picker", pickerPwd, "picker"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	stores := map[string]domain.Store{
		"store-dhanmondi": {ID: "store-dhanmondi", Name: "Dhanmondi Outlet", Address: "House 7, Road 12, Dhanmondi", Phone: "+8801700000001", IsOnline: true, CourierStoreID: "148012", CreatedAt: now},
		"store-gulshan":   {ID: "store-gulshan", Name: "Gulshan Outlet", Address: "Plot 3, Gulshan Avenue", Phone: "+8801700000002", IsOnline: true, CourierStoreID: "148013", CreatedAt: now},
		"store-uttara":    {ID: "store-uttara", Name: "Uttara Outlet", Address: "Sector 7, Uttara", Phone: "+8801700000003", IsOnline: false, CreatedAt: now},
		"warehouse-tejgaon": {ID: "warehouse-tejgaon", Name: "Tejgaon Warehouse", Address: "Industrial Area, Tejgaon", Phone: "+8801700000004", IsWarehouse: true, IsOnline: true, CreatedAt: now},
	}

	products := []domain.Product{
		{ID: "prod-saree-katan", SKU: "SAREE-KATAN-01", Name: "Katan Silk Saree", WeightKG: 0.8, Active: true, CreatedAt: now},
		{ID: "prod-saree-jamdani", SKU: "SAREE-JAMDANI-01", Name: "Jamdani Saree", WeightKG: 0.7, Active: true, CreatedAt: now},
		{ID: "prod-panjabi-01", SKU: "PANJABI-COTTON-01", Name: "Cotton Panjabi", WeightKG: 0.5, Active: true, CreatedAt: now},
		{ID: "prod-threepiece-01", SKU: "THREEPIECE-LAWN-01", Name: "Lawn Three Piece", WeightKG: 0.9, Active: true, CreatedAt: now},
		{ID: "prod-scarf-01", SKU: "SCARF-SILK-01", Name: "Silk Scarf", WeightKG: 0.2, Active: true, CreatedAt: now},
	}
	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	batches := []*domain.ProductBatch{
		{ID: "batch-katan-dh-1", ProductID: "prod-saree-katan", StoreID: "store-dhanmondi", BatchNumber: "KTN-2406", Quantity: 8, Availability: true, CostCents: 420000, SellPriceCents: 650000, ReceivedAt: now.AddDate(0, -2, 0)},
		{ID: "batch-katan-gl-1", ProductID: "prod-saree-katan", StoreID: "store-gulshan", BatchNumber: "KTN-2407", Quantity: 3, Availability: true, CostCents: 420000, SellPriceCents: 650000, ReceivedAt: now.AddDate(0, -1, 0)},
		{ID: "batch-jamdani-dh-1", ProductID: "prod-saree-jamdani", StoreID: "store-dhanmondi", BatchNumber: "JMD-2405", Quantity: 5, Availability: true, CostCents: 380000, SellPriceCents: 580000, ReceivedAt: now.AddDate(0, -3, 0)},
		{ID: "batch-panjabi-gl-1", ProductID: "prod-panjabi-01", StoreID: "store-gulshan", BatchNumber: "PNJ-2408", Quantity: 12, Availability: true, CostCents: 120000, SellPriceCents: 220000, ReceivedAt: now.AddDate(0, 0, -20)},
		{ID: "batch-threepiece-dh-1", ProductID: "prod-threepiece-01", StoreID: "store-dhanmondi", BatchNumber: "TRP-2408", Quantity: 10, Availability: true, CostCents: 150000, SellPriceCents: 280000, ReceivedAt: now.AddDate(0, 0, -15)},
		{ID: "batch-scarf-wh-1", ProductID: "prod-scarf-01", StoreID: "warehouse-tejgaon", BatchNumber: "SCF-2408", Quantity: 40, Availability: true, CostCents: 40000, SellPriceCents: 90000, ReceivedAt: now.AddDate(0, 0, -10)},
	}
	batchMap := make(map[string]*domain.ProductBatch, len(batches))
	for _, b := range batches {
		batchMap[b.ID] = b
	}

	barcodes := map[string]*domain.ProductBarcode{}
	seedBarcodes := []struct {
		code    string
		product string
		batch   string
		storeID string
	}{
		{"RG-KTN-0001", "prod-saree-katan", "batch-katan-dh-1", "store-dhanmondi"},
		{"RG-KTN-0002", "prod-saree-katan", "batch-katan-dh-1", "store-dhanmondi"},
		{"RG-JMD-0001", "prod-saree-jamdani", "batch-jamdani-dh-1", "store-dhanmondi"},
		{"RG-PNJ-0001", "prod-panjabi-01", "batch-panjabi-gl-1", "store-gulshan"},
		{"RG-TRP-0001", "prod-threepiece-01", "batch-threepiece-dh-1", "store-dhanmondi"},
	}
	for _, sb := range seedBarcodes {
		barcodes[sb.code] = &domain.ProductBarcode{
			ID:            xid.New("bc"),
			Code:          sb.code,
			ProductID:     sb.product,
			BatchID:       sb.batch,
			CurrentStore:  sb.storeID,
			CurrentStatus: domain.BarcodeInShop,
			LocationLog: []domain.BarcodeEvent{
				{Status: domain.BarcodeInShop, StoreID: sb.storeID, Actor: "seed", At: now},
			},
			CreatedAt: now,
		}
	}

	customers := map[string]domain.Customer{
		"cust-anika": {
			ID: "cust-anika", Name: "Anika Rahman", Phone: "+8801811111111",
			Address: domain.DeliveryAddress{
				Line1: "Flat B4, House 22", Area: "Banani", City: "Dhaka",
				CourierCityID: 1, CourierZoneID: 298, CourierAreaID: 37,
			},
			CreatedAt: now,
		},
	}

	return &Store{
		stores:           stores,
		customers:        customers,
		products:         productMap,
		batchesByID:      batchMap,
		barcodesByCode:   barcodes,
		ordersByID:       make(map[string]*domain.Order),
		orderIDByNumber:  make(map[string]string),
		shipmentsByID:    make(map[string]*domain.Shipment),
		paymentsByID:     make(map[string]domain.OrderPayment),
		paymentByConsign: make(map[string]string),
		dispatchBatches:  make(map[string]*domain.DispatchBatch),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) GetStore(_ context.Context, storeID string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.stores[storeID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySt := st
	return &copySt, nil
}

func (s *Store) ListStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		result = append(result, st)
	}
	slices.SortFunc(result, func(a, b domain.Store) int { return cmpString(a.Name, b.Name) })
	return result, nil
}

func (s *Store) ListCandidateStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		if st.IsWarehouse || !st.IsOnline {
			continue
		}
		result = append(result, st)
	}
	slices.SortFunc(result, func(a, b domain.Store) int { return cmpString(a.Name, b.Name) })
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.customers[customerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyC := c
	return &copyC, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyP := p
	return &copyP, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, exists := s.products[id]; exists {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.ProductBatch) (*domain.ProductBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.ProductID == "" || batch.StoreID == "" || batch.Quantity < 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.products[batch.ProductID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.stores[batch.StoreID]; !exists {
		return nil, store.ErrNotFound
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	stored := batch
	s.batchesByID[batch.ID] = &stored
	created := batch
	return &created, nil
}

func (s *Store) GetBatch(_ context.Context, batchID string) (*domain.ProductBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.batchesByID[batchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyB := *b
	return &copyB, nil
}

func batchEligible(b *domain.ProductBatch, now time.Time) bool {
	if !b.Availability || b.Quantity <= 0 {
		return false
	}
	return b.ExpiryDate == nil || b.ExpiryDate.After(now)
}

// eligibleBatchesLocked returns eligible batches for the product at the
// store, soonest expiry first, nil expiry last, ties broken by received_at.
func (s *Store) eligibleBatchesLocked(productID string, storeID string, now time.Time) []*domain.ProductBatch {
	matched := make([]*domain.ProductBatch, 0, 4)
	for _, b := range s.batchesByID {
		if b.ProductID != productID || b.StoreID != storeID {
			continue
		}
		if !batchEligible(b, now) {
			continue
		}
		matched = append(matched, b)
	}
	slices.SortFunc(matched, func(a, b *domain.ProductBatch) int {
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return 1
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return -1
		case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
			if a.ExpiryDate.Before(*b.ExpiryDate) {
				return -1
			}
			return 1
		}
		if a.ReceivedAt.Equal(b.ReceivedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.ReceivedAt.Before(b.ReceivedAt) {
			return -1
		}
		return 1
	})
	return matched
}

func (s *Store) availableLocked(productID string, storeID string, now time.Time) int {
	total := 0
	for _, b := range s.eligibleBatchesLocked(productID, storeID, now) {
		total += b.Quantity
	}
	return total
}

func (s *Store) AvailableQuantity(_ context.Context, productID string, storeID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availableLocked(productID, storeID, now), nil
}

func (s *Store) StoreInventorySnapshot(_ context.Context, storeIDs []string, productIDs []string, now time.Time) (map[string]map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]map[string]int, len(storeIDs))
	for _, storeID := range storeIDs {
		perProduct := make(map[string]int, len(productIDs))
		for _, productID := range productIDs {
			perProduct[productID] = s.availableLocked(productID, storeID, now)
		}
		result[storeID] = perProduct
	}
	return result, nil
}

// consumeLocked draws qty units from eligible batches soonest-expiry-first.
// It mutates nothing on shortfall; the caller holds the write lock so the
// check and the decrement are one atomic unit.
func (s *Store) consumeLocked(productID string, storeID string, qty int, now time.Time) (string, error) {
	batches := s.eligibleBatchesLocked(productID, storeID, now)
	available := 0
	for _, b := range batches {
		available += b.Quantity
	}
	if available < qty {
		return "", &store.InsufficientStockError{ProductID: productID, Required: qty, Available: available}
	}

	firstBatch := ""
	remaining := qty
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		take := min(b.Quantity, remaining)
		b.Quantity -= take
		remaining -= take
		if firstBatch == "" {
			firstBatch = b.ID
		}
	}
	return firstBatch, nil
}

func (s *Store) CreateBarcode(_ context.Context, barcode domain.ProductBarcode) (*domain.ProductBarcode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if barcode.Code == "" || barcode.ProductID == "" || barcode.BatchID == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.barcodesByCode[barcode.Code]; exists {
		return nil, store.ErrStateConflict
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
	stored := barcode
	s.barcodesByCode[barcode.Code] = &stored
	created := barcode
	return &created, nil
}

func (s *Store) GetBarcodeByCode(_ context.Context, code string) (*domain.ProductBarcode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.barcodesByCode[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyB := *b
	copyB.LocationLog = slices.Clone(b.LocationLog)
	return &copyB, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order, deductNow bool) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(order.Items) == 0 {
		return nil, store.ErrValidation
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if _, exists := s.orderIDByNumber[order.OrderNumber]; exists {
		return nil, store.ErrStateConflict
	}
	now := order.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		order.CreatedAt = now
	}

	// Snapshot batch quantities and touched barcodes so a mid-order
	// failure rolls every earlier item's draw back.
	savedQty := make(map[string]int, len(s.batchesByID))
	for id, b := range s.batchesByID {
		savedQty[id] = b.Quantity
	}
	type barcodeState struct {
		status string
		logLen int
	}
	savedBarcodes := make(map[string]barcodeState)
	rollback := func() {
		for id, qty := range savedQty {
			s.batchesByID[id].Quantity = qty
		}
		for id, saved := range savedBarcodes {
			b := s.barcodeByIDLocked(id)
			b.CurrentStatus = saved.status
			b.LocationLog = b.LocationLog[:saved.logLen]
		}
	}
	seenBarcodes := make(map[string]bool)

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = xid.New("oi")
		}
		item.OrderID = order.ID

		if item.BarcodeID != "" {
			// Counter quick-sale path: the unit was resolved by barcode,
			// so the draw targets its own batch.
			if seenBarcodes[item.BarcodeID] {
				rollback()
				return nil, store.ErrBarcodeUnavailable
			}
			seenBarcodes[item.BarcodeID] = true
			barcode := s.barcodeByIDLocked(item.BarcodeID)
			if barcode == nil {
				rollback()
				return nil, store.ErrNotFound
			}
			// The service pre-check ran outside this lock; the unit may
			// have been sold or moved since. Re-assert it here.
			if barcode.CurrentStore != order.StoreID || !domain.BarcodeScannable(barcode.CurrentStatus) {
				rollback()
				return nil, store.ErrBarcodeUnavailable
			}
			savedBarcodes[barcode.ID] = barcodeState{status: barcode.CurrentStatus, logLen: len(barcode.LocationLog)}
			batch, exists := s.batchesByID[barcode.BatchID]
			if !exists || batch.Quantity < item.Quantity {
				rollback()
				available := 0
				if exists {
					available = batch.Quantity
				}
				return nil, &store.InsufficientStockError{ProductID: item.ProductID, Required: item.Quantity, Available: available}
			}
			batch.Quantity -= item.Quantity
			item.BatchID = batch.ID
			barcode.CurrentStatus = domain.BarcodeWithCustomer
			barcode.LocationLog = append(barcode.LocationLog, domain.BarcodeEvent{
				Status:      domain.BarcodeWithCustomer,
				StoreID:     order.StoreID,
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				Actor:       order.CreatedBy,
				At:          now,
			})
			continue
		}

		if deductNow {
			batchID, err := s.consumeLocked(item.ProductID, order.StoreID, item.Quantity, now)
			if err != nil {
				rollback()
				return nil, err
			}
			item.BatchID = batchID
		}
	}

	stored := order
	stored.Items = slices.Clone(order.Items)
	s.ordersByID[order.ID] = &stored
	s.orderIDByNumber[order.OrderNumber] = order.ID
	created := stored
	created.Items = slices.Clone(stored.Items)
	return &created, nil
}

func (s *Store) barcodeByIDLocked(barcodeID string) *domain.ProductBarcode {
	for _, b := range s.barcodesByCode {
		if b.ID == barcodeID {
			return b
		}
	}
	return nil
}

func cloneOrder(o *domain.Order) *domain.Order {
	copyO := *o
	copyO.Items = slices.Clone(o.Items)
	copyO.StatusHistory = slices.Clone(o.StatusHistory)
	return &copyO
}

func (s *Store) GetOrderByID(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) GetOrderByNumber(_ context.Context, orderNumber string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.orderIDByNumber[orderNumber]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneOrder(s.ordersByID[id]), nil
}

func (s *Store) ListOrders(_ context.Context, status string, storeID string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, 16)
	for _, o := range s.ordersByID {
		if status != "" && o.Status != status {
			continue
		}
		if storeID != "" && o.StoreID != storeID {
			continue
		}
		result = append(result, *cloneOrder(o))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) AssignOrderStore(_ context.Context, orderID string, storeID string, actor string, notes string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if o.Status != domain.OrderStatusPendingAssignment {
		return nil, &store.StateConflictError{Entity: "order", ID: orderID, Current: o.Status, Expected: domain.OrderStatusPendingAssignment}
	}
	st, exists := s.stores[storeID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if st.IsWarehouse || !st.IsOnline {
		return nil, store.ErrValidation
	}

	// Revalidate every line against live stock before committing. The
	// availability matrix the caller saw is advisory only.
	required := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		required[item.ProductID] += item.Quantity
	}
	for productID, qty := range required {
		available := s.availableLocked(productID, storeID, at)
		if available < qty {
			return nil, &store.InsufficientStockError{ProductID: productID, Required: qty, Available: available}
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
	return cloneOrder(o), nil
}

func (s *Store) ApplyScan(_ context.Context, orderID string, orderItemID string, barcodeCode string, actor string, at time.Time) (*domain.Order, *domain.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.ordersByID[orderID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if o.Status != domain.OrderStatusAssignedToStore && o.Status != domain.OrderStatusPicking {
		return nil, nil, &store.StateConflictError{Entity: "order", ID: orderID, Current: o.Status, Expected: domain.OrderStatusAssignedToStore}
	}

	barcode, exists := s.barcodesByCode[barcodeCode]
	if !exists || barcode.CurrentStore != o.StoreID || !domain.BarcodeScannable(barcode.CurrentStatus) {
		// One generic rejection for all three cases so pickers never learn
		// about units sitting at other stores.
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

	// The nil batch check is the at-most-once guard for deferred
	// deduction: immediate-deduction channels arrive here with the batch
	// already bound, so no second decrement can happen.
	if item.BatchID == "" {
		batch, exists := s.batchesByID[barcode.BatchID]
		if !exists {
			return nil, nil, store.ErrNotFound
		}
		if batch.Quantity < 1 {
			return nil, nil, &store.InsufficientStockError{ProductID: item.ProductID, Required: 1, Available: 0}
		}
		batch.Quantity--
		item.BatchID = batch.ID
	} else if item.BatchID != barcode.BatchID {
		item.BatchID = barcode.BatchID
	}

	item.BarcodeID = barcode.ID
	barcode.CurrentStatus = domain.BarcodeInShipment
	barcode.LocationLog = append(barcode.LocationLog, domain.BarcodeEvent{
		Status:      domain.BarcodeInShipment,
		StoreID:     o.StoreID,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Actor:       actor,
		At:          at,
	})

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

	copyItem := *item
	return cloneOrder(o), &copyItem, nil
}

func cloneShipment(sh *domain.Shipment) *domain.Shipment {
	copySh := *sh
	copySh.StatusHistory = slices.Clone(sh.StatusHistory)
	return &copySh
}

func (s *Store) CreateShipment(_ context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shipment.OrderID == "" || shipment.StoreID == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.shipmentsByID {
		if existing.OrderID == shipment.OrderID && existing.StoreID == shipment.StoreID {
			return nil, &store.StateConflictError{Entity: "shipment", ID: existing.ID, Current: "exists", Expected: "absent"}
		}
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
	stored := shipment
	stored.StatusHistory = slices.Clone(shipment.StatusHistory)
	s.shipmentsByID[shipment.ID] = &stored
	return cloneShipment(&stored), nil
}

func (s *Store) GetShipmentByID(_ context.Context, shipmentID string) (*domain.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, exists := s.shipmentsByID[shipmentID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneShipment(sh), nil
}

func (s *Store) ListShipmentsByOrder(_ context.Context, orderID string) ([]domain.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shipment, 0, 2)
	for _, sh := range s.shipmentsByID {
		if sh.OrderID == orderID {
			result = append(result, *cloneShipment(sh))
		}
	}
	slices.SortFunc(result, func(a, b domain.Shipment) int { return cmpString(a.ID, b.ID) })
	return result, nil
}

func (s *Store) ListShipments(_ context.Context, status string, limit int) ([]domain.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shipment, 0, 16)
	for _, sh := range s.shipmentsByID {
		if status != "" && sh.Status != status {
			continue
		}
		result = append(result, *cloneShipment(sh))
	}
	slices.SortFunc(result, func(a, b domain.Shipment) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListSyncableShipments(_ context.Context, limit int, maxAge time.Duration, force bool, now time.Time) ([]domain.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}

	result := make([]domain.Shipment, 0, 16)
	for _, sh := range s.shipmentsByID {
		if sh.CourierConsignment == "" {
			continue
		}
		if !cutoff.IsZero() && sh.CreatedAt.Before(cutoff) {
			continue
		}
		if domain.ShipmentTerminal(sh.Status) && !force {
			continue
		}
		result = append(result, *cloneShipment(sh))
	}
	// Oldest sync first so stale shipments are refreshed before fresh ones.
	slices.SortFunc(result, func(a, b domain.Shipment) int {
		at := syncTime(a)
		bt := syncTime(b)
		if at.Equal(bt) {
			return cmpString(a.ID, b.ID)
		}
		if at.Before(bt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func syncTime(sh domain.Shipment) time.Time {
	if sh.LastSyncedAt != nil {
		return *sh.LastSyncedAt
	}
	return sh.CreatedAt
}

func (s *Store) MarkShipmentSubmitted(_ context.Context, shipmentID string, consignmentID string, trackingNumber string, feeCents int64, at time.Time) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, exists := s.shipmentsByID[shipmentID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sh.CourierConsignment != "" {
		return cloneShipment(sh), nil
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
	return cloneShipment(sh), nil
}

func (s *Store) UpdateShipmentSync(_ context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, exists := s.shipmentsByID[shipment.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	stored := shipment
	stored.StatusHistory = slices.Clone(shipment.StatusHistory)
	*sh = stored
	return cloneShipment(sh), nil
}

func (s *Store) RecordCODPayment(_ context.Context, payment domain.OrderPayment) (*domain.OrderPayment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.ConsignmentID == "" || payment.OrderID == "" {
		return nil, false, store.ErrValidation
	}
	if existingID, exists := s.paymentByConsign[payment.ConsignmentID]; exists {
		existing := s.paymentsByID[existingID]
		return &existing, false, nil
	}
	o, exists := s.ordersByID[payment.OrderID]
	if !exists {
		return nil, false, store.ErrNotFound
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	s.paymentsByID[payment.ID] = payment
	s.paymentByConsign[payment.ConsignmentID] = payment.ID

	o.PaidCents += payment.AmountCents
	switch {
	case o.PaidCents >= o.TotalCents:
		o.PaymentStatus = domain.PaymentStatusPaid
	case o.PaidCents > 0:
		o.PaymentStatus = domain.PaymentStatusPartial
	}

	created := payment
	return &created, true, nil
}

func (s *Store) GetCODPaymentByConsignment(_ context.Context, consignmentID string) (*domain.OrderPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.paymentByConsign[consignmentID]
	if !exists {
		return nil, store.ErrNotFound
	}
	payment := s.paymentsByID[id]
	return &payment, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID string, from string, to string, actor string, note string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if from != "" && o.Status != from {
		return nil, &store.StateConflictError{Entity: "order", ID: orderID, Current: o.Status, Expected: from}
	}
	o.Status = to
	o.StatusHistory = append(o.StatusHistory, domain.OrderEvent{Status: to, Actor: actor, Note: note, At: at})
	return cloneOrder(o), nil
}

func (s *Store) CreateDispatchBatch(_ context.Context, batch domain.DispatchBatch) (*domain.DispatchBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.ID == "" {
		batch.ID = xid.New("dsp")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	stored := batch
	stored.Results = slices.Clone(batch.Results)
	s.dispatchBatches[batch.ID] = &stored
	created := stored
	created.Results = slices.Clone(stored.Results)
	return &created, nil
}

func (s *Store) AppendDispatchResult(_ context.Context, batchID string, result domain.DispatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, exists := s.dispatchBatches[batchID]
	if !exists {
		return store.ErrNotFound
	}
	batch.Results = append(batch.Results, result)
	if result.Success {
		batch.Sent++
	} else {
		batch.Failed++
	}
	return nil
}

func (s *Store) GetDispatchBatch(_ context.Context, batchID string) (*domain.DispatchBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, exists := s.dispatchBatches[batchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBatch := *batch
	copyBatch.Results = slices.Clone(batch.Results)
	return &copyBatch, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrStateConflict
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		result = append(result, u)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int { return cmpString(a.Username, b.Username) })
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
