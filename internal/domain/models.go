package domain

import "time"

type Store struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Phone          string    `json:"phone"`
	IsWarehouse    bool      `json:"is_warehouse"`
	IsOnline       bool      `json:"is_online"`
	CourierStoreID string    `json:"courier_store_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Customer struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone"`
	Address   DeliveryAddress `json:"address"`
	CreatedAt time.Time       `json:"created_at"`
}

// DeliveryAddress is the assembled drop-off location sent to the courier.
// The CourierCityID/ZoneID/AreaID triple references the courier's own
// location catalog.
type DeliveryAddress struct {
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	Landmark      string `json:"landmark,omitempty"`
	Area          string `json:"area,omitempty"`
	City          string `json:"city,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	CourierCityID int    `json:"courier_city_id,omitempty"`
	CourierZoneID int    `json:"courier_zone_id,omitempty"`
	CourierAreaID int    `json:"courier_area_id,omitempty"`
}

type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	WeightKG  float64   `json:"weight_kg"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ProductBatch is a received lot of a product at one store. Quantity is the
// remaining sellable units and never goes below zero.
type ProductBatch struct {
	ID             string     `json:"id"`
	ProductID      string     `json:"product_id"`
	StoreID        string     `json:"store_id"`
	BatchNumber    string     `json:"batch_number"`
	Quantity       int        `json:"quantity"`
	Availability   bool       `json:"availability"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	CostCents      int64      `json:"cost_cents"`
	SellPriceCents int64      `json:"sell_price_cents"`
	ReceivedAt     time.Time  `json:"received_at"`
}

// ProductBarcode is one physical unit carrying a scannable code. Its
// location log is append-only.
type ProductBarcode struct {
	ID            string         `json:"id"`
	Code          string         `json:"code"`
	ProductID     string         `json:"product_id"`
	BatchID       string         `json:"batch_id"`
	CurrentStore  string         `json:"current_store_id"`
	CurrentStatus string         `json:"current_status"`
	LocationLog   []BarcodeEvent `json:"location_log,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type BarcodeEvent struct {
	Status      string    `json:"status"`
	StoreID     string    `json:"store_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	OrderNumber string    `json:"order_number,omitempty"`
	Actor       string    `json:"actor"`
	Note        string    `json:"note,omitempty"`
	At          time.Time `json:"at"`
}

type Order struct {
	ID              string       `json:"id"`
	OrderNumber     string       `json:"order_number"`
	Channel         string       `json:"channel"`
	Status          string       `json:"status"`
	StoreID         string       `json:"store_id,omitempty"`
	CustomerID      string       `json:"customer_id,omitempty"`
	IsPreorder      bool         `json:"is_preorder"`
	PaymentStatus   string       `json:"payment_status"`
	SubtotalCents   int64        `json:"subtotal_cents"`
	DiscountCents   int64        `json:"discount_cents"`
	ShippingCents   int64        `json:"shipping_cents"`
	TotalCents      int64        `json:"total_cents"`
	PaidCents       int64        `json:"paid_cents"`
	OutstandingCents *int64      `json:"outstanding_cents,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	AssignedBy      string       `json:"assigned_by,omitempty"`
	AssignedAt      *time.Time   `json:"assigned_at,omitempty"`
	AssignmentNotes string       `json:"assignment_notes,omitempty"`
	FulfilledBy     string       `json:"fulfilled_by,omitempty"`
	FulfilledAt     *time.Time   `json:"fulfilled_at,omitempty"`
	CreatedBy       string       `json:"created_by"`
	CreatedAt       time.Time    `json:"created_at"`
	Items           []OrderItem  `json:"items"`
	StatusHistory   []OrderEvent `json:"status_history,omitempty"`
}

type OrderItem struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	ProductSKU     string `json:"product_sku"`
	BatchID        string `json:"batch_id,omitempty"`
	BarcodeID      string `json:"barcode_id,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type OrderEvent struct {
	Status string    `json:"status"`
	Actor  string    `json:"actor"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

type Shipment struct {
	ID                  string          `json:"id"`
	ShipmentNumber      string          `json:"shipment_number"`
	OrderID             string          `json:"order_id"`
	OrderNumber         string          `json:"order_number"`
	StoreID             string          `json:"store_id"`
	RecipientName       string          `json:"recipient_name"`
	RecipientPhone      string          `json:"recipient_phone"`
	Address             DeliveryAddress `json:"address"`
	Status              string          `json:"status"`
	CourierConsignment  string          `json:"courier_consignment_id,omitempty"`
	CourierTracking     string          `json:"courier_tracking_number,omitempty"`
	CourierStatus       string          `json:"courier_status,omitempty"`
	CODAmountCents      int64           `json:"cod_amount_cents"`
	CODCollected        bool            `json:"cod_collected"`
	CODCollectedCents   int64           `json:"cod_collected_cents,omitempty"`
	DeliveryFeeCents    int64           `json:"delivery_fee_cents,omitempty"`
	DeliveryType        string          `json:"delivery_type"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
	ItemCount           int             `json:"item_count"`
	WeightKG            float64         `json:"weight_kg"`
	ReturnReason        string          `json:"return_reason,omitempty"`
	StatusHistory       []ShipmentEvent `json:"status_history,omitempty"`
	PickupRequestedAt   *time.Time      `json:"pickup_requested_at,omitempty"`
	PickedUpAt          *time.Time      `json:"picked_up_at,omitempty"`
	DeliveredAt         *time.Time      `json:"delivered_at,omitempty"`
	ReturnedAt          *time.Time      `json:"returned_at,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
	LastSyncedAt        *time.Time      `json:"last_synced_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

type ShipmentEvent struct {
	Status        string    `json:"status"`
	CourierStatus string    `json:"courier_status,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	Note          string    `json:"note,omitempty"`
	At            time.Time `json:"at"`
}

// OrderPayment is a posted payment record against an order. COD payments
// from the courier are keyed by consignment id, at most one per consignment.
type OrderPayment struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	Method        string    `json:"method"`
	ConsignmentID string    `json:"consignment_id,omitempty"`
	AmountCents   int64     `json:"amount_cents"`
	Reference     string    `json:"reference,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
