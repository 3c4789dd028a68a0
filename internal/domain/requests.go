package domain

import "time"

type OrderItemRequest struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	BarcodeCode    string `json:"barcode_code,omitempty"`
}

type CreateOrderRequest struct {
	Channel       string             `json:"channel"`
	StoreID       string             `json:"store_id,omitempty"`
	CustomerID    string             `json:"customer_id,omitempty"`
	IsPreorder    bool               `json:"is_preorder"`
	DiscountCents int64              `json:"discount_cents"`
	ShippingCents int64              `json:"shipping_cents"`
	PaidCents     int64              `json:"paid_cents"`
	Notes         string             `json:"notes,omitempty"`
	Items         []OrderItemRequest `json:"items"`
}

type OrderResponse struct {
	Order Order `json:"order"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

// StoreAvailability is one row of the allocation matrix for an order.
type StoreAvailability struct {
	StoreID               string             `json:"store_id"`
	StoreName             string             `json:"store_name"`
	CanFulfillEntireOrder bool               `json:"can_fulfill_entire_order"`
	FulfillmentPercentage float64            `json:"fulfillment_percentage"`
	Items                 []ItemAvailability `json:"items"`
}

type ItemAvailability struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Required    int    `json:"required"`
	Available   int    `json:"available"`
	Sufficient  bool   `json:"sufficient"`
}

type StoreAvailabilityResponse struct {
	OrderID     string              `json:"order_id"`
	Stores      []StoreAvailability `json:"stores"`
	Recommended *Recommendation     `json:"recommended,omitempty"`
}

type Recommendation struct {
	StoreID               string  `json:"store_id"`
	StoreName             string  `json:"store_name"`
	CanFulfillEntireOrder bool    `json:"can_fulfill_entire_order"`
	FulfillmentPercentage float64 `json:"fulfillment_percentage"`
	Caveat                string  `json:"caveat,omitempty"`
}

type AssignStoreRequest struct {
	StoreID string `json:"store_id"`
	Notes   string `json:"notes,omitempty"`
}

type ScanRequest struct {
	BarcodeCode string `json:"barcode_code"`
	OrderItemID string `json:"order_item_id,omitempty"`
}

type ScanProgress struct {
	Fulfilled int     `json:"fulfilled"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Complete  bool    `json:"complete"`
}

type ScanResponse struct {
	OrderID     string       `json:"order_id"`
	OrderStatus string       `json:"order_status"`
	ItemID      string       `json:"item_id"`
	BarcodeCode string       `json:"barcode_code"`
	BatchID     string       `json:"batch_id"`
	Progress    ScanProgress `json:"progress"`
}

type CreateShipmentRequest struct {
	OrderID             string `json:"order_id"`
	DeliveryType        string `json:"delivery_type,omitempty"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

type ShipmentResponse struct {
	Shipment Shipment `json:"shipment"`
}

type ShipmentListResponse struct {
	Shipments []Shipment `json:"shipments"`
}

type DispatchResult struct {
	ShipmentID    string    `json:"shipment_id"`
	Success       bool      `json:"success"`
	ConsignmentID string    `json:"consignment_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	At            time.Time `json:"at"`
}

// DispatchBatch tracks the outcome of a bulk courier submission run.
type DispatchBatch struct {
	ID        string           `json:"id"`
	Total     int              `json:"total"`
	Sent      int              `json:"sent"`
	Failed    int              `json:"failed"`
	Results   []DispatchResult `json:"results"`
	CreatedAt time.Time        `json:"created_at"`
}

type DispatchBatchResponse struct {
	Batch DispatchBatch `json:"batch"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserInfo struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type SyncOptions struct {
	Limit  int  `json:"limit"`
	Force  bool `json:"force"`
	MaxAge int  `json:"max_age_days"`
}

type SyncSummary struct {
	Processed     int      `json:"processed"`
	Updated       int      `json:"updated"`
	Failed        int      `json:"failed"`
	SampledErrors []string `json:"sampled_errors,omitempty"`
}
