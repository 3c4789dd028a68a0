// Package courier talks to the delivery partner's merchant API: consignment
// creation, status lookups, the location catalog, and delivery fee quotes.
package courier

import (
	"context"
	"time"
)

// Client is the surface the dispatch and reconcile flows depend on. The
// HTTP implementation lives in this package; tests substitute their own.
type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	OrderDetails(ctx context.Context, consignmentID string) (*OrderDetails, error)
	Cities(ctx context.Context) ([]City, error)
	Zones(ctx context.Context, cityID int) ([]Zone, error)
	Areas(ctx context.Context, zoneID int) ([]Area, error)
	PriceQuote(ctx context.Context, req PriceQuoteRequest) (*PriceQuote, error)
}

type CreateOrderRequest struct {
	StoreID            string  `json:"store_id"`
	MerchantOrderID    string  `json:"merchant_order_id"`
	RecipientName      string  `json:"recipient_name"`
	RecipientPhone     string  `json:"recipient_phone"`
	RecipientAddress   string  `json:"recipient_address"`
	RecipientCityID    int     `json:"recipient_city"`
	RecipientZoneID    int     `json:"recipient_zone"`
	RecipientAreaID    int     `json:"recipient_area"`
	DeliveryType       int     `json:"delivery_type"`
	ItemType           int     `json:"item_type"`
	SpecialInstruction string  `json:"special_instruction,omitempty"`
	ItemQuantity       int     `json:"item_quantity"`
	ItemWeight         float64 `json:"item_weight"`
	AmountToCollect    int64   `json:"amount_to_collect"`
	ItemDescription    string  `json:"item_description,omitempty"`
}

type CreateOrderResponse struct {
	ConsignmentID  string `json:"consignment_id"`
	TrackingNumber string `json:"merchant_order_id"`
	OrderStatus    string `json:"order_status"`
	DeliveryFee    int64  `json:"delivery_fee"`
}

type OrderDetails struct {
	ConsignmentID   string `json:"consignment_id"`
	OrderStatus     string `json:"order_status"`
	AmountCollected int64  `json:"collected_amount"`
	Reason          string `json:"reason,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

type City struct {
	ID   int    `json:"city_id"`
	Name string `json:"city_name"`
}

type Zone struct {
	ID   int    `json:"zone_id"`
	Name string `json:"zone_name"`
}

type Area struct {
	ID   int    `json:"area_id"`
	Name string `json:"area_name"`
}

type PriceQuoteRequest struct {
	StoreID         string  `json:"store_id"`
	RecipientCityID int     `json:"recipient_city"`
	RecipientZoneID int     `json:"recipient_zone"`
	DeliveryType    int     `json:"delivery_type"`
	ItemType        int     `json:"item_type"`
	ItemWeight      float64 `json:"item_weight"`
}

type PriceQuote struct {
	PriceCents      int64 `json:"price"`
	DiscountCents   int64 `json:"discount"`
	FinalPriceCents int64 `json:"final_price"`
}

// Delivery type codes on the courier's wire format.
const (
	DeliveryTypeCodeRegular = 48
	DeliveryTypeCodeExpress = 12
)

// Item type code for parcels.
const ItemTypeParcel = 2

func DeliveryTypeCode(deliveryType string) int {
	if deliveryType == "express" {
		return DeliveryTypeCodeExpress
	}
	return DeliveryTypeCodeRegular
}

// tokenSkew is subtracted from the courier's token TTL so a token is never
// presented within a minute of expiry.
const tokenSkew = time.Minute
