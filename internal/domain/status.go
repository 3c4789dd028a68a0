package domain

// Sales channels. Counter and ecommerce orders deduct stock when the order
// is created; social commerce orders defer the deduction to barcode scan.
const (
	ChannelCounter        = "counter"
	ChannelSocialCommerce = "social_commerce"
	ChannelEcommerce      = "ecommerce"
)

// DeductsAtCreation reports whether the channel consumes batch quantity at
// order creation time.
func DeductsAtCreation(channel string) bool {
	return channel == ChannelCounter || channel == ChannelEcommerce
}

func ValidChannel(channel string) bool {
	switch channel {
	case ChannelCounter, ChannelSocialCommerce, ChannelEcommerce:
		return true
	}
	return false
}

const (
	OrderStatusPending           = "pending"
	OrderStatusPendingAssignment = "pending_assignment"
	OrderStatusAssignedToStore   = "assigned_to_store"
	OrderStatusPicking           = "picking"
	OrderStatusReadyForShipment  = "ready_for_shipment"
	OrderStatusShipped           = "shipped"
	OrderStatusDelivered         = "delivered"
	OrderStatusCancelled         = "cancelled"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

const (
	BarcodeInWarehouse  = "in_warehouse"
	BarcodeInShop       = "in_shop"
	BarcodeOnDisplay    = "on_display"
	BarcodeInTransit    = "in_transit"
	BarcodeInShipment   = "in_shipment"
	BarcodeWithCustomer = "with_customer"
	BarcodeInReturn     = "in_return"
	BarcodeDefective    = "defective"
)

// BarcodeScannable reports whether a unit in this status may be picked into
// a shipment at its current store.
func BarcodeScannable(status string) bool {
	switch status {
	case BarcodeInShop, BarcodeOnDisplay, BarcodeInWarehouse:
		return true
	}
	return false
}

const (
	ShipmentStatusPending         = "pending"
	ShipmentStatusPickupRequested = "pickup_requested"
	ShipmentStatusPickedUp        = "picked_up"
	ShipmentStatusInTransit       = "in_transit"
	ShipmentStatusDelivered       = "delivered"
	ShipmentStatusReturned        = "returned"
	ShipmentStatusCancelled       = "cancelled"
)

// ShipmentTerminal reports whether the local status is final. Terminal
// shipments are skipped by the reconciler unless a forced sync is requested.
func ShipmentTerminal(status string) bool {
	switch status {
	case ShipmentStatusDelivered, ShipmentStatusReturned, ShipmentStatusCancelled:
		return true
	}
	return false
}

const (
	DeliveryTypeRegular = "regular"
	DeliveryTypeExpress = "express"
)
