package courier

import "rougecommerce/backend/internal/domain"

// statusMap folds the courier's status vocabulary onto the local shipment
// statuses. Partial deliveries count as delivered; holds stay in transit.
var statusMap = map[string]string{
	"Pending":                   domain.ShipmentStatusPending,
	"Pickup_Requested":          domain.ShipmentStatusPickupRequested,
	"Pickup_Pending":            domain.ShipmentStatusPickupRequested,
	"Assigned_for_Pickup":       domain.ShipmentStatusPickupRequested,
	"Picked_up":                 domain.ShipmentStatusPickedUp,
	"Pickup_Completed":          domain.ShipmentStatusPickedUp,
	"At_the_Sorting_Hub":        domain.ShipmentStatusPickedUp,
	"In_Transit":                domain.ShipmentStatusInTransit,
	"Received_at_Last_Mile_Hub": domain.ShipmentStatusInTransit,
	"Assigned_for_Delivery":     domain.ShipmentStatusInTransit,
	"On_Hold":                   domain.ShipmentStatusInTransit,
	"Delivered":                 domain.ShipmentStatusDelivered,
	"Partial_Delivery":          domain.ShipmentStatusDelivered,
	"Return":                    domain.ShipmentStatusReturned,
	"Return_in_Transit":         domain.ShipmentStatusReturned,
	"Returned":                  domain.ShipmentStatusReturned,
	"Paid_Return":               domain.ShipmentStatusReturned,
	"Pickup_Cancelled":          domain.ShipmentStatusCancelled,
	"Delivery_Cancelled":        domain.ShipmentStatusCancelled,
	"Cancelled":                 domain.ShipmentStatusCancelled,
}

// MapStatus resolves a courier status string to a local shipment status.
// Unknown statuses map to empty and the reconciler leaves the shipment
// untouched.
func MapStatus(courierStatus string) (string, bool) {
	local, ok := statusMap[courierStatus]
	return local, ok
}

// PartialDelivery reports whether the courier delivered only part of the
// parcel; the collected amount can then be lower than the COD amount.
func PartialDelivery(courierStatus string) bool {
	return courierStatus == "Partial_Delivery"
}
