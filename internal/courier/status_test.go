package courier

import (
	"testing"

	"rougecommerce/backend/internal/domain"
)

func TestMapStatusCoversCourierVocabulary(t *testing.T) {
	cases := map[string]string{
		"Pending":            domain.ShipmentStatusPending,
		"Pickup_Requested":   domain.ShipmentStatusPickupRequested,
		"Picked_up":          domain.ShipmentStatusPickedUp,
		"At_the_Sorting_Hub": domain.ShipmentStatusPickedUp,
		"In_Transit":         domain.ShipmentStatusInTransit,
		"On_Hold":            domain.ShipmentStatusInTransit,
		"Delivered":          domain.ShipmentStatusDelivered,
		"Partial_Delivery":   domain.ShipmentStatusDelivered,
		"Paid_Return":        domain.ShipmentStatusReturned,
		"Return_in_Transit":  domain.ShipmentStatusReturned,
		"Delivery_Cancelled": domain.ShipmentStatusCancelled,
	}
	for courierStatus, want := range cases {
		got, ok := MapStatus(courierStatus)
		if !ok || got != want {
			t.Fatalf("MapStatus(%q) = %q, %v; want %q", courierStatus, got, ok, want)
		}
	}
}

func TestMapStatusUnknownIsNotMapped(t *testing.T) {
	if _, ok := MapStatus("Some_Future_Status"); ok {
		t.Fatalf("unknown statuses must not map")
	}
}

func TestPartialDelivery(t *testing.T) {
	if !PartialDelivery("Partial_Delivery") {
		t.Fatalf("expected partial delivery")
	}
	if PartialDelivery("Delivered") {
		t.Fatalf("full delivery is not partial")
	}
}
