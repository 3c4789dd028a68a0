package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rougecommerce/backend/internal/courier"
	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
)

const (
	defaultSyncLimit  = 50
	defaultSyncWindow = 30 * 24 * time.Hour
	maxSampledErrors  = 5
)

// SyncCourierStatus polls the courier for every shipment still in flight
// and folds the courier's statuses onto the local ones. Each shipment is
// isolated: one failed lookup counts against the summary and the run moves
// on. Terminal shipments are skipped unless the caller forces a re-sync.
func (s *Service) SyncCourierStatus(ctx context.Context, opts domain.SyncOptions) (domain.SyncSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSyncLimit
	}
	window := defaultSyncWindow
	if opts.MaxAge > 0 {
		window = time.Duration(opts.MaxAge) * 24 * time.Hour
	}

	now := time.Now().UTC()
	shipments, err := s.repo.ListSyncableShipments(ctx, limit, window, opts.Force, now)
	if err != nil {
		return domain.SyncSummary{}, err
	}

	summary := domain.SyncSummary{}
	for i := range shipments {
		if i > 0 {
			// Keep a gap between courier calls so a large backlog does not
			// trip their rate limits.
			s.sleep(s.syncGap)
		}
		summary.Processed++
		updated, err := s.syncShipment(ctx, &shipments[i])
		if err != nil {
			summary.Failed++
			if len(summary.SampledErrors) < maxSampledErrors {
				summary.SampledErrors = append(summary.SampledErrors, fmt.Sprintf("%s: %v", shipments[i].ID, err))
			}
			continue
		}
		if updated {
			summary.Updated++
		}
	}
	return summary, nil
}

func (s *Service) syncShipment(ctx context.Context, shipment *domain.Shipment) (bool, error) {
	details, err := s.courier.OrderDetails(ctx, shipment.CourierConsignment)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	changed := false

	if details.OrderStatus != "" && details.OrderStatus != shipment.CourierStatus {
		shipment.CourierStatus = details.OrderStatus
		changed = true
	}

	localStatus, known := courier.MapStatus(details.OrderStatus)
	if known && localStatus != shipment.Status {
		shipment.Status = localStatus
		switch localStatus {
		case domain.ShipmentStatusPickedUp:
			shipment.PickedUpAt = &now
		case domain.ShipmentStatusDelivered:
			shipment.DeliveredAt = &now
		case domain.ShipmentStatusReturned:
			shipment.ReturnedAt = &now
		case domain.ShipmentStatusCancelled:
			shipment.CancelledAt = &now
		}
		shipment.StatusHistory = append(shipment.StatusHistory, domain.ShipmentEvent{
			Status:        localStatus,
			CourierStatus: details.OrderStatus,
			Note:          details.Reason,
			At:            now,
		})
		changed = true
	}

	if known && localStatus == domain.ShipmentStatusDelivered {
		if shipment.CODAmountCents > 0 {
			codChanged, err := s.recordDeliveryCOD(ctx, shipment, details, now)
			if err != nil {
				return false, err
			}
			changed = changed || codChanged
		} else if changed {
			if _, err := s.repo.UpdateOrderStatus(ctx, shipment.OrderID, "", domain.OrderStatusDelivered, systemActor.Username, fmt.Sprintf("shipment %s delivered", shipment.ShipmentNumber), now); err != nil {
				return false, err
			}
		}
	}

	// A return or cancellation after collection means the cash never made
	// it; the flag is cleared and the reason kept, but the posted payment
	// record stays for accounting to settle.
	if known && (localStatus == domain.ShipmentStatusReturned || localStatus == domain.ShipmentStatusCancelled) && shipment.CODCollected {
		shipment.CODCollected = false
		reason := details.Reason
		if reason == "" {
			reason = fmt.Sprintf("courier reported %s after COD collection", details.OrderStatus)
		}
		shipment.ReturnReason = reason
		changed = true
	}

	shipment.LastSyncedAt = &now
	if _, err := s.repo.UpdateShipmentSync(ctx, *shipment); err != nil {
		return false, err
	}
	return changed, nil
}

// recordDeliveryCOD posts the collected COD amount against the order. The
// existence check on the consignment id is the idempotency guard; a second
// sync of the same delivered shipment finds the payment and does nothing.
func (s *Service) recordDeliveryCOD(ctx context.Context, shipment *domain.Shipment, details *courier.OrderDetails, at time.Time) (bool, error) {
	if _, err := s.repo.GetCODPaymentByConsignment(ctx, shipment.CourierConsignment); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	amount := shipment.CODAmountCents
	if details.AmountCollected > 0 {
		amount = details.AmountCollected
	}
	note := ""
	if courier.PartialDelivery(details.OrderStatus) {
		note = "partial delivery"
	}

	_, created, err := s.repo.RecordCODPayment(ctx, domain.OrderPayment{
		OrderID:       shipment.OrderID,
		Method:        "cod",
		ConsignmentID: shipment.CourierConsignment,
		AmountCents:   amount,
		Reference:     "COURIER-COD-" + shipment.CourierConsignment,
		Note:          note,
		CreatedAt:     at,
	})
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	shipment.CODCollected = true
	shipment.CODCollectedCents = amount

	if _, err := s.repo.UpdateOrderStatus(ctx, shipment.OrderID, "", domain.OrderStatusDelivered, systemActor.Username, fmt.Sprintf("shipment %s delivered", shipment.ShipmentNumber), at); err != nil {
		return false, err
	}
	s.logAudit(ctx, systemActor, shipment.StoreID, "cod_payment", "shipment", shipment.ID,
		fmt.Sprintf("consignment=%s,amount=%d", shipment.CourierConsignment, amount))
	return true, nil
}

// CourierCities, CourierZones, CourierAreas, and CourierPriceQuote pass the
// courier's location catalog and fee quotes through to the API so the
// storefront can resolve delivery addresses.
func (s *Service) CourierCities(ctx context.Context) ([]courier.City, error) {
	return s.courier.Cities(ctx)
}

func (s *Service) CourierZones(ctx context.Context, cityID int) ([]courier.Zone, error) {
	return s.courier.Zones(ctx, cityID)
}

func (s *Service) CourierAreas(ctx context.Context, zoneID int) ([]courier.Area, error) {
	return s.courier.Areas(ctx, zoneID)
}

func (s *Service) CourierPriceQuote(ctx context.Context, req courier.PriceQuoteRequest) (*courier.PriceQuote, error) {
	return s.courier.PriceQuote(ctx, req)
}
