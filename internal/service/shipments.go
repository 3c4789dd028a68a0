package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rougecommerce/backend/internal/courier"
	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
)

// Courier hand-offs get three attempts, waiting 10s then 30s before the
// retries. Only transient failures are retried.
var dispatchBackoff = []time.Duration{10 * time.Second, 30 * time.Second}

const dispatchAttempts = 3

// CreateShipment opens a shipment for a fully picked order. One shipment
// exists per order and fulfilling store; the COD amount is the order's
// outstanding balance, or total minus paid when no balance was recorded.
func (s *Service) CreateShipment(ctx context.Context, actor domain.Actor, req domain.CreateShipmentRequest) (domain.ShipmentResponse, error) {
	order, err := s.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	if order.Status != domain.OrderStatusReadyForShipment {
		return domain.ShipmentResponse{}, &store.StateConflictError{Entity: "order", ID: order.ID, Current: order.Status, Expected: domain.OrderStatusReadyForShipment}
	}
	if order.CustomerID == "" {
		return domain.ShipmentResponse{}, fmt.Errorf("%w: order has no customer", store.ErrValidation)
	}
	customer, err := s.repo.GetCustomer(ctx, order.CustomerID)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}

	codAmount := order.TotalCents - order.PaidCents
	if order.OutstandingCents != nil {
		codAmount = *order.OutstandingCents
	}
	if codAmount < 0 {
		codAmount = 0
	}

	productIDs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	itemCount := 0
	weight := 0.0
	for _, item := range order.Items {
		itemCount += item.Quantity
		weight += products[item.ProductID].WeightKG * float64(item.Quantity)
	}
	if weight < 0.5 {
		weight = 0.5
	}

	deliveryType := req.DeliveryType
	if deliveryType == "" {
		deliveryType = domain.DeliveryTypeRegular
	}

	now := time.Now().UTC()
	shipment := domain.Shipment{
		ShipmentNumber:      newShipmentNumber(),
		OrderID:             order.ID,
		OrderNumber:         order.OrderNumber,
		StoreID:             order.StoreID,
		RecipientName:       customer.Name,
		RecipientPhone:      customer.Phone,
		Address:             customer.Address,
		Status:              domain.ShipmentStatusPending,
		CODAmountCents:      codAmount,
		DeliveryType:        deliveryType,
		SpecialInstructions: strings.TrimSpace(req.SpecialInstructions),
		ItemCount:           itemCount,
		WeightKG:            weight,
		StatusHistory: []domain.ShipmentEvent{
			{Status: domain.ShipmentStatusPending, Actor: actor.Username, At: now},
		},
		CreatedAt: now,
	}

	created, err := s.repo.CreateShipment(ctx, shipment)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}

	s.logAudit(ctx, actor, order.StoreID, "shipment_create", "shipment", created.ID,
		fmt.Sprintf("number=%s,order=%s,cod=%d", created.ShipmentNumber, order.OrderNumber, codAmount))
	return domain.ShipmentResponse{Shipment: *created}, nil
}

func (s *Service) GetShipment(ctx context.Context, shipmentID string) (domain.ShipmentResponse, error) {
	shipment, err := s.repo.GetShipmentByID(ctx, shipmentID)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	return domain.ShipmentResponse{Shipment: *shipment}, nil
}

func (s *Service) ListShipments(ctx context.Context, status string, limit int) (domain.ShipmentListResponse, error) {
	shipments, err := s.repo.ListShipments(ctx, status, limit)
	if err != nil {
		return domain.ShipmentListResponse{}, err
	}
	return domain.ShipmentListResponse{Shipments: shipments}, nil
}

// DispatchShipment hands one shipment to the courier. A shipment that
// already carries a tracking id is an idempotent no-op.
func (s *Service) DispatchShipment(ctx context.Context, actor domain.Actor, shipmentID string) (domain.ShipmentResponse, error) {
	shipment, err := s.repo.GetShipmentByID(ctx, shipmentID)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	submitted, err := s.submitShipment(ctx, shipment)
	if err != nil {
		return domain.ShipmentResponse{}, err
	}
	s.logAudit(ctx, actor, submitted.StoreID, "shipment_dispatch", "shipment", submitted.ID,
		fmt.Sprintf("consignment=%s", submitted.CourierConsignment))
	return domain.ShipmentResponse{Shipment: *submitted}, nil
}

func (s *Service) submitShipment(ctx context.Context, shipment *domain.Shipment) (*domain.Shipment, error) {
	if shipment.CourierConsignment != "" {
		return shipment, nil
	}

	st, err := s.repo.GetStore(ctx, shipment.StoreID)
	if err != nil {
		return nil, err
	}
	// Both of these are data problems no retry can fix.
	if st.CourierStoreID == "" {
		return nil, fmt.Errorf("store %s has no courier store id", st.ID)
	}
	address := assembleAddress(shipment.Address)
	if address == "" {
		return nil, errors.New("shipment has an empty delivery address")
	}

	req := courier.CreateOrderRequest{
		StoreID:            st.CourierStoreID,
		MerchantOrderID:    shipment.ShipmentNumber,
		RecipientName:      shipment.RecipientName,
		RecipientPhone:     shipment.RecipientPhone,
		RecipientAddress:   address,
		RecipientCityID:    shipment.Address.CourierCityID,
		RecipientZoneID:    shipment.Address.CourierZoneID,
		RecipientAreaID:    shipment.Address.CourierAreaID,
		DeliveryType:       courier.DeliveryTypeCode(shipment.DeliveryType),
		ItemType:           courier.ItemTypeParcel,
		SpecialInstruction: shipment.SpecialInstructions,
		ItemQuantity:       shipment.ItemCount,
		ItemWeight:         shipment.WeightKG,
		AmountToCollect:    shipment.CODAmountCents,
		ItemDescription:    fmt.Sprintf("order %s", shipment.OrderNumber),
	}

	var resp *courier.CreateOrderResponse
	var lastErr error
	for attempt := 1; attempt <= dispatchAttempts; attempt++ {
		resp, lastErr = s.courier.CreateOrder(ctx, req)
		if lastErr == nil {
			break
		}
		if !courier.IsTransient(lastErr) {
			return nil, lastErr
		}
		if attempt < dispatchAttempts {
			s.sleep(dispatchBackoff[attempt-1])
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	now := time.Now().UTC()
	tracking := resp.TrackingNumber
	if tracking == "" {
		tracking = resp.ConsignmentID
	}
	updated, err := s.repo.MarkShipmentSubmitted(ctx, shipment.ID, resp.ConsignmentID, tracking, resp.DeliveryFee, now)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.UpdateOrderStatus(ctx, shipment.OrderID, domain.OrderStatusReadyForShipment, domain.OrderStatusShipped, systemActor.Username, fmt.Sprintf("shipment %s dispatched", shipment.ShipmentNumber), now); err != nil {
		// The order may already be shipped when the no-op path was taken
		// concurrently; anything else is worth surfacing in the log.
		if !errors.Is(err, store.ErrStateConflict) {
			return nil, err
		}
	}
	return updated, nil
}

// DispatchPending submits every pending shipment to the courier and tracks
// per-shipment outcomes in a batch record. Failures are recorded, never
// raised: one bad shipment must not block the rest of the run.
func (s *Service) DispatchPending(ctx context.Context, limit int) (domain.DispatchBatchResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	pending, err := s.repo.ListShipments(ctx, domain.ShipmentStatusPending, limit)
	if err != nil {
		return domain.DispatchBatchResponse{}, err
	}

	batch, err := s.repo.CreateDispatchBatch(ctx, domain.DispatchBatch{Total: len(pending)})
	if err != nil {
		return domain.DispatchBatchResponse{}, err
	}

	for i := range pending {
		shipment := pending[i]
		result := domain.DispatchResult{ShipmentID: shipment.ID, At: time.Now().UTC()}
		submitted, err := s.submitShipment(ctx, &shipment)
		if err != nil {
			result.Message = err.Error()
		} else {
			result.Success = true
			result.ConsignmentID = submitted.CourierConsignment
		}
		if err := s.repo.AppendDispatchResult(ctx, batch.ID, result); err != nil {
			return domain.DispatchBatchResponse{}, err
		}
	}

	final, err := s.repo.GetDispatchBatch(ctx, batch.ID)
	if err != nil {
		return domain.DispatchBatchResponse{}, err
	}
	return domain.DispatchBatchResponse{Batch: *final}, nil
}

func assembleAddress(addr domain.DeliveryAddress) string {
	parts := make([]string, 0, 5)
	for _, part := range []string{addr.Line1, addr.Line2, addr.Landmark, addr.Area, addr.City} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, strings.TrimSpace(part))
		}
	}
	return strings.Join(parts, ", ")
}
