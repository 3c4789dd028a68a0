package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
)

func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, req domain.CreateOrderRequest) (domain.OrderResponse, error) {
	req.Channel = strings.TrimSpace(req.Channel)
	if !domain.ValidChannel(req.Channel) {
		return domain.OrderResponse{}, fmt.Errorf("%w: unknown channel %q", store.ErrValidation, req.Channel)
	}
	if len(req.Items) == 0 {
		return domain.OrderResponse{}, fmt.Errorf("%w: order needs at least one item", store.ErrValidation)
	}
	if req.DiscountCents < 0 || req.ShippingCents < 0 || req.PaidCents < 0 {
		return domain.OrderResponse{}, fmt.Errorf("%w: negative amounts", store.ErrValidation)
	}

	// Counter and ecommerce orders consume stock at creation, so they must
	// name the store up front. Social commerce orders are routed later by
	// the allocation planner.
	deductNow := domain.DeductsAtCreation(req.Channel)
	if deductNow && req.StoreID == "" {
		return domain.OrderResponse{}, fmt.Errorf("%w: channel %s requires store_id", store.ErrValidation, req.Channel)
	}
	if deductNow {
		if _, err := s.repo.GetStore(ctx, req.StoreID); err != nil {
			return domain.OrderResponse{}, err
		}
	}
	if req.CustomerID != "" {
		if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return domain.OrderResponse{}, err
		}
	}

	now := time.Now().UTC()
	order := domain.Order{
		OrderNumber:   newOrderNumber(),
		Channel:       req.Channel,
		StoreID:       req.StoreID,
		CustomerID:    req.CustomerID,
		IsPreorder:    req.IsPreorder,
		DiscountCents: req.DiscountCents,
		ShippingCents: req.ShippingCents,
		PaidCents:     req.PaidCents,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedBy:     actor.Username,
		CreatedAt:     now,
	}

	switch req.Channel {
	case domain.ChannelCounter:
		// A counter sale completes at the till; the units leave with the
		// customer.
		order.Status = domain.OrderStatusDelivered
	case domain.ChannelEcommerce:
		order.Status = domain.OrderStatusAssignedToStore
	default:
		order.Status = domain.OrderStatusPendingAssignment
	}
	order.StatusHistory = []domain.OrderEvent{{Status: order.Status, Actor: actor.Username, At: now}}

	for _, line := range req.Items {
		if line.Quantity < 1 {
			return domain.OrderResponse{}, fmt.Errorf("%w: item quantity must be positive", store.ErrValidation)
		}
		item := domain.OrderItem{
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		}

		if line.BarcodeCode != "" {
			if req.Channel != domain.ChannelCounter {
				return domain.OrderResponse{}, fmt.Errorf("%w: barcode items are a counter-sale feature", store.ErrValidation)
			}
			barcode, err := s.repo.GetBarcodeByCode(ctx, strings.TrimSpace(line.BarcodeCode))
			if err != nil {
				return domain.OrderResponse{}, store.ErrBarcodeUnavailable
			}
			if barcode.CurrentStore != req.StoreID || !domain.BarcodeScannable(barcode.CurrentStatus) {
				return domain.OrderResponse{}, store.ErrBarcodeUnavailable
			}
			if line.ProductID != "" && line.ProductID != barcode.ProductID {
				return domain.OrderResponse{}, store.ErrProductMismatch
			}
			item.ProductID = barcode.ProductID
			item.BarcodeID = barcode.ID
			item.Quantity = 1
			if item.UnitPriceCents == 0 {
				if batch, err := s.repo.GetBatch(ctx, barcode.BatchID); err == nil {
					item.UnitPriceCents = batch.SellPriceCents
				}
			}
		} else {
			item.ProductID = strings.TrimSpace(line.ProductID)
		}

		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			return domain.OrderResponse{}, err
		}
		if !product.Active {
			return domain.OrderResponse{}, fmt.Errorf("%w: product %s is inactive", store.ErrValidation, product.ID)
		}
		item.ProductName = product.Name
		item.ProductSKU = product.SKU

		order.Items = append(order.Items, item)
		order.SubtotalCents += int64(item.Quantity) * item.UnitPriceCents
	}

	order.TotalCents = order.SubtotalCents - order.DiscountCents + order.ShippingCents
	if order.TotalCents < 0 {
		order.TotalCents = 0
	}
	switch {
	case order.PaidCents >= order.TotalCents:
		order.PaymentStatus = domain.PaymentStatusPaid
	case order.PaidCents > 0:
		order.PaymentStatus = domain.PaymentStatusPartial
	default:
		order.PaymentStatus = domain.PaymentStatusPending
	}

	// Preorders promise future stock, so even immediate channels skip the
	// draw at creation.
	created, err := s.repo.CreateOrder(ctx, order, deductNow && !order.IsPreorder)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	s.logAudit(ctx, actor, created.StoreID, "order_create", "order", created.ID,
		fmt.Sprintf("number=%s,channel=%s,items=%d,total=%d", created.OrderNumber, created.Channel, len(created.Items), created.TotalCents))
	return domain.OrderResponse{Order: *created}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.OrderResponse, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	return domain.OrderResponse{Order: *order}, nil
}

func (s *Service) ListOrders(ctx context.Context, status string, storeID string, limit int) (domain.OrderListResponse, error) {
	orders, err := s.repo.ListOrders(ctx, status, storeID, limit)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return domain.OrderListResponse{Orders: orders}, nil
}
