package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
)

// ScanBarcode picks one physical unit into an order. The whole effect
// commits atomically in the repository: barcode and batch bound to the
// item, the unit moved to in_shipment with a location log entry, a one-unit
// draw when the item's deduction was deferred, and the order advanced
// through picking to ready_for_shipment.
func (s *Service) ScanBarcode(ctx context.Context, actor domain.Actor, orderID string, req domain.ScanRequest) (domain.ScanResponse, error) {
	code := strings.TrimSpace(req.BarcodeCode)
	if code == "" {
		return domain.ScanResponse{}, fmt.Errorf("%w: barcode_code is required", store.ErrValidation)
	}

	order, item, err := s.repo.ApplyScan(ctx, orderID, req.OrderItemID, code, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.ScanResponse{}, err
	}

	progress := scanProgress(order)
	s.logAudit(ctx, actor, order.StoreID, "order_scan", "order", order.ID,
		fmt.Sprintf("number=%s,item=%s,barcode=%s,progress=%d/%d", order.OrderNumber, item.ID, code, progress.Fulfilled, progress.Total))

	return domain.ScanResponse{
		OrderID:     order.ID,
		OrderStatus: order.Status,
		ItemID:      item.ID,
		BarcodeCode: code,
		BatchID:     item.BatchID,
		Progress:    progress,
	}, nil
}

func scanProgress(order *domain.Order) domain.ScanProgress {
	fulfilled := 0
	for _, item := range order.Items {
		if item.BarcodeID != "" {
			fulfilled++
		}
	}
	progress := domain.ScanProgress{
		Fulfilled: fulfilled,
		Total:     len(order.Items),
		Complete:  fulfilled == len(order.Items),
	}
	if progress.Total > 0 {
		progress.Percent = math.Round(float64(fulfilled)/float64(progress.Total)*10000) / 100
	}
	return progress
}

// AssignedOrders lists the pick queue for one store: everything assigned or
// mid-pick, oldest assignment first is left to the caller's ordering needs.
func (s *Service) AssignedOrders(ctx context.Context, storeID string, limit int) (domain.OrderListResponse, error) {
	if storeID == "" {
		return domain.OrderListResponse{}, fmt.Errorf("%w: store_id is required", store.ErrValidation)
	}
	assigned, err := s.repo.ListOrders(ctx, domain.OrderStatusAssignedToStore, storeID, limit)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	picking, err := s.repo.ListOrders(ctx, domain.OrderStatusPicking, storeID, limit)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return domain.OrderListResponse{Orders: append(assigned, picking...)}, nil
}

// OrderProgress reports how far along the pick of an order is.
func (s *Service) OrderProgress(ctx context.Context, orderID string) (domain.ScanProgress, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.ScanProgress{}, err
	}
	return scanProgress(order), nil
}
