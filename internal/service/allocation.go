package service

import (
	"context"
	"fmt"
	"time"

	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
)

// StoreAvailability builds the allocation matrix for a social commerce
// order: per candidate store, how much of the order it could fulfill right
// now. The result is a pre-check for the operator; AssignStore revalidates
// everything under lock.
func (s *Service) StoreAvailability(ctx context.Context, orderID string) (domain.StoreAvailabilityResponse, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.StoreAvailabilityResponse{}, err
	}

	candidates, err := s.repo.ListCandidateStores(ctx)
	if err != nil {
		return domain.StoreAvailabilityResponse{}, err
	}

	productIDs := make([]string, 0, len(order.Items))
	seen := make(map[string]struct{}, len(order.Items))
	for _, item := range order.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		productIDs = append(productIDs, item.ProductID)
	}
	storeIDs := make([]string, 0, len(candidates))
	for _, st := range candidates {
		storeIDs = append(storeIDs, st.ID)
	}

	now := time.Now().UTC()
	snapshot, err := s.repo.StoreInventorySnapshot(ctx, storeIDs, productIDs, now)
	if err != nil {
		return domain.StoreAvailabilityResponse{}, err
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return domain.StoreAvailabilityResponse{}, err
	}

	plan := s.planner.Plan(ctx, *order, candidates, products, snapshot)
	return *plan, nil
}

// AssignStore routes a pending_assignment order to a fulfilling store. The
// store's stock is revalidated atomically at commit; any shortfall rejects
// the assignment with the exact product and quantities, leaving the order
// untouched.
func (s *Service) AssignStore(ctx context.Context, actor domain.Actor, orderID string, req domain.AssignStoreRequest) (domain.OrderResponse, error) {
	if req.StoreID == "" {
		return domain.OrderResponse{}, fmt.Errorf("%w: store_id is required", store.ErrValidation)
	}

	order, err := s.repo.AssignOrderStore(ctx, orderID, req.StoreID, actor.Username, req.Notes, time.Now().UTC())
	if err != nil {
		return domain.OrderResponse{}, err
	}

	s.logAudit(ctx, actor, req.StoreID, "order_assign_store", "order", order.ID,
		fmt.Sprintf("number=%s,store=%s", order.OrderNumber, req.StoreID))
	return domain.OrderResponse{Order: *order}, nil
}

func (s *Service) PendingAssignmentOrders(ctx context.Context, limit int) (domain.OrderListResponse, error) {
	return s.ListOrders(ctx, domain.OrderStatusPendingAssignment, "", limit)
}
