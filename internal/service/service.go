package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"rougecommerce/backend/internal/allocation"
	"rougecommerce/backend/internal/courier"
	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/store"
	"rougecommerce/backend/internal/xid"
)

// Service orchestrates order intake, store allocation, pick-and-scan
// fulfillment, courier dispatch, and status reconciliation. Every mutating
// operation takes the acting user explicitly; nothing reads an ambient
// actor from the context.
type Service struct {
	repo    store.Repository
	planner *allocation.Engine
	courier courier.Client

	// sleep and syncGap exist so tests can run the retry and rate-limit
	// paths without waiting.
	sleep   func(time.Duration)
	syncGap time.Duration
}

func New(repo store.Repository, planner *allocation.Engine, courierClient courier.Client) *Service {
	return &Service{
		repo:    repo,
		planner: planner,
		courier: courierClient,
		sleep:   time.Sleep,
		syncGap: 200 * time.Millisecond,
	}
}

var systemActor = domain.Actor{Username: "system", Role: "system"}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, storeID string, action string, entityType string, entityID string, detail string) {
	if actor.Username == "" {
		actor = systemActor
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// newOrderNumber builds a short human-readable order number. The uuid tail
// keeps concurrent creators from colliding without a sequence table.
func newOrderNumber() string {
	tail := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return fmt.Sprintf("RO-%s-%s", time.Now().UTC().Format("060102"), tail)
}

func newShipmentNumber() string {
	tail := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return fmt.Sprintf("SH-%s-%s", time.Now().UTC().Format("060102"), tail)
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	return s.repo.ListStores(ctx)
}
