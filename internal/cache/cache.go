package cache

import (
	"context"
	"time"

	"rougecommerce/backend/internal/domain"
)

// TokenCache stores the courier API access token so each process restart or
// sync run does not re-authenticate against the courier.
type TokenCache interface {
	GetToken(ctx context.Context, key string) (string, bool, error)
	SetToken(ctx context.Context, key string, token string, ttl time.Duration) error
}

// AvailabilityCache keeps short-lived allocation matrices. Entries are
// advisory: assignment always revalidates against live stock.
type AvailabilityCache interface {
	Get(ctx context.Context, key string) (*domain.StoreAvailabilityResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.StoreAvailabilityResponse, ttl time.Duration) error
}

type NoopTokenCache struct{}

func (NoopTokenCache) GetToken(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopTokenCache) SetToken(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}

type NoopAvailabilityCache struct{}

func (NoopAvailabilityCache) Get(_ context.Context, _ string) (*domain.StoreAvailabilityResponse, bool, error) {
	return nil, false, nil
}

func (NoopAvailabilityCache) Set(_ context.Context, _ string, _ *domain.StoreAvailabilityResponse, _ time.Duration) error {
	return nil
}
