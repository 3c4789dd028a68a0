package allocation

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"rougecommerce/backend/internal/cache"
	"rougecommerce/backend/internal/domain"
)

// Engine ranks candidate stores for an order. It is a pure computation over
// the inventory snapshot handed to it; results are advisory and assignment
// revalidates against live stock.
type Engine struct {
	cache    cache.AvailabilityCache
	cacheTTL time.Duration
}

func NewEngine(cacheStore cache.AvailabilityCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopAvailabilityCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Plan builds the availability matrix for the order across the candidate
// stores and picks a recommendation: the best full-fulfillment store if one
// exists, otherwise the best partial with a caveat.
func (e *Engine) Plan(
	ctx context.Context,
	order domain.Order,
	stores []domain.Store,
	products map[string]domain.Product,
	snapshot map[string]map[string]int,
) *domain.StoreAvailabilityResponse {
	cacheKey := buildCacheKey(order)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return cached
	}

	required := make(map[string]int, len(order.Items))
	productOrder := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if required[item.ProductID] == 0 {
			productOrder = append(productOrder, item.ProductID)
		}
		required[item.ProductID] += item.Quantity
	}

	totalRequired := 0
	for _, qty := range required {
		totalRequired += qty
	}

	rows := make([]domain.StoreAvailability, 0, len(stores))
	for _, st := range stores {
		available := snapshot[st.ID]
		row := domain.StoreAvailability{
			StoreID:               st.ID,
			StoreName:             st.Name,
			CanFulfillEntireOrder: true,
			Items:                 make([]domain.ItemAvailability, 0, len(productOrder)),
		}

		fulfillable := 0
		for _, productID := range productOrder {
			req := required[productID]
			avail := available[productID]
			sufficient := avail >= req
			if !sufficient {
				row.CanFulfillEntireOrder = false
			}
			fulfillable += min(req, avail)

			name := productID
			if p, ok := products[productID]; ok {
				name = p.Name
			}
			row.Items = append(row.Items, domain.ItemAvailability{
				ProductID:   productID,
				ProductName: name,
				Required:    req,
				Available:   avail,
				Sufficient:  sufficient,
			})
		}

		if totalRequired > 0 {
			row.FulfillmentPercentage = round2(float64(fulfillable) / float64(totalRequired) * 100)
		}
		rows = append(rows, row)
	}

	// Full-fulfillment stores first, then by descending coverage. Store
	// name as the final tiebreaker keeps the ranking stable.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CanFulfillEntireOrder != rows[j].CanFulfillEntireOrder {
			return rows[i].CanFulfillEntireOrder
		}
		if rows[i].FulfillmentPercentage != rows[j].FulfillmentPercentage {
			return rows[i].FulfillmentPercentage > rows[j].FulfillmentPercentage
		}
		return rows[i].StoreName < rows[j].StoreName
	})

	resp := &domain.StoreAvailabilityResponse{
		OrderID: order.ID,
		Stores:  rows,
	}
	if len(rows) > 0 && rows[0].FulfillmentPercentage > 0 {
		best := rows[0]
		rec := &domain.Recommendation{
			StoreID:               best.StoreID,
			StoreName:             best.StoreName,
			CanFulfillEntireOrder: best.CanFulfillEntireOrder,
			FulfillmentPercentage: best.FulfillmentPercentage,
		}
		if !best.CanFulfillEntireOrder {
			rec.Caveat = fmt.Sprintf("no store can fulfill the entire order; %s covers %.2f%%", best.StoreName, best.FulfillmentPercentage)
		}
		resp.Recommended = rec
	}

	_ = e.cache.Set(ctx, cacheKey, resp, e.cacheTTL)
	return resp
}

func buildCacheKey(order domain.Order) string {
	parts := make([]string, 0, len(order.Items)+1)
	parts = append(parts, order.ID)
	for _, item := range order.Items {
		parts = append(parts, fmt.Sprintf("%s:%d", item.ProductID, item.Quantity))
	}

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "fulfillment:allocation:" + hex.EncodeToString(hash[:])
}

func round2(val float64) float64 {
	return math.Round(val*100) / 100
}
