package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dashboard bundles the precomputed aggregates one tenant's dashboard needs.
type Dashboard struct {
	ActionStats []ActionCount   `json:"action_stats"`
	Timeline    []TimelinePoint `json:"timeline"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// DashboardCache stores warmed dashboard aggregates in Redis so chart
// requests can skip the aggregation queries.
type DashboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDashboardCache constructs a cache with the given entry lifetime.
func NewDashboardCache(client *redis.Client, ttl time.Duration) *DashboardCache {
	return &DashboardCache{client: client, ttl: ttl}
}

// Get returns the cached dashboard for (company, days), or ok=false on miss.
func (c *DashboardCache) Get(ctx context.Context, companyID int64, days int) (Dashboard, bool, error) {
	if c == nil || c.client == nil {
		return Dashboard{}, false, nil
	}
	payload, err := c.client.Get(ctx, c.key(companyID, days)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Dashboard{}, false, nil
		}
		return Dashboard{}, false, fmt.Errorf("audit: cache get: %w", err)
	}
	var d Dashboard
	if err := json.Unmarshal(payload, &d); err != nil {
		return Dashboard{}, false, fmt.Errorf("audit: cache decode: %w", err)
	}
	return d, true, nil
}

// Put stores the dashboard for (company, days).
func (c *DashboardCache) Put(ctx context.Context, companyID int64, days int, d Dashboard) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("audit: cache encode: %w", err)
	}
	return c.client.Set(ctx, c.key(companyID, days), payload, c.ttl).Err()
}

func (c *DashboardCache) key(companyID int64, days int) string {
	return fmt.Sprintf("tambak:dash:%d:%d", companyID, days)
}
