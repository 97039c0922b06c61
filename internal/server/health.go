package server

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/playperu/adventure/internal/handler/health"
)

// HealthStatus is one dependency's entry in the GET /healthz response.
type HealthStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
}

// HealthResponse maps dependency names ("sqlite", "redis") to their status.
type HealthResponse map[string]HealthStatus

// healthChecks returns the checkers for the configured backends. Redis is
// checked only when a client is configured.
func healthChecks(db *sql.DB, rdb *redis.Client) map[string]health.Checker {
	checks := map[string]health.Checker{
		"sqlite": health.CheckFunc(db.PingContext),
	}
	if rdb != nil {
		checks["redis"] = health.CheckFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return checks
}
