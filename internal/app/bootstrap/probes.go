package bootstrap

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/support-copilot/internal/pipeline"
)

// healthProbes lists the upstreams whose loss sends messages to the offline
// queue. Backends that fail per call (reasoning, embedding, speech-to-text)
// have no probe.
func healthProbes(redisClient *redis.Client, pool *pgxpool.Pool) []pipeline.Probe {
	var probes []pipeline.Probe
	if redisClient != nil {
		probes = append(probes, pipeline.Probe{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	if pool != nil {
		probes = append(probes, pipeline.Probe{Name: "postgres", Check: pool.Ping})
	}
	return probes
}
