package engine

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const probeKey = "engine"

// HealthProbe caches the engine's reachability so frequent health checks
// do not each hit the backend.
type HealthProbe struct {
	engine Engine
	cache  *ttlcache.Cache[string, bool]
}

// NewHealthProbe creates a HealthProbe whose answers stay valid for ttl.
func NewHealthProbe(e Engine, ttl time.Duration) *HealthProbe {
	c := ttlcache.New[string, bool](
		ttlcache.WithTTL[string, bool](ttl),
		ttlcache.WithDisableTouchOnHit[string, bool](),
	)
	go c.Start()
	return &HealthProbe{engine: e, cache: c}
}

// Up reports whether the engine answered the most recent probe.
func (p *HealthProbe) Up(ctx context.Context) bool {
	if item := p.cache.Get(probeKey); item != nil {
		return item.Value()
	}
	up := p.engine.IsRunning(ctx)
	p.cache.Set(probeKey, up, ttlcache.DefaultTTL)
	return up
}

// Close stops the cache expiration loop.
func (p *HealthProbe) Close() {
	p.cache.Stop()
}
