package connectivity

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces"
)

const statusKey = "online"

// HealthChecker is anything that can tell whether the server answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Prober reports connectivity by probing the server's health endpoint. The
// last answer is cached for ttl so bursts of operations probe once.
type Prober struct {
	checker HealthChecker
	timeout time.Duration
	ttl     time.Duration
	cache   *cache.Cache
}

func NewProber(checker HealthChecker, ttl, timeout time.Duration) *Prober {
	return &Prober{
		checker: checker,
		timeout: timeout,
		ttl:     ttl,
		cache:   cache.New(ttl, 2*ttl),
	}
}

func (p *Prober) Online(ctx context.Context) bool {
	if cached, found := p.cache.Get(statusKey); found {
		return cached.(bool)
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := p.checker.Health(probeCtx) == nil
	if ctx.Err() == nil {
		p.cache.Set(statusKey, online, p.ttl)
	}
	return online
}

// Invalidate drops the cached answer, e.g. after a transport failure.
func (p *Prober) Invalidate() {
	p.cache.Delete(statusKey)
}

var _ interfaces.Connectivity = (*Prober)(nil)
