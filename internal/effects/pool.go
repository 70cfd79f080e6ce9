package effects

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// defaultComplexityClass is the pool used by nodes that don't set one.
const defaultComplexityClass = ComplexitySimple

// pool bounds the concurrency and the rate of task submission for one
// complexity class (§5): a buffered semaphore caps how many tasks from this
// class run at once, and a rate.Limiter caps how fast new ones may start,
// so a burst of cheap leaf effects cannot starve a burst of expensive
// provider-backed ones sharing the same process.
type pool struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

func newPool(concurrency int, rps float64, burst int) *pool {
	if concurrency <= 0 {
		concurrency = 8
	}
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = concurrency
	}
	return &pool{
		sem:     make(chan struct{}, concurrency),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// run blocks until the limiter and the concurrency semaphore both admit the
// task, then runs fn. Returns ctx.Err() if ctx is cancelled while waiting.
func (p *pool) run(ctx context.Context, fn func()) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	fn()
	return nil
}

// poolRegistry holds one pool per complexity class, created lazily with
// class-appropriate defaults.
type poolRegistry struct {
	mu    sync.Mutex
	pools map[ComplexityClass]*pool
}

func newPoolRegistry() *poolRegistry {
	return &poolRegistry{pools: make(map[ComplexityClass]*pool)}
}

// classDefaults gives expensive provider-backed classes a narrower,
// slower pool than cheap local leaves, keyed on the four-value enum §4.5
// pins (simple, medium, complex, ai_intensive) rather than the provider
// names themselves — two providers in the same class share sizing.
func classDefaults(class ComplexityClass) (concurrency int, rps float64, burst int) {
	switch class {
	case ComplexityAIIntensive:
		return 4, 5, 4
	case ComplexityComplex:
		return 6, 10, 6
	case ComplexityMedium:
		return 8, 20, 8
	default: // ComplexitySimple, and anything unset
		return 16, 100, 16
	}
}

func (r *poolRegistry) get(class ComplexityClass) *pool {
	if class == "" {
		class = defaultComplexityClass
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[class]
	if !ok {
		concurrency, rps, burst := classDefaults(class)
		p = newPool(concurrency, rps, burst)
		r.pools[class] = p
	}
	return p
}

// depth reports how many slots of class are currently occupied, for the
// effects_pool_queue_depth gauge.
func (r *poolRegistry) depth(class ComplexityClass) int {
	if class == "" {
		class = defaultComplexityClass
	}
	r.mu.Lock()
	p, ok := r.pools[class]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return len(p.sem)
}
