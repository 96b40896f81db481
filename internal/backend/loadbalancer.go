package backend

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/slowpost/gateway/internal/config"
)

// Balancer picks an instance for the next upstream call.
type Balancer interface {
	// Next returns a selectable instance, or nil when none is available.
	Next() *Instance

	// SetInstances replaces the instance set.
	SetInstances(instances []*Instance)
}

// WeightedBalancer picks instances at random, proportionally to their
// weight. This is the default algorithm.
type WeightedBalancer struct {
	instances []*Instance
	mu        sync.RWMutex
}

// NewWeightedBalancer creates a new weighted balancer.
func NewWeightedBalancer(instances []*Instance) *WeightedBalancer {
	return &WeightedBalancer{instances: instances}
}

// Next implements Balancer.
func (b *WeightedBalancer) Next() *Instance {
	b.mu.RLock()
	defer b.mu.RUnlock()

	selectable := make([]*Instance, 0, len(b.instances))
	totalWeight := 0
	for _, inst := range b.instances {
		if inst.Selectable() {
			selectable = append(selectable, inst)
			totalWeight += inst.Weight
		}
	}

	if len(selectable) == 0 || totalWeight == 0 {
		return nil
	}

	r := rand.IntN(totalWeight)
	for _, inst := range selectable {
		r -= inst.Weight
		if r < 0 {
			return inst
		}
	}

	return selectable[len(selectable)-1]
}

// SetInstances implements Balancer.
func (b *WeightedBalancer) SetInstances(instances []*Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances = instances
}

// RoundRobinBalancer cycles through selectable instances in order.
type RoundRobinBalancer struct {
	instances []*Instance
	current   atomic.Uint64
	mu        sync.RWMutex
}

// NewRoundRobinBalancer creates a new round-robin balancer.
func NewRoundRobinBalancer(instances []*Instance) *RoundRobinBalancer {
	return &RoundRobinBalancer{instances: instances}
}

// Next implements Balancer.
func (b *RoundRobinBalancer) Next() *Instance {
	b.mu.RLock()
	defer b.mu.RUnlock()

	selectable := make([]*Instance, 0, len(b.instances))
	for _, inst := range b.instances {
		if inst.Selectable() {
			selectable = append(selectable, inst)
		}
	}

	if len(selectable) == 0 {
		return nil
	}

	idx := b.current.Add(1) - 1
	return selectable[idx%uint64(len(selectable))]
}

// SetInstances implements Balancer.
func (b *RoundRobinBalancer) SetInstances(instances []*Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances = instances
}

// LeastConnBalancer picks the selectable instance with the fewest
// in-flight requests.
type LeastConnBalancer struct {
	instances []*Instance
	mu        sync.RWMutex
}

// NewLeastConnBalancer creates a new least-connections balancer.
func NewLeastConnBalancer(instances []*Instance) *LeastConnBalancer {
	return &LeastConnBalancer{instances: instances}
}

// Next implements Balancer.
func (b *LeastConnBalancer) Next() *Instance {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var selected *Instance
	minConns := int64(-1)

	for _, inst := range b.instances {
		if !inst.Selectable() {
			continue
		}

		conns := inst.Connections()
		if minConns < 0 || conns < minConns {
			minConns = conns
			selected = inst
		}
	}

	return selected
}

// SetInstances implements Balancer.
func (b *LeastConnBalancer) SetInstances(instances []*Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances = instances
}

// RandomBalancer picks a selectable instance uniformly at random.
type RandomBalancer struct {
	instances []*Instance
	mu        sync.RWMutex
}

// NewRandomBalancer creates a new random balancer.
func NewRandomBalancer(instances []*Instance) *RandomBalancer {
	return &RandomBalancer{instances: instances}
}

// Next implements Balancer.
func (b *RandomBalancer) Next() *Instance {
	b.mu.RLock()
	defer b.mu.RUnlock()

	selectable := make([]*Instance, 0, len(b.instances))
	for _, inst := range b.instances {
		if inst.Selectable() {
			selectable = append(selectable, inst)
		}
	}

	if len(selectable) == 0 {
		return nil
	}

	return selectable[rand.IntN(len(selectable))]
}

// SetInstances implements Balancer.
func (b *RandomBalancer) SetInstances(instances []*Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances = instances
}

// NewBalancer creates a balancer for the configured algorithm. Unknown
// algorithms fall back to weighted selection.
func NewBalancer(algorithm string, instances []*Instance) Balancer {
	switch algorithm {
	case config.LoadBalancerRoundRobin:
		return NewRoundRobinBalancer(instances)
	case config.LoadBalancerLeastConn:
		return NewLeastConnBalancer(instances)
	case config.LoadBalancerRandom:
		return NewRandomBalancer(instances)
	default:
		return NewWeightedBalancer(instances)
	}
}
