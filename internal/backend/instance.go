package backend

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Status represents the health status of an instance.
type Status int32

const (
	// StatusUnknown indicates the instance has not been probed yet.
	StatusUnknown Status = iota
	// StatusHealthy indicates the instance is healthy.
	StatusHealthy
	// StatusUnhealthy indicates the instance is unhealthy.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Instance represents a single backend instance of a service.
type Instance struct {
	Address string
	Port    int
	Weight  int

	status      atomic.Int32
	connections atomic.Int64
	lastProbed  atomic.Int64
}

// NewInstance creates a new instance.
func NewInstance(address string, port, weight int) *Instance {
	if weight < 1 {
		weight = 1
	}
	inst := &Instance{
		Address: address,
		Port:    port,
		Weight:  weight,
	}
	inst.status.Store(int32(StatusUnknown))
	return inst
}

// Name returns the host:port identity of the instance.
func (i *Instance) Name() string {
	return net.JoinHostPort(i.Address, strconv.Itoa(i.Port))
}

// URL returns the instance base URL.
func (i *Instance) URL() string {
	return fmt.Sprintf("http://%s:%d", i.Address, i.Port)
}

// Status returns the instance status.
func (i *Instance) Status() Status {
	return Status(i.status.Load())
}

// SetStatus sets the instance status. Only the health checker writes it.
func (i *Instance) SetStatus(status Status) {
	i.status.Store(int32(status))
}

// Selectable reports whether the balancer may pick this instance.
// Unknown counts as selectable so a freshly started gateway can serve
// traffic before the first probe round completes.
func (i *Instance) Selectable() bool {
	s := i.Status()
	return s == StatusHealthy || s == StatusUnknown
}

// Connections returns the in-flight request count.
func (i *Instance) Connections() int64 {
	return i.connections.Load()
}

// IncrementConnections increments the in-flight request count.
func (i *Instance) IncrementConnections() {
	i.connections.Add(1)
}

// DecrementConnections decrements the in-flight request count.
func (i *Instance) DecrementConnections() {
	i.connections.Add(-1)
}

// MarkProbed records the time of the latest health probe.
func (i *Instance) MarkProbed() {
	i.lastProbed.Store(time.Now().UnixNano())
}

// LastProbed returns the time of the latest health probe, zero when the
// instance has never been probed.
func (i *Instance) LastProbed() time.Time {
	n := i.lastProbed.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
