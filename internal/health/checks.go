package health

import (
	"fmt"

	"github.com/slowpost/gateway/internal/backend"
)

// BackendServicesCheck reports degraded when some services have no
// selectable instance and unhealthy when none do. A gateway with every
// upstream down cannot usefully accept traffic.
func BackendServicesCheck(registry *backend.Registry) CheckFunc {
	return func() Check {
		services := registry.GetAll()
		if len(services) == 0 {
			return Check{Status: StatusUnhealthy, Message: "no services registered"}
		}

		down := 0
		for _, svc := range services {
			if len(svc.HealthyInstances()) == 0 {
				down++
			}
		}

		switch {
		case down == len(services):
			return Check{
				Status:  StatusUnhealthy,
				Message: "no service has a healthy instance",
			}
		case down > 0:
			return Check{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d of %d services have no healthy instance", down, len(services)),
			}
		default:
			return Check{Status: StatusHealthy}
		}
	}
}

// ServiceCheck reports the health of one named service.
func ServiceCheck(registry *backend.Registry, name string) CheckFunc {
	return func() Check {
		svc, ok := registry.Get(name)
		if !ok {
			return Check{Status: StatusUnhealthy, Message: "service not registered"}
		}
		healthy := len(svc.HealthyInstances())
		if healthy == 0 {
			return Check{Status: StatusUnhealthy, Message: "no healthy instance"}
		}
		return Check{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d healthy instance(s)", healthy),
		}
	}
}
