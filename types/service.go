package types

import "time"

// ServiceStatus describes the registry's view of a remote service.
type ServiceStatus string

const (
	ServiceOnline   ServiceStatus = "online"
	ServiceOffline  ServiceStatus = "offline"
	ServiceDegraded ServiceStatus = "degraded"
)

// ServiceDescriptor describes one registered remote service. Descriptors are
// never deleted; an unreachable service is marked offline instead.
type ServiceDescriptor struct {
	ID            string        `json:"id"`
	Endpoint      string        `json:"endpoint"`
	Capabilities  []string      `json:"capabilities,omitempty"`
	Status        ServiceStatus `json:"status"`
	LastSeenAt    time.Time     `json:"last_seen_at"`
	SchemaVersion string        `json:"schema_version,omitempty"`
}

// HasCapability reports whether the descriptor declares the named capability.
func (d *ServiceDescriptor) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// HealthTransition records one status change observed by the registry.
type HealthTransition struct {
	ServiceID string        `json:"service_id"`
	From      ServiceStatus `json:"from"`
	To        ServiceStatus `json:"to"`
	Reason    string        `json:"reason,omitempty"`
	At        time.Time     `json:"at"`
}
