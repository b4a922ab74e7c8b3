package types

import "time"

// InstanceStatus is the lifecycle state of an instance as reported by the
// hypervisor, or derived from an in-flight operation.
type InstanceStatus string

const (
	InstanceStopped    InstanceStatus = "stopped"
	InstanceRunning    InstanceStatus = "running"
	InstanceStarting   InstanceStatus = "starting"
	InstanceStopping   InstanceStatus = "stopping"
	InstanceRestarting InstanceStatus = "restarting"
	InstanceFreezing   InstanceStatus = "freezing"
	InstanceFrozen     InstanceStatus = "frozen"
	InstanceThawing    InstanceStatus = "thawing"
	InstancePending    InstanceStatus = "pending"
	InstanceError      InstanceStatus = "error"
	InstanceUnknown    InstanceStatus = "unknown"
)

// Instance represents a container or VM managed by the remote hypervisor.
// Records are replaced wholesale on fetch; only Status is overridden in
// place while an operation is in flight.
type Instance struct {
	Name         string                       `json:"name" yaml:"name"`
	Status       InstanceStatus               `json:"status" yaml:"status"`
	Architecture string                       `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	Config       map[string]string            `json:"config,omitempty" yaml:"config,omitempty"`
	Devices      map[string]map[string]string `json:"devices,omitempty" yaml:"devices,omitempty"`
	CreatedAt    time.Time                    `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Clone returns a deep copy. Consumers get copies, never references into
// the registry's maps.
func (i Instance) Clone() Instance {
	out := i
	if i.Config != nil {
		out.Config = make(map[string]string, len(i.Config))
		for k, v := range i.Config {
			out.Config[k] = v
		}
	}
	if i.Devices != nil {
		out.Devices = make(map[string]map[string]string, len(i.Devices))
		for name, dev := range i.Devices {
			d := make(map[string]string, len(dev))
			for k, v := range dev {
				d[k] = v
			}
			out.Devices[name] = d
		}
	}
	return out
}
