package types

import "strings"

// OperationStatus is the coarse state of an asynchronous remote operation.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationRunning   OperationStatus = "running"
	OperationSuccess   OperationStatus = "success"
	OperationFailure   OperationStatus = "failure"
	OperationCancelled OperationStatus = "cancelled"
)

// OperationBuckets lists every status bucket the remote operation listing
// API groups by, in the order init should drain them: settled buckets first
// so in-flight overrides applied afterwards end up on top.
var OperationBuckets = []OperationStatus{
	OperationSuccess,
	OperationFailure,
	OperationCancelled,
	OperationPending,
	OperationRunning,
}

// InFlight reports whether the operation is still progressing.
func (s OperationStatus) InFlight() bool {
	return s == OperationPending || s == OperationRunning
}

// Settled reports whether the operation reached a terminal state.
func (s OperationStatus) Settled() bool {
	return s == OperationSuccess || s == OperationFailure || s == OperationCancelled
}

// Operation represents an asynchronous remote action tracked by id.
// Resources maps resource kinds to API paths; affected instances live
// under the "instances" key.
type Operation struct {
	ID          string              `json:"id" yaml:"id"`
	Status      OperationStatus     `json:"status" yaml:"status"`
	Description string              `json:"description" yaml:"description"`
	Resources   map[string][]string `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// InstanceNames extracts the affected instance names from the resources
// mapping. Entries may be bare names or API paths like
// "/1.0/instances/foo"; only the trailing segment is the name.
// Duplicates are dropped, order preserved.
func (o Operation) InstanceNames() []string {
	entries := o.Resources["instances"]
	if len(entries) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(entries))
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry
		if idx := strings.LastIndex(entry, "/"); idx >= 0 {
			name = entry[idx+1:]
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
