package registry

import "github.com/yairfalse/vahti/types"

// ChangeType categorizes what an operation did to the known set.
type ChangeType string

const (
	// ChangeAdded - instance entered the known set.
	ChangeAdded ChangeType = "added"

	// ChangeRemoved - instance left the known set.
	ChangeRemoved ChangeType = "removed"

	// ChangeUpdated - status or attributes changed, membership did not.
	ChangeUpdated ChangeType = "updated"
)

// Change is one registry mutation attributable to a single instance.
// Instance is a snapshot copy, zero-valued for removals.
type Change struct {
	Type     ChangeType     `json:"type"`
	Name     string         `json:"name"`
	Instance types.Instance `json:"instance,omitempty"`
}
