// Package remote defines the hypervisor management API surface vahti
// consumes. The actual HTTP/event-stream client is an external
// collaborator; everything here is interface and error contract.
package remote

import (
	"context"

	"github.com/yairfalse/vahti/types"
)

// Client is the remote hypervisor API.
//
// All calls may fail with a generic I/O error. GetInstance and
// GetOperation must return a *NotFoundError (detectable via IsNotFound)
// when the target does not exist, so callers can tell a removal apart
// from a transient failure.
type Client interface {
	// ListInstanceNames returns the names of all instances, in the
	// remote's listing order.
	ListInstanceNames(ctx context.Context) ([]string, error)

	// GetInstance fetches the full record for one instance.
	GetInstance(ctx context.Context, name string) (types.Instance, error)

	// ListOperations returns operation ids grouped by status bucket.
	ListOperations(ctx context.Context) (map[types.OperationStatus][]string, error)

	// GetOperation fetches a single operation by id.
	GetOperation(ctx context.Context, id string) (types.Operation, error)

	// SubscribeEvents opens the live operation-event feed. The returned
	// cancel func stops delivery and releases the subscription; after it
	// returns the channel is closed. Implementations filter to operation
	// events only.
	SubscribeEvents(ctx context.Context) (<-chan types.OperationEvent, func(), error)
}
