// Package derive maps in-flight operations to transitional instance
// statuses. The remote API never states which status an operation implies;
// it has to be inferred from the operation's free-text description.
package derive

import (
	"strings"

	"github.com/yairfalse/vahti/types"
)

// prefixTable holds every description-to-status rule in one place.
// Matching is case-insensitive on the prefix. These strings come from the
// remote API's operation descriptions and would break if the API ever
// localized or reworded them; unknown descriptions degrade to the generic
// pending/running fallback below rather than failing.
var prefixTable = []struct {
	prefix string
	status types.InstanceStatus
}{
	{"unfreezing", types.InstanceThawing},
	{"starting", types.InstanceStarting},
	{"stopping", types.InstanceStopping},
	{"restarting", types.InstanceRestarting},
	{"freezing", types.InstanceFreezing},
}

// Status returns the transitional instance status implied by op, or
// ok=false when the operation is settled and no override applies. Pure
// function, no I/O, no error paths: unrecognized input is not an error,
// just an unmapped default.
func Status(op types.Operation) (types.InstanceStatus, bool) {
	if !op.Status.InFlight() {
		return "", false
	}

	desc := strings.ToLower(op.Description)
	for _, rule := range prefixTable {
		if strings.HasPrefix(desc, rule.prefix) {
			return rule.status, true
		}
	}

	// Unrecognized description: fall back to the operation's own
	// coarse state.
	if op.Status == types.OperationRunning {
		return types.InstanceRunning, true
	}
	return types.InstancePending, true
}
