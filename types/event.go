package types

import "time"

// OperationEvent is one notification from the live operation feed. The
// same operation id appears in multiple events as its status progresses;
// each event carries a full snapshot of the operation at that moment.
type OperationEvent struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Operation Operation `json:"operation" yaml:"operation"`
}
