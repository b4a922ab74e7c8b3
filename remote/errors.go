package remote

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a named remote object definitively does not
// exist. This is the only error the reconciliation layer treats as a
// removal; everything else is transient.
type NotFoundError struct {
	Kind string // "instance" or "operation"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
