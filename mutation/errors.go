package mutation

import (
	"fmt"

	"github.com/eventflow/faasctl/function"
)

// ErrConflict occurs when another mutation of the same function is still in flight.
type ErrConflict struct {
	Name      function.Name
	Operation string
	InFlight  string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("Cannot %s function %q while %s is in progress.", e.Operation, string(e.Name), e.InFlight)
}

// ErrNotConfirmed occurs when a destructive operation was not confirmed by the user.
type ErrNotConfirmed struct {
	Name      function.Name
	Operation string
}

func (e ErrNotConfirmed) Error() string {
	return fmt.Sprintf("%s of function %q was not confirmed.", operationTitle(e.Operation), string(e.Name))
}

func operationTitle(op string) string {
	switch op {
	case opDelete:
		return "Deletion"
	case opUndeploy:
		return "Undeployment"
	}
	return op
}
