package livepatch

import (
	"errors"
	"fmt"
)

// ErrInvalidTarget is returned when the address fails validation. Nothing has
// been modified when it is returned, so the caller is free to skip the patch.
var ErrInvalidTarget = errors.New("invalid patch target")

// TransactionFault is the panic value raised when a transaction fails after
// the target's protection has been opened. There is no way to undo a
// half-applied patch, so it is not returned as an error.
type TransactionFault struct {
	// Addr is the start of the patched range.
	Addr uintptr

	// State is the last state the transaction reached.
	State State

	Err error
}

func (f *TransactionFault) Error() string {
	return fmt.Sprintf("patch transaction at %#x faulted in state %v: %v", f.Addr, f.State, f.Err)
}

func (f *TransactionFault) Unwrap() error {
	return f.Err
}

func invalidTarget(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTarget, fmt.Sprintf(format, args...))
}

// asError converts a recovered panic value into an error.
func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
