package group

import (
	"fmt"
)

// PanicError wraps a panic recovered from a group function.
type PanicError struct {
	Value interface{}
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", p.Value, p.Stack)
}

// ErrNilFunc is returned by Go and Fork for a nil function.
var ErrNilFunc = fmt.Errorf("group: function is nil")
