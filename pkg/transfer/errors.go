package transfer

import (
	"fmt"

	"github.com/boxel-io/boxel-flash/pkg/errors"
)

// Failure kinds. Every transfer failure is terminal; nothing is retried.
var (
	ErrSourceRead         = errors.New("source read error")
	ErrTargetWrite        = errors.New("target write error")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
)

// Error describes a failed transfer. It matches its Kind and its cause with errors.Is.
type Error struct {
	Kind   error
	Offset int64
	Device string
	Err    error
}

func (e *Error) Error() string {
	where := fmt.Sprintf("at byte %d", e.Offset)
	if e.Device != "" {
		where = fmt.Sprintf("on %s %s", e.Device, where)
	}
	if e.Err == nil {
		return fmt.Sprintf("%v %s", e.Kind, where)
	}
	return fmt.Sprintf("%v %s: %v", e.Kind, where, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
