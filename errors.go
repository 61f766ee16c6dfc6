package vmemu

import (
	"errors"
	"fmt"
)

// Sentinel errors matching the error taxonomy: ExhaustedVirtual,
// ExhaustedPhysical, NonContiguous, and InvalidArguments. Callers
// should compare against these with errors.Is; Alloc, Free, Read, and
// Write wrap them in a *Fault that also records the failing operation
// and address.
var (
	// ErrExhaustedVirtual means no contiguous run of virtual page
	// numbers was available to satisfy an Alloc.
	ErrExhaustedVirtual = errors.New("vmemu: not enough contiguous virtual memory")

	// ErrExhaustedPhysical means no physical frames were available to
	// back a page-table level or data page during Alloc.
	ErrExhaustedPhysical = errors.New("vmemu: not enough physical memory")

	// ErrNonContiguous means Free, Read, or Write was called against a
	// virtual range that is not fully allocated.
	ErrNonContiguous = errors.New("vmemu: address range is not fully allocated")

	// ErrInvalidArguments means a non-positive byte count or a nil
	// buffer was passed where one is required.
	ErrInvalidArguments = errors.New("vmemu: invalid arguments")
)

// Fault wraps an error returned by a VM operation with the operation
// name and the virtual address involved, following the Op/Addr/Err
// wrapped-error convention.
type Fault struct {
	Op   string
	Addr uint64
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("vmemu: %s at 0x%x: %v", f.Op, f.Addr, f.Err)
}

// Unwrap allows errors.Is(err, ErrExhaustedVirtual) and similar checks
// to see through the Fault wrapper.
func (f *Fault) Unwrap() error {
	return f.Err
}

func fault(op string, addr uint64, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Op: op, Addr: addr, Err: err}
}
