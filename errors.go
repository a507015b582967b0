package gpumem

import (
	"errors"
	"fmt"
)

// Code is the closed taxonomy of failures this package can return. See
// AllocationError.
type Code int

const (
	// CodeOutOfMemory means no fitting placement exists (sub-allocator
	// search exhausted) or the driver refused to create a new block.
	CodeOutOfMemory Code = iota
	// CodeFailedToMap means the adapter could not map a host-visible block.
	CodeFailedToMap
	// CodeNoCompatibleMemoryTypeFound means no memory type satisfies both
	// the resource's type-bits mask and any property fallback.
	CodeNoCompatibleMemoryTypeFound
	// CodeInvalidAllocationCreateDesc means the caller's AllocationCreateDesc
	// failed validation (zero size, non-power-of-two alignment, zero
	// MemoryTypeBits).
	CodeInvalidAllocationCreateDesc
	// CodeInvalidAllocatorCreateDesc means the caller's AllocatorCreateDesc
	// failed validation (missing device adapter, etc).
	CodeInvalidAllocatorCreateDesc
	// CodeInternal means an allocator invariant was violated. This always
	// indicates a bug in this package or in the adapter it was given, never
	// something the caller can recover from by retrying.
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeOutOfMemory:
		return "out of memory"
	case CodeFailedToMap:
		return "failed to map memory"
	case CodeNoCompatibleMemoryTypeFound:
		return "no compatible memory type found"
	case CodeInvalidAllocationCreateDesc:
		return "invalid allocation create desc"
	case CodeInvalidAllocatorCreateDesc:
		return "invalid allocator create desc"
	case CodeInternal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// AllocationError is the error type this package's own checks return; an
// error from Device.CreateBlock is passed through to the caller unchanged.
// Compare against the sentinel Err* values with errors.Is;
// CodeInternal errors additionally carry a message describing the violated
// invariant.
type AllocationError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AllocationError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Is reports whether target has the same Code, so sentinel errors declared
// below work with errors.Is regardless of attached messages.
func (e *AllocationError) Is(target error) bool {
	var other *AllocationError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

var (
	// ErrOutOfMemory is returned when no suitable placement or block could
	// be found.
	ErrOutOfMemory = &AllocationError{Code: CodeOutOfMemory}
	// ErrFailedToMap is returned when an adapter fails to map a host-visible
	// block.
	ErrFailedToMap = &AllocationError{Code: CodeFailedToMap}
	// ErrNoCompatibleMemoryTypeFound is returned when no memory type
	// satisfies a request's requirements.
	ErrNoCompatibleMemoryTypeFound = &AllocationError{Code: CodeNoCompatibleMemoryTypeFound}
	// ErrInvalidAllocationCreateDesc is returned when an AllocationCreateDesc
	// fails validation.
	ErrInvalidAllocationCreateDesc = &AllocationError{Code: CodeInvalidAllocationCreateDesc}
	// ErrInvalidAllocatorCreateDesc is returned when an AllocatorCreateDesc
	// fails validation.
	ErrInvalidAllocatorCreateDesc = &AllocationError{Code: CodeInvalidAllocatorCreateDesc}
)

func outOfMemory() error {
	return ErrOutOfMemory
}

func failedToMap(reason string) error {
	return &AllocationError{Code: CodeFailedToMap, Message: reason}
}

func noCompatibleMemoryType() error {
	return ErrNoCompatibleMemoryTypeFound
}

func invalidAllocationCreateDesc(reason string) error {
	return &AllocationError{Code: CodeInvalidAllocationCreateDesc, Message: reason}
}

func invalidAllocatorCreateDesc(reason string) error {
	return &AllocationError{Code: CodeInvalidAllocatorCreateDesc, Message: reason}
}

// internalf builds a CodeInternal error. Apart from Allocate on a closed
// Allocator, every call site represents an allocator invariant that should
// be unreachable.
func internalf(format string, args ...any) error {
	return &AllocationError{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}
