// Package types holds the on-disk data structures of the Apple File
// System, following the official Apple File System Reference (June 2020).
// Page numbers in the comments refer to that document.
package types

import "github.com/google/uuid"

// General-purpose types (page 9).

// Paddr is the physical address of an on-disk block. It is signed to
// match IOKit; negative values aren't valid addresses.
// Reference: page 9
type Paddr int64

// Validate reports whether the address is valid.
func (p Paddr) Validate() bool {
	return p >= 0
}

// Prange is a contiguous range of physical blocks.
// Reference: page 9
type Prange struct {
	PrStartPaddr Paddr  // first block in the range
	PrBlockCount uint64 // number of blocks
}

// UUID is a universally unique identifier.
// Reference: page 9
type UUID [16]byte

// String renders the identifier in the canonical 8-4-4-4-12 form.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}
