// Package obj parses the common header carried by every on-disk APFS
// object and computes the modified Fletcher-64 checksum that protects it.
// Both the pool layer and the B-tree engine validate blocks through this
// package before trusting any field.
package obj

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// HeaderLen is the size, in bytes, of the object header at the start of
// every APFS object.
const HeaderLen = 32

// ParseHeader decodes the object header from the first 32 bytes of data.
func ParseHeader(data []byte, endian binary.ByteOrder) (*types.ObjPhysT, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("data too small for object header: %d bytes", len(data))
	}

	o := &types.ObjPhysT{}
	copy(o.OChecksum[:], data[0:8])
	o.OOid = types.OidT(endian.Uint64(data[8:16]))
	o.OXid = types.XidT(endian.Uint64(data[16:24]))
	o.OType = endian.Uint32(data[24:28])
	o.OSubtype = endian.Uint32(data[28:32])

	return o, nil
}

// Checksum computes the modified Fletcher-64 checksum of an object block.
// The sum runs over the block's little-endian 32-bit words after the first
// 8 bytes, with both running sums reduced modulo 2^32-1, and the final
// low/high halves chosen so the checksum of the whole block (checksum
// field included) folds to zero.
func Checksum(data []byte) uint64 {
	const mod = uint64(0xFFFFFFFF)

	var sum1, sum2 uint64
	for i := 8; i+4 <= len(data); i += 4 {
		sum1 = (sum1 + uint64(binary.LittleEndian.Uint32(data[i:i+4]))) % mod
		sum2 = (sum2 + sum1) % mod
	}

	ckLow := mod - (sum1+sum2)%mod
	ckHigh := mod - (sum1+ckLow)%mod

	return ckHigh<<32 | ckLow
}

// ValidChecksum reports whether the stored checksum in the first 8 bytes
// of data matches the computed one. A stored value of all ones is never
// valid; it marks a block that was deliberately invalidated.
func ValidChecksum(data []byte) bool {
	if len(data) < HeaderLen {
		return false
	}

	stored := binary.LittleEndian.Uint64(data[0:8])
	if stored == ^uint64(0) {
		return false
	}

	return stored == Checksum(data)
}
