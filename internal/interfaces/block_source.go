package interfaces

// BlockSource hands out whole, checksum-validated blocks of an APFS
// container. The pool implements it; the B-tree engine and the filesystem
// layer consume it.
type BlockSource interface {
	// ReadBlock returns the 4096-byte block at the given physical block
	// number. The returned slice is shared and must not be modified.
	ReadBlock(paddr int64) ([]byte, error)

	// BlockSize returns the container block size in bytes.
	BlockSize() uint32

	// BlockCount returns the total number of blocks in the container.
	BlockCount() uint64
}
