package interfaces

// Image is the bottom layer of the storage stack: random byte access over
// one or more backing files. Implementations must be safe for concurrent
// ReadAt calls.
type Image interface {
	// ReadAt reads len(p) bytes at the absolute byte offset off. Short
	// reads at end of image return the bytes read and an error.
	ReadAt(p []byte, off int64) (int, error)

	// Size returns the total image size in bytes.
	Size() int64

	// SectorSize returns the device sector size in bytes.
	SectorSize() uint32

	// Paths returns the backing file names.
	Paths() []string

	// Close releases the backing files.
	Close() error
}
