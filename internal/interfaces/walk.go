package interfaces

// WalkAction is the return protocol shared by every walk callback in the
// engine: partition, inode, directory, block, and attribute enumerators.
type WalkAction int

const (
	// WalkContinue proceeds to the next entry.
	WalkContinue WalkAction = iota

	// WalkStop terminates the walk; the walker returns success.
	WalkStop

	// WalkError terminates the walk; the walker reports failure.
	WalkError
)
