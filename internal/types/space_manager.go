package types

// Space Manager (pages 159-163)
// The space manager tracks block allocation for the container; there is
// exactly one per container.

// ChunkInfoT describes one chunk of storage and where its allocation
// bitmap lives. A bitmap address of zero means the chunk is entirely
// free.
// Reference: page 159
type ChunkInfoT struct {
	CiXid        uint64
	CiAddr       uint64
	CiBlockCount uint32
	CiFreeCount  uint32
	CiBitmapAddr Paddr
}

// ChunkInfoBlockT is a block holding an array of chunk-info entries.
// Reference: page 159
type ChunkInfoBlockT struct {
	CibO              ObjPhysT
	CibIndex          uint32
	CibChunkInfoCount uint32
	CibChunkInfo      []ChunkInfoT
}

// CibAddrBlockT is a block holding an array of chunk-info block
// addresses, used when one level of chunk-info blocks is not enough.
// Reference: page 159
type CibAddrBlockT struct {
	CabO        ObjPhysT
	CabIndex    uint32
	CabCibCount uint32
	CabCibAddr  []Paddr
}

// SpacemanFreeQueueEntryT is an entry in a space manager free queue.
// Reference: page 159
type SpacemanFreeQueueEntryT struct {
	SfqeKey   SpacemanFreeQueueKeyT
	SfqeCount SpacemanFreeQueueValT
}

// SpacemanFreeQueueValT is a count of free blocks.
// Reference: page 160
type SpacemanFreeQueueValT uint64

// SpacemanFreeQueueKeyT keys a free-queue entry by transaction and block
// address.
// Reference: page 160
type SpacemanFreeQueueKeyT struct {
	SfqkXid   XidT
	SfqkPaddr Paddr
}

// SpacemanFreeQueueT is one of the space manager's deferred-free queues.
// Reference: page 160
type SpacemanFreeQueueT struct {
	SfqCount         uint64
	SfqTreeOid       OidT
	SfqOldestXid     XidT
	SfqTreeNodeLimit uint16
	SfqPad16         uint16
	SfqPad32         uint32
	SfqReserved      uint64
}

// SpacemanDeviceT is the per-device half of the space manager: block and
// chunk totals plus the location of the chunk-info structures.
// Reference: page 160
type SpacemanDeviceT struct {
	SmBlockCount uint64
	SmChunkCount uint64
	SmCibCount   uint32
	SmCabCount   uint32
	SmFreeCount  uint64
	// SmAddrOffset locates this device's address array inside the
	// space manager block.
	SmAddrOffset uint32
	SmReserved   uint32
	SmReserved2  uint64
	SmCabOid     OidT
}

// SpacemanAllocationZoneBoundariesT is the block range of an allocation
// zone.
// Reference: page 161
type SpacemanAllocationZoneBoundariesT struct {
	SazZoneStart uint64
	SazZoneEnd   uint64
}

// SmAllocZoneInvalidEndBoundary marks a zone with no end boundary.
// Reference: page 161
const SmAllocZoneInvalidEndBoundary uint64 = 0

// SmAllocZoneNumPreviousBoundaries is how many previous boundaries a
// zone keeps.
// Reference: page 161
const SmAllocZoneNumPreviousBoundaries = 7

// SpacemanAllocationZoneInfoPhysT is the current and historical
// boundaries of one allocation zone.
// Reference: page 161
type SpacemanAllocationZoneInfoPhysT struct {
	SazCurrentBoundaries     SpacemanAllocationZoneBoundariesT
	SazPreviousBoundaries    [SmAllocZoneNumPreviousBoundaries]SpacemanAllocationZoneBoundariesT
	SazZoneId                uint16
	SazPreviousBoundaryIndex uint16
	SazReserved              uint32
}

// SmDataZoneAllocZoneCount is the number of allocation zones per device
// in a data zone.
// Reference: page 161
const SmDataZoneAllocZoneCount = 8

// SpacemanDataZoneInfoPhysT is the allocation zones of every device.
// Reference: page 161
type SpacemanDataZoneInfoPhysT struct {
	SdzAllocationZones [SdCount][SmDataZoneAllocZoneCount]SpacemanAllocationZoneInfoPhysT
}

// SpacemanPhysT is the space manager object.
// Reference: page 161
type SpacemanPhysT struct {
	SmO              ObjPhysT
	SmBlockSize      uint32
	SmBlocksPerChunk uint32
	SmChunksPerCib   uint32
	SmCibsPerCab     uint32
	SmDev            [SdCount]SpacemanDeviceT
	SmFlags          uint32
	// Internal-pool bitmap geometry.
	SmIpBmTxMultiplier uint32
	SmIpBlockCount     uint64
	SmIpBmSizeInBlocks uint32
	SmIpBmBlockCount   uint32
	SmIpBmBase         Paddr
	SmIpBase           Paddr
	// Blocks reserved for the file system and how many are allocated.
	SmFsReserveBlockCount uint64
	SmFsReserveAllocCount uint64
	SmFq                  [SfqCount]SpacemanFreeQueueT
	// Internal-pool bitmap free list and offsets.
	SmIpBmFreeHead       uint16
	SmIpBmFreeTail       uint16
	SmIpBmXidOffset      uint32
	SmIpBitmapOffset     uint32
	SmIpBmFreeNextOffset uint32
	SmVersion            uint32
	SmStructSize         uint32
	SmDatazone           SpacemanDataZoneInfoPhysT
}

// SfqT selects one of the space manager's free queues.
// Reference: page 162
type SfqT int

const (
	// SfqIp is the internal-pool free queue.
	SfqIp SfqT = 0

	// SfqMain is the main device free queue.
	SfqMain SfqT = 1

	// SfqTier2 is the tier2 device free queue.
	SfqTier2 SfqT = 2

	// SfqCount is the number of free queues.
	SfqCount SfqT = 3
)

// SmdevT selects a device managed by the space manager.
// Reference: page 162
type SmdevT int

const (
	// SdMain is the main device.
	SdMain SmdevT = 0

	// SdTier2 is the tier2 device of a fusion container.
	SdTier2 SmdevT = 1

	// SdCount is the number of devices.
	SdCount SmdevT = 2
)

// CiCountMask extracts the count field of a chunk-info block.
// Reference: page 162
const CiCountMask uint32 = 0x000fffff

// CiCountReservedMask covers the reserved bits of the count field.
// Reference: page 163
const CiCountReservedMask uint32 = 0xfff00000

// Internal-Pool Bitmap constants (page 163)

// SpacemanIpBmTxMultiplier is the transaction multiplier for the
// internal-pool bitmap.
const SpacemanIpBmTxMultiplier uint32 = 16

// SpacemanIpBmIndexInvalid is an invalid internal-pool bitmap index.
const SpacemanIpBmIndexInvalid uint16 = 0xffff

// SpacemanIpBmBlockCountMax bounds the internal-pool bitmap size.
const SpacemanIpBmBlockCountMax uint32 = 0xfffe

// SmFlagVersioned marks a versioned space manager.
// Reference: page 162
const SmFlagVersioned uint32 = 0x00000001
