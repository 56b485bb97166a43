package types

// Container (pages 26-43). Top-level structures shared by all of a
// container's volumes.

// NxSuperblockT is a container superblock.
// Reference: page 27
type NxSuperblockT struct {
	NxO                          ObjPhysT
	NxMagic                      uint32 // always NxMagic
	NxBlockSize                  uint32 // logical block size
	NxBlockCount                 uint64 // total logical blocks in the container
	NxFeatures                   uint64 // optional features in use
	NxReadonlyCompatibleFeatures uint64
	NxIncompatibleFeatures       uint64
	NxUuid                       UUID
	NxNextOid                    OidT // next identifier for a new ephemeral or virtual object
	NxNextXid                    XidT // next transaction identifier

	// Checkpoint descriptor and data areas. The highest bit of each block
	// count is a flag indicating the matching base field holds the
	// physical object identifier of a tree of address information rather
	// than a base address; mask it off when reading the count. (pages 30-31)
	NxXpDescBlocks uint32
	NxXpDataBlocks uint32
	NxXpDescBase   Paddr
	NxXpDataBase   Paddr
	NxXpDescNext   uint32 // next index to use in the descriptor area
	NxXpDataNext   uint32 // next index to use in the data area
	NxXpDescIndex  uint32 // first valid item in the descriptor area
	NxXpDescLen    uint32 // descriptor blocks used by this checkpoint
	NxXpDataIndex  uint32 // first valid item in the data area
	NxXpDataLen    uint32 // data blocks used by this checkpoint

	NxSpacemanOid OidT // ephemeral identifier of the space manager
	NxOmapOid     OidT // physical identifier of the container object map
	NxReaperOid   OidT // ephemeral identifier of the reaper

	NxTestType uint32 // reserved for testing

	NxMaxFileSystems uint32
	// NxFsOid holds virtual object identifiers of the container's
	// volumes; the objects are B-trees with subtype OBJECT_TYPE_FSTREE.
	// (page 32)
	NxFsOid [NxMaxFileSystems]OidT
	// NxCounters are development and debugging counters, indexed by
	// NxCounterIdT. (page 33)
	NxCounters [NxNumCounters]uint64

	// NxBlockedOutPrange is a physical range where space will not be
	// allocated; NxEvictMappingTreeOid identifies the tree tracking
	// objects being moved out of it. (page 33)
	NxBlockedOutPrange    Prange
	NxEvictMappingTreeOid OidT

	NxFlags        uint64
	NxEfiJumpstart Paddr // physical identifier of the EFI driver data extents object
	NxFusionUuid   UUID  // Fusion set UUID, zero for non-Fusion containers
	NxKeylocker    Prange // location of the container keybag

	NxEphemeralInfo [NxEphInfoCount]uint64
	NxTestOid       OidT // reserved for testing

	// Fusion Drive state; all zero on non-Fusion drives. (pages 34-35)
	NxFusionMtOid  OidT
	NxFusionWbcOid OidT
	NxFusionWbc    Prange

	NxNewestMountedVersion uint64 // reserved
	NxMkbLocker            Prange // wrapped media key
}

// NxMagic is the value of the nx_magic field, chosen to read "NXSB" in
// hex dumps.
// Reference: page 35
const NxMagic uint32 = 'B' | 'S'<<8 | 'X'<<16 | 'N'<<24 // 'BSXN'

// Container limits and checkpoint constants (pages 35-36).
const (
	// NxMaxFileSystems is the maximum number of volumes in one container.
	NxMaxFileSystems = 100

	// NxEphInfoCount is the length of the nx_ephemeral_info array.
	NxEphInfoCount = 4

	// NxEphMinBlockCount is the default minimum size, in blocks, of
	// structures that contain ephemeral data.
	NxEphMinBlockCount = 8

	// NxMaxFileSystemEphStructs is the number of ephemeral-data
	// structures a volume can have.
	NxMaxFileSystemEphStructs = 4

	// NxTxMinCheckpointCount is the minimum number of checkpoints that
	// fit in the checkpoint data area.
	NxTxMinCheckpointCount = 4

	// NxEphInfoVersion1 is the version number for ephemeral-data
	// structures.
	NxEphInfoVersion1 = 1
)

// Container flags (pages 36-37).
const (
	NxReserved1 uint64 = 0x00000001 // reserved, preserve if set
	NxReserved2 uint64 = 0x00000002 // reserved, preserve on read, clear on modify
	NxCryptoSw  uint64 = 0x00000004 // container uses software cryptography
)

// Optional container feature flags (page 37).
const (
	// NxFeatureDefrag indicates the volumes support defragmentation.
	NxFeatureDefrag uint64 = 0x0000000000000001

	// NxFeatureLcfd indicates low-capacity Fusion Drive mode.
	NxFeatureLcfd uint64 = 0x0000000000000002

	NxSupportedFeaturesMask uint64 = NxFeatureDefrag | NxFeatureLcfd
)

// Read-only compatible container feature flags (page 38).
const NxSupportedRocompatMask uint64 = 0x0

// Backward-incompatible container feature flags (pages 38-39).
const (
	// NxIncompatVersion1 is version 1, as implemented in macOS 10.12.
	NxIncompatVersion1 uint64 = 0x0000000000000001

	// NxIncompatVersion2 is version 2, as implemented in macOS 10.13 and
	// iOS 10.3.
	NxIncompatVersion2 uint64 = 0x0000000000000002

	// NxIncompatFusion indicates support for Fusion Drives.
	NxIncompatFusion uint64 = 0x0000000000000100

	NxSupportedIncompatMask uint64 = NxIncompatVersion2 | NxIncompatFusion
)

// Block and container size limits (page 39).
const (
	NxMinimumBlockSize     = 4096
	NxDefaultBlockSize     = 4096
	NxMaximumBlockSize     = 65536
	NxMinimumContainerSize = 1048576
)

// NxCounterIdT indexes the container superblock's counter array.
// Reference: pages 39-40
type NxCounterIdT int

const (
	// NxCntrObjCksumSet counts checksums computed while writing objects.
	NxCntrObjCksumSet NxCounterIdT = 0

	// NxCntrObjCksumFail counts invalid checksums found while reading.
	NxCntrObjCksumFail NxCounterIdT = 1

	NxNumCounters = 32
)

// CheckpointMappingT maps an ephemeral object identifier to its physical
// address in the checkpoint data area.
// Reference: page 40
type CheckpointMappingT struct {
	CpmType    uint32 // object type, same meaning as obj_phys_t o_type
	CpmSubtype uint32 // object subtype
	CpmSize    uint32 // object size in bytes
	CpmPad     uint32 // zero on creation, preserved on modification
	CpmFsOid   OidT   // virtual identifier of the associated volume
	CpmOid     OidT   // ephemeral object identifier
	CpmPaddr   Paddr  // address of the object in the checkpoint data area
}

// CheckpointMapPhysT is a checkpoint-mapping block.
// Reference: page 41
type CheckpointMapPhysT struct {
	CpmO     ObjPhysT
	CpmFlags uint32 // CheckpointMap* flags
	CpmCount uint32 // number of mappings

	// CpmMap holds the mappings; variable-sized on disk.
	CpmMap []CheckpointMappingT
}

// CheckpointMapLast marks the last checkpoint-mapping block of a
// checkpoint.
// Reference: page 42
const CheckpointMapLast uint32 = 0x00000001

// EvictMappingValT is the range of physical addresses data is being moved
// into.
// Reference: page 42
type EvictMappingValT struct {
	DstPaddr Paddr  // start of the destination
	Len      uint64 // number of blocks being moved
}
