package types

// Objects (pages 10-21). Physical objects are addressed by their block
// address; ephemeral and virtual objects by a number resolved through the
// checkpoint or an object map.

// OidT is an object identifier. For a physical object it is the logical
// block address where the object is stored.
// Reference: page 12
type OidT uint64

// XidT is a transaction identifier, a monotonically increasing number.
// Zero is not a valid transaction identifier.
// Reference: page 12
type XidT uint64

// ObjPhysT is the header at the beginning of every object.
// Reference: page 10
type ObjPhysT struct {
	OChecksum [MaxCksumSize]byte // Fletcher 64 checksum of the object

	OOid OidT
	OXid XidT // most recent transaction that modified the object

	// OType packs the type in the low 16 bits and Obj* flags in the high
	// 16 bits. (page 11)
	OType uint32

	// OSubtype gives the type of data stored in a structure such as a
	// B-tree. (page 11)
	OSubtype uint32
}

// Object identifier constants (pages 12-13).
const (
	XidInvalid XidT = 0
	OidInvalid OidT = 0

	// OidNxSuperblock is the ephemeral identifier of the container
	// superblock.
	OidNxSuperblock OidT = 1

	// OidReservedCount is the number of identifiers reserved for objects
	// with a fixed identifier.
	OidReservedCount uint64 = 1024
)

// Object type masks (pages 13-14).
const (
	ObjectTypeMask             uint32 = 0x0000ffff // type portion
	ObjectTypeFlagsMask        uint32 = 0xffff0000 // flags portion
	ObjStorageTypeMask         uint32 = 0xc0000000 // storage portion of the flags
	ObjectTypeFlagsDefinedMask uint32 = 0xf8000000 // bits with defined flags
)

// MaxCksumSize is the number of bytes in an object checksum.
// Reference: page 11
const MaxCksumSize = 8

// Object types (pages 14-19).
const (
	ObjectTypeInvalid      uint32 = 0x00000000
	ObjectTypeNxSuperblock uint32 = 0x00000001 // container superblock (nx_superblock_t)
	ObjectTypeBtree        uint32 = 0x00000002 // B-tree root node (btree_node_phys_t)
	ObjectTypeBtreeNode    uint32 = 0x00000003 // B-tree non-root node (btree_node_phys_t)

	ObjectTypeSpaceman          uint32 = 0x00000005 // space manager (spaceman_phys_t)
	ObjectTypeSpacemanCab       uint32 = 0x00000006 // chunk-info address block
	ObjectTypeSpacemanCib       uint32 = 0x00000007 // chunk-info block
	ObjectTypeSpacemanBitmap    uint32 = 0x00000008 // free-space bitmap
	ObjectTypeSpacemanFreeQueue uint32 = 0x00000009 // free-space queue

	ObjectTypeExtentListTree uint32 = 0x0000000a
	ObjectTypeOmap           uint32 = 0x0000000b
	ObjectTypeCheckpointMap  uint32 = 0x0000000c
	ObjectTypeFs             uint32 = 0x0000000d // volume (apfs_superblock_t)
	ObjectTypeFstree         uint32 = 0x0000000e // tree of file-system records
	ObjectTypeBlockreftree   uint32 = 0x0000000f // tree of extent references
	ObjectTypeSnapmetatree   uint32 = 0x00000010 // tree of volume snapshot metadata

	ObjectTypeNxReaper     uint32 = 0x00000011 // reaper (nx_reaper_phys_t)
	ObjectTypeNxReapList   uint32 = 0x00000012 // reaper list (nx_reap_list_phys_t)
	ObjectTypeOmapSnapshot uint32 = 0x00000013 // tree of object-map snapshot information
	ObjectTypeEfiJumpstart uint32 = 0x00000014 // EFI boot information (nx_efi_jumpstart_t)

	ObjectTypeFusionMiddleTree uint32 = 0x00000015 // Fusion block-tracking tree
	ObjectTypeNxFusionWbc      uint32 = 0x00000016 // Fusion write-back cache state
	ObjectTypeNxFusionWbcList  uint32 = 0x00000017 // Fusion write-back cache list

	ObjectTypeErState         uint32 = 0x00000018 // encryption-rolling state
	ObjectTypeGbitmap         uint32 = 0x00000019 // general-purpose bitmap
	ObjectTypeGbitmapTree     uint32 = 0x0000001a // B-tree of general-purpose bitmaps
	ObjectTypeGbitmapBlock    uint32 = 0x0000001b // block holding a general-purpose bitmap
	ObjectTypeErRecoveryBlock uint32 = 0x0000001c // encryption-rolling crash recovery information
	ObjectTypeSnapMetaExt     uint32 = 0x0000001d // additional snapshot metadata
	ObjectTypeIntegrityMeta   uint32 = 0x0000001e // integrity metadata object
	ObjectTypeFextTree        uint32 = 0x0000001f // B-tree of file extents
	ObjectTypeReserved20      uint32 = 0x00000020

	ObjectTypeTest uint32 = 0x000000ff // reserved for testing

	ObjectTypeContainerKeybag uint32 = 'k' | 'e'<<8 | 'y'<<16 | 's'<<24 // 'keys'
	ObjectTypeVolumeKeybag    uint32 = 'r' | 'e'<<8 | 'c'<<16 | 's'<<24 // 'recs'
	ObjectTypeMediaKeybag     uint32 = 'm' | 'k'<<8 | 'e'<<16 | 'y'<<24 // 'mkey'
)

// Object type flags (pages 20-21).
const (
	ObjVirtual   uint32 = 0x00000000
	ObjEphemeral uint32 = 0x80000000
	ObjPhysical  uint32 = 0x40000000

	// ObjNoheader marks an object stored without an obj_phys_t header.
	ObjNoheader uint32 = 0x20000000

	ObjEncrypted uint32 = 0x10000000

	// ObjNonpersistent marks an ephemeral object that isn't persisted
	// across unmounting.
	ObjNonpersistent uint32 = 0x08000000
)
