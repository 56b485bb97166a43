package types

// Extended fields (pages 108-114). Inodes and directory records carry a
// dynamically sized blob of extended fields after their fixed portion.

// XfBlobT is a collection of extended fields.
// Reference: page 108
type XfBlobT struct {
	XfNumExts  uint16 // number of extended fields
	XfUsedData uint16 // bytes used for metadata plus values

	// XfData holds the XFieldT headers followed by the field values,
	// each value padded to an 8-byte boundary. (page 109)
	XfData []byte
}

// XFieldT is the metadata header of a single extended field.
// Reference: page 109
type XFieldT struct {
	XType  uint8  // field type, see the constants below
	XFlags uint8  // Xf* flags
	XSize  uint16 // size in bytes of the field's value
}

// Extended-field types (pages 109-112).
const (
	// DrecExtTypeSiblingId is the sibling identifier for a directory
	// record (uint64_t), used only for hard links. The matching
	// sibling-link record carries the same identifier.
	// Reference: page 110
	DrecExtTypeSiblingId uint8 = 1

	// InoExtTypeSnapXid is the transaction identifier for a snapshot (xid_t).
	// Reference: page 110
	InoExtTypeSnapXid uint8 = 1

	// InoExtTypeDeltaTreeOid is the virtual object identifier of the
	// file-system tree holding a snapshot's extent delta list (oid_t).
	// Reference: page 110
	InoExtTypeDeltaTreeOid uint8 = 2

	// InoExtTypeDocumentId is the file's document identifier (uint32_t).
	// The identifier follows the full path across operations like atomic
	// save, not the inode currently at that path.
	// Reference: page 110
	InoExtTypeDocumentId uint8 = 3

	// InoExtTypeName is the file's name as a null-terminated UTF-8
	// string. Used only for hard links; the inode itself stores the name
	// of the primary link.
	// Reference: page 111
	InoExtTypeName uint8 = 4

	// InoExtTypePrevFsize is the file's previous size (uint64_t), used
	// for crash recovery. When set, the file is truncated back to it.
	// Reference: page 111
	InoExtTypePrevFsize uint8 = 5

	// InoExtTypeReserved6 is reserved; preserve but don't create.
	// Reference: page 111
	InoExtTypeReserved6 uint8 = 6

	// InoExtTypeFinderInfo is opaque data used by Finder (32 bytes).
	// Reference: page 111
	InoExtTypeFinderInfo uint8 = 7

	// InoExtTypeDstream is a data stream (j_dstream_t).
	// Reference: page 111
	InoExtTypeDstream uint8 = 8

	// InoExtTypeReserved9 is reserved; preserve but don't create.
	// Reference: page 111
	InoExtTypeReserved9 uint8 = 9

	// InoExtTypeDirStatsKey is statistics about a directory
	// (j_dir_stats_val_t).
	// Reference: page 111
	InoExtTypeDirStatsKey uint8 = 10

	// InoExtTypeFsUuid is the UUID of a file system automatically mounted
	// in this directory, matching apfs_vol_uuid in apfs_superblock_t.
	// Reference: page 112
	InoExtTypeFsUuid uint8 = 11

	// InoExtTypeReserved12 is reserved; don't create.
	// Reference: page 112
	InoExtTypeReserved12 uint8 = 12

	// InoExtTypeSparseBytes is the number of sparse bytes in the data
	// stream (uint64_t).
	// Reference: page 112
	InoExtTypeSparseBytes uint8 = 13

	// InoExtTypeRdev is the device identifier for a block- or
	// character-special device (uint32_t), as in st_rdev.
	// Reference: page 112
	InoExtTypeRdev uint8 = 14

	// InoExtTypePurgeableFlags is reserved information about a purgeable
	// file; omitted when a file or directory is duplicated.
	// Reference: page 112
	InoExtTypePurgeableFlags uint8 = 15

	// InoExtTypeOrigSyncRootId is the inode number of the sync-root
	// hierarchy the file originally belonged to. The referenced inode has
	// InodeIsSyncRoot set.
	// Reference: page 112
	InoExtTypeOrigSyncRootId uint8 = 16
)

// Extended-field flags (pages 113-114).
const (
	// XfDataDependent marks a field whose value depends on the file's
	// data; it must be updated or removed when the data changes.
	// Reference: page 113
	XfDataDependent uint16 = 0x0001

	// XfDoNotCopy marks a field omitted when the file is copied.
	// Reference: page 113
	XfDoNotCopy uint16 = 0x0002

	// XfReserved4 is reserved; preserve but don't set.
	// Reference: page 113
	XfReserved4 uint16 = 0x0004

	// XfChildrenInherit marks a field copied to new entries created in
	// this directory.
	// Reference: page 113
	XfChildrenInherit uint16 = 0x0008

	// XfUserField marks a field added by a user-space program.
	// Reference: page 113
	XfUserField uint16 = 0x0010

	// XfSystemField marks a field added by the kernel or file-system
	// implementation; user space can't remove or modify it.
	// Reference: page 113
	XfSystemField uint16 = 0x0020

	// XfReserved40 is reserved; preserve but don't set.
	// Reference: page 114
	XfReserved40 uint16 = 0x0040

	// XfReserved80 is reserved; preserve but don't set.
	// Reference: page 114
	XfReserved80 uint16 = 0x0080
)
