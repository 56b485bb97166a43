package types

// File-System Constants (pages 683-744)

// JObjType is the record type stored in the high nibble of a
// file-system B-tree key's object identifier field.
// Reference: page 687
type JObjType uint8

const (
	// JObjTypeAny matches any record type in lookups.
	JObjTypeAny JObjType = 0

	// JObjTypeSnapMetadata is a snapshot metadata record.
	JObjTypeSnapMetadata JObjType = 1

	// JObjTypeExtent is a physical extent record.
	JObjTypeExtent JObjType = 2

	// JObjTypeInode is an inode record.
	JObjTypeInode JObjType = 3

	// JObjTypeXattr is an extended attribute record.
	JObjTypeXattr JObjType = 4

	// JObjTypeSiblingLink maps an inode to a hard link that targets it.
	JObjTypeSiblingLink JObjType = 5

	// JObjTypeDStreamID is a data stream record.
	JObjTypeDStreamID JObjType = 6

	// JObjTypeCryptoState is a per-file encryption state record.
	JObjTypeCryptoState JObjType = 7

	// JObjTypeFileExtent maps a logical file range onto physical blocks.
	JObjTypeFileExtent JObjType = 8

	// JObjTypeDirRec is a directory entry record.
	JObjTypeDirRec JObjType = 9

	// JObjTypeDirStats caches statistics about a directory.
	JObjTypeDirStats JObjType = 10

	// JObjTypeSnapName maps a snapshot name to its transaction.
	JObjTypeSnapName JObjType = 11

	// JObjTypeSiblingMap maps a hard link back to its target inode.
	JObjTypeSiblingMap JObjType = 12

	// JObjTypeFileInfo holds per-block data hashes on sealed volumes.
	JObjTypeFileInfo JObjType = 13

	// JObjTypeMaxValid is the highest type that appears on disk.
	JObjTypeMaxValid JObjType = 13

	// JObjTypeMax bounds the type nibble.
	JObjTypeMax JObjType = 15

	// JObjTypeInvalid marks a corrupt or unrecognized record.
	JObjTypeInvalid JObjType = 15
)

// Inode Numbers (page 713)
// Inodes whose number is always the same.

// InvalidInoNum is an invalid inode number.
// Reference: page 718
const InvalidInoNum uint64 = 0

// RootDirParent is the sentinel parent of the root directory; no inode
// with this number exists on disk.
// Reference: page 719
const RootDirParent uint64 = 1

// RootDirInoNum is the root directory of the volume.
// Reference: page 720
const RootDirInoNum uint64 = 2

// PrivDirInoNum is the "private-dir" directory every volume carries.
// Reference: page 721
const PrivDirInoNum uint64 = 3

// SnapDirInoNum is the directory holding snapshot inodes, stored in the
// snapshot metadata tree.
// Reference: page 722
const SnapDirInoNum uint64 = 6

// PurgeableDirInoNum is reserved for references to purgeable files; no
// actual directory carries it.
// Reference: page 723
const PurgeableDirInoNum uint64 = 7

// MinUserInoNum is the smallest inode number available for user content;
// everything below is reserved.
// Reference: page 724
const MinUserInoNum uint64 = 16

// UnifiedIDSpaceMark marks a unified ID space.
// Reference: page 725
const UnifiedIDSpaceMark uint64 = 0x0800000000000000
