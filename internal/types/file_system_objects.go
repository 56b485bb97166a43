package types

// File-system objects (pages 71-101). A file-system object describes a
// piece of the file system, such as a file or directory, and is stored as
// one or more records in the volume's file-system tree.

// JKeyT is the header at the beginning of every file-system key.
// Reference: page 72
type JKeyT struct {
	// ObjIdAndType packs the object identifier (ObjIdMask) with the
	// record type shifted by ObjTypeShift. (page 72)
	ObjIdAndType uint64
}

// Bit layout of JKeyT.ObjIdAndType (page 73).
const (
	ObjIdMask   uint64 = 0x0fffffffffffffff
	ObjTypeMask uint64 = 0xf000000000000000
	ObjTypeShift uint64 = 60

	// SystemObjIdMark is the smallest object identifier used by the
	// system volume.
	SystemObjIdMark uint64 = 0x0fffffff00000000
)

// JInodeKeyT is the key half of an inode record. The object identifier
// in the header is the inode number; the type is always APFS_TYPE_INODE.
// Reference: page 73
type JInodeKeyT struct {
	Hdr JKeyT
}

// JInodeValT is the value half of an inode record.
// Reference: pages 73-77
type JInodeValT struct {
	// ParentId identifies the parent directory's record.
	ParentId uint64

	// PrivateId is the identifier used by this file's data stream; it
	// appears in the owning_obj_id of the physical extent records that
	// hold the data. Inodes without data store their own identifier
	// here. (page 74)
	PrivateId uint64

	// Timestamps in nanoseconds since the POSIX epoch. (page 75)
	CreateTime uint64
	ModTime    uint64
	ChangeTime uint64
	AccessTime uint64

	InternalFlags uint64 // JInodeFlags bits

	// NchildrenOrNlink holds the number of directory entries for a
	// directory, or the number of hard links targeting this inode for
	// anything else. (pages 75-76)
	NchildrenOrNlink int32

	// DefaultProtectionClass is inherited by children whose own class is
	// PROTECTION_CLASS_DIR_NONE. (page 76)
	DefaultProtectionClass CpKeyClassT

	// WriteGenerationCounter increments on every modification of the
	// inode or its data, and may wrap to zero. (page 76)
	WriteGenerationCounter uint32

	BsdFlags uint32 // see chflags(2)
	Owner    UidT
	Group    GidT
	Mode     ModeT
	Pad1     uint16 // zero on creation, preserved on modification

	// UncompressedSize is the file size without compression, valid only
	// when InodeHasUncompressedSize is set; otherwise padding. (page 77)
	UncompressedSize uint64

	// XFields is the variable-sized extended-field area.
	XFields []byte
}

// Nchildren returns the number of directory entries. Valid only when the
// inode is a directory.
func (v *JInodeValT) Nchildren() int32 {
	return v.NchildrenOrNlink
}

// Nlink returns the number of hard links to this inode. Valid only when
// the inode is not a directory.
func (v *JInodeValT) Nlink() int32 {
	return v.NchildrenOrNlink
}

// BSD flag bits stored in an inode's BsdFlags field. The low half holds
// the owner-settable flags, the high half the superuser flags. See the
// chflags(2) man page.
const (
	BsdUfNodump     uint32 = 0x00000001
	BsdUfImmutable  uint32 = 0x00000002
	BsdUfAppend     uint32 = 0x00000004
	BsdUfOpaque     uint32 = 0x00000008
	BsdUfCompressed uint32 = 0x00000020
	BsdUfTracked    uint32 = 0x00000040
	BsdUfDatavault  uint32 = 0x00000080
	BsdUfHidden     uint32 = 0x00008000
	BsdSfArchived   uint32 = 0x00010000
	BsdSfImmutable  uint32 = 0x00020000
	BsdSfAppend     uint32 = 0x00040000
	BsdSfRestricted uint32 = 0x00080000
	BsdSfNoUnlink   uint32 = 0x00100000
)

// UidT is a user identifier.
// Reference: page 77
type UidT uint32

// GidT is a group identifier.
// Reference: page 77
type GidT uint32

// JDrecKeyT is the key half of a directory entry record. The object
// identifier in the header is the parent's identifier; the type is
// always APFS_TYPE_DIR_REC.
// Reference: page 78
type JDrecKeyT struct {
	Hdr JKeyT

	NameLen uint16 // name length including the trailing NUL
	Name    []byte // null-terminated UTF-8
}

// JDrecHashedKeyT is the directory entry key variant carrying a
// precomputed name hash, used on hashed volumes.
// Reference: page 78
type JDrecHashedKeyT struct {
	Hdr JKeyT

	// NameLenAndHash packs the 10-bit name length (JDrecLenMask,
	// including the trailing NUL) with the 22-bit hash shifted by
	// JDrecHashShift. (page 79)
	NameLenAndHash uint32

	Name []byte // null-terminated UTF-8
}

// Bit layout of JDrecHashedKeyT.NameLenAndHash (page 79).
const (
	JDrecLenMask   uint32 = 0x000003ff
	JDrecHashMask  uint32 = 0xfffff400
	JDrecHashShift uint32 = 10
)

// JDrecValT is the value half of a directory entry record.
// Reference: page 79
type JDrecValT struct {
	FileId uint64 // inode this entry represents

	// DateAdded is the time the entry was added to the directory, in
	// nanoseconds since the POSIX epoch; it is not updated when the
	// entry is modified. (page 80)
	DateAdded uint64

	// Flags stores the inode's file type in the DrecTypeMask bits; the
	// rest is reserved. (page 80)
	Flags uint16

	// XFields is the variable-sized extended-field area.
	XFields []byte
}

// JDirStatsKeyT is the key half of a directory-information record. The
// type in the header is always APFS_TYPE_DIR_STATS.
// Reference: page 80
type JDirStatsKeyT struct {
	Hdr JKeyT
}

// JDirStatsValT is the value half of a directory-information record.
// Reference: page 81
type JDirStatsValT struct {
	NumChildren uint64 // files and folders contained by the directory

	// TotalSize sums the sizes of all files in this directory and its
	// descendants; hard links contribute to every directory they appear
	// in. (page 81)
	TotalSize uint64

	ChainedKey uint64 // parent directory's object identifier

	// GenCount increments on every modification of the inode or any
	// child; overflow is an unrecoverable error. (page 81)
	GenCount uint64
}

// JXattrKeyT is the key half of an extended attribute record. The type
// in the header is always APFS_TYPE_XATTR.
// Reference: page 82
type JXattrKeyT struct {
	Hdr JKeyT

	NameLen uint16 // name length including the trailing NUL
	Name    []byte // null-terminated UTF-8
}

// JXattrValT is the value half of an extended attribute record.
// Reference: page 82
type JXattrValT struct {
	// Flags must include XattrDataEmbedded or XattrDataStream.
	Flags uint16

	// XdataLen is the length of embedded data; ignored for stream
	// attributes. (page 83)
	XdataLen uint16

	// Xdata holds the attribute data when embedded, or the uint64
	// identifier of the data stream record holding it. (page 83)
	Xdata []byte
}

// JObjTypes is the type of a file-system record.
// Reference: page 84
type JObjTypes uint8

const (
	// ApfsTypeAny matches any type; used only in search queries, never
	// valid on disk.
	ApfsTypeAny JObjTypes = 0

	ApfsTypeSnapMetadata JObjTypes = 1 // snapshot metadata
	ApfsTypeExtent       JObjTypes = 2 // physical extent record
	ApfsTypeInode        JObjTypes = 3
	ApfsTypeXattr        JObjTypes = 4 // extended attribute

	// ApfsTypeSiblingLink maps an inode to the hard links targeting it.
	ApfsTypeSiblingLink JObjTypes = 5

	ApfsTypeDstreamId JObjTypes = 6 // data stream

	// ApfsTypeCryptoState is a per-file encryption state, used only on
	// iOS apart from the CRYPTO_SW_ID placeholder.
	ApfsTypeCryptoState JObjTypes = 7

	ApfsTypeFileExtent JObjTypes = 8 // file extent record
	ApfsTypeDirRec     JObjTypes = 9 // directory entry
	ApfsTypeDirStats   JObjTypes = 10
	ApfsTypeSnapName   JObjTypes = 11

	// ApfsTypeSiblingMap maps a hard link to its target inode.
	ApfsTypeSiblingMap JObjTypes = 12

	ApfsTypeFileInfo JObjTypes = 13 // additional information about file data

	ApfsTypeMaxValid JObjTypes = 13
	_                // reserved slot
	ApfsTypeMax      JObjTypes = 15
	ApfsTypeInvalid  JObjTypes = 15
)

// JObjKinds is the kind of a file-system record.
// Reference: page 87
type JObjKinds uint8

const (
	// ApfsKindAny matches any kind; used internally, never valid on disk.
	ApfsKindAny JObjKinds = 0

	// ApfsKindNew adds data that isn't part of any snapshot.
	ApfsKindNew JObjKinds = 1

	// ApfsKindUpdate changes data that's part of an existing snapshot.
	ApfsKindUpdate JObjKinds = 2

	// ApfsKindDead and ApfsKindUpdateRefcnt are internal-only kinds,
	// never valid on disk.
	ApfsKindDead         JObjKinds = 3
	ApfsKindUpdateRefcnt JObjKinds = 4

	ApfsKindInvalid JObjKinds = 255
)

// JInodeFlags holds the flags used by inodes.
// Reference: page 88
type JInodeFlags uint64

const (
	// InodeIsApfsPrivate marks an inode used internally by the file
	// system; such inodes aren't part of the volume and can't be cloned,
	// renamed, or deleted.
	InodeIsApfsPrivate JInodeFlags = 0x00000001

	// InodeMaintainDirStats marks a directory that tracks the size of
	// its children; it must also be set on subdirectories.
	InodeMaintainDirStats JInodeFlags = 0x00000002

	// InodeDirStatsOrigin marks a directory where InodeMaintainDirStats
	// was set explicitly rather than inherited.
	InodeDirStatsOrigin JInodeFlags = 0x00000004

	// InodeProtClassExplicit marks an inode whose protection class was
	// set explicitly at creation.
	InodeProtClassExplicit JInodeFlags = 0x00000008

	// InodeWasCloned marks an inode created by cloning another.
	InodeWasCloned JInodeFlags = 0x00000010

	// InodeFlagUnused is reserved; preserve but don't set.
	InodeFlagUnused JInodeFlags = 0x00000020

	// InodeHasSecurityEa marks an inode with an access control list.
	InodeHasSecurityEa JInodeFlags = 0x00000040

	// InodeBeingTruncated marks an inode that was truncated.
	InodeBeingTruncated JInodeFlags = 0x00000080

	// InodeHasFinderInfo marks an inode with a Finder info extended
	// field.
	InodeHasFinderInfo JInodeFlags = 0x00000100

	// InodeIsSparse marks an inode with a sparse byte count extended
	// field.
	InodeIsSparse JInodeFlags = 0x00000200

	// InodeWasEverCloned marks an inode cloned at least once; its blocks
	// may be shared with another inode.
	InodeWasEverCloned JInodeFlags = 0x00000400

	// InodeActiveFileTrimmed marks a trimmed overprovisioning file,
	// used only on iOS.
	InodeActiveFileTrimmed JInodeFlags = 0x00000800

	// Fusion pinning: content kept on the solid-state main device or on
	// the secondary hard drive.
	InodePinnedToMain  JInodeFlags = 0x00001000
	InodePinnedToTier2 JInodeFlags = 0x00002000

	// Resource-fork presence; at most one of the two may be set, and
	// neither set also means no resource fork.
	InodeHasRsrcFork JInodeFlags = 0x00004000
	InodeNoRsrcFork  JInodeFlags = 0x00008000

	// InodeAllocationSpilledover marks content with space allocated
	// outside its preferred storage tier.
	InodeAllocationSpilledover JInodeFlags = 0x00010000

	// InodeFastPromote schedules promotion from slow to fast storage on
	// the next read.
	InodeFastPromote JInodeFlags = 0x00020000

	// InodeHasUncompressedSize marks an inode storing its uncompressed
	// size in uncompressed_size; ignored before macOS 10.15 and iOS 13.1.
	InodeHasUncompressedSize JInodeFlags = 0x00040000

	// InodeIsPurgeable marks an inode deleted at the next purge;
	// InodeWantsToBePurgeable makes it purgeable when its link count
	// drops to one.
	InodeIsPurgeable        JInodeFlags = 0x00080000
	InodeWantsToBePurgeable JInodeFlags = 0x00100000

	// InodeIsSyncRoot marks the root of a fileproviderd sync hierarchy;
	// preserve but don't add or remove.
	InodeIsSyncRoot JInodeFlags = 0x00200000

	// InodeSnapshotCowExemption exempts the inode from copy on write for
	// snapshot data; preserve but don't add or remove. Counted by the
	// ApfsCowExemptCountName attribute.
	InodeSnapshotCowExemption JInodeFlags = 0x00400000

	// InodeInheritedInternalFlags are inherited by a directory's
	// children; InodeClonedInternalFlags are preserved when cloning.
	InodeInheritedInternalFlags JInodeFlags = InodeMaintainDirStats | InodeSnapshotCowExemption
	InodeClonedInternalFlags    JInodeFlags = InodeHasRsrcFork | InodeNoRsrcFork | InodeHasFinderInfo | InodeSnapshotCowExemption
)

// ApfsValidInternalInodeFlags is a bit mask of all valid inode flags.
// Reference: page 94
const ApfsValidInternalInodeFlags JInodeFlags = InodeIsApfsPrivate |
	InodeMaintainDirStats |
	InodeDirStatsOrigin |
	InodeProtClassExplicit |
	InodeWasCloned |
	InodeHasSecurityEa |
	InodeBeingTruncated |
	InodeHasFinderInfo |
	InodeIsSparse |
	InodeWasEverCloned |
	InodeActiveFileTrimmed |
	InodePinnedToMain |
	InodePinnedToTier2 |
	InodeHasRsrcFork |
	InodeNoRsrcFork |
	InodeAllocationSpilledover |
	InodeFastPromote |
	InodeHasUncompressedSize |
	InodeIsPurgeable |
	InodeWantsToBePurgeable |
	InodeIsSyncRoot |
	InodeSnapshotCowExemption

// ApfsInodePinnedMask covers the pinning-related flags.
// Reference: page 94
const ApfsInodePinnedMask JInodeFlags = InodePinnedToMain | InodePinnedToTier2

// JXattrFlags holds the flags of an extended attribute record.
// Reference: page 94
type JXattrFlags uint16

const (
	// XattrDataStream and XattrDataEmbedded select where the value is
	// stored; exactly one must be set. Embedded values must be smaller
	// than XattrMaxEmbeddedSize.
	XattrDataStream   JXattrFlags = 0x00000001
	XattrDataEmbedded JXattrFlags = 0x00000002

	// XattrFileSystemOwned marks an attribute owned by the file system,
	// such as the SymlinkEaName attribute of a symbolic link.
	XattrFileSystemOwned JXattrFlags = 0x00000004

	// XattrReserved8 is reserved; preserve but don't set.
	XattrReserved8 JXattrFlags = 0x00000008
)

// DirRecFlags holds the flags of a directory record.
// Reference: page 95
type DirRecFlags uint16

const (
	// DrecTypeMask selects the file type bits of JDrecValT.Flags.
	DrecTypeMask DirRecFlags = 0x000f

	// Reserved10 is reserved; never set in practice.
	Reserved10 DirRecFlags = 0x0010
)
