package types

// Volumes (pages 51-70). A volume holds one file system with its records
// and supporting structures such as an object map.

// ApfsSuperblockT is a volume superblock.
// Reference: page 51
type ApfsSuperblockT struct {
	ApfsO ObjPhysT

	ApfsMagic uint32 // always ApfsMagic

	// ApfsFsIndex is the index of this volume in the container's
	// nx_fs_oid array. (page 53)
	ApfsFsIndex uint32

	ApfsFeatures                   uint64
	ApfsReadonlyCompatibleFeatures uint64
	ApfsIncompatibleFeatures       uint64

	// ApfsUnmountTime is the last unmount time, in nanoseconds since the
	// POSIX epoch. (page 53)
	ApfsUnmountTime uint64

	ApfsFsReserveBlockCount uint64 // blocks reserved for this volume
	ApfsFsQuotaBlockCount   uint64 // maximum blocks this volume can allocate
	ApfsFsAllocCount        uint64 // blocks currently allocated

	// ApfsMetaCrypto describes the key protecting this volume's
	// metadata; on macOS that is the volume encryption key. (page 54)
	ApfsMetaCrypto WrappedMetaCryptoStateT

	// Tree types, typically OBJECT_TYPE_BTREE with the storage flag and
	// subtype noted in the reference. (page 54)
	ApfsRootTreeType      uint32
	ApfsExtentreftreeType uint32
	ApfsSnapMetatreeType  uint32

	ApfsOmapOid     OidT // physical identifier of the volume object map
	ApfsRootTreeOid OidT // virtual identifier of the root file-system tree

	// ApfsExtentrefTreeOid is the physical identifier of the
	// extent-reference tree. Creating a snapshot moves the current tree
	// into the snapshot and installs a fresh empty tree here. (page 55)
	ApfsExtentrefTreeOid OidT

	ApfsSnapMetaTreeOid OidT // virtual identifier of the snapshot metadata tree

	// Revert state consulted at mount time: a nonzero ApfsRevertToXid
	// reverts to that snapshot; otherwise a nonzero
	// ApfsRevertToSblockOid reverts to that volume superblock. (page 55)
	ApfsRevertToXid       XidT
	ApfsRevertToSblockOid OidT

	ApfsNextObjId uint64 // next file-system object identifier

	// Object counts by kind. ApfsNumOtherFsobjects covers everything not
	// in the other three counters. (page 56)
	ApfsNumFiles          uint64
	ApfsNumDirectories    uint64
	ApfsNumSymlinks       uint64
	ApfsNumOtherFsobjects uint64

	ApfsNumSnapshots uint64

	// Lifetime allocation counters; each only ever increases. (page 56)
	ApfsTotalBlocksAlloced uint64
	ApfsTotalBlocksFreed   uint64

	ApfsVolUuid UUID

	// ApfsLastModTime is the last modification time, in nanoseconds
	// since the POSIX epoch. (page 57)
	ApfsLastModTime uint64

	ApfsFsFlags uint64 // ApfsFs* flags

	// ApfsFormattedBy records the software that created the volume;
	// ApfsModifiedBy records modifying software, newest at index zero.
	// (page 57)
	ApfsFormattedBy ApfsModifiedByT
	ApfsModifiedBy  [ApfsMaxHist]ApfsModifiedByT

	// ApfsVolname is the volume name as a null-terminated UTF-8 string,
	// regardless of APFS_INCOMPAT_NON_UTF8_FNAMES. (page 57)
	ApfsVolname [ApfsVolnameLen]byte

	ApfsNextDocId uint32 // next document identifier to assign

	ApfsRole uint16 // ApfsVolRole* value
	Reserved uint16 // zero on creation, preserved on modification

	// ApfsRootToXid is the snapshot to root from, or zero to root
	// normally. (page 58)
	ApfsRootToXid XidT

	// ApfsErStateOid is the in-progress encryption or decryption state,
	// or zero when no change is under way. (page 58)
	ApfsErStateOid OidT

	// Clone bookkeeping for INODE_WAS_EVER_CLONED. (pages 58-59)
	ApfsCloneinfoIdEpoch uint64
	ApfsCloneinfoXid     uint64

	ApfsSnapMetaExtOid OidT // virtual identifier of the extended snapshot metadata

	// ApfsVolumeGroupId is the volume group this volume belongs to, or
	// zero; nonzero requires ApfsFeatureVolgrpSystemInoSpace. (page 59)
	ApfsVolumeGroupId UUID

	// Sealed-volume trees; nonzero values require
	// ApfsIncompatSealedVolume. (pages 59-60)
	ApfsIntegrityMetaOid OidT
	ApfsFextTreeOid      OidT
	ApfsFextTreeType     uint32

	ReservedType uint32
	ReservedOid  OidT
}

// ApfsModifiedByT identifies a program that modified the volume.
// Reference: page 60
type ApfsModifiedByT struct {
	Id        [ApfsModifiedNamelen]byte // program name and version
	Timestamp uint64                    // nanoseconds since the POSIX epoch
	LastXid   XidT                      // last transaction of this program's changes
}

// ApfsMagic is the value of the apfs_magic field, chosen to read "APSB"
// in hex dumps.
// Reference: page 60
const ApfsMagic uint32 = 'B' | 'S'<<8 | 'P'<<16 | 'A'<<24 // 'BSPA'

// Volume superblock array sizes (pages 60-61).
const (
	ApfsMaxHist         = 8   // entries in apfs_modified_by
	ApfsVolnameLen      = 256 // maximum volume name length
	ApfsModifiedNamelen = 32  // length of ApfsModifiedByT.Id
)

// Volume flags (pages 61-63).
const (
	// ApfsFsUnencrypted marks an unencrypted volume.
	ApfsFsUnencrypted uint64 = 0x00000001

	ApfsFsReserved2 uint64 = 0x00000002
	ApfsFsReserved4 uint64 = 0x00000004

	// ApfsFsOnekey marks a volume whose files are all encrypted with the
	// volume encryption key.
	ApfsFsOnekey uint64 = 0x00000008

	// ApfsFsSpilledover marks a volume that ran out of allocated space
	// on the solid-state drive; ApfsFsRunSpilloverCleaner additionally
	// requests the spillover cleaner.
	ApfsFsSpilledover         uint64 = 0x00000010
	ApfsFsRunSpilloverCleaner uint64 = 0x00000020

	// ApfsFsAlwaysCheckExtentref marks a volume whose extent-reference
	// tree is always consulted before overwriting an extent.
	ApfsFsAlwaysCheckExtentref uint64 = 0x00000040

	ApfsFsReserved80  uint64 = 0x00000080
	ApfsFsReserved100 uint64 = 0x00000100

	ApfsFsFlagsValidMask uint64 = ApfsFsUnencrypted |
		ApfsFsReserved2 |
		ApfsFsReserved4 |
		ApfsFsOnekey |
		ApfsFsSpilledover |
		ApfsFsRunSpilloverCleaner |
		ApfsFsAlwaysCheckExtentref |
		ApfsFsReserved80 |
		ApfsFsReserved100

	// ApfsFsCryptoflags covers the encryption-related volume flags.
	ApfsFsCryptoflags uint64 = ApfsFsUnencrypted |
		ApfsFsReserved2 |
		ApfsFsOnekey
)

// Volume roles (pages 63-66). Roles above the enum shift use sequential
// values rather than individual bits.
const (
	ApfsVolRoleNone      uint16 = 0x0000
	ApfsVolRoleSystem    uint16 = 0x0001 // root directory for the system
	ApfsVolRoleUser      uint16 = 0x0002 // users' home directories
	ApfsVolRoleRecovery  uint16 = 0x0004 // recovery system
	ApfsVolRoleVm        uint16 = 0x0008 // virtual-memory swap space
	ApfsVolRolePreboot   uint16 = 0x0010 // files needed to boot from an encrypted volume
	ApfsVolRoleInstaller uint16 = 0x0020 // used by the OS installer

	ApfsVolumeEnumShift uint16 = 6

	ApfsVolRoleData       uint16 = 1 << ApfsVolumeEnumShift  // mutable data
	ApfsVolRoleBaseband   uint16 = 2 << ApfsVolumeEnumShift  // radio firmware
	ApfsVolRoleUpdate     uint16 = 3 << ApfsVolumeEnumShift  // software update mechanism
	ApfsVolRoleXart       uint16 = 4 << ApfsVolumeEnumShift  // secure user data access
	ApfsVolRoleHardware   uint16 = 5 << ApfsVolumeEnumShift  // firmware data
	ApfsVolRoleBackup     uint16 = 6 << ApfsVolumeEnumShift  // Time Machine backups
	ApfsVolRoleReserved7  uint16 = 7 << ApfsVolumeEnumShift
	ApfsVolRoleReserved8  uint16 = 8 << ApfsVolumeEnumShift
	ApfsVolRoleEnterprise uint16 = 9 << ApfsVolumeEnumShift  // enterprise-managed data
	ApfsVolRoleReserved10 uint16 = 10 << ApfsVolumeEnumShift
	ApfsVolRolePrelogin   uint16 = 11 << ApfsVolumeEnumShift // system data used before login
)

// Optional volume feature flags (pages 67-68).
const (
	ApfsFeatureDefragPrerelease   uint64 = 0x00000001 // reserved
	ApfsFeatureHardlinkMapRecords uint64 = 0x00000002
	ApfsFeatureDefrag             uint64 = 0x00000004

	// ApfsFeatureStrictatime marks a volume that updates access times on
	// every read.
	ApfsFeatureStrictatime uint64 = 0x00000008

	// ApfsFeatureVolgrpSystemInoSpace marks support for mounting a
	// system and data volume as one user-visible volume.
	ApfsFeatureVolgrpSystemInoSpace uint64 = 0x00000010

	ApfsSupportedFeaturesMask uint64 = ApfsFeatureDefrag |
		ApfsFeatureDefragPrerelease |
		ApfsFeatureHardlinkMapRecords |
		ApfsFeatureStrictatime |
		ApfsFeatureVolgrpSystemInoSpace
)

// Read-only compatible volume feature flags (page 68).
const ApfsSupportedRocompatMask uint64 = 0x0

// Backward-incompatible volume feature flags (pages 68-70).
const (
	// ApfsIncompatCaseInsensitive marks case-insensitive filenames.
	ApfsIncompatCaseInsensitive uint64 = 0x00000001

	// ApfsIncompatDatalessSnaps marks a volume with at least one
	// snapshot that has no data.
	ApfsIncompatDatalessSnaps uint64 = 0x00000002

	// ApfsIncompatEncRolled marks a volume whose encryption has changed
	// keys at least once.
	ApfsIncompatEncRolled uint64 = 0x00000004

	// ApfsIncompatNormalizationInsensitive marks normalization-
	// insensitive filenames.
	ApfsIncompatNormalizationInsensitive uint64 = 0x00000008

	// ApfsIncompatIncompleteRestore marks a volume being restored, or an
	// uncleanly aborted restore.
	ApfsIncompatIncompleteRestore uint64 = 0x00000010

	// ApfsIncompatSealedVolume marks a volume that can't be modified.
	ApfsIncompatSealedVolume uint64 = 0x00000020

	ApfsIncompatReserved40 uint64 = 0x00000040

	ApfsSupportedIncompatMask uint64 = ApfsIncompatCaseInsensitive |
		ApfsIncompatDatalessSnaps |
		ApfsIncompatEncRolled |
		ApfsIncompatNormalizationInsensitive |
		ApfsIncompatIncompleteRestore |
		ApfsIncompatSealedVolume |
		ApfsIncompatReserved40
)

// Extended attribute constants (pages 97-98).
const (
	// XattrMaxEmbeddedSize is the largest attribute value stored
	// directly in the record.
	XattrMaxEmbeddedSize uint32 = 3804

	// SymlinkEaName is the attribute holding a symbolic link's target.
	SymlinkEaName string = "com.apple.fs.symlink"

	// FirmlinkEaName is the attribute holding a firm link's target.
	FirmlinkEaName string = "com.apple.fs.firmlink"

	// ApfsCowExemptCountName counts files on the volume that don't use
	// copy on write.
	ApfsCowExemptCountName string = "com.apple.fs.cow-exempt-file-count"
)

// File-system object constants (page 98).
const (
	OwningObjIdInvalid uint64 = ^uint64(0) // ~0ULL
	OwningObjIdUnknown uint64 = ^uint64(1) // ~1ULL

	JobjMaxKeySize   uint32 = 832
	JobjMaxValueSize uint32 = 3808

	// MinDocId is the smallest document identifier available for user
	// content; smaller values are reserved.
	MinDocId uint32 = 3
)

// ModeT is a file mode.
// Reference: page 99
type ModeT uint16

// File type bits of a mode (pages 99-100).
const (
	SIfmt ModeT = 0170000 // mask for the file type

	SIfifo  ModeT = 0010000 // named pipe
	SIfchr  ModeT = 0020000 // character-special file
	SIfdir  ModeT = 0040000 // directory
	SIfblk  ModeT = 0060000 // block-special file
	SIfreg  ModeT = 0100000 // regular file
	SIflnk  ModeT = 0120000 // symbolic link
	SIfsock ModeT = 0140000 // socket
	SIfwht  ModeT = 0160000 // whiteout
)

// Directory entry file types (pages 100-101).
const (
	DtUnknown uint16 = 0
	DtFifo    uint16 = 1  // named pipe
	DtChr     uint16 = 2  // character-special file
	DtDir     uint16 = 4  // directory
	DtBlk     uint16 = 6  // block-special file
	DtReg     uint16 = 8  // regular file
	DtLnk     uint16 = 10 // symbolic link
	DtSock    uint16 = 12 // socket
	DtWht     uint16 = 14 // whiteout
)

// Unix permission bits of a mode. Not defined by the reference, but kept
// alongside the file type bits they combine with.
const (
	SUread  ModeT = 0000400
	SUwrite ModeT = 0000200
	SUexec  ModeT = 0000100

	SGread  ModeT = 0000040
	SGwrite ModeT = 0000020
	SGexec  ModeT = 0000010

	SOread  ModeT = 0000004
	SOwrite ModeT = 0000002
	SOexec  ModeT = 0000001

	SIsuid ModeT = 0004000 // set user id on execution
	SIsgid ModeT = 0002000 // set group id on execution
	SIsvtx ModeT = 0001000 // sticky bit
)
