package types

// Encryption (pages 135-149)
// Wrapped keys, keybags, and the per-file encryption state records stored
// in the file-system tree.

// JCryptoKeyT is the key half of a per-file encryption state record. The
// object identifier in the header is the file-system object's identifier.
// Reference: page 137
type JCryptoKeyT struct {
	Hdr JKeyT
}

// JCryptoValT is the value half of a per-file encryption state record.
// Reference: page 137
type JCryptoValT struct {
	// The reference count; the record can be deleted at zero. (page 137)
	Refcnt uint32
	// The encryption state. When the record belongs to the file-system
	// tree itself the key is always the volume encryption key. (page 138)
	State WrappedCryptoStateT
}

// WrappedCryptoStateT is a wrapped key used for per-file encryption.
// Reference: page 138
type WrappedCryptoStateT struct {
	// The layout version; currently five. (page 138)
	MajorVersion uint16
	// The backward-compatible version; currently zero. (page 138)
	MinorVersion uint16
	// The encryption state's flags; none are defined. (page 139)
	Cpflags CryptoFlagsT
	// The protection class; see Protection Classes. (page 139)
	PersistentClass CpKeyClassT
	// The OS version that created this structure. (page 139)
	KeyOsVersion CpKeyOsVersionT
	// The key's version, incremented on key rolling. (page 139)
	KeyRevision CpKeyRevisionT
	// The size of the wrapped key data. (page 139)
	KeyLen uint16
	// The wrapped key data. (page 139)
	PersistentKey [CpMaxWrappedkeysize]byte
}

// CpMaxWrappedkeysize is the size of the largest possible wrapped key.
// Reference: page 139
const CpMaxWrappedkeysize uint16 = 128

// WrappedMetaCryptoStateT describes how the volume encryption key is used
// to encrypt a file.
// Reference: page 140
type WrappedMetaCryptoStateT struct {
	// The layout version; always five. (page 140)
	MajorVersion uint16
	// Always zero. (page 140)
	MinorVersion uint16
	// No flags are defined. (page 140)
	Cpflags CryptoFlagsT
	// The protection class. (page 140)
	PersistentClass CpKeyClassT
	// The OS version that created this structure. (page 141)
	KeyOsVersion CpKeyOsVersionT
	// The key's version. (page 141)
	KeyRevision CpKeyRevisionT
	// Reserved padding. (page 141)
	Unused uint16
}

// Encryption Types (page 141)

// CpKeyClassT is a protection class.
// Reference: page 141
type CpKeyClassT uint32

// CpKeyOsVersionT is an OS version and build number packed into 32 bits.
// Reference: page 141
type CpKeyOsVersionT uint32

// CpKeyRevisionT is a version number for an encryption key.
// Reference: page 142
type CpKeyRevisionT uint16

// CryptoFlagsT contains flags used by an encryption state.
// Reference: page 142
type CryptoFlagsT uint32

// Protection Classes (pages 142-143)

const (
	// ProtectionClassDirNone defers to the containing directory's
	// default class; iOS only. (page 142)
	ProtectionClassDirNone CpKeyClassT = 0

	// ProtectionClassA is complete protection. (page 142)
	ProtectionClassA CpKeyClassT = 1

	// ProtectionClassB is protected unless open. (page 143)
	ProtectionClassB CpKeyClassT = 2

	// ProtectionClassC is protected until first user authentication.
	// (page 143)
	ProtectionClassC CpKeyClassT = 3

	// ProtectionClassD is no protection. (page 143)
	ProtectionClassD CpKeyClassT = 4

	// ProtectionClassF is class D with a nonpersistent key, for files
	// like swap that don't survive a reboot. (page 143)
	ProtectionClassF CpKeyClassT = 6

	// ProtectionClassM is undocumented. (page 143)
	ProtectionClassM CpKeyClassT = 14
)

// CpEffectiveClassmask extracts the protection class from a
// persistent-class field; the remaining bits are reserved.
// Reference: page 143
const CpEffectiveClassmask CpKeyClassT = 0x0000001f

// Encryption Identifiers (page 144)

// CryptoSwId is the placeholder encryption state used with software
// encryption; it has no key and an all-zero value record.
// Reference: page 144
const CryptoSwId uint64 = 4

// CryptoReserved5 is reserved and never appears on disk.
// Reference: page 144
const CryptoReserved5 uint64 = 5

// ApfsUnassignedCryptoId is the placeholder crypto id set on a freshly
// cloned file, which keeps using the original's encryption state until
// modified.
// Reference: page 144
const ApfsUnassignedCryptoId uint64 = ^uint64(0)

// KbLockerT is a keybag.
// Reference: page 144
type KbLockerT struct {
	// The keybag version; APFS_KEYBAG_VERSION. (page 145)
	KlVersion uint16
	// The number of entries. (page 145)
	KlNkeys uint16
	// The size of the entry data. (page 145)
	KlNbytes uint32
	// Reserved padding. (page 145)
	Padding [8]byte
	// The entries. (page 145)
	KlEntries []KeybagEntryT
}

// ApfsKeybagVersion is the current keybag version. Version one was a
// prototyping layout that never shipped.
// Reference: page 145
const ApfsKeybagVersion uint16 = 2

// KeybagEntryT is an entry in a keybag.
// Reference: page 146
type KeybagEntryT struct {
	// A volume UUID in a container's keybag, a user UUID in a volume's.
	// (page 146)
	KeUuid UUID
	// What kind of data the entry holds; see Keybag Tags. (page 146)
	KeTag uint16
	// The length of the entry's data. (page 146)
	KeKeylen uint16
	// Reserved padding. (page 146)
	Padding [4]byte
	// The entry's data, interpreted per the tag. (page 146)
	KeKeydata []byte
}

// ApfsVolKeybagEntryMaxSize is the largest size of a keybag entry.
// Reference: page 147
const ApfsVolKeybagEntryMaxSize uint16 = 512

// ApfsFvPersonalRecoveryKeyUuid is the user UUID of a keybag record
// holding a personal recovery key, which unwraps a KEK the same way a
// password does.
// Reference: page 147
var ApfsFvPersonalRecoveryKeyUuid = UUID{
	0xEB, 0xC6, 0xC0, 0x64,
	0x00, 0x00, 0x11, 0xAA,
	0xAA, 0x11, 0x00, 0x30,
	0x65, 0x43, 0xEC, 0xAC,
}

// ApfsFvInstitutionalRecoveryKeyUuid is the user UUID of an
// institutional recovery key record.
var ApfsFvInstitutionalRecoveryKeyUuid = UUID{
	0xC0, 0x64, 0xEB, 0xC6,
	0x00, 0x00, 0x11, 0xAA,
	0xAA, 0x11, 0x00, 0x30,
	0x65, 0x43, 0xEC, 0xAC,
}

// ApfsFvInstitutionalUserUuid is the user UUID used in volume keybags
// for institutional recovery.
var ApfsFvInstitutionalUserUuid = UUID{
	0x2F, 0xA3, 0x14, 0x00,
	0xBA, 0xFF, 0x4D, 0xE7,
	0xAE, 0x2A, 0xC3, 0xAA,
	0x6E, 0x1F, 0xD3, 0x40,
}

// MediaKeybagT is a keybag wrapped up as a container-layer object.
// Reference: page 147
type MediaKeybagT struct {
	MkObj    ObjPhysT
	MkLocker KbLockerT
}

// Keybag Tags (pages 147-149)

// KbTag describes what kind of information a keybag entry stores.
// Reference: page 147
type KbTag uint16

const (
	// KbTagUnknown never appears on disk; implementations use it in
	// memory as a wildcard. (page 148)
	KbTagUnknown KbTag = 0

	// KbTagReserved1 is reserved. (page 148)
	KbTagReserved1 KbTag = 1

	// KbTagVolumeKey marks a wrapped VEK; container keybags only.
	// (page 148)
	KbTagVolumeKey KbTag = 2

	// KbTagVolumeUnlockRecords marks the volume keybag's location (as a
	// prange_t) in a container's keybag, and a wrapped KEK in a
	// volume's. (page 148)
	KbTagVolumeUnlockRecords KbTag = 3

	// KbTagVolumePassphraseHint marks a plain-text password hint;
	// volume keybags only. (page 148)
	KbTagVolumePassphraseHint KbTag = 4

	// KbTagWrappingMKey marks a key that wraps a media key; iOS only.
	// (page 149)
	KbTagWrappingMKey KbTag = 5

	// KbTagVolumeMKey marks a key that wraps this volume's media keys;
	// iOS only. (page 149)
	KbTagVolumeMKey KbTag = 6

	// KbTagReservedF8 is reserved. (page 149)
	KbTagReservedF8 KbTag = 0xF8
)
