package types

// Data streams (pages 102-107). Data too large to store inline with a
// record, such as file contents and large attribute values, lives in a
// separately allocated data stream.

// JPhysExtKeyT is the key half of a physical extent record. The object
// identifier in the header is the physical block address where the extent
// starts; the type is always APFS_TYPE_EXTENT.
// Reference: page 102
type JPhysExtKeyT struct {
	Hdr JKeyT
}

// JPhysExtValT is the value half of a physical extent record.
// Reference: page 102
type JPhysExtValT struct {
	// LenAndKind packs the extent length in blocks (PextLenMask) with the
	// j_obj_kinds kind shifted by PextKindShift. Volumes without snapshots
	// always use APFS_KIND_NEW. (page 102)
	LenAndKind uint64

	// OwningObjId identifies the record using this extent: an inode's
	// private identifier, or an extended attribute's record identifier.
	// (page 103)
	OwningObjId uint64

	// Refcnt is the reference count; the extent can be deleted when it
	// reaches zero. (page 103)
	Refcnt int32
}

// Bit layout of JPhysExtValT.LenAndKind.
// Reference: page 103
const (
	PextLenMask   uint64 = 0x0fffffffffffffff
	PextKindMask  uint64 = 0xf000000000000000
	PextKindShift uint64 = 60
)

// JFileExtentKeyT is the key half of a file extent record. The object
// identifier in the header is the file-system object's identifier; the
// type is always APFS_TYPE_FILE_EXTENT.
// Reference: page 103
type JFileExtentKeyT struct {
	Hdr JKeyT

	// LogicalAddr is the byte offset within the file's data covered by
	// this extent. (page 104)
	LogicalAddr uint64
}

// JFileExtentValT is the value half of a file extent record.
// Reference: page 104
type JFileExtentValT struct {
	// LenAndFlags packs the extent length in bytes (JFileExtentLenMask,
	// always a multiple of the container block size) with flags shifted
	// by JFileExtentFlagShift. No flags are currently defined. (page 104)
	LenAndFlags uint64

	// PhysBlockNum is the physical block address the extent starts at.
	PhysBlockNum uint64

	// CryptoId is the encryption key or tweak for this extent. With
	// APFS_FS_ONEKEY set on the volume it holds the AES-XTS tweak;
	// otherwise it matches the obj_id of the j_crypto_key_t record
	// describing the extent's per-file key. Defaults to the owning data
	// stream's default_crypto_id. (page 104)
	CryptoId uint64
}

// Bit layout of JFileExtentValT.LenAndFlags.
// Reference: page 105
const (
	JFileExtentLenMask   uint64 = 0x00ffffffffffffff
	JFileExtentFlagMask  uint64 = 0xff00000000000000
	JFileExtentFlagShift uint64 = 56
)

// JDstreamIdKeyT is the key half of a data stream record. The object
// identifier in the header is the file-system object's identifier; the
// type is always APFS_TYPE_DSTREAM_ID.
// Reference: page 105
type JDstreamIdKeyT struct {
	Hdr JKeyT
}

// JDstreamIdValT is the value half of a data stream record.
// Reference: page 105
type JDstreamIdValT struct {
	// Refcnt is the reference count; the record can be deleted when it
	// reaches zero.
	Refcnt uint32
}

// JXattrDstreamT is a data stream used by an extended attribute.
// Reference: page 106
type JXattrDstreamT struct {
	// XattrObjId is the record identifier of the data stream that owns
	// this record.
	XattrObjId uint64

	Dstream JDstreamT
}

// JDstreamT describes a data stream.
// Reference: page 106
type JDstreamT struct {
	Size        uint64 // size of the data, in bytes
	AllocedSize uint64 // total space allocated, including slack

	// DefaultCryptoId is the default encryption key or tweak for the
	// stream, used as the default crypto_id of its file extents. Volumes
	// with software encryption always use CRYPTO_SW_ID. (page 107)
	DefaultCryptoId uint64

	// Running write and read byte counters; both may overflow and wrap
	// to zero. (page 107)
	TotalBytesWritten uint64
	TotalBytesRead    uint64
}

// FextCryptoIdIsTweak indicates the crypto_id of a file extent record
// holds an encryption tweak value.
// Reference: page 98
const FextCryptoIdIsTweak uint32 = 0x01
