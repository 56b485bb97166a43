package types

// Evidence-container formats.
// On-disk layouts for the image backends: EWF (EnCase .E01), VHD, and
// monolithic-sparse VMDK. Raw and split-raw images have no structure of
// their own.

// EwfSignature is the 8-byte signature at the start of every EWF segment
// file ("EVF\x09\x0d\x0a\xff\x00").
var EwfSignature = [8]byte{'E', 'V', 'F', 0x09, 0x0D, 0x0A, 0xFF, 0x00}

// EwfFileHeaderT is the 13-byte header of an EWF segment file.
type EwfFileHeaderT struct {
	// The segment signature, always EwfSignature.
	Signature [8]byte

	// Always 1.
	FieldsStart uint8

	// The one-based segment number of this file.
	SegmentNumber uint16

	// Always 0.
	FieldsEnd uint16
}

// EwfSectionT is a 76-byte section descriptor. Sections form a chain; the
// Next field is the absolute file offset of the following descriptor.
type EwfSectionT struct {
	// The section type, a NUL-padded ASCII string such as "volume",
	// "table", "sectors", "next", or "done".
	Type [16]byte

	// Absolute offset of the next section descriptor.
	Next uint64

	// Size of this section including the descriptor.
	Size uint64

	Padding [40]byte

	// Adler-32 of the descriptor (not verified).
	Checksum uint32
}

// EwfVolumeT is the media-geometry payload of a "volume" or "disk" section.
type EwfVolumeT struct {
	// The media type.
	MediaType uint8

	Reserved1 [3]byte

	// The total number of chunks in the image.
	ChunkCount uint32

	// The number of sectors per chunk (usually 64).
	SectorsPerChunk uint32

	// The number of bytes per sector.
	BytesPerSector uint32

	// The total number of sectors.
	SectorCount uint64
}

// EwfTableT is the fixed prefix of a "table" section payload; an array of
// EntryCount 32-bit chunk offsets follows. The top bit of an offset marks
// the chunk as zlib-compressed.
type EwfTableT struct {
	// The number of chunk offsets in this table.
	EntryCount uint32

	Padding1 [4]byte

	// The base offset added to each table entry.
	BaseOffset uint64

	Padding2 [4]byte

	// Adler-32 of the table header (not verified).
	Checksum uint32
}

// EwfOffsetCompressed is the table-entry bit marking a compressed chunk.
const EwfOffsetCompressed uint32 = 0x80000000

// VhdCookie is the 8-byte footer cookie of a VHD image ("conectix").
var VhdCookie = [8]byte{'c', 'o', 'n', 'e', 'c', 't', 'i', 'x'}

// VhdDynCookie is the dynamic-header cookie ("cxsparse").
var VhdDynCookie = [8]byte{'c', 'x', 's', 'p', 'a', 'r', 's', 'e'}

// VHD disk types.
const (
	VhdTypeFixed      uint32 = 2
	VhdTypeDynamic    uint32 = 3
	VhdTypeDifferencing uint32 = 4
)

// VhdFooterT is the 512-byte footer at the end of every VHD. All fields
// are big-endian.
type VhdFooterT struct {
	// The footer cookie, always VhdCookie.
	Cookie [8]byte

	Features      uint32
	FormatVersion uint32

	// Offset of the dynamic header, or ~0 for fixed disks.
	DataOffset uint64

	Timestamp  uint32
	CreatorApp [4]byte
	CreatorVer uint32
	CreatorOs  [4]byte

	// The original and current size of the virtual disk in bytes.
	OriginalSize uint64
	CurrentSize  uint64

	Geometry uint32

	// The disk type, one of the VhdType values.
	DiskType uint32

	// One's-complement checksum of the footer.
	Checksum uint32

	UniqueId UUID
}

// VhdDynHeaderT is the fixed prefix of the 1024-byte dynamic header.
// All fields are big-endian.
type VhdDynHeaderT struct {
	// The header cookie, always VhdDynCookie.
	Cookie [8]byte

	DataOffset uint64

	// Absolute offset of the block allocation table.
	TableOffset uint64

	HeaderVersion uint32

	// The number of BAT entries.
	MaxTableEntries uint32

	// The size of a data block in bytes (usually 2 MiB).
	BlockSize uint32

	Checksum uint32
}

// VhdBatUnused is the BAT entry marking an unallocated block.
const VhdBatUnused uint32 = 0xFFFFFFFF

// VmdkMagic is the sparse-extent magic, "KDMV" read little-endian.
const VmdkMagic uint32 = 0x564D444B

// VmdkSparseHeaderT is the 512-byte header of a monolithic sparse VMDK
// extent. All fields are little-endian; sizes are in 512-byte sectors.
type VmdkSparseHeaderT struct {
	// The extent magic, always VmdkMagic.
	Magic uint32

	Version uint32
	Flags   uint32

	// The capacity of the extent in sectors.
	Capacity uint64

	// The size of a grain in sectors (a power of two, at least 8).
	GrainSize uint64

	// The offset of the embedded descriptor and its size, in sectors.
	DescriptorOffset uint64
	DescriptorSize   uint64

	// The number of grain-table entries per grain table.
	NumGTEsPerGT uint32

	// The sector offset of the redundant level-0 grain directory.
	RgdOffset uint64

	// The sector offset of the level-0 grain directory.
	GdOffset uint64

	// The sector offset of the first usable data sector.
	OverHead uint64

	UncleanShutdown uint8
	SingleEndLineChar byte
	NonEndLineChar    byte
	DoubleEndLineChar1 byte
	DoubleEndLineChar2 byte

	// The compression algorithm, 0 for none.
	CompressAlgorithm uint16
}
