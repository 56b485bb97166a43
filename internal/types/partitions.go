package types

// Partition tables.
// On-disk layouts for the five partition-table formats the volume-system
// layer parses: DOS/MBR, GPT, BSD disklabel, Mac partition map, and the
// two Sun VTOC variants. All multi-byte integers are little-endian unless
// a format says otherwise (Mac partition maps are big-endian).

// DosPartEntryT is one of the four 16-byte slots in a DOS partition table.
type DosPartEntryT struct {
	// Bootable flag: 0x80 when the partition is active.
	BootFlag uint8

	// CHS address of the first sector (unused by this engine).
	StartChs [3]byte

	// The partition type code. See DosTypeDesc for known values.
	PType uint8

	// CHS address of the last sector (unused by this engine).
	EndChs [3]byte

	// LBA of the first sector, relative to the table's base.
	StartSec uint32

	// Number of sectors in the partition.
	SizeSec uint32
}

// DosSectorT is a 512-byte DOS boot sector holding a partition table.
type DosSectorT struct {
	// Boot code and disk signature (ignored).
	Code [446]byte

	// The four primary partition slots.
	Ptable [4]DosPartEntryT

	// The table magic, always DosMagic.
	Magic uint16
}

// DosMagic is the 0xAA55 signature at offset 510 of a DOS boot sector.
const DosMagic uint16 = 0xAA55

// DOS partition type codes the engine treats specially.
const (
	DosTypeEmpty     uint8 = 0x00
	DosTypeExtended  uint8 = 0x05
	DosTypeExtendedL uint8 = 0x0F
	DosTypeExtendedH uint8 = 0x85
	DosTypeProtective uint8 = 0xEE
)

// GptHeaderT is the GPT header stored at LBA 1 (primary) and the last LBA
// (secondary).
type GptHeaderT struct {
	// The signature, always GptMagic ("EFI PART").
	Signature uint64

	// The GPT revision.
	Revision uint32

	// The size of this header in bytes.
	HeaderSize uint32

	// CRC32 of the header with this field zeroed.
	HeaderCrc uint32

	Reserved uint32

	// The LBA holding this header.
	CurrentLba uint64

	// The LBA holding the other copy of the header.
	BackupLba uint64

	// First and last LBAs usable for partitions.
	FirstUsableLba uint64
	LastUsableLba  uint64

	// The disk GUID.
	DiskGuid UUID

	// The starting LBA of the partition entry array.
	EntriesLba uint64

	// Number of partition entries and the size of each entry.
	EntryCount uint32
	EntrySize  uint32

	// CRC32 of the partition entry array.
	EntriesCrc uint32
}

// GptMagic is the 64-bit GPT signature, "EFI PART" read little-endian.
const GptMagic uint64 = 0x5452415020494645

// GptEntryT is a GPT partition entry. Entries are EntrySize bytes on disk;
// only the first 128 are meaningful here.
type GptEntryT struct {
	// The partition type GUID; all-zero marks an unused slot.
	TypeGuid UUID

	// The unique partition GUID.
	PartGuid UUID

	// First and last LBAs of the partition, inclusive.
	FirstLba uint64
	LastLba  uint64

	// Attribute flags.
	Flags uint64

	// The partition name, UTF-16LE, NUL-padded.
	Name [72]byte
}

// GptApfsTypeGuid is the partition type GUID of an APFS container
// (7C3457EF-0000-11AA-AA11-00306543ECAC).
var GptApfsTypeGuid = UUID{
	0xEF, 0x57, 0x34, 0x7C, 0x00, 0x00, 0xAA, 0x11,
	0xAA, 0x11, 0x00, 0x30, 0x65, 0x43, 0xEC, 0xAC,
}

// BsdMagic is the disklabel magic, stored at both ends of the label.
const BsdMagic uint32 = 0x82564557

// BsdMaxParts is the number of slots in a disklabel this engine reads.
const BsdMaxParts = 16

// BsdPartT is one disklabel partition slot.
type BsdPartT struct {
	// Size and start, in sectors, absolute on the device.
	SizeSec  uint32
	StartSec uint32

	// Filesystem fragment size, type, and cpg (only FsType is used).
	FragSize uint32
	FsType   uint8
	Frag     uint8
	Cpg      uint16
}

// BsdDisklabelT is the fixed prefix of a BSD disklabel, found in the second
// sector of a BSD partition or disk. The partition slot array follows
// immediately after NumSbSize.
type BsdDisklabelT struct {
	// The label magic, always BsdMagic.
	Magic uint32

	// Drive type and subtype (unused).
	DType    uint16
	DSubtype uint16

	// Geometry fields (unused by this engine).
	TypeName       [16]byte
	Packname       [16]byte
	SecSize        uint32
	NSectors       uint32
	NTracks        uint32
	NCyl           uint32
	SecPerCyl      uint32
	SecPerUnit     uint32
	SparesPerTrack uint16
	SparesPerCyl   uint16
	AltCyl         uint32
	Rpm            uint16
	Interleave     uint16
	TrackSkew      uint16
	CylSkew        uint16
	HeadSwitch     uint32
	TrackSeek      uint32
	Flags          uint32
	DriveData      [5]uint32
	Spare          [5]uint32

	// The trailing magic, always BsdMagic again.
	Magic2 uint32

	// Checksum of the label (not verified).
	Checksum uint16

	// Number of valid partition slots.
	NumParts uint16

	// Boot-area and superblock sizes (unused).
	BootSize uint32
	SbSize   uint32
}

// MacPartMagic is the 16-bit signature ("PM") of each Mac partition map
// entry. Mac structures are big-endian.
const MacPartMagic uint16 = 0x504D

// MacPartT is one big-endian Mac partition map entry, one per sector
// starting at sector 1.
type MacPartT struct {
	// The entry signature, always MacPartMagic.
	Magic uint16

	Pad uint16

	// Total number of entries in the partition map.
	MapCount uint32

	// Start and length of the partition, in sectors.
	StartSec uint32
	SizeSec  uint32

	// The partition name and type, NUL-terminated ASCII.
	Name [32]byte
	Type [32]byte

	// Start and length of the data area within the partition (unused).
	DataStartSec uint32
	DataSizeSec  uint32

	// Status flags; zero marks the partition invalid or unused.
	Status uint32
}

// SunMagic is the VTOC sanity magic shared by both Sun variants.
const SunMagic uint16 = 0xDABE

// SunSanityVtoc is the 32-bit sanity value of a valid VTOC.
const SunSanityVtoc uint32 = 0x600DDEEE

// SunMaxPartsSparc and SunMaxPartsI386 give the slot counts per variant.
const (
	SunMaxPartsSparc = 8
	SunMaxPartsI386  = 16
)

// SunPartSparcT is a sparc VTOC slot: start is in cylinders.
type SunPartSparcT struct {
	StartCyl uint32
	SizeSec  uint32
}

// SunPartI386T is an i386 VTOC slot.
type SunPartI386T struct {
	Tag      uint16
	Flag     uint16
	StartSec uint32
	SizeSec  uint32
}
