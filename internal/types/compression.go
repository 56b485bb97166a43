package types

// Compressed files.
// A compressed file carries an extended attribute named com.apple.decmpfs
// whose value starts with this header. For the inline variants the payload
// follows the header directly; for the resource-fork variants it lives in
// the com.apple.ResourceFork attribute, chunked into 64 KiB compression
// units indexed by an offset table.

// DecmpfsDiskHeaderT is the on-disk header of a com.apple.decmpfs value.
// All fields are little-endian.
type DecmpfsDiskHeaderT struct {
	// The attribute magic, always DecmpfsMagic ("fpmc").
	CompressionMagic uint32

	// The compression method, one of the DecmpfsType values.
	CompressionType uint32

	// The logical (uncompressed) size of the file in bytes.
	UncompressedSize uint64
}

// DecmpfsMagic is the decmpfs attribute magic: the bytes "fpmc".
const DecmpfsMagic uint32 = 'f' | 'p'<<8 | 'm'<<16 | 'c'<<24

// DecmpfsHeaderLen is the size of DecmpfsDiskHeaderT on disk.
const DecmpfsHeaderLen = 16

// Compression methods stored in CompressionType.
const (
	// DecmpfsTypeZlibAttr: zlib payload inline after the header. A first
	// payload byte with low nibble 0xF marks the data as stored, not
	// compressed.
	DecmpfsTypeZlibAttr uint32 = 3

	// DecmpfsTypeZlibRsrc: zlib compression units in the resource fork.
	DecmpfsTypeZlibRsrc uint32 = 4

	// DecmpfsTypeDataless: no data is stored locally.
	DecmpfsTypeDataless uint32 = 5

	// DecmpfsTypeLzvnAttr: LZVN payload inline after the header. A first
	// payload byte of 0x06 marks the data as stored.
	DecmpfsTypeLzvnAttr uint32 = 7

	// DecmpfsTypeLzvnRsrc: LZVN compression units in the resource fork.
	DecmpfsTypeLzvnRsrc uint32 = 8

	// DecmpfsTypeRawAttr and DecmpfsTypeRawRsrc store the data unchanged.
	DecmpfsTypeRawAttr uint32 = 9
	DecmpfsTypeRawRsrc uint32 = 10
)

// CompressionUnitSize is the logical size of one compression unit in a
// resource-fork compressed file.
const CompressionUnitSize uint32 = 65536

// CmpfRsrcHeadT is the big-endian resource-fork header preceding the CMPF
// resource in a zlib resource-fork compressed file.
type CmpfRsrcHeadT struct {
	// Offsets of the data and map areas and their lengths.
	DataOffset uint32
	MapOffset  uint32
	DataLength uint32
	MapLength  uint32
}

// CmpfRsrcBlockT is one entry of the little-endian offset table at the
// start of a CMPF resource: the offset and length of a compression unit,
// relative to the table start.
type CmpfRsrcBlockT struct {
	Offset uint32
	Length uint32
}

// Well-known extended-attribute names.
const (
	// XattrDecmpfs marks a compressed file.
	XattrDecmpfs = "com.apple.decmpfs"

	// XattrResourceFork holds the resource fork, including CMPF data.
	XattrResourceFork = "com.apple.ResourceFork"

	// XattrSymlink holds a symbolic link's target.
	XattrSymlink = "com.apple.fs.symlink"
)
