package apfs

import (
	"bytes"
	"encoding/binary"
	"io"

	lzfse "github.com/blacktop/lzfse-cgo"
	"github.com/klauspost/compress/zlib"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// decmpfsHeader is the decoded header of a com.apple.decmpfs attribute.
type decmpfsHeader struct {
	CompressionType  uint32
	UncompressedSize uint64
}

// parseDecmpfsHeader validates the attribute magic and decodes the
// compression method and uncompressed size.
func parseDecmpfsHeader(endian binary.ByteOrder, data []byte) (*decmpfsHeader, error) {
	const op = "apfs.parseDecmpfsHeader"

	if len(data) < types.DecmpfsHeaderLen {
		return nil, errs.New(errs.FsCorrupt, op, "attribute too short: %d bytes", len(data))
	}
	if endian.Uint32(data[0:4]) != types.DecmpfsMagic {
		return nil, errs.New(errs.FsMagic, op, "bad compression attribute magic")
	}
	return &decmpfsHeader{
		CompressionType:  endian.Uint32(data[4:8]),
		UncompressedSize: endian.Uint64(data[8:16]),
	}, nil
}

// readCompressed reads a compressed file's content. Inline methods keep
// the payload in the attribute after the header; resource-fork methods
// store 64 KiB compression units indexed by a block table.
func (f *File) readCompressed(p []byte, off int64) (int, error) {
	const op = "apfs.readCompressed"

	hdr, err := parseDecmpfsHeader(f.fs.endian, f.decmpfs)
	if err != nil {
		return 0, err
	}

	if off < 0 {
		return 0, errs.New(errs.FsArg, op, "negative offset %d", off)
	}
	if uint64(off) >= hdr.UncompressedSize {
		return 0, io.EOF
	}
	eof := false
	if uint64(off)+uint64(len(p)) > hdr.UncompressedSize {
		p = p[:hdr.UncompressedSize-uint64(off)]
		eof = true
	}

	var n int
	switch hdr.CompressionType {
	case types.DecmpfsTypeZlibAttr:
		n, err = f.readInline(p, off, decompressZlibUnit)
	case types.DecmpfsTypeLzvnAttr:
		n, err = f.readInline(p, off, decompressLzvnUnit)
	case types.DecmpfsTypeZlibRsrc:
		n, err = f.readRsrc(p, off, hdr, f.zlibUnits, decompressZlibUnit)
	case types.DecmpfsTypeLzvnRsrc:
		n, err = f.readRsrc(p, off, hdr, f.lzvnUnits, decompressLzvnUnit)
	case types.DecmpfsTypeDataless:
		return 0, errs.New(errs.FsUnsupFunc, op, "file data is stored remotely")
	default:
		return 0, errs.New(errs.FsUnsupType, op, "unsupported compression method %d", hdr.CompressionType)
	}
	if err != nil {
		return n, err
	}
	if eof {
		return n, io.EOF
	}
	return n, nil
}

// readInline serves a read out of the payload that follows the
// attribute header.
func (f *File) readInline(p []byte, off int64, decompress func([]byte, int) ([]byte, error)) (int, error) {
	raw := f.decmpfs[types.DecmpfsHeaderLen:]
	unc, err := decompress(raw, int(f.Meta.Size))
	if err != nil {
		return 0, err
	}
	if off >= int64(len(unc)) {
		return 0, io.EOF
	}
	return copy(p, unc[off:]), nil
}

// unitEntry locates one compression unit inside the resource fork.
type unitEntry struct {
	offset uint32
	length uint32
}

// readRsrc serves a read by decompressing the 64 KiB units that cover
// the requested range.
func (f *File) readRsrc(p []byte, off int64, hdr *decmpfsHeader,
	readTable func([]byte) ([]unitEntry, error),
	decompress func([]byte, int) ([]byte, error)) (int, error) {

	const op = "apfs.readRsrc"

	if f.rsrc == nil {
		return 0, errs.New(errs.FsCorrupt, op, "compressed file has no resource fork")
	}

	fork := make([]byte, f.rsrc.Size)
	if _, err := f.fs.readRuns(f.rsrc.Runs, f.rsrc.Size, fork, 0); err != nil && err != io.EOF {
		return 0, err
	}

	units, err := readTable(fork)
	if err != nil {
		return 0, err
	}

	unitSize := uint64(types.CompressionUnitSize)
	n := 0
	for n < len(p) {
		pos := uint64(off) + uint64(n)
		indx := pos / unitSize
		inUnit := pos % unitSize
		if indx >= uint64(len(units)) {
			return n, errs.New(errs.FsCorrupt, op,
				"offset %d beyond the last compression unit", pos)
		}

		u := units[indx]
		end := uint64(u.offset) + uint64(u.length)
		if end > uint64(len(fork)) {
			return n, errs.New(errs.FsCorrupt, op,
				"compression unit %d extends past the resource fork", indx)
		}

		// The last unit holds the remainder of the file.
		want := int(unitSize)
		if rem := hdr.UncompressedSize - indx*unitSize; rem < unitSize {
			want = int(rem)
		}
		unc, err := decompress(fork[u.offset:end], want)
		if err != nil {
			return n, err
		}
		if inUnit >= uint64(len(unc)) {
			return n, errs.New(errs.FsCorrupt, op,
				"compression unit %d shorter than expected", indx)
		}
		n += copy(p[n:], unc[inUnit:])
	}

	return n, nil
}

// zlibUnits reads the zlib block table: a big-endian data offset in the
// fork header, then a little-endian entry count and (offset, length)
// pairs relative to the table start.
func (f *File) zlibUnits(fork []byte) ([]unitEntry, error) {
	const op = "apfs.zlibUnits"

	if len(fork) < 8 {
		return nil, errs.New(errs.FsCorrupt, op, "resource fork too short")
	}
	dataOffset := binary.BigEndian.Uint32(fork[0:4])
	tableOffset := dataOffset + 4

	if uint64(tableOffset)+4 > uint64(len(fork)) {
		return nil, errs.New(errs.FsCorrupt, op, "block table out of bounds")
	}
	count := f.fs.endian.Uint32(fork[tableOffset : tableOffset+4])
	if count == 0 {
		return nil, errs.New(errs.FsCorrupt, op, "empty block table")
	}
	if uint64(tableOffset)+4+uint64(count)*8 > uint64(len(fork)) {
		return nil, errs.New(errs.FsCorrupt, op, "block table out of bounds")
	}

	units := make([]unitEntry, count)
	for i := range units {
		base := tableOffset + 4 + uint32(i)*8
		units[i] = unitEntry{
			offset: tableOffset + f.fs.endian.Uint32(fork[base:base+4]),
			length: f.fs.endian.Uint32(fork[base+4 : base+8]),
		}
	}
	return units, nil
}

// lzvnUnits reads the LZVN block table: little-endian absolute offsets
// from the start of the fork, the first doubling as the table size.
func (f *File) lzvnUnits(fork []byte) ([]unitEntry, error) {
	const op = "apfs.lzvnUnits"

	if len(fork) < 8 {
		return nil, errs.New(errs.FsCorrupt, op, "resource fork too short")
	}
	tableSize := f.fs.endian.Uint32(fork[0:4])
	if tableSize < 8 || tableSize%4 != 0 || uint64(tableSize) > uint64(len(fork)) {
		return nil, errs.New(errs.FsCorrupt, op, "bad block table size %d", tableSize)
	}

	count := tableSize/4 - 1
	units := make([]unitEntry, count)
	prev := tableSize
	for i := range units {
		next := f.fs.endian.Uint32(fork[4*(i+1) : 4*(i+2)])
		if next < prev {
			return nil, errs.New(errs.FsCorrupt, op, "block table offsets not ascending")
		}
		units[i] = unitEntry{offset: prev, length: next - prev}
		prev = next
	}
	return units, nil
}

// decompressZlibUnit inflates one zlib compression unit. A first byte
// with the low nibble set marks a unit stored uncompressed.
func decompressZlibUnit(raw []byte, want int) ([]byte, error) {
	const op = "apfs.decompressZlibUnit"

	if len(raw) == 0 {
		return nil, errs.New(errs.FsCorrupt, op, "empty compression unit")
	}
	if raw[0]&0x0F == 0x0F {
		return raw[1:], nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(errs.FsCorrupt, op, err)
	}
	defer zr.Close()

	unc := make([]byte, 0, want)
	buf := bytes.NewBuffer(unc)
	if _, err := io.CopyN(buf, zr, int64(want)); err != nil && err != io.EOF {
		return nil, errs.Wrap(errs.FsCorrupt, op, err)
	}
	return buf.Bytes(), nil
}

// decompressLzvnUnit decodes one LZVN compression unit. A first byte of
// 0x06 marks a unit stored uncompressed.
func decompressLzvnUnit(raw []byte, want int) ([]byte, error) {
	const op = "apfs.decompressLzvnUnit"

	if len(raw) == 0 {
		return nil, errs.New(errs.FsCorrupt, op, "empty compression unit")
	}
	if raw[0] == 0x06 {
		return raw[1:], nil
	}

	unc := make([]byte, want)
	n := lzfse.DecodeLZVNBuffer(raw, unc)
	if n == 0 {
		return nil, errs.New(errs.FsCorrupt, op, "decoding compression unit")
	}
	return unc[:n], nil
}
