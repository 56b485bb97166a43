package img

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// vhdImage reads fixed and dynamic VHD virtual disks. Differencing disks
// are rejected. VHD metadata is big-endian.
type vhdImage struct {
	path string
	f    *os.File

	diskType uint32
	size     int64

	// dynamic-disk state
	blockSize  int64
	bat        []uint32
	bitmapSize int64 // padded sector-bitmap bytes preceding block data
}

func openVhd(paths []string) (*vhdImage, error) {
	const op = "img.openVhd"

	if len(paths) != 1 {
		return nil, errs.New(errs.AuxArg, op, "VHD images use exactly one file, got %d", len(paths))
	}
	f, err := os.Open(paths[0])
	if err != nil {
		return nil, errs.Wrap(errs.ImgOpen, op, err)
	}
	v := &vhdImage{path: paths[0], f: f}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.ImgOpen, op, err)
	}
	if st.Size() < 512 {
		f.Close()
		return nil, errs.New(errs.ImgUnknownType, op, "file too small for a VHD footer")
	}

	var footer [512]byte
	if _, err := f.ReadAt(footer[:], st.Size()-512); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.ImgRead, op, err)
	}
	if !bytes.Equal(footer[:8], types.VhdCookie[:]) {
		f.Close()
		return nil, errs.New(errs.ImgUnknownType, op, "missing conectix footer")
	}

	v.size = int64(binary.BigEndian.Uint64(footer[48:56])) // current size
	v.diskType = binary.BigEndian.Uint32(footer[60:64])

	switch v.diskType {
	case types.VhdTypeFixed:
		// media bytes precede the footer verbatim
	case types.VhdTypeDynamic:
		dynOffset := int64(binary.BigEndian.Uint64(footer[16:24]))
		if err := v.parseDynHeader(dynOffset); err != nil {
			f.Close()
			return nil, err
		}
	default:
		f.Close()
		return nil, errs.New(errs.ImgUnsupType, op, "unsupported VHD disk type %d", v.diskType)
	}
	return v, nil
}

func (v *vhdImage) parseDynHeader(off int64) error {
	const op = "vhd.parseDynHeader"

	var hdr [1024]byte
	if _, err := v.f.ReadAt(hdr[:], off); err != nil {
		return errs.Wrap(errs.ImgRead, op, err)
	}
	if !bytes.Equal(hdr[:8], types.VhdDynCookie[:]) {
		return errs.New(errs.ImgUnknownType, op, "missing cxsparse header")
	}

	tableOffset := int64(binary.BigEndian.Uint64(hdr[16:24]))
	maxEntries := binary.BigEndian.Uint32(hdr[28:32])
	v.blockSize = int64(binary.BigEndian.Uint32(hdr[32:36]))
	if v.blockSize == 0 || v.blockSize%512 != 0 {
		return errs.New(errs.ImgUnknownType, op, "invalid block size %d", v.blockSize)
	}

	// the sector bitmap before each block is padded to a 512 boundary
	bitmapBytes := v.blockSize / 512 / 8
	v.bitmapSize = (bitmapBytes + 511) &^ 511

	raw := make([]byte, 4*maxEntries)
	if _, err := v.f.ReadAt(raw, tableOffset); err != nil {
		return errs.Wrap(errs.ImgRead, op, err)
	}
	v.bat = make([]uint32, maxEntries)
	for i := range v.bat {
		v.bat[i] = binary.BigEndian.Uint32(raw[4*i:])
	}
	return nil
}

func (v *vhdImage) imgType() Type      { return TypeVhd }
func (v *vhdImage) Size() int64        { return v.size }
func (v *vhdImage) SectorSize() uint32 { return 0 }
func (v *vhdImage) Paths() []string    { return []string{v.path} }

func (v *vhdImage) ReadAt(p []byte, off int64) (int, error) {
	const op = "vhd.ReadAt"

	if off < 0 || off >= v.size {
		return 0, errs.New(errs.ImgOffsetTooLarge, op, "offset %d outside image of %d bytes", off, v.size)
	}

	if v.diskType == types.VhdTypeFixed {
		n, err := v.f.ReadAt(p, off)
		if err != nil && err != io.EOF {
			return n, errs.Wrap(errs.ImgRead, op, err)
		}
		return n, nil
	}

	total := 0
	for total < len(p) && off+int64(total) < v.size {
		cur := off + int64(total)
		block := cur / v.blockSize
		inBlock := cur % v.blockSize
		want := int64(len(p)-total)
		if rem := v.blockSize - inBlock; want > rem {
			want = rem
		}
		if rem := v.size - cur; want > rem {
			want = rem
		}

		if int(block) >= len(v.bat) || v.bat[block] == types.VhdBatUnused {
			// unallocated blocks read as zeros
			for i := int64(0); i < want; i++ {
				p[total+int(i)] = 0
			}
		} else {
			dataOff := int64(v.bat[block])*512 + v.bitmapSize + inBlock
			if _, err := v.f.ReadAt(p[total:total+int(want)], dataOff); err != nil && err != io.EOF {
				return total, errs.Wrap(errs.ImgRead, op, err)
			}
		}
		total += int(want)
	}
	return total, nil
}

func (v *vhdImage) Close() error {
	return v.f.Close()
}
