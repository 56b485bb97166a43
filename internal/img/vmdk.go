package img

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// vmdkImage reads monolithic-sparse VMDK extents. The grain directory
// points at grain tables; a zero grain-table or grain entry reads as
// zeros. Compressed (streamOptimized) extents are rejected.
type vmdkImage struct {
	path string
	f    *os.File

	size         int64
	grainBytes   int64
	gtCoverage   int64 // bytes covered by one grain table
	numGTEsPerGT uint32
	gd           []uint32

	// one-slot grain-table cache
	lastGT    int64
	lastTable []uint32
}

func openVmdk(paths []string) (*vmdkImage, error) {
	const op = "img.openVmdk"

	if len(paths) != 1 {
		return nil, errs.New(errs.AuxArg, op, "monolithic VMDK images use exactly one file, got %d", len(paths))
	}
	f, err := os.Open(paths[0])
	if err != nil {
		return nil, errs.Wrap(errs.ImgOpen, op, err)
	}
	v := &vmdkImage{path: paths[0], f: f, lastGT: -1}

	var hdr [512]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.ImgRead, op, err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != types.VmdkMagic {
		f.Close()
		return nil, errs.New(errs.ImgUnknownType, op, "missing KDMV magic")
	}

	capacity := binary.LittleEndian.Uint64(hdr[12:20])   // sectors
	grainSize := binary.LittleEndian.Uint64(hdr[20:28])  // sectors
	v.numGTEsPerGT = binary.LittleEndian.Uint32(hdr[44:48])
	gdOffset := binary.LittleEndian.Uint64(hdr[56:64]) // sectors
	compressAlgorithm := binary.LittleEndian.Uint16(hdr[77:79])

	if compressAlgorithm != 0 {
		f.Close()
		return nil, errs.New(errs.ImgUnsupType, op, "compressed VMDK extents are not supported")
	}
	if grainSize == 0 || v.numGTEsPerGT == 0 {
		f.Close()
		return nil, errs.New(errs.ImgUnknownType, op, "invalid sparse header geometry")
	}

	v.size = int64(capacity) * 512
	v.grainBytes = int64(grainSize) * 512
	v.gtCoverage = v.grainBytes * int64(v.numGTEsPerGT)

	numTables := (v.size + v.gtCoverage - 1) / v.gtCoverage
	raw := make([]byte, 4*numTables)
	if _, err := f.ReadAt(raw, int64(gdOffset)*512); err != nil && err != io.EOF {
		f.Close()
		return nil, errs.Wrap(errs.ImgRead, op, err)
	}
	v.gd = make([]uint32, numTables)
	for i := range v.gd {
		v.gd[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return v, nil
}

func (v *vmdkImage) imgType() Type      { return TypeVmdk }
func (v *vmdkImage) Size() int64        { return v.size }
func (v *vmdkImage) SectorSize() uint32 { return 0 }
func (v *vmdkImage) Paths() []string    { return []string{v.path} }

func (v *vmdkImage) ReadAt(p []byte, off int64) (int, error) {
	const op = "vmdk.ReadAt"

	if off < 0 || off >= v.size {
		return 0, errs.New(errs.ImgOffsetTooLarge, op, "offset %d outside image of %d bytes", off, v.size)
	}

	total := 0
	for total < len(p) && off+int64(total) < v.size {
		cur := off + int64(total)
		want := int64(len(p) - total)
		if rem := v.grainBytes - cur%v.grainBytes; want > rem {
			want = rem
		}
		if rem := v.size - cur; want > rem {
			want = rem
		}

		grainOff, err := v.grainLocation(cur)
		if err != nil {
			return total, err
		}
		if grainOff == 0 {
			for i := int64(0); i < want; i++ {
				p[total+int(i)] = 0
			}
		} else {
			dataOff := grainOff + cur%v.grainBytes
			if _, err := v.f.ReadAt(p[total:total+int(want)], dataOff); err != nil && err != io.EOF {
				return total, errs.Wrap(errs.ImgRead, op, err)
			}
		}
		total += int(want)
	}
	return total, nil
}

// grainLocation returns the file offset of the grain covering the byte
// offset, or zero for an unallocated grain.
func (v *vmdkImage) grainLocation(off int64) (int64, error) {
	const op = "vmdk.grainLocation"

	gdIdx := off / v.gtCoverage
	if gdIdx >= int64(len(v.gd)) || v.gd[gdIdx] == 0 {
		return 0, nil
	}

	if gdIdx != v.lastGT {
		raw := make([]byte, 4*v.numGTEsPerGT)
		if _, err := v.f.ReadAt(raw, int64(v.gd[gdIdx])*512); err != nil && err != io.EOF {
			return 0, errs.Wrap(errs.ImgRead, op, err)
		}
		table := make([]uint32, v.numGTEsPerGT)
		for i := range table {
			table[i] = binary.LittleEndian.Uint32(raw[4*i:])
		}
		v.lastGT, v.lastTable = gdIdx, table
	}

	gtIdx := (off % v.gtCoverage) / v.grainBytes
	entry := v.lastTable[gtIdx]
	if entry == 0 {
		return 0, nil
	}
	return int64(entry) * 512, nil
}

func (v *vmdkImage) Close() error {
	return v.f.Close()
}
