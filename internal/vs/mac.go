package vs

import (
	"bytes"
	"encoding/binary"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
	"github.com/deploymenttheory/go-disksleuth/internal/unicode"
)

// macSectorOffset is the sector of the first partition map entry. The map
// runs one entry per sector from there.
const macSectorOffset = 1

// macLoadTable parses the Mac partition map. Every entry restates the map
// size; the first one is trusted for the count.
func (v *VolumeSystem) macLoadTable() error {
	const op = "vs.macLoadTable"

	buf := make([]byte, v.blockSize)
	maxAddr := v.maxAddr()
	maxPart := uint32(1)

	for idx := uint32(0); idx < maxPart; idx++ {
		if _, err := v.readBlocks(macSectorOffset+uint64(idx), buf); err != nil {
			return err
		}

		if idx == 0 {
			endian, ok := guess16(buf[0:2], types.MacPartMagic)
			if !ok {
				return errs.New(errs.VsMagic, op,
					"missing partition map magic in first entry")
			}
			v.endian = endian
		} else if v.endian.Uint16(buf[0:2]) != types.MacPartMagic {
			return errs.New(errs.VsMagic, op,
				"missing partition map magic in entry %d", idx)
		}

		part := &types.MacPartT{}
		if err := binary.Read(bytes.NewReader(buf[:binary.Size(part)]), v.endian, part); err != nil {
			return errs.Wrap(errs.VsRead, op, err)
		}
		if idx == 0 {
			maxPart = part.MapCount
		}

		if part.SizeSec == 0 {
			continue
		}

		flag := FlagAlloc
		if part.Status == 0 {
			flag = FlagUnalloc
		}

		if idx < 2 && uint64(part.StartSec) > maxAddr {
			return errs.New(errs.VsBlockNum, op,
				"entry %d starts at sector %d past end of image", idx, part.StartSec)
		}

		p := v.partitionAdd(uint64(part.StartSec), uint64(part.SizeSec),
			flag, cString(part.Type[:]), -1, int8(idx))
		p.Name = cString(part.Name[:])
	}

	if len(v.parts) == 0 {
		return errs.New(errs.VsMagic, op, "no valid entries in partition map")
	}

	v.partitionAdd(macSectorOffset, uint64(maxPart), FlagMeta, "Table", -1, -1)
	return nil
}

// cString cuts a NUL-padded byte field down to a clean string.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return unicode.CleanupUTF8(string(b), '.')
}

// macOpen parses a Mac partition map at the given offset.
func macOpen(image interfaces.Image, offset int64) (*VolumeSystem, error) {
	v := &VolumeSystem{
		img:       image,
		vsType:    TypeMac,
		offset:    offset,
		blockSize: image.SectorSize(),
		endian:    binary.BigEndian,
	}
	if err := v.macLoadTable(); err != nil {
		return nil, err
	}
	return v, nil
}
