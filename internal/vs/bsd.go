package vs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// bsdSectorOffset is the sector holding the disklabel, one past the boot
// sector.
const bsdSectorOffset = 1

// bsdDesc returns the display string for a disklabel filesystem type.
func bsdDesc(fstype uint8) string {
	switch fstype {
	case 0x00:
		return "Unused (0x00)"
	case 0x01:
		return "Swap (0x01)"
	case 0x02:
		return "Version 6 (0x02)"
	case 0x03:
		return "Version 7 (0x03)"
	case 0x04:
		return "System V (0x04)"
	case 0x05:
		return "4.1BSD (0x05)"
	case 0x06:
		return "Eighth Edition (0x06)"
	case 0x07:
		return "4.2BSD (0x07)"
	case 0x08:
		return "MSDOS (0x08)"
	case 0x09:
		return "4.4LFS (0x09)"
	case 0x0A:
		return "Unknown (0x0A)"
	case 0x0B:
		return "HPFS (0x0B)"
	case 0x0C:
		return "ISO9660 (0x0C)"
	case 0x0D:
		return "Boot (0x0D)"
	case 0x0E:
		return "Vinum (0x0E)"
	}
	return fmt.Sprintf("Unknown Type (0x%.2x)", fstype)
}

// bsdLoadTable parses the disklabel in the second sector. Slot starts
// are absolute device addresses, so entries before the label itself are
// normal.
func (v *VolumeSystem) bsdLoadTable() error {
	const op = "vs.bsdLoadTable"

	buf := make([]byte, v.blockSize)
	if _, err := v.readBlocks(bsdSectorOffset, buf); err != nil {
		return err
	}

	endian, ok := guess32(buf[0:4], types.BsdMagic)
	if !ok {
		return errs.New(errs.VsMagic, op, "invalid disklabel magic")
	}
	v.endian = endian

	label := &types.BsdDisklabelT{}
	if err := binary.Read(bytes.NewReader(buf), endian, label); err != nil {
		return errs.Wrap(errs.VsRead, op, err)
	}
	if label.Magic2 != types.BsdMagic {
		return errs.New(errs.VsMagic, op, "invalid trailing disklabel magic")
	}

	v.partitionAdd(bsdSectorOffset, 1, FlagMeta, "Partition Table", -1, -1)

	numParts := int(label.NumParts)
	if numParts > types.BsdMaxParts {
		numParts = types.BsdMaxParts
	}

	labelLen := binary.Size(label)
	maxAddr := v.maxAddr()
	for i := 0; i < numParts; i++ {
		slotOff := labelLen + i*binary.Size(types.BsdPartT{})
		if slotOff+16 > len(buf) {
			break
		}
		part := &types.BsdPartT{}
		if err := binary.Read(bytes.NewReader(buf[slotOff:slotOff+16]), endian, part); err != nil {
			return errs.Wrap(errs.VsRead, op, err)
		}

		if part.SizeSec == 0 {
			continue
		}
		if i < 2 && uint64(part.StartSec) > maxAddr {
			return errs.New(errs.VsBlockNum, op,
				"slot %d starts at sector %d past end of image", i, part.StartSec)
		}

		v.partitionAdd(uint64(part.StartSec), uint64(part.SizeSec),
			FlagAlloc, bsdDesc(part.FsType), -1, int8(i))
	}
	return nil
}

// bsdOpen parses a BSD disklabel at the given offset.
func bsdOpen(image interfaces.Image, offset int64) (*VolumeSystem, error) {
	v := &VolumeSystem{
		img:       image,
		vsType:    TypeBsd,
		offset:    offset,
		blockSize: image.SectorSize(),
		endian:    binary.LittleEndian,
	}
	if err := v.bsdLoadTable(); err != nil {
		return nil, err
	}
	return v, nil
}
