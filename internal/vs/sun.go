package vs

import (
	"fmt"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// Sector addresses of the two VTOC variants. The sparc label sits in the
// first sector; the i386 label in the second.
const (
	sunSparcSectorOffset = 0
	sunI386SectorOffset  = 1
)

// Byte offsets inside a 512-byte Sun disk label. The magic sits at the
// same place in both variants; the sanity value distinguishes them.
const (
	sunSparcNumPartsOff = 140
	sunSparcPartMetaOff = 142
	sunSparcSanityOff   = 188
	sunSparcNumHeadOff  = 436
	sunSparcSecPerTrOff = 438
	sunSparcLayoutOff   = 444

	sunI386SanityOff   = 12
	sunI386NumPartsOff = 30
	sunI386PartsOff    = 40

	sunMagicOff = 508
)

// sunDesc returns the display string for a VTOC slot tag.
func sunDesc(fstype uint16) string {
	switch fstype {
	case 0:
		return "Unassigned (0x00)"
	case 1:
		return "boot (0x01)"
	case 2:
		return "/ (0x02)"
	case 3:
		return "swap (0x03)"
	case 4:
		return "/usr/ (0x04)"
	case 5:
		return "backup (0x05)"
	case 6:
		return "stand (0x06)"
	case 7:
		return "/var/ (0x07)"
	case 8:
		return "/home/ (0x08)"
	case 9:
		return "alt sector (0x09)"
	case 10:
		return "cachefs (0x0A)"
	}
	return fmt.Sprintf("Unknown Type (0x%.4x)", fstype)
}

// sunLoadSparc parses a sparc VTOC. Slot starts are in cylinders and are
// converted with the label's geometry.
func (v *VolumeSystem) sunLoadSparc(buf []byte) error {
	const op = "vs.sunLoadSparc"

	cylConv := uint64(v.endian.Uint16(buf[sunSparcSecPerTrOff:])) *
		uint64(v.endian.Uint16(buf[sunSparcNumHeadOff:]))

	numParts := int(v.endian.Uint16(buf[sunSparcNumPartsOff:]))
	if numParts > types.SunMaxPartsSparc {
		numParts = types.SunMaxPartsSparc
	}

	maxAddr := v.maxAddr()
	for i := 0; i < numParts; i++ {
		meta := buf[sunSparcPartMetaOff+4*i:]
		layout := buf[sunSparcLayoutOff+8*i:]
		slot := types.SunPartSparcT{
			StartCyl: v.endian.Uint32(layout),
			SizeSec:  v.endian.Uint32(layout[4:]),
		}
		tag := v.endian.Uint16(meta)

		if slot.SizeSec == 0 {
			continue
		}
		start := cylConv * uint64(slot.StartCyl)
		if i < 2 && start > maxAddr {
			return errs.New(errs.VsBlockNum, op,
				"slot %d starts at sector %d past end of image", i, start)
		}

		flag := FlagAlloc
		// The backup slot spans the whole disk.
		if tag == 5 && start == 0 {
			flag = FlagMeta
		}
		v.partitionAdd(start, uint64(slot.SizeSec), flag, sunDesc(tag), -1, int8(i))
	}
	return nil
}

// sunLoadI386 parses an i386 VTOC; slot starts are already in sectors.
func (v *VolumeSystem) sunLoadI386(buf []byte) error {
	const op = "vs.sunLoadI386"

	numParts := int(v.endian.Uint16(buf[sunI386NumPartsOff:]))
	if numParts > types.SunMaxPartsI386 {
		numParts = types.SunMaxPartsI386
	}

	maxAddr := v.maxAddr()
	for i := 0; i < numParts; i++ {
		raw := buf[sunI386PartsOff+12*i:]
		slot := types.SunPartI386T{
			Tag:      v.endian.Uint16(raw),
			Flag:     v.endian.Uint16(raw[2:]),
			StartSec: v.endian.Uint32(raw[4:]),
			SizeSec:  v.endian.Uint32(raw[8:]),
		}

		if slot.SizeSec == 0 {
			continue
		}
		if i < 2 && uint64(slot.StartSec) > maxAddr {
			return errs.New(errs.VsBlockNum, op,
				"slot %d starts at sector %d past end of image", i, slot.StartSec)
		}

		flag := FlagAlloc
		if slot.Tag == 5 && slot.StartSec == 0 {
			flag = FlagMeta
		}
		v.partitionAdd(uint64(slot.StartSec), uint64(slot.SizeSec),
			flag, sunDesc(slot.Tag), -1, int8(i))
	}
	return nil
}

// sunLoadTable finds which variant is present. The sparc label lives in
// the first sector; when only the magic matches there, the i386 label in
// the second sector is tried.
func (v *VolumeSystem) sunLoadTable() error {
	const op = "vs.sunLoadTable"

	buf := make([]byte, v.blockSize)
	if _, err := v.readBlocks(sunSparcSectorOffset, buf); err != nil {
		return err
	}

	if endian, ok := guess16(buf[sunMagicOff:], types.SunMagic); ok {
		v.endian = endian
		if endian.Uint32(buf[sunSparcSanityOff:]) == types.SunSanityVtoc {
			return v.sunLoadSparc(buf)
		}
		if endian.Uint32(buf[sunI386SanityOff:]) == types.SunSanityVtoc {
			return v.sunLoadI386(buf)
		}
	}

	if _, err := v.readBlocks(sunI386SectorOffset, buf); err != nil {
		return err
	}
	endian, ok := guess16(buf[sunMagicOff:], types.SunMagic)
	if !ok {
		return errs.New(errs.VsMagic, op, "invalid Sun disk label magic")
	}
	v.endian = endian
	if endian.Uint32(buf[sunI386SanityOff:]) != types.SunSanityVtoc {
		return errs.New(errs.VsMagic, op, "invalid Sun VTOC sanity value")
	}
	return v.sunLoadI386(buf)
}

// sunOpen parses a Sun VTOC at the given offset.
func sunOpen(image interfaces.Image, offset int64) (*VolumeSystem, error) {
	v := &VolumeSystem{
		img:       image,
		vsType:    TypeSun,
		offset:    offset,
		blockSize: image.SectorSize(),
	}
	if err := v.sunLoadTable(); err != nil {
		return nil, err
	}
	return v, nil
}
