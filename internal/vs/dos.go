package vs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// dosSectorOffset is the sector holding the primary DOS table.
const dosSectorOffset = 0

// dosMaxExtDepth caps the extended-table chain. Real disks nest a handful
// of logical partitions; anything deeper is a crafted loop the
// duplicate-start check did not catch.
const dosMaxExtDepth = 64

// dosIsExt reports whether a partition type code marks an extended
// partition, whose first sector holds another table.
func dosIsExt(ptype uint8) bool {
	switch ptype {
	case types.DosTypeExtended, types.DosTypeExtendedL, types.DosTypeExtendedH:
		return true
	}
	return false
}

// dosDesc returns the display string for a partition type code.
func dosDesc(ptype uint8) string {
	switch ptype {
	case 0x00:
		return "Empty (0x00)"
	case 0x01:
		return "DOS FAT12 (0x01)"
	case 0x04, 0x06:
		return fmt.Sprintf("DOS FAT16 (0x%.2x)", ptype)
	case 0x05:
		return "DOS Extended (0x05)"
	case 0x07:
		return "NTFS / exFAT (0x07)"
	case 0x0B, 0x0C:
		return fmt.Sprintf("Win95 FAT32 (0x%.2x)", ptype)
	case 0x0E:
		return "Win95 FAT16 (0x0e)"
	case 0x0F:
		return "Win95 Extended (0x0f)"
	case 0x11:
		return "DOS FAT12 Hidden (0x11)"
	case 0x12:
		return "Hibernation (0x12)"
	case 0x14, 0x16:
		return fmt.Sprintf("DOS FAT16 Hidden (0x%.2x)", ptype)
	case 0x17:
		return "Hidden IFS/HPFS (0x17)"
	case 0x1B, 0x1C:
		return fmt.Sprintf("Win95 FAT32 Hidden (0x%.2x)", ptype)
	case 0x1E:
		return "Win95 FAT16 Hidden (0x1e)"
	case 0x42:
		return "Win LVM / Secure FS (0x42)"
	case 0x82:
		return "Linux Swap / Solaris x86 (0x82)"
	case 0x83:
		return "Linux (0x83)"
	case 0x85:
		return "Linux Extended (0x85)"
	case 0x86, 0x87:
		return fmt.Sprintf("NTFS Volume Set (0x%.2x)", ptype)
	case 0x8E:
		return "Linux Logical Volume Manager (0x8e)"
	case 0xA5:
		return "BSD/386, 386BSD, NetBSD, FreeBSD (0xa5)"
	case 0xA6:
		return "OpenBSD (0xa6)"
	case 0xA8:
		return "Mac OS X (0xa8)"
	case 0xAB:
		return "Mac OS X Boot Partition (0xab)"
	case 0xAF:
		return "Mac OS X HFS (0xaf)"
	case 0xEE:
		return "GPT Safety Partition (0xee)"
	case 0xEF:
		return "EFI System Partition (0xef)"
	case 0xFB:
		return "VMWare File System (0xfb)"
	case 0xFC:
		return "VMWare Swap (0xfc)"
	}
	return fmt.Sprintf("Unknown Type (0x%.2x)", ptype)
}

// parseDosSector decodes a 512-byte boot sector into its table entries.
// The magic is not checked here.
func parseDosSector(buf []byte, endian binary.ByteOrder) (*types.DosSectorT, error) {
	sect := &types.DosSectorT{}
	if err := binary.Read(bytes.NewReader(buf), endian, sect); err != nil {
		return nil, err
	}
	return sect, nil
}

// dosLoadExtTable walks one extended-partition table and recurses into
// nested ones. sectCur is the table's own sector; sectExtBase is the
// start of the primary extended partition, which nested extended entries
// are relative to.
func (v *VolumeSystem) dosLoadExtTable(sectCur, sectExtBase uint64, table int8, depth int) error {
	const op = "vs.dosLoadExtTable"

	if depth > dosMaxExtDepth {
		return errs.New(errs.VsBlockNum, op,
			"extended partition tables nested deeper than %d", dosMaxExtDepth)
	}

	buf := make([]byte, v.blockSize)
	if _, err := v.readBlocks(sectCur, buf); err != nil {
		return err
	}
	sect, err := parseDosSector(buf[:512], v.endian)
	if err != nil {
		return errs.Wrap(errs.VsRead, op, err)
	}
	if v.endian.Uint16(buf[510:512]) != types.DosMagic {
		return errs.New(errs.VsMagic, op,
			"extended DOS partition table in sector %d", sectCur)
	}

	v.partitionAdd(sectCur, 1, FlagMeta,
		fmt.Sprintf("Extended Table (#%d)", table), table, -1)

	for i := range sect.Ptable {
		part := &sect.Ptable[i]
		partStart := uint64(part.StartSec)
		partSize := uint64(part.SizeSec)

		// A start of 0 would recurse back into this very table.
		if partSize == 0 || partStart == 0 {
			continue
		}

		if dosIsExt(part.PType) {
			// Nested extended entries are relative to the primary
			// extended partition, not to this table.
			start := sectExtBase + partStart
			if v.partitionByStart(start) != nil {
				return errs.New(errs.VsBlockNum, op,
					"loop in extended partition tables at sector %d", start)
			}
			v.partitionAdd(start, partSize, FlagMeta, dosDesc(part.PType), table, int8(i))

			if start > v.maxAddr() {
				log.WithField("start", start).
					Debug("vs: extended table starts past end of image")
				continue
			}
			if err := v.dosLoadExtTable(start, sectExtBase, table+1, depth+1); err != nil {
				return err
			}
			continue
		}

		v.partitionAdd(sectCur+partStart, partSize, FlagAlloc,
			dosDesc(part.PType), table, int8(i))
	}
	return nil
}

// dosLoadPrimTable parses the MBR at sector 0. With test set, sectors
// that look like FAT or NTFS boot sectors are rejected, since those
// share the 0xAA55 magic without holding a partition table.
func (v *VolumeSystem) dosLoadPrimTable(test bool) error {
	const op = "vs.dosLoadPrimTable"

	buf := make([]byte, v.blockSize)
	if _, err := v.readBlocks(dosSectorOffset, buf); err != nil {
		return err
	}

	endian, ok := guess16(buf[510:512], types.DosMagic)
	if !ok {
		return errs.New(errs.VsMagic, op,
			"invalid primary DOS table magic in sector %d", dosSectorOffset)
	}
	v.endian = endian

	// FAT and NTFS boot sectors share the 0xAA55 magic. During
	// autodetection, a recognizable OEM name means this sector is a
	// filesystem, not a table.
	if test {
		oem := string(buf[3:8])
		for _, name := range []string{"MSDOS", "MSWIN", "NTFS", "FAT"} {
			if strings.HasPrefix(oem, name) {
				return errs.New(errs.VsMagic, op,
					"%s OEM name in boot sector, not a partition table", name)
			}
		}
	}

	sect, err := parseDosSector(buf[:512], endian)
	if err != nil {
		return errs.Wrap(errs.VsRead, op, err)
	}

	v.partitionAdd(dosSectorOffset, 1, FlagMeta, "Primary Table (#0)", -1, -1)

	added := false
	maxAddr := v.maxAddr()
	for i := range sect.Ptable {
		part := &sect.Ptable[i]
		partStart := uint64(part.StartSec)
		partSize := uint64(part.SizeSec)

		if partSize == 0 {
			continue
		}
		added = true

		// The first two slots must land inside the image; garbage
		// there means this is not a real table.
		if i < 2 && partStart > maxAddr {
			return errs.New(errs.VsBlockNum, op,
				"partition %d starts at sector %d past end of image", i, partStart)
		}

		if dosIsExt(part.PType) {
			v.partitionAdd(partStart, partSize, FlagMeta, dosDesc(part.PType), 0, int8(i))
			if err := v.dosLoadExtTable(partStart, partStart, 1, 0); err != nil {
				// A broken extended chain does not invalidate the
				// primary table entries already loaded.
				log.WithError(err).Debug("vs: extended table walk failed")
			}
			continue
		}

		v.partitionAdd(partStart, partSize, FlagAlloc, dosDesc(part.PType), 0, int8(i))
	}
	if !added {
		return errs.New(errs.VsMagic, op, "no valid entries in primary table")
	}
	return nil
}

// dosOpen parses a DOS/MBR partition table at the given offset.
func dosOpen(image interfaces.Image, offset int64, test bool) (*VolumeSystem, error) {
	v := &VolumeSystem{
		img:       image,
		vsType:    TypeDos,
		offset:    offset,
		blockSize: image.SectorSize(),
		endian:    binary.LittleEndian,
	}
	if err := v.dosLoadPrimTable(test); err != nil {
		return nil, err
	}
	return v, nil
}
