// Package vs implements the volume-system layer: partition-table parsing
// over an open image. Parsers exist for DOS/MBR (with extended tables),
// GPT, BSD disklabels, Sun VTOCs, and Mac partition maps. Open can probe
// all five and arbitrate when more than one matches, the way a dual-label
// disk has to be arbitrated.
package vs

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
)

// Type identifies a partition-table format.
type Type int

const (
	// TypeDetect asks Open to probe every parser.
	TypeDetect Type = iota
	TypeDos
	TypeBsd
	TypeSun
	TypeMac
	TypeGpt
)

func (t Type) String() string {
	switch t {
	case TypeDetect:
		return "auto"
	case TypeDos:
		return "dos"
	case TypeBsd:
		return "bsd"
	case TypeSun:
		return "sun"
	case TypeMac:
		return "mac"
	case TypeGpt:
		return "gpt"
	}
	return "unknown"
}

// ParseType maps a user-supplied type name to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "auto", "detect":
		return TypeDetect, nil
	case "dos", "mbr":
		return TypeDos, nil
	case "bsd":
		return TypeBsd, nil
	case "sun":
		return TypeSun, nil
	case "mac":
		return TypeMac, nil
	case "gpt":
		return TypeGpt, nil
	}
	return TypeDetect, errs.New(errs.VsUnsupType, "vs.ParseType",
		"unknown volume system type %q", s)
}

// Flags describes what a partition entry covers.
type Flags uint8

const (
	// FlagAlloc marks a partition a table entry points at.
	FlagAlloc Flags = 1 << iota

	// FlagUnalloc marks a gap filler between table entries.
	FlagUnalloc

	// FlagMeta marks sectors holding the table itself.
	FlagMeta

	// FlagAll matches every partition in a walk.
	FlagAll = FlagAlloc | FlagUnalloc | FlagMeta
)

// Partition is one entry in the sorted partition list. Start and Len are
// in sectors, relative to the volume system's offset.
type Partition struct {
	// Addr is the position in the sorted list, starting at 0.
	Addr int

	Start uint64
	Len   uint64
	Flags Flags
	Desc  string

	// Name is the UTF-16 entry name, decoded. Only GPT carries one.
	Name string

	// TableNum and SlotNum locate the entry in its table, or -1 for
	// entries the engine synthesized (gap fillers, table markers).
	TableNum int8
	SlotNum  int8
}

// VolumeSystem is an open, parsed partition table. The partition list is
// immutable after Open returns, so it is safe for concurrent use.
type VolumeSystem struct {
	img       interfaces.Image
	vsType    Type
	offset    int64
	blockSize uint32
	endian    binary.ByteOrder

	// isBackup is set when the GPT parser fell back to the secondary
	// header at the end of the disk.
	isBackup bool

	parts []*Partition
}

// Type returns the detected or requested table format.
func (v *VolumeSystem) Type() Type { return v.vsType }

// Offset returns the byte offset of the volume system in the image.
func (v *VolumeSystem) Offset() int64 { return v.offset }

// BlockSize returns the sector size the table addresses are in.
func (v *VolumeSystem) BlockSize() uint32 { return v.blockSize }

// Count returns the number of entries in the partition list, gap fillers
// and table markers included.
func (v *VolumeSystem) Count() int { return len(v.parts) }

// Partitions returns the sorted partition list.
func (v *VolumeSystem) Partitions() []*Partition { return v.parts }

// Part returns the partition at the given list address.
func (v *VolumeSystem) Part(addr int) (*Partition, error) {
	if addr < 0 || addr >= len(v.parts) {
		return nil, errs.New(errs.VsArg, "vs.Part",
			"partition address %d out of range [0, %d)", addr, len(v.parts))
	}
	return v.parts[addr], nil
}

// Walk calls cb for each partition with address in [start, end] whose
// flags intersect the filter, in start order. The end address is clamped
// to the last table entry; a WalkStop return ends the walk without error.
func (v *VolumeSystem) Walk(start, end int, filter Flags, cb func(*Partition) interfaces.WalkAction) error {
	if start < 0 || start >= len(v.parts) {
		return errs.New(errs.VsArg, "vs.Walk", "start address %d out of range [0, %d)", start, len(v.parts))
	}
	if end < start {
		return errs.New(errs.VsArg, "vs.Walk", "end address %d before start address %d", end, start)
	}
	if end >= len(v.parts) {
		end = len(v.parts) - 1
	}

	for _, p := range v.parts[start : end+1] {
		if p.Flags&filter == 0 {
			continue
		}
		switch cb(p) {
		case interfaces.WalkStop:
			return nil
		case interfaces.WalkError:
			return errs.New(errs.VsArg, "vs.Walk",
				"callback aborted at partition %d", p.Addr)
		}
	}
	return nil
}

// ReadBlock reads one sector at the given sector address, relative to the
// volume system's offset.
func (v *VolumeSystem) ReadBlock(addr uint64, buf []byte) (int, error) {
	if uint32(len(buf)) < v.blockSize {
		return 0, errs.New(errs.VsArg, "vs.ReadBlock",
			"buffer of %d bytes smaller than block size %d", len(buf), v.blockSize)
	}
	return v.readBlocks(addr, buf[:v.blockSize])
}

// ReadPartAt reads from a partition's contents at the given byte offset
// within the partition.
func (v *VolumeSystem) ReadPartAt(p *Partition, buf []byte, off int64) (int, error) {
	if off < 0 || uint64(off) >= p.Len*uint64(v.blockSize) {
		return 0, errs.New(errs.VsArg, "vs.ReadPartAt",
			"offset %d outside partition %d", off, p.Addr)
	}
	if max := int64(p.Len*uint64(v.blockSize)) - off; int64(len(buf)) > max {
		buf = buf[:max]
	}
	abs := v.offset + int64(p.Start)*int64(v.blockSize) + off
	n, err := v.img.ReadAt(buf, abs)
	if err != nil {
		return n, errs.Wrap(errs.VsRead, "vs.ReadPartAt", err)
	}
	return n, nil
}

// readBlocks reads len(buf) bytes starting at a sector address. Used by
// the parsers before the list is built, so it only depends on img, offset,
// and blockSize.
func (v *VolumeSystem) readBlocks(addr uint64, buf []byte) (int, error) {
	abs := v.offset + int64(addr)*int64(v.blockSize)
	n, err := v.img.ReadAt(buf, abs)
	if err != nil {
		return n, errs.Wrap(errs.VsRead, "vs.readBlocks", err)
	}
	return n, nil
}

// maxAddr returns the first sector address past the end of the image,
// relative to the volume system's offset.
func (v *VolumeSystem) maxAddr() uint64 {
	return uint64(v.img.Size()-v.offset) / uint64(v.blockSize)
}

// partitionAdd inserts an entry into the sorted list and renumbers the
// addresses. Table markers and gap fillers pass -1 for table and slot.
func (v *VolumeSystem) partitionAdd(start, length uint64, flags Flags, desc string, table, slot int8) *Partition {
	p := &Partition{
		Start:    start,
		Len:      length,
		Flags:    flags,
		Desc:     desc,
		TableNum: table,
		SlotNum:  slot,
	}
	i := sort.Search(len(v.parts), func(i int) bool {
		return v.parts[i].Start > start
	})
	v.parts = append(v.parts, nil)
	copy(v.parts[i+1:], v.parts[i:])
	v.parts[i] = p
	for j := i; j < len(v.parts); j++ {
		v.parts[j].Addr = j
	}
	return p
}

// partitionByStart returns the entry with the given start sector, or nil.
// The extended-table walker uses it to detect looping tables.
func (v *VolumeSystem) partitionByStart(start uint64) *Partition {
	for _, p := range v.parts {
		if p.Start == start {
			return p
		}
	}
	return nil
}

// unusedFill inserts "Unallocated" entries for the sector ranges no table
// entry covers, including the tail of the image. Table markers do not
// count as coverage.
func (v *VolumeSystem) unusedFill() {
	var prevEnd uint64
	for _, p := range append([]*Partition(nil), v.parts...) {
		if p.Flags&FlagMeta != 0 {
			continue
		}
		if p.Start > prevEnd {
			v.partitionAdd(prevEnd, p.Start-prevEnd, FlagUnalloc, "Unallocated", -1, -1)
		}
		prevEnd = p.Start + p.Len
	}
	if end := v.maxAddr(); prevEnd < end {
		v.partitionAdd(prevEnd, end-prevEnd, FlagUnalloc, "Unallocated", -1, -1)
	}
}

// Open parses the partition table at the given byte offset of the image.
// With TypeDetect it probes every parser and arbitrates between the ones
// that match; a conflict it cannot resolve is a VsMultType error.
func Open(image interfaces.Image, offset int64, typeHint Type) (*VolumeSystem, error) {
	const op = "vs.Open"

	if image == nil {
		return nil, errs.New(errs.VsArg, op, "no image")
	}
	sectorSize := image.SectorSize()
	if sectorSize == 0 {
		return nil, errs.New(errs.VsArg, op, "image reports sector size 0")
	}
	if offset < 0 || offset%int64(sectorSize) != 0 {
		return nil, errs.New(errs.VsArg, op,
			"offset %d is not a multiple of the sector size %d", offset, sectorSize)
	}

	if typeHint != TypeDetect {
		var (
			v   *VolumeSystem
			err error
		)
		switch typeHint {
		case TypeDos:
			v, err = dosOpen(image, offset, false)
		case TypeBsd:
			v, err = bsdOpen(image, offset)
		case TypeSun:
			v, err = sunOpen(image, offset)
		case TypeMac:
			v, err = macOpen(image, offset)
		case TypeGpt:
			v, err = gptOpen(image, offset)
		default:
			return nil, errs.New(errs.VsUnsupType, op,
				"unsupported volume system type %d", typeHint)
		}
		if err != nil {
			return nil, err
		}
		v.unusedFill()
		return v, nil
	}

	return detect(image, offset)
}

// detect probes every parser. DOS runs with its FAT/NTFS boot-sector test
// enabled so a filesystem starting at sector 0 is not mistaken for a
// table. BSD wins over DOS because a BSD disk keeps the DOS magic in its
// boot sector. A GPT beats the DOS safety table it hides behind; a backup
// GPT loses to a real DOS table. Everything else ends in VsMultType.
func detect(image interfaces.Image, offset int64) (*VolumeSystem, error) {
	const op = "vs.Open"

	var (
		prev     *VolumeSystem
		prevName string
	)

	if v, err := dosOpen(image, offset, true); err == nil {
		prev, prevName = v, "DOS"
	} else {
		log.WithField("offset", offset).Debugf("vs: not DOS: %v", err)
	}

	if v, err := bsdOpen(image, offset); err == nil {
		// BSD disks carry the DOS magic in the boot sector, so a BSD
		// match overrides a DOS one.
		prev, prevName = v, "BSD"
	} else {
		log.WithField("offset", offset).Debugf("vs: not BSD: %v", err)
	}

	if v, err := gptOpen(image, offset); err == nil {
		switch {
		case prevName == "DOS" && v.isBackup:
			// A leftover backup GPT on a re-partitioned DOS disk. The
			// DOS table is the live one.
			log.WithField("offset", offset).Debug("vs: ignoring secondary GPT")
		case prev != nil && prevName == "DOS" && hasGptSafety(prev):
			prev, prevName = v, "GPT"
		case prev != nil:
			return nil, errs.New(errs.VsMultType, op,
				"GPT or %s at offset %d", prevName, offset)
		default:
			prev, prevName = v, "GPT"
		}
	} else {
		log.WithField("offset", offset).Debugf("vs: not GPT: %v", err)
	}

	if v, err := sunOpen(image, offset); err == nil {
		if prev != nil {
			return nil, errs.New(errs.VsMultType, op,
				"Sun or %s at offset %d", prevName, offset)
		}
		prev, prevName = v, "Sun"
	} else {
		log.WithField("offset", offset).Debugf("vs: not Sun: %v", err)
	}

	if v, err := macOpen(image, offset); err == nil {
		if prev != nil {
			return nil, errs.New(errs.VsMultType, op,
				"Mac or %s at offset %d", prevName, offset)
		}
		prev, prevName = v, "Mac"
	} else {
		log.WithField("offset", offset).Debugf("vs: not Mac: %v", err)
	}

	if prev == nil {
		return nil, errs.New(errs.VsUnsupType, op,
			"no recognized volume system at offset %d", offset)
	}

	log.WithFields(log.Fields{
		"type":   prev.vsType.String(),
		"offset": offset,
		"parts":  len(prev.parts),
	}).Debug("vs: detected volume system")

	prev.unusedFill()
	return prev, nil
}

// hasGptSafety reports whether a DOS table is only the protective MBR of
// a GPT disk: a safety entry that starts in the first cylinder.
func hasGptSafety(v *VolumeSystem) bool {
	for _, p := range v.parts {
		if strings.HasPrefix(p.Desc, "GPT Safety") && p.Start <= 63 {
			return true
		}
	}
	return false
}

// guess16 finds the byte order that makes the 16-bit value at buf match
// want. Table magics double as the endian probe.
func guess16(buf []byte, want uint16) (binary.ByteOrder, bool) {
	if binary.LittleEndian.Uint16(buf) == want {
		return binary.LittleEndian, true
	}
	if binary.BigEndian.Uint16(buf) == want {
		return binary.BigEndian, true
	}
	return nil, false
}

// guess32 is guess16 for 32-bit magics.
func guess32(buf []byte, want uint32) (binary.ByteOrder, bool) {
	if binary.LittleEndian.Uint32(buf) == want {
		return binary.LittleEndian, true
	}
	if binary.BigEndian.Uint32(buf) == want {
		return binary.BigEndian, true
	}
	return nil, false
}

// String renders a partition list row the way the layout tools print it.
func (p *Partition) String() string {
	return fmt.Sprintf("%03d: %011d %011d %011d %s",
		p.Addr, p.Start, p.Start+p.Len-1, p.Len, p.Desc)
}
