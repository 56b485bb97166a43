package vs

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"reflect"
	"testing"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// memImage serves a byte slice as an image for parser tests.
type memImage struct {
	data   []byte
	sector uint32
}

func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (m *memImage) Size() int64        { return int64(len(m.data)) }
func (m *memImage) SectorSize() uint32 { return m.sector }
func (m *memImage) Paths() []string    { return []string{"mem"} }
func (m *memImage) Close() error       { return nil }

func newMemImage(sectors int) *memImage {
	return &memImage{data: make([]byte, sectors*512), sector: 512}
}

// putDosEntry writes one primary table slot into sector 0.
func putDosEntry(img *memImage, slot int, ptype uint8, start, size uint32) {
	off := 446 + slot*16
	img.data[off+4] = ptype
	binary.LittleEndian.PutUint32(img.data[off+8:], start)
	binary.LittleEndian.PutUint32(img.data[off+12:], size)
}

func putDosMagic(img *memImage, sector int) {
	binary.LittleEndian.PutUint16(img.data[sector*512+510:], types.DosMagic)
}

func TestDosPrimaryTable(t *testing.T) {
	img := newMemImage(100)
	putDosMagic(img, 0)
	putDosEntry(img, 0, 0x83, 10, 20)
	putDosEntry(img, 1, 0x07, 50, 10)

	v, err := Open(img, 0, TypeDos)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if v.Type() != TypeDos {
		t.Fatalf("type = %v, want dos", v.Type())
	}

	want := []struct {
		start, length uint64
		flags         Flags
		desc          string
	}{
		{0, 1, FlagMeta, "Primary Table (#0)"},
		{0, 10, FlagUnalloc, "Unallocated"},
		{10, 20, FlagAlloc, "Linux (0x83)"},
		{30, 20, FlagUnalloc, "Unallocated"},
		{50, 10, FlagAlloc, "NTFS / exFAT (0x07)"},
		{60, 40, FlagUnalloc, "Unallocated"},
	}
	if v.Count() != len(want) {
		t.Fatalf("count = %d, want %d", v.Count(), len(want))
	}
	for i, w := range want {
		p := v.Partitions()[i]
		if p.Addr != i {
			t.Errorf("entry %d: addr = %d", i, p.Addr)
		}
		if p.Start != w.start || p.Len != w.length || p.Flags != w.flags || p.Desc != w.desc {
			t.Errorf("entry %d = {%d %d %v %q}, want {%d %d %v %q}",
				i, p.Start, p.Len, p.Flags, p.Desc, w.start, w.length, w.flags, w.desc)
		}
	}
}

func TestDosNoEntries(t *testing.T) {
	img := newMemImage(100)
	putDosMagic(img, 0)

	if _, err := Open(img, 0, TypeDos); !errs.Is(err, errs.VsMagic) {
		t.Fatalf("err = %v, want VsMagic", err)
	}
}

func TestDosOemNameRejectedInDetect(t *testing.T) {
	img := newMemImage(100)
	putDosMagic(img, 0)
	copy(img.data[3:], "NTFS    ")
	putDosEntry(img, 0, 0x83, 10, 20)

	if _, err := detect(img, 0); !errs.Is(err, errs.VsUnsupType) {
		t.Fatalf("err = %v, want VsUnsupType", err)
	}

	// An explicit type skips the boot-sector test.
	if _, err := Open(img, 0, TypeDos); err != nil {
		t.Fatalf("explicit open: %v", err)
	}
}

func TestDosExtendedTableLoop(t *testing.T) {
	img := newMemImage(200)
	putDosMagic(img, 0)
	putDosEntry(img, 0, 0x05, 100, 50)

	// Extended table at 100 whose extended entry points back at itself.
	binary.LittleEndian.PutUint16(img.data[100*512+510:], types.DosMagic)
	off := 100*512 + 446
	img.data[off+4] = 0x05
	binary.LittleEndian.PutUint32(img.data[off+8:], 0) // base-relative 0 = sector 100 again
	binary.LittleEndian.PutUint32(img.data[off+12:], 10)

	v, err := Open(img, 0, TypeDos)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// The zero start is skipped outright, so the walk ends after one
	// table: primary marker, extended meta entry, its table marker,
	// plus the gap fillers.
	var metas, allocs int
	for _, p := range v.Partitions() {
		switch {
		case p.Flags&FlagMeta != 0:
			metas++
		case p.Flags&FlagAlloc != 0:
			allocs++
		}
	}
	if metas != 3 || allocs != 0 {
		t.Fatalf("metas = %d allocs = %d, want 3 and 0", metas, allocs)
	}
}

func TestDosExtendedChain(t *testing.T) {
	img := newMemImage(300)
	putDosMagic(img, 0)
	putDosEntry(img, 0, 0x83, 10, 20)
	putDosEntry(img, 1, 0x05, 100, 100)

	// First extended table: one logical partition and a link onward.
	binary.LittleEndian.PutUint16(img.data[100*512+510:], types.DosMagic)
	off := 100*512 + 446
	img.data[off+4] = 0x83
	binary.LittleEndian.PutUint32(img.data[off+8:], 1)
	binary.LittleEndian.PutUint32(img.data[off+12:], 30)
	img.data[off+16+4] = 0x05
	binary.LittleEndian.PutUint32(img.data[off+16+8:], 50) // absolute 150
	binary.LittleEndian.PutUint32(img.data[off+16+12:], 50)

	// Second extended table: one logical partition.
	binary.LittleEndian.PutUint16(img.data[150*512+510:], types.DosMagic)
	off = 150*512 + 446
	img.data[off+4] = 0x07
	binary.LittleEndian.PutUint32(img.data[off+8:], 1)
	binary.LittleEndian.PutUint32(img.data[off+12:], 40)

	v, err := Open(img, 0, TypeDos)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	find := func(start uint64) *Partition {
		for _, p := range v.Partitions() {
			if p.Start == start && p.Flags&FlagAlloc != 0 {
				return p
			}
		}
		return nil
	}
	if p := find(101); p == nil || p.Desc != "Linux (0x83)" {
		t.Errorf("logical partition at 101 missing or wrong: %+v", p)
	}
	if p := find(151); p == nil || p.Desc != "NTFS / exFAT (0x07)" {
		t.Errorf("logical partition at 151 missing or wrong: %+v", p)
	}
	var marker *Partition
	for _, p := range v.Partitions() {
		if p.Start == 150 && p.Desc == "Extended Table (#2)" {
			marker = p
		}
	}
	if marker == nil || marker.Flags != FlagMeta {
		t.Errorf("nested table marker missing: %+v", marker)
	}
}

// buildGptImage lays out a protective MBR, a primary GPT header, and one
// APFS entry named "disk image".
func buildGptImage(t *testing.T, sectors int) *memImage {
	t.Helper()
	img := newMemImage(sectors)

	putDosMagic(img, 0)
	putDosEntry(img, 0, 0xEE, 1, uint32(sectors-1))

	head := img.data[512:]
	binary.LittleEndian.PutUint64(head[0:], types.GptMagic)
	binary.LittleEndian.PutUint32(head[8:], 0x00010000)
	binary.LittleEndian.PutUint32(head[12:], 92)
	binary.LittleEndian.PutUint64(head[24:], 1)
	binary.LittleEndian.PutUint64(head[32:], uint64(sectors-1))
	binary.LittleEndian.PutUint64(head[40:], 2)
	binary.LittleEndian.PutUint64(head[48:], uint64(sectors-2))
	binary.LittleEndian.PutUint64(head[72:], 2)   // entries LBA
	binary.LittleEndian.PutUint32(head[80:], 4)   // entry count
	binary.LittleEndian.PutUint32(head[84:], 128) // entry size

	ent := img.data[2*512:]
	copy(ent[0:], types.GptApfsTypeGuid[:])
	binary.LittleEndian.PutUint64(ent[32:], 10)
	binary.LittleEndian.PutUint64(ent[40:], 29)
	for i, r := range "disk image" {
		binary.LittleEndian.PutUint16(ent[56+2*i:], uint16(r))
	}

	raw := make([]byte, 92)
	copy(raw, head[:92])
	binary.LittleEndian.PutUint32(head[16:], crc32.ChecksumIEEE(raw))
	return img
}

func TestGptBehindSafetyMbr(t *testing.T) {
	img := buildGptImage(t, 100)

	v, err := Open(img, 0, TypeDetect)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if v.Type() != TypeGpt {
		t.Fatalf("type = %v, want gpt", v.Type())
	}

	want := []struct {
		start, length uint64
		flags         Flags
		desc          string
	}{
		{0, 1, FlagMeta, "Safety Table"},
		{0, 10, FlagUnalloc, "Unallocated"},
		{1, 1, FlagMeta, "GPT Header"},
		{2, 1, FlagMeta, "Partition Table"},
		{10, 20, FlagAlloc, "Apple APFS container"},
		{30, 70, FlagUnalloc, "Unallocated"},
	}
	if v.Count() != len(want) {
		t.Fatalf("count = %d, want %d", v.Count(), len(want))
	}
	for i, w := range want {
		p := v.Partitions()[i]
		if p.Start != w.start || p.Len != w.length || p.Flags != w.flags || p.Desc != w.desc {
			t.Errorf("entry %d = {%d %d %v %q}, want {%d %d %v %q}",
				i, p.Start, p.Len, p.Flags, p.Desc, w.start, w.length, w.flags, w.desc)
		}
	}

	if name := v.Partitions()[4].Name; name != "disk image" {
		t.Errorf("entry name = %q, want %q", name, "disk image")
	}
}

func TestGptDetectDeterminism(t *testing.T) {
	img := buildGptImage(t, 100)

	first, err := Open(img, 0, TypeDetect)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		v, err := Open(img, 0, TypeDetect)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if v.Count() != first.Count() {
			t.Fatalf("run %d: count %d != %d", i, v.Count(), first.Count())
		}
		for j := range v.Partitions() {
			a, b := v.Partitions()[j], first.Partitions()[j]
			if a.Start != b.Start || a.Len != b.Len || a.Desc != b.Desc {
				t.Fatalf("run %d entry %d differs", i, j)
			}
		}
	}
}

func TestDetectMultTypeConflict(t *testing.T) {
	img := newMemImage(100)
	putDosMagic(img, 0)
	putDosEntry(img, 0, 0x83, 10, 20)

	// A Mac partition map entry in sector 1 alongside a real DOS table.
	mac := img.data[512:]
	binary.BigEndian.PutUint16(mac[0:], types.MacPartMagic)
	binary.BigEndian.PutUint32(mac[4:], 1)  // map count
	binary.BigEndian.PutUint32(mac[8:], 10) // start
	binary.BigEndian.PutUint32(mac[12:], 5) // size
	copy(mac[16:], "data")
	copy(mac[48:], "Apple_HFS")
	binary.BigEndian.PutUint32(mac[88:], 1) // status

	if _, err := Open(img, 0, TypeDetect); !errs.Is(err, errs.VsMultType) {
		t.Fatalf("err = %v, want VsMultType", err)
	}
}

func TestBsdOverridesDos(t *testing.T) {
	img := newMemImage(100)
	putDosMagic(img, 0)
	putDosEntry(img, 0, 0xA5, 0, 100)

	label := img.data[512:]
	binary.LittleEndian.PutUint32(label[0:], types.BsdMagic)
	binary.LittleEndian.PutUint32(label[132:], types.BsdMagic)
	binary.LittleEndian.PutUint16(label[138:], 2)
	// Slot 0: 4.2BSD at 16, slot 1: swap at 60.
	binary.LittleEndian.PutUint32(label[148:], 40)
	binary.LittleEndian.PutUint32(label[152:], 16)
	label[160] = 0x07
	binary.LittleEndian.PutUint32(label[164:], 30)
	binary.LittleEndian.PutUint32(label[168:], 60)
	label[176] = 0x01

	v, err := Open(img, 0, TypeDetect)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if v.Type() != TypeBsd {
		t.Fatalf("type = %v, want bsd", v.Type())
	}

	var descs []string
	for _, p := range v.Partitions() {
		if p.Flags&FlagAlloc != 0 {
			descs = append(descs, p.Desc)
		}
	}
	if len(descs) != 2 || descs[0] != "4.2BSD (0x07)" || descs[1] != "Swap (0x01)" {
		t.Fatalf("alloc descs = %v", descs)
	}
}

func TestSunSparcLabel(t *testing.T) {
	img := newMemImage(200)
	buf := img.data
	binary.BigEndian.PutUint16(buf[sunMagicOff:], types.SunMagic)
	binary.BigEndian.PutUint32(buf[sunSparcSanityOff:], types.SunSanityVtoc)
	binary.BigEndian.PutUint16(buf[sunSparcNumPartsOff:], 2)
	binary.BigEndian.PutUint16(buf[sunSparcNumHeadOff:], 2)
	binary.BigEndian.PutUint16(buf[sunSparcSecPerTrOff:], 10)
	// Slot 0: root at cylinder 1 (sector 20). Slot 1: whole-disk backup.
	binary.BigEndian.PutUint16(buf[sunSparcPartMetaOff:], 2)
	binary.BigEndian.PutUint32(buf[sunSparcLayoutOff:], 1)
	binary.BigEndian.PutUint32(buf[sunSparcLayoutOff+4:], 40)
	binary.BigEndian.PutUint16(buf[sunSparcPartMetaOff+4:], 5)
	binary.BigEndian.PutUint32(buf[sunSparcLayoutOff+8:], 0)
	binary.BigEndian.PutUint32(buf[sunSparcLayoutOff+12:], 200)

	v, err := Open(img, 0, TypeSun)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var root, backup *Partition
	for _, p := range v.Partitions() {
		switch p.Desc {
		case "/ (0x02)":
			root = p
		case "backup (0x05)":
			backup = p
		}
	}
	if root == nil || root.Start != 20 || root.Len != 40 || root.Flags != FlagAlloc {
		t.Errorf("root slot wrong: %+v", root)
	}
	if backup == nil || backup.Flags != FlagMeta {
		t.Errorf("backup slot should be a meta entry: %+v", backup)
	}
}

func TestMacPartitionMap(t *testing.T) {
	img := newMemImage(100)
	for idx, ent := range []struct {
		start, size uint32
		name, typ   string
		status      uint32
	}{
		{30, 40, "data", "Apple_HFS", 0x33},
		{70, 10, "scratch", "Apple_Free", 0},
	} {
		e := img.data[(1+idx)*512:]
		binary.BigEndian.PutUint16(e[0:], types.MacPartMagic)
		binary.BigEndian.PutUint32(e[4:], 2)
		binary.BigEndian.PutUint32(e[8:], ent.start)
		binary.BigEndian.PutUint32(e[12:], ent.size)
		copy(e[16:], ent.name)
		copy(e[48:], ent.typ)
		binary.BigEndian.PutUint32(e[88:], ent.status)
	}

	v, err := Open(img, 0, TypeMac)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var hfs, free *Partition
	for _, p := range v.Partitions() {
		switch p.Desc {
		case "Apple_HFS":
			hfs = p
		case "Apple_Free":
			free = p
		}
	}
	if hfs == nil || hfs.Flags != FlagAlloc || hfs.Name != "data" {
		t.Errorf("HFS entry wrong: %+v", hfs)
	}
	if free == nil || free.Flags != FlagUnalloc {
		t.Errorf("zero-status entry should be unallocated: %+v", free)
	}
}

func TestWalkFilterAndStop(t *testing.T) {
	img := buildGptImage(t, 100)
	v, err := Open(img, 0, TypeDetect)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var metas int
	if err := v.Walk(0, v.Count()-1, FlagMeta, func(p *Partition) interfaces.WalkAction {
		metas++
		return interfaces.WalkContinue
	}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if metas != 3 {
		t.Errorf("meta walk visited %d, want 3", metas)
	}

	var visited int
	if err := v.Walk(0, v.Count()-1, FlagAll, func(p *Partition) interfaces.WalkAction {
		visited++
		return interfaces.WalkStop
	}); err != nil {
		t.Fatalf("walk stop: %v", err)
	}
	if visited != 1 {
		t.Errorf("stop walk visited %d, want 1", visited)
	}
}

func TestWalkAddressRange(t *testing.T) {
	img := buildGptImage(t, 100)
	v, err := Open(img, 0, TypeDetect)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	collect := func(start, end int) ([]int, error) {
		var addrs []int
		err := v.Walk(start, end, FlagAll, func(p *Partition) interfaces.WalkAction {
			addrs = append(addrs, p.Addr)
			return interfaces.WalkContinue
		})
		return addrs, err
	}

	addrs, err := collect(2, 4)
	if err != nil {
		t.Fatalf("walk [2,4]: %v", err)
	}
	if !reflect.DeepEqual(addrs, []int{2, 3, 4}) {
		t.Errorf("walk [2,4] visited %v, want [2 3 4]", addrs)
	}

	// An end address past the table is clamped to the last entry.
	addrs, err = collect(4, 100)
	if err != nil {
		t.Fatalf("walk [4,100]: %v", err)
	}
	if !reflect.DeepEqual(addrs, []int{4, 5}) {
		t.Errorf("walk [4,100] visited %v, want [4 5]", addrs)
	}

	if _, err := collect(v.Count(), v.Count()); !errs.Is(err, errs.VsArg) {
		t.Errorf("out-of-range start err = %v, want VsArg", err)
	}
	if _, err := collect(-1, 2); !errs.Is(err, errs.VsArg) {
		t.Errorf("negative start err = %v, want VsArg", err)
	}
	if _, err := collect(3, 1); !errs.Is(err, errs.VsArg) {
		t.Errorf("inverted range err = %v, want VsArg", err)
	}
}

func TestReadPartAt(t *testing.T) {
	img := buildGptImage(t, 100)
	copy(img.data[10*512:], "container bytes")

	v, err := Open(img, 0, TypeDetect)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p := v.Partitions()[4]
	if p.Flags != FlagAlloc {
		t.Fatalf("entry 4 is not the allocated partition: %+v", p)
	}

	buf := make([]byte, 15)
	if _, err := v.ReadPartAt(p, buf, 0); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "container bytes" {
		t.Errorf("read %q", buf)
	}

	if _, err := v.ReadPartAt(p, buf, int64(p.Len)*512); !errs.Is(err, errs.VsArg) {
		t.Errorf("out-of-range read err = %v, want VsArg", err)
	}
}

func TestOpenBadOffset(t *testing.T) {
	img := newMemImage(10)
	if _, err := Open(img, 100, TypeDetect); !errs.Is(err, errs.VsArg) {
		t.Fatalf("err = %v, want VsArg", err)
	}
}
