package apfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/deploymenttheory/go-disksleuth/internal/apfs/btree"
	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/pool"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

const testBlockSize = 4096

var le = binary.LittleEndian

type memSource struct {
	blocks map[int64][]byte
}

func (s *memSource) ReadBlock(paddr int64) ([]byte, error) {
	b, ok := s.blocks[paddr]
	if !ok {
		return nil, fmt.Errorf("no block at %d", paddr)
	}
	return b, nil
}

func (s *memSource) BlockSize() uint32 { return testBlockSize }

func (s *memSource) BlockCount() uint64 { return 128 }

type kv struct {
	key []byte
	val []byte
}

// buildLeaf lays out a single-node tree: a root leaf with a variable
// sized table of contents and the info footer at the end of the block.
func buildLeaf(subtype uint32, xid uint64, entries []kv) []byte {
	const headerLen = 56
	const infoLen = 40

	blk := make([]byte, testBlockSize)

	le.PutUint64(blk[8:16], 0x500)
	le.PutUint64(blk[16:24], xid)
	le.PutUint32(blk[24:28], types.ObjectTypeBtree|types.ObjPhysical)
	le.PutUint32(blk[28:32], subtype)
	le.PutUint16(blk[32:34], types.BtnodeRoot|types.BtnodeLeaf)
	le.PutUint32(blk[36:40], uint32(len(entries)))

	tocLen := 8 * len(entries)
	le.PutUint16(blk[40:42], 0)
	le.PutUint16(blk[42:44], uint16(tocLen))

	keyBase := headerLen + tocLen
	valEnd := testBlockSize - infoLen

	kOff, back := 0, 0
	for i, e := range entries {
		copy(blk[keyBase+kOff:], e.key)
		back += len(e.val)
		copy(blk[valEnd-back:], e.val)

		toc := headerLen + 8*i
		le.PutUint16(blk[toc:toc+2], uint16(kOff))
		le.PutUint16(blk[toc+2:toc+4], uint16(len(e.key)))
		le.PutUint16(blk[toc+4:toc+6], uint16(back))
		le.PutUint16(blk[toc+6:toc+8], uint16(len(e.val)))
		kOff += len(e.key)
	}

	base := testBlockSize - infoLen
	le.PutUint32(blk[base+4:base+8], testBlockSize)

	le.PutUint64(blk[0:8], obj.Checksum(blk))
	return blk
}

func jkey(oid uint64, typ uint8, suffix []byte) []byte {
	k := make([]byte, 8+len(suffix))
	le.PutUint64(k[0:8], oid|uint64(typ)<<types.ObjTypeShift)
	copy(k[8:], suffix)
	return k
}

const (
	tsCreate = uint64(1609459200) * 1e9
	tsMod    = uint64(1612137600) * 1e9
	tsAdded  = uint64(1614556800) * 1e9
)

func inodeVal(parent, private uint64, mode types.ModeT, nlink int32, bsdflags uint32, xf []byte) []byte {
	v := make([]byte, 92)
	le.PutUint64(v[0:8], parent)
	le.PutUint64(v[8:16], private)
	le.PutUint64(v[16:24], tsCreate)
	le.PutUint64(v[24:32], tsMod)
	le.PutUint64(v[32:40], tsMod)
	le.PutUint64(v[40:48], tsMod)
	le.PutUint32(v[56:60], uint32(nlink))
	le.PutUint32(v[68:72], bsdflags)
	le.PutUint32(v[72:76], 501)
	le.PutUint32(v[76:80], 20)
	le.PutUint16(v[80:82], uint16(mode))
	return append(v, xf...)
}

type xf struct {
	typ  uint8
	data []byte
}

func xfieldBlob(fields ...xf) []byte {
	b := make([]byte, 4+4*len(fields))
	le.PutUint16(b[0:2], uint16(len(fields)))
	for i, f := range fields {
		b[4+i*4] = f.typ
		le.PutUint16(b[4+i*4+2:4+i*4+4], uint16(len(f.data)))
	}
	for _, f := range fields {
		b = append(b, f.data...)
		if pad := (8 - len(f.data)%8) % 8; pad != 0 {
			b = append(b, make([]byte, pad)...)
		}
	}
	return b
}

func nameXf(name string) xf {
	return xf{types.InoExtTypeName, append([]byte(name), 0)}
}

func dstreamXf(size, alloced uint64) xf {
	d := make([]byte, 40)
	le.PutUint64(d[0:8], size)
	le.PutUint64(d[8:16], alloced)
	return xf{types.InoExtTypeDstream, d}
}

func drecKey(oid uint64, name string) []byte {
	suffix := make([]byte, 4+len(name)+1)
	le.PutUint32(suffix[0:4], uint32(len(name)+1)&types.JDrecLenMask)
	copy(suffix[4:], name)
	return jkey(oid, uint8(types.JObjTypeDirRec), suffix)
}

func drecVal(fileID, dateAdded uint64, flags uint16) []byte {
	v := make([]byte, 18)
	le.PutUint64(v[0:8], fileID)
	le.PutUint64(v[8:16], dateAdded)
	le.PutUint16(v[16:18], flags)
	return v
}

func extentKey(oid, logical uint64) []byte {
	suffix := make([]byte, 8)
	le.PutUint64(suffix, logical)
	return jkey(oid, uint8(types.JObjTypeFileExtent), suffix)
}

func extentVal(length, phys, crypto uint64) []byte {
	v := make([]byte, 24)
	le.PutUint64(v[0:8], length)
	le.PutUint64(v[8:16], phys)
	le.PutUint64(v[16:24], crypto)
	return v
}

func xattrKey(oid uint64, name string) []byte {
	suffix := make([]byte, 2+len(name)+1)
	le.PutUint16(suffix[0:2], uint16(len(name)+1))
	copy(suffix[2:], name)
	return jkey(oid, uint8(types.JObjTypeXattr), suffix)
}

func inlineXattrVal(data []byte) []byte {
	v := make([]byte, 4+len(data))
	le.PutUint16(v[0:2], uint16(types.XattrDataEmbedded))
	le.PutUint16(v[2:4], uint16(len(data)))
	copy(v[4:], data)
	return v
}

func streamXattrVal(oid, size, alloced uint64) []byte {
	v := make([]byte, 52)
	le.PutUint16(v[0:2], uint16(types.XattrDataStream))
	le.PutUint16(v[2:4], 48)
	le.PutUint64(v[4:12], oid)
	le.PutUint64(v[12:20], size)
	le.PutUint64(v[20:28], alloced)
	return v
}

func compressAttr(compType uint32, size uint64, payload []byte) []byte {
	v := make([]byte, types.DecmpfsHeaderLen+len(payload))
	le.PutUint32(v[0:4], types.DecmpfsMagic)
	le.PutUint32(v[4:8], compType)
	le.PutUint64(v[8:16], size)
	copy(v[16:], payload)
	return v
}

func deflate(t *testing.T, plain []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		t.Fatalf("compressing fixture: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("compressing fixture: %v", err)
	}
	return buf.Bytes()
}

func filler(n int, b byte) []byte {
	d := make([]byte, n)
	for i := range d {
		d[i] = b
	}
	return d
}

// testVolume carries the full fixture: a single-leaf object tree with a
// root directory and one file of each interesting shape.
func testVolume(t *testing.T) (*FileSystem, *memSource) {
	t.Helper()

	plain100 := filler(100, 'z')
	plain300 := filler(300, 'q')

	// LZVN resource fork: a one-entry block table and one unit stored
	// with the raw marker byte.
	fork := make([]byte, 8, 8+1+len(plain300))
	le.PutUint32(fork[0:4], 8)
	le.PutUint32(fork[4:8], uint32(8+1+len(plain300)))
	fork = append(fork, 0x06)
	fork = append(fork, plain300...)

	entries := []kv{
		// Root directory.
		{jkey(2, uint8(types.JObjTypeInode), nil),
			inodeVal(1, 2, types.SIfdir|0755, 5, 0, xfieldBlob(nameXf("root")))},
		{drecKey(2, "clone.txt"), drecVal(12, tsAdded+2, uint16(types.DtReg))},
		{drecKey(2, "comp"), drecVal(13, tsAdded+3, uint16(types.DtReg))},
		{drecKey(2, "file.txt"), drecVal(10, tsAdded, uint16(types.DtReg))},
		{drecKey(2, "link"), drecVal(11, tsAdded+1, uint16(types.DtLnk))},
		{drecKey(2, "lz"), drecVal(14, tsAdded+4, uint16(types.DtReg))},

		// Regular file: one real extent and one sparse tail.
		{jkey(10, uint8(types.JObjTypeInode), nil),
			inodeVal(2, 10, types.SIfreg|0644, 1, types.BsdUfHidden,
				xfieldBlob(nameXf("file.txt"), dstreamXf(6000, 8192)))},
		{extentKey(10, 0), extentVal(4096, 50, 0)},
		{extentKey(10, 4096), extentVal(4096, 0, 0)},

		// Symlink.
		{jkey(11, uint8(types.JObjTypeInode), nil),
			inodeVal(2, 11, types.SIflnk|0755, 1, 0, xfieldBlob(nameXf("link")))},
		{xattrKey(11, types.XattrSymlink), inlineXattrVal(append([]byte("file.txt"), 0))},

		// Clone of inode 10: no extents of its own.
		{jkey(12, uint8(types.JObjTypeInode), nil),
			inodeVal(2, 10, types.SIfreg|0644, 1, 0,
				xfieldBlob(nameXf("clone.txt"), dstreamXf(6000, 8192)))},

		// Inline zlib compressed file.
		{jkey(13, uint8(types.JObjTypeInode), nil),
			inodeVal(2, 13, types.SIfreg|0644, 1, types.BsdUfCompressed,
				xfieldBlob(nameXf("comp")))},
		{xattrKey(13, types.XattrDecmpfs),
			inlineXattrVal(compressAttr(types.DecmpfsTypeZlibAttr, 100, deflate(t, plain100)))},

		// LZVN resource-fork compressed file.
		{jkey(14, uint8(types.JObjTypeInode), nil),
			inodeVal(2, 14, types.SIfreg|0644, 1, types.BsdUfCompressed,
				xfieldBlob(nameXf("lz")))},
		{xattrKey(14, types.XattrDecmpfs),
			inlineXattrVal(compressAttr(types.DecmpfsTypeLzvnRsrc, 300, nil))},
		{xattrKey(14, types.XattrResourceFork), streamXattrVal(200, uint64(len(fork)), 4096)},

		// The resource fork's own data stream.
		{extentKey(200, 0), extentVal(4096, 60, 0)},
	}

	forkBlock := make([]byte, testBlockSize)
	copy(forkBlock, fork)

	src := &memSource{blocks: map[int64][]byte{
		2:  buildLeaf(types.ObjectTypeFstree, 9, entries),
		50: filler(testBlockSize, 'A'),
		60: forkBlock,
	}}

	tree, err := btree.NewTree(src, 2, le, nil)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	fs := &FileSystem{
		src:    src,
		endian: le,
		root:   tree,
		vol:    &pool.Volume{Sb: &types.ApfsSuperblockT{}},
	}
	return fs, src
}

func TestFileByInumRegularFile(t *testing.T) {
	fs, _ := testVolume(t)

	f, err := fs.FileByInum(10)
	if err != nil {
		t.Fatalf("FileByInum(10): %v", err)
	}

	m := &f.Meta
	if m.Name != "file.txt" || m.Size != 6000 || m.AllocSize != 8192 {
		t.Fatalf("meta = %q/%d/%d, want file.txt/6000/8192", m.Name, m.Size, m.AllocSize)
	}
	if m.Uid != 501 || m.Gid != 20 || m.Nlink != 1 {
		t.Fatalf("ownership = %d/%d nlink %d", m.Uid, m.Gid, m.Nlink)
	}
	if m.CreateTime != tsCreate || m.ModTime != tsMod {
		t.Fatalf("timestamps = %d/%d", m.CreateTime, m.ModTime)
	}
	if m.ItemType() != uint16(types.SIfreg)>>12 {
		t.Fatalf("item type = %d", m.ItemType())
	}
	if m.CloneOf != 0 || m.Compressed {
		t.Fatal("regular file reported as clone or compressed")
	}

	runs := f.Runs()
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Addr != 50 || runs[0].Len != 1 || runs[0].Sparse {
		t.Fatalf("run 0 = %+v", runs[0])
	}
	if !runs[1].Sparse {
		t.Fatalf("run 1 = %+v, want sparse", runs[1])
	}

	// A read across the extent boundary sees data then the hole.
	buf := make([]byte, 200)
	if _, err := f.ReadAt(buf, 4000); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i := 0; i < 96; i++ {
		if buf[i] != 'A' {
			t.Fatalf("byte %d = %q, want A", i, buf[i])
		}
	}
	for i := 96; i < 200; i++ {
		if buf[i] != 0 {
			t.Fatalf("sparse byte %d = %q, want 0", i, buf[i])
		}
	}

	// Reads clip at the logical size.
	n, err := f.ReadAt(make([]byte, 100), 5950)
	if err != io.EOF {
		t.Fatalf("ReadAt past size: err = %v, want EOF", err)
	}
	if n != 50 {
		t.Fatalf("ReadAt past size: n = %d, want 50", n)
	}

	content, err := io.ReadAll(f.Reader())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(content) != 6000 {
		t.Fatalf("read %d bytes, want 6000", len(content))
	}
}

func TestFileByInumMissing(t *testing.T) {
	fs, _ := testVolume(t)
	_, err := fs.FileByInum(99)
	if !errs.Is(err, errs.FsInodeNum) {
		t.Fatalf("FileByInum(99): %v, want FsInodeNum", err)
	}
}

func TestSymlinkTarget(t *testing.T) {
	fs, _ := testVolume(t)

	f, err := fs.FileByInum(11)
	if err != nil {
		t.Fatalf("FileByInum(11): %v", err)
	}
	if f.Meta.Link != "file.txt" {
		t.Fatalf("link target = %q", f.Meta.Link)
	}
	if len(f.Xattrs) != 0 {
		t.Fatalf("symlink attribute leaked into xattr list: %+v", f.Xattrs)
	}
}

func TestCloneSharesDataStream(t *testing.T) {
	fs, _ := testVolume(t)

	f, err := fs.FileByInum(12)
	if err != nil {
		t.Fatalf("FileByInum(12): %v", err)
	}
	if f.Meta.CloneOf != 10 {
		t.Fatalf("CloneOf = %d, want 10", f.Meta.CloneOf)
	}

	orig, err := fs.FileByInum(10)
	if err != nil {
		t.Fatalf("FileByInum(10): %v", err)
	}

	a := make([]byte, 64)
	b := make([]byte, 64)
	if _, err := f.ReadAt(a, 1000); err != nil {
		t.Fatalf("clone ReadAt: %v", err)
	}
	if _, err := orig.ReadAt(b, 1000); err != nil {
		t.Fatalf("orig ReadAt: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("clone reads different content than the original")
	}
}

func TestCompressedInlineZlib(t *testing.T) {
	fs, _ := testVolume(t)

	f, err := fs.FileByInum(13)
	if err != nil {
		t.Fatalf("FileByInum(13): %v", err)
	}
	if !f.Meta.Compressed {
		t.Fatal("file not marked compressed")
	}
	if f.Size() != 100 {
		t.Fatalf("Size = %d, want 100", f.Size())
	}

	got, err := io.ReadAll(f.Reader())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, filler(100, 'z')) {
		t.Fatalf("decompressed content differs: %q", got)
	}

	// Offsets into the decompressed stream work too.
	buf := make([]byte, 10)
	if _, err := f.ReadAt(buf, 90); err != nil && err != io.EOF {
		t.Fatalf("ReadAt(90): %v", err)
	}
	if !bytes.Equal(buf, filler(10, 'z')) {
		t.Fatalf("tail read = %q", buf)
	}
}

func TestCompressedLzvnResourceFork(t *testing.T) {
	fs, _ := testVolume(t)

	f, err := fs.FileByInum(14)
	if err != nil {
		t.Fatalf("FileByInum(14): %v", err)
	}
	if f.ResourceFork() == nil {
		t.Fatal("resource fork not attached")
	}
	if f.Size() != 300 {
		t.Fatalf("Size = %d, want 300", f.Size())
	}

	got, err := io.ReadAll(f.Reader())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, filler(300, 'q')) {
		t.Fatalf("decompressed content differs: %q", got)
	}
}

func TestOpenDirAndLookupPath(t *testing.T) {
	fs, _ := testVolume(t)

	d, err := fs.OpenDir(2)
	if err != nil {
		t.Fatalf("OpenDir(2): %v", err)
	}
	if len(d.Entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(d.Entries))
	}

	ent := d.Lookup(fs, "file.txt")
	if ent == nil || ent.FileID != 10 {
		t.Fatalf("Lookup(file.txt) = %+v", ent)
	}
	if ent.ItemType() != types.DtReg {
		t.Fatalf("item type = %d, want %d", ent.ItemType(), types.DtReg)
	}
	if ent.DateAdded != tsAdded {
		t.Fatalf("date added = %d, want %d", ent.DateAdded, tsAdded)
	}

	// The volume is case sensitive, so a case mismatch is a miss.
	if d.Lookup(fs, "FILE.TXT") != nil {
		t.Fatal("case-sensitive lookup matched a different case")
	}

	inum, err := fs.LookupPath("/file.txt")
	if err != nil {
		t.Fatalf("LookupPath: %v", err)
	}
	if inum != 10 {
		t.Fatalf("LookupPath = %d, want 10", inum)
	}

	if _, err := fs.LookupPath("/missing"); !errs.Is(err, errs.FsInodeNum) {
		t.Fatalf("LookupPath(missing): %v, want FsInodeNum", err)
	}

	// Opening a non-directory fails.
	if _, err := fs.OpenDir(10); !errs.Is(err, errs.FsArg) {
		t.Fatalf("OpenDir(10): %v, want FsArg", err)
	}
}

func TestNameCmpFolding(t *testing.T) {
	fs, _ := testVolume(t)

	if fs.NameCmp("File.TXT", "file.txt") == 0 {
		t.Fatal("case-sensitive volume folded case")
	}

	fs.vol.Sb.ApfsIncompatibleFeatures |= types.ApfsIncompatCaseInsensitive
	if fs.NameCmp("File.TXT", "file.txt") != 0 {
		t.Fatal("case-insensitive volume did not fold case")
	}

	// Folding goes beyond simple lowercasing: the long s (U+017F) and
	// the Kelvin sign (U+212A) have no lowercase mapping to s and k.
	if fs.NameCmp("ſecret", "SECRET") != 0 {
		t.Fatal("long s did not fold to s")
	}
	if fs.NameCmp("Kelvin", "kelvin") != 0 {
		t.Fatal("Kelvin sign did not fold to k")
	}
	if fs.NameCmp("ÉCLAIR", "éclair") != 0 {
		t.Fatal("accented capital did not fold")
	}
}

func TestInodeWalk(t *testing.T) {
	fs, _ := testVolume(t)

	var inums []uint64
	err := fs.InodeWalk(0, ^uint64(0), func(f *File) interfaces.WalkAction {
		inums = append(inums, f.Meta.Inum)
		return interfaces.WalkContinue
	})
	if err != nil {
		t.Fatalf("InodeWalk: %v", err)
	}

	want := []uint64{2, 10, 11, 12, 13, 14}
	if len(inums) != len(want) {
		t.Fatalf("walked %v, want %v", inums, want)
	}
	for i := range want {
		if inums[i] != want[i] {
			t.Fatalf("walked %v, want %v", inums, want)
		}
	}

	// A bounded walk sees only the requested range.
	inums = nil
	err = fs.InodeWalk(10, 12, func(f *File) interfaces.WalkAction {
		inums = append(inums, f.Meta.Inum)
		return interfaces.WalkContinue
	})
	if err != nil {
		t.Fatalf("InodeWalk(10,12): %v", err)
	}
	if len(inums) != 3 || inums[0] != 10 || inums[2] != 12 {
		t.Fatalf("bounded walk = %v", inums)
	}

	// Stopping early is not an error.
	count := 0
	err = fs.InodeWalk(0, ^uint64(0), func(*File) interfaces.WalkAction {
		count++
		return interfaces.WalkStop
	})
	if err != nil {
		t.Fatalf("InodeWalk stop: %v", err)
	}
	if count != 1 {
		t.Fatalf("callback ran %d times after stop", count)
	}

	if err := fs.InodeWalk(5, 4, nil); !errs.Is(err, errs.FsArg) {
		t.Fatalf("inverted range: %v, want FsArg", err)
	}
}

func TestDateAdded(t *testing.T) {
	fs, _ := testVolume(t)

	f, err := fs.FileByInum(13)
	if err != nil {
		t.Fatalf("FileByInum(13): %v", err)
	}
	added, err := f.DateAdded()
	if err != nil {
		t.Fatalf("DateAdded: %v", err)
	}
	if added != tsAdded+3 {
		t.Fatalf("date added = %d, want %d", added, tsAdded+3)
	}
}

func TestIstatReport(t *testing.T) {
	fs, _ := testVolume(t)

	var buf strings.Builder
	if err := fs.Istat(&buf, 10, 0); err != nil {
		t.Fatalf("Istat(10): %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"INode Number: 10",
		"Type:\tRegular File",
		"Mode:\t-rw-r--r--",
		"Size:\t6000",
		"owner / group: 501 / 20",
		"Number of Links: 1",
		"Filename:\tfile.txt",
		"BSD flags:\t0x00008000",
		"hidden",
		"2021-01-01 00:00:00",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("istat output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := fs.Istat(&buf, 12, 0); err != nil {
		t.Fatalf("Istat(12): %v", err)
	}
	if !strings.Contains(buf.String(), "(clone of INode 10)") {
		t.Fatalf("clone istat missing clone marker:\n%s", buf.String())
	}

	buf.Reset()
	if err := fs.Istat(&buf, 11, 0); err != nil {
		t.Fatalf("Istat(11): %v", err)
	}
	if !strings.Contains(buf.String(), "Symbolic link to:\tfile.txt") {
		t.Fatalf("symlink istat missing target:\n%s", buf.String())
	}
}

func TestSnapshots(t *testing.T) {
	fs, src := testVolume(t)

	snapVal := func(extentrefOid, createTime uint64, name string) []byte {
		v := make([]byte, 50+len(name)+1)
		le.PutUint64(v[0:8], extentrefOid)
		le.PutUint64(v[16:24], createTime)
		le.PutUint16(v[48:50], uint16(len(name)+1))
		copy(v[50:], name)
		return v
	}

	src.blocks[5] = buildLeaf(types.ObjectTypeSnapmetatree, 9, []kv{
		{jkey(4, uint8(types.JObjTypeSnapMetadata), nil), snapVal(77, tsCreate, "backup-1")},
		{jkey(8, uint8(types.JObjTypeSnapMetadata), nil), snapVal(0, tsMod, "backup-2")},
	})
	fs.vol.Sb.ApfsSnapMetaTreeOid = 5

	snaps, err := fs.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	if snaps[0].Xid != 4 || snaps[0].Name != "backup-1" || snaps[0].Dataless {
		t.Fatalf("snapshot 0 = %+v", snaps[0])
	}
	if snaps[1].Xid != 8 || !snaps[1].Dataless || snaps[1].Timestamp != tsMod {
		t.Fatalf("snapshot 1 = %+v", snaps[1])
	}
}

func buildOmapPhys(treeOid uint64) []byte {
	blk := make([]byte, testBlockSize)
	le.PutUint64(blk[8:16], 0x400)
	le.PutUint64(blk[16:24], 9)
	le.PutUint32(blk[24:28], types.ObjectTypeOmap|types.ObjPhysical)
	le.PutUint64(blk[48:56], treeOid)
	le.PutUint64(blk[0:8], obj.Checksum(blk))
	return blk
}

// buildOmapNode lays out a single-node object-map tree: a fixed
// key/value root leaf with the info footer at the end of the block.
func buildOmapNode(xid uint64, entries []kv) []byte {
	const headerLen = 56
	const infoLen = 40

	blk := make([]byte, testBlockSize)

	le.PutUint64(blk[8:16], 0x501)
	le.PutUint64(blk[16:24], xid)
	le.PutUint32(blk[24:28], types.ObjectTypeBtree|types.ObjPhysical)
	le.PutUint32(blk[28:32], types.ObjectTypeOmap)
	le.PutUint16(blk[32:34], types.BtnodeRoot|types.BtnodeLeaf|types.BtnodeFixedKvSize)
	le.PutUint32(blk[36:40], uint32(len(entries)))

	tocLen := 4 * len(entries)
	le.PutUint16(blk[40:42], 0)
	le.PutUint16(blk[42:44], uint16(tocLen))

	keyBase := headerLen + tocLen
	valEnd := testBlockSize - infoLen

	for i, e := range entries {
		copy(blk[keyBase+16*i:], e.key)
		copy(blk[valEnd-16*(i+1):], e.val)

		toc := headerLen + 4*i
		le.PutUint16(blk[toc:toc+2], uint16(16*i))
		le.PutUint16(blk[toc+2:toc+4], uint16(16*(i+1)))
	}

	base := testBlockSize - infoLen
	le.PutUint32(blk[base+4:base+8], testBlockSize)
	le.PutUint32(blk[base+8:base+12], 16)
	le.PutUint32(blk[base+12:base+16], 16)

	le.PutUint64(blk[0:8], obj.Checksum(blk))
	return blk
}

func omapKey(oid, xid uint64) []byte {
	k := make([]byte, 16)
	le.PutUint64(k[0:8], oid)
	le.PutUint64(k[8:16], xid)
	return k
}

func omapVal(paddr uint64) []byte {
	v := make([]byte, 16)
	le.PutUint32(v[4:8], testBlockSize)
	le.PutUint64(v[8:16], paddr)
	return v
}

// snapshotVolume builds a volume whose root tree resolves through the
// object map in two versions: transaction 9 is the live view with two
// files in the root directory, transaction 5 an older one with only the
// first file.
func snapshotVolume(t *testing.T) (*FileSystem, *memSource) {
	t.Helper()

	const rootTreeOid = 0x404

	live := []kv{
		{jkey(2, uint8(types.JObjTypeInode), nil),
			inodeVal(1, 2, types.SIfdir|0755, 2, 0, xfieldBlob(nameXf("root")))},
		{drecKey(2, "alpha.txt"), drecVal(10, tsAdded, uint16(types.DtReg))},
		{drecKey(2, "beta.txt"), drecVal(11, tsAdded+1, uint16(types.DtReg))},
		{jkey(10, uint8(types.JObjTypeInode), nil),
			inodeVal(2, 10, types.SIfreg|0644, 1, 0, xfieldBlob(nameXf("alpha.txt")))},
		{jkey(11, uint8(types.JObjTypeInode), nil),
			inodeVal(2, 11, types.SIfreg|0644, 1, 0, xfieldBlob(nameXf("beta.txt")))},
	}
	snap := []kv{
		{jkey(2, uint8(types.JObjTypeInode), nil),
			inodeVal(1, 2, types.SIfdir|0755, 2, 0, xfieldBlob(nameXf("root")))},
		{drecKey(2, "alpha.txt"), drecVal(10, tsAdded, uint16(types.DtReg))},
		{jkey(10, uint8(types.JObjTypeInode), nil),
			inodeVal(2, 10, types.SIfreg|0644, 1, 0, xfieldBlob(nameXf("alpha.txt")))},
	}

	src := &memSource{blocks: map[int64][]byte{
		1: buildOmapPhys(2),
		2: buildOmapNode(9, []kv{
			{omapKey(rootTreeOid, 5), omapVal(4)},
			{omapKey(rootTreeOid, 9), omapVal(3)},
		}),
		3: buildLeaf(types.ObjectTypeFstree, 9, live),
		4: buildLeaf(types.ObjectTypeFstree, 5, snap),
	}}

	fs := &FileSystem{
		src:    src,
		endian: le,
		vol: &pool.Volume{Sb: &types.ApfsSuperblockT{
			ApfsOmapOid:     1,
			ApfsRootTreeOid: rootTreeOid,
		}},
	}
	if err := fs.loadTrees(); err != nil {
		t.Fatalf("loadTrees: %v", err)
	}
	return fs, src
}

func TestSetSnapshotSwitchesView(t *testing.T) {
	fs, _ := snapshotVolume(t)

	names := func() []string {
		d, err := fs.OpenDir(2)
		if err != nil {
			t.Fatalf("OpenDir(2): %v", err)
		}
		var out []string
		for _, e := range d.Entries {
			out = append(out, e.Name)
		}
		return out
	}

	liveWant := []string{"alpha.txt", "beta.txt"}
	if got := names(); !reflect.DeepEqual(got, liveWant) {
		t.Fatalf("live listing = %v, want %v", got, liveWant)
	}
	if fs.SnapshotXid() != 0 {
		t.Fatalf("fresh volume pinned to transaction %d", fs.SnapshotXid())
	}

	if err := fs.SetSnapshot(5); err != nil {
		t.Fatalf("SetSnapshot(5): %v", err)
	}
	if fs.SnapshotXid() != 5 {
		t.Fatalf("pinned transaction = %d, want 5", fs.SnapshotXid())
	}
	if got := names(); !reflect.DeepEqual(got, []string{"alpha.txt"}) {
		t.Fatalf("snapshot listing = %v, want [alpha.txt]", got)
	}

	// The file created after the snapshot does not exist in it.
	if _, err := fs.FileByInum(11); !errs.Is(err, errs.FsInodeNum) {
		t.Fatalf("FileByInum(11) under snapshot: %v, want FsInodeNum", err)
	}

	// A transaction older than every mapping cannot be pinned, and the
	// current view stays selected.
	if err := fs.SetSnapshot(3); err == nil {
		t.Fatal("pinning a transaction with no mappings succeeded")
	}
	if fs.SnapshotXid() != 5 {
		t.Fatalf("failed pin moved the transaction to %d", fs.SnapshotXid())
	}

	if err := fs.SetSnapshot(0); err != nil {
		t.Fatalf("SetSnapshot(0): %v", err)
	}
	if got := names(); !reflect.DeepEqual(got, liveWant) {
		t.Fatalf("restored live listing = %v, want %v", got, liveWant)
	}
	if _, err := fs.FileByInum(11); err != nil {
		t.Fatalf("FileByInum(11) after restore: %v", err)
	}
}

func TestModeString(t *testing.T) {
	cases := []struct {
		mode types.ModeT
		want string
	}{
		{types.SIfreg | 0644, "-rw-r--r--"},
		{types.SIfdir | 0755, "drwxr-xr-x"},
		{types.SIflnk | 0777, "lrwxrwxrwx"},
		{types.SIfreg | types.SIsuid | 0755, "-rwsr-xr-x"},
		{types.SIfdir | types.SIsvtx | 0777, "drwxrwxrwt"},
	}
	for _, c := range cases {
		if got := modeString(c.mode); got != c.want {
			t.Fatalf("modeString(%o) = %q, want %q", c.mode, got, c.want)
		}
	}
}
