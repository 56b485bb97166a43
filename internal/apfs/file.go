package apfs

import (
	"io"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// Run is one contiguous extent of a data stream, in block units.
type Run struct {
	Addr     int64
	Offset   uint64
	Len      uint64
	CryptoID uint64

	// Sparse marks a hole; Addr is meaningless and reads return zeros.
	Sparse bool

	// Encrypted marks a run whose blocks need the volume-encryption key.
	Encrypted bool
}

// Xattr is an extended attribute of a file, either resident in the
// record or backed by its own data stream.
type Xattr struct {
	Name   string
	Inline []byte
	Runs   []Run
	Size   uint64
}

// Resident reports whether the attribute data is embedded in the record.
func (x *Xattr) Resident() bool {
	return x.Runs == nil
}

// Metadata is the decoded inode of a file. Timestamps are nanoseconds
// since the Unix epoch.
type Metadata struct {
	Inum       uint64
	ParentInum uint64
	Name       string
	Mode       types.ModeT
	Nlink      int32
	Size       uint64
	AllocSize  uint64
	Uid        uint32
	Gid        uint32

	CreateTime uint64
	ModTime    uint64
	ChangeTime uint64
	AccessTime uint64

	BsdFlags      uint32
	InternalFlags uint64

	// Link is the symlink target, for symlinks.
	Link string

	// CloneOf is the object id whose data stream this file shares, or
	// zero when the file is not a clone.
	CloneOf uint64

	Compressed bool
}

// ItemType returns the file's type nibble from its mode.
func (m *Metadata) ItemType() uint16 {
	return uint16(m.Mode&types.SIfmt) >> 12
}

// File is an open file-system object: its metadata plus the runs and
// attributes needed to read its content. File implements io.ReaderAt
// over the default data stream.
type File struct {
	fs   *FileSystem
	Meta Metadata

	dataRuns []Run
	rsrc     *Xattr
	decmpfs  []byte

	// Xattrs holds the remaining extended attributes, with the
	// well-known compression and symlink attributes already consumed.
	Xattrs []Xattr
}

// FileByInum opens the file-system object with the given inode number.
func (fs *FileSystem) FileByInum(inum uint64) (*File, error) {
	const op = "apfs.FileByInum"

	j, err := fs.jobj(inum)
	if err != nil {
		return nil, err
	}
	if !j.Valid() {
		return nil, errs.New(errs.FsInodeNum, op, "inode %d not found", inum)
	}
	return fs.fileFromJObj(j)
}

// fileFromJObj builds a File out of an assembled record set: metadata
// from the inode, data runs with clone substitution, and the extended
// attributes sorted into their roles.
func (fs *FileSystem) fileFromJObj(j *JObj) (*File, error) {
	f := &File{fs: fs}
	f.Meta = Metadata{
		Inum:          j.Oid,
		ParentInum:    j.Inode.ParentId & types.ObjIdMask,
		Name:          j.Name,
		Mode:          j.Inode.Mode,
		Nlink:         j.Inode.NchildrenOrNlink,
		Size:          j.Size,
		AllocSize:     j.SizeOnDisk,
		Uid:           uint32(j.Inode.Owner),
		Gid:           uint32(j.Inode.Group),
		CreateTime:    j.Inode.CreateTime,
		ModTime:       j.Inode.ModTime,
		ChangeTime:    j.Inode.ChangeTime,
		AccessTime:    j.Inode.AccessTime,
		BsdFlags:      j.Inode.BsdFlags,
		InternalFlags: j.Inode.InternalFlags,
	}

	// Clones carry no extents of their own; the data stream lives under
	// the private id of the object they were cloned from.
	extents := j.Extents
	if len(extents) == 0 && j.IsClone {
		f.Meta.CloneOf = j.Inode.PrivateId & types.ObjIdMask
		cj, err := fs.jobj(f.Meta.CloneOf)
		if err != nil {
			return nil, err
		}
		extents = cj.Extents
	}
	f.dataRuns = runsFromExtents(extents, fs.BlockSize())

	for i := range j.InlineXattrs {
		x := &j.InlineXattrs[i]
		switch x.Name {
		case types.XattrDecmpfs:
			f.decmpfs = x.Data
		case types.XattrSymlink:
			f.Meta.Link = cstring(x.Data)
		default:
			f.Xattrs = append(f.Xattrs, Xattr{
				Name:   x.Name,
				Inline: x.Data,
				Size:   uint64(len(x.Data)),
			})
		}
	}

	for i := range j.NonresXattrs {
		x := &j.NonresXattrs[i]
		xj, err := fs.jobj(x.Oid)
		if err != nil {
			return nil, err
		}
		attr := Xattr{
			Name: x.Name,
			Runs: runsFromExtents(xj.Extents, fs.BlockSize()),
			Size: x.Size,
		}
		if x.Name == types.XattrResourceFork {
			f.rsrc = &attr
			continue
		}
		f.Xattrs = append(f.Xattrs, attr)
	}

	if f.decmpfs != nil {
		hdr, err := parseDecmpfsHeader(fs.endian, f.decmpfs)
		if err != nil {
			return nil, err
		}
		f.Meta.Compressed = true
		f.Meta.Size = hdr.UncompressedSize
	}

	return f, nil
}

// runsFromExtents converts file-extent records into block runs.
func runsFromExtents(extents []Extent, blockSize uint32) []Run {
	if len(extents) == 0 {
		return nil
	}
	bs := uint64(blockSize)
	runs := make([]Run, 0, len(extents))
	for _, e := range extents {
		runs = append(runs, Run{
			Addr:      int64(e.Phys),
			Offset:    e.Offset / bs,
			Len:       e.Len / bs,
			CryptoID:  e.CryptoID,
			Sparse:    e.Phys == 0,
			Encrypted: e.CryptoID != 0,
		})
	}
	return runs
}

// Runs returns the block runs of the default data stream.
func (f *File) Runs() []Run {
	return f.dataRuns
}

// ResourceFork returns the resource fork attribute, or nil.
func (f *File) ResourceFork() *Xattr {
	return f.rsrc
}

// Size returns the file's logical size. For compressed files this is
// the uncompressed size from the compression header.
func (f *File) Size() uint64 {
	return f.Meta.Size
}

// ReadAt reads the default data stream, decompressing and decrypting as
// needed. It implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.Meta.Compressed {
		return f.readCompressed(p, off)
	}
	return f.fs.readRuns(f.dataRuns, f.Meta.Size, p, off)
}

// Reader returns a sequential reader over the file content.
func (f *File) Reader() io.Reader {
	return io.NewSectionReader(f, 0, int64(f.Size()))
}

// ReadXattrAt reads the content of an extended attribute.
func (f *File) ReadXattrAt(x *Xattr, p []byte, off int64) (int, error) {
	if x.Resident() {
		if off < 0 || off >= int64(len(x.Inline)) {
			return 0, io.EOF
		}
		n := copy(p, x.Inline[off:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}
	return f.fs.readRuns(x.Runs, x.Size, p, off)
}

// readRuns reads bytes [off, off+len(p)) of a data stream laid out by
// runs, bounded by the stream's logical size. Holes read as zeros;
// encrypted runs are decrypted when the volume is unlocked.
func (fs *FileSystem) readRuns(runs []Run, size uint64, p []byte, off int64) (int, error) {
	const op = "apfs.readRuns"

	if off < 0 {
		return 0, errs.New(errs.FsArg, op, "negative offset %d", off)
	}
	if uint64(off) >= size {
		return 0, io.EOF
	}

	eof := false
	if uint64(off)+uint64(len(p)) > size {
		p = p[:size-uint64(off)]
		eof = true
	}

	bs := uint64(fs.BlockSize())
	n := 0
	for n < len(p) {
		pos := uint64(off) + uint64(n)
		blk := pos / bs
		inBlk := pos % bs

		run := findRun(runs, blk)
		want := int(bs - inBlk)
		if want > len(p)-n {
			want = len(p) - n
		}

		if run == nil || run.Sparse {
			for i := 0; i < want; i++ {
				p[n+i] = 0
			}
			n += want
			continue
		}

		phys := run.Addr + int64(blk-run.Offset)
		data, err := fs.src.ReadBlock(phys)
		if err != nil {
			return n, errs.Wrap(errs.FsRead, op, err)
		}
		if run.Encrypted && fs.Unlocked() {
			dec := make([]byte, len(data))
			copy(dec, data)
			if err := fs.DecryptBlock(phys, dec); err != nil {
				return n, err
			}
			data = dec
		}
		n += copy(p[n:n+want], data[inBlk:])
	}

	if eof {
		return n, io.EOF
	}
	return n, nil
}

// findRun locates the run covering the given logical block.
func findRun(runs []Run, blk uint64) *Run {
	for i := range runs {
		r := &runs[i]
		if blk >= r.Offset && blk < r.Offset+r.Len {
			return r
		}
	}
	return nil
}
