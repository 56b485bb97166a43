package apfs

import (
	"strings"

	"github.com/deploymenttheory/go-disksleuth/internal/apfs/btree"
	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// InodeCallback receives one file-system object during an inode walk.
type InodeCallback func(f *File) interfaces.WalkAction

// InodeWalk calls back for every object in [start, end] that carries an
// inode or file data, in ascending inode order. Object ids with nothing
// but orphaned records are skipped.
func (fs *FileSystem) InodeWalk(start, end uint64, cb InodeCallback) error {
	const op = "apfs.InodeWalk"

	if start > end {
		return errs.New(errs.FsArg, op, "start inode %d after end inode %d", start, end)
	}

	fs.mu.Lock()
	root := fs.root
	fs.mu.Unlock()

	it, err := root.Begin()
	if err != nil {
		return err
	}

	var cur *JObj
	flush := func() (interfaces.WalkAction, error) {
		if cur == nil || !cur.Valid() {
			return interfaces.WalkContinue, nil
		}
		f, err := fs.fileFromJObj(cur)
		if err != nil {
			return interfaces.WalkError, err
		}
		return cb(f), nil
	}

	for it.Valid() {
		ent := it.Entry()
		if len(ent.Key) < 8 {
			return errs.New(errs.FsCorrupt, op, "short record key")
		}
		oid := fs.endian.Uint64(ent.Key[0:8]) & types.ObjIdMask

		// Records are sorted by object id; past the end we are done.
		if oid > end {
			break
		}

		if cur == nil || cur.Oid != oid {
			act, err := flush()
			if err != nil {
				return err
			}
			switch act {
			case interfaces.WalkStop:
				return nil
			case interfaces.WalkError:
				return errs.New(errs.FsGenFs, op, "callback requested abort")
			}
			cur = &JObj{Oid: oid}
		}
		if oid >= start {
			if err := fs.addRecord(cur, ent); err != nil {
				return err
			}
		}

		if _, err := it.Next(); err != nil {
			return err
		}
	}

	if act, err := flush(); err != nil {
		return err
	} else if act == interfaces.WalkError {
		return errs.New(errs.FsGenFs, op, "callback requested abort")
	}
	return nil
}

// BlockFlags selects which blocks a block walk visits.
type BlockFlags uint8

const (
	// BlockAlloc visits blocks the space manager marks in use.
	BlockAlloc BlockFlags = 1 << iota

	// BlockUnalloc visits free blocks.
	BlockUnalloc
)

// BlockCallback receives one block address and its allocation state.
type BlockCallback func(addr int64, allocated bool) interfaces.WalkAction

// BlockWalk calls back for every block in [start, end] matching the
// flags. Allocation state comes from the container's space manager.
func (fs *FileSystem) BlockWalk(start, end int64, flags BlockFlags, cb BlockCallback) error {
	const op = "apfs.BlockWalk"

	if start < 0 || uint64(end) >= fs.pool.BlockCount() || start > end {
		return errs.New(errs.FsBlockNum, op, "bad block range [%d, %d]", start, end)
	}
	if flags == 0 {
		flags = BlockAlloc | BlockUnalloc
	}

	free, err := fs.pool.UnallocatedRanges()
	if err != nil {
		return err
	}

	unallocated := func(addr int64) bool {
		for _, r := range free {
			if addr >= int64(r.Start) && addr < int64(r.Start)+int64(r.Count) {
				return true
			}
		}
		return false
	}

	for addr := start; addr <= end; addr++ {
		alloc := !unallocated(addr)
		if alloc && flags&BlockAlloc == 0 {
			continue
		}
		if !alloc && flags&BlockUnalloc == 0 {
			continue
		}
		switch cb(addr, alloc) {
		case interfaces.WalkStop:
			return nil
		case interfaces.WalkError:
			return errs.New(errs.FsGenFs, op, "callback requested abort")
		}
	}
	return nil
}

// Dir is an opened directory: its inode plus its entries in tree order.
type Dir struct {
	File    *File
	Entries []ChildEntry
}

// OpenDir opens the directory with the given inode number.
func (fs *FileSystem) OpenDir(inum uint64) (*Dir, error) {
	const op = "apfs.OpenDir"

	j, err := fs.jobj(inum)
	if err != nil {
		return nil, err
	}
	if !j.Valid() {
		return nil, errs.New(errs.FsInodeNum, op, "inode %d not found", inum)
	}
	if j.HasInode && j.Inode.Mode&types.SIfmt != types.SIfdir {
		return nil, errs.New(errs.FsArg, op, "inode %d is not a directory", inum)
	}

	f, err := fs.fileFromJObj(j)
	if err != nil {
		return nil, err
	}
	return &Dir{File: f, Entries: j.Children}, nil
}

// Lookup finds the named entry of a directory under the volume's name
// comparison rules.
func (d *Dir) Lookup(fs *FileSystem, name string) *ChildEntry {
	for i := range d.Entries {
		if fs.NameCmp(d.Entries[i].Name, name) == 0 {
			return &d.Entries[i]
		}
	}
	return nil
}

// LookupPath resolves a slash-separated path from the volume root to an
// inode number.
func (fs *FileSystem) LookupPath(path string) (uint64, error) {
	const op = "apfs.LookupPath"

	inum := uint64(types.RootDirInoNum)
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		d, err := fs.OpenDir(inum)
		if err != nil {
			return 0, err
		}
		ent := d.Lookup(fs, part)
		if ent == nil {
			return 0, errs.New(errs.FsInodeNum, op, "no entry %q in inode %d", part, inum)
		}
		inum = ent.FileID
	}
	return inum, nil
}

// DateAdded returns the date-added timestamp recorded in the parent
// directory's entry for this file, or zero when no entry names it.
func (f *File) DateAdded() (uint64, error) {
	if f.Meta.ParentInum == 0 {
		return 0, nil
	}
	pj, err := f.fs.jobj(f.Meta.ParentInum)
	if err != nil {
		if errs.CodeOf(err) == errs.FsInodeNum || err == btree.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	for i := range pj.Children {
		if pj.Children[i].FileID == f.Meta.Inum {
			return pj.Children[i].DateAdded, nil
		}
	}
	return 0, nil
}
