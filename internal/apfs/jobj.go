package apfs

import (
	"github.com/deploymenttheory/go-disksleuth/internal/apfs/btree"
	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// inodeValLen is the fixed portion of an inode value; extended fields
// follow when the record is longer.
const inodeValLen = 92

// Extent maps a logical range of a file onto physical blocks. A zero
// Phys marks a sparse hole; a non-zero CryptoID selects the decryption
// tweak for the run.
type Extent struct {
	Offset   uint64
	Phys     uint64
	Len      uint64
	CryptoID uint64
}

// ChildEntry is one directory entry of a directory inode.
type ChildEntry struct {
	Name      string
	FileID    uint64
	DateAdded uint64
	Flags     types.DirRecFlags
}

// ItemType returns the entry's file type (the inode type nibble).
func (c *ChildEntry) ItemType() uint16 {
	return uint16(c.Flags & types.DrecTypeMask)
}

// InlineXattr is an extended attribute whose data is embedded in the
// record.
type InlineXattr struct {
	Name string
	Data []byte
}

// NonresXattr is an extended attribute stored in its own data stream.
type NonresXattr struct {
	Name        string
	Oid         uint64
	Size        uint64
	AllocedSize uint64
	CryptoID    uint64
}

// JObj is the logical union of every object-tree record sharing one
// object id: the inode plus its directory entries, extents, and
// extended attributes.
type JObj struct {
	Oid uint64

	HasInode bool
	Inode    types.JInodeValT

	// Name from the inode's NAME extended field.
	Name string

	// Size and SizeOnDisk from the inode's DSTREAM extended field.
	Size       uint64
	SizeOnDisk uint64

	// IsClone is set when the inode's private id names another object's
	// data stream.
	IsClone bool

	Children     []ChildEntry
	Extents      []Extent
	InlineXattrs []InlineXattr
	NonresXattrs []NonresXattr
}

// Valid reports whether the object carries enough of a record set to be
// treated as a file-system object.
func (j *JObj) Valid() bool {
	return j.Inode.PrivateId != 0 || len(j.Extents) > 0
}

// jobj gathers every record with the given object id from the object
// tree into one JObj.
func (fs *FileSystem) jobj(oid uint64) (*JObj, error) {
	fs.mu.Lock()
	root := fs.root
	fs.mu.Unlock()

	j := &JObj{Oid: oid}

	err := root.FindRange(func(key []byte) int {
		if len(key) < 8 {
			return -1
		}
		ko := fs.endian.Uint64(key[0:8]) & types.ObjIdMask
		switch {
		case ko < oid:
			return -1
		case ko > oid:
			return 1
		}
		return 0
	}, func(ent btree.Entry) error {
		return fs.addRecord(j, ent)
	})
	if err == btree.ErrNotFound {
		return j, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// addRecord folds one object-tree entry into the JObj under assembly.
func (fs *FileSystem) addRecord(j *JObj, ent btree.Entry) error {
	const op = "apfs.addRecord"
	le := fs.endian

	if len(ent.Key) < 8 {
		return errs.New(errs.FsCorrupt, op, "short record key")
	}
	hdr := le.Uint64(ent.Key[0:8])

	switch types.JObjType(hdr >> types.ObjTypeShift) {
	case types.JObjTypeInode:
		if len(ent.Value) < inodeValLen {
			return errs.New(errs.FsCorrupt, op, "short inode value")
		}
		v := &j.Inode
		v.ParentId = le.Uint64(ent.Value[0:8])
		v.PrivateId = le.Uint64(ent.Value[8:16])
		v.CreateTime = le.Uint64(ent.Value[16:24])
		v.ModTime = le.Uint64(ent.Value[24:32])
		v.ChangeTime = le.Uint64(ent.Value[32:40])
		v.AccessTime = le.Uint64(ent.Value[40:48])
		v.InternalFlags = le.Uint64(ent.Value[48:56])
		v.NchildrenOrNlink = int32(le.Uint32(ent.Value[56:60]))
		v.DefaultProtectionClass = types.CpKeyClassT(le.Uint32(ent.Value[60:64]))
		v.WriteGenerationCounter = le.Uint32(ent.Value[64:68])
		v.BsdFlags = le.Uint32(ent.Value[68:72])
		v.Owner = types.UidT(le.Uint32(ent.Value[72:76]))
		v.Group = types.GidT(le.Uint32(ent.Value[76:80]))
		v.Mode = types.ModeT(le.Uint16(ent.Value[80:82]))
		j.HasInode = true

		// The private id doubling as another object's id marks a clone.
		j.IsClone = v.PrivateId != (hdr & types.ObjIdMask)

		if len(ent.Value) > inodeValLen {
			if err := fs.addXfields(j, ent.Value[inodeValLen:]); err != nil {
				return err
			}
		}

	case types.JObjTypeDirRec:
		// Hashed key: name length in the low 10 bits, including the NUL.
		if len(ent.Key) < 12 || len(ent.Value) < 18 {
			return errs.New(errs.FsCorrupt, op, "short directory record")
		}
		nameLen := int(le.Uint32(ent.Key[8:12]) & types.JDrecLenMask)
		if nameLen == 0 || 12+nameLen > len(ent.Key) {
			return errs.New(errs.FsCorrupt, op, "bad directory record name length %d", nameLen)
		}
		j.Children = append(j.Children, ChildEntry{
			Name:      string(ent.Key[12 : 12+nameLen-1]),
			FileID:    le.Uint64(ent.Value[0:8]),
			DateAdded: le.Uint64(ent.Value[8:16]),
			Flags:     types.DirRecFlags(le.Uint16(ent.Value[16:18])),
		})

	case types.JObjTypeFileExtent:
		if len(ent.Key) < 16 || len(ent.Value) < 24 {
			return errs.New(errs.FsCorrupt, op, "short file extent record")
		}
		lenAndFlags := le.Uint64(ent.Value[0:8])
		j.Extents = append(j.Extents, Extent{
			Offset:   le.Uint64(ent.Key[8:16]),
			Phys:     le.Uint64(ent.Value[8:16]),
			Len:      lenAndFlags & types.JFileExtentLenMask,
			CryptoID: le.Uint64(ent.Value[16:24]),
		})

	case types.JObjTypeXattr:
		if len(ent.Key) < 10 || len(ent.Value) < 4 {
			return errs.New(errs.FsCorrupt, op, "short xattr record")
		}
		nameLen := int(le.Uint16(ent.Key[8:10]))
		if nameLen == 0 || 10+nameLen > len(ent.Key) {
			return errs.New(errs.FsCorrupt, op, "bad xattr name length %d", nameLen)
		}
		name := string(ent.Key[10 : 10+nameLen-1])

		flags := types.JXattrFlags(le.Uint16(ent.Value[0:2]))
		xdataLen := int(le.Uint16(ent.Value[2:4]))

		if flags&types.XattrDataEmbedded != 0 {
			if 4+xdataLen > len(ent.Value) {
				return errs.New(errs.FsCorrupt, op, "bad inline xattr length %d", xdataLen)
			}
			j.InlineXattrs = append(j.InlineXattrs, InlineXattr{
				Name: name,
				Data: ent.Value[4 : 4+xdataLen],
			})
			break
		}

		// Non-resident: the value is a stream id plus a dstream record.
		if len(ent.Value) < 52 {
			return errs.New(errs.FsCorrupt, op, "short non-resident xattr value")
		}
		j.NonresXattrs = append(j.NonresXattrs, NonresXattr{
			Name:        name,
			Oid:         le.Uint64(ent.Value[4:12]),
			Size:        le.Uint64(ent.Value[12:20]),
			AllocedSize: le.Uint64(ent.Value[20:28]),
			CryptoID:    le.Uint64(ent.Value[28:36]),
		})
	}

	return nil
}

// addXfields parses the extended-field blob that trails an inode value:
// a count header, the field headers, then the field data 8-byte aligned.
func (fs *FileSystem) addXfields(j *JObj, blob []byte) error {
	const op = "apfs.addXfields"
	le := fs.endian

	if len(blob) < 4 {
		return errs.New(errs.FsCorrupt, op, "short xfield blob")
	}
	numExts := int(le.Uint16(blob[0:2]))

	hdrEnd := 4 + numExts*4
	if hdrEnd > len(blob) {
		return errs.New(errs.FsCorrupt, op, "xfield headers out of bounds")
	}

	data := hdrEnd
	for i := 0; i < numExts; i++ {
		xType := blob[4+i*4]
		xLen := int(le.Uint16(blob[4+i*4+2 : 4+i*4+4]))
		if data+xLen > len(blob) {
			return errs.New(errs.FsCorrupt, op, "xfield %d data out of bounds", i)
		}

		switch xType {
		case types.InoExtTypeName:
			j.Name = cstring(blob[data : data+xLen])
		case types.InoExtTypeDstream:
			if xLen < 16 {
				return errs.New(errs.FsCorrupt, op, "short dstream xfield")
			}
			j.Size = le.Uint64(blob[data : data+8])
			j.SizeOnDisk = le.Uint64(blob[data+8 : data+16])
		}

		data += (xLen + 7) &^ 7
	}

	return nil
}
