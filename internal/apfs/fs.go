// Package apfs is the filesystem layer: it opens a volume from a pool,
// assembles file-system records out of the volume's object B+-tree, and
// presents files, directories, walks, and snapshot selection on top.
package apfs

import (
	"encoding/binary"
	"strings"
	"sync"

	"github.com/apex/log"
	"golang.org/x/text/cases"

	"github.com/deploymenttheory/go-disksleuth/internal/apfs/btree"
	"github.com/deploymenttheory/go-disksleuth/internal/apfs/crypto"
	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/pool"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// Options configures opening a volume.
type Options struct {
	// Password unlocks an encrypted volume. Empty leaves the volume
	// locked; reads of encrypted extents then fail.
	Password string
}

// FileSystem is an opened APFS volume.
type FileSystem struct {
	pool   *pool.Pool
	vol    *pool.Volume
	src    interfaces.BlockSource
	endian binary.ByteOrder

	crypto *crypto.VolumeCrypto

	mu      sync.Mutex
	omap    *btree.Omap
	root    *btree.Tree
	snapXid types.XidT
}

// Open opens the volume on the given pool. Encrypted volumes have their
// key material gathered from the container and volume keybags; when a
// password is supplied it must unlock one of the volume's KEKs.
func Open(p *pool.Pool, vol *pool.Volume, opts *Options) (*FileSystem, error) {
	const op = "apfs.Open"

	if p == nil || vol == nil {
		return nil, errs.New(errs.FsArg, op, "nil pool or volume")
	}
	if opts == nil {
		opts = &Options{}
	}

	fs := &FileSystem{pool: p, vol: vol, src: p, endian: binary.LittleEndian}

	if vol.Encrypted() {
		if p.Superblock().NxFlags&types.NxCryptoSw == 0 {
			log.WithField("volume", vol.Name()).
				Warn("volume uses hardware crypto, decryption is not possible")
		} else {
			vc, err := crypto.InitVolumeCrypto(p, p.Superblock().NxUuid,
				int64(p.Keylocker().PrStartPaddr), vol.Sb.ApfsVolUuid, fs.endian)
			if err != nil {
				log.WithError(err).WithField("volume", vol.Name()).
					Warn("could not gather volume key material")
			} else {
				fs.crypto = vc
			}
		}

		if opts.Password != "" {
			if fs.crypto == nil {
				return nil, errs.New(errs.FsCrypto, op, "volume %q has no usable key material", vol.Name())
			}
			if !fs.crypto.Unlock(opts.Password) {
				return nil, errs.New(errs.FsCrypto, op, "password does not unlock volume %q", vol.Name())
			}
		}
	}

	if err := fs.loadTrees(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"volume": vol.Name(),
		"role":   pool.RoleName(vol.Role()),
		"files":  vol.Sb.ApfsNumFiles,
	}).Debug("opened filesystem")

	return fs, nil
}

// loadTrees (re)builds the volume omap and the root object tree. Called
// at open and again after a snapshot switch; callers hold no locks at
// open, and the mutex during a switch.
func (fs *FileSystem) loadTrees() error {
	m, err := btree.NewOmap(fs.src, int64(fs.vol.Sb.ApfsOmapOid), fs.endian)
	if err != nil {
		return err
	}
	if fs.snapXid != 0 {
		m.SetXid(fs.snapXid)
	}

	val, err := m.Lookup(fs.vol.Sb.ApfsRootTreeOid)
	if err != nil {
		return errs.Wrap(errs.FsCorrupt, "apfs.loadTrees", err)
	}

	root, err := btree.NewTree(fs.treeSource(), int64(val.OvPaddr), fs.endian, func(oid uint64) (int64, error) {
		v, err := m.Lookup(types.OidT(oid))
		if err != nil {
			return 0, err
		}
		return int64(v.OvPaddr), nil
	})
	if err != nil {
		return err
	}
	if root.Subtype() != types.ObjectTypeFstree {
		return errs.New(errs.FsCorrupt, "apfs.loadTrees", "root tree subtype 0x%x is not an fstree", root.Subtype())
	}

	fs.omap = m
	fs.root = root
	return nil
}

// treeSource returns the block source feeding the object tree: the raw
// pool, or a decrypting wrapper once the volume is unlocked.
func (fs *FileSystem) treeSource() interfaces.BlockSource {
	if fs.crypto != nil && fs.crypto.Unlocked() {
		return &cryptoSource{src: fs.src, vc: fs.crypto}
	}
	return fs.src
}

// cryptoSource decrypts whole blocks with the volume-encryption key. The
// tweak for each 512-byte unit is its index from the start of the image.
type cryptoSource struct {
	src interfaces.BlockSource
	vc  *crypto.VolumeCrypto
}

func (s *cryptoSource) ReadBlock(paddr int64) ([]byte, error) {
	blk, err := s.src.ReadBlock(paddr)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(blk))
	copy(data, blk)
	if err := s.vc.DecryptBlock(data, uint64(paddr)*uint64(s.src.BlockSize())); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *cryptoSource) BlockSize() uint32 {
	return s.src.BlockSize()
}

func (s *cryptoSource) BlockCount() uint64 {
	return s.src.BlockCount()
}

// Pool returns the pool backing the filesystem.
func (fs *FileSystem) Pool() *pool.Pool {
	return fs.pool
}

// Volume returns the volume the filesystem was opened on.
func (fs *FileSystem) Volume() *pool.Volume {
	return fs.vol
}

// BlockSize returns the filesystem block size in bytes.
func (fs *FileSystem) BlockSize() uint32 {
	return fs.src.BlockSize()
}

// CaseSensitive reports whether filename comparison is case sensitive.
func (fs *FileSystem) CaseSensitive() bool {
	return fs.vol.CaseSensitive()
}

// Unlocked reports whether the volume's encryption keys are available.
func (fs *FileSystem) Unlocked() bool {
	return fs.crypto != nil && fs.crypto.Unlocked()
}

// PasswordHint returns the volume's passphrase hint, if one is recorded.
func (fs *FileSystem) PasswordHint() string {
	if fs.crypto == nil {
		return ""
	}
	return fs.crypto.PasswordHint
}

// NameCmp compares two filenames under the volume's comparison rules:
// byte-wise when case sensitive, Unicode case-folded otherwise.
func (fs *FileSystem) NameCmp(a, b string) int {
	if fs.vol.CaseSensitive() {
		return strings.Compare(a, b)
	}
	f := cases.Fold()
	return strings.Compare(f.String(a), f.String(b))
}

// DecryptBlock decrypts one block of volume data in place. The volume
// must have been unlocked.
func (fs *FileSystem) DecryptBlock(paddr int64, data []byte) error {
	if fs.crypto == nil {
		return errs.New(errs.FsCrypto, "apfs.DecryptBlock", "volume is not encrypted")
	}
	return fs.crypto.DecryptBlock(data, uint64(paddr)*uint64(fs.src.BlockSize()))
}

// Snapshot describes one entry of the volume's snapshot-metadata tree.
type Snapshot struct {
	Xid       types.XidT
	Name      string
	Timestamp uint64
	Dataless  bool
}

// Snapshots lists the volume's snapshots in transaction order.
func (fs *FileSystem) Snapshots() ([]*Snapshot, error) {
	if fs.vol.Sb.ApfsSnapMetaTreeOid == 0 {
		return nil, nil
	}

	tree, err := btree.NewTree(fs.src, int64(fs.vol.Sb.ApfsSnapMetaTreeOid), fs.endian, nil)
	if err != nil {
		return nil, err
	}
	if tree.Subtype() != types.ObjectTypeSnapmetatree {
		return nil, errs.New(errs.FsCorrupt, "apfs.Snapshots", "unexpected snapshot tree subtype 0x%x", tree.Subtype())
	}

	var snaps []*Snapshot

	it, err := tree.Begin()
	if err != nil {
		return nil, err
	}
	for it.Valid() {
		ent := it.Entry()
		if len(ent.Key) >= 8 {
			hdr := fs.endian.Uint64(ent.Key[0:8])
			if types.JObjType(hdr>>types.ObjTypeShift) == types.JObjTypeSnapMetadata {
				if len(ent.Value) < 50 {
					return nil, errs.New(errs.FsCorrupt, "apfs.Snapshots", "short snapshot metadata record")
				}

				nameLen := int(fs.endian.Uint16(ent.Value[48:50]))
				name := ""
				if nameLen > 0 && 50+nameLen <= len(ent.Value) {
					name = cstring(ent.Value[50 : 50+nameLen])
				}

				snaps = append(snaps, &Snapshot{
					Xid:       types.XidT(hdr & types.ObjIdMask),
					Name:      name,
					Timestamp: fs.endian.Uint64(ent.Value[16:24]),
					Dataless:  fs.endian.Uint64(ent.Value[0:8]) == 0,
				})
			}
		}

		ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}

	return snaps, nil
}

// SetSnapshot pins the filesystem to the given snapshot transaction. All
// subsequent object lookups resolve against that transaction instead of
// the live tree. A zero xid returns to the live view.
func (fs *FileSystem) SetSnapshot(xid types.XidT) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	prev := fs.snapXid
	fs.snapXid = xid
	if err := fs.loadTrees(); err != nil {
		fs.snapXid = prev
		return err
	}
	return nil
}

// SnapshotXid returns the pinned snapshot transaction, or zero for the
// live view.
func (fs *FileSystem) SnapshotXid() types.XidT {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.snapXid
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
