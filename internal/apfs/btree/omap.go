package btree

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// Omap resolves virtual object identifiers to physical blocks through an
// object-map B-tree. Lookups are capped at a transaction identifier so a
// snapshot view resolves each object to its newest version at or before
// that transaction.
type Omap struct {
	tree *Tree
	xid  types.XidT
}

// NewOmap opens the object map whose omap_phys_t lives at paddr. The
// transaction cap starts at the map tree's own transaction identifier.
func NewOmap(src interfaces.BlockSource, paddr int64, endian binary.ByteOrder) (*Omap, error) {
	blk, err := src.ReadBlock(paddr)
	if err != nil {
		return nil, err
	}
	if len(blk) < 72 {
		return nil, errs.New(errs.FsCorrupt, "omap", "block %d too small for object map", paddr)
	}
	if !obj.ValidChecksum(blk) {
		return nil, errs.New(errs.FsCorrupt, "omap", "object map at block %d fails checksum", paddr)
	}

	hdr, err := obj.ParseHeader(blk, endian)
	if err != nil {
		return nil, errs.Wrap(errs.FsCorrupt, "omap", err)
	}
	if hdr.OType&types.ObjectTypeMask != types.ObjectTypeOmap {
		return nil, errs.New(errs.FsCorrupt, "omap", "block %d is not an object map (type 0x%x)", paddr, hdr.OType)
	}

	// om_tree_oid; the mapping tree is stored physically, so the oid is a
	// block number.
	treeOid := endian.Uint64(blk[48:56])

	tree, err := NewTree(src, int64(treeOid), endian, nil)
	if err != nil {
		return nil, err
	}
	if tree.Subtype() != types.ObjectTypeOmap {
		return nil, errs.New(errs.FsCorrupt, "omap", "mapping tree at block %d has subtype 0x%x", treeOid, tree.Subtype())
	}

	return &Omap{tree: tree, xid: tree.Xid()}, nil
}

// Xid returns the current transaction cap.
func (m *Omap) Xid() types.XidT {
	return m.xid
}

// SetXid moves the transaction cap, switching the map to a snapshot view.
func (m *Omap) SetXid(xid types.XidT) {
	m.xid = xid
}

// Lookup resolves oid to its newest mapping at or below the transaction
// cap. It returns ErrNotFound when the object has no such version.
func (m *Omap) Lookup(oid types.OidT) (*types.OmapValT, error) {
	target := uint64(oid)
	xcap := uint64(m.xid)

	e, err := m.tree.Find(func(key []byte) int {
		if len(key) < 16 {
			return 1
		}

		ko := m.tree.endian.Uint64(key[0:8])
		kx := m.tree.endian.Uint64(key[8:16])

		// A version from after the cap sorts past the target even when
		// the oid matches.
		if ko == target && kx > xcap {
			return 1
		}

		switch {
		case ko < target:
			return -1
		case ko > target:
			return 1
		default:
			return 0
		}
	})
	if err != nil {
		return nil, err
	}

	if len(e.Value) < 16 {
		return nil, errs.New(errs.FsCorrupt, "omap", "mapping for oid %d truncated", oid)
	}

	return &types.OmapValT{
		OvFlags: m.tree.endian.Uint32(e.Value[0:4]),
		OvSize:  m.tree.endian.Uint32(e.Value[4:8]),
		OvPaddr: types.Paddr(m.tree.endian.Uint64(e.Value[8:16])),
	}, nil
}
