// Package btree reads the B+-trees that hold every persistent APFS
// structure: object maps, filesystem-record trees, snapshot metadata and
// extent references. Nodes are fetched through a BlockSource, checksum
// validated, and traversed read-only.
package btree

import (
	"encoding/binary"
	"errors"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// ErrNotFound reports that no entry matched a lookup.
var ErrNotFound = errors.New("btree: entry not found")

// Compare orders an on-disk key against a search target: negative when the
// key sorts before the target, zero on a match, positive when it sorts
// after.
type Compare func(key []byte) int

// ChildResolver maps the object identifier stored in a non-leaf entry to
// the physical block of the child node. Trees whose non-leaf values hold
// physical block numbers directly leave it nil.
type ChildResolver func(oid uint64) (int64, error)

// Entry is one key/value pair from a leaf node. Both slices alias the
// underlying block and must not be modified.
type Entry struct {
	Key   []byte
	Value []byte
}

// Tree is a read-only view of one B+-tree, rooted at a physical block.
type Tree struct {
	src     interfaces.BlockSource
	endian  binary.ByteOrder
	root    *node
	info    types.BtreeInfoT
	subtype uint32
	resolve ChildResolver
}

// NewTree opens the B-tree whose root node lives at rootPaddr.
func NewTree(src interfaces.BlockSource, rootPaddr int64, endian binary.ByteOrder, resolve ChildResolver) (*Tree, error) {
	t := &Tree{src: src, endian: endian, resolve: resolve}

	root, err := t.readNode(rootPaddr)
	if err != nil {
		return nil, err
	}
	if !root.isRoot() {
		return nil, errs.New(errs.FsCorrupt, "btree", "block %d is not a root node", rootPaddr)
	}
	if len(root.data) < headerLen+btreeInfoLen {
		return nil, errs.New(errs.FsCorrupt, "btree", "root node at block %d too small for info footer", rootPaddr)
	}

	// The btree_info_t footer only exists on root nodes.
	base := len(root.data) - btreeInfoLen
	t.info.BtFixed.BtFlags = endian.Uint32(root.data[base : base+4])
	t.info.BtFixed.BtNodeSize = endian.Uint32(root.data[base+4 : base+8])
	t.info.BtFixed.BtKeySize = endian.Uint32(root.data[base+8 : base+12])
	t.info.BtFixed.BtValSize = endian.Uint32(root.data[base+12 : base+16])
	t.info.BtLongestKey = endian.Uint32(root.data[base+16 : base+20])
	t.info.BtLongestVal = endian.Uint32(root.data[base+20 : base+24])
	t.info.BtKeyCount = endian.Uint64(root.data[base+24 : base+32])
	t.info.BtNodeCount = endian.Uint64(root.data[base+32 : base+40])

	t.root = root
	t.subtype = root.phys.BtnO.OSubtype

	return t, nil
}

// Info returns the tree's static and usage information from the root
// node's footer.
func (t *Tree) Info() types.BtreeInfoT {
	return t.info
}

// Subtype returns the object subtype of the root node, identifying what
// the tree stores.
func (t *Tree) Subtype() uint32 {
	return t.subtype
}

// Xid returns the transaction identifier of the root node.
func (t *Tree) Xid() types.XidT {
	return t.root.phys.BtnO.OXid
}

func (t *Tree) readNode(paddr int64) (*node, error) {
	blk, err := t.src.ReadBlock(paddr)
	if err != nil {
		return nil, err
	}
	return parseNode(blk, t.endian, paddr)
}

// leaf reports whether n is a leaf of this tree. Filesystem-record trees
// are judged by level because their nodes do not reliably carry the leaf
// flag.
func (t *Tree) leaf(n *node) bool {
	if t.subtype == types.ObjectTypeFstree {
		return n.phys.BtnLevel == 0
	}
	return n.flagLeaf()
}

// keyAt returns the key bytes of entry i of n.
func (t *Tree) keyAt(n *node, i int) ([]byte, error) {
	if i < 0 || i >= n.keyCount() {
		return nil, errs.New(errs.FsCorrupt, "btree", "node at block %d: key index %d out of range", n.paddr, i)
	}

	var off, length int
	if n.fixedKV() {
		toc := n.tocOff() + 4*i
		off = n.keyOff() + int(t.endian.Uint16(n.data[toc:toc+2]))
		length = int(t.info.BtFixed.BtKeySize)
	} else {
		toc := n.tocOff() + 8*i
		if toc+8 > len(n.data) {
			return nil, errs.New(errs.FsCorrupt, "btree", "node at block %d: table of contents overruns block", n.paddr)
		}
		off = n.keyOff() + int(t.endian.Uint16(n.data[toc:toc+2]))
		length = int(t.endian.Uint16(n.data[toc+2 : toc+4]))
	}

	if off+length > len(n.data) || length == 0 {
		return nil, errs.New(errs.FsCorrupt, "btree", "node at block %d: key %d outside key area", n.paddr, i)
	}

	return n.data[off : off+length], nil
}

// valAt returns the value bytes of entry i of n, or nil for a ghost entry
// that carries no value. Value offsets count backwards from the end of the
// value arena.
func (t *Tree) valAt(n *node, i int) ([]byte, error) {
	if i < 0 || i >= n.keyCount() {
		return nil, errs.New(errs.FsCorrupt, "btree", "node at block %d: value index %d out of range", n.paddr, i)
	}

	var back, length int
	if n.fixedKV() {
		toc := n.tocOff() + 4*i
		v := t.endian.Uint16(n.data[toc+2 : toc+4])
		if v == types.BtoffInvalid {
			return nil, nil
		}
		back = int(v)
		if t.leaf(n) {
			length = int(t.info.BtFixed.BtValSize)
		} else {
			length = 8
		}
	} else {
		toc := n.tocOff() + 8*i
		v := t.endian.Uint16(n.data[toc+4 : toc+6])
		if v == types.BtoffInvalid {
			return nil, nil
		}
		back = int(v)
		length = int(t.endian.Uint16(n.data[toc+6 : toc+8]))
	}

	off := n.valEnd() - back
	if off < 0 || off+length > len(n.data) {
		return nil, errs.New(errs.FsCorrupt, "btree", "node at block %d: value %d outside value area", n.paddr, i)
	}

	return n.data[off : off+length], nil
}

// childAt loads the child node referenced by entry i of a non-leaf node.
func (t *Tree) childAt(n *node, i int) (*node, error) {
	v, err := t.valAt(n, i)
	if err != nil {
		return nil, err
	}
	if len(v) < 8 {
		return nil, errs.New(errs.FsCorrupt, "btree", "node at block %d: child pointer %d too short", n.paddr, i)
	}

	raw := t.endian.Uint64(v[0:8])
	paddr := int64(raw)
	if t.resolve != nil {
		paddr, err = t.resolve(raw)
		if err != nil {
			return nil, err
		}
	}

	return t.readNode(paddr)
}

// Find returns the newest entry matching cmp: leaves are scanned from the
// back, so among entries that compare equal the last one in tree order
// wins. Object-map lookups rely on this to pick the highest transaction at
// or below their cap.
func (t *Tree) Find(cmp Compare) (*Entry, error) {
	return t.find(t.root, cmp)
}

func (t *Tree) find(n *node, cmp Compare) (*Entry, error) {
	if t.leaf(n) {
		for i := n.keyCount(); i > 0; i-- {
			k, err := t.keyAt(n, i-1)
			if err != nil {
				return nil, err
			}

			res := cmp(k)
			if res == 0 {
				v, err := t.valAt(n, i-1)
				if err != nil {
					return nil, err
				}
				return &Entry{Key: k, Value: v}, nil
			}
			if res < 0 {
				break
			}
		}
		return nil, ErrNotFound
	}

	// Descend into the subtree rooted at the last key <= the target.
	for i := n.keyCount(); i > 0; i-- {
		k, err := t.keyAt(n, i-1)
		if err != nil {
			return nil, err
		}

		if cmp(k) <= 0 {
			child, err := t.childAt(n, i-1)
			if err != nil {
				return nil, err
			}
			return t.find(child, cmp)
		}
	}

	return nil, ErrNotFound
}

// FindFirst positions an iterator at the first entry, in tree order, that
// compares equal under cmp. Unlike Find it seeks the start of an equal
// run, so a caller can walk every record sharing a key prefix.
func (t *Tree) FindFirst(cmp Compare) (*Iterator, error) {
	it := &Iterator{t: t}

	ok, err := t.seek(it, t.root, cmp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	if err := it.load(); err != nil {
		return nil, err
	}
	return it, nil
}

func (t *Tree) seek(it *Iterator, n *node, cmp Compare) (bool, error) {
	if t.leaf(n) {
		for i := 0; i < n.keyCount(); i++ {
			k, err := t.keyAt(n, i)
			if err != nil {
				return false, err
			}

			res := cmp(k)
			if res == 0 {
				it.stack = append(it.stack, frame{n: n, idx: i})
				return true, nil
			}
			if res > 0 {
				break
			}
		}
		return false, nil
	}

	last := -1
	for i := 0; i < n.keyCount(); i++ {
		k, err := t.keyAt(n, i)
		if err != nil {
			return false, err
		}

		res := cmp(k)
		if res > 0 {
			break
		}
		last = i

		if res == 0 {
			// An equal run can begin in the preceding subtree.
			if last > 0 {
				child, err := t.childAt(n, last-1)
				if err != nil {
					return false, err
				}

				it.stack = append(it.stack, frame{n: n, idx: last - 1})
				ok, err := t.seek(it, child, cmp)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
				it.stack = it.stack[:len(it.stack)-1]
			}
			break
		}
	}

	if last < 0 {
		return false, nil
	}

	child, err := t.childAt(n, last)
	if err != nil {
		return false, err
	}

	it.stack = append(it.stack, frame{n: n, idx: last})
	ok, err := t.seek(it, child, cmp)
	if err != nil {
		return false, err
	}
	if !ok {
		it.stack = it.stack[:len(it.stack)-1]
	}
	return ok, nil
}

// FindRange calls fn for every entry that compares equal under cmp, in
// tree order. It returns ErrNotFound when no entry matches.
func (t *Tree) FindRange(cmp Compare, fn func(Entry) error) error {
	it, err := t.FindFirst(cmp)
	if err != nil {
		return err
	}

	for {
		e := it.Entry()
		if cmp(e.Key) != 0 {
			return nil
		}
		if err := fn(e); err != nil {
			return err
		}

		ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// Begin positions an iterator at the first entry of the tree. The
// iterator is invalid when the tree is empty.
func (t *Tree) Begin() (*Iterator, error) {
	it := &Iterator{t: t}

	n := t.root
	for {
		if n.keyCount() == 0 {
			it.stack = nil
			return it, nil
		}

		it.stack = append(it.stack, frame{n: n})
		if t.leaf(n) {
			return it, it.load()
		}

		child, err := t.childAt(n, 0)
		if err != nil {
			return nil, err
		}
		n = child
	}
}

// frame records the position within one node on the path from the root to
// the current leaf entry.
type frame struct {
	n   *node
	idx int
}

// Iterator walks a tree's leaf entries in ascending key order. It is
// forward-only and not safe for concurrent use.
type Iterator struct {
	t     *Tree
	stack []frame
	ent   Entry
}

// Valid reports whether the iterator points at an entry.
func (it *Iterator) Valid() bool {
	return len(it.stack) > 0
}

// Entry returns the current entry. Only meaningful while Valid.
func (it *Iterator) Entry() Entry {
	return it.ent
}

func (it *Iterator) load() error {
	top := it.stack[len(it.stack)-1]

	k, err := it.t.keyAt(top.n, top.idx)
	if err != nil {
		return err
	}
	v, err := it.t.valAt(top.n, top.idx)
	if err != nil {
		return err
	}

	it.ent = Entry{Key: k, Value: v}
	return nil
}

// Next advances to the following entry, reporting false when the tree is
// exhausted.
func (it *Iterator) Next() (bool, error) {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		top.idx++

		if top.idx >= top.n.keyCount() {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}

		if it.t.leaf(top.n) {
			return true, it.load()
		}

		// Descend to the leftmost leaf of the next child.
		n, err := it.t.childAt(top.n, top.idx)
		if err != nil {
			return false, err
		}
		for {
			it.stack = append(it.stack, frame{n: n})
			if it.t.leaf(n) {
				return true, it.load()
			}
			n, err = it.t.childAt(n, 0)
			if err != nil {
				return false, err
			}
		}
	}

	return false, nil
}
