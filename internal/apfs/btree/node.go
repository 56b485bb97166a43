package btree

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// headerLen is the size of the btree_node_phys_t header that precedes the
// node's storage area.
const headerLen = 56

// btreeInfoLen is the size of the btree_info_t footer stored at the end of
// root nodes.
const btreeInfoLen = 40

// node is a single B-tree node backed by one checksum-validated block.
type node struct {
	phys  *types.BtreeNodePhysT
	data  []byte
	paddr int64
}

// parseNode decodes and validates a B-tree node from a raw block.
func parseNode(data []byte, endian binary.ByteOrder, paddr int64) (*node, error) {
	if len(data) < headerLen {
		return nil, errs.New(errs.FsCorrupt, "btree", "block %d too small for node header: %d bytes", paddr, len(data))
	}

	if !obj.ValidChecksum(data) {
		return nil, errs.New(errs.FsCorrupt, "btree", "node at block %d fails checksum", paddr)
	}

	hdr, err := obj.ParseHeader(data, endian)
	if err != nil {
		return nil, errs.Wrap(errs.FsCorrupt, "btree", err)
	}

	switch hdr.OType & types.ObjectTypeMask {
	case types.ObjectTypeBtree, types.ObjectTypeBtreeNode:
	default:
		return nil, errs.New(errs.FsCorrupt, "btree", "block %d is not a B-tree node (type 0x%x)", paddr, hdr.OType)
	}

	n := &node{
		phys:  &types.BtreeNodePhysT{BtnO: *hdr},
		data:  data,
		paddr: paddr,
	}

	n.phys.BtnFlags = endian.Uint16(data[32:34])
	n.phys.BtnLevel = endian.Uint16(data[34:36])
	n.phys.BtnNkeys = endian.Uint32(data[36:40])
	n.phys.BtnTableSpace.Off = endian.Uint16(data[40:42])
	n.phys.BtnTableSpace.Len = endian.Uint16(data[42:44])
	n.phys.BtnFreeSpace.Off = endian.Uint16(data[44:46])
	n.phys.BtnFreeSpace.Len = endian.Uint16(data[46:48])
	n.phys.BtnKeyFreeList.Off = endian.Uint16(data[48:50])
	n.phys.BtnKeyFreeList.Len = endian.Uint16(data[50:52])
	n.phys.BtnValFreeList.Off = endian.Uint16(data[52:54])
	n.phys.BtnValFreeList.Len = endian.Uint16(data[54:56])

	if n.tocOff()+4*int(n.phys.BtnNkeys) > len(data) {
		return nil, errs.New(errs.FsCorrupt, "btree", "node at block %d: table of contents overruns block", paddr)
	}

	return n, nil
}

func (n *node) isRoot() bool {
	return n.phys.BtnFlags&types.BtnodeRoot != 0
}

func (n *node) flagLeaf() bool {
	return n.phys.BtnFlags&types.BtnodeLeaf != 0
}

func (n *node) fixedKV() bool {
	return n.phys.BtnFlags&types.BtnodeFixedKvSize != 0
}

func (n *node) keyCount() int {
	return int(n.phys.BtnNkeys)
}

// tocOff is the offset of the table of contents; the table space offset is
// relative to the end of the node header.
func (n *node) tocOff() int {
	return headerLen + int(n.phys.BtnTableSpace.Off)
}

// keyOff is the offset of the key arena, immediately after the table space.
func (n *node) keyOff() int {
	return n.tocOff() + int(n.phys.BtnTableSpace.Len)
}

// valEnd is the end of the value arena. Value offsets index backwards from
// here; root nodes reserve the trailing btree_info_t footer.
func (n *node) valEnd() int {
	if n.isRoot() {
		return len(n.data) - btreeInfoLen
	}
	return len(n.data)
}
