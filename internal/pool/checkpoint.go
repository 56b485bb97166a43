package pool

import (
	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// checkpointMap is one checkpoint-mapping block: the table that places a
// checkpoint's ephemeral objects in the checkpoint data area.
type checkpointMap struct {
	phys *types.CheckpointMapPhysT
}

func newCheckpointMap(p *Pool, blockNum int64) (*checkpointMap, error) {
	blk, err := p.ReadBlock(blockNum)
	if err != nil {
		return nil, err
	}
	if !obj.ValidChecksum(blk) {
		return nil, errs.New(errs.PoolCorrupt, "checkpoint", "map at block %d fails checksum", blockNum)
	}

	hdr, err := obj.ParseHeader(blk, p.endian)
	if err != nil {
		return nil, errs.Wrap(errs.PoolCorrupt, "checkpoint", err)
	}
	if hdr.OType&types.ObjectTypeMask != types.ObjectTypeCheckpointMap {
		return nil, errs.New(errs.PoolCorrupt, "checkpoint", "block %d is not a checkpoint map (type 0x%x)", blockNum, hdr.OType)
	}

	cm := &types.CheckpointMapPhysT{
		CpmO:     *hdr,
		CpmFlags: p.endian.Uint32(blk[32:36]),
		CpmCount: p.endian.Uint32(blk[36:40]),
	}

	const entryLen = 40
	if 40+int(cm.CpmCount)*entryLen > len(blk) {
		return nil, errs.New(errs.PoolCorrupt, "checkpoint", "map at block %d claims %d entries", blockNum, cm.CpmCount)
	}

	cm.CpmMap = make([]types.CheckpointMappingT, cm.CpmCount)
	for i := range cm.CpmMap {
		off := 40 + i*entryLen
		m := &cm.CpmMap[i]
		m.CpmType = p.endian.Uint32(blk[off : off+4])
		m.CpmSubtype = p.endian.Uint32(blk[off+4 : off+8])
		m.CpmSize = p.endian.Uint32(blk[off+8 : off+12])
		m.CpmPad = p.endian.Uint32(blk[off+12 : off+16])
		m.CpmFsOid = types.OidT(p.endian.Uint64(blk[off+16 : off+24]))
		m.CpmOid = types.OidT(p.endian.Uint64(blk[off+24 : off+32]))
		m.CpmPaddr = types.Paddr(p.endian.Uint64(blk[off+32 : off+40]))
	}

	return &checkpointMap{phys: cm}, nil
}

// objectBlock resolves an ephemeral object to the block it occupies in
// the checkpoint data area.
func (cm *checkpointMap) objectBlock(oid types.OidT, otype uint32) (int64, error) {
	for i := range cm.phys.CpmMap {
		m := &cm.phys.CpmMap[i]
		if m.CpmOid == oid && m.CpmType&types.ObjectTypeMask == otype {
			return int64(m.CpmPaddr), nil
		}
	}

	return 0, errs.New(errs.PoolCorrupt, "checkpoint", "no mapping for ephemeral object %d type 0x%x", oid, otype)
}
