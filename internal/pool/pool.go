// Package pool opens an APFS container inside a disk image: it selects
// the current container superblock from the checkpoint-descriptor ring,
// serves checksum-validated blocks through a bounded cache, enumerates
// volume superblocks through the container object map, and derives the
// container's unallocated block ranges from the space manager.
package pool

import (
	"encoding/binary"
	"sync"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// BlockSize is the only container block size the engine accepts.
const BlockSize = 4096

// cacheLimit bounds the block cache. On overflow the whole map is
// dropped; entries are cheap to re-read and wholesale clearing avoids
// bookkeeping an eviction order.
const cacheLimit = 16384

// Options adjusts how a container is opened.
type Options struct {
	// Block is the block number of the container superblock to start
	// from. The canonical copy lives at block zero.
	Block int64

	// NoCheckpointScan trusts Block without searching the checkpoint
	// descriptor ring for a newer superblock.
	NoCheckpointScan bool
}

// Pool is one open APFS container. It implements interfaces.BlockSource
// for the layers above it.
type Pool struct {
	img    interfaces.Image
	offset int64
	endian binary.ByteOrder

	sb      *types.NxSuperblockT
	nxBlock int64

	mu    sync.Mutex
	cache map[int64][]byte

	smOnce sync.Once
	sm     *Spaceman
	smErr  error
}

// Open reads the container superblock, looks for the newest valid
// checkpoint, and returns the pool ready for volume enumeration. The
// offset is the byte position of the container inside the image, usually
// a partition start.
func Open(img interfaces.Image, offset int64, opts *Options) (*Pool, error) {
	if img == nil {
		return nil, errs.New(errs.PoolArg, "pool.Open", "nil image")
	}
	if offset < 0 || offset >= img.Size() {
		return nil, errs.New(errs.PoolArg, "pool.Open", "offset %d outside image", offset)
	}

	var o Options
	if opts != nil {
		o = *opts
	}

	p := &Pool{
		img:    img,
		offset: offset,
		endian: binary.LittleEndian,
		cache:  make(map[int64][]byte),
	}

	blk, err := p.ReadBlock(o.Block)
	if err != nil {
		return nil, err
	}
	if !obj.ValidChecksum(blk) {
		return nil, errs.New(errs.PoolCorrupt, "pool.Open", "superblock at block %d fails checksum", o.Block)
	}

	sb, err := parseSuperblock(blk, p.endian)
	if err != nil {
		return nil, err
	}
	if err := checkSuperblock(sb); err != nil {
		return nil, err
	}

	p.sb = sb
	p.nxBlock = o.Block

	if !o.NoCheckpointScan {
		p.scanCheckpoints()
	}

	log.WithFields(log.Fields{
		"block": p.nxBlock,
		"xid":   p.sb.NxO.OXid,
		"uuid":  p.UUID().String(),
	}).Debug("opened APFS container")

	return p, nil
}

// checkSuperblock applies the feature and geometry checks shared by the
// initial superblock and checkpoint candidates.
func checkSuperblock(sb *types.NxSuperblockT) error {
	if sb.NxIncompatibleFeatures&types.NxIncompatVersion1 != 0 {
		return errs.New(errs.PoolUnsupType, "pool.Open", "pre-release containers are not supported")
	}
	if sb.NxIncompatibleFeatures&types.NxIncompatFusion != 0 {
		log.Warn("fusion-drive containers may not be fully supported")
	}
	if sb.NxBlockSize != BlockSize {
		return errs.New(errs.PoolUnsupType, "pool.Open", "unsupported block size %d", sb.NxBlockSize)
	}
	return nil
}

// scanCheckpoints walks the checkpoint-descriptor ring for a superblock
// with the same oid and a newer transaction than the starting copy. A
// candidate that fails validation is skipped, so a torn final checkpoint
// falls back to the last known good superblock.
func (p *Pool) scanCheckpoints() {
	base := int64(p.sb.NxXpDescBase)
	count := int64(p.sb.NxXpDescBlocks)

	best := p.sb
	bestBlock := p.nxBlock

	for i := int64(0); i < count; i++ {
		blockNum := base + i

		blk, err := p.ReadBlock(blockNum)
		if err != nil {
			log.WithError(err).WithField("block", blockNum).Debug("checkpoint block unreadable")
			continue
		}
		if !obj.ValidChecksum(blk) {
			continue
		}

		hdr, err := obj.ParseHeader(blk, p.endian)
		if err != nil {
			continue
		}
		if hdr.OType&types.ObjectTypeMask != types.ObjectTypeNxSuperblock {
			continue
		}
		if hdr.OOid != p.sb.NxO.OOid || hdr.OXid <= best.NxO.OXid {
			continue
		}

		cand, err := parseSuperblock(blk, p.endian)
		if err != nil || checkSuperblock(cand) != nil {
			continue
		}

		best = cand
		bestBlock = blockNum
	}

	if bestBlock != p.nxBlock {
		log.WithFields(log.Fields{
			"block": bestBlock,
			"xid":   best.NxO.OXid,
		}).Debug("using newer checkpoint superblock")
		p.sb = best
		p.nxBlock = bestBlock
	}
}

// ReadBlock returns the raw 4096-byte block at the given physical block
// number, through the cache. The returned slice is shared; callers must
// not modify it.
func (p *Pool) ReadBlock(paddr int64) ([]byte, error) {
	if paddr < 0 {
		return nil, errs.New(errs.PoolArg, "pool.ReadBlock", "negative block number %d", paddr)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if blk, ok := p.cache[paddr]; ok {
		return blk, nil
	}

	blk := make([]byte, BlockSize)
	if _, err := p.img.ReadAt(blk, p.offset+paddr*BlockSize); err != nil {
		return nil, errs.Wrap(errs.PoolRead, "pool.ReadBlock", err)
	}

	if len(p.cache) >= cacheLimit {
		p.cache = make(map[int64][]byte)
	}
	p.cache[paddr] = blk

	return blk, nil
}

// BlockSize returns the container block size in bytes.
func (p *Pool) BlockSize() uint32 {
	return p.sb.NxBlockSize
}

// BlockCount returns the total number of blocks in the container.
func (p *Pool) BlockCount() uint64 {
	return p.sb.NxBlockCount
}

// UUID returns the container's identifier.
func (p *Pool) UUID() uuid.UUID {
	return uuid.UUID(p.sb.NxUuid)
}

// Xid returns the transaction identifier of the superblock in use.
func (p *Pool) Xid() types.XidT {
	return p.sb.NxO.OXid
}

// NxBlock returns the block number the superblock in use was read from.
func (p *Pool) NxBlock() int64 {
	return p.nxBlock
}

// Superblock exposes the parsed container superblock.
func (p *Pool) Superblock() *types.NxSuperblockT {
	return p.sb
}

// Keylocker returns the block range holding the container keybag, or a
// zero range when the container has none.
func (p *Pool) Keylocker() types.Prange {
	return p.sb.NxKeylocker
}

// checkpointDescBlock finds the checkpoint-map block belonging to the
// current transaction, or 0 when none validates.
func (p *Pool) checkpointDescBlock() int64 {
	base := int64(p.sb.NxXpDescBase)
	count := int64(p.sb.NxXpDescBlocks)

	for i := int64(0); i < count; i++ {
		blockNum := base + i

		blk, err := p.ReadBlock(blockNum)
		if err != nil || !obj.ValidChecksum(blk) {
			continue
		}

		hdr, err := obj.ParseHeader(blk, p.endian)
		if err != nil {
			continue
		}
		if hdr.OXid == p.sb.NxO.OXid && hdr.OType&types.ObjectTypeMask == types.ObjectTypeCheckpointMap {
			return blockNum
		}
	}

	return 0
}

// Spaceman lazily locates and parses the space manager through the
// current checkpoint map.
func (p *Pool) Spaceman() (*Spaceman, error) {
	p.smOnce.Do(func() {
		cdb := p.checkpointDescBlock()
		if cdb == 0 {
			p.smErr = errs.New(errs.PoolCorrupt, "pool.Spaceman", "no checkpoint map for xid %d", p.sb.NxO.OXid)
			return
		}

		cm, err := newCheckpointMap(p, cdb)
		if err != nil {
			p.smErr = err
			return
		}

		smBlock, err := cm.objectBlock(p.sb.NxSpacemanOid, types.ObjectTypeSpaceman)
		if err != nil {
			p.smErr = err
			return
		}

		p.sm, p.smErr = newSpaceman(p, smBlock)
	})

	return p.sm, p.smErr
}

// UnallocatedRanges returns the container's free block ranges as
// {start block, block count} pairs, sorted by start.
func (p *Pool) UnallocatedRanges() ([]Range, error) {
	sm, err := p.Spaceman()
	if err != nil {
		return nil, err
	}
	return sm.unallocatedRanges()
}
