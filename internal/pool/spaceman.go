package pool

import (
	"math/bits"
	"sort"
	"sync"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// Range is a run of container blocks.
type Range struct {
	// Start is the first block of the run.
	Start types.Paddr

	// Count is the number of blocks in the run.
	Count uint64
}

// bmEntry is one chunk of the main device as described by a chunk-info
// block: which blocks it covers, how many are free, and the bitmap block
// that tracks them individually.
type bmEntry struct {
	offset  uint64
	total   uint32
	free    uint32
	bmBlock types.Paddr
}

// Spaceman is the container's space manager, located through the current
// checkpoint map. It is the authority on which blocks are unallocated.
type Spaceman struct {
	p *Pool

	blockSize      uint32
	blocksPerChunk uint32
	chunksPerCib   uint32
	cibsPerCab     uint32

	main types.SpacemanDeviceT

	// Raw spaceman block, kept for the trailing address array.
	data []byte

	once    sync.Once
	entries []bmEntry
	entErr  error
}

func newSpaceman(p *Pool, blockNum int64) (*Spaceman, error) {
	blk, err := p.ReadBlock(blockNum)
	if err != nil {
		return nil, err
	}
	if !obj.ValidChecksum(blk) {
		return nil, errs.New(errs.PoolCorrupt, "spaceman", "space manager at block %d fails checksum", blockNum)
	}

	hdr, err := obj.ParseHeader(blk, p.endian)
	if err != nil {
		return nil, errs.Wrap(errs.PoolCorrupt, "spaceman", err)
	}
	if hdr.OType&types.ObjectTypeMask != types.ObjectTypeSpaceman {
		return nil, errs.New(errs.PoolCorrupt, "spaceman", "block %d is not a space manager (type 0x%x)", blockNum, hdr.OType)
	}

	sm := &Spaceman{
		p:              p,
		blockSize:      p.endian.Uint32(blk[32:36]),
		blocksPerChunk: p.endian.Uint32(blk[36:40]),
		chunksPerCib:   p.endian.Uint32(blk[40:44]),
		cibsPerCab:     p.endian.Uint32(blk[44:48]),
		data:           blk,
	}

	// Main-device descriptor; the tier2 descriptor that follows is only
	// populated on fusion drives.
	sm.main.SmBlockCount = p.endian.Uint64(blk[48:56])
	sm.main.SmChunkCount = p.endian.Uint64(blk[56:64])
	sm.main.SmCibCount = p.endian.Uint32(blk[64:68])
	sm.main.SmCabCount = p.endian.Uint32(blk[68:72])
	sm.main.SmFreeCount = p.endian.Uint64(blk[72:80])
	sm.main.SmAddrOffset = p.endian.Uint32(blk[80:84])

	return sm, nil
}

// FreeBlocks returns the main device's free block count.
func (sm *Spaceman) FreeBlocks() uint64 {
	return sm.main.SmFreeCount
}

// addrList returns the address array trailing the space-manager header:
// chunk-info-block addresses, or chunk-address-block addresses when the
// device is large enough to need the extra level.
func (sm *Spaceman) addrList(count uint32) ([]types.Paddr, error) {
	off := int(sm.main.SmAddrOffset)
	if off < 0 || off+8*int(count) > len(sm.data) {
		return nil, errs.New(errs.PoolCorrupt, "spaceman", "address array overruns block")
	}

	addrs := make([]types.Paddr, count)
	for i := range addrs {
		addrs[i] = types.Paddr(sm.p.endian.Uint64(sm.data[off+8*i : off+8*i+8]))
	}

	return addrs, nil
}

// cibBlocks resolves the chunk-info-block addresses, going through the
// chunk-address-block level when one exists.
func (sm *Spaceman) cibBlocks() ([]types.Paddr, error) {
	if sm.main.SmCabCount == 0 {
		return sm.addrList(sm.main.SmCibCount)
	}

	cabs, err := sm.addrList(sm.main.SmCabCount)
	if err != nil {
		return nil, err
	}

	cibs := make([]types.Paddr, 0, sm.main.SmCibCount)
	for _, cab := range cabs {
		blk, err := sm.p.ReadBlock(int64(cab))
		if err != nil {
			return nil, err
		}
		if !obj.ValidChecksum(blk) {
			return nil, errs.New(errs.PoolCorrupt, "spaceman", "chunk-address block at %d fails checksum", cab)
		}

		hdr, err := obj.ParseHeader(blk, sm.p.endian)
		if err != nil {
			return nil, errs.Wrap(errs.PoolCorrupt, "spaceman", err)
		}
		if hdr.OType&types.ObjectTypeMask != types.ObjectTypeSpacemanCab {
			return nil, errs.New(errs.PoolCorrupt, "spaceman", "block %d is not a chunk-address block (type 0x%x)", cab, hdr.OType)
		}

		count := sm.p.endian.Uint32(blk[36:40])
		if 40+8*int(count) > len(blk) {
			return nil, errs.New(errs.PoolCorrupt, "spaceman", "chunk-address block at %d claims %d entries", cab, count)
		}
		for i := 0; i < int(count); i++ {
			cibs = append(cibs, types.Paddr(sm.p.endian.Uint64(blk[40+8*i:48+8*i])))
		}
	}

	return cibs, nil
}

// bmEntries returns the chunk descriptors of the main device, sorted by
// the first block they cover. The list is built once and reused.
func (sm *Spaceman) bmEntries() ([]bmEntry, error) {
	sm.once.Do(func() {
		cibs, err := sm.cibBlocks()
		if err != nil {
			sm.entErr = err
			return
		}

		var entries []bmEntry
		for _, cib := range cibs {
			blk, err := sm.p.ReadBlock(int64(cib))
			if err != nil {
				sm.entErr = err
				return
			}
			if !obj.ValidChecksum(blk) {
				sm.entErr = errs.New(errs.PoolCorrupt, "spaceman", "chunk-info block at %d fails checksum", cib)
				return
			}

			hdr, err := obj.ParseHeader(blk, sm.p.endian)
			if err != nil {
				sm.entErr = errs.Wrap(errs.PoolCorrupt, "spaceman", err)
				return
			}
			if hdr.OType&types.ObjectTypeMask != types.ObjectTypeSpacemanCib {
				sm.entErr = errs.New(errs.PoolCorrupt, "spaceman", "block %d is not a chunk-info block (type 0x%x)", cib, hdr.OType)
				return
			}

			count := sm.p.endian.Uint32(blk[36:40])
			if 40+32*int(count) > len(blk) {
				sm.entErr = errs.New(errs.PoolCorrupt, "spaceman", "chunk-info block at %d claims %d entries", cib, count)
				return
			}

			for i := 0; i < int(count); i++ {
				off := 40 + 32*i
				entries = append(entries, bmEntry{
					offset:  sm.p.endian.Uint64(blk[off+8 : off+16]),
					total:   sm.p.endian.Uint32(blk[off+16 : off+20]),
					free:    sm.p.endian.Uint32(blk[off+20 : off+24]),
					bmBlock: types.Paddr(sm.p.endian.Uint64(blk[off+24 : off+32])),
				})
			}
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].offset < entries[j].offset
		})

		sm.entries = entries
	})

	return sm.entries, sm.entErr
}

// BitmapBlocks returns the bitmap block numbers referenced by the chunk
// descriptors. These blocks are container metadata even though no object
// header marks them.
func (sm *Spaceman) BitmapBlocks() ([]types.Paddr, error) {
	entries, err := sm.bmEntries()
	if err != nil {
		return nil, err
	}

	var blocks []types.Paddr
	for _, e := range entries {
		if e.bmBlock != 0 {
			blocks = append(blocks, e.bmBlock)
		}
	}
	return blocks, nil
}

// unallocatedRanges walks every chunk and emits its free runs. Fully
// free chunks coalesce with a preceding contiguous range; runs found by
// bitmap scanning are appended as-is.
func (sm *Spaceman) unallocatedRanges() ([]Range, error) {
	entries, err := sm.bmEntries()
	if err != nil {
		return nil, err
	}

	var ranges []Range
	for _, e := range entries {
		if e.free == 0 {
			continue
		}

		if e.free == e.total {
			if n := len(ranges); n > 0 &&
				uint64(ranges[n-1].Start)+ranges[n-1].Count == e.offset {
				ranges[n-1].Count += uint64(e.total)
				continue
			}
			ranges = append(ranges, Range{Start: types.Paddr(e.offset), Count: uint64(e.total)})
			continue
		}

		bitmap, err := sm.p.ReadBlock(int64(e.bmBlock))
		if err != nil {
			return nil, err
		}

		for i := uint32(0); i < e.total; {
			start, ok := findBit(bitmap, i, e.total, false)
			if !ok {
				break
			}
			end, ok := findBit(bitmap, start, e.total, true)
			if !ok {
				end = e.total
			}

			ranges = append(ranges, Range{
				Start: types.Paddr(e.offset + uint64(start)),
				Count: uint64(end - start),
			})
			i = end
		}
	}

	return ranges, nil
}

// findBit locates the first bit at or after from with the wanted value,
// scanning 64-bit little-endian words with trailing-zero counts. Bit i
// lives in byte i/8 at position i%8.
func findBit(bm []byte, from, total uint32, want bool) (uint32, bool) {
	for i := from; i < total; {
		word := i / 64
		base := int(word) * 8

		var w uint64
		for j := 0; j < 8 && base+j < len(bm); j++ {
			w |= uint64(bm[base+j]) << (8 * j)
		}
		if !want {
			w = ^w
		}

		masked := w >> (i % 64)
		if masked == 0 {
			i = (word + 1) * 64
			continue
		}

		pos := i + uint32(bits.TrailingZeros64(masked))
		if pos >= total {
			return 0, false
		}
		return pos, true
	}

	return 0, false
}
