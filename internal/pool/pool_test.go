package pool

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

var le = binary.LittleEndian

const (
	imgBlocks = 64

	nxsbOid     = 1
	spacemanOid = 0x400
	volumeOid   = 0x402

	omapPhysBlock = 5
	omapTreeBlock = 6
	apsbBlock     = 7
	descBase      = 8
	descBlocks    = 4
	spacemanBlock = 12
	cibBlock      = 13
	bitmapBlock   = 14
)

// memImage is a RAM-backed image of 64 container blocks.
type memImage struct {
	data []byte
}

func newMemImage() *memImage {
	return &memImage{data: make([]byte, imgBlocks*BlockSize)}
}

func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, errs.New(errs.ImgRead, "memImage", "offset %d past end", off)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, errs.New(errs.ImgRead, "memImage", "short read")
	}
	return n, nil
}

func (m *memImage) Size() int64 { return int64(len(m.data)) }

func (m *memImage) SectorSize() uint32 { return 512 }

func (m *memImage) Paths() []string { return []string{"mem"} }

func (m *memImage) Close() error { return nil }

func (m *memImage) setBlock(num int64, blk []byte) {
	copy(m.data[num*BlockSize:], blk)
}

func seal(blk []byte) []byte {
	le.PutUint64(blk[0:8], obj.Checksum(blk))
	return blk
}

func buildNxsb(xid uint64, incompat uint64, blockSize uint32) []byte {
	blk := make([]byte, BlockSize)
	le.PutUint64(blk[8:16], nxsbOid)
	le.PutUint64(blk[16:24], xid)
	le.PutUint32(blk[24:28], types.ObjectTypeNxSuperblock|types.ObjEphemeral)

	le.PutUint32(blk[32:36], types.NxMagic)
	le.PutUint32(blk[36:40], blockSize)
	le.PutUint64(blk[40:48], imgBlocks)
	le.PutUint64(blk[64:72], incompat)
	for i := 0; i < 16; i++ {
		blk[72+i] = byte(0xA0 + i)
	}
	le.PutUint32(blk[104:108], descBlocks)
	le.PutUint64(blk[112:120], descBase)
	le.PutUint64(blk[152:160], spacemanOid)
	le.PutUint64(blk[160:168], omapPhysBlock)
	le.PutUint32(blk[180:184], 4)
	le.PutUint64(blk[184:192], volumeOid)

	return seal(blk)
}

func buildCheckpointMap(xid uint64) []byte {
	blk := make([]byte, BlockSize)
	le.PutUint64(blk[8:16], 0x10)
	le.PutUint64(blk[16:24], xid)
	le.PutUint32(blk[24:28], types.ObjectTypeCheckpointMap|types.ObjPhysical)

	le.PutUint32(blk[32:36], types.CheckpointMapLast)
	le.PutUint32(blk[36:40], 1)

	le.PutUint32(blk[40:44], types.ObjectTypeSpaceman|types.ObjEphemeral)
	le.PutUint32(blk[48:52], BlockSize)
	le.PutUint64(blk[64:72], spacemanOid)
	le.PutUint64(blk[72:80], spacemanBlock)

	return seal(blk)
}

func buildOmapPhys(treeBlock uint64) []byte {
	blk := make([]byte, BlockSize)
	le.PutUint64(blk[8:16], omapPhysBlock)
	le.PutUint64(blk[16:24], 11)
	le.PutUint32(blk[24:28], types.ObjectTypeOmap|types.ObjPhysical)
	le.PutUint64(blk[48:56], treeBlock)
	return seal(blk)
}

// buildOmapRoot lays out a single-node object-map tree mapping volumeOid
// to apsbBlock.
func buildOmapRoot() []byte {
	blk := make([]byte, BlockSize)
	le.PutUint64(blk[8:16], omapTreeBlock)
	le.PutUint64(blk[16:24], 11)
	le.PutUint32(blk[24:28], types.ObjectTypeBtree|types.ObjPhysical)
	le.PutUint32(blk[28:32], types.ObjectTypeOmap)

	le.PutUint16(blk[32:34], types.BtnodeRoot|types.BtnodeLeaf|types.BtnodeFixedKvSize)
	le.PutUint32(blk[36:40], 1)
	le.PutUint16(blk[42:44], 4) // table space length, one entry

	// Entry 0: key at arena start, value 16 bytes back from the arena end.
	le.PutUint16(blk[56:58], 0)
	le.PutUint16(blk[58:60], 16)

	keyBase := 60
	le.PutUint64(blk[keyBase:keyBase+8], volumeOid)
	le.PutUint64(blk[keyBase+8:keyBase+16], 5)

	valEnd := BlockSize - 40
	le.PutUint32(blk[valEnd-12:valEnd-8], BlockSize)
	le.PutUint64(blk[valEnd-8:valEnd], apsbBlock)

	// Info footer.
	base := BlockSize - 40
	le.PutUint32(blk[base+4:base+8], BlockSize)
	le.PutUint32(blk[base+8:base+12], 16)
	le.PutUint32(blk[base+12:base+16], 16)

	return seal(blk)
}

func buildApsb() []byte {
	blk := make([]byte, BlockSize)
	le.PutUint64(blk[8:16], volumeOid)
	le.PutUint64(blk[16:24], 11)
	le.PutUint32(blk[24:28], types.ObjectTypeFs|types.ObjVirtual)

	le.PutUint32(blk[32:36], types.ApfsMagic)
	le.PutUint64(blk[56:64], types.ApfsIncompatCaseInsensitive)
	le.PutUint64(blk[88:96], 42) // allocated blocks
	le.PutUint64(blk[128:136], 0x404)
	le.PutUint64(blk[136:144], 0x405)
	for i := 0; i < 16; i++ {
		blk[240+i] = byte(0xB0 + i)
	}
	le.PutUint64(blk[264:272], types.ApfsFsUnencrypted)
	copy(blk[704:], "Macintosh HD")
	le.PutUint16(blk[964:966], types.ApfsVolRoleSystem)

	return seal(blk)
}

func buildSpaceman() []byte {
	blk := make([]byte, BlockSize)
	le.PutUint64(blk[8:16], spacemanOid)
	le.PutUint64(blk[16:24], 11)
	le.PutUint32(blk[24:28], types.ObjectTypeSpaceman|types.ObjEphemeral)

	le.PutUint32(blk[32:36], BlockSize)
	le.PutUint32(blk[36:40], 32768) // blocks per chunk
	le.PutUint32(blk[40:44], 100)   // chunks per cib
	le.PutUint32(blk[44:48], 0)

	le.PutUint64(blk[48:56], imgBlocks) // main device blocks
	le.PutUint64(blk[56:64], 4)         // chunks
	le.PutUint32(blk[64:68], 1)         // cib count
	le.PutUint32(blk[68:72], 0)         // cab count
	le.PutUint64(blk[72:80], 21)        // free blocks
	le.PutUint32(blk[80:84], 0x180)     // addr offset

	le.PutUint64(blk[0x180:0x188], cibBlock)

	return seal(blk)
}

func buildCib() []byte {
	blk := make([]byte, BlockSize)
	le.PutUint64(blk[8:16], 0x30)
	le.PutUint64(blk[16:24], 11)
	le.PutUint32(blk[24:28], types.ObjectTypeSpacemanCib|types.ObjPhysical)

	le.PutUint32(blk[36:40], 4)

	writeChunk := func(i int, addr uint64, total, free uint32, bm uint64) {
		off := 40 + 32*i
		le.PutUint64(blk[off:off+8], 11)
		le.PutUint64(blk[off+8:off+16], addr)
		le.PutUint32(blk[off+16:off+20], total)
		le.PutUint32(blk[off+20:off+24], free)
		le.PutUint64(blk[off+24:off+32], bm)
	}

	// Fully allocated, two free chunks that should coalesce, and a
	// partially free chunk tracked by a bitmap.
	writeChunk(0, 0, 32, 0, 0)
	writeChunk(1, 32, 8, 8, 0)
	writeChunk(2, 40, 8, 8, 0)
	writeChunk(3, 48, 16, 5, bitmapBlock)

	return seal(blk)
}

func buildBitmap() []byte {
	blk := make([]byte, BlockSize)
	// 16 bits for the chunk at block 48: everything allocated except
	// bits 3-4 and 13-15.
	blk[0] = 0xE7
	blk[1] = 0x1F
	return blk
}

func buildImage() *memImage {
	img := newMemImage()
	img.setBlock(0, buildNxsb(10, 0, BlockSize))
	img.setBlock(descBase, buildNxsb(11, 0, BlockSize))
	img.setBlock(descBase+1, buildCheckpointMap(11))

	// A newer checkpoint superblock with a torn write must be skipped.
	torn := buildNxsb(12, 0, BlockSize)
	torn[300] ^= 0xFF
	img.setBlock(descBase+2, torn)

	img.setBlock(omapPhysBlock, buildOmapPhys(omapTreeBlock))
	img.setBlock(omapTreeBlock, buildOmapRoot())
	img.setBlock(apsbBlock, buildApsb())
	img.setBlock(spacemanBlock, buildSpaceman())
	img.setBlock(cibBlock, buildCib())
	img.setBlock(bitmapBlock, buildBitmap())
	return img
}

func TestOpenPicksNewestValidCheckpoint(t *testing.T) {
	p, err := Open(buildImage(), 0, nil)
	require.NoError(t, err)

	assert.Equal(t, types.XidT(11), p.Xid(), "torn xid-12 checkpoint must be skipped")
	assert.Equal(t, int64(descBase), p.NxBlock())
	assert.Equal(t, uint32(BlockSize), p.BlockSize())
	assert.Equal(t, uint64(imgBlocks), p.BlockCount())
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", p.UUID().String())
}

func TestOpenWithoutScanKeepsStartBlock(t *testing.T) {
	p, err := Open(buildImage(), 0, &Options{NoCheckpointScan: true})
	require.NoError(t, err)
	assert.Equal(t, types.XidT(10), p.Xid())
	assert.Equal(t, int64(0), p.NxBlock())
}

func TestOpenRejectsBadContainers(t *testing.T) {
	img := newMemImage()
	img.setBlock(0, buildNxsb(10, types.NxIncompatVersion1, BlockSize))
	_, err := Open(img, 0, nil)
	assert.True(t, errs.Is(err, errs.PoolUnsupType), "pre-release container: got %v", err)

	img = newMemImage()
	img.setBlock(0, buildNxsb(10, 0, 8192))
	_, err = Open(img, 0, nil)
	assert.True(t, errs.Is(err, errs.PoolUnsupType), "bad block size: got %v", err)

	img = newMemImage()
	blk := buildNxsb(10, 0, BlockSize)
	le.PutUint32(blk[32:36], 0x12345678)
	img.setBlock(0, seal(blk))
	_, err = Open(img, 0, nil)
	assert.True(t, errs.Is(err, errs.PoolMagic), "bad magic: got %v", err)

	_, err = Open(nil, 0, nil)
	assert.True(t, errs.Is(err, errs.PoolArg), "nil image: got %v", err)
}

func TestVolumes(t *testing.T) {
	p, err := Open(buildImage(), 0, nil)
	require.NoError(t, err)

	vols, err := p.Volumes()
	require.NoError(t, err)
	require.Len(t, vols, 1)

	v := vols[0]
	assert.Equal(t, types.OidT(volumeOid), v.Oid)
	assert.Equal(t, int64(apsbBlock), v.Block)
	assert.Equal(t, "Macintosh HD", v.Name())
	assert.Equal(t, types.ApfsVolRoleSystem, v.Role())
	assert.False(t, v.CaseSensitive())
	assert.False(t, v.Encrypted())
	assert.Equal(t, uint64(42), v.AllocBlocks())
	assert.Equal(t, "System", RoleName(v.Role()))
}

func TestUnallocatedRanges(t *testing.T) {
	p, err := Open(buildImage(), 0, nil)
	require.NoError(t, err)

	sm, err := p.Spaceman()
	require.NoError(t, err)
	assert.Equal(t, uint64(21), sm.FreeBlocks())

	ranges, err := p.UnallocatedRanges()
	require.NoError(t, err)

	assert.Equal(t, []Range{
		{Start: 32, Count: 16}, // two fully free chunks, coalesced
		{Start: 51, Count: 2},  // bitmap clear run at bits 3-4
		{Start: 61, Count: 3},  // bitmap clear run at bits 13-15
	}, ranges)

	bms, err := sm.BitmapBlocks()
	require.NoError(t, err)
	assert.Equal(t, []types.Paddr{bitmapBlock}, bms)
}

func TestReadBlockCaches(t *testing.T) {
	p, err := Open(buildImage(), 0, nil)
	require.NoError(t, err)

	a, err := p.ReadBlock(3)
	require.NoError(t, err)
	b, err := p.ReadBlock(3)
	require.NoError(t, err)
	assert.Same(t, &a[0], &b[0], "repeated read must come from the cache")

	_, err = p.ReadBlock(-1)
	assert.True(t, errs.Is(err, errs.PoolArg), "negative block: got %v", err)
	_, err = p.ReadBlock(imgBlocks + 10)
	assert.True(t, errs.Is(err, errs.PoolRead), "out-of-range block: got %v", err)
}
