package pool

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// parseSuperblock decodes a container superblock from a raw block. The
// caller decides whether a checksum failure is fatal, so only structural
// validation happens here.
func parseSuperblock(data []byte, endian binary.ByteOrder) (*types.NxSuperblockT, error) {
	if len(data) < 1344 {
		return nil, errs.New(errs.PoolCorrupt, "nxsb", "data too small for container superblock: %d bytes", len(data))
	}

	hdr, err := obj.ParseHeader(data, endian)
	if err != nil {
		return nil, errs.Wrap(errs.PoolCorrupt, "nxsb", err)
	}

	sb := &types.NxSuperblockT{NxO: *hdr}

	sb.NxMagic = endian.Uint32(data[32:36])
	if sb.NxMagic != types.NxMagic {
		return nil, errs.New(errs.PoolMagic, "nxsb", "invalid container magic 0x%08x", sb.NxMagic)
	}

	sb.NxBlockSize = endian.Uint32(data[36:40])
	sb.NxBlockCount = endian.Uint64(data[40:48])
	sb.NxFeatures = endian.Uint64(data[48:56])
	sb.NxReadonlyCompatibleFeatures = endian.Uint64(data[56:64])
	sb.NxIncompatibleFeatures = endian.Uint64(data[64:72])
	copy(sb.NxUuid[:], data[72:88])
	sb.NxNextOid = types.OidT(endian.Uint64(data[88:96]))
	sb.NxNextXid = types.XidT(endian.Uint64(data[96:104]))

	sb.NxXpDescBlocks = endian.Uint32(data[104:108])
	sb.NxXpDataBlocks = endian.Uint32(data[108:112])
	sb.NxXpDescBase = types.Paddr(endian.Uint64(data[112:120]))
	sb.NxXpDataBase = types.Paddr(endian.Uint64(data[120:128]))
	sb.NxXpDescNext = endian.Uint32(data[128:132])
	sb.NxXpDataNext = endian.Uint32(data[132:136])
	sb.NxXpDescIndex = endian.Uint32(data[136:140])
	sb.NxXpDescLen = endian.Uint32(data[140:144])
	sb.NxXpDataIndex = endian.Uint32(data[144:148])
	sb.NxXpDataLen = endian.Uint32(data[148:152])

	sb.NxSpacemanOid = types.OidT(endian.Uint64(data[152:160]))
	sb.NxOmapOid = types.OidT(endian.Uint64(data[160:168]))
	sb.NxReaperOid = types.OidT(endian.Uint64(data[168:176]))

	sb.NxTestType = endian.Uint32(data[176:180])
	sb.NxMaxFileSystems = endian.Uint32(data[180:184])

	off := 184
	for i := 0; i < types.NxMaxFileSystems; i++ {
		sb.NxFsOid[i] = types.OidT(endian.Uint64(data[off : off+8]))
		off += 8
	}

	for i := 0; i < types.NxNumCounters; i++ {
		sb.NxCounters[i] = endian.Uint64(data[off : off+8])
		off += 8
	}

	sb.NxBlockedOutPrange.PrStartPaddr = types.Paddr(endian.Uint64(data[off : off+8]))
	sb.NxBlockedOutPrange.PrBlockCount = endian.Uint64(data[off+8 : off+16])
	off += 16

	sb.NxEvictMappingTreeOid = types.OidT(endian.Uint64(data[off : off+8]))
	off += 8
	sb.NxFlags = endian.Uint64(data[off : off+8])
	off += 8
	sb.NxEfiJumpstart = types.Paddr(endian.Uint64(data[off : off+8]))
	off += 8

	copy(sb.NxFusionUuid[:], data[off:off+16])
	off += 16

	sb.NxKeylocker.PrStartPaddr = types.Paddr(endian.Uint64(data[off : off+8]))
	sb.NxKeylocker.PrBlockCount = endian.Uint64(data[off+8 : off+16])
	off += 16

	for i := 0; i < types.NxEphInfoCount; i++ {
		sb.NxEphemeralInfo[i] = endian.Uint64(data[off : off+8])
		off += 8
	}

	return sb, nil
}
