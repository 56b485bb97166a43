package pool

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-disksleuth/internal/apfs/btree"
	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// Volume is one volume superblock (APSB) found through the container
// object map. The filesystem layer opens volumes from these entries.
type Volume struct {
	// Index is the position in the container's volume list.
	Index int

	// Oid is the volume's virtual object identifier.
	Oid types.OidT

	// Block is the physical block the superblock was resolved to.
	Block int64

	// Sb is the parsed superblock.
	Sb *types.ApfsSuperblockT
}

// Name returns the volume name.
func (v *Volume) Name() string {
	name := v.Sb.ApfsVolname[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

// UUID returns the volume's identifier.
func (v *Volume) UUID() uuid.UUID {
	return uuid.UUID(v.Sb.ApfsVolUuid)
}

// Role returns the volume role bits.
func (v *Volume) Role() uint16 {
	return v.Sb.ApfsRole
}

// CaseSensitive reports whether filenames on the volume compare
// case-sensitively.
func (v *Volume) CaseSensitive() bool {
	return v.Sb.ApfsIncompatibleFeatures&types.ApfsIncompatCaseInsensitive == 0
}

// Encrypted reports whether the volume's file contents are encrypted.
func (v *Volume) Encrypted() bool {
	return v.Sb.ApfsFsFlags&types.ApfsFsUnencrypted == 0
}

// AllocBlocks returns the number of blocks currently allocated to the
// volume.
func (v *Volume) AllocBlocks() uint64 {
	return v.Sb.ApfsFsAllocCount
}

// RoleName returns a human-readable volume role.
func RoleName(role uint16) string {
	switch role {
	case types.ApfsVolRoleNone:
		return "No specific role"
	case types.ApfsVolRoleSystem:
		return "System"
	case types.ApfsVolRoleUser:
		return "User"
	case types.ApfsVolRoleRecovery:
		return "Recovery"
	case types.ApfsVolRoleVm:
		return "VM"
	case types.ApfsVolRolePreboot:
		return "Preboot"
	}
	return "Unknown"
}

// Omap opens the container object map.
func (p *Pool) Omap() (*btree.Omap, error) {
	// The container omap oid is physical.
	return btree.NewOmap(p, int64(p.sb.NxOmapOid), p.endian)
}

// Volumes resolves every volume oid recorded in the superblock through
// the container object map. The oid array ends at its first zero entry.
func (p *Pool) Volumes() ([]*Volume, error) {
	omap, err := p.Omap()
	if err != nil {
		return nil, err
	}

	var vols []*Volume
	for i := 0; i < int(p.sb.NxMaxFileSystems) && i < types.NxMaxFileSystems; i++ {
		oid := p.sb.NxFsOid[i]
		if oid == 0 {
			break
		}

		val, err := omap.Lookup(oid)
		if err != nil {
			return nil, errs.New(errs.PoolCorrupt, "pool.Volumes", "volume oid %d not in object map", oid)
		}

		blk, err := p.ReadBlock(int64(val.OvPaddr))
		if err != nil {
			return nil, err
		}
		if !obj.ValidChecksum(blk) {
			return nil, errs.New(errs.PoolCorrupt, "pool.Volumes", "volume superblock at block %d fails checksum", val.OvPaddr)
		}

		sb, err := ParseVolumeSuperblock(blk, p.endian)
		if err != nil {
			return nil, err
		}

		vols = append(vols, &Volume{
			Index: len(vols),
			Oid:   oid,
			Block: int64(val.OvPaddr),
			Sb:    sb,
		})
	}

	return vols, nil
}

// ParseVolumeSuperblock decodes a volume superblock (APSB) from a raw
// block.
func ParseVolumeSuperblock(data []byte, endian binary.ByteOrder) (*types.ApfsSuperblockT, error) {
	if len(data) < 984 {
		return nil, errs.New(errs.PoolCorrupt, "apsb", "data too small for volume superblock: %d bytes", len(data))
	}

	hdr, err := obj.ParseHeader(data, endian)
	if err != nil {
		return nil, errs.Wrap(errs.PoolCorrupt, "apsb", err)
	}
	if hdr.OType&types.ObjectTypeMask != types.ObjectTypeFs {
		return nil, errs.New(errs.PoolCorrupt, "apsb", "object type 0x%x is not a volume superblock", hdr.OType)
	}

	sb := &types.ApfsSuperblockT{ApfsO: *hdr}

	sb.ApfsMagic = endian.Uint32(data[32:36])
	if sb.ApfsMagic != types.ApfsMagic {
		return nil, errs.New(errs.PoolCorrupt, "apsb", "invalid volume magic 0x%08x", sb.ApfsMagic)
	}

	sb.ApfsFsIndex = endian.Uint32(data[36:40])
	sb.ApfsFeatures = endian.Uint64(data[40:48])
	sb.ApfsReadonlyCompatibleFeatures = endian.Uint64(data[48:56])
	sb.ApfsIncompatibleFeatures = endian.Uint64(data[56:64])
	sb.ApfsUnmountTime = endian.Uint64(data[64:72])
	sb.ApfsFsReserveBlockCount = endian.Uint64(data[72:80])
	sb.ApfsFsQuotaBlockCount = endian.Uint64(data[80:88])
	sb.ApfsFsAllocCount = endian.Uint64(data[88:96])

	sb.ApfsMetaCrypto.MajorVersion = endian.Uint16(data[96:98])
	sb.ApfsMetaCrypto.MinorVersion = endian.Uint16(data[98:100])
	sb.ApfsMetaCrypto.Cpflags = types.CryptoFlagsT(endian.Uint32(data[100:104]))
	sb.ApfsMetaCrypto.PersistentClass = types.CpKeyClassT(endian.Uint32(data[104:108]))
	sb.ApfsMetaCrypto.KeyOsVersion = types.CpKeyOsVersionT(endian.Uint32(data[108:112]))
	sb.ApfsMetaCrypto.KeyRevision = types.CpKeyRevisionT(endian.Uint16(data[112:114]))
	sb.ApfsMetaCrypto.Unused = endian.Uint16(data[114:116])

	sb.ApfsRootTreeType = endian.Uint32(data[116:120])
	sb.ApfsExtentreftreeType = endian.Uint32(data[120:124])
	sb.ApfsSnapMetatreeType = endian.Uint32(data[124:128])
	sb.ApfsOmapOid = types.OidT(endian.Uint64(data[128:136]))
	sb.ApfsRootTreeOid = types.OidT(endian.Uint64(data[136:144]))
	sb.ApfsExtentrefTreeOid = types.OidT(endian.Uint64(data[144:152]))
	sb.ApfsSnapMetaTreeOid = types.OidT(endian.Uint64(data[152:160]))

	sb.ApfsRevertToXid = types.XidT(endian.Uint64(data[160:168]))
	sb.ApfsRevertToSblockOid = types.OidT(endian.Uint64(data[168:176]))
	sb.ApfsNextObjId = endian.Uint64(data[176:184])
	sb.ApfsNumFiles = endian.Uint64(data[184:192])
	sb.ApfsNumDirectories = endian.Uint64(data[192:200])
	sb.ApfsNumSymlinks = endian.Uint64(data[200:208])
	sb.ApfsNumOtherFsobjects = endian.Uint64(data[208:216])
	sb.ApfsNumSnapshots = endian.Uint64(data[216:224])
	sb.ApfsTotalBlocksAlloced = endian.Uint64(data[224:232])
	sb.ApfsTotalBlocksFreed = endian.Uint64(data[232:240])

	copy(sb.ApfsVolUuid[:], data[240:256])
	sb.ApfsLastModTime = endian.Uint64(data[256:264])
	sb.ApfsFsFlags = endian.Uint64(data[264:272])

	parseModifiedBy := func(off int, m *types.ApfsModifiedByT) {
		copy(m.Id[:], data[off:off+types.ApfsModifiedNamelen])
		m.Timestamp = endian.Uint64(data[off+32 : off+40])
		m.LastXid = types.XidT(endian.Uint64(data[off+40 : off+48]))
	}

	parseModifiedBy(272, &sb.ApfsFormattedBy)
	for i := 0; i < types.ApfsMaxHist; i++ {
		parseModifiedBy(320+i*48, &sb.ApfsModifiedBy[i])
	}

	copy(sb.ApfsVolname[:], data[704:960])
	sb.ApfsNextDocId = endian.Uint32(data[960:964])
	sb.ApfsRole = endian.Uint16(data[964:966])
	sb.ApfsRootToXid = types.XidT(endian.Uint64(data[968:976]))
	sb.ApfsErStateOid = types.OidT(endian.Uint64(data[976:984]))

	return sb, nil
}
