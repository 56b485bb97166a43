package types

import "math"

// Object maps (pages 44-50). An object map is a B-tree keyed by virtual
// object identifier and transaction identifier whose values give the
// physical address of each object.

// OmapPhysT is an object map.
// Reference: page 44
type OmapPhysT struct {
	OmO                ObjPhysT
	OmFlags            uint32 // Omap* flags
	OmSnapCount        uint32 // number of snapshots held by this map
	OmTreeType         uint32 // tree type used for object mappings
	OmSnapshotTreeType uint32 // tree type used for snapshot information
	OmTreeOid          OidT   // mapping tree
	OmSnapshotTreeOid  OidT   // snapshot tree
	OmMostRecentSnap   XidT   // most recent snapshot stored in the map
	OmPendingRevertMin XidT   // smallest transaction of an in-progress revert
	OmPendingRevertMax XidT   // largest transaction of an in-progress revert
}

// OmapKeyT is the key used to look up an object mapping.
// Reference: page 46
type OmapKeyT struct {
	OkOid OidT
	OkXid XidT
}

// OmapValT is an object-mapping value.
// Reference: page 46
type OmapValT struct {
	OvFlags uint32 // OmapVal* flags

	// OvSize is the object size in bytes, a multiple of the container's
	// logical block size; objects smaller than one block report one
	// block. (page 47)
	OvSize uint32

	OvPaddr Paddr
}

// OmapSnapshotT describes a snapshot of an object map.
// Reference: page 47
type OmapSnapshotT struct {
	OmsFlags uint32 // OmapSnapshot* flags
	OmsPad   uint32 // zero on creation, preserved on modification
	OmsOid   OidT   // reserved; zero on creation, preserved on modification
}

// Object-map value flags (page 48).
const (
	// OmapValDeleted marks a placeholder mapping for a deleted object.
	OmapValDeleted uint32 = 0x00000001

	// OmapValSaved marks a mapping that isn't replaced when the object
	// is updated.
	OmapValSaved uint32 = 0x00000002

	// OmapValEncrypted marks an encrypted object.
	OmapValEncrypted uint32 = 0x00000004

	// OmapValNoheader marks an object stored without an obj_phys_t
	// header.
	OmapValNoheader uint32 = 0x00000008

	// OmapValCryptoGeneration tracks the encryption configuration.
	OmapValCryptoGeneration uint32 = 0x00000010
)

// Snapshot flags (page 49).
const (
	OmapSnapshotDeleted  uint32 = 0x00000001 // snapshot has been deleted
	OmapSnapshotReverted uint32 = 0x00000002 // deleted as part of a revert
)

// Object-map flags (pages 49-50).
const (
	// OmapManuallyManaged marks a map with no snapshot support.
	OmapManuallyManaged uint32 = 0x00000001

	// OmapEncrypting marks an in-progress transition to encrypted
	// storage.
	OmapEncrypting uint32 = 0x00000002

	// OmapDecrypting marks an in-progress transition to unencrypted
	// storage.
	OmapDecrypting uint32 = 0x00000004

	// OmapKeyrolling marks an in-progress transition from an old
	// encryption key to a new one.
	OmapKeyrolling uint32 = 0x00000008

	// OmapCryptoGeneration tracks the encryption configuration.
	OmapCryptoGeneration uint32 = 0x00000010

	OmapValidFlags uint32 = 0x0000001f
)

// OmapMaxSnapCount is the maximum number of snapshots an object map can
// store.
// Reference: page 50
const OmapMaxSnapCount uint32 = math.MaxUint32

// Object-map reaper phases (page 50).
const (
	OmapReapPhaseMapTree      uint32 = 1 // deleting entries from the mapping tree
	OmapReapPhaseSnapshotTree uint32 = 2 // deleting entries from the snapshot tree
)
