package types

// B-Trees (pages 122-134)
// Every node of every B-tree is stored as a btree_node_phys_t; root nodes
// additionally carry a btree_info_t at the end of their storage area.

// BtreeNodePhysT is a B-tree node.
// Reference: page 123
type BtreeNodePhysT struct {
	// The object's header. (page 124)
	BtnO ObjPhysT
	// The node's flags; see B-Tree Node Flags. (page 124)
	BtnFlags uint16
	// The number of child levels below this node; zero for a leaf. (page 124)
	BtnLevel uint16
	// The number of keys stored in this node. (page 124)
	BtnNkeys uint32
	// The location of the table of contents, counted from the start of
	// btn_data. An array of kvoff_t with BTNODE_FIXED_KV_SIZE set,
	// kvloc_t otherwise. (page 124)
	BtnTableSpace NlocT
	// The shared free space between the key and value areas. (page 124)
	BtnFreeSpace NlocT
	// The free-list of key space; off links the next free chunk. (page 125)
	BtnKeyFreeList NlocT
	// The free-list of value space. (page 125)
	BtnValFreeList NlocT
	// Table of contents, keys, free space, and values. (page 125)
	BtnData []byte
}

// BtreeInfoFixedT is the static half of a B-tree's info footer.
// Reference: page 125
type BtreeInfoFixedT struct {
	// The B-tree's flags; see B-Tree Flags. (page 125)
	BtFlags uint32
	// The on-disk size of every node in this tree. (page 126)
	BtNodeSize uint32
	// The key size, or zero when keys vary. (page 126)
	BtKeySize uint32
	// The value size, or zero when values vary. (page 126)
	BtValSize uint32
}

// BtreeInfoT is the info footer stored at the end of a root node.
// Reference: page 126
type BtreeInfoT struct {
	// The fields that don't change over time. (page 126)
	BtFixed BtreeInfoFixedT
	// The longest key ever stored in the tree. (page 126)
	BtLongestKey uint32
	// The longest value ever stored in the tree. (page 126)
	BtLongestVal uint32
	// The number of keys in the tree. (page 127)
	BtKeyCount uint64
	// The number of nodes in the tree. (page 127)
	BtNodeCount uint64
}

// BtnIndexNodeValT is the nonleaf value of a hashed B-tree: the child's
// oid followed by its hash.
// Reference: page 127
type BtnIndexNodeValT struct {
	BinvChildOid  OidT
	BinvChildHash [BtreeNodeHashSizeMax]byte
}

// BtreeNodeHashSizeMax is the longest child hash a hashed tree stores.
// Reference: page 128
const BtreeNodeHashSizeMax = 64

// NlocT is a location within a B-tree node: an offset and a length, both
// in bytes. What the offset is relative to depends on the containing
// field.
// Reference: page 128
type NlocT struct {
	Off uint16
	Len uint16
}

// BtoffInvalid marks an nloc_t off field that holds no offset, e.g. the
// end of a free list or a ghost entry's value.
// Reference: page 128
const BtoffInvalid uint16 = 0xffff

// KvlocT locates a variable-size key and value within a node.
// Reference: page 128
type KvlocT struct {
	K NlocT
	V NlocT
}

// KvoffT locates a fixed-size key and value within a node.
// Reference: page 129
type KvoffT struct {
	K uint16
	V uint16
}

// B-Tree Flags (pages 129-131)
const (
	// BtreeUint64Keys enables fast comparison of 64-bit keys.
	BtreeUint64Keys uint32 = 0x00000001

	// BtreeSequentialInsert keeps the tree compact under sequential
	// insertion.
	BtreeSequentialInsert uint32 = 0x00000002

	// BtreeAllowGhosts permits table-of-contents keys with no value.
	BtreeAllowGhosts uint32 = 0x00000004

	// BtreeEphemeral links child nodes by ephemeral object identifier.
	BtreeEphemeral uint32 = 0x00000008

	// BtreePhysical links child nodes by physical object identifier.
	BtreePhysical uint32 = 0x00000010

	// BtreeNonpersistent marks a tree that isn't persisted across
	// unmounting.
	BtreeNonpersistent uint32 = 0x00000020

	// BtreeKvNonaligned drops the eight-byte alignment requirement on
	// keys and values.
	BtreeKvNonaligned uint32 = 0x00000040

	// BtreeHashed marks a tree whose nonleaf nodes store child hashes.
	BtreeHashed uint32 = 0x00000080

	// BtreeNoheader marks a tree whose nodes omit object headers.
	BtreeNoheader uint32 = 0x00000100
)

// B-Tree Node Flags (pages 132-133)

// BtnodeRoot marks a root node.
// Reference: page 132
const BtnodeRoot uint16 = 0x0001

// BtnodeLeaf marks a leaf node.
// Reference: page 132
const BtnodeLeaf uint16 = 0x0002

// BtnodeFixedKvSize marks a node whose table of contents omits key and
// value lengths because they are fixed for the tree.
// Reference: page 132
const BtnodeFixedKvSize uint16 = 0x0004

// BtnodeHashed marks a node that contains child hashes.
// Reference: page 132
const BtnodeHashed uint16 = 0x0008

// BtnodeNoheader marks a node stored without an object header.
// Reference: page 133
const BtnodeNoheader uint16 = 0x0010

// BtnodeCheckKoffInval marks a node in a transient state.
// Reference: page 133
const BtnodeCheckKoffInval uint16 = 0x8000

// BtreeNodeSizeDefault is the default node size.
// Reference: page 133
const BtreeNodeSizeDefault uint32 = 4096

// BtreeNodeMinEntryCount is the minimum number of entries a nonleaf node
// must be able to hold.
// Reference: page 133
const BtreeNodeMinEntryCount uint32 = 4
