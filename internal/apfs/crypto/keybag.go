// Package crypto implements the APFS software-encryption model: encrypted
// keybags, PBKDF2 password derivation, RFC 3394 key unwrap, and AES-XTS
// block decryption with 512-byte crypto units.
package crypto

import (
	"crypto/aes"
	"encoding/binary"

	"golang.org/x/crypto/xts"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// CryptoSwBlockSize is the size of one software-encryption unit. The XTS
// tweak advances by one per unit, counted from the start of the container.
const CryptoSwBlockSize = 512

const keybagHeaderLen = 48

// Keybag is a decrypted keybag block. The container keybag lives at the
// keylocker paddr and is keyed with the container UUID; each volume keybag
// is keyed with its volume's UUID.
type Keybag struct {
	locker types.KbLockerT
}

// OpenKeybag reads the single-block keybag at paddr and decrypts it using
// the given UUID as both halves of the XTS key. wantType is the expected
// raw object type ('keys' for the container, 'recs' for a volume).
func OpenKeybag(src interfaces.BlockSource, paddr int64, key types.UUID, wantType uint32, endian binary.ByteOrder) (*Keybag, error) {
	const op = "crypto.OpenKeybag"

	blk, err := src.ReadBlock(paddr)
	if err != nil {
		return nil, err
	}

	// The source hands out shared block data. Decrypt a private copy.
	data := make([]byte, len(blk))
	copy(data, blk)

	xtsKey := make([]byte, 0, 32)
	xtsKey = append(xtsKey, key[:]...)
	xtsKey = append(xtsKey, key[:]...)

	c, err := xts.NewCipher(aes.NewCipher, xtsKey)
	if err != nil {
		return nil, errs.Wrap(errs.FsCrypto, op, err)
	}
	DecryptBuffer(c, data, uint64(paddr)*uint64(src.BlockSize()))

	if !obj.ValidChecksum(data) {
		return nil, errs.New(errs.FsCrypto, op, "keybag at block %d did not decrypt properly", paddr)
	}

	hdr, err := obj.ParseHeader(data, endian)
	if err != nil {
		return nil, err
	}
	if hdr.OType != wantType {
		return nil, errs.New(errs.FsCrypto, op, "unexpected keybag object type 0x%08x", hdr.OType)
	}

	kb := &Keybag{
		locker: types.KbLockerT{
			KlVersion: endian.Uint16(data[32:34]),
			KlNkeys:   endian.Uint16(data[34:36]),
			KlNbytes:  endian.Uint32(data[36:40]),
		},
	}
	if kb.locker.KlVersion != types.ApfsKeybagVersion {
		return nil, errs.New(errs.FsUnsupType, op, "keybag version %d not supported", kb.locker.KlVersion)
	}

	// Entries follow the header, each padded out to a 16-byte boundary.
	off := keybagHeaderLen
	for i := 0; i < int(kb.locker.KlNkeys); i++ {
		if off+24 > len(data) {
			return nil, errs.New(errs.FsCorrupt, op, "keybag entry %d out of bounds", i)
		}
		var e types.KeybagEntryT
		copy(e.KeUuid[:], data[off:off+16])
		e.KeTag = endian.Uint16(data[off+16 : off+18])
		e.KeKeylen = endian.Uint16(data[off+18 : off+20])
		if e.KeKeylen > types.ApfsVolKeybagEntryMaxSize || off+24+int(e.KeKeylen) > len(data) {
			return nil, errs.New(errs.FsCorrupt, op, "keybag entry %d has bad length %d", i, e.KeKeylen)
		}
		e.KeKeydata = data[off+24 : off+24+int(e.KeKeylen)]
		kb.locker.KlEntries = append(kb.locker.KlEntries, e)

		off += (24 + int(e.KeKeylen) + 0x0F) &^ 0x0F
	}

	return kb, nil
}

// GetKey returns the data of the first entry matching uuid and tag.
func (kb *Keybag) GetKey(u types.UUID, tag types.KbTag) []byte {
	for _, e := range kb.locker.KlEntries {
		if e.KeTag == uint16(tag) && e.KeUuid == u {
			return e.KeKeydata
		}
	}
	return nil
}

// Entries returns every entry in the keybag.
func (kb *Keybag) Entries() []types.KeybagEntryT {
	return kb.locker.KlEntries
}

// DecryptBuffer decrypts data in place, one 512-byte unit at a time. The
// tweak for each unit is its index from the start of the image, so the
// caller passes the byte offset of data's first byte.
func DecryptBuffer(c *xts.Cipher, data []byte, byteOffset uint64) {
	unit := byteOffset / CryptoSwBlockSize
	for off := 0; off+CryptoSwBlockSize <= len(data); off += CryptoSwBlockSize {
		c.Decrypt(data[off:off+CryptoSwBlockSize], data[off:off+CryptoSwBlockSize], unit)
		unit++
	}
}
