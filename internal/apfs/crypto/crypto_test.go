package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/xts"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/obj"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// rfc3394Wrap is the encrypt side of RFC 3394, used only to build test
// fixtures; the engine itself never wraps keys.
func rfc3394Wrap(t *testing.T, kek, plain []byte) []byte {
	t.Helper()

	c, err := aes.NewCipher(kek)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}

	n := len(plain) / 8
	a := make([]byte, 8)
	copy(a, rfc3394IV[:])
	r := make([]byte, len(plain))
	copy(r, plain)

	var blk [16]byte
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(blk[:8], a)
			copy(blk[8:], r[(i-1)*8:i*8])
			c.Encrypt(blk[:], blk[:])
			t64 := uint64(n*j + i)
			binary.BigEndian.PutUint64(a, binary.BigEndian.Uint64(blk[:8])^t64)
			copy(r[(i-1)*8:i*8], blk[8:])
		}
	}

	return append(a, r...)
}

func TestRfc3394RoundTrip(t *testing.T) {
	kek := []byte("0123456789abcdef0123456789abcdef")

	for _, size := range []int{16, 32} {
		plain := bytes.Repeat([]byte{0x5A}, size)
		wrapped := rfc3394Wrap(t, kek, plain)
		if len(wrapped) != size+8 {
			t.Fatalf("wrapped length = %d, want %d", len(wrapped), size+8)
		}

		got, err := Rfc3394Unwrap(kek, wrapped)
		if err != nil {
			t.Fatalf("unwrap %d-byte key: %v", size, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("unwrap(wrap(P)) != P for %d-byte key", size)
		}
	}
}

func TestRfc3394WrongKeyFails(t *testing.T) {
	kek := []byte("0123456789abcdef0123456789abcdef")
	wrapped := rfc3394Wrap(t, kek, bytes.Repeat([]byte{0x11}, 32))

	bad := []byte("fedcba9876543210fedcba9876543210")
	if _, err := Rfc3394Unwrap(bad, wrapped); err == nil {
		t.Fatal("unwrap with wrong KEK should fail the integrity check")
	}
}

func TestXTSSelfInverse(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		t.Fatalf("xts.NewCipher: %v", err)
	}

	plain := make([]byte, 4096)
	for i := range plain {
		plain[i] = byte(i * 7)
	}

	enc := make([]byte, len(plain))
	unit := uint64(0x20 * 8) // block 0x20, eight 512-byte units per block
	for off := 0; off < len(plain); off += CryptoSwBlockSize {
		c.Encrypt(enc[off:off+CryptoSwBlockSize], plain[off:off+CryptoSwBlockSize], unit)
		unit++
	}

	DecryptBuffer(c, enc, 0x20*4096)
	if !bytes.Equal(enc, plain) {
		t.Error("decrypt(encrypt(B)) != B")
	}
}

// derBlob builds the SEQUENCE/[3] envelope the keybag key blobs use.
func derBlob(fields ...[]byte) []byte {
	var body []byte
	for _, f := range fields {
		body = append(body, f...)
	}
	inner := append([]byte{derTagKeyData, byte(len(body))}, body...)
	return append([]byte{derTagSequence, byte(len(inner))}, inner...)
}

func derTLV(tag byte, val []byte) []byte {
	return append([]byte{tag, byte(len(val))}, val...)
}

func TestParseWrappedKek(t *testing.T) {
	var u types.UUID
	for i := range u {
		u[i] = byte(i)
	}
	wrapped := bytes.Repeat([]byte{0xAB}, 0x28)
	salt := bytes.Repeat([]byte{0x0F}, 16)

	blob := derBlob(
		derTLV(derTagFlags, []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}),
		derTLV(derTagWrappedKey, wrapped),
		derTLV(derTagIterations, []byte{0x00, 0x9C, 0x40}),
		derTLV(derTagSalt, salt),
	)

	kek, err := ParseWrappedKek(u, blob)
	if err != nil {
		t.Fatalf("ParseWrappedKek: %v", err)
	}
	if kek.UUID != u {
		t.Error("UUID not carried through")
	}
	if kek.Flags != 0x0200000000000000 {
		t.Errorf("Flags = %#x", kek.Flags)
	}
	if !kek.CoreStorage() {
		t.Error("bit 57 should mark a CoreStorage KEK")
	}
	if kek.HardwareCrypto() {
		t.Error("bit 56 should be clear")
	}
	if kek.Iterations != 40000 {
		t.Errorf("Iterations = %d, want 40000", kek.Iterations)
	}
	if !bytes.Equal(kek.Data[:], wrapped) || !bytes.Equal(kek.Salt[:], salt) {
		t.Error("key data or salt mismatch")
	}
}

func TestUnlockWithPassword(t *testing.T) {
	const password = "correct horse"

	var salt [16]byte
	for i := range salt {
		salt[i] = byte(i)
	}

	vek := bytes.Repeat([]byte{0xC3}, 32)
	kek := bytes.Repeat([]byte{0x3C}, 32)
	userKey := pbkdf2.Key([]byte(password), salt[:], 40000, 32, sha256.New)

	wk := &WrappedKek{Iterations: 40000, Salt: salt}
	copy(wk.Data[:], rfc3394Wrap(t, userKey, kek))

	wv := &WrappedVek{}
	copy(wv.Data[:], rfc3394Wrap(t, kek, vek))

	vc := &VolumeCrypto{wrappedVek: wv, keks: []*WrappedKek{wk}}

	if vc.Unlock("wrong password") {
		t.Fatal("unlock should fail with the wrong password")
	}
	if vc.Unlocked() {
		t.Fatal("volume must stay locked after a failed attempt")
	}

	if !vc.Unlock(password) {
		t.Fatal("unlock should succeed with the right password")
	}
	if !vc.Unlocked() {
		t.Fatal("volume should report unlocked")
	}
	got := vc.VEK()
	if !bytes.Equal(got[:], vek) {
		t.Error("unwrapped VEK does not match")
	}
	if vc.Password() != password {
		t.Error("password not recorded")
	}

	// A second KEK that cannot be unwrapped must not prevent unlocking
	// via a later one.
	vc2 := &VolumeCrypto{wrappedVek: wv, keks: []*WrappedKek{{Iterations: 1000}, wk}}
	if !vc2.Unlock(password) {
		t.Fatal("unlock should fall through a failed KEK to the next")
	}
}

type memSource struct {
	blocks map[int64][]byte
}

func (m *memSource) ReadBlock(paddr int64) ([]byte, error) {
	b, ok := m.blocks[paddr]
	if !ok {
		return nil, errs.New(errs.PoolRead, "memSource.ReadBlock", "no block %d", paddr)
	}
	return b, nil
}

func (m *memSource) BlockSize() uint32 {
	return 4096
}

func (m *memSource) BlockCount() uint64 {
	return uint64(len(m.blocks))
}

func TestOpenKeybag(t *testing.T) {
	var u types.UUID
	for i := range u {
		u[i] = byte(0xA0 + i)
	}

	blk := make([]byte, 4096)
	le := binary.LittleEndian
	le.PutUint64(blk[8:16], 0x500)                               // oid
	le.PutUint64(blk[16:24], 9)                                  // xid
	le.PutUint32(blk[24:28], types.ObjectTypeContainerKeybag)    // type
	le.PutUint16(blk[32:34], types.ApfsKeybagVersion)            // version
	le.PutUint16(blk[34:36], 2)                                  // nkeys

	// entry 0: volume key, 20 bytes of data
	off := 48
	copy(blk[off:off+16], u[:])
	le.PutUint16(blk[off+16:off+18], uint16(types.KbTagVolumeKey))
	le.PutUint16(blk[off+18:off+20], 20)
	data0 := bytes.Repeat([]byte{0xEE}, 20)
	copy(blk[off+24:], data0)

	// entry 1 starts on the next 16-byte boundary
	off += (24 + 20 + 0x0F) &^ 0x0F
	copy(blk[off:off+16], u[:])
	le.PutUint16(blk[off+16:off+18], uint16(types.KbTagVolumePassphraseHint))
	le.PutUint16(blk[off+18:off+20], 5)
	copy(blk[off+24:], []byte("hint\x00"))

	le.PutUint32(blk[36:40], uint32(off+24+5-48)) // nbytes
	le.PutUint64(blk[0:8], obj.Checksum(blk))

	// Encrypt the sealed block the way mkfs would.
	xtsKey := append(append([]byte{}, u[:]...), u[:]...)
	c, err := xts.NewCipher(aes.NewCipher, xtsKey)
	if err != nil {
		t.Fatalf("xts.NewCipher: %v", err)
	}
	const paddr = 0x77
	unit := uint64(paddr * 8)
	for o := 0; o < len(blk); o += CryptoSwBlockSize {
		c.Encrypt(blk[o:o+CryptoSwBlockSize], blk[o:o+CryptoSwBlockSize], unit)
		unit++
	}

	src := &memSource{blocks: map[int64][]byte{paddr: blk}}

	kb, err := OpenKeybag(src, paddr, u, types.ObjectTypeContainerKeybag, le)
	if err != nil {
		t.Fatalf("OpenKeybag: %v", err)
	}

	got := kb.GetKey(u, types.KbTagVolumeKey)
	if !bytes.Equal(got, data0) {
		t.Errorf("GetKey(volume key) = %x, want %x", got, data0)
	}
	if hint := kb.GetKey(u, types.KbTagVolumePassphraseHint); cstring(hint) != "hint" {
		t.Errorf("hint = %q", cstring(hint))
	}
	if kb.GetKey(types.UUID{}, types.KbTagVolumeKey) != nil {
		t.Error("lookup with wrong UUID should miss")
	}

	// A wrong key must fail the post-decryption checksum.
	var wrong types.UUID
	if _, err := OpenKeybag(src, paddr, wrong, types.ObjectTypeContainerKeybag, le); !errs.Is(err, errs.FsCrypto) {
		t.Errorf("wrong-key open: err = %v, want FsCrypto", err)
	}
}
