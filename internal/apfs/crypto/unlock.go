package crypto

import (
	"crypto/aes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"sync"

	"github.com/apex/log"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/xts"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

var rfc3394IV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// Rfc3394Unwrap unwraps wrapped (a multiple of 8, at least 24 bytes) with
// kek per RFC 3394 AES key unwrap. It fails when the integrity check value
// does not match, which is how a wrong password shows up.
func Rfc3394Unwrap(kek, wrapped []byte) ([]byte, error) {
	const op = "crypto.Rfc3394Unwrap"

	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		return nil, errs.New(errs.FsArg, op, "bad wrapped key length %d", len(wrapped))
	}

	c, err := aes.NewCipher(kek)
	if err != nil {
		return nil, errs.Wrap(errs.FsCrypto, op, err)
	}

	n := len(wrapped)/8 - 1
	a := make([]byte, 8)
	copy(a, wrapped[:8])
	r := make([]byte, n*8)
	copy(r, wrapped[8:])

	var blk [16]byte
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			copy(blk[:8], a)
			binary.BigEndian.PutUint64(blk[:8], binary.BigEndian.Uint64(blk[:8])^t)
			copy(blk[8:], r[(i-1)*8:i*8])
			c.Decrypt(blk[:], blk[:])
			copy(a, blk[:8])
			copy(r[(i-1)*8:i*8], blk[8:])
		}
	}

	if subtle.ConstantTimeCompare(a, rfc3394IV[:]) != 1 {
		return nil, errs.New(errs.FsCrypto, op, "integrity check failed")
	}
	return r, nil
}

// VolumeCrypto holds a volume's wrapped key material and, once unlocked,
// its volume-encryption key and block decryptor. The cipher context is
// stateful, so DecryptBlock serialises through a mutex.
type VolumeCrypto struct {
	VolUUID      types.UUID
	PasswordHint string

	wrappedVek *WrappedVek
	keks       []*WrappedKek

	mu       sync.Mutex
	unlocked bool
	password string
	vek      [32]byte
	cipher   *xts.Cipher
}

// recovery-key UUIDs whose KEK blobs use layouts the engine cannot parse.
var unsupportedRecoveryKeks = []types.UUID{
	types.ApfsFvInstitutionalRecoveryKeyUuid,
	types.ApfsFvInstitutionalUserUuid,
	{0x64, 0xC0, 0xC6, 0xEB, 0x00, 0x00, 0x11, 0xAA, 0xAA, 0x11, 0x00, 0x30, 0x65, 0x43, 0xEC, 0xAC}, // iCloud Recovery
	{0xEC, 0x1C, 0x2A, 0xD9, 0xB6, 0x18, 0x4E, 0xD6, 0xBD, 0x8D, 0x50, 0xF3, 0x61, 0xC2, 0x75, 0x07}, // iCloud User
}

// InitVolumeCrypto gathers a volume's wrapped VEK from the container
// keybag and its wrapped KEKs from the volume keybag. containerUUID and
// keylockerPaddr come from the container superblock.
func InitVolumeCrypto(src interfaces.BlockSource, containerUUID types.UUID, keylockerPaddr int64, volUUID types.UUID, endian binary.ByteOrder) (*VolumeCrypto, error) {
	const op = "crypto.InitVolumeCrypto"

	ckb, err := OpenKeybag(src, keylockerPaddr, containerUUID, types.ObjectTypeContainerKeybag, endian)
	if err != nil {
		return nil, err
	}

	vekBlob := ckb.GetKey(volUUID, types.KbTagVolumeKey)
	if vekBlob == nil {
		return nil, errs.New(errs.FsCrypto, op, "no volume encryption key for volume")
	}
	vek, err := ParseWrappedVek(vekBlob)
	if err != nil {
		return nil, err
	}

	unlockBlob := ckb.GetKey(volUUID, types.KbTagVolumeUnlockRecords)
	if unlockBlob == nil || len(unlockBlob) < 16 {
		return nil, errs.New(errs.FsCrypto, op, "no unlock records for volume")
	}
	recStart := endian.Uint64(unlockBlob[0:8])
	recBlocks := endian.Uint64(unlockBlob[8:16])
	if recBlocks != 1 {
		return nil, errs.New(errs.FsUnsupType, op, "only single block keybags are supported")
	}

	vkb, err := OpenKeybag(src, int64(recStart), volUUID, types.ObjectTypeVolumeKeybag, endian)
	if err != nil {
		return nil, err
	}

	vc := &VolumeCrypto{VolUUID: volUUID, wrappedVek: vek}

	if hint := vkb.GetKey(volUUID, types.KbTagVolumePassphraseHint); hint != nil {
		vc.PasswordHint = cstring(hint)
	}

	for _, e := range vkb.Entries() {
		if e.KeTag != uint16(types.KbTagVolumeUnlockRecords) {
			continue
		}
		if unsupportedKekUUID(e.KeUuid) {
			log.WithField("uuid", e.KeUuid).Debug("skipping unsupported KEK type")
			continue
		}
		kek, err := ParseWrappedKek(e.KeUuid, e.KeKeydata)
		if err != nil {
			log.WithError(err).Debug("skipping unparsable KEK")
			continue
		}
		vc.keks = append(vc.keks, kek)
	}

	if len(vc.keks) == 0 {
		return nil, errs.New(errs.FsCrypto, op, "could not find any KEKs")
	}

	return vc, nil
}

func unsupportedKekUUID(u types.UUID) bool {
	for _, bad := range unsupportedRecoveryKeks {
		if u == bad {
			return true
		}
	}
	return false
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Keks returns the wrapped key-encryption keys gathered from the volume
// keybag.
func (vc *VolumeCrypto) Keks() []*WrappedKek {
	return vc.keks
}

// WrappedVekData returns the wrapped volume-encryption key blob.
func (vc *VolumeCrypto) WrappedVekData() [0x28]byte {
	return vc.wrappedVek.Data
}

// Unlocked reports whether a password has successfully unwrapped the VEK.
func (vc *VolumeCrypto) Unlocked() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.unlocked
}

// VEK returns the unwrapped volume-encryption key material. Valid only
// after a successful Unlock.
func (vc *VolumeCrypto) VEK() [32]byte {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.vek
}

// Password returns the password that unlocked the volume.
func (vc *VolumeCrypto) Password() string {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.password
}

// Unlock tries password against every wrapped KEK in turn; a KEK that
// fails to unwrap falls through to the next. On success the VEK is
// unwrapped, the XTS decryptor is built, and the volume stays unlocked.
func (vc *VolumeCrypto) Unlock(password string) bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if vc.unlocked {
		return true
	}

	if vc.wrappedVek.Unk16() {
		log.Warn("UNK16 is set in VEK, decryption will likely fail")
	}

	for _, wk := range vc.keks {
		kekLen := 0x20
		if wk.CoreStorage() {
			kekLen = 0x10
		}

		if wk.HardwareCrypto() {
			log.Warn("hardware decryption is not supported, KEK decryption will likely fail")
		}

		userKey := pbkdf2.Key([]byte(password), wk.Salt[:], int(wk.Iterations), kekLen, sha256.New)

		kek, err := Rfc3394Unwrap(userKey, wk.Data[:kekLen+8])
		if err != nil {
			log.WithField("uuid", wk.UUID).Debug("KEK can not be unwrapped with given password")
			continue
		}

		vekLen := 0x20
		if vc.wrappedVek.CoreStorage() {
			vekLen = 0x10
		}

		// A 128-bit VEK wrapped with a 256-bit KEK only uses the first
		// 128 bits of the KEK.
		unwrapLen := kekLen
		if vekLen < unwrapLen {
			unwrapLen = vekLen
		}
		vek, err := Rfc3394Unwrap(kek[:unwrapLen], vc.wrappedVek.Data[:vekLen+8])
		if err != nil {
			log.Debug("failed to unwrap VEK")
			continue
		}

		copy(vc.vek[:], vek)

		if vc.wrappedVek.CoreStorage() {
			// CoreStorage-converted volumes derive the tweak key from the
			// first 128 bits of SHA256(vek + vek_uuid).
			var buf [32]byte
			copy(buf[:16], vc.vek[:16])
			copy(buf[16:], vc.wrappedVek.UUID[:])
			sum := sha256.Sum256(buf[:])
			copy(vc.vek[16:], sum[:16])
		}

		c, err := xts.NewCipher(aes.NewCipher, vc.vek[:])
		if err != nil {
			log.WithError(err).Debug("can not build XTS decryptor")
			continue
		}
		vc.cipher = c
		vc.password = password
		vc.unlocked = true

		return true
	}

	return false
}

// DecryptBlock decrypts one container block in place. byteOffset is the
// block's byte position in the image, which seeds the per-unit tweak.
func (vc *VolumeCrypto) DecryptBlock(data []byte, byteOffset uint64) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if !vc.unlocked || vc.cipher == nil {
		return errs.New(errs.FsCrypto, "crypto.DecryptBlock", "volume is not unlocked")
	}
	DecryptBuffer(vc.cipher, data, byteOffset)
	return nil
}
