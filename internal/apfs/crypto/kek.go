package crypto

import (
	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// Keybag key blobs are DER-flavoured: a SEQUENCE (0x30) holding a
// context-specific [3] (0xA3) whose children carry the key material.
const (
	derTagSequence = 0x30
	derTagKeyData  = 0xA3

	derTagUUID       = 0x81
	derTagFlags      = 0x82
	derTagWrappedKey = 0x83
	derTagIterations = 0x84
	derTagSalt       = 0x85
)

// WrappedKek is a KEK record from a volume keybag: a wrapped
// key-encrypting key plus the PBKDF2 parameters needed to unwrap it.
type WrappedKek struct {
	UUID       types.UUID
	Flags      uint64
	Data       [0x28]byte
	Iterations uint64
	Salt       [16]byte
}

// CoreStorage reports whether this KEK came from a converted CoreStorage
// volume; those use a 128-bit user key.
func (k *WrappedKek) CoreStorage() bool {
	return k.Flags&(1<<57) != 0
}

// HardwareCrypto reports whether unwrapping this KEK requires
// hardware-assisted decryption, which software cannot perform.
func (k *WrappedKek) HardwareCrypto() bool {
	return k.Flags&(1<<56) != 0
}

func derLength(data []byte, pos int) (length, next int, ok bool) {
	if pos >= len(data) {
		return 0, 0, false
	}
	l := int(data[pos])
	pos++
	if l&0x80 == 0 {
		return l, pos, true
	}
	n := l & 0x7F
	if n > 4 || pos+n > len(data) {
		return 0, 0, false
	}
	l = 0
	for i := 0; i < n; i++ {
		l = l<<8 | int(data[pos+i])
	}
	return l, pos + n, true
}

// derField walks data's top-level TLV entries and returns the value of the
// first entry with the given tag.
func derField(data []byte, tag byte) []byte {
	pos := 0
	for pos < len(data) {
		t := data[pos]
		l, next, ok := derLength(data, pos+1)
		if !ok || next+l > len(data) {
			return nil
		}
		if t == tag {
			return data[next : next+l]
		}
		pos = next + l
	}
	return nil
}

// derKeyData unwraps the outer SEQUENCE and [3] envelope of a keybag blob.
func derKeyData(blob []byte) []byte {
	seq := derField(blob, derTagSequence)
	if seq == nil {
		return nil
	}
	return derField(seq, derTagKeyData)
}

func derNumber(data []byte, tag byte) (uint64, bool) {
	v := derField(data, tag)
	if v == nil || len(v) > 8 {
		return 0, false
	}
	var n uint64
	for _, b := range v {
		n = n<<8 | uint64(b)
	}
	return n, true
}

// ParseWrappedKek decodes an UNLOCK_RECORDS blob from a volume keybag.
func ParseWrappedKek(u types.UUID, blob []byte) (*WrappedKek, error) {
	const op = "crypto.ParseWrappedKek"

	body := derKeyData(blob)
	if body == nil {
		return nil, errs.New(errs.FsCrypto, op, "malformed KEK blob")
	}

	k := &WrappedKek{UUID: u}

	flags, ok := derNumber(body, derTagFlags)
	if !ok {
		return nil, errs.New(errs.FsCrypto, op, "KEK flags missing")
	}
	k.Flags = flags

	data := derField(body, derTagWrappedKey)
	if len(data) != len(k.Data) {
		return nil, errs.New(errs.FsCrypto, op, "invalid KEK size %d", len(data))
	}
	copy(k.Data[:], data)

	iter, ok := derNumber(body, derTagIterations)
	if !ok {
		return nil, errs.New(errs.FsCrypto, op, "KEK iteration count missing")
	}
	k.Iterations = iter

	salt := derField(body, derTagSalt)
	if len(salt) != len(k.Salt) {
		return nil, errs.New(errs.FsCrypto, op, "invalid salt size %d", len(salt))
	}
	copy(k.Salt[:], salt)

	return k, nil
}

// WrappedVek is the VOLUME_KEY record from the container keybag: the
// wrapped volume-encryption key and its metadata.
type WrappedVek struct {
	UUID  types.UUID
	Flags uint64
	Data  [0x28]byte
}

// CoreStorage reports whether the VEK came from a converted CoreStorage
// volume; those derive the XTS tweak key from SHA-256 of the VEK and its UUID.
func (v *WrappedVek) CoreStorage() bool {
	return v.Flags&(1<<57) != 0
}

// Unk16 reports an undocumented VEK flag under which software unwrap is
// known to fail.
func (v *WrappedVek) Unk16() bool {
	return v.Flags&(1<<56) != 0
}

// ParseWrappedVek decodes a VOLUME_KEY blob from the container keybag.
func ParseWrappedVek(blob []byte) (*WrappedVek, error) {
	const op = "crypto.ParseWrappedVek"

	body := derKeyData(blob)
	if body == nil {
		return nil, errs.New(errs.FsCrypto, op, "malformed VEK blob")
	}

	v := &WrappedVek{}

	data := derField(body, derTagWrappedKey)
	if len(data) != len(v.Data) {
		return nil, errs.New(errs.FsCrypto, op, "invalid VEK size %d", len(data))
	}
	copy(v.Data[:], data)

	flags, ok := derNumber(body, derTagFlags)
	if !ok {
		return nil, errs.New(errs.FsCrypto, op, "VEK flags missing")
	}
	v.Flags = flags

	u := derField(body, derTagUUID)
	if len(u) != 16 {
		return nil, errs.New(errs.FsCrypto, op, "invalid VEK UUID size %d", len(u))
	}
	copy(v.UUID[:], u)

	return v, nil
}
