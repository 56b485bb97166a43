// Package img implements the image layer: random byte access over one or
// more backing evidence files. Backends exist for raw (single and split)
// images, EWF containers, VHD and monolithic-sparse VMDK virtual disks,
// and an external hook for embedders. A shared sector cache sits behind
// every read.
package img

import (
	"fmt"
	"strings"
	"sync"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
)

// Type identifies an image backend.
type Type int

const (
	// TypeDetect asks Open to probe each backend.
	TypeDetect Type = iota
	TypeRaw
	TypeEwf
	TypeAff
	TypeVmdk
	TypeVhd
	TypeExternal
)

func (t Type) String() string {
	switch t {
	case TypeDetect:
		return "auto"
	case TypeRaw:
		return "raw"
	case TypeEwf:
		return "ewf"
	case TypeAff:
		return "aff"
	case TypeVmdk:
		return "vmdk"
	case TypeVhd:
		return "vhd"
	case TypeExternal:
		return "external"
	}
	return "unknown"
}

// ParseType maps a user-supplied type name to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "auto", "detect":
		return TypeDetect, nil
	case "raw", "split":
		return TypeRaw, nil
	case "ewf", "e01":
		return TypeEwf, nil
	case "aff":
		return TypeAff, nil
	case "vmdk":
		return TypeVmdk, nil
	case "vhd":
		return TypeVhd, nil
	case "external":
		return TypeExternal, nil
	}
	return TypeDetect, errs.New(errs.ImgUnknownType, "img.ParseType", "unknown image type %q", s)
}

// backend is the per-format contract behind Image.
type backend interface {
	interfaces.Image
	imgType() Type
}

// Image is the image-layer handle: a format backend plus the read cache.
type Image struct {
	b backend

	mu    sync.Mutex
	cache *readCache

	sectorSize uint32
}

var _ interfaces.Image = (*Image)(nil)

// DefaultSectorSize is assumed when the caller and the backend are both
// silent about the device geometry.
const DefaultSectorSize uint32 = 512

// MaxSectorSize bounds sector-size auto-detection.
const MaxSectorSize uint32 = 8192

// Open opens the image at the given paths. With TypeDetect the backends
// are probed in a fixed order (raw/split, EWF, AFF, VMDK, VHD) using their
// signatures; the first match wins and a signature-less image is raw.
// sectorSize zero selects the backend's native size or DefaultSectorSize.
func Open(paths []string, typeHint Type, sectorSize uint32) (*Image, error) {
	const op = "img.Open"

	if len(paths) == 0 {
		return nil, errs.New(errs.ImgNoFile, op, "no image files given")
	}
	if sectorSize != 0 && (sectorSize < 512 || sectorSize > MaxSectorSize || sectorSize%512 != 0) {
		return nil, errs.New(errs.AuxArg, op, "invalid sector size %d", sectorSize)
	}

	typ := typeHint
	if typ == TypeDetect {
		var err error
		typ, err = detectType(paths[0])
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"path": paths[0], "type": typ.String()}).Debug("image type detected")
	}

	var (
		b   backend
		err error
	)
	switch typ {
	case TypeRaw:
		b, err = openRaw(paths)
	case TypeEwf:
		b, err = openEwf(paths)
	case TypeAff:
		err = errs.New(errs.ImgUnsupType, op, "AFF images are not supported")
	case TypeVmdk:
		b, err = openVmdk(paths)
	case TypeVhd:
		b, err = openVhd(paths)
	case TypeExternal:
		b, err = openExternal(paths)
	default:
		err = errs.New(errs.ImgUnknownType, op, "unknown image type %d", typ)
	}
	if err != nil {
		return nil, err
	}

	img := &Image{
		b:          b,
		cache:      newReadCache(),
		sectorSize: sectorSize,
	}
	if img.sectorSize == 0 {
		img.sectorSize = b.SectorSize()
	}
	if img.sectorSize == 0 {
		img.sectorSize = DefaultSectorSize
	}
	return img, nil
}

// detectType sniffs the backing-file signatures in probe order.
func detectType(path string) (Type, error) {
	head, tail, err := sniff(path)
	if err != nil {
		return TypeDetect, errs.Wrap(errs.ImgOpen, "img.detectType", err)
	}
	switch {
	case isEwfSignature(head):
		return TypeEwf, nil
	case isAffSignature(head):
		return TypeAff, nil
	case isVmdkSignature(head):
		return TypeVmdk, nil
	case isVhdSignature(tail):
		return TypeVhd, nil
	}
	return TypeRaw, nil
}

// Type returns the backend type.
func (i *Image) Type() Type {
	return i.b.imgType()
}

// Size returns the total image size in bytes.
func (i *Image) Size() int64 {
	return i.b.Size()
}

// SectorSize returns the device sector size.
func (i *Image) SectorSize() uint32 {
	return i.sectorSize
}

// Paths returns the backing file names.
func (i *Image) Paths() []string {
	return i.b.Paths()
}

// ReadAt reads len(p) bytes at the absolute offset off, served through the
// cache. Safe for concurrent use.
func (i *Image) ReadAt(p []byte, off int64) (int, error) {
	const op = "img.ReadAt"

	if off < 0 {
		return 0, errs.New(errs.AuxArg, op, "negative offset %d", off)
	}
	if off >= i.Size() {
		return 0, errs.New(errs.ImgOffsetTooLarge, op, "offset %d beyond image size %d", off, i.Size())
	}

	total := 0
	for total < len(p) {
		cur := off + int64(total)
		if cur >= i.Size() {
			return total, errs.New(errs.ImgRead, op, "short read at offset %d", cur)
		}
		chunkBase := cur &^ (cacheChunkSize - 1)
		chunk, err := i.cachedChunk(chunkBase)
		if err != nil {
			return total, err
		}
		n := copy(p[total:], chunk[cur-chunkBase:])
		if n == 0 {
			return total, errs.New(errs.ImgRead, op, "short read at offset %d", cur)
		}
		total += n
	}
	return total, nil
}

// cachedChunk returns the cache-aligned chunk starting at base, populating
// the cache on a miss. The cache lock is held across the miss so backends
// never see concurrent reads through the cache.
func (i *Image) cachedChunk(base int64) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if chunk, ok := i.cache.get(base); ok {
		return chunk, nil
	}

	want := cacheChunkSize
	if rem := i.Size() - base; rem < int64(want) {
		want = int(rem)
	}
	chunk := make([]byte, want)
	n, err := i.b.ReadAt(chunk, base)
	if err != nil && n != want {
		return nil, errs.Wrap(errs.ImgRead, "img.cachedChunk", fmt.Errorf("reading %d bytes at %d: %w", want, base, err))
	}
	i.cache.put(base, chunk[:n])
	return chunk[:n], nil
}

// Close releases the backing files.
func (i *Image) Close() error {
	return i.b.Close()
}
