package img

import (
	"fmt"
	"io"
	"os"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
)

// rawImage serves one or more raw backing files as a single byte range.
// Split segments are stitched in the order the caller supplied them.
type rawImage struct {
	paths   []string
	files   []*os.File
	starts  []int64 // cumulative byte offset of each segment
	size    int64
	closed  bool
}

func openRaw(paths []string) (*rawImage, error) {
	const op = "img.openRaw"

	r := &rawImage{paths: paths}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			r.Close()
			return nil, errs.Wrap(errs.ImgOpen, op, err)
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			r.Close()
			return nil, errs.Wrap(errs.ImgOpen, op, err)
		}
		r.files = append(r.files, f)
		r.starts = append(r.starts, r.size)
		r.size += st.Size()
	}
	return r, nil
}

func (r *rawImage) imgType() Type    { return TypeRaw }
func (r *rawImage) Size() int64      { return r.size }
func (r *rawImage) SectorSize() uint32 { return 0 }
func (r *rawImage) Paths() []string  { return r.paths }

// ReadAt stitches reads spanning segment boundaries.
func (r *rawImage) ReadAt(p []byte, off int64) (int, error) {
	const op = "raw.ReadAt"

	if off < 0 || off >= r.size {
		return 0, errs.New(errs.ImgOffsetTooLarge, op, "offset %d outside image of %d bytes", off, r.size)
	}

	total := 0
	for total < len(p) && off+int64(total) < r.size {
		cur := off + int64(total)
		seg := r.segmentFor(cur)
		segOff := cur - r.starts[seg]
		n, err := r.files[seg].ReadAt(p[total:], segOff)
		total += n
		if err == io.EOF {
			continue // next segment
		}
		if err != nil {
			return total, errs.Wrap(errs.ImgRead, op, fmt.Errorf("%s at %d: %w", r.paths[seg], segOff, err))
		}
	}
	if total < len(p) {
		return total, errs.New(errs.ImgRead, op, "read past end of image at offset %d", off+int64(total))
	}
	return total, nil
}

// segmentFor returns the index of the segment containing the offset.
func (r *rawImage) segmentFor(off int64) int {
	lo, hi := 0, len(r.starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if r.starts[mid] <= off {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func (r *rawImage) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var first error
	for _, f := range r.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
