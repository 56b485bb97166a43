package img

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// ewfChunk locates one chunk of media data inside a segment file.
type ewfChunk struct {
	segment    int
	offset     int64
	length     int64
	compressed bool
}

// ewfImage reads EnCase expert-witness (EWF/E01) containers. Segment files
// must be supplied in order; chunks are concatenated across segments.
type ewfImage struct {
	paths []string
	files []*os.File

	chunkSize   int64 // bytes of media per chunk
	sectorSize  uint32
	size        int64
	chunks      []ewfChunk

	// one-slot cache of the last decoded chunk
	lastChunk int
	lastData  []byte
}

func openEwf(paths []string) (*ewfImage, error) {
	const op = "img.openEwf"

	e := &ewfImage{paths: paths, lastChunk: -1}
	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			e.Close()
			return nil, errs.Wrap(errs.ImgOpen, op, err)
		}
		e.files = append(e.files, f)
		if err := e.parseSegment(i); err != nil {
			e.Close()
			return nil, err
		}
	}
	if e.chunkSize == 0 || len(e.chunks) == 0 {
		return nil, errs.New(errs.ImgUnknownType, op, "no volume or table sections found")
	}
	return e, nil
}

// parseSegment walks the section chain of segment file i, collecting the
// media geometry and the chunk offset tables.
func (e *ewfImage) parseSegment(i int) error {
	const op = "ewf.parseSegment"
	f := e.files[i]

	var hdr [13]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return errs.Wrap(errs.ImgRead, op, err)
	}
	if !bytes.Equal(hdr[:8], types.EwfSignature[:]) {
		return errs.New(errs.ImgUnknownType, op, "%s: not an EWF segment file", e.paths[i])
	}

	st, err := f.Stat()
	if err != nil {
		return errs.Wrap(errs.ImgOpen, op, err)
	}
	fileSize := st.Size()

	var sectorsEnd int64 // end offset of the current sectors section
	var pendingTable []uint32
	var pendingBase int64

	flushTable := func() {
		for j, entry := range pendingTable {
			off := pendingBase + int64(entry&^types.EwfOffsetCompressed)
			compressed := entry&types.EwfOffsetCompressed != 0
			var length int64
			if j+1 < len(pendingTable) {
				length = pendingBase + int64(pendingTable[j+1]&^types.EwfOffsetCompressed) - off
			} else if sectorsEnd > off {
				length = sectorsEnd - off
			} else {
				length = e.chunkSize + 4
			}
			e.chunks = append(e.chunks, ewfChunk{segment: i, offset: off, length: length, compressed: compressed})
		}
		pendingTable = nil
	}

	offset := int64(13)
	for offset > 0 && offset+76 <= fileSize {
		var desc [76]byte
		if _, err := f.ReadAt(desc[:], offset); err != nil {
			return errs.Wrap(errs.ImgRead, op, err)
		}
		secType := string(bytes.TrimRight(desc[:16], "\x00"))
		next := int64(binary.LittleEndian.Uint64(desc[16:24]))
		size := int64(binary.LittleEndian.Uint64(desc[24:32]))

		switch secType {
		case "volume", "disk":
			payload := make([]byte, 28)
			if _, err := f.ReadAt(payload, offset+76); err != nil {
				return errs.Wrap(errs.ImgRead, op, err)
			}
			chunkCount := binary.LittleEndian.Uint32(payload[4:8])
			sectorsPerChunk := binary.LittleEndian.Uint32(payload[8:12])
			bytesPerSector := binary.LittleEndian.Uint32(payload[12:16])
			sectorCount := binary.LittleEndian.Uint64(payload[16:24])
			if sectorsPerChunk == 0 || bytesPerSector == 0 {
				return errs.New(errs.ImgUnknownType, op, "invalid volume section geometry")
			}
			e.chunkSize = int64(sectorsPerChunk) * int64(bytesPerSector)
			e.sectorSize = bytesPerSector
			e.size = int64(sectorCount) * int64(bytesPerSector)
			if e.size == 0 {
				e.size = int64(chunkCount) * e.chunkSize
			}
		case "sectors":
			sectorsEnd = offset + size
		case "table":
			tblHdr := make([]byte, 24)
			if _, err := f.ReadAt(tblHdr, offset+76); err != nil {
				return errs.Wrap(errs.ImgRead, op, err)
			}
			count := binary.LittleEndian.Uint32(tblHdr[0:4])
			base := int64(binary.LittleEndian.Uint64(tblHdr[8:16]))
			if count > 0 {
				raw := make([]byte, 4*count)
				if _, err := f.ReadAt(raw, offset+76+24); err != nil {
					return errs.Wrap(errs.ImgRead, op, err)
				}
				pendingBase = base
				pendingTable = make([]uint32, count)
				for j := range pendingTable {
					pendingTable[j] = binary.LittleEndian.Uint32(raw[4*j:])
				}
				flushTable()
			}
		case "done", "next":
			return nil
		}

		if next <= offset {
			break
		}
		offset = next
	}
	return nil
}

func (e *ewfImage) imgType() Type      { return TypeEwf }
func (e *ewfImage) Size() int64        { return e.size }
func (e *ewfImage) SectorSize() uint32 { return e.sectorSize }
func (e *ewfImage) Paths() []string    { return e.paths }

func (e *ewfImage) ReadAt(p []byte, off int64) (int, error) {
	const op = "ewf.ReadAt"

	if off < 0 || off >= e.size {
		return 0, errs.New(errs.ImgOffsetTooLarge, op, "offset %d outside image of %d bytes", off, e.size)
	}

	total := 0
	for total < len(p) && off+int64(total) < e.size {
		cur := off + int64(total)
		idx := int(cur / e.chunkSize)
		if idx >= len(e.chunks) {
			return total, errs.New(errs.ImgRead, op, "chunk %d beyond table of %d chunks", idx, len(e.chunks))
		}
		data, err := e.chunkData(idx)
		if err != nil {
			return total, err
		}
		inChunk := cur % e.chunkSize
		if inChunk >= int64(len(data)) {
			return total, errs.New(errs.ImgRead, op, "chunk %d shorter than expected", idx)
		}
		total += copy(p[total:], data[inChunk:])
	}
	if total < len(p) {
		return total, errs.New(errs.ImgRead, op, "read past end of image")
	}
	return total, nil
}

// chunkData returns the decoded media bytes of chunk idx.
func (e *ewfImage) chunkData(idx int) ([]byte, error) {
	const op = "ewf.chunkData"

	if idx == e.lastChunk {
		return e.lastData, nil
	}
	c := e.chunks[idx]
	raw := make([]byte, c.length)
	if _, err := e.files[c.segment].ReadAt(raw, c.offset); err != nil && err != io.EOF {
		return nil, errs.Wrap(errs.ImgRead, op, err)
	}

	var data []byte
	if c.compressed {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errs.Wrap(errs.ImgRead, op, fmt.Errorf("chunk %d: %w", idx, err))
		}
		data, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, errs.Wrap(errs.ImgRead, op, fmt.Errorf("chunk %d: %w", idx, err))
		}
	} else {
		// an uncompressed chunk is the media bytes followed by a 4-byte
		// Adler-32 we do not verify
		data = raw
		if int64(len(data)) > e.chunkSize {
			data = data[:e.chunkSize]
		}
	}

	e.lastChunk, e.lastData = idx, data
	return data, nil
}

func (e *ewfImage) Close() error {
	var first error
	for _, f := range e.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
