package vs

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-disksleuth/internal/errs"
	"github.com/deploymenttheory/go-disksleuth/internal/interfaces"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
	"github.com/deploymenttheory/go-disksleuth/internal/unicode"
)

// gptSectorOffset is the sector holding the protective MBR; the GPT
// header follows in the next sector.
const gptSectorOffset = 0

// gptHeaderLen is the encoded size of types.GptHeaderT.
const gptHeaderLen = 92

// gptEntryLen is the encoded size of types.GptEntryT; on-disk entries may
// be larger but only this prefix is meaningful.
const gptEntryLen = 128

// gptGuidDesc maps a partition type GUID to a display string.
func gptGuidDesc(g types.UUID) string {
	d1 := binary.LittleEndian.Uint32(g[0:4])
	d2 := binary.LittleEndian.Uint16(g[4:6])
	d3 := binary.LittleEndian.Uint16(g[6:8])
	d4 := binary.BigEndian.Uint64(g[8:16])

	match := func(w1 uint32, w2, w3 uint16, w4 uint64) bool {
		return d1 == w1 && d2 == w2 && d3 == w3 && d4 == w4
	}

	switch {
	case match(0, 0, 0, 0):
		return "Unused entry"
	case match(0x024DEE41, 0x33E7, 0x11D3, 0x9D690008C781F39F):
		return "MBR partition scheme"
	case match(0xC12A7328, 0xF81F, 0x11D2, 0xBA4B00A0C93EC93B):
		return "EFI System partition"
	case match(0x21686148, 0x6449, 0x6E6F, 0x744E656564454649):
		return "BIOS Boot partition"
	case match(0xE3C9E316, 0x0B5C, 0x4DB8, 0x817DF92DF00215AE):
		return "Microsoft Reserved Partition"
	case match(0xDE94BBA4, 0x06D1, 0x4D40, 0xA16ABFD50179D6AC):
		return "Windows Recovery Environment"
	case match(0xEBD0A0A2, 0xB9E5, 0x4433, 0x87C068B6B72699C7):
		return "Basic data partition"
	case match(0x5808C8AA, 0x7E8F, 0x42E0, 0x85D2E1E90434CFB3):
		return "Logical Disk Manager metadata partition"
	case match(0xAF9B60A0, 0x1431, 0x4F62, 0xBC683311714A69AD):
		return "Logical Disk Manager data partition"
	case match(0x0FC63DAF, 0x8483, 0x4772, 0x8E793D69D8477DE4):
		return "Linux filesystem data"
	case match(0x48465300, 0x0000, 0x11AA, 0xAA1100306543ECAC):
		return "Apple HFS/HFS+"
	case g == types.GptApfsTypeGuid:
		return "Apple APFS container"
	case match(0x426F6F74, 0x0000, 0x11AA, 0xAA1100306543ECAC):
		return "Apple Boot partition"
	}
	return "[Unknown type]"
}

// parseGptHeader decodes and sanity-checks the header in buf.
func parseGptHeader(buf []byte) (*types.GptHeaderT, error) {
	head := &types.GptHeaderT{}
	if err := binary.Read(bytes.NewReader(buf[:gptHeaderLen]), binary.LittleEndian, head); err != nil {
		return nil, err
	}
	if head.Signature != types.GptMagic {
		return nil, errs.New(errs.VsMagic, "vs.parseGptHeader",
			"invalid GPT signature 0x%x", head.Signature)
	}
	if head.HeaderSize < gptHeaderLen || uint64(head.HeaderSize) > uint64(len(buf)) {
		return nil, errs.New(errs.VsMagic, "vs.parseGptHeader",
			"GPT header size %d out of range", head.HeaderSize)
	}

	// CRC covers the header with the CRC field itself zeroed. A
	// mismatch is logged but tolerated, since the rest of the header
	// still validates structurally.
	raw := make([]byte, head.HeaderSize)
	copy(raw, buf[:head.HeaderSize])
	for i := 16; i < 20; i++ {
		raw[i] = 0
	}
	if sum := crc32.ChecksumIEEE(raw); sum != head.HeaderCrc {
		log.WithFields(log.Fields{
			"stored":   head.HeaderCrc,
			"computed": sum,
		}).Warn("vs: GPT header CRC mismatch")
	}
	return head, nil
}

// gptLoadEntries reads the partition entry array and adds an entry per
// used slot. startLba locates the array; TableNum is always 0 since GPT
// has a single table.
func (v *VolumeSystem) gptLoadEntries(head *types.GptHeaderT, startLba uint64) error {
	const op = "vs.gptLoadEntries"

	if head.EntrySize < gptEntryLen {
		return errs.New(errs.VsMagic, op,
			"GPT entry size %d smaller than %d", head.EntrySize, gptEntryLen)
	}

	maxAddr := v.maxAddr()
	buf := make([]byte, v.blockSize)
	perSector := int(v.blockSize / head.EntrySize)
	if perSector == 0 {
		return errs.New(errs.VsMagic, op,
			"GPT entry size %d larger than sector", head.EntrySize)
	}

	i := uint32(0)
	for a := uint64(0); i < head.EntryCount; a++ {
		if _, err := v.readBlocks(startLba+a, buf); err != nil {
			return err
		}
		for s := 0; s < perSector && i < head.EntryCount; s, i = s+1, i+1 {
			raw := buf[uint32(s)*head.EntrySize:]
			ent := &types.GptEntryT{}
			if err := binary.Read(bytes.NewReader(raw[:gptEntryLen]), binary.LittleEndian, ent); err != nil {
				return errs.Wrap(errs.VsRead, op, err)
			}

			if ent.FirstLba == 0 {
				continue
			}
			if i < 2 && ent.FirstLba > maxAddr {
				return errs.New(errs.VsBlockNum, op,
					"entry %d starts at sector %d past end of image", i, ent.FirstLba)
			}

			name, err := unicode.FromUTF16(ent.Name[:], binary.LittleEndian, false)
			if err != nil {
				name = ""
			}
			p := v.partitionAdd(ent.FirstLba, ent.LastLba-ent.FirstLba+1,
				FlagAlloc, gptGuidDesc(ent.TypeGuid), 0, int8(i))
			p.Name = name
		}
	}
	return nil
}

// gptLoadTable parses the protective MBR, the header, and the entry
// array. When the primary header at LBA 1 is gone it falls back to the
// secondary header in the image's last sector and marks the volume
// system as a backup.
func (v *VolumeSystem) gptLoadTable() error {
	const op = "vs.gptLoadTable"

	buf := make([]byte, v.blockSize)
	if _, err := v.readBlocks(gptSectorOffset, buf); err != nil {
		return err
	}
	endian, ok := guess16(buf[510:512], types.DosMagic)
	if !ok {
		return errs.New(errs.VsMagic, op, "missing DOS safety partition magic")
	}
	v.endian = endian

	sect, err := parseDosSector(buf[:512], endian)
	if err != nil {
		return errs.Wrap(errs.VsRead, op, err)
	}
	if sect.Ptable[0].PType != types.DosTypeProtective {
		return errs.New(errs.VsMagic, op,
			"missing DOS safety partition (type 0x%.2x in first slot)",
			sect.Ptable[0].PType)
	}

	var head *types.GptHeaderT
	if _, err := v.readBlocks(gptSectorOffset+1, buf); err != nil {
		return err
	}
	head, err = parseGptHeader(buf)
	if err != nil {
		// The primary may be trashed while the secondary at the end
		// of the disk survives.
		last := v.maxAddr()
		if last == 0 {
			return err
		}
		if _, rerr := v.readBlocks(last-1, buf); rerr != nil {
			return err
		}
		head, err = parseGptHeader(buf)
		if err != nil {
			return err
		}
		v.isBackup = true
		log.Debug("vs: using secondary GPT header")
	}

	v.partitionAdd(0, 1, FlagMeta, "Safety Table", -1, -1)
	v.partitionAdd(1,
		uint64((head.HeaderSize+v.blockSize-1)/v.blockSize),
		FlagMeta, "GPT Header", -1, -1)
	v.partitionAdd(head.EntriesLba,
		(uint64(head.EntrySize)*uint64(head.EntryCount)+uint64(v.blockSize)-1)/uint64(v.blockSize),
		FlagMeta, "Partition Table", -1, -1)

	return v.gptLoadEntries(head, head.EntriesLba)
}

// gptOpen parses a GPT at the given offset. When the load fails with the
// image's sector size, the standard sizes are swept, since a table
// written on a 4K-native disk reads differently on a 512-byte view.
func gptOpen(image interfaces.Image, offset int64) (*VolumeSystem, error) {
	v := &VolumeSystem{
		img:       image,
		vsType:    TypeGpt,
		offset:    offset,
		blockSize: image.SectorSize(),
		endian:    binary.LittleEndian,
	}
	firstErr := v.gptLoadTable()
	if firstErr == nil {
		return v, nil
	}

	for size := uint32(512); size <= 8192; size *= 2 {
		if size == image.SectorSize() {
			continue
		}
		v = &VolumeSystem{
			img:       image,
			vsType:    TypeGpt,
			offset:    offset,
			blockSize: size,
			endian:    binary.LittleEndian,
		}
		if err := v.gptLoadTable(); err == nil {
			log.WithField("sector_size", size).Debug("vs: GPT found with swept sector size")
			return v, nil
		}
	}
	return nil, firstErr
}
