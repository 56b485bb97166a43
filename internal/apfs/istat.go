package apfs

import (
	"fmt"
	"io"
	"time"

	"github.com/deploymenttheory/go-disksleuth/internal/pool"
	"github.com/deploymenttheory/go-disksleuth/internal/types"
)

// timeStr renders a nanosecond epoch timestamp the way the reports
// print them.
func timeStr(ns uint64) string {
	if ns == 0 {
		return "0000-00-00 00:00:00 (UTC)"
	}
	t := time.Unix(int64(ns/1e9), int64(ns%1e9)).UTC()
	return t.Format("2006-01-02 15:04:05.000000000 (MST)")
}

// typeName names an inode's file type.
func typeName(mode types.ModeT) string {
	switch mode & types.SIfmt {
	case types.SIfifo:
		return "Named Pipe (FIFO)"
	case types.SIfchr:
		return "Character Device"
	case types.SIfdir:
		return "Directory"
	case types.SIfblk:
		return "Block Device"
	case types.SIfreg:
		return "Regular File"
	case types.SIflnk:
		return "Link"
	case types.SIfsock:
		return "Socket"
	case types.SIfwht:
		return "Whiteout"
	}
	return "Unknown"
}

// modeString renders an inode mode in ls(1) style.
func modeString(mode types.ModeT) string {
	b := []byte("----------")
	switch mode & types.SIfmt {
	case types.SIfdir:
		b[0] = 'd'
	case types.SIflnk:
		b[0] = 'l'
	case types.SIfchr:
		b[0] = 'c'
	case types.SIfblk:
		b[0] = 'b'
	case types.SIfifo:
		b[0] = 'p'
	case types.SIfsock:
		b[0] = 's'
	case types.SIfwht:
		b[0] = 'w'
	}

	set := func(i int, bit types.ModeT, c byte) {
		if mode&bit != 0 {
			b[i] = c
		}
	}
	set(1, types.SUread, 'r')
	set(2, types.SUwrite, 'w')
	set(3, types.SUexec, 'x')
	set(4, types.SGread, 'r')
	set(5, types.SGwrite, 'w')
	set(6, types.SGexec, 'x')
	set(7, types.SOread, 'r')
	set(8, types.SOwrite, 'w')
	set(9, types.SOexec, 'x')

	if mode&types.SIsuid != 0 {
		if b[3] == 'x' {
			b[3] = 's'
		} else {
			b[3] = 'S'
		}
	}
	if mode&types.SIsgid != 0 {
		if b[6] == 'x' {
			b[6] = 's'
		} else {
			b[6] = 'S'
		}
	}
	if mode&types.SIsvtx != 0 {
		if b[9] == 'x' {
			b[9] = 't'
		} else {
			b[9] = 'T'
		}
	}
	return string(b)
}

// hexDump prints bytes as space-separated hex pairs, wrapping every
// perLine bytes with the given indent.
func hexDump(w io.Writer, data []byte, perLine int, indent string) {
	for i, b := range data {
		if i%perLine == 0 && i != 0 {
			fmt.Fprintf(w, "\n%s", indent)
		}
		fmt.Fprintf(w, " %2.2X", b)
	}
	fmt.Fprintf(w, "\n")
}

// FSStat writes the volume report: identity, capacity, encryption state
// and key material, snapshots, and the unmount log.
func (fs *FileSystem) FSStat(w io.Writer) error {
	sb := fs.vol.Sb
	bs := uint64(fs.BlockSize())

	fmt.Fprintf(w, "FILE SYSTEM INFORMATION\n")
	fmt.Fprintf(w, "--------------------------------------------\n")
	fmt.Fprintf(w, "File System Type: APFS\n")
	fmt.Fprintf(w, "Volume UUID %s\n", fs.vol.UUID())
	fmt.Fprintf(w, "APSB Block Number: %d\n", fs.vol.Block)
	fmt.Fprintf(w, "APSB oid: %d\n", fs.vol.Oid)
	fmt.Fprintf(w, "APSB xid: %d\n", fs.pool.Xid())
	fmt.Fprintf(w, "Name (Role): %s (%s)\n", fs.vol.Name(), pool.RoleName(fs.vol.Role()))

	fmt.Fprintf(w, "Capacity Consumed: %d B\n", sb.ApfsFsAllocCount*bs)

	fmt.Fprintf(w, "Capacity Reserved: ")
	if sb.ApfsFsReserveBlockCount != 0 {
		fmt.Fprintf(w, "%d B\n", sb.ApfsFsReserveBlockCount*bs)
	} else {
		fmt.Fprintf(w, "None\n")
	}

	fmt.Fprintf(w, "Capacity Quota: ")
	if sb.ApfsFsQuotaBlockCount != 0 {
		fmt.Fprintf(w, "%d B\n", sb.ApfsFsQuotaBlockCount*bs)
	} else {
		fmt.Fprintf(w, "None\n")
	}

	hwCrypto := fs.pool.Superblock().NxFlags&types.NxCryptoSw == 0
	fmt.Fprintf(w, "Case Sensitive: %s\n", yesNo(fs.CaseSensitive()))
	encrypted := fs.vol.Encrypted()
	if encrypted && hwCrypto {
		fmt.Fprintf(w, "Encrypted: Yes (hardware assisted)\n")
	} else {
		fmt.Fprintf(w, "Encrypted: %s\n", yesNo(encrypted))
	}
	fmt.Fprintf(w, "Formatted by: %s\n", cstring(sb.ApfsFormattedBy.Id[:]))
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Created: %s\n", timeStr(sb.ApfsFormattedBy.Timestamp))
	fmt.Fprintf(w, "Changed: %s\n", timeStr(sb.ApfsLastModTime))

	if encrypted && !hwCrypto && fs.crypto != nil {
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "Encryption Info\n")
		fmt.Fprintf(w, "---------------\n")

		if fs.crypto.Unlocked() {
			fmt.Fprintf(w, "Password: %s\n", fs.crypto.Password())
		}
		fmt.Fprintf(w, "Password Hint: %s\n", fs.crypto.PasswordHint)

		for _, kek := range fs.crypto.Keks() {
			fmt.Fprintf(w, "KEK (%s):\n   ", kek.UUID)
			hexDump(w, kek.Data[:], 8, "   ")
			fmt.Fprintf(w, "\n    Salt:")
			hexDump(w, kek.Salt[:], len(kek.Salt), "")
			fmt.Fprintf(w, "\n    Iterations: %d\n\n", kek.Iterations)
		}

		wvek := fs.crypto.WrappedVekData()
		fmt.Fprintf(w, "Wrapped VEK:")
		hexDump(w, wvek[:], 8, "            ")
		fmt.Fprintf(w, "\n")

		if fs.crypto.Unlocked() {
			vek := fs.crypto.VEK()
			fmt.Fprintf(w, "VEK (AES-XTS-128):")
			hexDump(w, vek[:], 16, "                  ")
			fmt.Fprintf(w, "\n")
		}
	}

	snapshots, err := fs.Snapshots()
	if err != nil {
		return err
	}
	if len(snapshots) != 0 {
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "Snapshots\n")
		fmt.Fprintf(w, "---------\n")
		for _, snap := range snapshots {
			dataless := ""
			if snap.Dataless {
				dataless = " (dataless)"
			}
			fmt.Fprintf(w, "[%d] %s %s%s\n", snap.Xid, timeStr(snap.Timestamp), snap.Name, dataless)
		}
	}

	logs := false
	for _, entry := range sb.ApfsModifiedBy {
		if entry.Timestamp == 0 {
			continue
		}
		if !logs {
			fmt.Fprintf(w, "\n")
			fmt.Fprintf(w, "Unmount Logs\n")
			fmt.Fprintf(w, "------------\n")
			fmt.Fprintf(w, "Timestamp                            Log String\n")
			logs = true
		}
		fmt.Fprintf(w, "%s  %s\n", timeStr(entry.Timestamp), cstring(entry.Id[:]))
	}

	return nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// Istat writes the inode report: identity, type and mode, ownership,
// BSD flags, timestamps, and the file's attributes. A non-zero skew is
// subtracted from the timestamps in an extra adjusted section.
func (fs *FileSystem) Istat(w io.Writer, inum uint64, skew int64) error {
	f, err := fs.FileByInum(inum)
	if err != nil {
		return err
	}
	m := &f.Meta

	fmt.Fprintf(w, "INode Number: %d", inum)
	if m.CloneOf != 0 {
		fmt.Fprintf(w, " (clone of INode %d)", m.CloneOf)
	}
	fmt.Fprintf(w, "\nAllocated\n\n")

	fmt.Fprintf(w, "Type:\t%s\n", typeName(m.Mode))
	fmt.Fprintf(w, "Mode:\t%s\n", modeString(m.Mode))
	fmt.Fprintf(w, "Size:\t%d\n", m.Size)

	if m.Link != "" {
		fmt.Fprintf(w, "Symbolic link to:\t%s\n", m.Link)
	}

	fmt.Fprintf(w, "owner / group: %d / %d\n", m.Uid, m.Gid)

	linkLabel := "Number of Links"
	if m.Mode&types.SIfmt == types.SIfdir {
		linkLabel = "Number of Children"
	}
	fmt.Fprintf(w, "%s: %d\n", linkLabel, m.Nlink)

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Filename:\t%s\n", m.Name)

	fmt.Fprintf(w, "BSD flags:\t0x%8.8x\n", m.BsdFlags)
	if m.BsdFlags&0xFFFF0000 != 0 {
		fmt.Fprintf(w, "Admin flags:\t")
		for _, fl := range []struct {
			bit  uint32
			name string
		}{
			{types.BsdSfArchived, "archived"},
			{types.BsdSfImmutable, "immutable"},
			{types.BsdSfAppend, "append-only"},
			{types.BsdSfRestricted, "restricted"},
			{types.BsdSfNoUnlink, "no-unlink"},
		} {
			if m.BsdFlags&fl.bit != 0 {
				fmt.Fprintf(w, "%s ", fl.name)
			}
		}
		fmt.Fprintf(w, "\n")
	}
	if m.BsdFlags&0x0000FFFF != 0 {
		fmt.Fprintf(w, "Owner flags:\t")
		for _, fl := range []struct {
			bit  uint32
			name string
		}{
			{types.BsdUfNodump, "no-dump"},
			{types.BsdUfImmutable, "immutable"},
			{types.BsdUfAppend, "append-only"},
			{types.BsdUfOpaque, "opaque"},
			{types.BsdUfCompressed, "compressed"},
			{types.BsdUfTracked, "tracked"},
			{types.BsdUfDatavault, "data-vault"},
			{types.BsdUfHidden, "hidden"},
		} {
			if m.BsdFlags&fl.bit != 0 {
				fmt.Fprintf(w, "%s ", fl.name)
			}
		}
		fmt.Fprintf(w, "\n")
	}

	dateAdded, err := f.DateAdded()
	if err != nil {
		return err
	}

	printTimes := func(adjust int64) {
		adj := func(ns uint64) uint64 {
			if ns == 0 || adjust == 0 {
				return ns
			}
			return ns - uint64(adjust)*1e9
		}
		fmt.Fprintf(w, "Created:\t\t%s\n", timeStr(adj(m.CreateTime)))
		fmt.Fprintf(w, "Content Modified:\t%s\n", timeStr(adj(m.ModTime)))
		fmt.Fprintf(w, "Attributes Modified:\t%s\n", timeStr(adj(m.ChangeTime)))
		fmt.Fprintf(w, "Accessed:\t\t%s\n", timeStr(adj(m.AccessTime)))
		if dateAdded != 0 {
			fmt.Fprintf(w, "Date Added:\t\t%s\n", timeStr(adj(dateAdded)))
		}
	}

	if skew != 0 {
		fmt.Fprintf(w, "\nAdjusted times:\n")
		printTimes(skew)
		fmt.Fprintf(w, "\nOriginal times:\n")
	} else {
		fmt.Fprintf(w, "\nTimes:\n")
	}
	printTimes(0)

	fmt.Fprintf(w, "\nAttributes: \n")
	if len(f.dataRuns) != 0 || !m.Compressed {
		fmt.Fprintf(w, "Type: DATA  Name: DATA  Non-Resident  size: %d\n", m.Size)
		for _, r := range f.dataRuns {
			state := ""
			if r.Sparse {
				state = "  Sparse"
			} else if r.Encrypted {
				state = "  Encrypted"
			}
			fmt.Fprintf(w, "  %d-%d%s\n", r.Addr, r.Addr+int64(r.Len)-1, state)
		}
	}
	if f.decmpfs != nil {
		fmt.Fprintf(w, "Type: DATA  Name: DECOMP  Resident  size: %d\n", len(f.decmpfs))
	}
	if f.rsrc != nil {
		fmt.Fprintf(w, "Type: RSRC  Name: %s  Non-Resident  size: %d\n", types.XattrResourceFork, f.rsrc.Size)
	}
	for i := range f.Xattrs {
		x := &f.Xattrs[i]
		residency := "Non-Resident"
		if x.Resident() {
			residency = "Resident"
		}
		fmt.Fprintf(w, "Type: ExtAttr  Name: %s  %s  size: %d\n", x.Name, residency, x.Size)
	}
	if m.Compressed {
		fmt.Fprintf(w, "\nCompressed File\n")
	}

	return nil
}
