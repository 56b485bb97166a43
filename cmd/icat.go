package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var icatXattr string

var icatCmd = &cobra.Command{
	Use:   "icat <image> <inode|path>",
	Short: "Write a file's content to stdout",
	Long: `Stream the content of a file to stdout, decrypting and
decompressing as needed. The file is named by inode number or by an
absolute path inside the volume.

Examples:
  disksleuth icat disk.raw 12345 > file.bin
  disksleuth icat disk.raw /Users/alice/notes.txt
  disksleuth icat --xattr com.apple.ResourceFork disk.raw 12345`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[len(args)-1]

		image, fs, err := openFilesystem(args[:len(args)-1])
		if err != nil {
			return err
		}
		defer image.Close()

		inum, err := strconv.ParseUint(target, 10, 64)
		if err != nil {
			if inum, err = fs.LookupPath(target); err != nil {
				return err
			}
		}

		f, err := fs.FileByInum(inum)
		if err != nil {
			return err
		}

		if icatXattr != "" {
			for i := range f.Xattrs {
				x := &f.Xattrs[i]
				if x.Name != icatXattr {
					continue
				}
				buf := make([]byte, x.Size)
				n, err := f.ReadXattrAt(x, buf, 0)
				if err != nil && err != io.EOF {
					return err
				}
				_, err = os.Stdout.Write(buf[:n])
				return err
			}
			if r := f.ResourceFork(); r != nil && r.Name == icatXattr {
				buf := make([]byte, r.Size)
				n, err := f.ReadXattrAt(r, buf, 0)
				if err != nil && err != io.EOF {
					return err
				}
				_, err = os.Stdout.Write(buf[:n])
				return err
			}
			return fmt.Errorf("inode %d has no attribute %q", inum, icatXattr)
		}

		_, err = io.Copy(os.Stdout, f.Reader())
		return err
	},
}

func init() {
	rootCmd.AddCommand(icatCmd)
	addVolumeFlags(icatCmd)

	icatCmd.Flags().StringVar(&icatXattr, "xattr", "", "write the named extended attribute instead of the data fork")
}
