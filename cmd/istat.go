package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var istatSkew int64

var istatCmd = &cobra.Command{
	Use:   "istat <image> <inode>",
	Short: "Print the metadata of an inode",
	Long: `Print everything recorded about one inode: type, mode, sizes,
ownership, flags, timestamps, and attribute runs.

Examples:
  disksleuth istat disk.raw 2
  disksleuth istat --volume 1 -s 3600 disk.raw 12345`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inum, err := strconv.ParseUint(args[len(args)-1], 10, 64)
		if err != nil {
			return err
		}

		image, fs, err := openFilesystem(args[:len(args)-1])
		if err != nil {
			return err
		}
		defer image.Close()

		return fs.Istat(os.Stdout, inum, istatSkew)
	},
}

func init() {
	rootCmd.AddCommand(istatCmd)
	addVolumeFlags(istatCmd)

	istatCmd.Flags().Int64VarP(&istatSkew, "skew", "s", 0, "clock skew in seconds to adjust timestamps by")
}
