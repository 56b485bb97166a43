package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var fsstatCmd = &cobra.Command{
	Use:   "fsstat <image> [image...]",
	Short: "Print filesystem details of a volume",
	Long: `Print the details of an APFS volume: identity, capacity,
encryption state, snapshots, and unmount history.

Examples:
  disksleuth fsstat disk.raw
  disksleuth fsstat -o 409640 --volume 1 disk.raw
  disksleuth fsstat --volume-name "Data" -p hunter2 disk.E01`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, fs, err := openFilesystem(args)
		if err != nil {
			return err
		}
		defer image.Close()

		return fs.FSStat(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(fsstatCmd)
	addVolumeFlags(fsstatCmd)
}
