package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <image> [image...]",
	Short: "Check a password against an encrypted volume",
	Long: `Open an encrypted volume with the given password and report
whether it unlocks. On success the volume's encryption details are
available to the other commands with the same -p flag.

Examples:
  disksleuth unlock -p hunter2 disk.raw
  disksleuth unlock --volume-name "Data" -p hunter2 disk.E01`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, fs, err := openFilesystem(args)
		if err != nil {
			return err
		}
		defer image.Close()

		vol := fs.Volume()
		fmt.Printf("Volume: %s (%s)\n", vol.Name(), vol.UUID())

		if !vol.Encrypted() {
			fmt.Println("Volume is not encrypted")
			return nil
		}

		if hint := fs.PasswordHint(); hint != "" {
			fmt.Printf("Password Hint: %s\n", hint)
		}

		if fs.Unlocked() {
			fmt.Println("Password accepted, volume unlocked")
		} else if password == "" {
			fmt.Println("Volume is encrypted; supply a password with -p")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
	addVolumeFlags(unlockCmd)
}
