package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-disksleuth/internal/vs"
)

var mmlsVsType string

var mmlsCmd = &cobra.Command{
	Use:   "mmls <image> [image...]",
	Short: "Print the partition table",
	Long: `Print the partition table of a disk image, including unallocated
gaps and the sectors holding the table itself.

Examples:
  disksleuth mmls disk.raw
  disksleuth mmls --vs-type gpt disk.E01
  disksleuth mmls -o 409640 split.001 split.002`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMmls(args)
	},
}

func init() {
	rootCmd.AddCommand(mmlsCmd)

	mmlsCmd.Flags().Int64VarP(&offsetSectors, "offset", "o", 0, "sector offset of the table in the image")
	mmlsCmd.Flags().StringVarP(&mmlsVsType, "vs-type", "t", "auto", "volume system type (auto, dos, gpt, bsd, mac, sun)")
}

func runMmls(paths []string) error {
	image, err := openImage(paths)
	if err != nil {
		return err
	}
	defer image.Close()

	vsType, err := vs.ParseType(mmlsVsType)
	if err != nil {
		return err
	}

	v, err := vs.Open(image, offsetSectors*int64(image.SectorSize()), vsType)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", tableName(v.Type()))
	fmt.Printf("Offset Sector: %d\n", offsetSectors)
	fmt.Printf("Units are in %d-byte sectors\n\n", v.BlockSize())
	fmt.Printf("      Slot      Start        End          Length       Description\n")

	for _, p := range v.Partitions() {
		fmt.Printf("%03d:  %-8s  %011d  %011d  %011d  %s\n",
			p.Addr, slotName(p), p.Start, p.Start+p.Len-1, p.Len, partDesc(p))
	}

	fmt.Printf("\nImage size: %s (%d bytes)\n",
		humanize.Bytes(uint64(image.Size())), image.Size())
	return nil
}

// tableName renders the header line for a volume system type.
func tableName(t vs.Type) string {
	switch t {
	case vs.TypeDos:
		return "DOS Partition Table"
	case vs.TypeGpt:
		return "GUID Partition Table (EFI)"
	case vs.TypeBsd:
		return "BSD Disk Label"
	case vs.TypeMac:
		return "MAC Partition Map"
	case vs.TypeSun:
		return "Sun Volume Table of Contents (Solaris)"
	}
	return "Partition Table"
}

// slotName renders the table/slot column: "Meta" for table sectors,
// a dash pair for synthesized entries, table:slot otherwise.
func slotName(p *vs.Partition) string {
	if p.Flags&vs.FlagMeta != 0 {
		return "Meta"
	}
	if p.TableNum < 0 {
		return "-------"
	}
	return fmt.Sprintf("%03d:%03d", p.TableNum, p.SlotNum)
}

// partDesc appends the GPT entry name to the description when present.
func partDesc(p *vs.Partition) string {
	if p.Name != "" {
		return fmt.Sprintf("%s (%s)", p.Desc, p.Name)
	}
	return p.Desc
}
