package cmd

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Global flags shared by every subcommand.
var (
	cfgFile    string
	verbose    bool
	imageType  string
	sectorSize uint32
)

var rootCmd = &cobra.Command{
	Use:   "disksleuth",
	Short: "Read-only forensic analysis of disk images",
	Long: `disksleuth examines raw disk images, EWF containers, and virtual
disks without mounting them: partition tables, APFS containers, volumes,
files, and encryption metadata.

Commands:
  mmls        Print the partition table
  fsstat      Print filesystem details of a volume
  fls         List the entries of a directory
  istat       Print the metadata of an inode
  icat        Write a file's content to stdout
  unlock      Check a password against an encrypted volume`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetHandler(cli.New(os.Stderr))
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.WarnLevel)
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.disksleuth.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&imageType, "image-type", "i", "auto", "image format (auto, raw, ewf, vmdk, vhd)")
	rootCmd.PersistentFlags().Uint32VarP(&sectorSize, "sector-size", "b", 0, "sector size in bytes (0 = detect)")

	viper.BindPFlag("image_type", rootCmd.PersistentFlags().Lookup("image-type"))
	viper.BindPFlag("sector_size", rootCmd.PersistentFlags().Lookup("sector-size"))
}

// initConfig loads defaults from the config file and environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".disksleuth")
		}
	}

	viper.SetEnvPrefix("disksleuth")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("file", viper.ConfigFileUsed()).Debug("loaded config")
	}
}
