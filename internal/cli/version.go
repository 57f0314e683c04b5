package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version, Commit, and Date are set via -ldflags at build time.
var (
	Version, Commit, Date string
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Display version, commit hash, and build date.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rbdsentry version: %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Built: %s\n", Date)
	},
}

func init() {
	rootCommand.AddCommand(versionCommand)
}
