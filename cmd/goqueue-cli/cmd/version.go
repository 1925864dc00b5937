// =============================================================================
// VERSION COMMAND - SHOW VERSION INFORMATION
// =============================================================================
//
// WHAT IS THIS?
// Command to display the CLI's version.
//
// USAGE:
//   goqueue version
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Show the goqueue CLI's version.

Examples:
  goqueue version`,
	RunE: runVersion,
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Println(cliVersion)
	return nil
}
