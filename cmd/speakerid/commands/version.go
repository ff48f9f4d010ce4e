package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/speakerid/cmd/speakerid/internal/build"
	"github.com/haivivi/speakerid/pkg/cli"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if formatOutput != "table" {
			return output(build.Get())
		}
		fmt.Println(build.String())
		if IsVerbose() {
			if cfg, err := GetConfig(); err == nil {
				fmt.Printf("  %s %s\n", cli.Dim("config: "), cfg.Dir)
				fmt.Printf("  %s %s\n", cli.Dim("library:"), cfg.Library.Root)
			} else {
				fmt.Printf("  %s %s\n", cli.Dim("config: "), cli.Dim(fmt.Sprintf("(unavailable: %v)", err)))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
