package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "chaindb 0.1.0"

func init() {
	chaindbCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of chaindb",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		})
}
