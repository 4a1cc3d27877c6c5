package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/leftmike/chaindb/repl"
)

var (
	consoleCmd = &cobra.Command{
		Use:   "console",
		Short: "Run chaindb commands from an interactive console",
		Args:  cobra.NoArgs,
		RunE:  consoleRun,
	}
)

func init() {
	chaindbCmd.AddCommand(consoleCmd)
}

func consoleRun(cmd *cobra.Command, args []string) error {
	err := serveMetrics()
	if err != nil {
		return err
	}

	ctrl, err := openController()
	if err != nil {
		return err
	}

	err = repl.Interact(
		func(lr repl.LineReader) error {
			return repl.Repl(ctrl, lr, os.Stdout)
		})
	cerr := ctrl.Close()
	if err == nil {
		err = cerr
	}
	return err
}
