package main

import (
	"os"

	"github.com/leftmike/chaindb/cmd"
)

func main() {
	if cmd.Execute() != nil {
		os.Exit(1)
	}
}
