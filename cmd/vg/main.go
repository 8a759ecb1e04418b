package main

import (
	"os"

	"vaultgate/cmd/vg/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
