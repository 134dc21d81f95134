package main

import (
	"os"

	"github.com/melih/lighthouse-runner/cmd/api/subcmd"
)

func main() {
	if err := subcmd.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
