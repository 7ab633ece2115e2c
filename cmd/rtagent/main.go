package main

import (
	"os"

	"github.com/funai-studio/runtime-agent/cmd/rtagent/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
