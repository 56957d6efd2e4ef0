package main

import (
	"os"

	"github.com/testweb/testweb/cmd/testwebctl/cmd"
	"github.com/testweb/testweb/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
