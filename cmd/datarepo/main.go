package main

import (
	"os"

	"github.com/dinvlad/jade-data-repo/cmd/datarepo/cmd"
	"github.com/dinvlad/jade-data-repo/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.ConfigureLogMetrics()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
