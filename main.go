package main

import (
	"os"

	"mri-inference-service/cmd"
	"mri-inference-service/config"
)

func main() {
	ctx := &config.Context{}
	if err := cmd.RootCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
