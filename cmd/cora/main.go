package main

import (
	"os"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
