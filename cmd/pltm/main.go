package main

import (
	"os"

	"github.com/Alby2007/PLTM-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
