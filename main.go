package main

import (
	"os"

	"github.com/wegman-software/osmrelate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
