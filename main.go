package main

import (
	"os"

	"github.com/maxkimambo/revgraph/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
