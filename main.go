package main

import (
	"os"

	"github.com/igorsilveira/tourwatch/cmd/tourwatch"
)

func main() {
	if err := tourwatch.Execute(); err != nil {
		os.Exit(1)
	}
}
