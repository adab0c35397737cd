package main

import (
	"os"

	"ecolearn-gamification/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
