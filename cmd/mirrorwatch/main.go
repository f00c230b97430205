package main

import (
	"os"

	"github.com/tangthinker/mirrorwatch/cmd/mirrorwatch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
