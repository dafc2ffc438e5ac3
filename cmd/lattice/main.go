package main

import (
	"os"

	"github.com/moolen/lattice/cmd/lattice/commands"
	"github.com/moolen/lattice/internal/lifecycle"
)

func main() {
	os.Exit(lifecycle.ExitCode(commands.Execute()))
}
