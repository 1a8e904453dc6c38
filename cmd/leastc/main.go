// leastc compiles the least programming language into an ELF64 relocatable object.
package main

import (
	"context"
	"os"

	"github.com/theeyeofcthulhu/least/internal/cli"
	"github.com/theeyeofcthulhu/least/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Compile(),
}

func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
