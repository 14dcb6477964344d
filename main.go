package main

import (
	"fmt"
	"os"

	"github.com/tomatool/driverpool/command"
)

func main() {
	if err := command.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
