package main

import (
	"os"

	"github.com/bbslab/doorhost/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
