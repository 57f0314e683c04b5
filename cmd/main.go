package main

import (
	"fmt"
	"os"

	"github.com/aravindh-murugesan/rbdsentry-go/internal/cli"
)

func main() {
	err := cli.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.ExitCode(err))
}
