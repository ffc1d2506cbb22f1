package main

import (
	"fmt"
	"os"

	"github.com/AnyUserName/imgedit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "imgedit: %v\n", err)
		os.Exit(1)
	}
}
