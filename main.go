package main

import (
	"context"
	"fmt"
	"os"

	"github.com/JakeFAU/codehub-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
