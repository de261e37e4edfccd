package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"stagecoach/internal/services"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		code := services.ExitCode(err)
		if errors.Is(err, context.Canceled) {
			code = services.ExitAborted
		}
		os.Exit(code)
	}
}
