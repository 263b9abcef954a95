package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "mediaindexd:", err)
		}
		os.Exit(1)
	}
}
