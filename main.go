package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/types"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	logger.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto process exit codes
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	switch types.CodeOf(err) {
	case types.ErrInput, types.ErrConfig:
		return 2
	case types.ErrCancelled:
		return 130
	default:
		return 1
	}
}
