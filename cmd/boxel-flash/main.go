package main

import (
	"log/slog"
	"os"

	"github.com/boxel-io/boxel-flash/cmd/boxel-flash/commands"
)

func main() {
	// Structured logs go to stderr; stdout belongs to the operator console
	// and to machine-readable command output.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
