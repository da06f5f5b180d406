package main

import (
	"log/slog"
	"os"

	"github.com/matt-g-everett/logger/cmd/logger/commands"
)

func main() {
	// Level is raised or lowered by the log-level setting once config is read
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: commands.LogLevel,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
