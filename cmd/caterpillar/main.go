package main

import (
	"log/slog"
	"os"

	"github.com/dvzrv/caterpillar/cmd/caterpillar/commands"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
