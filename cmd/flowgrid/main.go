package main

import (
	"log/slog"

	"github.com/flowgrid/flowgrid/pkg/flowgrid"
)

func main() {
	flowgrid.SetupLogger()

	if err := flowgrid.Start(nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}
