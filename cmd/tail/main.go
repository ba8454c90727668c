package main

import (
	"log/slog"
	"os"

	"github.com/mholloway/tideline/pkg/app"
)

func main() {
	if os.Getenv("DEBUG") == "true" {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	feed := "home"
	if len(os.Args) > 1 {
		feed = os.Args[1]
	}
	err := app.Tail(feed)
	if err != nil {
		slog.Error(err.Error())
	}
}
