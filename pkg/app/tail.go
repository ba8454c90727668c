package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mholloway/tideline/pkg/util"
)

// Tail follows one feed on stdout: cold start from cache, subscribe to
// the stream, and log the head whenever the list changes. Ctrl-C
// disconnects cleanly.
func Tail(feed string) error {
	slog.Info("starting tail", "feed", feed)

	app, err := NewApp()
	if err != nil {
		return util.WrapErr("failed to create app", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := NewSession(app, feed)
	defer session.Close()

	if err := session.ColdStart(ctx); err != nil {
		slog.Warn(util.WrapErr("initial load failed", err).Error(), "feed", feed)
	}
	printHead(session)

	client := NewStreamClient(app.Config, []string{feed})
	go client.Run(ctx)
	go session.Pump(ctx, client.Events())

	for {
		select {
		case <-session.Changed():
			printHead(session)
		case <-ctx.Done():
			slog.Info("shutting down", "feed", feed)
			return nil
		}
	}
}

func printHead(session *Session) {
	entries := session.Snapshot()
	if len(entries) == 0 {
		fmt.Println("(feed is empty)")
		return
	}
	head := entries[0]
	if head.IsGap() {
		fmt.Printf("[gap %s]\n", head.ID)
		return
	}
	fmt.Printf("%s @%s: %s (unread: %d, total: %d)\n",
		head.ID, head.Payload.AuthorHandle, head.Payload.Text,
		session.UnreadCount(), len(entries))
}
