package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pscheid92/orderfeed/internal/feedclient"
	"github.com/pscheid92/orderfeed/internal/platform/logging"
)

func main() {
	var (
		url        = flag.String("url", envOr("FEED_URL", "ws://localhost:8080"), "Feed WebSocket URL (or set FEED_URL env)")
		maxItems   = flag.Int("max", feedclient.DefaultMaxItems, "Number of updates to keep")
		maxBackoff = flag.Duration("max-backoff", 30*time.Second, "Upper bound for reconnect backoff")
		retries    = flag.Uint64("retries", 0, "Give up after this many failed reconnects (0 = never)")
		verbose    = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *url == "" {
		log.Fatal("Feed URL required (--url or FEED_URL env)")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	slog.SetDefault(logging.New(os.Stderr, level, "text"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := feedclient.NewFeed(*maxItems)
	client := feedclient.New(feed, feedclient.Options{
		URL:        *url,
		MaxBackoff: *maxBackoff,
		MaxRetries: *retries,
		OnStateChange: func(s feedclient.State) {
			fmt.Fprintf(os.Stdout, "-- status: %s\n", s)
		},
		OnUpdate: render,
	})

	if err := client.Run(ctx); err != nil {
		slog.Error("Feed client stopped", "error", err)
		os.Exit(1)
	}
}

// render redraws the feed, newest first.
func render(feed *feedclient.Feed) {
	items := feed.Items()

	var b strings.Builder
	b.WriteString("\033[H\033[2J")
	fmt.Fprintf(&b, "Realtime Orders (showing %d updates)\n\n", len(items))
	if len(items) == 0 {
		b.WriteString("No updates yet.\n")
	}
	for _, item := range items {
		b.WriteString(item.String())
		b.WriteByte('\n')
	}
	_, _ = os.Stdout.WriteString(b.String())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
