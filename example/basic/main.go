package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	tobiimvp "github.com/lzukanovic/tobii-mvp"
)

func main() {
	hub, err := tobiimvp.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := hub.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("hub exited: %v", err)
	}
}
