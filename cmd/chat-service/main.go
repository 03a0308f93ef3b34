package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"orderchat.com/internal/chat/app"
)

var configName = flag.String("c", app.DefaultConfigName, "config name, read from ./config/<name>.yaml")

func main() {
	flag.Parse()

	// Ctrl+C / kubernetes 停止信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, *configName); err != nil {
		log.Fatalf("chat-service exit: %v", err)
	}
	log.Println("chat-service exit")
}
