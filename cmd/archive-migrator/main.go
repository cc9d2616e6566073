// Точка входа archive-migrator — перенос файлов Slack в Google Drive.
// Команды: migrate (каталожный проход и опустошение очереди), serve
// (webhook, операторский API, планировщик), both, stats, retry, version.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
