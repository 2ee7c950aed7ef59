package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/meetloop/fleet-backend/internal/app"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	application, err := app.New(ctx)
	if err != nil {
		fmt.Printf("Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	application.Start()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		application.Log.Info("Shutting down...")
		application.Close(ctx)
		os.Exit(0)
	}()

	if err := application.Run(); err != nil {
		application.Log.Error("HTTP server exited", "error", err)
		application.Close(ctx)
		os.Exit(1)
	}
}
