package main

import (
	"context"
	"log"

	"babblefish/internal/config"
	"babblefish/internal/server"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
