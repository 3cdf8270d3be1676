package main

import (
	"log"

	"marketlink/internal/devserver"
	"marketlink/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	server := devserver.NewServer(cfg)

	log.Printf("Dev chat server listening on :%s", cfg.ServerPort)
	if err := server.Start(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
