package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/wattleglen/authrelay/internal/identity/app"
)

func main() {
	// Missing .env is fine; containers set the environment directly.
	_ = godotenv.Load()

	cfg, err := app.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
