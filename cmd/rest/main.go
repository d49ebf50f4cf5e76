package main

import (
	"context"
	"log"

	"ai-chatrelay-be/internal/bootstrap"
	"ai-chatrelay-be/internal/config"
	"ai-chatrelay-be/internal/server"
	"ai-chatrelay-be/internal/tracer"
	"ai-chatrelay-be/pkg/database"
)

func main() {
	// 0. Initialize Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 3. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)
	defer container.Logger.Sync()

	// 4. Start Background Services
	go func() {
		log.Println("Background: Starting Title Consumer Service...")
		if err := container.TitleConsumerService.Consume(context.Background()); err != nil {
			log.Printf("Background Title Consumer Error: %v", err)
		}
	}()

	// 5. Initialize Server
	srv := server.New(cfg, container)

	// 6. Run Server
	log.Fatal(srv.Run())
}
