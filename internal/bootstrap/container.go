package bootstrap

import (
	"log"

	"ai-chatrelay-be/internal/config"
	"ai-chatrelay-be/internal/controller"
	"ai-chatrelay-be/internal/handler"
	"ai-chatrelay-be/internal/pkg/logger"
	"ai-chatrelay-be/internal/relay"
	"ai-chatrelay-be/internal/repository/memory"
	"ai-chatrelay-be/internal/repository/unitofwork"
	"ai-chatrelay-be/internal/service"
	"ai-chatrelay-be/internal/websocket"
	pktNats "ai-chatrelay-be/pkg/nats"
	"ai-chatrelay-be/pkg/provider"
	"ai-chatrelay-be/pkg/segmenter"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers & Handlers
	ChatController controller.IChatController
	ChatWsHandler  *handler.ChatWsHandler

	// Background Services (exposed for main.go to run)
	TitleConsumerService service.ITitleConsumerService

	// Shared infrastructure
	Registry *websocket.SessionRegistry
	Logger   logger.ILogger
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// Relay traffic gets its own file so per-chunk logs stay out of the main log.
	relayLogger := logger.NewIsolatedLogger(cfg.App.RelayLogFilePath)

	// 2. Event bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// NATS mirror is optional; a missing broker downgrades to a warning.
	var natsPub *pktNats.Publisher
	if cfg.App.NatsURL != "" {
		var err error
		natsPub, err = pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
			natsPub = nil
		}
	}

	// 3. Services
	ownershipCache := memory.NewOwnershipCache()
	chatService := service.NewChatService(uowFactory, ownershipCache)
	eventPublisher := service.NewEventPublisherService(pubSub, natsPub, sysLogger)
	titleConsumer := service.NewTitleConsumerService(pubSub, uowFactory, sysLogger)

	// 4. Relay core
	answerProvider := provider.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		cfg.Provider.TopK,
		cfg.Provider.ConnectTimeout,
		cfg.Provider.TotalTimeout,
	)

	registry := websocket.NewSessionRegistry(relayLogger)

	engine := relay.NewEngine(
		registry,
		chatService,
		answerProvider,
		segmenter.Segment,
		eventPublisher,
		relayLogger,
		cfg.Relay.ChunkDelay,
		cfg.Relay.ContextLimit,
	)

	// 5. Controllers & handlers
	return &Container{
		ChatController:       controller.NewChatController(chatService),
		ChatWsHandler:        handler.NewChatWsHandler(engine, chatService, relayLogger),
		TitleConsumerService: titleConsumer,
		Registry:             registry,
		Logger:               sysLogger,
	}
}
