package main

import (
	"context"
	"log"
	"os"

	"github.com/example/chat-relay/config"
	"github.com/example/chat-relay/modules/api"
	"github.com/example/chat-relay/modules/broadcast"
	"github.com/example/chat-relay/modules/bus"
	"github.com/example/chat-relay/modules/store"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

func main() {
	log.Println("=== Chat Relay - Fiber WebSocket + Cross-Process Bus ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := mono.LogLevelInfo
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		level = mono.LogLevelDebug
	case config.LogLevelWarn:
		level = mono.LogLevelWarn
	case config.LogLevelError:
		level = mono.LogLevelError
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(level),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithNATSPort(cfg.MonoNATSPort),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	logger := app.Logger()

	// Create modules
	storeModule := store.NewModule(cfg, logger)
	busModule := bus.NewModule(cfg, logger)
	broadcastModule := broadcast.NewModule(busModule.Bus(), cfg.BusPrefix, logger)
	apiModule := api.NewModule(cfg, logger)

	// Sessions publish relay events through the broadcast module, which is
	// not a mono service, so it is injected directly.
	apiModule.SetBroadcast(broadcastModule)
	apiModule.AddHealthCheck(storeModule.Name(), storeModule)
	apiModule.AddHealthCheck(busModule.Name(), busModule)
	apiModule.AddHealthCheck(broadcastModule.Name(), broadcastModule)
	apiModule.AddHealthCheck(apiModule.Name(), apiModule)

	// Order: store and bus first, broadcast needs the bus connected,
	// api depends on the store services and the broadcast module.
	app.Register(storeModule)
	app.Register(busModule)
	app.Register(broadcastModule)
	app.Register(apiModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg config.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Printf("  - Store: %s", cfg.StoreDriver)
	log.Printf("  - Bus: %s (prefix %q)", cfg.BusDriver, cfg.BusPrefix)
	log.Printf("  - Feed mode: %s", cfg.FeedMode)
	log.Println("")
	log.Printf("HTTP Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                 - Health check")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", cfg.Port)
	log.Println("  Frames: {\"event\":\"...\",\"args\":[...],\"ack\":N}")
	if cfg.SingleFeed() {
		log.Println("  Events: chat message, disconnect")
		log.Println("  Reconnect with ?offset=<last message id> to replay missed messages")
	} else {
		log.Println("  Events: join, chat message, private message, typing, disconnect")
	}
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
