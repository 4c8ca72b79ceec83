package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"mysql-binlog-watcher/internal/models"
	"mysql-binlog-watcher/internal/nats"
	"mysql-binlog-watcher/internal/source"
	"mysql-binlog-watcher/internal/transform"
	"mysql-binlog-watcher/internal/watcher"
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	// Load configuration
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Set log level from config
	if level, err := logrus.ParseLevel(config.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Info("Starting MySQL binlog watcher...")

	var includeEvents []models.Op
	for _, name := range config.Source.IncludeEvents {
		op, err := models.OpFromName(name)
		if err != nil {
			logger.Fatalf("Invalid include_events entry: %v", err)
		}
		includeEvents = append(includeEvents, op)
	}

	src, err := source.NewBinlog(source.BinlogConfig{
		Host:     config.MySQL.Host,
		Port:     config.MySQL.Port,
		User:     config.MySQL.User,
		Password: config.MySQL.Password,
		ServerID: config.MySQL.ServerID,
		Flavor:   config.MySQL.Flavor,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to create binlog source: %v", err)
	}

	if err := runPreflight(src.Connection(), logger); err != nil {
		logger.Fatalf("Preflight check failed: %v", err)
	}

	transformer, err := transform.New(&config.Transform, logger)
	if err != nil {
		logger.Fatalf("Failed to create transformer: %v", err)
	}

	w := watcher.New(src, watcher.Options{
		Logger:        logger,
		Transformer:   transformer,
		StartAtEnd:    config.Source.StartAtEnd,
		ExcludeSchema: config.Source.ExcludeSchema,
		IncludeEvents: includeEvents,
	})

	// Initial subscriptions from configuration
	for schema, tables := range config.Source.IncludeSchema {
		if len(tables) == 0 {
			if err := w.Subscribe(schema, watcher.AllTables()); err != nil {
				logger.Fatalf("Failed to subscribe to %s: %v", schema, err)
			}
		} else {
			if err := w.Subscribe(schema, watcher.Tables(tables...)); err != nil {
				logger.Fatalf("Failed to subscribe to %s: %v", schema, err)
			}
		}
	}

	if config.NATS.URL != "" {
		sink, err := nats.NewSink(
			config.NATS.URL,
			config.NATS.SubjectPrefix,
			config.NATS.MaxReconnect,
			config.NATS.ReconnectWait,
			logger,
		)
		if err != nil {
			logger.Fatalf("Failed to create NATS sink: %v", err)
		}
		defer sink.Close()

		if _, err := w.On(config.NATS.Pattern, sink.Handle); err != nil {
			logger.Fatalf("Failed to register NATS sink: %v", err)
		}
	}

	if err := w.Start(); err != nil {
		logger.Fatalf("Failed to start watcher: %v", err)
	}

	// The watcher itself has no process-lifecycle side effects; shutdown is
	// wired here by the host.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
		if err := w.Stop(); err != nil {
			logger.Errorf("Error stopping watcher: %v", err)
		}
	case err := <-w.Err():
		logger.Errorf("Binlog stream failed: %v", err)
		if stopErr := w.Stop(); stopErr != nil {
			logger.Errorf("Error stopping watcher: %v", stopErr)
		}
		logger.Info("MySQL binlog watcher stopped")
		os.Exit(1)
	}

	logger.Info("MySQL binlog watcher stopped")
}
