package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oarkflow/log"

	"github.com/oarkflow/hl7ql"
	"github.com/oarkflow/hl7ql/pkg/adapters/hl7adapter"
	"github.com/oarkflow/hl7ql/pkg/config"
	"github.com/oarkflow/hl7ql/pkg/server"
	"github.com/oarkflow/hl7ql/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := storage.New(storage.Config{Path: cfg.Database})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshot := snapshotProvider(ctx, cfg.Feed)

	engine := hl7ql.New()
	srv, err := server.New(server.Config{
		Version:    "1.0.0",
		MaxEntries: cfg.Cache.MaxEntries,
	}, engine, store, snapshot)
	if err != nil {
		return err
	}

	if len(cfg.Schedules) > 0 {
		if snapshot == nil {
			return fmt.Errorf("schedules need a configured feed")
		}
		scheduler, err := server.NewScheduler(engine, store, snapshot, cfg.Schedules)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(cfg.Server.Listen)
	}()

	select {
	case err := <-serverErr:
		return err
	case sig := <-sigChan:
		log.Printf("received signal %v, shutting down", sig)
		if err := srv.Shutdown(); err != nil {
			return err
		}
		select {
		case err := <-serverErr:
			return err
		case <-time.After(30 * time.Second):
			log.Printf("shutdown timeout reached")
			return nil
		}
	}
}

func snapshotProvider(ctx context.Context, feed config.FeedConfig) server.SnapshotProvider {
	if feed.File != "" {
		path := feed.File
		return func(ctx context.Context) (string, error) {
			return hl7adapter.ReadAll(ctx, hl7adapter.NewFileSource(path))
		}
	}
	if feed.AMQP.URI != "" {
		buffer := hl7adapter.NewBuffer()
		src := hl7adapter.NewQueueSource(feed.AMQP.URI, feed.AMQP.Queue)
		go func() {
			defer src.Close()
			if err := buffer.Consume(ctx, src); err != nil {
				log.Printf("amqp feed: %v", err)
			}
		}()
		return func(context.Context) (string, error) {
			return buffer.Snapshot(), nil
		}
	}
	return nil
}
