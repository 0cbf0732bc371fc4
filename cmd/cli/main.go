package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oarkflow/json"
	"github.com/oarkflow/log"
	"github.com/urfave/cli/v2"

	"github.com/oarkflow/hl7ql"
	"github.com/oarkflow/hl7ql/pkg/adapters/hl7adapter"
	"github.com/oarkflow/hl7ql/pkg/config"
	"github.com/oarkflow/hl7ql/pkg/server"
	"github.com/oarkflow/hl7ql/pkg/storage"
	"github.com/oarkflow/hl7ql/pkg/utils/fileutil"
)

func main() {
	app := &cli.App{
		Name:  "hl7ql",
		Usage: "Query and aggregate delimited clinical messages",
		Commands: []*cli.Command{
			{
				Name:  "query",
				Usage: "Run a query against a message file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the message feed file",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "address",
						Aliases: []string{"a"},
						Usage:   "Value address, e.g. PID.5.1",
					},
					&cli.StringSliceFlag{
						Name:  "filter",
						Usage: "Filter entry as LABEL:EXPRESSION, e.g. 'F1:PID.5.1 = DOE' (repeatable)",
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Filter combination mode: single, and, or, custom",
					},
					&cli.StringFlag{
						Name:  "logic",
						Usage: "Custom combination expression, e.g. 'F1 AND NOT F2'",
					},
					&cli.StringFlag{
						Name:  "export",
						Usage: "Append the included messages to this file",
					},
				},
				Action: runQuery,
			},
			{
				Name:  "serve",
				Usage: "Start the HTTP API server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Value:   "config.yaml",
						Usage:   "Path to the YAML configuration file",
					},
				},
				Action: func(c *cli.Context) error {
					return serve(c.String("config"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func buildFilter(c *cli.Context) (*hl7ql.FilterSet, error) {
	entries := c.StringSlice("filter")
	if len(entries) == 0 {
		return nil, nil
	}
	fs := &hl7ql.FilterSet{Logic: c.String("logic")}
	switch strings.ToLower(c.String("mode")) {
	case "", "single":
		fs.Mode = hl7ql.ModeSingle
	case "and":
		fs.Mode = hl7ql.ModeAnd
	case "or":
		fs.Mode = hl7ql.ModeOr
	case "custom":
		fs.Mode = hl7ql.ModeCustom
	default:
		return nil, fmt.Errorf("unknown filter mode %q", c.String("mode"))
	}
	for _, entry := range entries {
		label, expression, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("filter %q: want LABEL:EXPRESSION", entry)
		}
		fs.Entries = append(fs.Entries, hl7ql.FilterEntry{
			Label:      strings.TrimSpace(label),
			Expression: strings.TrimSpace(expression),
		})
	}
	return fs, nil
}

func runQuery(c *cli.Context) error {
	filter, err := buildFilter(c)
	if err != nil {
		return err
	}

	raw, err := hl7adapter.ReadAll(c.Context, hl7adapter.NewFileSource(c.String("file")))
	if err != nil {
		return err
	}

	engine := hl7ql.New()
	result, err := engine.Run(raw, hl7ql.Query{Address: c.String("address"), Filter: filter})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result.Stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	if exportPath := c.String("export"); exportPath != "" && result.Export != "" {
		appender, err := fileutil.NewExportAppender(exportPath)
		if err != nil {
			return err
		}
		defer appender.Close()
		if err := appender.Append(result.Export); err != nil {
			return err
		}
		fmt.Printf("export appended to %s\n", exportPath)
	}
	return nil
}

func serve(configPath string) error {
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

	snapshot, err := buildSnapshot(ctx, cfg.Feed)
	if err != nil {
		return err
	}

	engine := hl7ql.New()
	srv, err := server.New(server.Config{
		Version:    "1.0.0",
		MaxEntries: cfg.Cache.MaxEntries,
	}, engine, store, snapshot)
	if err != nil {
		return err
	}

	var scheduler *server.Scheduler
	if len(cfg.Schedules) > 0 {
		if snapshot == nil {
			return fmt.Errorf("schedules need a configured feed")
		}
		scheduler, err = server.NewScheduler(engine, store, snapshot, cfg.Schedules)
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
			return fmt.Errorf("shutdown timeout reached")
		}
	}
}

// buildSnapshot turns the feed configuration into a snapshot provider. A
// file feed re-reads the file per run; a queue feed accumulates in the
// background.
func buildSnapshot(ctx context.Context, feed config.FeedConfig) (server.SnapshotProvider, error) {
	if feed.File != "" {
		path := feed.File
		return func(ctx context.Context) (string, error) {
			return hl7adapter.ReadAll(ctx, hl7adapter.NewFileSource(path))
		}, nil
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
		}, nil
	}
	return nil, nil
}
