package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/oarkflow/log"
	"github.com/oarkflow/xid"

	"github.com/oarkflow/hl7ql"
	"github.com/oarkflow/hl7ql/pkg/parsers"
	"github.com/oarkflow/hl7ql/pkg/storage"
)

// SnapshotProvider hands the server the current raw message feed. A run
// always sees one consistent snapshot.
type SnapshotProvider func(ctx context.Context) (string, error)

// Config controls the HTTP surface.
type Config struct {
	Version    string
	MaxEntries int64
}

// Server exposes the query engine, saved queries, and run history over
// HTTP.
type Server struct {
	app      *fiber.App
	engine   *hl7ql.Engine
	store    *storage.Store
	snapshot SnapshotProvider
	cache    *ristretto.Cache
	config   Config
	logger   *log.Logger
}

// New builds the server. The store may be nil, in which case saved queries
// and run history are disabled and only ad-hoc runs work.
func New(cfg Config, engine *hl7ql.Engine, store *storage.Store, snapshot SnapshotProvider) (*Server, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	s := &Server{
		app:      app,
		engine:   engine,
		store:    store,
		snapshot: snapshot,
		cache:    cache,
		config:   cfg,
		logger:   &log.DefaultLogger,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.app.Use(cors.New())
	s.app.Use(logger.New())

	s.app.Get("/api/health", s.healthHandler)

	s.app.Post("/api/query", s.runQueryHandler)
	s.app.Post("/api/filters/validate", s.validateFilterHandler)
	s.app.Post("/api/messages/parse", s.parseMessagesHandler)

	s.app.Get("/api/queries", s.listQueriesHandler)
	s.app.Post("/api/queries", s.saveQueryHandler)
	s.app.Get("/api/queries/:id", s.getQueryHandler)
	s.app.Put("/api/queries/:id", s.updateQueryHandler)
	s.app.Delete("/api/queries/:id", s.deleteQueryHandler)
	s.app.Post("/api/queries/:id/run", s.runSavedQueryHandler)

	s.app.Get("/api/runs", s.listRunsHandler)
	s.app.Delete("/api/runs", s.clearRunsHandler)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   s.config.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// QueryRequest is an ad-hoc run. Messages carries raw text; when empty the
// configured feed snapshot is used instead.
type QueryRequest struct {
	Messages string           `json:"messages,omitempty"`
	Address  string           `json:"address,omitempty"`
	Filter   *hl7ql.FilterSet `json:"filter,omitempty"`
}

// QueryResponse wraps an engine result with a correlation identifier.
type QueryResponse struct {
	RunID         string        `json:"runId"`
	Result        *hl7ql.Result `json:"result"`
	ExecutionTime float64       `json:"executionTime"`
}

// messagesFor parses raw text, serving repeated snapshots from the cache.
func (s *Server) messagesFor(raw string) []*parsers.Message {
	sum := sha256.Sum256([]byte(raw))
	key := hex.EncodeToString(sum[:])
	if cached, ok := s.cache.Get(key); ok {
		if messages, ok := cached.([]*parsers.Message); ok {
			return messages
		}
	}
	messages := parsers.SplitMessages(raw)
	s.cache.Set(key, messages, 1)
	return messages
}

func (s *Server) rawMessages(c *fiber.Ctx, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if s.snapshot == nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "no messages supplied and no feed is configured")
	}
	return s.snapshot(c.Context())
}

func statusForQueryError(err error) int {
	switch hl7ql.KindOf(err) {
	case hl7ql.InvalidAddress, hl7ql.InvalidFilterExpression, hl7ql.InvalidCustomLogic:
		return fiber.StatusBadRequest
	case hl7ql.NoMatchingData:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) execute(c *fiber.Ctx, raw string, query hl7ql.Query, queryID string) error {
	start := time.Now()
	result, err := s.engine.RunMessages(s.messagesFor(raw), query)
	elapsed := time.Since(start).Seconds()
	runID := xid.New().String()

	if s.store != nil {
		entry := storage.RunRecord{
			QueryID: queryID,
			Address: query.Address,
			Success: err == nil,
		}
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.TotalMessages = result.Stats.TotalMessages
			entry.FilteredMessages = result.Stats.FilteredMessages
			entry.MessagesWithValue = result.Stats.MessagesWithValue
			entry.MessagesWithoutValue = result.Stats.MessagesWithoutValue
			entry.TotalOccurrences = result.Stats.TotalOccurrences
		}
		if _, recErr := s.store.RecordRun(c.Context(), entry); recErr != nil {
			s.logger.Error().Err(recErr).Msg("record run")
		}
	}

	if err != nil {
		return c.Status(statusForQueryError(err)).JSON(fiber.Map{
			"error": err.Error(),
			"kind":  string(hl7ql.KindOf(err)),
			"runId": runID,
		})
	}
	return c.JSON(QueryResponse{
		RunID:         runID,
		Result:        result,
		ExecutionTime: elapsed,
	})
}

func (s *Server) runQueryHandler(c *fiber.Ctx) error {
	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	raw, err := s.rawMessages(c, req.Messages)
	if err != nil {
		return err
	}
	return s.execute(c, raw, hl7ql.Query{Address: req.Address, Filter: req.Filter}, "")
}

// ValidationResponse reports filter set validity without running anything.
type ValidationResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) validateFilterHandler(c *fiber.Ctx) error {
	var filter hl7ql.FilterSet
	if err := c.BodyParser(&filter); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := filter.Validate(); err != nil {
		return c.JSON(ValidationResponse{
			Valid: false,
			Error: err.Error(),
			Kind:  string(hl7ql.KindOf(err)),
		})
	}
	return c.JSON(ValidationResponse{Valid: true})
}

// ParseRequest carries raw text to segment.
type ParseRequest struct {
	Messages string `json:"messages"`
}

// ParseResponse summarizes a segmented snapshot.
type ParseResponse struct {
	TotalMessages    int            `json:"totalMessages"`
	SegmentInventory map[string]int `json:"segmentInventory"`
}

func (s *Server) parseMessagesHandler(c *fiber.Ctx) error {
	var req ParseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	raw, err := s.rawMessages(c, req.Messages)
	if err != nil {
		return err
	}
	messages := s.messagesFor(raw)
	return c.JSON(ParseResponse{
		TotalMessages:    len(messages),
		SegmentInventory: parsers.SegmentInventory(messages),
	})
}

func (s *Server) requireStore(c *fiber.Ctx) error {
	if s.store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "persistence is not configured")
	}
	return nil
}

// SaveQueryRequest names a reusable query.
type SaveQueryRequest struct {
	Name    string           `json:"name"`
	Address string           `json:"address,omitempty"`
	Filter  *hl7ql.FilterSet `json:"filter,omitempty"`
}

func (s *Server) saveQueryHandler(c *fiber.Ctx) error {
	if err := s.requireStore(c); err != nil {
		return err
	}
	var req SaveQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	query := hl7ql.Query{Address: req.Address, Filter: req.Filter}
	if query.Filter != nil {
		if err := query.Filter.Validate(); err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": err.Error(),
				"kind":  string(hl7ql.KindOf(err)),
			})
		}
	}
	rec, err := s.store.SaveQuery(c.Context(), req.Name, query)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) listQueriesHandler(c *fiber.Ctx) error {
	if err := s.requireStore(c); err != nil {
		return err
	}
	queries, err := s.store.ListSavedQueries(c.Context())
	if err != nil {
		return err
	}
	if queries == nil {
		queries = []storage.SavedQueryRecord{}
	}
	return c.JSON(queries)
}

func (s *Server) getQueryHandler(c *fiber.Ctx) error {
	if err := s.requireStore(c); err != nil {
		return err
	}
	rec, err := s.store.GetSavedQuery(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrSavedQueryNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(rec)
}

func (s *Server) updateQueryHandler(c *fiber.Ctx) error {
	if err := s.requireStore(c); err != nil {
		return err
	}
	var req SaveQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Filter != nil {
		if err := req.Filter.Validate(); err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": err.Error(),
				"kind":  string(hl7ql.KindOf(err)),
			})
		}
	}
	rec, err := s.store.UpdateSavedQuery(c.Context(), storage.SavedQueryRecord{
		ID:      c.Params("id"),
		Name:    req.Name,
		Address: req.Address,
		Filter:  req.Filter,
	})
	if err != nil {
		if errors.Is(err, storage.ErrSavedQueryNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(rec)
}

func (s *Server) deleteQueryHandler(c *fiber.Ctx) error {
	if err := s.requireStore(c); err != nil {
		return err
	}
	if err := s.store.DeleteSavedQuery(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, storage.ErrSavedQueryNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) runSavedQueryHandler(c *fiber.Ctx) error {
	if err := s.requireStore(c); err != nil {
		return err
	}
	rec, err := s.store.GetSavedQuery(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrSavedQueryNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	var req ParseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}
	raw, err := s.rawMessages(c, req.Messages)
	if err != nil {
		return err
	}
	return s.execute(c, raw, rec.Query(), rec.ID)
}

func (s *Server) listRunsHandler(c *fiber.Ctx) error {
	if err := s.requireStore(c); err != nil {
		return err
	}
	runs, err := s.store.ListRuns(c.Context(), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	return c.JSON(runs)
}

func (s *Server) clearRunsHandler(c *fiber.Ctx) error {
	if err := s.requireStore(c); err != nil {
		return err
	}
	if err := s.store.ClearRuns(c.Context()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// App exposes the underlying fiber application for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins serving on addr and blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting API server")
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("shutting down API server")
	s.cache.Close()
	return s.app.Shutdown()
}
