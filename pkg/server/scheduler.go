package server

import (
	"context"
	"fmt"

	"github.com/oarkflow/log"
	"github.com/robfig/cron/v3"

	"github.com/oarkflow/hl7ql"
	"github.com/oarkflow/hl7ql/pkg/config"
	"github.com/oarkflow/hl7ql/pkg/storage"
	"github.com/oarkflow/hl7ql/pkg/utils/fileutil"
)

// Scheduler runs saved queries on cron specs and appends their exports to
// files. Each schedule resolves its query by name at fire time, so edits
// to a saved query take effect on the next run.
type Scheduler struct {
	cron      *cron.Cron
	engine    *hl7ql.Engine
	store     *storage.Store
	snapshot  SnapshotProvider
	appenders map[string]*fileutil.ExportAppender
	logger    *log.Logger
}

// NewScheduler wires the schedule list. Schedules without an export path
// still run and record history, they just do not write files.
func NewScheduler(engine *hl7ql.Engine, store *storage.Store, snapshot SnapshotProvider, schedules []config.ScheduleConfig) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		engine:    engine,
		store:     store,
		snapshot:  snapshot,
		appenders: make(map[string]*fileutil.ExportAppender),
		logger:    &log.DefaultLogger,
	}
	for _, sched := range schedules {
		sched := sched
		var appender *fileutil.ExportAppender
		if sched.ExportPath != "" {
			existing, ok := s.appenders[sched.ExportPath]
			if !ok {
				opened, err := fileutil.NewExportAppender(sched.ExportPath)
				if err != nil {
					s.closeAppenders()
					return nil, fmt.Errorf("open export %s: %w", sched.ExportPath, err)
				}
				s.appenders[sched.ExportPath] = opened
				existing = opened
			}
			appender = existing
		}
		if _, err := s.cron.AddFunc(sched.Cron, func() {
			s.fire(sched.Query, appender)
		}); err != nil {
			s.closeAppenders()
			return nil, fmt.Errorf("schedule %q: %w", sched.Query, err)
		}
	}
	return s, nil
}

func (s *Scheduler) fire(queryName string, appender *fileutil.ExportAppender) {
	ctx := context.Background()
	rec, err := s.store.GetSavedQueryByName(ctx, queryName)
	if err != nil {
		s.logger.Error().Str("query", queryName).Err(err).Msg("scheduled run: lookup failed")
		return
	}
	raw, err := s.snapshot(ctx)
	if err != nil {
		s.logger.Error().Str("query", queryName).Err(err).Msg("scheduled run: snapshot failed")
		return
	}

	result, err := s.engine.Run(raw, rec.Query())
	entry := storage.RunRecord{
		QueryID: rec.ID,
		Address: rec.Address,
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
	if _, recErr := s.store.RecordRun(ctx, entry); recErr != nil {
		s.logger.Error().Str("query", queryName).Err(recErr).Msg("scheduled run: record failed")
	}
	if err != nil {
		s.logger.Warn().Str("query", queryName).Err(err).Msg("scheduled run failed")
		return
	}

	if appender != nil && result.Export != "" {
		if err := appender.Append(result.Export); err != nil {
			s.logger.Error().Str("query", queryName).Err(err).Msg("scheduled run: export append failed")
			return
		}
	}
	s.logger.Info().Str("query", queryName).Int("totalMessages", result.Stats.TotalMessages).Msg("scheduled run complete")
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop, waits for in-flight runs, and closes exports.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.closeAppenders()
}

func (s *Scheduler) closeAppenders() {
	for _, appender := range s.appenders {
		_ = appender.Close()
	}
}
