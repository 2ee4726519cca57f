// Package historian drains game action records from the Redis queue and
// persists them in batches, marking games abandoned after a period of
// inactivity.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/magicmatch/internal/cache"
	"github.com/sirupsen/logrus"
)

// Queue yields queued action records. Pop returns (nil, nil) on timeout.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (*cache.GameActionRecord, error)
}

// Store persists action records.
type Store interface {
	SaveActions(ctx context.Context, records []cache.GameActionRecord) error
	MarkAbandoned(ctx context.Context, gameID uuid.UUID) error
}

// Options configures a Service.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	Inactivity    time.Duration
	CheckInterval time.Duration
	PopTimeout    time.Duration
}

// Service batches records from a Queue into a Store.
type Service struct {
	queue  Queue
	store  Store
	opts   Options
	logger logrus.FieldLogger

	lastActivity sync.Map // map[uuid.UUID]time.Time

	batchMu sync.Mutex
	batch   []cache.GameActionRecord

	now func() time.Time
}

// NewService builds a Service. Zero options take defaults.
func NewService(queue Queue, store Store, opts Options, logger logrus.FieldLogger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.Inactivity <= 0 {
		opts.Inactivity = 10 * time.Minute
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 3 * time.Second
	}
	return &Service{
		queue:  queue,
		store:  store,
		opts:   opts,
		logger: logger,
		batch:  make([]cache.GameActionRecord, 0, opts.BatchSize),
		now:    time.Now,
	}
}

// Run starts the read, flush and inactivity loops and blocks until ctx is
// done. Whatever is still batched is flushed before returning.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.readLoop(ctx) }()
	go func() { defer wg.Done(); s.flushLoop(ctx) }()
	go func() { defer wg.Done(); s.inactivityLoop(ctx) }()

	s.logger.Info("historian started")
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Flush(flushCtx)
	s.logger.Info("historian stopped")
}

// readLoop pops records until ctx is done.
func (s *Service) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		rec, err := s.queue.Pop(ctx, s.opts.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Warn("queue pop failed")
			continue
		}
		if rec == nil {
			continue
		}
		s.Accept(ctx, *rec)
	}
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

func (s *Service) inactivityLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepInactive(ctx)
		}
	}
}

// Accept records activity for the record's game and batches it, flushing
// when the batch is full. A completed game stops being tracked for inactivity.
func (s *Service) Accept(ctx context.Context, rec cache.GameActionRecord) {
	if rec.ActionType == "game_completed" {
		s.lastActivity.Delete(rec.GameID)
	} else {
		s.lastActivity.Store(rec.GameID, s.now())
	}

	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.opts.BatchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Flush writes the current batch to the store. A failed batch is put back in
// front of anything that arrived meanwhile so it is retried on the next flush.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := s.batch
	s.batch = make([]cache.GameActionRecord, 0, s.opts.BatchSize)
	s.batchMu.Unlock()

	if err := s.store.SaveActions(ctx, pending); err != nil {
		s.logger.WithError(err).WithField("count", len(pending)).Error("flush failed")
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.logger.WithField("count", len(pending)).Debug("flushed actions")
}

// SweepInactive marks every game idle for longer than the inactivity
// threshold as abandoned.
func (s *Service) SweepInactive(ctx context.Context) {
	s.Flush(ctx)
	now := s.now()
	s.lastActivity.Range(func(key, val interface{}) bool {
		gameID, ok1 := key.(uuid.UUID)
		last, ok2 := val.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.opts.Inactivity {
			return true
		}
		if err := s.store.MarkAbandoned(ctx, gameID); err != nil {
			s.logger.WithError(err).WithField("game", gameID).Warn("failed to mark game abandoned")
			return true
		}
		s.logger.WithField("game", gameID).Info("marked game abandoned due to inactivity")
		s.lastActivity.Delete(gameID)
		return true
	})
}
