// internal/historian/historian.go
package historian

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/dyad/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Queue is the source of completed game records.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (models.GameRecord, bool, error)
}

// Saver persists a batch atomically.
type Saver interface {
	SaveGames(ctx context.Context, recs []models.GameRecord) error
}

// Service drains the record queue into the database in batches, flushing when the
// batch is full or the flush interval passes.
type Service struct {
	queue Queue
	saver Saver
	log   *logrus.Entry

	BatchSize  int
	FlushDelay time.Duration
	PopTimeout time.Duration

	batchMu sync.Mutex
	batch   []models.GameRecord
}

func New(queue Queue, saver Saver, logger *logrus.Logger) *Service {
	return &Service{
		queue:      queue,
		saver:      saver,
		log:        logrus.NewEntry(logger).WithField("component", "historian"),
		BatchSize:  20,
		FlushDelay: 500 * time.Millisecond,
		PopTimeout: 3 * time.Second,
	}
}

// Run blocks until ctx is cancelled. Whatever is batched at that point is flushed
// before returning.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.flushLoop(gctx) })
	s.log.Info("historian started")

	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.flush(flushCtx)
	s.log.Info("historian stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, ok, err := s.queue.Pop(ctx, s.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warnf("pop: %v", err)
			continue
		}
		if !ok {
			continue
		}
		s.append(ctx, rec)
	}
}

func (s *Service) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.FlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *Service) append(ctx context.Context, rec models.GameRecord) {
	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.BatchSize
	s.batchMu.Unlock()
	if full {
		s.flush(ctx)
	}
}

// flush writes the current batch. A failed batch is put back in front of anything
// that arrived meanwhile.
func (s *Service) flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := s.batch
	s.batch = nil
	s.batchMu.Unlock()

	if err := s.saver.SaveGames(ctx, pending); err != nil {
		s.log.Errorf("flush %d records: %v", len(pending), err)
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.log.Debugf("flushed %d records", len(pending))
}
