package syncrun

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultSchedulerBatch = 20

// Scheduler periodically scans for connections whose next sync time has
// passed and triggers incremental runs for them. Overlap with manual or
// still-running syncs is prevented by the orchestrator's run lock, so a due
// connection that is already syncing is simply skipped this tick.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	batch    int
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(orch *Orchestrator, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		orch:     orch,
		interval: interval,
		batch:    defaultSchedulerBatch,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the scheduling loop. The first scan happens after one
// interval, not immediately, so a restarting server does not stampede.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop halts the loop and waits for in-flight triggered runs to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.orch.connections.ListDue(ctx, time.Now(), s.batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("scan due connections")
		return
	}
	var wg sync.WaitGroup
	for _, conn := range due {
		conn := conn
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.orch.RunIncrementalSync(ctx, conn.ID)
			switch {
			case err == nil:
			case errors.Is(err, ErrRunInProgress):
				// Already syncing; the next tick will pick it up if still due.
			case errors.Is(err, context.Canceled):
			default:
				s.logger.Error().Err(err).Str("connection_id", conn.ID.String()).Msg("scheduled sync failed")
			}
		}()
	}
	wg.Wait()
}
