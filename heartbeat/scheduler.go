// Package heartbeat implements the single process-wide periodic ticker
// that drives HEARTBEAT emission and timeout detection for every live
// Session.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nsio/socketio/session"
)

// Scheduler ticks every interval and, for each live session, enqueues a
// HEARTBEAT and checks it hasn't gone silent past its own timeout. It
// is an explicit collaborator constructed once per server and injected
// into the dispatcher and every Session — never a package-level
// singleton (see DESIGN.md). It implements session.Scheduler.
type Scheduler struct {
	interval time.Duration
	pool     int
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler that ticks every interval, fanning the
// per-tick work for its registered sessions out across a pool-sized
// errgroup (mirroring the original Java server's
// Executors.newScheduledThreadPool(heartbeatThreadpoolSize)).
func New(interval time.Duration, pool int, log zerolog.Logger) *Scheduler {
	if pool < 1 {
		pool = 1
	}
	return &Scheduler{
		interval: interval,
		pool:     pool,
		log:      log.With().Str("component", "heartbeat").Logger(),
		sessions: make(map[string]*session.Session),
	}
}

// Register adds s to the set of sessions ticked each interval.
func (sc *Scheduler) Register(s *session.Session) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.sessions[s.ID()] = s
}

// Unregister removes s. It is a no-op if s was never registered or has
// already been removed — the set is keyed by id, so a late unregister
// after the session is already gone is harmless.
func (sc *Scheduler) Unregister(s *session.Session) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.sessions, s.ID())
}

// Start begins ticking in a background goroutine. Stop cancels it.
func (sc *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	sc.cancel = cancel
	sc.done = make(chan struct{})

	go func() {
		defer close(sc.done)
		ticker := time.NewTicker(sc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				sc.tick(ctx, now)
			}
		}
	}()
}

// Stop halts the scheduler and waits for the in-flight tick to finish.
func (sc *Scheduler) Stop() {
	if sc.cancel != nil {
		sc.cancel()
	}
	if sc.done != nil {
		<-sc.done
	}
}

// Len reports how many sessions are currently ticked. Mostly useful in
// tests and metrics.
func (sc *Scheduler) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.sessions)
}

func (sc *Scheduler) tick(ctx context.Context, now time.Time) {
	sc.mu.Lock()
	live := make([]*session.Session, 0, len(sc.sessions))
	for _, s := range sc.sessions {
		live = append(live, s)
	}
	sc.mu.Unlock()

	grp, _ := errgroup.WithContext(ctx)
	grp.SetLimit(sc.pool)

	for _, s := range live {
		s := s
		grp.Go(func() error {
			if expired := s.Heartbeat(now); expired {
				sc.mu.Lock()
				delete(sc.sessions, s.ID())
				sc.mu.Unlock()
				sc.log.Debug().Str("session", s.ID()).Msg("heartbeat timeout, session disconnected")
				return nil
			}
			s.KeepAliveIfParked()
			return nil
		})
	}
	_ = grp.Wait()
}
