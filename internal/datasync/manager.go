package datasync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultFlushInterval  = 5 * time.Minute
	defaultFlushAttempts  = 3
	defaultInitialBackoff = 2 * time.Second
)

// PendingFlusher is the slice of the data service the manager drives.
type PendingFlusher interface {
	Mode() Mode
	PendingCount(ctx context.Context) (int, error)
	SyncPending(ctx context.Context) SyncOutcome
}

// ManagerEvents notifies observers about flush cycles. All callbacks are
// optional and invoked synchronously from the flush goroutine.
type ManagerEvents struct {
	OnStart   func()
	OnSuccess func(SyncOutcome)
	OnError   func(error)
}

// ManagerConfig wires the background pending-write flush.
type ManagerConfig struct {
	Flusher PendingFlusher
	// Interval between flush cycles; default five minutes.
	Interval time.Duration
	// MaxAttempts per cycle; default three.
	MaxAttempts int
	// InitialBackoff before the second attempt; doubles per retry.
	InitialBackoff time.Duration
	Events         ManagerEvents
	Logger         *zap.Logger
}

// Manager periodically flushes the pending-sync queue with bounded retry
// and exponential backoff. A failed cycle never stops the loop; the next
// tick tries again. Only one manager instance is expected per process.
type Manager struct {
	flusher  PendingFlusher
	interval time.Duration
	attempts int
	backoff  time.Duration
	events   ManagerEvents
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager validates the wiring and builds a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Flusher == nil {
		return nil, fmt.Errorf("pending flusher is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultFlushAttempts
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		flusher:  cfg.Flusher,
		interval: interval,
		attempts: attempts,
		backoff:  backoff,
		events:   cfg.Events,
		logger:   logger,
	}, nil
}

// Start launches the timer loop. Starting twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				// Outcome is already surfaced through events and logs;
				// the loop continues regardless.
				m.PerformSync(loopCtx)
			}
		}
	}()

	m.logger.Info("pending sync manager started", zap.Duration("interval", m.interval))
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("pending sync manager stopped")
}

// PerformSync runs one flush cycle immediately: no-op in pure modes or
// when the queue is empty, otherwise up to MaxAttempts tries separated by
// doubling backoff.
func (m *Manager) PerformSync(ctx context.Context) SyncOutcome {
	mode := m.flusher.Mode()
	if !mode.usesPendingQueue() {
		return SyncOutcome{Success: true, Message: "nothing to sync in " + mode.String() + " mode"}
	}

	count, err := m.flusher.PendingCount(ctx)
	if err != nil {
		m.logger.Error("pending count failed", zap.Error(err))
		m.emitError(err)
		return SyncOutcome{Message: err.Error()}
	}
	if count == 0 {
		return SyncOutcome{Success: true, Message: "nothing to sync"}
	}

	if m.events.OnStart != nil {
		m.events.OnStart()
	}

	wait := m.backoff
	var outcome SyncOutcome
	for attempt := 1; attempt <= m.attempts; attempt++ {
		outcome = m.flusher.SyncPending(ctx)
		if outcome.Success {
			m.logger.Info("pending flush complete",
				zap.Int("attempt", attempt),
				zap.Int("synced", outcome.Synced),
				zap.Int("failed", outcome.Failed))
			if m.events.OnSuccess != nil {
				m.events.OnSuccess(outcome)
			}
			return outcome
		}

		m.logger.Warn("pending flush attempt failed",
			zap.Int("attempt", attempt),
			zap.String("message", outcome.Message))
		if attempt == m.attempts {
			break
		}
		select {
		case <-ctx.Done():
			outcome.Message = ctx.Err().Error()
			m.emitError(ctx.Err())
			return outcome
		case <-time.After(wait):
		}
		wait *= 2
	}

	err = fmt.Errorf("pending flush failed after %d attempts: %s", m.attempts, outcome.Message)
	m.emitError(err)
	return outcome
}

func (m *Manager) emitError(err error) {
	if m.events.OnError != nil {
		m.events.OnError(err)
	}
}
