package cycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
)

// Status is the build state of a cycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// ErrAttemptsExhausted is returned by Tracker.Begin once a cycle has used up
// its attempts.
var ErrAttemptsExhausted = errors.New("cycle attempts exhausted")

// Attempt is the retry bookkeeping for one cycle.
type Attempt struct {
	CycleID     string    `json:"cycle_id"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// Ledger persists attempts keyed by cycle ID.
type Ledger interface {
	Get(ctx context.Context, cycleID string) (Attempt, bool, error)
	Put(ctx context.Context, a Attempt) error
	List(ctx context.Context) ([]Attempt, error)
	// DeleteBefore removes attempts for cycles older than cycleID.
	DeleteBefore(ctx context.Context, cycleID string) error
	Close() error
}

// Tracker applies the attempt policy on top of a Ledger.
type Tracker struct {
	ledger      Ledger
	maxAttempts int
	clock       clockwork.Clock
}

// NewTracker creates a Tracker that allows at most maxAttempts builds per cycle.
func NewTracker(ledger Ledger, maxAttempts int, clock clockwork.Clock) *Tracker {
	return &Tracker{ledger: ledger, maxAttempts: maxAttempts, clock: domain.Clock(clock)}
}

// Begin records a new attempt for run and marks it processing. It fails with
// ErrAttemptsExhausted when the cap has been reached or the cycle already
// completed.
func (t *Tracker) Begin(ctx context.Context, run domain.ModelRun) (Attempt, error) {
	a, ok, err := t.ledger.Get(ctx, run.ID())
	if err != nil {
		return Attempt{}, fmt.Errorf("load attempt: %w", err)
	}
	if !ok {
		a = Attempt{CycleID: run.ID(), Status: StatusPending}
	}
	if a.Status == StatusComplete {
		return a, fmt.Errorf("cycle %s already complete: %w", a.CycleID, ErrAttemptsExhausted)
	}
	if t.maxAttempts > 0 && a.Attempts >= t.maxAttempts {
		return a, fmt.Errorf("cycle %s after %d attempts: %w", a.CycleID, a.Attempts, ErrAttemptsExhausted)
	}
	a.Attempts++
	a.LastAttempt = t.clock.Now().UTC()
	a.Status = StatusProcessing
	a.Error = ""
	if err := t.ledger.Put(ctx, a); err != nil {
		return Attempt{}, fmt.Errorf("store attempt: %w", err)
	}
	return a, nil
}

// Complete marks run as built.
func (t *Tracker) Complete(ctx context.Context, run domain.ModelRun) error {
	return t.finish(ctx, run, StatusComplete, nil)
}

// Fail records the failure cause for run.
func (t *Tracker) Fail(ctx context.Context, run domain.ModelRun, cause error) error {
	return t.finish(ctx, run, StatusFailed, cause)
}

func (t *Tracker) finish(ctx context.Context, run domain.ModelRun, status Status, cause error) error {
	a, ok, err := t.ledger.Get(ctx, run.ID())
	if err != nil {
		return fmt.Errorf("load attempt: %w", err)
	}
	if !ok {
		a = Attempt{CycleID: run.ID(), Attempts: 1, LastAttempt: t.clock.Now().UTC()}
	}
	a.Status = status
	a.Error = ""
	if cause != nil {
		a.Error = cause.Error()
	}
	return t.ledger.Put(ctx, a)
}

// Prune discards bookkeeping for cycles older than the active run.
func (t *Tracker) Prune(ctx context.Context, active domain.ModelRun) error {
	return t.ledger.DeleteBefore(ctx, active.ID())
}

// Attempts lists all tracked cycles, newest first.
func (t *Tracker) Attempts(ctx context.Context) ([]Attempt, error) {
	return t.ledger.List(ctx)
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	attempts map[string]Attempt
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{attempts: make(map[string]Attempt)}
}

func (m *MemoryLedger) Get(_ context.Context, cycleID string) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[cycleID]
	return a, ok, nil
}

func (m *MemoryLedger) Put(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.CycleID] = a
	return nil
}

func (m *MemoryLedger) List(_ context.Context) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleID > out[j].CycleID })
	return out, nil
}

// DeleteBefore relies on cycle IDs (YYYYMMDDHH) sorting chronologically.
func (m *MemoryLedger) DeleteBefore(_ context.Context, cycleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.attempts {
		if id < cycleID {
			delete(m.attempts, id)
		}
	}
	return nil
}

func (m *MemoryLedger) Close() error { return nil }
