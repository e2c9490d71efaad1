// Package monitoring streams run progress and timeline events to the store
// for live observers, and raises alerts on unhealthy finished runs. Nothing
// here may fail a run.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/maps-scraper/internal/model"
)

// Monitor receives progress snapshots and timeline events. Implementations
// never block the run on failure and never panic.
type Monitor interface {
	UpdateProgress(ctx context.Context, p model.Progress)
	LogEvent(ctx context.Context, e model.Event)
}

// Writer is the slice of store.Store a StoreMonitor writes through.
type Writer interface {
	UpsertProgress(ctx context.Context, p model.Progress) error
	InsertEvent(ctx context.Context, e model.Event) error
}

// DefaultWriteTimeout bounds each monitoring write.
const DefaultWriteTimeout = 5 * time.Second

// New returns a StoreMonitor for runKey, or Noop when runKey is empty or
// there is no writer.
func New(w Writer, runKey, externalRunID string) Monitor {
	if runKey == "" || w == nil {
		return Noop{}
	}
	return &StoreMonitor{
		w:             w,
		runKey:        runKey,
		externalRunID: externalRunID,
		timeout:       DefaultWriteTimeout,
		now:           func() time.Time { return time.Now().UTC() },
		log:           zap.L().With(zap.String("component", "monitor"), zap.String("run_key", runKey)),
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) UpdateProgress(context.Context, model.Progress) {}
func (Noop) LogEvent(context.Context, model.Event)          {}

// StoreMonitor writes progress rows and events for one run key.
type StoreMonitor struct {
	w             Writer
	runKey        string
	externalRunID string
	timeout       time.Duration
	now           func() time.Time
	log           *zap.Logger
}

// UpdateProgress overwrites the run's progress row.
func (m *StoreMonitor) UpdateProgress(ctx context.Context, p model.Progress) {
	p.RunKey = m.runKey
	p.ExternalRunID = m.externalRunID
	p.UpdatedAt = m.now()
	m.safely(ctx, "upsert progress", func(ctx context.Context) error {
		return m.w.UpsertProgress(ctx, p)
	})
}

// LogEvent appends e to the run's timeline.
func (m *StoreMonitor) LogEvent(ctx context.Context, e model.Event) {
	e.RunKey = m.runKey
	e.ExternalRunID = m.externalRunID
	if e.Level == "" {
		e.Level = model.LevelInfo
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	m.safely(ctx, "insert event", func(ctx context.Context) error {
		return m.w.InsertEvent(ctx, e)
	})
}

// safely runs fn on a context that survives cancellation of the run, so the
// terminal rows of an interrupted run still land.
func (m *StoreMonitor) safely(ctx context.Context, op string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Debug("monitoring: write panicked", zap.String("op", op), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	if err := fn(wctx); err != nil {
		m.log.Debug("monitoring: write failed", zap.String("op", op), zap.Error(err))
	}
}
