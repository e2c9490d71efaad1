package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/maps-scraper/internal/model"
	"github.com/sells-group/maps-scraper/internal/store"
)

type recordingWriter struct {
	progress []model.Progress
	events   []model.Event
	err      error
	panic    bool
	deadline bool
}

func (w *recordingWriter) UpsertProgress(ctx context.Context, p model.Progress) error {
	if w.panic {
		panic("writer exploded")
	}
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.progress = append(w.progress, p)
	return nil
}

func (w *recordingWriter) InsertEvent(_ context.Context, e model.Event) error {
	if w.panic {
		panic("writer exploded")
	}
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, e)
	return nil
}

func TestNew_NoopWithoutRunKey(t *testing.T) {
	assert.IsType(t, Noop{}, New(&recordingWriter{}, "", "123"))
	assert.IsType(t, Noop{}, New(nil, "run-1", ""))
	assert.IsType(t, &StoreMonitor{}, New(&recordingWriter{}, "run-1", ""))
}

func TestNoop_DoesNothing(t *testing.T) {
	var m Monitor = Noop{}
	assert.NotPanics(t, func() {
		m.UpdateProgress(context.Background(), model.Progress{})
		m.LogEvent(context.Background(), model.Event{})
	})
}

func TestStoreMonitor_StampsIdentity(t *testing.T) {
	w := &recordingWriter{}
	m := New(w, "run-1", "gh-42")
	ctx := context.Background()

	m.UpdateProgress(ctx, model.Progress{Status: model.RunStatusRunning, CurrentAction: model.ActionLoadingSearch})
	m.LogEvent(ctx, model.Event{Type: model.EventSearchStart, Message: "Starting search: roofers"})

	require.Len(t, w.progress, 1)
	assert.Equal(t, "run-1", w.progress[0].RunKey)
	assert.Equal(t, "gh-42", w.progress[0].ExternalRunID)
	assert.False(t, w.progress[0].UpdatedAt.IsZero())
	assert.True(t, w.deadline)

	require.Len(t, w.events, 1)
	assert.Equal(t, "run-1", w.events[0].RunKey)
	assert.Equal(t, model.LevelInfo, w.events[0].Level)
	assert.False(t, w.events[0].CreatedAt.IsZero())
}

func TestStoreMonitor_SwallowsErrorsAndPanics(t *testing.T) {
	ctx := context.Background()

	failing := New(&recordingWriter{err: errors.New("connection refused")}, "run-1", "")
	assert.NotPanics(t, func() {
		failing.UpdateProgress(ctx, model.Progress{})
		failing.LogEvent(ctx, model.Event{})
	})

	exploding := New(&recordingWriter{panic: true}, "run-1", "")
	assert.NotPanics(t, func() {
		exploding.UpdateProgress(ctx, model.Progress{})
		exploding.LogEvent(ctx, model.Event{})
	})
}

func TestStoreMonitor_WritesAfterCancel(t *testing.T) {
	w := &recordingWriter{}
	m := New(w, "run-1", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m.UpdateProgress(ctx, model.Progress{Status: model.RunStatusFailed})
	require.Len(t, w.progress, 1)
	assert.Equal(t, model.RunStatusFailed, w.progress[0].Status)
}

func TestStoreMonitor_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "mon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	m := New(s, "run-7", "999")
	started := time.Now().UTC().Truncate(time.Second)
	m.UpdateProgress(ctx, model.Progress{
		Status: model.RunStatusRunning, CurrentAction: model.ActionLoadedQueue,
		TotalSearches: 3, StartedAt: started,
	})
	m.UpdateProgress(ctx, model.Progress{
		Status: model.RunStatusRunning, CurrentAction: model.ActionLoadingSearch,
		CurrentSearch: "roofers leeds", CurrentSearchIndex: 1, TotalSearches: 3, StartedAt: started,
	})
	idx := 1
	m.LogEvent(ctx, model.Event{Type: model.EventSearchStart, Message: "Starting search: roofers leeds", Search: "roofers leeds", SearchIndex: &idx})

	p, err := s.GetProgress(ctx, "run-7")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.ActionLoadingSearch, p.CurrentAction)
	assert.Equal(t, "roofers leeds", p.CurrentSearch)
	assert.Equal(t, "999", p.ExternalRunID)

	events, err := s.ListEvents(ctx, "run-7", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventSearchStart, events[0].Type)
	require.NotNil(t, events[0].SearchIndex)
	assert.Equal(t, 1, *events[0].SearchIndex)
}
