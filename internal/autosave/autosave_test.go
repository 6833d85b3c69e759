package autosave_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyboard-server/internal/autosave"
	"storyboard-server/internal/model"
)

// recordingPersister captures every Save and signals each one on saved.
type recordingPersister struct {
	mu    sync.Mutex
	calls []*model.Project
	saved chan struct{}
}

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{saved: make(chan struct{}, 16)}
}

func (p *recordingPersister) Save(ctx context.Context, project *model.Project) error {
	p.mu.Lock()
	p.calls = append(p.calls, project)
	p.mu.Unlock()
	p.saved <- struct{}{}
	return nil
}

func (p *recordingPersister) snapshot() []*model.Project {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.Project(nil), p.calls...)
}

func waitSaved(t *testing.T, p *recordingPersister) {
	t.Helper()
	select {
	case <-p.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a save")
	}
}

func TestSchedule_CollapsesBurst(t *testing.T) {
	persister := newRecordingPersister()
	saver := autosave.NewSaver(persister, 30*time.Millisecond, zap.NewNop())
	defer saver.Close()

	project := &model.Project{ID: "p1", Name: "v1"}
	saver.Schedule(project)
	project.Name = "v2"
	saver.Schedule(project)
	project.Name = "v3"
	saver.Schedule(project)

	waitSaved(t, persister)

	calls := persister.snapshot()
	require.Len(t, calls, 1)
	// Записывается снапшот последнего вызова.
	assert.Equal(t, "v3", calls[0].Name)
}

func TestSchedule_SnapshotIsolation(t *testing.T) {
	persister := newRecordingPersister()
	saver := autosave.NewSaver(persister, 20*time.Millisecond, zap.NewNop())
	defer saver.Close()

	project := &model.Project{
		ID:         "p1",
		Name:       "before",
		Characters: []model.CharacterProfile{{ID: "c1", Name: "Anna"}},
	}
	saver.Schedule(project)

	// Мутации после Schedule не должны попасть в снапшот.
	project.Name = "after"
	project.Characters[0].Name = "Mutated"

	waitSaved(t, persister)

	calls := persister.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "before", calls[0].Name)
	assert.Equal(t, "Anna", calls[0].Characters[0].Name)
}

func TestSchedule_IndependentProjects(t *testing.T) {
	persister := newRecordingPersister()
	saver := autosave.NewSaver(persister, 20*time.Millisecond, zap.NewNop())
	defer saver.Close()

	saver.Schedule(&model.Project{ID: "p1"})
	saver.Schedule(&model.Project{ID: "p2"})

	waitSaved(t, persister)
	waitSaved(t, persister)

	calls := persister.snapshot()
	require.Len(t, calls, 2)
	ids := map[string]bool{calls[0].ID: true, calls[1].ID: true}
	assert.True(t, ids["p1"] && ids["p2"])
}

func TestFlush_BypassesDebounce(t *testing.T) {
	persister := newRecordingPersister()
	saver := autosave.NewSaver(persister, time.Hour, zap.NewNop())
	defer saver.Close()

	project := &model.Project{ID: "p1", Name: "pending"}
	saver.Schedule(project)

	require.NoError(t, saver.Flush(context.Background(), project))

	calls := persister.snapshot()
	require.Len(t, calls, 1)

	// Отложенный таймер отменен: новых записей не появляется.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, persister.snapshot(), 1)
}

func TestClose_CancelsPending(t *testing.T) {
	persister := newRecordingPersister()
	saver := autosave.NewSaver(persister, time.Hour, zap.NewNop())

	saver.Schedule(&model.Project{ID: "p1"})
	saver.Close()

	assert.Empty(t, persister.snapshot())

	// После Close новые Schedule игнорируются.
	saver.Schedule(&model.Project{ID: "p2"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, persister.snapshot())
}
