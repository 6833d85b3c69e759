// Package autosave collapses bursts of project mutations into single
// persistence writes on the trailing edge of a debounce window.
package autosave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"storyboard-server/internal/model"
)

// Persister is the write side of the debouncer.
type Persister interface {
	Save(ctx context.Context, project *model.Project) error
}

// Saver debounces Schedule calls per project: each call restarts that
// project's timer, and only the snapshot of the last call in a burst is
// written. Close flushes nothing - pending work is cancelled, mirroring a
// teardown where the caller persists explicitly if it needs to.
type Saver struct {
	persister Persister
	delay     time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
	closed bool
}

func NewSaver(persister Persister, delay time.Duration, logger *zap.Logger) *Saver {
	return &Saver{
		persister: persister,
		delay:     delay,
		timeout:   15 * time.Second,
		logger:    logger.Named("autosave"),
		timers:    make(map[string]*time.Timer),
	}
}

// Schedule queues a debounced save of the given project snapshot. The
// snapshot is taken now: later mutations of the same pointer before the
// timer fires are not picked up unless Schedule is called again.
func (s *Saver) Schedule(project *model.Project) {
	snapshot := cloneProject(project)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if timer, ok := s.timers[snapshot.ID]; ok {
		timer.Stop()
	}
	s.wg.Add(1)
	s.timers[snapshot.ID] = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()
		s.flush(snapshot)
	})
}

// Flush persists a project immediately, bypassing the debounce window and
// cancelling any pending timer for it.
func (s *Saver) Flush(ctx context.Context, project *model.Project) error {
	s.mu.Lock()
	if timer, ok := s.timers[project.ID]; ok {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.timers, project.ID)
	}
	s.mu.Unlock()
	return s.persister.Save(ctx, project)
}

// Close cancels all pending timers and waits for in-flight writes.
func (s *Saver) Close() {
	s.mu.Lock()
	s.closed = true
	for id, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Saver) flush(snapshot *model.Project) {
	s.mu.Lock()
	delete(s.timers, snapshot.ID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.persister.Save(ctx, snapshot); err != nil {
		s.logger.Error("Отложенное сохранение проекта не удалось",
			zap.String("project_id", snapshot.ID), zap.Error(err))
		return
	}
	s.logger.Debug("Проект сохранен автосейвом", zap.String("project_id", snapshot.ID))
}

// cloneProject deep-copies the aggregate so the queued snapshot is immune
// to concurrent mutation.
func cloneProject(p *model.Project) *model.Project {
	clone := *p
	clone.Characters = append([]model.CharacterProfile(nil), p.Characters...)
	for i := range clone.Characters {
		if ref := clone.Characters[i].ReferenceImage; ref != nil {
			refCopy := *ref
			clone.Characters[i].ReferenceImage = &refCopy
		}
	}
	clone.Scenes = append([]model.Scene(nil), p.Scenes...)
	for i := range clone.Scenes {
		src := p.Scenes[i]
		clone.Scenes[i].CharacterIDs = append([]string(nil), src.CharacterIDs...)
		clone.Scenes[i].GeneratedImages = append([]model.GeneratedImage(nil), src.GeneratedImages...)
	}
	clone.CompositeReferenceImages = append([]model.CompositeReferenceImage(nil), p.CompositeReferenceImages...)
	for i := range clone.CompositeReferenceImages {
		clone.CompositeReferenceImages[i].CharacterIDs = append([]string(nil), p.CompositeReferenceImages[i].CharacterIDs...)
	}
	return &clone
}
