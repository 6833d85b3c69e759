package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storyboard-server/internal/model"
)

// ErrDurationTooShort is returned when the target scene count rounds to
// zero before any provider call is made.
var ErrDurationTooShort = errors.New("the configured duration is too short to produce any scenes")

// SceneSource produces the next batch of scenes given everything accumulated
// so far. The source decides the batch size; the generator only accumulates.
type SceneSource interface {
	NextBatch(ctx context.Context, accumulated []model.Scene, target int) ([]model.Scene, error)
}

// SceneObserver is called once per newly accepted scene, after the scene has
// been inserted and the accumulated set re-sorted.
type SceneObserver func(added model.Scene, accumulated []model.Scene, target int)

// PartialGenerationError reports a run that stalled before reaching its
// target. The scenes produced so far are still valid and retained.
type PartialGenerationError struct {
	Generated int
	Target    int
}

func (e *PartialGenerationError) Error() string {
	return fmt.Sprintf("scene generation stalled at %d of %d scenes", e.Generated, e.Target)
}

// SceneBatchGenerator accumulates scenes batch by batch until a target count
// is reached, deduplicating by scene id and bailing out after a run of
// batches that add nothing new.
type SceneBatchGenerator struct {
	maxStalls int
	emitDelay time.Duration
	logger    *zap.Logger
}

func NewSceneBatchGenerator(maxStalls int, emitDelay time.Duration, logger *zap.Logger) *SceneBatchGenerator {
	return &SceneBatchGenerator{
		maxStalls: maxStalls,
		emitDelay: emitDelay,
		logger:    logger.Named("scene_generator"),
	}
}

// Generate runs the accumulation loop. existing carries scenes from a
// previous run when resuming; pass nil for a fresh run. The returned slice
// is always sorted by scene id, even on error.
func (g *SceneBatchGenerator) Generate(ctx context.Context, target int, existing []model.Scene, source SceneSource, observe SceneObserver) ([]model.Scene, error) {
	if target <= 0 {
		return nil, ErrDurationTooShort
	}

	accumulated := make([]model.Scene, len(existing))
	copy(accumulated, existing)
	model.SortScenes(accumulated)

	seen := make(map[int]struct{}, target)
	for _, sc := range accumulated {
		seen[sc.SceneID] = struct{}{}
	}

	stalls := 0
	batch := 0
	for len(accumulated) < target && stalls < g.maxStalls {
		if err := ctx.Err(); err != nil {
			return accumulated, err
		}
		batch++
		g.logger.Debug("requesting scene batch",
			zap.Int("batch", batch),
			zap.Int("accumulated", len(accumulated)),
			zap.Int("target", target))

		scenes, err := source.NextBatch(ctx, accumulated, target)
		if err != nil {
			return accumulated, err
		}

		added := 0
		for _, sc := range scenes {
			if _, dup := seen[sc.SceneID]; dup {
				continue
			}
			seen[sc.SceneID] = struct{}{}
			accumulated = append(accumulated, sc)
			model.SortScenes(accumulated)
			added++
			if observe != nil {
				observe(sc, accumulated, target)
			}
			if g.emitDelay > 0 {
				select {
				case <-ctx.Done():
					return accumulated, ctx.Err()
				case <-time.After(g.emitDelay):
				}
			}
		}

		if added == 0 {
			stalls++
			g.logger.Warn("scene batch added nothing new",
				zap.Int("batch", batch), zap.Int("stalls", stalls))
		} else {
			stalls = 0
		}
	}

	if len(accumulated) < target {
		return accumulated, &PartialGenerationError{Generated: len(accumulated), Target: target}
	}
	return accumulated, nil
}
