package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"storyboard-server/internal/model"
)

// VideoStatusChecker queries the state of a remote video job.
type VideoStatusChecker interface {
	VideoStatus(ctx context.Context, jobID string) (model.VideoGenerationResult, error)
}

// VideoUpdateFunc receives every observed state transition of a job. The
// final call carries either a terminal result or a non-nil error; no further
// calls follow it.
type VideoUpdateFunc func(result model.VideoGenerationResult, err error)

// VideoPoller drives at most one video job at a time through its polling
// lifecycle. Starting a new job cancels the previous one; cancelled runs
// never deliver further updates.
type VideoPoller struct {
	checker  VideoStatusChecker
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewVideoPoller(checker VideoStatusChecker, interval, timeout time.Duration, logger *zap.Logger) *VideoPoller {
	return &VideoPoller{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		logger:   logger.Named("video_poller"),
	}
}

// fork returns an idle poller with the same checker and timing profile.
// Каждому проекту - свой экземпляр, отмена одного не трогает остальные.
func (p *VideoPoller) fork() *VideoPoller {
	return &VideoPoller{
		checker:  p.checker,
		interval: p.interval,
		timeout:  p.timeout,
		logger:   p.logger,
	}
}

// Start begins polling jobID. Any job already being polled is stopped first.
func (p *VideoPoller) Start(jobID string, onUpdate VideoUpdateFunc) {
	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(ctx, jobID, onUpdate, done)
}

// Stop cancels the active polling run, if any, and waits for it to finish so
// that no update fires after Stop returns.
func (p *VideoPoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *VideoPoller) run(ctx context.Context, jobID string, onUpdate VideoUpdateFunc, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			p.logger.Warn("video job timed out", zap.String("job_id", jobID))
			onUpdate(
				model.VideoGenerationResult{IDBase: jobID, Status: model.VideoStatusTimeout},
				fmt.Errorf("video generation timed out after %s", p.timeout),
			)
			return

		case <-ticker.C:
			result, err := p.checker.VideoStatus(ctx, jobID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				p.logger.Error("video status check failed", zap.String("job_id", jobID), zap.Error(err))
				onUpdate(model.VideoGenerationResult{IDBase: jobID, Status: model.VideoStatusError}, err)
				return
			}

			switch {
			case result.Status == model.VideoStatusSuccessful:
				// Без download_url результат ещё не готов, продолжаем опрос.
				if result.DownloadURL != "" {
					onUpdate(result, nil)
					return
				}
				onUpdate(result, nil)

			case result.Status.InProgress():
				onUpdate(result, nil)

			default:
				onUpdate(result, fmt.Errorf("video generation failed with status: %s", result.Status))
				return
			}
		}
	}
}
