package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Jumper moves a single player between matches. Only the most recent jump is
// ever in flight: starting a new one cancels the previous task.
type Jumper struct {
	p    Loader
	opts SeekOptions
	log  logrus.FieldLogger

	mu      sync.Mutex
	current string
	task    *SeekTask
}

// NewJumper returns a Jumper driving p.
func NewJumper(p Loader, opts SeekOptions, log logrus.FieldLogger) *Jumper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Jumper{p: p, opts: opts, log: log.WithField("component", "player")}
}

// Current returns the id of the loaded video, or "".
func (j *Jumper) Current() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.current
}

// Jump plays videoID from target seconds.
//
// When videoID is not loaded yet it is loaded and played, and once playback
// starts the converging seek loop runs. On the loaded video play is issued,
// then after PlayDelay a single seek. The superseded jump is canceled and
// finishes before the new one touches the player.
func (j *Jumper) Jump(ctx context.Context, videoID string, target float64) *SeekTask {
	if target < 0 {
		target = 0
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	prev := j.task
	if prev != nil {
		prev.Cancel()
	}
	log := j.log.WithFields(logrus.Fields{"video": videoID, "target": target})

	t := startTask(ctx, func(ctx context.Context) SeekResult {
		if prev != nil {
			<-prev.Done()
			if ctx.Err() != nil {
				return SeekResult{}
			}
		}
		if j.Current() != videoID {
			log.Debug("loading stream")
			return j.switchAndSeek(ctx, videoID, target)
		}
		return j.seekLoaded(ctx, target)
	})
	j.task = t
	return t
}

func (j *Jumper) setCurrent(videoID string) {
	j.mu.Lock()
	j.current = videoID
	j.mu.Unlock()
}

func (j *Jumper) switchAndSeek(ctx context.Context, videoID string, target float64) SeekResult {
	if err := j.p.Load(ctx, videoID); err != nil {
		// the player may be between streams
		j.setCurrent("")
		return SeekResult{Err: fmt.Errorf("load %s: %w", videoID, err)}
	}
	j.setCurrent(videoID)
	if ctx.Err() != nil {
		return SeekResult{}
	}

	if err := j.p.Play(ctx); err != nil {
		return SeekResult{Err: fmt.Errorf("play: %w", err)}
	}

	waitCtx := ctx
	if j.opts.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, j.opts.ReadyTimeout)
		defer cancel()
	}
	if err := j.p.WaitPlaying(waitCtx); err != nil {
		if ctx.Err() != nil {
			return SeekResult{Err: ctx.Err()}
		}
		// some embeds never report playing; seek anyway
		j.log.WithError(err).Debug("stream did not report playing")
	}

	res := converge(ctx, j.p, target, j.opts, j.log)
	if !res.Converged && ctx.Err() == nil {
		j.log.WithFields(logrus.Fields{"video": videoID, "attempts": res.Attempts}).
			Debug("seek did not settle, leaving playback where it is")
	}
	return res
}

func (j *Jumper) seekLoaded(ctx context.Context, target float64) SeekResult {
	if err := j.p.Play(ctx); err != nil {
		return SeekResult{Err: fmt.Errorf("play: %w", err)}
	}
	if j.opts.PlayDelay > 0 {
		timer := time.NewTimer(j.opts.PlayDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return SeekResult{}
		case <-timer.C:
		}
	}
	if err := j.p.SeekTo(ctx, target); err != nil {
		return SeekResult{Err: fmt.Errorf("seek: %w", err)}
	}
	return SeekResult{Converged: true, Position: target}
}

// Close cancels the in-flight jump and waits for it to stop.
func (j *Jumper) Close() {
	j.mu.Lock()
	t := j.task
	j.task = nil
	j.mu.Unlock()
	if t != nil {
		t.Cancel()
		<-t.Done()
	}
}
