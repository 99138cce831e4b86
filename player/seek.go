// Package player drives an embedded video player to a match: it switches
// streams, waits for playback, and keeps reissuing the seek until the
// reported position lands near the target.
package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Player is the part of a platform player the seek loop needs.
type Player interface {
	Play(ctx context.Context) error
	SeekTo(ctx context.Context, seconds float64) error
	CurrentTime(ctx context.Context) (float64, error)
}

// Loader is a Player that can switch videos.
type Loader interface {
	Player
	Load(ctx context.Context, videoID string) error
	// WaitPlaying blocks until the platform reports that playback started.
	WaitPlaying(ctx context.Context) error
}

// SeekOptions tunes the seek loop.
type SeekOptions struct {
	// Interval between position checks.
	Interval time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
	// MaxAttempts bounds the number of position checks.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" env:"MAX_ATTEMPTS"`
	// Before and After bound the acceptance window around the target.
	Before time.Duration `yaml:"before" json:"before" env:"BEFORE"`
	After  time.Duration `yaml:"after" json:"after" env:"AFTER"`
	// PlayDelay is the pause between play and seek on the same stream.
	PlayDelay time.Duration `yaml:"play_delay" json:"play_delay" env:"PLAY_DELAY"`
	// ReadyTimeout bounds the wait for a newly loaded stream to play.
	ReadyTimeout time.Duration `yaml:"ready_timeout" json:"ready_timeout" env:"READY_TIMEOUT"`
}

// DefaultSeekOptions returns the standard tuning.
func DefaultSeekOptions() SeekOptions {
	return SeekOptions{
		Interval:     600 * time.Millisecond,
		MaxAttempts:  10,
		Before:       3 * time.Second,
		After:        8 * time.Second,
		PlayDelay:    500 * time.Millisecond,
		ReadyTimeout: 15 * time.Second,
	}
}

// Validate checks the options.
func (o SeekOptions) Validate() error {
	if o.Interval <= 0 {
		return fmt.Errorf("seek.interval must be positive, got %v", o.Interval)
	}
	if o.MaxAttempts <= 0 {
		return fmt.Errorf("seek.max_attempts must be positive, got %d", o.MaxAttempts)
	}
	if o.Before < 0 || o.After < 0 {
		return fmt.Errorf("seek window must not be negative")
	}
	if o.PlayDelay < 0 || o.ReadyTimeout < 0 {
		return fmt.Errorf("seek delays must not be negative")
	}
	return nil
}

func (o SeekOptions) accepts(pos, target float64) bool {
	return pos >= target-o.Before.Seconds() && pos <= target+o.After.Seconds()
}

// SeekResult reports how a seek task ended.
type SeekResult struct {
	// Converged is true once the position was seen inside the window, or,
	// for a single same-stream seek, once the seek was issued.
	Converged bool
	// Attempts is the number of position checks made.
	Attempts int
	// Position is the last observed position in seconds.
	Position float64
	Canceled bool
	// Err is a load or play failure. Running out of attempts is not an error.
	Err error
}

// SeekTask is a running seek. It owns its timer; Cancel stops it.
type SeekTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	result SeekResult
}

func startTask(ctx context.Context, run func(ctx context.Context) SeekResult) *SeekTask {
	ctx, cancel := context.WithCancel(ctx)
	t := &SeekTask{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		res := run(ctx)
		if ctx.Err() != nil && !res.Converged {
			res.Canceled = true
			if errors.Is(res.Err, context.Canceled) {
				res.Err = nil
			}
		}
		t.result = res
	}()
	return t
}

// Cancel stops the task. It is safe to call more than once.
func (t *SeekTask) Cancel() { t.cancel() }

// Done is closed when the task has finished.
func (t *SeekTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes and returns its result.
func (t *SeekTask) Wait() SeekResult {
	<-t.done
	return t.result
}

// StartSeek seeks p to target seconds and keeps checking the position every
// Interval, reissuing the seek until it lands within the window or
// MaxAttempts checks have been made. Failed seeks are logged at debug and
// retried on the next tick.
func StartSeek(ctx context.Context, p Player, target float64, opts SeekOptions, log logrus.FieldLogger) *SeekTask {
	if target < 0 {
		target = 0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return startTask(ctx, func(ctx context.Context) SeekResult {
		return converge(ctx, p, target, opts, log)
	})
}

func converge(ctx context.Context, p Player, target float64, opts SeekOptions, log logrus.FieldLogger) SeekResult {
	var res SeekResult
	seek := func() {
		if err := p.SeekTo(ctx, target); err != nil && ctx.Err() == nil {
			log.WithError(err).WithFields(logrus.Fields{"target": target, "attempt": res.Attempts}).
				Debug("seek failed")
		}
	}
	seek()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for res.Attempts < opts.MaxAttempts {
		select {
		case <-ctx.Done():
			return res
		case <-ticker.C:
		}
		res.Attempts++

		pos, err := p.CurrentTime(ctx)
		if err == nil {
			res.Position = pos
			if opts.accepts(pos, target) {
				res.Converged = true
				return res
			}
		}
		seek()
	}
	return res
}
