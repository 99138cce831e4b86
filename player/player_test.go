package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakePlayer ignores the first `ignore` seeks, as an embed that is still
// buffering does.
type fakePlayer struct {
	mu      sync.Mutex
	pos     float64
	ignore  int
	calls   []string
	loadErr error
	loaded  string
	seekErr error
	// block makes WaitPlaying wait for ctx.
	block bool
	// Load(holdID) signals loading, then waits for release regardless of
	// ctx, like a command already on the wire.
	holdID  string
	loading chan struct{}
	release chan struct{}
}

func (f *fakePlayer) record(s string) {
	f.calls = append(f.calls, s)
}

func (f *fakePlayer) Load(ctx context.Context, id string) error {
	f.mu.Lock()
	hold := f.holdID != "" && id == f.holdID
	f.mu.Unlock()
	if hold {
		f.loading <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("load:" + id)
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = id
	f.pos = 0
	return nil
}

func (f *fakePlayer) loadedID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *fakePlayer) Play(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("play")
	return nil
}

func (f *fakePlayer) WaitPlaying(ctx context.Context) error {
	f.mu.Lock()
	f.record("wait")
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakePlayer) SeekTo(ctx context.Context, s float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("seek")
	if f.seekErr != nil {
		return f.seekErr
	}
	if f.ignore > 0 {
		f.ignore--
		return nil
	}
	f.pos = s
	return nil
}

func (f *fakePlayer) CurrentTime(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}

func (f *fakePlayer) trace() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.calls, ",")
}

func (f *fakePlayer) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func fastOpts() SeekOptions {
	o := DefaultSeekOptions()
	o.Interval = time.Millisecond
	o.PlayDelay = time.Millisecond
	o.ReadyTimeout = 50 * time.Millisecond
	return o
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SeekOptions)
		ok     bool
	}{
		{"defaults", func(*SeekOptions) {}, true},
		{"zero attempts", func(o *SeekOptions) { o.MaxAttempts = 0 }, false},
		{"zero interval", func(o *SeekOptions) { o.Interval = 0 }, false},
		{"negative window", func(o *SeekOptions) { o.Before = -time.Second }, false},
		{"negative delay", func(o *SeekOptions) { o.PlayDelay = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultSeekOptions()
			tt.mutate(&o)
			if err := o.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, ok want %v", err, tt.ok)
			}
		})
	}
}

func TestAcceptanceWindow(t *testing.T) {
	o := DefaultSeekOptions()
	tests := []struct {
		pos  float64
		want bool
	}{
		{100, true},
		{97, true},
		{96.9, false},
		{108, true},
		{108.1, false},
	}
	for _, tt := range tests {
		if got := o.accepts(tt.pos, 100); got != tt.want {
			t.Errorf("accepts(%v) = %v, want %v", tt.pos, got, tt.want)
		}
	}
}

func TestStartSeekConvergesAfterReissue(t *testing.T) {
	p := &fakePlayer{ignore: 2}
	res := StartSeek(context.Background(), p, 120, fastOpts(), nil).Wait()

	if !res.Converged || res.Position != 120 {
		t.Fatalf("result = %+v", res)
	}
	// initial seek plus one reissue are swallowed; the third lands
	if got := p.count("seek"); got != 3 {
		t.Errorf("seeks = %d, want 3", got)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestStartSeekGivesUpSilently(t *testing.T) {
	p := &fakePlayer{ignore: 1000}
	opts := fastOpts()
	opts.MaxAttempts = 4

	res := StartSeek(context.Background(), p, 500, opts, nil).Wait()
	if res.Converged || res.Canceled || res.Err != nil {
		t.Errorf("result = %+v", res)
	}
	if res.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", res.Attempts)
	}
	if got := p.count("seek"); got != 5 {
		t.Errorf("seeks = %d, want 5", got)
	}
}

func TestStartSeekNegativeTargetClamped(t *testing.T) {
	p := &fakePlayer{pos: 50}
	res := StartSeek(context.Background(), p, -20, fastOpts(), nil).Wait()
	if !res.Converged || res.Position != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestStartSeekLogsFailedSeeks(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	opts := fastOpts()
	opts.MaxAttempts = 2
	p := &fakePlayer{seekErr: errors.New("socket gone")}

	res := StartSeek(context.Background(), p, 60, opts, log).Wait()
	if res.Converged || res.Canceled {
		t.Fatalf("result = %+v", res)
	}
	if got := len(hook.AllEntries()); got != 3 {
		t.Fatalf("logged %d entries, want one per seek (3)", got)
	}
	e := hook.LastEntry()
	if e.Level != logrus.DebugLevel || e.Message != "seek failed" || e.Data["attempt"] != 2 {
		t.Errorf("entry = %v %q %v", e.Level, e.Message, e.Data)
	}
}

func TestSeekTaskCancel(t *testing.T) {
	p := &fakePlayer{ignore: 1000}
	opts := fastOpts()
	opts.Interval = time.Hour

	task := StartSeek(context.Background(), p, 10, opts, nil)
	task.Cancel()
	task.Cancel()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop")
	}
	if res := task.Wait(); !res.Canceled || res.Attempts != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestJumperSwitchesStream(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &fakePlayer{}
	j := NewJumper(p, fastOpts(), log)
	defer j.Close()

	res := j.Jump(context.Background(), "abcdefghijk", 300).Wait()
	if !res.Converged {
		t.Fatalf("result = %+v", res)
	}
	if j.Current() != "abcdefghijk" {
		t.Errorf("current = %q", j.Current())
	}
	if got := p.trace(); !strings.HasPrefix(got, "load:abcdefghijk,play,wait,seek") {
		t.Errorf("calls = %s", got)
	}
}

func TestJumperSameStreamPlaysThenSeeksOnce(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &fakePlayer{}
	j := NewJumper(p, fastOpts(), log)
	defer j.Close()

	j.Jump(context.Background(), "abcdefghijk", 10).Wait()
	before := p.count("seek")

	res := j.Jump(context.Background(), "abcdefghijk", 900).Wait()
	if !res.Converged || res.Position != 900 {
		t.Fatalf("result = %+v", res)
	}
	if p.count("load:abcdefghijk") != 1 {
		t.Error("same stream was reloaded")
	}
	if got := p.count("seek") - before; got != 1 {
		t.Errorf("same-stream seeks = %d, want 1", got)
	}
	trace := p.trace()
	if !strings.HasSuffix(trace, "play,seek") {
		t.Errorf("play must precede seek: %s", trace)
	}
}

func TestJumperSupersedesInFlightJump(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &fakePlayer{ignore: 1000}
	opts := fastOpts()
	opts.Interval = time.Hour
	j := NewJumper(p, opts, log)
	defer j.Close()

	first := j.Jump(context.Background(), "aaaaaaaaaaa", 10)
	second := j.Jump(context.Background(), "bbbbbbbbbbb", 20)

	if res := first.Wait(); !res.Canceled {
		t.Errorf("first = %+v, want canceled", res)
	}
	second.Cancel()
	second.Wait()
}

func TestJumperInterruptedSwitchReloads(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &fakePlayer{
		holdID:  "aaaaaaaaaaa",
		loading: make(chan struct{}),
		release: make(chan struct{}),
	}
	j := NewJumper(p, fastOpts(), log)
	defer j.Close()

	if res := j.Jump(context.Background(), "bbbbbbbbbbb", 10).Wait(); !res.Converged {
		t.Fatalf("first jump = %+v", res)
	}

	toA := j.Jump(context.Background(), "aaaaaaaaaaa", 20)
	<-p.loading
	backToB := j.Jump(context.Background(), "bbbbbbbbbbb", 30)
	close(p.release)

	if res := toA.Wait(); !res.Canceled {
		t.Errorf("superseded jump = %+v, want canceled", res)
	}
	res := backToB.Wait()
	if !res.Converged || res.Position != 30 {
		t.Fatalf("jump back = %+v", res)
	}
	if got := p.loadedID(); got != "bbbbbbbbbbb" {
		t.Errorf("player shows %q after jumping back", got)
	}
	if j.Current() != "bbbbbbbbbbb" {
		t.Errorf("current = %q", j.Current())
	}
	if p.count("load:bbbbbbbbbbb") != 2 {
		t.Errorf("calls = %s, want B reloaded", p.trace())
	}
}

func TestJumperWaitPlayingTimeoutStillSeeks(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &fakePlayer{block: true}
	opts := fastOpts()
	opts.ReadyTimeout = 5 * time.Millisecond
	j := NewJumper(p, opts, log)
	defer j.Close()

	res := j.Jump(context.Background(), "abcdefghijk", 42).Wait()
	if !res.Converged || res.Position != 42 {
		t.Errorf("result = %+v", res)
	}
}

func TestJumperLoadFailure(t *testing.T) {
	log, _ := test.NewNullLogger()
	boom := errors.New("embed refused")
	p := &fakePlayer{loadErr: boom}
	j := NewJumper(p, fastOpts(), log)
	defer j.Close()

	res := j.Jump(context.Background(), "abcdefghijk", 1).Wait()
	if !errors.Is(res.Err, boom) {
		t.Errorf("err = %v", res.Err)
	}
	if j.Current() != "" {
		t.Errorf("current = %q after failed load", j.Current())
	}
}
