package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"matchjumper/youtube"
)

// ErrPlayerClosed is returned once the connection to the player is gone.
var ErrPlayerClosed = errors.New("player: connection closed")

// CommandError is a command the player rejected.
type CommandError struct {
	Command string
	Reason  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("player: %s: %s", e.Command, e.Reason)
}

type mpvRequest struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type mpvMessage struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int64           `json:"request_id"`
	Event     string          `json:"event"`
}

// MPV drives an mpv process over its JSON IPC socket, as started with
//
//	mpv --idle --input-ipc-server=/tmp/matchjumper.sock
//
// mpv plays YouTube URLs through its yt-dlp hook.
type MPV struct {
	conn net.Conn
	log  logrus.FieldLogger

	// URL turns a video id into something mpv can open.
	URL func(videoID string) string
	// PollInterval paces WaitPlaying.
	PollInterval time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan mpvMessage
	closed  chan struct{}
	err     error
}

// DialMPV connects to the IPC socket of a running mpv.
func DialMPV(ctx context.Context, socket string, log logrus.FieldLogger) (*MPV, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial mpv at %s: %w", socket, err)
	}
	return NewMPV(conn, log), nil
}

// NewMPV speaks the mpv IPC protocol over conn.
func NewMPV(conn net.Conn, log logrus.FieldLogger) *MPV {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &MPV{
		conn:         conn,
		log:          log.WithField("component", "mpv"),
		URL:          youtube.WatchURL,
		PollInterval: 250 * time.Millisecond,
		pending:      make(map[int64]chan mpvMessage),
		closed:       make(chan struct{}),
	}
	go m.readLoop()
	return m
}

func (m *MPV) readLoop() {
	dec := json.NewDecoder(bufio.NewReader(m.conn))
	for {
		var msg mpvMessage
		if err := dec.Decode(&msg); err != nil {
			m.fail(err)
			return
		}
		if msg.Event != "" {
			m.log.WithField("event", msg.Event).Trace("mpv event")
			continue
		}
		m.mu.Lock()
		ch := m.pending[msg.RequestID]
		delete(m.pending, msg.RequestID)
		m.mu.Unlock()
		if ch != nil {
			ch <- msg
		}
	}
}

func (m *MPV) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		m.err = fmt.Errorf("%w: %v", ErrPlayerClosed, err)
		close(m.closed)
	}
}

func (m *MPV) forget(id int64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// write sends one line. A deadline from an earlier command never carries over.
func (m *MPV) write(ctx context.Context, line []byte) error {
	deadline, _ := ctx.Deadline()
	if err := m.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := m.conn.Write(line)
	return err
}

func (m *MPV) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	name := fmt.Sprint(args[0])

	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	m.nextID++
	id := m.nextID
	ch := make(chan mpvMessage, 1)
	m.pending[id] = ch
	m.mu.Unlock()

	line, err := json.Marshal(mpvRequest{Command: args, RequestID: id})
	if err != nil {
		m.forget(id)
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	line = append(line, '\n')

	m.writeMu.Lock()
	err = m.write(ctx, line)
	m.writeMu.Unlock()
	if err != nil {
		m.forget(id)
		return nil, fmt.Errorf("send %s: %w", name, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != "" && msg.Error != "success" {
			return nil, &CommandError{Command: name, Reason: msg.Error}
		}
		return msg.Data, nil
	case <-m.closed:
		return nil, m.err
	case <-ctx.Done():
		m.forget(id)
		return nil, ctx.Err()
	}
}

// Load replaces the current file with the video.
func (m *MPV) Load(ctx context.Context, videoID string) error {
	_, err := m.command(ctx, "loadfile", m.URL(videoID), "replace")
	return err
}

// Play unpauses.
func (m *MPV) Play(ctx context.Context) error {
	_, err := m.command(ctx, "set_property", "pause", false)
	return err
}

// SeekTo jumps to an absolute position.
func (m *MPV) SeekTo(ctx context.Context, seconds float64) error {
	_, err := m.command(ctx, "seek", seconds, "absolute")
	return err
}

// CurrentTime reports the playback position. It fails while nothing plays.
func (m *MPV) CurrentTime(ctx context.Context) (float64, error) {
	data, err := m.command(ctx, "get_property", "time-pos")
	if err != nil {
		return 0, err
	}
	var pos float64
	if err := json.Unmarshal(data, &pos); err != nil {
		return 0, fmt.Errorf("decode time-pos: %w", err)
	}
	return pos, nil
}

// WaitPlaying polls until mpv reports a playback position.
func (m *MPV) WaitPlaying(ctx context.Context) error {
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()
	for {
		_, err := m.CurrentTime(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPlayerClosed) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close drops the connection. mpv keeps running.
func (m *MPV) Close() error {
	return m.conn.Close()
}
