package chat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-chatroom/internal/dispatch"
	"go-chatroom/internal/logging"
	"go-chatroom/internal/store"
)

const roomName = "general"

// fakeSender records every frame a room sends to one session.
type fakeSender struct {
	frames chan Frame
	dead   atomic.Bool

	once   sync.Once
	closed chan struct{}
	code   int
	reason string
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(chan Frame, 512), closed: make(chan struct{})}
}

func (f *fakeSender) Send(data []byte) bool {
	if f.dead.Load() {
		return false
	}
	var fr Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return false
	}
	select {
	case f.frames <- fr:
	default:
	}
	return true
}

func (f *fakeSender) Close(code int, reason string) {
	f.once.Do(func() {
		f.code, f.reason = code, reason
		close(f.closed)
	})
}

func (f *fakeSender) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// expect returns the next frame of type typ, skipping frames of other types.
func (f *fakeSender) expect(t *testing.T, typ string) Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case fr := <-f.frames:
			if fr.Type == typ {
				return fr
			}
		case <-timeout:
			t.Fatalf("timed out waiting for a %s frame", typ)
			return Frame{}
		}
	}
}

// pending drains and returns every frame already delivered.
func (f *fakeSender) pending() []Frame {
	var out []Frame
	for {
		select {
		case fr := <-f.frames:
			out = append(out, fr)
		default:
			return out
		}
	}
}

func decodeAs[T any](t *testing.T, fr Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(fr.Payload, &v))
	return v
}

func frameBytes(typ string, payload any) []byte {
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(Frame{Type: typ, Payload: raw})
	return data
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingDispatcher captures dispatched tasks, or fails every dispatch
// when err is set.
type recordingDispatcher struct {
	tasks chan dispatch.Task
	err   error
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{tasks: make(chan dispatch.Task, 16)}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, t dispatch.Task) error {
	if d.err != nil {
		return d.err
	}
	d.tasks <- t
	return nil
}

func (d *recordingDispatcher) next(t *testing.T) dispatch.Task {
	t.Helper()
	select {
	case task := <-d.tasks:
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dispatched task")
		return dispatch.Task{}
	}
}

type fixture struct {
	backend store.Backend
	hub     *Hub
	room    *Room
	clock   *testClock
	disp    *recordingDispatcher
}

func newFixture(t *testing.T, mutate ...func(*RoomConfig)) *fixture {
	t.Helper()
	f := &fixture{
		backend: store.NewMemoryBackend(),
		clock:   newTestClock(),
		disp:    newRecordingDispatcher(),
	}
	cfg := RoomConfig{HeartbeatInterval: time.Hour, Now: f.clock.Now}
	for _, m := range mutate {
		m(&cfg)
	}
	f.hub = NewHub(f.backend, f.disp, cfg, logging.Discard())
	t.Cleanup(f.hub.Shutdown)

	room, err := f.hub.Room(context.Background(), roomName)
	require.NoError(t, err)
	f.room = room
	return f
}

// join allow-lists username and connects a fake session for it.
func (f *fixture) join(t *testing.T, username string) (string, *fakeSender) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.room.AddUser(ctx, username))
	s := newFakeSender()
	id, err := f.room.Connect(ctx, username, s)
	require.NoError(t, err)
	return id, s
}

func (f *fixture) send(t *testing.T, sessionID, typ string, payload any) {
	t.Helper()
	require.NoError(t, f.room.HandleInbound(context.Background(), sessionID, frameBytes(typ, payload)))
}
