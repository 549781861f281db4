package chat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"go-chatroom/internal/dispatch"
	"go-chatroom/internal/store"
	"go-chatroom/internal/task"
)

var roomNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidRoomName reports whether name can address a room.
func ValidRoomName(name string) error {
	if !roomNameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, name)
	}
	return nil
}

// Hub is the registry of live room actors. Rooms start on first use and
// run until Shutdown.
type Hub struct {
	backend    store.Backend
	dispatcher dispatch.Dispatcher
	cfg        RoomConfig
	logger     *slog.Logger

	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool
	group  singleflight.Group
}

var _ task.Callback = (*Hub)(nil)

func NewHub(backend store.Backend, d dispatch.Dispatcher, cfg RoomConfig, logger *slog.Logger) *Hub {
	return &Hub{
		backend:    backend,
		dispatcher: d,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		rooms:      make(map[string]*Room),
	}
}

// Room returns the actor for name, starting and initializing it if this is
// the first reference. Concurrent first references share one initialization.
func (h *Hub) Room(ctx context.Context, name string) (*Room, error) {
	if err := ValidRoomName(name); err != nil {
		return nil, err
	}
	h.mu.RLock()
	r, ok := h.rooms[name]
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return nil, ErrRoomClosed
	}
	if ok {
		return r, nil
	}

	v, err, _ := h.group.Do(name, func() (any, error) {
		h.mu.RLock()
		existing, ok := h.rooms[name]
		h.mu.RUnlock()
		if ok {
			return existing, nil
		}

		room := newRoom(name, NewRepository(h.backend.Namespace("room:"+name)), h.dispatcher, h.cfg, h.logger)
		room.start()
		if err := room.exec(ctx, func() error { return room.ensureInit(ctx) }); err != nil {
			room.Stop()
			return nil, fmt.Errorf("initialize room %s: %w", name, err)
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			room.Stop()
			return nil, ErrRoomClosed
		}
		h.rooms[name] = room
		h.logger.Info("room started", "room", name)
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Lookup returns a running room without starting one.
func (h *Hub) Lookup(name string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	return r, ok
}

func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateMessage routes a task callback to its room.
func (h *Hub) UpdateMessage(ctx context.Context, roomName, messageID, body string, metadata map[string]any) error {
	r, err := h.Room(ctx, roomName)
	if err != nil {
		return err
	}
	return r.UpdateMessage(ctx, messageID, body, metadata)
}

// Shutdown stops every room. Later lookups fail with ErrRoomClosed.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range rooms {
		wg.Add(1)
		go func(r *Room) {
			defer wg.Done()
			r.Stop()
		}(r)
	}
	wg.Wait()
	h.logger.Info("all rooms stopped", "count", len(rooms))
}
