package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-chatroom/internal/dispatch"
	"go-chatroom/internal/task"
)

var (
	ErrRoomInactive    = errors.New("room inactive")
	ErrNotAllowed      = errors.New("user is not on this room's allow-list")
	ErrRoomClosed      = errors.New("room closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidRoom     = errors.New("invalid room name")
)

const (
	welcomeHistory  = 20
	providerHistory = 10
	maxDebugLogs    = 100

	botName          = "Bot"
	processingSuffix = "\n\n> ⏳ processing"
	thinkingText     = "thinking..."
	heartbeatReason  = "Heartbeat/Timeout"
)

// Debug log levels.
const (
	LevelInfo      = "INFO"
	LevelWarn      = "WARN"
	LevelError     = "ERROR"
	LevelHeartbeat = "HEARTBEAT"
)

// Sender is the room's handle on one live connection.
type Sender interface {
	// Send queues data without blocking. It reports false when the
	// connection can no longer be written to.
	Send(data []byte) bool
	// Close ends the connection with a close frame.
	Close(code int, reason string)
}

type RoomConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HistoryPage       int
	// CheckCron authorizes cron posts and system messages. Nil allows all.
	CheckCron func(secret string) bool
	Now       func() time.Time
}

func (c RoomConfig) withDefaults() RoomConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 120 * time.Second
	}
	if c.HistoryPage <= 0 {
		c.HistoryPage = 20
	}
	if c.CheckCron == nil {
		c.CheckCron = func(string) bool { return true }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type eviction struct {
	id     string
	code   int
	reason string
}

// Room is the actor owning one chat room. Every field below the channels is
// touched only by the run goroutine; callers go through exec.
type Room struct {
	name       string
	repo       *Repository
	dispatcher dispatch.Dispatcher
	cfg        RoomConfig
	logger     *slog.Logger

	ops      chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	bg       context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	initialized bool
	allowed     map[string]struct{} // nil: never provisioned, room inactive
	messages    []Message           // nil: not loaded yet
	sessions    map[string]*Session
	joinOrder   []string
	debugLogs   []DebugEntry
	evictions   []eviction
}

func newRoom(name string, repo *Repository, d dispatch.Dispatcher, cfg RoomConfig, logger *slog.Logger) *Room {
	bg, cancel := context.WithCancel(context.Background())
	return &Room{
		name:       name,
		repo:       repo,
		dispatcher: d,
		cfg:        cfg.withDefaults(),
		logger:     logger.With("room", name),
		ops:        make(chan func()),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		bg:         bg,
		cancel:     cancel,
		sessions:   make(map[string]*Session),
	}
}

func (r *Room) Name() string { return r.name }

func (r *Room) start() { go r.run() }

func (r *Room) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case op := <-r.ops:
			op()
		case <-ticker.C:
			r.sweep()
			r.flushEvictions()
		case <-r.quit:
			for _, id := range append([]string(nil), r.joinOrder...) {
				r.sessions[id].sender.Close(websocket.CloseGoingAway, "server shutting down")
			}
			return
		}
	}
}

// Stop terminates the actor and closes every live connection.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		close(r.quit)
		<-r.done
		r.inflight.Wait()
	})
}

// exec runs fn inside the actor and waits for it.
func (r *Room) exec(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	op := func() {
		err := fn()
		r.flushEvictions()
		errc <- err
	}
	select {
	case r.ops <- op:
	case <-r.quit:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// ---------------------------------------------
// Lazy state
// ---------------------------------------------

func (r *Room) ensureInit(ctx context.Context) error {
	if r.initialized {
		return nil
	}
	allowed, err := r.repo.LoadAllowed(ctx)
	if err != nil {
		return err
	}
	r.allowed = allowed
	r.initialized = true
	if allowed == nil {
		r.debugLog(LevelInfo, "no allow-list configured, room is inactive", nil)
	} else {
		r.debugLog(LevelInfo, fmt.Sprintf("allow-list loaded: %d users", len(allowed)), nil)
	}
	return nil
}

func (r *Room) ensureMessages(ctx context.Context) error {
	if r.messages != nil {
		return nil
	}
	msgs, err := r.repo.LoadMessages(ctx)
	if err != nil {
		return err
	}
	r.messages = msgs
	r.debugLog(LevelInfo, fmt.Sprintf("message history loaded: %d messages", len(msgs)), nil)
	return nil
}

// ---------------------------------------------
// Connections
// ---------------------------------------------

// Connect registers a new session for username and sends it the welcome
// frame. It fails when the room is inactive or username is not allowed.
func (r *Room) Connect(ctx context.Context, username string, s Sender) (string, error) {
	var id string
	err := r.exec(ctx, func() error {
		if err := r.ensureInit(ctx); err != nil {
			return err
		}
		if r.allowed == nil {
			return ErrRoomInactive
		}
		if _, ok := r.allowed[username]; !ok {
			return ErrNotAllowed
		}
		if err := r.ensureMessages(ctx); err != nil {
			return err
		}

		now := r.cfg.Now()
		id = uuid.NewString()
		r.sessions[id] = &Session{ID: id, Username: username, JoinedAt: now, LastSeen: now, sender: s}
		r.joinOrder = append(r.joinOrder, id)

		history, hasMore := tail(r.messages, welcomeHistory)
		welcome := encodeFrame(FrameWelcome, welcomePayload{
			Message:   fmt.Sprintf("👏 Welcome %s!", username),
			SessionID: id,
			History:   history,
			HasMore:   hasMore,
			UserCount: len(r.sessions),
		})
		if !s.Send(welcome) {
			r.evictions = append(r.evictions, eviction{id, websocket.CloseInternalServerErr, "send failed"})
		}
		r.debugLog(LevelInfo, fmt.Sprintf("accepted %s (session %s), total %d", username, id, len(r.sessions)), nil)
		r.broadcast(FrameUserJoin, presencePayload{Username: username, UserCount: len(r.sessions)}, id)
		r.broadcastUserList()
		return nil
	})
	return id, err
}

// Disconnect removes a session. Unknown sessions are ignored.
func (r *Room) Disconnect(ctx context.Context, sessionID string, code int, reason string) error {
	return r.exec(ctx, func() error {
		r.cleanup(sessionID, code, reason)
		return nil
	})
}

// cleanup is the only place a session leaves the registry.
func (r *Room) cleanup(id string, code int, reason string) {
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	for i, sid := range r.joinOrder {
		if sid == id {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}
	sess.sender.Close(code, reason)

	r.debugLog(LevelInfo, fmt.Sprintf("%s disconnected: %s (%d), total %d", sess.Username, reason, code, len(r.sessions)), nil)
	r.broadcast(FrameUserLeave, presencePayload{Username: sess.Username, UserCount: len(r.sessions)}, "")
	r.broadcastUserList()
}

func (r *Room) flushEvictions() {
	for len(r.evictions) > 0 {
		e := r.evictions[0]
		r.evictions = r.evictions[1:]
		r.cleanup(e.id, e.code, e.reason)
	}
}

// Sweep runs one heartbeat pass immediately.
func (r *Room) Sweep(ctx context.Context) error {
	return r.exec(ctx, func() error {
		r.sweep()
		return nil
	})
}

func (r *Room) sweep() {
	if len(r.sessions) == 0 {
		return
	}
	now := r.cfg.Now()
	hb := encodeFrame(FrameHeartbeat, heartbeatPayload{Timestamp: now.UnixMilli()})
	for _, id := range r.joinOrder {
		s := r.sessions[id]
		if now.Sub(s.LastSeen) > r.cfg.HeartbeatTimeout || !s.sender.Send(hb) {
			r.evictions = append(r.evictions, eviction{id, websocket.CloseInternalServerErr, heartbeatReason})
		}
	}
}

// ---------------------------------------------
// Inbound frames
// ---------------------------------------------

// HandleInbound processes one frame from a session. Failures inside the
// room are reported to the session; only an unknown session is an error.
func (r *Room) HandleInbound(ctx context.Context, sessionID string, data []byte) error {
	return r.exec(ctx, func() error {
		sess, ok := r.sessions[sessionID]
		if !ok {
			return ErrSessionNotFound
		}
		sess.LastSeen = r.cfg.Now()

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			r.debugLog(LevelError, "failed to parse frame: "+err.Error(), nil)
			return nil
		}
		if err := r.route(ctx, sess, f); err != nil {
			r.debugLog(LevelError, fmt.Sprintf("%s frame from %s failed: %v", f.Type, sess.Username, err), nil)
			if !sess.sender.Send(encodeFrame(FrameError, errorPayload{Message: err.Error()})) {
				r.evictions = append(r.evictions, eviction{sess.ID, websocket.CloseInternalServerErr, "send failed"})
			}
		}
		return nil
	})
}

func (r *Room) route(ctx context.Context, sess *Session, f Frame) error {
	switch f.Type {
	case FrameChat:
		return r.handleChat(ctx, sess, f.Payload)
	case FrameGeminiChat, FrameDeepSeekChat, FrameKimiChat:
		return r.handleProviderChat(ctx, sess, f.Type, f.Payload)
	case FrameDelete:
		return r.handleDelete(ctx, sess, f.Payload)
	case FrameHeartbeat:
		return nil
	case FrameOffer, FrameAnswer, FrameCandidate, FrameCallEnd:
		r.relay(sess, f)
		return nil
	default:
		r.debugLog(LevelWarn, "unhandled frame type: "+f.Type, nil)
		return nil
	}
}

func (r *Room) handleChat(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("invalid chat payload: %w", err)
	}
	text, _ := fields["text"].(string)
	if command, args, ok := classify(text); ok {
		return r.handleCommand(ctx, sess, strings.TrimSpace(text), command, args)
	}

	msg := r.newMessage(sess.Username, text, MessageChat)
	msg.Metadata = extraFields(fields)
	if typ, _ := fields["type"].(string); typ != "" && !reservedTypes[typ] {
		msg.Type = typ
	}
	if strings.TrimSpace(text) == "" && len(msg.Metadata) == 0 && msg.Type == MessageChat {
		return nil
	}
	return r.appendAndBroadcast(ctx, msg)
}

// Chat payload keys the room sets itself.
var reservedFields = map[string]bool{"id": true, "username": true, "timestamp": true, "text": true, "type": true}

// Message types a client may not claim.
var reservedTypes = map[string]bool{MessageSystem: true, MessageError: true}

// extraFields keeps every client field the room does not own, such as an
// image URL. A nested metadata object is flattened into the result.
func extraFields(fields map[string]any) map[string]any {
	var out map[string]any
	put := func(k string, v any) {
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	for k, v := range fields {
		if reservedFields[k] {
			continue
		}
		if nested, ok := v.(map[string]any); ok && k == "metadata" {
			for nk, nv := range nested {
				put(nk, nv)
			}
			continue
		}
		put(k, v)
	}
	return out
}

// handleCommand appends the placeholder, then delegates in the background.
func (r *Room) handleCommand(ctx context.Context, sess *Session, text, command string, args any) error {
	placeholder := r.newMessage(sess.Username, text+processingSuffix, MessageChat)
	if err := r.appendAndBroadcast(ctx, placeholder); err != nil {
		return err
	}
	r.debugLog(LevelInfo, "command received: "+command, map[string]any{"user": sess.Username, "payload": args})
	r.delegateOrFail(ctx, command, args, placeholder.ID, sess.Username)
	return nil
}

func (r *Room) handleProviderChat(ctx context.Context, sess *Session, frameType string, raw json.RawMessage) error {
	var p chatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid chat payload: %w", err)
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil
	}
	if err := r.ensureMessages(ctx); err != nil {
		return err
	}
	recent, _ := tail(r.messages, providerHistory)
	history := make([]task.ChatLine, 0, len(recent))
	for _, m := range recent {
		history = append(history, task.ChatLine{Username: m.Username, Text: m.Text})
	}

	if err := r.appendAndBroadcast(ctx, r.newMessage(sess.Username, p.Text, MessageChat)); err != nil {
		return err
	}
	placeholder := r.newMessage(providerNames[frameType], thinkingText, MessageChat)
	if err := r.appendAndBroadcast(ctx, placeholder); err != nil {
		return err
	}
	args := map[string]any{"provider": providerID(frameType), "text": p.Text, "history": history}
	r.delegateOrFail(ctx, task.CommandAIChat, args, placeholder.ID, sess.Username)
	return nil
}

func (r *Room) delegateOrFail(ctx context.Context, command string, args any, messageID, username string) {
	t, err := dispatch.NewTask(command, args, dispatch.CallbackInfo{
		RoomName:  r.name,
		MessageID: messageID,
		Username:  username,
	})
	if err != nil {
		if uerr := r.updateMessage(ctx, messageID, dispatchFailureBody(err), nil, MessageError); uerr != nil {
			r.logger.Error("failed to record delegation failure", "message_id", messageID, "error", uerr)
		}
		return
	}
	r.delegate(t)
}

// delegate hands t to the dispatcher without blocking the actor. A
// synchronous dispatch failure is written into the placeholder locally.
func (r *Room) delegate(t dispatch.Task) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		info := t.CallbackInfo
		err := r.dispatcher.Dispatch(r.bg, t)
		if err == nil {
			_ = r.exec(r.bg, func() error {
				r.debugLog(LevelInfo, "task delegated: "+t.Command, nil)
				return nil
			})
			return
		}

		r.logger.Warn("task delegation failed", "command", t.Command, "message_id", info.MessageID, "error", err)
		uerr := r.exec(r.bg, func() error {
			r.debugLog(LevelError, fmt.Sprintf("task delegation failed: %s", t.Command), map[string]any{"error": err.Error()})
			return r.updateMessage(r.bg, info.MessageID, dispatchFailureBody(err), nil, MessageError)
		})
		if uerr != nil && !errors.Is(uerr, ErrRoomClosed) && !errors.Is(uerr, context.Canceled) {
			r.logger.Error("failed to record delegation failure", "message_id", info.MessageID, "error", uerr)
		}
	}()
}

func dispatchFailureBody(err error) string {
	return fmt.Sprintf("> (❌ task delegation failed: %v)", err)
}

func (r *Room) handleDelete(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p deletePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid delete payload: %w", err)
	}
	if err := r.ensureMessages(ctx); err != nil {
		return err
	}
	i := r.indexOf(p.ID)
	if i < 0 {
		return nil
	}
	if r.messages[i].Username != sess.Username {
		r.debugLog(LevelWarn, fmt.Sprintf("%s may not delete message %s", sess.Username, p.ID), nil)
		return nil
	}

	removed := r.messages[i]
	r.messages = append(r.messages[:i], r.messages[i+1:]...)
	if err := r.repo.SaveMessages(ctx, r.messages); err != nil {
		r.messages = append(r.messages[:i], append([]Message{removed}, r.messages[i:]...)...)
		return err
	}
	r.broadcast(FrameDelete, deletePayload{ID: p.ID}, "")
	r.debugLog(LevelInfo, fmt.Sprintf("%s deleted message %s", sess.Username, p.ID), nil)
	return nil
}

// relay forwards a peer signal to the first session of payload.target.
func (r *Room) relay(from *Session, f Frame) {
	var p map[string]any
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return
	}
	target, _ := p["target"].(string)
	if target == "" {
		return
	}
	for _, id := range r.joinOrder {
		s := r.sessions[id]
		if s.Username != target {
			continue
		}
		p["from"] = from.Username
		if !s.sender.Send(encodeFrame(f.Type, p)) {
			r.evictions = append(r.evictions, eviction{id, websocket.CloseInternalServerErr, "send failed"})
		}
		return
	}
}

// ---------------------------------------------
// Log
// ---------------------------------------------

func (r *Room) newMessage(username, text, typ string) Message {
	return Message{
		ID:        uuid.NewString(),
		Username:  username,
		Timestamp: r.cfg.Now().UnixMilli(),
		Text:      text,
		Type:      typ,
	}
}

func (r *Room) appendAndBroadcast(ctx context.Context, msg Message) error {
	if err := r.ensureMessages(ctx); err != nil {
		return err
	}
	r.messages = append(r.messages, msg)
	if err := r.repo.SaveMessages(ctx, r.messages); err != nil {
		r.messages = r.messages[:len(r.messages)-1]
		return err
	}
	r.broadcast(FrameChat, msg, "")
	return nil
}

func (r *Room) indexOf(id string) int {
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// UpdateMessage rewrites one message's body, merges metadata and
// broadcasts it. An unknown ID is a no-op. A "failed" status in metadata
// marks the message as an error.
func (r *Room) UpdateMessage(ctx context.Context, messageID, body string, metadata map[string]any) error {
	typ := ""
	if status, _ := metadata["status"].(string); status == "failed" {
		typ = MessageError
	}
	return r.exec(ctx, func() error {
		return r.updateMessage(ctx, messageID, body, metadata, typ)
	})
}

func (r *Room) updateMessage(ctx context.Context, id, body string, meta map[string]any, typ string) error {
	if err := r.ensureMessages(ctx); err != nil {
		return err
	}
	i := r.indexOf(id)
	if i < 0 {
		r.debugLog(LevelWarn, "update for unknown message "+id, nil)
		return nil
	}

	prev := r.messages[i]
	prev.Metadata = maps.Clone(prev.Metadata)

	m := &r.messages[i]
	m.Text = body
	m.Timestamp = r.cfg.Now().UnixMilli()
	if len(meta) > 0 {
		if m.Metadata == nil {
			m.Metadata = make(map[string]any, len(meta))
		}
		maps.Copy(m.Metadata, meta)
	}
	if typ != "" {
		m.Type = typ
	}
	if err := r.repo.SaveMessages(ctx, r.messages); err != nil {
		r.messages[i] = prev
		return err
	}
	r.broadcast(FrameChat, *m, "")
	r.debugLog(LevelInfo, fmt.Sprintf("message %s updated", id), nil)
	return nil
}

// ---------------------------------------------
// Broadcast
// ---------------------------------------------

func (r *Room) broadcast(typ string, payload any, except string) {
	data := encodeFrame(typ, payload)
	for _, id := range r.joinOrder {
		if id == except {
			continue
		}
		s := r.sessions[id]
		if !s.sender.Send(data) {
			r.logger.Warn("broadcast failed", "session", id, "username", s.Username)
			r.evictions = append(r.evictions, eviction{id, websocket.CloseInternalServerErr, "send failed"})
		}
	}
}

func (r *Room) broadcastUserList() {
	users := make([]UserEntry, 0, len(r.joinOrder))
	for _, id := range r.joinOrder {
		users = append(users, UserEntry{ID: id, Username: r.sessions[id].Username})
	}
	r.broadcast(FrameUserList, userListPayload{Users: users, UserCount: len(users)}, "")
}

func (r *Room) debugLog(level, message string, data any) {
	entry := DebugEntry{
		ID:        uuid.NewString()[:8],
		Timestamp: r.cfg.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   message,
		Data:      data,
	}
	r.debugLogs = append(r.debugLogs, entry)
	if len(r.debugLogs) > maxDebugLogs {
		r.debugLogs = append(r.debugLogs[:0], r.debugLogs[len(r.debugLogs)-maxDebugLogs:]...)
	}

	lvl := slog.LevelDebug
	switch level {
	case LevelWarn:
		lvl = slog.LevelWarn
	case LevelError:
		lvl = slog.LevelError
	}
	r.logger.Log(context.Background(), lvl, message)

	if level != LevelHeartbeat {
		r.broadcast(FrameDebugLog, entry, "")
	}
}

func tail(msgs []Message, n int) ([]Message, bool) {
	start := max(0, len(msgs)-n)
	return append([]Message{}, msgs[start:]...), start > 0
}

// ---------------------------------------------
// Administration
// ---------------------------------------------

// AddUser allow-lists username, provisioning the allow-list if needed.
func (r *Room) AddUser(ctx context.Context, username string) error {
	return r.exec(ctx, func() error {
		if err := r.ensureInit(ctx); err != nil {
			return err
		}
		next := maps.Clone(r.allowed)
		if next == nil {
			next = make(map[string]struct{})
		}
		next[username] = struct{}{}
		if err := r.repo.SaveAllowed(ctx, next); err != nil {
			return err
		}
		r.allowed = next
		r.debugLog(LevelInfo, "allow-listed "+username, nil)
		return nil
	})
}

func (r *Room) RemoveUser(ctx context.Context, username string) error {
	return r.exec(ctx, func() error {
		if err := r.ensureInit(ctx); err != nil {
			return err
		}
		if r.allowed == nil {
			return nil
		}
		next := maps.Clone(r.allowed)
		delete(next, username)
		if err := r.repo.SaveAllowed(ctx, next); err != nil {
			return err
		}
		r.allowed = next
		r.debugLog(LevelInfo, "removed "+username+" from the allow-list", nil)
		return nil
	})
}

// AllowedUsers lists the allow-list; active is false when it was never
// provisioned.
func (r *Room) AllowedUsers(ctx context.Context) (users []string, active bool, err error) {
	err = r.exec(ctx, func() error {
		if err := r.ensureInit(ctx); err != nil {
			return err
		}
		users = sortedKeys(r.allowed)
		active = r.allowed != nil
		return nil
	})
	return users, active, err
}

// History returns up to one page of messages older than beforeID, or the
// newest page when beforeID is empty or unknown.
func (r *Room) History(ctx context.Context, beforeID string) (msgs []Message, hasMore bool, err error) {
	err = r.exec(ctx, func() error {
		if err := r.ensureMessages(ctx); err != nil {
			return err
		}
		end := len(r.messages)
		if beforeID != "" {
			if i := r.indexOf(beforeID); i >= 0 {
				end = i
			}
		}
		start := max(0, end-r.cfg.HistoryPage)
		msgs = append([]Message{}, r.messages[start:end]...)
		hasMore = start > 0
		return nil
	})
	return msgs, hasMore, err
}

func (r *Room) Status(ctx context.Context) (RoomStatus, error) {
	var st RoomStatus
	err := r.exec(ctx, func() error {
		if err := r.ensureInit(ctx); err != nil {
			return err
		}
		if err := r.ensureMessages(ctx); err != nil {
			return err
		}
		now := r.cfg.Now()
		st = RoomStatus{
			RoomName:     r.name,
			MessageCount: len(r.messages),
			UserCount:    len(r.sessions),
			HasWhitelist: r.allowed != nil,
			UserList:     sortedKeys(r.allowed),
			Sessions:     make([]SessionInfo, 0, len(r.sessions)),
		}
		for _, id := range r.joinOrder {
			s := r.sessions[id]
			st.Sessions = append(st.Sessions, SessionInfo{
				ID:       s.ID,
				Username: s.Username,
				JoinedAt: s.JoinedAt,
				LastSeen: s.LastSeen,
				State:    s.State(now, r.cfg.HeartbeatTimeout),
			})
		}
		return nil
	})
	return st, err
}

// Reset irreversibly deletes the room's persisted state, closes every
// session and returns the room to its never-provisioned state.
func (r *Room) Reset(ctx context.Context) error {
	return r.exec(ctx, func() error {
		if err := r.repo.Reset(ctx); err != nil {
			return err
		}
		for _, id := range r.joinOrder {
			r.sessions[id].sender.Close(websocket.CloseServiceRestart, "room reset")
		}
		r.sessions = make(map[string]*Session)
		r.joinOrder = nil
		r.messages = nil
		r.allowed = nil
		r.initialized = false
		r.debugLog(LevelInfo, "room reset", nil)
		return nil
	})
}

// CronPost appends a message from the bot.
func (r *Room) CronPost(ctx context.Context, text, secret string) error {
	return r.exec(ctx, func() error {
		if !r.cfg.CheckCron(secret) {
			r.debugLog(LevelError, "unauthorized cron post attempt", nil)
			return ErrUnauthorized
		}
		if err := r.ensureInit(ctx); err != nil {
			return err
		}
		return r.appendAndBroadcast(ctx, r.newMessage(botName, text, MessageSystem))
	})
}

// SystemMessage broadcasts an operator notice without touching the log.
func (r *Room) SystemMessage(ctx context.Context, p SystemPayload, secret string) error {
	return r.exec(ctx, func() error {
		if !r.cfg.CheckCron(secret) {
			return ErrUnauthorized
		}
		if err := r.ensureInit(ctx); err != nil {
			return err
		}
		level := strings.ToUpper(p.Level)
		if level == "" {
			level = LevelInfo
		}
		r.debugLog(level, "system message: "+p.Message, p.Data)
		return nil
	})
}

func (r *Room) DebugLogs(ctx context.Context) ([]DebugEntry, error) {
	var out []DebugEntry
	err := r.exec(ctx, func() error {
		out = append([]DebugEntry{}, r.debugLogs...)
		return nil
	})
	return out, err
}
