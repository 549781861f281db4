package chat

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"go-chatroom/internal/logging"
	"go-chatroom/internal/task"
)

const defaultUsername = "Anonymous"

// CallbackSecretHeader carries the shared secret of remote task processors.
const CallbackSecretHeader = "X-Callback-Secret"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the static front end on another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub            *Hub
	authGrace      time.Duration
	callbackSecret string
	logger         *slog.Logger
}

func NewHandler(hub *Hub, authGrace time.Duration, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, authGrace: authGrace, logger: logger}
}

// WithCallbackSecret makes the callback endpoint require secret in the
// CallbackSecretHeader header. An empty secret leaves it open.
func (h *Handler) WithCallbackSecret(secret string) *Handler {
	h.callbackSecret = secret
	return h
}

// Mount registers the websocket endpoint and the per-room HTTP surface.
// admin guards the administrative routes.
func (h *Handler) Mount(r chi.Router, admin func(http.Handler) http.Handler) {
	r.With(h.roomLogger).Get("/ws/{room}", h.ServeWs)

	r.Route("/api/rooms/{room}", func(r chi.Router) {
		r.Use(h.roomLogger)
		r.Post("/callback", h.Callback)
		r.Post("/cron", h.CronPost)
		r.Post("/system", h.SystemMessage)

		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Get("/users/list", h.ListUsers)
			r.Post("/users/add", h.AddUser)
			r.Post("/users/remove", h.RemoveUser)
			r.Get("/messages/history", h.History)
			r.Get("/room/status", h.Status)
			r.Post("/reset-room", h.Reset)
			r.Get("/debug/logs", h.DebugLogs)
		})
	})
}

func (h *Handler) roomLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := h.logger.With("room", chi.URLParam(r, "room"))
		next.ServeHTTP(w, r.WithContext(logging.ContextWithLogger(r.Context(), logger)))
	})
}

// ServeWs upgrades the request and admits the caller into the room. A
// rejected caller gets an auth_failed frame and, shortly after, a 1008 close.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context(), h.logger)
	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		username = defaultUsername
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := newClient(conn, logger.With("username", username))
	go client.writePump()

	sessionID, err := room.Connect(r.Context(), username, client)
	switch {
	case err == nil:
		go client.readPump(room, sessionID)
	case errors.Is(err, ErrRoomInactive), errors.Is(err, ErrNotAllowed):
		logger.Info("connection rejected", "username", username, "reason", err)
		client.Send(encodeFrame(FrameAuthFailed, errorPayload{Message: rejectReason(err)}))
		time.AfterFunc(h.authGrace, func() {
			client.Close(websocket.ClosePolicyViolation, rejectReason(err))
		})
	default:
		logger.Error("connect failed", "username", username, "error", err)
		client.Send(encodeFrame(FrameError, errorPayload{Message: "failed to join room"}))
		client.Close(websocket.CloseInternalServerErr, "failed to join room")
	}
}

func rejectReason(err error) string {
	if errors.Is(err, ErrRoomInactive) {
		return ErrRoomInactive.Error()
	}
	return "user not allowed in this room"
}

// ---------------------------------------------
// Task callback
// ---------------------------------------------

type callbackRequest struct {
	MessageID  string         `json:"messageId"`
	NewContent string         `json:"newContent"`
	Status     string         `json:"status"`
	Metadata   map[string]any `json:"metadata"`
}

// Callback applies a task result to its placeholder message.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.callbackSecret != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(CallbackSecretHeader)), []byte(h.callbackSecret)) != 1 {
		writeError(w, ErrUnauthorized)
		return
	}
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid callback: "+err.Error())
		return
	}
	if req.MessageID == "" {
		writeJSONError(w, http.StatusBadRequest, "messageId is required")
		return
	}

	meta := req.Metadata
	if meta == nil {
		meta = make(map[string]any)
	}
	body := req.NewContent
	if req.Status != "" && req.Status != "success" {
		body = task.FailureBody(req.NewContent)
		meta["status"] = "failed"
	}

	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := room.UpdateMessage(r.Context(), req.MessageID, body, meta); err != nil {
		logging.FromContext(r.Context(), h.logger).Error("callback update failed", "message_id", req.MessageID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ---------------------------------------------
// Cron and system messages
// ---------------------------------------------

type cronRequest struct {
	Text   string `json:"text"`
	Secret string `json:"secret"`
}

func (h *Handler) CronPost(w http.ResponseWriter, r *http.Request) {
	var req cronRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := room.CronPost(r.Context(), req.Text, secretOf(r, req.Secret)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type systemRequest struct {
	SystemPayload
	Secret string `json:"secret"`
}

func (h *Handler) SystemMessage(w http.ResponseWriter, r *http.Request) {
	var req systemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := room.SystemMessage(r.Context(), req.SystemPayload, secretOf(r, req.Secret)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func secretOf(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	return r.URL.Query().Get("secret")
}

// ---------------------------------------------
// Administration
// ---------------------------------------------

type userRequest struct {
	Username string `json:"username"`
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	users, active, err := room.AllowedUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "active": active})
}

func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	h.changeUser(w, r, (*Room).AddUser)
}

func (h *Handler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	h.changeUser(w, r, (*Room).RemoveUser)
}

func (h *Handler) changeUser(w http.ResponseWriter, r *http.Request, apply func(*Room, context.Context, string) error) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeJSONError(w, http.StatusBadRequest, "username is required")
		return
	}
	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := apply(room, r.Context(), username); err != nil {
		writeError(w, err)
		return
	}
	users, _, err := room.AllowedUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": users})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, hasMore, err := room.History(r.Context(), r.URL.Query().Get("beforeId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "hasMore": hasMore})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := room.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := room.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	logging.FromContext(r.Context(), h.logger).Warn("room reset")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) DebugLogs(w http.ResponseWriter, r *http.Request) {
	room, err := h.hub.Room(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := room.DebugLogs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// ---------------------------------------------
// Responses
// ---------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRoom):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrRoomInactive), errors.Is(err, ErrNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, ErrRoomClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSONError(w, status, err.Error())
}
