package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chatroom/internal/logging"
)

func passthrough(next http.Handler) http.Handler { return next }

func newTestServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(f.hub, 10*time.Millisecond, logging.Discard()).Mount(r, passthrough)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, room, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + room + "?username=" + username
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the next frame of type typ, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var fr Frame
		require.NoError(t, conn.ReadJSON(&fr))
		if fr.Type == typ {
			return fr
		}
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebsocketSession(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	require.NoError(t, f.room.AddUser(context.Background(), "alice"))

	alice := dial(t, srv, roomName, "alice")
	welcome := decodeAs[welcomePayload](t, readUntil(t, alice, FrameWelcome))
	assert.Equal(t, 1, welcome.UserCount)
	assert.Empty(t, welcome.History)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, frameBytes(FrameChat, chatPayload{Text: "/headline hi"})))
	placeholder := decodeAs[Message](t, readUntil(t, alice, FrameChat))
	assert.True(t, strings.HasSuffix(placeholder.Text, "processing"))
	assert.Equal(t, placeholder.ID, f.disp.next(t).CallbackInfo.MessageID)

	resp := postJSON(t, srv.URL+"/api/rooms/"+roomName+"/callback", callbackRequest{
		MessageID:  placeholder.ID,
		NewContent: "# Title\n\nbody",
		Status:     "success",
		Metadata:   map[string]any{"title": "Title"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeAs[Message](t, readUntil(t, alice, FrameChat))
	assert.Equal(t, placeholder.ID, updated.ID)
	assert.Equal(t, "# Title\n\nbody", updated.Text)
}

func TestWebsocketRejectsInactiveRoom(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)

	bob := dial(t, srv, roomName, "bob")
	failed := decodeAs[errorPayload](t, readUntil(t, bob, FrameAuthFailed))
	assert.Equal(t, "room inactive", failed.Message)

	var fr Frame
	err := bob.ReadJSON(&fr)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestWebsocketRejectsUnlistedUser(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	require.NoError(t, f.room.AddUser(context.Background(), "alice"))

	mallory := dial(t, srv, roomName, "mallory")
	failed := decodeAs[errorPayload](t, readUntil(t, mallory, FrameAuthFailed))
	assert.Equal(t, "user not allowed in this room", failed.Message)
}

func TestWebsocketDisconnectBroadcastsLeave(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	ctx := context.Background()
	require.NoError(t, f.room.AddUser(ctx, "alice"))
	require.NoError(t, f.room.AddUser(ctx, "bob"))

	alice := dial(t, srv, roomName, "alice")
	readUntil(t, alice, FrameWelcome)
	bob := dial(t, srv, roomName, "bob")
	readUntil(t, bob, FrameWelcome)
	readUntil(t, alice, FrameUserJoin)

	require.NoError(t, bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	left := decodeAs[presencePayload](t, readUntil(t, alice, FrameUserLeave))
	assert.Equal(t, presencePayload{Username: "bob", UserCount: 1}, left)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	base := srv.URL + "/api/rooms/" + roomName

	resp := postJSON(t, base+"/users/add", userRequest{Username: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var added struct {
		Users []string `json:"users"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&added))
	assert.Equal(t, []string{"alice"}, added.Users)

	resp = postJSON(t, base+"/users/add", userRequest{Username: " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, base+"/cron", cronRequest{Text: "good morning"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hist, err := http.Get(base + "/messages/history")
	require.NoError(t, err)
	defer hist.Body.Close()
	var page struct {
		Messages []Message `json:"messages"`
		HasMore  bool      `json:"hasMore"`
	}
	require.NoError(t, json.NewDecoder(hist.Body).Decode(&page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "good morning", page.Messages[0].Text)
	assert.False(t, page.HasMore)

	status, err := http.Get(base + "/room/status")
	require.NoError(t, err)
	defer status.Body.Close()
	var st RoomStatus
	require.NoError(t, json.NewDecoder(status.Body).Decode(&st))
	assert.Equal(t, RoomStatus{RoomName: roomName, MessageCount: 1, HasWhitelist: true, UserList: []string{"alice"}, Sessions: []SessionInfo{}}, st)

	resp = postJSON(t, base+"/reset-room", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users, active, err := f.room.AllowedUsers(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
	assert.Empty(t, users)

	bad, err := http.Get(srv.URL + "/api/rooms/bad%20name/room/status")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestCallbackClientRoundTrip(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	id, alice := f.join(t, "alice")
	f.send(t, id, FrameChat, chatPayload{Text: "/zhihu-hot"})
	placeholder := decodeAs[Message](t, alice.expect(t, FrameChat))

	cb := NewCallbackClient(srv.URL+"/", srv.Client())
	require.NoError(t, cb.UpdateMessage(context.Background(), roomName, placeholder.ID, "> (❌ task failed: boom)", map[string]any{"status": "failed"}))

	updated := decodeAs[Message](t, alice.expect(t, FrameChat))
	assert.Equal(t, "> (❌ task failed: boom)", updated.Text)
	assert.Equal(t, MessageError, updated.Type)

	err := cb.UpdateMessage(context.Background(), "bad name", "x", "y", nil)
	assert.ErrorContains(t, err, "400")
}

func TestCallbackSecret(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(f.hub, 10*time.Millisecond, logging.Discard()).WithCallbackSecret("shh").Mount(r, passthrough)
	srv := httptest.NewServer(r)
	defer srv.Close()

	id, alice := f.join(t, "alice")
	f.send(t, id, FrameChat, chatPayload{Text: "/zhihu-hot"})
	placeholder := decodeAs[Message](t, alice.expect(t, FrameChat))

	resp := postJSON(t, srv.URL+"/api/rooms/"+roomName+"/callback", callbackRequest{
		MessageID:  placeholder.ID,
		NewContent: "forged",
		Status:     "success",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	err := NewCallbackClient(srv.URL, srv.Client()).WithSecret("wrong").
		UpdateMessage(context.Background(), roomName, placeholder.ID, "forged", nil)
	assert.ErrorContains(t, err, "401")

	require.NoError(t, NewCallbackClient(srv.URL, srv.Client()).WithSecret("shh").
		UpdateMessage(context.Background(), roomName, placeholder.ID, "1. topic", map[string]any{"status": "success"}))
	updated := decodeAs[Message](t, alice.expect(t, FrameChat))
	assert.Equal(t, "1. topic", updated.Text)

	msgs, _, err := f.room.History(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1. topic", msgs[0].Text)
}

func TestCallbackFailureStatusRendersFailureBody(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	id, alice := f.join(t, "alice")
	f.send(t, id, FrameChat, chatPayload{Text: "hello"})
	msg := decodeAs[Message](t, alice.expect(t, FrameChat))

	resp := postJSON(t, srv.URL+"/api/rooms/"+roomName+"/callback", callbackRequest{
		MessageID:  msg.ID,
		NewContent: "generator offline",
		Status:     "error",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeAs[Message](t, alice.expect(t, FrameChat))
	assert.Equal(t, "> (❌ task failed: generator offline)", updated.Text)
	assert.Equal(t, MessageError, updated.Type)
	assert.Equal(t, "failed", updated.Metadata["status"])
}
