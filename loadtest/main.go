package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	baseURL   = flag.String("url", "http://localhost:8080", "chat server base URL")
	roomName  = flag.String("room", "loadtest", "room to flood")
	userCount = flag.Int("users", 50, "concurrent users")
	msgCount  = flag.Int("msgs", 20, "messages per user")
	secret    = flag.String("secret", "", "admin secret used to allow-list the users")
	settle    = flag.Duration("settle", 3*time.Second, "time to keep reading after the last send")
)

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func main() {
	flag.Parse()
	log.Printf("🔥 STARTING STRESS TEST: %d users, %d messages each, room %q", *userCount, *msgCount, *roomName)

	token, err := login()
	if err != nil {
		log.Fatalf("❌ Login Failed: %v", err)
	}

	users := make([]string, *userCount)
	for i := range users {
		users[i] = fmt.Sprintf("u_%d", i)
		if err := allow(token, users[i]); err != nil {
			log.Fatalf("❌ Allow-list Failed [%s]: %v", users[i], err)
		}
	}

	var received atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for _, u := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			spamChat(user, &received)
		}(u)
	}
	wg.Wait()

	sent := int64(*userCount * *msgCount)
	want := sent * int64(*userCount)
	log.Printf("✅ LOAD TEST COMPLETE in %s: sent %d, received %d of %d chat frames",
		time.Since(start).Round(time.Millisecond), sent, received.Load(), want)
}

func login() (string, error) {
	resp, err := postJSON("/api/admin/login", "", map[string]string{"secret": *secret})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var data loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	return data.AccessToken, nil
}

func allow(token, username string) error {
	path := "/api/rooms/" + url.PathEscape(*roomName) + "/users/add"
	resp, err := postJSON(path, token, map[string]string{"username": username})
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func spamChat(user string, received *atomic.Int64) {
	wsURL := strings.Replace(*baseURL, "http", "ws", 1) +
		"/ws/" + url.PathEscape(*roomName) + "?username=" + url.QueryEscape(user)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == "chat" {
				received.Add(1)
			}
		}
	}()

	for i := 0; i < *msgCount; i++ {
		msg := map[string]any{
			"type":    "chat",
			"payload": map[string]string{"text": fmt.Sprintf("LoadTest Msg %d from %s", i, user)},
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", user, err)
			break
		}
		// Small sleep to simulate a real network
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", user, *msgCount)

	time.Sleep(*settle)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	<-done
}

func postJSON(endpoint, token string, data any) (*http.Response, error) {
	body, _ := json.Marshal(data)
	req, err := http.NewRequest(http.MethodPost, *baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
