package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chatroom/internal/logging"
)

func TestOllamaStream(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"response":"Hello","done":false}`)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, `{"response":", world ","done":true}`)
		fmt.Fprintln(w, `{"response":"ignored","done":false}`)
	}))
	defer srv.Close()

	out, err := NewOllama(srv.URL+"/", "llama3", srv.Client()).Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", out)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "hi", got.Prompt)
	assert.True(t, got.Stream)
}

func TestOllamaErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Model {
		case "missing":
			http.Error(w, "model not found", http.StatusNotFound)
		case "broken":
			fmt.Fprintln(w, `{"error":"out of memory"}`)
		default:
			fmt.Fprintln(w, `{"response":"  ","done":true}`)
		}
	}))
	defer srv.Close()

	base := NewOllama(srv.URL, "empty", srv.Client())
	_, err := base.Generate(context.Background(), "x")
	assert.ErrorContains(t, err, "empty response")

	_, err = base.WithModel("missing").Generate(context.Background(), "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	_, err = base.WithModel("broken").Generate(context.Background(), "x")
	assert.ErrorContains(t, err, "out of memory")
}

func TestHTTPPublisher(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/toutiaopost", r.URL.Path)
		var req publishRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Title == "fail" {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":"publish failed"}`)
			return
		}
		fmt.Fprint(w, `{"id":"123"}`)
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, srv.Client())
	receipt, err := pub.Publish(context.Background(), "Title", "Body")
	require.NoError(t, err)
	assert.Equal(t, "123", receipt["id"])

	_, err = pub.Publish(context.Background(), "fail", "Body")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, 2, calls)
}

func TestHTTPNews(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"title":"Oil prices rise","url":"u1"},{"title":"Tech stocks dip","url":"u2"},{"title":"Oil output cut","url":"u3"},{"title":"Rain expected","url":"u4"}]}`)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	news := NewHTTPNews([]string{good.URL, bad.URL}, nil, logging.Discard())

	items, err := news.News(context.Background(), "oil", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Oil prices rise", items[0].Title)
	assert.Equal(t, good.URL, items[0].Source)

	items, err = news.News(context.Background(), "football", 10)
	require.NoError(t, err)
	assert.Len(t, items, fallbackNews)

	items, err = news.News(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = NewHTTPNews([]string{bad.URL}, nil, logging.Discard()).News(context.Background(), "oil", 5)
	assert.Error(t, err)
	_, err = NewHTTPNews(nil, nil, logging.Discard()).News(context.Background(), "oil", 5)
	assert.Error(t, err)
}

func TestHTTPTopics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/zhihu/hot", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"status":"success","data":[
			{"title":"Cold","hot":"10","url":"c"},
			{"title":"","hot":"999"},
			{"title":"Hot","hot":500,"url":"h","excerpt":"e"},
			{"title":"Warm","hot":"100"}
		]}`)
	}))
	defer srv.Close()

	topics, err := NewHTTPTopics(srv.URL, srv.Client()).HotTopics(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "Hot", topics[0].Title)
	assert.Equal(t, "500", topics[0].HotValue)
	assert.Equal(t, "hot", topics[0].Kind)
	assert.Equal(t, "Warm", topics[1].Title)
}
