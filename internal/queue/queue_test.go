package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chatroom/internal/logging"
	"go-chatroom/internal/store"
	"go-chatroom/internal/task"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

// countingExecutor counts executions per job id and fails jobs whose
// payload text is "fail".
type countingExecutor struct {
	mu   sync.Mutex
	runs map[string]int
}

func (e *countingExecutor) Execute(_ context.Context, _ store.Store, job task.Job) (task.Output, error) {
	e.mu.Lock()
	if e.runs == nil {
		e.runs = make(map[string]int)
	}
	e.runs[job.ID]++
	e.mu.Unlock()

	var p struct {
		Text string `json:"text"`
	}
	if err := job.Decode(&p); err != nil {
		return task.Output{}, err
	}
	if p.Text == "fail" {
		return task.Output{}, errors.New("boom")
	}
	return task.Output{Content: "done: " + p.Text}, nil
}

func (e *countingExecutor) counts() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.runs))
	for k, v := range e.runs {
		out[k] = v
	}
	return out
}

type env struct {
	manager *Manager
	service *task.Service
	exec    *countingExecutor
	clock   *testClock
}

func newEnv(t *testing.T, backend store.Backend, opts ...Option) *env {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	exec := &countingExecutor{}
	svc := task.NewService("article", map[string]task.Executor{task.CommandArticle: exec},
		backend.Namespace("task:article"), logging.Discard(), task.WithClock(clock.Now))
	m := NewManager(svc, backend.Namespace("queue:article"), logging.Discard(), append([]Option{WithClock(clock.Now)}, opts...)...)
	t.Cleanup(m.Stop)
	return &env{manager: m, service: svc, exec: exec, clock: clock}
}

func article(text string) QueuedTask {
	raw, _ := json.Marshal(map[string]string{"text": text})
	return QueuedTask{Command: task.CommandArticle, Payload: raw, Username: "cron"}
}

func TestEnqueueAndDrain(t *testing.T) {
	e := newEnv(t, store.NewMemoryBackend())
	ctx := context.Background()

	for i, text := range []string{"a", "fail", "c"} {
		n, err := e.manager.Enqueue(ctx, article(text))
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
	}

	st, err := e.manager.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.QueueLength)
	require.Len(t, st.Recent, 3)
	assert.Equal(t, statusPending, st.Recent[0].Status)
	assert.True(t, e.clock.Now().Equal(st.Recent[0].EnqueuedAt))

	results, err := e.manager.DrainAndProcess(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.Equal(t, "done: a", results[0].Content)
	assert.False(t, results[1].Success)
	assert.Equal(t, "boom", results[1].Error)

	again, err := e.manager.DrainAndProcess(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	stats, err := e.service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalTasks)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)

	res, found, err := e.manager.Result(ctx, results[2].TaskID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "done: c", res.Content)

	_, found, err = e.manager.Result(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEnqueueRejectsUnknownCommand(t *testing.T) {
	e := newEnv(t, store.NewMemoryBackend())
	_, err := e.manager.Enqueue(context.Background(), QueuedTask{Command: "zhihu_hot"})
	require.ErrorIs(t, err, task.ErrUnknownCommand)

	e.manager.Stop()
	_, err = e.manager.Enqueue(context.Background(), article("x"))
	require.ErrorIs(t, err, ErrQueueStopped)
}

func TestConcurrentEnqueuesAreNotLost(t *testing.T) {
	mr := miniredis.RunT(t)
	backends := map[string]store.Backend{
		"memory": store.NewMemoryBackend(),
		"redis":  store.NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:"),
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, backend)
			ctx := context.Background()
			const workers, perWorker = 8, 25

			var wg sync.WaitGroup
			for w := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range perWorker {
						_, err := e.manager.Enqueue(ctx, article(fmt.Sprintf("%d-%d", w, i)))
						assert.NoError(t, err)
					}
				}()
			}
			wg.Wait()

			st, err := e.manager.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, workers*perWorker, st.QueueLength)

			results, err := e.manager.DrainAndProcess(ctx)
			require.NoError(t, err)
			assert.Len(t, results, workers*perWorker)
		})
	}
}

func TestConcurrentDrainsNeverDoubleProcess(t *testing.T) {
	mr := miniredis.RunT(t)
	backends := map[string]store.Backend{
		"memory": store.NewMemoryBackend(),
		"redis":  store.NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:"),
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, backend)
			ctx := context.Background()
			const total = 40

			for i := range total {
				_, err := e.manager.Enqueue(ctx, article(fmt.Sprint(i)))
				require.NoError(t, err)
			}

			var wg sync.WaitGroup
			var mu sync.Mutex
			processed := 0
			for range 2 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results, err := e.manager.DrainAndProcess(ctx)
					assert.NoError(t, err)
					mu.Lock()
					processed += len(results)
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Equal(t, total, processed)
			counts := e.exec.counts()
			assert.Len(t, counts, total)
			for id, n := range counts {
				assert.Equal(t, 1, n, "task %s", id)
			}
		})
	}
}

func TestAutoDrain(t *testing.T) {
	e := newEnv(t, store.NewMemoryBackend(), WithAutoDrain(3))
	_, err := e.manager.Enqueue(context.Background(), article("quick"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		results, err := e.manager.Results(context.Background(), 0)
		return err == nil && len(results) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelledDrainRequeuesRemainder(t *testing.T) {
	e := newEnv(t, store.NewMemoryBackend())
	ctx, cancel := context.WithCancel(context.Background())
	for _, text := range []string{"a", "b"} {
		_, err := e.manager.Enqueue(ctx, article(text))
		require.NoError(t, err)
	}

	// Cancel right after the first job.
	e.manager.proc = cancelAfterFirst{Processor: e.manager.proc, cancel: cancel}
	results, err := e.manager.DrainAndProcess(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)

	st, err := e.manager.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, st.QueueLength)
	assert.JSONEq(t, `{"text":"b"}`, string(st.Recent[0].Payload))
}

type cancelAfterFirst struct {
	Processor
	cancel context.CancelFunc
}

func (c cancelAfterFirst) Process(ctx context.Context, job task.Job) task.Result {
	defer c.cancel()
	return c.Processor.Process(ctx, job)
}

func TestResultsOrderingAndCleanup(t *testing.T) {
	e := newEnv(t, store.NewMemoryBackend())
	ctx := context.Background()

	for _, text := range []string{"old", "new"} {
		_, err := e.manager.Enqueue(ctx, article(text))
		require.NoError(t, err)
		_, err = e.manager.DrainAndProcess(ctx)
		require.NoError(t, err)
		e.clock.Advance(48 * time.Hour)
	}

	results, err := e.manager.Results(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "done: new", results[0].Content)

	limited, err := e.manager.Results(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// now = old+96h, new+48h
	removed, err := e.manager.CleanupResults(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	results, err = e.manager.Results(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "done: new", results[0].Content)
}

func TestClear(t *testing.T) {
	e := newEnv(t, store.NewMemoryBackend())
	ctx := context.Background()
	_, err := e.manager.Enqueue(ctx, article("a"))
	require.NoError(t, err)

	n, err := e.manager.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, e.exec.counts())

	st, err := e.manager.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.QueueLength)
}

func TestSchedulerRunNow(t *testing.T) {
	e := newEnv(t, store.NewMemoryBackend())
	_, err := e.manager.Enqueue(context.Background(), article("scheduled"))
	require.NoError(t, err)

	s, err := NewScheduler("*/5 * * * *", time.Hour, logging.Discard(), e.manager)
	require.NoError(t, err)
	s.Start()
	s.RunNow()
	require.NoError(t, s.Stop(context.Background()))

	results, err := e.manager.Results(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, err = NewScheduler("not a spec", time.Hour, logging.Discard(), e.manager)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	e := newEnv(t, store.NewMemoryBackend())
	r := chi.NewRouter()
	NewHandler(time.Hour, logging.Discard(), e.manager).Mount(r, func(next http.Handler) http.Handler { return next })
	srv := httptest.NewServer(r)
	defer srv.Close()

	do := func(method, path, body string) (int, map[string]any) {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	code, out := do(http.MethodPost, "/api/queues/article", `{"command":"toutiao_article","payload":{"text":"x"}}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.EqualValues(t, 1, out["queueLength"])

	code, _ = do(http.MethodPost, "/api/queues/article", `{"command":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(http.MethodPost, "/api/queues/missing", `{}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, out = do(http.MethodGet, "/api/queues/article", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["queueLength"])

	code, out = do(http.MethodDelete, "/api/queues/article", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["processed"])

	code, out = do(http.MethodGet, "/api/queues/article/results?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["results"], 1)

	code, _ = do(http.MethodGet, "/api/queues/article/results?id=missing", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, out = do(http.MethodGet, "/api/queues/article/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["totalTasks"])

	code, out = do(http.MethodPost, "/api/queues/article/cleanup?days=0", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, out["removed"])

	code, _ = do(http.MethodPost, "/api/queues/article/cleanup?days=x", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = do(http.MethodGet, "/api/queues/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}
