// Package queue is the batch path into the task processors: tasks are
// persisted per family and drained later by a scheduler or an operator.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-chatroom/internal/store"
	"go-chatroom/internal/task"
)

const (
	queueKey   = "queue"
	resultsKey = "results"

	statusPending = "pending"
	recentItems   = 10
)

var ErrQueueStopped = errors.New("queue stopped")

// QueuedTask is one persisted entry of a family queue.
type QueuedTask struct {
	ID         string          `json:"id"`
	Command    string          `json:"command"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Username   string          `json:"username,omitempty"`
	Status     string          `json:"status,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Processor executes queued jobs. *task.Service implements it.
type Processor interface {
	Family() string
	Commands() []string
	Process(ctx context.Context, job task.Job) task.Result
	Stats(ctx context.Context) (task.Stats, error)
}

type Status struct {
	Family      string       `json:"family"`
	QueueLength int          `json:"queueLength"`
	Recent      []QueuedTask `json:"recent"`
	ResultCount int          `json:"resultCount"`
	Stats       task.Stats   `json:"stats"`
}

// Manager owns one family's queue and result map.
type Manager struct {
	proc      Processor
	st        store.Store
	autoDrain int
	now       func() time.Time
	logger    *slog.Logger

	bg      context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

type Option func(*Manager)

// WithAutoDrain drains in the background right after an enqueue leaves at
// most n tasks queued. Zero disables it.
func WithAutoDrain(n int) Option {
	return func(m *Manager) { m.autoDrain = n }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(proc Processor, st store.Store, logger *slog.Logger, opts ...Option) *Manager {
	bg, cancel := context.WithCancel(context.Background())
	m := &Manager{
		proc:   proc,
		st:     st,
		now:    time.Now,
		logger: logger.With("family", proc.Family()),
		bg:     bg,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Family() string { return m.proc.Family() }

// Enqueue appends qt to the queue and returns the new length.
func (m *Manager) Enqueue(ctx context.Context, qt QueuedTask) (int, error) {
	if m.isStopped() {
		return 0, ErrQueueStopped
	}
	if !slices.Contains(m.proc.Commands(), qt.Command) {
		return 0, fmt.Errorf("%w: %s", task.ErrUnknownCommand, qt.Command)
	}
	if qt.ID == "" {
		qt.ID = uuid.NewString()
	}
	if qt.Status == "" {
		qt.Status = statusPending
	}
	qt.EnqueuedAt = m.now()

	var length int
	err := store.UpdateJSON(ctx, m.st, queueKey, func(q *[]QueuedTask) error {
		*q = append(*q, qt)
		length = len(*q)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	m.logger.Info("task enqueued", "task_id", qt.ID, "command", qt.Command, "queue_length", length)

	if m.autoDrain > 0 && length <= m.autoDrain {
		m.drainInBackground()
	}
	return length, nil
}

func (m *Manager) drainInBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.DrainAndProcess(m.bg); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("auto drain failed", "error", err)
		}
	}()
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// claim atomically takes and clears the whole queue.
func (m *Manager) claim(ctx context.Context) ([]QueuedTask, error) {
	var claimed []QueuedTask
	err := m.st.Update(ctx, queueKey, func(cur []byte) ([]byte, error) {
		claimed = nil
		if cur == nil {
			return nil, nil
		}
		if err := json.Unmarshal(cur, &claimed); err != nil {
			return nil, fmt.Errorf("decode queue: %w", err)
		}
		return nil, nil
	})
	return claimed, err
}

// DrainAndProcess claims the queue and processes the batch in order. A
// cancelled ctx puts the unprocessed remainder back at the queue head.
func (m *Manager) DrainAndProcess(ctx context.Context) ([]task.Result, error) {
	claimed, err := m.claim(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim queue: %w", err)
	}
	if len(claimed) == 0 {
		return []task.Result{}, nil
	}
	m.logger.Info("draining queue", "count", len(claimed))

	results := make([]task.Result, 0, len(claimed))
	for i, qt := range claimed {
		if ctx.Err() != nil {
			if err := m.requeue(context.WithoutCancel(ctx), claimed[i:]); err != nil {
				m.logger.Error("failed to requeue tasks", "count", len(claimed)-i, "error", err)
			}
			return results, ctx.Err()
		}
		res := m.proc.Process(ctx, task.Job{
			ID:       qt.ID,
			Command:  qt.Command,
			Payload:  qt.Payload,
			Username: qt.Username,
		})
		if err := m.saveResult(ctx, res); err != nil {
			m.logger.Error("failed to store result", "task_id", res.TaskID, "error", err)
		}
		results = append(results, res)
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	m.logger.Info("queue drained", "processed", len(results), "succeeded", succeeded)
	return results, nil
}

func (m *Manager) requeue(ctx context.Context, rest []QueuedTask) error {
	return store.UpdateJSON(ctx, m.st, queueKey, func(q *[]QueuedTask) error {
		*q = append(append([]QueuedTask{}, rest...), *q...)
		return nil
	})
}

func (m *Manager) saveResult(ctx context.Context, res task.Result) error {
	return store.UpdateJSON(ctx, m.st, resultsKey, func(all *map[string]task.Result) error {
		if *all == nil {
			*all = make(map[string]task.Result)
		}
		(*all)[res.TaskID] = res
		return nil
	})
}

func (m *Manager) loadResults(ctx context.Context) (map[string]task.Result, error) {
	var all map[string]task.Result
	if _, err := m.st.Get(ctx, resultsKey, &all); err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	return all, nil
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	var q []QueuedTask
	if _, err := m.st.Get(ctx, queueKey, &q); err != nil {
		return Status{}, fmt.Errorf("load queue: %w", err)
	}
	all, err := m.loadResults(ctx)
	if err != nil {
		return Status{}, err
	}
	stats, err := m.proc.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	recent := q[:min(len(q), recentItems)]
	if recent == nil {
		recent = []QueuedTask{}
	}
	return Status{
		Family:      m.Family(),
		QueueLength: len(q),
		Recent:      recent,
		ResultCount: len(all),
		Stats:       stats,
	}, nil
}

// Clear drops every queued task without processing it.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	claimed, err := m.claim(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	if len(claimed) > 0 {
		m.logger.Warn("queue cleared", "dropped", len(claimed))
	}
	return len(claimed), nil
}

func (m *Manager) Result(ctx context.Context, id string) (task.Result, bool, error) {
	all, err := m.loadResults(ctx)
	if err != nil {
		return task.Result{}, false, err
	}
	r, ok := all[id]
	return r, ok, nil
}

// Results returns up to limit results, newest first.
func (m *Manager) Results(ctx context.Context, limit int) ([]task.Result, error) {
	all, err := m.loadResults(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]task.Result, 0, len(all))
	for _, r := range all {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CleanupResults removes results completed more than retention ago.
func (m *Manager) CleanupResults(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := m.now().Add(-retention)
	var removed int
	err := store.UpdateJSON(ctx, m.st, resultsKey, func(all *map[string]task.Result) error {
		removed = 0
		for id, r := range *all {
			if r.CompletedAt.Before(cutoff) {
				delete(*all, id)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup results: %w", err)
	}
	if removed > 0 {
		m.logger.Info("results cleaned up", "removed", removed, "retention", retention)
	}
	return removed, nil
}

// Stop refuses further enqueues and waits for background drains.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}
