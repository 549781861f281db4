package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"go-chatroom/internal/dispatch"
	"go-chatroom/internal/store"
)

const (
	statsKey = "stats"

	defaultInbox = 64
)

// Stats are the running counters of one family, persisted in its store.
type Stats struct {
	TotalTasks      int64      `json:"totalTasks"`
	Succeeded       int64      `json:"succeeded"`
	Failed          int64      `json:"failed"`
	LastProcessedAt *time.Time `json:"lastProcessedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Service is the processor of one task family. Live tasks arrive through
// Submit and are executed one at a time by a single worker; queue drains
// call Process directly.
type Service struct {
	family    string
	executors map[string]Executor
	st        store.Store
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	inbox   chan dispatch.Task
	started bool
	closed  bool
	done    chan struct{}

	processed metric.Int64Counter
	duration  metric.Float64Histogram
}

type Option func(*Service)

// WithInbox sets how many live tasks may wait for the worker.
func WithInbox(n int) Option {
	return func(s *Service) { s.inbox = make(chan dispatch.Task, n) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(family string, executors map[string]Executor, st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		family:    family,
		executors: executors,
		st:        st,
		logger:    logger.With("family", family),
		now:       time.Now,
		inbox:     make(chan dispatch.Task, defaultInbox),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("go-chatroom/task")
	var err error
	s.processed, err = meter.Int64Counter("tasks.processed",
		metric.WithDescription("Tasks processed, by family and outcome"))
	if err != nil {
		s.logger.Warn("task counter unavailable", "error", err)
	}
	s.duration, err = meter.Float64Histogram("tasks.duration",
		metric.WithDescription("Task processing time"), metric.WithUnit("ms"))
	if err != nil {
		s.logger.Warn("task histogram unavailable", "error", err)
	}
	return s
}

func (s *Service) Family() string { return s.family }

// Commands lists the commands this family executes, sorted.
func (s *Service) Commands() []string {
	cmds := make([]string, 0, len(s.executors))
	for c := range s.executors {
		cmds = append(cmds, c)
	}
	sort.Strings(cmds)
	return cmds
}

// Start launches the worker. Every live task it takes results in exactly
// one call to cb. When ctx ends first, tasks still waiting in the inbox are
// answered with a failure callback instead of being executed.
func (s *Service) Start(ctx context.Context, cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.run(ctx, cb)
}

// Stop refuses further tasks, lets the worker finish the backlog and waits
// for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.inbox)
	}
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// Submit hands a live task to the worker without waiting for it.
func (s *Service) Submit(t dispatch.Task) error {
	if _, ok := s.executors[t.Command]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, t.Command)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStopped
	}
	select {
	case s.inbox <- t:
		return nil
	default:
		return ErrBusy
	}
}

func (s *Service) run(ctx context.Context, cb Callback) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			s.abandon(context.WithoutCancel(ctx), cb)
			return
		}
		select {
		case <-ctx.Done():
			s.abandon(context.WithoutCancel(ctx), cb)
			return
		case t, ok := <-s.inbox:
			if !ok {
				return
			}
			s.handleLive(ctx, cb, t)
		}
	}
}

func (s *Service) handleLive(ctx context.Context, cb Callback, t dispatch.Task) {
	job := Job{
		ID:       uuid.NewString(),
		Command:  t.Command,
		Payload:  t.Payload,
		Username: t.CallbackInfo.Username,
		RoomName: t.CallbackInfo.RoomName,
	}
	res := s.Process(ctx, job)

	body := res.Content
	meta := map[string]any{"status": "success", "taskId": res.TaskID, "processingMs": res.ProcessingMS}
	for k, v := range res.Metadata {
		meta[k] = v
	}
	if !res.Success {
		body = FailureBody(res.Error)
		meta["status"] = "failed"
		meta["error"] = res.Error
	}

	// A task cut short by shutdown still reports its outcome.
	s.deliver(context.WithoutCancel(ctx), cb, t.CallbackInfo, body, meta, res.Success)
}

// abandon refuses further tasks and fails every task left in the inbox.
func (s *Service) abandon(ctx context.Context, cb Callback) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.inbox)
	}
	s.mu.Unlock()

	for t := range s.inbox {
		s.logger.Warn("task abandoned on shutdown", "command", t.Command, "message_id", t.CallbackInfo.MessageID)
		meta := map[string]any{"status": "failed", "error": ErrStopped.Error()}
		s.deliver(ctx, cb, t.CallbackInfo, FailureBody(ErrStopped.Error()), meta, false)
	}
}

func (s *Service) deliver(ctx context.Context, cb Callback, info dispatch.CallbackInfo, body string, meta map[string]any, success bool) {
	if err := cb.UpdateMessage(ctx, info.RoomName, info.MessageID, body, meta); err != nil {
		s.logger.Error("FATAL: callback failed",
			"room", info.RoomName, "message_id", info.MessageID, "error", err)
		return
	}
	s.logger.Info("callback delivered", "room", info.RoomName, "message_id", info.MessageID, "success", success)
}

// Process executes one job and records it in the family stats. Failures are
// reported in the Result, never returned.
func (s *Service) Process(ctx context.Context, job Job) Result {
	start := s.now()
	res := Result{TaskID: job.ID, Command: job.Command, Username: job.Username}

	var out Output
	var err error
	if exec, ok := s.executors[job.Command]; ok {
		out, err = exec.Execute(ctx, s.st, job)
	} else {
		err = fmt.Errorf("%w: %s", ErrUnknownCommand, job.Command)
	}

	end := s.now()
	res.ProcessingMS = end.Sub(start).Milliseconds()
	res.CompletedAt = end
	if err != nil {
		res.Error = err.Error()
		s.logger.Warn("task failed", "task_id", job.ID, "command", job.Command, "error", err)
	} else {
		res.Success = true
		res.Content = out.Content
		res.Metadata = out.Metadata
	}

	if err := s.record(context.WithoutCancel(ctx), res.Success, end); err != nil {
		s.logger.Error("failed to update stats", "task_id", job.ID, "error", err)
	}
	attrs := metric.WithAttributes(
		attribute.String("family", s.family),
		attribute.String("command", job.Command),
		attribute.Bool("success", res.Success),
	)
	if s.processed != nil {
		s.processed.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, float64(res.ProcessingMS), attrs)
	}
	return res
}

func (s *Service) record(ctx context.Context, ok bool, at time.Time) error {
	return store.UpdateJSON(ctx, s.st, statsKey, func(st *Stats) error {
		if st.CreatedAt.IsZero() {
			st.CreatedAt = at
		}
		st.TotalTasks++
		if ok {
			st.Succeeded++
		} else {
			st.Failed++
		}
		st.LastProcessedAt = &at
		return nil
	})
}

// Stats returns the persisted counters. A family that never ran reports
// zero counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if _, err := s.st.Get(ctx, statsKey, &st); err != nil {
		return Stats{}, fmt.Errorf("load %s stats: %w", s.family, err)
	}
	return st, nil
}
