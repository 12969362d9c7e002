package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/makt28/stockwatch/internal/notify"
	"github.com/makt28/stockwatch/internal/storage"
)

var (
	ErrAlreadyActive = errors.New("monitoring already active for this subscriber")
	ErrNotFound      = errors.New("no active monitoring for this subscriber")
	ErrCapacity      = errors.New("maximum number of active monitors reached")
)

// Notifier delivers messages to subscribers. Failures are logged by the
// registry and never retried beyond the current tick.
type Notifier interface {
	SendText(ctx context.Context, subscriberID, text string) error
	SendImage(ctx context.Context, subscriberID string, png []byte, caption string) error
	Alert(ctx context.Context, event notify.AlertEvent)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RegistryOptions wires the collaborators of a Registry.
type RegistryOptions struct {
	Prober       Prober
	Notifier     Notifier
	Scheduler    TickScheduler
	Policy       Policy
	History      *storage.History // optional
	Clock        Clock            // optional, defaults to the system clock
	ProbeTimeout time.Duration
	MaxTasks     int // 0 means unlimited
	Timezone     string
}

// entry is the registry's private record for one task.
type entry struct {
	tick sync.Mutex // held for the whole tick: one writer per task

	// guarded by Registry.mu
	task      Task
	handle    Handle
	scheduled bool
	stopped   bool
}

// Registry maps subscribers to at most one active monitoring task. It is the
// only place tasks are created, mutated and retired.
type Registry struct {
	prober       Prober
	notifier     Notifier
	sched        TickScheduler
	policy       Policy
	history      *storage.History
	clock        Clock
	probeTimeout time.Duration
	maxTasks     int
	timezone     string

	// base context for scheduled ticks, cancelled by Shutdown
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	tasks map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts RegistryOptions) *Registry {
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		prober:       opts.Prober,
		notifier:     opts.Notifier,
		sched:        opts.Scheduler,
		policy:       opts.Policy,
		history:      opts.History,
		clock:        clock,
		probeTimeout: opts.ProbeTimeout,
		maxTasks:     opts.MaxTasks,
		timezone:     opts.Timezone,
		ctx:          ctx,
		cancel:       cancel,
		tasks:        make(map[string]*entry),
	}
}

// Start creates a task for subscriberID, runs its first check before
// returning and then schedules the recurring checks.
func (r *Registry) Start(ctx context.Context, subscriberID, targetURL string) (Task, error) {
	r.mu.Lock()
	if _, ok := r.tasks[subscriberID]; ok {
		r.mu.Unlock()
		return Task{}, ErrAlreadyActive
	}
	if r.maxTasks > 0 && len(r.tasks) >= r.maxTasks {
		r.mu.Unlock()
		return Task{}, ErrCapacity
	}
	e := &entry{
		task: Task{
			ID:           uuid.NewString(),
			SubscriberID: subscriberID,
			TargetURL:    targetURL,
			LastStatus:   StatusUnknown,
			StartTime:    r.clock.Now(),
		},
	}
	r.tasks[subscriberID] = e
	r.mu.Unlock()

	slog.Info("monitor started", "subscriber", subscriberID, "task", e.task.ID, "url", targetURL)

	r.tick(ctx, e)

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.stopped {
		slog.Info("monitor stopped during first check, not scheduling", "subscriber", subscriberID, "task", e.task.ID)
		return e.task, nil
	}
	e.handle = r.sched.Schedule(func() { r.tick(r.ctx, e) })
	e.scheduled = true
	return e.task, nil
}

// Stop cancels the recurring checks of subscriberID's task, removes it and
// returns how long it ran. A check already in flight finishes, but its result
// is discarded.
func (r *Registry) Stop(subscriberID string) (time.Duration, error) {
	r.mu.Lock()
	e, ok := r.tasks[subscriberID]
	if !ok {
		r.mu.Unlock()
		return 0, ErrNotFound
	}
	if e.scheduled {
		r.sched.Cancel(e.handle)
	}
	delete(r.tasks, subscriberID)
	e.stopped = true
	task := e.task
	r.mu.Unlock()

	if r.history != nil {
		r.history.Forget(subscriberID)
	}

	elapsed := task.Elapsed(r.clock.Now())
	slog.Info("monitor stopped",
		"subscriber", subscriberID,
		"task", task.ID,
		"checks", task.CheckCount,
		"elapsed", elapsed.String(),
	)
	return elapsed, nil
}

// Get returns a snapshot of subscriberID's task.
func (r *Registry) Get(subscriberID string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[subscriberID]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// List returns snapshots of all active tasks, oldest first.
func (r *Registry) List() []Task {
	r.mu.RLock()
	tasks := make([]Task, 0, len(r.tasks))
	for _, e := range r.tasks {
		tasks = append(tasks, e.task)
	}
	r.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].StartTime.Equal(tasks[j].StartTime) {
			return tasks[i].SubscriberID < tasks[j].SubscriberID
		}
		return tasks[i].StartTime.Before(tasks[j].StartTime)
	})
	return tasks
}

// Len returns the number of active tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Shutdown stops every task and cancels the context of in-flight checks.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for id, e := range r.tasks {
		if e.scheduled {
			r.sched.Cancel(e.handle)
		}
		e.stopped = true
		delete(r.tasks, id)
	}
	r.mu.Unlock()
	r.cancel()
}

// snapshot returns the task of e if e is still the registered entry.
func (r *Registry) snapshot(e *entry) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e.stopped {
		return Task{}, false
	}
	return e.task, true
}

func (r *Registry) alive(e *entry) bool {
	_, ok := r.snapshot(e)
	return ok
}

// commit writes next back and records point unless the task was stopped
// meanwhile. Both happen under r.mu so Stop's Forget cannot interleave.
func (r *Registry) commit(e *entry, next Task, point storage.CheckPoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.stopped {
		return false
	}
	e.task = next
	if r.history != nil {
		r.history.Record(next.SubscriberID, point)
	}
	return true
}

// tick runs one probe, policy and dispatch cycle for e.
func (r *Registry) tick(ctx context.Context, e *entry) {
	e.tick.Lock()
	defer e.tick.Unlock()

	task, ok := r.snapshot(e)
	if !ok {
		slog.Debug("tick skipped, task no longer active", "task", e.task.ID)
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("check panicked, result discarded",
				"subscriber", task.SubscriberID,
				"task", task.ID,
				"panic", fmt.Sprint(rv),
			)
		}
	}()

	ctx, span := tracer.Start(ctx, "registry:tick")
	defer span.End()
	span.SetAttributes(
		attribute.String("subscriber", task.SubscriberID),
		attribute.String("task", task.ID),
		attribute.Int("check", task.CheckCount+1),
	)

	probeCtx := ctx
	if r.probeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, r.probeTimeout)
		defer cancel()
	}
	result := r.prober.Probe(probeCtx, task.TargetURL)
	now := r.clock.Now()

	dec := r.policy.Decide(task, result, now)

	slog.Info("check completed",
		"subscriber", task.SubscriberID,
		"task", task.ID,
		"check", dec.Next.CheckCount,
		"last_status", task.LastStatus.String(),
		"status", dec.Next.LastStatus.String(),
		"errored", result.Errored,
		"reason", result.Reason,
		"actions", len(dec.Actions),
	)

	if !r.alive(e) {
		slog.Info("task stopped during check, discarding result", "subscriber", task.SubscriberID, "task", task.ID)
		return
	}

	r.dispatch(ctx, e, dec, result)

	point := storage.CheckPoint{
		Time:      now.Unix(),
		Status:    dec.Next.LastStatus.String(),
		Errored:   result.Errored,
		LatencyMs: int(result.Latency.Milliseconds()),
		Reason:    result.Reason,
	}
	if !r.commit(e, dec.Next, point) {
		slog.Info("task stopped during check, discarding result", "subscriber", task.SubscriberID, "task", task.ID)
	}
}

func (r *Registry) dispatch(ctx context.Context, e *entry, dec Decision, result ProbeResult) {
	next := dec.Next
	sub := next.SubscriberID

	for _, a := range dec.Actions {
		if !r.alive(e) {
			slog.Info("task stopped, dropping remaining actions", "subscriber", sub, "task", next.ID)
			return
		}

		switch a.Kind {
		case ActionStatusMessage:
			text := heartbeatMessage(next)
			if a.Message == MessageChange {
				text = changeMessage(next, result)
			}
			r.sendText(ctx, sub, text)

		case ActionAlert:
			r.sendText(ctx, sub, alertMessage(next))
			r.notifier.Alert(ctx, notify.AlertEvent{
				SubscriberID: sub,
				TaskID:       next.ID,
				Type:         notify.EventAvailable,
				Target:       next.TargetURL,
				Title:        result.Title,
				Timestamp:    r.clock.Now().Unix(),
				Timezone:     r.timezone,
			})

		case ActionErrorNotice:
			r.sendText(ctx, sub, errorNotice())

		case ActionCaptureEvidence:
			r.sendEvidence(ctx, next, a.Evidence)
		}
	}
}

func (r *Registry) sendEvidence(ctx context.Context, next Task, reason EvidenceReason) {
	sub := next.SubscriberID
	if preface := evidencePreface(reason, next.LastStatus); preface != "" {
		r.sendText(ctx, sub, preface)
	}

	img, err := r.prober.CaptureEvidence(ctx, next.TargetURL)
	if err != nil {
		slog.Warn("evidence capture failed", "subscriber", sub, "task", next.ID, "error", err)
		r.sendText(ctx, sub, captureFailedNotice())
		return
	}

	if err := r.notifier.SendImage(ctx, sub, img, evidenceCaption(reason, next.LastStatus)); err != nil {
		slog.Error("send screenshot failed", "subscriber", sub, "task", next.ID, "error", err)
	}
}

func (r *Registry) sendText(ctx context.Context, subscriberID, text string) {
	if err := r.notifier.SendText(ctx, subscriberID, text); err != nil {
		slog.Error("send message failed", "subscriber", subscriberID, "error", err)
	}
}
