package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/example/parish-portal/internal/logging"
)

const (
	// DefaultPollInterval is the resync cadence used when none is configured.
	DefaultPollInterval = 10 * time.Second
	// DefaultTombstoneSize bounds the set of recently deleted ids.
	DefaultTombstoneSize = 256

	component = "notification.engine"
)

var (
	// ErrNoUser is returned by Start when no user is configured.
	ErrNoUser = errors.New("notification: engine requires a user id")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("notification: engine already started")
	// ErrStopped is returned by operations issued after Stop.
	ErrStopped = errors.New("notification: engine stopped")
)

// Options configures an Engine.
type Options struct {
	UserID string
	// OrganizationID, when set, subscribes the church topic as well. Its
	// events go to OnOrganizationEvent and never into the notification list.
	OrganizationID string
	PollInterval   time.Duration
	// Channel is optional; without it the engine relies on polling alone.
	Channel Channel
	Badge   BadgeSink
	// WithoutBadge suppresses badge updates even when Badge is set, so that
	// several engines in one process do not fight over a shared indicator.
	WithoutBadge        bool
	Notifier            Notifier
	OnOrganizationEvent func(Event)
	OnChange            func(State)
	Logger              *slog.Logger
	Now                 func() time.Time
	TombstoneSize       int
}

// Engine keeps a user's notification list and unread counter in sync with
// the backend. It merges four sources (the initial fetch, a fixed interval
// poll, focus driven refreshes and push events) through one reducer.
//
// The zero value is not usable; construct engines with New.
type Engine struct {
	api    API
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	tombstones *lru.Cache[string, struct{}]
	wake       chan struct{}
	ready      chan struct{}
	done       chan struct{}
	doneOnce   sync.Once
	workers    sync.WaitGroup

	mu    sync.Mutex
	state State
	// version counts every state change; mutations counts only local edits,
	// push deltas and confirmed server writes. A server read issued at an
	// older mutations value is stale.
	version   uint64
	mutations uint64
	loading   bool
	started   bool
	stopped   bool
	cancel    context.CancelFunc

	emitMu    sync.Mutex
	emitted   uint64
	lastBadge int
}

// New constructs an Engine reading from api.
func New(api API, opts Options) (*Engine, error) {
	if api == nil {
		return nil, fmt.Errorf("notification: api is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.TombstoneSize <= 0 {
		opts.TombstoneSize = DefaultTombstoneSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tombstones, err := lru.New[string, struct{}](opts.TombstoneSize)
	if err != nil {
		return nil, fmt.Errorf("notification: tombstone cache: %w", err)
	}
	return &Engine{
		api:        api,
		opts:       opts,
		logger:     logging.Default(opts.Logger),
		now:        now,
		tombstones: tombstones,
		wake:       make(chan struct{}, 1),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		lastBadge:  -1,
	}, nil
}

// Start mounts the engine: it fetches the list and the unread counter
// concurrently, asks the notifier for permission once, subscribes the push
// topics and starts the poll loop. Start returns immediately; Ready is
// closed once the initial fetch has settled.
func (e *Engine) Start(ctx context.Context) error {
	if e.opts.UserID == "" {
		return ErrNoUser
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.started = true
	e.loading = true
	e.cancel = cancel
	e.mu.Unlock()

	if requester, ok := e.opts.Notifier.(PermissionRequester); ok {
		go guard(e.logger, "request_permission", func() { requester.RequestPermission(runCtx) })
	}

	if e.opts.Channel != nil {
		e.spawn(func() { e.subscribe(runCtx, UserTopic(e.opts.UserID), e.handleUserEvent) })
		if e.opts.OrganizationID != "" {
			e.spawn(func() { e.subscribe(runCtx, OrganizationTopic(e.opts.OrganizationID), e.handleOrganizationEvent) })
		}
	}
	e.spawn(func() { e.run(runCtx) })

	go func() {
		e.workers.Wait()
		e.finish()
	}()
	return nil
}

// Stop unmounts the engine. The poll loop and push subscriptions are
// cancelled and any response that resolves afterwards is discarded. Stop
// returns without blocking; Done is closed once the engine goroutines have
// exited. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.stopped {
		e.stopped = true
		if !e.started {
			e.finish()
		}
		return
	}
	e.stopped = true
	e.cancel()
}

// Done is closed after Stop once the poll loop and push subscriptions have
// returned. An engine that was never started is done as soon as it stops.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) spawn(fn func()) {
	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		fn()
	}()
}

func (e *Engine) finish() {
	e.doneOnce.Do(func() { close(e.done) })
}

// Ready is closed when the initial fetch has settled, successfully or not.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Loading reports whether the initial fetch is still in flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{Notifications: cloneNotifications(e.state.Notifications), UnreadCount: e.state.UnreadCount}
}

// Refresh refetches the list and the unread counter. Failures are logged and
// leave the state untouched; the first one is also returned.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.isStopped() {
		return ErrStopped
	}
	return e.sync(ctx, "refresh")
}

// Focus requests an out-of-band refresh, for window focus events. It never
// blocks; requests arriving while one is pending are coalesced.
func (e *Engine) Focus() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// VisibilityChanged requests a refresh when the surface becomes visible.
func (e *Engine) VisibilityChanged(visible bool) {
	if visible {
		e.Focus()
	}
}

// MarkAsRead flips the entry locally, updates the server, then rereads the
// unread counter from the server rather than decrementing it locally.
func (e *Engine) MarkAsRead(ctx context.Context, id string) error {
	if e.isStopped() {
		return ErrStopped
	}
	logger := logging.Scoped(ctx, e.logger, component, "mark_as_read", "user_id", e.opts.UserID, "notification_id", id)

	e.apply(LocalRead{ID: id, At: e.now()})
	if err := e.api.MarkRead(ctx, id); err != nil {
		logger.WarnContext(ctx, "failed to mark notification read", "error", err)
		return fmt.Errorf("mark %s read: %w", id, err)
	}
	e.touch()
	return e.refreshCount(ctx, logger)
}

// MarkAllAsRead flips every entry and zeroes the counter locally, then
// issues one bulk update. The counter is not reread afterwards.
func (e *Engine) MarkAllAsRead(ctx context.Context) error {
	if e.isStopped() {
		return ErrStopped
	}
	logger := logging.Scoped(ctx, e.logger, component, "mark_all_as_read", "user_id", e.opts.UserID)

	e.apply(ReadAll{At: e.now()})
	if err := e.api.MarkAllRead(ctx); err != nil {
		logger.WarnContext(ctx, "failed to mark all notifications read", "error", err)
		return fmt.Errorf("mark all read: %w", err)
	}
	e.touch()
	return nil
}

// DeleteNotification removes the entry locally, deletes it on the server,
// then rereads the unread counter. While the delete is in flight the id is
// tombstoned so a concurrent poll cannot bring the entry back.
func (e *Engine) DeleteNotification(ctx context.Context, id string) error {
	if e.isStopped() {
		return ErrStopped
	}
	logger := logging.Scoped(ctx, e.logger, component, "delete", "user_id", e.opts.UserID, "notification_id", id)

	e.tombstones.Add(id, struct{}{})
	e.apply(LocalDeleted{ID: id})
	if err := e.api.Delete(ctx, id); err != nil {
		e.tombstones.Remove(id)
		logger.WarnContext(ctx, "failed to delete notification", "error", err)
		return fmt.Errorf("delete %s: %w", id, err)
	}
	e.touch()
	return e.refreshCount(ctx, logger)
}

func (e *Engine) run(ctx context.Context) {
	_ = e.sync(ctx, "initial_fetch")

	e.mu.Lock()
	e.loading = false
	stopped := e.stopped
	e.mu.Unlock()
	close(e.ready)
	if stopped {
		return
	}
	e.emit(true)

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = e.sync(ctx, "poll")
		case <-e.wake:
			_ = e.sync(ctx, "focus")
		}
	}
}

// sync rereads the list and the counter. A read that a local edit or push
// overtook while it was in flight is merged as stale, its counter is
// dropped, and a follow-up refresh is queued.
func (e *Engine) sync(ctx context.Context, operation string) error {
	logger := logging.Scoped(ctx, e.logger, component, operation, "user_id", e.opts.UserID)
	seq := e.sequence()

	var group errgroup.Group
	group.Go(func() error {
		list, err := e.api.List(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.WarnContext(ctx, "failed to fetch notifications", "error", err)
			}
			return fmt.Errorf("list notifications: %w", err)
		}
		list = e.withoutTombstones(list)
		e.applyRead(seq, logger, func(stale bool) Action { return Snapshot{List: list, Stale: stale} })
		return nil
	})
	group.Go(func() error {
		count, err := e.api.UnreadCount(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.WarnContext(ctx, "failed to fetch unread count", "error", err)
			}
			return fmt.Errorf("unread count: %w", err)
		}
		e.applyRead(seq, logger, countUnlessStale(count))
		return nil
	})
	return group.Wait()
}

func (e *Engine) refreshCount(ctx context.Context, logger *slog.Logger) error {
	seq := e.sequence()
	count, err := e.api.UnreadCount(ctx)
	if err != nil {
		logger.WarnContext(ctx, "failed to resync unread count", "error", err)
		return fmt.Errorf("unread count: %w", err)
	}
	e.applyRead(seq, logger, countUnlessStale(count))
	return nil
}

func countUnlessStale(n int) func(bool) Action {
	return func(stale bool) Action {
		if stale {
			return nil
		}
		return Count{N: n}
	}
}

func (e *Engine) withoutTombstones(list []Notification) []Notification {
	if e.tombstones.Len() == 0 {
		return list
	}
	kept := make([]Notification, 0, len(list))
	for _, n := range list {
		if e.tombstones.Contains(n.ID) {
			continue
		}
		kept = append(kept, n)
	}
	return kept
}

func (e *Engine) subscribe(ctx context.Context, topic string, handle func(Event)) {
	logger := logging.Scoped(ctx, e.logger, component, "subscribe", "topic", topic)

	sub, err := e.opts.Channel.Subscribe(ctx, topic)
	if err != nil {
		if ctx.Err() == nil {
			logger.WarnContext(ctx, "push channel unavailable, relying on polling", "error", err)
		}
		return
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			logger.DebugContext(ctx, "failed to close subscription", "error", cerr)
		}
	}()

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				logger.InfoContext(ctx, "push subscription closed, relying on polling")
				return
			}
			if e.isStopped() {
				return
			}
			handle(ev)
		}
	}
}

func (e *Engine) handleUserEvent(ev Event) {
	action, ok := ev.Action(e.now)
	if !ok {
		e.logger.Debug("ignoring push event", "component", component, "type", ev.Type, "topic", ev.Topic)
		return
	}
	switch a := action.(type) {
	case Created:
		if e.tombstones.Contains(a.Notification.ID) {
			return
		}
	case Deleted:
		e.tombstones.Add(a.ID, struct{}{})
	}
	e.apply(action)
}

func (e *Engine) handleOrganizationEvent(ev Event) {
	if e.opts.OnOrganizationEvent == nil {
		return
	}
	guard(e.logger, "organization_event", func() { e.opts.OnOrganizationEvent(ev) })
}

// apply runs a local edit or push delta through the reducer.
func (e *Engine) apply(action Action) {
	e.commit(func() Action { return action }, true)
}

// applyRead applies the result of a server read issued at seq. build learns
// whether a mutation landed since; a stale read also queues a refresh so the
// state converges on the next round trip.
func (e *Engine) applyRead(seq uint64, logger *slog.Logger, build func(stale bool) Action) {
	var stale bool
	e.commit(func() Action {
		stale = e.mutations != seq
		return build(stale)
	}, false)
	if stale {
		logger.Debug("server read overtaken by a local change, refreshing again")
		e.Focus()
	}
}

// commit applies the action returned by build under the state lock. build
// runs under the lock so staleness checks and the update are atomic.
func (e *Engine) commit(build func() Action, mutation bool) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	next, effect := e.state.Apply(build())
	if !effect.Changed {
		e.mu.Unlock()
		return
	}
	e.state = next
	e.version++
	if mutation {
		e.mutations++
	}
	e.mu.Unlock()

	e.emit(false)
	if effect.Alert != nil && e.opts.Notifier != nil {
		alert := *effect.Alert
		notifier := e.opts.Notifier
		go guard(e.logger, "alert", func() {
			notifier.ShowToast(alert)
			notifier.PlaySound()
		})
	}
}

// emit publishes the latest state to OnChange and the badge sink. Emissions
// are serialised and a stale version is never published after a newer one.
func (e *Engine) emit(force bool) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	version := e.version
	state := State{Notifications: cloneNotifications(e.state.Notifications), UnreadCount: e.state.UnreadCount}
	e.mu.Unlock()

	if version <= e.emitted && !force {
		return
	}
	e.emitted = version

	if e.opts.OnChange != nil {
		guard(e.logger, "on_change", func() { e.opts.OnChange(state) })
	}
	if e.opts.Badge != nil && !e.opts.WithoutBadge && state.UnreadCount != e.lastBadge {
		e.lastBadge = state.UnreadCount
		guard(e.logger, "badge", func() { e.opts.Badge.SetBadge(state.UnreadCount) })
	}
}

func (e *Engine) sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mutations
}

// touch records a confirmed server write so that reads issued before it
// are treated as stale.
func (e *Engine) touch() {
	e.mu.Lock()
	e.mutations++
	e.mu.Unlock()
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// guard runs fn and swallows any panic so that best-effort side effects can
// never take the engine down.
func guard(logger *slog.Logger, operation string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("best-effort callback panicked", "component", component, "operation", operation, "panic", r)
		}
	}()
	fn()
}
