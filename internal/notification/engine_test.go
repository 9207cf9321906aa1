package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/parish-portal/internal/notification"
	"github.com/example/parish-portal/internal/testfixtures"
)

type fakeAPI struct {
	mu         sync.Mutex
	list       []notification.Notification
	listErr    error
	countErr   error
	markErr    error
	deleteErr  error
	gate       chan struct{}
	held       chan struct{}
	holdLeft   int
	entered    chan struct{}
	listCalls  int
	countCalls int
	markCalls  []string
	markAll    int
	deletes    []string
	keepOnDel  bool
}

func newFakeAPI(list ...notification.Notification) *fakeAPI {
	return &fakeAPI{list: append([]notification.Notification(nil), list...)}
}

func (f *fakeAPI) wait() {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

// holdReads makes the next n reads answer with the server state at the
// time of the call but only return after release.
func (f *fakeAPI) holdReads(n int) {
	f.mu.Lock()
	f.held = make(chan struct{})
	f.holdLeft = n
	f.entered = make(chan struct{}, n)
	f.mu.Unlock()
}

func (f *fakeAPI) awaitHeld(t *testing.T, n int) {
	t.Helper()
	f.mu.Lock()
	entered := f.entered
	f.mu.Unlock()
	for i := 0; i < n; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d reads reached the server", i, n)
		}
	}
}

func (f *fakeAPI) release() {
	f.mu.Lock()
	close(f.held)
	f.mu.Unlock()
}

// hold must be called with f.mu held; it returns the channel to wait on.
func (f *fakeAPI) hold() chan struct{} {
	if f.holdLeft == 0 {
		return nil
	}
	f.holdLeft--
	f.entered <- struct{}{}
	return f.held
}

func (f *fakeAPI) List(ctx context.Context) ([]notification.Notification, error) {
	f.wait()
	f.mu.Lock()
	f.listCalls++
	if f.listErr != nil {
		f.mu.Unlock()
		return nil, f.listErr
	}
	list := append([]notification.Notification(nil), f.list...)
	held := f.hold()
	f.mu.Unlock()
	if held != nil {
		<-held
	}
	return list, nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	f.wait()
	f.mu.Lock()
	f.countCalls++
	if f.countErr != nil {
		f.mu.Unlock()
		return 0, f.countErr
	}
	unread := 0
	for _, n := range f.list {
		if !n.IsRead {
			unread++
		}
	}
	held := f.hold()
	f.mu.Unlock()
	if held != nil {
		<-held
	}
	return unread, nil
}

func (f *fakeAPI) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, id)
	if f.markErr != nil {
		return f.markErr
	}
	for i := range f.list {
		if f.list[i].ID == id {
			f.list[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markAll++
	for i := range f.list {
		f.list[i].IsRead = true
	}
	return nil
}

func (f *fakeAPI) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if f.keepOnDel {
		return nil
	}
	kept := f.list[:0]
	for _, n := range f.list {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	f.list = kept
	return nil
}

func (f *fakeAPI) add(n notification.Notification) {
	f.mu.Lock()
	f.list = append([]notification.Notification{n}, f.list...)
	f.mu.Unlock()
}

func (f *fakeAPI) counts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countCalls
}

type fakeSubscription struct {
	events chan notification.Event
	once   sync.Once
	closed chan struct{}
}

func (s *fakeSubscription) Events() <-chan notification.Event { return s.events }

func (s *fakeSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeChannel struct {
	mu   sync.Mutex
	err  error
	subs map[string]*fakeSubscription
	seen chan string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: make(map[string]*fakeSubscription), seen: make(chan string, 4)}
}

func (c *fakeChannel) Subscribe(ctx context.Context, topic string) (notification.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		c.seen <- topic
		return nil, c.err
	}
	sub := &fakeSubscription{events: make(chan notification.Event, 8), closed: make(chan struct{})}
	c.subs[topic] = sub
	c.seen <- topic
	return sub, nil
}

func (c *fakeChannel) publish(t *testing.T, ev notification.Event) {
	t.Helper()
	c.mu.Lock()
	sub := c.subs[ev.Topic]
	c.mu.Unlock()
	if sub == nil {
		t.Fatalf("no subscription for topic %s", ev.Topic)
	}
	sub.events <- ev
}

func (c *fakeChannel) awaitTopics(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for subscription %d", i+1)
		}
	}
}

type recordingBadge struct {
	mu     sync.Mutex
	values []int
}

func (b *recordingBadge) SetBadge(count int) {
	b.mu.Lock()
	b.values = append(b.values, count)
	b.mu.Unlock()
}

func (b *recordingBadge) snapshot() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.values...)
}

type recordingNotifier struct {
	mu          sync.Mutex
	toasts      []string
	sounds      int
	permissions int
	panicOnShow bool
}

func (n *recordingNotifier) ShowToast(item notification.Notification) {
	n.mu.Lock()
	n.toasts = append(n.toasts, item.ID)
	panicking := n.panicOnShow
	n.mu.Unlock()
	if panicking {
		panic("toast permission revoked")
	}
}

func (n *recordingNotifier) PlaySound() {
	n.mu.Lock()
	n.sounds++
	n.mu.Unlock()
}

func (n *recordingNotifier) RequestPermission(ctx context.Context) {
	n.mu.Lock()
	n.permissions++
	n.mu.Unlock()
}

func (n *recordingNotifier) toastCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.toasts)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func startEngine(t *testing.T, api notification.API, opts notification.Options) *notification.Engine {
	t.Helper()
	if opts.UserID == "" {
		opts.UserID = "42"
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	if opts.Now == nil {
		opts.Now = testfixtures.NewClock(time.Time{}).NowFunc()
	}
	engine, err := notification.New(api, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(engine.Stop)
	select {
	case <-engine.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("engine never became ready")
	}
	return engine
}

func TestEngine_InitialFetch(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(testfixtures.Notifications(3)...)
	badge := &recordingBadge{}
	engine := startEngine(t, api, notification.Options{Badge: badge})

	if engine.Loading() {
		t.Fatalf("expected loading to be false after ready")
	}
	state := engine.Snapshot()
	if len(state.Notifications) != 3 || state.UnreadCount != 3 {
		t.Fatalf("unexpected initial state: %d entries, %d unread", len(state.Notifications), state.UnreadCount)
	}
	if got := badge.snapshot(); len(got) == 0 || got[len(got)-1] != 3 {
		t.Fatalf("expected badge to show 3, got %v", got)
	}
}

func TestEngine_StartValidation(t *testing.T) {
	t.Parallel()

	t.Run("missing user", func(t *testing.T) {
		engine, err := notification.New(newFakeAPI(), notification.Options{})
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		if err := engine.Start(context.Background()); !errors.Is(err, notification.ErrNoUser) {
			t.Fatalf("expected ErrNoUser, got %v", err)
		}
	})

	t.Run("second start", func(t *testing.T) {
		engine := startEngine(t, newFakeAPI(), notification.Options{})
		if err := engine.Start(context.Background()); !errors.Is(err, notification.ErrAlreadyStarted) {
			t.Fatalf("expected ErrAlreadyStarted, got %v", err)
		}
	})

	t.Run("nil api", func(t *testing.T) {
		if _, err := notification.New(nil, notification.Options{UserID: "42"}); err == nil {
			t.Fatalf("expected error for nil api")
		}
	})
}

func TestEngine_DuplicatePushIsMergedOnce(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	channel := newFakeChannel()
	notifier := &recordingNotifier{}
	engine := startEngine(t, api, notification.Options{Channel: channel, Notifier: notifier})
	channel.awaitTopics(t, 1)

	item := testfixtures.NewNotificationFixture().Notification()
	event := notification.Event{Type: notification.EventCreated, Topic: notification.UserTopic("42"), Notification: &item}
	channel.publish(t, event)
	channel.publish(t, event)

	eventually(t, func() bool { return engine.Snapshot().UnreadCount == 1 }, "unread count reaches 1")
	eventually(t, func() bool { return notifier.toastCount() == 1 }, "one toast shown")

	api.add(item)
	if err := engine.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	state := engine.Snapshot()
	if len(state.Notifications) != 1 || state.UnreadCount != 1 {
		t.Fatalf("expected a single entry counted once, got %d entries and %d unread", len(state.Notifications), state.UnreadCount)
	}
}

func TestEngine_MarkAsReadIsIdempotent(t *testing.T) {
	t.Parallel()

	list := testfixtures.Notifications(2)
	api := newFakeAPI(list...)
	engine := startEngine(t, api, notification.Options{})
	target := list[0].ID

	for i := 0; i < 2; i++ {
		if err := engine.MarkAsRead(context.Background(), target); err != nil {
			t.Fatalf("mark as read #%d: %v", i+1, err)
		}
	}

	state := engine.Snapshot()
	if !state.Notifications[0].IsRead {
		t.Fatalf("expected %s to be read", target)
	}
	if state.UnreadCount != 1 {
		t.Fatalf("expected server count of 1, got %d", state.UnreadCount)
	}
	if len(api.markCalls) != 2 {
		t.Fatalf("expected two server calls, got %d", len(api.markCalls))
	}
}

func TestEngine_MarkAsReadFailureIsReported(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(testfixtures.Notifications(1)...)
	api.markErr = errors.New("boom")
	engine := startEngine(t, api, notification.Options{})

	err := engine.MarkAsRead(context.Background(), engine.Snapshot().Notifications[0].ID)
	if !errors.Is(err, api.markErr) {
		t.Fatalf("expected wrapped server error, got %v", err)
	}
	if engine.Snapshot().UnreadCount != 1 {
		t.Fatalf("expected counter to be left for the next resync")
	}
}

func TestEngine_MarkAllAsRead(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(testfixtures.Notifications(3)...)
	badge := &recordingBadge{}
	engine := startEngine(t, api, notification.Options{Badge: badge})
	before := api.counts()

	if err := engine.MarkAllAsRead(context.Background()); err != nil {
		t.Fatalf("mark all as read: %v", err)
	}

	state := engine.Snapshot()
	if state.UnreadCount != 0 {
		t.Fatalf("expected zero unread, got %d", state.UnreadCount)
	}
	for _, n := range state.Notifications {
		if !n.IsRead {
			t.Fatalf("expected %s to be read", n.ID)
		}
	}
	if api.counts() != before {
		t.Fatalf("expected no counter refetch after mark all")
	}
	if got := badge.snapshot(); got[len(got)-1] != 0 {
		t.Fatalf("expected badge to clear, got %v", got)
	}
}

func TestEngine_DeleteTombstonesAgainstStalePolls(t *testing.T) {
	t.Parallel()

	t.Run("stale poll does not resurrect", func(t *testing.T) {
		list := testfixtures.Notifications(2)
		api := newFakeAPI(list...)
		api.keepOnDel = true
		engine := startEngine(t, api, notification.Options{})

		if err := engine.DeleteNotification(context.Background(), list[0].ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := engine.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		for _, n := range engine.Snapshot().Notifications {
			if n.ID == list[0].ID {
				t.Fatalf("deleted notification came back from a stale poll")
			}
		}
	})

	t.Run("failed delete is restored by the next poll", func(t *testing.T) {
		list := testfixtures.Notifications(2)
		api := newFakeAPI(list...)
		api.deleteErr = errors.New("forbidden")
		engine := startEngine(t, api, notification.Options{})

		if err := engine.DeleteNotification(context.Background(), list[0].ID); !errors.Is(err, api.deleteErr) {
			t.Fatalf("expected delete error, got %v", err)
		}
		if err := engine.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if got := len(engine.Snapshot().Notifications); got != 2 {
			t.Fatalf("expected both notifications after resync, got %d", got)
		}
	})
}

func TestEngine_CountNeverNegative(t *testing.T) {
	t.Parallel()

	list := testfixtures.Notifications(1)
	api := newFakeAPI(list...)
	channel := newFakeChannel()
	engine := startEngine(t, api, notification.Options{Channel: channel})
	channel.awaitTopics(t, 1)

	topic := notification.UserTopic("42")
	channel.publish(t, notification.Event{Type: notification.EventRead, Topic: topic, ID: list[0].ID})
	channel.publish(t, notification.Event{Type: notification.EventRead, Topic: topic, ID: list[0].ID})
	channel.publish(t, notification.Event{Type: notification.EventDeleted, Topic: topic, ID: list[0].ID})
	channel.publish(t, notification.Event{Type: notification.EventDeleted, Topic: topic, ID: list[0].ID})

	eventually(t, func() bool { return len(engine.Snapshot().Notifications) == 0 }, "entry removed")
	if got := engine.Snapshot().UnreadCount; got != 0 {
		t.Fatalf("expected unread count 0, got %d", got)
	}
}

func TestEngine_StopDiscardsLateResponses(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(testfixtures.Notifications(2)...)
	api.gate = make(chan struct{})
	changes := 0
	var mu sync.Mutex

	engine, err := notification.New(api, notification.Options{
		UserID:       "42",
		PollInterval: time.Hour,
		OnChange: func(notification.State) {
			mu.Lock()
			changes++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	engine.Stop()
	engine.Stop()
	close(api.gate)

	select {
	case <-engine.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("initial fetch never settled")
	}
	select {
	case <-engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("engine goroutines never exited")
	}

	state := engine.Snapshot()
	if len(state.Notifications) != 0 || state.UnreadCount != 0 {
		t.Fatalf("expected late responses to be discarded, got %+v", state)
	}
	mu.Lock()
	defer mu.Unlock()
	if changes != 0 {
		t.Fatalf("expected no change callbacks after stop, got %d", changes)
	}

	if err := engine.Refresh(context.Background()); !errors.Is(err, notification.ErrStopped) {
		t.Fatalf("expected ErrStopped from refresh, got %v", err)
	}
	if err := engine.MarkAsRead(context.Background(), "x"); !errors.Is(err, notification.ErrStopped) {
		t.Fatalf("expected ErrStopped from mark as read, got %v", err)
	}
	if err := engine.Start(context.Background()); !errors.Is(err, notification.ErrStopped) {
		t.Fatalf("expected ErrStopped from restart, got %v", err)
	}
}

func TestEngine_FetchFailureKeepsState(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(testfixtures.Notifications(2)...)
	engine := startEngine(t, api, notification.Options{})

	api.mu.Lock()
	api.listErr = errors.New("gateway timeout")
	api.countErr = errors.New("gateway timeout")
	api.mu.Unlock()

	if err := engine.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	state := engine.Snapshot()
	if len(state.Notifications) != 2 || state.UnreadCount != 2 {
		t.Fatalf("expected previous state to survive, got %+v", state)
	}
}

func TestEngine_InitialFetchFailureStillSettles(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.listErr = errors.New("unreachable")
	engine := startEngine(t, api, notification.Options{})

	if engine.Loading() {
		t.Fatalf("expected loading to clear after a failed fetch")
	}
	if got := engine.Snapshot(); len(got.Notifications) != 0 {
		t.Fatalf("expected empty list, got %+v", got)
	}
}

func TestEngine_ChannelFailureFallsBackToPolling(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	channel := newFakeChannel()
	channel.err = errors.New("websocket refused")
	engine := startEngine(t, api, notification.Options{Channel: channel, PollInterval: 10 * time.Millisecond})
	channel.awaitTopics(t, 1)

	api.add(testfixtures.NewNotificationFixture().Notification())
	eventually(t, func() bool { return engine.Snapshot().UnreadCount == 1 }, "poll picks up new notification")
}

func TestEngine_FocusTriggersRefresh(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	engine := startEngine(t, api, notification.Options{})

	api.add(testfixtures.NewNotificationFixture().Notification())
	engine.VisibilityChanged(false)
	engine.Focus()
	engine.Focus()

	eventually(t, func() bool { return len(engine.Snapshot().Notifications) == 1 }, "focus refresh")
}

func TestEngine_OrganizationEventsStayOutOfTheList(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	channel := newFakeChannel()
	received := make(chan notification.Event, 1)
	engine := startEngine(t, api, notification.Options{
		OrganizationID:      "7",
		Channel:             channel,
		OnOrganizationEvent: func(ev notification.Event) { received <- ev },
	})
	channel.awaitTopics(t, 2)

	item := testfixtures.NewNotificationFixture(testfixtures.WithNotificationKind(notification.KindMemberApplication)).Notification()
	channel.publish(t, notification.Event{Type: notification.EventCreated, Topic: notification.OrganizationTopic("7"), Notification: &item})

	select {
	case ev := <-received:
		if ev.Topic != "church:7" {
			t.Fatalf("unexpected topic %s", ev.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("organization callback never invoked")
	}
	state := engine.Snapshot()
	if len(state.Notifications) != 0 || state.UnreadCount != 0 {
		t.Fatalf("expected organization event to stay out of the list, got %+v", state)
	}
}

func TestEngine_WithoutBadge(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(testfixtures.Notifications(2)...)
	badge := &recordingBadge{}
	engine := startEngine(t, api, notification.Options{Badge: badge, WithoutBadge: true})

	if err := engine.MarkAllAsRead(context.Background()); err != nil {
		t.Fatalf("mark all as read: %v", err)
	}
	if got := badge.snapshot(); len(got) != 0 {
		t.Fatalf("expected badge to stay untouched, got %v", got)
	}
}

func TestEngine_NotifierFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	channel := newFakeChannel()
	notifier := &recordingNotifier{panicOnShow: true}
	engine := startEngine(t, api, notification.Options{
		Channel:  channel,
		Notifier: notifier,
		Badge: notification.BadgeFunc(func(int) {
			panic("tray unavailable")
		}),
	})
	channel.awaitTopics(t, 1)

	first := testfixtures.NewNotificationFixture().Notification()
	second := testfixtures.NewNotificationFixture().Notification()
	topic := notification.UserTopic("42")
	channel.publish(t, notification.Event{Type: notification.EventCreated, Topic: topic, Notification: &first})
	channel.publish(t, notification.Event{Type: notification.EventCreated, Topic: topic, Notification: &second})

	eventually(t, func() bool { return engine.Snapshot().UnreadCount == 2 }, "both events applied")
	eventually(t, func() bool { return notifier.toastCount() == 2 }, "both toasts attempted")
	eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return notifier.permissions == 1
	}, "permission requested once")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.sounds != 0 {
		t.Fatalf("expected sound to be skipped after toast failure, got %d", notifier.sounds)
	}
}

// stateLog records every state published through OnChange.
type stateLog struct {
	mu     sync.Mutex
	states []notification.State
}

func (l *stateLog) record(s notification.State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) mark() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

func (l *stateLog) since(i int) []notification.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]notification.State(nil), l.states[i:]...)
}

func find(state notification.State, id string) (notification.Notification, bool) {
	for _, n := range state.Notifications {
		if n.ID == id {
			return n, true
		}
	}
	return notification.Notification{}, false
}

func TestEngine_PollOvertakenByMarkAsRead(t *testing.T) {
	t.Parallel()

	list := testfixtures.Notifications(2)
	api := newFakeAPI(list...)
	log := &stateLog{}
	engine := startEngine(t, api, notification.Options{OnChange: log.record})
	target := list[0].ID

	api.holdReads(2)
	engine.Focus()
	api.awaitHeld(t, 2)

	if err := engine.MarkAsRead(context.Background(), target); err != nil {
		t.Fatalf("mark as read: %v", err)
	}
	from := log.mark()
	api.release()

	eventually(t, func() bool { return api.lists() >= 3 }, "overtaken poll queues a follow-up refresh")
	eventually(t, func() bool {
		n, ok := find(engine.Snapshot(), target)
		return ok && n.IsRead && engine.Snapshot().UnreadCount == 1
	}, "read entry and server count survive the overtaken poll")

	for _, state := range log.since(from) {
		n, ok := find(state, target)
		if !ok || !n.IsRead {
			t.Fatalf("overtaken poll reverted the read of %s: %+v", target, state)
		}
		if state.UnreadCount != 1 {
			t.Fatalf("overtaken poll overwrote the unread count with %d", state.UnreadCount)
		}
	}
}

func TestEngine_PollOvertakenByPush(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(testfixtures.Notifications(1)...)
	channel := newFakeChannel()
	log := &stateLog{}
	engine := startEngine(t, api, notification.Options{Channel: channel, OnChange: log.record})
	channel.awaitTopics(t, 1)

	api.holdReads(2)
	engine.Focus()
	api.awaitHeld(t, 2)

	item := testfixtures.NewNotificationFixture().Notification()
	api.add(item)
	channel.publish(t, notification.Event{Type: notification.EventCreated, Topic: notification.UserTopic("42"), Notification: &item})
	eventually(t, func() bool { return engine.Snapshot().UnreadCount == 2 }, "push increments the counter")
	from := log.mark()
	api.release()

	eventually(t, func() bool { return api.lists() >= 3 }, "overtaken poll queues a follow-up refresh")
	eventually(t, func() bool {
		state := engine.Snapshot()
		return len(state.Notifications) == 2 && state.UnreadCount == 2
	}, "pushed entry and counter survive the overtaken poll")

	for _, state := range log.since(from) {
		if _, ok := find(state, item.ID); !ok {
			t.Fatalf("overtaken poll dropped the pushed entry: %+v", state)
		}
		if state.UnreadCount != 2 {
			t.Fatalf("overtaken poll overwrote the unread count with %d", state.UnreadCount)
		}
	}
}

func TestEngine_PushDeleteIsNotResurrectedByOvertakenPoll(t *testing.T) {
	t.Parallel()

	list := testfixtures.Notifications(2)
	api := newFakeAPI(list...)
	channel := newFakeChannel()
	engine := startEngine(t, api, notification.Options{Channel: channel})
	channel.awaitTopics(t, 1)

	api.holdReads(2)
	engine.Focus()
	api.awaitHeld(t, 2)

	channel.publish(t, notification.Event{Type: notification.EventDeleted, Topic: notification.UserTopic("42"), ID: list[0].ID})
	eventually(t, func() bool { return len(engine.Snapshot().Notifications) == 1 }, "push removes the entry")
	api.release()

	eventually(t, func() bool { return api.lists() >= 3 }, "overtaken poll queues a follow-up refresh")
	if _, ok := find(engine.Snapshot(), list[0].ID); ok {
		t.Fatalf("deleted entry came back from an overtaken poll")
	}
}

func TestEngine_PushReadUsesEngineClock(t *testing.T) {
	t.Parallel()

	list := testfixtures.Notifications(1)
	clock := testfixtures.NewClock(time.Date(2025, time.June, 1, 8, 30, 0, 0, time.UTC))
	channel := newFakeChannel()
	engine := startEngine(t, newFakeAPI(list...), notification.Options{Channel: channel, Now: clock.NowFunc()})
	channel.awaitTopics(t, 1)

	channel.publish(t, notification.Event{Type: notification.EventRead, Topic: notification.UserTopic("42"), ID: list[0].ID})
	eventually(t, func() bool { return engine.Snapshot().UnreadCount == 0 }, "push read applied")

	n, _ := find(engine.Snapshot(), list[0].ID)
	if n.ReadAt == nil || !n.ReadAt.Equal(clock.Now()) {
		t.Fatalf("expected read at %s, got %v", clock.Now(), n.ReadAt)
	}
}

func TestEngine_DoneAfterStop(t *testing.T) {
	t.Parallel()

	t.Run("started engine", func(t *testing.T) {
		channel := newFakeChannel()
		engine := startEngine(t, newFakeAPI(), notification.Options{Channel: channel, OrganizationID: "san-roque"})
		channel.awaitTopics(t, 2)

		select {
		case <-engine.Done():
			t.Fatalf("done before stop")
		default:
		}
		engine.Stop()
		select {
		case <-engine.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("engine goroutines did not exit after stop")
		}
	})

	t.Run("never started", func(t *testing.T) {
		engine, err := notification.New(newFakeAPI(), notification.Options{UserID: "42"})
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		engine.Stop()
		select {
		case <-engine.Done():
		default:
			t.Fatalf("expected an unstarted engine to be done after stop")
		}
	})
}
