package notification

import "time"

// State is the client view of a user's notifications.
type State struct {
	Notifications []Notification
	UnreadCount   int
}

// Effect describes the side effects an applied action asks for.
type Effect struct {
	// Changed is true when the state differs from the one before the action.
	Changed bool
	// Alert carries a newly inserted notification that should be surfaced to
	// the user through the best-effort notifier.
	Alert *Notification
}

// Action is a single inbound update. Poll snapshots, push deltas and local
// optimistic edits are all actions so every source goes through one merge
// path keyed by notification id.
type Action interface {
	reduce(State) (State, Effect)
}

// Apply returns the state after action together with its effect. The
// receiver is never modified.
func (s State) Apply(action Action) (State, Effect) {
	if action == nil {
		return s, Effect{}
	}
	return action.reduce(s)
}

func (s State) index(id string) int {
	for i, n := range s.Notifications {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func decrement(count int) int {
	if count <= 0 {
		return 0
	}
	return count - 1
}

// Snapshot merges a server list into the state, keyed by notification id.
// Server order and fields win for every id the list carries, and repeated
// ids collapse to the first occurrence.
//
// Stale marks a list fetched before the latest local edit or push delta.
// Such a list cannot undo what happened since: entries it does not mention
// are kept in front, and entries already read locally stay read.
type Snapshot struct {
	List  []Notification
	Stale bool
}

func (a Snapshot) reduce(s State) (State, Effect) {
	fetched := make(map[string]struct{}, len(a.List))
	for _, n := range a.List {
		fetched[n.ID] = struct{}{}
	}

	list := make([]Notification, 0, len(a.List)+len(s.Notifications))
	local := make(map[string]Notification, len(s.Notifications))
	for _, n := range s.Notifications {
		local[n.ID] = n
		if _, ok := fetched[n.ID]; !ok && a.Stale {
			list = append(list, n)
		}
	}

	seen := make(map[string]struct{}, len(a.List))
	for _, n := range a.List {
		if n.ID == "" {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		if prev, ok := local[n.ID]; ok && a.Stale && prev.IsRead && !n.IsRead {
			n.IsRead = true
			n.ReadAt = prev.ReadAt
		}
		list = append(list, n)
	}

	next := State{Notifications: cloneNotifications(list), UnreadCount: s.UnreadCount}
	return next, Effect{Changed: !sameList(s.Notifications, next.Notifications)}
}

// Count sets the unread counter from an authoritative server read.
type Count struct {
	N int
}

func (a Count) reduce(s State) (State, Effect) {
	n := a.N
	if n < 0 {
		n = 0
	}
	if n == s.UnreadCount {
		return s, Effect{}
	}
	s.UnreadCount = n
	return s, Effect{Changed: true}
}

// Created inserts a new notification at the front unless its id is known.
type Created struct {
	Notification Notification
}

func (a Created) reduce(s State) (State, Effect) {
	if a.Notification.ID == "" || s.index(a.Notification.ID) >= 0 {
		return s, Effect{}
	}
	list := make([]Notification, 0, len(s.Notifications)+1)
	list = append(list, a.Notification)
	list = append(list, s.Notifications...)
	next := State{Notifications: list, UnreadCount: s.UnreadCount}
	if !a.Notification.IsRead {
		next.UnreadCount++
	}
	alert := a.Notification
	return next, Effect{Changed: true, Alert: &alert}
}

// Read marks one notification read as reported by the server. The counter
// drops only when a known entry transitions from unread to read.
type Read struct {
	ID string
	At time.Time
}

func (a Read) reduce(s State) (State, Effect) {
	next, flipped := markRead(s, a.ID, a.At)
	if !flipped {
		return s, Effect{}
	}
	next.UnreadCount = decrement(next.UnreadCount)
	return next, Effect{Changed: true}
}

// LocalRead is the optimistic flip issued before the server confirms a read.
// It leaves the counter alone; the caller resyncs it from the server.
type LocalRead struct {
	ID string
	At time.Time
}

func (a LocalRead) reduce(s State) (State, Effect) {
	next, flipped := markRead(s, a.ID, a.At)
	if !flipped {
		return s, Effect{}
	}
	return next, Effect{Changed: true}
}

// ReadAll marks every notification read and zeroes the counter.
type ReadAll struct {
	At time.Time
}

func (a ReadAll) reduce(s State) (State, Effect) {
	changed := s.UnreadCount != 0
	list := cloneNotifications(s.Notifications)
	for i := range list {
		if !list[i].IsRead {
			list[i].IsRead = true
			at := a.At
			list[i].ReadAt = &at
			changed = true
		}
	}
	return State{Notifications: list, UnreadCount: 0}, Effect{Changed: changed}
}

// Deleted removes a notification as reported by the server, decrementing the
// counter when the removed entry was unread.
type Deleted struct {
	ID string
}

func (a Deleted) reduce(s State) (State, Effect) {
	next, removed, ok := remove(s, a.ID)
	if !ok {
		return s, Effect{}
	}
	if !removed.IsRead {
		next.UnreadCount = decrement(next.UnreadCount)
	}
	return next, Effect{Changed: true}
}

// LocalDeleted is the optimistic removal issued before the server confirms a
// delete. The counter is resynced by the caller.
type LocalDeleted struct {
	ID string
}

func (a LocalDeleted) reduce(s State) (State, Effect) {
	next, _, ok := remove(s, a.ID)
	if !ok {
		return s, Effect{}
	}
	return next, Effect{Changed: true}
}

func markRead(s State, id string, at time.Time) (State, bool) {
	i := s.index(id)
	if i < 0 || s.Notifications[i].IsRead {
		return s, false
	}
	list := cloneNotifications(s.Notifications)
	list[i].IsRead = true
	list[i].ReadAt = &at
	return State{Notifications: list, UnreadCount: s.UnreadCount}, true
}

func remove(s State, id string) (State, Notification, bool) {
	i := s.index(id)
	if i < 0 {
		return s, Notification{}, false
	}
	removed := s.Notifications[i]
	list := make([]Notification, 0, len(s.Notifications)-1)
	list = append(list, s.Notifications[:i]...)
	list = append(list, s.Notifications[i+1:]...)
	return State{Notifications: list, UnreadCount: s.UnreadCount}, removed, true
}

func sameList(a, b []Notification) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].IsRead != b[i].IsRead || a[i].Title != b[i].Title || a[i].Message != b[i].Message {
			return false
		}
	}
	return true
}
