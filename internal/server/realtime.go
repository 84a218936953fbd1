package server

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/textube/backend/internal/links"
)

const (
	StatusEventName      = "submission-status"
	statusEventHeartbeat = "heartbeat"
	statusStreamCapacity = 16
)

// StatusFilter selects which status events a stream receives. An empty
// SubmissionID follows every submission of the user.
type StatusFilter struct {
	UserID       string
	SubmissionID string
}

func (f StatusFilter) matches(event links.StatusEvent) bool {
	return f.SubmissionID == "" || f.SubmissionID == event.SubmissionID
}

// StatusDispatcher fans submission status changes out to the submitting
// user's open event streams. It remembers the latest status of every
// submission still in flight so a new stream starts from the current state.
type StatusDispatcher struct {
	mu          sync.Mutex
	subscribers map[string]map[int64]*statusSubscription
	inFlight    map[string]map[string]links.StatusEvent
	nextID      int64
}

// statusSubscription queues at most one undelivered event per submission.
// A later status replaces the queued one, so a slow reader skips
// intermediate states but always sees where each submission ended up.
type statusSubscription struct {
	id     int64
	filter StatusFilter
	out    chan links.StatusEvent
	wake   chan struct{}
	stop   chan struct{}

	mu     sync.Mutex
	queued map[string]links.StatusEvent
	order  []string
}

func NewStatusDispatcher() *StatusDispatcher {
	return &StatusDispatcher{
		subscribers: make(map[string]map[int64]*statusSubscription),
		inFlight:    make(map[string]map[string]links.StatusEvent),
	}
}

// Subscribe opens a stream for filter until ctx is done or cleanup runs. The
// stream first replays the current status of matching in-flight submissions.
// A stream filtered to one submission closes after that submission's terminal
// status. Anonymous callers receive a closed channel.
func (d *StatusDispatcher) Subscribe(ctx context.Context, filter StatusFilter) (<-chan links.StatusEvent, func()) {
	if filter.UserID == "" {
		ch := make(chan links.StatusEvent)
		close(ch)
		return ch, func() {}
	}
	subscription := &statusSubscription{
		filter: filter,
		out:    make(chan links.StatusEvent, statusStreamCapacity),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		queued: make(map[string]links.StatusEvent),
	}

	d.mu.Lock()
	d.nextID++
	subscription.id = d.nextID
	if _, ok := d.subscribers[filter.UserID]; !ok {
		d.subscribers[filter.UserID] = make(map[int64]*statusSubscription)
	}
	d.subscribers[filter.UserID][subscription.id] = subscription
	replay := make([]links.StatusEvent, 0, len(d.inFlight[filter.UserID]))
	for _, event := range d.inFlight[filter.UserID] {
		if filter.matches(event) {
			replay = append(replay, event)
		}
	}
	d.mu.Unlock()

	slices.SortFunc(replay, func(a, b links.StatusEvent) int {
		return cmp.Or(cmp.Compare(a.AtSeconds, b.AtSeconds), cmp.Compare(a.SubmissionID, b.SubmissionID))
	})
	for _, event := range replay {
		subscription.offer(event)
	}

	go subscription.pump(ctx, func() {
		d.unregister(filter.UserID, subscription.id)
	})

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(subscription.stop)
		})
	}
	return subscription.out, cleanup
}

// Publish records event as the submission's latest status and delivers it to
// every matching stream of event.UserID. It never blocks.
func (d *StatusDispatcher) Publish(event links.StatusEvent) {
	if event.UserID == "" || event.SubmissionID == "" {
		return
	}
	d.mu.Lock()
	d.remember(event)
	subscribers := d.subscribers[event.UserID]
	matching := make([]*statusSubscription, 0, len(subscribers))
	for _, subscription := range subscribers {
		if subscription.filter.matches(event) {
			matching = append(matching, subscription)
		}
	}
	d.mu.Unlock()

	for _, subscription := range matching {
		subscription.offer(event)
	}
}

// SubmissionStatusChanged satisfies links.StatusListener.
func (d *StatusDispatcher) SubmissionStatusChanged(event links.StatusEvent) {
	d.Publish(event)
}

// remember expects d.mu to be held.
func (d *StatusDispatcher) remember(event links.StatusEvent) {
	latest := d.inFlight[event.UserID]
	if event.Status.Terminal() {
		if latest != nil {
			delete(latest, event.SubmissionID)
			if len(latest) == 0 {
				delete(d.inFlight, event.UserID)
			}
		}
		return
	}
	if latest == nil {
		latest = make(map[string]links.StatusEvent)
		d.inFlight[event.UserID] = latest
	}
	latest[event.SubmissionID] = event
}

func (d *StatusDispatcher) unregister(userID string, subscriptionID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[userID]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriptionID)
	if len(subscribers) == 0 {
		delete(d.subscribers, userID)
	}
}

func (d *StatusDispatcher) subscriberCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers[userID])
}

func (d *StatusDispatcher) inFlightCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight[userID])
}

func (s *statusSubscription) offer(event links.StatusEvent) {
	s.mu.Lock()
	if _, queued := s.queued[event.SubmissionID]; !queued {
		s.order = append(s.order, event.SubmissionID)
	}
	s.queued[event.SubmissionID] = event
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *statusSubscription) next() (links.StatusEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return links.StatusEvent{}, false
	}
	submissionID := s.order[0]
	s.order = s.order[1:]
	event := s.queued[submissionID]
	delete(s.queued, submissionID)
	return event, true
}

// pump moves queued events onto out until the subscription ends.
func (s *statusSubscription) pump(ctx context.Context, release func()) {
	defer close(s.out)
	defer release()
	for {
		event, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case s.out <- event:
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
		if s.filter.SubmissionID != "" && event.Status.Terminal() {
			return
		}
	}
}
