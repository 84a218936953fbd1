package server

import (
	"context"
	"testing"
	"time"

	"github.com/textube/backend/internal/links"
)

func receiveStatus(t *testing.T, stream <-chan links.StatusEvent) links.StatusEvent {
	t.Helper()
	select {
	case event, ok := <-stream:
		if !ok {
			t.Fatal("stream closed before an event arrived")
		}
		return event
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected status event within deadline")
	}
	return links.StatusEvent{}
}

func TestStatusDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewStatusDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, StatusFilter{UserID: "user-1"})
	defer cleanup()

	postID := "post-1"
	dispatcher.SubmissionStatusChanged(links.StatusEvent{
		SubmissionID: "sub-1",
		UserID:       "user-1",
		Status:       links.StatusCompleted,
		PostID:       &postID,
		AtSeconds:    1700000000,
	})

	received := receiveStatus(t, stream)
	if received.Status != links.StatusCompleted {
		t.Fatalf("expected status %s, got %s", links.StatusCompleted, received.Status)
	}
	if received.PostID == nil || *received.PostID != postID {
		t.Fatalf("expected post id %s, got %v", postID, received.PostID)
	}
	if dispatcher.inFlightCount("user-1") != 0 {
		t.Fatalf("terminal submissions must not be retained for replay")
	}
}

func TestStatusDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewStatusDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, StatusFilter{UserID: "user-2"})
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(ctx, StatusFilter{UserID: "user-3"})
	defer otherCleanup()

	dispatcher.Publish(links.StatusEvent{
		SubmissionID: "sub-9",
		UserID:       "user-3",
		Status:       links.StatusProcessing,
	})

	select {
	case <-userStream:
		t.Fatal("did not expect status event for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	if event := receiveStatus(t, otherStream); event.UserID != "user-3" {
		t.Fatalf("expected user-3, received %s", event.UserID)
	}
}

func TestStatusDispatcherIgnoresAnonymousEvents(t *testing.T) {
	dispatcher := NewStatusDispatcher()

	anonymous, cleanup := dispatcher.Subscribe(context.Background(), StatusFilter{})
	defer cleanup()
	if _, open := <-anonymous; open {
		t.Fatal("expected closed stream for anonymous subscriber")
	}

	// Must not panic or block.
	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-1", Status: links.StatusPending})
	if dispatcher.inFlightCount("") != 0 {
		t.Fatal("anonymous events must not be retained")
	}
}

func TestStatusDispatcherUnregistersOnCancel(t *testing.T) {
	dispatcher := NewStatusDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, cleanup := dispatcher.Subscribe(ctx, StatusFilter{UserID: "user-4"})
	if dispatcher.subscriberCount("user-4") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	select {
	case _, open := <-stream:
		if open {
			t.Fatal("expected stream to close after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("stream was not closed after cancellation")
	}
	if dispatcher.subscriberCount("user-4") != 0 {
		t.Fatal("subscriber was not removed after cancellation")
	}
	cleanup()
}

func TestStatusDispatcherReplaysInFlightSubmissions(t *testing.T) {
	dispatcher := NewStatusDispatcher()
	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-late", UserID: "user-6", Status: links.StatusPending, AtSeconds: 10})
	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-late", UserID: "user-6", Status: links.StatusProcessing, AtSeconds: 12})
	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-early", UserID: "user-6", Status: links.StatusPending, AtSeconds: 5})
	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-done", UserID: "user-6", Status: links.StatusPending, AtSeconds: 1})
	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-done", UserID: "user-6", Status: links.StatusRejected, AtSeconds: 2})
	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-other", UserID: "user-7", Status: links.StatusPending, AtSeconds: 3})

	if dispatcher.inFlightCount("user-6") != 2 {
		t.Fatalf("expected two in-flight submissions, got %d", dispatcher.inFlightCount("user-6"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := dispatcher.Subscribe(ctx, StatusFilter{UserID: "user-6"})
	defer cleanup()

	first := receiveStatus(t, stream)
	if first.SubmissionID != "sub-early" || first.Status != links.StatusPending {
		t.Fatalf("expected sub-early pending first, got %+v", first)
	}
	second := receiveStatus(t, stream)
	if second.SubmissionID != "sub-late" || second.Status != links.StatusProcessing {
		t.Fatalf("expected latest sub-late status second, got %+v", second)
	}
	select {
	case extra := <-stream:
		t.Fatalf("replay must skip settled and foreign submissions, got %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStatusDispatcherSubmissionStreamEndsWhenSettled(t *testing.T) {
	dispatcher := NewStatusDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, StatusFilter{UserID: "user-8", SubmissionID: "sub-1"})
	defer cleanup()

	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-2", UserID: "user-8", Status: links.StatusProcessing, AtSeconds: 1})
	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-1", UserID: "user-8", Status: links.StatusProcessing, AtSeconds: 2})
	dispatcher.Publish(links.StatusEvent{SubmissionID: "sub-1", UserID: "user-8", Status: links.StatusFailed, AtSeconds: 3})

	var last links.StatusEvent
	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case event, ok := <-stream:
			if !ok {
				open = false
				continue
			}
			if event.SubmissionID != "sub-1" {
				t.Fatalf("filtered stream received %s", event.SubmissionID)
			}
			last = event
		case <-deadline:
			t.Fatal("filtered stream did not close after the terminal status")
		}
	}
	if last.Status != links.StatusFailed {
		t.Fatalf("expected the stream to end on failed, got %s", last.Status)
	}
	if dispatcher.subscriberCount("user-8") != 0 {
		t.Fatal("settled stream must unregister")
	}
}

func TestStatusDispatcherSlowStreamKeepsFinalStatus(t *testing.T) {
	dispatcher := NewStatusDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, StatusFilter{UserID: "user-5"})
	defer cleanup()

	submissionIDs := []string{"sub-a", "sub-b", "sub-c"}
	published := 0
	for _, submissionID := range submissionIDs {
		for step := 0; step < statusStreamCapacity; step++ {
			dispatcher.Publish(links.StatusEvent{SubmissionID: submissionID, UserID: "user-5", Status: links.StatusProcessing, AtSeconds: int64(step)})
			published++
		}
		dispatcher.Publish(links.StatusEvent{SubmissionID: submissionID, UserID: "user-5", Status: links.StatusCompleted, AtSeconds: statusStreamCapacity})
		published++
	}

	final := make(map[string]links.Status)
	received := 0
	for settled := 0; settled < len(submissionIDs); {
		event := receiveStatus(t, stream)
		received++
		if final[event.SubmissionID] == links.StatusCompleted {
			t.Fatalf("received %s after %s had completed", event.Status, event.SubmissionID)
		}
		final[event.SubmissionID] = event.Status
		if event.Status == links.StatusCompleted {
			settled++
		}
	}
	if received >= published {
		t.Fatalf("expected a slow stream to coalesce, received %d of %d", received, published)
	}
}
