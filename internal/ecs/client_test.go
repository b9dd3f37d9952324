package ecs_test

import (
	"context"
	"testing"
	"time"

	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
	"campus-sync/internal/ecstest"
	"campus-sync/internal/httpx"
)

func newTestClient(b *ecstest.Broker) *ecs.Client {
	c := ecs.New(b.URL(), "test-token")
	c.Retry = httpx.RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
	return c
}

func TestResourceRoundTrip(t *testing.T) {
	b := ecstest.New()
	defer b.Close()
	c := newTestClient(b)
	ctx := context.Background()

	link := &domain.CourseLinkResource{URL: "https://local.example/course/7", Title: "Algebra I"}
	id, err := c.CreateResource(ctx, link, ecs.Target{Participants: []int{12}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == 0 {
		t.Fatal("create returned id 0")
	}

	var got domain.CourseLinkResource
	if err := c.FetchResource(ctx, id, &got); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.URL != link.URL || got.Title != link.Title {
		t.Errorf("fetched %+v, want %+v", got, *link)
	}

	det, err := c.ResourceDetails(ctx, id, domain.TypeCourseLink)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if !det.Owner.ItsYou {
		t.Error("expected owner.itsyou for a resource we created")
	}
	if len(det.Receivers) != 1 || det.Receivers[0].MID != 12 {
		t.Errorf("receivers = %+v, want mid 12", det.Receivers)
	}

	link.Title = "Algebra I (updated)"
	if err := c.UpdateResource(ctx, id, link, ecs.Target{Participants: []int{12}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.FetchResource(ctx, id, &got); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if got.Title != "Algebra I (updated)" {
		t.Errorf("title after update = %q", got.Title)
	}

	if err := c.DeleteResource(ctx, id, domain.TypeCourseLink); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.FetchResource(ctx, id, &got); !ecs.IsProtocol(err) {
		t.Errorf("fetch after delete: want protocol error, got %v", err)
	}
}

func TestResourceExists(t *testing.T) {
	b := ecstest.New()
	defer b.Close()
	c := newTestClient(b)
	ctx := context.Background()

	id := b.Receive(&domain.CourseResource{LectureID: "abc", Title: "Course"}, 3)

	ok, err := c.ResourceExists(ctx, id, domain.TypeCourse)
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v; want true", ok, err)
	}
	ok, err = c.ResourceExists(ctx, id+999, domain.TypeCourse)
	if err != nil {
		t.Fatalf("exists on missing id: %v", err)
	}
	if ok {
		t.Error("expected missing resource to report false")
	}
}

func TestListResourceIDs(t *testing.T) {
	b := ecstest.New()
	defer b.Close()
	c := newTestClient(b)
	ctx := context.Background()

	recvID := b.Receive(&domain.CourseResource{LectureID: "r1"}, 3)
	sentID, err := c.CreateResource(ctx, &domain.CourseURLResource{CMSCourseID: "r1"}, ecs.Target{Participants: []int{3}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := c.ListResourceIDs(ctx, domain.TypeCourse, ecs.DirReceived)
	if err != nil {
		t.Fatalf("list received: %v", err)
	}
	if len(got) != 1 || got[0] != recvID {
		t.Errorf("received course ids = %v, want [%d]", got, recvID)
	}

	got, err = c.ListResourceIDs(ctx, domain.TypeCourseURL, ecs.DirSent)
	if err != nil {
		t.Fatalf("list sent: %v", err)
	}
	if len(got) != 1 || got[0] != sentID {
		t.Errorf("sent course_url ids = %v, want [%d]", got, sentID)
	}
}

func TestAuthTokenSingleUse(t *testing.T) {
	b := ecstest.New()
	defer b.Close()
	c := newTestClient(b)
	ctx := context.Background()

	tok, err := c.RequestAuthToken(ctx, "realm-1", "https://remote.example/course/5", 9)
	if err != nil {
		t.Fatalf("request token: %v", err)
	}
	if tok.Hash == "" {
		t.Fatal("empty hash")
	}

	confirmed, err := c.ConfirmAuthToken(ctx, tok.Hash)
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if confirmed.Realm != "realm-1" {
		t.Errorf("realm = %q, want realm-1", confirmed.Realm)
	}

	if _, err := c.ConfirmAuthToken(ctx, tok.Hash); !ecs.IsProtocol(err) {
		t.Errorf("second confirm: want protocol error, got %v", err)
	}
}

func TestPollEventsPeekThenAck(t *testing.T) {
	b := ecstest.New()
	defer b.Close()
	c := newTestClient(b)
	ctx := context.Background()

	id := b.Receive(&domain.CourseResource{LectureID: "x"}, 3)

	evs, err := c.PollEvents(ctx, false)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("peek returned %d events, want 1", len(evs))
	}
	typ, resID, ok := evs[0].ResourceRef()
	if !ok || typ != domain.TypeCourse || resID != id {
		t.Errorf("event ref = %v/%d (%v), want %v/%d", typ, resID, ok, domain.TypeCourse, id)
	}

	// Peeking must not consume.
	if b.PendingEvents() != 1 {
		t.Fatal("peek consumed the feed")
	}

	if _, err := c.PollEvents(ctx, true); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if b.PendingEvents() != 0 {
		t.Error("ack left events queued")
	}
}

func TestTransportErrorKind(t *testing.T) {
	c := ecs.New("http://127.0.0.1:1", "t") // nothing listens here
	c.Retry = httpx.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	_, err := c.PollEvents(context.Background(), false)
	if !ecs.IsTransport(err) {
		t.Errorf("want transport error from unreachable broker, got %v", err)
	}
}
