package fishfish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	msgs      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	case <-c.done:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	headers []http.Header
	dials   int
}

func (d *fakeDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (SocketConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials >= len(d.conns) {
		return nil, errors.New("no more connections scripted")
	}
	conn := d.conns[d.dials]
	d.headers = append(d.headers, header.Clone())
	d.dials++
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newOfflineFeed(t *testing.T) (*Client, *Feed) {
	t.Helper()
	c := newTestClient(t, "http://unused.invalid", http.DefaultClient, nil)
	f, err := c.NewFeed(FeedConfig{Identity: "tester", Dialer: &fakeDialer{}})
	if err != nil {
		t.Fatal(err)
	}
	return c, f
}

func event(t *testing.T, kind EventKind, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := json.Marshal(map[string]interface{}{"type": kind, "data": json.RawMessage(raw)})
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	_, f := newOfflineFeed(t)

	var delays []time.Duration
	for i := 0; i < 10; i++ {
		delays = append(delays, f.nextBackoff())
	}

	if delays[0] != time.Second {
		t.Errorf("first delay = %s, want 1s (floor(e^0))", delays[0])
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("delay[%d] = %s < delay[%d] = %s; backoff must be non-decreasing",
				i, delays[i], i-1, delays[i-1])
		}
		if delays[i] > maxBackoff {
			t.Errorf("delay[%d] = %s exceeds cap %s", i, delays[i], maxBackoff)
		}
	}
	if delays[len(delays)-1] != maxBackoff {
		t.Errorf("final delay = %s, want cap %s", delays[len(delays)-1], maxBackoff)
	}

	// Successful open resets the counter, so backoff restarts at the base.
	f.attempts = 0
	if got := f.nextBackoff(); got != time.Second {
		t.Errorf("delay after reset = %s, want 1s", got)
	}
}

func TestUpdateMergesOntoEmptyBase(t *testing.T) {
	c, f := newOfflineFeed(t)

	f.handleMessage(event(t, EventDomainUpdate, map[string]interface{}{
		"name":     "late.example",
		"category": "malware",
	}))

	d, ok := c.domains.get("late.example")
	if !ok {
		t.Fatal("update for an absent identifier must create a cache entry")
	}
	if d.Category != CategoryMalware {
		t.Errorf("category = %q, want malware", d.Category)
	}
	if d.Description != "" || d.Target != "" {
		t.Error("entry must contain exactly the updated fields")
	}
	if !d.Added.IsZero() {
		t.Error("added must remain unset")
	}
}

func TestEventApplication(t *testing.T) {
	c, f := newOfflineFeed(t)

	f.handleMessage(event(t, EventDomainCreate, map[string]interface{}{
		"name":        "evil.example",
		"category":    "phishing",
		"description": "phish kit",
		"added":       1700000000,
		"checked":     1700000000,
	}))
	d, ok := c.domains.get("evil.example")
	if !ok || d.Category != CategoryPhishing {
		t.Fatalf("create not applied: %+v ok=%v", d, ok)
	}

	f.handleMessage(event(t, EventDomainUpdate, map[string]interface{}{
		"name":     "evil.example",
		"category": "safe",
	}))
	d, _ = c.domains.get("evil.example")
	if d.Category != CategorySafe {
		t.Errorf("category after update = %q, want safe", d.Category)
	}
	if d.Description != "phish kit" {
		t.Errorf("update must merge, not replace; description = %q", d.Description)
	}

	f.handleMessage(event(t, EventDomainDelete, map[string]interface{}{
		"name": "evil.example",
	}))
	if _, ok := c.domains.get("evil.example"); ok {
		t.Error("delete not applied")
	}

	// Delete of an absent entry and unknown kinds are no-ops, never fatal.
	f.handleMessage(event(t, EventURLDelete, map[string]interface{}{"url": "https://gone.example"}))
	f.handleMessage(event(t, EventKind("domain_exploded"), map[string]interface{}{"name": "x"}))
	f.handleMessage([]byte("{not json"))
}

func TestFeedRunDeliversEventsAndTearsDown(t *testing.T) {
	var exchanges int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/@me/tokens", tokenHandler(&exchanges, time.Hour))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.Client(), nil)
	defer c.Close()

	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	events := make(chan FeedEvent, 16)
	f, err := c.NewFeed(FeedConfig{
		Identity: "tester",
		Dialer:   dialer,
		OnEvent:  func(e FeedEvent) { events <- e },
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- f.Run(ctx) }()

	conn.msgs <- event(t, EventURLCreate, map[string]interface{}{
		"url":      "https://evil.example/kit",
		"category": "phishing",
	})

	select {
	case e := <-events:
		if e.Kind != EventURLCreate || e.URL == nil || e.URL.URL != "https://evil.example/kit" {
			t.Errorf("unexpected event: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	if f.State() != FeedConnected {
		t.Errorf("state = %s, want connected", f.State())
	}
	if _, ok := c.urls.get("https://evil.example/kit"); !ok {
		t.Error("event not applied to cache")
	}

	// Handshake carried the token and identity.
	hdr := dialer.headers[0]
	if hdr.Get("Authorization") == "" {
		t.Error("dial must carry the session token")
	}
	if hdr.Get("X-Identity") != "tester" {
		t.Errorf("X-Identity = %q, want tester", hdr.Get("X-Identity"))
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if f.State() != FeedDisconnected {
		t.Errorf("state after teardown = %s, want disconnected", f.State())
	}
}

func TestFeedReconnectsAfterClose(t *testing.T) {
	var exchanges int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/@me/tokens", tokenHandler(&exchanges, time.Hour))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.Client(), nil)
	defer c.Close()

	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	f, err := c.NewFeed(FeedConfig{Identity: "tester", Dialer: dialer})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- f.Run(ctx) }()

	// Wait for the first connection, then drop it; the feed should back
	// off (1s at attempt 0) and redial.
	deadline := time.Now().Add(2 * time.Second)
	for dialer.dialCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	first.Close()

	deadline = time.Now().Add(5 * time.Second)
	for dialer.dialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if dialer.dialCount() != 2 {
		t.Fatalf("dials = %d, want 2 (reconnect after close)", dialer.dialCount())
	}

	// The successful reopen resets the attempt counter.
	deadline = time.Now().Add(2 * time.Second)
	for f.State() != FeedConnected && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.attempts != 0 {
		t.Errorf("attempts = %d after successful reopen, want 0", f.attempts)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
