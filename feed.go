package fishfish

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fishfish-gg/fishfish-go/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventKind identifies a realtime change event.
type EventKind string

const (
	EventDomainCreate EventKind = "domain_create"
	EventDomainDelete EventKind = "domain_delete"
	EventDomainUpdate EventKind = "domain_update"
	EventURLCreate    EventKind = "url_create"
	EventURLDelete    EventKind = "url_delete"
	EventURLUpdate    EventKind = "url_update"
)

// FeedEvent is delivered to the OnEvent callback after the event has been
// applied to the cache. Domain is set for domain_* kinds, URL for url_*
// kinds; for update events the record is the post-merge state.
type FeedEvent struct {
	Kind   EventKind
	Domain *Domain
	URL    *URL
}

// FeedState tracks the feed connection state machine.
type FeedState int32

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedConnected
	FeedClosed
)

func (s FeedState) String() string {
	switch s {
	case FeedDisconnected:
		return "disconnected"
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	case FeedClosed:
		return "closed"
	}
	return "unknown"
}

// SocketConn is one live feed connection.
type SocketConn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// SocketDialer is the socket transport seam. The feed owns reconnect
// policy; the dialer only establishes connections.
type SocketDialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (SocketConn, error)
}

// maxBackoff caps the reconnect delay.
const maxBackoff = 600 * time.Second

// FeedConfig holds parameters for constructing a Feed.
type FeedConfig struct {
	// Identity is sent as the X-Identity header for server-side
	// attribution. Required.
	Identity string

	// Resync enables a full GetAll fetch for both entity kinds at startup
	// and on every ResyncInterval, repairing events missed while
	// disconnected. Without it, an update received for a record whose
	// create predates the connection stays partial in the cache forever.
	Resync         bool
	ResyncInterval time.Duration

	// Dialer overrides the default WebSocket transport. Useful for tests.
	Dialer SocketDialer

	// OnEvent, when set, is invoked after each event is applied.
	OnEvent func(FeedEvent)
}

// Feed consumes the realtime change stream and keeps the client's record
// cache live between bulk fetches. Reconnection uses capped exponential
// backoff and never surfaces as an error to the caller.
type Feed struct {
	client   *Client
	cfg      FeedConfig
	dialer   SocketDialer
	log      zerolog.Logger
	state    atomic.Int32
	attempts int // reconnect attempt counter, owned by the Run loop
	apply    map[EventKind]func(json.RawMessage) (*FeedEvent, error)
}

// NewFeed constructs a Feed bound to the client's cache and token manager.
func (c *Client) NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.Identity == "" {
		cfg.Identity = c.cfg.Identity
	}
	if cfg.Identity == "" {
		return nil, &InvalidInputError{Msg: "feed identity must not be empty"}
	}
	if cfg.ResyncInterval == 0 {
		cfg.ResyncInterval = time.Hour
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = gorillaDialer{}
	}
	f := &Feed{
		client: c,
		cfg:    cfg,
		dialer: dialer,
		log:    c.log.With().Str("component", "feed").Logger(),
	}
	f.apply = map[EventKind]func(json.RawMessage) (*FeedEvent, error){
		EventDomainCreate: f.applyDomainCreate,
		EventDomainDelete: f.applyDomainDelete,
		EventDomainUpdate: f.applyDomainUpdate,
		EventURLCreate:    f.applyURLCreate,
		EventURLDelete:    f.applyURLDelete,
		EventURLUpdate:    f.applyURLUpdate,
	}
	return f, nil
}

// State returns the current connection state.
func (f *Feed) State() FeedState {
	return FeedState(f.state.Load())
}

func (f *Feed) setState(s FeedState) {
	f.state.Store(int32(s))
}

// Run connects and consumes the feed until ctx is cancelled, reconnecting
// with capped exponential backoff on abnormal closes. Cancellation closes
// the live connection and stops all pending timers; no cache mutation
// happens afterwards. Always returns nil on cancellation.
func (f *Feed) Run(ctx context.Context) error {
	if f.cfg.Resync {
		go f.resyncLoop(ctx)
	}

	for {
		if ctx.Err() != nil {
			f.setState(FeedDisconnected)
			return nil
		}

		f.setState(FeedConnecting)
		conn, err := f.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				f.setState(FeedDisconnected)
				return nil
			}
			delay := f.nextBackoff()
			f.log.Warn().Err(err).Dur("backoff", delay).Int("attempt", f.attempts).
				Msg("feed connect failed")
			if !sleep(ctx, delay) {
				f.setState(FeedDisconnected)
				return nil
			}
			continue
		}

		// Successful open resets the attempt counter.
		f.attempts = 0
		f.setState(FeedConnected)
		metrics.FeedConnected.Set(1)
		f.log.Info().Msg("feed connected")

		f.readLoop(ctx, conn)

		metrics.FeedConnected.Set(0)
		f.setState(FeedClosed)
		if ctx.Err() != nil {
			f.setState(FeedDisconnected)
			return nil
		}

		metrics.FeedReconnects.Inc()
		delay := f.nextBackoff()
		f.log.Warn().Dur("backoff", delay).Int("attempt", f.attempts).
			Msg("feed closed, reconnecting")
		if !sleep(ctx, delay) {
			f.setState(FeedDisconnected)
			return nil
		}
	}
}

// dial acquires a session token and opens the socket with the token and
// identity headers.
func (f *Feed) dial(ctx context.Context) (SocketConn, error) {
	tok, err := f.client.auth.acquire(ctx, nil)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", tok.Value)
	header.Set("X-Identity", f.cfg.Identity)
	return f.dialer.DialContext(ctx, f.client.cfg.StreamURL, header)
}

// readLoop consumes messages until the connection drops or ctx is
// cancelled. The connection is closed on the way out in both cases.
func (f *Feed) readLoop(ctx context.Context, conn SocketConn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			if ctx.Err() == nil {
				f.log.Debug().Err(err).Msg("feed read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		f.handleMessage(data)
	}
}

// handleMessage decodes one wire message and dispatches it by kind.
// Malformed payloads and unknown kinds are logged and dropped, never fatal.
func (f *Feed) handleMessage(data []byte) {
	var msg struct {
		Type EventKind       `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.FeedEventsDropped.WithLabelValues("decode_error").Inc()
		f.log.Warn().Err(err).Msg("feed message decode failed")
		return
	}

	handler, ok := f.apply[msg.Type]
	if !ok {
		metrics.FeedEventsDropped.WithLabelValues("unknown_kind").Inc()
		f.log.Warn().Str("type", string(msg.Type)).Msg("unknown feed event kind")
		return
	}

	event, err := handler(msg.Data)
	if err != nil {
		metrics.FeedEventsDropped.WithLabelValues("invalid_data").Inc()
		f.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("feed event dropped")
		return
	}
	metrics.FeedEvents.WithLabelValues(string(msg.Type)).Inc()

	if f.cfg.OnEvent != nil {
		f.cfg.OnEvent(*event)
	}
}

// --- Domain events ------------------------------------------------------

func (f *Feed) applyDomainCreate(raw json.RawMessage) (*FeedEvent, error) {
	var d Domain
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if d.Name == "" {
		return nil, &InvalidInputError{Msg: "domain create event without name"}
	}
	if f.client.domains != nil {
		f.client.domains.set(d.Name, d)
	}
	return &FeedEvent{Kind: EventDomainCreate, Domain: &d}, nil
}

func (f *Feed) applyDomainDelete(raw json.RawMessage) (*FeedEvent, error) {
	var d Domain
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if d.Name == "" {
		return nil, &InvalidInputError{Msg: "domain delete event without name"}
	}
	if f.client.domains != nil {
		f.client.domains.delete(d.Name)
	}
	return &FeedEvent{Kind: EventDomainDelete, Domain: &d}, nil
}

func (f *Feed) applyDomainUpdate(raw json.RawMessage) (*FeedEvent, error) {
	var frag struct {
		Name        string     `json:"name"`
		Category    *Category  `json:"category"`
		Description *string    `json:"description"`
		Target      *string    `json:"target"`
		Added       *Timestamp `json:"added"`
		Checked     *Timestamp `json:"checked"`
	}
	if err := json.Unmarshal(raw, &frag); err != nil {
		return nil, err
	}
	if frag.Name == "" {
		return nil, &InvalidInputError{Msg: "domain update event without name"}
	}

	mergeFn := func(cur Domain) Domain {
		cur.Name = frag.Name
		if frag.Category != nil {
			cur.Category = *frag.Category
		}
		if frag.Description != nil {
			cur.Description = *frag.Description
		}
		if frag.Target != nil {
			cur.Target = *frag.Target
		}
		if frag.Added != nil {
			cur.Added = *frag.Added
		}
		if frag.Checked != nil {
			cur.Checked = *frag.Checked
		}
		return cur
	}

	// Updates may arrive before the matching create; the merge then runs
	// against an empty base.
	var merged Domain
	if f.client.domains != nil {
		merged = f.client.domains.merge(frag.Name, mergeFn)
	} else {
		merged = mergeFn(Domain{})
	}
	return &FeedEvent{Kind: EventDomainUpdate, Domain: &merged}, nil
}

// --- URL events ----------------------------------------------------------

func (f *Feed) applyURLCreate(raw json.RawMessage) (*FeedEvent, error) {
	var u URL
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	if u.URL == "" {
		return nil, &InvalidInputError{Msg: "url create event without url"}
	}
	if f.client.urls != nil {
		f.client.urls.set(u.URL, u)
	}
	return &FeedEvent{Kind: EventURLCreate, URL: &u}, nil
}

func (f *Feed) applyURLDelete(raw json.RawMessage) (*FeedEvent, error) {
	var u URL
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	if u.URL == "" {
		return nil, &InvalidInputError{Msg: "url delete event without url"}
	}
	if f.client.urls != nil {
		f.client.urls.delete(u.URL)
	}
	return &FeedEvent{Kind: EventURLDelete, URL: &u}, nil
}

func (f *Feed) applyURLUpdate(raw json.RawMessage) (*FeedEvent, error) {
	var frag struct {
		URL         string     `json:"url"`
		Category    *Category  `json:"category"`
		Description *string    `json:"description"`
		Target      *string    `json:"target"`
		Added       *Timestamp `json:"added"`
		Checked     *Timestamp `json:"checked"`
	}
	if err := json.Unmarshal(raw, &frag); err != nil {
		return nil, err
	}
	if frag.URL == "" {
		return nil, &InvalidInputError{Msg: "url update event without url"}
	}

	mergeFn := func(cur URL) URL {
		cur.URL = frag.URL
		if frag.Category != nil {
			cur.Category = *frag.Category
		}
		if frag.Description != nil {
			cur.Description = *frag.Description
		}
		if frag.Target != nil {
			cur.Target = *frag.Target
		}
		if frag.Added != nil {
			cur.Added = *frag.Added
		}
		if frag.Checked != nil {
			cur.Checked = *frag.Checked
		}
		return cur
	}

	var merged URL
	if f.client.urls != nil {
		merged = f.client.urls.merge(frag.URL, mergeFn)
	} else {
		merged = mergeFn(URL{})
	}
	return &FeedEvent{Kind: EventURLUpdate, URL: &merged}, nil
}

// --- Resync ---------------------------------------------------------------

// resyncLoop repairs missed events with full bulk fetches, once at startup
// and then on every interval. Belt-and-suspenders next to the event stream.
func (f *Feed) resyncLoop(ctx context.Context) {
	f.resync(ctx)

	ticker := time.NewTicker(f.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.resync(ctx)
		}
	}
}

func (f *Feed) resync(ctx context.Context) {
	start := time.Now()
	if _, err := f.client.GetAllDomains(ctx, "", true); err != nil {
		f.log.Warn().Err(err).Msg("domain resync failed")
	}
	if _, err := f.client.GetAllURLs(ctx, "", true); err != nil {
		f.log.Warn().Err(err).Msg("url resync failed")
	}
	metrics.ResyncDuration.Observe(time.Since(start).Seconds())
	f.log.Debug().Dur("elapsed", time.Since(start)).Msg("resync complete")
}

// --- Backoff ----------------------------------------------------------------

// nextBackoff returns min(floor(e^attempt), 600) seconds and increments the
// attempt counter.
func (f *Feed) nextBackoff() time.Duration {
	secs := math.Floor(math.Exp(float64(f.attempts)))
	if secs > maxBackoff.Seconds() {
		secs = maxBackoff.Seconds()
	}
	f.attempts++
	return time.Duration(secs) * time.Second
}

// sleep waits for d or cancellation; false means ctx was cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// --- Default WebSocket transport ---------------------------------------------

type gorillaDialer struct{}

func (gorillaDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (SocketConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, urlStr, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return gorillaConn{conn}, nil
}

type gorillaConn struct {
	*websocket.Conn
}

func (c gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := c.Conn.ReadMessage()
	return data, err
}
