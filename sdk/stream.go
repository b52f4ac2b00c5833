package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamState is the lifecycle state of a Stream.
type StreamState int

const (
	// StateIdle means no socket is open and no reconnect is pending
	StateIdle StreamState = iota
	// StateConnecting means a deployment lookup or dial is in flight
	StateConnecting
	// StateOpen means a socket is open
	StateOpen
	// StateReconnecting means the socket failed and a reconnect is scheduled
	StateReconnecting
	// StateClosed means Close was called; the stream will not connect again
	StateClosed
)

// String returns the string representation of the state
func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamStats is a snapshot of a stream's counters.
type StreamStats struct {
	Opens       int64
	Errors      int64
	Reconnects  int64
	Messages    int64
	ConnectedAt time.Time
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithReconnectDelay sets a fixed delay between a socket failure and the
// next connection attempt. Default: 250ms.
func WithReconnectDelay(delay time.Duration) StreamOption {
	return func(s *Stream) {
		if delay < 0 {
			delay = 0
		}
		s.strategy = NewFixedIntervalStrategy(delay)
	}
}

// WithReconnectStrategy sets the strategy that computes reconnect delays.
func WithReconnectStrategy(strategy ReconnectStrategy) StreamOption {
	return func(s *Stream) {
		if strategy != nil {
			s.strategy = strategy
		}
	}
}

// WithReconnectOnClose makes normal closes (codes 1000 and 1001 sent by the
// platform) schedule a reconnect too. By default only failures do.
func WithReconnectOnClose(enabled bool) StreamOption {
	return func(s *Stream) {
		s.reconnectOnClose = enabled
	}
}

// WithStreamLogger sets the logger for stream lifecycle messages.
func WithStreamLogger(logger *logrus.Entry) StreamOption {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStreamObserver sets the observer notified of stream activity.
func WithStreamObserver(observer Observer) StreamOption {
	return func(s *Stream) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(dialer *websocket.Dialer) StreamOption {
	return func(s *Stream) {
		if dialer != nil {
			s.dialer = dialer
		}
	}
}

// WithDialHeader sets extra headers for the websocket handshake.
func WithDialHeader(header http.Header) StreamOption {
	return func(s *Stream) {
		s.header = header
	}
}

// WithConnectTimeout bounds reconnect attempts started by the stream itself.
// Default: 30s.
func WithConnectTimeout(timeout time.Duration) StreamOption {
	return func(s *Stream) {
		if timeout > 0 {
			s.connectTimeout = timeout
		}
	}
}

// closeGrace is how long Close waits for the platform to echo the close frame
const closeGrace = time.Second

// Stream is a durable subscription to a deployment's console output.
//
// The platform closes console sockets on an interval and reports each
// forced disconnect as a failure. Stream hides this: after a failure it
// emits EventError and EventClose, then resolves a fresh socket URL and
// reconnects after the configured delay. Normal closes (1000, 1001) only
// emit EventClose. Close stops the stream for good.
//
// Handlers run on the stream's read goroutine (EventOpen runs on the
// goroutine that called Connect) and must not block for long.
//
// Example:
//
//	stream, err := client.Stream("834213", sdk.WithReconnectDelay(time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stream.OnMessage(func(msg json.RawMessage) {
//	    fmt.Println(string(msg))
//	})
//	stream.OnError(func(err error) {
//	    log.Printf("console stream: %v", err)
//	})
//	if err := stream.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Close()
type Stream struct {
	resolver         DeploymentResolver
	deploymentID     string
	strategy         ReconnectStrategy
	reconnectOnClose bool
	dialer           *websocket.Dialer
	header           http.Header
	connectTimeout   time.Duration
	logger           *logrus.Entry
	observer         Observer
	bus              *eventBus

	mu         sync.Mutex
	current    *streamConn
	enabled    bool
	generation uint64
	timer      *time.Timer
	attempt    int
	state      StreamState
	stats      StreamStats
	done       chan struct{}
}

// streamConn is one socket and the generation it was opened for
type streamConn struct {
	ws             *websocket.Conn
	gen            uint64
	closedByCaller atomic.Bool
}

// NewStream creates a console stream for deploymentID. The resolver is
// asked for a fresh socket URL before every connection attempt.
// It returns an invalid-argument error when resolver or deploymentID is missing.
func NewStream(resolver DeploymentResolver, deploymentID string, opts ...StreamOption) (*Stream, error) {
	if resolver == nil {
		return nil, invalidArgument("missing", "resolver", nil)
	}
	if deploymentID == "" {
		return nil, invalidArgument("missing", "deploymentID", nil)
	}

	s := &Stream{
		resolver:     resolver,
		deploymentID: deploymentID,
		strategy:     NewFixedIntervalStrategy(DefaultReconnectDelay),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		connectTimeout: 30 * time.Second,
		logger:         discardLogger(),
		observer:       &NoopObserver{},
		bus:            newEventBus(),
		enabled:        true,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("deployment_id", deploymentID)
	return s, nil
}

// DeploymentID returns the deployment the stream follows.
func (s *Stream) DeploymentID() string {
	return s.deploymentID
}

// On registers handler for eventType. Handlers run in registration order.
// A handler registered while an event is being delivered first sees the
// next event of that type.
func (s *Stream) On(eventType EventType, handler Handler) error {
	if !eventType.Valid() {
		return invalidArgument("incompatible", "type", string(eventType))
	}
	if handler == nil {
		return invalidArgument("incompatible", "callback", nil)
	}
	s.bus.subscribe(eventType, handler)
	return nil
}

// OnOpen registers fn for EventOpen.
func (s *Stream) OnOpen(fn func()) error {
	if fn == nil {
		return invalidArgument("incompatible", "callback", nil)
	}
	return s.On(EventOpen, func(Event) { fn() })
}

// OnClose registers fn for EventClose.
func (s *Stream) OnClose(fn func(code int, text string)) error {
	if fn == nil {
		return invalidArgument("incompatible", "callback", nil)
	}
	return s.On(EventClose, func(ev Event) { fn(ev.Code, ev.Text) })
}

// OnError registers fn for EventError.
func (s *Stream) OnError(fn func(err error)) error {
	if fn == nil {
		return invalidArgument("incompatible", "callback", nil)
	}
	return s.On(EventError, func(ev Event) { fn(ev.Err) })
}

// OnMessage registers fn for EventMessage.
func (s *Stream) OnMessage(fn func(payload json.RawMessage)) error {
	if fn == nil {
		return invalidArgument("incompatible", "callback", nil)
	}
	return s.On(EventMessage, func(ev Event) { fn(ev.Payload) })
}

// HandleMessages registers fn for messages decoded into T.
// A message that does not decode into T is reported as EventError.
//
// Example:
//
//	type ConsoleLine struct {
//	    Method string        `json:"method"`
//	    Data   []interface{} `json:"data"`
//	}
//
//	sdk.HandleMessages(stream, func(line ConsoleLine) {
//	    fmt.Println(line.Method, line.Data)
//	})
func HandleMessages[T any](s *Stream, fn func(T)) error {
	if fn == nil {
		return invalidArgument("incompatible", "callback", nil)
	}
	return s.On(EventMessage, func(ev Event) {
		var msg T
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			perr := newProtocolError("message", fmt.Sprintf("failed to decode message: %v", err), string(ev.Payload))
			s.emit(Event{Type: EventError, Err: perr.ToError()})
			return
		}
		fn(msg)
	})
}

// Connect resolves the deployment's socket URL, dials it and starts
// delivering events. It replaces any socket the stream already has.
//
// Connect returns nil without doing anything once Close has been called.
// Lookup and dial failures are returned and are not retried. If a newer
// Connect started while this one was in flight, the socket is discarded
// and ErrStaleConnection is returned.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	gen := s.generation
	s.stopTimerLocked()
	s.state = StateConnecting
	s.mu.Unlock()

	deployment, err := s.resolver.GetDeployment(ctx, s.deploymentID)
	if err != nil {
		s.connectFailed(gen)
		return fmt.Errorf("resolve deployment %s: %w", s.deploymentID, err)
	}

	ws, resp, err := s.dialer.DialContext(ctx, deployment.WorkbenchURL, s.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.connectFailed(gen)
		netErr := &NetworkError{Op: "dial", Err: err}
		return netErr.ToError()
	}

	sc := &streamConn{ws: ws, gen: gen}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		ws.Close()
		return nil
	}
	if s.generation != gen {
		s.mu.Unlock()
		ws.Close()
		return ErrStaleConnection
	}
	prev := s.current
	s.current = sc
	s.state = StateOpen
	s.attempt = 0
	s.stats.Opens++
	s.stats.ConnectedAt = time.Now()
	s.mu.Unlock()

	if prev != nil {
		prev.ws.Close()
	}

	s.logger.Info("console stream opened")
	s.observer.OnStreamOpen(s.deploymentID)
	s.emit(Event{Type: EventOpen})

	go s.readLoop(sc)
	return nil
}

// connectFailed resets the state of a failed attempt that is still current
func (s *Stream) connectFailed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen && s.state == StateConnecting {
		s.state = StateIdle
		s.current = nil
	}
}

// Close stops the stream: it cancels any pending reconnect and closes the
// socket with a normal close frame. EventClose is still delivered for that
// socket. Close is a no-op while the stream is idle (no socket, no attempt in
// flight, no reconnect pending), and calling it again has no effect.
func (s *Stream) Close() error {
	s.mu.Lock()
	if !s.enabled || (s.current == nil && s.state == StateIdle) {
		s.mu.Unlock()
		return nil
	}
	s.enabled = false
	s.generation++
	s.stopTimerLocked()
	sc := s.current
	s.current = nil
	s.state = StateClosed
	if sc != nil {
		// set before the read loop can observe the socket as replaced
		sc.closedByCaller.Store(true)
	}
	s.mu.Unlock()

	close(s.done)
	s.logger.Info("console stream closed by caller")

	if sc == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := sc.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
		return sc.ws.Close()
	}
	time.AfterFunc(closeGrace, func() {
		sc.ws.Close()
	})
	return nil
}

// Done is closed once Close has been called.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Stream) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.bus.emit(ev)
}

func (s *Stream) isCurrent(sc *streamConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == sc
}

func (s *Stream) readLoop(sc *streamConn) {
	for {
		_, data, err := sc.ws.ReadMessage()
		if err != nil {
			s.handleReadError(sc, err)
			return
		}
		if !s.isCurrent(sc) {
			if sc.closedByCaller.Load() {
				// drain until the close frame arrives
				continue
			}
			return
		}

		payload, err := decodeFrame(data)
		if err != nil {
			s.mu.Lock()
			s.stats.Errors++
			s.mu.Unlock()
			s.logger.WithError(err).Warn("dropping malformed console frame")
			s.observer.OnStreamError(s.deploymentID, err)
			s.emit(Event{Type: EventError, Err: err})
			continue
		}

		s.mu.Lock()
		s.stats.Messages++
		s.mu.Unlock()
		s.observer.OnStreamMessage(s.deploymentID)
		s.emit(Event{Type: EventMessage, Payload: payload})
	}
}

// handleReadError maps the end of a socket onto events and, for failures,
// a scheduled reconnect
func (s *Stream) handleReadError(sc *streamConn, err error) {
	code, text := closeStatus(err)

	if sc.closedByCaller.Load() {
		if code == websocket.CloseAbnormalClosure {
			code = websocket.CloseNormalClosure
		}
		s.emitClose(code, text)
		return
	}

	s.mu.Lock()
	if s.current != sc {
		// replaced by a newer Connect
		s.mu.Unlock()
		return
	}
	s.current = nil

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reconnect := s.reconnectOnClose && s.enabled
		if !reconnect {
			s.state = StateIdle
		}
		s.mu.Unlock()

		sc.ws.Close()
		s.logger.WithField("code", code).Info("console stream closed by platform")
		s.emitClose(code, text)
		if reconnect {
			s.scheduleReconnect(sc.gen)
		}
		return
	}

	s.stats.Errors++
	s.state = StateReconnecting
	s.mu.Unlock()

	streamErr := (&NetworkError{Op: "read", Err: err}).ToError()
	s.logger.WithError(err).Debug("console stream dropped")
	s.observer.OnStreamError(s.deploymentID, streamErr)
	s.emit(Event{Type: EventError, Err: streamErr})

	// best effort; the socket is already unusable
	_ = sc.ws.Close()

	s.emitClose(code, text)
	s.scheduleReconnect(sc.gen)
}

func (s *Stream) emitClose(code int, text string) {
	s.observer.OnStreamClose(s.deploymentID, code)
	s.emit(Event{Type: EventClose, Code: code, Text: text})
}

// scheduleReconnect arms the reconnect timer for the generation that failed.
// The timer only acts if the stream is still enabled and nothing newer ran.
func (s *Stream) scheduleReconnect(gen uint64) {
	s.mu.Lock()
	if !s.enabled || s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.attempt++
	attempt := s.attempt
	delay := s.strategy.NextInterval(attempt)
	if delay < 0 {
		delay = 0
	}
	s.state = StateReconnecting
	s.stats.Reconnects++
	s.stopTimerLocked()
	s.timer = time.AfterFunc(delay, func() {
		s.reconnect(gen)
	})
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"attempt": attempt,
		"delay":   delay.String(),
	}).Debug("console stream reconnect scheduled")
	s.observer.OnReconnectScheduled(s.deploymentID, attempt, delay)
}

func (s *Stream) reconnect(gen uint64) {
	s.mu.Lock()
	stale := !s.enabled || s.generation != gen
	s.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()

	err := s.Connect(ctx)
	if err == nil || errors.Is(err, ErrStaleConnection) {
		return
	}

	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
	s.logger.WithError(err).Warn("console stream reconnect failed")
	s.observer.OnStreamError(s.deploymentID, err)
	s.emit(Event{Type: EventError, Err: err})
}

func (s *Stream) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// closeStatus extracts the close code and reason from a read error.
// Errors that carry no close frame map to 1006.
func closeStatus(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return websocket.CloseAbnormalClosure, ""
}
