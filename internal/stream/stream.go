// Package stream manages one receive-only event stream connection. A Stream
// is single use: once Closed or Failed, a new one is constructed for the
// next connection.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/slackline/internal/errs"
	"github.com/codefionn/slackline/internal/logger"
	"github.com/codefionn/slackline/internal/metrics"
	"github.com/codefionn/slackline/internal/model"
	"github.com/codefionn/slackline/internal/wire"
)

const (
	// Time allowed to write a control frame to the server.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from the server.
	maxFrameSize = 4 << 20

	defaultPingInterval = 30 * time.Second

	method = "stream"
)

// State is the lifecycle state of a Stream.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned by Open when Close was called while opening.
	ErrClosed = errors.New("stream closed")
	// ErrUsed is returned by Open on a stream that is not Idle.
	ErrUsed = errors.New("stream already used")

	errGoodbye = errors.New("server said goodbye")
)

// Opener issues a fresh stream endpoint.
type Opener interface {
	ConnectStream(ctx context.Context) (wire.StreamEndpoint, error)
}

// Decoder decodes one frame.
type Decoder interface {
	DecodeEvent(raw []byte) (model.Event, error)
}

// Config holds the collaborators of a Stream.
type Config struct {
	Opener  Opener
	Decoder Decoder
	// Deliver hands one event to the consumer. It may block; frames are not
	// read while it does, which preserves arrival order end to end.
	Deliver func(ctx context.Context, ev model.Event) error
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// PingInterval is the keepalive period. The connection is considered
	// dead when no frame or pong arrives within two intervals.
	PingInterval time.Duration
	Metrics      *metrics.Metrics
	Logger       *logger.Logger
}

// Stream is one event stream connection.
type Stream struct {
	cfg Config
	log *logger.Logger

	mu       sync.Mutex
	state    State
	closing  bool
	conn     *websocket.Conn
	endpoint wire.StreamEndpoint
	err      error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle Stream.
func New(cfg Config) *Stream {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().WithPrefix("stream")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// State returns the current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the stream reaches Closed or Failed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream ended: nil after a deliberate Close, the open
// failure after Failed, a network error otherwise.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Endpoint returns the endpoint the stream was opened against.
func (s *Stream) Endpoint() wire.StreamEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Open obtains an endpoint, dials it and starts delivering events. It
// returns once the stream is Open or has failed.
func (s *Stream) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrUsed
	}
	s.state = StateOpening
	s.mu.Unlock()
	s.log.Debug("opening")

	openCtx, cancelOpen := context.WithCancel(ctx)
	defer cancelOpen()
	stopWatch := context.AfterFunc(s.ctx, cancelOpen)
	defer stopWatch()

	ep, err := s.cfg.Opener.ConnectStream(openCtx)
	if err != nil {
		return s.fail(err)
	}

	conn, resp, err := s.cfg.Dialer.DialContext(openCtx, ep.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return s.fail(errs.Network(method, fmt.Errorf("dial: %w", err)))
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return s.fail(ErrClosed)
	}
	s.state = StateOpen
	s.conn = conn
	s.endpoint = ep
	s.mu.Unlock()
	s.log.Info("open")

	go s.readLoop(conn)
	return nil
}

// fail ends an Opening stream. A Close during opening wins over the cause.
func (s *Stream) fail(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		s.state = StateClosed
		s.err = nil
		cause = ErrClosed
	} else {
		s.state = StateFailed
		s.err = cause
		s.log.Warn("open failed: %v", cause)
	}
	s.cancel()
	close(s.done)
	return cause
}

// Close ends the stream deliberately. It is safe in any state and from any
// goroutine.
func (s *Stream) Close() {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateClosed
		s.cancel()
		close(s.done)
		s.mu.Unlock()
	case StateOpening:
		s.closing = true
		s.cancel()
		s.mu.Unlock()
	case StateOpen:
		if s.closing {
			s.mu.Unlock()
			return
		}
		s.closing = true
		conn := s.conn
		s.cancel()
		s.mu.Unlock()

		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	default:
		s.mu.Unlock()
	}
}

// finish moves an Open stream to Closed.
func (s *Stream) finish(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		reason = nil
	}
	s.state = StateClosed
	s.err = reason
	s.conn.Close()
	s.cancel()
	close(s.done)
	if reason != nil {
		s.log.Warn("closed: %v", reason)
	} else {
		s.log.Info("closed")
	}
}

func (s *Stream) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	pongWait := 2 * s.cfg.PingInterval

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.pingLoop(conn)

	reason := s.read(conn, pongWait)

	// Consumers see the end of the stream before Done fires, unless it was
	// closed on purpose or the server already announced it.
	if reason != nil && !errors.Is(reason, errGoodbye) && !s.isClosing() {
		_ = s.cfg.Deliver(s.ctx, model.StreamEndEvent{Reason: reason.Error()})
	}
	s.finish(reason)
}

func (s *Stream) read(conn *websocket.Conn, pongWait time.Duration) error {
	if err := s.cfg.Deliver(s.ctx, model.StreamStartEvent{}); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errs.Network(method, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := s.cfg.Decoder.DecodeEvent(data)
		if err != nil {
			s.cfg.Metrics.DecodeError()
			s.log.Warn("dropping frame of %d bytes: %v", len(data), err)
			continue
		}
		s.cfg.Metrics.ObserveEvent(ev.Type())

		switch ev.(type) {
		case model.StreamStartEvent:
			// Already synthesized when the connection opened.
			continue
		case model.StreamEndEvent:
			if err := s.cfg.Deliver(s.ctx, ev); err != nil {
				return err
			}
			return errs.Network(method, errGoodbye)
		}

		if err := s.cfg.Deliver(s.ctx, ev); err != nil {
			return err
		}
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug("ping failed: %v", err)
				return
			}
		}
	}
}
