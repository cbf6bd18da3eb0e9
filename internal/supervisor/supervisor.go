// Package supervisor owns the connection state machine: it opens event
// streams through a Connector, retries with capped exponential backoff,
// suspends while the network is unavailable and halts on auth failure.
package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codefionn/slackline/internal/errs"
	"github.com/codefionn/slackline/internal/logger"
	"github.com/codefionn/slackline/internal/metrics"
)

// ConnectionState represents the current state of the workspace connection
type ConnectionState int32

const (
	// StateDisconnected indicates no connection and no pending attempt
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the first connection is being established
	StateConnecting
	// StateConnected indicates the stream is open and the model is synced
	StateConnected
	// StateReconnecting indicates a lost connection is being re-established
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Connection is one open event stream.
type Connection interface {
	// Done is closed when the connection ends.
	Done() <-chan struct{}
	// Err is nil after a deliberate close.
	Err() error
	Close()
}

// Connector makes one connection attempt: open a stream and bring the model
// up to date. resync is set when the model already holds synced state, so
// only the delta since the last known position is needed.
type Connector interface {
	Connect(ctx context.Context, resync bool) (Connection, error)
}

// Config holds supervisor configuration
type Config struct {
	Connector Connector
	// MinDelay is the first retry delay and the delay after every
	// successful open.
	MinDelay time.Duration
	// MaxDelay caps the retry delay.
	MaxDelay time.Duration
	// MaxConnectAttempts bounds attempts while Connecting. Reconnecting
	// retries until stopped. Zero means unbounded.
	MaxConnectAttempts int
	// OnStateChange is called from the supervisor goroutine on every
	// transition. Callbacks must not call back into the Supervisor.
	OnStateChange func(ConnectionState)
	// OnAuthFailure is called once when an attempt or a live connection is
	// rejected for authentication.
	OnAuthFailure func(error)
	// OnRetryScheduled reports the delay before the next attempt.
	OnRetryScheduled func(time.Duration)
	Metrics          *metrics.Metrics
	Logger           *logger.Logger
}

// DefaultConfig returns the retry policy used when none is configured.
func DefaultConfig() Config {
	return Config{
		MinDelay:           time.Second,
		MaxDelay:           2 * time.Minute,
		MaxConnectAttempts: 5,
	}
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdRestart
	cmdNetwork
	cmdAuthFailed
)

type command struct {
	kind      commandKind
	available bool
	err       error
	// handled is closed by the loop once the command took effect.
	handled chan struct{}
}

type attemptResult struct {
	gen  uint64
	conn Connection
	err  error
}

// Supervisor drives connection attempts. All state lives in its goroutine;
// the exported methods only post commands.
type Supervisor struct {
	cfg     Config
	log     *logger.Logger
	state   atomic.Int32
	cmds    chan command
	results chan attemptResult
	quit    chan struct{}
	exited  chan struct{}

	// loop-owned
	backoff   *backoff.ExponentialBackOff
	wanted    bool
	halted    bool
	available bool
	synced    bool
	attempts  int
	gen       uint64
	cancel    context.CancelFunc
	conn      Connection
	timer     *time.Timer
}

// New starts a supervisor in StateDisconnected. The network is assumed
// available until told otherwise.
func New(cfg Config) *Supervisor {
	defaults := DefaultConfig()
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaults.MinDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().WithPrefix("supervisor")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.MinDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	s := &Supervisor{
		cfg:       cfg,
		log:       log,
		cmds:      make(chan command),
		results:   make(chan attemptResult),
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
		backoff:   b,
		available: true,
	}
	go s.loop()
	return s
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Start requests a connection. It also clears a previous auth halt, so call
// it after re-authentication.
func (s *Supervisor) Start() {
	s.post(command{kind: cmdStart})
}

// Stop closes the connection deliberately and stops retrying. It returns
// once the state is Disconnected.
func (s *Supervisor) Stop() {
	s.postAndWait(command{kind: cmdStop})
}

// Restart drops the current connection or attempt and begins a fresh
// connecting series, e.g. after the credentials changed. It also clears an
// auth halt.
func (s *Supervisor) Restart() {
	s.postAndWait(command{kind: cmdRestart})
}

// SetNetworkAvailable reports a network availability transition.
func (s *Supervisor) SetNetworkAvailable(available bool) {
	s.post(command{kind: cmdNetwork, available: available})
}

// AuthFailed reports an authentication rejection seen outside the
// supervisor, e.g. by an action call. It halts all retries.
func (s *Supervisor) AuthFailed(err error) {
	s.post(command{kind: cmdAuthFailed, err: err})
}

// Shutdown stops the supervisor goroutine. The supervisor cannot be used
// afterwards.
func (s *Supervisor) Shutdown() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.exited
}

func (s *Supervisor) post(cmd command) {
	select {
	case s.cmds <- cmd:
	case <-s.quit:
	}
}

// postAndWait posts cmd and waits until the loop has handled it. It must not
// be called from a supervisor callback.
func (s *Supervisor) postAndWait(cmd command) {
	cmd.handled = make(chan struct{})
	s.post(cmd)
	select {
	case <-cmd.handled:
	case <-s.exited:
	}
}

func (s *Supervisor) loop() {
	defer close(s.exited)

	for {
		var connDone <-chan struct{}
		if s.conn != nil {
			connDone = s.conn.Done()
		}
		var timerC <-chan time.Time
		if s.timer != nil {
			timerC = s.timer.C
		}

		select {
		case <-s.quit:
			s.teardown()
			return

		case cmd := <-s.cmds:
			s.handle(cmd)
			if cmd.handled != nil {
				close(cmd.handled)
			}

		case r := <-s.results:
			s.handleResult(r)

		case <-connDone:
			s.handleLost()

		case <-timerC:
			s.timer = nil
			s.attempt()
		}
	}
}

func (s *Supervisor) handle(cmd command) {
	switch cmd.kind {
	case cmdStart:
		s.wanted = true
		s.halted = false
		if s.State() == StateDisconnected {
			s.connect()
		}

	case cmdStop:
		s.wanted = false
		s.teardown()
		s.setState(StateDisconnected)

	case cmdRestart:
		s.wanted = true
		s.halted = false
		s.synced = false
		s.teardown()
		s.setState(StateDisconnected)
		s.connect()

	case cmdNetwork:
		if s.available == cmd.available {
			return
		}
		s.available = cmd.available
		s.log.Info("network available: %v", cmd.available)
		if !cmd.available {
			// Suspend: no timer runs until the network comes back.
			s.teardown()
			s.setState(StateDisconnected)
			return
		}
		if s.wanted && !s.halted && s.State() == StateDisconnected {
			s.connect()
		}

	case cmdAuthFailed:
		s.haltForAuth(cmd.err)
	}
}

// connect begins a fresh series of attempts from Disconnected.
func (s *Supervisor) connect() {
	if !s.available || s.halted {
		return
	}
	s.attempts = 0
	s.backoff.Reset()
	s.setState(StateConnecting)
	s.attempt()
}

func (s *Supervisor) attempt() {
	if !s.available || s.halted || !s.wanted {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.gen++
	gen := s.gen
	resync := s.synced
	s.attempts++
	s.cfg.Metrics.ReconnectAttempt()
	s.log.Debug("connection attempt %d (resync=%v)", s.attempts, resync)

	go func() {
		conn, err := s.cfg.Connector.Connect(ctx, resync)
		select {
		case s.results <- attemptResult{gen: gen, conn: conn, err: err}:
		case <-s.quit:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (s *Supervisor) handleResult(r attemptResult) {
	if r.gen != s.gen || s.cancel == nil {
		// Superseded by a stop or a newer attempt.
		if r.conn != nil {
			r.conn.Close()
		}
		return
	}
	s.cancel()
	s.cancel = nil

	if r.err == nil {
		s.conn = r.conn
		s.synced = true
		s.attempts = 0
		s.backoff.Reset()
		s.setState(StateConnected)
		return
	}

	if errs.IsFatal(r.err) {
		s.haltForAuth(r.err)
		return
	}

	s.log.Warn("connection attempt failed: %v", r.err)
	if s.State() == StateConnecting && s.cfg.MaxConnectAttempts > 0 && s.attempts >= s.cfg.MaxConnectAttempts {
		s.log.Error("giving up after %d attempts", s.attempts)
		s.wanted = false
		s.setState(StateDisconnected)
		return
	}
	s.scheduleRetry(r.err)
}

// handleLost reacts to the live connection ending on its own.
func (s *Supervisor) handleLost() {
	err := s.conn.Err()
	s.conn = nil

	switch {
	case errs.IsFatal(err):
		s.haltForAuth(err)
	case !s.available || !s.wanted:
		s.setState(StateDisconnected)
	default:
		s.log.Warn("connection lost: %v", err)
		s.attempts = 0
		s.setState(StateReconnecting)
		s.scheduleRetry(err)
	}
}

func (s *Supervisor) scheduleRetry(cause error) {
	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = s.cfg.MaxDelay
	}
	var apiErr *errs.Error
	if errors.As(cause, &apiErr) && apiErr.Kind == errs.KindRateLimited && apiErr.RetryAfter > delay {
		delay = apiErr.RetryAfter
	}
	s.log.Info("retrying in %s", delay)
	if s.cfg.OnRetryScheduled != nil {
		s.cfg.OnRetryScheduled(delay)
	}
	s.timer = time.NewTimer(delay)
}

func (s *Supervisor) haltForAuth(err error) {
	alreadyHalted := s.halted
	s.halted = true
	s.teardown()
	s.setState(StateDisconnected)
	if !alreadyHalted {
		s.log.Error("authentication rejected, waiting for re-authentication: %v", err)
		if s.cfg.OnAuthFailure != nil {
			s.cfg.OnAuthFailure(err)
		}
	}
}

// teardown cancels any attempt, stops the timer and closes the connection.
func (s *Supervisor) teardown() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Supervisor) setState(state ConnectionState) {
	old := ConnectionState(s.state.Swap(int32(state)))
	if old == state {
		return
	}
	s.log.Info("%s -> %s", old, state)
	s.cfg.Metrics.SetConnectionState(int(state))
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}
