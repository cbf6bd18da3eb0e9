// Package client assembles the action client, event stream, sync engine and
// reconnect supervisor into one object the presentation layer drives.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/codefionn/slackline/internal/api"
	"github.com/codefionn/slackline/internal/cache"
	"github.com/codefionn/slackline/internal/config"
	"github.com/codefionn/slackline/internal/engine"
	"github.com/codefionn/slackline/internal/errs"
	"github.com/codefionn/slackline/internal/logger"
	"github.com/codefionn/slackline/internal/metrics"
	"github.com/codefionn/slackline/internal/notify"
	"github.com/codefionn/slackline/internal/securemem"
	"github.com/codefionn/slackline/internal/supervisor"
	"github.com/codefionn/slackline/internal/wire"
)

// ErrNotLoggedIn is returned by actions issued without a valid session.
var ErrNotLoggedIn = errors.New("not logged in")

// Config holds client configuration
type Config struct {
	APIURL     string
	HTTPClient *http.Client
	// RequestTimeout applies when HTTPClient is nil.
	RequestTimeout time.Duration
	RateLimit      rate.Limit
	RateBurst      int
	Dialer         *websocket.Dialer
	PingInterval   time.Duration

	MinDelay           time.Duration
	MaxDelay           time.Duration
	MaxConnectAttempts int

	// HistoryPageSize is the number of messages fetched per history call.
	HistoryPageSize int

	// Cache is optional. The client does not close it.
	Cache *cache.Cache
	// Notifier is optional.
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// OnChange receives every model change. It runs on the engine goroutine
	// and must not call query methods of the client.
	OnChange func(engine.Change)
	// OnStateChange receives connection state transitions.
	OnStateChange func(supervisor.ConnectionState)
	// OnAuthFailure is called once when the session needs
	// re-authentication. Call Start with a fresh token to recover.
	OnAuthFailure func(error)
}

// FromConfig maps the file configuration onto a client Config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		APIURL:             cfg.APIURL,
		RequestTimeout:     cfg.RequestTimeoutDuration(),
		RateLimit:          rate.Limit(cfg.RateLimitPerSecond),
		RateBurst:          cfg.RateLimitBurst,
		PingInterval:       cfg.PingIntervalDuration(),
		MinDelay:           cfg.ReconnectMinDelay(),
		MaxDelay:           cfg.ReconnectMaxDelay(),
		MaxConnectAttempts: cfg.MaxConnectAttempts,
		HistoryPageSize:    cfg.HistoryPageSize,
	}
}

// Client is the messaging client core.
type Client struct {
	cfg    Config
	log    *logger.Logger
	engine *engine.Engine
	api    *api.Client
	codec  *wire.Codec
	sup    *supervisor.Supervisor

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	token   *securemem.Token
	session *api.Session

	writer     atomic.Pointer[cache.Writer]
	writerTeam string
}

// New creates a client. It stays Disconnected until Start.
func New(cfg Config) (*Client, error) {
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	c := &Client{
		cfg: cfg,
		log: logger.Global().WithPrefix("client"),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	engineCfg := engine.Config{
		OnChange:      c.changed,
		OnAuthFailure: c.authFailed,
		EnrichTimeout: cfg.RequestTimeout,
	}
	if cfg.Notifier != nil {
		engineCfg.OnNewMessage = cfg.Notifier.MessageReceived
	}
	c.engine = engine.New(engineCfg)
	cfg.Metrics.ObserveMailbox("engine", c.engine.Backlog)
	c.codec = wire.NewCodec(c.engine.Directory())

	apiClient, err := api.NewClient(api.ClientConfig{
		BaseURL:    cfg.APIURL,
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.RequestTimeout,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.RateBurst,
		Metrics:    cfg.Metrics,
		Resolver:   c.engine.Directory(),
	})
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.api = apiClient

	if err := c.engine.Start(c.ctx); err != nil {
		c.cancel()
		return nil, err
	}

	c.sup = supervisor.New(supervisor.Config{
		Connector:          connector{c},
		MinDelay:           cfg.MinDelay,
		MaxDelay:           cfg.MaxDelay,
		MaxConnectAttempts: cfg.MaxConnectAttempts,
		OnStateChange:      cfg.OnStateChange,
		OnAuthFailure:      c.sessionRejected,
		Metrics:            cfg.Metrics,
	})
	return c, nil
}

// Engine gives read access to the model.
func (c *Client) Engine() *engine.Engine {
	return c.engine
}

// State returns the connection state.
func (c *Client) State() supervisor.ConnectionState {
	return c.sup.State()
}

// Start connects. A non-nil token replaces the current one and with it the
// session: the open stream is closed and a new connecting series begins.
// Pass nil to reconnect with the token already held, e.g. after Stop. Start
// must not be called from an OnStateChange or OnAuthFailure callback.
func (c *Client) Start(token *securemem.Token) {
	if token == nil {
		c.sup.Start()
		return
	}

	c.mu.Lock()
	old := c.token
	c.token = token
	c.session = nil
	c.mu.Unlock()

	// detach the old session before its token is wiped, so no enrichment
	// runs with it
	if err := c.engine.SetSession(c.ctx, nil, nil); err != nil {
		c.log.Warn("detaching session: %v", err)
	}
	c.sup.Restart()
	if old != nil && old != token {
		old.Destroy()
	}
}

// Stop closes the event stream deliberately and returns once it is closed.
// The session and the model are kept for the next Start.
func (c *Client) Stop() {
	c.sup.Stop()
}

// Logout stops the client and forgets the session. The token is wiped. It
// returns with the stream closed and the client Disconnected.
func (c *Client) Logout(ctx context.Context) error {
	c.sup.Stop()

	c.mu.Lock()
	token := c.token
	c.token = nil
	c.session = nil
	c.mu.Unlock()

	err := c.engine.SetSession(ctx, nil, nil)
	if token != nil {
		token.Destroy()
	}
	c.closeWriter(ctx)
	return err
}

// Close releases everything. The client cannot be used afterwards.
func (c *Client) Close(ctx context.Context) error {
	c.sup.Shutdown()
	c.closeWriter(ctx)
	err := c.engine.Stop(ctx)
	c.cancel()
	c.api.CloseIdleConnections()
	return err
}

// SetNetworkAvailable forwards the platform's connectivity signal.
func (c *Client) SetNetworkAvailable(available bool) {
	if available {
		c.api.CloseIdleConnections()
	}
	c.sup.SetNetworkAvailable(available)
}

// SetAppActive records whether the app has focus, for notification
// suppression.
func (c *Client) SetAppActive(active bool) {
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.SetAppActive(active)
	}
}

// SetActiveWindow records which channel the user is looking at.
func (c *Client) SetActiveWindow(channelID string) {
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.SetActiveChannel(channelID)
	}
}

// Reconfigure applies the settings that can change while running.
func (c *Client) Reconfigure(cfg *config.Config) {
	logger.Global().SetLevel(logger.ParseLevel(cfg.LogLevel))
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.SetEnabled(cfg.Notifications.Enabled)
		c.cfg.Notifier.SetMuted(cfg.Notifications.MutedChannels)
	}
}

// Self returns the signed-in user's id, or "" without a session.
func (c *Client) Self() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.Identity().UserID
}

func (c *Client) changed(ch engine.Change) {
	if ch.Message != nil && (ch.Kind == engine.MessageAdded || ch.Kind == engine.MessageUpdated) {
		if w := c.writer.Load(); w != nil {
			w.Store(*ch.Message)
		}
	}
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(ch)
	}
}

// authFailed reports a rejection seen outside the supervisor.
func (c *Client) authFailed(err error) {
	c.sup.AuthFailed(err)
}

// sessionRejected runs once per halt, on the supervisor goroutine.
func (c *Client) sessionRejected(err error) {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	if c.cfg.OnAuthFailure != nil {
		c.cfg.OnAuthFailure(err)
	}
}

// check forwards fatal action failures to the supervisor.
func (c *Client) check(err error) error {
	if err != nil && errs.IsFatal(err) {
		c.authFailed(err)
	}
	return err
}

// currentSession returns the logged-in session.
func (c *Client) currentSession() (*api.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNotLoggedIn
	}
	return c.session, nil
}

// login returns the session, logging in with the held token first if
// needed.
func (c *Client) login(ctx context.Context) (*api.Session, error) {
	c.mu.Lock()
	sess, token := c.session, c.token
	c.mu.Unlock()
	if sess != nil {
		return sess, nil
	}
	if token == nil || token.IsEmpty() {
		return nil, errs.FromCode(string(wire.MethodAuthTest), "not_authed")
	}

	sess, err := c.api.Login(ctx, token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.token != token {
		// replaced while logging in
		c.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	c.session = sess
	c.mu.Unlock()

	id := sess.Identity()
	c.log.Info("logged in as %s on %s", id.UserID, id.TeamID)
	if err := c.engine.SetSession(ctx, id, sess); err != nil {
		return nil, err
	}
	c.openCache(ctx, id.TeamID)
	return sess, nil
}

// openCache starts persisting messages of team and hydrates the engine
// from what was persisted before.
func (c *Client) openCache(ctx context.Context, teamID string) {
	if c.cfg.Cache == nil {
		return
	}
	if c.writer.Load() != nil && c.writerTeam == teamID {
		return
	}
	c.closeWriter(ctx)

	msgs, err := c.cfg.Cache.Load(ctx, teamID, c.cfg.HistoryPageSize)
	if err != nil {
		c.log.Warn("reading message cache: %v", err)
	} else if len(msgs) > 0 {
		c.log.Debug("hydrating %d cached messages", len(msgs))
		if err := c.engine.Hydrate(ctx, msgs); err != nil {
			c.log.Warn("hydrating from cache: %v", err)
		}
	}

	w := cache.NewWriter(c.cfg.Cache, teamID, c.cfg.Metrics, 0)
	if err := w.Start(c.ctx); err != nil {
		c.log.Warn("starting cache writer: %v", err)
		return
	}
	c.writerTeam = teamID
	c.writer.Store(w)
}

func (c *Client) closeWriter(ctx context.Context) {
	w := c.writer.Swap(nil)
	if w == nil {
		return
	}
	if err := w.Flush(ctx); err != nil {
		c.log.Warn("flushing message cache: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		c.log.Warn("stopping cache writer: %v", err)
	}
}
