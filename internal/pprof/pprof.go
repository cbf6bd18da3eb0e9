// Package pprof serves the diagnostics endpoint of the CLI: prometheus
// metrics and, when enabled, the runtime profiles. It can also write a CPU
// profile of the whole run to a file.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/slackline/internal/logger"
)

// Config holds the diagnostics configuration
type Config struct {
	// Addr is the listen address, e.g. "localhost:9100". Empty disables
	// the server.
	Addr string
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// Profiling exposes /debug/pprof/.
	Profiling bool
	// CPUProfile is written from Start until Stop when set.
	CPUProfile string
}

// Handler manages the diagnostics server and file profiling.
type Handler struct {
	config   Config
	log      *logger.Logger
	server   *http.Server
	listener net.Listener
	cpuFile  *os.File

	mu      sync.Mutex
	stopped bool
}

// NewHandler creates a handler; nothing runs until Start.
func NewHandler(config Config) *Handler {
	return &Handler{
		config: config,
		log:    logger.Global().WithPrefix("diag"),
	}
}

// Router returns the routes served on Addr.
func (h *Handler) Router() http.Handler {
	router := httprouter.New()
	if h.config.Metrics != nil {
		router.Handler(http.MethodGet, "/metrics", h.config.Metrics)
	}
	if h.config.Profiling {
		router.GET("/debug/pprof/*profile", profile)
	}
	return router
}

// profile dispatches to the net/http/pprof handlers.
func profile(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch ps.ByName("profile") {
	case "/cmdline":
		netpprof.Cmdline(w, r)
	case "/profile":
		netpprof.Profile(w, r)
	case "/symbol":
		netpprof.Symbol(w, r)
	case "/trace":
		netpprof.Trace(w, r)
	default:
		// Index serves the named profiles and the listing.
		netpprof.Index(w, r)
	}
}

// Addr returns the bound address, or "" when no server runs.
func (h *Handler) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Start binds the server and starts CPU profiling as configured.
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.config.CPUProfile != "" {
		if err := os.MkdirAll(filepath.Dir(h.config.CPUProfile), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for CPU profile: %w", err)
		}
		f, err := os.Create(h.config.CPUProfile)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		h.cpuFile = f
	}

	if h.config.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", h.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind diagnostics server: %w", err)
	}
	h.listener = ln
	h.server = &http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Warn("diagnostics server: %v", err)
		}
	}()
	h.log.Info("diagnostics on %s", ln.Addr())
	return nil
}

// Stop shuts the server down and finishes the CPU profile. It is
// idempotent.
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true

	var errs []error
	if h.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := h.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close CPU profile: %w", err))
		}
		h.cpuFile = nil
	}
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down diagnostics server: %w", err))
		}
		h.server = nil
		h.listener = nil
	}
	return errors.Join(errs...)
}
