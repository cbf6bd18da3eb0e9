// slackline is a line-oriented workspace client. It connects with the token
// from SLACKLINE_TOKEN (or a .env file), prints live messages of the open
// channel and reads commands from stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/codefionn/slackline/internal/cache"
	"github.com/codefionn/slackline/internal/client"
	"github.com/codefionn/slackline/internal/config"
	"github.com/codefionn/slackline/internal/logger"
	"github.com/codefionn/slackline/internal/metrics"
	"github.com/codefionn/slackline/internal/notify"
	"github.com/codefionn/slackline/internal/pprof"
	"github.com/codefionn/slackline/internal/securemem"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	configPath  string
	logLevel    string
	logPath     string
	apiURL      string
	metricsAddr string
	cachePath   string
	noCache     bool
	channel     string
	profiling   bool
	cpuProfile  string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, *pflag.FlagSet, error) {
	var opts options
	flagSet := pflag.NewFlagSet("slackline", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", config.GetConfigPath(), "path to the config file")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error, none)")
	flagSet.StringVar(&opts.logPath, "log-path", "", "log file path")
	flagSet.StringVar(&opts.apiURL, "api-url", "", "base URL of the workspace API")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	flagSet.StringVar(&opts.cachePath, "cache", "", "message cache database path")
	flagSet.BoolVar(&opts.noCache, "no-cache", false, "do not read or write the message cache")
	flagSet.StringVar(&opts.channel, "channel", "", "channel id to open after connecting")
	flagSet.BoolVar(&opts.profiling, "pprof", false, "expose /debug/pprof/ on the metrics address")
	flagSet.StringVar(&opts.cpuProfile, "cpu-profile", "", "write a CPU profile of the run to this file")
	err := flagSet.Parse(args)
	return opts, flagSet, err
}

// applyFlags overrides cfg with the flags that were set explicitly.
func applyFlags(cfg *config.Config, opts options, flagSet *pflag.FlagSet) {
	if flagSet.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flagSet.Changed("log-path") {
		cfg.LogPath = opts.logPath
	}
	if flagSet.Changed("api-url") {
		cfg.APIURL = opts.apiURL
	}
	if flagSet.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if flagSet.Changed("cache") {
		cfg.CachePath = opts.cachePath
	}
}

func run() (err error) {
	// missing .env is fine
	_ = godotenv.Load(".env")

	opts, flagSet, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	applyFlags(cfg, opts, flagSet)

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("fatal: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	logger.Info("slackline starting (config %s)", opts.configPath)

	secret := os.Getenv("SLACKLINE_TOKEN")
	if secret == "" {
		return errors.New("SLACKLINE_TOKEN is not set")
	}
	os.Unsetenv("SLACKLINE_TOKEN")
	token := securemem.NewToken(secret)

	out := newPrinter(os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	diag := pprof.NewHandler(pprof.Config{
		Addr:       cfg.MetricsAddr,
		Metrics:    m.Handler(),
		Profiling:  opts.profiling,
		CPUProfile: opts.cpuProfile,
	})
	if err := diag.Start(); err != nil {
		return err
	}
	defer func() {
		if err := diag.Stop(); err != nil {
			logger.Warn("stopping diagnostics: %v", err)
		}
	}()

	var store *cache.Cache
	if !opts.noCache && cfg.CachePath != "" {
		store, err = cache.Open(cfg.CachePath)
		if err != nil {
			logger.Warn("message cache disabled: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	notifier := notify.New(notify.SinkFunc(out.notification))

	ui := &session{out: out, pending: opts.channel}
	clientCfg := client.FromConfig(cfg)
	clientCfg.Cache = store
	clientCfg.Notifier = notifier
	clientCfg.Metrics = m
	clientCfg.OnChange = ui.changed
	clientCfg.OnStateChange = ui.stateChanged
	clientCfg.OnAuthFailure = ui.authFailed

	c, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	ui.client = c
	ui.dir = c.Engine().Directory()

	closeClient := func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelClose()
		if err := c.Close(closeCtx); err != nil {
			logger.Warn("closing client: %v", err)
		}
	}
	securemem.Init(func(os.Signal) {
		closeClient()
		diag.Stop()
		if store != nil {
			store.Close()
		}
		logger.Global().Close()
	})
	defer securemem.Cleanup()
	defer closeClient()

	c.Reconfigure(cfg)
	if err := config.Watch(ctx, opts.configPath, func(next *config.Config) {
		next.ApplyEnv(os.Getenv)
		applyFlags(next, opts, flagSet)
		logger.Info("config reloaded")
		c.Reconfigure(next)
	}); err != nil {
		logger.Warn("config hot reload disabled: %v", err)
	}

	c.SetAppActive(true)
	c.Start(token)

	return ui.loop(ctx, os.Stdin)
}
