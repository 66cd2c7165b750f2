// Command primeserver runs the prime-check TCP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/primewire/logger"
	"github.com/cyberinferno/primewire/prime"
	"github.com/cyberinferno/primewire/server"
	"github.com/cyberinferno/primewire/verdictcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const banner = "Starting Server :"

type options struct {
	port         int
	host         string
	maxSessions  int
	readTimeout  time.Duration
	writeTimeout time.Duration
	acceptRate   float64
	acceptBurst  int
	logLevel     string
	logFormat    string
	cacheKind    string
	cacheTTL     time.Duration
	redisAddr    string
	metricsAddr  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	cmd := newRootCmd(out)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %s\n", err)
		return 1
	}

	return 0
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "primeserver",
		Short: "Serve prime checks over TCP",
		Long: `primeserver listens for TCP connections and answers every integer a
client sends with "<n> is prime" or "<n> is not prime". A client ends its
session by sending 0. The server runs until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, out)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.port, "port", server.DefaultPort, "TCP port to listen on")
	f.StringVar(&opts.host, "host", "", "Interface to listen on (empty means all)")
	f.IntVar(&opts.maxSessions, "max-sessions", 0, "Sessions served at once; 0 is unlimited, 1 serves clients one at a time")
	f.DurationVar(&opts.readTimeout, "read-timeout", 0, "Idle limit while waiting for a number (0 waits forever)")
	f.DurationVar(&opts.writeTimeout, "write-timeout", 0, "Max time to send a verdict (0 means no timeout)")
	f.Float64Var(&opts.acceptRate, "accept-rate", 0, "Connections accepted per second (0 is unlimited)")
	f.IntVar(&opts.acceptBurst, "accept-burst", 1, "Connections accepted at once above --accept-rate")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "console", "Log format (console, json)")
	f.StringVar(&opts.cacheKind, "cache", "memory", "Verdict cache (none, memory, redis)")
	f.DurationVar(&opts.cacheTTL, "cache-ttl", time.Hour, "How long verdicts stay cached")
	f.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "Redis address for --cache=redis")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")

	return cmd
}

func newLogger(opts options, out io.Writer) (logger.Logger, error) {
	lvl, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, err
	}

	switch opts.logFormat {
	case "console":
		return logger.NewConsoleLogger("primeserver", lvl), nil
	case "json":
		return logger.NewJSONLogger(out, "primeserver", lvl), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.logFormat)
	}
}

// newCache builds the verdict cache named by opts.cacheKind. The returned
// cleanup releases any client connection.
func newCache(opts options, log logger.Logger) (verdictcache.Cache, func(), error) {
	switch opts.cacheKind {
	case "none", "":
		return nil, func() {}, nil
	case "memory":
		return verdictcache.NewMemory(opts.cacheTTL, 10*time.Minute), func() {}, nil
	case "redis":
		rc := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		cleanup := func() {
			if err := rc.Close(); err != nil {
				log.Warn("closing redis client", logger.F("error", err))
			}
		}

		return verdictcache.NewRedis(rc, verdictcache.DefaultRedisPrefix, opts.cacheTTL, log), cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache %q", opts.cacheKind)
	}
}

func serve(ctx context.Context, opts options, out io.Writer) error {
	log, err := newLogger(opts, out)
	if err != nil {
		return err
	}

	vc, cleanup, err := newCache(opts, log)
	if err != nil {
		return err
	}
	defer cleanup()

	var oracle *prime.Oracle
	if vc != nil {
		oracle = prime.NewOracle(vc, log)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := server.DefaultConfig()
	cfg.Addr = fmt.Sprintf("%s:%d", opts.host, opts.port)
	cfg.MaxSessions = opts.maxSessions
	cfg.ReadTimeout = opts.readTimeout
	cfg.WriteTimeout = opts.writeTimeout
	cfg.AcceptRate = opts.acceptRate
	cfg.AcceptBurst = opts.acceptBurst

	srv := server.New(cfg,
		server.WithLogger(log),
		server.WithOracle(oracle),
		server.WithRegisterer(reg),
	)

	if opts.metricsAddr != "" {
		stopMetrics := serveMetrics(opts.metricsAddr, reg, log)
		defer stopMetrics()
	}

	if err := srv.Start(); err != nil {
		return err
	}

	fmt.Fprintln(out, banner)
	srv.Wait(ctx)
	return nil
}

// serveMetrics exposes reg on /metrics in the background and returns a
// function that shuts the endpoint down.
func serveMetrics(addr string, reg *prometheus.Registry, log logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics endpoint started", logger.F("addr", addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint failed", logger.F("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(ctx)
	}
}
