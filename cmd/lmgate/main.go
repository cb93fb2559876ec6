package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmgate/lmgate/internal/api"
	"github.com/lmgate/lmgate/internal/auth"
	"github.com/lmgate/lmgate/internal/config"
	"github.com/lmgate/lmgate/internal/database"
	"github.com/lmgate/lmgate/internal/logging"
	"github.com/lmgate/lmgate/internal/observe"
	"github.com/lmgate/lmgate/internal/proxy"
	"github.com/lmgate/lmgate/internal/sink"
	"github.com/lmgate/lmgate/internal/telemetry"
	"github.com/lmgate/lmgate/internal/usage"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		log.Fatalf("lmgate: %v", err)
	}
}

func run(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("lmgate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML config file (default "+config.DefaultPath+")")
	healthcheck := fs.Bool("healthcheck", false, "check API server health and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *healthcheck {
		return runHealthcheck(fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port))
	}

	logCloser, err := logging.Setup(logging.Config{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	if !log.IsLevelEnabled(log.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Disabled:    cfg.Telemetry.Disabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Warnf("telemetry disabled: %v", err)
	}

	dbCfg := database.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Dir: cfg.Database.Dir}
	if dbCfg.Enabled() {
		if err := database.Init(dbCfg); err != nil {
			return err
		}
		defer database.Close()
	}

	statistics := usage.NewStatistics()
	records := newRecordSinks(cfg, statistics)
	if records.jsonl != nil {
		defer records.jsonl.Close()
	}
	stats := records.accounting

	var observed sink.Sink = stats
	var collector *sink.Collector
	if cfg.Stats.Mode == config.StatsModeCollector {
		collector = sink.NewCollector(cfg.Stats.CollectorURL, time.Duration(cfg.Stats.CollectorTimeoutSeconds)*time.Second, nil)
		observed = collector
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	allowlist := loadAllowList(ctx, cfg.Auth.AllowlistPath)

	observer := observe.NewObserver(observed, observe.WithMaxBodyBytes(cfg.Stats.MaxBodyBytes))
	p, err := proxy.New(cfg.Proxy.Upstreams, allowlist, observer, telemetry.WrapTransport(http.DefaultTransport))
	if err != nil {
		return err
	}

	opts := api.Options{AllowList: allowlist, Stats: stats, Statistics: statistics}
	if telemetry.Enabled() {
		opts.ServiceName = cfg.Telemetry.ServiceName
	}
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	proxyServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Proxy.Port),
		Handler:           telemetry.WrapHandler(p, "lmgate.proxy"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go serveServer("api", apiServer, errCh)
	go serveServer("proxy", proxyServer, errCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received signal %s, shutting down", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown proxy server: %w", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	if collector != nil {
		if err := collector.Close(shutdownCtx); err != nil {
			log.Warnf("collector: abandoning in-flight stats posts: %v", err)
		}
	}
	if records.database != nil {
		if err := records.database.Close(shutdownCtx); err != nil {
			log.Warnf("database: abandoning in-flight usage writes: %v", err)
		}
	}
	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warnf("telemetry shutdown: %v", err)
		}
	}
	return nil
}

type recordSinks struct {
	accounting *sink.Accounting
	jsonl      *sink.JSONL
	database   *sink.Async
}

// newRecordSinks builds the local accounting sink. It feeds the in-memory
// statistics, the stats file when one is configured, and the database when
// it is enabled. Database writes run in the background with a deadline.
func newRecordSinks(cfg *config.Config, statistics *usage.Statistics) recordSinks {
	var rs recordSinks
	writers := []sink.RecordWriter{statistics}
	if cfg.Stats.OutputPath != "" {
		rs.jsonl = sink.NewJSONLFile(cfg.Stats.OutputPath, cfg.Stats.MaxSizeMB)
		writers = append(writers, rs.jsonl)
	}
	if database.DB != nil {
		timeout := time.Duration(cfg.Database.WriteTimeoutSeconds) * time.Second
		rs.database = sink.NewAsync(sink.NewDatabase(database.DB), timeout)
		writers = append(writers, rs.database)
	}
	rs.accounting = sink.NewAccounting(writers...)
	return rs
}

// loadAllowList returns nil when no path is configured, which turns key
// checks off. A list that fails to load starts empty and is retried on the
// next file change.
func loadAllowList(ctx context.Context, path string) *auth.AllowList {
	if path == "" {
		log.Warn("auth.allowlist_path is empty, API keys are not checked")
		return nil
	}
	list := auth.NewAllowList(path)
	if err := list.Load(); err != nil {
		log.Warnf("allow-list: %v", err)
	} else {
		log.Infof("allow-list: loaded %d keys from %s", list.Len(), path)
	}
	go func() {
		if err := list.Watch(ctx); err != nil {
			log.Warnf("allow-list: hot reload disabled: %v", err)
		}
	}()
	return list
}

func serveServer(name string, server *http.Server, errCh chan<- error) {
	log.Infof("lmgate %s listening on %s", name, server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}

func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return nil
}
