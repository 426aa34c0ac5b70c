package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mozhou-tech/photo-search-ai/pkg/api"
	"github.com/mozhou-tech/photo-search-ai/pkg/config"
	"github.com/mozhou-tech/photo-search-ai/pkg/metrics"
	"github.com/mozhou-tech/photo-search-ai/pkg/pipeline"
	"github.com/mozhou-tech/photo-search-ai/pkg/search"
	"github.com/mozhou-tech/photo-search-ai/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/logger"
)

const usage = `Usage: photosearch [-config file] <command> [flags]

Commands:
  serve          start the HTTP API
  scan           describe every image under a directory
  search         search processed photos
  classes        list classifications
  photos         list photos, optionally by classification
  folders        list folders
  delete         delete a photo by id
  clear          delete all photos and folders
  test-provider  check provider connectivity
  models         list free OpenRouter vision models
`

// app 命令共享的依赖
type app struct {
	cfg      *config.Config
	store    *store.Store
	engine   *search.Engine
	pipeline *pipeline.Pipeline
	registry *prometheus.Registry
}

func main() {
	configPath := flag.String("config", "", "config file (default photosearch.yaml if present)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		logrus.Errorf("%s: %v", flag.Arg(0), err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	switch cmd {
	case "serve":
		return a.serve(ctx, args)
	case "scan":
		return a.scan(ctx, args)
	case "search":
		return a.search(ctx, args)
	case "classes":
		return a.classes(ctx)
	case "photos":
		return a.photos(ctx, args)
	case "folders":
		return a.folders(ctx)
	case "delete":
		return a.delete(ctx, args)
	case "clear":
		return a.clear(ctx, args)
	case "test-provider":
		return a.testProvider(ctx, args)
	case "models":
		return a.models(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newApp(cfg *config.Config) (*app, error) {
	logLevel := logger.Warn
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logLevel = logger.Info
	}
	s, err := store.Open(store.Options{Path: cfg.Store.Path, LogLevel: logLevel})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:    cfg,
		store:  s,
		engine: search.New(s, search.Options{RecentLimit: cfg.Search.RecentLimit, MaxResults: cfg.Search.MaxResults}),
		pipeline: pipeline.New(pipeline.Options{
			Store:         s,
			Metrics:       metrics.New(reg),
			Width:         cfg.Batch.Width,
			Delay:         cfg.Batch.Delay,
			RatePerSecond: cfg.Provider.RatePerSecond,
			Thumbnail:     thumbnailOptions(cfg),
		}),
		registry: reg,
	}, nil
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", a.cfg.Server.Port, "listen port")
	fs.Parse(args)

	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	// 后台处理任务跟随服务生命周期，而不是单个请求
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	srv := api.New(api.Options{
		Config:   a.cfg,
		Store:    a.store,
		Engine:   a.engine,
		Pipeline: a.pipeline,
		Gatherer: a.registry,
		Context:  runCtx,
	})
	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(*port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Server starting on port %d", *port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	cancelRuns()
	logrus.Info("Server exiting")
	return nil
}
