package api

import (
	"context"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mozhou-tech/photo-search-ai/pkg/config"
	"github.com/mozhou-tech/photo-search-ai/pkg/pipeline"
	"github.com/mozhou-tech/photo-search-ai/pkg/search"
	"github.com/mozhou-tech/photo-search-ai/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// maxUploadMemory multipart 表单在内存中保留的上限，超出部分落盘
const maxUploadMemory = 64 << 20

// Options 服务依赖
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Engine   *search.Engine
	Pipeline *pipeline.Pipeline
	Gatherer prometheus.Gatherer
	// Context 后台处理任务使用的上下文，服务关闭时取消
	Context context.Context
}

// Server HTTP 接口
type Server struct {
	cfg      *config.Config
	store    *store.Store
	engine   *search.Engine
	pipeline *pipeline.Pipeline
	gatherer prometheus.Gatherer
	baseCtx  context.Context

	mu      sync.Mutex
	current *pipeline.Run
}

// New 创建 HTTP 服务
func New(opts Options) *Server {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      opts.Config,
		store:    opts.Store,
		engine:   opts.Engine,
		pipeline: opts.Pipeline,
		gatherer: opts.Gatherer,
		baseCtx:  opts.Context,
	}
}

// Router 注册全部路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "X-Api-Key"},
	}))
	r.MaxMultipartMemory = maxUploadMemory

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.POST("/process", s.handleProcess)
		api.GET("/progress", s.handleProgress)
		api.POST("/process/stop", s.handleStop)

		api.GET("/search", s.handleSearch)
		api.GET("/photos", s.handleListPhotos)
		api.GET("/photos/recent", s.handleRecentPhotos)
		api.DELETE("/photos/:id", s.handleDeletePhoto)
		api.GET("/classifications", s.handleClassifications)
		api.GET("/folders", s.handleListFolders)
		api.GET("/folders/:id/photos", s.handleFolderPhotos)
		api.DELETE("/data", s.handleClearAll)

		api.POST("/providers/test", s.handleTestProvider)
		api.GET("/providers/openrouter/models", s.handleOpenRouterModels)
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	return r
}

// requestLogger 用 logrus 记录每个请求
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("HTTP request")
	}
}
