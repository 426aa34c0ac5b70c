package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mozhou-tech/photo-search-ai/pkg/batch"
	"github.com/mozhou-tech/photo-search-ai/pkg/pipeline"
	"github.com/mozhou-tech/photo-search-ai/pkg/provider"
	"github.com/mozhou-tech/photo-search-ai/pkg/security"
	"github.com/mozhou-tech/photo-search-ai/pkg/store"
	"github.com/sirupsen/logrus"
)

// ProviderRequest 提供方选择与凭证，空字段使用配置文件中的值
type ProviderRequest struct {
	Provider string `json:"provider" form:"provider"`
	APIKey   string `json:"api_key" form:"api_key"`
	Model    string `json:"model" form:"model"`
	BaseURL  string `json:"base_url" form:"base_url"`
}

// ProgressResponse 当前任务进度
type ProgressResponse struct {
	RunID  string           `json:"run_id,omitempty"`
	Stats  batch.Stats      `json:"stats"`
	Result *pipeline.Result `json:"result,omitempty"`
}

// providerConfig 以配置文件为基础，用请求中的非空字段覆盖
func (s *Server) providerConfig(req ProviderRequest) (provider.Config, error) {
	pc, err := s.cfg.ProviderFor(strings.TrimSpace(req.Provider))
	if err != nil {
		return provider.Config{}, err
	}
	if key := security.SanitizeAPIKey(req.APIKey); key != "" {
		pc.APIKey = key
	}
	if m := strings.TrimSpace(req.Model); m != "" {
		pc.Model = m
	}
	if u := strings.TrimSpace(req.BaseURL); u != "" {
		pc.BaseURL = u
	}
	return pc, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.store.Ping(ctx); err != nil {
		respError(c, http.StatusServiceUnavailable, "store unavailable", err)
		return
	}
	photos, processed, folders, err := s.store.Stats(ctx)
	if err != nil {
		respError(c, http.StatusServiceUnavailable, "store unavailable", err)
		return
	}
	respSuccess(c, gin.H{"photos": photos, "processed": processed, "folders": folders})
}

// handleProcess 接收上传文件并在后台开始处理。
// 请求结束后 multipart 临时文件会被删除，所以先把内容读入内存。
func (s *Server) handleProcess(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respError(c, http.StatusBadRequest, "invalid multipart form", err)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		respError(c, http.StatusBadRequest, "no files uploaded", nil)
		return
	}

	var req ProviderRequest
	if err := c.ShouldBind(&req); err != nil {
		respError(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	pc, err := s.providerConfig(req)
	if err != nil {
		respError(c, http.StatusBadRequest, "invalid provider", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && !isDone(s.current) {
		respError(c, http.StatusConflict, "processing already in progress", nil)
		return
	}

	relPaths := form.Value["paths"]
	modTimes := form.Value["last_modified"]
	files := make([]pipeline.File, 0, len(headers))
	for i, fh := range headers {
		f, err := uploadedFile(fh, valueAt(relPaths, i), valueAt(modTimes, i))
		if err != nil {
			respError(c, http.StatusBadRequest, "failed to read upload", err)
			return
		}
		files = append(files, f)
	}

	// 后台任务不能绑定请求上下文，否则响应返回后就会被取消
	run, err := s.pipeline.Start(s.baseCtx, pipeline.Request{
		Files:       files,
		FolderLabel: c.PostForm("folder"),
		Provider:    pc,
	})
	switch {
	case errors.Is(err, security.ErrBatchTooLarge):
		respError(c, http.StatusBadRequest, "batch rejected", err)
		return
	case errors.Is(err, pipeline.ErrNoValidFiles):
		respError(c, http.StatusBadRequest, "no valid image files", err)
		return
	case err != nil:
		respError(c, http.StatusInternalServerError, "failed to start processing", err)
		return
	}
	s.current = run

	logrus.WithFields(logrus.Fields{"run_id": run.ID, "files": len(files)}).Info("Upload accepted")
	respSuccessWithMsg(c, "processing started", gin.H{
		"run_id": run.ID,
		"stats":  run.Stats(),
	})
}

func (s *Server) handleProgress(c *gin.Context) {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	if run == nil {
		respSuccess(c, ProgressResponse{})
		return
	}
	resp := ProgressResponse{RunID: run.ID, Stats: run.Stats()}
	if isDone(run) {
		res := run.Wait()
		resp.Result = &res
	}
	respSuccess(c, resp)
}

func (s *Server) handleStop(c *gin.Context) {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	if run == nil || isDone(run) {
		respError(c, http.StatusConflict, "no processing in progress", nil)
		return
	}
	run.Stop()
	respSuccessWithMsg(c, "processing stopped", ProgressResponse{RunID: run.ID, Stats: run.Stats()})
}

func (s *Server) handleSearch(c *gin.Context) {
	query := security.LimitQuery(c.Query("q"))
	logrus.WithField("query", security.SanitizeQuery(query)).Debug("Search requested")

	photos, err := s.engine.Search(c.Request.Context(), query)
	if err != nil {
		respError(c, http.StatusInternalServerError, "search failed", err)
		return
	}
	respSuccess(c, photos)
}

func (s *Server) handleListPhotos(c *gin.Context) {
	photos, err := s.engine.ByClassification(c.Request.Context(), c.Query("classification"))
	if err != nil {
		respError(c, http.StatusInternalServerError, "failed to list photos", err)
		return
	}
	respSuccess(c, photos)
}

func (s *Server) handleRecentPhotos(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respError(c, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = n
	}
	photos, err := s.engine.Recent(c.Request.Context(), limit)
	if err != nil {
		respError(c, http.StatusInternalServerError, "failed to list photos", err)
		return
	}
	respSuccess(c, photos)
}

func (s *Server) handleDeletePhoto(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	err := s.store.DeletePhoto(c.Request.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respError(c, http.StatusNotFound, "photo not found", nil)
		return
	case err != nil:
		respError(c, http.StatusInternalServerError, "failed to delete photo", err)
		return
	}
	respSuccessWithMsg(c, "photo deleted", gin.H{"id": id})
}

func (s *Server) handleClassifications(c *gin.Context) {
	classes, err := s.engine.Classifications(c.Request.Context())
	if err != nil {
		respError(c, http.StatusInternalServerError, "failed to list classifications", err)
		return
	}
	respSuccess(c, classes)
}

func (s *Server) handleListFolders(c *gin.Context) {
	folders, err := s.store.ListFolders(c.Request.Context())
	if err != nil {
		respError(c, http.StatusInternalServerError, "failed to list folders", err)
		return
	}
	respSuccess(c, folders)
}

func (s *Server) handleFolderPhotos(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	photos, err := s.engine.ByFolder(c.Request.Context(), id)
	if err != nil {
		respError(c, http.StatusInternalServerError, "failed to list photos", err)
		return
	}
	respSuccess(c, photos)
}

// handleClearAll 删除全部图片和文件夹记录；有任务运行时拒绝
func (s *Server) handleClearAll(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && !isDone(s.current) {
		respError(c, http.StatusConflict, "processing in progress", nil)
		return
	}
	if err := s.store.Clear(c.Request.Context()); err != nil {
		respError(c, http.StatusInternalServerError, "failed to clear data", err)
		return
	}
	s.current = nil
	respSuccessWithMsg(c, "all data cleared", nil)
}

func (s *Server) handleTestProvider(c *gin.Context) {
	var req ProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respError(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	pc, err := s.providerConfig(req)
	if err != nil {
		respError(c, http.StatusBadRequest, "invalid provider", err)
		return
	}
	if err := provider.Check(c.Request.Context(), pc); err != nil {
		respErrorWithData(c, http.StatusBadGateway, "connection failed: "+err.Error(), gin.H{"provider": pc.Kind})
		return
	}
	respSuccessWithMsg(c, "connection ok", gin.H{"provider": pc.Kind, "model": pc.Model})
}

func (s *Server) handleOpenRouterModels(c *gin.Context) {
	pc, err := s.providerConfig(ProviderRequest{
		Provider: string(provider.KindOpenRouter),
		APIKey:   c.GetHeader("X-Api-Key"),
		BaseURL:  c.Query("base_url"),
	})
	if err != nil {
		respError(c, http.StatusBadRequest, "invalid provider", err)
		return
	}
	models, err := provider.ListFreeVisionModels(c.Request.Context(), pc)
	switch {
	case errors.Is(err, provider.ErrMissingCredential):
		respError(c, http.StatusBadRequest, "api key required", nil)
		return
	case err != nil:
		respError(c, http.StatusBadGateway, "failed to list models", err)
		return
	}
	respSuccess(c, models)
}

func parseID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		respError(c, http.StatusBadRequest, "invalid id", nil)
		return 0, false
	}
	return uint(n), true
}

func isDone(run *pipeline.Run) bool {
	select {
	case <-run.Done():
		return true
	default:
		return false
	}
}

func valueAt(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

// uploadedFile 读取上传内容；缺少或无意义的 Content-Type 时按内容识别
func uploadedFile(fh *multipart.FileHeader, relPath, modTime string) (pipeline.File, error) {
	src, err := fh.Open()
	if err != nil {
		return pipeline.File{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return pipeline.File{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}

	mimeType := strings.TrimSpace(strings.SplitN(fh.Header.Get("Content-Type"), ";", 2)[0])
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = pipeline.DetectMime(data)
	}

	// last_modified 为毫秒时间戳
	mod := time.Now()
	if ms, err := strconv.ParseInt(modTime, 10, 64); err == nil && ms > 0 {
		mod = time.UnixMilli(ms)
	}
	return pipeline.BytesFile(fh.Filename, strings.TrimSpace(relPath), mimeType, data, mod), nil
}
