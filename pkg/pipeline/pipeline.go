package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mozhou-tech/photo-search-ai/pkg/batch"
	"github.com/mozhou-tech/photo-search-ai/pkg/metrics"
	"github.com/mozhou-tech/photo-search-ai/pkg/parser"
	"github.com/mozhou-tech/photo-search-ai/pkg/provider"
	"github.com/mozhou-tech/photo-search-ai/pkg/security"
	"github.com/mozhou-tech/photo-search-ai/pkg/store"
	"github.com/mozhou-tech/photo-search-ai/pkg/thumbnail"
	"github.com/sirupsen/logrus"
)

// ErrNoValidFiles 没有可处理的图片
var ErrNoValidFiles = errors.New("no valid image files")

// Store 处理流程需要的存储操作
type Store interface {
	PhotoByPath(ctx context.Context, path string) (*store.Photo, error)
	UpsertPhoto(ctx context.Context, p *store.Photo) error
	RecordFolderUpload(ctx context.Context, path, name string, added int, at time.Time) (*store.Folder, error)
}

// DescriberFactory 按配置创建提供方
type DescriberFactory func(ctx context.Context, cfg provider.Config) (provider.Describer, error)

// Options 处理流程配置
type Options struct {
	Store     Store
	Metrics   *metrics.Metrics
	Width     int
	Delay     time.Duration
	Thumbnail thumbnail.Options
	// RatePerSecond 提供方请求速率上限，0 表示不限制
	RatePerSecond float64
	// Prompt 默认使用 parser.ImagePrompt
	Prompt string
	// NewDescriber 默认使用 provider.New
	NewDescriber DescriberFactory
}

// Pipeline 校验 → 分批调用提供方 → 解析 → 缩略图 → 写入存储
type Pipeline struct {
	opts Options
}

// Request 一次处理请求
type Request struct {
	Files       []File
	FolderLabel string
	Provider    provider.Config
}

// New 创建处理流程
func New(opts Options) *Pipeline {
	if opts.Width <= 0 {
		opts.Width = batch.DefaultWidth
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Prompt == "" {
		opts.Prompt = parser.ImagePrompt
	}
	if opts.NewDescriber == nil {
		opts.NewDescriber = provider.New
	}
	return &Pipeline{opts: opts}
}

// Result 处理完成后的汇总
type Result struct {
	RunID      string        `json:"run_id"`
	Provider   string        `json:"provider"`
	FolderID   uint          `json:"folder_id"`
	FolderPath string        `json:"folder_path"`
	Valid      int           `json:"valid"`
	Invalid    int           `json:"invalid"`
	Ignored    int           `json:"ignored"` // 非图片文件
	Rejections []string      `json:"rejections,omitempty"`
	Summary    batch.Summary `json:"summary"`
	Stats      batch.Stats   `json:"stats"`
}

// Run 一次正在执行的处理任务
type Run struct {
	ID      string
	tracker *batch.Tracker

	mu       sync.Mutex
	progress chan batch.Stats
	closed   bool

	done   chan struct{}
	result Result
}

// Progress 实时进度流，任务结束后关闭
func (r *Run) Progress() <-chan batch.Stats {
	return r.progress
}

// Stats 当前进度快照
func (r *Run) Stats() batch.Stats {
	return r.tracker.Snapshot()
}

// Stop 协作式停止：不再派发新文件，已在处理的文件继续完成
func (r *Run) Stop() {
	r.tracker.Stop()
}

// Done 任务结束信号
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait 等待任务结束并返回汇总
func (r *Run) Wait() Result {
	<-r.done
	return r.result
}

func (r *Run) publish(s batch.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.progress <- s:
	default:
		// 缓冲区满时丢弃最旧的一条，保证最新进度可见
		select {
		case <-r.progress:
		default:
		}
		select {
		case r.progress <- s:
		default:
		}
	}
}

func (r *Run) closeProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.progress)
	}
}

// item 单个待处理文件
type item struct {
	file File
	path string
}

// Process 同步执行一次处理
func (p *Pipeline) Process(ctx context.Context, req Request) (Result, error) {
	run, err := p.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return run.Wait(), nil
}

// Start 同步完成校验和文件夹登记，然后在后台执行批处理。
// 批次超限或没有合法图片时直接返回错误，不调用任何提供方。
func (p *Pipeline) Start(ctx context.Context, req Request) (*Run, error) {
	images := make([]File, 0, len(req.Files))
	for _, f := range req.Files {
		if strings.HasPrefix(strings.ToLower(f.MimeType), "image/") {
			images = append(images, f)
		}
	}
	ignored := len(req.Files) - len(images)
	if len(images) == 0 {
		return nil, ErrNoValidFiles
	}

	infos := make([]security.FileInfo, len(images))
	for i, f := range images {
		infos[i] = security.FileInfo{Name: f.Name, MimeType: f.MimeType, Size: f.Size}
	}
	validation, err := security.ValidateFiles(infos)
	if err != nil {
		return nil, err
	}

	rejections := make([]string, 0, len(validation.Rejected))
	for _, r := range validation.Rejected {
		rejections = append(rejections, r.Err.Error())
	}
	if len(validation.Valid) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoValidFiles, strings.Join(rejections, "; "))
	}

	folderPath, folderName := folderFor(req.Files, req.FolderLabel)
	folder, err := p.opts.Store.RecordFolderUpload(ctx, folderPath, folderName, len(validation.Valid), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to record folder: %w", err)
	}

	items := make([]item, len(validation.Valid))
	for i, idx := range validation.Valid {
		f := images[idx]
		items[i] = item{file: f, path: photoPath(f, folderPath)}
	}

	run := &Run{
		ID:       uuid.NewString(),
		tracker:  batch.NewTracker(),
		progress: make(chan batch.Stats, len(items)+4),
		done:     make(chan struct{}),
	}
	run.tracker.OnUpdate(run.publish)
	run.result = Result{
		RunID:      run.ID,
		Provider:   string(req.Provider.Kind),
		FolderID:   folder.ID,
		FolderPath: folderPath,
		Valid:      len(items),
		Invalid:    len(validation.Rejected),
		Ignored:    ignored,
		Rejections: rejections,
	}

	log := logrus.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"provider": req.Provider.Kind,
		"folder":   folderPath,
	})
	log.WithFields(logrus.Fields{
		"valid":   len(items),
		"invalid": len(validation.Rejected),
		"ignored": ignored,
	}).Info("Processing started")

	// 凭证缺失等配置错误只记在每个文件上，不阻止任务启动
	describer, descErr := p.opts.NewDescriber(ctx, req.Provider)
	if descErr == nil {
		describer = provider.WithRateLimit(describer, p.opts.RatePerSecond)
	}
	providerName := string(req.Provider.Kind)

	w := &worker{
		opts:      p.opts,
		describer: describer,
		descErr:   descErr,
		provider:  providerName,
		folderID:  folder.ID,
		log:       log,
	}
	sched := &batch.Scheduler[item]{
		Width:   p.opts.Width,
		Delay:   p.opts.Delay,
		Skip:    w.alreadyProcessed,
		Process: w.process,
		OnError: w.failed,
		Tracker: run.tracker,
	}

	go func() {
		defer close(run.done)
		defer run.closeProgress()

		summary := sched.Run(ctx, items)
		run.result.Summary = summary
		run.result.Stats = run.tracker.Snapshot()

		log.WithFields(logrus.Fields{
			"processed":   summary.Processed,
			"skipped":     summary.Skipped,
			"errors":      summary.Errors,
			"not_started": summary.NotStarted,
		}).Info("Processing finished")
	}()

	return run, nil
}

type worker struct {
	opts      Options
	describer provider.Describer
	descErr   error
	provider  string
	folderID  uint
	log       *logrus.Entry
}

// alreadyProcessed 存储中已有同路径且已处理的记录时跳过
func (w *worker) alreadyProcessed(ctx context.Context, it item) bool {
	existing, err := w.opts.Store.PhotoByPath(ctx, it.path)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			w.log.WithError(err).WithField("path", it.path).Warn("Failed to check existing photo")
		}
		return false
	}
	if !existing.Processed {
		return false
	}
	w.opts.Metrics.Skipped(w.provider)
	w.log.WithField("path", it.path).Debug("Photo already processed, skipping")
	return true
}

func (w *worker) process(ctx context.Context, it item) error {
	if w.descErr != nil {
		return w.descErr
	}

	data, err := readAll(it.file)
	if err != nil {
		return &stepError{kind: "read", err: err}
	}

	done := w.opts.Metrics.TrackRequest(w.provider)
	raw, err := w.describer.Describe(ctx, provider.Image{Data: data, MimeType: it.file.MimeType}, w.opts.Prompt)
	done()
	if err != nil {
		return err
	}
	parsed := parser.Parse(raw)

	thumb, err := thumbnail.Generate(data, w.opts.Thumbnail)
	if err != nil {
		w.log.WithError(err).WithField("file", it.file.Name).Warn("Failed to create thumbnail")
		thumb = ""
	}

	photo := &store.Photo{
		Path:           it.path,
		Filename:       it.file.Name,
		FolderID:       w.folderID,
		Size:           it.file.Size,
		LastModified:   it.file.LastModified,
		Description:    parsed.Description,
		Classification: parsed.Classification,
		ExtractedText:  parsed.ExtractedText,
		Thumbnail:      thumb,
		Processed:      true,
		CreatedAt:      time.Now(),
	}
	if err := w.opts.Store.UpsertPhoto(ctx, photo); err != nil {
		return &stepError{kind: "store", err: err}
	}

	w.opts.Metrics.Described(w.provider)
	w.log.WithFields(logrus.Fields{
		"path":           it.path,
		"classification": parsed.Classification,
	}).Debug("Photo described")
	return nil
}

func (w *worker) failed(it item, err error) {
	kind := ErrorKind(err)
	w.opts.Metrics.Failed(w.provider, kind)
	w.log.WithError(err).WithFields(logrus.Fields{
		"file": it.file.Name,
		"path": it.path,
		"kind": kind,
	}).Warn("Failed to process photo")
}

func readAll(f File) ([]byte, error) {
	if f.Open == nil {
		return nil, fmt.Errorf("%s: no content", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}

// stepError 标记失败发生在哪个非提供方步骤
type stepError struct {
	kind string
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }

func (e *stepError) Unwrap() error { return e.err }

// ErrorKind 将单个文件的失败归类：config、provider、read、store 或 unknown
func ErrorKind(err error) string {
	var step *stepError
	var pErr *provider.Error
	switch {
	case errors.Is(err, provider.ErrMissingCredential),
		errors.Is(err, provider.ErrMissingModel),
		errors.Is(err, provider.ErrUnknownProvider):
		return "config"
	case errors.As(err, &step):
		return step.kind
	case errors.As(err, &pErr):
		return "provider"
	default:
		return "unknown"
	}
}
