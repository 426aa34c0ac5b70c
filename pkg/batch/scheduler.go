package batch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWidth 每批并发数
	DefaultWidth = 3
	// DefaultDelay 批次之间的间隔
	DefaultDelay = time.Second
)

// Outcome 单个任务的结果
type Outcome int

const (
	Described Outcome = iota
	Skipped
)

// Summary 批处理最终结果
type Summary struct {
	Processed  int  `json:"processed"`
	Errors     int  `json:"errors"`
	Skipped    int  `json:"skipped"`
	NotStarted int  `json:"not_started"` // 停止后未派发的数量
	Stopped    bool `json:"stopped"`
}

// Scheduler 按固定宽度分批并发处理，批次之间暂停 Delay。
// 单个任务失败只计数，不影响同批或后续批次。
type Scheduler[T any] struct {
	Width int
	Delay time.Duration

	// Skip 在调用 Process 之前执行，返回 true 时直接计为成功
	Skip func(ctx context.Context, item T) bool
	// Process 处理单个任务
	Process func(ctx context.Context, item T) error
	// OnError 任务失败时调用，可为空
	OnError func(item T, err error)

	Tracker *Tracker
}

// Run 处理全部任务并返回汇总。ctx 取消或 Tracker.Stop 后不再派发新任务，
// 已派发的任务使用 context.WithoutCancel(ctx) 继续执行到结束。
func (s *Scheduler[T]) Run(ctx context.Context, items []T) Summary {
	width := s.Width
	if width <= 0 {
		width = DefaultWidth
	}
	tracker := s.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	tracker.start(len(items))
	defer tracker.finish()

	taskCtx := context.WithoutCancel(ctx)

	dispatched := 0
	for start := 0; start < len(items); start += width {
		if s.halted(ctx, tracker) {
			break
		}
		if start > 0 && s.Delay > 0 {
			timer := time.NewTimer(s.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			case <-tracker.StopCh():
				timer.Stop()
			}
			if s.halted(ctx, tracker) {
				break
			}
		}

		end := min(start+width, len(items))
		var g errgroup.Group
		for _, item := range items[start:end] {
			if s.halted(ctx, tracker) {
				break
			}
			dispatched++
			g.Go(func() error {
				s.runOne(taskCtx, tracker, item)
				return nil
			})
		}
		_ = g.Wait()

		logrus.WithFields(logrus.Fields{
			"chunk_start": start,
			"chunk_end":   end,
			"total":       len(items),
		}).Debug("Batch chunk settled")
	}

	stats := tracker.Snapshot()
	return Summary{
		Processed:  stats.Processed,
		Errors:     stats.Errors,
		Skipped:    stats.Skipped,
		NotStarted: len(items) - dispatched,
		Stopped:    dispatched < len(items),
	}
}

func (s *Scheduler[T]) runOne(ctx context.Context, tracker *Tracker, item T) {
	if s.Skip != nil && s.Skip(ctx, item) {
		tracker.success(true)
		return
	}
	if err := s.Process(ctx, item); err != nil {
		if s.OnError != nil {
			s.OnError(item, err)
		}
		tracker.failure()
		return
	}
	tracker.success(false)
}

func (s *Scheduler[T]) halted(ctx context.Context, tracker *Tracker) bool {
	return ctx.Err() != nil || tracker.Stopped()
}
