package batch

import (
	"sync"
	"time"
)

// Stats 处理进度快照
type Stats struct {
	Total        int       `json:"total"`
	Processed    int       `json:"processed"`
	Errors       int       `json:"errors"`
	Skipped      int       `json:"skipped"` // 已处理过而跳过的数量，同时计入 Processed
	IsProcessing bool      `json:"is_processing"`
	Stopped      bool      `json:"stopped"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// Done 已结束（成功或失败）的数量
func (s Stats) Done() int {
	return s.Processed + s.Errors
}

// Tracker 记录一次批处理的进度。每次更新都在锁内完成并通知监听者，
// 同一批次内并发完成的更新不会丢失。
type Tracker struct {
	mu        sync.Mutex
	stats     Stats
	listeners []func(Stats)

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTracker 创建进度跟踪器
func NewTracker() *Tracker {
	return &Tracker{stop: make(chan struct{})}
}

// OnUpdate 注册进度监听，回调在持锁状态下按顺序执行，不应阻塞
func (t *Tracker) OnUpdate(fn func(Stats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Snapshot 返回当前进度
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Stop 请求停止：不再派发新的批次或文件，已在执行的任务继续完成并写入存储
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.update(func(s *Stats) {
			s.Stopped = true
			s.IsProcessing = false
		})
	})
}

// Stopped 是否已请求停止
func (t *Tracker) Stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// StopCh 停止信号
func (t *Tracker) StopCh() <-chan struct{} {
	return t.stop
}

func (t *Tracker) start(total int) {
	t.update(func(s *Stats) {
		s.Total = total
		s.IsProcessing = !t.Stopped()
		s.StartedAt = time.Now()
	})
}

func (t *Tracker) success(skipped bool) {
	t.update(func(s *Stats) {
		s.Processed++
		if skipped {
			s.Skipped++
		}
	})
}

func (t *Tracker) failure() {
	t.update(func(s *Stats) {
		s.Errors++
	})
}

func (t *Tracker) finish() {
	t.update(func(s *Stats) {
		s.IsProcessing = false
		s.FinishedAt = time.Now()
	})
}

func (t *Tracker) update(fn func(*Stats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.stats)
	snapshot := t.stats
	for _, l := range t.listeners {
		l(snapshot)
	}
}
