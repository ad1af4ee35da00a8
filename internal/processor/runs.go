package processor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cv-extractor/internal/logger"
	"cv-extractor/internal/types"
)

// RunStatus 批处理任务状态
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunCanceled RunStatus = "canceled"
)

// RunInfo 任务的对外视图
type RunInfo struct {
	ID         string             `json:"id"`
	Kind       types.DocumentKind `json:"kind"`
	Folder     string             `json:"folder,omitempty"`
	Status     RunStatus          `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Progress   types.Progress     `json:"progress"`
	Summary    *types.Summary     `json:"summary,omitempty"`
}

type managedRun struct {
	id         string
	kind       types.DocumentKind
	folder     string
	batch      *Batch
	cancel     context.CancelFunc
	done       chan struct{}
	startedAt  time.Time
	finishedAt time.Time
	summary    *types.Summary
}

// RunManager 在后台执行批处理，按 id 查询进度与取消。同一文档类型同时只允许一个任务。
type RunManager struct {
	mu     sync.RWMutex
	orch   *BatchOrchestrator
	runs   map[string]*managedRun
	active map[types.DocumentKind]string
	logger zerolog.Logger
}

// NewRunManager 创建任务管理器
func NewRunManager(orch *BatchOrchestrator) *RunManager {
	return &RunManager{
		orch:   orch,
		runs:   make(map[string]*managedRun),
		active: make(map[types.DocumentKind]string),
		logger: logger.Component("runs"),
	}
}

// Orchestrator 底层编排器
func (m *RunManager) Orchestrator() *BatchOrchestrator { return m.orch }

// Start 在后台启动任务。任务不随 ctx 结束，只能通过 Cancel 停止。
func (m *RunManager) Start(ctx context.Context, kind types.DocumentKind, folder string, files []string) (RunInfo, error) {
	m.mu.Lock()
	if id, ok := m.active[kind]; ok {
		m.mu.Unlock()
		return RunInfo{}, &runActiveError{id: id}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &managedRun{
		id:        uuid.NewString(),
		kind:      kind,
		folder:    folder,
		batch:     m.orch.NewBatch(kind, files),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: m.orch.set.Now(),
	}
	m.runs[r.id] = r
	m.active[kind] = r.id
	m.mu.Unlock()

	m.logger.Info().Str("run_id", r.id).Str("kind", string(kind)).Str("folder", folder).Int("files", len(files)).Msg("任务已启动")

	go func() {
		defer close(r.done)
		defer cancel()
		summary := r.batch.Run(runCtx, nil)

		m.mu.Lock()
		r.summary = &summary
		r.finishedAt = m.orch.set.Now()
		if m.active[kind] == r.id {
			delete(m.active, kind)
		}
		m.mu.Unlock()
		m.logger.Info().Str("run_id", r.id).Bool("canceled", summary.Canceled).Msg("任务结束")
	}()

	return m.Get(r.id)
}

// Get 查询任务
func (m *RunManager) Get(id string) (RunInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return RunInfo{}, ErrRunNotFound
	}
	return m.infoLocked(r), nil
}

// List 全部任务，最近启动的在前
func (m *RunManager) List() []RunInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunInfo, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, m.infoLocked(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel 停止派发新文件，已开始的文件继续完成
func (m *RunManager) Cancel(id string) error {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}
	r.cancel()
	m.logger.Info().Str("run_id", id).Msg("任务取消请求")
	return nil
}

// Done 任务结束时关闭的通道
func (m *RunManager) Done(id string) (<-chan struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r.done, nil
}

// CancelAll 服务关闭时停止所有任务并等待结束
func (m *RunManager) CancelAll(ctx context.Context) {
	m.mu.RLock()
	runs := make([]*managedRun, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()
	for _, r := range runs {
		r.cancel()
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}
}

func (m *RunManager) infoLocked(r *managedRun) RunInfo {
	info := RunInfo{
		ID:        r.id,
		Kind:      r.kind,
		Folder:    r.folder,
		Status:    RunRunning,
		StartedAt: r.startedAt,
		Progress:  r.batch.Progress(),
		Summary:   r.summary,
	}
	if r.summary != nil {
		finished := r.finishedAt
		info.FinishedAt = &finished
		info.Status = RunFinished
		if r.summary.Canceled {
			info.Status = RunCanceled
		}
	}
	return info
}

// runActiveError 携带正在运行的任务 id
type runActiveError struct{ id string }

func (e *runActiveError) Error() string { return ErrRunActive.Error() + ": " + e.id }

func (e *runActiveError) Is(target error) bool { return target == ErrRunActive }

// ActiveRunID 从 ErrRunActive 错误中取出正在运行的任务 id
func ActiveRunID(err error) string {
	if e, ok := err.(*runActiveError); ok {
		return e.id
	}
	return ""
}
