package processor

import (
	"sync"
	"time"

	"cv-extractor/internal/types"
)

// ProgressFunc 每次状态变化的回调，index 从 0 开始
type ProgressFunc func(index, total int, file string, state types.FileState)

// progressTracker 记录运行中每个文件的状态，供轮询读取
type progressTracker struct {
	mu        sync.RWMutex
	total     int
	start     time.Time
	now       func() time.Time
	states    map[string]types.FileState
	processed int
	skipped   int
	failed    int
	finished  bool
	elapsed   time.Duration
}

func newProgressTracker(files []string, now func() time.Time) *progressTracker {
	p := &progressTracker{
		total:  len(files),
		start:  now(),
		now:    now,
		states: make(map[string]types.FileState, len(files)),
	}
	for _, f := range files {
		p.states[f] = types.StatePending
	}
	return p
}

func (p *progressTracker) set(file string, state types.FileState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.states[file]; ok && prev.Terminal() {
		return
	}
	p.states[file] = state
	switch state {
	case types.StateDone:
		p.processed++
	case types.StateSkipped:
		p.skipped++
	case types.StateFailed:
		p.failed++
	}
}

func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = true
	p.elapsed = p.now().Sub(p.start)
}

// Snapshot 当前进度
func (p *progressTracker) Snapshot() types.Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	states := make(map[string]types.FileState, len(p.states))
	for k, v := range p.states {
		states[k] = v
	}
	elapsed := p.elapsed
	if !p.finished {
		elapsed = p.now().Sub(p.start)
	}
	return types.Progress{
		Done:      p.processed + p.skipped + p.failed,
		Total:     p.total,
		Processed: p.processed,
		Skipped:   p.skipped,
		Failed:    p.failed,
		Elapsed:   elapsed,
		States:    states,
		Finished:  p.finished,
	}
}
