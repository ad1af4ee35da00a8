package storage

import (
	"context"
	"sync"

	"cv-extractor/internal/types"
)

// KeyedLocker 按 key 互斥。不同 key 互不阻塞。
type KeyedLocker interface {
	// Lock 阻塞直到获得 key 的锁或 ctx 结束，返回的 unlock 必须调用
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// DocumentLockKey 文档锁的 key: {kind}:{contentID}
func DocumentLockKey(kind types.DocumentKind, contentID string) string {
	return string(kind) + ":" + contentID
}

// PipelineLockKey 整个处理流程的锁，与写入锁分开，持有期间仍可调用 Upsert
func PipelineLockKey(kind types.DocumentKind, contentID string) string {
	return "pipeline:" + DocumentLockKey(kind, contentID)
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker 进程内的按 key 互斥锁
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

var _ KeyedLocker = (*LocalLocker)(nil)

// NewLocalLocker 创建本地锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*lockEntry)}
}

// Lock 获取 key 的锁
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *LocalLocker) release(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// size 当前持有或等待中的 key 数量
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
