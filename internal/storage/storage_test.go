package storage

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-extractor/internal/config"
	"cv-extractor/internal/types"
)

func TestNewStorage_DefaultsToMemoryAndCSV(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Output.ApplicantsCSV = filepath.Join(dir, "applicants.csv")
	cfg.Output.RolesCSV = filepath.Join(dir, "roles.csv")

	s, err := NewStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	_, isMemory := s.Records.(*MemoryStore)
	assert.True(t, isMemory)
	_, isLocal := s.Locker.(*LocalLocker)
	assert.True(t, isLocal)
	assert.Len(t, s.Rows, 2)
	assert.Equal(t, "disabled", s.Status()["mysql"])
	assert.Equal(t, "up", s.Status()["csv"])
}

func TestNewStorage_UnreachableBackendDegrades(t *testing.T) {
	cfg := &config.Config{}
	cfg.Output.Disabled = true
	cfg.Qdrant = config.QdrantConfig{Endpoint: "http://127.0.0.1:1", Dimension: 3}

	s, err := NewStorage(context.Background(), cfg)
	require.NoError(t, err, "后端不可用不应导致初始化失败")
	assert.Nil(t, s.Qdrant)
	assert.Equal(t, "down", s.Status()["qdrant"])
	assert.Empty(t, s.Rows)
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	ok, err := m.Exists(ctx, types.KindCV, "id1")
	require.NoError(t, err)
	assert.False(t, ok)

	rec := sampleRecord("id1", "a.pdf")
	rec.Sections = []types.Section{{Index: 0, Label: "Summary", Text: "x", Embedding: []float64{1}}}
	require.NoError(t, m.Upsert(ctx, rec))
	require.NoError(t, m.Upsert(ctx, rec), "重复写入是幂等的")
	assert.Equal(t, 1, m.Len())

	got, found, err := m.Get(ctx, types.KindCV, "id1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "id1", got.Sections[0].ParentID)

	// 返回的是副本
	got.Sections[0].Embedding[0] = 42
	again, _, _ := m.Get(ctx, types.KindCV, "id1")
	assert.Equal(t, 1.0, again.Sections[0].Embedding[0])

	_, found, err = m.Get(ctx, types.KindRole, "id1")
	require.NoError(t, err)
	assert.False(t, found, "不同类型互不可见")

	ts := time.Now().Add(time.Hour)
	require.NoError(t, m.Touch(ctx, types.KindCV, "id1", "b.pdf", "", ts))
	list, err := m.List(ctx, types.KindCV)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b.pdf", list[0].SourceFilename)
	assert.Nil(t, list[0].Sections)

	assert.ErrorIs(t, m.Touch(ctx, types.KindCV, "nope", "x", "", ts), ErrRecordNotFound)
}

func TestMemoryStore_ListOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		rec := sampleRecord(id, id+".pdf")
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, m.Upsert(ctx, rec))
	}
	list, err := m.List(ctx, types.KindCV)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ContentID)
	assert.Equal(t, "b", list[2].ContentID)
}

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "cv:same")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, l.size(), "释放后不应残留条目")
}

func TestLocalLocker_ContextCanceled(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 不同 key 不受影响
	other, err := l.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()

	unlock()
	unlock() // 重复调用无副作用
	assert.Equal(t, 0, l.size())
}
