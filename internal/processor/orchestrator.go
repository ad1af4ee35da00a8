package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"cv-extractor/internal/logger"
	"cv-extractor/internal/parser"
	"cv-extractor/internal/storage"
	"cv-extractor/internal/tracing"
	"cv-extractor/internal/types"
	"cv-extractor/internal/utils"
)

var tracer = otel.Tracer("cv-extractor/processor")

// BatchOrchestrator 把一组文件逐个送过 提取 → 字段 → 分段 → 向量 → 存储 流程
type BatchOrchestrator struct {
	comp   Components
	set    Settings
	logger zerolog.Logger
}

// NewBatchOrchestrator 由组件和设置创建编排器
func NewBatchOrchestrator(comp *Components, set *Settings, opts ...SettingOpt) (*BatchOrchestrator, error) {
	if comp == nil {
		return nil, fmt.Errorf("组件不能为空")
	}
	if set == nil {
		set = &Settings{}
	}
	for _, opt := range opts {
		opt(set)
	}

	switch {
	case comp.Extractor == nil:
		return nil, ErrExtractorNotInit
	case comp.Fields == nil:
		return nil, ErrFieldsNotInit
	case comp.Slicer == nil:
		return nil, ErrSlicerNotInit
	}

	c := *comp
	if c.Records == nil {
		c.Records = storage.NewMemoryStore()
	}
	if c.Locker == nil {
		c.Locker = storage.NewLocalLocker()
	}

	s := *set
	if s.Concurrency <= 0 {
		s.Concurrency = 4
	}
	if s.ExtractionTimeout <= 0 {
		s.ExtractionTimeout = 60 * time.Second
	}
	if s.EmbeddingTimeout <= 0 {
		s.EmbeddingTimeout = 30 * time.Second
	}
	if s.StoreTimeout <= 0 {
		s.StoreTimeout = 15 * time.Second
	}
	if s.EmbeddingMode == "" {
		s.EmbeddingMode = parser.EmbedSections
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	l := logger.Component("processor")
	if s.Logger != nil {
		l = *s.Logger
	}

	return &BatchOrchestrator{comp: c, set: s, logger: l}, nil
}

// Records 编排器写入的记录存储
func (o *BatchOrchestrator) Records() storage.RecordStore { return o.comp.Records }

// ListFiles 列出目录下支持的文件，不递归，按名称排序
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取目录 %s 失败: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !parser.SupportedFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Run 处理一批文件并返回汇总
func (o *BatchOrchestrator) Run(ctx context.Context, kind types.DocumentKind, files []string, onState ProgressFunc) types.Summary {
	return o.NewBatch(kind, files).Run(ctx, onState)
}

// Batch 一次批处理，运行期间可读取进度
type Batch struct {
	o        *BatchOrchestrator
	kind     types.DocumentKind
	files    []string
	progress *progressTracker

	mu      sync.Mutex
	summary types.Summary
}

// NewBatch 准备一批文件，重复路径只保留一次
func (o *BatchOrchestrator) NewBatch(kind types.DocumentKind, files []string) *Batch {
	seen := make(map[string]struct{}, len(files))
	unique := make([]string, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		unique = append(unique, f)
	}
	return &Batch{
		o:        o,
		kind:     kind,
		files:    unique,
		progress: newProgressTracker(unique, o.set.Now),
		summary:  types.Summary{Total: len(unique), Failed: []types.FileFailure{}},
	}
}

// Files 本批文件
func (b *Batch) Files() []string { return append([]string(nil), b.files...) }

// Progress 当前进度快照
func (b *Batch) Progress() types.Progress { return b.progress.Snapshot() }

// Run 以有限并发处理所有文件。ctx 取消后不再派发新文件，已开始的文件继续完成。
func (b *Batch) Run(ctx context.Context, onState ProgressFunc) types.Summary {
	start := b.o.set.Now()
	log := b.o.logger.With().Str("kind", string(b.kind)).Int("total", len(b.files)).Logger()
	log.Info().Int("concurrency", b.o.set.Concurrency).Msg("开始批处理")

	// 已派发的文件不受批级取消影响
	workCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(b.o.set.Concurrency)
	for i, file := range b.files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// 排队期间被取消的文件保持 Pending
			if ctx.Err() != nil {
				return nil
			}
			b.processFile(workCtx, i, file, onState)
			return nil
		})
	}
	_ = g.Wait()
	canceled := ctx.Err() != nil && b.progress.Snapshot().Done < len(b.files)
	b.progress.finish()

	b.mu.Lock()
	defer b.mu.Unlock()
	sort.Slice(b.summary.Failed, func(i, j int) bool { return b.summary.Failed[i].File < b.summary.Failed[j].File })
	b.summary.Elapsed = b.o.set.Now().Sub(start)
	b.summary.Canceled = canceled

	log.Info().
		Int("processed", b.summary.Processed).
		Int("skipped", b.summary.Skipped).
		Int("failed", len(b.summary.Failed)).
		Int("warnings", len(b.summary.Warnings)).
		Bool("canceled", canceled).
		Dur("elapsed", b.summary.Elapsed).
		Msg("批处理结束")

	out := b.summary
	out.Failed = append([]types.FileFailure{}, b.summary.Failed...)
	out.Warnings = append([]types.FileFailure(nil), b.summary.Warnings...)
	return out
}

// fileRun 单个文件的处理上下文
type fileRun struct {
	b        *Batch
	index    int
	path     string
	name     string
	location string
	id       string
	onState  ProgressFunc
	log      zerolog.Logger
}

func (f *fileRun) report(state types.FileState) {
	f.b.progress.set(f.path, state)
	f.log.Debug().Str("state", state.String()).Msg("状态变化")
	if f.onState != nil {
		f.onState(f.index, len(f.b.files), f.path, state)
	}
}

func (f *fileRun) warn(de *DocumentError) {
	f.log.Warn().Str("reason", de.Reason()).Msg("处理降级")
	f.b.mu.Lock()
	f.b.summary.Warnings = append(f.b.summary.Warnings, types.FileFailure{File: f.path, Reason: de.Reason()})
	f.b.mu.Unlock()
}

func (b *Batch) processFile(ctx context.Context, index int, path string, onState ProgressFunc) {
	ctx, span := tracer.Start(ctx, "Orchestrator.ProcessFile")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.kind", string(b.kind)),
		attribute.String("document.file", tracing.SafeFileName(path)),
	)

	location, err := filepath.Abs(path)
	if err != nil {
		location = path
	}
	f := &fileRun{
		b:        b,
		index:    index,
		path:     path,
		name:     filepath.Base(path),
		location: location,
		onState:  onState,
		log:      b.o.logger.With().Str("file", path).Str("kind", string(b.kind)).Logger(),
	}

	state, err := f.run(ctx)
	if err != nil {
		var de *DocumentError
		if !errors.As(err, &de) {
			de = newDocumentError(path, f.id, "process", parser.ErrUnreadableDocument, err)
		}
		tracing.RecordErrorWithInfo(span, de, tracing.ErrorTypeInternal,
			attribute.String("document.op", de.Op),
			attribute.String("document.failure", de.BaseErr.Error()),
		)
		f.fail(ctx, de)
		return
	}

	span.SetAttributes(attribute.String("document.content_id", f.id), attribute.String("document.state", state.String()))
	b.mu.Lock()
	if state == types.StateSkipped {
		b.summary.Skipped++
	} else {
		b.summary.Processed++
	}
	b.mu.Unlock()
	f.report(state)
}

// fail 记录失败并写入失败行
func (f *fileRun) fail(ctx context.Context, de *DocumentError) {
	f.log.Error().Str("op", de.Op).Str("reason", de.Reason()).Msg("文件处理失败")
	if sink := f.b.o.comp.Rows[f.b.kind]; sink != nil {
		id := f.id
		if id == "" {
			// 读不到内容时按路径区分失败行
			id = "path:" + f.location
		}
		row := types.ErrorRow(f.b.kind, id, f.name, f.location, de.Reason(), f.b.o.set.Now())
		sctx, cancel := context.WithTimeout(ctx, f.b.o.set.StoreTimeout)
		if err := sink.Upsert(sctx, row); err != nil {
			f.log.Warn().Err(err).Msg("写入失败行失败")
		}
		cancel()
	}
	f.b.mu.Lock()
	f.b.summary.Failed = append(f.b.summary.Failed, types.FileFailure{File: f.path, Reason: de.Reason()})
	f.b.mu.Unlock()
	f.report(types.StateFailed)
}

// run 按固定顺序执行各步骤，返回终态 Done 或 Skipped
func (f *fileRun) run(ctx context.Context) (types.FileState, error) {
	o := f.b.o
	kind := f.b.kind

	f.report(types.StateHashing)
	data, err := o.comp.Extractor.ReadFile(f.path)
	if err != nil {
		return 0, NewUnreadableError(f.path, "", err)
	}
	id := utils.ContentHash(data)
	f.id = id
	f.log = f.log.With().Str("content_id", utils.ShortID(id)).Logger()

	unlock, err := o.comp.Locker.Lock(ctx, storage.PipelineLockKey(kind, id))
	if err != nil {
		f.log.Warn().Err(err).Msg("获取处理锁失败，继续处理")
	} else {
		defer unlock()
	}

	if f.alreadyProcessed(ctx) {
		f.touch(ctx)
		return types.StateSkipped, nil
	}

	f.report(types.StateExtracting)
	format, err := parser.DetectFormat(f.path)
	if err != nil {
		return 0, NewUnreadableError(f.path, id, err)
	}
	text, err := o.comp.Extractor.ExtractBytes(ctx, data, f.path, format)
	if err != nil {
		return 0, NewUnreadableError(f.path, id, err)
	}

	f.report(types.StateFielding)
	fctx, cancel := context.WithTimeout(ctx, o.set.ExtractionTimeout)
	result, err := o.comp.Fields.ExtractFields(fctx, kind, text, f.name)
	if err == nil && fctx.Err() != nil {
		err = fmt.Errorf("%w: %v", parser.ErrExtractionFailed, fctx.Err())
	}
	cancel()
	if err != nil {
		return 0, NewExtractionError(f.path, id, err)
	}

	f.report(types.StateSlicing)
	sections := o.comp.Slicer.Slice(text)
	for i := range sections {
		sections[i].ParentID = id
	}

	f.report(types.StateEmbedding)
	docVector := f.embed(ctx, text, sections)

	f.report(types.StateStoring)
	rec := &types.Record{
		Kind:           kind,
		ContentID:      id,
		SourceFilename: f.name,
		FileLocation:   f.location,
		FullText:       text,
		RawOutput:      result.Raw,
		Fields:         result.Fields,
		Timestamp:      o.set.Now(),
		DocumentVector: docVector,
		Sections:       sections,
	}
	if err := f.store(ctx, rec, data, text); err != nil {
		return 0, err
	}
	return types.StateDone, nil
}

// alreadyProcessed 缓存、记录存储、CSV 任一处已有成功记录即视为已处理
func (f *fileRun) alreadyProcessed(ctx context.Context) bool {
	o := f.b.o
	kind := f.b.kind
	sctx, cancel := context.WithTimeout(ctx, o.set.StoreTimeout)
	defer cancel()

	if o.comp.Cache != nil {
		hit, err := o.comp.Cache.IsProcessed(sctx, kind, f.id)
		if err != nil {
			f.log.Debug().Err(err).Msg("查询已处理缓存失败")
		} else if hit {
			return true
		}
	}
	ok, err := o.comp.Records.Exists(sctx, kind, f.id)
	if err != nil {
		f.warn(NewStoreError(f.path, f.id, err))
	} else if ok {
		return true
	}
	if sink := o.comp.Rows[kind]; sink != nil && sink.Has(f.id) {
		return true
	}
	return false
}

// touch 重复内容只更新文件名、位置和时间，不再调用外部接口
func (f *fileRun) touch(ctx context.Context) {
	o := f.b.o
	now := o.set.Now()
	sctx, cancel := context.WithTimeout(ctx, o.set.StoreTimeout)
	defer cancel()

	if err := o.comp.Records.Touch(sctx, f.b.kind, f.id, f.name, f.location, now); err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		f.warn(NewStoreError(f.path, f.id, err))
	}
	if sink := o.comp.Rows[f.b.kind]; sink != nil {
		if err := sink.Touch(sctx, f.id, f.name, f.location, now); err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			f.warn(NewStoreError(f.path, f.id, err))
		}
	}
	f.log.Info().Msg("内容已处理过，跳过")
}

// embed 按配置生成整篇和片段向量。失败只记告警，对应向量留空。
func (f *fileRun) embed(ctx context.Context, text string, sections []types.Section) []float64 {
	o := f.b.o
	mode := o.set.EmbeddingMode
	if o.comp.Embedder == nil || mode == parser.EmbedNone {
		return nil
	}

	var docVector []float64
	if mode.Document() {
		ectx, cancel := context.WithTimeout(ctx, o.set.EmbeddingTimeout)
		vec, err := o.comp.Embedder.Embed(ectx, text)
		cancel()
		if err != nil {
			f.warn(NewEmbeddingError(f.path, f.id, err))
		} else {
			docVector = vec
		}
	}
	if mode.Sections() && len(sections) > 0 {
		ectx, cancel := context.WithTimeout(ctx, o.set.EmbeddingTimeout*time.Duration(len(sections)))
		failed, err := o.comp.Embedder.EmbedSections(ectx, sections)
		cancel()
		if failed > 0 {
			if err == nil {
				err = parser.ErrEmbeddingFailed
			}
			de := NewEmbeddingError(f.path, f.id, err)
			de.Detail = fmt.Sprintf("%d/%d 个片段向量化失败: %s", failed, len(sections), de.Detail)
			f.warn(de)
		}
	}
	return docVector
}

// store 写入记录存储和 CSV，两者都失败时文件失败。向量、归档、缓存失败只记告警。
func (f *fileRun) store(ctx context.Context, rec *types.Record, data []byte, text string) error {
	o := f.b.o
	sctx, cancel := context.WithTimeout(ctx, o.set.StoreTimeout)
	defer cancel()

	var storeErr error
	if err := o.comp.Records.Upsert(sctx, rec); err != nil {
		storeErr = err
	}
	sink := o.comp.Rows[rec.Kind]
	var rowErr error
	if sink != nil {
		rowErr = sink.Upsert(sctx, types.RowFromRecord(rec))
	}

	switch {
	case storeErr != nil && (sink == nil || rowErr != nil):
		cause := storeErr
		if rowErr != nil {
			cause = fmt.Errorf("%v; csv: %v", storeErr, rowErr)
		}
		return NewStoreError(f.path, rec.ContentID, cause)
	case storeErr != nil:
		f.warn(NewStoreError(f.path, rec.ContentID, storeErr))
	case rowErr != nil:
		f.warn(NewStoreError(f.path, rec.ContentID, fmt.Errorf("csv: %w", rowErr)))
	}

	if o.comp.Vectors != nil && hasEmbeddedSection(rec.Sections) {
		vctx, vcancel := context.WithTimeout(ctx, o.set.StoreTimeout)
		ids, err := o.comp.Vectors.UpsertSections(vctx, rec.Kind, rec.ContentID, rec.SourceFilename, rec.Sections)
		vcancel()
		if err != nil {
			f.warn(NewStoreError(f.path, rec.ContentID, fmt.Errorf("vectors: %w", err)))
		} else {
			f.log.Debug().Int("points", countNonEmpty(ids)).Msg("片段向量已写入")
		}
	}

	if o.comp.Archive != nil {
		actx, acancel := context.WithTimeout(ctx, o.set.StoreTimeout)
		location, err := o.comp.Archive.Archive(actx, rec.Kind, rec.ContentID, filepath.Ext(f.path), data, text)
		acancel()
		if err != nil {
			f.warn(NewStoreError(f.path, rec.ContentID, fmt.Errorf("archive: %w", err)))
		} else {
			f.log.Debug().Str("archive", location).Msg("原件已归档")
		}
	}

	if o.comp.Cache != nil {
		cctx, ccancel := context.WithTimeout(ctx, o.set.StoreTimeout)
		if err := o.comp.Cache.MarkProcessed(cctx, rec.Kind, rec.ContentID); err != nil {
			f.log.Debug().Err(err).Msg("写入已处理缓存失败")
		}
		ccancel()
	}

	f.log.Info().Int("sections", len(rec.Sections)).Msg("文件处理完成")
	return nil
}

func hasEmbeddedSection(sections []types.Section) bool {
	for _, s := range sections {
		if s.HasEmbedding() {
			return true
		}
	}
	return false
}

func countNonEmpty(ids []string) int {
	n := 0
	for _, id := range ids {
		if id != "" {
			n++
		}
	}
	return n
}
