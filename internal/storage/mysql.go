package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"cv-extractor/internal/config"
	"cv-extractor/internal/constants"
	"cv-extractor/internal/logger"
	"cv-extractor/internal/storage/models"
	"cv-extractor/internal/tracing"
	"cv-extractor/internal/types"
	"cv-extractor/internal/utils"
)

var mysqlTracer = otel.Tracer("cv-extractor/storage/mysql")

type spanCtxKey struct{}

// GormTracingPlugin GORM 插件，为每条 SQL 创建 OpenTelemetry span
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册回调
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	steps := []struct {
		op       string
		register func(name string, before bool, fn func(*gorm.DB)) error
	}{
		{"CREATE", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Create().Before("gorm:create").Register(name, fn)
			}
			return cb.Create().After("gorm:create").Register(name, fn)
		}},
		{"SELECT", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Query().Before("gorm:query").Register(name, fn)
			}
			return cb.Query().After("gorm:query").Register(name, fn)
		}},
		{"UPDATE", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Update().Before("gorm:update").Register(name, fn)
			}
			return cb.Update().After("gorm:update").Register(name, fn)
		}},
		{"DELETE", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Delete().Before("gorm:delete").Register(name, fn)
			}
			return cb.Delete().After("gorm:delete").Register(name, fn)
		}},
		{"ROW", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Row().Before("gorm:row").Register(name, fn)
			}
			return cb.Row().After("gorm:row").Register(name, fn)
		}},
		{"RAW", func(name string, before bool, fn func(*gorm.DB)) error {
			if before {
				return cb.Raw().Before("gorm:raw").Register(name, fn)
			}
			return cb.Raw().After("gorm:raw").Register(name, fn)
		}},
	}
	for _, s := range steps {
		if err := s.register("otel:before_"+s.op, true, p.before(s.op)); err != nil {
			return err
		}
		if err := s.register("otel:after_"+s.op, false, p.after()); err != nil {
			return err
		}
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}
		if sql := db.Statement.SQL.String(); sql != "" {
			opts = append(opts, trace.WithAttributes(attribute.String("db.statement", sql)))
		}
		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, tableName), opts...)
		db.Statement.Context = context.WithValue(newCtx, spanCtxKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(spanCtxKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
			attribute.String("db.statement", tracing.SafeSQL(db.Statement.SQL.String())),
		)
		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 查不到记录是正常的业务分支
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			span.SetAttributes(attribute.String("error.type", "database_error"))
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}
	}
}

// NewGormTracingPlugin 创建追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// outboxTarget 入库事件的投递目标，为空时不写 outbox
type outboxTarget struct {
	exchange   string
	routingKey string
}

// MySQL 基于 GORM 的 RecordStore
type MySQL struct {
	db     *gorm.DB
	cfg    *config.MySQLConfig
	locker KeyedLocker
	outbox *outboxTarget
	logger zerolog.Logger
}

var _ RecordStore = (*MySQL)(nil)

// MySQLOption MySQL 选项
type MySQLOption func(*MySQL)

// WithOutbox 入库时在同一事务里写入 outbox 消息
func WithOutbox(exchange, routingKey string) MySQLOption {
	return func(m *MySQL) {
		if exchange != "" && routingKey != "" {
			m.outbox = &outboxTarget{exchange: exchange, routingKey: routingKey}
		}
	}
}

// WithLocker 替换默认的进程内锁，例如换成 Redis 锁
func WithLocker(l KeyedLocker) MySQLOption {
	return func(m *MySQL) {
		if l != nil {
			m.locker = l
		}
	}
}

// NewMySQL 连接 MySQL 并迁移表结构
func NewMySQL(cfg *config.MySQLConfig, opts ...MySQLOption) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel gormlogger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = gormlogger.Silent
	case 2:
		logLevel = gormlogger.Error
	case 3:
		logLevel = gormlogger.Warn
	case 4:
		logLevel = gormlogger.Info
	default:
		logLevel = gormlogger.Warn
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: 连接MySQL失败: %v", ErrStoreUnavailable, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{
		db:     db,
		cfg:    cfg,
		locker: NewLocalLocker(),
		logger: logger.Component("mysql"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.autoMigrateSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}
	m.logger.Info().Str("database", cfg.Database).Msg("成功连接到MySQL并迁移表结构")
	return m, nil
}

func (m *MySQL) autoMigrateSchema() error {
	silentLogger := gormlogger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
	err := m.db.Session(&gorm.Session{Logger: silentLogger}).AutoMigrate(
		&models.Document{},
		&models.DocumentSection{},
		&models.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB GORM 连接
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// Exists 检查记录是否存在
func (m *MySQL) Exists(ctx context.Context, kind types.DocumentKind, contentID string) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.Document{}).
		Where("kind = ? AND content_id = ?", string(kind), contentID).
		Count(&count).Error
	if err != nil {
		return false, unavailable("查询记录", err)
	}
	return count > 0, nil
}

// Upsert 按 (kind, content_id) 创建或更新记录并替换片段
func (m *MySQL) Upsert(ctx context.Context, rec *types.Record) error {
	if rec == nil || rec.ContentID == "" {
		return fmt.Errorf("记录缺少 content_id")
	}
	ctx, span := mysqlTracer.Start(ctx, "MySQL.Upsert", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.cfg.Database),
		attribute.String("document.kind", string(rec.Kind)),
		attribute.String("document.content_id", rec.ContentID),
		attribute.Int("document.sections", len(rec.Sections)),
	)

	unlock, err := m.locker.Lock(ctx, DocumentLockKey(rec.Kind, rec.ContentID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer unlock()

	doc := documentFromRecord(rec)
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "kind"}, {Name: "content_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"source_filename", "file_location", "full_text", "raw_output",
				"fields", "document_vector", "processed_at", "updated_at",
			}),
		}).Omit("Sections").Create(doc).Error
		if err != nil {
			return err
		}

		// ON DUPLICATE KEY 时驱动返回的自增 ID 不可靠，重新查一次
		var stored models.Document
		if err := tx.Select("id").Where("kind = ? AND content_id = ?", doc.Kind, doc.ContentID).Take(&stored).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", stored.ID).Delete(&models.DocumentSection{}).Error; err != nil {
			return err
		}
		if sections := sectionsFromRecord(stored.ID, rec); len(sections) > 0 {
			if err := tx.CreateInBatches(sections, 100).Error; err != nil {
				return err
			}
		}

		if m.outbox != nil {
			payload, err := json.Marshal(NewDocumentProcessedEvent(rec))
			if err != nil {
				return fmt.Errorf("序列化入库事件失败: %w", err)
			}
			msg := &models.OutboxMessage{
				AggregateID:      rec.ContentID,
				EventType:        constants.EventDocumentProcessed,
				Payload:          string(payload),
				TargetExchange:   m.outbox.exchange,
				TargetRoutingKey: m.outbox.routingKey,
				Status:           models.OutboxStatusPending,
			}
			if err := tx.Create(msg).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return unavailable("写入记录", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Get 读取记录及其片段
func (m *MySQL) Get(ctx context.Context, kind types.DocumentKind, contentID string) (*types.Record, bool, error) {
	var doc models.Document
	err := m.db.WithContext(ctx).
		Preload("Sections", func(db *gorm.DB) *gorm.DB { return db.Order("section_index ASC") }).
		Where("kind = ? AND content_id = ?", string(kind), contentID).
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("读取记录", err)
	}
	rec, err := recordFromDocument(&doc, true)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// List 按处理时间升序列出，不加载片段
func (m *MySQL) List(ctx context.Context, kind types.DocumentKind) ([]*types.Record, error) {
	var docs []models.Document
	err := m.db.WithContext(ctx).
		Where("kind = ?", string(kind)).
		Order("processed_at ASC, content_id ASC").
		Find(&docs).Error
	if err != nil {
		return nil, unavailable("列出记录", err)
	}
	out := make([]*types.Record, 0, len(docs))
	for i := range docs {
		rec, err := recordFromDocument(&docs[i], false)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Touch 只更新文件名、位置和时间戳
func (m *MySQL) Touch(ctx context.Context, kind types.DocumentKind, contentID, filename, location string, ts time.Time) error {
	updates := map[string]interface{}{
		"source_filename": filename,
		"processed_at":    ts,
	}
	if location != "" {
		updates["file_location"] = location
	}
	res := m.db.WithContext(ctx).Model(&models.Document{}).
		Where("kind = ? AND content_id = ?", string(kind), contentID).
		Updates(updates)
	if res.Error != nil {
		return unavailable("更新时间戳", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func documentFromRecord(rec *types.Record) *models.Document {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var vector datatypes.JSON
	if len(rec.DocumentVector) > 0 {
		vector = utils.ConvertFloatsToJSON(rec.DocumentVector)
	}
	return &models.Document{
		Kind:           string(rec.Kind),
		ContentID:      rec.ContentID,
		SourceFilename: rec.SourceFilename,
		FileLocation:   rec.FileLocation,
		FullText:       rec.FullText,
		RawOutput:      rec.RawOutput,
		Fields:         utils.ConvertToJSON(rec.Fields),
		DocumentVector: vector,
		ProcessedAt:    ts,
	}
}

func sectionsFromRecord(documentID uint64, rec *types.Record) []models.DocumentSection {
	out := make([]models.DocumentSection, 0, len(rec.Sections))
	for _, s := range rec.Sections {
		row := models.DocumentSection{
			DocumentID:   documentID,
			ContentID:    rec.ContentID,
			SectionIndex: s.Index,
			Label:        s.Label,
			Text:         s.Text,
		}
		if s.HasEmbedding() {
			row.Embedding = utils.ConvertFloatsToJSON(s.Embedding)
			id := SectionPointID(rec.Kind, rec.ContentID, s.Index)
			row.PointID = &id
		}
		out = append(out, row)
	}
	return out
}

func recordFromDocument(doc *models.Document, withSections bool) (*types.Record, error) {
	kind := types.DocumentKind(doc.Kind)
	raw := map[string]any{}
	if len(doc.Fields) > 0 {
		if err := json.Unmarshal(doc.Fields, &raw); err != nil {
			return nil, fmt.Errorf("解析字段失败(%s): %w", doc.ContentID, err)
		}
	}
	rec := &types.Record{
		Kind:           kind,
		ContentID:      doc.ContentID,
		SourceFilename: doc.SourceFilename,
		FileLocation:   doc.FileLocation,
		FullText:       doc.FullText,
		RawOutput:      doc.RawOutput,
		Fields:         types.RestoreFields(types.SchemaFor(kind), raw),
		Timestamp:      doc.ProcessedAt,
	}
	if len(doc.DocumentVector) > 0 {
		if err := json.Unmarshal(doc.DocumentVector, &rec.DocumentVector); err != nil {
			return nil, fmt.Errorf("解析文档向量失败(%s): %w", doc.ContentID, err)
		}
	}
	if withSections {
		rec.Sections = make([]types.Section, 0, len(doc.Sections))
		for _, row := range doc.Sections {
			s := types.Section{ParentID: doc.ContentID, Index: row.SectionIndex, Label: row.Label, Text: row.Text}
			if len(row.Embedding) > 0 {
				if err := json.Unmarshal(row.Embedding, &s.Embedding); err != nil {
					return nil, fmt.Errorf("解析片段向量失败(%s#%d): %w", doc.ContentID, row.SectionIndex, err)
				}
			}
			rec.Sections = append(rec.Sections, s)
		}
	}
	return rec, nil
}
