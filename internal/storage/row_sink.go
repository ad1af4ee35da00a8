package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cv-extractor/internal/logger"
	"cv-extractor/internal/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// RowSink 平铺行的输出端，与 RecordStore 相互独立
type RowSink interface {
	// Has 是否已有该 content_id 的成功行
	Has(contentID string) bool
	// Upsert 按 content_id 新增或替换一行
	Upsert(ctx context.Context, row types.Row) error
	// Touch 更新文件名、位置和时间戳
	Touch(ctx context.Context, contentID, filename, location string, ts time.Time) error
	// Rows 当前全部行
	Rows() []types.Row
}

// CSVRowSink 以 content_id 为索引的 CSV 文件，每次写入整体重写
type CSVRowSink struct {
	mu       sync.Mutex
	path     string
	schema   []types.FieldSpec
	prefixed bool
	rows     []types.Row
	index    map[string]int
	logger   zerolog.Logger
}

var _ RowSink = (*CSVRowSink)(nil)

// NewCSVRowSink 打开(或新建) CSV，已有内容会被载入索引
func NewCSVRowSink(path string, kind types.DocumentKind, prefixed bool) (*CSVRowSink, error) {
	if path == "" {
		return nil, fmt.Errorf("CSV 路径不能为空")
	}
	s := &CSVRowSink{
		path:     path,
		schema:   types.SchemaFor(kind),
		prefixed: prefixed,
		index:    make(map[string]int),
		logger:   logger.Component("csv").With().Str("path", path).Logger(),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建CSV目录失败: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path 文件路径
func (s *CSVRowSink) Path() string { return s.path }

func (s *CSVRowSink) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取CSV失败: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("读取CSV表头失败: %w", err)
	}

	// 两种列名都能识别
	keyFor := make(map[string]string, len(s.schema)*2)
	for _, fs := range s.schema {
		keyFor[fs.Key] = fs.Key
		keyFor[fs.Header] = fs.Key
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("解析CSV失败: %w", err)
		}
		row := types.Row{Fields: types.DefaultFields(s.schema)}
		for i, col := range header {
			if i >= len(rec) {
				break
			}
			v := rec[i]
			switch col {
			case "timestamp":
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					row.Timestamp = ts
				}
			case "filename":
				row.Filename = v
			case "file_location":
				row.FileLocation = v
			case "status":
				row.Status = v
			case "error_message":
				row.ErrorMessage = v
			case "raw_output":
				row.RawOutput = v
			case "content_id":
				row.ContentID = v
			default:
				if key, ok := keyFor[col]; ok {
					row.Fields[key] = v
				}
			}
		}
		if row.ContentID == "" {
			continue
		}
		s.put(row)
	}
	s.logger.Debug().Int("rows", len(s.rows)).Msg("已载入CSV")
	return nil
}

func (s *CSVRowSink) put(row types.Row) {
	if i, ok := s.index[row.ContentID]; ok {
		s.rows[i] = row
		return
	}
	s.index[row.ContentID] = len(s.rows)
	s.rows = append(s.rows, row)
}

// Has 只认成功行，失败的文件下次仍会重试
func (s *CSVRowSink) Has(contentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[contentID]
	return ok && s.rows[i].Status == types.RowStatusSuccess
}

// Upsert 写入一行并重写文件
func (s *CSVRowSink) Upsert(ctx context.Context, row types.Row) error {
	if row.ContentID == "" {
		return fmt.Errorf("行缺少 content_id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// 成功行不会被之后的失败行覆盖
	if i, ok := s.index[row.ContentID]; ok && row.Status == types.RowStatusError && s.rows[i].Status == types.RowStatusSuccess {
		return nil
	}
	s.put(row)
	return s.flush()
}

// Touch 更新已有行
func (s *CSVRowSink) Touch(ctx context.Context, contentID, filename, location string, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[contentID]
	if !ok {
		return ErrRecordNotFound
	}
	s.rows[i].Filename = filename
	if location != "" {
		s.rows[i].FileLocation = location
	}
	s.rows[i].Timestamp = ts
	return s.flush()
}

// Rows 返回副本
func (s *CSVRowSink) Rows() []types.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Row, len(s.rows))
	copy(out, s.rows)
	return out
}

// WriteTo 把当前内容以 CSV 写到 w，用于导出
func (s *CSVRowSink) WriteTo(w io.Writer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cw := &countingWriter{w: w}
	err := s.encode(cw)
	return cw.n, err
}

func (s *CSVRowSink) encode(w io.Writer) error {
	return writeRowsCSV(w, s.schema, s.rows, s.prefixed)
}

// WriteRowsCSV 以与 CSV 输出相同的格式写出任意行，用于从记录存储导出
func WriteRowsCSV(w io.Writer, kind types.DocumentKind, rows []types.Row, prefixed bool) error {
	return writeRowsCSV(w, types.SchemaFor(kind), rows, prefixed)
}

func writeRowsCSV(w io.Writer, schema []types.FieldSpec, rows []types.Row, prefixed bool) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(types.RowHeader(schema, prefixed)); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row.Values(schema)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// flush 临时文件写完后 rename，读者不会看到半个文件
func (s *CSVRowSink) flush() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时CSV失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	bw := bufio.NewWriter(tmp)
	if err := s.encode(bw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("写入CSV失败: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("写入CSV失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时CSV失败: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("替换CSV失败: %w", err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
