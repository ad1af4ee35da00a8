package types

import "time"

// 行状态
const (
	RowStatusSuccess = "success"
	RowStatusError   = "error"
)

// 固定列，位于字段列之前
var baseRowHeader = []string{"timestamp", "filename", "file_location", "status", "error_message", "raw_output", "content_id"}

// Row 表格/CSV 中的一行，成功和失败的文件都有一行
type Row struct {
	ContentID    string    `json:"content_id"`
	Timestamp    time.Time `json:"timestamp"`
	Filename     string    `json:"filename"`
	FileLocation string    `json:"file_location"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message"`
	RawOutput    string    `json:"raw_output"`
	Fields       Fields    `json:"fields"`
}

// RowFromRecord 成功记录对应的行
func RowFromRecord(rec *Record) Row {
	return Row{
		ContentID:    rec.ContentID,
		Timestamp:    rec.Timestamp,
		Filename:     rec.SourceFilename,
		FileLocation: rec.FileLocation,
		Status:       RowStatusSuccess,
		RawOutput:    rec.RawOutput,
		Fields:       rec.Fields,
	}
}

// ErrorRow 失败文件对应的行，字段全部取缺省值
func ErrorRow(kind DocumentKind, contentID, filename, location, reason string, ts time.Time) Row {
	return Row{
		ContentID:    contentID,
		Timestamp:    ts,
		Filename:     filename,
		FileLocation: location,
		Status:       RowStatusError,
		ErrorMessage: reason,
		Fields:       DefaultFields(SchemaFor(kind)),
	}
}

// RowHeader 表头。prefixed 为 true 时字段列使用分类前缀列名。
func RowHeader(schema []FieldSpec, prefixed bool) []string {
	out := make([]string, 0, len(baseRowHeader)+len(schema))
	out = append(out, baseRowHeader...)
	for _, fs := range schema {
		if prefixed {
			out = append(out, fs.Header)
		} else {
			out = append(out, fs.Key)
		}
	}
	return out
}

// Values 按表头顺序输出单元格
func (r Row) Values(schema []FieldSpec) []string {
	ts := ""
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.Format(time.RFC3339)
	}
	out := make([]string, 0, len(baseRowHeader)+len(schema))
	out = append(out, ts, r.Filename, r.FileLocation, r.Status, r.ErrorMessage, r.RawOutput, r.ContentID)
	for _, fs := range schema {
		out = append(out, FormatValue(fs.Type, r.Fields[fs.Key]))
	}
	return out
}
