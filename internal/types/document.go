package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocumentKind 文档类型
type DocumentKind string

const (
	// KindCV 候选人简历
	KindCV DocumentKind = "cv"
	// KindRole 岗位描述
	KindRole DocumentKind = "role"
)

// ParseKind 解析文档类型字符串，空串视为简历
func ParseKind(s string) (DocumentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cv", "cvs", "applicant", "applicants":
		return KindCV, nil
	case "role", "roles", "jd":
		return KindRole, nil
	}
	return "", fmt.Errorf("未知的文档类型: %q", s)
}

// Fields 按字段模式规范化后的抽取结果，始终包含模式中的每一个键
type Fields map[string]any

// Record 一份文档(简历或岗位)的完整记录，content_id 唯一
type Record struct {
	Kind           DocumentKind `json:"kind"`
	ContentID      string       `json:"content_id"`
	SourceFilename string       `json:"filename"`
	FileLocation   string       `json:"file_location"`
	FullText       string       `json:"full_text"`
	RawOutput      string       `json:"raw_output"`
	Fields         Fields       `json:"fields"`
	Timestamp      time.Time    `json:"timestamp"`
	// 整篇文档向量，仅在 embedding.mode 为 document/both 时存在
	DocumentVector []float64 `json:"document_vector,omitempty"`
	Sections       []Section `json:"sections"`
}

// Section 文档中带标题的连续片段，是向量化的基本单位
type Section struct {
	ParentID  string    `json:"parent_id"`
	Index     int       `json:"index"`
	Label     string    `json:"label"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding,omitempty"` // 向量化失败时为空
}

// HasEmbedding 是否已向量化
func (s Section) HasEmbedding() bool { return len(s.Embedding) > 0 }

// Candidate 将字段解码为简历结构
func (r *Record) Candidate() (CandidateFields, error) {
	var out CandidateFields
	if r.Kind != KindCV {
		return out, fmt.Errorf("记录 %s 不是简历", r.ContentID)
	}
	err := decodeFields(r.Fields, &out)
	return out, err
}

// Role 将字段解码为岗位结构
func (r *Record) Role() (RoleFields, error) {
	var out RoleFields
	if r.Kind != KindRole {
		return out, fmt.Errorf("记录 %s 不是岗位描述", r.ContentID)
	}
	err := decodeFields(r.Fields, &out)
	return out, err
}

func decodeFields(f Fields, dst any) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("序列化字段失败: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("解码字段失败: %w", err)
	}
	return nil
}

// DefaultFields 返回模式中每个键的缺省值
func DefaultFields(schema []FieldSpec) Fields {
	out := make(Fields, len(schema))
	for _, fs := range schema {
		out[fs.Key] = DefaultValue(fs.Type)
	}
	return out
}

// DefaultValue 各类型的缺省值
func DefaultValue(t FieldType) any {
	switch t {
	case FieldInt, FieldScore:
		return 0
	case FieldDecimal:
		return 0.0
	case FieldStringList:
		return []string{}
	case FieldBool:
		return false
	default:
		return ""
	}
}

// FormatValue 把字段值格式化成表格单元格文本
func FormatValue(t FieldType, v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if t == FieldInt || t == FieldScore {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return Yes
		}
		return No
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}

// RestoreFields 把 JSON 解码得到的字段还原为模式中的类型，缺失的键取缺省值
func RestoreFields(schema []FieldSpec, raw map[string]any) Fields {
	out := DefaultFields(schema)
	for _, fs := range schema {
		v, ok := raw[fs.Key]
		if !ok || v == nil {
			continue
		}
		switch fs.Type {
		case FieldInt, FieldScore:
			if n, ok := v.(float64); ok {
				out[fs.Key] = int(n)
			}
		case FieldDecimal:
			if n, ok := v.(float64); ok {
				out[fs.Key] = n
			}
		case FieldStringList:
			if list, ok := v.([]any); ok {
				items := make([]string, 0, len(list))
				for _, item := range list {
					items = append(items, fmt.Sprint(item))
				}
				out[fs.Key] = items
			}
		case FieldBool:
			if b, ok := v.(bool); ok {
				out[fs.Key] = b
			}
		default:
			if s, ok := v.(string); ok {
				out[fs.Key] = s
			}
		}
	}
	return out
}
