package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"cv-extractor/internal/types"
)

var (
	numberPattern    = regexp.MustCompile(`-?\d+(?:[.,]\d+)*`)
	leadingNumber    = regexp.MustCompile(`^-?\d+(?:\.\d+)?`)
	thousandsPattern = regexp.MustCompile(`^-?\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
)

// maxCount 整数字段的上限，超出的取值按上限处理
const maxCount = math.MaxInt32

// normalizeFields 按模式规范化: 未知键丢弃，缺失键填缺省值，已知键按类型转换。
// 返回被丢弃的键，便于记录日志。
func normalizeFields(raw map[string]any, schema []types.FieldSpec) (types.Fields, []string) {
	out := types.DefaultFields(schema)
	known := make(map[string]types.FieldType, len(schema))
	for _, fs := range schema {
		known[fs.Key] = fs.Type
	}

	var dropped []string
	for k, v := range raw {
		t, ok := known[k]
		if !ok {
			// 兼容大小写或空格写法的键
			nk := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), " ", "_")
			if t, ok = known[nk]; !ok {
				dropped = append(dropped, k)
				continue
			}
			k = nk
		}
		out[k] = coerceValue(t, v)
	}
	return out, dropped
}

func coerceValue(t types.FieldType, v any) any {
	switch t {
	case types.FieldInt:
		n, _ := toNumber(v)
		return clampInt(n, 0, maxCount)
	case types.FieldScore:
		n, _ := toNumber(v)
		return clampInt(n, 0, 10)
	case types.FieldDecimal:
		n, _ := toNumber(v)
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0.0
		}
		return math.Max(0, n)
	case types.FieldYesNo:
		return canonicalYesNo(v)
	case types.FieldMilitary:
		return canonicalMilitary(toString(v))
	case types.FieldStringList:
		return toStringList(v)
	case types.FieldBool:
		return toBool(v)
	default:
		return toString(v)
	}
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		if val {
			return types.Yes
		}
		return types.No
	case []any:
		return strings.Join(toStringList(val), ", ")
	case []string:
		return strings.Join(val, ", ")
	case map[string]any:
		b, _ := json.Marshal(val)
		return string(b)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// toNumber 解析数值，字符串取第一个数字 ("3.5 years" -> 3.5)
func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		m := numberPattern.FindString(val)
		if m == "" {
			return 0, false
		}
		return parseNumber(m)
	}
	return 0, false
}

// parseNumber "1,500" 按千分位处理，"3,5" 按小数处理，其余取开头的数字
func parseNumber(m string) (float64, bool) {
	switch {
	case thousandsPattern.MatchString(m):
		m = strings.ReplaceAll(m, ",", "")
	case strings.Count(m, ",") == 1 && !strings.Contains(m, "."):
		m = strings.Replace(m, ",", ".", 1)
	default:
		m = leadingNumber.FindString(m)
	}
	f, err := strconv.ParseFloat(m, 64)
	return f, err == nil
}

func clampInt(n float64, lo, hi int) int {
	if math.IsNaN(n) {
		return lo
	}
	return int(math.Min(float64(hi), math.Max(float64(lo), math.Round(n))))
}

func canonicalYesNo(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return types.Yes
		}
		return types.No
	}
	switch strings.ToLower(strings.Trim(toString(v), " .")) {
	case "yes", "y", "true", "1":
		return types.Yes
	case "no", "n", "false", "0":
		return types.No
	}
	return ""
}

func canonicalMilitary(s string) string {
	switch strings.ToLower(strings.Trim(s, " .")) {
	case "finished", "completed", "complete", "done", "served":
		return types.MilitaryFinished
	case "exempt", "exempted", "exemption":
		return types.MilitaryExempt
	case "unknown":
		return types.MilitaryUnknown
	}
	return ""
}

func toStringList(v any) []string {
	out := []string{}
	switch val := v.(type) {
	case nil:
		return out
	case []string:
		for _, s := range val {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		for _, item := range val {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return out
		}
		// JSON 编码的列表字符串
		if strings.HasPrefix(s, "[") {
			var items []any
			if err := json.Unmarshal([]byte(s), &items); err == nil {
				return toStringList(items)
			}
		}
		for _, p := range strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ';' || r == '|' || r == '\n'
		}) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	if s := toString(v); s != "" {
		out = append(out, s)
	}
	return out
}

func toBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	}
	if n, ok := v.(float64); ok {
		return n != 0
	}
	return canonicalYesNo(v) == types.Yes
}
