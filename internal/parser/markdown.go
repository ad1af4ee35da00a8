package parser

import (
	"strings"
	"unicode"

	"cv-extractor/internal/types"
)

// 标题别名 -> 规范分类
var sectionAliases = map[string]string{
	"personal information":       "personal information",
	"personal details":           "personal information",
	"professionalism":            "professionalism",
	"professionalism assessment": "professionalism",
	"experience":                 "experience",
	"work experience":            "experience",
	"stability":                  "stability",
	"employment stability":       "stability",
	"socioeconomic standard":     "socioeconomic standard",
	"socioeconomic":              "socioeconomic standard",
	"flags":                      "flags",
	"flag summary":               "flags",
	"role":                       "role",
	"role details":               "role",
	"requirements":               "requirements",
	"skills":                     "skills",
	"workplace":                  "workplace",
}

type fieldIndex struct {
	bySection map[[2]string]string // (分类, 别名) -> key
	byAlias   map[string]string    // 别名 -> key，分类不匹配时兜底
}

func buildFieldIndex(schema []types.FieldSpec) fieldIndex {
	idx := fieldIndex{
		bySection: make(map[[2]string]string),
		byAlias:   make(map[string]string),
	}
	for _, fs := range schema {
		names := append([]string{strings.ReplaceAll(fs.Key, "_", " ")}, fs.Aliases...)
		for _, name := range names {
			n := normalizeHeading(name)
			idx.bySection[[2]string{fs.Section, n}] = fs.Key
			if _, ok := idx.byAlias[n]; !ok {
				idx.byAlias[n] = fs.Key
			}
		}
	}
	return idx
}

func (idx fieldIndex) resolve(section, name string) (string, bool) {
	if key, ok := idx.bySection[[2]string{section, name}]; ok {
		return key, true
	}
	key, ok := idx.byAlias[name]
	return key, ok
}

// normalizeHeading 小写，非字母数字替换为空格，合并空白
func normalizeHeading(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// parseMarkdownFields 解析 "# 分类" + "- 字段: 值" 形式的输出。
// 返回原始字符串值，只包含映射到模式的键。续行并入上一个字段，重复值以 " | " 合并。
func parseMarkdownFields(output string, schema []types.FieldSpec) map[string]any {
	parsed := make(map[string]any)
	if strings.TrimSpace(output) == "" {
		return parsed
	}
	idx := buildFieldIndex(schema)

	var (
		section string
		active  string
	)
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			active = ""
			continue
		}
		if strings.HasPrefix(line, "#") {
			heading := normalizeHeading(strings.TrimLeft(line, "#"))
			if canon, ok := sectionAliases[heading]; ok {
				section = canon
			} else {
				section = heading
			}
			active = ""
			continue
		}

		cleaned := strings.TrimSpace(strings.TrimLeft(line, "-* "))
		cleaned = strings.ReplaceAll(cleaned, "**", "")
		if cleaned == "" {
			continue
		}

		if keyPart, valuePart, ok := strings.Cut(cleaned, ":"); ok {
			key, found := idx.resolve(section, normalizeHeading(keyPart))
			if !found {
				active = ""
				continue
			}
			prev, _ := parsed[key].(string)
			parsed[key] = mergeValues(prev, valuePart)
			active = key
			continue
		}

		if active != "" {
			prev, _ := parsed[active].(string)
			parsed[active] = mergeValues(prev, cleaned)
		}
	}
	return parsed
}

func mergeValues(existing, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return existing
	}
	if existing == "" {
		return value
	}
	var parts []string
	for _, p := range strings.Split(existing, "|") {
		if p = strings.TrimSpace(p); p != "" {
			if p == value {
				return existing
			}
			parts = append(parts, p)
		}
	}
	parts = append(parts, value)
	return strings.Join(parts, " | ")
}
