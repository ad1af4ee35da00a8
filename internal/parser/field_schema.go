package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cv-extractor/internal/types"
)

// 简历字段的抽取说明，写入系统提示
var candidateFieldHints = map[string]string{
	"misspelling_count":               "number of misspelled words, excluding acronyms",
	"misspelled_words":                "comma-separated list of misspelled words",
	"visual_cleanliness":              "integer 0-10",
	"professional_look":               "integer 0-10",
	"formatting_consistency":          "integer 0-10",
	"years_since_graduation":          "years since the bachelor degree when unclear",
	"total_years_experience":          "employment only, internships excluded",
	"employer_names":                  "comma-separated list",
	"second_foreign_language":         "excluding Arabic and English",
	"flag_stem_degree":                "Yes or No",
	"military_service_status":         "Finished, Exempt or Unknown",
	"worked_at_financial_institution": "Yes or No",
	"worked_for_egyptian_government":  "Yes or No",
}

var roleFieldHints = map[string]string{
	"onsite_requirement_percentage": "0-100",
	"onsite_requirement_mandatory":  "true or false",
	"serves_government":             "true or false",
	"serves_financial_institution":  "true or false",
}

// jsonSchemaFor 由字段模式生成 JSON Schema，不允许额外的键
func jsonSchemaFor(schema []types.FieldSpec) map[string]any {
	props := make(map[string]any, len(schema))
	required := make([]string, 0, len(schema))
	for _, fs := range schema {
		props[fs.Key] = propertyFor(fs.Type)
		required = append(required, fs.Key)
	}
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func propertyFor(t types.FieldType) map[string]any {
	switch t {
	case types.FieldInt:
		return map[string]any{"type": "integer", "minimum": 0}
	case types.FieldScore:
		return map[string]any{"type": "integer", "minimum": 0, "maximum": 10}
	case types.FieldDecimal:
		return map[string]any{"type": "number", "minimum": 0}
	case types.FieldYesNo:
		return map[string]any{"type": "string", "enum": []string{"", types.Yes, types.No}}
	case types.FieldMilitary:
		return map[string]any{"type": "string", "enum": []string{"", types.MilitaryFinished, types.MilitaryExempt, types.MilitaryUnknown}}
	case types.FieldStringList:
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	case types.FieldBool:
		return map[string]any{"type": "boolean"}
	default:
		return map[string]any{"type": "string"}
	}
}

var (
	compiledSchemas   = make(map[types.DocumentKind]*jsonschema.Schema)
	compiledSchemasMu sync.Mutex
)

func compiledSchema(kind types.DocumentKind) (*jsonschema.Schema, error) {
	compiledSchemasMu.Lock()
	defer compiledSchemasMu.Unlock()
	if s, ok := compiledSchemas[kind]; ok {
		return s, nil
	}

	b, err := json.Marshal(jsonSchemaFor(types.SchemaFor(kind)))
	if err != nil {
		return nil, fmt.Errorf("序列化 schema 失败: %w", err)
	}
	name := string(kind) + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("加载 schema 失败: %w", err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("编译 schema 失败: %w", err)
	}
	compiledSchemas[kind] = s
	return s, nil
}

// ValidateFields 校验规范化后的字段
func ValidateFields(kind types.DocumentKind, fields types.Fields) error {
	s, err := compiledSchema(kind)
	if err != nil {
		return err
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("序列化字段失败: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("反序列化字段失败: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("字段不符合 schema: %w", err)
	}
	return nil
}

// systemPrompt 固定的系统提示，描述输出契约
func systemPrompt(kind types.DocumentKind) string {
	schema := types.SchemaFor(kind)
	hints := candidateFieldHints
	subject := "a candidate CV"
	if kind == types.KindRole {
		hints = roleFieldHints
		subject = "a job description"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You extract structured data from %s.\n", subject)
	b.WriteString("Respond with ONE flat JSON object and nothing else. Use exactly these keys:\n")
	for _, fs := range schema {
		fmt.Fprintf(&b, "- %s (%s)", fs.Key, typeLabel(fs.Type))
		if h, ok := hints[fs.Key]; ok {
			fmt.Fprintf(&b, ": %s", h)
		}
		b.WriteByte('\n')
	}
	b.WriteString("If a value is not present in the document use \"\" for strings, 0 for numbers, [] for lists and false for booleans. Never invent data.\n")
	return b.String()
}

func typeLabel(t types.FieldType) string {
	switch t {
	case types.FieldInt:
		return "non-negative integer"
	case types.FieldScore:
		return "integer 0-10"
	case types.FieldDecimal:
		return "non-negative decimal"
	case types.FieldYesNo:
		return "Yes|No"
	case types.FieldMilitary:
		return "Finished|Exempt|Unknown"
	case types.FieldStringList:
		return "list of strings"
	case types.FieldBool:
		return "boolean"
	}
	return "string"
}
