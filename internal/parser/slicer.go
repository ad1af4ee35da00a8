package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"cv-extractor/internal/types"
)

const (
	DefaultMaxSectionChars = 2000
	DefaultMinSectionChars = 60

	maxHeaderChars = 60
	maxLabelChars  = 60
)

// 常见的章节名称，整词匹配(不区分大小写)
var commonSectionTokens = []string{
	"summary",
	"professional summary",
	"experience",
	"work experience",
	"education",
	"skills",
	"technical skills",
	"projects",
	"certifications",
	"achievements",
	"publications",
	"languages",
	"contact",
	"objective",
	"profile",
	"interests",
	"hobbies",
}

var (
	sectionTokenPatterns = compileTokenPatterns(commonSectionTokens)
	paragraphBreak       = regexp.MustCompile(`\n\s*\n`)
	manyNewlines         = regexp.MustCompile(`\n{3,}`)
	manySpaces           = regexp.MustCompile(`[ \t]{2,}`)
	nonASCIILetters      = regexp.MustCompile(`[^A-Za-z]`)
)

func compileTokenPatterns(tokens []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, regexp.MustCompile(`\b`+regexp.QuoteMeta(t)+`\b`))
	}
	return out
}

// SectionSlicer 基于规则的确定性分段器，同样的文本总是得到同样的结果
type SectionSlicer struct {
	maxChars int
	minChars int
}

// NewSectionSlicer 创建分段器，非法参数回退为默认值
func NewSectionSlicer(maxChars, minChars int) *SectionSlicer {
	if maxChars <= 0 {
		maxChars = DefaultMaxSectionChars
	}
	if minChars <= 0 || minChars >= maxChars {
		minChars = DefaultMinSectionChars
	}
	return &SectionSlicer{maxChars: maxChars, minChars: minChars}
}

// Slice 把文本切成有序的带标题片段。非空输入至少返回一个片段。
func (s *SectionSlicer) Slice(text string) []types.Section {
	bodies := s.sliceText(text)
	if len(bodies) == 0 {
		if text == "" {
			return nil
		}
		// 兜底: 整篇文档作为一个片段
		return []types.Section{{Index: 0, Label: "Section 1", Text: text}}
	}

	out := make([]types.Section, 0, len(bodies))
	seen := make(map[string]int, len(bodies))
	for i, body := range bodies {
		title := sectionTitle(body, i+1)
		label := title
		if n, ok := seen[title]; ok {
			seen[title] = n + 1
			label = fmt.Sprintf("%s (%d)", title, n+1)
		} else {
			seen[title] = 1
		}
		out = append(out, types.Section{Index: i, Label: label, Text: body})
	}
	return out
}

func (s *SectionSlicer) sliceText(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	var headers []int
	for i, ln := range lines {
		if isHeaderLine(ln) {
			headers = append(headers, i)
		}
	}

	var sections []string
	if len(headers) > 0 {
		// 第一个标题之前的内容单独成段
		if headers[0] > 0 {
			if leading := strings.TrimSpace(strings.Join(lines[:headers[0]], "\n")); leading != "" {
				sections = append(sections, cleanSection(leading))
			}
		}
		bounds := append(headers, len(lines))
		for i := 0; i < len(bounds)-1; i++ {
			if chunk := strings.TrimSpace(strings.Join(lines[bounds[i]:bounds[i+1]], "\n")); chunk != "" {
				sections = append(sections, cleanSection(chunk))
			}
		}
	} else {
		sections = s.groupParagraphs(splitParagraphs(text))
	}

	// 过长的片段按段落边界再切
	var final []string
	for _, sec := range sections {
		if charLen(sec) <= s.maxChars {
			final = append(final, sec)
			continue
		}
		final = append(final, s.groupParagraphs(splitParagraphs(sec))...)
	}

	// 过短的片段并入前一段
	var merged []string
	for _, sec := range final {
		if len(merged) > 0 && charLen(sec) < s.minChars {
			merged[len(merged)-1] = cleanSection(merged[len(merged)-1] + "\n\n" + sec)
			continue
		}
		merged = append(merged, sec)
	}

	out := merged[:0]
	for _, sec := range merged {
		if strings.TrimSpace(sec) != "" {
			out = append(out, sec)
		}
	}
	return out
}

// groupParagraphs 把段落合并成不超过 maxChars 的组(单个超长段落不再拆分)
func (s *SectionSlicer) groupParagraphs(paragraphs []string) []string {
	var (
		out    []string
		cur    []string
		curLen int
	)
	for _, p := range paragraphs {
		plen := charLen(p)
		if len(cur) > 0 && curLen+plen > s.maxChars {
			out = append(out, cleanSection(strings.Join(cur, "\n\n")))
			cur = []string{p}
			curLen = plen
			continue
		}
		cur = append(cur, p)
		curLen += plen
	}
	if len(cur) > 0 {
		out = append(out, cleanSection(strings.Join(cur, "\n\n")))
	}
	return out
}

func splitParagraphs(text string) []string {
	parts := paragraphBreak.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isHeaderLine 判断一行是否像章节标题:
// 以冒号结尾; 或整词包含常见章节名; 或较短(<=60字符, 1-6个词)且大写字母过半或多数词首字母大写
func isHeaderLine(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	if strings.HasSuffix(s, ":") {
		return true
	}

	low := strings.ToLower(s)
	for _, re := range sectionTokenPatterns {
		if re.MatchString(low) {
			return true
		}
	}

	if charLen(s) > maxHeaderChars {
		return false
	}
	words := strings.Fields(s)
	if len(words) < 1 || len(words) > 6 {
		return false
	}

	if letters := nonASCIILetters.ReplaceAllString(s, ""); letters != "" {
		upper := 0
		for _, c := range letters {
			if c >= 'A' && c <= 'Z' {
				upper++
			}
		}
		if float64(upper)/float64(len(letters)) > 0.5 {
			return true
		}
	}

	titleWords := 0
	for _, w := range words {
		if r, _ := utf8.DecodeRuneInString(w); unicode.IsUpper(r) {
			titleWords++
		}
	}
	return float64(titleWords)/float64(len(words)) > 0.6
}

func cleanSection(s string) string {
	s = strings.TrimSpace(s)
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	s = manySpaces.ReplaceAllString(s, " ")
	return s
}

// sectionTitle 取首行去掉结尾冒号作为标题，过长截断
func sectionTitle(body string, idx int) string {
	first := body
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		first = body[:i]
	}
	title := strings.TrimSpace(first)
	if title == "" {
		return fmt.Sprintf("Section %d", idx)
	}
	if strings.HasSuffix(title, ":") {
		title = strings.TrimSpace(strings.TrimSuffix(title, ":"))
	}
	if charLen(title) > maxLabelChars {
		runes := []rune(title)
		title = strings.TrimRightFunc(string(runes[:maxLabelChars-3]), unicode.IsSpace) + "..."
	}
	if title == "" {
		return fmt.Sprintf("Section %d", idx)
	}
	return title
}

func charLen(s string) int {
	return utf8.RuneCountInString(s)
}
