package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResume = `Jane Doe
jane@example.com | +20 100 000 0000

EXPERIENCE
Senior Engineer at Acme Corp, 2019-2023. Built data pipelines and led a team of five engineers.

Education:
B.Sc. Computer Science, Cairo University, 2015. Graduated with honors and a thesis on compilers.

Skills
Go, SQL, Kubernetes, distributed systems design and observability tooling for production.
`

func labels(t *testing.T, text string, s *SectionSlicer) []string {
	t.Helper()
	var out []string
	for _, sec := range s.Slice(text) {
		out = append(out, sec.Label)
	}
	return out
}

func TestSliceByHeaders(t *testing.T) {
	s := NewSectionSlicer(0, 0)
	sections := s.Slice(sampleResume)
	require.Len(t, sections, 4)

	assert.Equal(t, []string{"Jane Doe", "EXPERIENCE", "Education", "Skills"}, labels(t, sampleResume, s))
	assert.Equal(t, "Jane Doe\njane@example.com | +20 100 000 0000", sections[0].Text, "第一个标题前的内容单独成段")
	assert.True(t, strings.HasPrefix(sections[2].Text, "Education:\nB.Sc. Computer Science"))
	for i, sec := range sections {
		assert.Equal(t, i, sec.Index)
	}
}

func TestSliceIsDeterministic(t *testing.T) {
	s := NewSectionSlicer(0, 0)
	first := s.Slice(sampleResume)
	second := s.Slice(sampleResume)
	assert.Equal(t, first, second, "同样的文本应得到同样的分段")
}

func TestSliceNonEmptyAlwaysHasSection(t *testing.T) {
	s := NewSectionSlicer(0, 0)
	for _, text := range []string{"hello", "   ", "x\n\n\n\ny", "A"} {
		sections := s.Slice(text)
		assert.NotEmpty(t, sections, "非空输入至少有一个片段: %q", text)
	}
	assert.Empty(t, s.Slice(""))
}

func TestSliceWithoutHeadersGroupsParagraphs(t *testing.T) {
	p1 := "the quick brown fox jumps over the lazy dog near the quiet river bank today"
	p2 := "a second paragraph that talks about building data pipelines for a big firm"
	p3 := "a third paragraph describing teamwork and on call rotations in some detail"
	text := p1 + "\n\n" + p2 + "\n\n" + p3

	s := NewSectionSlicer(160, 60)
	sections := s.Slice(text)
	require.Len(t, sections, 2)
	assert.Equal(t, p1+"\n\n"+p2, sections[0].Text)
	assert.Equal(t, p3, sections[1].Text)

	assert.Equal(t, "the quick brown fox jumps over the lazy dog near the quie...", sections[0].Label)
	for _, sec := range sections {
		assert.LessOrEqual(t, utf8.RuneCountInString(sec.Label), 60)
	}
}

func TestSliceSplitsLongSectionOnParagraphs(t *testing.T) {
	para := strings.Repeat("built reliable services for payments and billing ", 2)
	body := strings.TrimSpace(para)
	text := "EXPERIENCE\n" + body + "\n\n" + body + "\n\n" + body

	s := NewSectionSlicer(220, 60)
	sections := s.Slice(text)
	require.Len(t, sections, 2)
	assert.Equal(t, "EXPERIENCE\n"+body+"\n\n"+body, sections[0].Text)
	assert.Equal(t, body, sections[1].Text)
	for _, sec := range sections {
		assert.LessOrEqual(t, utf8.RuneCountInString(sec.Text), 220)
	}
}

func TestSliceMergesTinySections(t *testing.T) {
	text := "EXPERIENCE\nSenior Engineer at Acme Corp, 2019-2023, owning the ingestion platform end to end.\nSKILLS\ngo, sql"
	sections := NewSectionSlicer(0, 0).Slice(text)
	require.Len(t, sections, 1, "过短的片段应并入前一段")
	assert.True(t, strings.HasSuffix(sections[0].Text, "SKILLS\ngo, sql"))
}

func TestSliceDeduplicatesLabels(t *testing.T) {
	body := "worked on many different things across several teams and a lot of years"
	text := "Skills\n" + body + "\nSkills\n" + body + "\nSkills\n" + body
	assert.Equal(t, []string{"Skills", "Skills (2)", "Skills (3)"}, labels(t, text, NewSectionSlicer(0, 0)))
}

func TestSliceNormalizesWhitespace(t *testing.T) {
	text := "SUMMARY\r\nbuilt    things\t\there and there for a long long time in a row, really\r\n\r\n\r\n\r\nmore text follows here after the gap in the same block"
	sections := NewSectionSlicer(0, 0).Slice(text)
	require.Len(t, sections, 1)
	assert.NotContains(t, sections[0].Text, "\r")
	assert.NotContains(t, sections[0].Text, "  ")
	assert.NotContains(t, sections[0].Text, "\n\n\n")
	assert.Contains(t, sections[0].Text, "built things here")
}

func TestIsHeaderLine(t *testing.T) {
	cases := map[string]bool{
		"":                          false,
		"Work Experience":           true,
		"TECHNICAL SKILLS":          true,
		"Contact:":                  true,
		"Education and training":    true,
		"My hobbies include chess":  true,
		"jane@example.com":          false,
		"built pipelines in go and": false,
		strings.Repeat("word ", 20): false,
	}
	for line, want := range cases {
		assert.Equal(t, want, isHeaderLine(line), "%q", line)
	}
}
