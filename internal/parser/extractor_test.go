package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T, opts ...ExtractorOption) *TextExtractor {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := NewTextExtractor(ctx, opts...)
	require.NoError(t, err, "创建文本提取器不应返回错误")
	return e
}

// buildDocx 生成一个只包含正文的最小 docx
func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	ct, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = ct.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`))
	require.NoError(t, err)

	doc, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	body := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`
	for _, p := range paragraphs {
		body += `<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`
	}
	body += `</w:body></w:document>`
	_, err = doc.Write([]byte(body))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"a.pdf":     FormatPDF,
		"B.PDF":     FormatPDF,
		"cv.docx":   FormatDOCX,
		"notes.txt": FormatTXT,
	}
	for name, want := range cases {
		got, err := DetectFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	for _, name := range []string{"photo.png", "readme.md", "notes.text", "old.doc"} {
		_, err := DetectFormat(name)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, name)
	}
	assert.False(t, SupportedFile("x.doc"))
}

func TestExtractTXTStripsBOMAndInvalidBytes(t *testing.T) {
	e := newTestExtractor(t)
	data := append([]byte("\xef\xbb\xbf"), []byte("Jane Doe\n\nEXPERIENCE\nAcme \xff Corp")...)
	text, err := e.ExtractBytes(context.Background(), data, "cv.txt", FormatTXT)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\n\nEXPERIENCE\nAcme \uFFFD Corp", text)
}

func TestExtractEmptyTextIsUnreadable(t *testing.T) {
	e := newTestExtractor(t)
	_, err := e.ExtractBytes(context.Background(), []byte(" \n\t\n"), "blank.txt", FormatTXT)
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}

func TestExtractCorruptedPDFIsUnreadable(t *testing.T) {
	e := newTestExtractor(t)
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf at all"), 0644))

	_, err := e.Extract(context.Background(), path, FormatPDF)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreadableDocument), "损坏的PDF应返回 UnreadableDocument, 实际: %v", err)
}

func TestExtractDOCX(t *testing.T) {
	e := newTestExtractor(t)
	data := buildDocx(t, "Jane Doe", "Experience", "Acme Corp 2019-2023")

	text, err := e.ExtractBytes(context.Background(), data, "cv.docx", FormatDOCX)
	require.NoError(t, err)
	assert.Contains(t, text, "Jane Doe")
	assert.Contains(t, text, "Experience")
	assert.Contains(t, text, "Acme Corp 2019-2023")

	_, err = e.ExtractBytes(context.Background(), []byte("PK-not-really"), "bad.docx", FormatDOCX)
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}

func TestExtractRespectsMaxBytes(t *testing.T) {
	e := newTestExtractor(t, WithMaxBytes(8))
	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	_, err := e.Extract(context.Background(), path, FormatTXT)
	assert.ErrorIs(t, err, ErrUnreadableDocument)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestExtractMissingFile(t *testing.T) {
	e := newTestExtractor(t)
	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "gone.txt"), FormatTXT)
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}

func TestReadFileRespectsMaxBytes(t *testing.T) {
	e := newTestExtractor(t, WithMaxBytes(16))
	dir := t.TempDir()

	small := filepath.Join(dir, "small.txt")
	require.NoError(t, os.WriteFile(small, []byte("sixteen bytes!!!"), 0644))
	data, err := e.ReadFile(small)
	require.NoError(t, err)
	assert.Len(t, data, 16)

	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, []byte("seventeen bytes!!"), 0644))
	_, err = e.ReadFile(big)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.ErrorIs(t, err, ErrUnreadableDocument)

	_, err = e.ReadFile(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}
