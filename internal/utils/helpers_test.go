package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashKnownVector(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", ContentHash([]byte("abc")))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ContentHash(nil))
}

func TestContentHashIgnoresFilename(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	c := filepath.Join(dir, "sub-c.txt")
	require.NoError(t, os.WriteFile(a, []byte("same bytes"), 0644))
	require.NoError(t, os.WriteFile(c, []byte("same bytes"), 0644))

	da, err := os.ReadFile(a)
	require.NoError(t, err)
	dc, err := os.ReadFile(c)
	require.NoError(t, err)
	ha, hc := ContentHash(da), ContentHash(dc)
	assert.Equal(t, ha, hc, "相同字节的文件应得到相同的 content_id")

	assert.NotEqual(t, ha, ContentHash([]byte("same bytes!")))
}

func TestConvertHelpers(t *testing.T) {
	assert.Equal(t, "[]", string(ConvertFloatsToJSON(nil)))
	assert.Equal(t, "[0.5,1]", string(ConvertFloatsToJSON([]float64{0.5, 1})))
	assert.Equal(t, `{"a":1}`, string(ConvertToJSON(map[string]int{"a": 1})))
	assert.Equal(t, "abcdef012345", ShortID("abcdef0123456789"))
}
