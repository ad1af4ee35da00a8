package parser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-extractor/internal/config"
	"cv-extractor/internal/types"
)

func newEmbeddingServer(t *testing.T, dim int, failOn string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, s := range v {
				inputs = append(inputs, s.(string))
			}
		}
		for _, in := range inputs {
			if failOn != "" && strings.Contains(in, failOn) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
				return
			}
		}
		type entry struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data []entry `json:"data"`
		}{}
		for i := range inputs {
			vec := make([]float64, dim)
			vec[0] = float64(i + 1)
			resp.Data = append(resp.Data, entry{Embedding: vec, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIEmbedder_EmbedStrings(t *testing.T) {
	srv := newEmbeddingServer(t, 4, "")
	defer srv.Close()

	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{APIKey: "k", Dimensions: 4, BaseURL: srv.URL + "/v1"}, WithEmbedderLogger(zerolog.Nop()))
	require.NoError(t, err)
	assert.Equal(t, 4, e.Dimensions())

	vecs, err := e.EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 4)
	assert.Equal(t, 2.0, vecs[1][0])
}

func TestOpenAIEmbedder_EmptyInput(t *testing.T) {
	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{APIKey: "k"})
	require.NoError(t, err)
	vecs, err := e.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, vecs)
	assert.Empty(t, vecs)
}

func TestOpenAIEmbedder_NoAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbeddingConfig{})
	assert.Error(t, err)
}

func TestEmbeddingClient_EmbedSections(t *testing.T) {
	srv := newEmbeddingServer(t, 3, "FAIL")
	defer srv.Close()

	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{APIKey: "k", BaseURL: srv.URL}, WithEmbedderLogger(zerolog.Nop()))
	require.NoError(t, err)
	c, err := NewEmbeddingClient(e, WithDimension(3), WithEmbeddingLogger(zerolog.Nop()))
	require.NoError(t, err)

	sections := []types.Section{
		{Index: 0, Label: "Summary", Text: "summary text"},
		{Index: 1, Label: "Broken", Text: "FAIL here"},
		{Index: 2, Label: "Skills", Text: "go, sql"},
	}
	failed, err := c.EmbedSections(context.Background(), sections)
	assert.Equal(t, 1, failed)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.True(t, sections[0].HasEmbedding())
	assert.False(t, sections[1].HasEmbedding())
	assert.True(t, sections[2].HasEmbedding())
}

// stubEmbedder 返回固定维度的向量
type stubEmbedder struct {
	dim   int
	delay time.Duration
	calls atomic.Int32
}

func (s *stubEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = make([]float64, s.dim)
	}
	return out, nil
}

func TestEmbeddingClient_DimensionMismatch(t *testing.T) {
	c, err := NewEmbeddingClient(&stubEmbedder{dim: 2}, WithDimension(3), WithEmbeddingLogger(zerolog.Nop()))
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.True(t, errors.Is(err, errDimensionMismatch))
}

func TestEmbeddingClient_FirstDimensionWins(t *testing.T) {
	stub := &stubEmbedder{dim: 3}
	c, err := NewEmbeddingClient(stub, WithDimension(0), WithEmbeddingLogger(zerolog.Nop()))
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "first")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 3, c.dimension)

	stub.dim = 2
	_, err = c.Embed(context.Background(), "second")
	assert.ErrorIs(t, err, errDimensionMismatch)

	sections := []types.Section{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}}
	failed, err := c.EmbedSections(context.Background(), sections)
	assert.Equal(t, 2, failed)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestEmbeddingClient_Timeout(t *testing.T) {
	c, err := NewEmbeddingClient(&stubEmbedder{dim: 2, delay: 200 * time.Millisecond}, WithEmbedTimeout(10*time.Millisecond), WithEmbeddingLogger(zerolog.Nop()))
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestEmbeddingClient_CanceledStopsSections(t *testing.T) {
	stub := &stubEmbedder{dim: 2}
	c, err := NewEmbeddingClient(stub, WithEmbeddingLogger(zerolog.Nop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sections := []types.Section{{Text: "a"}, {Text: "b"}}
	failed, err := c.EmbedSections(ctx, sections)
	assert.Equal(t, 2, failed)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestParseEmbeddingMode(t *testing.T) {
	m, err := ParseEmbeddingMode("")
	require.NoError(t, err)
	assert.Equal(t, EmbedSections, m)
	assert.True(t, m.Sections())
	assert.False(t, m.Document())

	m, err = ParseEmbeddingMode("BOTH")
	require.NoError(t, err)
	assert.True(t, m.Document())
	assert.True(t, m.Sections())

	_, err = ParseEmbeddingMode("paragraphs")
	assert.Error(t, err)
}
