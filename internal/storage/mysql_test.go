package storage

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-extractor/internal/config"
	"cv-extractor/internal/storage/models"
	"cv-extractor/internal/types"
)

func TestDocumentConversionRestoresTypes(t *testing.T) {
	rec := sampleRecord("id1", "a.pdf")
	rec.Sections = []types.Section{
		{Index: 0, Label: "Summary", Text: "s", Embedding: []float64{0.1, 0.2}},
		{Index: 1, Label: "Skills", Text: "go"},
	}

	doc := documentFromRecord(rec)
	rows := sectionsFromRecord(7, rec)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].PointID)
	assert.Equal(t, SectionPointID(types.KindCV, "id1", 0), *rows[0].PointID)
	assert.Nil(t, rows[1].PointID, "未向量化的片段没有点 ID")
	assert.Equal(t, uint64(7), rows[1].DocumentID)

	doc.Sections = rows
	got, err := recordFromDocument(doc, true)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Fields["total_years_experience"], "数字应还原为 int")
	assert.Equal(t, types.Yes, got.Fields["flag_stem_degree"])
	require.Len(t, got.Sections, 2)
	assert.Equal(t, []float64{0.1, 0.2}, got.Sections[0].Embedding)
	assert.False(t, got.Sections[1].HasEmbedding())
	assert.Equal(t, "id1", got.Sections[1].ParentID)
	assert.Nil(t, got.DocumentVector)
}

func TestRecordFromDocumentWithoutSections(t *testing.T) {
	doc := &models.Document{Kind: "role", ContentID: "r1", Fields: []byte(`{"must_have_skills":["Go"]}`)}
	got, err := recordFromDocument(doc, false)
	require.NoError(t, err)
	assert.Equal(t, types.KindRole, got.Kind)
	assert.Equal(t, []string{"Go"}, got.Fields["must_have_skills"])
	assert.Equal(t, "", got.Fields["role_title"])
	assert.Nil(t, got.Sections)
}

// 需要真实 MySQL，设置 CVX_TEST_MYSQL_HOST 后运行
func TestMySQL_UpsertIdempotent(t *testing.T) {
	host := os.Getenv("CVX_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("未设置 CVX_TEST_MYSQL_HOST，跳过")
	}
	port, _ := strconv.Atoi(os.Getenv("CVX_TEST_MYSQL_PORT"))
	if port == 0 {
		port = 3306
	}
	m, err := NewMySQL(&config.MySQLConfig{
		Host:         host,
		Port:         port,
		Username:     os.Getenv("CVX_TEST_MYSQL_USER"),
		Password:     os.Getenv("CVX_TEST_MYSQL_PASSWORD"),
		Database:     os.Getenv("CVX_TEST_MYSQL_DATABASE"),
		MaxIdleConns: 2,
		MaxOpenConns: 4,
		LogLevel:     1,
	})
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	rec := sampleRecord("mysql-test-id", "a.pdf")
	rec.Sections = []types.Section{{Index: 0, Label: "Summary", Text: "s"}, {Index: 1, Label: "Skills", Text: "go"}}
	require.NoError(t, m.Upsert(ctx, rec))
	rec.Sections = rec.Sections[:1]
	require.NoError(t, m.Upsert(ctx, rec))

	got, found, err := m.Get(ctx, types.KindCV, rec.ContentID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, got.Sections, 1, "片段应整体替换")

	ok, err := m.Exists(ctx, types.KindCV, rec.ContentID)
	require.NoError(t, err)
	assert.True(t, ok)
}
