package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFieldsCoverSchema(t *testing.T) {
	f := DefaultFields(CandidateSchema)
	require.Len(t, f, len(CandidateSchema))
	assert.Equal(t, "", f["email"])
	assert.Equal(t, 0, f["misspelling_count"])
	assert.Equal(t, 0.0, f["avg_years_per_employer"])
	assert.Equal(t, "", f["flag_stem_degree"])

	r := DefaultFields(RoleSchema)
	assert.Equal(t, []string{}, r["must_have_skills"])
	assert.Equal(t, false, r["serves_government"])
}

func TestCandidateSchemaMatchesStructTags(t *testing.T) {
	rec := &Record{Kind: KindCV, Fields: DefaultFields(CandidateSchema)}
	rec.Fields["full_name"] = "Jane Roe"
	rec.Fields["total_years_experience"] = 7
	rec.Fields["avg_years_per_employer"] = 2.5
	rec.Fields["flag_stem_degree"] = Yes

	c, err := rec.Candidate()
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", c.FullName)
	assert.Equal(t, 7, c.TotalYearsExperience)
	assert.Equal(t, 2.5, c.AvgYearsPerEmployer)
	assert.Equal(t, Yes, c.FlagSTEMDegree)

	_, err = rec.Role()
	assert.Error(t, err, "简历记录不能解码为岗位")
}

func TestSchemaKeysUnique(t *testing.T) {
	for _, schema := range [][]FieldSpec{CandidateSchema, RoleSchema} {
		keys := map[string]bool{}
		headers := map[string]bool{}
		for _, s := range schema {
			assert.False(t, keys[s.Key], "重复的键: %s", s.Key)
			assert.False(t, headers[s.Header], "重复的列名: %s", s.Header)
			keys[s.Key] = true
			headers[s.Header] = true
		}
	}
	assert.Len(t, CandidateSchema, 25)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "3", FormatValue(FieldInt, 3))
	assert.Equal(t, "3", FormatValue(FieldInt, float64(3)))
	assert.Equal(t, "2.5", FormatValue(FieldDecimal, 2.5))
	assert.Equal(t, "0", FormatValue(FieldDecimal, 0.0))
	assert.Equal(t, "Go, SQL", FormatValue(FieldStringList, []string{"Go", "SQL"}))
	assert.Equal(t, "Go, SQL", FormatValue(FieldStringList, []any{"Go", "SQL"}))
	assert.Equal(t, "Yes", FormatValue(FieldBool, true))
	assert.Equal(t, "", FormatValue(FieldString, nil))
}

func TestParseKindAndStates(t *testing.T) {
	k, err := ParseKind("Roles")
	require.NoError(t, err)
	assert.Equal(t, KindRole, k)
	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindCV, k)
	_, err = ParseKind("invoice")
	assert.Error(t, err)

	assert.Equal(t, "Embedding", StateEmbedding.String())
	assert.True(t, StateSkipped.Terminal())
	assert.False(t, StateStoring.Terminal())
}

func TestRestoreFields(t *testing.T) {
	raw := map[string]any{
		"must_have_skills":  []any{"Go", "SQL"},
		"serves_government": true,
		"unknown_key":       "x",
	}
	f := RestoreFields(RoleSchema, raw)
	assert.Equal(t, []string{"Go", "SQL"}, f["must_have_skills"])
	assert.Equal(t, true, f["serves_government"])
	_, ok := f["unknown_key"]
	assert.False(t, ok)

	c := RestoreFields(CandidateSchema, map[string]any{"misspelling_count": float64(3), "avg_years_per_employer": 1.5})
	assert.Equal(t, 3, c["misspelling_count"])
	assert.Equal(t, 1.5, c["avg_years_per_employer"])
	assert.Equal(t, "", c["email"])
}
