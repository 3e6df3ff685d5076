package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/types"
)

func fullResume() *types.Resume {
	return &types.Resume{
		Name:   "Jane Doe",
		Skills: []string{"Go", "Kubernetes"},
		Education: []types.Education{
			{Degree: "BSc Computer Science", Institution: "MIT", Year: "2018"},
		},
		Certifications: []string{"CKA", "AWS SA"},
		Experience: []types.Experience{
			{Title: "Backend Engineer", Company: "Acme", Dates: "2019-2023", Responsibilities: []string{"APIs", "On-call"}},
			{Title: "Intern", Company: "Initech", Dates: "2018"},
		},
		Projects: []types.Project{{Title: "vecdb", Description: "toy vector store"}},
	}
}

func TestResumeAggregation(t *testing.T) {
	got := Resume(fullResume())
	want := "Go, Kubernetes | BSc Computer Science from MIT (2018) | CKA, AWS SA | " +
		"Backend Engineer at Acme (2019-2023): APIs, On-call Intern at Initech (2018):  | vecdb: toy vector store"
	assert.Equal(t, want, got)
}

func TestResumeAggregationIsDeterministic(t *testing.T) {
	r := fullResume()
	first := Resume(r)
	second := Resume(r)
	assert.Equal(t, first, second)
	// 聚合不修改输入
	assert.Equal(t, fullResume(), r)
}

func TestResumeOnlySkills(t *testing.T) {
	assert.Equal(t, "Go", Resume(&types.Resume{Skills: []string{"Go"}}))
}

func TestResumeEmptySectionsDropped(t *testing.T) {
	r := &types.Resume{
		Certifications: []string{"CKA"},
		Projects:       []types.Project{{Title: "p", Description: "d"}},
	}
	assert.Equal(t, "CKA | p: d", Resume(r))
	assert.Equal(t, "", Resume(&types.Resume{}))
	assert.Equal(t, "", Resume(nil))
}

func TestJobDescriptionEmptyKeepsLabels(t *testing.T) {
	want := "Job Title: . Skills: . Required Qualifications: . Preferred Qualifications: . Responsibilities: ."
	assert.Equal(t, want, JobDescription(&types.JobDescription{}))
	assert.Equal(t, want, JobDescription(nil))
}

func TestJobDescriptionQualificationShapes(t *testing.T) {
	plain, err := AggregateJSON([]byte(`{"required_qualifications":["A","B"]}`), types.KindJobDescription)
	require.NoError(t, err)
	wrapped, err := AggregateJSON([]byte(`{"required_qualifications":[{"value":"A"},{"value":"B"}]}`), types.KindJobDescription)
	require.NoError(t, err)

	assert.Equal(t, plain.Content, wrapped.Content)
	assert.Contains(t, plain.Content, "Required Qualifications: A. B.")
}

func TestJobDescriptionAggregation(t *testing.T) {
	jd := &types.JobDescription{
		JobTitle:                "Python Programmer",
		Skills:                  []string{"Python", "SQL"},
		RequiredQualifications:  types.Qualifications{"BSc"},
		PreferredQualifications: types.Qualifications{"MSc", "Django"},
		Responsibilities:        []string{"Write code", "Review code"},
	}
	want := "Job Title: Python Programmer. Skills: Python, SQL. Required Qualifications: BSc. " +
		"Preferred Qualifications: MSc. Django. Responsibilities: Write code. Review code."
	assert.Equal(t, want, JobDescription(jd))
}

func TestAggregateMapRecord(t *testing.T) {
	record := map[string]any{
		"Skills":     []any{"Python"},
		"Experience": []any{},
	}
	doc, err := Aggregate(record, types.KindResume)
	require.NoError(t, err)
	assert.Equal(t, "Python", doc.Content)
	assert.Equal(t, types.KindResume, doc.Kind)
	assert.Equal(t, record, doc.Record)
}

func TestAggregateJSONMalformedFields(t *testing.T) {
	// 字段形态错误时降级为更短的文本
	doc, err := AggregateJSON([]byte(`{"Skills": 42, "Education": "MIT", "Experience": [null]}`), types.KindResume)
	require.NoError(t, err)
	assert.Equal(t, "42", doc.Content)

	_, err = AggregateJSON([]byte(`[1,2,3]`), types.KindResume)
	require.Error(t, err)

	_, err = AggregateJSON([]byte(`{}`), types.Kind("invoice"))
	require.Error(t, err)
}
