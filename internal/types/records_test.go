package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeTolerantDecoding(t *testing.T) {
	input := `{
		"Name": "Jane Doe",
		"Contact": {"Phone": 13800000000, "Email": null},
		"Skills": "Go",
		"Experience": [
			{"Title": "Engineer", "Company": "Acme", "Dates": 2020, "Responsibilities": "APIs"},
			"not an object"
		],
		"Education": {"Degree": "BSc", "Institution": "MIT", "Year": 2019},
		"Certifications": null,
		"Projects": [{"Title": "x", "Description": ["a", "b"]}]
	}`

	var r Resume
	require.NoError(t, json.Unmarshal([]byte(input), &r))

	assert.Equal(t, "Jane Doe", r.Name)
	assert.Equal(t, "13800000000", r.Contact.Phone)
	assert.Equal(t, "", r.Contact.Email)
	assert.Equal(t, []string{"Go"}, r.Skills)
	require.Len(t, r.Experience, 1, "无法解析的经历条目应被跳过")
	assert.Equal(t, "2020", r.Experience[0].Dates)
	assert.Equal(t, []string{"APIs"}, r.Experience[0].Responsibilities)
	require.Len(t, r.Education, 1)
	assert.Equal(t, "2019", r.Education[0].Year)
	assert.Nil(t, r.Certifications)
	assert.Equal(t, "a, b", r.Projects[0].Description)
}

func TestResumeRejectsNonObject(t *testing.T) {
	var r Resume
	err := json.Unmarshal([]byte(`["Go"]`), &r)
	require.ErrorIs(t, err, ErrNotObject)
}

func TestQualificationsBothShapes(t *testing.T) {
	var plain, wrapped, mixed Qualifications
	require.NoError(t, json.Unmarshal([]byte(`["A","B"]`), &plain))
	require.NoError(t, json.Unmarshal([]byte(`[{"value":"A"},{"value":"B"}]`), &wrapped))
	require.NoError(t, json.Unmarshal([]byte(`["A",{"value":"B"},{"other":"C"}]`), &mixed))

	assert.Equal(t, "A. B", plain.Join(". "))
	assert.Equal(t, "A. B", wrapped.Join(". "))
	// 缺少 value 的对象记为空串
	assert.Equal(t, Qualifications{"A", "B", ""}, mixed)
}

func TestJobDescriptionLocationShapes(t *testing.T) {
	var withObject, withString JobDescription
	require.NoError(t, json.Unmarshal([]byte(`{"job_title":"SRE","location":{"city":"Berlin","country":"DE","remote":"yes"}}`), &withObject))
	require.NoError(t, json.Unmarshal([]byte(`{"job_title":"SRE","location":"Remote, EU"}`), &withString))

	assert.Equal(t, "Berlin, DE (Remote)", withObject.Location.String())
	assert.True(t, withObject.Location.Remote)
	assert.Equal(t, "Remote, EU", withString.Location.String())

	out, err := json.Marshal(withString.Location)
	require.NoError(t, err)
	assert.JSONEq(t, `"Remote, EU"`, string(out))
}

func TestDecodeJobDescriptionFromMap(t *testing.T) {
	record := map[string]any{
		"job_title":               "Python Programmer",
		"skills":                  []any{"Python"},
		"required_qualifications": []any{map[string]any{"value": "3 years"}},
		"posted_date":             20240101,
	}

	jd, err := DecodeJobDescription(record)
	require.NoError(t, err)
	assert.Equal(t, "Python Programmer", jd.JobTitle)
	assert.Equal(t, []string{"Python"}, jd.Skills)
	assert.Equal(t, Qualifications{"3 years"}, jd.RequiredQualifications)
	assert.Equal(t, "20240101", jd.PostedDate)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("JD")
	require.NoError(t, err)
	assert.Equal(t, KindJobDescription, k)

	k, err = ParseKind("resume")
	require.NoError(t, err)
	assert.Equal(t, KindResume, k)

	_, err = ParseKind("invoice")
	require.Error(t, err)
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "简历内", Prefix("简历内容很长", 3))
	assert.Equal(t, "short", Prefix("short", 50))
	assert.Equal(t, "", Prefix("abc", 0))
}
