package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/types"
)

func TestSplitRecordArray(t *testing.T) {
	raws, err := SplitRecordArray([]byte(` [{"Skills":["Go"]}, "garbage", 42, null] `), types.KindResume)
	require.NoError(t, err)
	require.Len(t, raws, 4)
	assert.JSONEq(t, `"garbage"`, string(raws[1]))

	for name, body := range map[string]string{
		"object":    `{"Skills":["Go"]}`,
		"empty":     `[]`,
		"broken":    `[{"Skills":`,
		"blank":     `  `,
		"top-level": `"[1]"`,
	} {
		_, err := SplitRecordArray([]byte(body), types.KindJobDescription)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, ErrInvalidInput, name)
		assert.Contains(t, err.Error(), "a non-empty JSON array of job_description objects", name)
	}
}
