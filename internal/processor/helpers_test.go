package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/config"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/storage/qdranttest"
	"resume-match-go/internal/types"
)

var testVocab = []string{"python", "django", "sql", "java", "spring", "go", "kubernetes", "react", "excel"}

// bagOfWordsEmbedder 按固定词表计数，最后一维是常量，向量都非负
type bagOfWordsEmbedder struct {
	calls atomic.Int32
}

func (e *bagOfWordsEmbedder) GetDimensions() int {
	return len(testVocab) + 1
}

func (e *bagOfWordsEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls.Add(1)
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		if strings.Contains(text, "FAIL_EMBED") {
			return nil, errors.New("embedding backend rejected input")
		}
		vec := make([]float64, len(testVocab)+1)
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r)
		}) {
			for i, w := range testVocab {
				if tok == w {
					vec[i]++
				}
			}
		}
		vec[len(testVocab)] = 0.01
		out = append(out, vec)
	}
	return out, nil
}

type englishDetector struct{}

func (englishDetector) Detect(string) parser.LanguageResult {
	return parser.LanguageResult{Code: "en", Reliable: true}
}

type recordingCatalog struct {
	mu   sync.Mutex
	rows []models.IndexedRecord
}

func (c *recordingCatalog) RecordIndexed(_ context.Context, rows []models.IndexedRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rows...)
	return nil
}

type recordingArchiver struct {
	mu      sync.Mutex
	objects map[string]string
	fail    bool
}

func (a *recordingArchiver) UploadAggregate(_ context.Context, collection, pointID, content string) (string, error) {
	if a.fail {
		return "", errors.New("bucket unavailable")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = map[string]string{}
	}
	name := "aggregates/" + collection + "/" + pointID + ".txt"
	a.objects[name] = content
	return name, nil
}

type counter struct {
	n atomic.Int32
}

func (c *counter) Add(n int) error {
	c.n.Add(int32(n))
	return nil
}

type memoryJobStore struct {
	mu      sync.Mutex
	states  map[string]types.IndexJobState
	history []types.JobStatus
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{states: map[string]types.IndexJobState{}}
}

func (s *memoryJobStore) SetJobState(_ context.Context, state types.IndexJobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.JobID] = state
	s.history = append(s.history, state.Status)
	return nil
}

func (s *memoryJobStore) GetJobState(_ context.Context, jobID string) (*types.IndexJobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &state, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestIndex(t *testing.T) (*qdranttest.Server, *storage.Qdrant) {
	t.Helper()
	fake := qdranttest.NewServer()
	t.Cleanup(fake.Close)

	client, err := storage.NewQdrant(&config.QdrantConfig{Endpoint: fake.URL},
		storage.WithHttpTimeout(5*time.Second),
		storage.WithQdrantLogger(quietLogger()),
	)
	require.NoError(t, err)
	return fake, client
}

func resumeRecord(name string, skills ...string) map[string]any {
	list := make([]any, 0, len(skills))
	for _, s := range skills {
		list = append(list, s)
	}
	return map[string]any{"Name": name, "Skills": list}
}

// rawRecords 把测试记录编码成 JSON 数组元素，字符串按原样作为元素文本
func rawRecords(t *testing.T, items ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, json.RawMessage(s))
			continue
		}
		data, err := json.Marshal(item)
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}
