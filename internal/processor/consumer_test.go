package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/types"
)

type published struct {
	exchange, routingKey string
	body                 []byte
}

// fakeQueue 记录发布的消息，StartConsumer 保存 handler 供测试直接投递
type fakeQueue struct {
	mu       sync.Mutex
	messages []published
	handler  func([]byte) bool
	fail     bool
}

func (q *fakeQueue) PublishJSON(_ context.Context, exchange, routingKey string, data interface{}, _ bool) error {
	if q.fail {
		return errors.New("channel closed")
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, published{exchange, routingKey, body})
	return nil
}

func (q *fakeQueue) StartConsumer(_ string, _ int, handler func([]byte) bool) (chan<- struct{}, error) {
	q.handler = handler
	return make(chan struct{}), nil
}

func (q *fakeQueue) Close() error { return nil }

var _ storage.MessageQueue = (*fakeQueue)(nil)

func TestIndexJobConsumer_Handle(t *testing.T) {
	fake, index := newTestIndex(t)
	jobs := newMemoryJobStore()
	c := NewIndexJobConsumer(NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger())), jobs, 0)

	body, err := json.Marshal(storage.IndexJobMessage{
		JobID:      "job-1",
		Kind:       types.KindResume,
		Collection: resumeCollection,
		Records:    rawRecords(t, resumeRecord("a", "Go"), `"garbage"`, resumeRecord("b", "Python")),
	})
	require.NoError(t, err)

	assert.True(t, c.Handle(context.Background(), body))
	assert.Equal(t, 2, fake.PointCount(resumeCollection))

	state, err := jobs.GetJobState(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobDone, state.Status)
	assert.Equal(t, "processed 2 of 3", state.Summary)
	assert.Equal(t, 1, state.Skipped)
	assert.Equal(t, []types.JobStatus{types.JobRunning, types.JobDone}, jobs.history)
}

func TestIndexJobConsumer_Failures(t *testing.T) {
	_, index := newTestIndex(t)
	jobs := newMemoryJobStore()
	c := NewIndexJobConsumer(NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger())), jobs, 0)

	assert.False(t, c.Handle(context.Background(), []byte("not json")))

	body, _ := json.Marshal(storage.IndexJobMessage{JobID: "job-2", Kind: types.KindResume, Collection: resumeCollection})
	assert.False(t, c.Handle(context.Background(), body))

	state, err := jobs.GetJobState(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, state.Status)
	assert.Contains(t, state.Error, "non-empty JSON array")
}

func TestIndexJobConsumer_Start(t *testing.T) {
	fake, index := newTestIndex(t)
	queue := &fakeQueue{}
	c := NewIndexJobConsumer(NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger())), nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx, queue, "q.index_batch", 1))
	require.NotNil(t, queue.handler)

	body, _ := json.Marshal(storage.IndexJobMessage{
		JobID: "job-3", Kind: types.KindResume, Collection: resumeCollection,
		Records: rawRecords(t, resumeRecord("a", "Go")),
	})
	assert.True(t, queue.handler(body))
	assert.Equal(t, 1, fake.PointCount(resumeCollection))
}

func TestPipeline_SubmitIndexJob(t *testing.T) {
	cfg := config.DefaultConfig()
	jobs := newMemoryJobStore()

	p := &Pipeline{Config: cfg, Jobs: jobs}
	_, err := p.SubmitIndexJob(context.Background(), types.KindResume, rawRecords(t, resumeRecord("a", "Go")))
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	queue := &fakeQueue{}
	p.Queue = queue

	_, err = p.SubmitIndexJob(context.Background(), types.KindJobDescription, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	state, err := p.SubmitIndexJob(context.Background(), types.KindJobDescription, rawRecords(t, map[string]any{"job_title": "Chef"}))
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, state.Status)
	assert.Equal(t, "jobdescription_collection", state.Collection)

	require.Len(t, queue.messages, 1)
	assert.Equal(t, cfg.RabbitMQ.IndexExchange, queue.messages[0].exchange)
	assert.Equal(t, cfg.RabbitMQ.IndexRoutingKey, queue.messages[0].routingKey)

	var msg storage.IndexJobMessage
	require.NoError(t, json.Unmarshal(queue.messages[0].body, &msg))
	assert.Equal(t, state.JobID, msg.JobID)
	require.Len(t, msg.Records, 1)
	assert.JSONEq(t, `{"job_title":"Chef"}`, string(msg.Records[0]))

	stored, err := p.JobState(context.Background(), state.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, stored.Status)

	queue.fail = true
	_, err = p.SubmitIndexJob(context.Background(), types.KindResume, rawRecords(t, resumeRecord("a", "Go")))
	assert.ErrorIs(t, err, ErrInfrastructure)
}
