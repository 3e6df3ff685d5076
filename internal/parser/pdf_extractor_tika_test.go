package parser

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 创建一个模拟的Tika服务器，用于测试
func createMockTikaServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var metaCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Path {
		case "/tika":
			body, _ := io.ReadAll(r.Body)
			if len(body) == 0 {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("Jane Doe\nSkills: Go, Kubernetes"))
		case "/meta":
			atomic.AddInt32(&metaCalls, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"Content-Type":"application/pdf","xmpTPg:NPages":"2","meta:author":"someone"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return server, &metaCalls
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestNewTikaPDFExtractor(t *testing.T) {
	extractor := NewTikaPDFExtractor("http://localhost:9998/")
	assert.Equal(t, "http://localhost:9998", extractor.ServerURL, "末尾的 / 应被去掉")
	assert.Equal(t, 60*time.Second, extractor.Client.Timeout, "HTTP客户端超时应为60秒")
	assert.False(t, extractor.extractMetadata)
	assert.True(t, extractor.extractAnnotations)

	custom := NewTikaPDFExtractor("http://tika:9998", WithTimeout(5*time.Second), WithMetadata(true), WithAnnotations(false))
	assert.Equal(t, 5*time.Second, custom.Client.Timeout)
	assert.True(t, custom.extractMetadata)
	assert.False(t, custom.extractAnnotations)
}

func TestTikaExtractTextFromBytes(t *testing.T) {
	server, metaCalls := createMockTikaServer(t)
	defer server.Close()
	ctx := context.Background()

	extractor := NewTikaPDFExtractor(server.URL, WithTikaLogger(quietLogger()))
	text, meta, err := extractor.ExtractTextFromBytes(ctx, []byte("%PDF-1.5 fake"), "cv.pdf")
	require.NoError(t, err)
	assert.Contains(t, text, "Skills: Go, Kubernetes")
	assert.Equal(t, "tika", meta["extractor"])
	assert.Equal(t, int32(0), atomic.LoadInt32(metaCalls), "默认不请求 /meta")

	withMeta := NewTikaPDFExtractor(server.URL, WithMetadata(true), WithTikaLogger(quietLogger()))
	_, meta, err = withMeta.ExtractTextFromBytes(ctx, []byte("%PDF-1.5 fake"), "cv.pdf")
	require.NoError(t, err)
	assert.Equal(t, "2", meta["xmpTPg:NPages"])
	assert.NotContains(t, meta, "meta:author", "只保留关键元数据")
}

func TestTikaExtractFailureReturnsEmptyText(t *testing.T) {
	server, _ := createMockTikaServer(t)
	defer server.Close()

	extractor := NewTikaPDFExtractor(server.URL, WithTikaLogger(quietLogger()))
	text, _, err := extractor.ExtractTextFromBytes(context.Background(), nil, "empty.pdf")
	require.Error(t, err)
	assert.Empty(t, text)

	down := NewTikaPDFExtractor("http://127.0.0.1:1", WithTimeout(time.Second), WithTikaLogger(quietLogger()))
	text, _, err = down.ExtractTextFromBytes(context.Background(), []byte("x"), "x.pdf")
	require.Error(t, err)
	assert.Empty(t, text)
}

func TestTikaExtractFromFile(t *testing.T) {
	server, _ := createMockTikaServer(t)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "cv.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.5 fake"), 0o644))

	extractor := NewTikaPDFExtractor(server.URL, WithTikaLogger(quietLogger()))
	text, meta, err := extractor.ExtractFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "Jane Doe")
	assert.Equal(t, path, meta["source_file_path"])

	_, _, err = extractor.ExtractFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
